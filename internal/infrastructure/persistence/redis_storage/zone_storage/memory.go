// internal/infrastructure/persistence/redis_storage/zone_storage/memory.go
package zone_storage

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"supply-demand-zone-engine/internal/types"
)

// MemoryZoneStorage — хранилище зон в памяти процесса.
// Запасной вариант при выключенном Redis и основа для тестов.
// Семантика та же: пробитые зоны не удаляются, только деактивируются.
type MemoryZoneStorage struct {
	mu    sync.RWMutex
	zones map[string]types.Zone // zone_id → зона
}

// NewMemoryZoneStorage создаёт хранилище зон в памяти
func NewMemoryZoneStorage() *MemoryZoneStorage {
	return &MemoryZoneStorage{
		zones: make(map[string]types.Zone),
	}
}

// SaveZone сохраняет зону
func (s *MemoryZoneStorage) SaveZone(_ context.Context, zone types.Zone) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.zones[zone.ID] = zone
	return nil
}

// GetActiveZones возвращает активные зоны символа, отсортированные по цене
func (s *MemoryZoneStorage) GetActiveZones(_ context.Context, symbol string) ([]types.Zone, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []types.Zone
	for _, z := range s.zones {
		if z.Symbol == symbol && z.IsActive {
			result = append(result, z)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Midpoint < result[j].Midpoint
	})
	return result, nil
}

// GetZone возвращает зону по ID независимо от активности
func (s *MemoryZoneStorage) GetZone(_ context.Context, zoneID string) (types.Zone, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	z, ok := s.zones[zoneID]
	if !ok {
		return types.Zone{}, fmt.Errorf("зона %s не найдена", zoneID)
	}
	return z, nil
}

// UpdateZoneState обновляет состояние и счётчик тестов зоны
func (s *MemoryZoneStorage) UpdateZoneState(_ context.Context, zoneID string, state types.ZoneState, testCount int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	z, ok := s.zones[zoneID]
	if !ok {
		return fmt.Errorf("зона %s не найдена", zoneID)
	}
	if !types.CanTransition(z.State, state) {
		return fmt.Errorf("недопустимый переход %s → %s для зоны %s", z.State, state, zoneID)
	}
	if testCount < z.TestCount {
		return fmt.Errorf("test_count не может уменьшаться (%d → %d) для зоны %s", z.TestCount, testCount, zoneID)
	}

	z.State = state
	z.TestCount = testCount
	if state == types.ZoneStateBroken {
		z.IsActive = false
	}
	s.zones[zoneID] = z
	return nil
}

// DeactivateZone снимает зону с наблюдения, сохраняя данные
func (s *MemoryZoneStorage) DeactivateZone(_ context.Context, zoneID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	z, ok := s.zones[zoneID]
	if !ok {
		return fmt.Errorf("зона %s не найдена", zoneID)
	}
	z.IsActive = false
	s.zones[zoneID] = z
	return nil
}
