// internal/infrastructure/persistence/redis_storage/zone_storage/storage.go
package zone_storage

import (
	"context"
	"encoding/json"
	"fmt"

	redis_service "supply-demand-zone-engine/internal/infrastructure/cache/redis"
	"supply-demand-zone-engine/internal/types"
	"supply-demand-zone-engine/pkg/logger"

	"github.com/go-redis/redis/v8"
)

const (
	// Индекс активных зон: ZSET, score = Midpoint, member = zone_id
	activeIndexPrefix = "zones:active:"
	// Данные зоны: JSON по ключу zones:data:{zone_id}
	zoneDataPrefix = "zones:data:"
)

// ZoneStorage — Redis-хранилище зон спроса/предложения.
// Пробитые зоны физически не удаляются: они лишь уходят из индекса
// активных, JSON остаётся доступным по ID для истории.
type ZoneStorage struct {
	client *redis.Client
}

// NewZoneStorage создаёт хранилище поверх работающего Redis сервиса
func NewZoneStorage(redisService *redis_service.RedisService) (*ZoneStorage, error) {
	if redisService == nil {
		return nil, fmt.Errorf("redisService не инициализирован")
	}
	client := redisService.GetClient()
	if client == nil {
		return nil, fmt.Errorf("redis клиент недоступен")
	}
	return &ZoneStorage{client: client}, nil
}

func indexKey(symbol string) string {
	return activeIndexPrefix + symbol
}

func dataKey(zoneID string) string {
	return zoneDataPrefix + zoneID
}

// SaveZone сохраняет зону и включает её в индекс активных по символу
func (s *ZoneStorage) SaveZone(ctx context.Context, zone types.Zone) error {
	data, err := json.Marshal(zone)
	if err != nil {
		return fmt.Errorf("zone_storage: сериализация зоны %s: %w", zone.ID, err)
	}

	pipe := s.client.Pipeline()
	pipe.Set(ctx, dataKey(zone.ID), data, 0)
	if zone.IsActive {
		pipe.ZAdd(ctx, indexKey(zone.Symbol), &redis.Z{
			Score:  zone.Midpoint,
			Member: zone.ID,
		})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("zone_storage: сохранение зоны %s: %w", zone.ID, err)
	}

	logger.Debug("💾 zone_storage: сохранена зона %s (%s %s [%.4f, %.4f])",
		zone.ID, zone.Symbol, zone.Type, zone.Bottom, zone.Top)
	return nil
}

// GetActiveZones возвращает активные зоны символа, отсортированные по цене
func (s *ZoneStorage) GetActiveZones(ctx context.Context, symbol string) ([]types.Zone, error) {
	ids, err := s.client.ZRangeByScore(ctx, indexKey(symbol), &redis.ZRangeBy{
		Min: "-inf",
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("zone_storage: чтение индекса %s: %w", symbol, err)
	}
	if len(ids) == 0 {
		return []types.Zone{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = dataKey(id)
	}
	raws, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("zone_storage: чтение зон %s: %w", symbol, err)
	}

	result := make([]types.Zone, 0, len(raws))
	for i, raw := range raws {
		str, ok := raw.(string)
		if !ok {
			// Индекс ссылается на исчезнувший ключ — чистим ссылку
			logger.Warn("⚠️ zone_storage: зона %s есть в индексе, но данных нет", ids[i])
			s.client.ZRem(ctx, indexKey(symbol), ids[i])
			continue
		}
		var z types.Zone
		if err := json.Unmarshal([]byte(str), &z); err != nil {
			logger.Warn("⚠️ zone_storage: ошибка десериализации зоны %s: %v", ids[i], err)
			continue
		}
		result = append(result, z)
	}
	return result, nil
}

// GetZone возвращает зону по ID независимо от активности
func (s *ZoneStorage) GetZone(ctx context.Context, zoneID string) (types.Zone, error) {
	raw, err := s.client.Get(ctx, dataKey(zoneID)).Result()
	if err == redis.Nil {
		return types.Zone{}, fmt.Errorf("zone_storage: зона %s не найдена", zoneID)
	}
	if err != nil {
		return types.Zone{}, fmt.Errorf("zone_storage: чтение зоны %s: %w", zoneID, err)
	}
	var z types.Zone
	if err := json.Unmarshal([]byte(raw), &z); err != nil {
		return types.Zone{}, fmt.Errorf("zone_storage: десериализация зоны %s: %w", zoneID, err)
	}
	return z, nil
}

// UpdateZoneState обновляет состояние и счётчик тестов зоны.
// Откат состояния назад отвергается ещё до обращения к Redis.
func (s *ZoneStorage) UpdateZoneState(ctx context.Context, zoneID string, state types.ZoneState, testCount int) error {
	zone, err := s.GetZone(ctx, zoneID)
	if err != nil {
		return err
	}
	if !types.CanTransition(zone.State, state) {
		return fmt.Errorf("zone_storage: недопустимый переход %s → %s для зоны %s", zone.State, state, zoneID)
	}
	if testCount < zone.TestCount {
		return fmt.Errorf("zone_storage: test_count не может уменьшаться (%d → %d) для зоны %s",
			zone.TestCount, testCount, zoneID)
	}

	zone.State = state
	zone.TestCount = testCount
	if state == types.ZoneStateBroken {
		zone.IsActive = false
	}
	return s.SaveZone(ctx, zone)
}

// DeactivateZone убирает зону из индекса активных, сохраняя данные
func (s *ZoneStorage) DeactivateZone(ctx context.Context, zoneID string) error {
	zone, err := s.GetZone(ctx, zoneID)
	if err != nil {
		return err
	}

	zone.IsActive = false
	data, err := json.Marshal(zone)
	if err != nil {
		return fmt.Errorf("zone_storage: сериализация зоны %s: %w", zoneID, err)
	}

	pipe := s.client.Pipeline()
	pipe.Set(ctx, dataKey(zoneID), data, 0)
	pipe.ZRem(ctx, indexKey(zone.Symbol), zoneID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("zone_storage: деактивация зоны %s: %w", zoneID, err)
	}

	logger.Debug("💾 zone_storage: зона %s снята с наблюдения", zoneID)
	return nil
}
