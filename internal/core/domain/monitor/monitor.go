// internal/core/domain/monitor/monitor.go
package monitor

import (
	"fmt"
	"sort"
	"sync"

	"supply-demand-zone-engine/internal/core/domain/zones"
	"supply-demand-zone-engine/internal/types"

	"github.com/google/uuid"
)

// DefaultProximityPct — дистанция до полосы, с которой начинается ENTERING_*
const DefaultProximityPct = 2.0

// Params — параметры монитора цены
type Params struct {
	ProximityPct float64 // близость к полосе для ENTERING_* событий, %
}

// DefaultParams возвращает параметры по умолчанию
func DefaultParams() Params {
	return Params{ProximityPct: DefaultProximityPct}
}

// Validate проверяет параметры монитора
func (p Params) Validate() error {
	if p.ProximityPct <= 0 {
		return fmt.Errorf("PROXIMITY_PCT должен быть положительным")
	}
	return nil
}

// zoneMemory — память монитора по одной зоне.
// lastEvent обеспечивает идемпотентность за O(1) без обращения к хранилищу:
// одинаковое (zone_id, event_type) не отправляется дважды подряд.
type zoneMemory struct {
	lastEvent types.EventType
	wasInside bool
}

// PriceMonitor сравнивает живую цену с активными зонами и порождает события.
// Состояние зоны продвигает через машину состояний скорера; изменения
// (test_count, state, is_active) пишутся прямо в переданный срез зон —
// вызывающий сохраняет их в хранилище.
type PriceMonitor struct {
	params Params
	scorer *zones.Scorer

	mu     sync.Mutex
	memory map[string]*zoneMemory // zone_id → память
}

// NewPriceMonitor создаёт монитор цены
func NewPriceMonitor(params Params, scorer *zones.Scorer) (*PriceMonitor, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if scorer == nil {
		return nil, fmt.Errorf("scorer не инициализирован")
	}
	return &PriceMonitor{
		params: params,
		scorer: scorer,
		memory: make(map[string]*zoneMemory),
	}, nil
}

// Evaluate классифицирует тик против активных зон символа.
// На зону за один цикл — максимум одно событие; при конфликте побеждает
// приоритет BREAK > BOUNCE > AT > ENTERING, остальные подавляются.
// Зоны обходятся в стабильном порядке (по ID) для детерминизма дедупа.
func (m *PriceMonitor) Evaluate(symbol string, tick types.Tick, activeZones []types.Zone) []types.Event {
	sort.Slice(activeZones, func(i, j int) bool {
		return activeZones[i].ID < activeZones[j].ID
	})

	m.mu.Lock()
	defer m.mu.Unlock()

	var events []types.Event
	for i := range activeZones {
		zone := &activeZones[i]
		if !zone.IsActive || zone.State == types.ZoneStateBroken {
			continue
		}

		eventType, ok := m.classify(zone, tick.Price)

		mem := m.memory[zone.ID]
		if mem == nil {
			mem = &zoneMemory{}
			m.memory[zone.ID] = mem
		}

		if ok {
			// Применяем переход состояния до проверки дедупа:
			// состояние зоны — факт, событие — уведомление о нём
			switch eventType {
			case types.EventZoneBreak:
				m.scorer.ApplyBreak(zone)
			case types.EventZoneBounce:
				m.scorer.ApplyBounce(zone)
			}

			// Идемпотентность: тот же тип события по той же зоне подряд не эмитится
			if mem.lastEvent != eventType {
				mem.lastEvent = eventType
				events = append(events, types.Event{
					EventID:   uuid.New().String(),
					Symbol:    symbol,
					ZoneID:    zone.ID,
					Type:      eventType,
					Price:     tick.Price,
					Timestamp: tick.Timestamp,
				})
			}
		}

		mem.wasInside = zone.Contains(tick.Price) && zone.State != types.ZoneStateBroken

		// Память по пробитым зонам больше не нужна
		if zone.State == types.ZoneStateBroken {
			delete(m.memory, zone.ID)
		}
	}

	return events
}

// classify определяет самое значимое событие для зоны на данном тике
func (m *PriceMonitor) classify(zone *types.Zone, price float64) (types.EventType, bool) {
	mem := m.memory[zone.ID]
	wasInside := mem != nil && mem.wasInside

	// 1. Пробой — решительное закрытие за полосой дальше допуска
	if m.scorer.IsBreakout(*zone, price) {
		return types.EventZoneBreak, true
	}

	inside := zone.Contains(price)

	// 2. Отскок — цена была в полосе и вышла в "ожидаемую" сторону:
	// вверх из зоны спроса, вниз из зоны предложения
	if wasInside && !inside {
		if zone.Type == types.ZoneTypeDemand && price > zone.Top {
			return types.EventZoneBounce, true
		}
		if zone.Type == types.ZoneTypeSupply && price < zone.Bottom {
			return types.EventZoneBounce, true
		}
	}

	// 3. Цена внутри полосы
	if inside {
		if zone.Type == types.ZoneTypeDemand {
			return types.EventAtDemand, true
		}
		return types.EventAtSupply, true
	}

	// 4. Приближение с нужной стороны в пределах ProximityPct
	prox := m.params.ProximityPct / 100
	if zone.Type == types.ZoneTypeDemand && price > zone.Top {
		if (price-zone.Top)/zone.Top <= prox {
			return types.EventEnteringDemand, true
		}
	}
	if zone.Type == types.ZoneTypeSupply && price < zone.Bottom {
		if (zone.Bottom-price)/zone.Bottom <= prox {
			return types.EventEnteringSupply, true
		}
	}

	return "", false
}

// ForgetZones очищает память монитора по перечисленным зонам.
// Вызывается при снятии символа с наблюдения.
func (m *PriceMonitor) ForgetZones(zoneIDs []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range zoneIDs {
		delete(m.memory, id)
	}
}

// MemorySize возвращает число зон в памяти монитора (для статуса)
func (m *PriceMonitor) MemorySize() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.memory)
}
