// internal/core/domain/monitor/monitor_test.go
package monitor

import (
	"testing"
	"time"

	"supply-demand-zone-engine/internal/core/domain/zones"
	"supply-demand-zone-engine/internal/types"
)

func newTestMonitor(t *testing.T) *PriceMonitor {
	t.Helper()
	scorer, err := zones.NewScorer(zones.DefaultScorerParams())
	if err != nil {
		t.Fatalf("NewScorer: %v", err)
	}
	m, err := NewPriceMonitor(DefaultParams(), scorer)
	if err != nil {
		t.Fatalf("NewPriceMonitor: %v", err)
	}
	return m
}

func demandZone(id string) types.Zone {
	return types.Zone{
		ID:       id,
		Symbol:   "BTCUSDT",
		Type:     types.ZoneTypeDemand,
		Bottom:   99,
		Top:      101,
		Midpoint: 100,
		State:    types.ZoneStateFresh,
		IsActive: true,
	}
}

func supplyZone(id string) types.Zone {
	return types.Zone{
		ID:       id,
		Symbol:   "BTCUSDT",
		Type:     types.ZoneTypeSupply,
		Bottom:   109,
		Top:      111,
		Midpoint: 110,
		State:    types.ZoneStateFresh,
		IsActive: true,
	}
}

func tick(price float64) types.Tick {
	return types.Tick{Price: price, Timestamp: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func TestEvaluateAtDemand(t *testing.T) {
	m := newTestMonitor(t)
	zs := []types.Zone{demandZone("z1")}

	events := m.Evaluate("BTCUSDT", tick(100), zs)
	if len(events) != 1 {
		t.Fatalf("ожидалось 1 событие, получено %d", len(events))
	}
	ev := events[0]
	if ev.Type != types.EventAtDemand {
		t.Errorf("ожидалось AT_DEMAND, получено %s", ev.Type)
	}
	if ev.ZoneID != "z1" || ev.Symbol != "BTCUSDT" || ev.Price != 100 {
		t.Errorf("некорректное событие: %+v", ev)
	}
	if ev.EventID == "" {
		t.Error("событие должно иметь уникальный ID")
	}
}

func TestEvaluateIdempotence(t *testing.T) {
	m := newTestMonitor(t)
	zs := []types.Zone{demandZone("z1")}

	first := m.Evaluate("BTCUSDT", tick(100), zs)
	second := m.Evaluate("BTCUSDT", tick(100.2), zs) // всё ещё внутри полосы

	if len(first) != 1 {
		t.Fatalf("первый тик: ожидалось 1 событие, получено %d", len(first))
	}
	// Тот же тип события по той же зоне подряд не эмитится
	if len(second) != 0 {
		t.Errorf("повторный тик внутри полосы не должен давать событий, получено %d", len(second))
	}
}

func TestEvaluateEnteringDemand(t *testing.T) {
	m := newTestMonitor(t)
	zs := []types.Zone{demandZone("z1")}

	// 1.5% над верхней границей — в пределах proximity 2%
	events := m.Evaluate("BTCUSDT", tick(102.5), zs)
	if len(events) != 1 || events[0].Type != types.EventEnteringDemand {
		t.Fatalf("ожидалось ENTERING_DEMAND, получено %+v", events)
	}

	// Снизу к зоне спроса ENTERING не даётся: не та сторона
	m2 := newTestMonitor(t)
	below := m2.Evaluate("BTCUSDT", tick(98.7), zs) // ниже bottom, но в допуске пробоя
	if len(below) != 0 {
		t.Errorf("подход снизу не должен давать ENTERING_DEMAND, получено %+v", below)
	}
}

func TestEvaluateBreak(t *testing.T) {
	m := newTestMonitor(t)
	zs := []types.Zone{demandZone("z1")}

	// Закрытие на 1% ниже bottom при допуске 0.5% — пробой
	events := m.Evaluate("BTCUSDT", tick(98.01), zs)
	if len(events) != 1 || events[0].Type != types.EventZoneBreak {
		t.Fatalf("ожидалось ZONE_BREAK, получено %+v", events)
	}
	if zs[0].State != types.ZoneStateBroken {
		t.Errorf("зона должна быть BROKEN, получено %s", zs[0].State)
	}
	if zs[0].IsActive {
		t.Error("пробитая зона должна быть неактивной")
	}
	if m.MemorySize() != 0 {
		t.Error("память по пробитой зоне должна очищаться")
	}

	// Пробитая зона больше не даёт событий
	again := m.Evaluate("BTCUSDT", tick(97), zs)
	if len(again) != 0 {
		t.Errorf("пробитая зона не мониторится, получено %+v", again)
	}
}

func TestEvaluateBounce(t *testing.T) {
	m := newTestMonitor(t)
	zs := []types.Zone{demandZone("z1")}

	// Тик внутри полосы, затем выход вверх — отскок от зоны спроса
	m.Evaluate("BTCUSDT", tick(100), zs)
	events := m.Evaluate("BTCUSDT", tick(101.5), zs)

	if len(events) != 1 || events[0].Type != types.EventZoneBounce {
		t.Fatalf("ожидался ZONE_BOUNCE, получено %+v", events)
	}
	if zs[0].TestCount != 1 {
		t.Errorf("отскок должен инкрементировать test_count, получено %d", zs[0].TestCount)
	}
	if zs[0].State != types.ZoneStateTested {
		t.Errorf("после первого теста ожидалось TESTED, получено %s", zs[0].State)
	}
}

func TestEvaluateBounceWrongDirection(t *testing.T) {
	m := newTestMonitor(t)
	zs := []types.Zone{demandZone("z1")}

	// Выход из зоны спроса вниз (в допуске пробоя) — не отскок
	m.Evaluate("BTCUSDT", tick(100), zs)
	events := m.Evaluate("BTCUSDT", tick(98.8), zs)

	for _, ev := range events {
		if ev.Type == types.EventZoneBounce {
			t.Error("выход вниз из зоны спроса не должен давать ZONE_BOUNCE")
		}
	}
	if zs[0].TestCount != 0 {
		t.Errorf("test_count не должен меняться, получено %d", zs[0].TestCount)
	}
}

func TestEvaluateSupplyEvents(t *testing.T) {
	m := newTestMonitor(t)
	zs := []types.Zone{supplyZone("s1")}

	if ev := m.Evaluate("BTCUSDT", tick(108.5), zs); len(ev) != 1 || ev[0].Type != types.EventEnteringSupply {
		t.Errorf("ожидалось ENTERING_SUPPLY, получено %+v", ev)
	}
	if ev := m.Evaluate("BTCUSDT", tick(110), zs); len(ev) != 1 || ev[0].Type != types.EventAtSupply {
		t.Errorf("ожидалось AT_SUPPLY, получено %+v", ev)
	}
	// Выход вниз из зоны предложения — отскок
	if ev := m.Evaluate("BTCUSDT", tick(108), zs); len(ev) != 1 || ev[0].Type != types.EventZoneBounce {
		t.Errorf("ожидался ZONE_BOUNCE, получено %+v", ev)
	}
}

func TestEventPriorityOrdering(t *testing.T) {
	// BREAK > BOUNCE > AT > ENTERING
	order := []types.EventType{
		types.EventEnteringDemand,
		types.EventAtDemand,
		types.EventZoneBounce,
		types.EventZoneBreak,
	}
	for i := 1; i < len(order); i++ {
		if types.EventPriority(order[i]) <= types.EventPriority(order[i-1]) {
			t.Errorf("%s должен быть приоритетнее %s", order[i], order[i-1])
		}
	}
}

// TestStateNeverRegresses гоняет произвольную последовательность тиков
// и проверяет, что состояние зоны движется только вперёд.
func TestStateNeverRegresses(t *testing.T) {
	m := newTestMonitor(t)
	zs := []types.Zone{demandZone("z1")}

	rank := map[types.ZoneState]int{
		types.ZoneStateFresh:  0,
		types.ZoneStateTested: 1,
		types.ZoneStateWeak:   2,
		types.ZoneStateBroken: 3,
	}

	prices := []float64{
		102.5, 100, 101.5, 100.5, 101.8, 99.5, 102.0, 100.1, 101.6, 98.01, 97.5, 100,
	}

	prev := rank[zs[0].State]
	for _, p := range prices {
		m.Evaluate("BTCUSDT", tick(p), zs)
		cur := rank[zs[0].State]
		if cur < prev {
			t.Fatalf("откат состояния на цене %.2f: %d → %d", p, prev, cur)
		}
		prev = cur
	}

	if zs[0].State != types.ZoneStateBroken {
		t.Errorf("последовательность должна была пробить зону, получено %s", zs[0].State)
	}
}
