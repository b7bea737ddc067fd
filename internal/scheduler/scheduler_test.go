// internal/scheduler/scheduler_test.go
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"supply-demand-zone-engine/internal/core/domain/monitor"
	"supply-demand-zone-engine/internal/core/domain/zones"
	"supply-demand-zone-engine/internal/dispatcher"
	"supply-demand-zone-engine/internal/infrastructure/persistence/redis_storage/zone_storage"
	"supply-demand-zone-engine/internal/types"
)

// demandBars строит серию с одной зоной спроса [98.8, 100.8]:
// нисходящий тренд → база из 4 баров → импульс вверх на объёме 2.5x.
func demandBars() []types.Bar {
	rows := []struct {
		low, high, volume float64
	}{
		{110, 111, 100}, {109, 110, 100}, {108, 109, 100}, {107, 108, 100},
		{106, 107, 100}, {105, 106, 100}, {104, 105, 100}, {103, 104, 100},
		{99.0, 100.5, 100}, {99.2, 100.8, 100}, {99.4, 100.6, 100}, {98.8, 100.2, 100},
		{100.0, 102.0, 250}, {101.0, 103.5, 250}, {102.0, 104.5, 250}, {103.0, 105.5, 250},
		{103.5, 106.0, 250},
		{103.2, 105.5, 100}, {103.0, 105.0, 100}, {102.8, 104.8, 100},
		{103.0, 105.2, 100}, {103.1, 105.4, 100},
	}

	start := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	bars := make([]types.Bar, len(rows))
	for i, r := range rows {
		bars[i] = types.Bar{
			Timestamp: start.Add(time.Duration(i) * time.Hour),
			Open:      (r.low + r.high) / 2,
			High:      r.high,
			Low:       r.low,
			Close:     (r.low + r.high) / 2,
			Volume:    r.volume,
		}
	}
	return bars
}

type fakeBars struct {
	mu   sync.Mutex
	bars map[string][]types.Bar
	errs map[string]error
}

func (f *fakeBars) GetBars(_ context.Context, symbol, _ string, _ int) ([]types.Bar, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.errs[symbol]; err != nil {
		return nil, err
	}
	return f.bars[symbol], nil
}

type fakePrices struct {
	mu     sync.Mutex
	prices map[string]float64
}

func (f *fakePrices) GetLastPrice(_ context.Context, symbol string) (types.Tick, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.prices[symbol]
	if !ok {
		return types.Tick{}, fmt.Errorf("нет цены для %s", symbol)
	}
	return types.Tick{Price: p, Timestamp: time.Now()}, nil
}

func (f *fakePrices) setPrice(symbol string, price float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prices[symbol] = price
}

type captureSink struct {
	mu     sync.Mutex
	events []types.Event
}

func (s *captureSink) Send(event types.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *captureSink) captured() []types.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.Event, len(s.events))
	copy(out, s.events)
	return out
}

type harness struct {
	sched  *Scheduler
	store  *zone_storage.MemoryZoneStorage
	bars   *fakeBars
	prices *fakePrices
	sink   *captureSink
}

func testConfig(symbols ...string) Config {
	return Config{
		Symbols:            symbols,
		Timeframe:          "1h",
		BarDuration:        time.Hour,
		LookbackBars:       100,
		DetectionInterval:  time.Hour,
		MonitoringInterval: time.Hour,
		DetectionTimeout:   5 * time.Second,
		MonitoringTimeout:  5 * time.Second,
		WorkerCount:        2,
	}
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()

	detector, err := zones.NewDetector(zones.DefaultDetectionParams())
	if err != nil {
		t.Fatalf("NewDetector: %v", err)
	}
	scorer, err := zones.NewScorer(zones.DefaultScorerParams())
	if err != nil {
		t.Fatalf("NewScorer: %v", err)
	}
	priceMonitor, err := monitor.NewPriceMonitor(monitor.DefaultParams(), scorer)
	if err != nil {
		t.Fatalf("NewPriceMonitor: %v", err)
	}

	sink := &captureSink{}
	disp, err := dispatcher.New(sink, dispatcher.NewMemoryDedupStore(), nil, dispatcher.RetryPolicy{
		MaxAttempts:   1,
		BaseDelay:     time.Millisecond,
		BackoffFactor: 2,
	}, 15*time.Minute)
	if err != nil {
		t.Fatalf("dispatcher.New: %v", err)
	}

	bars := &fakeBars{bars: map[string][]types.Bar{}, errs: map[string]error{}}
	prices := &fakePrices{prices: map[string]float64{}}
	for _, s := range cfg.Symbols {
		bars.bars[s] = demandBars()
		prices.prices[s] = 100
	}

	store := zone_storage.NewMemoryZoneStorage()
	sched, err := New(cfg, bars, prices, store, detector, scorer, priceMonitor, disp)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return &harness{sched: sched, store: store, bars: bars, prices: prices, sink: sink}
}

func TestDetectionCycleSavesZones(t *testing.T) {
	h := newHarness(t, testConfig("BTCUSDT"))
	ctx := context.Background()

	report := h.sched.runDetectionCycle(ctx)
	if report.Kind != "detection" || report.Succeeded != 1 || report.Failed != 0 {
		t.Fatalf("неожиданный отчёт детекции: %+v", report)
	}

	active, err := h.store.GetActiveZones(ctx, "BTCUSDT")
	if err != nil {
		t.Fatalf("GetActiveZones: %v", err)
	}
	if len(active) != 1 {
		t.Fatalf("ожидалась 1 активная зона, получено %d", len(active))
	}
	z := active[0]
	if z.Type != types.ZoneTypeDemand || z.Bottom != 98.8 || z.Top != 100.8 {
		t.Errorf("неожиданная зона: %+v", z)
	}
	if z.StrengthScore <= 0 {
		t.Errorf("зона должна быть оскорена при сохранении, score %d", z.StrengthScore)
	}

	// Повторная детекция по тем же барам зон не добавляет
	h.sched.runDetectionCycle(ctx)
	again, _ := h.store.GetActiveZones(ctx, "BTCUSDT")
	if len(again) != 1 {
		t.Errorf("передетекция не должна дублировать зоны, получено %d", len(again))
	}
}

func TestMonitoringCycleDispatchesEvents(t *testing.T) {
	h := newHarness(t, testConfig("BTCUSDT"))
	ctx := context.Background()

	h.sched.runDetectionCycle(ctx)

	// Цена внутри полосы [98.8, 100.8] → AT_DEMAND
	report := h.sched.runMonitoringCycle(ctx)
	if report.Kind != "monitoring" || report.Succeeded != 1 || report.Events != 1 {
		t.Fatalf("неожиданный отчёт мониторинга: %+v", report)
	}

	events := h.sink.captured()
	if len(events) != 1 || events[0].Type != types.EventAtDemand {
		t.Fatalf("ожидалось одно AT_DEMAND, получено %+v", events)
	}

	// Тот же тик повторно — монитор и окно дедупа молчат
	second := h.sched.runMonitoringCycle(ctx)
	if second.Events != 0 {
		t.Errorf("повторный цикл не должен давать событий: %+v", second)
	}
}

func TestMonitoringBreakDeactivatesZone(t *testing.T) {
	h := newHarness(t, testConfig("BTCUSDT"))
	ctx := context.Background()

	h.sched.runDetectionCycle(ctx)
	active, _ := h.store.GetActiveZones(ctx, "BTCUSDT")
	if len(active) != 1 {
		t.Fatalf("ожидалась 1 зона, получено %d", len(active))
	}
	zoneID := active[0].ID

	// Решительное закрытие ниже bottom 98.8 дальше допуска 0.5%
	h.prices.setPrice("BTCUSDT", 98.0)
	report := h.sched.runMonitoringCycle(ctx)
	if report.Events != 1 {
		t.Fatalf("ожидался один пробой: %+v", report)
	}

	events := h.sink.captured()
	if len(events) != 1 || events[0].Type != types.EventZoneBreak {
		t.Fatalf("ожидалось ZONE_BREAK, получено %+v", events)
	}

	// Зона снята с наблюдения, но данные сохранены
	after, _ := h.store.GetActiveZones(ctx, "BTCUSDT")
	if len(after) != 0 {
		t.Errorf("пробитая зона должна уйти из активных, осталось %d", len(after))
	}
	broken, err := h.store.GetZone(ctx, zoneID)
	if err != nil {
		t.Fatalf("данные пробитой зоны должны сохраняться: %v", err)
	}
	if broken.State != types.ZoneStateBroken || broken.IsActive {
		t.Errorf("зона должна быть BROKEN и неактивной: %+v", broken)
	}
}

func TestDetectionFailureIsolation(t *testing.T) {
	h := newHarness(t, testConfig("BTCUSDT", "BADUSDT"))
	h.bars.errs["BADUSDT"] = fmt.Errorf("exchange: rate limit")

	report := h.sched.runDetectionCycle(context.Background())
	if report.Succeeded != 1 || report.Failed != 1 {
		t.Fatalf("сбой одного символа не должен ронять остальные: %+v", report)
	}

	active, _ := h.store.GetActiveZones(context.Background(), "BTCUSDT")
	if len(active) != 1 {
		t.Errorf("здоровый символ должен обработаться, зон %d", len(active))
	}
}

func TestDetectionRejectsUnorderedBars(t *testing.T) {
	h := newHarness(t, testConfig("BTCUSDT"))

	bars := demandBars()
	bars[5].Timestamp, bars[6].Timestamp = bars[6].Timestamp, bars[5].Timestamp
	h.bars.bars["BTCUSDT"] = bars

	report := h.sched.runDetectionCycle(context.Background())
	if report.Failed != 1 || report.Succeeded != 0 {
		t.Fatalf("нарушение порядка баров должно прерывать проход: %+v", report)
	}

	active, _ := h.store.GetActiveZones(context.Background(), "BTCUSDT")
	if len(active) != 0 {
		t.Errorf("по битым данным зоны не сохраняются, получено %d", len(active))
	}
}

func TestMergeZonesSupersede(t *testing.T) {
	ctx := context.Background()
	formed := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)

	mk := func(id string, bottom, top, vr float64) types.Zone {
		return types.Zone{
			ID: id, Symbol: "BTCUSDT", Timeframe: "1h",
			Type: types.ZoneTypeDemand, Bottom: bottom, Top: top,
			Midpoint: (bottom + top) / 2, FormedAt: formed,
			VolumeRatio: vr, State: types.ZoneStateFresh, IsActive: true,
		}
	}

	t.Run("новая сильнее вытесняет", func(t *testing.T) {
		h := newHarness(t, testConfig("BTCUSDT"))
		weak := mk("old", 99.5, 100.5, 1.5)
		if err := h.store.SaveZone(ctx, weak); err != nil {
			t.Fatal(err)
		}

		strong := mk("new", 99, 101, 2.5)
		saved, err := h.sched.mergeZones(ctx, "BTCUSDT", []types.Zone{strong}, []types.Zone{weak}, formed)
		if err != nil {
			t.Fatalf("mergeZones: %v", err)
		}
		if saved != 1 {
			t.Errorf("сильная зона должна сохраниться, saved %d", saved)
		}

		active, _ := h.store.GetActiveZones(ctx, "BTCUSDT")
		if len(active) != 1 || active[0].ID != "new" {
			t.Errorf("слабая зона должна вытесниться: %+v", active)
		}
	})

	t.Run("новая слабее пропускается", func(t *testing.T) {
		h := newHarness(t, testConfig("BTCUSDT"))
		strong := mk("old", 99.5, 100.5, 3.0)
		if err := h.store.SaveZone(ctx, strong); err != nil {
			t.Fatal(err)
		}

		weak := mk("new", 99, 101, 1.5)
		saved, err := h.sched.mergeZones(ctx, "BTCUSDT", []types.Zone{weak}, []types.Zone{strong}, formed)
		if err != nil {
			t.Fatalf("mergeZones: %v", err)
		}
		if saved != 0 {
			t.Errorf("слабая новая зона не сохраняется, saved %d", saved)
		}

		active, _ := h.store.GetActiveZones(ctx, "BTCUSDT")
		if len(active) != 1 || active[0].ID != "old" {
			t.Errorf("сильная зона должна остаться: %+v", active)
		}
	})

	t.Run("устаревшие зоны гасятся", func(t *testing.T) {
		cfg := testConfig("BTCUSDT")
		cfg.MaxZoneAge = 24 * time.Hour
		h := newHarness(t, cfg)

		stale := mk("stale", 50, 51, 2.0)
		stale.FormedAt = formed.Add(-48 * time.Hour)
		if err := h.store.SaveZone(ctx, stale); err != nil {
			t.Fatal(err)
		}

		if _, err := h.sched.mergeZones(ctx, "BTCUSDT", nil, []types.Zone{stale}, formed); err != nil {
			t.Fatalf("mergeZones: %v", err)
		}

		active, _ := h.store.GetActiveZones(ctx, "BTCUSDT")
		if len(active) != 0 {
			t.Errorf("зона старше MaxZoneAge должна сниматься: %+v", active)
		}
	})
}

func TestValidateBars(t *testing.T) {
	ts := func(h int) time.Time {
		return time.Date(2025, 6, 1, h, 0, 0, 0, time.UTC)
	}

	ordered := []types.Bar{{Timestamp: ts(0)}, {Timestamp: ts(1)}, {Timestamp: ts(2)}}
	if err := validateBars(ordered); err != nil {
		t.Errorf("возрастающие бары валидны: %v", err)
	}

	if err := validateBars(nil); err != nil {
		t.Errorf("пустая серия валидна: %v", err)
	}

	unordered := []types.Bar{{Timestamp: ts(0)}, {Timestamp: ts(2)}, {Timestamp: ts(1)}}
	if err := validateBars(unordered); err == nil {
		t.Error("нарушение порядка должно давать ошибку")
	}

	duplicated := []types.Bar{{Timestamp: ts(0)}, {Timestamp: ts(0)}}
	if err := validateBars(duplicated); err == nil {
		t.Error("повтор времени должен давать ошибку")
	}
}

func TestBarAge(t *testing.T) {
	formed := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	if age := barAge(formed, formed.Add(10*time.Hour), time.Hour); age != 10 {
		t.Errorf("ожидался возраст 10, получен %d", age)
	}
	if age := barAge(formed, time.Time{}, time.Hour); age != 0 {
		t.Errorf("без последнего бара возраст 0, получен %d", age)
	}
	if age := barAge(formed, formed, time.Hour); age != 0 {
		t.Errorf("свежая зона имеет возраст 0, получен %d", age)
	}
}

func TestConfigValidate(t *testing.T) {
	if err := testConfig("BTCUSDT").Validate(); err != nil {
		t.Fatalf("тестовая конфигурация валидна: %v", err)
	}

	bad := testConfig()
	if err := bad.Validate(); err == nil {
		t.Error("пустой список символов должен давать ошибку")
	}

	bad = testConfig("BTCUSDT")
	bad.WorkerCount = 0
	if err := bad.Validate(); err == nil {
		t.Error("нулевой пул воркеров должен давать ошибку")
	}
}

func TestStartStop(t *testing.T) {
	cfg := testConfig("BTCUSDT")
	cfg.DetectionInterval = 50 * time.Millisecond
	cfg.MonitoringInterval = 50 * time.Millisecond
	h := newHarness(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h.sched.Start(ctx)

	// Оба ритма делают первый проход сразу
	var kinds []string
	deadline := time.After(3 * time.Second)
	for len(kinds) < 2 {
		select {
		case r := <-h.sched.Reports():
			kinds = append(kinds, r.Kind)
		case <-deadline:
			t.Fatalf("не дождались отчётов, получено %v", kinds)
		}
	}

	done := make(chan struct{})
	go func() {
		h.sched.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("Stop не завершился")
	}
}
