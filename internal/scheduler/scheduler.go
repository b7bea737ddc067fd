// internal/scheduler/scheduler.go
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"supply-demand-zone-engine/internal/core/domain/monitor"
	"supply-demand-zone-engine/internal/core/domain/zones"
	"supply-demand-zone-engine/internal/dispatcher"
	"supply-demand-zone-engine/internal/types"
	"supply-demand-zone-engine/pkg/logger"
)

// Значения по умолчанию
const (
	DefaultDetectionInterval  = 1 * time.Hour
	DefaultMonitoringInterval = 1 * time.Minute
	DefaultDetectionTimeout   = 30 * time.Second
	DefaultMonitoringTimeout  = 10 * time.Second
	DefaultWorkerCount        = 4

	reportBufferSize = 16
)

// BarProvider — адаптер серии баров (внешний коллаборатор).
// Бары обязаны идти строго по возрастанию времени; незакрытый
// последний бар адаптер исключает сам.
type BarProvider interface {
	GetBars(ctx context.Context, symbol, timeframe string, lookback int) ([]types.Bar, error)
}

// PriceSource — источник последней цены
type PriceSource interface {
	GetLastPrice(ctx context.Context, symbol string) (types.Tick, error)
}

// ZoneStore — хранилище зон (внешний коллаборатор).
// Гарантирует чтение своих записей в пределах символа.
type ZoneStore interface {
	SaveZone(ctx context.Context, zone types.Zone) error
	GetActiveZones(ctx context.Context, symbol string) ([]types.Zone, error)
	UpdateZoneState(ctx context.Context, id string, state types.ZoneState, testCount int) error
	DeactivateZone(ctx context.Context, id string) error
}

// Config — конфигурация планировщика сканирования
type Config struct {
	Symbols            []string
	Timeframe          string
	BarDuration        time.Duration // длительность одного бара таймфрейма
	LookbackBars       int
	DetectionInterval  time.Duration
	MonitoringInterval time.Duration
	DetectionTimeout   time.Duration
	MonitoringTimeout  time.Duration
	WorkerCount        int
	MaxZoneAge         time.Duration // 0 — без ограничения
}

// Validate проверяет конфигурацию планировщика
func (c Config) Validate() error {
	if len(c.Symbols) == 0 {
		return fmt.Errorf("пустой список символов для сканирования")
	}
	if c.Timeframe == "" {
		return fmt.Errorf("не задан таймфрейм")
	}
	if c.BarDuration <= 0 {
		return fmt.Errorf("BAR_DURATION должен быть положительным")
	}
	if c.WorkerCount < 1 {
		return fmt.Errorf("WORKER_COUNT должен быть ≥ 1")
	}
	if c.DetectionInterval <= 0 || c.MonitoringInterval <= 0 {
		return fmt.Errorf("интервалы циклов должны быть положительными")
	}
	return nil
}

// CycleReport — агрегат результатов одного цикла сканирования.
// Сбой одного символа не блокирует и не роняет остальные.
type CycleReport struct {
	Kind      string // "detection" | "monitoring"
	Succeeded int
	Failed    int
	Events    int
	Duration  time.Duration
	Timestamp time.Time
}

// Scheduler гонит два независимых ритма по набору символов:
// детекцию (редко) и мониторинг (часто) — с ограниченным пулом воркеров.
type Scheduler struct {
	cfg        Config
	bars       BarProvider
	prices     PriceSource
	store      ZoneStore
	detector   *zones.Detector
	scorer     *zones.Scorer
	monitor    *monitor.PriceMonitor
	dispatcher *dispatcher.Dispatcher

	// Пул воркеров: семафор ограничивает параллелизм, чтобы
	// не задавить rate limit источника баров
	sem chan struct{}

	// Детекция и мониторинг одного символа не должны пересекаться:
	// монитор не должен читать хранилище посреди записи детекции
	symLocks map[string]*sync.Mutex

	reports chan CycleReport

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New создаёт планировщик
func New(
	cfg Config,
	bars BarProvider,
	prices PriceSource,
	store ZoneStore,
	detector *zones.Detector,
	scorer *zones.Scorer,
	priceMonitor *monitor.PriceMonitor,
	disp *dispatcher.Dispatcher,
) (*Scheduler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if bars == nil || prices == nil || store == nil {
		return nil, fmt.Errorf("не инициализированы внешние коллабораторы планировщика")
	}
	if detector == nil || scorer == nil || priceMonitor == nil || disp == nil {
		return nil, fmt.Errorf("не инициализированы компоненты движка")
	}

	locks := make(map[string]*sync.Mutex, len(cfg.Symbols))
	for _, s := range cfg.Symbols {
		locks[s] = &sync.Mutex{}
	}

	return &Scheduler{
		cfg:        cfg,
		bars:       bars,
		prices:     prices,
		store:      store,
		detector:   detector,
		scorer:     scorer,
		monitor:    priceMonitor,
		dispatcher: disp,
		sem:        make(chan struct{}, cfg.WorkerCount),
		symLocks:   locks,
		reports:    make(chan CycleReport, reportBufferSize),
	}, nil
}

// Reports — канал отчётов по циклам для вызывающего
func (s *Scheduler) Reports() <-chan CycleReport {
	return s.reports
}

// Start запускает оба ритма. Возвращается сразу; работа идёт в фоне.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(2)
	go s.loop(ctx, "detection", s.cfg.DetectionInterval, s.runDetectionCycle)
	go s.loop(ctx, "monitoring", s.cfg.MonitoringInterval, s.runMonitoringCycle)

	logger.Info("✅ [Scheduler] Запущен: %d символов, детекция каждые %v, мониторинг каждые %v, воркеров %d",
		len(s.cfg.Symbols), s.cfg.DetectionInterval, s.cfg.MonitoringInterval, s.cfg.WorkerCount)
}

// Stop отменяет работу и ждёт завершения: текущие юниты отменяются
// в пределах одного таймаута, горутины не утекают.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	logger.Info("🛑 [Scheduler] Остановлен")
}

// loop — цикл одного ритма: первый проход сразу, дальше по тикеру
func (s *Scheduler) loop(ctx context.Context, kind string, interval time.Duration, run func(ctx context.Context) CycleReport) {
	defer s.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.report(run(ctx))

	for {
		select {
		case <-ticker.C:
			s.report(run(ctx))
		case <-ctx.Done():
			logger.Debug("🛑 [Scheduler] Цикл %s остановлен", kind)
			return
		}
	}
}

// report отдаёт отчёт вызывающему, не блокируясь на полном канале
func (s *Scheduler) report(r CycleReport) {
	logger.Info("📊 [Scheduler] Цикл %s: успешно %d, ошибок %d, событий %d за %v",
		r.Kind, r.Succeeded, r.Failed, r.Events, r.Duration)
	select {
	case s.reports <- r:
	default:
	}
}

// forEachSymbol прогоняет юнит работы по всем символам через пул воркеров.
// Каждый юнит несёт свой дедлайн; по таймауту юнит бросается, логируется
// и будет повторён на следующем такте ритма.
func (s *Scheduler) forEachSymbol(ctx context.Context, timeout time.Duration, unit func(ctx context.Context, symbol string) (int, error)) (succeeded, failed, events int) {
	var okCount, failCount, eventCount int64
	var wg sync.WaitGroup

	for _, symbol := range s.cfg.Symbols {
		select {
		case <-ctx.Done():
			return int(okCount), int(failCount), int(eventCount)
		case s.sem <- struct{}{}:
		}

		wg.Add(1)
		go func(symbol string) {
			defer wg.Done()
			defer func() { <-s.sem }()

			lock := s.symLocks[symbol]
			lock.Lock()
			defer lock.Unlock()

			unitCtx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			n, err := unit(unitCtx, symbol)
			if err != nil {
				atomic.AddInt64(&failCount, 1)
				logger.Error("❌ [Scheduler] %s: %v", symbol, err)
				return
			}
			atomic.AddInt64(&okCount, 1)
			atomic.AddInt64(&eventCount, int64(n))
		}(symbol)
	}

	wg.Wait()
	return int(okCount), int(failCount), int(eventCount)
}

// runDetectionCycle — редкий ритм: передетекция и слияние зон в хранилище
func (s *Scheduler) runDetectionCycle(ctx context.Context) CycleReport {
	start := time.Now()
	ok, fail, _ := s.forEachSymbol(ctx, s.cfg.DetectionTimeout, s.detectSymbol)
	return CycleReport{
		Kind: "detection", Succeeded: ok, Failed: fail,
		Duration: time.Since(start), Timestamp: time.Now(),
	}
}

// runMonitoringCycle — частый ритм: живая цена против активных зон
func (s *Scheduler) runMonitoringCycle(ctx context.Context) CycleReport {
	start := time.Now()
	ok, fail, events := s.forEachSymbol(ctx, s.cfg.MonitoringTimeout, s.monitorSymbol)
	return CycleReport{
		Kind: "monitoring", Succeeded: ok, Failed: fail, Events: events,
		Duration: time.Since(start), Timestamp: time.Now(),
	}
}

// detectSymbol — один юнит детекции: бары → зоны → скоринг → слияние
func (s *Scheduler) detectSymbol(ctx context.Context, symbol string) (int, error) {
	bars, err := s.bars.GetBars(ctx, symbol, s.cfg.Timeframe, s.cfg.LookbackBars)
	if err != nil {
		return 0, fmt.Errorf("получение баров: %w", err)
	}

	// Нарушение целостности данных — фатально для прохода этого символа:
	// прерываем громко, не пытаемся чинить данные молча
	if err := validateBars(bars); err != nil {
		return 0, fmt.Errorf("целостность баров нарушена: %w", err)
	}

	detected := s.detector.DetectZones(symbol, s.cfg.Timeframe, bars)

	var lastBarTime time.Time
	if len(bars) > 0 {
		lastBarTime = bars[len(bars)-1].Timestamp
	}
	for i := range detected {
		age := barAge(detected[i].FormedAt, lastBarTime, s.cfg.BarDuration)
		score, state := s.scorer.Score(detected[i], zones.ScoreContext{BarAgeCount: age})
		detected[i].StrengthScore = score
		detected[i].State = state
	}

	existing, err := s.store.GetActiveZones(ctx, symbol)
	if err != nil {
		return 0, fmt.Errorf("чтение активных зон: %w", err)
	}

	saved, err := s.mergeZones(ctx, symbol, detected, existing, lastBarTime)
	if err != nil {
		return 0, err
	}

	logger.Debug("📐 [Scheduler] %s: найдено %d зон, добавлено %d", symbol, len(detected), saved)
	return saved, nil
}

// mergeZones добавляет новые зоны в хранилище.
// Существующие зоны передетекцией не перезаписываются — только вытесняются,
// если полностью перекрыты более сильной новой зоной. Попутно гасятся
// зоны старше MaxZoneAge.
func (s *Scheduler) mergeZones(ctx context.Context, symbol string, detected, existing []types.Zone, now time.Time) (int, error) {
	existingByID := make(map[string]types.Zone, len(existing))
	for _, z := range existing {
		existingByID[z.ID] = z
	}

	// Политика устаревания: слишком старые зоны логически снимаются
	if s.cfg.MaxZoneAge > 0 && !now.IsZero() {
		cutoff := now.Add(-s.cfg.MaxZoneAge)
		for _, z := range existing {
			if z.FormedAt.Before(cutoff) {
				if err := s.store.DeactivateZone(ctx, z.ID); err != nil {
					return 0, fmt.Errorf("снятие устаревшей зоны %s: %w", z.ID, err)
				}
				delete(existingByID, z.ID)
			}
		}
	}

	saved := 0
	for _, nz := range detected {
		if _, ok := existingByID[nz.ID]; ok {
			continue // уже есть — состояние не трогаем
		}

		superseded := false
		for _, ez := range existingByID {
			if ez.Type != nz.Type || zones.OverlapFraction(nz, ez) <= 0.5 {
				continue
			}
			if nz.VolumeRatio > ez.VolumeRatio {
				// Новая сильнее — старая вытесняется
				if err := s.store.DeactivateZone(ctx, ez.ID); err != nil {
					return saved, fmt.Errorf("вытеснение зоны %s: %w", ez.ID, err)
				}
				delete(existingByID, ez.ID)
			} else {
				superseded = true
			}
		}
		if superseded {
			continue
		}

		if err := s.store.SaveZone(ctx, nz); err != nil {
			return saved, fmt.Errorf("сохранение зоны %s: %w", nz.ID, err)
		}
		existingByID[nz.ID] = nz
		saved++
	}
	return saved, nil
}

// monitorSymbol — один юнит мониторинга: тик → события → диспетчеризация
func (s *Scheduler) monitorSymbol(ctx context.Context, symbol string) (int, error) {
	tick, err := s.prices.GetLastPrice(ctx, symbol)
	if err != nil {
		return 0, fmt.Errorf("получение цены: %w", err)
	}

	activeZones, err := s.store.GetActiveZones(ctx, symbol)
	if err != nil {
		return 0, fmt.Errorf("чтение активных зон: %w", err)
	}
	if len(activeZones) == 0 {
		return 0, nil
	}

	events := s.monitor.Evaluate(symbol, tick, activeZones)

	// Изменения состояний (отскоки и пробои) сохраняем до отправки
	zoneByID := make(map[string]types.Zone, len(activeZones))
	for _, z := range activeZones {
		zoneByID[z.ID] = z
	}
	for _, ev := range events {
		switch ev.Type {
		case types.EventZoneBounce, types.EventZoneBreak:
			z := zoneByID[ev.ZoneID]
			if err := s.store.UpdateZoneState(ctx, z.ID, z.State, z.TestCount); err != nil {
				return 0, fmt.Errorf("обновление зоны %s: %w", z.ID, err)
			}
			if ev.Type == types.EventZoneBreak {
				if err := s.store.DeactivateZone(ctx, z.ID); err != nil {
					return 0, fmt.Errorf("деактивация зоны %s: %w", z.ID, err)
				}
			}
		}
	}

	if len(events) == 0 {
		return 0, nil
	}

	result := s.dispatcher.Dispatch(ctx, events)
	logger.Debug("📬 [Scheduler] %s: событий %d (отправлено %d, дублей %d, провалов %d)",
		symbol, len(events), result.Sent, result.SkippedDuplicate, result.Failed)

	return result.Sent, nil
}

// validateBars проверяет строгое возрастание времени баров
func validateBars(bars []types.Bar) error {
	for i := 1; i < len(bars); i++ {
		if !bars[i].Timestamp.After(bars[i-1].Timestamp) {
			return fmt.Errorf("бар %d не позже предыдущего (%s ≤ %s)",
				i, bars[i].Timestamp.Format(time.RFC3339), bars[i-1].Timestamp.Format(time.RFC3339))
		}
	}
	return nil
}

// barAge — возраст зоны в барах на момент последнего закрытого бара
func barAge(formedAt, lastBar time.Time, barDur time.Duration) int {
	if lastBar.IsZero() || barDur <= 0 || !lastBar.After(formedAt) {
		return 0
	}
	return int(lastBar.Sub(formedAt) / barDur)
}
