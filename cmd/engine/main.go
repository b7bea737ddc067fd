// cmd/engine/main.go
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"supply-demand-zone-engine/internal/adapters/market"
	"supply-demand-zone-engine/internal/core/domain/monitor"
	"supply-demand-zone-engine/internal/core/domain/zones"
	"supply-demand-zone-engine/internal/dispatcher"
	"supply-demand-zone-engine/internal/infrastructure/api/exchanges/bybit"
	redis_service "supply-demand-zone-engine/internal/infrastructure/cache/redis"
	"supply-demand-zone-engine/internal/infrastructure/config"
	"supply-demand-zone-engine/internal/infrastructure/persistence/postgres"
	"supply-demand-zone-engine/internal/infrastructure/persistence/postgres/repository/events"
	"supply-demand-zone-engine/internal/infrastructure/persistence/redis_storage/dedup_storage"
	"supply-demand-zone-engine/internal/infrastructure/persistence/redis_storage/zone_storage"
	"supply-demand-zone-engine/internal/notifier"
	"supply-demand-zone-engine/internal/scheduler"
	"supply-demand-zone-engine/pkg/logger"
)

func main() {
	// Загружаем конфигурацию
	cfg, err := config.LoadConfig(".env")
	if err != nil {
		log.Fatalf("Не удалось загрузить конфигурацию: %v", err)
	}

	if err := logger.InitGlobal(cfg.Logging.FilePath, cfg.Logging.Level, cfg.Logging.DebugMode); err != nil {
		log.Fatalf("Не удалось инициализировать логгер: %v", err)
	}
	defer logger.GetLogger().Close()

	printHeader("ДВИЖОК ЗОН СПРОСА И ПРЕДЛОЖЕНИЯ")
	cfg.PrintSummary()
	fmt.Println()

	startTime := time.Now()

	// ======================
	// ЯДРО ДВИЖКА
	// ======================
	detector, err := zones.NewDetector(detectionParams(cfg))
	if err != nil {
		log.Fatalf("Не удалось создать детектор: %v", err)
	}

	scorer, err := zones.NewScorer(zones.ScorerParams{
		AgeHorizonBars:    cfg.Scoring.AgeHorizonBars,
		WeakThreshold:     cfg.Scoring.WeakThreshold,
		BreakTolerancePct: cfg.Scoring.BreakTolerancePct,
		MaxZoneSizePct:    cfg.Detection.MaxZoneSizePct,
	})
	if err != nil {
		log.Fatalf("Не удалось создать скорер: %v", err)
	}

	priceMonitor, err := monitor.NewPriceMonitor(monitor.Params{
		ProximityPct: cfg.Monitoring.ProximityPct,
	}, scorer)
	if err != nil {
		log.Fatalf("Не удалось создать монитор цены: %v", err)
	}

	// ======================
	// ИНФРАСТРУКТУРА
	// ======================
	var (
		redisService *redis_service.RedisService
		zoneStore    scheduler.ZoneStore
		dedupStore   dispatcher.DedupStore
		seriesCache  market.SeriesCache
	)

	if cfg.Redis.Enabled {
		redisService = redis_service.NewRedisService(cfg)
		if err := redisService.Start(); err != nil {
			log.Fatalf("Не удалось подключиться к Redis: %v", err)
		}
		defer redisService.Stop()

		zoneStore, err = zone_storage.NewZoneStorage(redisService)
		if err != nil {
			log.Fatalf("Не удалось создать хранилище зон: %v", err)
		}
		dedupStore, err = dedup_storage.NewDedupStorage(redisService)
		if err != nil {
			log.Fatalf("Не удалось создать окно дедупликации: %v", err)
		}
		seriesCache = redisService.GetCache()
	} else {
		logger.Warn("⚠️ Redis выключен: зоны и дедуп живут в памяти процесса")
		zoneStore = zone_storage.NewMemoryZoneStorage()
		dedupStore = dispatcher.NewMemoryDedupStore()
		seriesCache = market.NewMemorySeriesCache()
	}

	// Журнал событий (опционально)
	var journal dispatcher.EventJournal
	if cfg.Database.Enabled {
		db, err := postgres.Connect(cfg)
		if err != nil {
			log.Fatalf("Не удалось подключиться к PostgreSQL: %v", err)
		}
		defer db.Close()

		eventRepo, err := events.NewEventRepository(db)
		if err != nil {
			log.Fatalf("Не удалось создать журнал событий: %v", err)
		}
		journal = eventRepo
	}

	// ======================
	// РЫНОЧНЫЕ ДАННЫЕ
	// ======================
	bybitClient := bybit.NewBybitClient(cfg)
	marketData, err := market.NewMarketDataAdapter(bybitClient, seriesCache, market.Params{
		BarDuration: cfg.Scheduler.BarDuration,
		BarTTL:      cfg.Exchange.BarCacheTTL,
		TickTTL:     cfg.Exchange.TickerCacheTTL,
	})
	if err != nil {
		log.Fatalf("Не удалось создать адаптер рыночных данных: %v", err)
	}

	// ======================
	// УВЕДОМЛЕНИЯ
	// ======================
	sink := notifier.NewCompositeNotificationService(notifier.NewConsoleNotifier())

	if cfg.Telegram.Enabled {
		if tg := notifier.NewTelegramNotifier(cfg); tg != nil {
			sink.AddNotifier(tg)
			logger.Info("✅ Telegram нотификатор подключен")
		}
	}
	if cfg.Kafka.Enabled {
		kafka, err := notifier.NewKafkaNotifier(cfg)
		if err != nil {
			log.Fatalf("Не удалось создать Kafka нотификатор: %v", err)
		}
		defer kafka.Close()
		sink.AddNotifier(kafka)
		logger.Info("✅ Kafka нотификатор подключен: %s", cfg.Kafka.Topic)
	}

	disp, err := dispatcher.New(sink, dedupStore, journal, dispatcher.RetryPolicy{
		MaxAttempts:   cfg.Dispatch.MaxAttempts,
		BaseDelay:     cfg.Dispatch.BaseDelay,
		BackoffFactor: cfg.Dispatch.BackoffFactor,
		JitterPct:     cfg.Dispatch.JitterPct,
	}, cfg.Dispatch.DedupWindow)
	if err != nil {
		log.Fatalf("Не удалось создать диспетчер событий: %v", err)
	}

	// Провалившиеся события — на глаза оператору
	go func() {
		for event := range disp.FailedEvents() {
			logger.Error("❌ Событие потеряно после всех попыток: %s %s %s",
				event.Symbol, event.Type, event.ZoneID)
		}
	}()

	// ======================
	// ПЛАНИРОВЩИК
	// ======================
	sched, err := scheduler.New(scheduler.Config{
		Symbols:            cfg.Scheduler.Symbols,
		Timeframe:          cfg.Scheduler.Timeframe,
		BarDuration:        cfg.Scheduler.BarDuration,
		LookbackBars:       cfg.Detection.LookbackPeriods,
		DetectionInterval:  cfg.Scheduler.DetectionInterval,
		MonitoringInterval: cfg.Scheduler.MonitoringInterval,
		DetectionTimeout:   cfg.Scheduler.DetectionTimeout,
		MonitoringTimeout:  cfg.Scheduler.MonitoringTimeout,
		WorkerCount:        cfg.Scheduler.WorkerCount,
		MaxZoneAge:         cfg.Scheduler.MaxZoneAge,
	}, marketData, marketData, zoneStore, detector, scorer, priceMonitor, disp)
	if err != nil {
		log.Fatalf("Не удалось создать планировщик: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sched.Start(ctx)

	// Отчёты циклов — в лог со статусом движка
	go func() {
		for report := range sched.Reports() {
			if report.Failed > 0 {
				logger.Warn("⚠️ Цикл %s: %d символов с ошибками", report.Kind, report.Failed)
			}
		}
	}()

	// Ожидаем сигнал завершения
	stopChan := make(chan os.Signal, 1)
	signal.Notify(stopChan, syscall.SIGINT, syscall.SIGTERM)
	<-stopChan

	printHeader("Завершение работы")
	cancel()
	sched.Stop()

	fmt.Printf("⏱️  Время работы: %s\n", formatDuration(time.Since(startTime)))
	logger.Info("✅ Движок остановлен корректно")
}

// detectionParams переносит параметры детекции из конфигурации
func detectionParams(cfg *config.Config) zones.DetectionParams {
	return zones.DetectionParams{
		LookbackPeriods:          cfg.Detection.LookbackPeriods,
		SwingStrength:            cfg.Detection.SwingStrength,
		MinZoneSizePct:           cfg.Detection.MinZoneSizePct,
		MaxZoneSizePct:           cfg.Detection.MaxZoneSizePct,
		MinConsolidationBars:     cfg.Detection.MinConsolidationBars,
		MaxConsolidationBars:     cfg.Detection.MaxConsolidationBars,
		MaxConsolidationRangePct: cfg.Detection.MaxConsolidationRangePct,
		MinVolumeRatio:           cfg.Detection.MinVolumeRatio,
		MinImpulseMultiple:       cfg.Detection.MinImpulseMultiple,
	}
}

func printHeader(text string) {
	width := 80
	padding := (width - len(text)) / 2

	if padding < 0 {
		padding = 0
	}

	fmt.Println(strings.Repeat("═", width))
	fmt.Printf("%s%s%s\n",
		strings.Repeat(" ", padding),
		text,
		strings.Repeat(" ", width-len(text)-padding))
	fmt.Println(strings.Repeat("═", width))
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	s := d - m*time.Minute

	if h > 0 {
		return fmt.Sprintf("%dч %dм %dс", h, m, s/time.Second)
	}
	if m > 0 {
		return fmt.Sprintf("%dм %dс", m, s/time.Second)
	}
	return fmt.Sprintf("%dс", s/time.Second)
}
