// internal/dispatcher/dispatcher.go
package dispatcher

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"supply-demand-zone-engine/internal/types"
	"supply-demand-zone-engine/pkg/logger"
)

// Значения по умолчанию
const (
	DefaultDedupWindow   = 15 * time.Minute
	DefaultMaxAttempts   = 3
	DefaultBaseDelay     = 1 * time.Second
	DefaultBackoffFactor = 2.0
	DefaultJitterPct     = 0.2

	failedBufferSize = 100
)

// NotificationSink — внешний приёмник уведомлений.
// Политика ретраев живёт здесь, в диспетчере, а не в приёмнике.
type NotificationSink interface {
	Send(event types.Event) error
}

// DedupStore — окно дедупликации, подкреплённое хранилищем.
// Оно независимо от поцикловой памяти монитора: монитор может
// перезапуститься и потерять память, окно хранилища переживёт рестарт.
type DedupStore interface {
	// MarkIfNew атомарно помечает ключ и возвращает true, если ключ новый
	MarkIfNew(ctx context.Context, key string, window time.Duration) (bool, error)
}

// EventJournal — журнал отправленных/проваленных событий (аудит)
type EventJournal interface {
	Record(ctx context.Context, event types.Event, status string) error
}

// RetryPolicy — явная инспектируемая политика повторов:
// количество попыток и задержки видны и тестируемы, а не зашиты
// в неявный поток управления.
type RetryPolicy struct {
	MaxAttempts   int
	BaseDelay     time.Duration
	BackoffFactor float64
	JitterPct     float64 // доля джиттера, ±
}

// DefaultRetryPolicy возвращает политику по умолчанию: 3 попытки,
// экспоненциальный backoff с базой 1с, фактором 2 и джиттером ±20%.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:   DefaultMaxAttempts,
		BaseDelay:     DefaultBaseDelay,
		BackoffFactor: DefaultBackoffFactor,
		JitterPct:     DefaultJitterPct,
	}
}

// Delay возвращает задержку перед попыткой attempt (нумерация с 1)
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt <= 1 {
		return 0
	}
	delay := float64(p.BaseDelay)
	for i := 2; i < attempt; i++ {
		delay *= p.BackoffFactor
	}
	if p.JitterPct > 0 {
		jitter := 1 + p.JitterPct*(2*rand.Float64()-1)
		delay *= jitter
	}
	return time.Duration(delay)
}

// Dispatcher дедуплицирует события и доставляет их в приёмник уведомлений.
type Dispatcher struct {
	sink        NotificationSink
	dedup       DedupStore
	journal     EventJournal // может быть nil
	policy      RetryPolicy
	dedupWindow time.Duration
	failedCh    chan types.Event
}

// New создаёт диспетчер событий
func New(sink NotificationSink, dedup DedupStore, journal EventJournal, policy RetryPolicy, dedupWindow time.Duration) (*Dispatcher, error) {
	if sink == nil {
		return nil, fmt.Errorf("notification sink не инициализирован")
	}
	if dedup == nil {
		return nil, fmt.Errorf("dedup store не инициализирован")
	}
	if policy.MaxAttempts < 1 {
		return nil, fmt.Errorf("MaxAttempts должен быть ≥ 1")
	}
	if dedupWindow <= 0 {
		dedupWindow = DefaultDedupWindow
	}
	return &Dispatcher{
		sink:        sink,
		dedup:       dedup,
		journal:     journal,
		policy:      policy,
		dedupWindow: dedupWindow,
		failedCh:    make(chan types.Event, failedBufferSize),
	}, nil
}

// FailedEvents — канал событий, исчерпавших все попытки отправки.
// Видим оператору: событие никогда не отбрасывается молча.
func (d *Dispatcher) FailedEvents() <-chan types.Event {
	return d.failedCh
}

// Dispatch отправляет пакет событий с дедупликацией и ретраями.
// События обрабатываются в переданном порядке — вызывающий обеспечивает
// стабильный порядок, чтобы окно дедупа вело себя детерминированно.
func (d *Dispatcher) Dispatch(ctx context.Context, events []types.Event) types.DispatchResult {
	var result types.DispatchResult

	for _, event := range events {
		key := dedupKey(event)

		isNew, err := d.dedup.MarkIfNew(ctx, key, d.dedupWindow)
		if err != nil {
			// Хранилище недоступно — отправляем без дедупа, лучше дубль, чем потеря
			logger.Warn("⚠️ Dispatcher: окно дедупа недоступно (%v), событие %s отправляется без проверки", err, event.EventID)
			isNew = true
		}
		if !isNew {
			result.SkippedDuplicate++
			logger.Debug("🔁 Dispatcher: дубль подавлен %s/%s (окно %v)", event.ZoneID, event.Type, d.dedupWindow)
			continue
		}

		if err := d.sendWithRetry(ctx, event); err != nil {
			result.Failed++
			d.recordJournal(ctx, event, "failed")
			d.surfaceFailure(event, err)
			continue
		}

		result.Sent++
		d.recordJournal(ctx, event, "sent")
		logger.ZoneEvent(event.Symbol, string(event.Type), event.Price, event.ZoneID)
	}

	return result
}

// sendWithRetry выполняет до MaxAttempts попыток с экспоненциальным backoff
func (d *Dispatcher) sendWithRetry(ctx context.Context, event types.Event) error {
	var lastErr error

	for attempt := 1; attempt <= d.policy.MaxAttempts; attempt++ {
		if delay := d.policy.Delay(attempt); delay > 0 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		if err := d.sink.Send(event); err != nil {
			lastErr = err
			logger.Warn("⚠️ Dispatcher: попытка %d/%d для события %s не удалась: %v",
				attempt, d.policy.MaxAttempts, event.EventID, err)
			continue
		}
		return nil
	}

	return fmt.Errorf("событие %s не доставлено после %d попыток: %w",
		event.EventID, d.policy.MaxAttempts, lastErr)
}

// surfaceFailure выводит провал на операторский канал
func (d *Dispatcher) surfaceFailure(event types.Event, err error) {
	logger.Error("❌ Dispatcher: %v", err)
	select {
	case d.failedCh <- event:
	default:
		// Канал переполнен — оператор не читает; лог остаётся единственным следом
		logger.Error("❌ Dispatcher: канал проваленных событий переполнен, событие %s только в логе", event.EventID)
	}
}

// recordJournal пишет событие в журнал аудита (best-effort)
func (d *Dispatcher) recordJournal(ctx context.Context, event types.Event, status string) {
	if d.journal == nil {
		return
	}
	if err := d.journal.Record(ctx, event, status); err != nil {
		logger.Warn("⚠️ Dispatcher: не удалось записать событие %s в журнал: %v", event.EventID, err)
	}
}

// dedupKey — ключ окна дедупликации: одинаковое событие по одной зоне
func dedupKey(event types.Event) string {
	return fmt.Sprintf("dedup:%s:%s:%s", event.Symbol, event.ZoneID, event.Type)
}
