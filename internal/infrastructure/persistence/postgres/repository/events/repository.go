// internal/infrastructure/persistence/postgres/repository/events/repository.go
package events

import (
	"context"
	"fmt"
	"time"

	"supply-demand-zone-engine/internal/types"

	"github.com/jmoiron/sqlx"
)

// schema — журнал только дописывается, записи не меняются и не удаляются
const schema = `
CREATE TABLE IF NOT EXISTS zone_events (
	id           BIGSERIAL PRIMARY KEY,
	event_id     TEXT NOT NULL,
	symbol       TEXT NOT NULL,
	zone_id      TEXT NOT NULL,
	event_type   TEXT NOT NULL,
	price        DOUBLE PRECISION NOT NULL,
	status       TEXT NOT NULL,
	occurred_at  TIMESTAMPTZ NOT NULL,
	recorded_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_zone_events_symbol ON zone_events (symbol, occurred_at);
CREATE INDEX IF NOT EXISTS idx_zone_events_zone ON zone_events (zone_id);
`

// EventRecord — строка журнала событий
type EventRecord struct {
	ID         int64     `db:"id"`
	EventID    string    `db:"event_id"`
	Symbol     string    `db:"symbol"`
	ZoneID     string    `db:"zone_id"`
	EventType  string    `db:"event_type"`
	Price      float64   `db:"price"`
	Status     string    `db:"status"` // sent | failed
	OccurredAt time.Time `db:"occurred_at"`
	RecordedAt time.Time `db:"recorded_at"`
}

// EventRepository — append-only журнал отправленных и проваленных событий
type EventRepository struct {
	db *sqlx.DB
}

// NewEventRepository создаёт репозиторий журнала и гарантирует схему
func NewEventRepository(db *sqlx.DB) (*EventRepository, error) {
	if db == nil {
		return nil, fmt.Errorf("db не инициализирована")
	}
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("events: создание схемы журнала: %w", err)
	}
	return &EventRepository{db: db}, nil
}

// Record дописывает событие в журнал
func (r *EventRepository) Record(ctx context.Context, event types.Event, status string) error {
	query := `
		INSERT INTO zone_events (event_id, symbol, zone_id, event_type, price, status, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := r.db.ExecContext(ctx, query,
		event.EventID, event.Symbol, event.ZoneID, string(event.Type),
		event.Price, status, event.Timestamp)
	if err != nil {
		return fmt.Errorf("events: запись события %s: %w", event.EventID, err)
	}
	return nil
}

// RecentBySymbol возвращает последние limit записей журнала по символу
func (r *EventRepository) RecentBySymbol(ctx context.Context, symbol string, limit int) ([]EventRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT id, event_id, symbol, zone_id, event_type, price, status, occurred_at, recorded_at
		FROM zone_events
		WHERE symbol = $1
		ORDER BY occurred_at DESC
		LIMIT $2`

	var records []EventRecord
	if err := r.db.SelectContext(ctx, &records, query, symbol, limit); err != nil {
		return nil, fmt.Errorf("events: чтение журнала %s: %w", symbol, err)
	}
	return records, nil
}

// CountByStatus возвращает число записей журнала по статусу (для статуса движка)
func (r *EventRepository) CountByStatus(ctx context.Context, status string) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM zone_events WHERE status = $1`, status)
	if err != nil {
		return 0, fmt.Errorf("events: подсчёт записей: %w", err)
	}
	return count, nil
}
