package postgres

import (
	"context"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
)

// EventLog is the processed_webhook_events table.
type EventLog struct {
	log  *slog.Logger
	pool *pgxpool.Pool
}

func NewEventLog(log *slog.Logger, pool *pgxpool.Pool) *EventLog {
	return &EventLog{log: log, pool: pool}
}

func (l *EventLog) Seen(ctx context.Context, eventID string) (bool, error) {
	var seen bool
	err := l.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM processed_webhook_events WHERE event_id = $1)`, eventID).Scan(&seen)
	return seen, err
}

func (l *EventLog) Record(ctx context.Context, eventID, eventType string) error {
	ct, err := l.pool.Exec(ctx, `
		INSERT INTO processed_webhook_events (event_id, event_type)
		VALUES ($1, $2)
		ON CONFLICT (event_id) DO NOTHING`, eventID, eventType)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		l.log.Info("webhook event already recorded", "event_id", eventID)
	}
	return nil
}
