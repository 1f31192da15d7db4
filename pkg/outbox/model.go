package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/dmehra2102/storefront-payments/pkg/tracing"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusSent       Status = "sent"
	StatusFailed     Status = "failed"
)

type Event struct {
	ID            int64
	AggregateType string
	AggregateID   string
	Type          string
	Payload       []byte
	Headers       map[string]string
	Traceparent   string
	CreatedAt     time.Time
	Status        Status
	RelayID       string
	RetryCount    int
	LastError     *string
}

// Message is what a repository hands to Enqueue; Payload is JSON encoded.
type Message struct {
	AggregateType string
	AggregateID   string
	Type          string
	Payload       any
	Headers       map[string]string
}

// Enqueue writes a pending outbox row inside the caller's transaction so the
// event commits or rolls back with the state change it describes.
func Enqueue(ctx context.Context, tx pgx.Tx, m Message) error {
	payload, err := json.Marshal(m.Payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", m.Type, err)
	}
	headers := m.Headers
	if headers == nil {
		headers = map[string]string{}
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO outbox (aggregate_type, aggregate_id, type, payload, headers, traceparent, status)
		VALUES ($1, $2, $3, $4, $5, $6, 'pending')`,
		m.AggregateType, m.AggregateID, m.Type, payload, headers, tracing.Traceparent(ctx))
	if err != nil {
		return fmt.Errorf("insert outbox %s: %w", m.Type, err)
	}
	return nil
}
