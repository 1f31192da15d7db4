package application

import (
	"context"

	orderdomain "github.com/dmehra2102/storefront-payments/internal/order/domain"
	paydomain "github.com/dmehra2102/storefront-payments/internal/payment/domain"
)

type Verifier interface {
	VerifyEvent(payload []byte, signatureHeader, secret string) (paydomain.Event, error)
}

type Ledger interface {
	MarkPaidInternal(ctx context.Context, orderID, source string) (orderdomain.Order, bool, error)
}

// EventLog remembers processor event ids that have been fully handled.
type EventLog interface {
	Seen(ctx context.Context, eventID string) (bool, error)
	// Record is idempotent: recording an id twice is not an error.
	Record(ctx context.Context, eventID, eventType string) error
}
