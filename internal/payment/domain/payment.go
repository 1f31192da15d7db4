package domain

import (
	"errors"

	"github.com/shopspring/decimal"
)

var (
	ErrInvalidAmount        = errors.New("amount must be greater than zero")
	ErrInvalidSignature     = errors.New("webhook signature verification failed")
	ErrConfiguration        = errors.New("webhook secret is not configured")
	ErrProcessorUnavailable = errors.New("payment processor unavailable")
	ErrAuthorizationFailed  = errors.New("payment processor rejected the request")
	ErrMalformedEvent       = errors.New("malformed webhook event")
)

// Metadata keys attached to the processor's intent so webhook events can be
// matched back to an order without a lookup table.
const (
	MetadataOrderID     = "orderId"
	MetadataOrderNumber = "orderNumber"
)

const EventPaymentIntentSucceeded = "payment_intent.succeeded"

type IntentStatus string

const (
	IntentSucceeded  IntentStatus = "succeeded"
	IntentProcessing IntentStatus = "processing"
)

type OrderRef struct {
	OrderID     string
	OrderNumber string
}

type Authorization struct {
	IntentID     string
	ClientSecret string
	Status       IntentStatus
	AmountCents  int64
	Metadata     map[string]string
}

// Event is a verified processor webhook event.
type Event struct {
	ID       string
	Type     string
	IntentID string
	Status   IntentStatus
	Metadata map[string]string
}

func (e Event) OrderID() string { return e.Metadata[MetadataOrderID] }

// ToMinorUnits converts a major-unit amount to integer cents, rounding half
// up on the cent boundary.
func ToMinorUnits(amount decimal.Decimal) (int64, error) {
	if !amount.IsPositive() {
		return 0, ErrInvalidAmount
	}
	cents := amount.Shift(2).Round(0)
	if !cents.IsPositive() {
		return 0, ErrInvalidAmount
	}
	return cents.IntPart(), nil
}

func FromMinorUnits(cents int64) decimal.Decimal {
	return decimal.New(cents, -2)
}
