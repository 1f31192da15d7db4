package domain

import "fmt"

type OrderStatus string

const (
	StatusPaymentPending OrderStatus = "payment_pending"
	StatusProcessing     OrderStatus = "processing"
	StatusShipped        OrderStatus = "shipped"
	StatusDelivered      OrderStatus = "delivered"
	StatusPaymentFailed  OrderStatus = "payment_failed"
	StatusCancelled      OrderStatus = "cancelled"
)

// PaymentStatus is the processor-facing view of an order. It is always
// derived from OrderStatus by the transition table and never set on its own.
type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentConfirmed PaymentStatus = "confirmed"
	PaymentFailed    PaymentStatus = "failed"
)

type Event string

const (
	EventPaymentSucceeded  Event = "payment_succeeded"
	EventPaymentProcessing Event = "payment_processing"
	EventPaymentFailed     Event = "payment_failed"
	EventCancel            Event = "cancel"
	EventShip              Event = "ship"
	EventDeliver           Event = "deliver"
)

// transitions is the single source of truth for order state. A missing
// (state, event) pair is illegal; a pair mapping to the same state is an
// idempotent re-application.
var transitions = map[OrderStatus]map[Event]OrderStatus{
	StatusPaymentPending: {
		EventPaymentSucceeded:  StatusProcessing,
		EventPaymentProcessing: StatusPaymentPending,
		EventPaymentFailed:     StatusPaymentFailed,
		EventCancel:            StatusCancelled,
	},
	StatusProcessing: {
		EventPaymentSucceeded:  StatusProcessing,
		EventPaymentProcessing: StatusProcessing,
		// a failure reported after confirmation belongs to an earlier attempt
		EventPaymentFailed: StatusProcessing,
		EventCancel:        StatusCancelled,
		EventShip:          StatusShipped,
	},
	StatusShipped: {
		EventPaymentSucceeded:  StatusShipped,
		EventPaymentProcessing: StatusShipped,
		EventPaymentFailed:     StatusShipped,
		EventShip:              StatusShipped,
		EventDeliver:           StatusDelivered,
	},
	StatusDelivered: {
		EventPaymentSucceeded:  StatusDelivered,
		EventPaymentProcessing: StatusDelivered,
		EventPaymentFailed:     StatusDelivered,
		EventDeliver:           StatusDelivered,
	},
	StatusPaymentFailed: {
		EventPaymentSucceeded:  StatusProcessing,
		EventPaymentProcessing: StatusPaymentFailed,
		EventPaymentFailed:     StatusPaymentFailed,
		EventCancel:            StatusCancelled,
	},
	StatusCancelled: {
		EventPaymentSucceeded:  StatusCancelled,
		EventPaymentProcessing: StatusCancelled,
		EventPaymentFailed:     StatusCancelled,
		EventCancel:            StatusCancelled,
	},
}

// Next looks up the target state for an event.
func Next(from OrderStatus, ev Event) (OrderStatus, error) {
	row, ok := transitions[from]
	if !ok {
		return "", fmt.Errorf("%w: unknown status %q", ErrIllegalTransition, from)
	}
	to, ok := row[ev]
	if !ok {
		return "", fmt.Errorf("%w: %s on %s", ErrIllegalTransition, ev, from)
	}
	return to, nil
}

// CanTransition reports whether some event moves from into to. Self loops
// are not edges.
func CanTransition(from, to OrderStatus) bool {
	if from == to {
		return false
	}
	for _, target := range transitions[from] {
		if target == to {
			return true
		}
	}
	return false
}

func derivePaymentStatus(s OrderStatus, prev PaymentStatus) PaymentStatus {
	switch s {
	case StatusPaymentPending:
		return PaymentPending
	case StatusProcessing, StatusShipped, StatusDelivered:
		return PaymentConfirmed
	case StatusPaymentFailed:
		return PaymentFailed
	default:
		return prev
	}
}

// EventForProcessorStatus maps a raw processor status onto a ledger event.
func EventForProcessorStatus(raw string) Event {
	switch raw {
	case "succeeded":
		return EventPaymentSucceeded
	case "processing":
		return EventPaymentProcessing
	default:
		return EventPaymentFailed
	}
}

type Transition struct {
	From        OrderStatus
	To          OrderStatus
	FromPayment PaymentStatus
	ToPayment   PaymentStatus
	Changed     bool
}

// NewlyPaid is true only for the transition that first confirms payment.
func (t Transition) NewlyPaid() bool {
	return t.Changed && t.ToPayment == PaymentConfirmed && t.FromPayment != PaymentConfirmed
}

func (t Transition) NewlyFailed() bool {
	return t.Changed && t.ToPayment == PaymentFailed && t.FromPayment != PaymentFailed
}
