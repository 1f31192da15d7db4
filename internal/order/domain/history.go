package domain

import (
	"fmt"
	"time"
)

type StatusChange struct {
	ID        int64
	OrderID   string
	From      *OrderStatus
	To        OrderStatus
	Note      string
	CreatedAt time.Time
}

func InitialChange(o Order, note string) StatusChange {
	return StatusChange{OrderID: o.ID, To: o.Status, Note: note, CreatedAt: o.CreatedAt}
}

func ChangeFor(orderID string, t Transition, note string, at time.Time) StatusChange {
	from := t.From
	return StatusChange{OrderID: orderID, From: &from, To: t.To, Note: note, CreatedAt: at}
}

// ValidateHistory checks that a history, read in creation order, walks the
// transition table from the initial state without skipping an edge.
func ValidateHistory(changes []StatusChange) error {
	if len(changes) == 0 {
		return nil
	}
	first := changes[0]
	if first.From != nil || first.To != StatusPaymentPending {
		return fmt.Errorf("%w: history must start at %s", ErrIllegalTransition, StatusPaymentPending)
	}
	current := first.To
	for i, c := range changes[1:] {
		if c.From == nil || *c.From != current {
			return fmt.Errorf("%w: entry %d does not continue from %s", ErrIllegalTransition, i+1, current)
		}
		if !CanTransition(current, c.To) {
			return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, current, c.To)
		}
		if c.CreatedAt.Before(changes[i].CreatedAt) {
			return fmt.Errorf("%w: entry %d goes back in time", ErrIllegalTransition, i+1)
		}
		current = c.To
	}
	return nil
}
