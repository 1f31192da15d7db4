package domain

import "errors"

var (
	ErrNotFound             = errors.New("order not found")
	ErrIllegalTransition    = errors.New("illegal order status transition")
	ErrInvalidOrder         = errors.New("invalid order")
	ErrDuplicateOrderNumber = errors.New("order number already taken")
	ErrIntentConflict       = errors.New("order already has a payment intent")
)
