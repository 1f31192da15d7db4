package domain

import (
	"errors"
	"time"
)

var ErrProfileNotFound = errors.New("profile not found")

// Grant is the single loyalty award an order can ever produce.
type Grant struct {
	OrderID   string
	UserID    string
	Points    int64
	GrantedAt time.Time
}

// Points converts an order total in cents to loyalty points, rounding down to
// whole points.
func Points(totalCents, pointsPerDollar int64) int64 {
	if totalCents <= 0 || pointsPerDollar <= 0 {
		return 0
	}
	return totalCents * pointsPerDollar / 100
}
