package application

import (
	"context"

	"github.com/dmehra2102/storefront-payments/internal/reward/domain"
)

type GrantStore interface {
	// Grant records the grant and credits the profile atomically. It returns
	// false when the order was already granted, and domain.ErrProfileNotFound
	// without recording anything when the user has no profile.
	Grant(ctx context.Context, g domain.Grant) (bool, error)
}
