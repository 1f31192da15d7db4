package application

import (
	"context"

	"github.com/dmehra2102/storefront-payments/internal/inventory/domain"
)

type ProductRepository interface {
	// GetProducts returns the products that exist, keyed by id. Missing ids
	// are simply absent from the map.
	GetProducts(ctx context.Context, ids []string) (map[string]domain.Product, error)
}
