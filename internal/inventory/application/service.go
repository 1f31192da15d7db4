package application

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/dmehra2102/storefront-payments/internal/inventory/domain"
)

// Guard is a pre-check, not a lock: two buyers can both pass it for the last
// unit. The decrement happens when payment is confirmed.
type Guard struct {
	log    *slog.Logger
	repo   ProductRepository
	tracer trace.Tracer
}

func NewGuard(log *slog.Logger, repo ProductRepository) *Guard {
	return &Guard{log: log, repo: repo, tracer: otel.Tracer("inventory-guard")}
}

// Check validates every line against current stock and returns the products
// in the order of the merged lines. The batch fails on the first bad line.
func (g *Guard) Check(ctx context.Context, lines []domain.StockLine) ([]domain.Product, error) {
	ctx, span := g.tracer.Start(ctx, "Guard.Check")
	defer span.End()

	if len(lines) == 0 {
		return nil, domain.ErrEmptyOrder
	}
	for _, l := range lines {
		if l.Quantity <= 0 || l.Quantity > domain.MaxLineQuantity {
			return nil, fmt.Errorf("%w: product %s quantity %d", domain.ErrInvalidQuantity, l.ProductID, l.Quantity)
		}
	}

	merged := domain.MergeLines(lines)
	span.SetAttributes(attribute.Int("inventory.lines", len(merged)))

	ids := make([]string, 0, len(merged))
	for _, l := range merged {
		ids = append(ids, l.ProductID)
	}
	products, err := g.repo.GetProducts(ctx, ids)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("load products: %w", err)
	}

	out := make([]domain.Product, 0, len(merged))
	for _, l := range merged {
		p, ok := products[l.ProductID]
		if !ok {
			return nil, &domain.ProductNotFoundError{ProductID: l.ProductID}
		}
		if l.Quantity > p.AvailableStock {
			g.log.Info("stock check rejected", "product_id", p.ID, "available", p.AvailableStock, "requested", l.Quantity)
			return nil, &domain.InsufficientStockError{
				ProductID: p.ID,
				Name:      p.Name,
				Available: p.AvailableStock,
				Requested: l.Quantity,
			}
		}
		out = append(out, p)
	}
	return out, nil
}
