package postgres

import (
	"context"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dmehra2102/storefront-payments/internal/inventory/domain"
)

type Repository struct {
	log  *slog.Logger
	pool *pgxpool.Pool
}

func NewRepository(log *slog.Logger, pool *pgxpool.Pool) *Repository {
	return &Repository{
		log:  log,
		pool: pool,
	}
}

func (r *Repository) GetProducts(ctx context.Context, ids []string) (map[string]domain.Product, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, name, image_url, price_cents, available_stock
		FROM products
		WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]domain.Product, len(ids))
	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.ID, &p.Name, &p.ImageURL, &p.PriceCents, &p.AvailableStock); err != nil {
			return nil, err
		}
		out[p.ID] = p
	}
	return out, rows.Err()
}

// DecrementIfAvailable runs inside the caller's transaction. Each line is a
// conditional decrement; lines that would drive stock negative are left
// untouched and reported back.
func (r *Repository) DecrementIfAvailable(ctx context.Context, tx pgx.Tx, lines []domain.StockLine) ([]domain.Shortfall, error) {
	var shortfalls []domain.Shortfall
	for _, l := range domain.MergeLines(lines) {
		ct, err := tx.Exec(ctx, `
			UPDATE products
			SET available_stock = available_stock - $2, updated_at = now()
			WHERE id = $1 AND available_stock >= $2`, l.ProductID, l.Quantity)
		if err != nil {
			return nil, err
		}
		if ct.RowsAffected() == 0 {
			r.log.Warn("stock shortfall on paid order", "product_id", l.ProductID, "requested", l.Quantity)
			shortfalls = append(shortfalls, domain.Shortfall{ProductID: l.ProductID, Requested: l.Quantity})
		}
	}
	return shortfalls, nil
}
