package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dmehra2102/storefront-payments/internal/reward/domain"
)

type Repository struct {
	log  *slog.Logger
	pool *pgxpool.Pool
}

func NewRepository(log *slog.Logger, pool *pgxpool.Pool) *Repository {
	return &Repository{log: log, pool: pool}
}

// Grant inserts the order's grant row and credits the profile in one
// transaction. The primary key on reward_grants.order_id decides which of
// several concurrent callers actually credits.
func (r *Repository) Grant(ctx context.Context, g domain.Grant) (bool, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return false, err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	ct, err := tx.Exec(ctx, `
		INSERT INTO reward_grants (order_id, user_id, points, granted_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (order_id) DO NOTHING`, g.OrderID, g.UserID, g.Points, g.GrantedAt)
	if err != nil {
		return false, fmt.Errorf("insert reward grant: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return false, tx.Commit(ctx)
	}

	ct, err = tx.Exec(ctx, `
		UPDATE profiles
		SET loyalty_points = loyalty_points + $2, updated_at = now()
		WHERE user_id = $1`, g.UserID, g.Points)
	if err != nil {
		return false, fmt.Errorf("credit profile: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return false, domain.ErrProfileNotFound
	}
	if err := tx.Commit(ctx); err != nil {
		return false, err
	}
	return true, nil
}

func (r *Repository) Balance(ctx context.Context, userID string) (int64, error) {
	var points int64
	err := r.pool.QueryRow(ctx, `SELECT loyalty_points FROM profiles WHERE user_id = $1`, userID).Scan(&points)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, domain.ErrProfileNotFound
	}
	return points, err
}
