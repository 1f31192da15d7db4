package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	invdomain "github.com/dmehra2102/storefront-payments/internal/inventory/domain"
	"github.com/dmehra2102/storefront-payments/internal/order/domain"
	"github.com/dmehra2102/storefront-payments/pkg/outbox"
)

const (
	aggregateOrder          = "order"
	orderNumberConstraint   = "orders_order_number_key"
	uniqueViolation         = "23505"
	paymentIntentConstraint = "orders_payment_intent_id_key"
)

// StockDecrementer is the inventory side of a paid transition. It runs in the
// order's transaction.
type StockDecrementer interface {
	DecrementIfAvailable(ctx context.Context, tx pgx.Tx, lines []invdomain.StockLine) ([]invdomain.Shortfall, error)
}

type Repository struct {
	log   *slog.Logger
	pool  *pgxpool.Pool
	stock StockDecrementer
}

func NewRepository(log *slog.Logger, pool *pgxpool.Pool, stock StockDecrementer) *Repository {
	return &Repository{log: log, pool: pool, stock: stock}
}

func (r *Repository) Create(ctx context.Context, o domain.Order, initial domain.StatusChange) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	_, err = tx.Exec(ctx, `
		INSERT INTO orders (id, order_number, owner_id, customer_email, shipping_address, payment_method,
			subtotal_cents, shipping_cents, total_cents, status, payment_status, version, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`,
		o.ID, o.Number, o.OwnerID, o.CustomerEmail, o.ShippingAddress, o.PaymentMethod,
		o.SubtotalCents, o.ShippingCents, o.TotalCents, o.Status, o.PaymentStatus, o.Version, o.CreatedAt, o.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err, orderNumberConstraint) {
			return domain.ErrDuplicateOrderNumber
		}
		return fmt.Errorf("insert order: %w", err)
	}

	batch := &pgx.Batch{}
	for _, item := range o.Items {
		batch.Queue(`
			INSERT INTO order_items (order_id, product_id, product_name, product_image, quantity, unit_price_cents, subtotal_cents)
			VALUES ($1,$2,$3,$4,$5,$6,$7)`,
			o.ID, item.ProductID, item.ProductName, item.ProductImage, item.Quantity, item.UnitPriceCents, item.SubtotalCents)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("insert order items: %w", err)
	}

	if err := insertChange(ctx, tx, initial); err != nil {
		return err
	}

	err = outbox.Enqueue(ctx, tx, outbox.Message{
		AggregateType: aggregateOrder,
		AggregateID:   o.ID,
		Type:          domain.EventTypeOrderCreated,
		Payload: domain.OrderCreated{
			OrderID:     o.ID,
			OrderNumber: o.Number,
			OwnerID:     o.OwnerID,
			TotalCents:  o.TotalCents,
			Items:       o.Items,
		},
	})
	if err != nil {
		return err
	}
	return tx.Commit(ctx)
}

const selectOrder = `
	SELECT id, order_number, owner_id, customer_email, shipping_address, payment_method,
		subtotal_cents, shipping_cents, total_cents, status, payment_status, payment_intent_id,
		version, created_at, updated_at, payment_confirmed_at
	FROM orders WHERE id = $1`

func scanOrder(row pgx.Row) (domain.Order, error) {
	var o domain.Order
	err := row.Scan(&o.ID, &o.Number, &o.OwnerID, &o.CustomerEmail, &o.ShippingAddress, &o.PaymentMethod,
		&o.SubtotalCents, &o.ShippingCents, &o.TotalCents, &o.Status, &o.PaymentStatus, &o.PaymentIntentID,
		&o.Version, &o.CreatedAt, &o.UpdatedAt, &o.PaymentConfirmedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Order{}, domain.ErrNotFound
	}
	return o, err
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func loadItems(ctx context.Context, q querier, orderID string) ([]domain.OrderItem, error) {
	rows, err := q.Query(ctx, `
		SELECT product_id, product_name, product_image, quantity, unit_price_cents, subtotal_cents
		FROM order_items WHERE order_id = $1 ORDER BY id`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []domain.OrderItem
	for rows.Next() {
		var item domain.OrderItem
		if err := rows.Scan(&item.ProductID, &item.ProductName, &item.ProductImage, &item.Quantity, &item.UnitPriceCents, &item.SubtotalCents); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (r *Repository) Get(ctx context.Context, id string) (domain.Order, error) {
	if !isUUID(id) {
		return domain.Order{}, domain.ErrNotFound
	}
	o, err := scanOrder(r.pool.QueryRow(ctx, selectOrder, id))
	if err != nil {
		return domain.Order{}, err
	}
	if o.Items, err = loadItems(ctx, r.pool, id); err != nil {
		return domain.Order{}, err
	}
	return o, nil
}

func (r *Repository) History(ctx context.Context, id string) ([]domain.StatusChange, error) {
	if !isUUID(id) {
		return nil, domain.ErrNotFound
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id, order_id, from_status, to_status, note, created_at
		FROM order_status_history WHERE order_id = $1 ORDER BY id`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.StatusChange
	for rows.Next() {
		var c domain.StatusChange
		if err := rows.Scan(&c.ID, &c.OrderID, &c.From, &c.To, &c.Note, &c.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// Apply serialises every status change of one order behind its row lock, so a
// webhook and a client poll racing on the same order see each other's writes.
func (r *Repository) Apply(ctx context.Context, id string, ev domain.Event, note, intentID string) (domain.Order, domain.Transition, error) {
	if !isUUID(id) {
		return domain.Order{}, domain.Transition{}, domain.ErrNotFound
	}
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return domain.Order{}, domain.Transition{}, err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	o, err := scanOrder(tx.QueryRow(ctx, selectOrder+" FOR UPDATE", id))
	if err != nil {
		return domain.Order{}, domain.Transition{}, err
	}
	if o.Items, err = loadItems(ctx, tx, id); err != nil {
		return domain.Order{}, domain.Transition{}, err
	}

	now := time.Now().UTC()
	t, err := o.Apply(ev, now)
	if err != nil {
		return domain.Order{}, domain.Transition{}, err
	}
	if !t.Changed {
		return o, t, tx.Commit(ctx)
	}
	if intentID != "" && o.PaymentIntentID == nil {
		o.PaymentIntentID = &intentID
	}

	_, err = tx.Exec(ctx, `
		UPDATE orders
		SET status = $2, payment_status = $3, payment_intent_id = $4, payment_confirmed_at = $5,
			version = $6, updated_at = $7
		WHERE id = $1`,
		o.ID, o.Status, o.PaymentStatus, o.PaymentIntentID, o.PaymentConfirmedAt, o.Version, o.UpdatedAt)
	if err != nil {
		return domain.Order{}, domain.Transition{}, fmt.Errorf("update order: %w", err)
	}

	switch {
	case t.NewlyPaid():
		shortfalls, err := r.consumeStock(ctx, tx, o)
		if err != nil {
			return domain.Order{}, domain.Transition{}, err
		}
		if len(shortfalls) > 0 {
			note += "; stock shortfall on " + shortfallList(shortfalls)
		}
		if err := outbox.Enqueue(ctx, tx, paidMessage(o)); err != nil {
			return domain.Order{}, domain.Transition{}, err
		}
	case t.NewlyFailed():
		err := outbox.Enqueue(ctx, tx, outbox.Message{
			AggregateType: aggregateOrder,
			AggregateID:   o.ID,
			Type:          domain.EventTypePaymentFailed,
			Payload:       domain.PaymentFailedEvent{OrderID: o.ID, PaymentIntentID: intentID},
		})
		if err != nil {
			return domain.Order{}, domain.Transition{}, err
		}
	}

	if err := insertChange(ctx, tx, domain.ChangeFor(o.ID, t, note, now)); err != nil {
		return domain.Order{}, domain.Transition{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return domain.Order{}, domain.Transition{}, err
	}
	return o, t, nil
}

// consumeStock decrements stock for a newly paid order. A shortfall does not
// undo the payment; it is published for an operator to resolve.
func (r *Repository) consumeStock(ctx context.Context, tx pgx.Tx, o domain.Order) ([]invdomain.Shortfall, error) {
	if r.stock == nil {
		return nil, nil
	}
	lines := make([]invdomain.StockLine, 0, len(o.Items))
	for _, item := range o.Items {
		lines = append(lines, invdomain.StockLine{ProductID: item.ProductID, Quantity: item.Quantity})
	}
	shortfalls, err := r.stock.DecrementIfAvailable(ctx, tx, lines)
	if err != nil {
		return nil, fmt.Errorf("decrement stock: %w", err)
	}
	for _, s := range shortfalls {
		r.log.Warn("paid order could not be fully fulfilled", "order_id", o.ID, "product_id", s.ProductID, "requested", s.Requested)
		err := outbox.Enqueue(ctx, tx, outbox.Message{
			AggregateType: aggregateOrder,
			AggregateID:   o.ID,
			Type:          domain.EventTypeStockShortfall,
			Payload:       domain.StockShortfall{OrderID: o.ID, ProductID: s.ProductID, Requested: s.Requested},
		})
		if err != nil {
			return nil, err
		}
	}
	return shortfalls, nil
}

func paidMessage(o domain.Order) outbox.Message {
	return outbox.Message{
		AggregateType: aggregateOrder,
		AggregateID:   o.ID,
		Type:          domain.EventTypeOrderPaid,
		Payload:       domain.NewOrderPaid(o),
	}
}

func (r *Repository) AttachPaymentIntent(ctx context.Context, id, intentID string) error {
	if !isUUID(id) {
		return domain.ErrNotFound
	}
	ct, err := r.pool.Exec(ctx, `
		UPDATE orders SET payment_intent_id = $2, updated_at = now()
		WHERE id = $1 AND (payment_intent_id IS NULL OR payment_intent_id = $2)`, id, intentID)
	if err != nil {
		if isUniqueViolation(err, paymentIntentConstraint) {
			return domain.ErrIntentConflict
		}
		return err
	}
	if ct.RowsAffected() == 1 {
		return nil
	}

	var exists bool
	if err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)`, id).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return domain.ErrNotFound
	}
	r.log.Warn("order already has a different payment intent", "order_id", id, "intent_id", intentID)
	return domain.ErrIntentConflict
}

func insertChange(ctx context.Context, tx pgx.Tx, c domain.StatusChange) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO order_status_history (order_id, from_status, to_status, note, created_at)
		VALUES ($1, $2, $3, $4, GREATEST($5, clock_timestamp()))`,
		c.OrderID, c.From, c.To, c.Note, c.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert status history: %w", err)
	}
	return nil
}

func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation && pgErr.ConstraintName == constraint
}

func shortfallList(s []invdomain.Shortfall) string {
	parts := make([]string, 0, len(s))
	for _, sf := range s {
		parts = append(parts, fmt.Sprintf("%s x%d", sf.ProductID, sf.Requested))
	}
	return strings.Join(parts, ", ")
}

// isUUID keeps malformed ids from reaching a uuid column, where they would
// surface as a cast error instead of not found.
func isUUID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}
