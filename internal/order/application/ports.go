package application

import (
	"context"

	"github.com/shopspring/decimal"

	invdomain "github.com/dmehra2102/storefront-payments/internal/inventory/domain"
	"github.com/dmehra2102/storefront-payments/internal/order/domain"
	paydomain "github.com/dmehra2102/storefront-payments/internal/payment/domain"
)

type OrderRepository interface {
	// Create writes the order, its items, the initial history row and the
	// OrderCreated outbox row in one transaction. A taken order number
	// surfaces as domain.ErrDuplicateOrderNumber.
	Create(ctx context.Context, o domain.Order, initial domain.StatusChange) error
	Get(ctx context.Context, id string) (domain.Order, error)
	History(ctx context.Context, id string) ([]domain.StatusChange, error)
	// Apply locks the order row, runs the event through the transition table
	// and, only when the state changed, persists it with a history row and
	// the matching outbox event. A newly paid order also has its stock
	// decremented in the same transaction.
	Apply(ctx context.Context, id string, ev domain.Event, note, intentID string) (domain.Order, domain.Transition, error)
	// AttachPaymentIntent is a compare-and-set on an empty intent reference.
	AttachPaymentIntent(ctx context.Context, id, intentID string) error
}

type InventoryGuard interface {
	Check(ctx context.Context, lines []invdomain.StockLine) ([]invdomain.Product, error)
}

type PaymentGateway interface {
	CreateAuthorization(ctx context.Context, amount decimal.Decimal, ref paydomain.OrderRef, customerEmail string) (paydomain.Authorization, error)
	RetrieveAuthorization(ctx context.Context, intentID string) (paydomain.Authorization, error)
}

type RewardGranter interface {
	GrantForOrder(ctx context.Context, ev domain.OrderPaid) error
}
