package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	invdomain "github.com/dmehra2102/storefront-payments/internal/inventory/domain"
	"github.com/dmehra2102/storefront-payments/internal/order/domain"
	"github.com/dmehra2102/storefront-payments/pkg/metrics"
)

var (
	ErrOrderCreationFailed = errors.New("order creation failed")
	ErrForbidden           = errors.New("forbidden")
	ErrNotFound            = domain.ErrNotFound
)

const orderNumberAttempts = 3

type LineInput struct {
	ProductID string
	Quantity  int
}

type CreateOrderInput struct {
	OwnerID         *string
	CustomerEmail   string
	Items           []LineInput
	ShippingAddress domain.Address
	PaymentMethod   string
}

type Service struct {
	log           *slog.Logger
	repo          OrderRepository
	guard         InventoryGuard
	gateway       PaymentGateway
	rewards       RewardGranter
	shippingCents int64
	now           func() time.Time
	metrics       *metrics.Metrics
	tracer        trace.Tracer
}

func NewService(log *slog.Logger, repo OrderRepository, guard InventoryGuard, gateway PaymentGateway, rewards RewardGranter, shippingCents int64) *Service {
	return &Service{
		log:           log,
		repo:          repo,
		guard:         guard,
		gateway:       gateway,
		rewards:       rewards,
		shippingCents: shippingCents,
		now:           func() time.Time { return time.Now().UTC() },
		tracer:        otel.Tracer("order-service"),
	}
}

func (s *Service) WithMetrics(m *metrics.Metrics) *Service {
	s.metrics = m
	return s
}

// CreateOrder checks stock, snapshots the products and persists the order in
// payment_pending. Every failure, a stock rejection included, is reported as
// ErrOrderCreationFailed wrapping the cause.
func (s *Service) CreateOrder(ctx context.Context, in CreateOrderInput) (domain.Order, error) {
	ctx, span := s.tracer.Start(ctx, "Service.CreateOrder")
	defer span.End()

	lines := make([]invdomain.StockLine, 0, len(in.Items))
	for _, item := range in.Items {
		lines = append(lines, invdomain.StockLine{ProductID: item.ProductID, Quantity: item.Quantity})
	}

	products, err := s.guard.Check(ctx, lines)
	if err != nil {
		span.RecordError(err)
		return domain.Order{}, fmt.Errorf("%w: %w", ErrOrderCreationFailed, err)
	}

	merged := invdomain.MergeLines(lines)
	items := make([]domain.OrderItem, 0, len(merged))
	for i, l := range merged {
		p := products[i]
		items = append(items, domain.NewOrderItem(p.ID, p.Name, p.ImageURL, l.Quantity, p.PriceCents))
	}

	for attempt := 1; attempt <= orderNumberAttempts; attempt++ {
		now := s.now()
		o, err := domain.NewOrder(domain.NewOrderParams{
			ID:              uuid.NewString(),
			Number:          domain.NewOrderNumber(now),
			OwnerID:         in.OwnerID,
			CustomerEmail:   in.CustomerEmail,
			ShippingAddress: in.ShippingAddress,
			PaymentMethod:   in.PaymentMethod,
			Items:           items,
			ShippingCents:   s.shippingCents,
		}, now)
		if err != nil {
			return domain.Order{}, fmt.Errorf("%w: %w", ErrOrderCreationFailed, err)
		}

		err = s.repo.Create(ctx, o, domain.InitialChange(o, "order created"))
		if errors.Is(err, domain.ErrDuplicateOrderNumber) {
			s.log.Warn("order number collision, regenerating", "order_number", o.Number, "attempt", attempt)
			continue
		}
		if err != nil {
			span.RecordError(err)
			return domain.Order{}, fmt.Errorf("%w: %w", ErrOrderCreationFailed, err)
		}

		span.SetAttributes(attribute.String("order.id", o.ID), attribute.Int64("order.total_cents", o.TotalCents))
		s.log.Info("order created", "order_id", o.ID, "order_number", o.Number, "total_cents", o.TotalCents)
		return o, nil
	}
	return domain.Order{}, fmt.Errorf("%w: %w", ErrOrderCreationFailed, domain.ErrDuplicateOrderNumber)
}

// GetOrder is an authorization boundary: an order that exists but belongs to
// someone else is reported as forbidden, never returned.
func (s *Service) GetOrder(ctx context.Context, id, ownerID string) (domain.Order, error) {
	o, err := s.repo.Get(ctx, id)
	if err != nil {
		return domain.Order{}, err
	}
	if !o.OwnedBy(ownerID) {
		return domain.Order{}, ErrForbidden
	}
	return o, nil
}

func (s *Service) History(ctx context.Context, id, ownerID string) ([]domain.StatusChange, error) {
	if _, err := s.GetOrder(ctx, id, ownerID); err != nil {
		return nil, err
	}
	return s.repo.History(ctx, id)
}

// TransitionPaymentStatus applies a raw processor status. Re-applying the
// same terminal outcome is a no-op.
func (s *Service) TransitionPaymentStatus(ctx context.Context, orderID, processorStatus, intentID string) (domain.Order, error) {
	ev := domain.EventForProcessorStatus(processorStatus)
	note := fmt.Sprintf("processor reported %q for payment intent %s", processorStatus, intentID)
	o, _, err := s.apply(ctx, orderID, ev, note, intentID)
	return o, err
}

// MarkPaidInternal is the privileged path used by the webhook engine and dev
// tooling. newlyPaid is true only for the call that actually flipped the
// order to paid, and only that call grants the reward.
func (s *Service) MarkPaidInternal(ctx context.Context, orderID, source string) (domain.Order, bool, error) {
	o, t, err := s.apply(ctx, orderID, domain.EventPaymentSucceeded, "payment confirmed via "+source, "")
	if err != nil {
		return domain.Order{}, false, err
	}
	return o, t.NewlyPaid(), nil
}

func (s *Service) Cancel(ctx context.Context, orderID, reason string) (domain.Order, error) {
	o, _, err := s.apply(ctx, orderID, domain.EventCancel, "cancelled: "+reason, "")
	return o, err
}

func (s *Service) apply(ctx context.Context, orderID string, ev domain.Event, note, intentID string) (domain.Order, domain.Transition, error) {
	ctx, span := s.tracer.Start(ctx, "Service.Apply", trace.WithAttributes(
		attribute.String("order.id", orderID),
		attribute.String("order.event", string(ev)),
	))
	defer span.End()

	o, t, err := s.repo.Apply(ctx, orderID, ev, note, intentID)
	if err != nil {
		span.RecordError(err)
		return domain.Order{}, domain.Transition{}, err
	}
	if !t.Changed {
		s.log.Info("order transition is a no-op", "order_id", orderID, "event", ev, "status", o.Status)
		return o, t, nil
	}

	s.log.Info("order transitioned", "order_id", orderID, "event", ev, "from", t.From, "to", t.To, "payment_status", t.ToPayment)
	if s.metrics != nil {
		s.metrics.OrderTransitions.WithLabelValues(string(t.To)).Inc()
	}
	if t.NewlyPaid() {
		s.grantReward(ctx, o)
	}
	return o, t, nil
}

// grantReward is best effort: the payment is already committed and a failed
// grant is replayed from the OrderPaid outbox event.
func (s *Service) grantReward(ctx context.Context, o domain.Order) {
	if s.rewards == nil {
		return
	}
	if err := s.rewards.GrantForOrder(ctx, domain.NewOrderPaid(o)); err != nil {
		s.log.Warn("reward grant failed", "order_id", o.ID, "err", err)
	}
}
