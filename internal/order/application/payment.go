package application

import (
	"context"
	"errors"
	"fmt"

	"github.com/dmehra2102/storefront-payments/internal/order/domain"
	paydomain "github.com/dmehra2102/storefront-payments/internal/payment/domain"
)

var (
	ErrNotPayable      = errors.New("order is not awaiting payment")
	ErrNoPaymentIntent = errors.New("order has no payment intent")
	ErrIntentMismatch  = errors.New("payment intent belongs to a different order")
)

type PaymentIntent struct {
	OrderID      string
	IntentID     string
	ClientSecret string
}

// canPay lets the owner, or anyone holding a guest order's id, pay for it.
func canPay(o domain.Order, ownerID string) bool {
	return o.OwnerID == nil || o.OwnedBy(ownerID)
}

// CreatePaymentIntent requests at most one authorization per order: an
// attached intent is retrieved and reused instead of creating another.
func (s *Service) CreatePaymentIntent(ctx context.Context, orderID, ownerID string) (PaymentIntent, error) {
	ctx, span := s.tracer.Start(ctx, "Service.CreatePaymentIntent")
	defer span.End()

	o, err := s.repo.Get(ctx, orderID)
	if err != nil {
		return PaymentIntent{}, err
	}
	if !canPay(o, ownerID) {
		return PaymentIntent{}, ErrForbidden
	}
	if o.Status != domain.StatusPaymentPending && o.Status != domain.StatusPaymentFailed {
		return PaymentIntent{}, fmt.Errorf("%w: status %s", ErrNotPayable, o.Status)
	}

	if o.PaymentIntentID != nil {
		auth, err := s.gateway.RetrieveAuthorization(ctx, *o.PaymentIntentID)
		if err != nil {
			return PaymentIntent{}, err
		}
		return PaymentIntent{OrderID: o.ID, IntentID: auth.IntentID, ClientSecret: auth.ClientSecret}, nil
	}

	auth, err := s.gateway.CreateAuthorization(ctx, paydomain.FromMinorUnits(o.TotalCents),
		paydomain.OrderRef{OrderID: o.ID, OrderNumber: o.Number}, o.CustomerEmail)
	if err != nil {
		span.RecordError(err)
		s.log.Warn("create authorization failed", "order_id", o.ID, "err", err)
		return PaymentIntent{}, err
	}

	if err := s.repo.AttachPaymentIntent(ctx, o.ID, auth.IntentID); err != nil {
		s.log.Error("attach payment intent failed", "order_id", o.ID, "intent_id", auth.IntentID, "err", err)
		return PaymentIntent{}, err
	}
	return PaymentIntent{OrderID: o.ID, IntentID: auth.IntentID, ClientSecret: auth.ClientSecret}, nil
}

// VerifyPayment is the polling counterpart of the webhook: it asks the
// processor for the intent's current status and applies it.
func (s *Service) VerifyPayment(ctx context.Context, orderID, ownerID string) (domain.Order, error) {
	ctx, span := s.tracer.Start(ctx, "Service.VerifyPayment")
	defer span.End()

	o, err := s.repo.Get(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	if !canPay(o, ownerID) {
		return domain.Order{}, ErrForbidden
	}
	if o.PaymentIntentID == nil {
		return domain.Order{}, ErrNoPaymentIntent
	}

	auth, err := s.gateway.RetrieveAuthorization(ctx, *o.PaymentIntentID)
	if err != nil {
		return domain.Order{}, err
	}
	if id := auth.Metadata[paydomain.MetadataOrderID]; id != "" && id != o.ID {
		s.log.Error("payment intent metadata does not match order", "order_id", o.ID, "intent_id", auth.IntentID, "metadata_order_id", id)
		return domain.Order{}, ErrIntentMismatch
	}
	return s.TransitionPaymentStatus(ctx, o.ID, string(auth.Status), auth.IntentID)
}
