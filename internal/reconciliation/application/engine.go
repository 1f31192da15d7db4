package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	orderdomain "github.com/dmehra2102/storefront-payments/internal/order/domain"
	paydomain "github.com/dmehra2102/storefront-payments/internal/payment/domain"
	"github.com/dmehra2102/storefront-payments/pkg/metrics"
)

type Outcome string

const (
	OutcomeProcessed Outcome = "processed"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeIgnored   Outcome = "ignored"
)

var ErrLedger = errors.New("ledger update failed")

type Engine struct {
	log      *slog.Logger
	verifier Verifier
	ledger   Ledger
	events   EventLog
	secret   string
	metrics  *metrics.Metrics
	tracer   trace.Tracer
}

func NewEngine(log *slog.Logger, verifier Verifier, ledger Ledger, events EventLog, secret string) *Engine {
	return &Engine{
		log:      log,
		verifier: verifier,
		ledger:   ledger,
		events:   events,
		secret:   secret,
		tracer:   otel.Tracer("reconciliation-engine"),
	}
}

func (e *Engine) WithMetrics(m *metrics.Metrics) *Engine {
	e.metrics = m
	return e
}

// HandleWebhook turns one processor delivery into at most one ledger
// transition. A nil error means the delivery may be acknowledged; an error
// wrapping ErrLedger asks the processor to redeliver.
func (e *Engine) HandleWebhook(ctx context.Context, payload []byte, signatureHeader string) (Outcome, error) {
	ctx, span := e.tracer.Start(ctx, "Engine.HandleWebhook")
	defer span.End()

	ev, err := e.verifier.VerifyEvent(payload, signatureHeader, e.secret)
	if err != nil {
		switch {
		case errors.Is(err, paydomain.ErrConfiguration):
			e.log.Error("webhook secret is not configured, refusing delivery")
			e.count(metrics.OutcomeError)
		case errors.Is(err, paydomain.ErrInvalidSignature):
			e.log.Warn("security: webhook signature rejected", "err", err, "bytes", len(payload))
			e.count(metrics.OutcomeInvalidSignature)
		default:
			e.log.Warn("webhook payload rejected", "err", err)
			e.count(metrics.OutcomeError)
		}
		return "", err
	}
	span.SetAttributes(attribute.String("webhook.event_id", ev.ID), attribute.String("webhook.event_type", ev.Type))

	seen, err := e.events.Seen(ctx, ev.ID)
	if err != nil {
		e.count(metrics.OutcomeError)
		return "", fmt.Errorf("%w: check event %s: %w", ErrLedger, ev.ID, err)
	}
	if seen {
		e.log.Info("duplicate webhook event acknowledged", "event_id", ev.ID, "type", ev.Type)
		e.count(metrics.OutcomeDuplicate)
		return OutcomeDuplicate, nil
	}

	if ev.Type != paydomain.EventPaymentIntentSucceeded {
		e.log.Info("webhook event ignored", "event_id", ev.ID, "type", ev.Type)
		return e.finish(ctx, ev, OutcomeIgnored), nil
	}

	orderID := ev.OrderID()
	if orderID == "" {
		e.log.Warn("payment succeeded without order metadata", "event_id", ev.ID, "intent_id", ev.IntentID)
		return e.finish(ctx, ev, OutcomeIgnored), nil
	}
	span.SetAttributes(attribute.String("order.id", orderID))

	o, newlyPaid, err := e.ledger.MarkPaidInternal(ctx, orderID, "webhook event "+ev.ID)
	if errors.Is(err, orderdomain.ErrNotFound) {
		e.log.Warn("payment succeeded for unknown order", "event_id", ev.ID, "order_id", orderID, "intent_id", ev.IntentID)
		return e.finish(ctx, ev, OutcomeIgnored), nil
	}
	if err != nil {
		span.RecordError(err)
		e.log.Error("webhook ledger update failed", "event_id", ev.ID, "order_id", orderID, "err", err)
		e.count(metrics.OutcomeError)
		return "", fmt.Errorf("%w: %w", ErrLedger, err)
	}

	e.log.Info("webhook payment reconciled", "event_id", ev.ID, "order_id", o.ID, "newly_paid", newlyPaid, "status", o.Status)
	return e.finish(ctx, ev, OutcomeProcessed), nil
}

// finish records the event id. The ledger change is already committed and
// idempotent, so a failed record only costs a redundant redelivery.
func (e *Engine) finish(ctx context.Context, ev paydomain.Event, outcome Outcome) Outcome {
	if err := e.events.Record(ctx, ev.ID, ev.Type); err != nil {
		e.log.Error("record webhook event failed", "event_id", ev.ID, "err", err)
	}
	e.count(string(outcome))
	return outcome
}

// SimulateSuccess marks an order paid without a processor event. Only mounted
// for development.
func (e *Engine) SimulateSuccess(ctx context.Context, orderID string) (orderdomain.Order, bool, error) {
	if orderID == "" {
		return orderdomain.Order{}, false, orderdomain.ErrNotFound
	}
	e.log.Warn("simulating payment success", "order_id", orderID)
	return e.ledger.MarkPaidInternal(ctx, orderID, "dev simulation")
}

func (e *Engine) count(outcome string) {
	if e.metrics != nil {
		e.metrics.WebhookEvents.WithLabelValues(outcome).Inc()
	}
}
