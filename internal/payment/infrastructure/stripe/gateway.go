package stripe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker/v2"
	stripego "github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"github.com/stripe/stripe-go/v76/webhook"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/dmehra2102/storefront-payments/internal/payment/domain"
	"github.com/dmehra2102/storefront-payments/pkg/metrics"
)

type Config struct {
	SecretKey string
	Currency  string
	Timeout   time.Duration
	// BaseURL overrides the processor endpoint; empty means production.
	BaseURL string
	Metrics *metrics.Metrics
}

type Gateway struct {
	log      *slog.Logger
	api      *client.API
	currency string
	timeout  time.Duration
	breaker  *gobreaker.CircuitBreaker[*stripego.PaymentIntent]
	metrics  *metrics.Metrics
	tracer   trace.Tracer
}

func NewGateway(log *slog.Logger, cfg Config) *Gateway {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Currency == "" {
		cfg.Currency = string(stripego.CurrencyUSD)
	}

	backendCfg := &stripego.BackendConfig{
		HTTPClient:        &http.Client{Timeout: cfg.Timeout},
		MaxNetworkRetries: stripego.Int64(0),
	}
	if cfg.BaseURL != "" {
		backendCfg.URL = stripego.String(cfg.BaseURL)
	}
	api := &client.API{}
	api.Init(cfg.SecretKey, &stripego.Backends{
		API:     stripego.GetBackendWithConfig(stripego.APIBackend, backendCfg),
		Connect: stripego.GetBackendWithConfig(stripego.ConnectBackend, backendCfg),
		Uploads: stripego.GetBackendWithConfig(stripego.UploadsBackend, backendCfg),
	})

	breaker := gobreaker.NewCircuitBreaker[*stripego.PaymentIntent](gobreaker.Settings{
		Name:    "payment-processor",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !retryable(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("circuit breaker state changed", "name", name, "from", from.String(), "to", to.String())
		},
	})

	return &Gateway{
		log:      log,
		api:      api,
		currency: cfg.Currency,
		timeout:  cfg.Timeout,
		breaker:  breaker,
		metrics:  cfg.Metrics,
		tracer:   otel.Tracer("payment-gateway"),
	}
}

// CreateAuthorization creates a payment intent for the order. The processor
// idempotency key is derived from the order id, so repeating the call for the
// same order returns the same intent instead of a second authorization.
func (g *Gateway) CreateAuthorization(ctx context.Context, amount decimal.Decimal, ref domain.OrderRef, customerEmail string) (domain.Authorization, error) {
	ctx, span := g.tracer.Start(ctx, "Gateway.CreateAuthorization", trace.WithAttributes(attribute.String("order.id", ref.OrderID)))
	defer span.End()

	cents, err := domain.ToMinorUnits(amount)
	if err != nil {
		return domain.Authorization{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	params := &stripego.PaymentIntentParams{
		Amount:   stripego.Int64(cents),
		Currency: stripego.String(g.currency),
		AutomaticPaymentMethods: &stripego.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripego.Bool(true),
		},
	}
	if customerEmail != "" {
		params.ReceiptEmail = stripego.String(customerEmail)
	}
	params.Context = ctx
	params.AddMetadata(domain.MetadataOrderID, ref.OrderID)
	params.AddMetadata(domain.MetadataOrderNumber, ref.OrderNumber)
	params.SetIdempotencyKey("order-" + ref.OrderID)

	pi, err := g.breaker.Execute(func() (*stripego.PaymentIntent, error) {
		return g.api.PaymentIntents.New(params)
	})
	g.observe("create", err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "create intent failed")
		return domain.Authorization{}, g.classify("create intent", ref.OrderID, err)
	}

	g.log.Info("payment intent created", "order_id", ref.OrderID, "intent_id", pi.ID, "amount_cents", cents)
	return toAuthorization(pi), nil
}

func (g *Gateway) RetrieveAuthorization(ctx context.Context, intentID string) (domain.Authorization, error) {
	ctx, span := g.tracer.Start(ctx, "Gateway.RetrieveAuthorization", trace.WithAttributes(attribute.String("payment.intent_id", intentID)))
	defer span.End()

	if intentID == "" {
		return domain.Authorization{}, fmt.Errorf("%w: empty intent id", domain.ErrAuthorizationFailed)
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	params := &stripego.PaymentIntentParams{}
	params.Context = ctx

	pi, err := g.breaker.Execute(func() (*stripego.PaymentIntent, error) {
		return g.api.PaymentIntents.Get(intentID, params)
	})
	g.observe("retrieve", err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "retrieve intent failed")
		return domain.Authorization{}, g.classify("retrieve intent", "", err)
	}
	return toAuthorization(pi), nil
}

// VerifyEvent checks the signature over the exact request bytes before
// anything in the payload is trusted.
func (g *Gateway) VerifyEvent(payload []byte, signatureHeader, secret string) (domain.Event, error) {
	if secret == "" {
		return domain.Event{}, domain.ErrConfiguration
	}
	if signatureHeader == "" {
		return domain.Event{}, fmt.Errorf("%w: missing signature header", domain.ErrInvalidSignature)
	}
	if err := webhook.ValidatePayloadWithTolerance(payload, signatureHeader, secret, webhook.DefaultTolerance); err != nil {
		return domain.Event{}, fmt.Errorf("%w: %v", domain.ErrInvalidSignature, err)
	}

	var ev stripego.Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		return domain.Event{}, fmt.Errorf("%w: %v", domain.ErrMalformedEvent, err)
	}
	if ev.ID == "" || ev.Type == "" {
		return domain.Event{}, fmt.Errorf("%w: missing id or type", domain.ErrMalformedEvent)
	}

	out := domain.Event{ID: ev.ID, Type: string(ev.Type)}
	if strings.HasPrefix(out.Type, "payment_intent.") && ev.Data != nil && len(ev.Data.Raw) > 0 {
		var pi stripego.PaymentIntent
		if err := json.Unmarshal(ev.Data.Raw, &pi); err != nil {
			return domain.Event{}, fmt.Errorf("%w: payment intent: %v", domain.ErrMalformedEvent, err)
		}
		out.IntentID = pi.ID
		out.Status = domain.IntentStatus(pi.Status)
		out.Metadata = pi.Metadata
	}
	return out, nil
}

func (g *Gateway) observe(op string, err error) {
	if g.metrics == nil {
		return
	}
	result := "ok"
	switch {
	case err == nil:
	case retryable(err):
		result = "unavailable"
	default:
		result = "rejected"
	}
	g.metrics.ProcessorRequests.WithLabelValues(op, result).Inc()
}

func (g *Gateway) classify(op, orderID string, err error) error {
	if retryable(err) {
		g.log.Error("payment processor unavailable", "op", op, "order_id", orderID, "err", err)
		return fmt.Errorf("%w: %s: %v", domain.ErrProcessorUnavailable, op, err)
	}
	g.log.Warn("payment processor rejected request", "op", op, "order_id", orderID, "err", err)
	return fmt.Errorf("%w: %s: %v", domain.ErrAuthorizationFailed, op, err)
}

// retryable is true for failures where the same request may succeed later:
// timeouts, transport errors, processor 5xx and rate limits, open breaker.
func retryable(err error) bool {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return true
	}
	var se *stripego.Error
	if errors.As(err, &se) {
		return se.HTTPStatusCode >= 500 || se.HTTPStatusCode == http.StatusTooManyRequests || se.Type == stripego.ErrorTypeAPI
	}
	return true
}

func toAuthorization(pi *stripego.PaymentIntent) domain.Authorization {
	return domain.Authorization{
		IntentID:     pi.ID,
		ClientSecret: pi.ClientSecret,
		Status:       domain.IntentStatus(pi.Status),
		AmountCents:  pi.Amount,
		Metadata:     pi.Metadata,
	}
}
