package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	orderdomain "github.com/dmehra2102/storefront-payments/internal/order/domain"
	paydomain "github.com/dmehra2102/storefront-payments/internal/payment/domain"
	"github.com/dmehra2102/storefront-payments/internal/reconciliation/application"
	"github.com/dmehra2102/storefront-payments/pkg/httpx"
)

// maxPayloadBytes bounds a webhook body; processor events are far smaller.
const maxPayloadBytes = 64 << 10

const DefaultSignatureHeader = "Stripe-Signature"

type Engine interface {
	HandleWebhook(ctx context.Context, payload []byte, signatureHeader string) (application.Outcome, error)
	SimulateSuccess(ctx context.Context, orderID string) (orderdomain.Order, bool, error)
}

type Handler struct {
	log             *slog.Logger
	engine          Engine
	signatureHeader string
	validate        *validator.Validate
}

func NewHandler(log *slog.Logger, engine Engine, signatureHeader string) *Handler {
	if signatureHeader == "" {
		signatureHeader = DefaultSignatureHeader
	}
	return &Handler{log: log, engine: engine, signatureHeader: signatureHeader, validate: validator.New()}
}

// Routes mounts the webhook. The simulate route is added only when devTools
// is set; callers decide that from the environment.
func (h *Handler) Routes(devTools bool) http.Handler {
	r := chi.NewRouter()
	r.Post("/webhooks/payment", h.webhook)
	if devTools {
		r.Post("/payments/dev/simulate-success", h.simulate)
	}
	return r
}

type ackResp struct {
	Received bool   `json:"received"`
	Outcome  string `json:"outcome,omitempty"`
}

func (h *Handler) webhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxPayloadBytes))
	if err != nil {
		httpx.Error(w, r, http.StatusRequestEntityTooLarge, "payload too large")
		return
	}

	outcome, err := h.engine.HandleWebhook(r.Context(), payload, r.Header.Get(h.signatureHeader))
	switch {
	case err == nil:
		httpx.JSON(w, r, http.StatusOK, ackResp{Received: true, Outcome: string(outcome)})
	case errors.Is(err, paydomain.ErrConfiguration):
		httpx.Error(w, r, http.StatusBadRequest, "webhook secret is not configured for this environment")
	case errors.Is(err, paydomain.ErrInvalidSignature):
		httpx.Error(w, r, http.StatusBadRequest, "invalid signature")
	case errors.Is(err, paydomain.ErrMalformedEvent):
		httpx.Error(w, r, http.StatusBadRequest, "malformed event")
	default:
		httpx.Error(w, r, http.StatusInternalServerError, "webhook processing failed")
	}
}

type simulateReq struct {
	OrderID string `json:"orderId" validate:"required"`
}

type simulateResp struct {
	OrderID       string `json:"orderId"`
	Status        string `json:"status"`
	PaymentStatus string `json:"paymentStatus"`
	NewlyPaid     bool   `json:"newlyPaid"`
}

func (h *Handler) simulate(w http.ResponseWriter, r *http.Request) {
	var req simulateReq
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxPayloadBytes)).Decode(&req); err != nil {
		httpx.Error(w, r, http.StatusBadRequest, "invalid body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.ValidationError(w, r, err)
		return
	}

	o, newly, err := h.engine.SimulateSuccess(r.Context(), req.OrderID)
	switch {
	case errors.Is(err, orderdomain.ErrNotFound):
		httpx.Error(w, r, http.StatusNotFound, "order not found")
		return
	case errors.Is(err, orderdomain.ErrIllegalTransition):
		httpx.Error(w, r, http.StatusConflict, err.Error())
		return
	case err != nil:
		h.log.Error("simulate payment failed", "order_id", req.OrderID, "err", err)
		httpx.Error(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	httpx.JSON(w, r, http.StatusOK, simulateResp{
		OrderID:       o.ID,
		Status:        string(o.Status),
		PaymentStatus: string(o.PaymentStatus),
		NewlyPaid:     newly,
	})
}
