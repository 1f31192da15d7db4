package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	invdomain "github.com/dmehra2102/storefront-payments/internal/inventory/domain"
	"github.com/dmehra2102/storefront-payments/internal/order/application"
	"github.com/dmehra2102/storefront-payments/internal/order/domain"
	paydomain "github.com/dmehra2102/storefront-payments/internal/payment/domain"
	"github.com/dmehra2102/storefront-payments/pkg/httpx"
)

const maxBodyBytes = 1 << 20

type OrderService interface {
	CreateOrder(ctx context.Context, in application.CreateOrderInput) (domain.Order, error)
	GetOrder(ctx context.Context, id, ownerID string) (domain.Order, error)
	History(ctx context.Context, id, ownerID string) ([]domain.StatusChange, error)
	CreatePaymentIntent(ctx context.Context, orderID, ownerID string) (application.PaymentIntent, error)
	VerifyPayment(ctx context.Context, orderID, ownerID string) (domain.Order, error)
}

type Handler struct {
	log      *slog.Logger
	service  OrderService
	validate *validator.Validate
	tracer   trace.Tracer
}

func NewHandler(log *slog.Logger, service OrderService) *Handler {
	return &Handler{
		log:      log,
		service:  service,
		validate: validator.New(),
		tracer:   otel.Tracer("order-http"),
	}
}

type lineReq struct {
	ProductID string `json:"productId" validate:"required"`
	Quantity  int    `json:"quantity" validate:"gt=0,lte=2147483647"`
}

type createOrderReq struct {
	CustomerEmail   string         `json:"customerEmail" validate:"omitempty,email"`
	Items           []lineReq      `json:"items" validate:"required,min=1,dive"`
	ShippingAddress domain.Address `json:"shippingAddress"`
	PaymentMethod   string         `json:"paymentMethod"`
}

type itemResp struct {
	ProductID      string `json:"productId"`
	ProductName    string `json:"productName"`
	ProductImage   string `json:"productImage,omitempty"`
	Quantity       int    `json:"quantity"`
	UnitPriceCents int64  `json:"unitPriceCents"`
	SubtotalCents  int64  `json:"subtotalCents"`
}

type orderResp struct {
	ID                 string         `json:"orderId"`
	Number             string         `json:"orderNumber"`
	CustomerEmail      string         `json:"customerEmail,omitempty"`
	ShippingAddress    domain.Address `json:"shippingAddress"`
	PaymentMethod      string         `json:"paymentMethod,omitempty"`
	Items              []itemResp     `json:"items"`
	SubtotalCents      int64          `json:"subtotalCents"`
	ShippingCents      int64          `json:"shippingCents"`
	TotalCents         int64          `json:"totalCents"`
	Status             string         `json:"status"`
	PaymentStatus      string         `json:"paymentStatus"`
	PaymentIntentID    *string        `json:"paymentIntentId,omitempty"`
	CreatedAt          time.Time      `json:"createdAt"`
	UpdatedAt          time.Time      `json:"updatedAt"`
	PaymentConfirmedAt *time.Time     `json:"paymentConfirmedAt,omitempty"`
}

type historyResp struct {
	From      *string   `json:"from"`
	To        string    `json:"to"`
	Note      string    `json:"note"`
	CreatedAt time.Time `json:"createdAt"`
}

type intentResp struct {
	OrderID      string `json:"orderId"`
	IntentID     string `json:"intentId"`
	ClientSecret string `json:"clientSecret"`
}

func toOrderResp(o domain.Order) orderResp {
	items := make([]itemResp, 0, len(o.Items))
	for _, it := range o.Items {
		items = append(items, itemResp{
			ProductID:      it.ProductID,
			ProductName:    it.ProductName,
			ProductImage:   it.ProductImage,
			Quantity:       it.Quantity,
			UnitPriceCents: it.UnitPriceCents,
			SubtotalCents:  it.SubtotalCents,
		})
	}
	return orderResp{
		ID:                 o.ID,
		Number:             o.Number,
		CustomerEmail:      o.CustomerEmail,
		ShippingAddress:    o.ShippingAddress,
		PaymentMethod:      o.PaymentMethod,
		Items:              items,
		SubtotalCents:      o.SubtotalCents,
		ShippingCents:      o.ShippingCents,
		TotalCents:         o.TotalCents,
		Status:             string(o.Status),
		PaymentStatus:      string(o.PaymentStatus),
		PaymentIntentID:    o.PaymentIntentID,
		CreatedAt:          o.CreatedAt,
		UpdatedAt:          o.UpdatedAt,
		PaymentConfirmedAt: o.PaymentConfirmedAt,
	}
}

func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Post("/orders", h.createOrder)
	r.Get("/orders/{id}", h.getOrder)
	r.Get("/orders/{id}/history", h.history)
	r.Post("/orders/{id}/payment-intent", h.createPaymentIntent)
	r.Post("/orders/{id}/verify-payment", h.verifyPayment)
	return r
}

func (h *Handler) createOrder(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "CreateOrder")
	defer span.End()

	var req createOrderReq
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		httpx.Error(w, r, http.StatusBadRequest, "invalid body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.ValidationError(w, r, err)
		return
	}

	in := application.CreateOrderInput{
		CustomerEmail:   req.CustomerEmail,
		ShippingAddress: req.ShippingAddress,
		PaymentMethod:   req.PaymentMethod,
	}
	if owner := httpx.Owner(r); owner != "" {
		in.OwnerID = &owner
	}
	for _, l := range req.Items {
		in.Items = append(in.Items, application.LineInput{ProductID: l.ProductID, Quantity: l.Quantity})
	}

	o, err := h.service.CreateOrder(ctx, in)
	if err != nil {
		span.RecordError(err)
		h.writeError(w, r, err)
		return
	}
	span.SetAttributes(attribute.String("order.id", o.ID))
	httpx.JSON(w, r, http.StatusCreated, toOrderResp(o))
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.service.GetOrder(r.Context(), chi.URLParam(r, "id"), httpx.Owner(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.JSON(w, r, http.StatusOK, toOrderResp(o))
}

func (h *Handler) history(w http.ResponseWriter, r *http.Request) {
	changes, err := h.service.History(r.Context(), chi.URLParam(r, "id"), httpx.Owner(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	out := make([]historyResp, 0, len(changes))
	for _, c := range changes {
		entry := historyResp{To: string(c.To), Note: c.Note, CreatedAt: c.CreatedAt}
		if c.From != nil {
			from := string(*c.From)
			entry.From = &from
		}
		out = append(out, entry)
	}
	httpx.JSON(w, r, http.StatusOK, out)
}

func (h *Handler) createPaymentIntent(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "CreatePaymentIntent")
	defer span.End()

	pi, err := h.service.CreatePaymentIntent(ctx, chi.URLParam(r, "id"), httpx.Owner(r))
	if err != nil {
		span.RecordError(err)
		h.writeError(w, r, err)
		return
	}
	httpx.JSON(w, r, http.StatusOK, intentResp{OrderID: pi.OrderID, IntentID: pi.IntentID, ClientSecret: pi.ClientSecret})
}

func (h *Handler) verifyPayment(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "VerifyPayment")
	defer span.End()

	o, err := h.service.VerifyPayment(ctx, chi.URLParam(r, "id"), httpx.Owner(r))
	if err != nil {
		span.RecordError(err)
		h.writeError(w, r, err)
		return
	}
	httpx.JSON(w, r, http.StatusOK, toOrderResp(o))
}

// writeError maps domain failures to status codes. Messages for 403 and 5xx
// are generic.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var stockErr *invdomain.InsufficientStockError
	switch {
	case errors.Is(err, application.ErrForbidden):
		httpx.Error(w, r, http.StatusForbidden, "forbidden")
	case errors.Is(err, application.ErrNotFound):
		httpx.Error(w, r, http.StatusNotFound, "order not found")
	case errors.Is(err, invdomain.ErrProductNotFound):
		httpx.Error(w, r, http.StatusNotFound, err.Error())
	case errors.As(err, &stockErr):
		httpx.Error(w, r, http.StatusConflict, stockErr.Error())
	case errors.Is(err, invdomain.ErrInvalidQuantity),
		errors.Is(err, invdomain.ErrEmptyOrder),
		errors.Is(err, domain.ErrInvalidOrder),
		errors.Is(err, paydomain.ErrInvalidAmount):
		httpx.Error(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, application.ErrNotPayable),
		errors.Is(err, application.ErrNoPaymentIntent),
		errors.Is(err, application.ErrIntentMismatch),
		errors.Is(err, domain.ErrIllegalTransition),
		errors.Is(err, domain.ErrIntentConflict):
		httpx.Error(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, paydomain.ErrProcessorUnavailable):
		httpx.Error(w, r, http.StatusServiceUnavailable, "payment processor unavailable, retry later")
	case errors.Is(err, paydomain.ErrAuthorizationFailed):
		httpx.Error(w, r, http.StatusBadGateway, "payment processor rejected the request")
	default:
		h.log.Error("order request failed", "path", r.URL.Path, "err", err)
		httpx.Error(w, r, http.StatusInternalServerError, "internal error")
	}
}
