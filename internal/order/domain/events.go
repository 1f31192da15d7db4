package domain

const (
	EventTypeOrderCreated   = "OrderCreated"
	EventTypeOrderPaid      = "OrderPaid"
	EventTypePaymentFailed  = "PaymentFailed"
	EventTypeStockShortfall = "StockShortfall"
)

type OrderCreated struct {
	OrderID     string
	OrderNumber string
	OwnerID     *string
	TotalCents  int64
	Items       []OrderItem
}

type OrderPaid struct {
	OrderID         string
	OrderNumber     string
	OwnerID         *string
	TotalCents      int64
	PaymentIntentID string
}

// NewOrderPaid is the payload published and replayed for a newly paid order.
func NewOrderPaid(o Order) OrderPaid {
	ev := OrderPaid{
		OrderID:     o.ID,
		OrderNumber: o.Number,
		OwnerID:     o.OwnerID,
		TotalCents:  o.TotalCents,
	}
	if o.PaymentIntentID != nil {
		ev.PaymentIntentID = *o.PaymentIntentID
	}
	return ev
}

type PaymentFailedEvent struct {
	OrderID         string
	PaymentIntentID string
}

type StockShortfall struct {
	OrderID   string
	ProductID string
	Requested int
}
