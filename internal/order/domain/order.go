package domain

import (
	"fmt"
	"time"
)

type Address struct {
	Name       string `json:"name"`
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
}

type Order struct {
	ID                 string
	Number             string
	OwnerID            *string
	CustomerEmail      string
	ShippingAddress    Address
	PaymentMethod      string
	Items              []OrderItem
	SubtotalCents      int64
	ShippingCents      int64
	TotalCents         int64
	Status             OrderStatus
	PaymentStatus      PaymentStatus
	PaymentIntentID    *string
	Version            int
	CreatedAt          time.Time
	UpdatedAt          time.Time
	PaymentConfirmedAt *time.Time
}

// OrderItem is a purchase-time snapshot; later catalog edits never reach it.
type OrderItem struct {
	ProductID      string
	ProductName    string
	ProductImage   string
	Quantity       int
	UnitPriceCents int64
	SubtotalCents  int64
}

func NewOrderItem(productID, name, image string, quantity int, unitPriceCents int64) OrderItem {
	return OrderItem{
		ProductID:      productID,
		ProductName:    name,
		ProductImage:   image,
		Quantity:       quantity,
		UnitPriceCents: unitPriceCents,
		SubtotalCents:  unitPriceCents * int64(quantity),
	}
}

type NewOrderParams struct {
	ID              string
	Number          string
	OwnerID         *string
	CustomerEmail   string
	ShippingAddress Address
	PaymentMethod   string
	Items           []OrderItem
	ShippingCents   int64
}

func NewOrder(p NewOrderParams, now time.Time) (Order, error) {
	var subtotal int64
	for _, item := range p.Items {
		subtotal += item.SubtotalCents
	}
	o := Order{
		ID:              p.ID,
		Number:          p.Number,
		OwnerID:         p.OwnerID,
		CustomerEmail:   p.CustomerEmail,
		ShippingAddress: p.ShippingAddress,
		PaymentMethod:   p.PaymentMethod,
		Items:           p.Items,
		SubtotalCents:   subtotal,
		ShippingCents:   p.ShippingCents,
		TotalCents:      subtotal + p.ShippingCents,
		Status:          StatusPaymentPending,
		PaymentStatus:   PaymentPending,
		Version:         1,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := o.Validate(); err != nil {
		return Order{}, err
	}
	return o, nil
}

func (o Order) Validate() error {
	if len(o.Items) == 0 {
		return fmt.Errorf("%w: no items", ErrInvalidOrder)
	}
	if o.ShippingCents < 0 {
		return fmt.Errorf("%w: negative shipping", ErrInvalidOrder)
	}
	var subtotal int64
	for _, item := range o.Items {
		if item.Quantity <= 0 {
			return fmt.Errorf("%w: item %s has quantity %d", ErrInvalidOrder, item.ProductID, item.Quantity)
		}
		if item.UnitPriceCents < 0 {
			return fmt.Errorf("%w: item %s has negative price", ErrInvalidOrder, item.ProductID)
		}
		if item.SubtotalCents != item.UnitPriceCents*int64(item.Quantity) {
			return fmt.Errorf("%w: item %s subtotal mismatch", ErrInvalidOrder, item.ProductID)
		}
		subtotal += item.SubtotalCents
	}
	if subtotal != o.SubtotalCents {
		return fmt.Errorf("%w: subtotal mismatch", ErrInvalidOrder)
	}
	if o.TotalCents != o.SubtotalCents+o.ShippingCents {
		return fmt.Errorf("%w: total mismatch", ErrInvalidOrder)
	}
	return nil
}

// OwnedBy is false for guest orders: nobody owns them.
func (o Order) OwnedBy(ownerID string) bool {
	return o.OwnerID != nil && ownerID != "" && *o.OwnerID == ownerID
}

func (o Order) IsPaid() bool { return o.PaymentStatus == PaymentConfirmed }

// Apply moves the order through the transition table. Re-applying an event
// that leaves the state unchanged does not touch the order.
func (o *Order) Apply(ev Event, now time.Time) (Transition, error) {
	to, err := Next(o.Status, ev)
	if err != nil {
		return Transition{}, err
	}
	t := Transition{
		From:        o.Status,
		To:          to,
		FromPayment: o.PaymentStatus,
		ToPayment:   derivePaymentStatus(to, o.PaymentStatus),
	}
	if to == o.Status {
		t.ToPayment = o.PaymentStatus
		return t, nil
	}
	t.Changed = true
	o.Status = to
	o.PaymentStatus = t.ToPayment
	o.UpdatedAt = now
	o.Version++
	if t.NewlyPaid() {
		confirmed := now
		o.PaymentConfirmedAt = &confirmed
	}
	return t, nil
}
