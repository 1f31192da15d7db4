package application

import (
	"context"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dmehra2102/storefront-payments/internal/order/domain"
	paydomain "github.com/dmehra2102/storefront-payments/internal/payment/domain"
)

// memRepo serialises every call behind one mutex, which stands in for the
// row lock the postgres repository takes.
type memRepo struct {
	mu         sync.Mutex
	orders     map[string]domain.Order
	history    map[string][]domain.StatusChange
	outbox     []string
	createErr  error
	dupNumbers int
	creates    int
}

func newMemRepo() *memRepo {
	return &memRepo{
		orders:  map[string]domain.Order{},
		history: map[string][]domain.StatusChange{},
	}
}

func (r *memRepo) Create(_ context.Context, o domain.Order, initial domain.StatusChange) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.creates++
	if r.createErr != nil {
		return r.createErr
	}
	if r.dupNumbers > 0 {
		r.dupNumbers--
		return domain.ErrDuplicateOrderNumber
	}
	r.orders[o.ID] = o
	r.history[o.ID] = []domain.StatusChange{initial}
	r.outbox = append(r.outbox, domain.EventTypeOrderCreated)
	return nil
}

func (r *memRepo) Get(_ context.Context, id string) (domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[id]
	if !ok {
		return domain.Order{}, domain.ErrNotFound
	}
	return o, nil
}

func (r *memRepo) History(_ context.Context, id string) ([]domain.StatusChange, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.StatusChange(nil), r.history[id]...), nil
}

func (r *memRepo) Apply(_ context.Context, id string, ev domain.Event, note, intentID string) (domain.Order, domain.Transition, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[id]
	if !ok {
		return domain.Order{}, domain.Transition{}, domain.ErrNotFound
	}
	now := time.Now().UTC()
	t, err := o.Apply(ev, now)
	if err != nil {
		return domain.Order{}, domain.Transition{}, err
	}
	if !t.Changed {
		return o, t, nil
	}
	if intentID != "" && o.PaymentIntentID == nil {
		o.PaymentIntentID = &intentID
	}
	r.orders[id] = o
	r.history[id] = append(r.history[id], domain.ChangeFor(id, t, note, now))
	switch {
	case t.NewlyPaid():
		r.outbox = append(r.outbox, domain.EventTypeOrderPaid)
	case t.NewlyFailed():
		r.outbox = append(r.outbox, domain.EventTypePaymentFailed)
	}
	return o, t, nil
}

func (r *memRepo) AttachPaymentIntent(_ context.Context, id, intentID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[id]
	if !ok {
		return domain.ErrNotFound
	}
	if o.PaymentIntentID != nil && *o.PaymentIntentID != intentID {
		return domain.ErrIntentConflict
	}
	o.PaymentIntentID = &intentID
	r.orders[id] = o
	return nil
}

func (r *memRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.orders)
}

type fakeGateway struct {
	mu        sync.Mutex
	created   []paydomain.OrderRef
	amounts   []decimal.Decimal
	intents   map[string]paydomain.Authorization
	createErr error
	nextID    int
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{intents: map[string]paydomain.Authorization{}}
}

func (g *fakeGateway) CreateAuthorization(_ context.Context, amount decimal.Decimal, ref paydomain.OrderRef, _ string) (paydomain.Authorization, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.createErr != nil {
		return paydomain.Authorization{}, g.createErr
	}
	cents, err := paydomain.ToMinorUnits(amount)
	if err != nil {
		return paydomain.Authorization{}, err
	}
	g.nextID++
	id := "pi_" + strconv.Itoa(g.nextID)
	auth := paydomain.Authorization{
		IntentID:     id,
		ClientSecret: id + "_secret",
		Status:       "requires_payment_method",
		AmountCents:  cents,
		Metadata:     map[string]string{paydomain.MetadataOrderID: ref.OrderID, paydomain.MetadataOrderNumber: ref.OrderNumber},
	}
	g.created = append(g.created, ref)
	g.amounts = append(g.amounts, amount)
	g.intents[id] = auth
	return auth, nil
}

func (g *fakeGateway) RetrieveAuthorization(_ context.Context, intentID string) (paydomain.Authorization, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	auth, ok := g.intents[intentID]
	if !ok {
		return paydomain.Authorization{}, paydomain.ErrAuthorizationFailed
	}
	return auth, nil
}

func (g *fakeGateway) setStatus(intentID string, status paydomain.IntentStatus) {
	g.mu.Lock()
	defer g.mu.Unlock()
	auth := g.intents[intentID]
	auth.Status = status
	g.intents[intentID] = auth
}

type fakeRewards struct {
	mu     sync.Mutex
	grants []domain.OrderPaid
	err    error
}

func (f *fakeRewards) GrantForOrder(_ context.Context, ev domain.OrderPaid) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.grants = append(f.grants, ev)
	return f.err
}

func (f *fakeRewards) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.grants)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
