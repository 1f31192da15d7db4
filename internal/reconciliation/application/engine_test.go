package application

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	orderdomain "github.com/dmehra2102/storefront-payments/internal/order/domain"
	paydomain "github.com/dmehra2102/storefront-payments/internal/payment/domain"
	"github.com/dmehra2102/storefront-payments/pkg/metrics"
)

// fakeVerifier accepts the signature "good" and decodes nothing: the event to
// return is configured up front.
type fakeVerifier struct {
	event paydomain.Event
}

func (v fakeVerifier) VerifyEvent(_ []byte, header, secret string) (paydomain.Event, error) {
	if secret == "" {
		return paydomain.Event{}, paydomain.ErrConfiguration
	}
	if header != "good" {
		return paydomain.Event{}, fmt.Errorf("%w: bad header", paydomain.ErrInvalidSignature)
	}
	return v.event, nil
}

type fakeLedger struct {
	mu     sync.Mutex
	paid   map[string]bool
	known  map[string]bool
	calls  int
	grants int
	err    error
}

func newFakeLedger(orderIDs ...string) *fakeLedger {
	l := &fakeLedger{paid: map[string]bool{}, known: map[string]bool{}}
	for _, id := range orderIDs {
		l.known[id] = true
	}
	return l
}

func (l *fakeLedger) MarkPaidInternal(_ context.Context, orderID, _ string) (orderdomain.Order, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls++
	if l.err != nil {
		return orderdomain.Order{}, false, l.err
	}
	if !l.known[orderID] {
		return orderdomain.Order{}, false, orderdomain.ErrNotFound
	}
	o := orderdomain.Order{ID: orderID, Status: orderdomain.StatusProcessing, PaymentStatus: orderdomain.PaymentConfirmed}
	if l.paid[orderID] {
		return o, false, nil
	}
	l.paid[orderID] = true
	l.grants++
	return o, true, nil
}

type memEventLog struct {
	mu        sync.Mutex
	ids       map[string]string
	seenErr   error
	recordErr error
}

func newMemEventLog() *memEventLog { return &memEventLog{ids: map[string]string{}} }

func (m *memEventLog) Seen(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.seenErr != nil {
		return false, m.seenErr
	}
	_, ok := m.ids[id]
	return ok, nil
}

func (m *memEventLog) Record(_ context.Context, id, typ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.recordErr != nil {
		return m.recordErr
	}
	m.ids[id] = typ
	return nil
}

func discardLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func succeeded(eventID, orderID string) paydomain.Event {
	return paydomain.Event{
		ID:       eventID,
		Type:     paydomain.EventPaymentIntentSucceeded,
		IntentID: "pi_1",
		Status:   paydomain.IntentSucceeded,
		Metadata: map[string]string{paydomain.MetadataOrderID: orderID},
	}
}

func TestHandleWebhook_ProcessesSucceededOnce(t *testing.T) {
	ledger := newFakeLedger("order-1")
	events := newMemEventLog()
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	e := NewEngine(discardLogger(), fakeVerifier{event: succeeded("evt_1", "order-1")}, ledger, events, "whsec").WithMetrics(m)
	ctx := context.Background()

	outcome, err := e.HandleWebhook(ctx, []byte("{}"), "good")
	require.NoError(t, err)
	assert.Equal(t, OutcomeProcessed, outcome)

	outcome, err = e.HandleWebhook(ctx, []byte("{}"), "good")
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, outcome)

	assert.Equal(t, 1, ledger.calls)
	assert.Equal(t, 1, ledger.grants)
	assert.Equal(t, paydomain.EventPaymentIntentSucceeded, events.ids["evt_1"])
	assert.Equal(t, 1.0, testutil.ToFloat64(m.WebhookEvents.WithLabelValues(metrics.OutcomeProcessed)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.WebhookEvents.WithLabelValues(metrics.OutcomeDuplicate)))
}

func TestHandleWebhook_DistinctEventsForPaidOrderGrantOnce(t *testing.T) {
	ledger := newFakeLedger("order-1")
	events := newMemEventLog()
	ctx := context.Background()

	for _, id := range []string{"evt_1", "evt_2", "evt_3"} {
		e := NewEngine(discardLogger(), fakeVerifier{event: succeeded(id, "order-1")}, ledger, events, "whsec")
		outcome, err := e.HandleWebhook(ctx, []byte("{}"), "good")
		require.NoError(t, err)
		assert.Equal(t, OutcomeProcessed, outcome)
	}

	assert.Equal(t, 3, ledger.calls)
	assert.Equal(t, 1, ledger.grants)
}

func TestHandleWebhook_RejectsBadSignature(t *testing.T) {
	ledger := newFakeLedger("order-1")
	events := newMemEventLog()
	e := NewEngine(discardLogger(), fakeVerifier{event: succeeded("evt_1", "order-1")}, ledger, events, "whsec")

	for _, header := range []string{"", "forged"} {
		_, err := e.HandleWebhook(context.Background(), []byte("{}"), header)
		assert.ErrorIs(t, err, paydomain.ErrInvalidSignature)
	}

	assert.Zero(t, ledger.calls)
	assert.Empty(t, events.ids)
}

func TestHandleWebhook_MissingSecret(t *testing.T) {
	ledger := newFakeLedger("order-1")
	e := NewEngine(discardLogger(), fakeVerifier{event: succeeded("evt_1", "order-1")}, ledger, newMemEventLog(), "")

	_, err := e.HandleWebhook(context.Background(), []byte("{}"), "good")

	assert.ErrorIs(t, err, paydomain.ErrConfiguration)
	assert.Zero(t, ledger.calls)
}

func TestHandleWebhook_IgnoresOtherEvents(t *testing.T) {
	ledger := newFakeLedger("order-1")
	events := newMemEventLog()
	ev := paydomain.Event{ID: "evt_9", Type: "charge.refunded"}
	e := NewEngine(discardLogger(), fakeVerifier{event: ev}, ledger, events, "whsec")

	outcome, err := e.HandleWebhook(context.Background(), []byte("{}"), "good")

	require.NoError(t, err)
	assert.Equal(t, OutcomeIgnored, outcome)
	assert.Zero(t, ledger.calls)
	assert.Contains(t, events.ids, "evt_9")
}

func TestHandleWebhook_IgnoresMissingOrUnknownOrder(t *testing.T) {
	ledger := newFakeLedger("order-1")

	noMeta := succeeded("evt_a", "")
	noMeta.Metadata = nil
	e := NewEngine(discardLogger(), fakeVerifier{event: noMeta}, ledger, newMemEventLog(), "whsec")
	outcome, err := e.HandleWebhook(context.Background(), []byte("{}"), "good")
	require.NoError(t, err)
	assert.Equal(t, OutcomeIgnored, outcome)
	assert.Zero(t, ledger.calls)

	e = NewEngine(discardLogger(), fakeVerifier{event: succeeded("evt_b", "order-404")}, ledger, newMemEventLog(), "whsec")
	outcome, err = e.HandleWebhook(context.Background(), []byte("{}"), "good")
	require.NoError(t, err)
	assert.Equal(t, OutcomeIgnored, outcome)
	assert.Zero(t, ledger.grants)
}

func TestHandleWebhook_LedgerFailureIsRetryable(t *testing.T) {
	ledger := newFakeLedger("order-1")
	ledger.err = errors.New("deadlock detected")
	events := newMemEventLog()
	e := NewEngine(discardLogger(), fakeVerifier{event: succeeded("evt_1", "order-1")}, ledger, events, "whsec")

	_, err := e.HandleWebhook(context.Background(), []byte("{}"), "good")

	assert.ErrorIs(t, err, ErrLedger)
	assert.NotContains(t, events.ids, "evt_1", "a failed event must stay eligible for redelivery")

	ledger.err = nil
	outcome, err := e.HandleWebhook(context.Background(), []byte("{}"), "good")
	require.NoError(t, err)
	assert.Equal(t, OutcomeProcessed, outcome)
	assert.Equal(t, 1, ledger.grants)
}

func TestHandleWebhook_EventLogFailures(t *testing.T) {
	ledger := newFakeLedger("order-1")
	events := newMemEventLog()
	events.seenErr = errors.New("connection refused")
	e := NewEngine(discardLogger(), fakeVerifier{event: succeeded("evt_1", "order-1")}, ledger, events, "whsec")

	_, err := e.HandleWebhook(context.Background(), []byte("{}"), "good")
	assert.ErrorIs(t, err, ErrLedger)
	assert.Zero(t, ledger.calls)

	events.seenErr = nil
	events.recordErr = errors.New("disk full")
	outcome, err := e.HandleWebhook(context.Background(), []byte("{}"), "good")
	require.NoError(t, err)
	assert.Equal(t, OutcomeProcessed, outcome)
}

func TestSimulateSuccess(t *testing.T) {
	ledger := newFakeLedger("order-1")
	e := NewEngine(discardLogger(), fakeVerifier{}, ledger, newMemEventLog(), "whsec")

	_, newly, err := e.SimulateSuccess(context.Background(), "order-1")
	require.NoError(t, err)
	assert.True(t, newly)

	_, newly, err = e.SimulateSuccess(context.Background(), "order-1")
	require.NoError(t, err)
	assert.False(t, newly)

	_, _, err = e.SimulateSuccess(context.Background(), "")
	assert.ErrorIs(t, err, orderdomain.ErrNotFound)
}
