//go:build integration

package integration

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v76/webhook"

	invapp "github.com/dmehra2102/storefront-payments/internal/inventory/application"
	invdomain "github.com/dmehra2102/storefront-payments/internal/inventory/domain"
	invpg "github.com/dmehra2102/storefront-payments/internal/inventory/infrastructure/postgres"
	"github.com/dmehra2102/storefront-payments/internal/order/application"
	orderdomain "github.com/dmehra2102/storefront-payments/internal/order/domain"
	orderkafka "github.com/dmehra2102/storefront-payments/internal/order/infrastructure/kafka"
	orderpg "github.com/dmehra2102/storefront-payments/internal/order/infrastructure/postgres"
	paystripe "github.com/dmehra2102/storefront-payments/internal/payment/infrastructure/stripe"
	reconapp "github.com/dmehra2102/storefront-payments/internal/reconciliation/application"
	reconpg "github.com/dmehra2102/storefront-payments/internal/reconciliation/infrastructure/postgres"
	rewardapp "github.com/dmehra2102/storefront-payments/internal/reward/application"
	rewardpg "github.com/dmehra2102/storefront-payments/internal/reward/infrastructure/postgres"
	"github.com/dmehra2102/storefront-payments/pkg/outbox"
)

const (
	webhookSecret = "whsec_integration"
	topic         = "order.events"
)

var env *Env

func TestMain(m *testing.M) {
	ctx := context.Background()
	var err error
	env, err = Setup(ctx, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		slog.Error("integration setup failed", "err", err)
		os.Exit(1)
	}
	code := m.Run()
	env.Teardown(ctx)
	os.Exit(code)
}

type stack struct {
	orders  *application.Service
	engine  *reconapp.Engine
	rewards *rewardpg.Repository
}

func newStack() *stack {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	inv := invpg.NewRepository(log, env.Pool)
	rewards := rewardpg.NewRepository(log, env.Pool)
	gateway := paystripe.NewGateway(log, paystripe.Config{SecretKey: "sk_test_unused"})
	svc := application.NewService(log, orderpg.NewRepository(log, env.Pool, inv), invapp.NewGuard(log, inv), gateway,
		rewardapp.NewService(log, rewards, 10), 0)
	return &stack{
		orders:  svc,
		engine:  reconapp.NewEngine(log, gateway, svc, reconpg.NewEventLog(log, env.Pool), webhookSecret),
		rewards: rewards,
	}
}

func succeededEvent(eventID, orderID string) ([]byte, string) {
	payload := []byte(`{"id":"` + eventID + `","object":"event","type":"payment_intent.succeeded","data":{"object":{"id":"pi_` + eventID + `","object":"payment_intent","status":"succeeded","amount":10000,"metadata":{"orderId":"` + orderID + `"}}}}`)
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{Payload: payload, Secret: webhookSecret, Timestamp: time.Now()})
	return payload, signed.Header
}

func stockOf(t *testing.T, productID string) int {
	t.Helper()
	var n int
	require.NoError(t, env.Pool.QueryRow(context.Background(), `SELECT available_stock FROM products WHERE id = $1`, productID).Scan(&n))
	return n
}

func TestCheckout_WebhookReplayGrantsOnce(t *testing.T) {
	ctx := context.Background()
	require.NoError(t, env.Seed(ctx, "lamp-e2e", 10000, 3, "alice"))
	s := newStack()
	alice := "alice"

	o, err := s.orders.CreateOrder(ctx, application.CreateOrderInput{
		OwnerID: &alice,
		Items:   []application.LineInput{{ProductID: "lamp-e2e", Quantity: 1}},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(10000), o.TotalCents)
	assert.Equal(t, orderdomain.StatusPaymentPending, o.Status)

	payload, sig := succeededEvent("evt_e2e_1", o.ID)
	for i := 0; i < 3; i++ {
		_, err := s.engine.HandleWebhook(ctx, payload, sig)
		require.NoError(t, err)
	}
	payload, sig = succeededEvent("evt_e2e_2", o.ID)
	_, err = s.engine.HandleWebhook(ctx, payload, sig)
	require.NoError(t, err)

	got, err := s.orders.GetOrder(ctx, o.ID, alice)
	require.NoError(t, err)
	assert.Equal(t, orderdomain.StatusProcessing, got.Status)
	assert.Equal(t, orderdomain.PaymentConfirmed, got.PaymentStatus)
	require.NotNil(t, got.PaymentConfirmedAt)

	points, err := s.rewards.Balance(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), points)
	assert.Equal(t, 2, stockOf(t, "lamp-e2e"))

	history, err := s.orders.History(ctx, o.ID, alice)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, orderdomain.StatusProcessing, history[1].To)
	assert.NoError(t, orderdomain.ValidateHistory(history))
}

func countRows(t *testing.T, table string) int {
	t.Helper()
	var n int
	require.NoError(t, env.Pool.QueryRow(context.Background(), `SELECT count(*) FROM `+table).Scan(&n))
	return n
}

func TestCheckout_RejectedBatchWritesNothing(t *testing.T) {
	ctx := context.Background()
	require.NoError(t, env.Seed(ctx, "pen-e2e", 300, 5, "dave"))
	require.NoError(t, env.Seed(ctx, "bag-e2e", 4000, 1, "dave"))
	s := newStack()
	dave := "dave"

	tables := []string{"orders", "order_items", "order_status_history", "outbox"}
	before := map[string]int{}
	for _, table := range tables {
		before[table] = countRows(t, table)
	}

	_, err := s.orders.CreateOrder(ctx, application.CreateOrderInput{
		OwnerID: &dave,
		Items: []application.LineInput{
			{ProductID: "pen-e2e", Quantity: 1},
			{ProductID: "bag-e2e", Quantity: 2},
		},
	})
	var stockErr *invdomain.InsufficientStockError
	require.ErrorAs(t, err, &stockErr)
	assert.Equal(t, "bag-e2e", stockErr.ProductID)

	for _, table := range tables {
		assert.Equal(t, before[table], countRows(t, table), table)
	}
	assert.Equal(t, 5, stockOf(t, "pen-e2e"))
	assert.Equal(t, 1, stockOf(t, "bag-e2e"))

	o, err := s.orders.CreateOrder(ctx, application.CreateOrderInput{
		OwnerID: &dave,
		Items:   []application.LineInput{{ProductID: "pen-e2e", Quantity: 1}},
	})
	require.NoError(t, err)

	_, err = s.orders.GetOrder(ctx, o.ID, "mallory")
	assert.ErrorIs(t, err, application.ErrForbidden)
	_, err = s.orders.History(ctx, o.ID, "")
	assert.ErrorIs(t, err, application.ErrForbidden)

	history, err := s.orders.History(ctx, o.ID, dave)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Nil(t, history[0].From)
	assert.NoError(t, orderdomain.ValidateHistory(history))
}

func TestCheckout_ConcurrentConfirmationsGrantOnce(t *testing.T) {
	ctx := context.Background()
	require.NoError(t, env.Seed(ctx, "chair-e2e", 2500, 10, "bob"))
	s := newStack()
	bob := "bob"

	o, err := s.orders.CreateOrder(ctx, application.CreateOrderInput{
		OwnerID: &bob,
		Items:   []application.LineInput{{ProductID: "chair-e2e", Quantity: 2}},
	})
	require.NoError(t, err)

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		newly int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, paid, err := s.orders.MarkPaidInternal(ctx, o.ID, "race")
			assert.NoError(t, err)
			if paid {
				mu.Lock()
				newly++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, newly)
	points, err := s.rewards.Balance(ctx, bob)
	require.NoError(t, err)
	assert.Equal(t, int64(500), points)
	assert.Equal(t, 8, stockOf(t, "chair-e2e"))
}

func TestOutboxRelay_PublishesOrderPaid(t *testing.T) {
	ctx := context.Background()
	require.NoError(t, env.Seed(ctx, "desk-e2e", 30000, 1, "carol"))
	s := newStack()
	carol := "carol"

	o, err := s.orders.CreateOrder(ctx, application.CreateOrderInput{
		OwnerID: &carol,
		Items:   []application.LineInput{{ProductID: "desk-e2e", Quantity: 1}},
	})
	require.NoError(t, err)
	_, _, err = s.orders.MarkPaidInternal(ctx, o.ID, "test")
	require.NoError(t, err)

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	writer := orderkafka.NewWriter(env.KAddr)
	defer writer.Close()
	relay := outbox.NewRelay(log, orderpg.NewOutboxStore(log, env.Pool), outbox.NewDispatcher(log, writer, topic), "it-relay")

	require.Eventually(t, func() bool {
		if _, err := relay.Tick(ctx); err != nil {
			return false
		}
		var unsent int
		err := env.Pool.QueryRow(ctx, `SELECT count(*) FROM outbox WHERE aggregate_id = $1 AND status <> $2`, o.ID, string(outbox.StatusSent)).Scan(&unsent)
		return err == nil && unsent == 0
	}, 30*time.Second, 200*time.Millisecond)

	reader := kafka.NewReader(kafka.ReaderConfig{Brokers: env.KAddr, Topic: topic, Partition: 0, MaxWait: 500 * time.Millisecond})
	defer reader.Close()

	readCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	for {
		msg, err := reader.ReadMessage(readCtx)
		require.NoError(t, err)
		if string(msg.Key) != o.ID || headerOf(msg, outbox.HeaderEventType) != orderdomain.EventTypeOrderPaid {
			continue
		}
		var ev orderdomain.OrderPaid
		require.NoError(t, json.Unmarshal(msg.Value, &ev))
		assert.Equal(t, int64(30000), ev.TotalCents)
		require.NotNil(t, ev.OwnerID)
		assert.Equal(t, carol, *ev.OwnerID)
		return
	}
}

func headerOf(msg kafka.Message, key string) string {
	for _, h := range msg.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}
