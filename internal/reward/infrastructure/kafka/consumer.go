package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	orderdomain "github.com/dmehra2102/storefront-payments/internal/order/domain"
	"github.com/dmehra2102/storefront-payments/internal/reward/domain"
	"github.com/dmehra2102/storefront-payments/pkg/outbox"
	"github.com/dmehra2102/storefront-payments/pkg/tracing"
)

const grantAttempts = 3

type Reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Granter interface {
	GrantForOrder(ctx context.Context, ev orderdomain.OrderPaid) error
}

type Deduper interface {
	Key(topic string, partition int, offset int64) string
	Seen(ctx context.Context, key string) (bool, error)
	Release(ctx context.Context, key string) error
}

// Consumer replays OrderPaid events into the reward ledger, recovering grants
// whose synchronous attempt at payment time failed. A grant already on the
// ledger is a no-op.
type Consumer struct {
	log     *slog.Logger
	reader  Reader
	granter Granter
	idem    Deduper
	backoff time.Duration
	tracer  trace.Tracer
}

func NewReader(brokers []string, topic, group string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers: brokers,
		Topic:   topic,
		GroupID: group,
	})
}

func NewConsumer(log *slog.Logger, reader Reader, granter Granter, idem Deduper) *Consumer {
	return &Consumer{
		log:     log,
		reader:  reader,
		granter: granter,
		idem:    idem,
		backoff: 500 * time.Millisecond,
		tracer:  otel.Tracer("reward-consumer"),
	}
}

func (c *Consumer) Run(ctx context.Context) error {
	defer c.reader.Close()
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return err
		}
		c.Handle(ctx, msg)
		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			c.log.Error("commit failed", "topic", msg.Topic, "offset", msg.Offset, "err", err)
		}
	}
}

// Handle processes one message. It never fails the stream: poison messages
// and missing profiles are logged and skipped.
func (c *Consumer) Handle(ctx context.Context, msg kafka.Message) {
	if headerValue(msg.Headers, outbox.HeaderEventType) != orderdomain.EventTypeOrderPaid {
		return
	}

	key := c.idem.Key(msg.Topic, msg.Partition, msg.Offset)
	seen, err := c.idem.Seen(ctx, key)
	if err != nil {
		// the ledger is idempotent on its own, so carry on without dedup
		c.log.Warn("idempotency check failed", "key", key, "err", err)
	}
	if seen {
		c.log.Info("duplicate message skipped", "key", key)
		return
	}

	msgCtx := tracing.ExtractKafkaHeaders(ctx, msg.Headers)
	msgCtx, span := c.tracer.Start(msgCtx, "ConsumeOrderPaid")
	defer span.End()

	var ev orderdomain.OrderPaid
	if err := json.Unmarshal(msg.Value, &ev); err != nil || ev.OrderID == "" {
		c.log.Error("undecodable OrderPaid event", "offset", msg.Offset, "err", err)
		return
	}

	for attempt := 1; ; attempt++ {
		err = c.granter.GrantForOrder(msgCtx, ev)
		if err == nil || errors.Is(err, domain.ErrProfileNotFound) {
			return
		}
		c.log.Warn("reward replay failed", "order_id", ev.OrderID, "attempt", attempt, "err", err)
		if attempt == grantAttempts || ctx.Err() != nil {
			break
		}
		select {
		case <-ctx.Done():
		case <-time.After(c.backoff * time.Duration(attempt)):
		}
	}

	span.RecordError(err)
	c.log.Error("reward replay gave up", "order_id", ev.OrderID, "err", err)
	if relErr := c.idem.Release(ctx, key); relErr != nil {
		c.log.Warn("release idempotency key failed", "key", key, "err", relErr)
	}
}

func headerValue(h []kafka.Header, key string) string {
	for _, hh := range h {
		if hh.Key == key {
			return string(hh.Value)
		}
	}
	return ""
}
