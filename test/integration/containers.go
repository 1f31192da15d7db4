//go:build integration

package integration

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go/modules/kafka"
	"github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/dmehra2102/storefront-payments/pkg/database"
)

type Env struct {
	PG     *postgres.PostgresContainer
	Kafka  *kafka.KafkaContainer
	Pool   *pgxpool.Pool
	PGURL  string
	KAddr  []string
	Cancel context.CancelFunc
}

// Setup starts Postgres and Kafka, applies migrations and opens a pool.
func Setup(ctx context.Context, log *slog.Logger) (*Env, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Minute)
	env := &Env{Cancel: cancel}

	pgC, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("storefront"),
		postgres.WithUsername("postgres"),
		postgres.WithPassword("postgres"),
		postgres.BasicWaitStrategies(),
	)
	if err != nil {
		cancel()
		return nil, err
	}
	env.PG = pgC

	env.PGURL, err = pgC.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		env.Teardown(context.Background())
		return nil, err
	}
	if err := database.Migrate(log, env.PGURL); err != nil {
		env.Teardown(context.Background())
		return nil, err
	}
	env.Pool, err = database.NewPool(ctx, log, database.PoolConfig{URL: env.PGURL, MaxConns: 20})
	if err != nil {
		env.Teardown(context.Background())
		return nil, err
	}

	kafkaC, err := kafka.Run(ctx,
		"confluentinc/confluent-local:7.5.0",
		kafka.WithClusterID("storefront-test"),
	)
	if err != nil {
		env.Teardown(context.Background())
		return nil, err
	}
	env.Kafka = kafkaC

	env.KAddr, err = kafkaC.Brokers(ctx)
	if err != nil {
		env.Teardown(context.Background())
		return nil, err
	}
	return env, nil
}

// Seed inserts a product and a customer profile.
func (e *Env) Seed(ctx context.Context, productID string, priceCents int64, stock int, userID string) error {
	if _, err := e.Pool.Exec(ctx, `
		INSERT INTO products (id, name, price_cents, available_stock)
		VALUES ($1, $1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET price_cents = EXCLUDED.price_cents, available_stock = EXCLUDED.available_stock`,
		productID, priceCents, stock); err != nil {
		return err
	}
	_, err := e.Pool.Exec(ctx, `INSERT INTO profiles (user_id) VALUES ($1) ON CONFLICT DO NOTHING`, userID)
	return err
}

func (e *Env) Teardown(ctx context.Context) {
	e.Cancel()
	if e.Pool != nil {
		e.Pool.Close()
	}
	if e.Kafka != nil {
		_ = e.Kafka.Terminate(ctx)
	}
	if e.PG != nil {
		_ = e.PG.Terminate(ctx)
	}
}
