package main

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	rewardapp "github.com/dmehra2102/storefront-payments/internal/reward/application"
	rewardkafka "github.com/dmehra2102/storefront-payments/internal/reward/infrastructure/kafka"
	rewardpg "github.com/dmehra2102/storefront-payments/internal/reward/infrastructure/postgres"
	"github.com/dmehra2102/storefront-payments/pkg/config"
	"github.com/dmehra2102/storefront-payments/pkg/database"
	"github.com/dmehra2102/storefront-payments/pkg/idempotency"
	"github.com/dmehra2102/storefront-payments/pkg/logging"
	"github.com/dmehra2102/storefront-payments/pkg/metrics"
	"github.com/dmehra2102/storefront-payments/pkg/shutdown"
	"github.com/dmehra2102/storefront-payments/pkg/tracing"
)

func main() {
	config.LoadDotEnv()
	cfg, err := config.LoadReward()
	if err != nil {
		logging.New("info").Error("config load failed", "err", err)
		os.Exit(1)
	}
	log := logging.New(cfg.LogLevel)

	ctx, cancel := shutdown.WithSignals(context.Background())
	defer cancel()

	tp, err := tracing.Init(ctx, "reward-service", cfg.Tracing.Endpoint, log)
	if err != nil {
		log.Error("otel init failed", "err", err)
		os.Exit(1)
	}
	defer func() { _ = tp.Shutdown(context.Background()) }()

	pool, err := database.NewPool(ctx, log, database.PoolConfig{URL: cfg.Postgres.URL, MaxConns: cfg.Postgres.MaxConns})
	if err != nil {
		log.Error("pg connect failed", "err", err)
		os.Exit(1)
	}
	defer pool.Close()

	rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
	defer rdb.Close()
	idem := idempotency.NewStore(rdb, cfg.ConsumerGroup, cfg.Redis.DedupTTL)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	svc := rewardapp.NewService(log, rewardpg.NewRepository(log, pool), cfg.Rewards.PointsPerDollar).WithMetrics(m)
	reader := rewardkafka.NewReader(cfg.Kafka.Brokers, cfg.Kafka.Topic, cfg.ConsumerGroup)
	consumer := rewardkafka.NewConsumer(log, reader, svc, idem)

	srv := &http.Server{
		Addr:              cfg.MetricsAddr,
		Handler:           promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := shutdown.Serve(ctx, log, srv, 5*time.Second); err != nil {
			log.Error("metrics server error", "err", err)
		}
	}()

	log.Info("reward consumer started", "topic", cfg.Kafka.Topic, "group", cfg.ConsumerGroup)
	if err := consumer.Run(ctx); err != nil {
		log.Error("consumer stopped with error", "err", err)
	}
	log.Info("reward-service shutdown complete")
}
