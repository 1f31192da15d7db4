package main

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	invapp "github.com/dmehra2102/storefront-payments/internal/inventory/application"
	invpg "github.com/dmehra2102/storefront-payments/internal/inventory/infrastructure/postgres"
	"github.com/dmehra2102/storefront-payments/internal/order/application"
	orderhttp "github.com/dmehra2102/storefront-payments/internal/order/infrastructure/http"
	orderkafka "github.com/dmehra2102/storefront-payments/internal/order/infrastructure/kafka"
	orderpg "github.com/dmehra2102/storefront-payments/internal/order/infrastructure/postgres"
	paystripe "github.com/dmehra2102/storefront-payments/internal/payment/infrastructure/stripe"
	reconapp "github.com/dmehra2102/storefront-payments/internal/reconciliation/application"
	reconhttp "github.com/dmehra2102/storefront-payments/internal/reconciliation/infrastructure/http"
	reconpg "github.com/dmehra2102/storefront-payments/internal/reconciliation/infrastructure/postgres"
	rewardapp "github.com/dmehra2102/storefront-payments/internal/reward/application"
	rewardpg "github.com/dmehra2102/storefront-payments/internal/reward/infrastructure/postgres"
	"github.com/dmehra2102/storefront-payments/pkg/config"
	"github.com/dmehra2102/storefront-payments/pkg/database"
	"github.com/dmehra2102/storefront-payments/pkg/logging"
	"github.com/dmehra2102/storefront-payments/pkg/metrics"
	"github.com/dmehra2102/storefront-payments/pkg/outbox"
	"github.com/dmehra2102/storefront-payments/pkg/shutdown"
	"github.com/dmehra2102/storefront-payments/pkg/tracing"
)

func main() {
	config.LoadDotEnv()
	cfg, err := config.LoadCheckout()
	if err != nil {
		logging.New("info").Error("config load failed", "err", err)
		os.Exit(1)
	}
	log := logging.New(cfg.LogLevel)

	ctx, cancel := shutdown.WithSignals(context.Background())
	defer cancel()

	tp, err := tracing.Init(ctx, "checkout-service", cfg.Tracing.Endpoint, log)
	if err != nil {
		log.Error("otel init failed", "err", err)
		os.Exit(1)
	}
	defer func() { _ = tp.Shutdown(context.Background()) }()

	if cfg.Postgres.Migrate {
		if err := database.Migrate(log, cfg.Postgres.URL); err != nil {
			log.Error("migrations failed", "err", err)
			os.Exit(1)
		}
	}
	pool, err := database.NewPool(ctx, log, database.PoolConfig{URL: cfg.Postgres.URL, MaxConns: cfg.Postgres.MaxConns})
	if err != nil {
		log.Error("pg connect failed", "err", err)
		os.Exit(1)
	}
	defer pool.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	// Ledger
	invRepo := invpg.NewRepository(log, pool)
	orderRepo := orderpg.NewRepository(log, pool, invRepo)
	rewards := rewardapp.NewService(log, rewardpg.NewRepository(log, pool), cfg.Rewards.PointsPerDollar).WithMetrics(m)
	gateway := paystripe.NewGateway(log, paystripe.Config{
		SecretKey: cfg.Payment.SecretKey,
		Currency:  cfg.Payment.Currency,
		Timeout:   cfg.Payment.Timeout,
		BaseURL:   cfg.Payment.BaseURL,
		Metrics:   m,
	})
	svc := application.NewService(log, orderRepo, invapp.NewGuard(log, invRepo), gateway, rewards, cfg.ShippingCents).WithMetrics(m)
	engine := reconapp.NewEngine(log, gateway, svc, reconpg.NewEventLog(log, pool), cfg.Payment.WebhookSecret).WithMetrics(m)

	// Outbox relay
	writer := orderkafka.NewWriter(cfg.Kafka.Brokers)
	defer writer.Close()
	dispatch := outbox.NewDispatcher(log, writer, cfg.Kafka.Topic)
	relay := outbox.NewRelay(log, orderpg.NewOutboxStore(log, pool), dispatch, "checkout-service-relay")
	go func() {
		if err := relay.Run(ctx); err != nil {
			log.Error("relay stopped with error", "err", err)
		}
	}()

	orders := orderhttp.NewHandler(log, svc).Routes()
	payments := reconhttp.NewHandler(log, engine, cfg.Payment.SignatureHeader).Routes(cfg.DevToolsEnabled())
	if cfg.DevToolsEnabled() {
		log.Warn("dev tools enabled, simulate-success route is mounted", "env", cfg.Env)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Recoverer)
	r.Use(render.SetContentType(render.ContentTypeJSON))
	r.Handle("/orders", orders)
	r.Handle("/orders/*", orders)
	r.Handle("/webhooks/*", payments)
	r.Handle("/payments/*", payments)
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := pool.Ping(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      otelhttp.NewHandler(r, "checkout-service"),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	if err := shutdown.Serve(ctx, log, srv, cfg.ShutdownGrace); err != nil {
		log.Error("http server error", "err", err)
	}
	cancel()
	log.Info("checkout-service shutdown complete")
}
