package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	orderdomain "github.com/dmehra2102/storefront-payments/internal/order/domain"
	"github.com/dmehra2102/storefront-payments/internal/reward/domain"
	"github.com/dmehra2102/storefront-payments/pkg/metrics"
)

type Service struct {
	log             *slog.Logger
	store           GrantStore
	pointsPerDollar int64
	metrics         *metrics.Metrics
	now             func() time.Time
	tracer          trace.Tracer
}

func NewService(log *slog.Logger, store GrantStore, pointsPerDollar int64) *Service {
	return &Service{
		log:             log,
		store:           store,
		pointsPerDollar: pointsPerDollar,
		now:             func() time.Time { return time.Now().UTC() },
		tracer:          otel.Tracer("reward-service"),
	}
}

func (s *Service) WithMetrics(m *metrics.Metrics) *Service {
	s.metrics = m
	return s
}

// GrantForOrder credits the buyer of a paid order. Guest orders have nobody to
// credit and are skipped. Calling it again for the same order is a no-op.
func (s *Service) GrantForOrder(ctx context.Context, ev orderdomain.OrderPaid) error {
	ctx, span := s.tracer.Start(ctx, "Service.GrantForOrder", trace.WithAttributes(attribute.String("order.id", ev.OrderID)))
	defer span.End()

	if ev.OwnerID == nil || *ev.OwnerID == "" {
		s.log.Info("guest order, no reward to grant", "order_id", ev.OrderID)
		s.count(metrics.GrantSkipped)
		return nil
	}

	g := domain.Grant{
		OrderID:   ev.OrderID,
		UserID:    *ev.OwnerID,
		Points:    domain.Points(ev.TotalCents, s.pointsPerDollar),
		GrantedAt: s.now(),
	}
	granted, err := s.store.Grant(ctx, g)
	if errors.Is(err, domain.ErrProfileNotFound) {
		s.log.Warn("reward skipped, profile missing", "order_id", ev.OrderID, "user_id", g.UserID)
		s.count(metrics.GrantFailed)
		return err
	}
	if err != nil {
		span.RecordError(err)
		s.count(metrics.GrantFailed)
		return fmt.Errorf("grant reward for order %s: %w", ev.OrderID, err)
	}
	if !granted {
		s.log.Info("reward already granted", "order_id", ev.OrderID, "user_id", g.UserID)
		s.count(metrics.GrantAlready)
		return nil
	}

	s.log.Info("reward granted", "order_id", ev.OrderID, "user_id", g.UserID, "points", g.Points)
	s.count(metrics.GrantGranted)
	return nil
}

func (s *Service) count(result string) {
	if s.metrics != nil {
		s.metrics.RewardGrants.WithLabelValues(result).Inc()
	}
}
