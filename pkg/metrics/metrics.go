package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Webhook outcome labels.
const (
	OutcomeProcessed        = "processed"
	OutcomeDuplicate        = "duplicate"
	OutcomeIgnored          = "ignored"
	OutcomeInvalidSignature = "invalid_signature"
	OutcomeError            = "error"
)

// Reward grant labels.
const (
	GrantGranted = "granted"
	GrantAlready = "already_granted"
	GrantSkipped = "skipped"
	GrantFailed  = "failed"
)

type Metrics struct {
	WebhookEvents     *prometheus.CounterVec
	OrderTransitions  *prometheus.CounterVec
	RewardGrants      *prometheus.CounterVec
	ProcessorRequests *prometheus.CounterVec
}

// New registers every collector on reg. Pass a fresh registry in tests.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		WebhookEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "storefront",
			Name:      "webhook_events_total",
			Help:      "Payment webhook deliveries by outcome.",
		}, []string{"outcome"}),
		OrderTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "storefront",
			Name:      "order_transitions_total",
			Help:      "Order status changes by target status.",
		}, []string{"to"}),
		RewardGrants: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "storefront",
			Name:      "reward_grants_total",
			Help:      "Loyalty reward grant attempts by result.",
		}, []string{"result"}),
		ProcessorRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "storefront",
			Name:      "payment_processor_requests_total",
			Help:      "Calls to the payment processor by operation and result.",
		}, []string{"operation", "result"}),
	}
	reg.MustRegister(m.WebhookEvents, m.OrderTransitions, m.RewardGrants, m.ProcessorRequests)
	return m
}
