package obs

import (
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	domainOnce sync.Once

	// CheckoutSessionTotal counts checkout-session initiation outcomes.
	CheckoutSessionTotal *prometheus.CounterVec
	// VerificationTotal counts remote transaction verification outcomes.
	VerificationTotal *prometheus.CounterVec
	// ReconcileOutcomeTotal counts reconciliation terminal states.
	ReconcileOutcomeTotal *prometheus.CounterVec
	// GatewayRequestLatency records outbound gateway call latency in milliseconds.
	GatewayRequestLatency *prometheus.HistogramVec
	// CallbackRejectedTotal counts callbacks rejected before reconciliation ran.
	CallbackRejectedTotal *prometheus.CounterVec
)

// MustRegisterDomainMetrics initialises and registers domain-specific Prometheus collectors.
func MustRegisterDomainMetrics(namespace string, reg prometheus.Registerer) {
	domainOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		CheckoutSessionTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkout_session_total",
			Help:      "Count of checkout-session initiation outcomes.",
		}, []string{"flow", "result"})
		VerificationTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "verification_total",
			Help:      "Count of remote transaction verification outcomes.",
		}, []string{"result"})
		ReconcileOutcomeTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconcile_outcome_total",
			Help:      "Count of reconciliation terminal states.",
		}, []string{"outcome"})
		GatewayRequestLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "gateway_request_duration_ms",
			Help:      "Latency of outbound gateway API calls in milliseconds.",
			Buckets:   []float64{10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		}, []string{"operation", "result"})
		CallbackRejectedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "callback_rejected_total",
			Help:      "Count of callbacks rejected during input sanitization.",
		}, []string{"field"})

		mustRegisterCollector(reg, CheckoutSessionTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				CheckoutSessionTotal = v
			}
		})
		mustRegisterCollector(reg, VerificationTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				VerificationTotal = v
			}
		})
		mustRegisterCollector(reg, ReconcileOutcomeTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				ReconcileOutcomeTotal = v
			}
		})
		mustRegisterCollector(reg, GatewayRequestLatency, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.HistogramVec); ok {
				GatewayRequestLatency = v
			}
		})
		mustRegisterCollector(reg, CallbackRejectedTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				CallbackRejectedTotal = v
			}
		})
	})
}

func mustRegisterCollector(reg prometheus.Registerer, collector prometheus.Collector, reuse func(prometheus.Collector)) {
	if err := reg.Register(collector); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if reuse != nil {
				reuse(are.ExistingCollector)
			}
			return
		}
		panic(fmt.Errorf("register domain metric: %w", err))
	}
}
