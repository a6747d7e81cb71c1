// Package metrics holds the Prometheus collectors shared by the service and provider layers.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/punchamoorthee/flexyledger/internal/domain"
)

// otherStatus labels every status the provider reports outside the known set.
const otherStatus = "other"

var (
	TopupRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "topup_requests_total",
		Help: "Top-up requests by operator and resulting status",
	}, []string{"operator", "status"})

	// LedgerReversals counts credit-backs; source is "provider_error" or "webhook".
	LedgerReversals = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_reversals_total",
		Help: "Debits reversed after a failed top-up",
	}, []string{"source"})

	WebhookDeliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "webhook_deliveries_total",
		Help: "Provider webhook deliveries by outcome",
	}, []string{"outcome"})

	ProviderLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "provider_request_duration_seconds",
		Help:    "Latency of calls to the top-up provider",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	}, []string{"endpoint", "outcome"})
)

// StatusLabel keeps the status label bounded: provider statuses we do not know collapse to "other".
func StatusLabel(s domain.Status) string {
	if !s.Known() {
		return otherStatus
	}
	return string(s)
}

// ObserveTopup counts a request reaching status.
func ObserveTopup(operator string, status domain.Status) {
	TopupRequests.WithLabelValues(operator, StatusLabel(status)).Inc()
}
