package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Failure metrics
	FailuresRecorded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recovery_failures_recorded_total",
			Help: "Total number of payment failure events recorded",
		},
		[]string{"currency", "deduplicated"},
	)

	RetryAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recovery_retry_attempts_total",
			Help: "Total number of payment retry attempts",
		},
		[]string{"outcome"},
	)

	RevenueRecovered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recovery_revenue_recovered_total",
			Help: "Revenue recovered by successful retries, in minor units",
		},
		[]string{"currency"},
	)

	// Campaign metrics
	CampaignsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recovery_campaigns_created_total",
			Help: "Total number of dunning campaigns created",
		},
		[]string{"campaign_type"},
	)

	CampaignSteps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recovery_campaign_steps_total",
			Help: "Total number of dunning campaign steps dispatched",
		},
		[]string{"campaign_type", "channel"},
	)

	CampaignsTerminated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recovery_campaigns_terminated_total",
			Help: "Total number of dunning campaigns reaching a terminal status",
		},
		[]string{"campaign_type", "status"},
	)

	// Account state metrics
	AccountTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recovery_account_transitions_total",
			Help: "Total number of account state transitions",
		},
		[]string{"from", "to", "trigger"},
	)

	// Sweep metrics
	SweepDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "recovery_sweep_duration_seconds",
			Help:    "Duration of one due-work sweep pass",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind"},
	)

	SweepItems = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recovery_sweep_items_total",
			Help: "Total number of due items picked up by the sweep",
		},
		[]string{"kind"},
	)

	// Collaborator metrics
	ProcessorCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recovery_processor_calls_total",
			Help: "Total number of payment processor charge calls",
		},
		[]string{"outcome"},
	)

	NotifierSends = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recovery_notifier_sends_total",
			Help: "Total number of notifier dispatches",
		},
		[]string{"channel", "outcome"},
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "recovery_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
		},
		[]string{"name"},
	)
)

// ObserveSweep records a sweep pass duration.
func ObserveSweep(kind string, start time.Time) {
	SweepDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
}
