// Package metrics exposes the Prometheus collectors for every hot-path
// component of the platform: ingestion, storage, the circuit breaker,
// deduplication/correlation outcomes, lifecycle transitions, escalation
// ticks, scheduled jobs, and the broadcaster.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	AlertsReceivedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "incidentops_alerts_received_total",
			Help: "Total number of alert submissions by source and ack status",
		},
		[]string{"source", "status"},
	)

	AlertProcessingDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "incidentops_alert_processing_duration_seconds",
			Help:    "Time taken to run an alert through the ingestion pipeline",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"status"},
	)

	IncidentsOpenTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "incidentops_incidents_open_total",
			Help: "Current number of active incidents by severity",
		},
		[]string{"severity"},
	)

	StoreOperationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "incidentops_store_operation_duration_seconds",
			Help:    "Backend storage operation latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"backend", "operation"},
	)

	StoreOperationErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "incidentops_store_operation_errors_total",
			Help: "Total number of failed backend storage operations",
		},
		[]string{"backend", "operation"},
	)

	CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "incidentops_circuit_breaker_state",
			Help: "Circuit breaker state (0=Closed, 1=HalfOpen, 2=Open)",
		},
		[]string{"name"},
	)

	CircuitBreakerTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "incidentops_circuit_breaker_transitions_total",
			Help: "Total number of circuit breaker state transitions",
		},
		[]string{"name", "from", "to"},
	)

	DeduplicationMatchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "incidentops_deduplication_matches_total",
			Help: "Total number of alerts matched to an existing incident by fingerprint",
		},
		[]string{"source"},
	)

	CorrelationGroupsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "incidentops_correlation_groups_total",
			Help: "Total number of correlation groups created",
		},
	)

	CorrelationJoinsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "incidentops_correlation_joins_total",
			Help: "Total number of incidents joined into an existing correlation group",
		},
	)

	LifecycleTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "incidentops_lifecycle_transitions_total",
			Help: "Total number of incident lifecycle transitions by source and destination state",
		},
		[]string{"from", "to"},
	)

	EscalationTicksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "incidentops_escalation_ticks_total",
			Help: "Total number of escalation engine ticks that notified a target",
		},
		[]string{"level", "result"},
	)

	SchedulerJobDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "incidentops_scheduler_job_duration_seconds",
			Help:    "Scheduled job run duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"job"},
	)

	SchedulerJobRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "incidentops_scheduler_job_runs_total",
			Help: "Total number of scheduled job runs by outcome",
		},
		[]string{"job", "outcome"},
	)

	SchedulerJobSkippedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "incidentops_scheduler_job_skipped_total",
			Help: "Total number of scheduled job runs skipped because a previous run was still in progress",
		},
		[]string{"job"},
	)

	BroadcastSessionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "incidentops_broadcast_sessions_active",
			Help: "Current number of live broadcaster subscriber sessions",
		},
	)

	BroadcastMessagesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "incidentops_broadcast_messages_total",
			Help: "Total number of events delivered to subscriber queues",
		},
	)

	BroadcastDroppedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "incidentops_broadcast_dropped_total",
			Help: "Total number of events dropped from subscriber queues on overflow",
		},
	)

	RateLimitedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "incidentops_rate_limited_total",
			Help: "Total number of alert submissions rejected by the rate limiter",
		},
		[]string{"source"},
	)
)

func init() {
	prometheus.MustRegister(
		AlertsReceivedTotal,
		AlertProcessingDuration,
		IncidentsOpenTotal,
		StoreOperationDuration,
		StoreOperationErrorsTotal,
		CircuitBreakerState,
		CircuitBreakerTransitionsTotal,
		DeduplicationMatchesTotal,
		CorrelationGroupsTotal,
		CorrelationJoinsTotal,
		LifecycleTransitionsTotal,
		EscalationTicksTotal,
		SchedulerJobDuration,
		SchedulerJobRunsTotal,
		SchedulerJobSkippedTotal,
		BroadcastSessionsActive,
		BroadcastMessagesTotal,
		BroadcastDroppedTotal,
		RateLimitedTotal,
	)
}

// Handler returns the Prometheus scrape endpoint handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer measures an operation's duration against a histogram.
type Timer struct {
	start time.Time
}

func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// BreakerStateValue maps a circuit breaker state name to the gauge value
// used by CircuitBreakerState.
func BreakerStateValue(state string) float64 {
	switch state {
	case "Closed":
		return 0
	case "HalfOpen":
		return 1
	case "Open":
		return 2
	default:
		return -1
	}
}
