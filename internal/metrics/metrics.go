// Package metrics owns the Prometheus collectors for the payment service.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "lexgo"

// Metrics groups every collector the service exports. A nil *Metrics is
// valid and records nothing, which keeps tests free of registry plumbing.
type Metrics struct {
	PaymentsInitiated *prometheus.CounterVec
	PaymentsConfirmed *prometheus.CounterVec
	WebhookRequests   *prometheus.CounterVec
	EntitlementGrants prometheus.Counter
	ClaimFailures     prometheus.Counter
	RequestDuration   *prometheus.HistogramVec
	JobsProcessed     *prometheus.CounterVec
	JobQueueDepth     prometheus.Gauge
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		PaymentsInitiated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payments_initiated_total",
			Help:      "Payment initiations by result.",
		}, []string{"result"}),
		PaymentsConfirmed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payments_confirm_total",
			Help:      "Client confirm calls by result.",
		}, []string{"result"}),
		WebhookRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_requests_total",
			Help:      "Provider webhook deliveries by response code.",
		}, []string{"code"}),
		EntitlementGrants: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "entitlement_grants_total",
			Help:      "Premium entitlements written.",
		}),
		ClaimFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "claim_failures_total",
			Help:      "Credential claim writes that failed and were skipped.",
		}),
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "code"}),
		JobsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_processed_total",
			Help:      "Background jobs by type and outcome.",
		}, []string{"job_type", "outcome"}),
		JobQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "job_queue_pending",
			Help:      "Pending jobs at the last worker heartbeat.",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.PaymentsInitiated,
			m.PaymentsConfirmed,
			m.WebhookRequests,
			m.EntitlementGrants,
			m.ClaimFailures,
			m.RequestDuration,
			m.JobsProcessed,
			m.JobQueueDepth,
		)
	}
	return m
}

func (m *Metrics) InitiateResult(result string) {
	if m == nil {
		return
	}
	m.PaymentsInitiated.WithLabelValues(result).Inc()
}

func (m *Metrics) ConfirmResult(result string) {
	if m == nil {
		return
	}
	m.PaymentsConfirmed.WithLabelValues(result).Inc()
}

func (m *Metrics) WebhookResponse(code int) {
	if m == nil {
		return
	}
	m.WebhookRequests.WithLabelValues(strconv.Itoa(code)).Inc()
}

func (m *Metrics) GrantApplied() {
	if m == nil {
		return
	}
	m.EntitlementGrants.Inc()
}

func (m *Metrics) ClaimFailed() {
	if m == nil {
		return
	}
	m.ClaimFailures.Inc()
}

func (m *Metrics) ObserveRequest(method, route string, code int, d time.Duration) {
	if m == nil {
		return
	}
	m.RequestDuration.WithLabelValues(method, route, strconv.Itoa(code)).Observe(d.Seconds())
}

func (m *Metrics) JobOutcome(jobType, outcome string) {
	if m == nil {
		return
	}
	m.JobsProcessed.WithLabelValues(jobType, outcome).Inc()
}

func (m *Metrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.JobQueueDepth.Set(float64(n))
}
