package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics is nil-safe: every observer is a no-op on a nil receiver so tests
// and tools can run without a registry.
type Metrics struct {
	PaymentEvents   *prometheus.CounterVec
	Extensions      *prometheus.CounterVec
	Expiries        *prometheus.CounterVec
	TaskRuns        *prometheus.CounterVec
	TaskDuration    *prometheus.HistogramVec
	Deliveries      *prometheus.CounterVec
	ScenarioSteps   *prometheus.CounterVec
	WebhookDuration *prometheus.HistogramVec
}

func New(namespace string, reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		PaymentEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_events_total",
			Help:      "Payment webhook events by outcome.",
		}, []string{"provider", "outcome"}),
		Extensions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "subscription_extensions_total",
			Help:      "Subscription periods written by plan.",
		}, []string{"plan"}),
		Expiries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "subscription_expiries_total",
			Help:      "Expiry sweep results.",
		}, []string{"result"}),
		TaskRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_runs_total",
			Help:      "Queued task executions by kind and result.",
		}, []string{"kind", "result"}),
		TaskDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "task_duration_seconds",
			Help:      "Queued task handler latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"kind"}),
		Deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_total",
			Help:      "Messages sent to users by content kind and result.",
		}, []string{"kind", "result"}),
		ScenarioSteps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scenario_steps_total",
			Help:      "Scenario steps run by mode.",
		}, []string{"mode"}),
		WebhookDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "webhook_duration_seconds",
			Help:      "Payment webhook handling latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"status"}),
	}
	if reg != nil {
		reg.MustRegister(
			m.PaymentEvents,
			m.Extensions,
			m.Expiries,
			m.TaskRuns,
			m.TaskDuration,
			m.Deliveries,
			m.ScenarioSteps,
			m.WebhookDuration,
		)
	}
	return m
}

func (m *Metrics) ObservePayment(provider, outcome string) {
	if m == nil {
		return
	}
	m.PaymentEvents.WithLabelValues(provider, outcome).Inc()
}

func (m *Metrics) ObserveExtension(plan string) {
	if m == nil {
		return
	}
	m.Extensions.WithLabelValues(plan).Inc()
}

func (m *Metrics) ObserveExpiry(result string) {
	if m == nil {
		return
	}
	m.Expiries.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveTask(kind, result string, took time.Duration) {
	if m == nil {
		return
	}
	m.TaskRuns.WithLabelValues(kind, result).Inc()
	m.TaskDuration.WithLabelValues(kind).Observe(took.Seconds())
}

func (m *Metrics) ObserveDelivery(kind, result string) {
	if m == nil {
		return
	}
	m.Deliveries.WithLabelValues(kind, result).Inc()
}

func (m *Metrics) ObserveStep(mode string) {
	if m == nil {
		return
	}
	m.ScenarioSteps.WithLabelValues(mode).Inc()
}

func (m *Metrics) ObserveWebhook(status string, took time.Duration) {
	if m == nil {
		return
	}
	m.WebhookDuration.WithLabelValues(status).Observe(took.Seconds())
}
