// Package payment provides Prometheus metrics for payment operations.
package payment

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metric names as constants for consistency.
const (
	MetricIntentsCreated    = "payment_intents_created_total"
	MetricSessionsCreated   = "checkout_sessions_created_total"
	MetricOrdersPaid        = "orders_paid_total"
	MetricOrdersFailed      = "orders_failed_total"
	MetricWebhookEvents     = "webhook_events_total"
	MetricWebhookDuplicates = "webhook_duplicate_events_total"
	MetricWebhookAnomalies  = "webhook_transition_anomalies_total"
	MetricProcessorErrors   = "processor_errors_total"
	MetricSubsCreated       = "subscriptions_created_total"
)

// Metrics contains Prometheus metrics for payment operations.
// All operations are thread-safe. A nil *Metrics is a no-op receiver so
// tests can pass nil without wiring a registry.
type Metrics struct {
	intentsCreated    prometheus.Counter
	sessionsCreated   prometheus.Counter
	ordersPaid        prometheus.Counter
	ordersFailed      prometheus.Counter
	webhookEvents     *prometheus.CounterVec
	webhookDuplicates prometheus.Counter
	webhookAnomalies  prometheus.Counter
	processorErrors   *prometheus.CounterVec
	subsCreated       prometheus.Counter
}

// NewMetrics creates a new Metrics instance with all collectors initialized.
// The metrics are not registered; call Register to register them.
func NewMetrics() *Metrics {
	return &Metrics{
		intentsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricIntentsCreated,
			Help: "Total number of payment intents created",
		}),
		sessionsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricSessionsCreated,
			Help: "Total number of checkout sessions created",
		}),
		ordersPaid: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricOrdersPaid,
			Help: "Total number of orders transitioned to paid",
		}),
		ordersFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricOrdersFailed,
			Help: "Total number of orders transitioned to failed",
		}),
		webhookEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricWebhookEvents,
			Help: "Total number of webhook events received by type",
		}, []string{"event_type"}),
		webhookDuplicates: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricWebhookDuplicates,
			Help: "Total number of redelivered webhook events ignored by dedup",
		}),
		webhookAnomalies: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricWebhookAnomalies,
			Help: "Total number of webhook events rejected as state machine anomalies",
		}),
		processorErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricProcessorErrors,
			Help: "Total number of failed processor calls by operation",
		}, []string{"operation"}),
		subsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricSubsCreated,
			Help: "Total number of subscriptions created",
		}),
	}
}

// Register registers all metrics with the given registry.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		m.intentsCreated,
		m.sessionsCreated,
		m.ordersPaid,
		m.ordersFailed,
		m.webhookEvents,
		m.webhookDuplicates,
		m.webhookAnomalies,
		m.processorErrors,
		m.subsCreated,
	}

	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// IncIntentsCreated increments the payment intents counter.
func (m *Metrics) IncIntentsCreated() {
	if m == nil {
		return
	}
	m.intentsCreated.Inc()
}

// IncSessionsCreated increments the checkout sessions counter.
func (m *Metrics) IncSessionsCreated() {
	if m == nil {
		return
	}
	m.sessionsCreated.Inc()
}

// IncOrdersPaid increments the paid orders counter.
func (m *Metrics) IncOrdersPaid() {
	if m == nil {
		return
	}
	m.ordersPaid.Inc()
}

// IncOrdersFailed increments the failed orders counter.
func (m *Metrics) IncOrdersFailed() {
	if m == nil {
		return
	}
	m.ordersFailed.Inc()
}

// IncWebhookEvents increments the webhook events counter for an event type.
func (m *Metrics) IncWebhookEvents(eventType string) {
	if m == nil {
		return
	}
	m.webhookEvents.WithLabelValues(eventType).Inc()
}

// IncWebhookDuplicates increments the duplicate webhook events counter.
func (m *Metrics) IncWebhookDuplicates() {
	if m == nil {
		return
	}
	m.webhookDuplicates.Inc()
}

// IncWebhookAnomalies increments the transition anomaly counter.
func (m *Metrics) IncWebhookAnomalies() {
	if m == nil {
		return
	}
	m.webhookAnomalies.Inc()
}

// IncSubscriptionsCreated increments the subscriptions counter.
func (m *Metrics) IncSubscriptionsCreated() {
	if m == nil {
		return
	}
	m.subsCreated.Inc()
}

// IncProcessorErrors increments the processor error counter for an operation.
func (m *Metrics) IncProcessorErrors(operation string) {
	if m == nil {
		return
	}
	m.processorErrors.WithLabelValues(operation).Inc()
}
