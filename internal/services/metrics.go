package services

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/mindcare/triage-server/internal/models"
)

// TriageMetrics exposes counters/histograms for the triage flow.
// All methods are safe on a nil receiver.
type TriageMetrics struct {
	classifications *prometheus.CounterVec
	degraded        *prometheus.CounterVec
	escalations     prometheus.Counter
	notifications   *prometheus.CounterVec
	submitLatency   *prometheus.HistogramVec
}

// NewTriageMetrics registers the collectors on reg (DefaultRegisterer when nil).
func NewTriageMetrics(reg prometheus.Registerer) *TriageMetrics {
	m := &TriageMetrics{
		classifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "triage",
			Name:      "classifications_total",
			Help:      "Requester messages classified, by level and source",
		}, []string{"level", "source"}),
		degraded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "triage",
			Name:      "analysis_degraded_total",
			Help:      "External analysis calls that fell back to keyword rules",
		}, []string{"reason"}),
		escalations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "triage",
			Name:      "escalations_total",
			Help:      "Cases whose emergency state was triggered",
		}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "triage",
			Name:      "contact_notifications_total",
			Help:      "Emergency contact notification attempts",
		}, []string{"status"}),
		submitLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "triage",
			Name:      "submit_latency_seconds",
			Help:      "Latency of message submission end to end",
			Buckets:   prometheus.DefBuckets,
		}, []string{"sender"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.classifications, m.degraded, m.escalations, m.notifications, m.submitLatency)
	return m
}

func (m *TriageMetrics) ObserveClassification(level models.RiskLevel, source models.RiskSource) {
	if m == nil {
		return
	}
	m.classifications.WithLabelValues(string(level), string(source)).Inc()
}

func (m *TriageMetrics) ObserveDegraded(reason string) {
	if m == nil {
		return
	}
	m.degraded.WithLabelValues(reason).Inc()
}

func (m *TriageMetrics) ObserveEscalation() {
	if m == nil {
		return
	}
	m.escalations.Inc()
}

func (m *TriageMetrics) ObserveNotification(delivered bool) {
	if m == nil {
		return
	}
	status := "failed"
	if delivered {
		status = "delivered"
	}
	m.notifications.WithLabelValues(status).Inc()
}

func (m *TriageMetrics) ObserveSubmit(sender models.Sender, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.submitLatency.WithLabelValues(string(sender)).Observe(elapsed.Seconds())
}
