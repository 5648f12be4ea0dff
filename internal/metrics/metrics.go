// Package metrics exposes Prometheus instrumentation for the settlement
// service. All observe methods tolerate a nil receiver so tests can skip
// wiring a registry.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	WebhookEvents *prometheus.CounterVec
	SettleSeconds prometheus.Histogram
	EscrowActions *prometheus.CounterVec
	Notifications *prometheus.CounterVec
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		WebhookEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "settlement",
			Name:      "webhook_events_total",
			Help:      "Inbound payment webhooks by outcome.",
		}, []string{"outcome"}),
		SettleSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "settlement",
			Name:      "settle_duration_seconds",
			Help:      "Duration of the settlement transaction.",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		}),
		EscrowActions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "settlement",
			Name:      "escrow_actions_total",
			Help:      "Escrow release/refund attempts by action and result.",
		}, []string{"action", "result"}),
		Notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "settlement",
			Name:      "notifications_total",
			Help:      "Notification send attempts by result.",
		}, []string{"result"}),
	}
	reg.MustRegister(m.WebhookEvents, m.SettleSeconds, m.EscrowActions, m.Notifications)
	return m
}

func Handler() http.Handler {
	return promhttp.Handler()
}

func (m *Metrics) ObserveWebhook(outcome string, took time.Duration) {
	if m == nil {
		return
	}
	m.WebhookEvents.WithLabelValues(outcome).Inc()
	m.SettleSeconds.Observe(took.Seconds())
}

func (m *Metrics) ObserveEscrowAction(action, result string) {
	if m == nil {
		return
	}
	m.EscrowActions.WithLabelValues(action, result).Inc()
}

func (m *Metrics) ObserveNotification(ok bool) {
	if m == nil {
		return
	}
	result := "sent"
	if !ok {
		result = "failed"
	}
	m.Notifications.WithLabelValues(result).Inc()
}
