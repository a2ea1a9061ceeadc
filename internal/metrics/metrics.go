// Package metrics provides Prometheus instrumentation for the realtime
// messaging backend. It exposes gauges for connection and presence counts,
// counters for relay outcomes, and histograms for delivery latency.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ConnectionsTotal tracks the current number of active WebSocket connections.
	ConnectionsTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "kamwali_connections_total",
		Help: "Current number of active WebSocket connections",
	})

	// RegisteredUsers tracks the current number of registered presence entries.
	RegisteredUsers = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "kamwali_registered_users",
		Help: "Current number of users registered in the presence directory",
	})

	// MessagesTotal counts relay outcomes, labeled by result: "delivered",
	// "blocked", "dropped", "rate_limited".
	MessagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "kamwali_messages_total",
		Help: "Total number of relayed messages by outcome",
	}, []string{"result"})

	// ModerationFailOpen counts moderation-store lookup failures that were
	// resolved by the fail-open policy. A non-zero rate here means blocking
	// is silently disabled.
	ModerationFailOpen = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "kamwali_moderation_fail_open_total",
		Help: "Moderation store failures resolved by delivering the message",
	})

	// NotificationsTotal counts broadcaster notifications by event name.
	NotificationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "kamwali_notifications_total",
		Help: "Total number of broadcast notifications by event",
	}, []string{"event"})

	// RelayLatency records time from message receipt to channel publish.
	RelayLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "kamwali_relay_latency_seconds",
		Help:    "Message relay processing latency in seconds",
		Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
	})

	// ReportsFlagged counts users whose recent report count crossed the
	// review threshold.
	ReportsFlagged = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "kamwali_reports_flagged_total",
		Help: "Users flagged for review after repeated reports",
	})
)

func init() {
	prometheus.MustRegister(
		ConnectionsTotal,
		RegisteredUsers,
		MessagesTotal,
		ModerationFailOpen,
		NotificationsTotal,
		RelayLatency,
		ReportsFlagged,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
