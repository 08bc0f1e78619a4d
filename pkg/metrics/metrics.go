// Package metrics provides Prometheus metrics instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "inbox"

var (
	// RequestDuration tracks HTTP request duration.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path", "status"},
	)

	// RequestsTotal tracks total HTTP requests.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// TokenRefreshTotal counts credential refresh attempts by outcome
	// (refreshed, degraded, reconnect, skipped).
	TokenRefreshTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "token_refresh_total",
			Help:      "Credential refresh attempts by outcome",
		},
		[]string{"platform", "outcome"},
	)

	// QuotaDenialsTotal counts refused metered operations.
	QuotaDenialsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "quota_denials_total",
			Help:      "Metered operations refused because the quota was exhausted",
		},
		[]string{"resource"},
	)

	// UsageResetsTotal counts lazy usage window rollovers.
	UsageResetsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "usage_resets_total",
			Help:      "Usage counter window resets",
		},
		[]string{"resource"},
	)

	// InboundMessagesTotal counts ingested messages by result
	// (appended, created, duplicate, quota_exceeded).
	InboundMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "inbound_messages_total",
			Help:      "Inbound messages by channel and result",
		},
		[]string{"channel", "result"},
	)

	// OutboundMessagesTotal counts delivery outcomes.
	OutboundMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbound_messages_total",
			Help:      "Outbound message delivery outcomes",
		},
		[]string{"channel", "status"},
	)

	// WebhookEventsTotal counts received webhook deliveries.
	WebhookEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_events_total",
			Help:      "Webhook deliveries by provider and result",
		},
		[]string{"provider", "result"},
	)

	// SuggestionDuration tracks AI suggestion latency.
	SuggestionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "suggestion_duration_seconds",
			Help:      "AI reply suggestion latency",
			Buckets:   []float64{.25, .5, 1, 2, 5, 10, 20, 30},
		},
		[]string{"provider", "status"},
	)

	// SSEConnectionsActive tracks active SSE connections.
	SSEConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sse_connections_active",
			Help:      "Number of active SSE connections",
		},
	)
)

// RecordRequest records metrics for an HTTP request.
func RecordRequest(method, path, status string, duration float64) {
	RequestDuration.WithLabelValues(method, path, status).Observe(duration)
	RequestsTotal.WithLabelValues(method, path, status).Inc()
}

// RecordTokenRefresh records the outcome of a credential validity check.
func RecordTokenRefresh(platform, outcome string) {
	TokenRefreshTotal.WithLabelValues(platform, outcome).Inc()
}

// RecordInbound records an ingested message.
func RecordInbound(channel, result string) {
	InboundMessagesTotal.WithLabelValues(channel, result).Inc()
}

// RecordOutbound records a delivery outcome.
func RecordOutbound(channel, status string) {
	OutboundMessagesTotal.WithLabelValues(channel, status).Inc()
}

// RecordSuggestion records an AI suggestion call.
func RecordSuggestion(provider, status string, duration float64) {
	SuggestionDuration.WithLabelValues(provider, status).Observe(duration)
}

// IncrementSSEConnections increments the active SSE connection count.
func IncrementSSEConnections() {
	SSEConnectionsActive.Inc()
}

// DecrementSSEConnections decrements the active SSE connection count.
func DecrementSSEConnections() {
	SSEConnectionsActive.Dec()
}

// RecordWebhook records a webhook delivery by provider and result.
func RecordWebhook(provider, result string) {
	WebhookEventsTotal.WithLabelValues(provider, result).Inc()
}
