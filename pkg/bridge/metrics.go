// Copyright 2024-2026 Aiku AI

package bridge

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics aggregates the bridge's Prometheus counters. A fresh registry
// per instance keeps tests independent of global state.
type Metrics struct {
	registry *prometheus.Registry

	EventsReceived      *prometheus.CounterVec
	MessagesRelayed     *prometheus.CounterVec
	BroadcastsSent      prometheus.Counter
	BroadcastsThrottled prometheus.Counter
	DedupDrops          *prometheus.CounterVec
	SendFailures        *prometheus.CounterVec
	WebhookRequests     *prometheus.CounterVec
}

// NewMetrics registers all bridge counters on a private registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		EventsReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bridge_events_received_total",
			Help: "Inbound events by source platform.",
		}, []string{"platform"}),
		MessagesRelayed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bridge_messages_relayed_total",
			Help: "Messages relayed to the other platform.",
		}, []string{"direction"}),
		BroadcastsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bridge_broadcasts_sent_total",
			Help: "LINE broadcasts that were sent.",
		}),
		BroadcastsThrottled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bridge_broadcasts_throttled_total",
			Help: "LINE broadcasts skipped by the rate limiter.",
		}),
		DedupDrops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bridge_dedup_drops_total",
			Help: "Events dropped as duplicates.",
		}, []string{"platform"}),
		SendFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bridge_send_failures_total",
			Help: "Failed outbound sends by target.",
		}, []string{"target"}),
		WebhookRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bridge_webhook_requests_total",
			Help: "Webhook HTTP requests by result.",
		}, []string{"status"}),
	}
	m.registry.MustRegister(
		m.EventsReceived,
		m.MessagesRelayed,
		m.BroadcastsSent,
		m.BroadcastsThrottled,
		m.DedupDrops,
		m.SendFailures,
		m.WebhookRequests,
	)
	return m
}

// Handler exposes the registry for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
