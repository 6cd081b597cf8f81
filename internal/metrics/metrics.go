// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome labels.
const (
	OutcomeReply    = "reply"
	OutcomeFallback = "fallback"
	OutcomeError    = "error"
	OutcomeOK       = "ok"
)

// Metrics groups the collectors of one process.
type Metrics struct {
	registry *prometheus.Registry

	ChatExchanges   *prometheus.CounterVec
	FlagSubmissions *prometheus.CounterVec
	ActiveSessions  prometheus.Gauge
	BackendChats    *prometheus.CounterVec
	BackendFlags    *prometheus.CounterVec
}

// New registers every collector on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		ChatExchanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "widget",
			Name:      "chat_exchanges_total",
			Help:      "Widget messages sent to the chat backend, by outcome.",
		}, []string{"outcome"}),
		FlagSubmissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "widget",
			Name:      "flag_submissions_total",
			Help:      "Flag reports sent from the widget, by outcome.",
		}, []string{"outcome"}),
		ActiveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "widget",
			Name:      "active_sessions",
			Help:      "Mounted widget sessions.",
		}),
		BackendChats: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "backend",
			Name:      "chat_requests_total",
			Help:      "Requests answered by the reference chat backend, by HTTP status.",
		}, []string{"status"}),
		BackendFlags: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "backend",
			Name:      "flags_total",
			Help:      "Flag reports received by the reference backend, by outcome.",
		}, []string{"outcome"}),
	}

	m.registry.MustRegister(
		m.ChatExchanges,
		m.FlagSubmissions,
		m.ActiveSessions,
		m.BackendChats,
		m.BackendFlags,
		collectors.NewGoCollector(),
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
