// Copyright 2025 Certen Protocol
//
// Package metrics exposes the connector's Prometheus collectors: inbound
// acceptance/rejection by message type, outbound RPC latency/outcome, and open
// process gauges, per SPEC_FULL.md §2.1.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry bundles every collector the connector registers.
type Registry struct {
	InboundTotal     *prometheus.CounterVec
	OutboundTotal    *prometheus.CounterVec
	OutboundDuration *prometheus.HistogramVec
	OpenProcesses    *prometheus.GaugeVec
}

// New registers and returns the connector's collector set against reg. Pass
// prometheus.NewRegistry() in tests to avoid colliding with the default
// global registry across test runs.
func New(reg prometheus.Registerer) *Registry {
	factory := promauto.With(reg)

	return &Registry{
		InboundTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "connector",
			Subsystem: "inbound",
			Name:      "messages_total",
			Help:      "Inbound protocol messages by engine, message type and outcome.",
		}, []string{"engine", "message_type", "outcome"}),

		OutboundTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "connector",
			Subsystem: "outbound",
			Name:      "rpc_total",
			Help:      "Outbound RPC verbs by engine, verb and outcome.",
		}, []string{"engine", "verb", "outcome"}),

		OutboundDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "connector",
			Subsystem: "outbound",
			Name:      "rpc_duration_seconds",
			Help:      "Outbound RPC call latency by engine and verb.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"engine", "verb"}),

		OpenProcesses: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "connector",
			Name:      "open_processes",
			Help:      "Processes currently in a non-terminal state, by engine.",
		}, []string{"engine"}),
	}
}

// Handler returns the HTTP handler the connector's metrics server mounts at
// /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}
