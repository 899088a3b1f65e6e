// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package metrics exposes kv-server's observable counters and gauges via
// Prometheus, and an optional standalone HTTP listener for them.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every counter/gauge the server reports.
type Metrics struct {
	CommandsTotal     *prometheus.CounterVec
	ConnectionsActive prometheus.Gauge
	ReplicasConnected prometheus.Gauge
	WriteOffsetBytes  prometheus.Gauge
	KeyspaceSize      prometheus.Gauge
	CommandErrors     *prometheus.CounterVec
}

// New registers and returns a fresh set of metrics against its own registry,
// so tests don't collide with the default global one.
func New() (*Metrics, *prometheus.Registry) {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	m := &Metrics{
		CommandsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "kvserver_commands_total",
			Help: "Total commands processed, labeled by command name.",
		}, []string{"command"}),
		ConnectionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "kvserver_connections_active",
			Help: "Currently open client connections.",
		}),
		ReplicasConnected: factory.NewGauge(prometheus.GaugeOpts{
			Name: "kvserver_replicas_connected",
			Help: "Currently connected replicas.",
		}),
		WriteOffsetBytes: factory.NewGauge(prometheus.GaugeOpts{
			Name: "kvserver_master_write_offset_bytes",
			Help: "Leader's current replication write offset in bytes.",
		}),
		KeyspaceSize: factory.NewGauge(prometheus.GaugeOpts{
			Name: "kvserver_keyspace_keys",
			Help: "Approximate number of keys in the map engine.",
		}),
		CommandErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "kvserver_command_errors_total",
			Help: "Total command errors, labeled by error kind.",
		}, []string{"kind"}),
	}
	return m, reg
}

// ServeHTTP starts a /metrics listener on addr and returns a function that
// shuts it down gracefully. It never blocks the caller.
func ServeHTTP(addr string, reg *prometheus.Registry) func(context.Context) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		_ = srv.ListenAndServe()
	}()

	return srv.Shutdown
}
