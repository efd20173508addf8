// Package metrics exposes daemon counters through an optional loopback
// prometheus listener.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the daemon.
type Metrics struct {
	// RPCRequests counts IPC requests by method and outcome
	RPCRequests *prometheus.CounterVec
	// QuotaPercentRemaining tracks the lowest remaining percentage per account
	QuotaPercentRemaining *prometheus.GaugeVec
	// FetchErrors counts quota fetch failures by provider and kind
	FetchErrors *prometheus.CounterVec
	// TokenRefreshes counts refresh attempts by provider and outcome
	TokenRefreshes *prometheus.CounterVec
	// ProxyRunning reports whether the child proxy is up
	ProxyRunning prometheus.Gauge
	// Connections reports currently connected IPC clients
	Connections prometheus.Gauge

	registry *prometheus.Registry
}

// New creates and registers all daemon metrics under the namespace.
func New(namespace string) *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		RPCRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rpc_requests_total",
				Help:      "IPC requests by method and outcome",
			},
			[]string{"method", "outcome"},
		),
		QuotaPercentRemaining: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "quota_percent_remaining",
				Help:      "Lowest remaining quota percentage per account",
			},
			[]string{"account", "provider"},
		),
		FetchErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "quota_fetch_errors_total",
				Help:      "Quota fetch failures by provider and kind",
			},
			[]string{"provider", "kind"},
		),
		TokenRefreshes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "token_refreshes_total",
				Help:      "Token refresh attempts by provider and outcome",
			},
			[]string{"provider", "outcome"},
		),
		ProxyRunning: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "proxy_running",
				Help:      "Whether the child proxy is running (1) or not (0)",
			},
		),
		Connections: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "ipc_connections",
				Help:      "Currently connected IPC clients",
			},
		),
	}

	registry.MustRegister(
		m.RPCRequests,
		m.QuotaPercentRemaining,
		m.FetchErrors,
		m.TokenRefreshes,
		m.ProxyRunning,
		m.Connections,
	)
	return m
}

// Handler returns the scrape endpoint for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve runs the scrape endpoint on addr until the server fails; callers
// run it in a goroutine and treat errors as non-fatal.
func (m *Metrics) Serve(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	return http.ListenAndServe(addr, mux)
}
