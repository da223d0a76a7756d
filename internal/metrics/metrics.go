// Package metrics exposes the station's operational counters via
// Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every counter/gauge the radio engine updates. The zero
// value is not usable; construct with New.
type Metrics struct {
	registry *prometheus.Registry

	BlocksProduced      prometheus.Counter
	ActiveLeaves        prometheus.Gauge
	ActiveSubschedulers prometheus.Gauge
	Segues              *prometheus.CounterVec
	MetadataFailures    prometheus.Counter
	ReloadFailures      prometheus.Counter
}

// New creates a fresh metric set registered against its own registry, so
// multiple stations in one process don't collide.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		BlocksProduced: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "jivebox_blocks_produced_total",
			Help: "Audio blocks produced by the root scheduler.",
		}),
		ActiveLeaves: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "jivebox_active_leaves",
			Help: "Leaf sources currently being mixed.",
		}),
		ActiveSubschedulers: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "jivebox_active_subschedulers",
			Help: "Sub-schedulers currently attached to the root.",
		}),
		Segues: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "jivebox_segues_total",
			Help: "Segues performed, by kind (music/ad/news/id/solo).",
		}, []string{"kind"}),
		MetadataFailures: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "jivebox_metadata_failures_total",
			Help: "Failed metadata URL pushes.",
		}),
		ReloadFailures: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "jivebox_definitions_reload_failures_total",
			Help: "Definitions reloads that failed after an initial successful load.",
		}),
	}
	return m
}

// Handler returns an http.Handler serving this Metrics' registry in the
// Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve starts an HTTP server exposing /metrics on addr. It runs until
// the listener fails and is meant to be launched in its own goroutine.
func (m *Metrics) Serve(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	return http.ListenAndServe(addr, mux)
}
