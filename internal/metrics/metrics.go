// Package metrics exposes Prometheus counters for pipeline progress. A
// Registry is passed into the orchestrator at construction so tests can use
// isolated registries.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry bundles the pipeline's metrics on one Prometheus registry.
type Registry struct {
	registry *prometheus.Registry

	FilesTotal   *prometheus.CounterVec
	PacketsTotal prometheus.Counter
	FlowBytes    prometheus.Counter
	ShardsTotal  *prometheus.CounterVec
	GraphMerges  prometheus.Counter
}

// NewRegistry creates an isolated registry with all pipeline metrics.
func NewRegistry() *Registry {
	r := &Registry{registry: prometheus.NewRegistry()}

	r.FilesTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "pcapflow_files_total",
			Help: "Capture files processed, by stage and outcome",
		},
		[]string{"stage", "status"}, // stage: extraction|graph-building, status: ok|failed
	)

	r.PacketsTotal = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "pcapflow_packets_total",
			Help: "Packets parsed from capture files",
		},
	)

	r.FlowBytes = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "pcapflow_flow_bytes_total",
			Help: "Bytes accounted into flow records",
		},
	)

	r.ShardsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "pcapflow_shards_total",
			Help: "CSV shards built into the graph, by outcome",
		},
		[]string{"status"},
	)

	r.GraphMerges = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "pcapflow_graph_merges_total",
			Help: "Shard graphs merged into the final graph",
		},
	)

	return r
}

// Gather exposes the underlying registry for tests and exposition.
func (r *Registry) Gather() prometheus.Gatherer { return r.registry }

// Handler returns the scrape endpoint for this registry.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}
