// Package metrics exposes SolDocs' Prometheus instrumentation (§4.10):
// queue depth, program outcomes, doc-generation passes, LLM and chain call
// health, and HTTP request counts.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry owns every metric SolDocs records.
type Registry struct {
	QueueLength       prometheus.Gauge
	ProgramsTotal     *prometheus.CounterVec
	DocgenPassesTotal *prometheus.CounterVec
	LLMRequestsTotal  *prometheus.CounterVec
	LLMRequestSeconds *prometheus.HistogramVec
	ChainRequestTotal *prometheus.CounterVec
	AgentCyclesTotal  prometheus.Counter
	AgentErrorsTotal  prometheus.Counter
	HTTPRequestsTotal *prometheus.CounterVec
}

// New registers and returns a Registry backed by the default Prometheus
// registerer.
func New() *Registry {
	return &Registry{
		QueueLength: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "soldocs_queue_length",
			Help: "Current number of pending QueueItems.",
		}),
		ProgramsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "soldocs_programs_total",
			Help: "Total programs processed, by terminal status.",
		}, []string{"status"}),
		DocgenPassesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "soldocs_docgen_passes_total",
			Help: "Total documentation-generation passes, by pass name and outcome.",
		}, []string{"pass", "status"}),
		LLMRequestsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "soldocs_llm_requests_total",
			Help: "Total LLM client calls, by outcome.",
		}, []string{"status"}),
		LLMRequestSeconds: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "soldocs_llm_request_duration_seconds",
			Help:    "LLM call latency in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"status"}),
		ChainRequestTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "soldocs_chain_requests_total",
			Help: "Total chain client calls, by outcome.",
		}, []string{"status"}),
		AgentCyclesTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "soldocs_agent_cycles_total",
			Help: "Total agent main-loop iterations.",
		}),
		AgentErrorsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "soldocs_agent_errors_total",
			Help: "Total errors recorded into the agent's error ring.",
		}),
		HTTPRequestsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "soldocs_http_requests_total",
			Help: "Total HTTP requests, by method, path, and status.",
		}, []string{"method", "path", "status"}),
	}
}

// Handler returns the /metrics exposition handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
