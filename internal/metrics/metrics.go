// Package metrics owns the prometheus registry of both processes.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "skeleton"

// Registry holds the service collectors. A nil *Registry records nothing.
type Registry struct {
	reg *prometheus.Registry

	cacheLookups   *prometheus.CounterVec
	computations   *prometheus.CounterVec
	computeSeconds *prometheus.HistogramVec
	refusalsAdded  *prometheus.CounterVec
	jobsSubmitted  *prometheus.CounterVec
	jobsProcessed  *prometheus.CounterVec
}

func New() *Registry {
	r := &Registry{
		reg: prometheus.NewRegistry(),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "Artifact cache lookups by version, output format and result.",
		}, []string{"version", "format", "result"}),
		computations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "computations_total",
			Help:      "Skeleton computations by version and outcome.",
		}, []string{"version", "outcome"}),
		computeSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "computation_seconds",
			Help:      "Wall time of geometry calls.",
			Buckets:   prometheus.ExponentialBuckets(0.25, 2, 12),
		}, []string{"version"}),
		refusalsAdded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refusals_added_total",
			Help:      "Root ids added to the refusal list.",
		}, []string{"dataset"}),
		jobsSubmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "async_jobs_submitted_total",
			Help:      "Async skeleton jobs published, by priority.",
		}, []string{"priority"}),
		jobsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "async_jobs_processed_total",
			Help:      "Async skeleton jobs handled by workers, by outcome.",
		}, []string{"outcome"}),
	}
	r.reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		r.cacheLookups,
		r.computations,
		r.computeSeconds,
		r.refusalsAdded,
		r.jobsSubmitted,
		r.jobsProcessed,
	)
	return r
}

// Register adds extra collectors, such as the store counters.
func (r *Registry) Register(cs ...prometheus.Collector) error {
	if r == nil {
		return nil
	}
	for _, c := range cs {
		if err := r.reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.reg
}

func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{Registry: r.reg})
}

func (r *Registry) CacheLookup(version int, format string, hit bool) {
	if r == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	r.cacheLookups.WithLabelValues(strconv.Itoa(version), format, result).Inc()
}

func (r *Registry) Computation(version int, outcome string, seconds float64) {
	if r == nil {
		return
	}
	v := strconv.Itoa(version)
	r.computations.WithLabelValues(v, outcome).Inc()
	r.computeSeconds.WithLabelValues(v).Observe(seconds)
}

func (r *Registry) RefusalAdded(dataset string) {
	if r == nil {
		return
	}
	r.refusalsAdded.WithLabelValues(dataset).Inc()
}

func (r *Registry) JobSubmitted(highPriority bool) {
	if r == nil {
		return
	}
	r.jobsSubmitted.WithLabelValues(priorityLabel(highPriority)).Inc()
}

func (r *Registry) JobProcessed(outcome string) {
	if r == nil {
		return
	}
	r.jobsProcessed.WithLabelValues(outcome).Inc()
}

func priorityLabel(high bool) string {
	if high {
		return "high"
	}
	return "low"
}
