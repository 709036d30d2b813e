package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the service's Prometheus collectors
type Metrics struct {
	JobOutcomes  *prometheus.CounterVec
	JobsExpired  prometheus.Counter
	AgentRuntime prometheus.Histogram
}

// New registers the collectors on the given registry
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		JobOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voxsplit_job_requests_total",
			Help: "Job creation requests by outcome tag.",
		}, []string{"outcome"}),
		JobsExpired: factory.NewCounter(prometheus.CounterOpts{
			Name: "voxsplit_jobs_expired_total",
			Help: "Job directories removed by the expiry sweeper.",
		}),
		AgentRuntime: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "voxsplit_agent_runtime_seconds",
			Help:    "Wall time of separation agent runs.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}),
	}
}
