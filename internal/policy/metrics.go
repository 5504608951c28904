package policy

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus instruments for the policy service. Construct
// once per process; promauto registers globally.
type Metrics struct {
	Evaluations        *prometheus.CounterVec
	EvaluationDuration prometheus.Histogram
	CacheHits          prometheus.Counter
	CacheMisses        prometheus.Counter
	Deployments        *prometheus.CounterVec
	Rollbacks          prometheus.Counter
	TestRuns           *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	return &Metrics{
		Evaluations: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "tutela_policy_evaluations_total",
			Help: "Policy evaluations performed, by outcome",
		}, []string{"outcome"}),
		EvaluationDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "tutela_policy_evaluation_duration_seconds",
			Help:    "Wall time of a single policy evaluation",
			Buckets: prometheus.DefBuckets,
		}),
		CacheHits: promauto.NewCounter(prometheus.CounterOpts{
			Name: "tutela_policy_cache_hits_total",
			Help: "Evaluations served from the decision cache",
		}),
		CacheMisses: promauto.NewCounter(prometheus.CounterOpts{
			Name: "tutela_policy_cache_misses_total",
			Help: "Evaluations that had to execute the rule body",
		}),
		Deployments: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "tutela_policy_deployments_total",
			Help: "Policy deployments performed, by environment",
		}, []string{"environment"}),
		Rollbacks: promauto.NewCounter(prometheus.CounterOpts{
			Name: "tutela_policy_rollbacks_total",
			Help: "Policy rollback versions created",
		}),
		TestRuns: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "tutela_policy_test_runs_total",
			Help: "Policy test suite executions, by result",
		}, []string{"result"}),
	}
}
