package redact

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus instruments for the protection engine. Construct
// once per process; promauto registers globally.
type Metrics struct {
	Operations        *prometheus.CounterVec
	Refusals          *prometheus.CounterVec
	Reversals         prometheus.Counter
	ReversalRefusals  prometheus.Counter
	BatchItems        prometheus.Counter
	OperationDuration prometheus.Histogram
}

func NewMetrics() *Metrics {
	return &Metrics{
		Operations: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "tutela_redact_operations_total",
			Help: "Protection operations applied, by operation kind",
		}, []string{"operation"}),
		Refusals: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "tutela_redact_refusals_total",
			Help: "Operations refused, by reason",
		}, []string{"reason"}),
		Reversals: promauto.NewCounter(prometheus.CounterOpts{
			Name: "tutela_redact_reversals_total",
			Help: "Transformations reversed through a valid handle",
		}),
		ReversalRefusals: promauto.NewCounter(prometheus.CounterOpts{
			Name: "tutela_redact_reversal_refusals_total",
			Help: "Reversal attempts refused",
		}),
		BatchItems: promauto.NewCounter(prometheus.CounterOpts{
			Name: "tutela_redact_batch_items_total",
			Help: "Items processed through batch redaction",
		}),
		OperationDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "tutela_redact_operation_duration_seconds",
			Help:    "Wall time of a single protection operation",
			Buckets: prometheus.DefBuckets,
		}),
	}
}
