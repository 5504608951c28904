package audit

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus instruments for the chain service and the stream
// publisher. Construct once per process; promauto registers globally.
type Metrics struct {
	Appended          *prometheus.CounterVec
	AppendConflicts   prometheus.Counter
	AppendDuration    prometheus.Histogram
	IntegrityChecks   prometheus.Counter
	IntegrityFindings *prometheus.CounterVec
	Exports           *prometheus.CounterVec
	StreamPublished   prometheus.Counter
	StreamFailures    prometheus.Counter
	StreamSampled     prometheus.Counter
}

func NewMetrics() *Metrics {
	return &Metrics{
		Appended: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "tutela_audit_entries_appended_total",
			Help: "Audit entries appended to a chain, by category",
		}, []string{"category"}),
		AppendConflicts: promauto.NewCounter(prometheus.CounterOpts{
			Name: "tutela_audit_append_conflicts_total",
			Help: "Append attempts retried because another writer advanced the chain",
		}),
		AppendDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "tutela_audit_append_duration_seconds",
			Help:    "Wall time of a chain append including retries",
			Buckets: prometheus.DefBuckets,
		}),
		IntegrityChecks: promauto.NewCounter(prometheus.CounterOpts{
			Name: "tutela_audit_integrity_checks_total",
			Help: "Chain validation passes performed",
		}),
		IntegrityFindings: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "tutela_audit_integrity_findings_total",
			Help: "Integrity findings reported, by severity",
		}, []string{"severity"}),
		Exports: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "tutela_audit_exports_total",
			Help: "Audit exports generated, by format",
		}, []string{"format"}),
		StreamPublished: promauto.NewCounter(prometheus.CounterOpts{
			Name: "tutela_audit_stream_published_total",
			Help: "Entries published to the audit stream",
		}),
		StreamFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "tutela_audit_stream_failures_total",
			Help: "Entries dropped after a stream produce failure",
		}),
		StreamSampled: promauto.NewCounter(prometheus.CounterOpts{
			Name: "tutela_audit_stream_sampled_total",
			Help: "Operations entries dropped by stream sampling",
		}),
	}
}
