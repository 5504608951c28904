package attest

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus instruments for the attestation service.
// Construct once per process; promauto registers globally.
type Metrics struct {
	Signings        *prometheus.CounterVec
	SigningDuration prometheus.Histogram
	Verifications   *prometheus.CounterVec
	Revocations     prometheus.Counter
	CascadedItems   prometheus.Counter
	KeysGenerated   *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	return &Metrics{
		Signings: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "tutela_attest_signings_total",
			Help: "Signing requests, by result",
		}, []string{"result"}),
		SigningDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "tutela_attest_signing_duration_seconds",
			Help:    "Wall time of a signing request",
			Buckets: prometheus.DefBuckets,
		}),
		Verifications: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "tutela_attest_verifications_total",
			Help: "Verification requests, by trust level",
		}, []string{"trust_level"}),
		Revocations: promauto.NewCounter(prometheus.CounterOpts{
			Name: "tutela_attest_revocations_total",
			Help: "Attestations revoked directly",
		}),
		CascadedItems: promauto.NewCounter(prometheus.CounterOpts{
			Name: "tutela_attest_cascaded_revocations_total",
			Help: "Attestations revoked through a cascade",
		}),
		KeysGenerated: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "tutela_attest_keys_generated_total",
			Help: "Key pairs generated, by algorithm",
		}, []string{"algorithm"}),
	}
}
