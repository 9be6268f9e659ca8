package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	CredentialsIssued    prometheus.Counter
	CredentialsAmended   prometheus.Counter
	VerificationFailures prometheus.Counter
	KeyDerivationSeconds prometheus.Histogram
}

// New creates and registers all Prometheus metrics.
func New() *Metrics {
	return &Metrics{
		CredentialsIssued: promauto.NewCounter(prometheus.CounterOpts{
			Name: "vouch_credentials_issued_total",
			Help: "Total number of credentials issued",
		}),
		CredentialsAmended: promauto.NewCounter(prometheus.CounterOpts{
			Name: "vouch_credentials_amended_total",
			Help: "Total number of credential amendments issued",
		}),
		VerificationFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "vouch_verification_failures_total",
			Help: "Total number of failed credential verifications",
		}),
		KeyDerivationSeconds: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "vouch_key_derivation_seconds",
			Help:    "Wall time spent deriving main keys from passphrases",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		}),
	}
}
