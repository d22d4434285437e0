package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// VerificationsTotal tracks verification outcomes by result and reason
	VerificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lumina_verifications_total",
		Help: "Total number of license verification requests processed",
	}, []string{"result", "reason"})

	// VerificationDuration tracks verification processing time
	VerificationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "lumina_verification_duration_seconds",
		Help:    "Histogram of verification processing duration",
		Buckets: prometheus.DefBuckets,
	})

	// ActivationsTotal tracks new activation slots consumed
	ActivationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lumina_activations_total",
		Help: "Total number of new license activations recorded",
	})

	// CacheOperations tracks license cache hits and misses
	CacheOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lumina_cache_operations_total",
		Help: "Total number of license cache hits and misses",
	}, []string{"result"})

	// AuthFailuresTotal tracks rejected admin credentials and API keys
	AuthFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lumina_auth_failures_total",
		Help: "Total number of rejected authentication attempts",
	}, []string{"kind"})

	// StoreUp indicates whether the backing store answered the last health probe
	StoreUp = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "lumina_store_up",
		Help: "Binary indicator of storage backend health (1 = reachable, 0 = down)",
	})
)
