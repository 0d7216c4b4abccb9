package keystore

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "alertrelay"

// Bloom lookup results.
const (
	lookupBypass        = "bypass"
	lookupNegative      = "negative"
	lookupConfirmed     = "confirmed"
	lookupFalsePositive = "false_positive"
)

var (
	bloomLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "keystore",
			Name:      "bloom_lookups_total",
			Help:      "Key existence checks by store user and filter result",
		},
		[]string{"store_user", "result"},
	)

	bloomRestoreDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "keystore",
			Name:      "bloom_restore_duration_seconds",
			Help:      "Time to populate the bloom filter from the backing store",
			Buckets:   []float64{.01, .05, .1, .5, 1, 5, 10, 30, 60, 120},
		},
		[]string{"store_user", "status"},
	)
)

func recordBloomLookup(storeUser, result string) {
	bloomLookups.WithLabelValues(storeUser, result).Inc()
}

func recordBloomRestore(storeUser, status string, duration time.Duration) {
	bloomRestoreDuration.WithLabelValues(storeUser, status).Observe(duration.Seconds())
}
