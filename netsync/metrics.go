package netsync

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	height        prometheus.Gauge
	blocks        prometheus.Counter
	notes         *prometheus.CounterVec
	spends        *prometheus.CounterVec
	reorgs        prometheus.Counter
	batchDuration prometheus.Histogram
}

// NewMetrics registers the sync metrics with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		height: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "zwallet",
			Name:      "synced_height",
			Help:      "Height of the last committed checkpoint.",
		}),
		blocks: f.NewCounter(prometheus.CounterOpts{
			Namespace: "zwallet",
			Name:      "blocks_processed_total",
			Help:      "Compact blocks applied to the wallet.",
		}),
		notes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "zwallet",
			Name:      "notes_received_total",
			Help:      "Notes decrypted for wallet accounts.",
		}, []string{"pool"}),
		spends: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "zwallet",
			Name:      "notes_spent_total",
			Help:      "Wallet notes seen spent on chain.",
		}, []string{"pool"}),
		reorgs: f.NewCounter(prometheus.CounterOpts{
			Namespace: "zwallet",
			Name:      "reorgs_total",
			Help:      "Chain reorganizations recovered from.",
		}),
		batchDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: "zwallet",
			Name:      "batch_duration_seconds",
			Help:      "Time to decrypt and commit one batch of blocks.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
	}
}
