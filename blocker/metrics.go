package blocker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var writesCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "chainblock_blocker_writes",
	Help: "Number of actions performed, by verb and outcome",
}, []string{"verb", "status"})

var flushDuration = promauto.NewHistogram(prometheus.HistogramOpts{
	Name:    "chainblock_blocker_flush_duration_sec",
	Help:    "Duration of a batch flush",
	Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
})
