package antiblock

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var examinations = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "chainblock_retriever_examinations_total",
	Help: "Number of reader examinations, by outcome",
}, []string{"outcome"})

var cacheHits = promauto.NewCounter(prometheus.CounterOpts{
	Name: "chainblock_retriever_cache_hits_total",
	Help: "Number of reader lookups answered from the cache",
})
