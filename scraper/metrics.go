package scraper

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var pagesFetched = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "chainblock_scraper_pages_fetched",
	Help: "Number of candidate pages fetched",
}, []string{"method"})

var pagesRateLimited = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "chainblock_scraper_pages_rate_limited",
	Help: "Number of page fetches answered with a rate limit",
}, []string{"method"})

var hydrations = promauto.NewCounter(prometheus.CounterOpts{
	Name: "chainblock_scraper_hydrations",
	Help: "Number of pages re-fetched as the operator after an alternate account read them",
})
