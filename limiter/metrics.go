package limiter

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var actionsRecorded = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "chainblock_limiter_actions_recorded",
	Help: "Number of successful actions counted against the quota",
}, []string{"verb"})

var checksLimited = promauto.NewCounter(prometheus.CounterOpts{
	Name: "chainblock_limiter_checks_limited",
	Help: "Number of quota checks which answered limited",
})
