package chainblock

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var sessionsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "chainblock_sessions_finished",
	Help: "Number of session runs which ended, by final status",
}, []string{"status"})

var sessionsRunning = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "chainblock_sessions_running",
	Help: "Number of session loops currently running",
})

var decisionsCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "chainblock_decisions",
	Help: "Number of candidates decided, by verb",
}, []string{"verb"})

var rateLimitWaits = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "chainblock_rate_limit_waits",
	Help: "Number of backoff waits after a throttled page",
}, []string{"method"})
