package manager

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var sessionsTracked = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "chainblock_manager_sessions",
	Help: "Number of sessions held by the manager",
})

var sessionStarts = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "chainblock_manager_starts_total",
	Help: "Session starts, by trigger",
}, []string{"trigger"})

var historyWriteErrors = promauto.NewCounter(prometheus.CounterOpts{
	Name: "chainblock_manager_history_write_errors_total",
	Help: "Number of finished sessions which could not be saved",
})
