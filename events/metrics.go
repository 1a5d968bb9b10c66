package events

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var eventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "chainblock_events_published",
	Help: "Number of session events published",
}, []string{"kind"})

var subscribersGauge = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "chainblock_events_subscribers",
	Help: "Number of connected event subscribers",
})

var subscribersDropped = promauto.NewCounter(prometheus.CounterOpts{
	Name: "chainblock_events_subscribers_dropped",
	Help: "Number of event subscribers disconnected for falling behind",
})
