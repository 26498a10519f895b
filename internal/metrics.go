package internal

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Shared engine metrics.
var (
	EngineEventsCounterVec = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dirwatch",
		Subsystem: "engine",
		Name:      "events_total",
		Help:      "The number of events published to sinks",
	}, []string{"dir", "kind"})

	EngineOverflowCounterVec = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dirwatch",
		Subsystem: "engine",
		Name:      "overflow_total",
		Help:      "The number of overflow notifications skipped",
	}, []string{"dir"})

	EngineRunningGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "dirwatch",
		Subsystem: "engine",
		Name:      "running",
		Help:      "The number of engines currently watching a directory",
	})

	EngineTerminationCounterVec = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dirwatch",
		Subsystem: "engine",
		Name:      "terminations_total",
		Help:      "The number of engine runs that ended, by final state",
	}, []string{"state"})

	EngineStopSecondsHistogram = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "dirwatch",
		Subsystem: "engine",
		Name:      "stop_seconds",
		Help:      "Time between a stop request and the engine reaching a terminal state",
		Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14),
	})

	MonitorDroppedCounter = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "dirwatch",
		Subsystem: "monitor",
		Name:      "dropped_total",
		Help:      "The number of events dropped for slow subscribers",
	})

	SinkErrorCounterVec = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dirwatch",
		Subsystem: "sink",
		Name:      "errors_total",
		Help:      "The number of events a sink failed to deliver",
	}, []string{"sink"})
)
