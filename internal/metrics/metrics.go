package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const moduleLabel = "handler_module"

// Labels returns the prometheus labels for the handler module.
func Labels(module string) prometheus.Labels {
	return prometheus.Labels{moduleLabel: module}
}

var (
	// DispatchLatency is how long one full dispatch pass takes, including
	// all handler invocations and delivery log writes.
	DispatchLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "fanout",
		Subsystem: "dispatch",
		Name:      "latency_seconds",
		Help:      "Duration of one dispatch pass in seconds",
		Buckets:   []float64{0.001, 0.01, 0.1, 0.5, 1.0, 2.0, 5.0, 10.0, 30.0, 60.0},
	})

	// HandlerLatency is how long a single handler invocation takes.
	HandlerLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "fanout",
		Subsystem: "handler",
		Name:      "latency_seconds",
		Help:      "Duration of a single handler invocation in seconds",
		Buckets:   []float64{0.001, 0.01, 0.1, 0.5, 1.0, 2.0, 5.0, 10.0, 30.0},
	}, []string{moduleLabel})

	// HandlerErrors is the number of failed handler invocations.
	HandlerErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fanout",
		Subsystem: "handler",
		Name:      "error_count",
		Help:      "Number of failed handler invocations",
	}, []string{moduleLabel})

	// EventsRetried is the number of dispatch passes that returned an event
	// to pending for a later retry.
	EventsRetried = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "fanout",
		Subsystem: "dispatch",
		Name:      "retry_count",
		Help:      "Number of events returned to pending for retry",
	})

	// EventsDeadLettered is the number of events that exhausted their retry
	// budget and were marked permanently failed.
	EventsDeadLettered = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "fanout",
		Subsystem: "dispatch",
		Name:      "dead_lettered_count",
		Help:      "Number of events marked permanently failed",
	})

	// DeliveriesRecorded is the number of delivery log rows written.
	DeliveriesRecorded = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fanout",
		Subsystem: "delivery",
		Name:      "recorded_count",
		Help:      "Number of delivery log entries recorded",
	}, []string{"status"})
)

func init() {
	prometheus.MustRegister(
		DispatchLatency,
		HandlerLatency,
		HandlerErrors,
		EventsRetried,
		EventsDeadLettered,
		DeliveriesRecorded,
	)
}
