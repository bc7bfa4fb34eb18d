package kafka

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the bus collectors of one client.
type Metrics struct {
	Published         *prometheus.CounterVec
	PublishFailures   *prometheus.CounterVec
	Consumed          *prometheus.CounterVec
	HandlerFailures   *prometheus.CounterVec
	DeadLettered      *prometheus.CounterVec
	DeadLetterFailure *prometheus.CounterVec
	HandlerDuration   *prometheus.HistogramVec
}

// NewMetrics registers the bus collectors on reg. Collectors already
// registered by another client on the same registerer are shared.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	return &Metrics{
		Published: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "eventbus_events_published_total",
			Help: "Events written to the bus.",
		}, []string{"topic"})),
		PublishFailures: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "eventbus_publish_failures_total",
			Help: "Publish calls that failed at the transport.",
		}, []string{"topic"})),
		Consumed: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "eventbus_events_consumed_total",
			Help: "Events handled successfully.",
		}, []string{"topic", "event_type"})),
		HandlerFailures: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "eventbus_handler_failures_total",
			Help: "Records that could not be handled, by reason.",
		}, []string{"topic", "reason"})),
		DeadLettered: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "eventbus_dead_lettered_total",
			Help: "Records redirected to a dead-letter topic.",
		}, []string{"source_topic"})),
		DeadLetterFailure: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "eventbus_dead_letter_failures_total",
			Help: "Records that could not be dead-lettered and were dropped.",
		}, []string{"source_topic"})),
		HandlerDuration: register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "eventbus_handler_duration_seconds",
			Help:    "Time spent handling one record.",
			Buckets: prometheus.DefBuckets,
		}, []string{"topic"})),
	}
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing
			}
		}
		panic(err)
	}
	return c
}
