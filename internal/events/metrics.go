package events

import "github.com/prometheus/client_golang/prometheus"

var (
	published = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "treniren",
		Subsystem: "events",
		Name:      "published_total",
		Help:      "Events written to Kafka by topic.",
	}, []string{"topic"})

	publishFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "treniren",
		Subsystem: "events",
		Name:      "publish_failures_total",
		Help:      "Events that could not be written to Kafka by topic.",
	}, []string{"topic"})
)

func init() {
	prometheus.MustRegister(published, publishFailures)
}
