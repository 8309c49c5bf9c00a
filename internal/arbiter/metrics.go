package arbiter

import "github.com/prometheus/client_golang/prometheus"

var fetchCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "treniren",
	Subsystem: "arbiter",
	Name:      "fetch_total",
	Help:      "Arbitrated requests by class and the source that answered them.",
}, []string{"class", "source"})

func init() {
	prometheus.MustRegister(fetchCounter)
}

func observe(class Class, source string) {
	fetchCounter.WithLabelValues(class.String(), source).Inc()
}
