package reconcile

import "github.com/prometheus/client_golang/prometheus"

var (
	submissions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "treniren",
		Subsystem: "reconcile",
		Name:      "entries_total",
		Help:      "Queue entries processed by operation and result.",
	}, []string{"op", "result"})

	passDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "treniren",
		Subsystem: "reconcile",
		Name:      "pass_duration_seconds",
		Help:      "Duration of reconciliation passes.",
		Buckets:   prometheus.DefBuckets,
	})

	passesBusy = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "treniren",
		Subsystem: "reconcile",
		Name:      "passes_busy_total",
		Help:      "Passes that found the sync lease held by another process.",
	})
)

func init() {
	prometheus.MustRegister(submissions, passDuration, passesBusy)
}
