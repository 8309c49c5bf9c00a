package localstore

import "github.com/prometheus/client_golang/prometheus"

var (
	degradedCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "treniren",
		Subsystem: "localstore",
		Name:      "degraded_operations_total",
		Help:      "Store operations that fell back to an empty result or no-op after a storage error.",
	}, []string{"op"})

	droppedRecordsCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "treniren",
		Subsystem: "localstore",
		Name:      "dropped_records_total",
		Help:      "Stored records discarded because they failed structural validation.",
	})

	markedSyncedCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "treniren",
		Subsystem: "localstore",
		Name:      "workouts_marked_synced_total",
		Help:      "Workouts transitioned to synced and removed from the sync queue.",
	})
)

func init() {
	prometheus.MustRegister(degradedCounter, droppedRecordsCounter, markedSyncedCounter)
}
