package swcache

import "github.com/prometheus/client_golang/prometheus"

var (
	precacheCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "treniren",
		Subsystem: "swcache",
		Name:      "precache_entries_total",
		Help:      "Pre-cache manifest entries processed during install by result.",
	}, []string{"result"})

	partitionsDeletedCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "treniren",
		Subsystem: "swcache",
		Name:      "partitions_deleted_total",
		Help:      "Cache partitions deleted by lifecycle phase.",
	}, []string{"phase"})

	lifecycleCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "treniren",
		Subsystem: "swcache",
		Name:      "lifecycle_transitions_total",
		Help:      "Worker lifecycle states reached.",
	}, []string{"state"})
)

func init() {
	prometheus.MustRegister(precacheCounter, partitionsDeletedCounter, lifecycleCounter)
}
