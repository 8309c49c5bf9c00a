package connectivity

import "github.com/prometheus/client_golang/prometheus"

var (
	onlineGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "treniren",
		Subsystem: "connectivity",
		Name:      "online",
		Help:      "1 while the monitor believes the device is online.",
	})

	queueLengthGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "treniren",
		Subsystem: "connectivity",
		Name:      "sync_queue_length",
		Help:      "Entries waiting in the sync queue at the last refresh.",
	})

	unsyncedGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "treniren",
		Subsystem: "connectivity",
		Name:      "unsynced_workouts",
		Help:      "Stored workouts not yet accepted by the server at the last refresh.",
	})
)

func init() {
	prometheus.MustRegister(onlineGauge, queueLengthGauge, unsyncedGauge)
}

func recordOnline(online bool) {
	if online {
		onlineGauge.Set(1)
		return
	}
	onlineGauge.Set(0)
}

func recordState(s State) {
	queueLengthGauge.Set(float64(s.QueueLength()))
	unsyncedGauge.Set(float64(s.UnsyncedCount()))
}
