package sync

import (
	gosync "sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// transportMetrics tracks push and receive traffic per backend. Registered
// once for the process; both backends share the collectors and distinguish
// themselves through the backend label.
type transportMetrics struct {
	eventsPushed   *prometheus.CounterVec
	eventsReceived *prometheus.CounterVec
	pushFailures   *prometheus.CounterVec
	pushLatency    *prometheus.HistogramVec
	activeGroups   *prometheus.GaugeVec
	connectedPeers prometheus.Gauge
}

var (
	tmOnce           gosync.Once
	tm               *transportMetrics
	syncMetricsReg   prometheus.Registerer = prometheus.DefaultRegisterer
	syncMetricsRegMu gosync.Mutex
)

func getTransportMetrics() *transportMetrics {
	tmOnce.Do(func() {
		syncMetricsRegMu.Lock()
		factory := promauto.With(syncMetricsReg)
		syncMetricsRegMu.Unlock()
		tm = &transportMetrics{
			eventsPushed: factory.NewCounterVec(prometheus.CounterOpts{
				Namespace: "splitsync",
				Subsystem: "transport",
				Name:      "events_pushed_total",
				Help:      "Events handed to the transport for propagation.",
			}, []string{"backend"}),
			eventsReceived: factory.NewCounterVec(prometheus.CounterOpts{
				Namespace: "splitsync",
				Subsystem: "transport",
				Name:      "events_received_total",
				Help:      "Events received from remote devices.",
			}, []string{"backend"}),
			pushFailures: factory.NewCounterVec(prometheus.CounterOpts{
				Namespace: "splitsync",
				Subsystem: "transport",
				Name:      "push_failures_total",
				Help:      "Pushes that failed and surfaced an error to the caller.",
			}, []string{"backend"}),
			pushLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "splitsync",
				Subsystem: "transport",
				Name:      "push_duration_seconds",
				Help:      "Latency of propagating one event.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"backend"}),
			activeGroups: factory.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "splitsync",
				Subsystem: "transport",
				Name:      "active_group_listeners",
				Help:      "Groups with an active inbound listener.",
			}, []string{"backend"}),
			connectedPeers: factory.NewGauge(prometheus.GaugeOpts{
				Namespace: "splitsync",
				Subsystem: "transport",
				Name:      "mesh_connected_peers",
				Help:      "Currently connected mesh peers.",
			}),
		}
	})
	return tm
}

// resetTransportMetricsForTesting points registration at a fresh registry so
// tests can construct transports without duplicate collector panics.
func resetTransportMetricsForTesting() {
	syncMetricsRegMu.Lock()
	defer syncMetricsRegMu.Unlock()
	syncMetricsReg = prometheus.NewRegistry()
	tmOnce = gosync.Once{}
	tm = nil
}
