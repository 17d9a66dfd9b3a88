package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// All metrics are low-cardinality: labels carry connection types and health
// levels, never camera IDs.

var (
	// ProbesTotal counts probe attempts by connection type and outcome.
	ProbesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "camconnect_probes_total",
			Help: "Total connection probes by type and outcome",
		},
		[]string{"connection_type", "outcome"},
	)

	// ProbeLatency tracks probe round-trip time.
	ProbeLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "camconnect_probe_latency_ms",
			Help:    "Probe latency in milliseconds",
			Buckets: []float64{50, 100, 250, 500, 1000, 1500, 3000, 5000, 10000},
		},
		[]string{"connection_type"},
	)

	// CamerasByLevel gauges the current population per health level.
	CamerasByLevel = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "camconnect_cameras_by_level",
			Help: "Number of monitored cameras per health level",
		},
		[]string{"level"},
	)

	// HealthTransitionsTotal counts level transitions.
	HealthTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "camconnect_health_transitions_total",
			Help: "Health level transitions by target level",
		},
		[]string{"to"},
	)

	// ReconnectAttemptsTotal counts reconnection attempts by outcome.
	ReconnectAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "camconnect_reconnect_attempts_total",
			Help: "Reconnection attempts by outcome",
		},
		[]string{"outcome"},
	)

	// SchedulerQueueDropped counts ticks dropped under backpressure.
	SchedulerQueueDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "camconnect_scheduler_queue_dropped_total",
			Help: "Health check jobs dropped because the worker queue was full",
		},
	)
)

func ObserveProbe(connectionType string, success bool, d time.Duration) {
	outcome := "failure"
	if success {
		outcome = "success"
	}
	ProbesTotal.WithLabelValues(connectionType, outcome).Inc()
	ProbeLatency.WithLabelValues(connectionType).Observe(float64(d.Milliseconds()))
}

func RecordTransition(to string) {
	HealthTransitionsTotal.WithLabelValues(to).Inc()
}

func RecordReconnectAttempt(success bool) {
	if success {
		ReconnectAttemptsTotal.WithLabelValues("success").Inc()
	} else {
		ReconnectAttemptsTotal.WithLabelValues("failure").Inc()
	}
}

func SetLevelCount(level string, n int) {
	CamerasByLevel.WithLabelValues(level).Set(float64(n))
}

func QueueDropped() {
	SchedulerQueueDropped.Inc()
}
