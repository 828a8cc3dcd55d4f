package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Analyzer metrics for production monitoring
var (
	// Ingestion metrics
	ObservationsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dca_observations_total",
			Help: "Total number of sensor node observations consumed",
		},
	)

	MalformedObservationsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dca_malformed_observations_total",
			Help: "Total number of observations skipped as malformed",
		},
	)

	// Population metrics
	PopulationSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "dca_population_size",
			Help: "Current number of live dendritic cells",
		},
	)

	CellsRetiredTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dca_cells_retired_total",
			Help: "Total number of retired dendritic cells by verdict",
		},
		[]string{"verdict"}, // verdict: mature/semimature
	)

	IterationDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "dca_iteration_duration_seconds",
			Help:    "Duration of one full DCA iteration",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 12), // 100µs to ~0.4s
		},
	)

	// Classification metrics
	ClassificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dca_classifications_total",
			Help: "Total number of classification records emitted",
		},
		[]string{"context"}, // context: normal/anomalous
	)

	MCAVObserved = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "dca_mcav",
			Help:    "Distribution of emitted mature-cell anomaly values",
			Buckets: prometheus.LinearBuckets(0, 0.25, 16),
		},
	)

	// Sink metrics
	SinkWriteErrorsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dca_sink_write_errors_total",
			Help: "Total number of failed classification sink writes",
		},
	)

	// Source metrics
	MQTTMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dca_mqtt_messages_total",
			Help: "Total number of MQTT node-update messages by decode status",
		},
		[]string{"status"}, // status: ok/malformed/dropped
	)

	// WebSocket metrics
	WebSocketConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "dca_websocket_connections",
			Help: "Current number of active WebSocket subscribers",
		},
	)
)
