package ingest

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	messagesReceivedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "telemetry_messages_received_total",
			Help: "Total number of accelerometer messages delivered by the broker",
		},
		[]string{"device_id"},
	)

	messagesDroppedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "telemetry_messages_dropped_total",
			Help: "Total number of accelerometer messages discarded as malformed",
		},
		[]string{"device_id", "reason"},
	)

	refreshBatchSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "telemetry_refresh_batch_size",
			Help:    "Number of samples applied per window refresh tick",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10),
		},
	)

	rawLogEntries = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "telemetry_raw_log_entries",
			Help: "Raw samples held in a session buffer; grows until logout",
		},
		[]string{"device_id"},
	)
)
