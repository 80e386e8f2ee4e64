// Package metrics exposes Prometheus collectors for the alerting service.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "sitealert"

// Alert metrics
var (
	// AlertsTriggered counts alerts created by rule evaluation.
	AlertsTriggered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_triggered_total",
			Help:      "Alerts triggered by rule evaluation",
		},
		[]string{"type", "severity"},
	)

	// RulesSkipped counts rules not evaluated or not triggered for a reason.
	RulesSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rules_skipped_total",
			Help:      "Rules skipped during evaluation by reason",
		},
		[]string{"reason"},
	)

	// SnapshotsIngested counts accepted metrics snapshots by transport.
	SnapshotsIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshots_ingested_total",
			Help:      "Metrics snapshots accepted for evaluation",
		},
		[]string{"transport"},
	)
)

// Notification metrics
var (
	// Notifications counts notification outcomes by channel and final status.
	Notifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Notification records by channel and status",
		},
		[]string{"channel", "status"},
	)

	// NotificationRetries counts transport-level retry attempts.
	NotificationRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notification_retries_total",
			Help:      "Transport retry attempts by channel",
		},
		[]string{"channel"},
	)

	// NotificationSendDuration tracks end-to-end send latency per channel.
	NotificationSendDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "notification_send_duration_seconds",
			Help:      "Channel send latency in seconds including retries",
			Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"channel", "result"},
	)
)

// ObserveSend records one dispatch attempt.
func ObserveSend(channel string, success bool, elapsed time.Duration) {
	result := "failed"
	if success {
		result = "sent"
	}
	NotificationSendDuration.WithLabelValues(channel, result).Observe(elapsed.Seconds())
}
