package notifications

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "alertrelay"

var (
	notificationsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notifications",
			Name:      "sent_total",
			Help:      "Channel dispatch outcomes",
		},
		[]string{"channel_type", "provider", "status"},
	)

	notificationSendDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "notifications",
			Name:      "send_duration_seconds",
			Help:      "Time to publish to a channel, retries included",
			Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"channel_type"},
	)

	notificationsSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notifications",
			Name:      "skipped_total",
			Help:      "Channels withheld before dispatch by reason",
		},
		[]string{"channel_type", "reason"},
	)

	alertsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "alerts",
			Name:      "processed_total",
			Help:      "Alerts consumed from the stream by result",
		},
		[]string{"topic", "result"},
	)

	redeliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "alerts",
			Name:      "redeliveries_total",
			Help:      "Alerts scheduled for redelivery or given up on",
		},
		[]string{"result"},
	)
)

// recordNotificationSent records a channel dispatch outcome.
func recordNotificationSent(channelType, provider, status string) {
	notificationsSent.WithLabelValues(channelType, provider, status).Inc()
}

// recordNotificationDuration records channel publish duration.
func recordNotificationDuration(channelType string, duration time.Duration) {
	notificationSendDuration.WithLabelValues(channelType).Observe(duration.Seconds())
}

func recordSkipped(channelType, reason string) {
	notificationsSkipped.WithLabelValues(channelType, reason).Inc()
}

func recordAlertProcessed(topic, result string) {
	alertsProcessed.WithLabelValues(topic, result).Inc()
}

func recordRedelivery(result string) {
	redeliveries.WithLabelValues(result).Inc()
}
