package feedback

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var feedbackEvents = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "alertrelay",
		Subsystem: "feedback",
		Name:      "events_total",
		Help:      "Feedback events by kind and result",
	},
	[]string{"kind", "result"},
)

func recordFeedback(kind, result string) {
	feedbackEvents.WithLabelValues(kind, result).Inc()
}
