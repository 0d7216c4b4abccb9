package kafka

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "alertrelay"

var messagesProduced = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "kafka",
		Name:      "messages_produced_total",
		Help:      "Messages produced by topic and result",
	},
	[]string{"topic", "result"},
)

func recordProduced(topic, result string) {
	messagesProduced.WithLabelValues(topic, result).Inc()
}
