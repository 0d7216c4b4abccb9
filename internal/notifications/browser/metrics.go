package browser

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var openConnections = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "alertrelay",
		Subsystem: "browser",
		Name:      "open_connections",
		Help:      "Open browser websocket connections",
	},
)

func recordConnections(n int) {
	openConnections.Set(float64(n))
}
