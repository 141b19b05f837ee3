package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	Connections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "ws_active_connections",
		Help: "Active websocket connections",
	})
	JoinedUsers = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "ws_joined_users",
		Help: "Users with at least one joined connection on this instance",
	})
	MessagesSent = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "messages_sent_total",
		Help: "Messages persisted through Send",
	})
	Deliveries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "realtime_deliveries_total",
		Help: "Live pushes by event and outcome",
	}, []string{"event", "outcome"})
	NotificationFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "notification_failures_total",
		Help: "Notifications that could not be stored after retries",
	})
)

func Init() {
	prometheus.MustRegister(Connections, JoinedUsers, MessagesSent, Deliveries, NotificationFailures)
}

// Handler returns an http.Handler for Prometheus scraping
func Handler() http.Handler {
	return promhttp.Handler()
}
