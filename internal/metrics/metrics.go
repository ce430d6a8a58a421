package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	Notifications = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "notify_notifications_total",
		Help: "Total change notifications received from Postgres.",
	}, []string{"channel"})
	DecodeErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "notify_decode_errors_total",
		Help: "Total notifications dropped because they could not be decoded.",
	}, []string{"channel"})
	EventsDelivered = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "notify_events_delivered_total",
		Help: "Total events queued onto a user channel.",
	}, []string{"event"})
	EventsLagged = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "notify_events_lagged_total",
		Help: "Total events a stream skipped because it read too slowly.",
	})

	ActiveStreams = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "notify_active_streams",
		Help: "Current open SSE and websocket streams.",
	})
	RegistryUsers = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "notify_registry_users",
		Help: "Users holding a fan-out channel.",
	})

	ListenerReconnects = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "notify_listener_reconnects_total",
		Help: "Total times the Postgres listener lost its connection.",
	})
)

func Register() {
	prometheus.MustRegister(
		Notifications, DecodeErrors,
		EventsDelivered, EventsLagged,
		ActiveStreams, RegistryUsers,
		ListenerReconnects,
	)
}
