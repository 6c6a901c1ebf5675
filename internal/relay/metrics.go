package relay

import "github.com/prometheus/client_golang/prometheus"

// Metrics are the relay's prometheus collectors.
type Metrics struct {
	Connections prometheus.Gauge
	Rooms       prometheus.Gauge
	Members     prometheus.Gauge
	Forwarded   *prometheus.CounterVec
	Dropped     *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "shareaudio",
			Subsystem: "relay",
			Name:      "connections",
			Help:      "Open websocket connections.",
		}),
		Rooms: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "shareaudio",
			Subsystem: "relay",
			Name:      "rooms",
			Help:      "Rooms with at least one member.",
		}),
		Members: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "shareaudio",
			Subsystem: "relay",
			Name:      "members",
			Help:      "Clients that joined a room.",
		}),
		Forwarded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "shareaudio",
			Subsystem: "relay",
			Name:      "envelopes_forwarded_total",
			Help:      "Envelope deliveries to room members, by envelope type.",
		}, []string{"type"}),
		Dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "shareaudio",
			Subsystem: "relay",
			Name:      "envelopes_dropped_total",
			Help:      "Envelopes or deliveries dropped, by reason.",
		}, []string{"reason"}),
	}

	reg.MustRegister(m.Connections, m.Rooms, m.Members, m.Forwarded, m.Dropped)
	return m
}
