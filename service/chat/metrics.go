package chat

import "github.com/prometheus/client_golang/prometheus"

// Metrics are the hub's Prometheus collectors.
type Metrics struct {
	Connected   prometheus.Gauge
	Invocations *prometheus.CounterVec
	Broadcasts  prometheus.Counter
	Drops       prometheus.Counter
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "pphub",
			Subsystem: "hub",
			Name:      "connected_clients",
			Help:      "Number of clients connected to this node.",
		}),
		Invocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pphub",
			Subsystem: "hub",
			Name:      "invocations_total",
			Help:      "Hub method invocations received, by target.",
		}, []string{"target"}),
		Broadcasts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pphub",
			Subsystem: "hub",
			Name:      "broadcasts_total",
			Help:      "Broadcasts delivered to this node's clients.",
		}),
		Drops: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pphub",
			Subsystem: "hub",
			Name:      "broadcast_drops_total",
			Help:      "Broadcast frames skipped because a client's send queue was full.",
		}),
	}
	reg.MustRegister(m.Connected, m.Invocations, m.Broadcasts, m.Drops)
	return m
}
