package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry       *prometheus.Registry
	ActiveSessions prometheus.Gauge
	SessionsTotal  *prometheus.CounterVec
	FramesTotal    prometheus.Counter
	InputsTotal    *prometheus.CounterVec
	StreamClients  prometheus.Gauge
}

func NewMetrics() *Metrics {
	r := prometheus.NewRegistry()
	m := &Metrics{
		registry: r,
		ActiveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "scarlet",
			Name:      "active_sessions",
			Help:      "Number of open remote sessions",
		}),
		SessionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "scarlet",
			Name:      "sessions_total",
			Help:      "Sessions by final outcome",
		}, []string{"outcome"}),
		FramesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "scarlet",
			Name:      "frames_total",
			Help:      "Frames pushed to stream clients",
		}),
		InputsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "scarlet",
			Name:      "inputs_total",
			Help:      "Input commands received by type and result",
		}, []string{"type", "result"}),
		StreamClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "scarlet",
			Name:      "stream_clients",
			Help:      "Connected stream websockets",
		}),
	}
	r.MustRegister(m.ActiveSessions, m.SessionsTotal, m.FramesTotal, m.InputsTotal, m.StreamClients)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the private registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
