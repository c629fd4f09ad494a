// Package metrics holds the Prometheus collectors of a node. A nil *Metrics is
// valid and records nothing.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "jenlib"

type Metrics struct {
	registry *prometheus.Registry

	MessagesReceived  *prometheus.CounterVec
	MessagesRejected  *prometheus.CounterVec
	ReadingsAccepted  prometheus.Counter
	SessionsStarted   prometheus.Counter
	SessionsEnded     *prometheus.CounterVec
	StateTransitions  *prometheus.CounterVec
	EventsDropped     prometheus.Counter
	TimerCallbacks    prometheus.Counter
	LinkConnected     *prometheus.GaugeVec
	LastTemperature   *prometheus.GaugeVec
	LastHumidity      *prometheus.GaugeVec
	BackendPublishErr prometheus.Counter
}

// New creates the collectors on a private registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		MessagesReceived: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "messages",
				Name:      "received_total",
				Help:      "Protocol messages received, by type",
			},
			[]string{"type"},
		),

		MessagesRejected: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "messages",
				Name:      "rejected_total",
				Help:      "Messages discarded by the codec or a state machine, by reason",
			},
			[]string{"reason"},
		),

		ReadingsAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "readings",
			Name:      "accepted_total",
			Help:      "Readings accepted by the broker",
		}),

		SessionsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sessions",
			Name:      "started_total",
			Help:      "Sessions started",
		}),

		SessionsEnded: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "sessions",
				Name:      "ended_total",
				Help:      "Sessions ended, by reason",
			},
			[]string{"reason"},
		),

		StateTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "fsm",
				Name:      "transitions_total",
				Help:      "State machine transitions",
			},
			[]string{"role", "from", "to"},
		),

		EventsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "dropped_total",
			Help:      "Events dropped by a full dispatcher queue",
		}),

		TimerCallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "timers",
			Name:      "callbacks_total",
			Help:      "Timer callbacks invoked",
		}),

		LinkConnected: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "transport",
				Name:      "connected",
				Help:      "Link state (0=down, 1=up)",
			},
			[]string{"device"},
		),

		LastTemperature: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "readings",
				Name:      "temperature_celsius",
				Help:      "Last accepted temperature per sensor",
			},
			[]string{"sensor"},
		),

		LastHumidity: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "readings",
				Name:      "humidity_percent",
				Help:      "Last accepted relative humidity per sensor",
			},
			[]string{"sensor"},
		),

		BackendPublishErr: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "backend",
			Name:      "publish_errors_total",
			Help:      "Failed publishes to the upstream backend",
		}),
	}

	m.registry.MustRegister(
		m.MessagesReceived,
		m.MessagesRejected,
		m.ReadingsAccepted,
		m.SessionsStarted,
		m.SessionsEnded,
		m.StateTransitions,
		m.EventsDropped,
		m.TimerCallbacks,
		m.LinkConnected,
		m.LastTemperature,
		m.LastHumidity,
		m.BackendPublishErr,
	)
	return m
}

// Registry exposes the underlying registry, mostly for tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
