package metrics

import (
	"github.com/G1-H25/jenlib/src/inter"
)

func (m *Metrics) MessageReceived(t inter.MessageType) {
	if m == nil {
		return
	}
	m.MessagesReceived.WithLabelValues(t.String()).Inc()
}

func (m *Metrics) MessageRejected(reason string) {
	if m == nil {
		return
	}
	m.MessagesRejected.WithLabelValues(reason).Inc()
}

// ReadingAccepted counts the reading and records its values for its sensor.
func (m *Metrics) ReadingAccepted(r inter.ReadingMsg) {
	if m == nil {
		return
	}
	m.ReadingsAccepted.Inc()
	m.LastTemperature.WithLabelValues(r.SenderID.String()).Set(r.Celsius())
	m.LastHumidity.WithLabelValues(r.SenderID.String()).Set(r.Percent())
}

func (m *Metrics) SessionStarted() {
	if m == nil {
		return
	}
	m.SessionsStarted.Inc()
}

func (m *Metrics) SessionEnded(reason string) {
	if m == nil {
		return
	}
	m.SessionsEnded.WithLabelValues(reason).Inc()
}

func (m *Metrics) Transition(role, from, to string) {
	if m == nil {
		return
	}
	m.StateTransitions.WithLabelValues(role, from, to).Inc()
}

// EventDropped matches the dispatcher's drop hook signature.
func (m *Metrics) EventDropped(inter.Event) {
	if m == nil {
		return
	}
	m.EventsDropped.Inc()
}

func (m *Metrics) TimerFired(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.TimerCallbacks.Add(float64(n))
}

func (m *Metrics) Link(device inter.DeviceID, up bool) {
	if m == nil {
		return
	}
	v := 0.0
	if up {
		v = 1
	}
	m.LinkConnected.WithLabelValues(device.String()).Set(v)
}

func (m *Metrics) BackendPublishFailed() {
	if m == nil {
		return
	}
	m.BackendPublishErr.Inc()
}
