package metrics

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/G1-H25/jenlib/src/inter"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorders(t *testing.T) {
	m := New()

	m.MessageReceived(inter.MsgReading)
	m.MessageReceived(inter.MsgReading)
	m.MessageRejected("session_mismatch")
	m.ReadingAccepted(inter.ReadingMsg{SenderID: 0x2A, Temperature: -250, Humidity: 5050})
	m.SessionStarted()
	m.SessionEnded("stop")
	m.Transition("broker", "NoSession", "SessionStarted")
	m.EventDropped(inter.Event{})
	m.TimerFired(3)
	m.TimerFired(0)
	m.Link(0x2A, true)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.MessagesReceived.WithLabelValues(inter.MsgReading.String())))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.MessagesRejected.WithLabelValues("session_mismatch")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ReadingsAccepted))
	assert.Equal(t, -2.5, testutil.ToFloat64(m.LastTemperature.WithLabelValues(inter.DeviceID(0x2A).String())))
	assert.Equal(t, 50.5, testutil.ToFloat64(m.LastHumidity.WithLabelValues(inter.DeviceID(0x2A).String())))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SessionsStarted))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SessionsEnded.WithLabelValues("stop")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.StateTransitions.WithLabelValues("broker", "NoSession", "SessionStarted")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EventsDropped))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.TimerCallbacks))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.LinkConnected.WithLabelValues(inter.DeviceID(0x2A).String())))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.MessageReceived(inter.MsgReceipt)
		m.MessageRejected("x")
		m.ReadingAccepted(inter.ReadingMsg{})
		m.SessionStarted()
		m.SessionEnded("x")
		m.Transition("sensor", "a", "b")
		m.EventDropped(inter.Event{})
		m.TimerFired(1)
		m.Link(1, false)
		m.BackendPublishFailed()
	})
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Equal(t, 404, rec.Code)
}

func TestHandlerExposition(t *testing.T) {
	m := New()
	m.SessionStarted()

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()
	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "jenlib_sessions_started_total 1")
}
