package sensor

import (
	"errors"
	"testing"

	"github.com/G1-H25/jenlib/src/inter"
	"github.com/G1-H25/jenlib/src/timer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	sensorID inter.DeviceID  = 0x2A
	brokerID inter.DeviceID  = 0x01
	session  inter.SessionID = 0x1234
)

func newRunning(t *testing.T, clock *timer.ManualClock) *Machine {
	t.Helper()
	m := NewMachine(sensorID, clock)
	require.NoError(t, m.HandleConnectionChange(true))
	require.NoError(t, m.HandleStartBroadcast(brokerID, inter.StartBroadcastMsg{TargetID: sensorID, SessionID: session}))
	return m
}

// =============================================================================
// 测试：转换表
// =============================================================================

func TestTransitionTable(t *testing.T) {
	all := []State{Disconnected, Waiting, Running, Error}
	legal := map[[2]State]bool{
		{Disconnected, Waiting}: true, {Disconnected, Error}: true,
		{Waiting, Running}: true, {Waiting, Disconnected}: true, {Waiting, Error}: true,
		{Running, Waiting}: true, {Running, Disconnected}: true, {Running, Error}: true,
		{Error, Disconnected}: true,
	}
	for _, from := range all {
		for _, to := range all {
			assert.Equal(t, legal[[2]State{from, to}], IsValidTransition(from, to), "%s -> %s", from, to)
		}
	}
}

func TestInitialRecord(t *testing.T) {
	m := NewMachine(sensorID, timer.NewManualClock(0))
	assert.Equal(t, Disconnected, m.State())
	assert.Equal(t, inter.NoSession, m.CurrentSessionID())
	assert.False(t, m.IsSessionActive())
	assert.Equal(t, DefaultMeasurementIntervalMs, m.MeasurementInterval())
}

// =============================================================================
// 测试：会话生命周期
// =============================================================================

func TestConnectStartEnd(t *testing.T) {
	clock := timer.NewManualClock(500)
	m := newRunning(t, clock)

	assert.Equal(t, Running, m.State())
	assert.Equal(t, session, m.CurrentSessionID())
	assert.Equal(t, brokerID, m.BrokerID())
	assert.True(t, m.IsSessionActive())

	clock.Advance(250)
	assert.Equal(t, uint32(250), m.SessionOffset())

	require.NoError(t, m.HandleSessionEnd())
	assert.Equal(t, Waiting, m.State())
	assert.Equal(t, inter.NoSession, m.CurrentSessionID())
	assert.Equal(t, inter.DeviceID(0), m.BrokerID())
	assert.False(t, m.IsSessionActive())
	assert.Zero(t, m.SessionOffset())
}

func TestStartFromDisconnectedRejected(t *testing.T) {
	m := NewMachine(sensorID, timer.NewManualClock(0))
	err := m.HandleStartBroadcast(brokerID, inter.StartBroadcastMsg{TargetID: sensorID, SessionID: session})
	assert.True(t, errors.Is(err, inter.ErrInvalidTransition))
	assert.Equal(t, Disconnected, m.State())
	assert.Equal(t, inter.NoSession, m.CurrentSessionID())
}

func TestStartWithZeroSessionRejected(t *testing.T) {
	m := NewMachine(sensorID, timer.NewManualClock(0))
	require.NoError(t, m.HandleConnectionChange(true))
	err := m.HandleStartBroadcast(brokerID, inter.StartBroadcastMsg{TargetID: sensorID})
	assert.True(t, errors.Is(err, inter.ErrInvalidSession))
	assert.Equal(t, Waiting, m.State())
}

func TestSecondStartWhileRunningRejected(t *testing.T) {
	m := newRunning(t, timer.NewManualClock(0))
	err := m.HandleStartBroadcast(0x99, inter.StartBroadcastMsg{TargetID: sensorID, SessionID: 0x9999})
	assert.True(t, errors.Is(err, inter.ErrInvalidTransition))
	assert.Equal(t, session, m.CurrentSessionID())
	assert.Equal(t, brokerID, m.BrokerID())
}

func TestConnectionEdges(t *testing.T) {
	m := NewMachine(sensorID, timer.NewManualClock(0))
	assert.Error(t, m.HandleConnectionChange(false), "already disconnected")

	require.NoError(t, m.HandleConnectionChange(true))
	assert.Error(t, m.HandleConnectionChange(true), "already waiting")

	require.NoError(t, m.HandleConnectionChange(false))
	assert.Equal(t, Disconnected, m.State())
}

func TestDisconnectWhileRunningClearsSession(t *testing.T) {
	m := newRunning(t, timer.NewManualClock(0))
	require.NoError(t, m.HandleConnectionChange(false))
	assert.Equal(t, Disconnected, m.State())
	assert.Equal(t, inter.NoSession, m.CurrentSessionID())
}

// =============================================================================
// 测试：回执与测量
// =============================================================================

func TestReceipt(t *testing.T) {
	m := newRunning(t, timer.NewManualClock(0))

	require.NoError(t, m.HandleReceipt(brokerID, inter.ReceiptMsg{SessionID: session, UpToOffsetMs: 3000}))
	assert.Equal(t, uint32(3000), m.LastAckedOffset())

	// stale receipt does not move the mark backwards
	require.NoError(t, m.HandleReceipt(brokerID, inter.ReceiptMsg{SessionID: session, UpToOffsetMs: 1000}))
	assert.Equal(t, uint32(3000), m.LastAckedOffset())

	err := m.HandleReceipt(brokerID, inter.ReceiptMsg{SessionID: session + 1, UpToOffsetMs: 9000})
	assert.True(t, errors.Is(err, inter.ErrSessionMismatch))
	assert.Equal(t, uint32(3000), m.LastAckedOffset())
	assert.Equal(t, Running, m.State())
}

func TestReceiptOutsideSession(t *testing.T) {
	m := NewMachine(sensorID, timer.NewManualClock(0))
	require.NoError(t, m.HandleConnectionChange(true))
	err := m.HandleReceipt(brokerID, inter.ReceiptMsg{SessionID: session})
	assert.True(t, errors.Is(err, inter.ErrInvalidTransition))
	assert.Zero(t, m.LastAckedOffset())
}

func TestMeasurementTimer(t *testing.T) {
	m := NewMachine(sensorID, timer.NewManualClock(0))
	assert.Error(t, m.HandleMeasurementTimer())

	require.NoError(t, m.HandleConnectionChange(true))
	require.NoError(t, m.HandleStartBroadcast(brokerID, inter.StartBroadcastMsg{TargetID: sensorID, SessionID: session}))
	for i := 0; i < 3; i++ {
		require.NoError(t, m.HandleMeasurementTimer())
	}
	assert.Equal(t, uint32(3), m.ReadingCount())

	// a new session resets the counters
	require.NoError(t, m.HandleSessionEnd())
	require.NoError(t, m.HandleStartBroadcast(brokerID, inter.StartBroadcastMsg{TargetID: sensorID, SessionID: session + 1}))
	assert.Zero(t, m.ReadingCount())
}

func TestSessionOffsetAcrossWrap(t *testing.T) {
	clock := timer.NewManualClock(0xFFFFFF00)
	m := newRunning(t, clock)
	clock.Advance(0x200)
	assert.Equal(t, uint32(0x200), m.SessionOffset())
}

// =============================================================================
// 测试：错误与恢复
// =============================================================================

func TestErrorAndRecovery(t *testing.T) {
	m := newRunning(t, timer.NewManualClock(0))
	var seen []string
	m.OnTransition(func(from, to State) { seen = append(seen, from.String()+"->"+to.String()) })

	m.HandleError("sensor read failed")
	assert.Equal(t, Error, m.State())
	assert.Equal(t, "sensor read failed", m.LastError())
	assert.Equal(t, inter.NoSession, m.CurrentSessionID())

	// Error is sticky until recovery
	m.HandleError("again")
	assert.Error(t, m.HandleConnectionChange(true))
	assert.Equal(t, Error, m.State())

	m.HandleRecovery()
	assert.Equal(t, Disconnected, m.State())
	m.HandleRecovery()

	assert.Equal(t, []string{"Running->Error", "Error->Disconnected"}, seen)
}

func TestHandleEvent(t *testing.T) {
	m := NewMachine(sensorID, timer.NewManualClock(0))

	assert.True(t, m.HandleEvent(inter.Event{Type: inter.EventConnectionStateChange, Data: 1}))
	assert.Equal(t, Waiting, m.State())
	assert.False(t, m.HandleEvent(inter.Event{Type: inter.EventMeasurementReady}))
	assert.False(t, m.HandleEvent(inter.Event{Type: inter.EventGpioChange}))

	require.NoError(t, m.HandleStartBroadcast(brokerID, inter.StartBroadcastMsg{TargetID: sensorID, SessionID: session}))
	assert.True(t, m.HandleEvent(inter.Event{Type: inter.EventMeasurementReady}))
	assert.Equal(t, uint32(1), m.ReadingCount())

	assert.True(t, m.HandleEvent(inter.Event{Type: inter.EventConnectionStateChange, Data: 0}))
	assert.Equal(t, Disconnected, m.State())
}

func TestSnapshot(t *testing.T) {
	clock := timer.NewManualClock(42)
	m := NewMachine(sensorID, clock)
	m.SetMeasurementInterval(250)
	m.SetMeasurementInterval(0)
	require.NoError(t, m.HandleConnectionChange(true))
	require.NoError(t, m.HandleStartBroadcast(brokerID, inter.StartBroadcastMsg{TargetID: sensorID, SessionID: session}))

	assert.Equal(t, Session{
		State:               Running,
		SessionID:           session,
		BrokerID:            brokerID,
		StartedAt:           42,
		MeasurementInterval: 250,
	}, m.Snapshot())
}
