// Package sensor implements the sensor role of the session protocol.
package sensor

import (
	"fmt"
	"log"

	"github.com/G1-H25/jenlib/src/fsm"
	"github.com/G1-H25/jenlib/src/inter"
	"github.com/G1-H25/jenlib/src/timer"
)

// DefaultMeasurementIntervalMs is used until SetMeasurementInterval is called.
const DefaultMeasurementIntervalMs uint32 = 1000

// Session is a snapshot of the sensor's session record.
type Session struct {
	State               State
	SessionID           inter.SessionID
	BrokerID            inter.DeviceID
	StartedAt           uint32
	MeasurementInterval uint32
	ReadingCount        uint32
	LastAckedOffset     uint32
}

// Machine is the sensor state machine. It trusts its caller to have filtered
// StartBroadcast messages by target id.
type Machine struct {
	fsm   *fsm.Machine[State]
	clock inter.Clock
	id    inter.DeviceID

	sessionID    inter.SessionID
	brokerID     inter.DeviceID
	sessionStart uint32
	interval     uint32
	readingCount uint32
	lastAcked    uint32
	lastError    string

	observer func(from, to State)
}

func NewMachine(id inter.DeviceID, clock inter.Clock) *Machine {
	m := &Machine{
		fsm:      fsm.New[State](fmt.Sprintf("Sensor[%s]", id), table{}),
		clock:    clock,
		id:       id,
		interval: DefaultMeasurementIntervalMs,
	}
	// leaving Running always ends the session
	m.fsm.OnExit(Running, m.clearSession)
	m.fsm.OnTransition(func(from, to State) {
		log.Printf("%s: %s -> %s", m.fsm.Name(), from, to)
		if m.observer != nil {
			m.observer(from, to)
		}
	})
	return m
}

// OnTransition registers an observer for every state change.
func (m *Machine) OnTransition(fn func(from, to State)) { m.observer = fn }

func (m *Machine) DeviceID() inter.DeviceID { return m.id }

func (m *Machine) State() State { return m.fsm.Current() }

func (m *Machine) CurrentSessionID() inter.SessionID { return m.sessionID }

func (m *Machine) BrokerID() inter.DeviceID { return m.brokerID }

func (m *Machine) IsSessionActive() bool {
	return m.fsm.Is(Running) && m.sessionID != inter.NoSession
}

func (m *Machine) ReadingCount() uint32 { return m.readingCount }

func (m *Machine) LastAckedOffset() uint32 { return m.lastAcked }

func (m *Machine) LastError() string { return m.lastError }

func (m *Machine) MeasurementInterval() uint32 { return m.interval }

// SetMeasurementInterval applies to the next session; zero is ignored.
func (m *Machine) SetMeasurementInterval(ms uint32) {
	if ms > 0 {
		m.interval = ms
	}
}

// SessionOffset is the wrap-safe time since the session started, in ms.
func (m *Machine) SessionOffset() uint32 {
	if !m.IsSessionActive() {
		return 0
	}
	return timer.TimeDifference(m.clock.NowMs(), m.sessionStart)
}

func (m *Machine) Snapshot() Session {
	return Session{
		State:               m.State(),
		SessionID:           m.sessionID,
		BrokerID:            m.brokerID,
		StartedAt:           m.sessionStart,
		MeasurementInterval: m.interval,
		ReadingCount:        m.readingCount,
		LastAckedOffset:     m.lastAcked,
	}
}

// HandleConnectionChange moves Disconnected -> Waiting on connect and any other
// state -> Disconnected on disconnect.
func (m *Machine) HandleConnectionChange(connected bool) error {
	if connected {
		return m.fsm.Request(Waiting)
	}
	// Disconnected -> Disconnected is not in the table, so a repeated edge fails
	return m.fsm.Request(Disconnected)
}

// HandleStartBroadcast starts a session. Only legal while Waiting.
func (m *Machine) HandleStartBroadcast(sender inter.DeviceID, msg inter.StartBroadcastMsg) error {
	if !m.fsm.CanTransition(Running) {
		return m.fsm.Request(Running)
	}
	if msg.SessionID == inter.NoSession {
		return inter.ErrInvalidSession
	}
	m.sessionID = msg.SessionID
	m.brokerID = sender
	m.sessionStart = m.clock.NowMs()
	m.readingCount = 0
	m.lastAcked = 0
	m.fsm.TransitionTo(Running)
	return nil
}

// HandleReceipt accepts an acknowledgement for the active session.
func (m *Machine) HandleReceipt(sender inter.DeviceID, msg inter.ReceiptMsg) error {
	if !m.fsm.Is(Running) {
		return fmt.Errorf("%s: receipt in %s: %w", m.fsm.Name(), m.State(), inter.ErrInvalidTransition)
	}
	if msg.SessionID != m.sessionID {
		return inter.ErrSessionMismatch
	}
	if msg.UpToOffsetMs > m.lastAcked {
		m.lastAcked = msg.UpToOffsetMs
	}
	return nil
}

// HandleSessionEnd returns to Waiting and clears the session.
func (m *Machine) HandleSessionEnd() error {
	if !m.fsm.Is(Running) {
		return fmt.Errorf("%s: session end in %s: %w", m.fsm.Name(), m.State(), inter.ErrInvalidTransition)
	}
	return m.fsm.Request(Waiting)
}

// HandleMeasurementTimer tells the caller whether it may take and send a reading now.
func (m *Machine) HandleMeasurementTimer() error {
	if !m.IsSessionActive() {
		return fmt.Errorf("%s: measurement in %s: %w", m.fsm.Name(), m.State(), inter.ErrInvalidTransition)
	}
	m.readingCount++
	return nil
}

// HandleError forces Error from any state. The message is kept for diagnostics.
func (m *Machine) HandleError(message string) {
	m.lastError = message
	log.Printf("%s: error: %s", m.fsm.Name(), message)
	if !m.fsm.Is(Error) {
		m.fsm.TransitionTo(Error)
	}
}

// HandleRecovery forces Disconnected from any state.
func (m *Machine) HandleRecovery() {
	if !m.fsm.Is(Disconnected) {
		m.fsm.TransitionTo(Disconnected)
	}
}

// HandleEvent routes dispatcher events. It reports whether the event changed anything.
func (m *Machine) HandleEvent(ev inter.Event) bool {
	switch ev.Type {
	case inter.EventConnectionStateChange:
		return m.HandleConnectionChange(ev.Data != 0) == nil
	case inter.EventMeasurementReady:
		return m.HandleMeasurementTimer() == nil
	}
	return false
}

func (m *Machine) clearSession() {
	m.sessionID = inter.NoSession
	m.brokerID = 0
	m.sessionStart = 0
}
