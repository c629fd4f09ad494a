// Package broker implements the broker role: it starts sessions on command and
// accepts readings only from the sensor and session it started.
package broker

import (
	"fmt"
	"log"

	"github.com/G1-H25/jenlib/src/fsm"
	"github.com/G1-H25/jenlib/src/inter"
	"github.com/G1-H25/jenlib/src/timer"
)

// Session is a snapshot of the broker's session record.
type Session struct {
	State        State
	SessionID    inter.SessionID
	SensorID     inter.DeviceID
	StartedAt    uint32
	ReadingCount uint32
	LastOffset   uint32
}

type Machine struct {
	fsm   *fsm.Machine[State]
	clock inter.Clock

	sessionID    inter.SessionID
	sensorID     inter.DeviceID
	sessionStart uint32
	readingCount uint32
	lastOffset   uint32
	lastError    string

	// 后端超时：0 表示不检查
	backendTimeout uint32
	lastActivity   uint32

	observer func(from, to State)
}

func NewMachine(clock inter.Clock) *Machine {
	m := &Machine{
		fsm:   fsm.New[State]("Broker", table{}),
		clock: clock,
	}
	m.fsm.OnExit(SessionStarted, m.clearSession)
	m.fsm.OnTransition(func(from, to State) {
		log.Printf("Broker: %s -> %s", from, to)
		if m.observer != nil {
			m.observer(from, to)
		}
	})
	return m
}

func (m *Machine) OnTransition(fn func(from, to State)) { m.observer = fn }

// SetBackendTimeout enables the TimeTick timeout check. Zero disables it.
func (m *Machine) SetBackendTimeout(ms uint32) { m.backendTimeout = ms }

func (m *Machine) State() State { return m.fsm.Current() }

func (m *Machine) CurrentSessionID() inter.SessionID { return m.sessionID }

func (m *Machine) TargetSensorID() inter.DeviceID { return m.sensorID }

func (m *Machine) IsSessionActive() bool {
	return m.fsm.Is(SessionStarted) && m.sessionID != inter.NoSession
}

func (m *Machine) ReadingCount() uint32 { return m.readingCount }

func (m *Machine) LastOffset() uint32 { return m.lastOffset }

func (m *Machine) LastError() string { return m.lastError }

func (m *Machine) Snapshot() Session {
	return Session{
		State:        m.State(),
		SessionID:    m.sessionID,
		SensorID:     m.sensorID,
		StartedAt:    m.sessionStart,
		ReadingCount: m.readingCount,
		LastOffset:   m.lastOffset,
	}
}

// HandleStartCommand opens a session with one sensor. Only legal from NoSession.
func (m *Machine) HandleStartCommand(sensorID inter.DeviceID, sessionID inter.SessionID) error {
	if !m.fsm.CanTransition(SessionStarted) {
		return m.fsm.Request(SessionStarted)
	}
	if sessionID == inter.NoSession {
		return inter.ErrInvalidSession
	}
	m.sessionID = sessionID
	m.sensorID = sensorID
	m.sessionStart = m.clock.NowMs()
	m.lastActivity = m.sessionStart
	m.readingCount = 0
	m.lastOffset = 0
	m.fsm.TransitionTo(SessionStarted)
	return nil
}

// HandleReading accepts a reading if the link sender, the reading's own sender
// field and its session all match the active session.
func (m *Machine) HandleReading(sender inter.DeviceID, msg inter.ReadingMsg) error {
	if !m.fsm.Is(SessionStarted) {
		return fmt.Errorf("Broker: reading in %s: %w", m.State(), inter.ErrInvalidTransition)
	}
	if sender != m.sensorID || msg.SenderID != m.sensorID {
		return inter.ErrSenderMismatch
	}
	if msg.SessionID != m.sessionID {
		return inter.ErrSessionMismatch
	}
	m.readingCount++
	if msg.OffsetMs > m.lastOffset {
		m.lastOffset = msg.OffsetMs
	}
	return nil
}

func (m *Machine) HandleSessionEnd() error {
	if !m.fsm.Is(SessionStarted) {
		return fmt.Errorf("Broker: session end in %s: %w", m.State(), inter.ErrInvalidTransition)
	}
	return m.fsm.Request(NoSession)
}

// HandleBackendTimeout has the same effect as HandleSessionEnd.
func (m *Machine) HandleBackendTimeout() error {
	if !m.fsm.Is(SessionStarted) {
		return fmt.Errorf("Broker: backend timeout in %s: %w", m.State(), inter.ErrInvalidTransition)
	}
	log.Printf("Broker: backend silent for session %s, ending it", m.sessionID)
	return m.fsm.Request(NoSession)
}

// NoteBackendActivity restarts the backend timeout window.
func (m *Machine) NoteBackendActivity(now uint32) { m.lastActivity = now }

func (m *Machine) HandleError(message string) {
	m.lastError = message
	log.Printf("Broker: error: %s", message)
	if !m.fsm.Is(Error) {
		m.fsm.TransitionTo(Error)
	}
}

func (m *Machine) HandleRecovery() {
	if !m.fsm.Is(NoSession) {
		m.fsm.TransitionTo(NoSession)
	}
}

// HandleEvent checks the backend timeout on TimeTick events, whose data is the
// current clock value.
func (m *Machine) HandleEvent(ev inter.Event) bool {
	switch ev.Type {
	case inter.EventTimeTick:
		if m.backendTimeout == 0 || !m.IsSessionActive() {
			return false
		}
		// tick sampled before the latest activity
		if int32(ev.Data-m.lastActivity) < 0 {
			return false
		}
		if timer.TimeDifference(ev.Data, m.lastActivity) < m.backendTimeout {
			return false
		}
		return m.HandleBackendTimeout() == nil
	}
	return false
}

func (m *Machine) clearSession() {
	m.sessionID = inter.NoSession
	m.sensorID = 0
	m.sessionStart = 0
}
