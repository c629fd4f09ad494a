package inter

import "time"

// SessionRecord 会话记录
type SessionRecord struct {
	SessionID    SessionID  `json:"session_id"`
	SensorID     DeviceID   `json:"sensor_id"`
	StartedAt    time.Time  `json:"started_at"`
	EndedAt      *time.Time `json:"ended_at,omitempty"`
	EndReason    string     `json:"end_reason,omitempty"`
	ReadingCount int        `json:"reading_count"`
}

// StoredReading 已确认的采样点
type StoredReading struct {
	SessionID   SessionID `json:"session_id"`
	SensorID    DeviceID  `json:"sensor_id"`
	OffsetMs    uint32    `json:"offset_ms"`
	Temperature int16     `json:"temperature"`
	Humidity    uint16    `json:"humidity"`
	ReceivedAt  time.Time `json:"received_at"`
}

// ReadingStore persists sessions and the readings the broker accepted.
type ReadingStore interface {
	// OpenSession records a new session. Re-opening an existing id replaces it.
	OpenSession(session SessionID, sensor DeviceID, startedAt time.Time) error

	// AppendReading stores one accepted reading and bumps the session's reading count.
	AppendReading(r StoredReading) error

	// CloseSession stamps the end time and reason.
	CloseSession(session SessionID, reason string, endedAt time.Time) error

	// QueryReadings returns the readings of one session ordered by offset.
	QueryReadings(session SessionID) ([]StoredReading, error)

	// ListSessions returns the most recent sessions first.
	ListSessions(limit int) ([]SessionRecord, error)

	// GetSession fails with ErrStoreNotFound for an unknown id.
	GetSession(session SessionID) (SessionRecord, error)

	Close() error
}

// BackendAction 后端指令类型
type BackendAction string

const (
	ActionStart BackendAction = "start"
	ActionStop  BackendAction = "stop"
	ActionPing  BackendAction = "ping"
)

// BackendCommand 后端下发给 broker 的指令
type BackendCommand struct {
	Action    BackendAction `json:"action"`
	SensorID  DeviceID      `json:"sensor_id,omitempty"`
	SessionID SessionID     `json:"session_id,omitempty"`
}

// Backend is the upstream system that drives the broker.
type Backend interface {
	// PollCommand returns the next pending command without blocking.
	PollCommand() (BackendCommand, bool)
	// PublishReading forwards an accepted reading upstream.
	PublishReading(r StoredReading) error
	// PublishState reports the broker's session state.
	PublishState(state string, session SessionID) error
	// LastSeen is the time of the last message received from the backend.
	LastSeen() time.Time
	Close() error
}
