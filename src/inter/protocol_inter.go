package inter

import "fmt"

// =============================================================================
// Session protocol constants and message definitions
// =============================================================================

const (
	// PayloadCapacity fixed capacity of a wire payload buffer.
	PayloadCapacity = 64
	// DeviceIDWireSize 4 raw bytes + 1 CRC-8 byte.
	DeviceIDWireSize = 5
	// ShimMarker prefixes broadcasts delivered to the broker inbox by the reference transport.
	ShimMarker byte = 0xFF
	// ShimSize marker + 4 raw LE sender bytes.
	ShimSize = 5
	// MaxHumidity hundredths of a percent.
	MaxHumidity uint16 = 10000
)

// DeviceID identifies a sensor or broker. Only the raw 32-bit value takes part in comparisons.
type DeviceID uint32

// SessionID identifies one measurement session. Zero means "no session".
type SessionID uint32

const (
	// BrokerInbox reserved inbox that receives every broadcast.
	BrokerInbox DeviceID = 0
	// NoSession the zero session id.
	NoSession SessionID = 0
)

func (d DeviceID) String() string { return fmt.Sprintf("0x%08X", uint32(d)) }

func (s SessionID) String() string { return fmt.Sprintf("%d", uint32(s)) }

// MessageType the 1-byte wire tag.
type MessageType uint8

const (
	// MsgStartBroadcast broker -> sensor
	MsgStartBroadcast MessageType = 0x01
	// MsgReading sensor -> broker
	MsgReading MessageType = 0x02
	// MsgReceipt broker -> sensor
	MsgReceipt MessageType = 0x03
)

func (t MessageType) String() string {
	switch t {
	case MsgStartBroadcast:
		return "StartBroadcast"
	case MsgReading:
		return "Reading"
	case MsgReceipt:
		return "Receipt"
	default:
		return fmt.Sprintf("MessageType(0x%02X)", uint8(t))
	}
}

// Message is the closed union of the three wire messages.
type Message interface {
	Type() MessageType
	isMessage()
}

// StartBroadcastMsg tells a sensor to start a session.
type StartBroadcastMsg struct {
	TargetID  DeviceID
	SessionID SessionID
}

// ReadingMsg one measurement from a sensor.
type ReadingMsg struct {
	SenderID    DeviceID
	SessionID   SessionID
	OffsetMs    uint32 // since session start
	Temperature int16  // hundredths of a degree Celsius
	Humidity    uint16 // hundredths of a percent, 0..10000
}

// ReceiptMsg acknowledges readings up to and including UpToOffsetMs.
type ReceiptMsg struct {
	SessionID    SessionID
	UpToOffsetMs uint32
}

func (StartBroadcastMsg) Type() MessageType { return MsgStartBroadcast }
func (ReadingMsg) Type() MessageType        { return MsgReading }
func (ReceiptMsg) Type() MessageType        { return MsgReceipt }

func (StartBroadcastMsg) isMessage() {}
func (ReadingMsg) isMessage()        {}
func (ReceiptMsg) isMessage()        {}

// Celsius returns the temperature in degrees.
func (m ReadingMsg) Celsius() float64 { return float64(m.Temperature) / 100 }

// Percent returns the relative humidity in percent.
func (m ReadingMsg) Percent() float64 { return float64(m.Humidity) / 100 }
