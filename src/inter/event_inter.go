package inter

import "fmt"

// EventType 事件类型
type EventType uint8

const (
	EventTimeTick EventType = iota + 1
	EventBleMessage
	EventGpioChange
	EventMeasurementReady
	EventConnectionStateChange

	// EventUserDefined is the first value of the application extension range.
	EventUserDefined EventType = 0x80
)

func (t EventType) String() string {
	switch t {
	case EventTimeTick:
		return "TimeTick"
	case EventBleMessage:
		return "BleMessage"
	case EventGpioChange:
		return "GpioChange"
	case EventMeasurementReady:
		return "MeasurementReady"
	case EventConnectionStateChange:
		return "ConnectionStateChange"
	}
	if t >= EventUserDefined {
		return fmt.Sprintf("UserDefined(%d)", uint8(t-EventUserDefined))
	}
	return fmt.Sprintf("EventType(%d)", uint8(t))
}

// Event is the fixed-shape record passed through the dispatcher.
// Data is type specific, e.g. 1/0 for connected/disconnected.
type Event struct {
	Type      EventType
	Timestamp uint32
	Data      uint32
}

// EventID identifies a registered callback. InvalidEventID is never issued.
type EventID uint32

const InvalidEventID EventID = 0

type EventCallback func(Event)

// EventHandler is implemented by state machines that accept dispatcher events.
type EventHandler interface {
	HandleEvent(ev Event) bool
}

// TimerID identifies a scheduled timer. InvalidTimerID is never issued.
type TimerID uint32

const InvalidTimerID TimerID = 0

type TimerCallback func()

// Clock is the platform millisecond clock. NowMs wraps at 2^32.
type Clock interface {
	NowMs() uint32
	SleepMs(ms uint32)
}
