package sensor

import "fmt"

// State of the sensor side of a session.
type State uint8

const (
	Disconnected State = iota
	Waiting
	Running
	Error
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "Disconnected"
	case Waiting:
		return "Waiting"
	case Running:
		return "Running"
	case Error:
		return "Error"
	}
	return fmt.Sprintf("State(%d)", uint8(s))
}

// IsValidTransition is the sensor transition table.
//
//	Disconnected -> Waiting | Error
//	Waiting      -> Running | Disconnected | Error
//	Running      -> Waiting | Disconnected | Error
//	Error        -> Disconnected
func IsValidTransition(from, to State) bool {
	switch from {
	case Disconnected:
		return to == Waiting || to == Error
	case Waiting:
		return to == Running || to == Disconnected || to == Error
	case Running:
		return to == Waiting || to == Disconnected || to == Error
	case Error:
		return to == Disconnected
	}
	return false
}

type table struct{}

func (table) InitialState() State { return Disconnected }

func (table) IsValidTransition(from, to State) bool { return IsValidTransition(from, to) }
