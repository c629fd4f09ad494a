package broker

import "fmt"

type State uint8

const (
	NoSession State = iota
	SessionStarted
	Error
)

func (s State) String() string {
	switch s {
	case NoSession:
		return "NoSession"
	case SessionStarted:
		return "SessionStarted"
	case Error:
		return "Error"
	}
	return fmt.Sprintf("State(%d)", uint8(s))
}

// IsValidTransition is the broker transition table.
//
//	NoSession      -> SessionStarted | Error
//	SessionStarted -> NoSession | Error
//	Error          -> NoSession
func IsValidTransition(from, to State) bool {
	switch from {
	case NoSession:
		return to == SessionStarted || to == Error
	case SessionStarted:
		return to == NoSession || to == Error
	case Error:
		return to == NoSession
	}
	return false
}

type table struct{}

func (table) InitialState() State { return NoSession }

func (table) IsValidTransition(from, to State) bool { return IsValidTransition(from, to) }
