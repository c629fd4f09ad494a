package fsm

import (
	"fmt"

	"github.com/G1-H25/jenlib/src/inter"
)

// TransitionError carries the rejected edge. It matches inter.ErrInvalidTransition.
type TransitionError[S State] struct {
	Machine string
	From    S
	To      S
}

func (e *TransitionError[S]) Error() string {
	return fmt.Sprintf("%s: transition %s -> %s not allowed", e.Machine, e.From, e.To)
}

func (e *TransitionError[S]) Unwrap() error { return inter.ErrInvalidTransition }
