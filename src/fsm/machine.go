// Package fsm is a small state container shared by the sensor and broker roles.
//
// A Machine only knows the current state and the hooks around a transition. The set of
// legal transitions belongs to the role and is supplied as a Table.
package fsm

import (
	"fmt"
	"log"
)

// State is any comparable enum with a readable name.
type State interface {
	comparable
	fmt.Stringer
}

// Table is the authoritative transition policy of one role.
type Table[S State] interface {
	InitialState() S
	IsValidTransition(from, to S) bool
}

type Hook func()

type TransitionObserver[S State] func(from, to S)

// Machine tracks the current state and runs exit, entry and observer hooks around
// every transition. It is not safe for concurrent use; the owning control loop
// serialises access.
type Machine[S State] struct {
	name     string
	table    Table[S]
	current  S
	onEntry  map[S]Hook
	onExit   map[S]Hook
	observer TransitionObserver[S]
}

func New[S State](name string, table Table[S]) *Machine[S] {
	return &Machine[S]{
		name:    name,
		table:   table,
		current: table.InitialState(),
		onEntry: make(map[S]Hook),
		onExit:  make(map[S]Hook),
	}
}

func (m *Machine[S]) Name() string { return m.name }

func (m *Machine[S]) Current() S { return m.current }

func (m *Machine[S]) Is(s S) bool { return m.current == s }

// OnEntry registers the hook run after the machine enters s.
func (m *Machine[S]) OnEntry(s S, h Hook) { m.onEntry[s] = h }

// OnExit registers the hook run before the machine leaves s.
func (m *Machine[S]) OnExit(s S, h Hook) { m.onExit[s] = h }

// OnTransition registers the observer run after every transition.
func (m *Machine[S]) OnTransition(fn TransitionObserver[S]) { m.observer = fn }

// CanTransition consults the table without changing anything.
func (m *Machine[S]) CanTransition(to S) bool {
	return m.table.IsValidTransition(m.current, to)
}

// Request moves to `to` if the table allows it. Otherwise the state is unchanged and
// ErrInvalidTransition is returned.
func (m *Machine[S]) Request(to S) error {
	if !m.CanTransition(to) {
		return &TransitionError[S]{Machine: m.name, From: m.current, To: to}
	}
	m.TransitionTo(to)
	return nil
}

// TransitionTo runs exit hook, state change, entry hook, observer. Hook panics are
// logged and do not stop the transition. Callers are expected to have checked the
// table first.
func (m *Machine[S]) TransitionTo(to S) {
	from := m.current
	if h, ok := m.onExit[from]; ok {
		m.run("exit "+from.String(), h)
	}
	m.current = to
	if h, ok := m.onEntry[to]; ok {
		m.run("entry "+to.String(), h)
	}
	if m.observer != nil {
		obs := m.observer
		m.run("observer", func() { obs(from, to) })
	}
}

// Reset forces the initial state without running hooks.
func (m *Machine[S]) Reset() { m.current = m.table.InitialState() }

func (m *Machine[S]) run(what string, h Hook) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("%s: %s hook panicked: %v", m.name, what, r)
		}
	}()
	h()
}
