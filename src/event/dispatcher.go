// Package event fans typed events out from producers to registered consumers.
//
// Dispatch only enqueues. Callbacks run inside Process, in arrival order, and callbacks
// for the same event type run in registration order. Registrations and dispatches made
// from inside a callback are seen by the next Process pass.
package event

import (
	"log"
	"sync"

	"github.com/G1-H25/jenlib/src/inter"
)

// QueueCapacity is the number of pending events kept before the oldest is dropped.
const QueueCapacity = 32

type registration struct {
	id        inter.EventID
	eventType inter.EventType
	callback  inter.EventCallback
}

// Dispatcher owns one callback registry and one pending queue.
type Dispatcher struct {
	mu       sync.Mutex
	byID     map[inter.EventID]registration
	byType   map[inter.EventType][]inter.EventID
	pending  *ring
	lastID   uint32
	dropped  uint64
	dropHook func(inter.Event)
}

type Option func(*Dispatcher)

// WithDropHook is called, outside the lock, for every event evicted by overflow.
func WithDropHook(fn func(inter.Event)) Option {
	return func(d *Dispatcher) { d.dropHook = fn }
}

// WithQueueCapacity overrides QueueCapacity.
func WithQueueCapacity(n int) Option {
	return func(d *Dispatcher) { d.pending = newRing(n) }
}

func NewDispatcher(opts ...Option) *Dispatcher {
	d := &Dispatcher{
		byID:    make(map[inter.EventID]registration),
		byType:  make(map[inter.EventType][]inter.EventID),
		pending: newRing(QueueCapacity),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Register adds cb for eventType. On error the id is inter.InvalidEventID.
func (d *Dispatcher) Register(eventType inter.EventType, cb inter.EventCallback) (inter.EventID, error) {
	if cb == nil {
		return inter.InvalidEventID, inter.ErrNilCallback
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	d.lastID++
	if d.lastID == uint32(inter.InvalidEventID) {
		d.lastID++
	}
	id := inter.EventID(d.lastID)
	d.byID[id] = registration{id: id, eventType: eventType, callback: cb}
	d.byType[eventType] = append(d.byType[eventType], id)
	return id, nil
}

// Unregister removes one callback.
func (d *Dispatcher) Unregister(id inter.EventID) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	reg, ok := d.byID[id]
	if !ok {
		return inter.ErrEventNotFound
	}
	delete(d.byID, id)
	ids := d.byType[reg.eventType]
	for i, v := range ids {
		if v == id {
			d.byType[reg.eventType] = append(ids[:i:i], ids[i+1:]...)
			break
		}
	}
	if len(d.byType[reg.eventType]) == 0 {
		delete(d.byType, reg.eventType)
	}
	return nil
}

// UnregisterAll removes every callback for eventType and returns how many were removed.
func (d *Dispatcher) UnregisterAll(eventType inter.EventType) int {
	d.mu.Lock()
	defer d.mu.Unlock()

	ids := d.byType[eventType]
	for _, id := range ids {
		delete(d.byID, id)
	}
	delete(d.byType, eventType)
	return len(ids)
}

// Dispatch queues ev. A full queue silently drops its oldest event.
func (d *Dispatcher) Dispatch(ev inter.Event) {
	d.mu.Lock()
	dropped, evicted := d.pending.Push(ev)
	if evicted {
		d.dropped++
	}
	hook := d.dropHook
	d.mu.Unlock()

	if evicted && hook != nil {
		hook(dropped)
	}
}

// Process delivers every pending event and returns the number of callback invocations.
func (d *Dispatcher) Process() int {
	d.mu.Lock()
	events := d.pending.Drain()
	if len(events) == 0 {
		d.mu.Unlock()
		return 0
	}
	// snapshot the registry so callbacks may (un)register freely
	batches := make([][]registration, len(events))
	for i, ev := range events {
		ids := d.byType[ev.Type]
		regs := make([]registration, 0, len(ids))
		for _, id := range ids {
			regs = append(regs, d.byID[id])
		}
		batches[i] = regs
	}
	d.mu.Unlock()

	invoked := 0
	for i, ev := range events {
		for _, reg := range batches[i] {
			invoke(reg, ev)
			invoked++
		}
	}
	return invoked
}

func invoke(reg registration, ev inter.Event) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("Event: callback %d for %s panicked: %v", reg.id, ev.Type, r)
		}
	}()
	reg.callback(ev)
}

// PendingCount returns the number of queued events.
func (d *Dispatcher) PendingCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pending.Len()
}

// CallbackCount returns the number of registered callbacks.
func (d *Dispatcher) CallbackCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.byID)
}

// Dropped returns how many events were evicted by overflow since creation.
func (d *Dispatcher) Dropped() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dropped
}

// ClearAll removes every callback and pending event.
func (d *Dispatcher) ClearAll() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.byID = make(map[inter.EventID]registration)
	d.byType = make(map[inter.EventType][]inter.EventID)
	d.pending.Reset()
}
