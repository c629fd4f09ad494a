// Package timer schedules one-shot and repeating callbacks on a wrapping millisecond clock.
//
// Callbacks only run inside Process, on the caller's goroutine. Timers scheduled or
// cancelled from inside a callback take effect on the next pass.
package timer

import (
	"log"
	"sync"

	"github.com/G1-H25/jenlib/src/inter"
)

// Capacity is the size of the timer table.
const Capacity = 16

type entry struct {
	id       inter.TimerID
	interval uint32
	armedAt  uint32
	callback inter.TimerCallback
	repeat   bool
	active   bool
}

type dueTimer struct {
	id       inter.TimerID
	callback inter.TimerCallback
}

// Service owns one timer table. Create one per application and pass it to whoever
// needs to schedule work.
type Service struct {
	mu      sync.Mutex
	clock   inter.Clock
	entries []entry
	lastID  uint32
}

func NewService(clock inter.Clock) *Service {
	return &Service{
		clock:   clock,
		entries: make([]entry, 0, Capacity),
	}
}

// Clock returns the clock the service was built with.
func (s *Service) Clock() inter.Clock { return s.clock }

// Now samples the backing clock.
func (s *Service) Now() uint32 { return s.clock.NowMs() }

// Delay blocks for ms via the clock collaborator.
func (s *Service) Delay(ms uint32) { s.clock.SleepMs(ms) }

// Schedule arms a timer that fires intervalMs from now. On error the returned id is
// inter.InvalidTimerID.
func (s *Service) Schedule(intervalMs uint32, cb inter.TimerCallback, repeat bool) (inter.TimerID, error) {
	if intervalMs == 0 {
		return inter.InvalidTimerID, inter.ErrInvalidInterval
	}
	if cb == nil {
		return inter.InvalidTimerID, inter.ErrNilCallback
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	e := entry{
		id:       s.allocID(),
		interval: intervalMs,
		armedAt:  s.clock.NowMs(),
		callback: cb,
		repeat:   repeat,
		active:   true,
	}

	if len(s.entries) < Capacity {
		s.entries = append(s.entries, e)
		return e.id, nil
	}
	// 表已满：复用已取消的槽位
	for i := range s.entries {
		if !s.entries[i].active {
			s.entries[i] = e
			return e.id, nil
		}
	}
	return inter.InvalidTimerID, inter.ErrTimerTableFull
}

func (s *Service) allocID() inter.TimerID {
	s.lastID++
	if s.lastID == uint32(inter.InvalidTimerID) {
		s.lastID++
	}
	return inter.TimerID(s.lastID)
}

// Cancel stops future firings of id.
func (s *Service) Cancel(id inter.TimerID) error {
	if id == inter.InvalidTimerID {
		return inter.ErrTimerNotFound
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.entries {
		if s.entries[i].id == id && s.entries[i].active {
			s.entries[i].active = false
			return nil
		}
	}
	return inter.ErrTimerNotFound
}

// IsActive reports whether id is still armed.
func (s *Service) IsActive(id inter.TimerID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.entries {
		if e.id == id {
			return e.active
		}
	}
	return false
}

// Process fires every due timer once and returns the number of callbacks invoked.
// A panicking callback is logged and does not stop the pass.
func (s *Service) Process() int {
	s.mu.Lock()
	now := s.clock.NowMs()
	var due []dueTimer
	for _, e := range s.entries {
		if e.active && TimeDifference(now, e.armedAt) >= e.interval {
			due = append(due, dueTimer{id: e.id, callback: e.callback})
		}
	}
	s.mu.Unlock()

	for _, d := range due {
		invoke(d)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	after := s.clock.NowMs()
	for _, d := range due {
		for i := range s.entries {
			e := &s.entries[i]
			if e.id != d.id || !e.active {
				continue
			}
			if e.repeat {
				e.armedAt = after
			} else {
				e.active = false
			}
		}
	}
	s.compact()
	return len(due)
}

func invoke(d dueTimer) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("Timer: callback %d panicked: %v", d.id, r)
		}
	}()
	d.callback()
}

func (s *Service) compact() {
	kept := s.entries[:0]
	for _, e := range s.entries {
		if e.active {
			kept = append(kept, e)
		}
	}
	for i := len(kept); i < len(s.entries); i++ {
		s.entries[i] = entry{}
	}
	s.entries = kept
}

// ActiveCount returns the number of armed timers.
func (s *Service) ActiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, e := range s.entries {
		if e.active {
			n++
		}
	}
	return n
}

// TotalCount returns the number of occupied slots, cancelled ones included.
func (s *Service) TotalCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// ClearAll drops every timer.
func (s *Service) ClearAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.entries {
		s.entries[i] = entry{}
	}
	s.entries = s.entries[:0]
}
