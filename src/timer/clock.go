package timer

import (
	"math"
	"sync"
	"time"
)

// TimeDifference returns the milliseconds elapsed from previous to current on a
// wrapping 32-bit clock.
func TimeDifference(current, previous uint32) uint32 {
	if current >= previous {
		return current - previous
	}
	return (math.MaxUint32 - previous) + current + 1
}

// SystemClock is a millisecond counter measured from its creation. It wraps at 2^32
// just like the hardware tick counters it stands in for.
type SystemClock struct {
	origin time.Time
	offset uint32
}

func NewSystemClock() *SystemClock {
	return &SystemClock{origin: time.Now()}
}

// NewSystemClockAt starts the counter at start, useful to exercise wraparound on a host.
func NewSystemClockAt(start uint32) *SystemClock {
	return &SystemClock{origin: time.Now(), offset: start}
}

func (c *SystemClock) NowMs() uint32 {
	return c.offset + uint32(time.Since(c.origin).Milliseconds())
}

func (c *SystemClock) SleepMs(ms uint32) {
	time.Sleep(time.Duration(ms) * time.Millisecond)
}

// ManualClock only moves when told to. SleepMs advances it instead of blocking.
type ManualClock struct {
	mu  sync.Mutex
	now uint32
}

func NewManualClock(start uint32) *ManualClock {
	return &ManualClock{now: start}
}

func (c *ManualClock) NowMs() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *ManualClock) SleepMs(ms uint32) { c.Advance(ms) }

// Advance moves the clock forward, wrapping at 2^32.
func (c *ManualClock) Advance(ms uint32) {
	c.mu.Lock()
	c.now += ms
	c.mu.Unlock()
}

func (c *ManualClock) Set(now uint32) {
	c.mu.Lock()
	c.now = now
	c.mu.Unlock()
}
