package event

import "github.com/G1-H25/jenlib/src/inter"

// ring is a fixed-capacity FIFO. When full, Push evicts the oldest element.
type ring struct {
	items []inter.Event
	head  int // next read
	size  int
}

func newRing(capacity int) *ring {
	if capacity <= 0 {
		capacity = 1
	}
	return &ring{items: make([]inter.Event, capacity)}
}

// Push appends ev. If the ring was full the evicted event is returned with true.
func (r *ring) Push(ev inter.Event) (inter.Event, bool) {
	var (
		dropped inter.Event
		evicted bool
	)
	if r.size == len(r.items) {
		// 队列满策略：丢弃最早的一条并压入新事件
		dropped = r.items[r.head]
		r.head = (r.head + 1) % len(r.items)
		r.size--
		evicted = true
	}
	r.items[(r.head+r.size)%len(r.items)] = ev
	r.size++
	return dropped, evicted
}

// Drain returns every queued event in arrival order and empties the ring.
func (r *ring) Drain() []inter.Event {
	out := make([]inter.Event, r.size)
	for i := 0; i < r.size; i++ {
		out[i] = r.items[(r.head+i)%len(r.items)]
	}
	r.Reset()
	return out
}

func (r *ring) Len() int { return r.size }

func (r *ring) Reset() {
	r.head = 0
	r.size = 0
}
