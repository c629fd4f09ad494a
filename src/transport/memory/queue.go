package memory

import (
	"sync"
	"sync/atomic"

	"github.com/G1-H25/jenlib/src/inter"
)

// InboxCapacity is the default per-device inbox size.
const InboxCapacity = 100

type frame struct {
	from inter.DeviceID
	data []byte
}

// inboxes keeps one bounded FIFO per destination device.
type inboxes struct {
	queues   sync.Map // inter.DeviceID -> chan frame
	capacity int
	dropped  atomic.Uint64
}

func (m *inboxes) queue(dest inter.DeviceID) chan frame {
	if q, ok := m.queues.Load(dest); ok {
		return q.(chan frame)
	}
	actual, _ := m.queues.LoadOrStore(dest, make(chan frame, m.capacity))
	return actual.(chan frame)
}

// push never fails. A full inbox loses its oldest frame.
func (m *inboxes) push(dest inter.DeviceID, f frame) {
	q := m.queue(dest)
	for {
		select {
		case q <- f:
			return
		default:
		}
		// 队列满策略：丢弃最早的一条并压入新消息
		select {
		case <-q:
			m.dropped.Add(1)
		default:
		}
	}
}

func (m *inboxes) pop(dest inter.DeviceID) (frame, bool) {
	actual, ok := m.queues.Load(dest)
	if !ok {
		return frame{}, false
	}
	select {
	case f := <-actual.(chan frame):
		return f, true
	default:
		return frame{}, false
	}
}

func (m *inboxes) pending(dest inter.DeviceID) int {
	actual, ok := m.queues.Load(dest)
	if !ok {
		return 0
	}
	return len(actual.(chan frame))
}
