// Package stream carries protocol payloads over a byte stream such as a serial
// port or a TCP connection, using a small framed envelope with a CRC-16 trailer.
package stream

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"sync"
	"sync/atomic"

	"github.com/G1-H25/jenlib/src/inter"
	"github.com/G1-H25/jenlib/src/transport"
	"github.com/tarm/serial"
)

// InboxCapacity bounds frames parsed but not yet polled.
const InboxCapacity = 100

type Option func(*Transport)

// AcceptBroadcasts makes the transport deliver advertise frames. Brokers want this.
func AcceptBroadcasts() Option {
	return func(t *Transport) { t.broadcasts = true }
}

func WithInboxCapacity(n int) Option {
	return func(t *Transport) {
		if n > 0 {
			t.capacity = n
		}
	}
}

// Transport implements inter.Transport over an io.ReadWriteCloser. A reader
// goroutine parses frames into a bounded inbox; callbacks only run inside Poll.
type Transport struct {
	transport.Callbacks

	id         inter.DeviceID
	rw         io.ReadWriteCloser
	broadcasts bool
	capacity   int

	inbox chan Frame
	done  chan struct{}

	writeMu   sync.Mutex
	startOnce sync.Once
	closeOnce sync.Once

	connected atomic.Bool
	reported  atomic.Bool

	corrupt atomic.Uint64
	dropped atomic.Uint64
}

var _ inter.Transport = (*Transport)(nil)

func New(id inter.DeviceID, rw io.ReadWriteCloser, opts ...Option) *Transport {
	t := &Transport{id: id, rw: rw, capacity: InboxCapacity, done: make(chan struct{})}
	for _, opt := range opts {
		opt(t)
	}
	t.inbox = make(chan Frame, t.capacity)
	return t
}

// OpenSerial opens a serial port for use with New.
func OpenSerial(port string, baud int) (io.ReadWriteCloser, error) {
	s, err := serial.OpenPort(&serial.Config{Name: port, Baud: baud})
	if err != nil {
		return nil, fmt.Errorf("stream: open serial %s: %w", port, err)
	}
	return s, nil
}

// Dial connects to a TCP endpoint for use with New.
func Dial(ctx context.Context, address string) (io.ReadWriteCloser, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("stream: dial %s: %w", address, err)
	}
	return conn, nil
}

// Begin starts the reader goroutine. A transport cannot be restarted after End.
func (t *Transport) Begin() bool {
	if t.rw == nil {
		return false
	}
	started := false
	t.startOnce.Do(func() {
		started = true
		t.connected.Store(true)
		go t.readLoop()
	})
	return started || t.connected.Load()
}

// End closes the stream and waits for the reader to exit.
func (t *Transport) End() {
	t.closeOnce.Do(func() {
		t.connected.Store(false)
		if t.rw != nil {
			_ = t.rw.Close()
		}
	})
	// Begin never ran, so there is no reader to wait for
	started := true
	t.startOnce.Do(func() { started = false })
	if started {
		<-t.done
	}
	t.checkLink()
}

func (t *Transport) IsConnected() bool { return t.connected.Load() }

func (t *Transport) LocalDeviceID() inter.DeviceID { return t.id }

func (t *Transport) Advertise(sender inter.DeviceID, payload *inter.Payload) {
	p := payload.Move()
	t.write(Frame{Kind: KindAdvertise, Sender: sender, Dest: inter.BrokerInbox, Payload: p.Bytes()})
}

func (t *Transport) SendTo(dest inter.DeviceID, payload *inter.Payload) {
	p := payload.Move()
	t.write(Frame{Kind: KindDirected, Sender: t.id, Dest: dest, Payload: p.Bytes()})
}

// Receive pops the next accepted frame's payload. selfID must be this
// transport's id, or the broker inbox when broadcasts are accepted.
func (t *Transport) Receive(selfID inter.DeviceID, out *inter.Payload) bool {
	if selfID != t.id && !(t.broadcasts && selfID == inter.BrokerInbox) {
		return false
	}
	select {
	case f := <-t.inbox:
		return out.SetBytes(f.Payload) == nil
	default:
		return false
	}
}

// Poll reports a link edge if there is one and delivers the frames pending when it started.
func (t *Transport) Poll() {
	t.checkLink()
	for n := len(t.inbox); n > 0; n-- {
		select {
		case f := <-t.inbox:
			t.Deliver(f.Sender, f.Payload)
		default:
			return
		}
	}
}

// Corrupt counts frames discarded for a bad CRC, kind or length.
func (t *Transport) Corrupt() uint64 { return t.corrupt.Load() }

// Dropped counts frames lost to a full inbox.
func (t *Transport) Dropped() uint64 { return t.dropped.Load() }

func (t *Transport) write(f Frame) {
	if !t.connected.Load() {
		log.Printf("Stream[%s]: %s frame while disconnected, dropped", t.id, f.Kind)
		return
	}
	buf, err := Pack(f)
	if err != nil {
		log.Printf("Stream[%s]: %v", t.id, err)
		return
	}
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if _, err := t.rw.Write(buf); err != nil {
		log.Printf("Stream[%s]: write failed: %v", t.id, err)
		t.connected.Store(false)
	}
}

func (t *Transport) readLoop() {
	defer close(t.done)
	r := bufio.NewReader(t.rw)
	for {
		f, err := Unpack(r)
		if err != nil {
			if errors.Is(err, inter.ErrFrameCorrupt) {
				t.corrupt.Add(1)
				log.Printf("Stream[%s]: %v", t.id, err)
				continue
			}
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) && !errors.Is(err, io.ErrClosedPipe) {
				log.Printf("Stream[%s]: read failed: %v", t.id, err)
			}
			t.connected.Store(false)
			return
		}
		if !t.accepts(f) {
			continue
		}
		t.push(f)
	}
}

func (t *Transport) accepts(f Frame) bool {
	switch f.Kind {
	case KindDirected:
		return f.Dest == t.id
	case KindAdvertise:
		return t.broadcasts
	}
	return false
}

func (t *Transport) push(f Frame) {
	for {
		select {
		case t.inbox <- f:
			return
		default:
		}
		// 队列满策略：丢弃最早的一帧
		select {
		case <-t.inbox:
			t.dropped.Add(1)
		default:
		}
	}
}

func (t *Transport) checkLink() {
	connected := t.connected.Load()
	if t.reported.Swap(connected) == connected {
		return
	}
	log.Printf("Stream[%s]: link %v", t.id, connected)
	t.NotifyConnection(connected)
}
