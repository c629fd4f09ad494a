// Package node wires a state machine, its timers, its event queue and a
// transport into a runnable sensor or broker.
//
// A node is single threaded: Step drives everything once, and every callback
// (transport, timer, event) runs inside Step. Run calls Step on a ticker.
package node

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/G1-H25/jenlib/src/feed"
	"github.com/G1-H25/jenlib/src/inter"
	"github.com/G1-H25/jenlib/src/metrics"
)

// DefaultTick is the control loop period when Run is given zero.
const DefaultTick = 10 * time.Millisecond

// FeedPublisher receives accepted readings and state changes. *feed.Hub implements it.
type FeedPublisher interface {
	PublishReading(r inter.StoredReading)
	PublishState(change feed.StateChange)
}

var _ FeedPublisher = (*feed.Hub)(nil)

type options struct {
	metrics *metrics.Metrics
	feed    FeedPublisher
	store   inter.ReadingStore
	backend inter.Backend
	wall    func() time.Time
}

type Option func(*options)

func WithMetrics(m *metrics.Metrics) Option { return func(o *options) { o.metrics = m } }

func WithFeed(f FeedPublisher) Option { return func(o *options) { o.feed = f } }

// WithStore persists sessions and accepted readings. Broker only.
func WithStore(s inter.ReadingStore) Option { return func(o *options) { o.store = s } }

// WithBackend takes session commands from b and publishes to it. Broker only.
func WithBackend(b inter.Backend) Option { return func(o *options) { o.backend = b } }

// WithWallClock overrides time.Now for stored and published timestamps.
func WithWallClock(now func() time.Time) Option { return func(o *options) { o.wall = now } }

func buildOptions(opts []Option) options {
	o := options{wall: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// loop is the part shared by both node kinds.
type loop struct {
	mu        sync.Mutex
	transport inter.Transport
	metrics   *metrics.Metrics
	feed      FeedPublisher
	wall      func() time.Time
}

func (l *loop) init(tr inter.Transport, o options) {
	l.transport = tr
	l.metrics = o.metrics
	l.feed = o.feed
	l.wall = o.wall
}

// Begin brings the transport up for callers that drive Step themselves.
func (l *loop) Begin() bool { return l.transport.Begin() }

func (l *loop) End() { l.transport.End() }

// run begins the transport, calls step every tick until ctx is done, then ends the transport.
func (l *loop) run(ctx context.Context, tick time.Duration, step func()) error {
	if tick <= 0 {
		tick = DefaultTick
	}
	if !l.transport.Begin() {
		return fmt.Errorf("node: transport %s: %w", l.transport.LocalDeviceID(), inter.ErrNotConnected)
	}
	defer l.transport.End()

	t := time.NewTicker(tick)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			step()
		}
	}
}

func (l *loop) publishState(role string, id inter.DeviceID, from, to fmt.Stringer, session inter.SessionID) {
	l.metrics.Transition(role, from.String(), to.String())
	if l.feed != nil {
		l.feed.PublishState(feed.StateChange{
			Role:      role,
			DeviceID:  id,
			From:      from.String(),
			To:        to.String(),
			SessionID: session,
		})
	}
}

// rejectReason maps a machine error to a metrics label.
func rejectReason(err error) string {
	switch {
	case errors.Is(err, inter.ErrSessionMismatch):
		return "session_mismatch"
	case errors.Is(err, inter.ErrSenderMismatch):
		return "sender_mismatch"
	case errors.Is(err, inter.ErrInvalidSession):
		return "invalid_session"
	case errors.Is(err, inter.ErrInvalidTransition):
		return "invalid_state"
	}
	return "other"
}

func boolData(b bool) uint32 {
	if b {
		return 1
	}
	return 0
}
