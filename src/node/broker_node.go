package node

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/G1-H25/jenlib/src/broker"
	"github.com/G1-H25/jenlib/src/event"
	"github.com/G1-H25/jenlib/src/inter"
	"github.com/G1-H25/jenlib/src/protocol"
	"github.com/G1-H25/jenlib/src/timer"
)

const roleBroker = "broker"

// Session end reasons, as stored and counted.
const (
	ReasonStop           = "stop"
	ReasonBackendTimeout = "backend timeout"
	ReasonReplaced       = "replaced"
)

type BrokerConfig struct {
	// BackendTimeoutMs ends a session once the backend has been silent this long.
	// Only applies when a backend is attached. 0 disables.
	BackendTimeoutMs uint32
	// TickIntervalMs is the period of TimeTick events.
	TickIntervalMs uint32
	// StartRetryMs resends the StartBroadcast once the active session has gone
	// this long without an accepted reading, so a sensor that lost its link can
	// rejoin. 0 only resends until the first reading.
	StartRetryMs uint32
}

func DefaultBrokerConfig() BrokerConfig {
	return BrokerConfig{BackendTimeoutMs: 30000, TickIntervalMs: 1000, StartRetryMs: 3000}
}

// BrokerStatus is what /status reports.
type BrokerStatus struct {
	DeviceID     inter.DeviceID  `json:"device_id"`
	State        string          `json:"state"`
	SessionID    inter.SessionID `json:"session_id"`
	SensorID     inter.DeviceID  `json:"sensor_id"`
	ReadingCount uint32          `json:"reading_count"`
	LastOffsetMs uint32          `json:"last_offset_ms"`
	LastError    string          `json:"last_error,omitempty"`
}

// BrokerNode runs the broker: it turns backend commands into StartBroadcasts,
// validates readings, stores and forwards the accepted ones and acknowledges
// each with a Receipt.
type BrokerNode struct {
	loop

	id      inter.DeviceID
	cfg     BrokerConfig
	machine *broker.Machine
	timers  *timer.Service
	events  *event.Dispatcher
	store   inter.ReadingStore
	backend inter.Backend

	backendSeen time.Time
	// clock value of the session start or the latest accepted reading
	lastHeard uint32
	// session the last state change belongs to; survives the machine clearing it
	lastSession inter.SessionID
}

func NewBroker(tr inter.Transport, clock inter.Clock, cfg BrokerConfig, opts ...Option) (*BrokerNode, error) {
	if cfg.TickIntervalMs == 0 {
		return nil, fmt.Errorf("node: tick interval: %w", inter.ErrInvalidInterval)
	}
	o := buildOptions(opts)
	n := &BrokerNode{
		id:      tr.LocalDeviceID(),
		cfg:     cfg,
		machine: broker.NewMachine(clock),
		timers:  timer.NewService(clock),
		store:   o.store,
		backend: o.backend,
	}
	n.loop.init(tr, o)
	n.events = event.NewDispatcher(event.WithDropHook(n.metrics.EventDropped))
	if n.backend != nil {
		n.machine.SetBackendTimeout(cfg.BackendTimeoutMs)
	}
	n.machine.OnTransition(n.onTransition)

	if _, err := n.events.Register(inter.EventTimeTick, n.onTick); err != nil {
		return nil, err
	}
	if _, err := n.timers.Schedule(cfg.TickIntervalMs, func() {
		now := n.timers.Now()
		n.events.Dispatch(inter.Event{Type: inter.EventTimeTick, Timestamp: now, Data: now})
	}, true); err != nil {
		return nil, err
	}

	tr.SetConnectionCallback(func(connected bool) {
		n.metrics.Link(n.id, connected)
		log.Printf("Broker: link %s", linkWord(connected))
	})
	tr.SetReadingCallback(n.onReading)
	tr.SetMessageCallback(n.onOther)
	return n, nil
}

func (n *BrokerNode) ID() inter.DeviceID { return n.id }

// Step polls the backend and the transport, then delivers queued events, then fires due timers.
func (n *BrokerNode) Step() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.pollBackend()
	n.transport.Poll()
	n.events.Process()
	n.metrics.TimerFired(n.timers.Process())
}

// Run steps the node every tick until ctx is cancelled.
func (n *BrokerNode) Run(ctx context.Context, tick time.Duration) error {
	log.Printf("Broker: running as %s", n.id)
	return n.run(ctx, tick, n.Step)
}

// StartSession starts a session with sensorID as if the backend had asked for it.
// An active session is ended first.
func (n *BrokerNode) StartSession(sensorID inter.DeviceID, sessionID inter.SessionID) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.startSession(sensorID, sessionID)
}

// EndSession ends the active session.
func (n *BrokerNode) EndSession() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.endSession(ReasonStop)
}

func (n *BrokerNode) Status() BrokerStatus {
	n.mu.Lock()
	defer n.mu.Unlock()
	s := n.machine.Snapshot()
	return BrokerStatus{
		DeviceID:     n.id,
		State:        s.State.String(),
		SessionID:    s.SessionID,
		SensorID:     s.SensorID,
		ReadingCount: s.ReadingCount,
		LastOffsetMs: s.LastOffset,
		LastError:    n.machine.LastError(),
	}
}

func (n *BrokerNode) pollBackend() {
	if n.backend == nil {
		return
	}
	if seen := n.backend.LastSeen(); seen.After(n.backendSeen) {
		n.backendSeen = seen
		n.machine.NoteBackendActivity(n.timers.Now())
	}
	for {
		cmd, ok := n.backend.PollCommand()
		if !ok {
			return
		}
		switch cmd.Action {
		case inter.ActionStart:
			if err := n.startSession(cmd.SensorID, cmd.SessionID); err != nil {
				log.Printf("Broker: start command: %v", err)
			}
		case inter.ActionStop:
			if err := n.endSession(ReasonStop); err != nil {
				log.Printf("Broker: stop command: %v", err)
			}
		}
	}
}

func (n *BrokerNode) startSession(sensorID inter.DeviceID, sessionID inter.SessionID) error {
	if sessionID == inter.NoSession {
		return fmt.Errorf("Broker: start: %w", inter.ErrInvalidSession)
	}
	if n.machine.IsSessionActive() {
		if err := n.endSession(ReasonReplaced); err != nil {
			return err
		}
	}
	n.lastSession = sessionID
	if err := n.machine.HandleStartCommand(sensorID, sessionID); err != nil {
		return err
	}
	n.lastHeard = n.timers.Now()
	n.metrics.SessionStarted()
	if n.store != nil {
		if err := n.store.OpenSession(sessionID, sensorID, n.wall()); err != nil {
			log.Printf("Broker: store session %s: %v", sessionID, err)
		}
	}
	n.sendStart()
	return nil
}

// sendStart (re)sends the StartBroadcast for the active session.
func (n *BrokerNode) sendStart() {
	p, err := protocol.Encode(inter.StartBroadcastMsg{
		TargetID:  n.machine.TargetSensorID(),
		SessionID: n.machine.CurrentSessionID(),
	})
	if err != nil {
		log.Printf("Broker: encode start: %v", err)
		return
	}
	n.transport.SendTo(n.machine.TargetSensorID(), &p)
}

func (n *BrokerNode) endSession(reason string) error {
	session := n.machine.CurrentSessionID()
	if err := n.machine.HandleSessionEnd(); err != nil {
		return err
	}
	n.closeSession(session, reason)
	return nil
}

func (n *BrokerNode) closeSession(session inter.SessionID, reason string) {
	n.metrics.SessionEnded(reason)
	log.Printf("Broker: session %s ended (%s)", session, reason)
	if n.store == nil {
		return
	}
	if err := n.store.CloseSession(session, reason, n.wall()); err != nil {
		log.Printf("Broker: store close %s: %v", session, err)
	}
}

// onTick checks the backend timeout and repeats the StartBroadcast until the
// sensor's first reading shows it was heard, and again whenever the sensor
// has gone quiet for StartRetryMs.
func (n *BrokerNode) onTick(ev inter.Event) {
	session := n.machine.CurrentSessionID()
	if n.machine.HandleEvent(ev) {
		n.closeSession(session, ReasonBackendTimeout)
		return
	}
	if !n.machine.IsSessionActive() {
		return
	}
	if n.machine.ReadingCount() == 0 || n.sensorSilent(ev.Data) {
		n.sendStart()
	}
}

func (n *BrokerNode) sensorSilent(now uint32) bool {
	if n.cfg.StartRetryMs == 0 {
		return false
	}
	// tick sampled before the latest reading
	if int32(now-n.lastHeard) < 0 {
		return false
	}
	return timer.TimeDifference(now, n.lastHeard) >= n.cfg.StartRetryMs
}

func (n *BrokerNode) onReading(sender inter.DeviceID, msg inter.ReadingMsg) {
	n.metrics.MessageReceived(msg.Type())
	if err := n.machine.HandleReading(sender, msg); err != nil {
		n.metrics.MessageRejected(rejectReason(err))
		log.Printf("Broker: reading from %s rejected: %v", sender, err)
		return
	}
	n.lastHeard = n.timers.Now()
	n.metrics.ReadingAccepted(msg)

	rec := inter.StoredReading{
		SessionID:   msg.SessionID,
		SensorID:    msg.SenderID,
		OffsetMs:    msg.OffsetMs,
		Temperature: msg.Temperature,
		Humidity:    msg.Humidity,
		ReceivedAt:  n.wall(),
	}
	if n.store != nil {
		if err := n.store.AppendReading(rec); err != nil {
			log.Printf("Broker: store reading: %v", err)
		}
	}
	if n.backend != nil {
		if err := n.backend.PublishReading(rec); err != nil {
			n.metrics.BackendPublishFailed()
			log.Printf("Broker: publish reading: %v", err)
		}
	}
	if n.feed != nil {
		n.feed.PublishReading(rec)
	}

	p, err := protocol.Encode(inter.ReceiptMsg{SessionID: msg.SessionID, UpToOffsetMs: n.machine.LastOffset()})
	if err != nil {
		log.Printf("Broker: encode receipt: %v", err)
		return
	}
	n.transport.SendTo(sender, &p)
}

func (n *BrokerNode) onOther(sender inter.DeviceID, p inter.Payload) {
	n.metrics.MessageRejected("unexpected")
	log.Printf("Broker: unhandled %d byte payload from %s", p.Len(), sender)
}

func (n *BrokerNode) onTransition(from, to broker.State) {
	n.publishState(roleBroker, n.id, from, to, n.lastSession)
	if n.backend == nil {
		return
	}
	if err := n.backend.PublishState(to.String(), n.lastSession); err != nil {
		n.metrics.BackendPublishFailed()
		log.Printf("Broker: publish state: %v", err)
	}
}

func linkWord(up bool) string {
	if up {
		return "up"
	}
	return "down"
}
