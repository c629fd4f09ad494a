package node

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/G1-H25/jenlib/src/event"
	"github.com/G1-H25/jenlib/src/inter"
	"github.com/G1-H25/jenlib/src/protocol"
	"github.com/G1-H25/jenlib/src/sensor"
	"github.com/G1-H25/jenlib/src/timer"
)

const roleSensor = "sensor"

type SensorConfig struct {
	MeasurementIntervalMs uint32
	// ReceiptTimeoutMs ends a session that has gone this long without a receipt. 0 disables.
	ReceiptTimeoutMs uint32
	// RecoveryDelayMs is how long the node stays in Error before recovering. 0 disables.
	RecoveryDelayMs uint32
}

func DefaultSensorConfig() SensorConfig {
	return SensorConfig{
		MeasurementIntervalMs: sensor.DefaultMeasurementIntervalMs,
		ReceiptTimeoutMs:      10000,
		RecoveryDelayMs:       5000,
	}
}

// SensorNode runs one sensor: it answers StartBroadcasts addressed to it,
// advertises a Reading every measurement interval while a session runs and
// gives up on the session when the broker stops acknowledging.
type SensorNode struct {
	loop

	id      inter.DeviceID
	cfg     SensorConfig
	machine *sensor.Machine
	timers  *timer.Service
	events  *event.Dispatcher
	reader  inter.SensorReader

	measureTimer inter.TimerID
	receiptTimer inter.TimerID
	recoverTimer inter.TimerID
	sent         uint64
}

func NewSensor(tr inter.Transport, clock inter.Clock, reader inter.SensorReader, cfg SensorConfig, opts ...Option) (*SensorNode, error) {
	if cfg.MeasurementIntervalMs == 0 {
		return nil, fmt.Errorf("node: measurement interval: %w", inter.ErrInvalidInterval)
	}
	o := buildOptions(opts)
	id := tr.LocalDeviceID()
	n := &SensorNode{
		id:      id,
		cfg:     cfg,
		machine: sensor.NewMachine(id, clock),
		timers:  timer.NewService(clock),
		reader:  reader,
	}
	n.loop.init(tr, o)
	n.events = event.NewDispatcher(event.WithDropHook(n.metrics.EventDropped))
	n.machine.SetMeasurementInterval(cfg.MeasurementIntervalMs)
	n.machine.OnTransition(n.onTransition)

	if _, err := n.events.Register(inter.EventConnectionStateChange, n.onConnection); err != nil {
		return nil, err
	}
	if _, err := n.events.Register(inter.EventMeasurementReady, n.onMeasurement); err != nil {
		return nil, err
	}

	tr.SetConnectionCallback(func(connected bool) {
		n.metrics.Link(id, connected)
		n.events.Dispatch(inter.Event{
			Type:      inter.EventConnectionStateChange,
			Timestamp: n.timers.Now(),
			Data:      boolData(connected),
		})
	})
	tr.SetStartBroadcastCallback(n.onStart)
	tr.SetReceiptCallback(n.onReceipt)
	tr.SetMessageCallback(n.onOther)
	return n, nil
}

func (n *SensorNode) ID() inter.DeviceID { return n.id }

// Step polls the transport, then delivers queued events, then fires due timers.
func (n *SensorNode) Step() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.transport.Poll()
	n.events.Process()
	n.metrics.TimerFired(n.timers.Process())
}

// Run steps the node every tick until ctx is cancelled.
func (n *SensorNode) Run(ctx context.Context, tick time.Duration) error {
	log.Printf("Sensor[%s]: running, interval %d ms", n.id, n.cfg.MeasurementIntervalMs)
	return n.run(ctx, tick, n.Step)
}

func (n *SensorNode) Snapshot() sensor.Session {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.machine.Snapshot()
}

// Sent counts readings handed to the transport.
func (n *SensorNode) Sent() uint64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.sent
}

// ActiveTimers returns the number of armed timers.
func (n *SensorNode) ActiveTimers() int { return n.timers.ActiveCount() }

func (n *SensorNode) onConnection(ev inter.Event) {
	if !n.machine.HandleEvent(ev) {
		log.Printf("Sensor[%s]: connection edge %v ignored in %s", n.id, ev.Data != 0, n.machine.State())
	}
}

func (n *SensorNode) onStart(sender inter.DeviceID, msg inter.StartBroadcastMsg) {
	n.metrics.MessageReceived(msg.Type())
	if msg.TargetID != n.id {
		return
	}
	// the broker repeats StartBroadcast until our first reading reaches it
	if n.machine.IsSessionActive() && msg.SessionID == n.machine.CurrentSessionID() {
		return
	}
	if err := n.machine.HandleStartBroadcast(sender, msg); err != nil {
		n.metrics.MessageRejected(rejectReason(err))
		log.Printf("Sensor[%s]: start rejected: %v", n.id, err)
	}
}

func (n *SensorNode) onReceipt(sender inter.DeviceID, msg inter.ReceiptMsg) {
	n.metrics.MessageReceived(msg.Type())
	if err := n.machine.HandleReceipt(sender, msg); err != nil {
		n.metrics.MessageRejected(rejectReason(err))
		log.Printf("Sensor[%s]: receipt rejected: %v", n.id, err)
		return
	}
	n.armReceiptTimer()
}

func (n *SensorNode) onOther(sender inter.DeviceID, p inter.Payload) {
	n.metrics.MessageRejected("unexpected")
	log.Printf("Sensor[%s]: unhandled %d byte payload from %s", n.id, p.Len(), sender)
}

// onMeasurement takes and advertises one reading.
func (n *SensorNode) onMeasurement(ev inter.Event) {
	if !n.machine.HandleEvent(ev) {
		return
	}
	celsius, percent, err := n.reader.Read()
	if err != nil {
		n.machine.HandleError(fmt.Sprintf("read: %v", err))
		return
	}
	msg := protocol.NewReading(n.id, n.machine.CurrentSessionID(), n.machine.SessionOffset(), celsius, percent)
	p, err := protocol.Encode(msg)
	if err != nil {
		n.machine.HandleError(fmt.Sprintf("encode: %v", err))
		return
	}
	n.transport.Advertise(n.id, &p)
	n.sent++
}

func (n *SensorNode) onTransition(from, to sensor.State) {
	n.publishState(roleSensor, n.id, from, to, n.machine.CurrentSessionID())

	if from == sensor.Running {
		n.cancel(&n.measureTimer)
		n.cancel(&n.receiptTimer)
	}
	switch to {
	case sensor.Running:
		n.startMeasuring()
	case sensor.Error:
		n.scheduleRecovery()
	}
}

func (n *SensorNode) startMeasuring() {
	id, err := n.timers.Schedule(n.machine.MeasurementInterval(), func() {
		n.events.Dispatch(inter.Event{Type: inter.EventMeasurementReady, Timestamp: n.timers.Now()})
	}, true)
	if err != nil {
		n.machine.HandleError(fmt.Sprintf("schedule measurement: %v", err))
		return
	}
	n.measureTimer = id
	n.armReceiptTimer()
}

// armReceiptTimer restarts the receipt timeout window.
func (n *SensorNode) armReceiptTimer() {
	n.cancel(&n.receiptTimer)
	if n.cfg.ReceiptTimeoutMs == 0 {
		return
	}
	id, err := n.timers.Schedule(n.cfg.ReceiptTimeoutMs, n.onReceiptTimeout, false)
	if err != nil {
		log.Printf("Sensor[%s]: receipt timer: %v", n.id, err)
		return
	}
	n.receiptTimer = id
}

func (n *SensorNode) onReceiptTimeout() {
	n.receiptTimer = inter.InvalidTimerID
	if !n.machine.IsSessionActive() {
		return
	}
	log.Printf("Sensor[%s]: no receipt for %d ms, ending session %s", n.id, n.cfg.ReceiptTimeoutMs, n.machine.CurrentSessionID())
	if err := n.machine.HandleSessionEnd(); err != nil {
		log.Printf("Sensor[%s]: %v", n.id, err)
	}
}

func (n *SensorNode) scheduleRecovery() {
	if n.cfg.RecoveryDelayMs == 0 || n.recoverTimer != inter.InvalidTimerID {
		return
	}
	id, err := n.timers.Schedule(n.cfg.RecoveryDelayMs, func() {
		n.recoverTimer = inter.InvalidTimerID
		n.machine.HandleRecovery()
		if n.transport.IsConnected() {
			if err := n.machine.HandleConnectionChange(true); err != nil {
				log.Printf("Sensor[%s]: %v", n.id, err)
			}
		}
	}, false)
	if err != nil {
		log.Printf("Sensor[%s]: recovery timer: %v", n.id, err)
		return
	}
	n.recoverTimer = id
}

func (n *SensorNode) cancel(id *inter.TimerID) {
	if *id == inter.InvalidTimerID {
		return
	}
	_ = n.timers.Cancel(*id)
	*id = inter.InvalidTimerID
}
