// Package backend connects the broker to its upstream system over MQTT.
//
// Topics, under a configurable prefix:
//
//	<prefix>/command   in   {"action":"start","sensor_id":N,"session_id":N} | {"action":"stop"} | {"action":"ping"}
//	<prefix>/readings  out  one JSON object per accepted reading
//	<prefix>/state     out  broker session state changes
package backend

import (
	"encoding/json"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/G1-H25/jenlib/src/inter"
	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// CommandQueueCapacity bounds commands received but not yet polled.
const CommandQueueCapacity = 16

type Options struct {
	BrokerURL   string
	ClientID    string
	TopicPrefix string
}

// client is the part of mqtt.Client the bridge publishes through.
type client interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Disconnect(quiesce uint)
}

// Bridge implements inter.Backend.
type Bridge struct {
	raw      client
	prefix   string
	commands chan inter.BackendCommand
	lastSeen atomic.Int64 // unix nano
	dropped  atomic.Uint64
	now      func() time.Time
}

var _ inter.Backend = (*Bridge)(nil)

func newBridge(raw client, prefix string) *Bridge {
	return &Bridge{
		raw:      raw,
		prefix:   prefix,
		commands: make(chan inter.BackendCommand, CommandQueueCapacity),
		now:      time.Now,
	}
}

// Connect dials the MQTT broker and subscribes to the command topic. The
// subscription is renewed on every reconnect.
func Connect(opts Options) (*Bridge, error) {
	b := newBridge(nil, opts.TopicPrefix)

	o := mqtt.NewClientOptions()
	o.AddBroker(opts.BrokerURL)
	o.SetClientID(opts.ClientID)
	o.SetConnectRetry(true)
	o.SetConnectRetryInterval(2 * time.Second)
	o.SetOnConnectHandler(func(c mqtt.Client) {
		topic := b.CommandTopic()
		if token := c.Subscribe(topic, 1, b.handleCommand); token.Wait() && token.Error() != nil {
			log.Printf("Backend: subscribe %s failed: %v", topic, token.Error())
			return
		}
		log.Printf("Backend: subscribed to %s", topic)
	})
	o.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.Printf("Backend: connection lost: %v", err)
	})

	c := mqtt.NewClient(o)
	token := c.Connect()
	if token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("backend: connect %s: %w", opts.BrokerURL, token.Error())
	}
	b.raw = c
	return b, nil
}

func (b *Bridge) CommandTopic() string  { return b.prefix + "/command" }
func (b *Bridge) ReadingsTopic() string { return b.prefix + "/readings" }
func (b *Bridge) StateTopic() string    { return b.prefix + "/state" }

// handleCommand 解析后端指令并入队；任何合法消息都刷新 LastSeen
func (b *Bridge) handleCommand(_ mqtt.Client, msg mqtt.Message) {
	var cmd inter.BackendCommand
	if err := json.Unmarshal(msg.Payload(), &cmd); err != nil {
		log.Printf("Backend: bad command payload %q: %v", string(msg.Payload()), err)
		return
	}
	switch cmd.Action {
	case inter.ActionStart:
		if cmd.SensorID == 0 || cmd.SessionID == inter.NoSession {
			log.Printf("Backend: start command without sensor or session id, ignored")
			return
		}
	case inter.ActionStop, inter.ActionPing:
	default:
		log.Printf("Backend: unknown action %q, ignored", cmd.Action)
		return
	}

	b.lastSeen.Store(b.now().UnixNano())
	if cmd.Action == inter.ActionPing {
		return
	}
	b.enqueue(cmd)
}

func (b *Bridge) enqueue(cmd inter.BackendCommand) {
	for {
		select {
		case b.commands <- cmd:
			return
		default:
		}
		// 队列满策略：丢弃最早的一条并压入新指令
		select {
		case old := <-b.commands:
			b.dropped.Add(1)
			log.Printf("Backend: command queue full, dropped %s", old.Action)
		default:
		}
	}
}

func (b *Bridge) PollCommand() (inter.BackendCommand, bool) {
	select {
	case cmd := <-b.commands:
		return cmd, true
	default:
		return inter.BackendCommand{}, false
	}
}

// Dropped counts commands lost to a full queue.
func (b *Bridge) Dropped() uint64 { return b.dropped.Load() }

type readingMessage struct {
	SessionID   inter.SessionID `json:"session_id"`
	SensorID    inter.DeviceID  `json:"sensor_id"`
	OffsetMs    uint32          `json:"offset_ms"`
	Temperature float64         `json:"temperature_c"`
	Humidity    float64         `json:"humidity_pct"`
	ReceivedAt  time.Time       `json:"received_at"`
}

type stateMessage struct {
	State     string          `json:"state"`
	SessionID inter.SessionID `json:"session_id"`
	Timestamp time.Time       `json:"timestamp"`
}

func (b *Bridge) PublishReading(r inter.StoredReading) error {
	return b.publish(b.ReadingsTopic(), false, readingMessage{
		SessionID:   r.SessionID,
		SensorID:    r.SensorID,
		OffsetMs:    r.OffsetMs,
		Temperature: float64(r.Temperature) / 100,
		Humidity:    float64(r.Humidity) / 100,
		ReceivedAt:  r.ReceivedAt,
	})
}

// PublishState is retained so a late subscriber sees the current state.
func (b *Bridge) PublishState(state string, session inter.SessionID) error {
	return b.publish(b.StateTopic(), true, stateMessage{State: state, SessionID: session, Timestamp: b.now()})
}

func (b *Bridge) publish(topic string, retained bool, v interface{}) error {
	if b.raw == nil {
		return fmt.Errorf("backend: publish %s: %w", topic, inter.ErrNotConnected)
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("backend: encode %s: %w", topic, err)
	}
	token := b.raw.Publish(topic, 1, retained, data)
	token.Wait()
	if err := token.Error(); err != nil {
		return fmt.Errorf("backend: publish %s: %w", topic, err)
	}
	return nil
}

// LastSeen is zero until the first valid command arrives.
func (b *Bridge) LastSeen() time.Time {
	n := b.lastSeen.Load()
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

func (b *Bridge) Close() error {
	if b.raw != nil {
		b.raw.Disconnect(250)
	}
	return nil
}
