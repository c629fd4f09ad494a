package cli

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/G1-H25/jenlib/src/config"
	"github.com/G1-H25/jenlib/src/inter"
	"github.com/G1-H25/jenlib/src/node"
	"github.com/G1-H25/jenlib/src/timer"
	"github.com/G1-H25/jenlib/src/transport/memory"
)

const (
	simBrokerID    inter.DeviceID = 0x01
	simFirstSensor inter.DeviceID = 0x10
)

// Simulation runs one broker and simulate.sensors sensors on an in-memory
// network. Sessions rotate through the sensors, one every simulate.duration_ms;
// a zero duration keeps the first session open.
type Simulation struct {
	Network *memory.Network
	Broker  *node.BrokerNode
	Sensors []*node.SensorNode

	clock    inter.Clock
	duration uint32

	next        int
	lastSession inter.SessionID
	started     uint32
	active      bool
}

func NewSimulation(cfg *config.Config, clock inter.Clock, opts ...node.Option) (*Simulation, error) {
	if cfg.Simulate.Sensors <= 0 {
		return nil, fmt.Errorf("cli: simulate.sensors %d: %w", cfg.Simulate.Sensors, inter.ErrInvalidConfig)
	}
	net := memory.NewNetwork()
	b, err := node.NewBroker(net.BrokerEndpoint(simBrokerID), clock, brokerConfig(cfg), opts...)
	if err != nil {
		return nil, err
	}
	s := &Simulation{Network: net, Broker: b, clock: clock, duration: cfg.Simulate.DurationMs}
	for i := 0; i < cfg.Simulate.Sensors; i++ {
		id := simFirstSensor + inter.DeviceID(i)
		n, err := node.NewSensor(net.Endpoint(id), clock, node.NewSimulatedReader(id), sensorConfig(cfg), opts...)
		if err != nil {
			return nil, err
		}
		s.Sensors = append(s.Sensors, n)
	}
	return s, nil
}

// Begin brings every endpoint up.
func (s *Simulation) Begin() {
	s.Broker.Begin()
	for _, n := range s.Sensors {
		n.Begin()
	}
}

func (s *Simulation) End() {
	for _, n := range s.Sensors {
		n.End()
	}
	s.Broker.End()
}

// Step runs the broker, then every sensor, then the session schedule.
func (s *Simulation) Step() {
	s.Broker.Step()
	for _, n := range s.Sensors {
		n.Step()
	}
	s.rotate()
}

func (s *Simulation) Run(ctx context.Context, tick time.Duration) error {
	if tick <= 0 {
		tick = node.DefaultTick
	}
	log.Printf("Simulation: broker %s, %d sensors", simBrokerID, len(s.Sensors))
	s.Begin()
	defer s.End()

	t := time.NewTicker(tick)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			s.Step()
		}
	}
}

func (s *Simulation) rotate() {
	now := s.clock.NowMs()
	if s.active && (s.duration == 0 || timer.TimeDifference(now, s.started) < s.duration) {
		return
	}
	if s.active {
		if err := s.Broker.EndSession(); err != nil {
			log.Printf("Simulation: end session %s: %v", s.lastSession, err)
		}
	}
	target := s.Sensors[s.next%len(s.Sensors)].ID()
	s.next++
	s.lastSession++
	if err := s.Broker.StartSession(target, s.lastSession); err != nil {
		log.Printf("Simulation: start session %s: %v", s.lastSession, err)
		return
	}
	s.active = true
	s.started = now
}
