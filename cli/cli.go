package cli

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/G1-H25/jenlib/src/backend"
	"github.com/G1-H25/jenlib/src/config"
	"github.com/G1-H25/jenlib/src/datastore"
	"github.com/G1-H25/jenlib/src/feed"
	"github.com/G1-H25/jenlib/src/inter"
	"github.com/G1-H25/jenlib/src/metrics"
	"github.com/G1-H25/jenlib/src/node"
	"github.com/G1-H25/jenlib/src/relay"
	"github.com/G1-H25/jenlib/src/timer"
	"github.com/G1-H25/jenlib/src/transport/stream"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 5 * time.Second

// Run 读取配置并按 mode 启动节点，直到收到中断信号
func Run() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer func() {
		stop()
		fmt.Println("系统正常关闭")
	}()

	path := os.Getenv("JENLIB_CONFIG")
	if path == "" {
		path = "jenlib.yaml"
	}
	cfg, err := config.Load(path)
	if err != nil {
		log.Fatal(err)
	}
	if err := start(ctx, cfg); err != nil {
		log.Fatal(err)
	}
}

func start(ctx context.Context, cfg *config.Config) error {
	switch cfg.Mode {
	case config.ModeBroker:
		return runBroker(ctx, cfg)
	case config.ModeSensor:
		return runSensor(ctx, cfg)
	case config.ModeSimulate:
		return runSimulation(ctx, cfg)
	case config.ModeRelay:
		return runRelay(ctx, cfg)
	}
	return fmt.Errorf("cli: mode %q: %w", cfg.Mode, inter.ErrInvalidConfig)
}

func tick(cfg *config.Config) time.Duration {
	return time.Duration(cfg.Node.TickMs) * time.Millisecond
}

func sensorConfig(cfg *config.Config) node.SensorConfig {
	sc := node.DefaultSensorConfig()
	sc.MeasurementIntervalMs = cfg.Sensor.MeasurementIntervalMs
	sc.ReceiptTimeoutMs = cfg.Sensor.ReceiptTimeoutMs
	return sc
}

func brokerConfig(cfg *config.Config) node.BrokerConfig {
	bc := node.DefaultBrokerConfig()
	bc.BackendTimeoutMs = cfg.Broker.BackendTimeoutMs
	bc.StartRetryMs = cfg.Broker.StartRetryMs
	return bc
}

// openTransport builds the byte stream transport named by transport.kind.
func openTransport(ctx context.Context, cfg *config.Config, id inter.DeviceID, broker bool) (*stream.Transport, error) {
	var opts []stream.Option
	if broker {
		opts = append(opts, stream.AcceptBroadcasts())
	}
	switch cfg.Transport.Kind {
	case config.TransportSerial:
		rw, err := stream.OpenSerial(cfg.Transport.Serial.Port, cfg.Transport.Serial.Baud)
		if err != nil {
			return nil, err
		}
		return stream.New(id, rw, opts...), nil
	case config.TransportTCP:
		rw, err := stream.Dial(ctx, cfg.Transport.TCP.Address)
		if err != nil {
			return nil, err
		}
		return stream.New(id, rw, opts...), nil
	}
	return nil, fmt.Errorf("cli: transport %q outside simulate mode: %w", cfg.Transport.Kind, inter.ErrInvalidConfig)
}

// brokerServices opens the store and, when enabled, the MQTT backend.
func brokerServices(cfg *config.Config) (*datastore.SQLStore, inter.Backend, error) {
	store, err := datastore.Open(cfg.Storage.Driver, cfg.Storage.DSN)
	if err != nil {
		return nil, nil, err
	}
	if !cfg.Backend.Enabled {
		return store, nil, nil
	}
	bridge, err := backend.Connect(backend.Options{
		BrokerURL:   cfg.Backend.BrokerURL,
		ClientID:    cfg.Backend.ClientID,
		TopicPrefix: cfg.Backend.TopicPrefix,
	})
	if err != nil {
		store.Close()
		return nil, nil, err
	}
	return store, bridge, nil
}

func runBroker(ctx context.Context, cfg *config.Config) error {
	id := inter.DeviceID(cfg.Node.DeviceID)
	tr, err := openTransport(ctx, cfg, id, true)
	if err != nil {
		return err
	}
	store, be, err := brokerServices(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	m := metrics.New()
	hub := feed.NewHub()
	opts := []node.Option{node.WithMetrics(m), node.WithFeed(hub), node.WithStore(store)}
	if be != nil {
		defer be.Close()
		opts = append(opts, node.WithBackend(be))
	}
	b, err := node.NewBroker(tr, timer.NewSystemClock(), brokerConfig(cfg), opts...)
	if err != nil {
		return err
	}

	srv := &http.Server{Addr: cfg.HTTP.Address, Handler: newRouter(m, hub, b, store)}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return b.Run(gctx, tick(cfg)) })
	g.Go(func() error { hub.Run(gctx); return nil })
	serve(g, gctx, srv)
	return g.Wait()
}

func runSensor(ctx context.Context, cfg *config.Config) error {
	id := inter.DeviceID(cfg.Node.DeviceID)
	tr, err := openTransport(ctx, cfg, id, false)
	if err != nil {
		return err
	}
	m := metrics.New()
	s, err := node.NewSensor(tr, timer.NewSystemClock(), node.NewSimulatedReader(id), sensorConfig(cfg), node.WithMetrics(m))
	if err != nil {
		return err
	}

	srv := &http.Server{Addr: cfg.HTTP.Address, Handler: newSensorRouter(m, s)}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.Run(gctx, tick(cfg)) })
	serve(g, gctx, srv)
	return g.Wait()
}

func runSimulation(ctx context.Context, cfg *config.Config) error {
	store, err := datastore.Open(cfg.Storage.Driver, cfg.Storage.DSN)
	if err != nil {
		return err
	}
	defer store.Close()

	m := metrics.New()
	hub := feed.NewHub()
	sim, err := NewSimulation(cfg, timer.NewSystemClock(), node.WithMetrics(m), node.WithFeed(hub), node.WithStore(store))
	if err != nil {
		return err
	}

	srv := &http.Server{Addr: cfg.HTTP.Address, Handler: newRouter(m, hub, sim.Broker, store)}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return sim.Run(gctx, tick(cfg)) })
	g.Go(func() error { hub.Run(gctx); return nil })
	serve(g, gctx, srv)
	return g.Wait()
}

func runRelay(ctx context.Context, cfg *config.Config) error {
	s := relay.New(relay.WithIdleTimeout(time.Duration(cfg.Relay.IdleTimeoutMs) * time.Millisecond))
	return s.ListenAndServe(ctx, cfg.Relay.Address)
}

// serve runs srv in g and shuts it down when ctx ends.
func serve(g *errgroup.Group, ctx context.Context, srv *http.Server) {
	g.Go(func() error {
		log.Printf("HTTP: listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("cli: http: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(sctx)
	})
}
