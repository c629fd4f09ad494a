// Package config loads node configuration from a YAML file and JENLIB_*
// environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log"
	"strings"

	"github.com/G1-H25/jenlib/src/inter"
	"github.com/spf13/viper"
)

const (
	ModeBroker   = "broker"
	ModeSensor   = "sensor"
	ModeSimulate = "simulate"
	ModeRelay    = "relay"

	TransportMemory = "memory"
	TransportSerial = "serial"
	TransportTCP    = "tcp"
)

type Config struct {
	Mode string `mapstructure:"mode"`

	Node struct {
		DeviceID uint32 `mapstructure:"device_id"`
		TickMs   uint32 `mapstructure:"tick_ms"`
	} `mapstructure:"node"`

	Sensor struct {
		MeasurementIntervalMs uint32 `mapstructure:"measurement_interval_ms"`
		ReceiptTimeoutMs      uint32 `mapstructure:"receipt_timeout_ms"`
	} `mapstructure:"sensor"`

	Broker struct {
		BackendTimeoutMs uint32 `mapstructure:"backend_timeout_ms"`
		StartRetryMs     uint32 `mapstructure:"start_retry_ms"`
	} `mapstructure:"broker"`

	Transport struct {
		Kind   string `mapstructure:"kind"`
		Serial struct {
			Port string `mapstructure:"port"`
			Baud int    `mapstructure:"baud"`
		} `mapstructure:"serial"`
		TCP struct {
			Address string `mapstructure:"address"`
		} `mapstructure:"tcp"`
	} `mapstructure:"transport"`

	Storage struct {
		Driver string `mapstructure:"driver"`
		DSN    string `mapstructure:"dsn"`
	} `mapstructure:"storage"`

	Backend struct {
		Enabled     bool   `mapstructure:"enabled"`
		BrokerURL   string `mapstructure:"broker_url"`
		ClientID    string `mapstructure:"client_id"`
		TopicPrefix string `mapstructure:"topic_prefix"`
	} `mapstructure:"backend"`

	Relay struct {
		Address       string `mapstructure:"address"`
		IdleTimeoutMs uint32 `mapstructure:"idle_timeout_ms"`
	} `mapstructure:"relay"`

	HTTP struct {
		Address string `mapstructure:"address"`
	} `mapstructure:"http"`

	Simulate struct {
		Sensors    int    `mapstructure:"sensors"`
		DurationMs uint32 `mapstructure:"duration_ms"`
	} `mapstructure:"simulate"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", ModeSimulate)
	v.SetDefault("node.device_id", 1)
	v.SetDefault("node.tick_ms", 10)
	v.SetDefault("sensor.measurement_interval_ms", 1000)
	v.SetDefault("sensor.receipt_timeout_ms", 10000)
	v.SetDefault("broker.backend_timeout_ms", 30000)
	v.SetDefault("broker.start_retry_ms", 3000)
	v.SetDefault("transport.kind", TransportMemory)
	v.SetDefault("transport.serial.port", "/dev/ttyUSB0")
	v.SetDefault("transport.serial.baud", 115200)
	v.SetDefault("transport.tcp.address", "127.0.0.1:7000")
	v.SetDefault("storage.driver", "sqlite")
	v.SetDefault("storage.dsn", "jenlib.db")
	v.SetDefault("backend.enabled", false)
	v.SetDefault("backend.broker_url", "tcp://127.0.0.1:1883")
	v.SetDefault("backend.client_id", "jenlib-broker")
	v.SetDefault("backend.topic_prefix", "jenlib")
	v.SetDefault("relay.address", ":7000")
	v.SetDefault("relay.idle_timeout_ms", 60000)
	v.SetDefault("http.address", ":8080")
	v.SetDefault("simulate.sensors", 3)
	v.SetDefault("simulate.duration_ms", 10000)
}

// Load reads path (if non-empty) on top of the defaults. JENLIB_NODE_DEVICE_ID
// style variables override both.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("jenlib")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config: read %s: %w", path, err)
			}
			log.Printf("Config: %s not found, using defaults", path)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects zero intervals and unknown enum values.
func (c *Config) Validate() error {
	bad := func(format string, args ...interface{}) error {
		return fmt.Errorf("config: %s: %w", fmt.Sprintf(format, args...), inter.ErrInvalidConfig)
	}
	switch c.Mode {
	case ModeBroker, ModeSensor, ModeSimulate, ModeRelay:
	default:
		return bad("unknown mode %q", c.Mode)
	}
	switch c.Transport.Kind {
	case TransportMemory, TransportSerial, TransportTCP:
	default:
		return bad("unknown transport %q", c.Transport.Kind)
	}
	isNode := c.Mode == ModeBroker || c.Mode == ModeSensor
	if c.Transport.Kind == TransportMemory && isNode {
		return bad("memory transport only works in simulate mode")
	}
	switch c.Storage.Driver {
	case "sqlite", "pgx":
	default:
		return bad("unknown storage driver %q", c.Storage.Driver)
	}
	if c.Node.TickMs == 0 {
		return bad("node.tick_ms must be > 0")
	}
	if c.Sensor.MeasurementIntervalMs == 0 {
		return bad("sensor.measurement_interval_ms must be > 0")
	}
	if c.Sensor.ReceiptTimeoutMs == 0 {
		return bad("sensor.receipt_timeout_ms must be > 0")
	}
	if c.Broker.BackendTimeoutMs == 0 {
		return bad("broker.backend_timeout_ms must be > 0")
	}
	if isNode && c.Node.DeviceID == 0 {
		return bad("node.device_id 0 is the broadcast inbox")
	}
	if c.Mode == ModeSimulate && c.Simulate.Sensors <= 0 {
		return bad("simulate.sensors must be > 0")
	}
	return nil
}
