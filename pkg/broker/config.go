package broker

import (
	"fmt"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/odvcencio/crossbar/pkg/runner"
)

// Config holds construction options for a Broker. The zero value is
// usable; see DefaultConfig for the documented defaults.
type Config struct {
	// Workers is the broker-owned worker pool size. Ignored when Runner
	// is set. <= 0 means GOMAXPROCS.
	Workers int `yaml:"workers"`

	// QueueDepth is the worker pool's task buffer. Ignored when Runner
	// is set. <= 0 means Workers*256.
	QueueDepth int `yaml:"queue_depth"`

	// NATS configures the optional cluster bridge; see NewNATSEngine.
	NATS NATSConfig `yaml:"nats"`

	// Runner overrides the broker-owned worker pool with an external
	// task runner. The broker then never drains or stops it.
	Runner runner.TaskRunner `yaml:"-"`

	// Logger receives broker lifecycle events. Nil means no logging.
	Logger *zap.Logger `yaml:"-"`

	// Registerer receives the broker metrics. Nil means metrics are
	// collected but not exported.
	Registerer prometheus.Registerer `yaml:"-"`
}

// NATSConfig configures the NATS cluster bridge.
type NATSConfig struct {
	// URL is the NATS server URL (e.g. "nats://localhost:4222").
	URL string `yaml:"url"`

	// Name is a client identifier for debugging/monitoring.
	Name string `yaml:"name"`

	// Subject is the broadcast subject all bridged brokers share.
	Subject string `yaml:"subject"`

	// Timeout is the connect timeout.
	Timeout time.Duration `yaml:"timeout"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		NATS: NATSConfig{
			URL:     "nats://localhost:4222",
			Name:    "crossbar",
			Subject: "crossbar.fanout",
			Timeout: 30 * time.Second,
		},
	}
}

// LoadConfig reads a YAML config file over DefaultConfig.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}
