package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/lsst-ts/ts-m1m3-thermalscanner-dde-tcpip/internal/adapters/bridge"
	"github.com/lsst-ts/ts-m1m3-thermalscanner-dde-tcpip/internal/adapters/driverlink"
	"github.com/lsst-ts/ts-m1m3-thermalscanner-dde-tcpip/internal/adapters/opcuaconv"
	"github.com/lsst-ts/ts-m1m3-thermalscanner-dde-tcpip/internal/adapters/tcpserve"
)

// Conversation transports.
const (
	TransportBridge = "bridge"
	TransportOPCUA  = "opcua"
)

// DefaultPort is the documented telemetry port. An explicit port 0 requests
// an ephemeral port instead.
const DefaultPort = 4447

type Config struct {
	Driver    DriverConfig     `yaml:"driver"`
	Bridge    bridge.Config    `yaml:"bridge"`
	OPCUA     opcuaconv.Config `yaml:"opcua"`
	Server    tcpserve.Config  `yaml:"server"`
	SaveFile  string           `yaml:"save_file"`
	Timescale TimescaleConfig  `yaml:"timescale"`
	Metrics   MetricsConfig    `yaml:"metrics"`
}

type DriverConfig struct {
	driverlink.Config `yaml:",inline"`

	// Exe is the driver executable started when the first connect fails.
	// Empty means there is no fallback and a failed connect is fatal.
	Exe         string        `yaml:"exe"`
	Transport   string        `yaml:"transport"`
	LaunchGrace time.Duration `yaml:"launch_grace"`
}

type TimescaleConfig struct {
	ConnString string `yaml:"conn_string"`
	Table      string `yaml:"table"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// Load reads, defaults and validates a configuration file.
func Load(path string) (*Config, error) {
	cfg, err := Read(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Read parses and defaults a configuration file without validating it, so
// callers can merge command-line overrides first.
func Read(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, err
	}

	cfg.ApplyDefaults()
	return &cfg, nil
}

func (c *Config) ApplyDefaults() {
	c.Driver.ApplyDefaults()
	if c.Driver.Transport == "" {
		c.Driver.Transport = TransportBridge
	}
	if c.Driver.LaunchGrace == 0 {
		c.Driver.LaunchGrace = 5 * time.Second
	}
	if c.Timescale.Table == "" {
		c.Timescale.Table = "temperatures"
	}
	c.OPCUA.ApplyDefaults()
}

func (c *Config) Validate() error {
	if err := c.Driver.Config.Validate(); err != nil {
		return fmt.Errorf("driver config: %w", err)
	}

	switch c.Driver.Transport {
	case TransportBridge:
		if err := c.Bridge.Validate(); err != nil {
			return fmt.Errorf("bridge config: %w", err)
		}
	case TransportOPCUA:
		if err := c.OPCUA.Validate(); err != nil {
			return fmt.Errorf("opcua config: %w", err)
		}
	default:
		return fmt.Errorf("unknown driver transport %q", c.Driver.Transport)
	}

	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server port %d out of range", c.Server.Port)
	}
	return nil
}
