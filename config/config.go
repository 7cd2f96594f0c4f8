// Package config holds the settings of the bfsaccel command and reads them
// from flags, BFSACCEL_ environment variables and bfsaccel.yaml, in that
// order of precedence.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/sarchlab/bfsaccel/device"
	"github.com/sarchlab/bfsaccel/graph"
)

// EnvPrefix prefixes every environment variable that sets a value.
const EnvPrefix = "BFSACCEL"

// LogConfig selects the log output.
type LogConfig struct {
	// Format is "text" or "json".
	Format string `mapstructure:"format"`

	// Level is debug, info, warn, error, or none.
	Level string `mapstructure:"level"`
}

// DriverConfig tunes the driver.
type DriverConfig struct {
	Stride       int           `mapstructure:"stride"`
	PollInterval time.Duration `mapstructure:"poll-interval"`
	Timeout      time.Duration `mapstructure:"timeout"`

	// FreqMHz is the device clock used to convert time into cycles.
	FreqMHz float64 `mapstructure:"freq-mhz"`
}

// MonitorConfig controls the HTTP monitor.
type MonitorConfig struct {
	Enabled     bool `mapstructure:"enabled"`
	Port        int  `mapstructure:"port"`
	OpenBrowser bool `mapstructure:"open-browser"`
}

// RecordConfig controls the session recording.
type RecordConfig struct {
	Enabled bool `mapstructure:"enabled"`

	// Backend is "sqlite" or "clickhouse".
	Backend string `mapstructure:"backend"`

	// Path is the SQLite database name without the .sqlite3 suffix. Empty
	// picks a unique name.
	Path string `mapstructure:"path"`

	// DSN locates the ClickHouse server.
	DSN string `mapstructure:"dsn"`
}

// Config is the whole configuration.
type Config struct {
	Log     LogConfig     `mapstructure:"log"`
	Device  device.Config `mapstructure:"device"`
	Driver  DriverConfig  `mapstructure:"driver"`
	Monitor MonitorConfig `mapstructure:"monitor"`
	Record  RecordConfig  `mapstructure:"record"`
}

// DefaultConfig returns the configuration used when nothing is set.
func DefaultConfig() *Config {
	return &Config{
		Log: LogConfig{
			Format: "text",
			Level:  "info",
		},
		Device: device.DefaultConfig(),
		Driver: DriverConfig{
			Stride:       graph.DefaultStride,
			PollInterval: 100 * time.Microsecond,
			Timeout:      time.Second,
			FreqMHz:      100,
		},
		Record: RecordConfig{
			Backend: "sqlite",
		},
	}
}

// Validate checks the values that no component checks itself.
func (c *Config) Validate() error {
	switch {
	case c.Driver.Stride < 2:
		return fmt.Errorf("driver stride %d cannot hold a neighbor", c.Driver.Stride)
	case c.Driver.Stride != c.Device.Stride:
		return fmt.Errorf("driver stride %d differs from device stride %d",
			c.Driver.Stride, c.Device.Stride)
	case c.Driver.PollInterval <= 0:
		return errors.New("poll interval must be positive")
	case c.Driver.Timeout < 0:
		return errors.New("timeout cannot be negative")
	case c.Driver.FreqMHz <= 0:
		return errors.New("device frequency must be positive")
	case c.Monitor.Port < 0 || c.Monitor.Port > 65535:
		return fmt.Errorf("invalid monitor port %d", c.Monitor.Port)
	case c.Record.Backend != "sqlite" && c.Record.Backend != "clickhouse":
		return fmt.Errorf("unknown record backend %q", c.Record.Backend)
	case c.Record.Enabled && c.Record.Backend == "clickhouse" && c.Record.DSN == "":
		return errors.New("the clickhouse record backend needs a dsn")
	}

	if err := c.Device.Validate(); err != nil {
		return fmt.Errorf("device: %w", err)
	}

	return nil
}

// Setup prepares v to find bfsaccel.yaml in the given paths and to read
// BFSACCEL_ variables, and registers every key with its default so that each
// one can be set from the environment.
func Setup(v *viper.Viper, paths ...string) {
	v.SetConfigName("bfsaccel")
	v.SetConfigType("yaml")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	for _, path := range paths {
		v.AddConfigPath(path)
	}

	d := DefaultConfig()
	defaults := map[string]any{
		"log.format":                  d.Log.Format,
		"log.level":                   d.Log.Level,
		"device.csr-base":             d.Device.CSRBase,
		"device.csr-range":            d.Device.CSRRange,
		"device.access-latency":       d.Device.AccessLatency,
		"device.startup-latency":      d.Device.StartupLatency,
		"device.node-latency":         d.Device.NodeLatency,
		"device.edge-latency":         d.Device.EdgeLatency,
		"device.stride":               d.Device.Stride,
		"device.stall":                d.Device.Stall,
		"device.memory.base":          d.Device.Memory.Base,
		"device.memory.size":          d.Device.Memory.Size,
		"device.memory.alignment":     d.Device.Memory.Alignment,
		"device.memory.flush-latency": d.Device.Memory.FlushLatency,
		"driver.stride":               d.Driver.Stride,
		"driver.poll-interval":        d.Driver.PollInterval,
		"driver.timeout":              d.Driver.Timeout,
		"driver.freq-mhz":             d.Driver.FreqMHz,
		"monitor.enabled":             d.Monitor.Enabled,
		"monitor.port":                d.Monitor.Port,
		"monitor.open-browser":        d.Monitor.OpenBrowser,
		"record.enabled":              d.Record.Enabled,
		"record.backend":              d.Record.Backend,
		"record.path":                 d.Record.Path,
		"record.dsn":                  d.Record.DSN,
	}

	for key, value := range defaults {
		v.SetDefault(key, value)
	}
}

// Read loads the configuration from v. A missing config file is not an
// error.
func Read(v *viper.Viper) (*Config, error) {
	err := v.ReadInConfig()
	if err != nil && !errors.As(err, &viper.ConfigFileNotFoundError{}) {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	c := DefaultConfig()
	if err := v.Unmarshal(c); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return c, nil
}
