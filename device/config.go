// Package device provides a simulated traversal accelerator and the platform
// handle that binds its registers and memory window for a driver.
package device

import (
	"errors"
	"fmt"
	"time"

	"github.com/sarchlab/bfsaccel/csr"
	"github.com/sarchlab/bfsaccel/dma"
	"github.com/sarchlab/bfsaccel/graph"
)

// Config is the timing and layout model of the simulated accelerator. All
// timing is explicit so runs are reproducible.
type Config struct {
	// CSRBase and CSRRange describe where the register block is mapped.
	CSRBase  uint64 `mapstructure:"csr-base"`
	CSRRange uint64 `mapstructure:"csr-range"`

	// AccessLatency is paid by every register read and write on the bus.
	AccessLatency time.Duration `mapstructure:"access-latency"`

	// StartupLatency, NodeLatency and EdgeLatency make up the traversal time:
	// startup + visited nodes * node + examined edges * edge.
	StartupLatency time.Duration `mapstructure:"startup-latency"`
	NodeLatency    time.Duration `mapstructure:"node-latency"`
	EdgeLatency    time.Duration `mapstructure:"edge-latency"`

	// Stride is the record size the device decodes, in words.
	Stride int `mapstructure:"stride"`

	// Stall keeps the device busy forever once started, until reset.
	Stall bool `mapstructure:"stall"`

	// Memory is the device-visible window.
	Memory dma.Config `mapstructure:"memory"`
}

// DefaultConfig returns a fast device with the reference 32-word stride.
func DefaultConfig() Config {
	return Config{
		CSRBase:  0x43C00000,
		CSRRange: 0x10000,
		Stride:   graph.DefaultStride,
		Memory:   dma.DefaultConfig(),
	}
}

// Validate checks that the configuration describes a usable device.
func (c Config) Validate() error {
	if c.CSRRange < csr.MapSize {
		return fmt.Errorf("csr range 0x%X is smaller than the register map 0x%X",
			c.CSRRange, csr.MapSize)
	}

	if c.Stride < 1 {
		return errors.New("device stride must be positive")
	}

	if c.AccessLatency < 0 || c.StartupLatency < 0 ||
		c.NodeLatency < 0 || c.EdgeLatency < 0 {
		return errors.New("device latencies cannot be negative")
	}

	return c.Memory.Validate()
}
