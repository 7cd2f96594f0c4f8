package device

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/sarchlab/bfsaccel/csr"
	"github.com/sarchlab/bfsaccel/dma"
)

// A Platform is what a driver needs from an initialized board: a register
// range bound to the accelerator and a device-visible memory pool. Loading
// the bitstream and discovering the IP are folded into NewPlatform.
type Platform struct {
	Registers csr.Registers
	Memory    *dma.Allocator
	CSRBase   uint64
	CSRSize   uint64

	Device *Accelerator
}

// NewPlatform brings up a simulated accelerator described by cfg.
func NewPlatform(cfg Config, logger *zap.Logger) (*Platform, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid device configuration: %w", err)
	}

	if logger == nil {
		logger = zap.NewNop()
	}

	alloc := dma.NewAllocator(cfg.Memory, logger)
	accel := NewAccelerator("BFSAccel", cfg, alloc.Storage(), logger)

	logger.Info("platform ready",
		zap.String("csr", fmt.Sprintf("0x%08X", cfg.CSRBase)),
		zap.Uint64("csr-range", cfg.CSRRange),
		zap.String("memory", fmt.Sprintf("0x%08X", cfg.Memory.Base)),
		zap.Uint64("memory-size", cfg.Memory.Size))

	return &Platform{
		Registers: accel.Registers(),
		Memory:    alloc,
		CSRBase:   cfg.CSRBase,
		CSRSize:   cfg.CSRRange,
		Device:    accel,
	}, nil
}

// Close shuts the device down.
func (p *Platform) Close() {
	p.Device.Close()
}
