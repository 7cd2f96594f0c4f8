package driver

import (
	"log"
	"time"

	"go.uber.org/zap"

	"github.com/sarchlab/bfsaccel/csr"
	"github.com/sarchlab/bfsaccel/device"
	"github.com/sarchlab/bfsaccel/dma"
	"github.com/sarchlab/bfsaccel/graph"
	"github.com/sarchlab/bfsaccel/idgen"
	"github.com/sarchlab/bfsaccel/timing"
)

// Builder can build drivers.
type Builder struct {
	regs         csr.Registers
	alloc        *dma.Allocator
	csrBase      uint64
	csrSize      uint64
	stride       int
	pollInterval time.Duration
	timeout      time.Duration
	freq         timing.Freq
	clock        timing.TimeTeller
	ids          idgen.IDGenerator
	logger       *zap.Logger
}

// MakeBuilder returns a new Builder
func MakeBuilder() Builder {
	return Builder{
		csrSize:      csr.MapSize,
		stride:       graph.DefaultStride,
		pollInterval: 100 * time.Microsecond,
		timeout:      time.Second,
		freq:         100 * timing.MHz,
		clock:        timing.WallClock{},
		ids:          idgen.NewXID(),
		logger:       zap.NewNop(),
	}
}

// WithPlatform takes the registers, the memory pool and the register window
// from an initialized platform.
func (b Builder) WithPlatform(p *device.Platform) Builder {
	b.regs = p.Registers
	b.alloc = p.Memory
	b.csrBase = p.CSRBase
	b.csrSize = p.CSRSize

	return b
}

// WithRegisters sets the register interface the driver programs.
func (b Builder) WithRegisters(regs csr.Registers) Builder {
	b.regs = regs
	return b
}

// WithAllocator sets the pool that graph and result buffers come from.
func (b Builder) WithAllocator(alloc *dma.Allocator) Builder {
	b.alloc = alloc
	return b
}

// WithCSRWindow records where the registers are mapped.
func (b Builder) WithCSRWindow(base, size uint64) Builder {
	b.csrBase = base
	b.csrSize = size

	return b
}

// WithStride sets the number of words per encoded node record.
func (b Builder) WithStride(stride int) Builder {
	b.stride = stride
	return b
}

// WithPollInterval sets the time between two status reads in Wait.
func (b Builder) WithPollInterval(interval time.Duration) Builder {
	b.pollInterval = interval
	return b
}

// WithTimeout sets the bound that Run passes to Wait.
func (b Builder) WithTimeout(timeout time.Duration) Builder {
	b.timeout = timeout
	return b
}

// WithFreq sets the device clock used to report cycles.
func (b Builder) WithFreq(freq timing.Freq) Builder {
	b.freq = freq
	return b
}

// WithTimeTeller sets the clock the driver measures with.
func (b Builder) WithTimeTeller(clock timing.TimeTeller) Builder {
	b.clock = clock
	return b
}

// WithIDGenerator sets how session ids are made.
func (b Builder) WithIDGenerator(ids idgen.IDGenerator) Builder {
	b.ids = ids
	return b
}

// WithLogger sets the logger.
func (b Builder) WithLogger(logger *zap.Logger) Builder {
	b.logger = logger
	return b
}

// Build creates a driver in the Idle phase.
func (b Builder) Build(name string) *Driver {
	b.mustBeComplete()

	d := &Driver{
		name:         name,
		regs:         &countingRegisters{Registers: b.regs},
		alloc:        b.alloc,
		stride:       b.stride,
		pollInterval: b.pollInterval,
		timeout:      b.timeout,
		freq:         b.freq,
		clock:        b.clock,
		ids:          b.ids,
		logger:       b.logger.With(zap.String("driver", name)),
		handle: Handle{
			CSRBase: b.csrBase,
			CSRSize: b.csrSize,
		},
	}

	d.publish()

	return d
}

func (b Builder) mustBeComplete() {
	if b.regs == nil {
		log.Panic("driver needs registers")
	}

	if b.alloc == nil {
		log.Panic("driver needs a buffer allocator")
	}

	if b.stride < 2 {
		log.Panicf("stride %d cannot hold a neighbor", b.stride)
	}

	if b.pollInterval <= 0 {
		log.Panic("poll interval must be positive")
	}

	if b.logger == nil {
		log.Panic("logger cannot be nil")
	}
}
