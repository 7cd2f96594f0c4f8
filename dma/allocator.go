// Package dma manages buffers in the device-visible memory window. A buffer
// keeps a host view of its words; the device only observes them after Flush,
// and the host only observes device writes after Invalidate.
package dma

import (
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sarchlab/bfsaccel/memory"
)

// ErrOutOfMemory is returned when no contiguous extent can hold a request.
var ErrOutOfMemory = errors.New("out of device memory")

// Config describes the device-visible memory window.
type Config struct {
	// Base is the device address of the first byte of the window.
	Base uint64 `mapstructure:"base"`

	// Size is the number of bytes in the window.
	Size uint64 `mapstructure:"size"`

	// Alignment is the granularity of allocations, in bytes.
	Alignment uint64 `mapstructure:"alignment"`

	// FlushLatency is paid by every Flush and Invalidate.
	FlushLatency time.Duration `mapstructure:"flush-latency"`
}

// DefaultConfig is a 32 MiB contiguous window with page-sized allocations.
func DefaultConfig() Config {
	return Config{
		Base:      0x0E000000,
		Size:      32 << 20,
		Alignment: 4096,
	}
}

// Validate checks that the window is usable.
func (c Config) Validate() error {
	switch {
	case c.Size == 0:
		return errors.New("dma window size must be positive")
	case c.Alignment == 0 || c.Alignment%memory.WordSize != 0:
		return fmt.Errorf("dma alignment %d must be a positive multiple of %d",
			c.Alignment, memory.WordSize)
	case c.Base%c.Alignment != 0:
		return fmt.Errorf("dma base 0x%X must be aligned to %d",
			c.Base, c.Alignment)
	case c.Base+c.Size > 1<<32:
		return fmt.Errorf("dma window [0x%X, 0x%X) must be 32-bit addressable",
			c.Base, c.Base+c.Size)
	}

	return nil
}

type extent struct {
	addr, size uint64
}

// An Allocator hands out contiguous buffers from the window, first fit.
type Allocator struct {
	mu      sync.Mutex
	cfg     Config
	storage *memory.Storage
	free    []extent
	inUse   uint64
	live    int
	logger  *zap.Logger
}

// NewAllocator creates an allocator over a fresh storage window. It panics on
// an invalid configuration.
func NewAllocator(cfg Config, logger *zap.Logger) *Allocator {
	if err := cfg.Validate(); err != nil {
		log.Panic(err)
	}

	if logger == nil {
		logger = zap.NewNop()
	}

	return &Allocator{
		cfg:     cfg,
		storage: memory.NewStorage(cfg.Base, cfg.Size),
		free:    []extent{{addr: cfg.Base, size: cfg.Size}},
		logger:  logger,
	}
}

// Storage returns the device side of the window.
func (a *Allocator) Storage() *memory.Storage {
	return a.storage
}

// Config returns the window configuration.
func (a *Allocator) Config() Config {
	return a.cfg
}

// InUse returns the number of bytes held by live buffers.
func (a *Allocator) InUse() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.inUse
}

// NumLive returns the number of buffers that have not been released.
func (a *Allocator) NumLive() int {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.live
}

// Allocate reserves a contiguous buffer of the given number of words.
func (a *Allocator) Allocate(words int) (*Buffer, error) {
	if words <= 0 {
		log.Panicf("cannot allocate %d words", words)
	}

	size := alignUp(uint64(words)*memory.WordSize, a.cfg.Alignment)

	a.mu.Lock()
	defer a.mu.Unlock()

	for i, e := range a.free {
		if e.size < size {
			continue
		}

		addr := e.addr
		if e.size == size {
			a.free = append(a.free[:i], a.free[i+1:]...)
		} else {
			a.free[i] = extent{addr: e.addr + size, size: e.size - size}
		}

		a.inUse += size
		a.live++

		a.logger.Debug("allocated dma buffer",
			zap.String("addr", fmt.Sprintf("0x%08X", addr)),
			zap.Int("words", words),
			zap.Uint64("bytes", size))

		return newBuffer(a, addr, size, words), nil
	}

	return nil, fmt.Errorf("%w: %d bytes requested, %d bytes in use of %d",
		ErrOutOfMemory, size, a.inUse, a.cfg.Size)
}

// release puts the extent back and merges it with its free neighbors.
func (a *Allocator) release(addr, size uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.free = append(a.free, extent{addr: addr, size: size})
	sort.Slice(a.free, func(i, j int) bool {
		return a.free[i].addr < a.free[j].addr
	})

	merged := a.free[:1]
	for _, e := range a.free[1:] {
		last := &merged[len(merged)-1]
		if last.addr+last.size == e.addr {
			last.size += e.size
			continue
		}

		merged = append(merged, e)
	}
	a.free = merged

	a.inUse -= size
	a.live--

	a.logger.Debug("released dma buffer",
		zap.String("addr", fmt.Sprintf("0x%08X", addr)),
		zap.Uint64("bytes", size))
}

func (a *Allocator) coherencyDelay() {
	if a.cfg.FlushLatency > 0 {
		time.Sleep(a.cfg.FlushLatency)
	}
}

func alignUp(n, alignment uint64) uint64 {
	return (n + alignment - 1) / alignment * alignment
}
