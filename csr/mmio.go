//go:build linux

package csr

import (
	"fmt"
	"os"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"
)

// MMIO reaches the registers of a real device through a shared mapping of a
// device file such as /dev/uio0 or /dev/mem.
type MMIO struct {
	file  *os.File
	mem   []byte
	delta uint64
	base  uint64
	size  uint64
}

// OpenMMIO maps size bytes of the register block that starts at the physical
// (or file) offset base.
func OpenMMIO(path string, base, size uint64) (*MMIO, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_SYNC, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	pageSize := uint64(os.Getpagesize())
	pageBase := base &^ (pageSize - 1)
	delta := base - pageBase

	mem, err := unix.Mmap(
		int(f.Fd()),
		int64(pageBase),
		int(size+delta),
		unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_SHARED,
	)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("mmap %s at 0x%08X: %w", path, base, err)
	}

	return &MMIO{
		file:  f,
		mem:   mem,
		delta: delta,
		base:  base,
		size:  size,
	}, nil
}

// Base returns the address the register block is mapped from.
func (m *MMIO) Base() uint64 {
	return m.base
}

// Size returns the number of mapped bytes.
func (m *MMIO) Size() uint64 {
	return m.size
}

// Read loads a register with a single 32-bit access.
func (m *MMIO) Read(offset Offset) uint32 {
	return atomic.LoadUint32(m.word(offset))
}

// Write stores a register with a single 32-bit access.
func (m *MMIO) Write(offset Offset, value uint32) {
	atomic.StoreUint32(m.word(offset), value)
}

// Close unmaps the registers and closes the device file.
func (m *MMIO) Close() error {
	if m.mem == nil {
		return nil
	}

	err := unix.Munmap(m.mem)
	m.mem = nil

	closeErr := m.file.Close()
	if err != nil {
		return err
	}

	return closeErr
}

func (m *MMIO) word(offset Offset) *uint32 {
	if m.mem == nil {
		panic("register access after close")
	}

	offsetMustBeMapped(offset, m.size)

	return (*uint32)(unsafe.Pointer(&m.mem[m.delta+uint64(offset)]))
}
