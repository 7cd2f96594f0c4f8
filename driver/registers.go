package driver

import (
	"sync/atomic"

	"github.com/sarchlab/bfsaccel/csr"
)

// countingRegisters counts the bus transactions a driver issues.
type countingRegisters struct {
	csr.Registers

	reads  atomic.Uint64
	writes atomic.Uint64
}

func (r *countingRegisters) Read(offset csr.Offset) uint32 {
	r.reads.Add(1)
	return r.Registers.Read(offset)
}

func (r *countingRegisters) Write(offset csr.Offset, value uint32) {
	r.writes.Add(1)
	r.Registers.Write(offset, value)
}
