package csr

import (
	"sync"
	"time"
)

// A WriteObserver is told about every write that arrives over the bus.
type WriteObserver func(offset Offset, value uint32)

// Bank is an in-memory register file. It stands in for the hardware register
// block of a simulated device: the bus side (Read, Write) pays the access
// latency, while the device side (Peek, Poke) does not.
type Bank struct {
	mu       sync.Mutex
	size     uint64
	latency  time.Duration
	values   map[Offset]uint32
	observer WriteObserver
}

// NewBank creates a register file of size bytes where every bus access takes
// latency.
func NewBank(size uint64, latency time.Duration) *Bank {
	return &Bank{
		size:    size,
		latency: latency,
		values:  make(map[Offset]uint32),
	}
}

// OnWrite installs the observer that is invoked after each bus write.
func (b *Bank) OnWrite(observer WriteObserver) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.observer = observer
}

// Size returns the number of mapped bytes.
func (b *Bank) Size() uint64 {
	return b.size
}

// Read performs a bus read.
func (b *Bank) Read(offset Offset) uint32 {
	offsetMustBeMapped(offset, b.size)
	b.wait()

	return b.Peek(offset)
}

// Write performs a bus write and notifies the observer.
func (b *Bank) Write(offset Offset, value uint32) {
	offsetMustBeMapped(offset, b.size)
	b.wait()

	b.mu.Lock()
	b.values[offset] = value
	observer := b.observer
	b.mu.Unlock()

	if observer != nil {
		observer(offset, value)
	}
}

// Peek reads a register from the device side.
func (b *Bank) Peek(offset Offset) uint32 {
	offsetMustBeMapped(offset, b.size)

	b.mu.Lock()
	defer b.mu.Unlock()

	return b.values[offset]
}

// Poke sets a register from the device side without notifying the observer.
func (b *Bank) Poke(offset Offset, value uint32) {
	offsetMustBeMapped(offset, b.size)

	b.mu.Lock()
	defer b.mu.Unlock()

	b.values[offset] = value
}

func (b *Bank) wait() {
	if b.latency > 0 {
		time.Sleep(b.latency)
	}
}
