package dma

import (
	"fmt"
	"log"

	"github.com/sarchlab/bfsaccel/memory"
)

// A Buffer is a contiguous run of device-visible words owned by one holder
// from Allocate until Release.
type Buffer struct {
	alloc    *Allocator
	addr     uint64
	reserved uint64
	host     []uint32
	dirty    []bool
	numDirty int
	released bool

	bytesFlushed uint64
}

func newBuffer(a *Allocator, addr, reserved uint64, words int) *Buffer {
	return &Buffer{
		alloc:    a,
		addr:     addr,
		reserved: reserved,
		host:     make([]uint32, words),
		dirty:    make([]bool, words),
	}
}

// Addr returns the device address of the first word.
func (b *Buffer) Addr() uint64 {
	b.mustBeLive("addr")
	return b.addr
}

// Len returns the number of words in the buffer.
func (b *Buffer) Len() int {
	b.mustBeLive("len")
	return len(b.host)
}

// Read returns word i of the host view.
func (b *Buffer) Read(i int) uint32 {
	b.mustBeLive("read")
	b.indexMustBeInRange(i)

	return b.host[i]
}

// Write sets word i of the host view. The device does not observe the value
// until Flush.
func (b *Buffer) Write(i int, value uint32) {
	b.mustBeLive("write")
	b.indexMustBeInRange(i)

	b.host[i] = value
	if !b.dirty[i] {
		b.dirty[i] = true
		b.numDirty++
	}
}

// WriteWords writes words starting at word 0.
func (b *Buffer) WriteWords(words []uint32) {
	b.mustBeLive("write")
	if len(words) > len(b.host) {
		log.Panicf("writing %d words into a buffer of %d words",
			len(words), len(b.host))
	}

	for i, w := range words {
		b.Write(i, w)
	}
}

// IsCoherent tells whether every host write has been flushed.
func (b *Buffer) IsCoherent() bool {
	b.mustBeLive("check")
	return b.numDirty == 0
}

// Flush makes every host write visible to the device. All writes must be
// done before Flush, and Flush must be done before the buffer address is
// handed to the device.
func (b *Buffer) Flush() {
	b.mustBeLive("flush")
	b.alloc.coherencyDelay()

	for start := 0; start < len(b.host); {
		if !b.dirty[start] {
			start++
			continue
		}

		end := start
		for end < len(b.host) && b.dirty[end] {
			b.dirty[end] = false
			end++
		}

		b.mustSucceed(b.alloc.storage.WriteWords(
			b.addr+uint64(start)*memory.WordSize, b.host[start:end]))
		b.bytesFlushed += uint64(end-start) * memory.WordSize

		start = end
	}

	b.numDirty = 0
}

// Invalidate discards the host view and reloads it from device memory, so
// that the host observes what the device wrote. Unflushed host writes are
// lost.
func (b *Buffer) Invalidate() {
	b.mustBeLive("invalidate")
	b.alloc.coherencyDelay()

	words, err := b.alloc.storage.ReadWords(b.addr, len(b.host))
	b.mustSucceed(err)

	copy(b.host, words)
	clear(b.dirty)
	b.numDirty = 0
}

// BytesFlushed returns the number of bytes moved to the device so far.
func (b *Buffer) BytesFlushed() uint64 {
	return b.bytesFlushed
}

// Release returns the buffer to the allocator. Any later use panics.
func (b *Buffer) Release() {
	b.mustBeLive("release")

	b.released = true
	b.alloc.release(b.addr, b.reserved)
	b.host = nil
	b.dirty = nil
}

// IsReleased tells whether Release has been called.
func (b *Buffer) IsReleased() bool {
	return b.released
}

func (b *Buffer) String() string {
	if b.released {
		return "dma.Buffer(released)"
	}

	return fmt.Sprintf("dma.Buffer(0x%08X, %d words)", b.addr, len(b.host))
}

func (b *Buffer) mustBeLive(op string) {
	if b.released {
		log.Panicf("%s on released buffer at 0x%08X", op, b.addr)
	}
}

func (b *Buffer) indexMustBeInRange(i int) {
	if i < 0 || i >= len(b.host) {
		log.Panicf("index %d out of range [0, %d) for buffer at 0x%08X",
			i, len(b.host), b.addr)
	}
}

func (b *Buffer) mustSucceed(err error) {
	if err != nil {
		log.Panicf("buffer at 0x%08X escaped its window: %v", b.addr, err)
	}
}
