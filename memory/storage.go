// Package memory models the device-visible memory that DMA buffers live in.
package memory

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
)

// ErrOutOfRange is returned when an access falls outside the storage window.
var ErrOutOfRange = errors.New("access beyond the storage range")

// WordSize is the number of bytes in a device word.
const WordSize = 4

// A Storage keeps the data of the device-visible memory window.
//
// The storage implementation manages the storage in units. The unit is
// similar to the concept of page in memory management. For the units that
// are not touched by Read and Write, no memory is allocated, so a large window
// costs nothing until it is used.
//
// Storage is safe for concurrent use by the host and the device.
type Storage struct {
	sync.RWMutex
	base     uint64
	unitSize uint64
	capacity uint64
	data     map[uint64][]byte
}

// NewStorage creates a storage window of capacity bytes starting at address
// base.
func NewStorage(base, capacity uint64) *Storage {
	return &Storage{
		base:     base,
		unitSize: 4096,
		capacity: capacity,
		data:     make(map[uint64][]byte),
	}
}

// Base returns the first address of the window.
func (s *Storage) Base() uint64 {
	return s.base
}

// Capacity returns the size of the window in bytes.
func (s *Storage) Capacity() uint64 {
	return s.capacity
}

func (s *Storage) rangeMustBeInside(address, length uint64) error {
	if address < s.base || address-s.base+length > s.capacity {
		return fmt.Errorf("%w: [0x%08X, 0x%08X) not in [0x%08X, 0x%08X)",
			ErrOutOfRange, address, address+length, s.base, s.base+s.capacity)
	}

	return nil
}

// unit retrieves a storage unit if the unit has been created before.
// Otherwise it initializes the unit. The caller holds the write lock when
// create is true.
func (s *Storage) unit(offset uint64, create bool) []byte {
	baseAddr := offset - offset%s.unitSize

	unit, ok := s.data[baseAddr]
	if !ok && create {
		unit = make([]byte, s.unitSize)
		s.data[baseAddr] = unit
	}

	return unit
}

// Read copies length bytes starting at address. Untouched memory reads as
// zero.
func (s *Storage) Read(address, length uint64) ([]byte, error) {
	if err := s.rangeMustBeInside(address, length); err != nil {
		return nil, err
	}

	s.RLock()
	defer s.RUnlock()

	res := make([]byte, length)
	offset := address - s.base
	done := uint64(0)

	for done < length {
		inUnit := (offset + done) % s.unitSize
		n := min(length-done, s.unitSize-inUnit)

		if unit := s.unit(offset+done, false); unit != nil {
			copy(res[done:done+n], unit[inUnit:inUnit+n])
		}

		done += n
	}

	return res, nil
}

// Write copies data into the storage starting at address.
func (s *Storage) Write(address uint64, data []byte) error {
	length := uint64(len(data))
	if err := s.rangeMustBeInside(address, length); err != nil {
		return err
	}

	s.Lock()
	defer s.Unlock()

	offset := address - s.base
	done := uint64(0)

	for done < length {
		inUnit := (offset + done) % s.unitSize
		n := min(length-done, s.unitSize-inUnit)

		unit := s.unit(offset+done, true)
		copy(unit[inUnit:inUnit+n], data[done:done+n])

		done += n
	}

	return nil
}

// ReadWord reads the little-endian 32-bit word at address.
func (s *Storage) ReadWord(address uint64) (uint32, error) {
	b, err := s.Read(address, WordSize)
	if err != nil {
		return 0, err
	}

	return binary.LittleEndian.Uint32(b), nil
}

// WriteWord writes a little-endian 32-bit word at address.
func (s *Storage) WriteWord(address uint64, value uint32) error {
	b := make([]byte, WordSize)
	binary.LittleEndian.PutUint32(b, value)

	return s.Write(address, b)
}

// ReadWords reads n consecutive words starting at address.
func (s *Storage) ReadWords(address uint64, n int) ([]uint32, error) {
	b, err := s.Read(address, uint64(n)*WordSize)
	if err != nil {
		return nil, err
	}

	words := make([]uint32, n)
	for i := range words {
		words[i] = binary.LittleEndian.Uint32(b[i*WordSize:])
	}

	return words, nil
}

// WriteWords writes consecutive words starting at address.
func (s *Storage) WriteWords(address uint64, words []uint32) error {
	b := make([]byte, len(words)*WordSize)
	for i, w := range words {
		binary.LittleEndian.PutUint32(b[i*WordSize:], w)
	}

	return s.Write(address, b)
}
