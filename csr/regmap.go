// Package csr defines the control/status register map of the traversal
// accelerator and the Registers capability through which the driver reaches
// it.
package csr

import (
	"fmt"
	"log"
)

// An Offset is a byte offset into the mapped register range.
type Offset uint32

// The register map. Every register is 32 bits wide.
const (
	Reserved   Offset = 0x000
	StartNode  Offset = 0x004
	GraphBase  Offset = 0x008
	Control    Offset = 0x00C
	Status     Offset = 0x010
	NodeCount  Offset = 0x014
	ResultBase Offset = 0x018
)

// MapSize is the number of bytes the register map occupies.
const MapSize uint64 = 0x01C

// Control register bits.
const (
	ControlStart uint32 = 1 << 0
	ControlReset uint32 = 1 << 1
)

// Status register bits.
const (
	StatusBusy  uint32 = 1 << 0
	StatusDone  uint32 = 1 << 1
	StatusFault uint32 = 1 << 2
)

// Registers is synchronous access to the accelerator's CSRs. Each read
// reflects the latest value written to a configuration register, or the
// device-maintained value of Status.
type Registers interface {
	Read(offset Offset) uint32
	Write(offset Offset, value uint32)
}

var offsetNames = map[Offset]string{
	Reserved:   "Reserved",
	StartNode:  "StartNode",
	GraphBase:  "GraphBase",
	Control:    "Control",
	Status:     "Status",
	NodeCount:  "NodeCount",
	ResultBase: "ResultBase",
}

func (o Offset) String() string {
	if name, ok := offsetNames[o]; ok {
		return name
	}

	return fmt.Sprintf("0x%03X", uint32(o))
}

// offsetMustBeMapped panics if the 32-bit access at o does not fall entirely
// inside a range of size bytes, or is not word aligned.
func offsetMustBeMapped(o Offset, size uint64) {
	if o%4 != 0 {
		log.Panicf("register offset %s is not word aligned", o)
	}

	if uint64(o)+4 > size {
		log.Panicf("register offset %s is outside the mapped range of %d bytes",
			o, size)
	}
}
