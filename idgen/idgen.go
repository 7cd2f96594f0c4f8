// Package idgen generates identifiers for sessions and traced tasks.
package idgen

import (
	"strconv"
	"sync/atomic"

	"github.com/rs/xid"
)

// IDGenerator can generate IDs.
type IDGenerator interface {
	// Generate an ID.
	Generate() string
}

// NewSequential returns a generator that yields "1", "2", ... in order. It is
// deterministic and is what tests use.
func NewSequential() IDGenerator {
	return &sequentialIDGenerator{}
}

// NewXID returns a generator of globally unique, sortable xid strings.
func NewXID() IDGenerator {
	return xidGenerator{}
}

type sequentialIDGenerator struct {
	nextID uint64
}

func (g *sequentialIDGenerator) Generate() string {
	idNumber := atomic.AddUint64(&g.nextID, 1)
	return strconv.FormatUint(idNumber, 10)
}

type xidGenerator struct{}

func (xidGenerator) Generate() string {
	return xid.New().String()
}
