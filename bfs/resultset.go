// Package bfs defines the traversal result set and the host-side reference
// traversal every device must agree with.
package bfs

import (
	"errors"
	"fmt"
	"math"
	"slices"

	"github.com/sarchlab/bfsaccel/graph"
)

// Markers stored in the distance and predecessor slots.
const (
	Unreached uint32 = math.MaxUint32
	None      uint32 = math.MaxUint32
)

// ErrInvariant is wrapped by every Verify failure.
var ErrInvariant = errors.New("result set invariant violated")

// A ResultSet is the outcome of a breadth-first traversal from Start.
type ResultSet struct {
	Start       uint32
	Visited     []bool
	Distance    []uint32
	Predecessor []uint32

	// Levels[d] lists the nodes at distance d in discovery order.
	Levels [][]uint32
}

// NewResultSet creates a result set over n nodes where nothing is reached.
func NewResultSet(n int, start uint32) *ResultSet {
	r := &ResultSet{
		Start:       start,
		Visited:     make([]bool, n),
		Distance:    make([]uint32, n),
		Predecessor: make([]uint32, n),
	}

	for i := 0; i < n; i++ {
		r.Distance[i] = Unreached
		r.Predecessor[i] = None
	}

	return r
}

// NumNodes returns the number of nodes the result covers.
func (r *ResultSet) NumNodes() int {
	return len(r.Visited)
}

// NumVisited returns the number of reached nodes.
func (r *ResultSet) NumVisited() int {
	n := 0
	for _, v := range r.Visited {
		if v {
			n++
		}
	}

	return n
}

// VisitedNodes lists reached nodes in id order.
func (r *ResultSet) VisitedNodes() []uint32 {
	nodes := make([]uint32, 0, len(r.Visited))
	for id, v := range r.Visited {
		if v {
			nodes = append(nodes, uint32(id))
		}
	}

	return nodes
}

// Distances maps every reached node to its distance.
func (r *ResultSet) Distances() map[uint32]uint32 {
	d := make(map[uint32]uint32)
	for id, v := range r.Visited {
		if v {
			d[uint32(id)] = r.Distance[id]
		}
	}

	return d
}

// MaxDepth returns the largest distance reached.
func (r *ResultSet) MaxDepth() int {
	return len(r.Levels) - 1
}

// PathTo returns the predecessor chain from Start to n, or nil if n was not
// reached or the chain does not lead back to Start.
func (r *ResultSet) PathTo(n uint32) []uint32 {
	if !r.reached(n) {
		return nil
	}

	path := []uint32{n}
	for n != r.Start {
		if len(path) > len(r.Visited) {
			return nil
		}

		n = r.Predecessor[n]
		if !r.reached(n) {
			return nil
		}

		path = append(path, n)
	}
	slices.Reverse(path)

	return path
}

func (r *ResultSet) reached(n uint32) bool {
	return int(n) < len(r.Visited) && int(n) < len(r.Predecessor) &&
		r.Visited[n]
}

// Equivalent tells whether two results reach the same nodes at the same
// distances. The order within a level and the choice among equally short
// predecessors are ignored.
func (r *ResultSet) Equivalent(other *ResultSet) bool {
	if r.Start != other.Start || len(r.Visited) != len(other.Visited) {
		return false
	}

	for i := range r.Visited {
		if r.Visited[i] != other.Visited[i] ||
			r.Distance[i] != other.Distance[i] {
			return false
		}
	}

	return true
}

// Verify checks r against g: the start has distance 0 and no predecessor;
// every other reached node has a reached predecessor one level closer that
// links to it in g; levels partition the reached nodes by distance; and no
// edge leaves a reached node toward an unreached or more distant one.
func (r *ResultSet) Verify(g graph.Graph) error {
	if len(r.Visited) != g.NumNodes() ||
		len(r.Distance) != g.NumNodes() ||
		len(r.Predecessor) != g.NumNodes() {
		return fmt.Errorf("%w: result covers %d nodes, graph has %d",
			ErrInvariant, len(r.Visited), g.NumNodes())
	}

	if !g.HasNode(r.Start) || !r.Visited[r.Start] ||
		r.Distance[r.Start] != 0 || r.Predecessor[r.Start] != None {
		return fmt.Errorf("%w: start %d must be reached at distance 0 "+
			"without predecessor", ErrInvariant, r.Start)
	}

	for id := range r.Visited {
		if err := r.verifyNode(g, uint32(id)); err != nil {
			return err
		}
	}

	return r.verifyLevels()
}

func (r *ResultSet) verifyNode(g graph.Graph, id uint32) error {
	if !r.Visited[id] {
		if r.Distance[id] != Unreached || r.Predecessor[id] != None {
			return fmt.Errorf("%w: unreached node %d has distance or predecessor",
				ErrInvariant, id)
		}

		return nil
	}

	for _, n := range g[id] {
		if !r.Visited[n] || r.Distance[n] > r.Distance[id]+1 {
			return fmt.Errorf("%w: edge %d->%d is not explored",
				ErrInvariant, id, n)
		}
	}

	if id == r.Start {
		return nil
	}

	p := r.Predecessor[id]
	if !g.HasNode(p) || !r.Visited[p] || r.Distance[p]+1 != r.Distance[id] {
		return fmt.Errorf("%w: node %d at distance %d has predecessor %d",
			ErrInvariant, id, r.Distance[id], p)
	}

	if !slices.Contains(g[p], id) {
		return fmt.Errorf("%w: predecessor %d does not link to %d",
			ErrInvariant, p, id)
	}

	return nil
}

func (r *ResultSet) verifyLevels() error {
	seen := 0
	for d, level := range r.Levels {
		for _, id := range level {
			if int(id) >= len(r.Visited) || !r.Visited[id] ||
				r.Distance[id] != uint32(d) {
				return fmt.Errorf("%w: node %d misplaced in level %d",
					ErrInvariant, id, d)
			}
		}
		seen += len(level)
	}

	if seen != r.NumVisited() {
		return fmt.Errorf("%w: levels hold %d nodes, %d were reached",
			ErrInvariant, seen, r.NumVisited())
	}

	return nil
}
