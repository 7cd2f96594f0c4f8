// Package graph holds the host-side adjacency-list graph and its encoding
// into the fixed-stride record layout the accelerator reads.
package graph

import (
	"errors"
	"fmt"
	"os"

	"sigs.k8s.io/yaml"
)

// Errors reported while building, validating or encoding graphs.
var (
	ErrEmptyGraph      = errors.New("graph has no nodes")
	ErrInvalidNeighbor = errors.New("neighbor is not a node of the graph")
	ErrSparseNodeIDs   = errors.New("node ids are not dense")
	ErrDegreeExceeded  = errors.New("neighbor count exceeds record capacity")
	ErrInvalidStride   = errors.New("invalid stride")
	ErrMalformed       = errors.New("malformed encoding")
)

// A Graph maps every node id in [0, N) to its ordered neighbor list. The
// order is significant: it is the order in which a traversal discovers
// neighbors.
type Graph [][]uint32

// FromMap builds a graph from an adjacency map whose keys must be exactly
// 0..N-1.
func FromMap(adj map[uint32][]uint32) (Graph, error) {
	g := make(Graph, len(adj))

	for id, neighbors := range adj {
		if int(id) >= len(adj) {
			return nil, fmt.Errorf("%w: node %d in a graph of %d nodes",
				ErrSparseNodeIDs, id, len(adj))
		}

		g[id] = append([]uint32{}, neighbors...)
	}

	if err := g.Validate(); err != nil {
		return nil, err
	}

	return g, nil
}

// NumNodes returns N.
func (g Graph) NumNodes() int {
	return len(g)
}

// NumEdges returns the number of directed edges.
func (g Graph) NumEdges() int {
	n := 0
	for _, neighbors := range g {
		n += len(neighbors)
	}

	return n
}

// MaxDegree returns the largest out-degree.
func (g Graph) MaxDegree() int {
	d := 0
	for _, neighbors := range g {
		d = max(d, len(neighbors))
	}

	return d
}

// HasNode tells whether id names a node of g.
func (g Graph) HasNode(id uint32) bool {
	return int(id) < len(g)
}

// Validate checks that every neighbor names a node.
func (g Graph) Validate() error {
	for id, neighbors := range g {
		for _, n := range neighbors {
			if !g.HasNode(n) {
				return fmt.Errorf("%w: node %d lists %d, graph has %d nodes",
					ErrInvalidNeighbor, id, n, len(g))
			}
		}
	}

	return nil
}

// ToMap converts g back to an adjacency map.
func (g Graph) ToMap() map[uint32][]uint32 {
	adj := make(map[uint32][]uint32, len(g))
	for id, neighbors := range g {
		adj[uint32(id)] = append([]uint32{}, neighbors...)
	}

	return adj
}

// Stats summarizes a graph and the size of its encoding.
type Stats struct {
	Nodes          int     `json:"nodes"`
	Edges          int     `json:"edges"`
	MaxDegree      int     `json:"max_degree"`
	AvgDegree      float64 `json:"avg_degree"`
	FootprintBytes uint64  `json:"footprint_bytes"`
}

// Stats returns the summary of g when encoded with stride words per node.
func (g Graph) Stats(stride int) Stats {
	s := Stats{
		Nodes:          g.NumNodes(),
		Edges:          g.NumEdges(),
		MaxDegree:      g.MaxDegree(),
		FootprintBytes: uint64(g.NumNodes()) * uint64(stride) * 4,
	}

	if s.Nodes > 0 {
		s.AvgDegree = float64(s.Edges) / float64(s.Nodes)
	}

	return s
}

// Parse reads a graph from YAML or JSON of the form {"0": [1, 2], "1": [0]}.
func Parse(data []byte) (Graph, error) {
	var adj map[uint32][]uint32
	if err := yaml.Unmarshal(data, &adj); err != nil {
		return nil, fmt.Errorf("parse graph: %w", err)
	}

	return FromMap(adj)
}

// Load reads a graph file.
func Load(path string) (Graph, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	g, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	return g, nil
}
