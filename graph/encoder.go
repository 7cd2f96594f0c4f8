package graph

import "fmt"

// DefaultStride is the number of words reserved per node: one count word and
// room for 31 neighbors.
const DefaultStride = 32

// Capacity returns the maximum out-degree a record of stride words holds.
func Capacity(stride int) int {
	return stride - 1
}

// Encode lays out g as one record of stride words per node:
// [count, neighbor_0, ..., neighbor_{count-1}, 0, ...]. Nothing is produced if
// any node does not fit, so a malformed encoding never reaches a device.
func Encode(g Graph, stride int) ([]uint32, error) {
	if stride < 1 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidStride, stride)
	}

	if g.NumNodes() == 0 {
		return nil, ErrEmptyGraph
	}

	if err := g.Validate(); err != nil {
		return nil, err
	}

	for id, neighbors := range g {
		if len(neighbors) > Capacity(stride) {
			return nil, fmt.Errorf("%w: node %d has %d neighbors, stride %d holds %d",
				ErrDegreeExceeded, id, len(neighbors), stride, Capacity(stride))
		}
	}

	words := make([]uint32, len(g)*stride)
	for id, neighbors := range g {
		record := words[id*stride : (id+1)*stride]
		record[0] = uint32(len(neighbors))
		copy(record[1:], neighbors)
	}

	return words, nil
}

// Decode recovers the graph from its record layout.
func Decode(words []uint32, stride int) (Graph, error) {
	if stride < 1 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidStride, stride)
	}

	if len(words)%stride != 0 {
		return nil, fmt.Errorf("%w: %d words is not a multiple of stride %d",
			ErrMalformed, len(words), stride)
	}

	g := make(Graph, len(words)/stride)
	for id := range g {
		record := words[id*stride : (id+1)*stride]

		count := int(record[0])
		if count > Capacity(stride) {
			return nil, fmt.Errorf("%w: node %d claims %d neighbors",
				ErrMalformed, id, count)
		}

		g[id] = append([]uint32{}, record[1:1+count]...)
	}

	if err := g.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}

	return g, nil
}
