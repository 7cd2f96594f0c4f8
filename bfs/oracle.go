package bfs

import (
	"log"

	"github.com/emirpasic/gods/queues/linkedlistqueue"

	"github.com/sarchlab/bfsaccel/graph"
)

// Traverse runs the reference breadth-first traversal of g from start,
// exploring neighbors in stored order. It panics if start is not a node.
func Traverse(g graph.Graph, start uint32) *ResultSet {
	if !g.HasNode(start) {
		log.Panicf("start node %d is not in a graph of %d nodes",
			start, g.NumNodes())
	}

	r := NewResultSet(g.NumNodes(), start)
	r.Visited[start] = true
	r.Distance[start] = 0
	r.Levels = [][]uint32{{start}}

	frontier := linkedlistqueue.New()
	frontier.Enqueue(start)

	for !frontier.Empty() {
		item, _ := frontier.Dequeue()
		current := item.(uint32)
		next := r.Distance[current] + 1

		for _, n := range g[current] {
			if r.Visited[n] {
				continue
			}

			r.Visited[n] = true
			r.Distance[n] = next
			r.Predecessor[n] = current

			if int(next) == len(r.Levels) {
				r.Levels = append(r.Levels, nil)
			}
			r.Levels[next] = append(r.Levels[next], n)

			frontier.Enqueue(n)
		}
	}

	return r
}
