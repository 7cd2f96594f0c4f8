package driver

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are measured over one session. Nothing here is estimated: times
// come from the host clock and counts from the device's result records.
type Metrics struct {
	// Elapsed runs from the start write to the status read that saw done.
	Elapsed time.Duration

	// Cycles is Elapsed expressed in device clock cycles.
	Cycles uint64

	NodesVisited   int
	EdgesTraversed int

	NodesPerSecond float64
	TEPS           float64

	Polls          int
	RegisterReads  uint64
	RegisterWrites uint64

	// BytesTransferred counts the bytes flushed into device memory.
	BytesTransferred uint64
}

func (m *Metrics) derive() {
	if m.Elapsed <= 0 {
		return
	}

	secs := m.Elapsed.Seconds()
	m.NodesPerSecond = float64(m.NodesVisited) / secs
	m.TEPS = float64(m.EdgesTraversed) / secs
}

// Process-wide counters, exported on the monitor's /metrics endpoint.
var (
	sessionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bfsaccel",
		Name:      "sessions_total",
		Help:      "The total number of traversal sessions by outcome.",
	}, []string{"outcome"})

	traversalSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "bfsaccel",
		Name:      "traversal_duration_seconds",
		Help:      "The time from start to observed completion.",
		Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
	})

	edgesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "bfsaccel",
		Name:      "edges_traversed_total",
		Help:      "The total number of edges examined by the device.",
	})

	pollsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "bfsaccel",
		Name:      "status_polls_total",
		Help:      "The total number of status register polls.",
	})

	bytesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "bfsaccel",
		Name:      "dma_bytes_flushed_total",
		Help:      "The total number of bytes flushed to device memory.",
	})
)
