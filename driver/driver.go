// Package driver programs the traversal accelerator. A Driver owns one
// register interface and hands out buffers from one device memory pool. It
// runs at most one session at a time, moving through the phases Idle,
// Configured, Running, and then Done, TimedOut, or Faulted.
//
// Callers must serialize their use of a Driver. Only Snapshot may be called
// concurrently with the other methods.
package driver

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/sarchlab/bfsaccel/bfs"
	"github.com/sarchlab/bfsaccel/csr"
	"github.com/sarchlab/bfsaccel/device"
	"github.com/sarchlab/bfsaccel/dma"
	"github.com/sarchlab/bfsaccel/graph"
	"github.com/sarchlab/bfsaccel/hooking"
	"github.com/sarchlab/bfsaccel/idgen"
	"github.com/sarchlab/bfsaccel/memory"
	"github.com/sarchlab/bfsaccel/timing"
	"github.com/sarchlab/bfsaccel/tracing"
)

// Hook positions of a driver.
var (
	// HookPosPhaseChange is invoked with a PhaseChange item.
	HookPosPhaseChange = &hooking.HookPos{Name: "HookPosPhaseChange"}

	// HookPosSessionEnd is invoked with a SessionSummary item when a session
	// is released or reset.
	HookPosSessionEnd = &hooking.HookPos{Name: "HookPosSessionEnd"}
)

// PhaseChange describes a transition.
type PhaseChange struct {
	From, To Phase
}

// SessionSummary is what is known about a session when it ends.
type SessionSummary struct {
	Session
	Outcome string
	Metrics Metrics
}

// Handle describes the device resources bound to a driver.
type Handle struct {
	CSRBase uint64
	CSRSize uint64

	// GraphAddr and GraphBytes locate the bound graph buffer. Both are zero
	// when no session is active.
	GraphAddr  uint64
	GraphBytes uint64
}

// Session is a copy of the state of the active session.
type Session struct {
	ID         string
	Start      uint32
	NumNodes   int
	GraphAddr  uint64
	ResultAddr uint64
	Phase      Phase
}

// DeviceStatus is the decoded status register.
type DeviceStatus struct {
	Busy  bool
	Done  bool
	Fault bool
}

// Snapshot is the published view of a driver.
type Snapshot struct {
	Name      string
	Phase     Phase
	Session   *Session
	Completed int
	TimedOut  int
	Faulted   int
	Last      Metrics
}

type session struct {
	id       string
	start    uint32
	numNodes int
	graph    *dma.Buffer
	result   *dma.Buffer

	startedAt time.Time
	doneAt    time.Time
	polls     int
	reads0    uint64
	writes0   uint64

	results *bfs.ResultSet
	metrics Metrics
}

// Driver is the control-plane driver of one accelerator.
type Driver struct {
	hooking.HookableBase

	name         string
	regs         *countingRegisters
	alloc        *dma.Allocator
	stride       int
	pollInterval time.Duration
	timeout      time.Duration
	freq         timing.Freq
	clock        timing.TimeTeller
	ids          idgen.IDGenerator
	logger       *zap.Logger
	handle       Handle

	phase   Phase
	session *session

	mu       sync.Mutex
	snapshot Snapshot
}

var errNotDone = errors.New("device not done")

// Name returns the name of the driver.
func (d *Driver) Name() string {
	return d.name
}

// Phase returns the current phase.
func (d *Driver) Phase() Phase {
	return d.phase
}

// Stride returns the number of words per encoded node record.
func (d *Driver) Stride() int {
	return d.stride
}

// Handle returns the device resources bound to the driver.
func (d *Driver) Handle() Handle {
	return d.handle
}

// Session returns the active session, if any.
func (d *Driver) Session() (Session, bool) {
	if d.session == nil {
		return Session{}, false
	}

	return d.describe(d.session), true
}

// Snapshot returns the latest published view. It is safe to call from any
// goroutine.
func (d *Driver) Snapshot() Snapshot {
	d.mu.Lock()
	defer d.mu.Unlock()

	s := d.snapshot
	if s.Session != nil {
		copied := *s.Session
		s.Session = &copied
	}

	return s
}

// Status reads and decodes the status register.
func (d *Driver) Status() DeviceStatus {
	v := d.regs.Read(csr.Status)

	return DeviceStatus{
		Busy:  v&csr.StatusBusy != 0,
		Done:  v&csr.StatusDone != 0,
		Fault: v&csr.StatusFault != 0,
	}
}

// Load encodes g, copies it into a new device buffer and flushes it. The
// caller owns the returned buffer until it is passed to Configure.
func (d *Driver) Load(g graph.Graph) (*dma.Buffer, error) {
	words, err := graph.Encode(g, d.stride)
	if err != nil {
		return nil, fmt.Errorf("encode graph: %w", err)
	}

	buf, err := d.alloc.Allocate(len(words))
	if err != nil {
		return nil, fmt.Errorf("allocate graph buffer: %w", err)
	}

	taskID := d.ids.Generate()
	tracing.StartTask(taskID, "", d, "load", "encode", buf.Addr())

	buf.WriteWords(words)
	buf.Flush()
	bytesTotal.Add(float64(buf.BytesFlushed()))

	tracing.EndTask(taskID, d)

	d.logger.Debug("graph loaded",
		zap.Stringer("buffer", buf),
		zap.Int("nodes", g.NumNodes()),
		zap.Int("edges", g.NumEdges()))

	return buf, nil
}

// Configure binds buf and start node to a new session and programs the
// device with them. The driver owns buf from then on, and releases it with
// the session. The buffer must have been flushed. If the result buffer cannot
// be allocated, Configure returns the error, stays Idle, and the caller keeps
// buf.
func (d *Driver) Configure(start uint32, buf *dma.Buffer) error {
	d.mustBeIn("configure", Idle)
	numNodes := d.graphBufferMustBeUsable(buf)

	if int(start) >= numNodes {
		preconditionViolated("start node %d is not in a graph of %d nodes",
			start, numNodes)
	}

	result, err := d.alloc.Allocate(numNodes * device.ResultWords)
	if err != nil {
		return fmt.Errorf("allocate result buffer: %w", err)
	}

	s := &session{
		id:       d.ids.Generate(),
		start:    start,
		numNodes: numNodes,
		graph:    buf,
		result:   result,
		reads0:   d.regs.reads.Load(),
		writes0:  d.regs.writes.Load(),
	}
	d.session = s

	tracing.StartTask(s.id, "", d, "session", "bfs", start)

	d.regs.Write(csr.StartNode, start)
	d.regs.Write(csr.GraphBase, uint32(buf.Addr()))
	d.regs.Write(csr.NodeCount, uint32(numNodes))
	d.regs.Write(csr.ResultBase, uint32(result.Addr()))

	d.handle.GraphAddr = buf.Addr()
	d.handle.GraphBytes = uint64(buf.Len()) * memory.WordSize

	d.transition(Configured)

	return nil
}

func (d *Driver) graphBufferMustBeUsable(buf *dma.Buffer) int {
	if buf == nil || buf.IsReleased() {
		preconditionViolated("graph buffer is not live")
	}

	if buf.Len()%d.stride != 0 {
		preconditionViolated("graph buffer of %d words is not made of %d-word records",
			buf.Len(), d.stride)
	}

	if !buf.IsCoherent() {
		preconditionViolated("graph buffer at 0x%08X has unflushed writes",
			buf.Addr())
	}

	return buf.Len() / d.stride
}

// Start tells the device to begin the traversal.
func (d *Driver) Start() {
	d.mustBeIn("start", Configured)

	s := d.session
	s.startedAt = d.clock.CurrentTime()
	d.regs.Write(csr.Control, csr.ControlStart)

	tracing.AddTaskStep(s.id, d, "start")
	d.transition(Running)
}

// Wait polls the status register every poll interval until the device
// reports done or timeout elapses. A zero timeout polls exactly once. On
// ErrTimeout the driver is TimedOut and must be Reset before reuse; on
// ErrDeviceFault it is Faulted, with the same requirement.
func (d *Driver) Wait(timeout time.Duration) error {
	d.mustBeIn("wait", Running)

	if timeout < 0 {
		preconditionViolated("negative timeout %v", timeout)
	}

	s := d.session
	begin := d.clock.CurrentTime()
	status := uint32(0)

	err := backoff.Retry(func() error {
		s.polls++
		status = d.regs.Read(csr.Status)

		if status&csr.StatusDone != 0 {
			return nil
		}

		if d.clock.CurrentTime().Sub(begin) >= timeout {
			return backoff.Permanent(ErrTimeout)
		}

		return errNotDone
	}, backoff.NewConstantBackOff(d.pollInterval))

	s.doneAt = d.clock.CurrentTime()
	pollsTotal.Add(float64(s.polls))

	switch {
	case err != nil:
		tracing.AddTaskStep(s.id, d, "timeout")
		d.logger.Warn("traversal timed out",
			zap.String("session", s.id),
			zap.Duration("timeout", timeout),
			zap.Int("polls", s.polls))
		d.transition(TimedOut)

		return fmt.Errorf("session %s: %w", s.id, err)
	case status&csr.StatusFault != 0:
		tracing.AddTaskStep(s.id, d, "fault")
		d.logger.Error("device fault", zap.String("session", s.id))
		d.transition(Faulted)

		return fmt.Errorf("session %s: %w", s.id, ErrDeviceFault)
	}

	traversalSeconds.Observe(s.doneAt.Sub(s.startedAt).Seconds())
	tracing.AddTaskStep(s.id, d, "done")
	d.transition(Done)

	return nil
}

// Collect reads the results back from device memory. Calling it again
// returns the same result set.
func (d *Driver) Collect() *bfs.ResultSet {
	d.mustBeIn("collect", Done)

	s := d.session
	if s.results != nil {
		return s.results
	}

	s.result.Invalidate()
	s.results = decodeResults(s)
	s.metrics = d.measure(s)
	edgesTotal.Add(float64(s.metrics.EdgesTraversed))

	tracing.AddTaskStep(s.id, d, "collect")
	d.logger.Info("traversal complete",
		zap.String("session", s.id),
		zap.Uint32("start", s.start),
		zap.Int("visited", s.metrics.NodesVisited),
		zap.Int("edges", s.metrics.EdgesTraversed),
		zap.Duration("elapsed", s.metrics.Elapsed),
		zap.Float64("teps", s.metrics.TEPS))

	return s.results
}

// Metrics returns the measurements of the finished session.
func (d *Driver) Metrics() Metrics {
	d.Collect()
	return d.session.metrics
}

func decodeResults(s *session) *bfs.ResultSet {
	rs := bfs.NewResultSet(s.numNodes, s.start)

	type discovery struct {
		order uint32
		node  uint32
	}

	var found []discovery

	for n := 0; n < s.numNodes; n++ {
		base := n * device.ResultWords
		dist := s.result.Read(base + device.ResultDistance)

		if dist == device.NoValue {
			continue
		}

		rs.Visited[n] = true
		rs.Distance[n] = dist
		rs.Predecessor[n] = s.result.Read(base + device.ResultPredecessor)
		found = append(found, discovery{
			order: s.result.Read(base + device.ResultOrder),
			node:  uint32(n),
		})
	}

	sort.Slice(found, func(i, j int) bool {
		return found[i].order < found[j].order
	})

	for _, f := range found {
		dist := int(rs.Distance[f.node])
		if dist >= s.numNodes {
			continue
		}

		for len(rs.Levels) <= dist {
			rs.Levels = append(rs.Levels, nil)
		}

		rs.Levels[dist] = append(rs.Levels[dist], f.node)
	}

	return rs
}

func (d *Driver) measure(s *session) Metrics {
	m := d.partialMetrics(s)
	m.NodesVisited = s.results.NumVisited()

	for _, n := range s.results.VisitedNodes() {
		m.EdgesTraversed += int(s.graph.Read(int(n) * d.stride))
	}

	m.derive()

	return m
}

func (d *Driver) partialMetrics(s *session) Metrics {
	m := Metrics{
		Polls:            s.polls,
		RegisterReads:    d.regs.reads.Load() - s.reads0,
		RegisterWrites:   d.regs.writes.Load() - s.writes0,
		BytesTransferred: s.graph.BytesFlushed(),
	}

	if !s.startedAt.IsZero() && !s.doneAt.IsZero() {
		m.Elapsed = s.doneAt.Sub(s.startedAt)
		m.Cycles = d.freq.Cycle(m.Elapsed)
	}

	return m
}

// Release ends a finished session and frees its buffers.
func (d *Driver) Release() {
	d.mustBeIn("release", Done)

	d.Collect()
	d.endSession("done", d.session.metrics)
	d.transition(Idle)
}

// Reset writes the reset bit and abandons the active session, if any. It is
// how a TimedOut or Faulted driver returns to Idle.
func (d *Driver) Reset() {
	d.regs.Write(csr.Control, csr.ControlReset)

	if s := d.session; s != nil {
		outcome := "aborted"

		switch d.phase {
		case TimedOut:
			outcome = "timeout"
		case Faulted:
			outcome = "fault"
		}

		d.endSession(outcome, d.partialMetrics(s))
	}

	d.logger.Debug("reset")
	d.transition(Idle)
}

func (d *Driver) endSession(outcome string, m Metrics) {
	s := d.session

	sessionsTotal.WithLabelValues(outcome).Inc()

	if d.NumHooks() > 0 {
		summary := SessionSummary{
			Session: d.describe(s),
			Outcome: outcome,
			Metrics: m,
		}
		d.InvokeHook(hooking.HookCtx{
			Domain: d,
			Pos:    HookPosSessionEnd,
			Item:   summary,
		})
	}

	tracing.EndTask(s.id, d)

	s.graph.Release()
	s.result.Release()

	d.session = nil
	d.handle.GraphAddr = 0
	d.handle.GraphBytes = 0

	d.mu.Lock()
	switch outcome {
	case "done":
		d.snapshot.Completed++
		d.snapshot.Last = m
	case "timeout":
		d.snapshot.TimedOut++
	case "fault":
		d.snapshot.Faulted++
	}
	d.mu.Unlock()
}

// Run performs a whole traversal of g from start: load, configure, start,
// wait, collect and release. Encoding and allocation errors are returned
// before the device is touched. On timeout or fault the driver is reset and
// the error is returned along with what was measured. Run panics before
// allocating anything if a session is already active.
func (d *Driver) Run(
	start uint32,
	g graph.Graph,
) (*bfs.ResultSet, Metrics, error) {
	d.mustBeIn("run", Idle)

	buf, err := d.Load(g)
	if err != nil {
		return nil, Metrics{}, err
	}

	if !g.HasNode(start) {
		buf.Release()
		preconditionViolated("start node %d is not in a graph of %d nodes",
			start, g.NumNodes())
	}

	if err := d.Configure(start, buf); err != nil {
		buf.Release()
		return nil, Metrics{}, err
	}

	d.Start()

	if err := d.Wait(d.timeout); err != nil {
		m := d.partialMetrics(d.session)
		d.Reset()

		return nil, m, err
	}

	results := d.Collect()
	metrics := d.session.metrics
	d.Release()

	return results, metrics, nil
}

func (d *Driver) describe(s *session) Session {
	return Session{
		ID:         s.id,
		Start:      s.start,
		NumNodes:   s.numNodes,
		GraphAddr:  s.graph.Addr(),
		ResultAddr: s.result.Addr(),
		Phase:      d.phase,
	}
}

func (d *Driver) mustBeIn(op string, phase Phase) {
	if d.phase != phase {
		preconditionViolated("cannot %s in phase %s", op, d.phase)
	}
}

func (d *Driver) transition(to Phase) {
	from := d.phase
	d.phase = to

	d.logger.Debug("phase change",
		zap.Stringer("from", from),
		zap.Stringer("to", to))

	if d.NumHooks() > 0 {
		d.InvokeHook(hooking.HookCtx{
			Domain: d,
			Pos:    HookPosPhaseChange,
			Item:   PhaseChange{From: from, To: to},
		})
	}

	d.publish()
}

func (d *Driver) publish() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.snapshot.Name = d.name
	d.snapshot.Phase = d.phase
	d.snapshot.Session = nil

	if d.session != nil {
		s := d.describe(d.session)
		d.snapshot.Session = &s
	}
}
