package device

import (
	"fmt"
	"sync"
	"time"

	"github.com/emirpasic/gods/queues/arrayqueue"
	"go.uber.org/zap"

	"github.com/sarchlab/bfsaccel/csr"
	"github.com/sarchlab/bfsaccel/memory"
)

// Result record layout written by the device, one record per node.
const (
	ResultWords = 3

	ResultDistance    = 0
	ResultPredecessor = 1
	ResultOrder       = 2

	// NoValue marks an unreached distance, a missing predecessor, or an
	// undiscovered order slot.
	NoValue uint32 = 0xFFFFFFFF
)

// Accelerator is a simulated traversal engine. It reacts to its own control
// register and maintains its own status register from a separate goroutine;
// a driver reaches it only through the register bank and device memory.
type Accelerator struct {
	name   string
	cfg    Config
	regs   *csr.Bank
	mem    *memory.Storage
	logger *zap.Logger

	commands  chan command
	stop      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once

	mu         sync.Mutex
	generation uint64
	completed  int
	faults     int
}

// A command is a control write tagged with the reset generation it was
// issued in. Work from an older generation never raises done.
type command struct {
	control    uint32
	generation uint64
}

// NewAccelerator creates an accelerator that reads graphs from mem and
// starts its engine goroutine.
func NewAccelerator(
	name string,
	cfg Config,
	mem *memory.Storage,
	logger *zap.Logger,
) *Accelerator {
	if logger == nil {
		logger = zap.NewNop()
	}

	a := &Accelerator{
		name:     name,
		cfg:      cfg,
		regs:     csr.NewBank(cfg.CSRRange, cfg.AccessLatency),
		mem:      mem,
		logger:   logger.With(zap.String("device", name)),
		commands: make(chan command, 1),
		stop:     make(chan struct{}),
	}

	a.regs.OnWrite(a.observeWrite)

	a.wg.Add(1)
	go a.run()

	return a
}

// Name returns the name of the accelerator.
func (a *Accelerator) Name() string {
	return a.name
}

// Registers returns the bus side of the register block.
func (a *Accelerator) Registers() csr.Registers {
	return a.regs
}

// Completed returns the number of traversals that finished.
func (a *Accelerator) Completed() int {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.completed
}

// Faults returns the number of traversals that ended in a fault.
func (a *Accelerator) Faults() int {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.faults
}

// Close stops the engine goroutine.
func (a *Accelerator) Close() {
	a.closeOnce.Do(func() {
		close(a.stop)
		a.wg.Wait()
	})
}

// observeWrite runs on the bus writer's goroutine. Status changes caused by
// the write are applied here so that a status read issued right after it
// already sees them.
func (a *Accelerator) observeWrite(offset csr.Offset, value uint32) {
	if offset != csr.Control {
		return
	}

	a.mu.Lock()
	switch {
	case value&csr.ControlReset != 0:
		a.generation++
		a.regs.Poke(csr.Status, 0)
	case value&csr.ControlStart != 0:
		if a.regs.Peek(csr.Status)&csr.StatusBusy != 0 {
			a.mu.Unlock()
			a.logger.Warn("start ignored while busy")
			return
		}

		a.regs.Poke(csr.Status, csr.StatusBusy)
	}
	cmd := command{control: value, generation: a.generation}
	a.mu.Unlock()

	select {
	case a.commands <- cmd:
	case <-a.stop:
	}
}

func (a *Accelerator) run() {
	defer a.wg.Done()

	for {
		select {
		case <-a.stop:
			return
		case cmd := <-a.commands:
			if cmd.control&csr.ControlReset != 0 {
				a.logger.Debug("reset")
				continue
			}

			if cmd.control&csr.ControlStart != 0 {
				a.traverse(cmd.generation)
			}
		}
	}
}

// finish raises the final status of a request unless a reset superseded it.
func (a *Accelerator) finish(generation uint64, status uint32) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	if generation != a.generation {
		return false
	}

	if status&csr.StatusFault != 0 {
		a.faults++
	} else {
		a.completed++
	}

	a.regs.Poke(csr.Status, status)

	return true
}

// traverse runs one request. The results land in memory after the modelled
// latency, and only then is done raised.
func (a *Accelerator) traverse(generation uint64) {
	req := request{
		start:      a.regs.Peek(csr.StartNode),
		graphBase:  uint64(a.regs.Peek(csr.GraphBase)),
		numNodes:   a.regs.Peek(csr.NodeCount),
		resultBase: uint64(a.regs.Peek(csr.ResultBase)),
	}

	a.logger.Debug("traversal started",
		zap.Uint32("start", req.start),
		zap.String("graph", fmt.Sprintf("0x%08X", req.graphBase)),
		zap.Uint32("nodes", req.numNodes))

	records, visited, edges, err := a.explore(req)
	if err != nil {
		a.fault(generation, err)
		return
	}

	latency := a.cfg.StartupLatency +
		time.Duration(visited)*a.cfg.NodeLatency +
		time.Duration(edges)*a.cfg.EdgeLatency
	if !a.busyFor(latency, generation) {
		a.logger.Debug("traversal aborted")
		return
	}

	if err := a.mem.WriteWords(req.resultBase, records); err != nil {
		a.fault(generation, err)
		return
	}

	if a.finish(generation, csr.StatusDone) {
		a.logger.Debug("traversal done",
			zap.Int("visited", visited),
			zap.Int("edges", edges),
			zap.Duration("latency", latency))
	}
}

// busyFor keeps the device busy for d, or forever if the device stalls. It
// returns false if a reset or Close cut the wait short.
func (a *Accelerator) busyFor(d time.Duration, generation uint64) bool {
	var expired <-chan time.Time
	if !a.cfg.Stall {
		timer := time.NewTimer(d)
		defer timer.Stop()
		expired = timer.C
	}

	for {
		select {
		case <-expired:
			return true
		case <-a.stop:
			return false
		case cmd := <-a.commands:
			if cmd.generation != generation || cmd.control&csr.ControlReset != 0 {
				return false
			}

			a.logger.Warn("command ignored while busy",
				zap.Uint32("control", cmd.control))
		}
	}
}

func (a *Accelerator) fault(generation uint64, err error) {
	if a.finish(generation, csr.StatusDone|csr.StatusFault) {
		a.logger.Error("traversal fault", zap.Error(err))
	}
}

type request struct {
	start      uint32
	graphBase  uint64
	numNodes   uint32
	resultBase uint64
}

// explore walks the encoded graph in device memory with a hardware FIFO and
// produces the result records.
func (a *Accelerator) explore(
	req request,
) (records []uint32, visited, edges int, err error) {
	if req.start >= req.numNodes {
		return nil, 0, 0, fmt.Errorf("start node %d outside %d nodes",
			req.start, req.numNodes)
	}

	records = make([]uint32, int(req.numNodes)*ResultWords)
	for i := range records {
		records[i] = NoValue
	}

	stride := uint64(a.cfg.Stride)
	order := uint32(0)
	discover := func(node, dist, pred uint32) {
		rec := records[node*ResultWords : (node+1)*ResultWords]
		rec[ResultDistance] = dist
		rec[ResultPredecessor] = pred
		rec[ResultOrder] = order
		order++
	}

	discover(req.start, 0, NoValue)
	fifo := arrayqueue.New()
	fifo.Enqueue(req.start)

	for !fifo.Empty() {
		item, _ := fifo.Dequeue()
		current := item.(uint32)
		visited++

		record, err := a.mem.ReadWords(
			req.graphBase+uint64(current)*stride*memory.WordSize, int(stride))
		if err != nil {
			return nil, 0, 0, err
		}

		count := record[0]
		if uint64(count) > stride-1 {
			return nil, 0, 0, fmt.Errorf("node %d claims %d neighbors", current, count)
		}

		dist := records[current*ResultWords+ResultDistance] + 1
		for _, n := range record[1 : 1+count] {
			edges++

			if n >= req.numNodes {
				return nil, 0, 0, fmt.Errorf("node %d links to %d outside %d nodes",
					current, n, req.numNodes)
			}

			if records[n*ResultWords+ResultDistance] != NoValue {
				continue
			}

			discover(n, dist, current)
			fifo.Enqueue(n)
		}
	}

	return records, visited, edges, nil
}
