package driver_test

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/mock/gomock"

	"github.com/sarchlab/bfsaccel/bfs"
	"github.com/sarchlab/bfsaccel/csr"
	"github.com/sarchlab/bfsaccel/dma"
	"github.com/sarchlab/bfsaccel/driver"
	"github.com/sarchlab/bfsaccel/graph"
	"github.com/sarchlab/bfsaccel/hooking"
	"github.com/sarchlab/bfsaccel/idgen"
)

const (
	graphAddr  = 0x1000
	resultAddr = 0x1100
)

var _ = Describe("Driver", func() {
	var (
		mockCtrl *gomock.Controller
		regs     *MockRegisters
		alloc    *dma.Allocator
		d        *driver.Driver
		g        graph.Graph
	)

	load := func() *dma.Buffer {
		buf, err := d.Load(g)
		Expect(err).NotTo(HaveOccurred())

		return buf
	}

	configure := func(start uint32) {
		regs.EXPECT().Write(gomock.Any(), gomock.Any()).Times(4)
		Expect(d.Configure(start, load())).To(Succeed())
	}

	run := func() {
		configure(0)
		regs.EXPECT().Write(csr.Control, csr.ControlStart)
		d.Start()
	}

	// writeResults plays the device: records for g traversed from node 0.
	writeResults := func() {
		none := uint32(0xFFFFFFFF)
		Expect(alloc.Storage().WriteWords(resultAddr, []uint32{
			0, none, 0,
			1, 0, 1,
			1, 0, 2,
			2, 1, 3,
		})).To(Succeed())
	}

	finish := func() {
		run()
		writeResults()
		regs.EXPECT().Read(csr.Status).Return(csr.StatusDone)
		Expect(d.Wait(time.Second)).To(Succeed())
	}

	BeforeEach(func() {
		mockCtrl = gomock.NewController(GinkgoT())
		regs = NewMockRegisters(mockCtrl)
		alloc = dma.NewAllocator(
			dma.Config{Base: graphAddr, Size: 1 << 16, Alignment: 256}, nil)
		d = driver.MakeBuilder().
			WithRegisters(regs).
			WithAllocator(alloc).
			WithCSRWindow(0x43C00000, 0x10000).
			WithStride(4).
			WithPollInterval(time.Microsecond).
			WithIDGenerator(idgen.NewSequential()).
			Build("Driver")
		g = graph.Graph{{1, 2}, {3}, {3}, {}}
	})

	AfterEach(func() {
		mockCtrl.Finish()
	})

	It("should start idle", func() {
		Expect(d.Phase()).To(Equal(driver.Idle))
		Expect(d.Handle()).To(Equal(driver.Handle{
			CSRBase: 0x43C00000,
			CSRSize: 0x10000,
		}))

		_, active := d.Session()
		Expect(active).To(BeFalse())
	})

	It("should refuse to build without registers", func() {
		Expect(func() {
			driver.MakeBuilder().WithAllocator(alloc).Build("Driver")
		}).To(Panic())
	})

	It("should load a flushed buffer without touching registers", func() {
		buf := load()

		Expect(buf.Addr()).To(Equal(uint64(graphAddr)))
		Expect(buf.Len()).To(Equal(16))
		Expect(buf.IsCoherent()).To(BeTrue())

		words, err := alloc.Storage().ReadWords(graphAddr, 4)
		Expect(err).NotTo(HaveOccurred())
		Expect(words).To(Equal([]uint32{2, 1, 2, 0}))
	})

	It("should return encoding errors before allocating", func() {
		g = graph.Graph{{1, 1, 1, 1}, {}}

		_, err := d.Load(g)

		Expect(err).To(MatchError(graph.ErrDegreeExceeded))
		Expect(alloc.NumLive()).To(BeZero())
	})

	It("should program the session registers in order", func() {
		// Load takes id 1 for its own task.
		buf := load()

		gomock.InOrder(
			regs.EXPECT().Write(csr.StartNode, uint32(2)),
			regs.EXPECT().Write(csr.GraphBase, uint32(graphAddr)),
			regs.EXPECT().Write(csr.NodeCount, uint32(4)),
			regs.EXPECT().Write(csr.ResultBase, uint32(resultAddr)),
		)

		Expect(d.Configure(2, buf)).To(Succeed())

		Expect(d.Phase()).To(Equal(driver.Configured))
		Expect(d.Handle().GraphAddr).To(Equal(uint64(graphAddr)))
		Expect(d.Handle().GraphBytes).To(Equal(uint64(64)))

		s, active := d.Session()
		Expect(active).To(BeTrue())
		Expect(s).To(Equal(driver.Session{
			ID:         "2",
			Start:      2,
			NumNodes:   4,
			GraphAddr:  graphAddr,
			ResultAddr: resultAddr,
			Phase:      driver.Configured,
		}))
	})

	It("should set the start bit", func() {
		run()

		Expect(d.Phase()).To(Equal(driver.Running))
	})

	It("should poll until the device is done", func() {
		run()
		writeResults()

		gomock.InOrder(
			regs.EXPECT().Read(csr.Status).Return(csr.StatusBusy),
			regs.EXPECT().Read(csr.Status).Return(csr.StatusBusy),
			regs.EXPECT().Read(csr.Status).Return(csr.StatusDone),
		)

		Expect(d.Wait(time.Second)).To(Succeed())
		Expect(d.Phase()).To(Equal(driver.Done))

		m := d.Metrics()
		Expect(m.Polls).To(Equal(3))
		Expect(m.RegisterReads).To(Equal(uint64(3)))
		Expect(m.RegisterWrites).To(Equal(uint64(5)))
		Expect(m.BytesTransferred).To(Equal(uint64(64)))
		Expect(m.NodesVisited).To(Equal(4))
		Expect(m.EdgesTraversed).To(Equal(4))
	})

	It("should decode the result records", func() {
		finish()

		rs := d.Collect()

		Expect(rs.Distance).To(Equal([]uint32{0, 1, 1, 2}))
		Expect(rs.Predecessor).To(Equal([]uint32{bfs.None, 0, 0, 1}))
		Expect(rs.Levels).To(Equal([][]uint32{{0}, {1, 2}, {3}}))
		Expect(rs.Verify(g)).To(Succeed())
	})

	It("should return the same result set when collected twice", func() {
		finish()

		first := d.Collect()
		second := d.Collect()

		Expect(second).To(BeIdenticalTo(first))
	})

	It("should free both buffers on release", func() {
		finish()
		d.Collect()

		d.Release()

		Expect(d.Phase()).To(Equal(driver.Idle))
		Expect(alloc.NumLive()).To(BeZero())
		Expect(d.Handle().GraphAddr).To(BeZero())
	})

	It("should poll exactly once with a zero timeout", func() {
		run()
		regs.EXPECT().Read(csr.Status).Return(csr.StatusBusy).Times(1)

		err := d.Wait(0)

		Expect(err).To(MatchError(driver.ErrTimeout))
		Expect(d.Phase()).To(Equal(driver.TimedOut))
		Expect(d.Snapshot().Phase).To(Equal(driver.TimedOut))
	})

	It("should report a device fault", func() {
		run()
		regs.EXPECT().Read(csr.Status).Return(csr.StatusDone | csr.StatusFault)

		err := d.Wait(time.Second)

		Expect(err).To(MatchError(driver.ErrDeviceFault))
		Expect(d.Phase()).To(Equal(driver.Faulted))
	})

	It("should reset a timed out session", func() {
		run()
		regs.EXPECT().Read(csr.Status).Return(uint32(0))
		Expect(d.Wait(0)).NotTo(Succeed())

		regs.EXPECT().Write(csr.Control, csr.ControlReset)
		d.Reset()

		Expect(d.Phase()).To(Equal(driver.Idle))
		Expect(alloc.NumLive()).To(BeZero())
		Expect(d.Snapshot().TimedOut).To(Equal(1))
	})

	It("should keep the buffer with the caller if results do not fit", func() {
		alloc = dma.NewAllocator(
			dma.Config{Base: graphAddr, Size: 256, Alignment: 256}, nil)
		d = driver.MakeBuilder().
			WithRegisters(regs).
			WithAllocator(alloc).
			WithStride(4).
			Build("Driver")
		buf := load()

		err := d.Configure(0, buf)

		Expect(err).To(MatchError(dma.ErrOutOfMemory))
		Expect(d.Phase()).To(Equal(driver.Idle))
		Expect(buf.IsReleased()).To(BeFalse())
	})

	It("should report every phase change to hooks", func() {
		var changes []driver.PhaseChange
		hook := hooking.HookFunc(func(ctx hooking.HookCtx) {
			if ctx.Pos == driver.HookPosPhaseChange {
				changes = append(changes, ctx.Item.(driver.PhaseChange))
			}
		})
		d.AcceptHook(&hook)

		finish()
		d.Release()

		Expect(changes).To(Equal([]driver.PhaseChange{
			{From: driver.Idle, To: driver.Configured},
			{From: driver.Configured, To: driver.Running},
			{From: driver.Running, To: driver.Done},
			{From: driver.Done, To: driver.Idle},
		}))
	})

	Context("when called out of order", func() {
		expectPrecondition := func(f func()) {
			Expect(f).To(PanicWith(MatchError(driver.ErrPrecondition)))
		}

		It("should not start before configure", func() {
			expectPrecondition(func() { d.Start() })
		})

		It("should not wait or collect while idle", func() {
			expectPrecondition(func() { d.Wait(time.Second) })
			expectPrecondition(func() { d.Collect() })
			expectPrecondition(func() { d.Release() })
		})

		It("should not collect while running", func() {
			run()

			expectPrecondition(func() { d.Collect() })
		})

		It("should not collect after a timeout", func() {
			run()
			regs.EXPECT().Read(csr.Status).Return(csr.StatusBusy)
			Expect(d.Wait(0)).NotTo(Succeed())

			expectPrecondition(func() { d.Collect() })
		})

		It("should not take a second session", func() {
			configure(0)

			expectPrecondition(func() { d.Configure(0, load()) })
		})
	})

	Context("when given an unusable buffer", func() {
		expectPrecondition := func(f func()) {
			Expect(f).To(PanicWith(MatchError(driver.ErrPrecondition)))
		}

		It("should reject a start node outside the graph", func() {
			buf := load()

			expectPrecondition(func() { d.Configure(4, buf) })
		})

		It("should reject an unflushed buffer", func() {
			buf, err := alloc.Allocate(8)
			Expect(err).NotTo(HaveOccurred())
			buf.Write(0, 1)

			expectPrecondition(func() { d.Configure(0, buf) })
		})

		It("should reject a buffer that is not made of records", func() {
			buf, err := alloc.Allocate(6)
			Expect(err).NotTo(HaveOccurred())

			expectPrecondition(func() { d.Configure(0, buf) })
		})

		It("should reject a released buffer", func() {
			buf := load()
			buf.Release()

			expectPrecondition(func() { d.Configure(0, buf) })
		})
	})
})
