package driver_test

import (
	"context"
	"math/rand/v2"
	"path/filepath"
	"time"

	"github.com/google/go-cmp/cmp"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/bfsaccel/bfs"
	"github.com/sarchlab/bfsaccel/csr"
	"github.com/sarchlab/bfsaccel/datarecording"
	"github.com/sarchlab/bfsaccel/device"
	"github.com/sarchlab/bfsaccel/dma"
	"github.com/sarchlab/bfsaccel/driver"
	"github.com/sarchlab/bfsaccel/graph"
	"github.com/sarchlab/bfsaccel/timing"
	"github.com/sarchlab/bfsaccel/tracing"
)

func randomGraph(rng *rand.Rand, n, maxDegree int) graph.Graph {
	g := make(graph.Graph, n)
	for i := range g {
		degree := rng.IntN(maxDegree + 1)
		for j := 0; j < degree; j++ {
			g[i] = append(g[i], uint32(rng.IntN(n)))
		}
	}

	return g
}

var _ = Describe("Driver on a simulated accelerator", func() {
	var (
		cfg      device.Config
		platform *device.Platform
		d        *driver.Driver
	)

	BeforeEach(func() {
		cfg = device.DefaultConfig()
		cfg.Memory = dma.Config{Base: 0x0E000000, Size: 1 << 20, Alignment: 4096}
	})

	JustBeforeEach(func() {
		var err error
		platform, err = device.NewPlatform(cfg, nil)
		Expect(err).NotTo(HaveOccurred())

		d = driver.MakeBuilder().
			WithPlatform(platform).
			WithStride(cfg.Stride).
			WithPollInterval(10 * time.Microsecond).
			WithTimeout(time.Second).
			Build("Driver")
	})

	AfterEach(func() {
		platform.Close()
	})

	It("should traverse a diamond", func() {
		g := graph.Graph{{1, 2}, {3}, {3}, {}}

		rs, m, err := d.Run(0, g)

		Expect(err).NotTo(HaveOccurred())
		Expect(rs.Distances()).To(Equal(map[uint32]uint32{0: 0, 1: 1, 2: 1, 3: 2}))
		Expect(rs.Predecessor[3]).To(Equal(uint32(1)))
		Expect(rs.Verify(g)).To(Succeed())

		Expect(m.NodesVisited).To(Equal(4))
		Expect(m.EdgesTraversed).To(Equal(4))
		Expect(m.BytesTransferred).To(Equal(uint64(4 * cfg.Stride * 4)))
		Expect(m.RegisterWrites).To(Equal(uint64(5)))
		Expect(m.Polls).To(BeNumerically(">=", 1))

		Expect(d.Phase()).To(Equal(driver.Idle))
		Expect(platform.Memory.NumLive()).To(BeZero())
	})

	It("should not reach a disconnected component", func() {
		g := graph.Graph{{1}, {}, {3}, {}}

		rs, _, err := d.Run(0, g)

		Expect(err).NotTo(HaveOccurred())
		Expect(rs.VisitedNodes()).To(Equal([]uint32{0, 1}))
		Expect(rs.Distance[2]).To(Equal(bfs.Unreached))
		Expect(rs.Distance[3]).To(Equal(bfs.Unreached))
	})

	It("should visit only the start of a single node graph", func() {
		rs, m, err := d.Run(0, graph.Graph{{}})

		Expect(err).NotTo(HaveOccurred())
		Expect(rs.Levels).To(Equal([][]uint32{{0}}))
		Expect(m.EdgesTraversed).To(BeZero())
	})

	It("should agree with the reference on the sample graph", func() {
		g, err := graph.Load("../graph/testdata/complex.yaml")
		Expect(err).NotTo(HaveOccurred())

		for _, start := range []uint32{0, 5, 21} {
			rs, _, err := d.Run(start, g)
			Expect(err).NotTo(HaveOccurred())

			want := bfs.Traverse(g, start)
			Expect(cmp.Diff(want.Distances(), rs.Distances())).To(BeEmpty())
			Expect(rs.Equivalent(want)).To(BeTrue())
		}
	})

	It("should match the reference exactly on random graphs", func() {
		rng := rand.New(rand.NewPCG(7, 11))

		for i := 0; i < 30; i++ {
			g := randomGraph(rng, 1+rng.IntN(60), 6)
			start := uint32(rng.IntN(len(g)))

			rs, _, err := d.Run(start, g)
			Expect(err).NotTo(HaveOccurred())

			Expect(cmp.Diff(bfs.Traverse(g, start), rs)).To(BeEmpty())
			Expect(rs.Verify(g)).To(Succeed())
		}
	})

	It("should return encoding errors without touching the device", func() {
		_, _, err := d.Run(0, graph.Graph{{1}, {7}})

		Expect(err).To(MatchError(graph.ErrInvalidNeighbor))
		Expect(platform.Device.Completed()).To(BeZero())
		Expect(platform.Memory.NumLive()).To(BeZero())
	})

	It("should panic on a start node outside the graph", func() {
		Expect(func() {
			d.Run(3, graph.Graph{{}})
		}).To(PanicWith(MatchError(driver.ErrPrecondition)))
		Expect(platform.Memory.NumLive()).To(BeZero())
	})

	It("should refuse to run while a session is active", func() {
		buf, err := d.Load(graph.Graph{{1}, {0}})
		Expect(err).NotTo(HaveOccurred())
		Expect(d.Configure(0, buf)).To(Succeed())
		live := platform.Memory.NumLive()

		Expect(func() {
			d.Run(0, graph.Graph{{}})
		}).To(PanicWith(MatchError(driver.ErrPrecondition)))
		Expect(platform.Memory.NumLive()).To(Equal(live))
		Expect(d.Phase()).To(Equal(driver.Configured))

		d.Start()
		Expect(d.Wait(time.Second)).To(Succeed())
		d.Release()
		Expect(platform.Memory.NumLive()).To(BeZero())
	})

	It("should keep results through repeated collects", func() {
		buf, err := d.Load(graph.Graph{{1}, {0}})
		Expect(err).NotTo(HaveOccurred())
		Expect(d.Configure(1, buf)).To(Succeed())
		d.Start()
		Expect(d.Wait(time.Second)).To(Succeed())

		first := d.Collect()
		second := d.Collect()

		Expect(second).To(BeIdenticalTo(first))
		Expect(first.PathTo(0)).To(Equal([]uint32{1, 0}))

		d.Release()
		Expect(d.Status()).To(Equal(driver.DeviceStatus{Done: true}))
	})

	Context("with a device latency", func() {
		BeforeEach(func() {
			cfg.StartupLatency = 2 * time.Millisecond
		})

		It("should measure the traversal time", func() {
			_, m, err := d.Run(0, graph.Graph{{1}, {}})

			Expect(err).NotTo(HaveOccurred())
			Expect(m.Elapsed).To(BeNumerically(">=", 2*time.Millisecond))
			Expect(m.Cycles).To(Equal((100 * timing.MHz).Cycle(m.Elapsed)))
			Expect(m.Polls).To(BeNumerically(">", 1))
			Expect(m.TEPS).To(BeNumerically(">", 0))
			Expect(m.NodesPerSecond).To(BeNumerically(">", 0))
		})

		It("should show busy while running", func() {
			buf, err := d.Load(graph.Graph{{}})
			Expect(err).NotTo(HaveOccurred())
			Expect(d.Configure(0, buf)).To(Succeed())
			d.Start()

			Expect(d.Status().Busy).To(BeTrue())
			Expect(d.Wait(time.Second)).To(Succeed())
			d.Release()
		})
	})

	Context("when the device never finishes", func() {
		BeforeEach(func() {
			cfg.Stall = true
		})

		It("should time out after a single poll", func() {
			buf, err := d.Load(graph.Graph{{1}, {}})
			Expect(err).NotTo(HaveOccurred())
			Expect(d.Configure(0, buf)).To(Succeed())
			d.Start()

			begin := time.Now()
			err = d.Wait(0)

			Expect(err).To(MatchError(driver.ErrTimeout))
			Expect(time.Since(begin)).To(BeNumerically("<", 50*time.Millisecond))
			Expect(d.Phase()).To(Equal(driver.TimedOut))
			Expect(func() { d.Collect() }).To(
				PanicWith(MatchError(driver.ErrPrecondition)))

			d.Reset()

			Expect(d.Phase()).To(Equal(driver.Idle))
			Expect(platform.Memory.NumLive()).To(BeZero())
			Expect(d.Status()).To(Equal(driver.DeviceStatus{}))
		})

		It("should reset and report the timeout from Run", func() {
			d = driver.MakeBuilder().
				WithPlatform(platform).
				WithTimeout(5 * time.Millisecond).
				Build("Driver")

			rs, m, err := d.Run(0, graph.Graph{{}})

			Expect(err).To(MatchError(driver.ErrTimeout))
			Expect(rs).To(BeNil())
			Expect(m.Polls).To(BeNumerically(">=", 1))
			Expect(d.Phase()).To(Equal(driver.Idle))
			Expect(d.Snapshot().TimedOut).To(Equal(1))
			Expect(platform.Memory.NumLive()).To(BeZero())
			Expect(platform.Registers.Read(csr.Status)).To(BeZero())
		})
	})

	Context("with observers", func() {
		It("should record every session", func() {
			path := filepath.Join(GinkgoT().TempDir(), "sessions")
			recorder := datarecording.New(path)
			DeferCleanup(recorder.Close)

			d.AcceptHook(driver.NewSessionRecorder(recorder))

			_, _, err := d.Run(0, graph.Graph{{1}, {}})
			Expect(err).NotTo(HaveOccurred())
			_, _, err = d.Run(1, graph.Graph{{1}, {}})
			Expect(err).NotTo(HaveOccurred())
			recorder.Flush()

			reader, err := datarecording.NewReader(path + ".sqlite3")
			Expect(err).NotTo(HaveOccurred())
			DeferCleanup(reader.Close)

			reader.MapTable(driver.SessionTable, driver.SessionRow{})
			rows, total, err := reader.Query(context.Background(),
				driver.SessionTable, datarecording.QueryParams{OrderBy: "Start"})
			Expect(err).NotTo(HaveOccurred())
			Expect(total).To(Equal(2))

			first := rows[0].(*driver.SessionRow)
			Expect(first.Driver).To(Equal("Driver"))
			Expect(first.Outcome).To(Equal("done"))
			Expect(first.NodesVisited).To(Equal(2))
			Expect(rows[1].(*driver.SessionRow).NodesVisited).To(Equal(1))
		})

		It("should trace sessions and loads", func() {
			sessions := tracing.NewTotalTimeTracer(
				timing.WallClock{}, tracing.KindIs("session"))
			loads := tracing.NewStepCountTracer(tracing.KindIs("session"))
			tracing.CollectTrace(d, sessions)
			tracing.CollectTrace(d, loads)

			_, _, err := d.Run(0, graph.Graph{{1}, {}})
			Expect(err).NotTo(HaveOccurred())

			Expect(sessions.NumTasks()).To(Equal(1))
			Expect(loads.GetStepNames()).To(Equal(
				[]string{"start", "done", "collect"}))
		})
	})
})
