package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sarchlab/bfsaccel/bfs"
	"github.com/sarchlab/bfsaccel/config"
	"github.com/sarchlab/bfsaccel/datarecording"
	"github.com/sarchlab/bfsaccel/device"
	"github.com/sarchlab/bfsaccel/driver"
	"github.com/sarchlab/bfsaccel/graph"
	"github.com/sarchlab/bfsaccel/monitoring"
	"github.com/sarchlab/bfsaccel/timing"
	"github.com/sarchlab/bfsaccel/tracing"
)

// ErrMismatch reports a device result that disagrees with the host
// traversal.
var ErrMismatch = errors.New("device result differs from host traversal")

func newRunCommand(v *viper.Viper) *cobra.Command {
	command := &cobra.Command{
		Use:   "run GRAPH",
		Short: "Traverse a graph on simulated accelerators",
		Long: `run loads GRAPH, a YAML or JSON adjacency map, and traverses it ` +
			`from every start node, each on its own simulated accelerator.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig(v)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			flags := cmd.Flags()
			starts, _ := flags.GetUintSlice("start")
			parallel, _ := flags.GetInt("parallel")
			verify, _ := flags.GetBool("verify")
			levels, _ := flags.GetBool("levels")

			g, err := graph.Load(args[0])
			if err != nil {
				return err
			}

			r := &runner{
				cfg:      cfg,
				logger:   logger,
				graph:    g,
				parallel: parallel,
				verify:   verify,
			}

			for _, s := range starts {
				if uint64(s) > math.MaxUint32 {
					return fmt.Errorf("start node %d does not fit a node id", s)
				}

				r.starts = append(r.starts, uint32(s))
			}

			outcomes, err := r.run(cmd.Context())
			if err != nil {
				return err
			}

			return report(cmd.OutOrStdout(), g, cfg.Driver.Stride, outcomes, levels)
		},
	}

	bindRunFlags(command, v)

	return command
}

type outcome struct {
	start   uint32
	results *bfs.ResultSet
	metrics driver.Metrics
	err     error
}

type runner struct {
	cfg      *config.Config
	logger   *zap.Logger
	graph    graph.Graph
	starts   []uint32
	parallel int
	verify   bool

	monitor  *monitoring.Monitor
	bar      *monitoring.ProgressBar
	sessions *driver.SessionRecorder
	tracer   *tracing.DBTracer
}

func (r *runner) run(ctx context.Context) ([]outcome, error) {
	if len(r.starts) == 0 {
		return nil, errors.New("no start node given")
	}

	if r.parallel < 1 {
		return nil, fmt.Errorf("parallel must be positive, got %d", r.parallel)
	}

	for _, s := range r.starts {
		if !r.graph.HasNode(s) {
			return nil, fmt.Errorf("start node %d is not in a graph of %d nodes",
				s, r.graph.NumNodes())
		}
	}

	if err := r.startMonitor(); err != nil {
		return nil, err
	}
	defer r.stopMonitor()

	if r.cfg.Record.Enabled {
		recorder, err := datarecording.NewDataRecorderWithConfig(
			datarecording.RecorderConfig{
				Type:    r.cfg.Record.Backend,
				Path:    r.cfg.Record.Path,
				ConnStr: r.cfg.Record.DSN,
			})
		if err != nil {
			return nil, err
		}
		defer func() {
			if err := recorder.Close(); err != nil {
				r.logger.Error("failed to close recording", zap.Error(err))
			}
		}()

		exec := datarecording.NewExecRecorder(recorder)
		exec.Start()
		exec.Add("Graph Nodes", strconv.Itoa(r.graph.NumNodes()))
		exec.Add("Start Nodes", fmt.Sprint(r.starts))
		defer exec.End()

		r.sessions = driver.NewSessionRecorder(recorder)
		r.tracer = tracing.NewDBTracer(timing.WallClock{}, recorder)
	}

	outcomes := make([]outcome, len(r.starts))

	group, ctx := errgroup.WithContext(ctx)
	group.SetLimit(r.parallel)

	for i, start := range r.starts {
		group.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}

			o, err := r.traverse(i, start)
			outcomes[i] = o

			return err
		})
	}

	if err := group.Wait(); err != nil {
		return nil, err
	}

	return outcomes, nil
}

// traverse runs one start node on a platform of its own. Only a platform
// that cannot be built is returned as an error; traversal failures are part
// of the outcome.
func (r *runner) traverse(i int, start uint32) (outcome, error) {
	name := fmt.Sprintf("Driver[%d]", i)
	logger := r.logger.With(zap.String("driver", name), zap.Uint32("start", start))

	platform, err := device.NewPlatform(r.cfg.Device, logger)
	if err != nil {
		return outcome{}, err
	}
	defer platform.Close()

	d := driver.MakeBuilder().
		WithPlatform(platform).
		WithStride(r.cfg.Driver.Stride).
		WithPollInterval(r.cfg.Driver.PollInterval).
		WithTimeout(r.cfg.Driver.Timeout).
		WithFreq(timing.Freq(r.cfg.Driver.FreqMHz) * timing.MHz).
		WithLogger(logger).
		Build(name)

	if r.monitor != nil {
		r.monitor.RegisterDriver(d)
		d.AcceptHook(r.monitor)
	}

	if r.sessions != nil {
		d.AcceptHook(r.sessions)
		tracing.CollectTrace(d, r.tracer)
	}

	if r.bar != nil {
		r.bar.Begin()
	}

	o := outcome{start: start}
	o.results, o.metrics, o.err = d.Run(start, r.graph)

	if o.err == nil && r.verify {
		o.err = r.check(o.results)
	}

	if r.bar != nil {
		r.bar.End(o.err)
	}

	if o.err != nil {
		logger.Warn("traversal failed", zap.Error(o.err))
	}

	return o, nil
}

func (r *runner) check(rs *bfs.ResultSet) error {
	if err := rs.Verify(r.graph); err != nil {
		return fmt.Errorf("%w: %w", ErrMismatch, err)
	}

	if !rs.Equivalent(bfs.Traverse(r.graph, rs.Start)) {
		return ErrMismatch
	}

	return nil
}

func (r *runner) startMonitor() error {
	if !r.cfg.Monitor.Enabled {
		return nil
	}

	r.monitor = monitoring.NewMonitor().
		WithLogger(r.logger).
		WithPortNumber(r.cfg.Monitor.Port)

	if _, err := r.monitor.StartServer(); err != nil {
		return err
	}

	r.bar = r.monitor.CreateProgressBar("traversals", uint64(len(r.starts)))

	if r.cfg.Monitor.OpenBrowser {
		if err := r.monitor.OpenBrowser(); err != nil {
			r.logger.Warn("failed to open browser", zap.Error(err))
		}
	}

	return nil
}

func (r *runner) stopMonitor() {
	if r.monitor == nil {
		return
	}

	r.monitor.CompleteProgressBar(r.bar)

	if err := r.monitor.Shutdown(context.Background()); err != nil {
		r.logger.Warn("failed to stop monitor", zap.Error(err))
	}
}

// report prints one row per start node and fails if any traversal did.
func report(
	out io.Writer,
	g graph.Graph,
	stride int,
	outcomes []outcome,
	levels bool,
) error {
	stats := g.Stats(stride)
	fmt.Fprintf(out, "graph: %d nodes, %d edges, avg degree %.2f, %d bytes encoded\n",
		stats.Nodes, stats.Edges, stats.AvgDegree, stats.FootprintBytes)

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "START\tRESULT\tVISITED\tEDGES\tDEPTH\tELAPSED\tCYCLES\tTEPS")

	failed := 0

	for _, o := range outcomes {
		if o.err != nil {
			failed++
			fmt.Fprintf(tw, "%d\t%s\t-\t-\t-\t%s\t%d\t-\n",
				o.start, o.err, o.metrics.Elapsed, o.metrics.Cycles)

			continue
		}

		fmt.Fprintf(tw, "%d\tok\t%d\t%d\t%d\t%s\t%d\t%.0f\n",
			o.start, o.metrics.NodesVisited, o.metrics.EdgesTraversed,
			o.results.MaxDepth(), o.metrics.Elapsed, o.metrics.Cycles,
			o.metrics.TEPS)
	}

	if err := tw.Flush(); err != nil {
		return err
	}

	if levels {
		for _, o := range outcomes {
			if o.err != nil {
				continue
			}

			fmt.Fprintf(out, "start %d:\n", o.start)

			for d, nodes := range o.results.Levels {
				fmt.Fprintf(out, "  level %d: %v\n", d, nodes)
			}
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d traversals failed", failed, len(outcomes))
	}

	return nil
}
