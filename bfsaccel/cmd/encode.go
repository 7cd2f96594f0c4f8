package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/sarchlab/bfsaccel/graph"
	"github.com/sarchlab/bfsaccel/memfmt"
)

func newEncodeCommand(v *viper.Viper) *cobra.Command {
	command := &cobra.Command{
		Use:   "encode GRAPH OUTPUT",
		Short: "Write the encoded graph as a .mem image",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig(v)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			base, _ := cmd.Flags().GetUint64("base")
			if !cmd.Flags().Changed("base") {
				base = cfg.Device.Memory.Base
			}

			g, err := graph.Load(args[0])
			if err != nil {
				return err
			}

			words, err := graph.Encode(g, cfg.Driver.Stride)
			if err != nil {
				return err
			}

			f, err := os.Create(args[1])
			if err != nil {
				return err
			}

			if err := memfmt.WriteMem(f, base, words); err != nil {
				_ = f.Close()
				return err
			}

			if err := f.Close(); err != nil {
				return err
			}

			stats := g.Stats(cfg.Driver.Stride)
			logger.Info("graph encoded",
				zap.String("output", args[1]),
				zap.Int("nodes", stats.Nodes),
				zap.Int("edges", stats.Edges))

			fmt.Fprintf(cmd.OutOrStdout(), "%d nodes, %d edges, %d words at 0x%08X\n",
				stats.Nodes, stats.Edges, len(words), base)

			return nil
		},
	}

	command.Flags().Uint64("base", 0, "the byte address of the image, the DMA window base by default")

	return command
}
