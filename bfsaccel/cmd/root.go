// Package cmd contains all the commands included in the bfsaccel binary.
package cmd

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/sarchlab/bfsaccel/config"
	"github.com/sarchlab/bfsaccel/logger"
)

// ConfigPaths are searched for bfsaccel.yaml, in order.
var ConfigPaths = []string{"/etc/bfsaccel", "$HOME/.bfsaccel", "."}

// NewRootCommand creates the bfsaccel command with all its children. Values
// are read from flags, BFSACCEL_ environment variables (a .env file in the
// working directory included), and bfsaccel.yaml, in that order.
func NewRootCommand() *cobra.Command {
	return newRootCommand(viper.New(), ConfigPaths...)
}

func newRootCommand(v *viper.Viper, configPaths ...string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "bfsaccel",
		Short: "Drive breadth-first traversals on graph accelerators",
		Long: `bfsaccel encodes graphs into the fixed-stride layout of the BFS ` +
			`accelerator, runs traversals on simulated devices, checks them ` +
			`against a host traversal, and converts memory images for block RAM.`,
		SilenceUsage: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			err := godotenv.Load()
			if err != nil && !errors.Is(err, fs.ErrNotExist) {
				return fmt.Errorf("failed to load .env: %w", err)
			}

			return nil
		},
	}

	config.Setup(v, configPaths...)
	bindRootFlags(rootCmd, v)

	rootCmd.AddCommand(
		newRunCommand(v),
		newEncodeCommand(v),
		newConvertCommand(v),
		newRegsCommand(v),
	)

	return rootCmd
}

// loadConfig reads and validates the configuration and builds the logger it
// selects.
func loadConfig(v *viper.Viper) (*config.Config, *zap.Logger, error) {
	cfg, err := config.Read(v)
	if err != nil {
		return nil, nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid configuration: %w", err)
	}

	l, err := logger.New(cfg.Log.Format, cfg.Log.Level)
	if err != nil {
		return nil, nil, err
	}

	return cfg, l, nil
}
