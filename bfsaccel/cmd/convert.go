package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/sarchlab/bfsaccel/memfmt"
)

func newConvertCommand(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "convert INPUT.mem OUTPUT.coe",
		Short: "Convert a .mem image to a .coe file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, logger, err := loadConfig(v)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			in, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer in.Close()

			out, err := os.Create(args[1])
			if err != nil {
				return err
			}

			n, err := memfmt.ConvertMemToCOE(in, out, logger)
			if err != nil {
				_ = out.Close()
				return err
			}

			if err := out.Close(); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Converted %s to %s (%d values)\n",
				args[0], args[1], n)

			return nil
		},
	}
}
