package cmd

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/sarchlab/bfsaccel/csr"
)

func newRegsCommand(v *viper.Viper) *cobra.Command {
	command := &cobra.Command{
		Use:   "regs DEVICE",
		Short: "Dump the registers of a mapped accelerator",
		Long: `regs maps the register block of a real accelerator through DEVICE, ` +
			`a UIO node or /dev/mem, and prints every register. With --reset it ` +
			`first writes the reset bit.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig(v)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			base, _ := cmd.Flags().GetUint64("base")
			if !cmd.Flags().Changed("base") {
				base = cfg.Device.CSRBase
			}

			regs, closeRegs, err := openRegisters(args[0], base, csr.MapSize)
			if err != nil {
				return err
			}
			defer closeRegs()

			if reset, _ := cmd.Flags().GetBool("reset"); reset {
				regs.Write(csr.Control, csr.ControlReset)
				logger.Info("device reset", zap.String("device", args[0]))
			}

			return dumpRegisters(cmd.OutOrStdout(), base, regs)
		},
	}

	command.Flags().Uint64("base", 0, "the address of the register block, device.csr-base by default")
	command.Flags().Bool("reset", false, "write the reset bit before dumping")

	return command
}

func dumpRegisters(out io.Writer, base uint64, regs csr.Registers) error {
	fmt.Fprintf(out, "registers at 0x%08X\n", base)

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "REGISTER\tOFFSET\tVALUE")

	for o := csr.Offset(0); uint64(o) < csr.MapSize; o += 4 {
		fmt.Fprintf(tw, "%s\t0x%03X\t0x%08X\n", o, uint32(o), regs.Read(o))
	}

	if err := tw.Flush(); err != nil {
		return err
	}

	fmt.Fprintf(out, "status: %s\n", describeStatus(regs.Read(csr.Status)))

	return nil
}

func describeStatus(status uint32) string {
	var bits []string

	for _, b := range []struct {
		mask uint32
		name string
	}{
		{csr.StatusBusy, "busy"},
		{csr.StatusDone, "done"},
		{csr.StatusFault, "fault"},
	} {
		if status&b.mask != 0 {
			bits = append(bits, b.name)
		}
	}

	if len(bits) == 0 {
		return "idle"
	}

	return strings.Join(bits, ",")
}
