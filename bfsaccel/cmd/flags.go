package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/sarchlab/bfsaccel/config"
)

// mustBindPFlag attempts to bind a specific key to a pflag (as used by cobra)
// and panics if the binding fails with a non-nil error.
func mustBindPFlag(v *viper.Viper, key string, flag *pflag.Flag) {
	if err := v.BindPFlag(key, flag); err != nil {
		panic("failed to bind pflag: " + err.Error())
	}
}

func bindRootFlags(command *cobra.Command, v *viper.Viper) {
	d := config.DefaultConfig()
	flags := command.PersistentFlags()

	flags.String("log-format", d.Log.Format, "the log format, text or json")
	mustBindPFlag(v, "log.format", flags.Lookup("log-format"))

	flags.String("log-level", d.Log.Level, "the log level: debug, info, warn, error or none")
	mustBindPFlag(v, "log.level", flags.Lookup("log-level"))

	flags.Int("stride", d.Driver.Stride, "the number of words per encoded node")
	mustBindPFlag(v, "driver.stride", flags.Lookup("stride"))
	mustBindPFlag(v, "device.stride", flags.Lookup("stride"))
}

// bindRunFlags binds the run flags to the equivalent config values managed by
// viper.
func bindRunFlags(command *cobra.Command, v *viper.Viper) {
	d := config.DefaultConfig()
	flags := command.Flags()

	flags.UintSlice("start", []uint{0}, "the start nodes, one traversal each")
	flags.Int("parallel", 4, "the number of traversals in flight")
	flags.Bool("verify", true, "check each result against a host traversal")
	flags.Bool("levels", false, "print the nodes of every level")

	flags.Duration("poll-interval", d.Driver.PollInterval, "the time between two status reads")
	mustBindPFlag(v, "driver.poll-interval", flags.Lookup("poll-interval"))

	flags.Duration("timeout", d.Driver.Timeout, "how long to wait for a traversal")
	mustBindPFlag(v, "driver.timeout", flags.Lookup("timeout"))

	flags.Float64("freq-mhz", d.Driver.FreqMHz, "the device clock used to count cycles")
	mustBindPFlag(v, "driver.freq-mhz", flags.Lookup("freq-mhz"))

	flags.Duration("startup-latency", d.Device.StartupLatency, "the simulated time between start and the first node")
	mustBindPFlag(v, "device.startup-latency", flags.Lookup("startup-latency"))

	flags.Duration("node-latency", d.Device.NodeLatency, "the simulated time spent per visited node")
	mustBindPFlag(v, "device.node-latency", flags.Lookup("node-latency"))

	flags.Duration("edge-latency", d.Device.EdgeLatency, "the simulated time spent per traversed edge")
	mustBindPFlag(v, "device.edge-latency", flags.Lookup("edge-latency"))

	flags.Bool("monitor", d.Monitor.Enabled, "serve the monitor web page during the run")
	mustBindPFlag(v, "monitor.enabled", flags.Lookup("monitor"))

	flags.Int("monitor-port", d.Monitor.Port, "the port of the monitor, 0 picks one")
	mustBindPFlag(v, "monitor.port", flags.Lookup("monitor-port"))

	flags.Bool("open-browser", d.Monitor.OpenBrowser, "open the monitor in a browser")
	mustBindPFlag(v, "monitor.open-browser", flags.Lookup("open-browser"))

	flags.Bool("record", d.Record.Enabled, "record sessions and traces in SQLite")
	mustBindPFlag(v, "record.enabled", flags.Lookup("record"))

	flags.String("record-backend", d.Record.Backend, "where to record, sqlite or clickhouse")
	mustBindPFlag(v, "record.backend", flags.Lookup("record-backend"))

	flags.String("record-path", d.Record.Path, "the SQLite database name without the .sqlite3 suffix")
	mustBindPFlag(v, "record.path", flags.Lookup("record-path"))

	flags.String("record-dsn", d.Record.DSN, "the ClickHouse DSN")
	mustBindPFlag(v, "record.dsn", flags.Lookup("record-dsn"))
}
