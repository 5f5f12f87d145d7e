package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"coopos/app"
	"coopos/hal"
	"coopos/internal/buildinfo"
	"coopos/internal/config"
	"coopos/internal/logging"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type flags struct {
	config    string
	headless  bool
	hz        int
	ticks     uint64
	logLevel  string
	logFormat string
	dumps     int
}

func newRootCmd() *cobra.Command {
	var f flags
	root := &cobra.Command{
		Use:           "coopos",
		Short:         "Cooperative kernel tasks on an emulated 32-bit machine",
		Long:          "coopos boots an emulated machine, starts the demo tasks and prints the task table as they yield, block and unblock.",
		Version:       buildinfo.String(),
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, f)
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg)
		},
	}

	fl := root.Flags()
	fl.StringVar(&f.config, "config", "", "YAML config file")
	fl.BoolVar(&f.headless, "headless", false, "Run without a window")
	fl.IntVar(&f.hz, "hz", 60, "Host frame rate")
	fl.Uint64Var(&f.ticks, "ticks", 0, "Stop after N host frames (0 = run until power off)")
	fl.StringVar(&f.logLevel, "log-level", "info", "Log level (trace, debug, info, warn, error, off)")
	fl.StringVar(&f.logFormat, "log-format", "text", "Log format (text, json)")
	fl.IntVar(&f.dumps, "dumps", 3, "Power off after N task table dumps (0 = never)")
	return root
}

// loadConfig reads the config file and applies the flags the user set.
func loadConfig(cmd *cobra.Command, f flags) (config.Config, error) {
	cfg, err := config.Load(f.config)
	if err != nil {
		return cfg, err
	}
	fl := cmd.Flags()
	if fl.Changed("headless") {
		cfg.Host.Headless = f.headless
	}
	if fl.Changed("hz") {
		cfg.Host.Hz = f.hz
	}
	if fl.Changed("ticks") {
		cfg.Host.Ticks = f.ticks
	}
	if fl.Changed("log-level") {
		cfg.Log.Level = f.logLevel
	}
	if fl.Changed("log-format") {
		cfg.Log.Format = f.logFormat
	}
	if fl.Changed("dumps") {
		cfg.Demo.MaxDumps = f.dumps
	}
	return cfg, cfg.Validate()
}

func appConfig(cfg config.Config) app.Config {
	ac := app.DefaultConfig()
	ac.Machine.MemorySize = cfg.Machine.MemoryKiB << 10
	ac.Machine.PageSize = cfg.Machine.PageSize
	ac.Machine.BootStackSize = cfg.Machine.BootStack
	ac.Machine.Checked = !cfg.Machine.Unchecked
	ac.RoundsPerDump = cfg.Demo.RoundsPerDump
	ac.PauseMillis = cfg.Demo.PauseMillis
	ac.MaxDumps = cfg.Demo.MaxDumps
	ac.SelfTest = cfg.Demo.SelfTest
	ac.TickTraceMs = cfg.Machine.TickTraceMs
	ac.Logger = logging.New(logging.ParseLevel(cfg.Log.Level), cfg.Log.Format)
	return ac
}

func run(ctx context.Context, cfg config.Config) error {
	if ctx == nil {
		ctx = context.Background()
	}
	newApp := app.Factory(appConfig(cfg))

	if !cfg.Host.Headless {
		return hal.RunWindow(newApp)
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()
	err := hal.RunHeadless(ctx, newApp, hal.HeadlessConfig{
		Enabled: true,
		Hz:      cfg.Host.Hz,
		Ticks:   cfg.Host.Ticks,
	})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
