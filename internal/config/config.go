package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the full coopos configuration. Zero fields in a file keep their
// defaults.
type Config struct {
	Log     LogConfig     `yaml:"log"`
	Machine MachineConfig `yaml:"machine"`
	Demo    DemoConfig    `yaml:"demo"`
	Host    HostConfig    `yaml:"host"`
}

type LogConfig struct {
	Level  string `yaml:"level"`  // trace, debug, info, warn, error, off
	Format string `yaml:"format"` // text, json
}

type MachineConfig struct {
	MemoryKiB   uint32 `yaml:"memory_kib"`
	PageSize    uint32 `yaml:"page_size"`
	BootStack   uint32 `yaml:"boot_stack"`
	Unchecked   bool   `yaml:"unchecked"` // disable contract checks
	TickTraceMs uint64 `yaml:"tick_trace_ms"`
}

type DemoConfig struct {
	RoundsPerDump int    `yaml:"rounds_per_dump"`
	PauseMillis   uint64 `yaml:"pause_ms"`
	MaxDumps      int    `yaml:"max_dumps"` // 0 runs forever
	SelfTest      bool   `yaml:"self_test"`
}

type HostConfig struct {
	Headless bool   `yaml:"headless"`
	Hz       int    `yaml:"hz"`
	Ticks    uint64 `yaml:"ticks"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Log: LogConfig{Level: "info", Format: "text"},
		Machine: MachineConfig{
			MemoryKiB: 256,
			PageSize:  4096,
			BootStack: 4096,
		},
		Demo: DemoConfig{
			RoundsPerDump: 30,
			PauseMillis:   3000,
			MaxDumps:      3,
			SelfTest:      true,
		},
		Host: HostConfig{Hz: 60},
	}
}

// Load reads a YAML file over the defaults. An empty path returns the
// defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := Decode(bytes.NewReader(data), &cfg); err != nil {
		return cfg, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Decode merges the YAML document in r into cfg. Unknown keys are errors.
func Decode(r io.Reader, cfg *Config) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parse config: %w", err)
	}
	return cfg.Validate()
}

// Validate rejects configurations the machine cannot run.
func (c Config) Validate() error {
	var errs []error
	switch c.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format %q: want text or json", c.Log.Format))
	}
	m := c.Machine
	if m.PageSize < 256 || m.PageSize&(m.PageSize-1) != 0 {
		errs = append(errs, fmt.Errorf("machine.page_size %d: want a power of two >= 256", m.PageSize))
	}
	if m.BootStack < 256 || m.BootStack%4 != 0 {
		errs = append(errs, fmt.Errorf("machine.boot_stack %d: want a multiple of 4 >= 256", m.BootStack))
	}
	if uint64(m.MemoryKiB)<<10 < uint64(m.BootStack)+4*uint64(m.PageSize) {
		errs = append(errs, fmt.Errorf("machine.memory_kib %d: too small for the boot stack and four task stacks", m.MemoryKiB))
	}
	if m.MemoryKiB > 64<<10 {
		errs = append(errs, fmt.Errorf("machine.memory_kib %d: at most 65536", m.MemoryKiB))
	}
	if c.Demo.RoundsPerDump <= 0 {
		errs = append(errs, fmt.Errorf("demo.rounds_per_dump %d: want > 0", c.Demo.RoundsPerDump))
	}
	if c.Demo.MaxDumps < 0 {
		errs = append(errs, fmt.Errorf("demo.max_dumps %d: want >= 0", c.Demo.MaxDumps))
	}
	if c.Host.Hz <= 0 || c.Host.Hz > 1000 {
		errs = append(errs, fmt.Errorf("host.hz %d: want 1..1000", c.Host.Hz))
	}
	return errors.Join(errs...)
}
