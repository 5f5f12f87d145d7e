// Package app is the demo system: a booted flow and three kernel tasks
// sharing one emulated CPU, printing their progress to the console.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"coopos/console"
	"coopos/hal"
	"coopos/internal/buildinfo"
	"coopos/kernel"
	"coopos/machine"
)

// Config sizes the machine and paces the demo.
type Config struct {
	Machine machine.Config

	// RoundsPerDump is how many times the booted flow yields between task
	// table dumps.
	RoundsPerDump int
	// PauseMillis is how long to busy-wait after each dump.
	PauseMillis uint64
	// MaxDumps powers the machine off after this many dumps; 0 runs forever.
	MaxDumps int
	// SelfTest runs the context-switch self test before the scheduler boots.
	SelfTest bool
	// TickTraceMs prints "(tick)" every this many timer ticks; 0 disables it.
	TickTraceMs uint64

	Logger zerolog.Logger
}

// DefaultConfig returns the demo's standard pacing on the default machine.
func DefaultConfig() Config {
	return Config{
		Machine:       machine.DefaultConfig(),
		RoundsPerDump: 30,
		PauseMillis:   3000,
		MaxDumps:      3,
		SelfTest:      true,
		Logger:        zerolog.Nop(),
	}
}

// System is one machine running the demo tasks.
type System struct {
	h     hal.HAL
	cfg   Config
	log   zerolog.Logger
	m     *machine.Machine
	timer *machine.Timer
	con   *console.Console
	sched *kernel.Scheduler

	procA kernel.TaskID
	dumps int
}

// New builds the machine, console and scheduler. Nothing runs until Run.
func New(h hal.HAL, cfg Config) (*System, error) {
	if cfg.RoundsPerDump <= 0 {
		return nil, fmt.Errorf("app: rounds per dump %d", cfg.RoundsPerDump)
	}
	log := cfg.Logger.With().Str("component", "app").Logger()
	mcfg := cfg.Machine
	mcfg.Logger = &cfg.Logger
	m, err := machine.New(mcfg)
	if err != nil {
		return nil, err
	}

	s := &System{
		h:     h,
		cfg:   cfg,
		log:   log,
		m:     m,
		timer: machine.NewTimer(m),
		con:   console.New(h),
		procA: kernel.NoTask,
	}
	s.sched = kernel.New(m, m.Pages(), s.timer,
		kernel.WithConsole(s.con),
		kernel.WithLogger(cfg.Logger),
		kernel.WithChecks(mcfg.Checked),
	)
	if cfg.TickTraceMs > 0 {
		s.timer.OnEvery(cfg.TickTraceMs, func(uint64) { fmt.Fprint(s.con, "(tick)") })
	}
	installPanicHandler(m, s.con)
	return s, nil
}

// Factory adapts New to the host runners. A configuration error surfaces
// from the returned app's Run.
func Factory(cfg Config) func(hal.HAL) hal.App {
	return func(h hal.HAL) hal.App {
		s, err := New(h, cfg)
		if err != nil {
			return failed{err: err}
		}
		return s
	}
}

type failed struct{ err error }

func (f failed) Run(context.Context) error { return f.err }
func (f failed) Step() error               { return nil }

func (s *System) Machine() *machine.Machine    { return s.m }
func (s *System) Scheduler() *kernel.Scheduler { return s.sched }
func (s *System) Console() *console.Console    { return s.con }

// Run boots the machine and blocks until it powers off, halts, or ctx is
// done. A halt reason is also printed on the console.
func (s *System) Run(ctx context.Context) error {
	s.log.Info().Str("build", buildinfo.Short()).Msg("machine start")
	err := s.m.Run(ctx, s.boot)
	switch {
	case err == nil:
		s.log.Info().Int("dumps", s.dumps).Msg("machine powered off")
	case errors.Is(err, context.Canceled):
		s.log.Info().Msg("machine stopped")
	default:
		fmt.Fprintf(s.con, "\nhalt: %v\n", err)
		s.log.Error().Err(err).Msg("machine halted")
	}
	s.con.Flush()
	if serr := s.con.Sync(); serr != nil && err == nil {
		err = serr
	}
	return err
}

// Step forwards host ticks to the timer interrupt and publishes the screen.
// It is called from the host loop, never from the machine.
func (s *System) Step() error {
	if t := s.h.Time(); t != nil {
		ch := t.Ticks()
	drain:
		for {
			select {
			case <-ch:
				s.m.RaiseIRQ(machine.IRQTimer)
			default:
				break drain
			}
		}
	}
	return s.con.Sync()
}

// boot is the flow the machine starts on its boot stack. It becomes the
// Booted task; returning powers the machine off.
func (s *System) boot() {
	fmt.Fprintf(s.con, "coopos %s\n", buildinfo.Short())
	if s.cfg.SelfTest {
		s.m.SelfTest(s.con)
	}

	if _, err := s.sched.Boot("Booted"); err != nil {
		s.m.Halt(err)
	}
	s.procA = s.spawn("Proc_A", s.procAMain)
	s.spawn("Proc_B", s.procBMain)
	if _, err := s.sched.CreateIdle("Idle", func() { fmt.Fprint(s.con, "i") }); err != nil {
		s.m.Halt(err)
	}

	rounds := 0
	for {
		fmt.Fprint(s.con, "R")
		s.sched.Yield()

		if rounds++; rounds < s.cfg.RoundsPerDump {
			continue
		}
		rounds = 0

		fmt.Fprint(s.con, "\n")
		s.sched.DumpTable(s.con)
		s.dumps++
		if s.cfg.MaxDumps > 0 && s.dumps >= s.cfg.MaxDumps {
			return
		}
		s.timer.PauseBlocking(s.cfg.PauseMillis)

		if _, blocked := s.sched.Blocked(s.procA); blocked {
			s.sched.Unblock(s.procA)
		}
	}
}

func (s *System) spawn(name string, entry func()) kernel.TaskID {
	id, err := s.sched.CreateTask(name, entry)
	if err != nil {
		s.m.Halt(err)
	}
	return id
}

// procAMain does one step of work, yields once, then blocks until the booted
// flow wakes it. The block reason counts the rounds.
func (s *System) procAMain() {
	for i := 0; ; i++ {
		fmt.Fprint(s.con, "A")
		s.sched.Yield()
		s.sched.BlockSelf(i)
	}
}

func (s *System) procBMain() {
	for {
		fmt.Fprint(s.con, "B")
		s.sched.Yield()
	}
}
