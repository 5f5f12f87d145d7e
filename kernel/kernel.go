// Package kernel is a cooperative task scheduler for the emulated machine.
//
// A fixed table of tasks, each with its own stack page, is partitioned into
// the running task, a FIFO ready list and a blocked list. Tasks give up the
// CPU only by yielding or blocking; the scheduler then switches stacks to the
// head of the ready list.
package kernel

import (
	"io"

	"github.com/rs/zerolog"

	"coopos/machine"
)

const (
	// MaxTasks is the size of the task table.
	MaxTasks = 16
	// StackMargin is left free above a new task's initial snapshot so its
	// first resumption can push a return frame without leaving the page.
	StackMargin = 64
)

// CPU is the processor the scheduler drives.
type CPU interface {
	PushCLI()
	PopCLI()
	InterruptsEnabled() bool
	ContextSwitch(oldSP, newSP *uint32)
	Install(name string, fn func()) uint32
	Memory() *machine.Memory
	Halt(err error)
}

// StackAllocator hands out the fixed-size blocks used as task stacks.
type StackAllocator interface {
	AllocatePage() (uint32, error)
	PageSize() uint32
}

// Clock is the monotonic uptime source used for CPU accounting.
type Clock interface {
	UptimeMillis() uint64
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithConsole sets where diagnostics (the fatal-halt message and table
// dumps) are written. The default discards them.
func WithConsole(w io.Writer) Option {
	return func(s *Scheduler) { s.out = w }
}

// WithLogger sets the structured logger.
func WithLogger(log zerolog.Logger) Option {
	return func(s *Scheduler) { s.log = log.With().Str("component", "kernel").Logger() }
}

// WithChecks turns on runtime assertions: Schedule halts when entered with
// interrupts enabled, and the table is validated on every dispatch.
func WithChecks(on bool) Option {
	return func(s *Scheduler) { s.checked = on }
}
