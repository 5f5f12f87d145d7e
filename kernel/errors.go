package kernel

import "errors"

var (
	ErrTableFull     = errors.New("kernel: task table full")
	ErrNilEntry      = errors.New("kernel: nil task entry")
	ErrNoReadyTask   = errors.New("kernel: nothing to schedule")
	ErrTaskReturned  = errors.New("kernel: task entry returned")
	ErrAlreadyBooted = errors.New("kernel: already booted")
	ErrNotBooted     = errors.New("kernel: no running task")
	ErrInvariant     = errors.New("kernel: scheduler invariant violated")
)
