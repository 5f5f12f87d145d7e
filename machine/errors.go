package machine

import (
	"errors"
	"fmt"
)

var (
	// ErrPoweredOff is the stop reason after PowerOff. Run reports it as nil.
	ErrPoweredOff = errors.New("machine: powered off")
	// ErrOutOfPages is returned when the page allocator is exhausted.
	ErrOutOfPages = errors.New("machine: out of pages")
	// ErrStrandExited reports a flow of control that ran off the end of its code.
	ErrStrandExited = errors.New("machine: code returned to nowhere")
	// ErrAlreadyRunning is returned by a second call to Run.
	ErrAlreadyRunning = errors.New("machine: already running")
)

// Fault is a machine-level contract violation: a bad memory access, a jump
// to an unmapped address, or an interrupt-flag misuse.
type Fault struct {
	Op   string
	Addr uint32
	Msg  string
}

func (f *Fault) Error() string {
	return fmt.Sprintf("machine fault: %s at %08x: %s", f.Op, f.Addr, f.Msg)
}

// PanicError is the stop reason when Go code running on the machine panicked.
type PanicError struct {
	Info PanicInfo
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("machine: panic in %s (%08x): %v", e.Info.Strand, e.Info.Addr, e.Info.Value)
}

// Unwrap exposes panics raised with an error value.
func (e *PanicError) Unwrap() error {
	err, _ := e.Info.Value.(error)
	return err
}
