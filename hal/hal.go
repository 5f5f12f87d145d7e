package hal

import (
	"context"
	"errors"
)

// ErrStop is returned by App.Step to end a host run cleanly.
var ErrStop = errors.New("hal: stop")

// Logger writes newline-delimited log lines.
type Logger interface {
	WriteLineString(s string)
	WriteLineBytes(b []byte)
}

// PixelFormat defines the framebuffer pixel encoding.
type PixelFormat uint8

const (
	// PixelFormatRGB565 is 16bpp: rrrrrggggggbbbbb.
	PixelFormatRGB565 PixelFormat = iota + 1
)

// Framebuffer is a pixel buffer plus a "present" hook. Drawing goes to
// Buffer; Present publishes it to the screen.
type Framebuffer interface {
	Width() int
	Height() int
	Format() PixelFormat
	StrideBytes() int
	Buffer() []byte
	ClearRGB(r, g, b uint8)
	Present() error
}

// Display provides access to the framebuffer (if available).
type Display interface {
	Framebuffer() Framebuffer
}

// Time provides a base tick stream, one tick per elapsed millisecond.
type Time interface {
	Ticks() <-chan uint64
}

// HAL provides the only contact point between the machine and the host.
type HAL interface {
	Logger() Logger
	Display() Display
	Time() Time
}

// App is what a host runner drives. Run blocks for the app's lifetime and
// returns nil on a clean shutdown. Step is called once per host frame from
// the runner's goroutine; returning ErrStop ends the run.
type App interface {
	Run(ctx context.Context) error
	Step() error
}
