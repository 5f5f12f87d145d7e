// Package console is the machine's text output: bytes written to it go to
// the host log one line at a time and to a terminal drawn on the display.
package console

import (
	"bytes"
	"sync"

	"tinygo.org/x/tinyfont/proggy"
	"tinygo.org/x/tinyterm"

	"coopos/hal"
)

// maxLine forces a log line out when no newline arrives for this long.
const maxLine = 120

// Console implements io.Writer. Writes come from code running on the machine;
// Sync is called from the host loop to publish the screen.
type Console struct {
	mu    sync.Mutex
	log   hal.Logger
	line  []byte
	fb    hal.Framebuffer
	term  *tinyterm.Terminal
	dirty bool
}

// New returns a console on h's logger and, if h has a framebuffer, its
// display.
func New(h hal.HAL) *Console {
	c := &Console{log: h.Logger()}
	if d := h.Display(); d != nil {
		c.fb = d.Framebuffer()
	}
	c.reset()
	return c
}

func (c *Console) reset() {
	if c.fb == nil {
		return
	}
	c.term = tinyterm.NewTerminal(&fbDisplay{fb: c.fb})
	c.term.Configure(&tinyterm.Config{
		Font:              &proggy.TinySZ8pt7b,
		FontHeight:        10,
		FontOffset:        6,
		UseSoftwareScroll: true,
	})
	c.fb.ClearRGB(0, 0, 0)
	c.dirty = true
}

// Write sends p to the terminal and buffers it for the log, emitting every
// completed line.
func (c *Console) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.term != nil && len(p) > 0 {
		c.term.Write(p)
		c.dirty = true
	}

	rest := p
	for len(rest) > 0 {
		i := bytes.IndexByte(rest, '\n')
		if i < 0 {
			c.line = append(c.line, rest...)
			if len(c.line) >= maxLine {
				c.emit()
			}
			break
		}
		c.line = append(c.line, rest[:i]...)
		c.emit()
		rest = rest[i+1:]
	}
	return len(p), nil
}

func (c *Console) emit() {
	if c.log != nil {
		c.log.WriteLineBytes(c.line)
	}
	c.line = c.line[:0]
}

// Flush writes out a pending partial log line.
func (c *Console) Flush() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.line) > 0 {
		c.emit()
	}
}

// Sync presents the terminal if anything was drawn since the last Sync.
func (c *Console) Sync() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.dirty || c.fb == nil {
		return nil
	}
	c.dirty = false
	return c.fb.Present()
}

// Clear blanks the terminal.
func (c *Console) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reset()
}
