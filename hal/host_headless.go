package hal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"golang.org/x/sync/errgroup"
)

// HeadlessConfig controls the no-window host runner.
type HeadlessConfig struct {
	Enabled bool
	// Hz is the host frame rate. Every frame forwards the milliseconds that
	// elapsed since the previous one as ticks.
	Hz int
	// Ticks stops the run after this many frames; 0 runs until the app stops.
	Ticks uint64
	// Output receives log lines; nil means stdout.
	Output io.Writer
}

// RunHeadless runs the app without opening a window.
func RunHeadless(ctx context.Context, newApp func(HAL) App, cfg HeadlessConfig) error {
	if cfg.Hz <= 0 {
		cfg.Hz = 60
	}
	d := time.Second / time.Duration(cfg.Hz)
	if d <= 0 {
		return fmt.Errorf("invalid headless hz: %d", cfg.Hz)
	}
	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}

	h := newHostHAL(out, screenWidth, screenHeight)
	app := newApp(h)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := app.Run(ctx); err != nil {
			return err
		}
		return ErrStop
	})
	g.Go(func() error {
		t := time.NewTicker(d)
		defer t.Stop()

		var frame uint64
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-t.C:
			}
			h.t.step()
			if err := app.Step(); err != nil {
				return err
			}
			frame++
			if cfg.Ticks > 0 && frame >= cfg.Ticks {
				return ErrStop
			}
		}
	})

	if err := g.Wait(); err != nil && !errors.Is(err, ErrStop) {
		return err
	}
	return nil
}
