package machine

import "sync/atomic"

// Timer is the interval timer: IRQTimer fires once per millisecond and every
// delivered interrupt advances the uptime by one millisecond.
type Timer struct {
	m     *Machine
	ticks atomic.Uint64

	every   uint64
	onEvery func(ticks uint64)
}

// NewTimer installs a timer on m's IRQTimer line.
func NewTimer(m *Machine) *Timer {
	t := &Timer{m: m}
	m.SetHandler(IRQTimer, t.tick)
	return t
}

// OnEvery calls fn from the interrupt handler every n ticks.
func (t *Timer) OnEvery(n uint64, fn func(ticks uint64)) {
	t.every = n
	t.onEvery = fn
}

func (t *Timer) tick() {
	n := t.ticks.Add(1)
	if t.every > 0 && t.onEvery != nil && n%t.every == 0 {
		t.onEvery(n)
	}
}

// UptimeMillis returns the milliseconds elapsed since boot.
func (t *Timer) UptimeMillis() uint64 {
	return t.ticks.Load()
}

// PauseBlocking busy-waits for ms milliseconds. Interrupts must be enabled.
func (t *Timer) PauseBlocking(ms uint64) {
	until := t.UptimeMillis() + ms
	for t.UptimeMillis() < until {
		t.m.Hlt()
	}
}
