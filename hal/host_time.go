package hal

import "time"

const tickDur = time.Millisecond

// hostTime turns wall-clock time observed at host frames into a stream of
// 1 ms ticks. Ticks are dropped if nobody drains the channel.
type hostTime struct {
	ch  chan uint64
	seq uint64

	now  func() time.Time
	last time.Time
	acc  time.Duration
}

func newHostTime() *hostTime {
	return &hostTime{ch: make(chan uint64, 1024), now: time.Now}
}

func (t *hostTime) Ticks() <-chan uint64 { return t.ch }

// step emits the ticks elapsed since the previous step. The first step emits
// one tick so a fresh run makes progress immediately.
func (t *hostTime) step() {
	now := t.now()
	if t.last.IsZero() {
		t.last = now
		t.emit(1)
		return
	}
	t.advance(now.Sub(t.last))
	t.last = now
}

func (t *hostTime) advance(d time.Duration) {
	t.acc += d
	n := uint64(t.acc / tickDur)
	if n == 0 {
		return
	}
	t.acc %= tickDur
	t.emit(n)
}

func (t *hostTime) emit(n uint64) {
	for i := uint64(0); i < n; i++ {
		t.seq++
		select {
		case t.ch <- t.seq:
		default:
		}
	}
}
