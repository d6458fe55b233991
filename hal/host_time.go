//go:build !tinygo

package hal

import "time"

// TickDuration is the host timer interrupt period.
const TickDuration = time.Millisecond

// hostTime turns wall-clock progress into timer ticks. It is advanced by the
// runner loop, not by its own goroutine, so ticks arrive between kernel steps.
type hostTime struct {
	ch    chan uint64
	seq   uint64
	clock func() time.Time

	last time.Time
	acc  time.Duration
}

func newHostTime() *hostTime {
	return newHostTimeWithClock(time.Now)
}

func newHostTimeWithClock(clock func() time.Time) *hostTime {
	return &hostTime{ch: make(chan uint64, 1024), clock: clock}
}

func (t *hostTime) Ticks() <-chan uint64 { return t.ch }

// step emits one tick per elapsed TickDuration, at least one on the first call.
func (t *hostTime) step() {
	now := t.clock()
	if t.last.IsZero() {
		t.last = now
		t.emit(1)
		return
	}

	t.acc += now.Sub(t.last)
	t.last = now

	n := uint64(t.acc / TickDuration)
	if n == 0 {
		return
	}
	t.acc %= TickDuration
	t.emit(n)
}

// emit drops ticks when the consumer is behind; the sequence number still
// advances so the kernel sees the real time.
func (t *hostTime) emit(n uint64) {
	t.seq += n
	select {
	case t.ch <- t.seq:
	default:
	}
}
