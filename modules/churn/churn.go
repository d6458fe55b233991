// Package churn exercises a process heap with a random mix of aligned
// allocations and frees.
package churn

import (
	"fmt"

	"starlet/hal"
	"starlet/kernel"
)

const maxLive = 32

// Config selects the heap and how hard to push it.
type Config struct {
	Heap       kernel.HeapID
	MaxSize    uint32
	OpsPerStep int
	LogEvery   uint64
	Seed       uint32
}

// Task is the module main thread.
type Task struct {
	log hal.Logger
	cfg Config

	rng  uint32
	live [maxLive]hal.Addr
	n    int

	ops      uint64
	failures uint64
}

func New(log hal.Logger, cfg Config) *Task {
	if cfg.MaxSize == 0 {
		cfg.MaxSize = 0x800
	}
	if cfg.OpsPerStep <= 0 {
		cfg.OpsPerStep = 4
	}
	if cfg.LogEvery == 0 {
		cfg.LogEvery = 4096
	}
	if cfg.Seed == 0 {
		cfg.Seed = 0x2545F491
	}
	return &Task{log: log, cfg: cfg, rng: cfg.Seed}
}

// Ops returns the number of heap calls made.
func (t *Task) Ops() uint64 { return t.ops }

// Failures returns the number of allocations that found no room.
func (t *Task) Failures() uint64 { return t.failures }

// Live returns the number of blocks currently held.
func (t *Task) Live() int { return t.n }

func (t *Task) next() uint32 {
	// xorshift32
	x := t.rng
	x ^= x << 13
	x ^= x >> 17
	x ^= x << 5
	t.rng = x
	return x
}

func (t *Task) Step(ctx *kernel.Context) {
	for i := 0; i < t.cfg.OpsPerStep; i++ {
		if err := t.op(ctx); err != nil {
			t.logf("churn: %v", err)
			_ = ctx.ExitThread(kernel.Code(err))
			return
		}
	}
}

func (t *Task) op(ctx *kernel.Context) error {
	t.ops++
	if t.ops%t.cfg.LogEvery == 0 {
		t.logf("churn: ops=%d live=%d failures=%d", t.ops, t.n, t.failures)
	}

	r := t.next()
	if t.n == maxLive || (t.n > 0 && r&3 == 0) {
		i := int(r>>8) % t.n
		if err := ctx.FreeOnHeap(t.cfg.Heap, t.live[i]); err != nil {
			return fmt.Errorf("free 0x%08x: %w", uint32(t.live[i]), err)
		}
		t.n--
		t.live[i] = t.live[t.n]
		t.live[t.n] = 0
		return nil
	}

	size := 1 + r>>16%t.cfg.MaxSize
	align := uint32(32) << (r >> 4 & 3)
	p, err := ctx.MallocateOnHeap(t.cfg.Heap, size, align)
	if err == kernel.ErrNoMemory {
		t.failures++
		return nil
	}
	if err != nil {
		return fmt.Errorf("allocate %d/%d: %w", size, align, err)
	}
	if uint32(p)%align != 0 {
		return fmt.Errorf("allocate %d/%d: misaligned 0x%08x", size, align, uint32(p))
	}
	t.live[t.n] = p
	t.n++
	return nil
}

func (t *Task) logf(format string, args ...any) {
	if t.log != nil {
		t.log.WriteLineString(fmt.Sprintf(format, args...))
	}
}
