// Package joiner periodically starts a joinable worker thread and collects
// its return value.
package joiner

import (
	"errors"
	"fmt"

	"starlet/hal"
	"starlet/kernel"
)

const (
	stackSize = 0x800
	msgWake   = kernel.Message(0x4A4F494E)
)

// Config selects the heap used for worker stacks and the pace of rounds.
type Config struct {
	Heap       kernel.HeapID
	Priority   uint8
	IntervalUs uint32
	Rounds     int // 0 runs forever
}

type phase uint8

const (
	phaseInit phase = iota
	phaseSpawn
	phaseJoin
	phaseSleep
)

// Task is the module main thread.
type Task struct {
	log hal.Logger
	cfg Config

	phase  phase
	stack  hal.Addr
	queue  kernel.QueueID
	timer  kernel.TimerID
	worker kernel.ThreadID
	round  uint32
	last   int32
}

func New(log hal.Logger, cfg Config) *Task {
	if cfg.IntervalUs == 0 {
		cfg.IntervalUs = 250_000
	}
	return &Task{log: log, cfg: cfg, queue: -1, timer: -1, worker: kernel.NoThread}
}

// Rounds returns the number of workers joined.
func (t *Task) Rounds() uint32 { return t.round }

// Last returns the value of the last joined worker.
func (t *Task) Last() int32 { return t.last }

func (t *Task) Step(ctx *kernel.Context) {
	var err error
	switch t.phase {
	case phaseInit:
		err = t.init(ctx)
	case phaseSpawn:
		if t.cfg.Rounds > 0 && int(t.round) >= t.cfg.Rounds {
			_ = ctx.ExitThread(0)
			return
		}
		err = t.spawn(ctx)
	case phaseJoin:
		err = t.join(ctx)
	case phaseSleep:
		_, err = ctx.ReceiveMessage(t.queue, 0, kernel.MsgBlock)
		if err == nil {
			t.phase = phaseSpawn
		}
	}
	if err != nil && !errors.Is(err, kernel.ErrBlocked) {
		t.logf("joiner: %v", err)
		_ = ctx.ExitThread(kernel.Code(err))
	}
}

func (t *Task) init(ctx *kernel.Context) error {
	p, err := ctx.AllocateOnHeap(t.cfg.Heap, stackSize+4)
	if err != nil {
		return fmt.Errorf("worker stack: %w", err)
	}
	t.stack = p
	q, err := ctx.CreateMessageQueue(p+stackSize, 1)
	if err != nil {
		return fmt.Errorf("create queue: %w", err)
	}
	t.queue = q
	id, err := ctx.CreateTimer(t.cfg.IntervalUs, 0, q, msgWake)
	if err != nil {
		return fmt.Errorf("create timer: %w", err)
	}
	if err := ctx.StopTimer(id); err != nil {
		return fmt.Errorf("stop timer: %w", err)
	}
	t.timer = id
	t.phase = phaseSpawn
	return nil
}

func (t *Task) spawn(ctx *kernel.Context) error {
	entry := kernel.Entry{PC: 0x20300000, Routine: &worker{}}
	tid, err := ctx.CreateThread(entry, t.round, t.stack+stackSize, stackSize, t.cfg.Priority, false)
	if err != nil {
		return fmt.Errorf("create worker: %w", err)
	}
	if err := ctx.StartThread(tid); err != nil {
		return fmt.Errorf("start worker: %w", err)
	}
	t.worker = tid
	t.phase = phaseJoin
	return nil
}

func (t *Task) join(ctx *kernel.Context) error {
	ret, err := ctx.JoinThread(t.worker)
	if err != nil {
		if errors.Is(err, kernel.ErrBlocked) {
			return err
		}
		return fmt.Errorf("join worker=%d: %w", t.worker, err)
	}
	if want := Result(t.round); ret != want {
		t.logf("joiner: worker=%d ret=%d want=%d", t.worker, ret, want)
	}
	t.last = ret
	t.round++
	t.worker = kernel.NoThread

	if err := ctx.RestartTimer(t.timer, t.cfg.IntervalUs, 0); err != nil {
		return fmt.Errorf("restart timer: %w", err)
	}
	t.phase = phaseSleep
	return nil
}

func (t *Task) logf(format string, args ...any) {
	if t.log != nil {
		t.log.WriteLineString(fmt.Sprintf(format, args...))
	}
}

// Result is the value the worker of a round exits with.
func Result(round uint32) int32 {
	return int32(round * round % 1000)
}

// worker yields a few times, then exits with Result of its argument.
type worker struct {
	steps uint32
}

func (w *worker) Step(ctx *kernel.Context) {
	arg := ctx.Arg()
	if w.steps < arg%4 {
		w.steps++
		ctx.YieldThread()
		return
	}
	_ = ctx.ExitThread(Result(arg))
}
