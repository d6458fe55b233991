// Package heartbeat counts periodic timer messages and device interrupts
// delivered to one queue.
package heartbeat

import (
	"errors"
	"fmt"

	"starlet/hal"
	"starlet/kernel"
)

const (
	msgBeat kernel.Message = 0x48425400
	msgIRQ  kernel.Message = 0x49525100
)

// Config selects the timer period and the device to listen on.
type Config struct {
	Heap     kernel.HeapID
	PeriodUs uint32
	Device   uint8
	LogEvery uint64
}

// Task is the module main thread.
type Task struct {
	log hal.Logger
	cfg Config

	queue   kernel.QueueID
	timer   kernel.TimerID
	started bool

	beats uint64
	irqs  uint64
}

func New(log hal.Logger, cfg Config) *Task {
	if cfg.PeriodUs == 0 {
		cfg.PeriodUs = 1_000_000
	}
	if cfg.LogEvery == 0 {
		cfg.LogEvery = 1
	}
	return &Task{log: log, cfg: cfg, queue: -1, timer: -1}
}

// Beats returns the timer messages seen.
func (t *Task) Beats() uint64 { return t.beats }

// IRQs returns the device interrupts seen.
func (t *Task) IRQs() uint64 { return t.irqs }

func (t *Task) Step(ctx *kernel.Context) {
	if !t.started {
		if err := t.start(ctx); err != nil {
			t.logf("heartbeat: start failed: %v", err)
			_ = ctx.ExitThread(kernel.Code(err))
		}
		return
	}

	msg, err := ctx.ReceiveMessage(t.queue, 0, kernel.MsgBlock)
	if errors.Is(err, kernel.ErrBlocked) {
		return
	}
	if err != nil {
		t.logf("heartbeat: receive: %v", err)
		_ = ctx.ExitThread(kernel.Code(err))
		return
	}

	switch msg {
	case msgBeat:
		t.beats++
		if t.beats%t.cfg.LogEvery == 0 {
			t.logf("heartbeat: beat n=%d", t.beats)
		}
	case msgIRQ | kernel.Message(t.cfg.Device):
		t.irqs++
		t.logf("heartbeat: irq device=%d n=%d", t.cfg.Device, t.irqs)
	default:
		t.logf("heartbeat: unexpected message 0x%08x", uint32(msg))
	}
}

func (t *Task) start(ctx *kernel.Context) error {
	buf, err := ctx.AllocateOnHeap(t.cfg.Heap, 4*4)
	if err != nil {
		return fmt.Errorf("queue buffer: %w", err)
	}
	q, err := ctx.CreateMessageQueue(buf, 4)
	if err != nil {
		return fmt.Errorf("create queue: %w", err)
	}
	t.queue = q

	id, err := ctx.CreateTimer(t.cfg.PeriodUs, t.cfg.PeriodUs, q, msgBeat)
	if err != nil {
		return fmt.Errorf("create timer: %w", err)
	}
	t.timer = id

	if err := ctx.RegisterEventHandler(t.cfg.Device, q, msgIRQ|kernel.Message(t.cfg.Device)); err != nil {
		return fmt.Errorf("register device %d: %w", t.cfg.Device, err)
	}
	t.started = true
	t.logf("heartbeat: started queue=%d timer=%d period=%dus device=%d", q, id, t.cfg.PeriodUs, t.cfg.Device)
	return nil
}

func (t *Task) logf(format string, args ...any) {
	if t.log != nil {
		t.log.WriteLineString(fmt.Sprintf(format, args...))
	}
}
