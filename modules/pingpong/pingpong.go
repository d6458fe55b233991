// Package pingpong is a producer and a consumer thread sharing one message
// queue. The producer blocks whenever the consumer falls behind.
package pingpong

import (
	"errors"
	"fmt"

	"starlet/hal"
	"starlet/kernel"
)

const (
	stackSize = 0x1000
	logEvery  = 256
)

// Config sizes the demo.
type Config struct {
	Heap     kernel.HeapID
	Depth    uint32
	Priority uint8
}

// Pinger is the module main thread. It creates the queue, starts the ponger
// and then sends a counter forever.
type Pinger struct {
	log hal.Logger
	cfg Config

	queue   kernel.QueueID
	started bool
	next    kernel.Message
	pong    *Ponger
}

// New returns the main thread routine.
func New(log hal.Logger, cfg Config) *Pinger {
	if cfg.Depth == 0 {
		cfg.Depth = 8
	}
	return &Pinger{log: log, cfg: cfg, queue: -1}
}

// Sent returns the number of messages queued so far.
func (p *Pinger) Sent() uint64 { return uint64(p.next) }

// Received returns the number of messages the ponger took.
func (p *Pinger) Received() uint64 {
	if p.pong == nil {
		return 0
	}
	return p.pong.received
}

func (p *Pinger) Step(ctx *kernel.Context) {
	if !p.started {
		if err := p.start(ctx); err != nil {
			p.logf("pingpong: start failed: %v", err)
			_ = ctx.ExitThread(kernel.Code(err))
		}
		return
	}

	err := ctx.SendMessage(p.queue, p.next, kernel.MsgBlock)
	switch {
	case err == nil:
		p.next++
	case errors.Is(err, kernel.ErrBlocked):
	default:
		p.logf("pingpong: send: %v", err)
		_ = ctx.ExitThread(kernel.Code(err))
	}
}

func (p *Pinger) start(ctx *kernel.Context) (err error) {
	var buf, stack hal.Addr
	ponger := kernel.NoThread
	defer func() {
		if err != nil {
			p.release(ctx, buf, stack, ponger)
		}
	}()

	buf, err = ctx.AllocateOnHeap(p.cfg.Heap, p.cfg.Depth*4)
	if err != nil {
		return fmt.Errorf("queue buffer: %w", err)
	}
	q, err := ctx.CreateMessageQueue(buf, p.cfg.Depth)
	if err != nil {
		return fmt.Errorf("create queue: %w", err)
	}
	p.queue = q

	stack, err = ctx.AllocateOnHeap(p.cfg.Heap, stackSize)
	if err != nil {
		return fmt.Errorf("ponger stack: %w", err)
	}
	p.pong = &Ponger{log: p.log, queue: q}
	ponger, err = ctx.CreateThread(kernel.Entry{PC: 0x20200000, Routine: p.pong}, 0, stack+stackSize, stackSize, p.cfg.Priority, true)
	if err != nil {
		return fmt.Errorf("create ponger: %w", err)
	}
	if err := ctx.StartThread(ponger); err != nil {
		return fmt.Errorf("start ponger: %w", err)
	}
	p.started = true
	p.logf("pingpong: started queue=%d ponger=%d", q, ponger)
	return nil
}

// release undoes a partial start. Zero addresses and NoThread are skipped.
func (p *Pinger) release(ctx *kernel.Context, buf, stack hal.Addr, ponger kernel.ThreadID) {
	if ponger != kernel.NoThread {
		_ = ctx.CancelThread(ponger, kernel.Code(kernel.ErrInterrupted))
	}
	p.pong = nil
	if p.queue >= 0 {
		_ = ctx.DestroyMessageQueue(p.queue)
		p.queue = -1
	}
	if stack != 0 {
		_ = ctx.FreeOnHeap(p.cfg.Heap, stack)
	}
	if buf != 0 {
		_ = ctx.FreeOnHeap(p.cfg.Heap, buf)
	}
}

func (p *Pinger) logf(format string, args ...any) {
	if p.log != nil {
		p.log.WriteLineString(fmt.Sprintf(format, args...))
	}
}

// Ponger drains the queue and checks that messages arrive in order.
type Ponger struct {
	log   hal.Logger
	queue kernel.QueueID

	received uint64
	want     kernel.Message
}

func (p *Ponger) Step(ctx *kernel.Context) {
	msg, err := ctx.ReceiveMessage(p.queue, 0, kernel.MsgBlock)
	if errors.Is(err, kernel.ErrBlocked) {
		return
	}
	if err != nil {
		_ = ctx.ExitThread(kernel.Code(err))
		return
	}
	if msg != p.want && p.log != nil {
		p.log.WriteLineString(fmt.Sprintf("pingpong: out of order got=%d want=%d", msg, p.want))
	}
	p.want = msg + 1
	p.received++
	if p.received%logEvery == 0 && p.log != nil {
		p.log.WriteLineString(fmt.Sprintf("pingpong: received=%d", p.received))
	}
}
