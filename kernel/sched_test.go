package kernel

import (
	"errors"
	"testing"
	"unsafe"

	"starlet/hal"
)

func TestThreadContextLayout(t *testing.T) {
	var regs ThreadContext
	tests := []struct {
		name string
		got  uintptr
		want uintptr
	}{
		{"CPSR", unsafe.Offsetof(regs.CPSR), 0x00},
		{"R", unsafe.Offsetof(regs.R), 0x04},
		{"SP", unsafe.Offsetof(regs.SP), 0x38},
		{"LR", unsafe.Offsetof(regs.LR), 0x3C},
		{"PC", unsafe.Offsetof(regs.PC), 0x40},
		{"size", unsafe.Sizeof(regs), 0x44},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Fatalf("%s = %#x, want %#x", tt.name, tt.got, tt.want)
		}
	}
}

func TestCreateThreadValidation(t *testing.T) {
	s := newTestSystem(t)
	c := s.k.Context(KernelPID)
	top := s.alloc(0x400) + 0x400
	nop := RoutineFunc(func(*Context) {})

	tests := []struct {
		name     string
		entry    Entry
		top      hal.Addr
		size     uint32
		priority uint8
	}{
		{"nil routine", Entry{}, top, 0x400, 10},
		{"priority", Entry{Routine: nop}, top, 0x400, MaxPriority + 1},
		{"misaligned stack", Entry{Routine: nop}, top - 4, 0x400, 10},
		{"empty stack", Entry{Routine: nop}, top, 0, 10},
		{"stack outside ram", Entry{Routine: nop}, 0x1000, 0x400, 10},
	}
	for _, tt := range tests {
		_, err := c.CreateThread(tt.entry, 0, tt.top, tt.size, tt.priority, false)
		if err != ErrInvalidArg {
			t.Fatalf("%s: CreateThread() error = %v, want %v", tt.name, err, ErrInvalidArg)
		}
	}
}

func TestCreateThreadInitialContext(t *testing.T) {
	s := newTestSystem(t)
	c := s.k.Context(KernelPID)
	top := s.alloc(0x400) + 0x400

	id, err := c.CreateThread(Entry{PC: 0x20100041, Routine: RoutineFunc(func(*Context) {})}, 0xCAFE, top, 0x400, 40, false)
	if err != nil {
		t.Fatalf("CreateThread() error = %v", err)
	}
	th := &s.k.threads[id]
	if th.state != ThreadStopped {
		t.Fatalf("state = %v, want stopped", th.state)
	}
	if th.regs.R[0] != 0xCAFE || th.regs.SP != uint32(top) || th.regs.LR != uint32(ThreadExitTrampoline) {
		t.Fatalf("regs = %+v", th.regs)
	}
	if th.regs.PC != 0x20100040 || th.regs.CPSR != psrModeSystem|psrThumb {
		t.Fatalf("PC = %#x CPSR = %#x, want 0x20100040 thumb system", th.regs.PC, th.regs.CPSR)
	}

	s.grant(t, 4, top-0x400, 0x400)
	id, err = s.k.Context(4).CreateThread(Entry{PC: 0x20100040, Routine: RoutineFunc(func(*Context) {})}, 0, top, 0x400, 40, false)
	if err != nil {
		t.Fatalf("CreateThread() for pid 4 error = %v", err)
	}
	if got := s.k.threads[id].regs.CPSR; got != psrModeUser {
		t.Fatalf("CPSR = %#x, want user mode", got)
	}
}

func TestCreateThreadTableFull(t *testing.T) {
	s := newTestSystem(t)
	for i := 0; i < s.k.MaxThreads(); i++ {
		s.spawn(t, 10, true, func(*Context) {})
	}
	top := s.alloc(0x400) + 0x400
	_, err := s.k.Context(KernelPID).CreateThread(Entry{Routine: RoutineFunc(func(*Context) {})}, 0, top, 0x400, 10, false)
	if err != ErrTooMany {
		t.Fatalf("CreateThread() error = %v, want %v", err, ErrTooMany)
	}
}

func TestSchedulerPriorityOrder(t *testing.T) {
	s := newTestSystem(t)
	var order []string
	run := func(name string) func(*Context) {
		return func(c *Context) {
			order = append(order, name)
			c.ExitThread(0)
		}
	}
	s.spawn(t, 10, true, run("low"))
	s.spawn(t, 50, true, run("high1"))
	s.spawn(t, 50, true, run("high2"))
	s.spawn(t, MaxPriority, true, run("max"))

	if n := s.k.RunUntilIdle(0); n != 4 {
		t.Fatalf("RunUntilIdle() = %d, want 4", n)
	}
	want := []string{"max", "high1", "high2", "low"}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
	if len(s.k.Snapshot().Threads) != 0 {
		t.Fatalf("detached threads kept their slots")
	}
}

func TestSchedulerRoundRobin(t *testing.T) {
	s := newTestSystem(t)
	var order []ThreadID
	loop := func(c *Context) { order = append(order, c.TID()) }
	a := s.spawn(t, 20, false, loop)
	b := s.spawn(t, 20, false, loop)
	s.spawn(t, 5, false, loop)

	s.k.RunUntilIdle(6)
	want := []ThreadID{a, b, a, b, a, b}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
}

func TestYieldThread(t *testing.T) {
	s := newTestSystem(t)
	var order []string
	s.spawn(t, 20, false, func(c *Context) {
		order = append(order, "a")
		c.YieldThread()
		if !c.Parked() {
			t.Errorf("Parked() = false after YieldThread")
		}
	})
	s.spawn(t, 20, false, func(c *Context) { order = append(order, "b") })

	s.k.RunUntilIdle(3)
	if got := len(order); got != 3 || order[0] != "a" || order[1] != "b" || order[2] != "a" {
		t.Fatalf("order = %v, want [a b a]", order)
	}
}

func TestJoinThread(t *testing.T) {
	s := newTestSystem(t)
	worker := s.spawn(t, 10, false, func(c *Context) { c.ExitThread(7) })

	var got int32
	var joined bool
	s.spawn(t, 30, true, func(c *Context) {
		v, err := c.JoinThread(worker)
		if errors.Is(err, ErrBlocked) {
			return
		}
		if err != nil {
			t.Errorf("JoinThread() error = %v", err)
		}
		got, joined = v, true
		c.ExitThread(0)
	})

	s.k.Step()
	if st := s.threadState(worker); st != ThreadReady {
		t.Fatalf("worker state = %v, want ready", st)
	}
	s.k.RunUntilIdle(0)
	if !joined || got != 7 {
		t.Fatalf("JoinThread() = %d (joined %v), want 7", got, joined)
	}
	if len(s.k.Snapshot().Threads) != 0 {
		t.Fatalf("joined thread slot not released: %+v", s.k.Snapshot().Threads)
	}
}

func TestJoinThreadAlreadyDead(t *testing.T) {
	s := newTestSystem(t)
	worker := s.spawn(t, 10, false, func(c *Context) { c.ExitThread(-5) })
	s.k.RunUntilIdle(0)

	if st := s.threadState(worker); st != ThreadDead {
		t.Fatalf("worker state = %v, want dead", st)
	}
	c := s.k.Context(KernelPID)
	v, err := c.JoinThread(worker)
	if err != nil || v != -5 {
		t.Fatalf("JoinThread() = %d, %v, want -5, nil", v, err)
	}
	if _, err := c.JoinThread(worker); err != ErrInvalidArg {
		t.Fatalf("second JoinThread() error = %v, want %v", err, ErrInvalidArg)
	}
}

func TestJoinDetachedThread(t *testing.T) {
	s := newTestSystem(t)
	id := s.spawn(t, 10, true, func(*Context) {})
	if _, err := s.k.Context(KernelPID).JoinThread(id); err != ErrInvalidArg {
		t.Fatalf("JoinThread(detached) error = %v, want %v", err, ErrInvalidArg)
	}
}

func TestCancelWakesJoiners(t *testing.T) {
	s := newTestSystem(t)
	worker := s.spawn(t, 10, false, func(*Context) {})

	results := map[ThreadID]int32{}
	for i := 0; i < 2; i++ {
		s.spawn(t, 30, true, func(c *Context) {
			v, err := c.JoinThread(worker)
			if errors.Is(err, ErrBlocked) {
				return
			}
			results[c.TID()] = v
			c.ExitThread(0)
		})
	}
	s.k.Step()
	s.k.Step()

	if err := s.k.Context(KernelPID).CancelThread(worker, 42); err != nil {
		t.Fatalf("CancelThread() error = %v", err)
	}
	s.k.RunUntilIdle(0)
	if len(results) != 2 {
		t.Fatalf("joiners woken = %d, want 2", len(results))
	}
	for tid, v := range results {
		if v != 42 {
			t.Fatalf("joiner %d got %d, want 42", tid, v)
		}
	}
}

func TestJoinersDoNotReapReusedSlot(t *testing.T) {
	s := newTestSystem(t)
	target := s.spawn(t, 5, false, func(c *Context) { c.ExitThread(7) })
	childTop := s.alloc(0x400) + 0x400

	child := NoThread
	var first, second int32
	s.spawn(t, 20, true, func(c *Context) {
		v, err := c.JoinThread(target)
		if errors.Is(err, ErrBlocked) {
			return
		}
		first = v
		exit := RoutineFunc(func(c *Context) { c.ExitThread(99) })
		id, err := c.CreateThread(Entry{Routine: exit}, 0, childTop, 0x400, 15, false)
		if err != nil {
			t.Errorf("CreateThread() error = %v", err)
		} else {
			c.StartThread(id)
			child = id
		}
		c.ExitThread(0)
	})
	s.spawn(t, 10, true, func(c *Context) {
		v, err := c.JoinThread(target)
		if errors.Is(err, ErrBlocked) {
			return
		}
		second = v
		c.ExitThread(0)
	})

	s.k.RunUntilIdle(0)
	if first != 7 || second != 7 {
		t.Fatalf("joiners got %d and %d, want 7 and 7", first, second)
	}
	if child != target {
		t.Fatalf("child = %d, want the released slot %d", child, target)
	}
	v, err := s.k.Context(KernelPID).JoinThread(child)
	if err != nil || v != 99 {
		t.Fatalf("JoinThread(child) = %d, %v, want 99, nil", v, err)
	}
}

func TestSuspendAndStart(t *testing.T) {
	s := newTestSystem(t)
	steps := 0
	id := s.spawn(t, 10, false, func(*Context) { steps++ })
	c := s.k.Context(KernelPID)

	if err := c.SuspendThread(id); err != nil {
		t.Fatalf("SuspendThread() error = %v", err)
	}
	if s.k.Step() {
		t.Fatalf("Step() ran a suspended thread")
	}
	if err := c.SuspendThread(id); err != ErrInvalidArg {
		t.Fatalf("SuspendThread() twice error = %v, want %v", err, ErrInvalidArg)
	}
	if err := c.StartThread(id); err != nil {
		t.Fatalf("StartThread() error = %v", err)
	}
	if !s.k.Step() || steps != 1 {
		t.Fatalf("Step() after restart ran %d steps, want 1", steps)
	}
}

func TestThreadPriority(t *testing.T) {
	s := newTestSystem(t)
	first := NoThread
	record := func(c *Context) {
		if first == NoThread {
			first = c.TID()
		}
	}
	id := s.spawn(t, 40, false, record)
	c := s.k.Context(KernelPID)

	if err := c.SetThreadPriority(id, 41); err != ErrInvalidArg {
		t.Fatalf("SetThreadPriority(above initial) error = %v, want %v", err, ErrInvalidArg)
	}
	if err := c.SetThreadPriority(id, 12); err != nil {
		t.Fatalf("SetThreadPriority() error = %v", err)
	}
	if p, err := c.GetThreadPriority(id); err != nil || p != 12 {
		t.Fatalf("GetThreadPriority() = %d, %v, want 12, nil", p, err)
	}

	// The lowered thread now runs after a newcomer at 20.
	newcomer := s.spawn(t, 20, false, record)
	s.k.Step()
	if first != newcomer {
		t.Fatalf("first thread = %d, want %d", first, newcomer)
	}
}

func TestChildPriorityCapped(t *testing.T) {
	s := newTestSystem(t)
	top := s.alloc(0x400) + 0x400
	var errHigh, errLow error
	s.spawn(t, 30, true, func(c *Context) {
		nop := Entry{Routine: RoutineFunc(func(*Context) {})}
		_, errHigh = c.CreateThread(nop, 0, top, 0x400, 31, true)
		_, errLow = c.CreateThread(nop, 0, top, 0x400, 30, true)
		c.ExitThread(0)
	})
	s.k.RunUntilIdle(1)
	if errHigh != ErrInvalidArg || errLow != nil {
		t.Fatalf("CreateThread() errors = %v, %v, want %v, nil", errHigh, errLow, ErrInvalidArg)
	}
}

func TestThreadOwnership(t *testing.T) {
	s := newTestSystem(t)
	id := s.spawn(t, 10, false, func(*Context) {})
	other := s.k.Context(6)

	if err := other.CancelThread(id, 0); err != ErrAccessDenied {
		t.Fatalf("CancelThread() by pid 6 error = %v, want %v", err, ErrAccessDenied)
	}
	if _, err := other.GetThreadPriority(id); err != ErrAccessDenied {
		t.Fatalf("GetThreadPriority() by pid 6 error = %v, want %v", err, ErrAccessDenied)
	}
	if err := other.StartThread(ThreadID(s.k.MaxThreads())); err != ErrInvalidArg {
		t.Fatalf("StartThread(out of range) error = %v, want %v", err, ErrInvalidArg)
	}
}

func TestThreadFault(t *testing.T) {
	s := newTestSystem(t)
	var info FaultInfo
	s.k.SetFaultHandler(func(fi FaultInfo) { info = fi })

	id := s.spawn(t, 10, false, func(*Context) { panic("boom") })
	if !s.k.Step() {
		t.Fatalf("Step() = false, want true")
	}
	if info.Thread != id || info.Value != "boom" || info.Process != KernelPID {
		t.Fatalf("FaultInfo = %+v", info)
	}
	if st := s.threadState(id); st != ThreadFaulted {
		t.Fatalf("state = %v, want faulted", st)
	}
	if s.k.Step() {
		t.Fatalf("Step() ran a faulted thread")
	}
	if err := s.k.Context(KernelPID).CancelThread(id, -1); err != nil {
		t.Fatalf("CancelThread(faulted) error = %v", err)
	}
}

func TestYieldCurrentThread(t *testing.T) {
	s := newTestSystem(t)
	var q ThreadQueue
	var got int32
	var woken bool
	s.spawn(t, 10, false, func(c *Context) {
		if v, ok := c.Resumed(); ok {
			got, woken = v, true
			c.ExitThread(0)
			return
		}
		if err := c.YieldCurrentThread(&q); !errors.Is(err, ErrBlocked) {
			t.Errorf("YieldCurrentThread() error = %v, want ErrBlocked", err)
		}
	})

	s.k.Step()
	if q.Empty() {
		t.Fatalf("thread not parked on the queue")
	}
	if s.k.Step() {
		t.Fatalf("Step() ran a waiting thread")
	}
	if !s.k.UnblockThread(&q, 99) {
		t.Fatalf("UnblockThread() = false")
	}
	s.k.Step()
	if !woken || got != 99 {
		t.Fatalf("Resumed() = %d (woken %v), want 99", got, woken)
	}
	if s.k.UnblockThread(&q, 0) {
		t.Fatalf("UnblockThread() on empty queue = true")
	}
}
