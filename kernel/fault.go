package kernel

// FaultInfo describes a thread that crashed.
type FaultInfo struct {
	Thread  ThreadID
	Process ProcessID
	PC      uint32
	Value   any
	Stack   []byte
}

// SetFaultHandler installs the handler called after a thread faults. It runs
// on the scheduler goroutine with interrupts enabled and must not panic.
func (k *Kernel) SetFaultHandler(fn func(FaultInfo)) {
	k.onFault = fn
}

func (k *Kernel) run(c *Context, r Routine) {
	defer func() {
		if v := recover(); v != nil {
			k.fault(c, v)
		}
	}()
	r.Step(c)
}

// fault leaves the thread Faulted with its slot held, so joiners keep waiting
// until someone cancels it.
func (k *Kernel) fault(c *Context, v any) {
	stack := captureStack()

	state := k.critical()
	t := k.thread(c.thread)
	if t.queue != nil {
		k.remove(t.queue, c.thread)
	}
	if t.inUse && t.state != ThreadDead {
		t.state = ThreadFaulted
	}
	info := FaultInfo{
		Thread:  c.thread.id(),
		Process: t.pid,
		PC:      t.regs.PC,
		Value:   v,
		Stack:   stack,
	}
	k.irq.Restore(state)

	k.logf("thread: fault tid=%d pid=%d pc=0x%08x panic=%v", info.Thread, info.Process, info.PC, v)
	if k.onFault != nil {
		k.onFault(info)
	}
}
