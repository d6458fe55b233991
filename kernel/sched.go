package kernel

import "starlet/hal"

// Step dispatches the highest priority ready thread for one step. It returns
// false when no thread is ready.
func (k *Kernel) Step() bool {
	state := k.critical()
	l := k.dequeue(&k.ready)
	if l == 0 {
		k.irq.Restore(state)
		return false
	}
	t := k.thread(l)
	t.state = ThreadRunning
	k.current = l
	routine := t.routine
	k.irq.Restore(state)

	c := &Context{k: k, thread: l, pid: t.pid}
	k.run(c, routine)

	state = k.critical()
	k.current = 0
	if t.state == ThreadRunning {
		t.state = ThreadReady
		k.enqueueByPriority(&k.ready, l)
	}
	k.irq.Restore(state)
	return true
}

// RunUntilIdle steps until no thread is ready or max steps ran (max <= 0
// means no limit). It returns the number of steps.
func (k *Kernel) RunUntilIdle(max int) int {
	n := 0
	for max <= 0 || n < max {
		if !k.Step() {
			break
		}
		n++
	}
	return n
}

// Current returns the running thread, or NoThread between steps.
func (k *Kernel) Current() ThreadID { return k.current.id() }

// UnblockThread wakes the head of q with value as the result of the call it
// blocked in. It may be called from interrupt handlers.
func (k *Kernel) UnblockThread(q *ThreadQueue, value int32) bool {
	state := k.critical()
	defer k.irq.Restore(state)
	return k.unblock(q, value)
}

// park marks the calling thread Waiting on q.
func (k *Kernel) park(c *Context, q *ThreadQueue) error {
	k.assertCritical()
	if c.thread == 0 {
		return ErrInvalidArg
	}
	t := k.thread(c.thread)
	t.state = ThreadWaiting
	t.woken = false
	k.enqueue(q, c.thread)
	c.parked = true
	return ErrBlocked
}

// YieldCurrentThread parks the calling thread on q and returns ErrBlocked.
// The value given to UnblockThread is returned by Resumed once the thread
// runs again.
func (c *Context) YieldCurrentThread(q *ThreadQueue) error {
	state := c.k.critical()
	defer c.k.irq.Restore(state)
	if c.parked {
		return ErrBlocked
	}
	return c.k.park(c, q)
}

// YieldThread gives up the rest of the quantum: the thread goes back to the
// ready queue behind threads of equal priority and its routine should return.
func (c *Context) YieldThread() {
	k := c.k
	state := k.critical()
	defer k.irq.Restore(state)

	if c.thread == 0 || c.parked {
		return
	}
	t := k.thread(c.thread)
	if t.state != ThreadRunning {
		return
	}
	t.state = ThreadReady
	k.enqueueByPriority(&k.ready, c.thread)
	c.parked = true
}

func (k *Kernel) lookupThread(c *Context, id ThreadID) (threadLink, *threadInfo, error) {
	if id < 0 || int(id) >= len(k.threads) {
		return 0, nil, ErrInvalidArg
	}
	t := &k.threads[id]
	if !t.inUse {
		return 0, nil, ErrInvalidArg
	}
	if c.pid != KernelPID && t.pid != c.pid {
		return 0, nil, ErrAccessDenied
	}
	return linkOf(id), t, nil
}

// CreateThread sets up a thread in the Stopped state; StartThread makes it
// runnable. The stack is [stackTop-stackSize, stackTop).
func (c *Context) CreateThread(entry Entry, arg uint32, stackTop hal.Addr, stackSize uint32, priority uint8, detached bool) (ThreadID, error) {
	k := c.k
	state := k.critical()
	defer k.irq.Restore(state)

	if entry.Routine == nil || priority > MaxPriority {
		return NoThread, ErrInvalidArg
	}
	if c.thread != 0 && priority > k.thread(c.thread).initialPriority {
		return NoThread, ErrInvalidArg
	}
	if stackTop == 0 || stackTop%8 != 0 || stackSize == 0 || uint32(stackTop) < stackSize {
		return NoThread, ErrInvalidArg
	}
	base := stackTop - hal.Addr(stackSize)
	if err := k.prot.CheckMemoryPointer(base, stackSize, 0, uint32(c.pid), hal.AccessReadWrite); err != nil {
		return NoThread, ErrInvalidArg
	}

	for i := range k.threads {
		t := &k.threads[i]
		// The running thread keeps its slot until its step is over.
		if t.inUse || linkOf(ThreadID(i)) == k.current {
			continue
		}

		cpsr := uint32(psrModeUser)
		if c.pid == KernelPID {
			cpsr = psrModeSystem
		}
		pc := uint32(entry.PC)
		if pc&1 != 0 {
			cpsr |= psrThumb
			pc &^= 1
		}

		*t = threadInfo{
			state:           ThreadStopped,
			pid:             c.pid,
			initialPriority: priority,
			priority:        priority,
			detached:        detached,
			stackBase:       base,
			stackTop:        stackTop,
			routine:         entry.Routine,
			inUse:           true,
		}
		t.regs.CPSR = cpsr
		t.regs.R[0] = arg
		t.regs.SP = uint32(stackTop)
		t.regs.LR = uint32(ThreadExitTrampoline)
		t.regs.PC = pc
		return ThreadID(i), nil
	}
	return NoThread, ErrTooMany
}

// StartThread makes a Stopped thread Ready.
func (c *Context) StartThread(id ThreadID) error {
	k := c.k
	state := k.critical()
	defer k.irq.Restore(state)

	l, t, err := k.lookupThread(c, id)
	if err != nil {
		return err
	}
	if t.state != ThreadStopped {
		return ErrInvalidArg
	}
	t.state = ThreadReady
	k.enqueueByPriority(&k.ready, l)
	return nil
}

// SuspendThread stops a Ready or Running thread until StartThread.
func (c *Context) SuspendThread(id ThreadID) error {
	k := c.k
	state := k.critical()
	defer k.irq.Restore(state)

	l, t, err := k.lookupThread(c, id)
	if err != nil {
		return err
	}
	switch t.state {
	case ThreadReady:
		k.remove(&k.ready, l)
	case ThreadRunning:
		if l == c.thread {
			c.parked = true
		}
	default:
		return ErrInvalidArg
	}
	t.state = ThreadStopped
	return nil
}

// CancelThread terminates a thread with ret as its return value and wakes
// every thread joined on it with ret. The slot is released at once when the
// thread is detached or had joiners; otherwise it waits for JoinThread.
func (c *Context) CancelThread(id ThreadID, ret int32) error {
	k := c.k
	state := k.critical()
	defer k.irq.Restore(state)

	l, t, err := k.lookupThread(c, id)
	if err != nil {
		return err
	}
	if t.state == ThreadDead {
		return ErrInvalidArg
	}
	k.terminate(l, ret)
	if l == c.thread {
		c.parked = true
	}
	return nil
}

// ExitThread terminates the calling thread.
func (c *Context) ExitThread(ret int32) error {
	if c.thread == 0 {
		return ErrInvalidArg
	}
	return c.CancelThread(c.thread.id(), ret)
}

func (k *Kernel) terminate(l threadLink, ret int32) {
	t := k.thread(l)
	if t.queue != nil {
		k.remove(t.queue, l)
	}
	t.state = ThreadDead
	t.retval = ret
	t.woken = false
	// Joiners already hold ret, so nobody is left to reap the slot.
	if woken := k.unblockAll(&t.joiners, ret); woken > 0 || t.detached {
		*t = threadInfo{}
	}
}

// JoinThread waits for a joinable thread to die, returns its value and
// releases its slot.
func (c *Context) JoinThread(id ThreadID) (int32, error) {
	k := c.k
	state := k.critical()
	defer k.irq.Restore(state)

	if c.parked {
		return 0, ErrBlocked
	}
	if v, ok := c.takeWake(); ok {
		// Woken by the target's exit with its return value; terminate
		// released the slot.
		return v, nil
	}

	l, t, err := k.lookupThread(c, id)
	if err != nil {
		return 0, err
	}
	if t.detached || l == c.thread {
		return 0, ErrInvalidArg
	}
	if t.state == ThreadDead {
		ret := t.retval
		*t = threadInfo{}
		return ret, nil
	}
	return 0, k.park(c, &t.joiners)
}

// GetThreadID returns the calling thread.
func (c *Context) GetThreadID() ThreadID { return c.TID() }

// GetProcessID returns the calling process.
func (c *Context) GetProcessID() ProcessID { return c.pid }

// GetThreadPriority returns the current priority of a thread.
func (c *Context) GetThreadPriority(id ThreadID) (uint8, error) {
	k := c.k
	state := k.critical()
	defer k.irq.Restore(state)

	_, t, err := k.lookupThread(c, id)
	if err != nil {
		return 0, err
	}
	if t.state == ThreadDead {
		return 0, ErrInvalidArg
	}
	return t.priority, nil
}

// SetThreadPriority changes a thread's priority, at most up to the priority
// it was created with. The change applies at the next scheduling decision;
// the running thread is not preempted.
func (c *Context) SetThreadPriority(id ThreadID, priority uint8) error {
	k := c.k
	state := k.critical()
	defer k.irq.Restore(state)

	l, t, err := k.lookupThread(c, id)
	if err != nil {
		return err
	}
	if t.state == ThreadDead || priority > t.initialPriority {
		return ErrInvalidArg
	}
	t.priority = priority
	if t.state == ThreadReady {
		k.remove(&k.ready, l)
		k.enqueueByPriority(&k.ready, l)
	}
	return nil
}
