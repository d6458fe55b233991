package kernel

// Context is the calling context of a kernel call: the current thread during
// a Step, or a bare process identity for boot code and interrupt handlers.
type Context struct {
	k      *Kernel
	thread threadLink
	pid    ProcessID

	// parked is set once the thread stopped running during this step
	// (blocked, suspended or exited).
	parked bool
}

// TID returns the calling thread, or NoThread outside a thread.
func (c *Context) TID() ThreadID { return c.thread.id() }

// PID returns the calling process.
func (c *Context) PID() ProcessID { return c.pid }

// Arg returns the thread argument (R0 of the initial context).
func (c *Context) Arg() uint32 {
	if c.thread == 0 {
		return 0
	}
	return c.k.thread(c.thread).regs.R[0]
}

// Parked reports whether the thread stopped running during this step. Its
// routine should return from Step.
func (c *Context) Parked() bool { return c.parked }

// Resumed returns the value passed to UnblockThread when the thread was woken
// from a queue it entered with YieldCurrentThread. The value is handed out
// once.
func (c *Context) Resumed() (int32, bool) {
	state := c.k.critical()
	defer c.k.irq.Restore(state)
	return c.takeWake()
}

func (c *Context) takeWake() (int32, bool) {
	if c.thread == 0 {
		return 0, false
	}
	t := c.k.thread(c.thread)
	if !t.woken {
		return 0, false
	}
	t.woken = false
	return t.wake, true
}

// resume is the prologue of every call that may block: a parked thread may
// not issue another one, and a forced wake (negative value) fails the
// re-issued call.
func (c *Context) resume() error {
	if c.parked {
		return ErrBlocked
	}
	if v, ok := c.takeWake(); ok && v < 0 {
		return Error(v)
	}
	return nil
}
