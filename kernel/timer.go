package kernel

// TickMicros is the length of one timer tick in microseconds.
const TickMicros = 1000

// TimerID indexes the timer table.
type TimerID int32

type timer struct {
	pid   ProcessID
	queue QueueID
	msg   Message

	deadline uint64 // microseconds
	period   uint32
	armed    bool
	inUse    bool
}

func (k *Kernel) now() uint64 { return k.tick * TickMicros }

// Now returns the kernel time in microseconds.
func (k *Kernel) Now() uint64 {
	state := k.critical()
	defer k.irq.Restore(state)
	return k.now()
}

// Tick returns the last timer tick delivered to TickTo.
func (k *Kernel) Tick() uint64 {
	state := k.critical()
	defer k.irq.Restore(state)
	return k.tick
}

func (k *Kernel) lookupTimer(c *Context, id TimerID) (*timer, error) {
	if id < 0 || int(id) >= MaxTimers {
		return nil, ErrInvalidArg
	}
	t := &k.timers[id]
	if !t.inUse {
		return nil, ErrInvalidArg
	}
	if t.pid != c.pid {
		return nil, ErrAccessDenied
	}
	return t, nil
}

func (k *Kernel) arm(t *timer, delay, period uint32) {
	t.period = period
	t.deadline = k.now() + uint64(delay)
	t.armed = true
}

// CreateTimer posts msg to a queue owned by the caller after delay
// microseconds, then every period microseconds unless period is zero.
func (c *Context) CreateTimer(delay, period uint32, queue QueueID, msg Message) (TimerID, error) {
	k := c.k
	state := k.critical()
	defer k.irq.Restore(state)

	if _, err := k.messageQueue(queue, c.pid, true); err != nil {
		return -1, err
	}
	for i := range k.timers {
		t := &k.timers[i]
		if t.inUse {
			continue
		}
		*t = timer{pid: c.pid, queue: queue, msg: msg, inUse: true}
		k.arm(t, delay, period)
		return TimerID(i), nil
	}
	return -1, ErrTooMany
}

// RestartTimer re-arms a timer from the current time.
func (c *Context) RestartTimer(id TimerID, delay, period uint32) error {
	k := c.k
	state := k.critical()
	defer k.irq.Restore(state)

	t, err := k.lookupTimer(c, id)
	if err != nil {
		return err
	}
	if t.queue < 0 {
		// Its queue was destroyed.
		return ErrInvalidArg
	}
	k.arm(t, delay, period)
	return nil
}

// StopTimer disarms a timer without releasing it.
func (c *Context) StopTimer(id TimerID) error {
	k := c.k
	state := k.critical()
	defer k.irq.Restore(state)

	t, err := k.lookupTimer(c, id)
	if err != nil {
		return err
	}
	t.armed = false
	return nil
}

// DestroyTimer releases a timer.
func (c *Context) DestroyTimer(id TimerID) error {
	k := c.k
	state := k.critical()
	defer k.irq.Restore(state)

	t, err := k.lookupTimer(c, id)
	if err != nil {
		return err
	}
	*t = timer{}
	return nil
}

// TickTo is the timer interrupt: it advances the clock to tick seq and posts
// the message of every expired timer. Posting never blocks; a full queue
// loses the message.
func (k *Kernel) TickTo(seq uint64) {
	state := k.critical()
	defer k.irq.Restore(state)

	if seq <= k.tick {
		return
	}
	k.tick = seq
	now := k.now()
	for i := range k.timers {
		t := &k.timers[i]
		if !t.inUse || !t.armed || t.deadline > now {
			continue
		}
		if err := k.post(t.queue, t.msg); err != nil {
			k.logf("timer: drop id=%d queue=%d err=%v", i, t.queue, err)
		}
		if t.period == 0 {
			t.armed = false
			continue
		}
		// Missed periods collapse into one message; the next deadline is the
		// first period boundary after now.
		period := uint64(t.period)
		t.deadline += ((now-t.deadline)/period + 1) * period
	}
}

// detachTimers disarms the timers posting to a destroyed queue.
func (k *Kernel) detachTimers(id QueueID) {
	for i := range k.timers {
		t := &k.timers[i]
		if t.inUse && t.queue == id {
			t.queue = -1
			t.armed = false
		}
	}
}
