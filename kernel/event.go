package kernel

// eventHandler routes a device interrupt to a message queue.
type eventHandler struct {
	pid   ProcessID
	queue QueueID
	msg   Message
	inUse bool
}

// RegisterEventHandler makes interrupts of device post msg to queue, which
// the caller must own. A device already taken by another process fails with
// ErrExists; the owner may re-register it.
func (c *Context) RegisterEventHandler(device uint8, queue QueueID, msg Message) error {
	k := c.k
	state := k.critical()
	defer k.irq.Restore(state)

	if int(device) >= MaxEvents {
		return ErrInvalidArg
	}
	if _, err := k.messageQueue(queue, c.pid, true); err != nil {
		return err
	}
	e := &k.events[device]
	if e.inUse && e.pid != c.pid {
		return ErrExists
	}
	*e = eventHandler{pid: c.pid, queue: queue, msg: msg, inUse: true}
	return nil
}

// UnregisterEventHandler removes the caller's handler for device.
func (c *Context) UnregisterEventHandler(device uint8) error {
	k := c.k
	state := k.critical()
	defer k.irq.Restore(state)

	if int(device) >= MaxEvents {
		return ErrInvalidArg
	}
	e := &k.events[device]
	if !e.inUse {
		return ErrNotFound
	}
	if e.pid != c.pid && c.pid != KernelPID {
		return ErrAccessDenied
	}
	*e = eventHandler{}
	return nil
}

// RaiseInterrupt delivers a device interrupt. It reports whether a handler
// took it; other interrupts are counted as spurious.
func (k *Kernel) RaiseInterrupt(device uint8) bool {
	state := k.critical()
	defer k.irq.Restore(state)

	if int(device) >= MaxEvents || !k.events[device].inUse {
		k.spurious++
		return false
	}
	e := &k.events[device]
	if err := k.post(e.queue, e.msg); err != nil {
		k.logf("event: drop device=%d queue=%d err=%v", device, e.queue, err)
	}
	return true
}

// Spurious returns the number of interrupts nobody handled.
func (k *Kernel) Spurious() uint64 {
	state := k.critical()
	defer k.irq.Restore(state)
	return k.spurious
}

func (k *Kernel) detachEvents(id QueueID) {
	for i := range k.events {
		if k.events[i].inUse && k.events[i].queue == id {
			k.events[i] = eventHandler{}
		}
	}
}
