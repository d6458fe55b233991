package kernel

import "starlet/hal"

// MaxQueueCapacity bounds the number of slots of one message queue.
const MaxQueueCapacity = 0x4000

// QueueID indexes the message queue table.
type QueueID int32

// Message is an opaque 32-bit value, usually a pointer into the sender's
// memory.
type Message uint32

// MsgFlags select blocking behavior.
type MsgFlags uint32

const (
	// MsgBlock lets the call wait for room or data.
	MsgBlock MsgFlags = 0
	// MsgNonBlocking fails with ErrQueueFull or ErrQueueEmpty instead.
	MsgNonBlocking MsgFlags = 1
)

// messageQueue is a ring of message words in memory supplied by the owner.
// The slot is free while capacity is zero.
type messageQueue struct {
	senders   ThreadQueue
	receivers ThreadQueue

	pid      ProcessID
	buf      hal.Addr
	capacity uint32
	used     uint32
	first    uint32
}

func (q *messageQueue) inUse() bool { return q.capacity != 0 }

func (q *messageQueue) slot(i uint32) hal.Addr {
	return q.buf + hal.Addr(i*4)
}

func (k *Kernel) messageQueue(id QueueID, pid ProcessID, checkOwner bool) (*messageQueue, error) {
	if id < 0 || int(id) >= MaxMessageQueues {
		return nil, ErrInvalidArg
	}
	q := &k.queues[id]
	if !q.inUse() {
		return nil, ErrInvalidArg
	}
	if checkOwner && q.pid != pid {
		return nil, ErrAccessDenied
	}
	return q, nil
}

// CreateMessageQueue makes a queue of capacity messages stored at buf, which
// the caller owns and must keep until the queue is destroyed.
func (c *Context) CreateMessageQueue(buf hal.Addr, capacity uint32) (QueueID, error) {
	k := c.k
	state := k.critical()
	defer k.irq.Restore(state)

	if capacity == 0 || capacity > MaxQueueCapacity || buf == 0 {
		return -1, ErrInvalidArg
	}
	if err := k.prot.CheckMemoryPointer(buf, capacity*4, 4, uint32(c.pid), hal.AccessReadWrite); err != nil {
		return -1, ErrInvalidArg
	}
	for i := range k.queues {
		q := &k.queues[i]
		if q.inUse() {
			continue
		}
		*q = messageQueue{pid: c.pid, buf: buf, capacity: capacity}
		return QueueID(i), nil
	}
	return -1, ErrTooMany
}

// DestroyMessageQueue wakes every waiting sender and receiver with
// ErrInterrupted and frees the slot.
func (c *Context) DestroyMessageQueue(id QueueID) error {
	return c.k.destroyMessageQueue(c, id, true)
}

// DestroyMessageQueueUnsafe is DestroyMessageQueue without the ownership
// check.
func (c *Context) DestroyMessageQueueUnsafe(id QueueID) error {
	return c.k.destroyMessageQueue(c, id, false)
}

func (k *Kernel) destroyMessageQueue(c *Context, id QueueID, checkOwner bool) error {
	state := k.critical()
	defer k.irq.Restore(state)

	q, err := k.messageQueue(id, c.pid, checkOwner)
	if err != nil {
		return err
	}
	woken := k.unblockAll(&q.senders, int32(ErrInterrupted))
	woken += k.unblockAll(&q.receivers, int32(ErrInterrupted))
	if woken > 0 {
		k.logf("mqueue: destroy id=%d woke=%d", id, woken)
	}
	k.detachTimers(id)
	k.detachEvents(id)
	*q = messageQueue{}
	return nil
}

// SendMessage appends msg. A full queue blocks the caller unless flags is
// MsgNonBlocking.
func (c *Context) SendMessage(id QueueID, msg Message, flags MsgFlags) error {
	return c.k.sendMessage(c, id, msg, flags, false, true)
}

// SendMessageUnsafe is SendMessage without the ownership check.
func (c *Context) SendMessageUnsafe(id QueueID, msg Message, flags MsgFlags) error {
	return c.k.sendMessage(c, id, msg, flags, false, false)
}

// JamMessage puts msg in front of every queued message.
func (c *Context) JamMessage(id QueueID, msg Message, flags MsgFlags) error {
	return c.k.sendMessage(c, id, msg, flags, true, true)
}

// JamMessageUnsafe is JamMessage without the ownership check.
func (c *Context) JamMessageUnsafe(id QueueID, msg Message, flags MsgFlags) error {
	return c.k.sendMessage(c, id, msg, flags, true, false)
}

func (k *Kernel) sendMessage(c *Context, id QueueID, msg Message, flags MsgFlags, jam, checkOwner bool) error {
	state := k.critical()
	defer k.irq.Restore(state)

	if err := c.resume(); err != nil {
		return err
	}
	if flags > MsgNonBlocking {
		return ErrInvalidArg
	}
	q, err := k.messageQueue(id, c.pid, checkOwner)
	if err != nil {
		return err
	}
	// A woken sender comes back through here and tests again: another
	// sender may have taken the slot first.
	if q.used == q.capacity {
		if flags == MsgNonBlocking || c.thread == 0 {
			return ErrQueueFull
		}
		return k.park(c, &q.senders)
	}

	var i uint32
	if jam {
		q.first = (q.first + q.capacity - 1) % q.capacity
		i = q.first
	} else {
		i = (q.first + q.used) % q.capacity
	}
	addr := q.slot(i)
	k.mem.Store32(addr, uint32(msg))
	k.cache.FlushRange(addr, 4)
	q.used++

	k.unblock(&q.receivers, 0)
	return nil
}

// ReceiveMessage takes the oldest message. An empty queue blocks the caller
// unless flags is MsgNonBlocking. When out is not zero the message is also
// stored there; out must be writable by the caller.
func (c *Context) ReceiveMessage(id QueueID, out hal.Addr, flags MsgFlags) (Message, error) {
	return c.k.receiveMessage(c, id, out, flags, true)
}

// ReceiveMessageUnsafe is ReceiveMessage without the ownership check.
func (c *Context) ReceiveMessageUnsafe(id QueueID, out hal.Addr, flags MsgFlags) (Message, error) {
	return c.k.receiveMessage(c, id, out, flags, false)
}

func (k *Kernel) receiveMessage(c *Context, id QueueID, out hal.Addr, flags MsgFlags, checkOwner bool) (Message, error) {
	state := k.critical()
	defer k.irq.Restore(state)

	if err := c.resume(); err != nil {
		return 0, err
	}
	if flags > MsgNonBlocking {
		return 0, ErrInvalidArg
	}
	q, err := k.messageQueue(id, c.pid, checkOwner)
	if err != nil {
		return 0, err
	}
	if out != 0 {
		if err := k.prot.CheckMemoryPointer(out, 4, 4, uint32(c.pid), hal.AccessWrite); err != nil {
			return 0, ErrInvalidArg
		}
	}
	// A woken receiver comes back through here and tests again.
	if q.used == 0 {
		if flags == MsgNonBlocking || c.thread == 0 {
			return 0, ErrQueueEmpty
		}
		return 0, k.park(c, &q.receivers)
	}

	addr := q.slot(q.first)
	k.cache.InvalidateRange(addr, 4)
	msg := Message(k.mem.Load32(addr))
	q.first = (q.first + 1) % q.capacity
	q.used--

	if out != 0 {
		dacr := k.prot.SetDomainAccessControlRegister(hal.DACRClient)
		k.mem.Store32(out, uint32(msg))
		k.prot.SetDomainAccessControlRegister(dacr)
		k.cache.FlushRange(out, 4)
	}

	k.unblock(&q.senders, 0)
	return msg, nil
}

// post delivers msg from interrupt context: no owner, never blocks.
func (k *Kernel) post(id QueueID, msg Message) error {
	c := Context{k: k, pid: KernelPID}
	return k.sendMessage(&c, id, msg, MsgNonBlocking, false, false)
}
