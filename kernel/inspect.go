package kernel

import "starlet/hal"

// ThreadSnapshot is the monitor view of one thread.
type ThreadSnapshot struct {
	ID       ThreadID
	PID      ProcessID
	State    ThreadState
	Priority uint8
	Initial  uint8
	Detached bool
	PC       uint32
	SP       uint32
}

// QueueSnapshot is the monitor view of one message queue.
type QueueSnapshot struct {
	ID        QueueID
	PID       ProcessID
	Buffer    hal.Addr
	Capacity  uint32
	Used      uint32
	Senders   int
	Receivers int
}

// TimerSnapshot is the monitor view of one timer.
type TimerSnapshot struct {
	ID       TimerID
	PID      ProcessID
	Queue    QueueID
	Message  Message
	Deadline uint64
	Period   uint32
	Armed    bool
}

// Snapshot is a consistent copy of the kernel tables.
type Snapshot struct {
	Tick     uint64
	Spurious uint64
	Current  ThreadID
	Threads  []ThreadSnapshot
	Heaps    []HeapStats
	Queues   []QueueSnapshot
	Timers   []TimerSnapshot
}

// Snapshot copies every live table entry.
func (k *Kernel) Snapshot() Snapshot {
	state := k.critical()
	defer k.irq.Restore(state)

	s := Snapshot{Tick: k.tick, Spurious: k.spurious, Current: k.current.id()}
	for i := range k.threads {
		t := &k.threads[i]
		if !t.inUse {
			continue
		}
		s.Threads = append(s.Threads, ThreadSnapshot{
			ID:       ThreadID(i),
			PID:      t.pid,
			State:    t.state,
			Priority: t.priority,
			Initial:  t.initialPriority,
			Detached: t.detached,
			PC:       t.regs.PC,
			SP:       t.regs.SP,
		})
	}
	for i := range k.heaps {
		h := &k.heaps[i]
		if h.inUse() {
			s.Heaps = append(s.Heaps, k.heapStats(HeapID(i), h))
		}
	}
	for i := range k.queues {
		q := &k.queues[i]
		if !q.inUse() {
			continue
		}
		s.Queues = append(s.Queues, QueueSnapshot{
			ID:        QueueID(i),
			PID:       q.pid,
			Buffer:    q.buf,
			Capacity:  q.capacity,
			Used:      q.used,
			Senders:   k.queueLen(&q.senders),
			Receivers: k.queueLen(&q.receivers),
		})
	}
	for i := range k.timers {
		t := &k.timers[i]
		if !t.inUse {
			continue
		}
		s.Timers = append(s.Timers, TimerSnapshot{
			ID:       TimerID(i),
			PID:      t.pid,
			Queue:    t.queue,
			Message:  t.msg,
			Deadline: t.deadline,
			Period:   t.period,
			Armed:    t.armed,
		})
	}
	return s
}
