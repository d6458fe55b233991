package kernel

import "starlet/hal"

// ThreadID indexes the thread table.
type ThreadID int32

// NoThread is returned where there is no thread, e.g. by Context.TID in an
// interrupt handler.
const NoThread ThreadID = -1

// MaxPriority is the highest thread priority. Larger values run first.
const MaxPriority = 0x7F

// ThreadExitTrampoline is loaded into LR so that returning from the entry
// point exits the thread.
const ThreadExitTrampoline hal.Addr = 0xFFFF0000

// ThreadState is the scheduler state of a thread.
type ThreadState uint8

const (
	ThreadDead ThreadState = iota
	ThreadReady
	ThreadRunning
	ThreadStopped
	ThreadWaiting
	ThreadFaulted
)

func (s ThreadState) String() string {
	switch s {
	case ThreadDead:
		return "dead"
	case ThreadReady:
		return "ready"
	case ThreadRunning:
		return "running"
	case ThreadStopped:
		return "stopped"
	case ThreadWaiting:
		return "waiting"
	case ThreadFaulted:
		return "faulted"
	default:
		return "unknown"
	}
}

// CPSR bits used when building an initial context.
const (
	psrModeUser   = 0x10
	psrModeSystem = 0x1F
	psrThumb      = 0x20
)

// ThreadContext is the register frame pushed and popped by the exception
// entry and exit code. Field order and size are fixed: CPSR at 0x00, R0-R12
// at 0x04, SP at 0x38, LR at 0x3C, PC at 0x40, 0x44 bytes in total.
type ThreadContext struct {
	CPSR uint32
	R    [13]uint32
	SP   uint32
	LR   uint32
	PC   uint32
}

// Routine is the host code found at a thread's entry point. The scheduler
// calls Step each time it dispatches the thread; a step runs until the thread
// yields, blocks, exits or simply returns at the end of its quantum. A call
// that returns ErrBlocked has parked the thread: Step must return, and the
// call is issued again when the thread next runs.
type Routine interface {
	Step(*Context)
}

// RoutineFunc adapts a function to Routine.
type RoutineFunc func(*Context)

func (f RoutineFunc) Step(c *Context) { f(c) }

// Entry is a thread entry point: the address loaded into PC and the routine
// that executes the code found there.
type Entry struct {
	PC      hal.Addr
	Routine Routine
}

// threadLink is a thread index plus one; zero links nothing.
type threadLink uint16

const maxThreadLinks = 0xFFFE

func linkOf(id ThreadID) threadLink { return threadLink(id + 1) }

func (l threadLink) id() ThreadID {
	if l == 0 {
		return NoThread
	}
	return ThreadID(l) - 1
}

// ThreadQueue is a FIFO of threads linked through the threads themselves. A
// thread is on at most one queue at a time. The zero value is empty.
type ThreadQueue struct {
	head, tail threadLink
}

// Empty reports whether no thread is queued.
func (q *ThreadQueue) Empty() bool { return q.head == 0 }

type threadInfo struct {
	regs  ThreadContext
	state ThreadState
	pid   ProcessID

	initialPriority uint8
	priority        uint8

	joiners ThreadQueue
	next    threadLink
	queue   *ThreadQueue

	detached bool
	retval   int32

	stackBase hal.Addr
	stackTop  hal.Addr
	routine   Routine

	// Value handed over by UnblockThread, consumed by the resumed call.
	wake  int32
	woken bool

	inUse bool
}

func (k *Kernel) thread(l threadLink) *threadInfo {
	return &k.threads[l-1]
}

// enqueue appends l at the tail of q.
func (k *Kernel) enqueue(q *ThreadQueue, l threadLink) {
	k.assertCritical()
	t := k.thread(l)
	t.next = 0
	t.queue = q
	if q.tail == 0 {
		q.head = l
	} else {
		k.thread(q.tail).next = l
	}
	q.tail = l
}

// enqueueByPriority inserts l behind every thread of the same or higher
// priority, which gives round-robin among equals.
func (k *Kernel) enqueueByPriority(q *ThreadQueue, l threadLink) {
	k.assertCritical()
	t := k.thread(l)
	t.queue = q

	var prev threadLink
	cur := q.head
	for cur != 0 && k.thread(cur).priority >= t.priority {
		prev = cur
		cur = k.thread(cur).next
	}
	t.next = cur
	if prev == 0 {
		q.head = l
	} else {
		k.thread(prev).next = l
	}
	if cur == 0 {
		q.tail = l
	}
}

// dequeue pops the head of q, or returns zero when q is empty.
func (k *Kernel) dequeue(q *ThreadQueue) threadLink {
	k.assertCritical()
	l := q.head
	if l == 0 {
		return 0
	}
	t := k.thread(l)
	q.head = t.next
	if q.head == 0 {
		q.tail = 0
	}
	t.next = 0
	t.queue = nil
	return l
}

// remove unlinks l from q.
func (k *Kernel) remove(q *ThreadQueue, l threadLink) bool {
	k.assertCritical()
	var prev threadLink
	for cur := q.head; cur != 0; prev, cur = cur, k.thread(cur).next {
		if cur != l {
			continue
		}
		t := k.thread(cur)
		if prev == 0 {
			q.head = t.next
		} else {
			k.thread(prev).next = t.next
		}
		if q.tail == cur {
			q.tail = prev
		}
		t.next = 0
		t.queue = nil
		return true
	}
	return false
}

// unblock moves the head of q to the ready queue with value as the result of
// the call it blocked in.
func (k *Kernel) unblock(q *ThreadQueue, value int32) bool {
	l := k.dequeue(q)
	if l == 0 {
		return false
	}
	t := k.thread(l)
	t.wake = value
	t.woken = true
	t.state = ThreadReady
	k.enqueueByPriority(&k.ready, l)
	return true
}

func (k *Kernel) unblockAll(q *ThreadQueue, value int32) int {
	n := 0
	for k.unblock(q, value) {
		n++
	}
	return n
}

// queueLen counts the threads on q.
func (k *Kernel) queueLen(q *ThreadQueue) int {
	n := 0
	for l := q.head; l != 0; l = k.thread(l).next {
		n++
	}
	return n
}
