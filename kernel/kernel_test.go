package kernel

import (
	"io"
	"testing"

	"starlet/hal"
)

// testSystem is a kernel on a host HAL with a bump allocator for stacks and
// queue buffers above the first megabyte of RAM.
type testSystem struct {
	h    hal.HAL
	k    *Kernel
	next hal.Addr
}

func newTestSystem(t *testing.T) *testSystem {
	t.Helper()
	h := hal.NewHost(hal.HostConfig{Log: io.Discard})
	return &testSystem{
		h:    h,
		k:    New(h, Config{MaxThreads: 16}),
		next: h.Memory().Base() + 0x100000,
	}
}

func (s *testSystem) alloc(n uint32) hal.Addr {
	p := s.next
	s.next += hal.Addr(alignUp(n, 0x100))
	return p
}

// grant maps [base, base+size) read-write for pid.
func (s *testSystem) grant(t *testing.T, pid ProcessID, base hal.Addr, size uint32) {
	t.Helper()
	err := s.h.Protection().MapRegion(hal.Region{Name: "test", Base: base, Size: size, PID: uint32(pid), Access: hal.AccessReadWrite})
	if err != nil {
		t.Fatalf("MapRegion() error = %v", err)
	}
}

// spawn creates and starts a kernel thread running fn.
func (s *testSystem) spawn(t *testing.T, priority uint8, detached bool, fn func(*Context)) ThreadID {
	t.Helper()
	const stackSize = 0x400
	top := s.alloc(stackSize) + stackSize
	c := s.k.Context(KernelPID)
	id, err := c.CreateThread(Entry{PC: 0x20100000, Routine: RoutineFunc(fn)}, 0, top, stackSize, priority, detached)
	if err != nil {
		t.Fatalf("CreateThread() error = %v", err)
	}
	if err := c.StartThread(id); err != nil {
		t.Fatalf("StartThread(%d) error = %v", id, err)
	}
	return id
}

func (s *testSystem) threadState(id ThreadID) ThreadState {
	for _, th := range s.k.Snapshot().Threads {
		if th.ID == id {
			return th.State
		}
	}
	return ThreadDead
}

func TestNewDefaults(t *testing.T) {
	k := New(hal.NewHost(hal.HostConfig{Log: io.Discard}), Config{})
	if got, want := k.MaxThreads(), DefaultMaxThreads; got != want {
		t.Fatalf("MaxThreads() = %d, want %d", got, want)
	}
	if k.Current() != NoThread {
		t.Fatalf("Current() = %d, want NoThread", k.Current())
	}
	if k.Step() {
		t.Fatalf("Step() = true on an idle kernel")
	}
}

func TestInterruptsRestoredAfterCalls(t *testing.T) {
	s := newTestSystem(t)
	c := s.k.Context(KernelPID)

	_, _ = c.CreateHeap(0, 0)
	_, _ = c.ReceiveMessage(3, 0, MsgNonBlocking)
	s.k.TickTo(1)
	s.k.RaiseInterrupt(40)

	if !s.h.Interrupts().Enabled() {
		t.Fatalf("interrupts left disabled")
	}
}

func TestProcessCredentials(t *testing.T) {
	s := newTestSystem(t)

	if err := s.k.Context(2).SetUID(3, 1000); err != ErrAccessDenied {
		t.Fatalf("SetUID() from pid 2 error = %v, want %v", err, ErrAccessDenied)
	}
	if err := s.k.Context(KernelPID).SetUID(3, 1000); err != nil {
		t.Fatalf("SetUID() error = %v", err)
	}
	if err := s.k.Context(ESPID).SetGID(3, 77); err != nil {
		t.Fatalf("SetGID() error = %v", err)
	}
	if err := s.k.Context(KernelPID).SetGID(MaxProcesses, 1); err != ErrInvalidArg {
		t.Fatalf("SetGID(MaxProcesses) error = %v, want %v", err, ErrInvalidArg)
	}

	c := s.k.Context(3)
	if uid, err := c.GetUID(); err != nil || uid != 1000 {
		t.Fatalf("GetUID() = %d, %v, want 1000, nil", uid, err)
	}
	if gid, err := c.GetGID(); err != nil || gid != 77 {
		t.Fatalf("GetGID() = %d, %v, want 77, nil", gid, err)
	}
}
