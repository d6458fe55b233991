package app

import (
	"bytes"
	"io"
	"testing"

	"starlet/hal"
	"starlet/kernel"
	"starlet/modules/churn"
	"starlet/modules/heartbeat"
	"starlet/modules/joiner"
	"starlet/modules/pingpong"
)

func newTestSystem(t *testing.T, demo bool) (*System, *bytes.Buffer) {
	t.Helper()
	var out bytes.Buffer
	h := hal.NewHost(hal.HostConfig{Log: io.Discard})
	s, err := New(h, Config{Demo: demo, Out: &out})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return s, &out
}

func (s *System) module(name string) *process {
	for _, p := range s.procs {
		if p.spec.name == name {
			return p
		}
	}
	return nil
}

func TestBootWithoutModules(t *testing.T) {
	s, _ := newTestSystem(t, false)
	snap := s.Kernel().Snapshot()
	if len(snap.Heaps) != 1 || snap.Heaps[0].PID != kernel.KernelPID {
		t.Fatalf("heaps = %+v, want the kernel heap only", snap.Heaps)
	}
	if len(snap.Threads) != 0 {
		t.Fatalf("threads = %+v, want none", snap.Threads)
	}
	if err := s.Step(); err != nil {
		t.Fatalf("Step() error = %v", err)
	}
}

func TestBootRAMTooSmall(t *testing.T) {
	h := hal.NewHost(hal.HostConfig{Log: io.Discard, RAMSize: 0x80000})
	if _, err := New(h, Config{Demo: true, Out: io.Discard}); err == nil {
		t.Fatalf("New() with 512KiB of RAM error = nil, want error")
	}
}

func TestDemoModulesRun(t *testing.T) {
	s, _ := newTestSystem(t, true)

	snap := s.Kernel().Snapshot()
	if got, want := len(snap.Heaps), 5; got != want {
		t.Fatalf("heaps = %d, want %d", got, want)
	}
	for _, p := range s.procs {
		uid, err := s.k.Context(p.spec.pid).GetUID()
		if err != nil || uid != p.spec.uid {
			t.Fatalf("%s: GetUID() = %#x, %v, want %#x", p.spec.name, uid, err, p.spec.uid)
		}
	}

	for i := 0; i < 50; i++ {
		if err := s.Step(); err != nil {
			t.Fatalf("Step() error = %v", err)
		}
	}
	if err := s.Console().Exec("tick 1000"); err != nil {
		t.Fatalf("Exec(tick) error = %v", err)
	}
	for i := 0; i < 50; i++ {
		if err := s.Step(); err != nil {
			t.Fatalf("Step() error = %v", err)
		}
	}

	pp := s.module("pingpong").routine.(*pingpong.Pinger)
	if pp.Received() == 0 || pp.Sent() < pp.Received() {
		t.Fatalf("pingpong sent %d received %d", pp.Sent(), pp.Received())
	}
	hb := s.module("heartbeat").routine.(*heartbeat.Task)
	if hb.Beats() != 1 {
		t.Fatalf("heartbeat beats = %d, want 1", hb.Beats())
	}
	ch := s.module("churn").routine.(*churn.Task)
	if ch.Ops() == 0 {
		t.Fatalf("churn made no heap calls")
	}
	jn := s.module("joiner").routine.(*joiner.Task)
	if jn.Rounds() < 2 {
		t.Fatalf("joiner rounds = %d, want at least 2", jn.Rounds())
	}
	if len(s.Faults()) != 0 {
		t.Fatalf("faults = %+v", s.Faults())
	}

	for _, h := range s.Kernel().Snapshot().Heaps {
		if h.Free+h.Used != h.Size {
			t.Fatalf("heap %d: free %d + used %d != size %d", h.ID, h.Free, h.Used, h.Size)
		}
	}
}

func TestHeartbeatInterrupt(t *testing.T) {
	s, out := newTestSystem(t, true)
	s.Step()

	if err := s.Console().Exec("irq 1"); err != nil {
		t.Fatalf("Exec(irq 1) error = %v", err)
	}
	s.Step()
	hb := s.module("heartbeat").routine.(*heartbeat.Task)
	if hb.IRQs() != 1 {
		t.Fatalf("heartbeat irqs = %d, want 1", hb.IRQs())
	}
	if out.Len() != 0 {
		t.Fatalf("unexpected console output %q", out.String())
	}
}

func TestThreadFaultRecorded(t *testing.T) {
	s, _ := newTestSystem(t, false)
	crash := moduleSpec{
		name: "crash", pid: 7, priority: 10, entry: 0x20000000,
		routine: func(hal.Logger, kernel.HeapID) kernel.Routine {
			return kernel.RoutineFunc(func(*kernel.Context) { panic("bad module") })
		},
	}
	p, err := s.load(s.k.Context(kernel.KernelPID), crash, s.h.Memory().Base()+kernelArena)
	if err != nil {
		t.Fatalf("load() error = %v", err)
	}
	s.Step()

	faults := s.Faults()
	if len(faults) != 1 || faults[0].Thread != p.main || faults[0].Value != "bad module" {
		t.Fatalf("Faults() = %+v", faults)
	}
}

func TestMonitorDraws(t *testing.T) {
	s, _ := newTestSystem(t, true)
	if s.monitor == nil {
		t.Fatalf("monitor not created")
	}
	fb := s.h.Display().Framebuffer()

	s.Step()
	bg := hal.RGB565(colorBG.R, colorBG.G, colorBG.B)
	lit := 0
	buf := fb.Buffer()
	for i := 0; i+1 < len(buf); i += 2 {
		if uint16(buf[i])|uint16(buf[i+1])<<8 != bg {
			lit++
		}
	}
	if lit == 0 {
		t.Fatalf("monitor drew nothing")
	}

	for _, k := range []hal.KeyCode{hal.KeyF2, hal.KeyF3, hal.KeyDown, hal.KeyUp, hal.KeyF1} {
		s.monitor.key(k)
		if err := s.monitor.draw(s); err != nil {
			t.Fatalf("draw() after key %d error = %v", k, err)
		}
	}
	if s.monitor.page != pageThreads || s.monitor.scroll != 0 {
		t.Fatalf("page = %d scroll = %d, want threads page at top", s.monitor.page, s.monitor.scroll)
	}
}
