package app

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"starlet/kernel"
)

func TestConsoleCommands(t *testing.T) {
	s, out := newTestSystem(t, true)
	s.Step()

	tests := []struct {
		line string
		want string
	}{
		{"help", "deliver n timer ticks"},
		{"ps", "STATE"},
		{"heaps", "MAXALLOC"},
		{"queues", "RECV"},
		{"timers", "ARMED"},
		{"step 3", "ran 3 steps"},
		{"tick", "tick 1"},
		{"tick 0x10", "tick 17"},
		{"irq 30", "spurious interrupt 30"},
		{"version", "starlet"},
	}
	for _, tt := range tests {
		out.Reset()
		if err := s.Console().Exec(tt.line); err != nil {
			t.Fatalf("Exec(%q) error = %v", tt.line, err)
		}
		if !strings.Contains(out.String(), tt.want) {
			t.Fatalf("Exec(%q) output = %q, want %q", tt.line, out.String(), tt.want)
		}
	}
}

func TestConsoleErrors(t *testing.T) {
	s, _ := newTestSystem(t, false)
	c := s.Console()

	if err := c.Exec("   "); err != nil {
		t.Fatalf("Exec(blank) error = %v", err)
	}
	if err := c.Exec("reboot now"); !errors.Is(err, errUnknownCommand) {
		t.Fatalf("Exec(reboot) error = %v, want %v", err, errUnknownCommand)
	}
	if err := c.Exec(`step "1" 2`); !errors.Is(err, errUsage) {
		t.Fatalf("Exec(step 1 2) error = %v, want %v", err, errUsage)
	}
	if err := c.Exec("irq"); !errors.Is(err, errUsage) {
		t.Fatalf("Exec(irq) error = %v, want %v", err, errUsage)
	}
	if err := c.Exec("irq 300"); err == nil {
		t.Fatalf("Exec(irq 300) error = nil, want range error")
	}
	if err := c.Exec("kill 99"); !errors.Is(err, kernel.ErrInvalidArg) {
		t.Fatalf("Exec(kill 99) error = %v, want %v", err, kernel.ErrInvalidArg)
	}
}

func TestConsoleKill(t *testing.T) {
	s, _ := newTestSystem(t, true)
	s.Step()
	p := s.module("churn")

	if err := s.Console().Exec(fmt.Sprintf("kill %d", p.main)); err != nil {
		t.Fatalf("Exec(kill) error = %v", err)
	}
	for _, th := range s.Kernel().Snapshot().Threads {
		if th.ID == p.main && th.State != kernel.ThreadDead {
			t.Fatalf("killed thread state = %v, want dead", th.State)
		}
	}
	// The slot stays until joined.
	ret, err := s.k.Context(kernel.KernelPID).JoinThread(p.main)
	if err != nil || ret != kernel.ErrInterrupted.Code() {
		t.Fatalf("JoinThread() = %d, %v, want %d, nil", ret, err, kernel.ErrInterrupted.Code())
	}
}

func TestConsoleDrainsCommandChannel(t *testing.T) {
	lines := make(chan string, 2)
	s, out := newTestSystem(t, false)
	s.cfg.Commands = lines

	lines <- "version"
	lines <- "bogus"
	close(lines)
	if err := s.Step(); err != nil {
		t.Fatalf("Step() error = %v", err)
	}
	if !strings.Contains(out.String(), "starlet") || !strings.Contains(out.String(), "unknown command") {
		t.Fatalf("output = %q", out.String())
	}
	if s.cfg.Commands != nil {
		t.Fatalf("closed command channel still polled")
	}
}
