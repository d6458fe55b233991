package app

import (
	"fmt"
	"io"
	"os"

	"starlet/hal"
	"starlet/kernel"
)

// Config selects what the system boots and how fast it runs.
type Config struct {
	// Demo loads the demo modules.
	Demo bool
	// StepsPerFrame bounds the scheduler steps run per host frame.
	StepsPerFrame int
	MaxThreads    int
	// Commands carries console lines into the scheduler loop.
	Commands <-chan string
	// Out receives console output.
	Out io.Writer
}

// System is a booted kernel plus its host-side tooling.
type System struct {
	h   hal.HAL
	k   *kernel.Kernel
	cfg Config
	out io.Writer

	procs   []*process
	console *Console
	monitor *monitor

	// Manual ticks from the console are added on top of host time.
	hostTick   uint64
	tickOffset uint64

	frames uint64
	faults []kernel.FaultInfo
}

// New boots the kernel on h.
func New(h hal.HAL, cfg Config) (*System, error) {
	if cfg.StepsPerFrame <= 0 {
		cfg.StepsPerFrame = 64
	}
	if cfg.Out == nil {
		cfg.Out = os.Stdout
	}

	s := &System{
		h:   h,
		k:   kernel.New(h, kernel.Config{MaxThreads: cfg.MaxThreads}),
		cfg: cfg,
		out: cfg.Out,
	}
	s.installFaultHandler()
	s.console = newConsole(s, cfg.Out)

	if err := s.boot(defaultLayout(cfg.Demo)); err != nil {
		return nil, fmt.Errorf("boot: %w", err)
	}
	if d := h.Display(); d != nil {
		if fb := d.Framebuffer(); fb != nil {
			m, err := newMonitor(fb)
			if err != nil {
				return nil, fmt.Errorf("monitor: %w", err)
			}
			s.monitor = m
		}
	}
	return s, nil
}

// Kernel returns the booted kernel.
func (s *System) Kernel() *kernel.Kernel { return s.k }

// Console returns the command interpreter.
func (s *System) Console() *Console { return s.console }

// Step runs one host frame: timer interrupts, a batch of scheduler steps,
// pending console commands, keyboard input and a monitor redraw.
func (s *System) Step() error {
	s.frames++
	s.drainTicks()
	s.k.RunUntilIdle(s.cfg.StepsPerFrame)
	s.drainCommands()
	s.drainKeys()
	if s.monitor != nil {
		if err := s.monitor.draw(s); err != nil {
			return fmt.Errorf("monitor: %w", err)
		}
	}
	return nil
}

func (s *System) drainTicks() {
	t := s.h.Time()
	if t == nil {
		return
	}
	ch := t.Ticks()
	if ch == nil {
		return
	}
	for {
		select {
		case seq := <-ch:
			s.hostTick = seq
		default:
			s.k.TickTo(s.hostTick + s.tickOffset)
			return
		}
	}
}

// advance delivers n extra ticks at once.
func (s *System) advance(n uint64) {
	s.tickOffset += n
	s.k.TickTo(s.hostTick + s.tickOffset)
}

func (s *System) drainCommands() {
	if s.cfg.Commands == nil {
		return
	}
	for {
		select {
		case line, ok := <-s.cfg.Commands:
			if !ok {
				s.cfg.Commands = nil
				return
			}
			if err := s.console.Exec(line); err != nil {
				fmt.Fprintf(s.out, "error: %v\n", err)
			}
		default:
			return
		}
	}
}

func (s *System) drainKeys() {
	in := s.h.Input()
	if in == nil || s.monitor == nil {
		return
	}
	kbd := in.Keyboard()
	if kbd == nil {
		return
	}
	for {
		select {
		case ev := <-kbd.Events():
			if ev.Press {
				s.monitor.key(ev.Code)
			}
		default:
			return
		}
	}
}
