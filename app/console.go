package app

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"

	"github.com/buildkite/shellwords"

	"starlet/internal/buildinfo"
	"starlet/kernel"
)

var (
	errUnknownCommand = errors.New("unknown command")
	errUsage          = errors.New("usage")
)

type command struct {
	usage string
	help  string
	run   func(c *Console, args []string) error
}

// Console interprets monitor commands against a running system. It must be
// driven from the scheduler goroutine.
type Console struct {
	sys  *System
	out  io.Writer
	cmds map[string]command
}

func newConsole(sys *System, out io.Writer) *Console {
	return &Console{
		sys: sys,
		out: out,
		cmds: map[string]command{
			"help":    {"help", "list commands", (*Console).help},
			"ps":      {"ps", "list threads", (*Console).ps},
			"heaps":   {"heaps", "list heaps", (*Console).heaps},
			"queues":  {"queues", "list message queues", (*Console).queues},
			"timers":  {"timers", "list timers", (*Console).timers},
			"step":    {"step [n]", "run n scheduler steps", (*Console).step},
			"tick":    {"tick [n]", "deliver n timer ticks", (*Console).tick},
			"irq":     {"irq <device>", "raise a device interrupt", (*Console).irq},
			"kill":    {"kill <tid>", "cancel a thread", (*Console).kill},
			"version": {"version", "print the build", (*Console).version},
		},
	}
}

// Exec runs one command line.
func (c *Console) Exec(line string) error {
	args, err := shellwords.Split(line)
	if err != nil {
		return fmt.Errorf("parse: %w", err)
	}
	if len(args) == 0 {
		return nil
	}
	cmd, ok := c.cmds[args[0]]
	if !ok {
		return fmt.Errorf("%w: %s", errUnknownCommand, args[0])
	}
	if err := cmd.run(c, args[1:]); err != nil {
		if errors.Is(err, errUsage) {
			return fmt.Errorf("%w: %s", errUsage, cmd.usage)
		}
		return fmt.Errorf("%s: %w", args[0], err)
	}
	return nil
}

func (c *Console) printf(format string, args ...any) {
	fmt.Fprintf(c.out, format, args...)
}

func (c *Console) help(args []string) error {
	names := make([]string, 0, len(c.cmds))
	for name := range c.cmds {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		c.printf("%-14s %s\n", c.cmds[name].usage, c.cmds[name].help)
	}
	return nil
}

func (c *Console) ps(args []string) error {
	snap := c.sys.k.Snapshot()
	c.printf("%4s %4s %-8s %4s %4s %10s %10s\n", "TID", "PID", "STATE", "PRI", "INIT", "PC", "SP")
	for _, t := range snap.Threads {
		c.printf("%4d %4d %-8s %4d %4d 0x%08x 0x%08x\n", t.ID, t.PID, t.State, t.Priority, t.Initial, t.PC, t.SP)
	}
	return nil
}

func (c *Console) heaps(args []string) error {
	snap := c.sys.k.Snapshot()
	c.printf("%3s %4s %10s %8s %8s %8s %5s %5s %8s\n", "ID", "PID", "BASE", "SIZE", "FREE", "USED", "NFREE", "NUSED", "MAXALLOC")
	for _, h := range snap.Heaps {
		c.printf("%3d %4d 0x%08x %8d %8d %8d %5d %5d %8d\n",
			h.ID, h.PID, uint32(h.Base), h.Size, h.Free, h.Used, h.FreeBlocks, h.UsedBlocks, h.MaxAlloc)
	}
	return nil
}

func (c *Console) queues(args []string) error {
	snap := c.sys.k.Snapshot()
	c.printf("%3s %4s %10s %6s %6s %5s %5s\n", "ID", "PID", "BUF", "CAP", "USED", "SEND", "RECV")
	for _, q := range snap.Queues {
		c.printf("%3d %4d 0x%08x %6d %6d %5d %5d\n", q.ID, q.PID, uint32(q.Buffer), q.Capacity, q.Used, q.Senders, q.Receivers)
	}
	return nil
}

func (c *Console) timers(args []string) error {
	snap := c.sys.k.Snapshot()
	c.printf("now %dus\n", snap.Tick*kernel.TickMicros)
	c.printf("%3s %4s %5s %10s %12s %10s %5s\n", "ID", "PID", "QUEUE", "MSG", "DEADLINE", "PERIOD", "ARMED")
	for _, t := range snap.Timers {
		c.printf("%3d %4d %5d 0x%08x %12d %10d %5t\n", t.ID, t.PID, t.Queue, uint32(t.Message), t.Deadline, t.Period, t.Armed)
	}
	return nil
}

func optionalCount(args []string) (uint64, error) {
	switch len(args) {
	case 0:
		return 1, nil
	case 1:
		n, err := strconv.ParseUint(args[0], 0, 32)
		if err != nil {
			return 0, err
		}
		return n, nil
	default:
		return 0, errUsage
	}
}

func (c *Console) step(args []string) error {
	n, err := optionalCount(args)
	if err != nil {
		return err
	}
	ran := c.sys.k.RunUntilIdle(int(n))
	c.printf("ran %d steps\n", ran)
	return nil
}

func (c *Console) tick(args []string) error {
	n, err := optionalCount(args)
	if err != nil {
		return err
	}
	c.sys.advance(n)
	c.printf("tick %d\n", c.sys.k.Tick())
	return nil
}

func (c *Console) irq(args []string) error {
	if len(args) != 1 {
		return errUsage
	}
	dev, err := strconv.ParseUint(args[0], 0, 8)
	if err != nil {
		return err
	}
	if !c.sys.k.RaiseInterrupt(uint8(dev)) {
		c.printf("spurious interrupt %d\n", dev)
	}
	return nil
}

func (c *Console) kill(args []string) error {
	if len(args) != 1 {
		return errUsage
	}
	tid, err := strconv.ParseInt(args[0], 0, 32)
	if err != nil {
		return err
	}
	return c.sys.k.Context(kernel.KernelPID).CancelThread(kernel.ThreadID(tid), kernel.ErrInterrupted.Code())
}

func (c *Console) version(args []string) error {
	c.printf("%s\n", buildinfo.Describe())
	return nil
}
