package kernel

import (
	"fmt"

	"starlet/debug"
	"starlet/hal"
)

const (
	MaxHeaps          = 16
	MaxMessageQueues  = 256
	MaxTimers         = 256
	MaxEvents         = 32
	MaxProcesses      = 24
	DefaultMaxThreads = 100
)

// ProcessID identifies an isolation domain.
type ProcessID uint32

const (
	KernelPID ProcessID = 0
	ESPID     ProcessID = 1
)

// Config sizes the kernel tables. Zero values take the defaults.
type Config struct {
	MaxThreads int
}

// Kernel is the IOS core: heap, thread and message queue tables plus the
// scheduler. All table updates happen with interrupts disabled.
type Kernel struct {
	log   hal.Logger
	irq   hal.Interrupts
	mem   hal.Memory
	cache hal.Cache
	prot  hal.Protection

	heaps [MaxHeaps]heapInfo

	threads []threadInfo
	ready   ThreadQueue
	current threadLink

	queues [MaxMessageQueues]messageQueue
	timers [MaxTimers]timer
	events [MaxEvents]eventHandler
	procs  [MaxProcesses]processInfo

	tick     uint64
	spurious uint64

	onFault func(FaultInfo)
}

// New creates a kernel on top of h.
func New(h hal.HAL, cfg Config) *Kernel {
	if cfg.MaxThreads <= 0 {
		cfg.MaxThreads = DefaultMaxThreads
	}
	if cfg.MaxThreads > maxThreadLinks {
		cfg.MaxThreads = maxThreadLinks
	}
	return &Kernel{
		log:     h.Logger(),
		irq:     h.Interrupts(),
		mem:     h.Memory(),
		cache:   h.Cache(),
		prot:    h.Protection(),
		threads: make([]threadInfo, cfg.MaxThreads),
	}
}

// MaxThreads returns the thread table capacity.
func (k *Kernel) MaxThreads() int { return len(k.threads) }

// Memory returns the physical memory the kernel manages.
func (k *Kernel) Memory() hal.Memory { return k.mem }

// Context returns a calling context that is not a thread, used by boot code
// and interrupt handlers acting for pid. Calls that would block fail instead.
func (k *Kernel) Context(pid ProcessID) *Context {
	return &Context{k: k, pid: pid}
}

func (k *Kernel) logf(format string, args ...any) {
	if k.log == nil {
		return
	}
	k.log.WriteLineString(fmt.Sprintf(format, args...))
}

// critical masks interrupts; the caller restores the returned state.
func (k *Kernel) critical() hal.IRQState {
	return k.irq.Disable()
}

func (k *Kernel) assertCritical() {
	debug.Assert(!k.irq.Enabled(), "kernel table touched with interrupts enabled")
}
