//go:build !tinygo

package hal

import (
	"fmt"
	"io"
	"os"
	"sync"
)

// Default host RAM: a slice of MEM2 large enough for the kernel and a few
// modules.
const (
	DefaultRAMBase Addr   = 0x13400000
	DefaultRAMSize uint32 = 4 << 20
)

// HostConfig selects the simulated machine.
type HostConfig struct {
	RAMBase Addr
	RAMSize uint32
	Log     io.Writer

	FramebufferWidth  int
	FramebufferHeight int
}

type hostHAL struct {
	logger *hostLogger
	irq    *hostInterrupts
	mem    *hostMemory
	cache  *hostCache
	prot   *hostProtection
	fb     *hostFramebuffer
	kbd    *hostKeyboard
	t      *hostTime
}

// New returns a host HAL with the default machine.
func New() HAL {
	return NewHost(HostConfig{})
}

// NewHost returns a host HAL for cfg.
func NewHost(cfg HostConfig) HAL {
	return newHost(cfg)
}

func newHost(cfg HostConfig) *hostHAL {
	if cfg.RAMBase == 0 {
		cfg.RAMBase = DefaultRAMBase
	}
	if cfg.RAMSize == 0 {
		cfg.RAMSize = DefaultRAMSize
	}
	if cfg.Log == nil {
		cfg.Log = os.Stdout
	}
	if cfg.FramebufferWidth <= 0 || cfg.FramebufferHeight <= 0 {
		cfg.FramebufferWidth, cfg.FramebufferHeight = 320, 240
	}

	mem := newHostMemory(cfg.RAMBase, cfg.RAMSize)
	return &hostHAL{
		logger: &hostLogger{w: cfg.Log},
		irq:    newHostInterrupts(),
		mem:    mem,
		cache:  &hostCache{},
		prot:   newHostProtection(mem),
		fb:     newHostFramebuffer(cfg.FramebufferWidth, cfg.FramebufferHeight),
		kbd:    newHostKeyboard(),
		t:      newHostTime(),
	}
}

func (h *hostHAL) Logger() Logger         { return h.logger }
func (h *hostHAL) Interrupts() Interrupts { return h.irq }
func (h *hostHAL) Memory() Memory         { return h.mem }
func (h *hostHAL) Cache() Cache           { return h.cache }
func (h *hostHAL) Protection() Protection { return h.prot }
func (h *hostHAL) Display() Display       { return hostDisplay{fb: h.fb} }
func (h *hostHAL) Input() Input           { return hostInput{kbd: h.kbd} }
func (h *hostHAL) Time() Time             { return h.t }

type hostDisplay struct {
	fb *hostFramebuffer
}

func (d hostDisplay) Framebuffer() Framebuffer { return d.fb }

type hostInput struct {
	kbd *hostKeyboard
}

func (in hostInput) Keyboard() Keyboard { return in.kbd }

type hostLogger struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *hostLogger) WriteLineString(s string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintln(l.w, s)
}

func (l *hostLogger) WriteLineBytes(b []byte) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.w.Write(b)
	l.w.Write([]byte{'\n'})
}
