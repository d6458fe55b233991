package hal

import "errors"

// Addr is a Starlet physical address.
type Addr uint32

// Logger writes newline-delimited log lines.
type Logger interface {
	WriteLineString(s string)
	WriteLineBytes(b []byte)
}

var (
	ErrNotImplemented = errors.New("not implemented")
	ErrBadPointer     = errors.New("pointer outside accessible memory")
	ErrMisaligned     = errors.New("pointer misaligned")
)

// IRQState is the interrupt mask state returned by Interrupts.Disable.
type IRQState bool

// Interrupts is the CPU interrupt mask.
//
// Disable masks interrupts and returns the state before the call; Restore puts
// that state back, so pairs nest.
type Interrupts interface {
	Disable() IRQState
	Restore(IRQState)
	Enabled() bool
}

// Memory is big-endian physical RAM.
//
// Accesses outside [Base, Base+Size) panic like a data abort.
type Memory interface {
	Base() Addr
	Size() uint32
	Load32(addr Addr) uint32
	Store32(addr Addr, v uint32)
	Zero(addr Addr, n uint32)
	ReadAt(p []byte, addr Addr) (int, error)
	WriteAt(p []byte, addr Addr) (int, error)
}

// Cache is data cache maintenance over an address range.
type Cache interface {
	// FlushRange writes dirty lines back to RAM.
	FlushRange(addr Addr, n uint32)
	// InvalidateRange drops cached lines so the next read comes from RAM.
	InvalidateRange(addr Addr, n uint32)
}

// Access flags for CheckMemoryPointer.
type Access uint8

const (
	AccessRead Access = 1 << iota
	AccessWrite

	AccessReadWrite = AccessRead | AccessWrite
)

// Region grants a process access to a range of physical memory.
type Region struct {
	Name   string
	Base   Addr
	Size   uint32
	PID    uint32
	Access Access
}

// DACRClient gives every MMU domain client access.
const DACRClient uint32 = 0x55555555

// Protection is the memory-protection unit.
type Protection interface {
	// CheckMemoryPointer reports whether pid may access [ptr, ptr+size) with
	// the given access and whether ptr is aligned to align (0 = any).
	CheckMemoryPointer(ptr Addr, size uint32, align uint32, pid uint32, access Access) error
	// SetDomainAccessControlRegister loads the DACR and returns the old value.
	SetDomainAccessControlRegister(v uint32) uint32
	// MapRegion adds a region to the protection table.
	MapRegion(r Region) error
}

// PixelFormat defines the framebuffer pixel encoding.
type PixelFormat uint8

const (
	// PixelFormatRGB565 is 16bpp: rrrrrggggggbbbbb.
	PixelFormatRGB565 PixelFormat = iota + 1
)

// Framebuffer is a simple pixel buffer plus a "present" hook.
type Framebuffer interface {
	Width() int
	Height() int
	Format() PixelFormat
	StrideBytes() int
	Buffer() []byte
	ClearRGB(r, g, b uint8)
	Present() error
}

// KeyCode is a minimal key identifier.
type KeyCode uint16

const (
	KeyUnknown KeyCode = iota
	KeyUp
	KeyDown
	KeyEnter
	KeyEscape
	KeyF1
	KeyF2
	KeyF3
)

// KeyEvent is a keyboard event.
type KeyEvent struct {
	Code  KeyCode
	Press bool
	Rune  rune
}

// Keyboard provides key events (best-effort on each platform).
type Keyboard interface {
	Events() <-chan KeyEvent
}

// Display provides access to the framebuffer (if available).
type Display interface {
	Framebuffer() Framebuffer
}

// Input provides access to input devices (if available).
type Input interface {
	Keyboard() Keyboard
}

// Time provides a base tick stream.
//
// The host ticks once per millisecond.
type Time interface {
	Ticks() <-chan uint64
}

// HAL is everything the kernel core treats as external hardware.
type HAL interface {
	Logger() Logger
	Interrupts() Interrupts
	Memory() Memory
	Cache() Cache
	Protection() Protection
	Display() Display
	Input() Input
	Time() Time
}
