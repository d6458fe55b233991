//go:build !tinygo

package hal

import (
	"encoding/binary"
	"fmt"
	"io"
)

type hostMemory struct {
	base Addr
	buf  []byte
}

func newHostMemory(base Addr, size uint32) *hostMemory {
	return &hostMemory{base: base, buf: make([]byte, size)}
}

func (m *hostMemory) Base() Addr   { return m.base }
func (m *hostMemory) Size() uint32 { return uint32(len(m.buf)) }

func (m *hostMemory) contains(addr Addr, n uint32) bool {
	if addr < m.base {
		return false
	}
	off := uint64(addr - m.base)
	return off+uint64(n) <= uint64(len(m.buf))
}

func (m *hostMemory) slice(addr Addr, n uint32) []byte {
	if !m.contains(addr, n) {
		panic(fmt.Sprintf("hal: data abort at 0x%08x (+%d)", uint32(addr), n))
	}
	off := uint32(addr - m.base)
	return m.buf[off : off+n]
}

func (m *hostMemory) Load32(addr Addr) uint32 {
	if addr&3 != 0 {
		panic(fmt.Sprintf("hal: unaligned load at 0x%08x", uint32(addr)))
	}
	return binary.BigEndian.Uint32(m.slice(addr, 4))
}

func (m *hostMemory) Store32(addr Addr, v uint32) {
	if addr&3 != 0 {
		panic(fmt.Sprintf("hal: unaligned store at 0x%08x", uint32(addr)))
	}
	binary.BigEndian.PutUint32(m.slice(addr, 4), v)
}

func (m *hostMemory) Zero(addr Addr, n uint32) {
	clear(m.slice(addr, n))
}

func (m *hostMemory) ReadAt(p []byte, addr Addr) (int, error) {
	if addr < m.base || uint64(addr-m.base) >= uint64(len(m.buf)) {
		return 0, fmt.Errorf("memory read at 0x%08x: %w", uint32(addr), ErrBadPointer)
	}
	off := addr - m.base
	n := copy(p, m.buf[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (m *hostMemory) WriteAt(p []byte, addr Addr) (int, error) {
	if !m.contains(addr, uint32(len(p))) {
		return 0, fmt.Errorf("memory write at 0x%08x (+%d): %w", uint32(addr), len(p), ErrBadPointer)
	}
	off := addr - m.base
	return copy(m.buf[off:], p), nil
}
