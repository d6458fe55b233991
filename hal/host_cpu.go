//go:build !tinygo

package hal

import (
	"fmt"
	"sync"
)

// CacheLineSize is the Starlet data cache line size.
const CacheLineSize = 32

// hostInterrupts models the CPSR I bit. The host delivers interrupts from the
// scheduler goroutine only, so the flag is all the masking that is needed.
type hostInterrupts struct {
	enabled bool
	depth   int
}

func newHostInterrupts() *hostInterrupts {
	return &hostInterrupts{enabled: true}
}

func (i *hostInterrupts) Disable() IRQState {
	prev := i.enabled
	i.enabled = false
	i.depth++
	return IRQState(prev)
}

func (i *hostInterrupts) Restore(s IRQState) {
	if i.depth > 0 {
		i.depth--
	}
	i.enabled = bool(s)
}

func (i *hostInterrupts) Enabled() bool { return i.enabled }

// CacheStats counts host cache maintenance, rounded out to whole lines.
type CacheStats struct {
	FlushedLines     uint64
	InvalidatedLines uint64
}

type hostCache struct {
	mu    sync.Mutex
	stats CacheStats
}

func lineSpan(addr Addr, n uint32) uint64 {
	if n == 0 {
		return 0
	}
	start := uint64(addr) &^ (CacheLineSize - 1)
	end := (uint64(addr) + uint64(n) + CacheLineSize - 1) &^ (CacheLineSize - 1)
	return (end - start) / CacheLineSize
}

func (c *hostCache) FlushRange(addr Addr, n uint32) {
	c.mu.Lock()
	c.stats.FlushedLines += lineSpan(addr, n)
	c.mu.Unlock()
}

func (c *hostCache) InvalidateRange(addr Addr, n uint32) {
	c.mu.Lock()
	c.stats.InvalidatedLines += lineSpan(addr, n)
	c.mu.Unlock()
}

func (c *hostCache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// HostCacheStats returns the cache counters of a host HAL.
func HostCacheStats(h HAL) (CacheStats, bool) {
	hh, ok := h.(*hostHAL)
	if !ok {
		return CacheStats{}, false
	}
	return hh.cache.Stats(), true
}

type hostProtection struct {
	mem     *hostMemory
	regions []Region
	dacr    uint32
}

func newHostProtection(mem *hostMemory) *hostProtection {
	return &hostProtection{mem: mem}
}

func (p *hostProtection) MapRegion(r Region) error {
	if r.Size == 0 {
		return fmt.Errorf("map region %q: empty", r.Name)
	}
	if !p.mem.contains(r.Base, r.Size) {
		return fmt.Errorf("map region %q at 0x%08x: %w", r.Name, uint32(r.Base), ErrBadPointer)
	}
	p.regions = append(p.regions, r)
	return nil
}

// The kernel process may touch all of RAM; everyone else needs a region.
func (p *hostProtection) CheckMemoryPointer(ptr Addr, size uint32, align uint32, pid uint32, access Access) error {
	if align > 1 && uint32(ptr)%align != 0 {
		return ErrMisaligned
	}
	if !p.mem.contains(ptr, size) {
		return ErrBadPointer
	}
	if pid == 0 {
		return nil
	}
	end := uint64(ptr) + uint64(size)
	for _, r := range p.regions {
		if r.PID != pid || r.Access&access != access {
			continue
		}
		if ptr >= r.Base && end <= uint64(r.Base)+uint64(r.Size) {
			return nil
		}
	}
	return ErrBadPointer
}

func (p *hostProtection) SetDomainAccessControlRegister(v uint32) uint32 {
	prev := p.dacr
	p.dacr = v
	return prev
}
