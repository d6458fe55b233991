package kernel

import (
	"starlet/debug"
	"starlet/hal"
)

// Heap block headers live in the memory they describe, one cache line each.
//
//	+0  state
//	+4  size, header included
//	+8  previous free block
//	+12 next free block (for an Aligned header: the real block)
//	+16 reserved, zero
const (
	heapHeaderSize = 32
	heapGrain      = 32
	minHeapSize    = 48

	blockFree    uint32 = 0xBABE0000
	blockInUse   uint32 = 0xBABE0001
	blockAligned uint32 = 0xBABE0002
)

// HeapID indexes the heap table.
type HeapID int32

type heapInfo struct {
	pid   ProcessID
	base  hal.Addr
	size  uint32
	first hal.Addr // lowest free block
}

func (h *heapInfo) inUse() bool { return h.base != 0 }

type blockHeader struct {
	state uint32
	size  uint32
	prev  hal.Addr
	next  hal.Addr
}

func (k *Kernel) loadBlock(b hal.Addr) blockHeader {
	return blockHeader{
		state: k.mem.Load32(b),
		size:  k.mem.Load32(b + 4),
		prev:  hal.Addr(k.mem.Load32(b + 8)),
		next:  hal.Addr(k.mem.Load32(b + 12)),
	}
}

func (k *Kernel) storeBlock(b hal.Addr, h blockHeader) {
	k.mem.Store32(b, h.state)
	k.mem.Store32(b+4, h.size)
	k.mem.Store32(b+8, uint32(h.prev))
	k.mem.Store32(b+12, uint32(h.next))
	k.mem.Zero(b+16, heapHeaderSize-16)
}

func (k *Kernel) setPrev(b, prev hal.Addr) { k.mem.Store32(b+8, uint32(prev)) }
func (k *Kernel) setNext(b, next hal.Addr) { k.mem.Store32(b+12, uint32(next)) }

func (k *Kernel) heap(id HeapID, pid ProcessID, checkOwner bool) (*heapInfo, error) {
	if id < 0 || int(id) >= MaxHeaps {
		return nil, ErrInvalidArg
	}
	h := &k.heaps[id]
	if !h.inUse() {
		return nil, ErrInvalidArg
	}
	if checkOwner && h.pid != pid {
		return nil, ErrAccessDenied
	}
	return h, nil
}

func (k *Kernel) createHeap(pid ProcessID, ptr hal.Addr, size uint32) (HeapID, error) {
	state := k.critical()
	defer k.irq.Restore(state)

	if ptr == 0 || ptr%heapGrain != 0 || size < minHeapSize {
		return -1, ErrInvalidArg
	}
	if err := k.prot.CheckMemoryPointer(ptr, size, heapGrain, uint32(pid), hal.AccessReadWrite); err != nil {
		return -1, ErrInvalidArg
	}

	for i := range k.heaps {
		h := &k.heaps[i]
		if h.inUse() {
			continue
		}
		k.storeBlock(ptr, blockHeader{state: blockFree, size: size})
		*h = heapInfo{pid: pid, base: ptr, size: size, first: ptr}
		k.logf("heap: create id=%d pid=%d base=0x%08x size=%d", i, pid, uint32(ptr), size)
		return HeapID(i), nil
	}
	return -1, ErrTooMany
}

func (k *Kernel) destroyHeap(pid ProcessID, id HeapID, checkOwner bool) error {
	state := k.critical()
	defer k.irq.Restore(state)

	h, err := k.heap(id, pid, checkOwner)
	if err != nil {
		return err
	}
	k.logf("heap: destroy id=%d pid=%d", id, h.pid)
	*h = heapInfo{}
	return nil
}

// payloadOffset is the distance from block b to the first address aligned to
// align that leaves room for an Aligned header when it is not b+header.
func payloadOffset(b hal.Addr, align uint32) uint64 {
	user := uint64(b) + heapHeaderSize
	if user%uint64(align) != 0 {
		user = alignUp(uint64(b)+2*heapHeaderSize, uint64(align))
	}
	return user - uint64(b)
}

func (k *Kernel) mallocate(pid ProcessID, id HeapID, size, align uint32, checkOwner bool) (hal.Addr, error) {
	state := k.critical()
	defer k.irq.Restore(state)

	h, err := k.heap(id, pid, checkOwner)
	if err != nil {
		return 0, err
	}
	if size == 0 || size > h.size || align < heapGrain || !isPow2(align) {
		return 0, ErrInvalidArg
	}
	n := alignUp(uint64(size), heapGrain)

	// Best fit: the smallest block that holds the request, the first one
	// found on a tie, stopping at an exact fit.
	var best hal.Addr
	var bestSize, bestNeed uint32
	for b := h.first; b != 0; {
		hdr := k.loadBlock(b)
		need := payloadOffset(b, align) + n
		if need <= uint64(hdr.size) && (best == 0 || hdr.size < bestSize) {
			best, bestSize, bestNeed = b, hdr.size, uint32(need)
			if hdr.size == bestNeed {
				break
			}
		}
		b = hdr.next
	}
	if best == 0 {
		return 0, ErrNoMemory
	}

	hdr := k.loadBlock(best)
	if bestSize-bestNeed > heapHeaderSize {
		rest := best + hal.Addr(bestNeed)
		k.storeBlock(rest, blockHeader{state: blockFree, size: bestSize - bestNeed, prev: hdr.prev, next: hdr.next})
		k.replaceFree(h, hdr.prev, hdr.next, rest)
		hdr.size = bestNeed
	} else {
		k.unlinkFree(h, hdr.prev, hdr.next)
	}
	k.storeBlock(best, blockHeader{state: blockInUse, size: hdr.size})

	off := uint32(payloadOffset(best, align))
	user := best + hal.Addr(off)
	k.mem.Zero(user, hdr.size-off)
	if off > heapHeaderSize {
		k.storeBlock(user-heapHeaderSize, blockHeader{state: blockAligned, next: best})
	}
	if debug.Enabled {
		k.checkHeap(h)
	}
	return user, nil
}

// replaceFree puts b in the free list slot between prev and next.
func (k *Kernel) replaceFree(h *heapInfo, prev, next, b hal.Addr) {
	if prev == 0 {
		h.first = b
	} else {
		k.setNext(prev, b)
	}
	if next != 0 {
		k.setPrev(next, b)
	}
}

// unlinkFree joins prev and next around the block between them.
func (k *Kernel) unlinkFree(h *heapInfo, prev, next hal.Addr) {
	if prev == 0 {
		h.first = next
	} else {
		k.setNext(prev, next)
	}
	if next != 0 {
		k.setPrev(next, prev)
	}
}

func (k *Kernel) freeOnHeap(pid ProcessID, id HeapID, ptr hal.Addr, checkOwner bool) error {
	state := k.critical()
	defer k.irq.Restore(state)

	h, err := k.heap(id, pid, checkOwner)
	if err != nil {
		return err
	}
	if ptr == 0 || ptr%heapGrain != 0 || ptr < h.base+heapHeaderSize || uint64(ptr) >= uint64(h.base)+uint64(h.size) {
		return ErrInvalidArg
	}

	b := ptr - heapHeaderSize
	hdr := k.loadBlock(b)
	if hdr.state == blockAligned {
		b = hdr.next
		if b < h.base || b >= ptr-heapHeaderSize || (b-h.base)%heapGrain != 0 {
			return ErrInvalidArg
		}
		hdr = k.loadBlock(b)
	}
	if hdr.state != blockInUse {
		return ErrInvalidArg
	}

	var prev hal.Addr
	next := h.first
	for next != 0 && next < b {
		prev = next
		next = k.loadBlock(next).next
	}
	k.storeBlock(b, blockHeader{state: blockFree, size: hdr.size, prev: prev, next: next})
	k.replaceFree(h, prev, next, b)

	k.mergeNextBlockIfUnused(b)
	if prev != 0 {
		k.mergeNextBlockIfUnused(prev)
	}
	if debug.Enabled {
		k.checkHeap(h)
	}
	return nil
}

// mergeNextBlockIfUnused absorbs the next free block into b when it starts
// where b ends.
func (k *Kernel) mergeNextBlockIfUnused(b hal.Addr) bool {
	hdr := k.loadBlock(b)
	if hdr.next == 0 || b+hal.Addr(hdr.size) != hdr.next {
		return false
	}
	nx := k.loadBlock(hdr.next)
	hdr.size += nx.size
	hdr.next = nx.next
	k.storeBlock(b, hdr)
	if nx.next != 0 {
		k.setPrev(nx.next, b)
	}
	return true
}

// BlockInfo describes one heap block in address order.
type BlockInfo struct {
	Addr hal.Addr
	Size uint32
	Free bool
}

// HeapStats summarizes a heap by walking its blocks physically.
type HeapStats struct {
	ID         HeapID
	PID        ProcessID
	Base       hal.Addr
	Size       uint32
	Free       uint32
	Used       uint32
	FreeBlocks int
	UsedBlocks int
	Largest    uint32
	// MaxAlloc is the largest request AllocateOnHeap can satisfy.
	MaxAlloc uint32
}

// HeapBlocks lists every block of a heap from its base.
func (k *Kernel) HeapBlocks(id HeapID) ([]BlockInfo, error) {
	state := k.critical()
	defer k.irq.Restore(state)

	h, err := k.heap(id, 0, false)
	if err != nil {
		return nil, err
	}
	return k.walkHeap(h), nil
}

// HeapStats returns block totals for a heap.
func (k *Kernel) HeapStats(id HeapID) (HeapStats, error) {
	state := k.critical()
	defer k.irq.Restore(state)

	h, err := k.heap(id, 0, false)
	if err != nil {
		return HeapStats{}, err
	}
	return k.heapStats(id, h), nil
}

func (k *Kernel) heapStats(id HeapID, h *heapInfo) HeapStats {
	st := HeapStats{ID: id, PID: h.pid, Base: h.base, Size: h.size}
	for _, b := range k.walkHeap(h) {
		if b.Free {
			st.Free += b.Size
			st.FreeBlocks++
			if b.Size > st.Largest {
				st.Largest = b.Size
			}
		} else {
			st.Used += b.Size
			st.UsedBlocks++
		}
	}
	if st.Largest > heapHeaderSize {
		st.MaxAlloc = alignDown(st.Largest-heapHeaderSize, heapGrain)
	}
	return st
}

func (k *Kernel) walkHeap(h *heapInfo) []BlockInfo {
	var blocks []BlockInfo
	end := uint64(h.base) + uint64(h.size)
	for b := h.base; uint64(b) < end; {
		hdr := k.loadBlock(b)
		if hdr.size < heapHeaderSize {
			debug.Assert(false, "heap block smaller than its header")
			break
		}
		blocks = append(blocks, BlockInfo{Addr: b, Size: hdr.size, Free: hdr.state == blockFree})
		b += hal.Addr(hdr.size)
	}
	return blocks
}

// checkHeap verifies the free list against a physical walk.
func (k *Kernel) checkHeap(h *heapInfo) {
	var total uint64
	free := map[hal.Addr]bool{}
	for _, b := range k.walkHeap(h) {
		total += uint64(b.Size)
		if b.Free {
			free[b.Addr] = true
		}
	}
	debug.Assert(total == uint64(h.size), "heap blocks do not cover the heap")

	var prev hal.Addr
	n := 0
	for b := h.first; b != 0; b = k.loadBlock(b).next {
		debug.Assert(free[b], "free list links a block that is not free")
		debug.Assert(b > prev, "free list out of address order")
		debug.Assert(k.loadBlock(b).prev == prev, "free list back link broken")
		prev = b
		n++
	}
	debug.Assert(n == len(free), "free block missing from free list")
}

// CreateHeap turns [ptr, ptr+size) into a heap owned by the caller.
func (c *Context) CreateHeap(ptr hal.Addr, size uint32) (HeapID, error) {
	return c.k.createHeap(c.pid, ptr, size)
}

// DestroyHeap forgets a heap owned by the caller. Live blocks are not checked.
func (c *Context) DestroyHeap(id HeapID) error {
	return c.k.destroyHeap(c.pid, id, true)
}

// DestroyHeapUnsafe is DestroyHeap without the ownership check.
func (c *Context) DestroyHeapUnsafe(id HeapID) error {
	return c.k.destroyHeap(c.pid, id, false)
}

// AllocateOnHeap returns size zeroed bytes aligned to 32.
func (c *Context) AllocateOnHeap(id HeapID, size uint32) (hal.Addr, error) {
	return c.k.mallocate(c.pid, id, size, heapGrain, true)
}

// MallocateOnHeap returns size zeroed bytes aligned to align (a power of two,
// at least 32).
func (c *Context) MallocateOnHeap(id HeapID, size, align uint32) (hal.Addr, error) {
	return c.k.mallocate(c.pid, id, size, align, true)
}

// AllocateOnHeapUnsafe is AllocateOnHeap without the ownership check.
func (c *Context) AllocateOnHeapUnsafe(id HeapID, size uint32) (hal.Addr, error) {
	return c.k.mallocate(c.pid, id, size, heapGrain, false)
}

// MallocateOnHeapUnsafe is MallocateOnHeap without the ownership check.
func (c *Context) MallocateOnHeapUnsafe(id HeapID, size, align uint32) (hal.Addr, error) {
	return c.k.mallocate(c.pid, id, size, align, false)
}

// FreeOnHeap returns a block obtained from AllocateOnHeap or MallocateOnHeap.
func (c *Context) FreeOnHeap(id HeapID, ptr hal.Addr) error {
	return c.k.freeOnHeap(c.pid, id, ptr, true)
}

// FreeOnHeapUnsafe is FreeOnHeap without the ownership check.
func (c *Context) FreeOnHeapUnsafe(id HeapID, ptr hal.Addr) error {
	return c.k.freeOnHeap(c.pid, id, ptr, false)
}
