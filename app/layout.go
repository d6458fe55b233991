package app

import (
	"fmt"

	"starlet/hal"
	"starlet/kernel"
	"starlet/modules/churn"
	"starlet/modules/heartbeat"
	"starlet/modules/joiner"
	"starlet/modules/pingpong"
)

const (
	kernelArena = 0x40000
	moduleArena = 0x40000
	mainStack   = 0x1000

	// Device numbers handed to modules.
	deviceHeartbeat = 1
)

// moduleSpec is one entry of the boot image: a process, its memory and its
// main thread.
type moduleSpec struct {
	name     string
	pid      kernel.ProcessID
	uid      uint32
	gid      uint16
	priority uint8
	entry    hal.Addr
	routine  func(log hal.Logger, heap kernel.HeapID) kernel.Routine
}

// process is a booted module.
type process struct {
	spec    moduleSpec
	base    hal.Addr
	heap    kernel.HeapID
	main    kernel.ThreadID
	routine kernel.Routine
}

func defaultLayout(demo bool) []moduleSpec {
	if !demo {
		return nil
	}
	return []moduleSpec{
		{
			name: "pingpong", pid: 2, uid: 0x1000, gid: 1, priority: 16, entry: 0x20000000,
			routine: func(log hal.Logger, heap kernel.HeapID) kernel.Routine {
				return pingpong.New(log, pingpong.Config{Heap: heap, Depth: 8, Priority: 16})
			},
		},
		{
			name: "heartbeat", pid: 3, uid: 0x1001, gid: 1, priority: 80, entry: 0x20040000,
			routine: func(log hal.Logger, heap kernel.HeapID) kernel.Routine {
				return heartbeat.New(log, heartbeat.Config{Heap: heap, PeriodUs: 1_000_000, Device: deviceHeartbeat})
			},
		},
		{
			name: "churn", pid: 4, uid: 0x1002, gid: 2, priority: 16, entry: 0x20080000,
			routine: func(log hal.Logger, heap kernel.HeapID) kernel.Routine {
				return churn.New(log, churn.Config{Heap: heap})
			},
		},
		{
			name: "joiner", pid: 5, uid: 0x1003, gid: 2, priority: 32, entry: 0x200C0000,
			routine: func(log hal.Logger, heap kernel.HeapID) kernel.Routine {
				return joiner.New(log, joiner.Config{Heap: heap, Priority: 24})
			},
		},
	}
}

// boot carves RAM into the kernel arena followed by one arena per module,
// then starts every module's main thread in its own process.
func (s *System) boot(mods []moduleSpec) error {
	mem := s.h.Memory()
	need := uint64(kernelArena) + uint64(len(mods))*moduleArena
	if need > uint64(mem.Size()) {
		return fmt.Errorf("ram %d bytes, need %d", mem.Size(), need)
	}

	kctx := s.k.Context(kernel.KernelPID)
	if _, err := kctx.CreateHeap(mem.Base(), kernelArena); err != nil {
		return fmt.Errorf("kernel heap: %w", err)
	}

	base := mem.Base() + kernelArena
	for _, m := range mods {
		p, err := s.load(kctx, m, base)
		if err != nil {
			return fmt.Errorf("module %s: %w", m.name, err)
		}
		s.procs = append(s.procs, p)
		base += moduleArena
	}
	return nil
}

func (s *System) load(kctx *kernel.Context, m moduleSpec, base hal.Addr) (*process, error) {
	err := s.h.Protection().MapRegion(hal.Region{
		Name:   m.name,
		Base:   base,
		Size:   moduleArena,
		PID:    uint32(m.pid),
		Access: hal.AccessReadWrite,
	})
	if err != nil {
		return nil, err
	}
	if err := kctx.SetUID(m.pid, m.uid); err != nil {
		return nil, fmt.Errorf("set uid: %w", err)
	}
	if err := kctx.SetGID(m.pid, m.gid); err != nil {
		return nil, fmt.Errorf("set gid: %w", err)
	}

	pctx := s.k.Context(m.pid)
	heap, err := pctx.CreateHeap(base, moduleArena)
	if err != nil {
		return nil, fmt.Errorf("heap: %w", err)
	}
	stack, err := pctx.AllocateOnHeap(heap, mainStack)
	if err != nil {
		return nil, fmt.Errorf("main stack: %w", err)
	}

	r := m.routine(s.h.Logger(), heap)
	tid, err := pctx.CreateThread(kernel.Entry{PC: m.entry, Routine: r}, 0, stack+mainStack, mainStack, m.priority, false)
	if err != nil {
		return nil, fmt.Errorf("main thread: %w", err)
	}
	if err := pctx.StartThread(tid); err != nil {
		return nil, fmt.Errorf("start: %w", err)
	}
	return &process{spec: m, base: base, heap: heap, main: tid, routine: r}, nil
}
