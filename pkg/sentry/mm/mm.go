// Package mm implements the virtual-memory layout tracked per task and
// the copy-on-write fork path, grounded on
// original_source/kernel/src/tasks/task.rs's map_frames/frame_alloc/
// cow_fork/get_last_free_addr (spec §3 MemArea/MemSet, §4.F).
//
// The physical frame allocator and page-table hardware abstraction are
// external collaborators per spec §1; this package depends on the small
// FrameAllocator and PageTable interfaces below rather than a concrete
// implementation.
package mm

import (
	"github.com/oscomp/gokernel/pkg/sentry/sync"
)

// PageSize is the hardware page size assumed throughout; callers on
// architectures with a different page size construct their own mm
// package instance, this spec targets the common 4 KiB case.
const PageSize = 4096

// VirtAddr and PhysAddr are opaque machine addresses.
type VirtAddr uintptr
type PhysAddr uintptr

// Align rounds addr up to the next page boundary.
func (v VirtAddr) Align() VirtAddr {
	return VirtAddr((uintptr(v) + PageSize - 1) &^ (PageSize - 1))
}

// MappingFlags are page protection bits.
type MappingFlags uint8

const (
	FlagUser MappingFlags = 1 << iota
	FlagRead
	FlagWrite
	FlagExec
)

// URWX is user-readable/writable/executable; URX is the same without
// write, used to downgrade CoW-shared pages (spec §4.F, Glossary).
const (
	URWX = FlagUser | FlagRead | FlagWrite | FlagExec
	URX  = FlagUser | FlagRead | FlagExec
)

// Frame identifies one physical page frame.
type Frame struct {
	Addr PhysAddr
}

// FrameAllocator is the out-of-scope physical frame allocator (spec §1).
type FrameAllocator interface {
	AllocMuch(count int) ([]Frame, bool)
}

// PageTable is the out-of-scope page-table hardware abstraction (spec
// §1): mapping primitives, TLB flush, and translation live on the other
// side of this interface.
type PageTable interface {
	MapPage(vaddr VirtAddr, frame Frame, flags MappingFlags)
	Translate(vaddr VirtAddr) (PhysAddr, bool)
}

// HostMemory exposes the byte range backing a physical frame, the way a
// direct-mapped kernel would reach physical memory through its own
// address space. Only the loader's stack/argv builder and exec's BSS
// zero-fill need raw access like this; everything else goes through
// ReadAt/WriteAt on a vfs.Inode.
type HostMemory interface {
	Bytes(p PhysAddr, length int) []byte
}

// MemType classifies a MemArea's purpose (spec §3).
type MemType int

const (
	CodeSection MemType = iota
	Stack
	Mmap
	Shared
)

// MapTrack records which physical frame backs which virtual page, and
// with what permissions (spec §3 Glossary).
type MapTrack struct {
	Vaddr VirtAddr
	Frame Frame
	RWX   MappingFlags
}

// MemArea is a contiguous virtual-address region (spec §3). File is an
// opaque backing-inode reference (typically a *vfs.Inode); mm stays
// decoupled from the filesystem layer's concrete error type, matching the
// spec's component boundary between F and B/C/D.
type MemArea struct {
	Type     MemType
	Start    VirtAddr
	Len      uintptr
	File     any
	Offset   int64
	Trackers []MapTrack
}

// fixedStackBase and fixedStackLen are the well-known Stack area
// location (spec §4.F); per SPEC_FULL §F open question 1, this kernel
// supports exactly one Stack area per MemSet, matching the original's
// actual behavior (thread stacks are Mmap areas, never a second Stack).
const (
	fixedStackBase VirtAddr = 0x7000_0000
	fixedStackLen  uintptr  = 0x1000_0000
)

// MemSet is the ordered set of MemAreas owned by one process (spec §3).
// Within a MemSet, distinct areas' virtual-address ranges are disjoint
// except that the Stack guard may be contained by nothing else — lookup
// by address scans linearly, matching the original's iter().find.
type MemSet struct {
	mu    sync.Mutex
	areas []*MemArea
}

// NewMemSet returns an empty MemSet.
func NewMemSet() *MemSet { return &MemSet{} }

// Clear drops every area, used by exec (spec §4.G step 7) and by
// thread-exit's last-thread-out teardown (spec §4.E).
func (s *MemSet) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.areas = nil
}

// Areas returns a snapshot of the current area list.
func (s *MemSet) Areas() []*MemArea {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*MemArea, len(s.areas))
	copy(out, s.areas)
	return out
}

// Push appends a new area, used directly by CowFork to install the
// child's copied areas.
func (s *MemSet) Push(area *MemArea) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.areas = append(s.areas, area)
}

// Find returns the area containing addr, scanning linearly (spec §3).
func (s *MemSet) Find(addr VirtAddr) *MemArea {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.areas {
		if uintptr(addr) >= uintptr(a.Start) && uintptr(addr) < uintptr(a.Start)+a.Len {
			return a
		}
	}
	return nil
}

// FrameAlloc is the single entry point for demand-allocating pages (spec
// §4.F): it asks the physical allocator for count frames, builds
// MapTracks, optionally installs URWX mappings, and inserts the result
// into the MemSet — merging into the existing Stack area if mtype is
// Stack and one already exists, otherwise always appending a new area.
//
// vaddr == 0 means "allocate frames but don't map them yet" (the
// trackers record a zero Vaddr and no page-table entry is installed); a
// non-zero vaddr requests immediate URWX mapping.
func FrameAlloc(pt PageTable, alloc FrameAllocator, set *MemSet, vaddr VirtAddr, mtype MemType, count int) (PhysAddr, bool) {
	if count <= 0 {
		panic("mm: FrameAlloc called with count <= 0")
	}
	frames, ok := alloc.AllocMuch(count)
	if !ok {
		return 0, false
	}
	trackers := make([]MapTrack, count)
	for i, fr := range frames {
		v := VirtAddr(0)
		if vaddr != 0 {
			v = VirtAddr(uintptr(vaddr) + uintptr(i)*PageSize)
		}
		trackers[i] = MapTrack{Vaddr: v, Frame: fr}
	}
	if vaddr != 0 {
		for _, t := range trackers {
			pt.MapPage(t.Vaddr, t.Frame, URWX)
		}
	}

	set.mu.Lock()
	defer set.mu.Unlock()
	if mtype == Stack {
		for _, a := range set.areas {
			if a.Type == Stack {
				a.Trackers = append(a.Trackers, trackers...)
				return frames[0].Addr, true
			}
		}
		set.areas = append(set.areas, &MemArea{
			Type:     Stack,
			Start:    fixedStackBase,
			Len:      fixedStackLen,
			Trackers: trackers,
		})
		return frames[0].Addr, true
	}
	set.areas = append(set.areas, &MemArea{
		Type:     mtype,
		Start:    vaddr,
		Len:      uintptr(count) * PageSize,
		Trackers: trackers,
	})
	return frames[0].Addr, true
}

// GetLastFreeAddr returns max(end of every non-Stack area, end of every
// shared-memory attachment), page-aligned — the hint used for anonymous
// mmap (spec §4.F).
func GetLastFreeAddr(set *MemSet, shmEnds []uintptr) VirtAddr {
	var maxEnd uintptr
	for _, a := range set.Areas() {
		if a.Type == Stack {
			continue
		}
		if end := uintptr(a.Start) + a.Len; end > maxEnd {
			maxEnd = end
		}
	}
	for _, end := range shmEnds {
		if end > maxEnd {
			maxEnd = end
		}
	}
	return VirtAddr(maxEnd).Align()
}

// CowFork downgrades every mapped page in src to URX in both the parent
// (srcPT) and child (dstPT) page tables and appends a shallow copy of
// each MemArea (sharing the same physical frames) to dst. The write-fault
// fix-up that allocates a fresh frame and remaps to URWX on write is an
// external collaborator (spec §4.F, §9).
func CowFork(srcPT, dstPT PageTable, src, dst *MemSet) {
	for _, area := range src.Areas() {
		copied := &MemArea{
			Type:     area.Type,
			Start:    area.Start,
			Len:      area.Len,
			File:     area.File,
			Offset:   area.Offset,
			Trackers: append([]MapTrack(nil), area.Trackers...),
		}
		for _, t := range area.Trackers {
			srcPT.MapPage(t.Vaddr, t.Frame, URX)
			dstPT.MapPage(t.Vaddr, t.Frame, URX)
		}
		dst.Push(copied)
	}
}
