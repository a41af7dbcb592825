// Package software is a software-only stand-in for the physical frame
// allocator and page-table hardware abstraction that spec.md §1 scopes
// out of this kernel ("the physical frame allocator... and the
// page-table/MMU hardware abstraction... are assumed to exist"). It
// backs pkg/sentry/mm's FrameAllocator, PageTable, and HostMemory
// interfaces with a flat byte arena and a Go map, so cmd/gokernel's
// boot path and this repo's own tests have something concrete to run
// against without a real MMU.
//
// Grounded on original_source/kernel/src/tasks/task.rs's frame_alloc,
// which itself defers to an external runtime::frame::frame_alloc_much
// (a crate this pack does not retrieve) — this package is the Go
// equivalent of that missing crate, not a translation of it.
package software

import (
	"fmt"
	"sync"

	"github.com/oscomp/gokernel/pkg/sentry/mm"
)

// Arena is a fixed-size flat byte buffer standing in for physical RAM.
// Frame i occupies bytes [i*PageSize, (i+1)*PageSize).
type Arena struct {
	mu    sync.Mutex
	bytes []byte
	next  int // next unused frame index
}

// NewArena allocates an arena big enough for frameCount pages.
func NewArena(frameCount int) *Arena {
	return &Arena{bytes: make([]byte, frameCount*mm.PageSize)}
}

// AllocMuch implements mm.FrameAllocator with a simple bump allocator;
// frames are never reclaimed, matching the teacher's own lack of a
// free-list in the pack's retrieved subset (no dealloc caller appears
// anywhere in original_source).
func (a *Arena) AllocMuch(count int) ([]mm.Frame, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	total := len(a.bytes) / mm.PageSize
	if a.next+count > total {
		return nil, false
	}
	frames := make([]mm.Frame, count)
	for i := 0; i < count; i++ {
		frames[i] = mm.Frame{Addr: mm.PhysAddr((a.next + i) * mm.PageSize)}
	}
	a.next += count
	return frames, true
}

// Bytes implements mm.HostMemory by slicing directly into the arena.
func (a *Arena) Bytes(p mm.PhysAddr, length int) []byte {
	start := int(p)
	end := start + length
	if start < 0 || end > len(a.bytes) {
		panic(fmt.Sprintf("software: Bytes(%#x, %d) out of arena bounds", p, length))
	}
	return a.bytes[start:end]
}

// PageTable implements mm.PageTable as a plain Go map from virtual page
// number to (physical frame, protection), with no TLB to flush and no
// hardware page-table format to encode — the simplification a software
// MMU stand-in is allowed to make per spec §1.
type PageTable struct {
	mu   sync.Mutex
	rows map[mm.VirtAddr]row
}

type row struct {
	phys  mm.PhysAddr
	flags mm.MappingFlags
}

// NewPageTable returns an empty address space.
func NewPageTable() *PageTable {
	return &PageTable{rows: make(map[mm.VirtAddr]row)}
}

// MapPage installs or overwrites the mapping for the page containing
// vaddr (spec §4.F: fork's CoW remap calls this to downgrade URWX to
// URX, and FrameAlloc calls it to install a fresh mapping).
func (pt *PageTable) MapPage(vaddr mm.VirtAddr, frame mm.Frame, flags mm.MappingFlags) {
	page := mm.VirtAddr(uintptr(vaddr) &^ (mm.PageSize - 1))
	pt.mu.Lock()
	defer pt.mu.Unlock()
	pt.rows[page] = row{phys: frame.Addr, flags: flags}
}

// Translate returns the physical address backing vaddr, or false if
// unmapped.
func (pt *PageTable) Translate(vaddr mm.VirtAddr) (mm.PhysAddr, bool) {
	page := mm.VirtAddr(uintptr(vaddr) &^ (mm.PageSize - 1))
	offset := uintptr(vaddr) & (mm.PageSize - 1)
	pt.mu.Lock()
	r, ok := pt.rows[page]
	pt.mu.Unlock()
	if !ok {
		return 0, false
	}
	return mm.PhysAddr(uintptr(r.phys) + offset), true
}

// Writable reports whether vaddr is currently mapped with FlagWrite,
// the check a page-fault handler would make before deciding whether a
// write fault is a genuine protection violation or a CoW break (spec
// §4.F, §9 "write-fault fix-up" — the fix-up itself remains the
// out-of-scope executor's job per spec §1, this just exposes the bit it
// needs).
func (pt *PageTable) Writable(vaddr mm.VirtAddr) bool {
	page := mm.VirtAddr(uintptr(vaddr) &^ (mm.PageSize - 1))
	pt.mu.Lock()
	r, ok := pt.rows[page]
	pt.mu.Unlock()
	return ok && r.flags&mm.FlagWrite != 0
}
