package software

import (
	"testing"

	"github.com/oscomp/gokernel/pkg/sentry/mm"
)

func TestArenaAllocMuchExhausts(t *testing.T) {
	a := NewArena(2)
	frames, ok := a.AllocMuch(2)
	if !ok || len(frames) != 2 {
		t.Fatalf("AllocMuch(2) on a 2-frame arena: ok=%v frames=%v", ok, frames)
	}
	if _, ok := a.AllocMuch(1); ok {
		t.Fatal("AllocMuch succeeded past the arena's frame count")
	}
}

func TestArenaAllocMuchNeverReusesFrames(t *testing.T) {
	a := NewArena(4)
	first, _ := a.AllocMuch(1)
	second, _ := a.AllocMuch(1)
	if first[0].Addr == second[0].Addr {
		t.Fatal("two AllocMuch calls returned the same frame")
	}
}

func TestArenaBytesOutOfBoundsPanics(t *testing.T) {
	a := NewArena(1)
	defer func() {
		if recover() == nil {
			t.Fatal("Bytes past the arena's end did not panic")
		}
	}()
	a.Bytes(mm.PhysAddr(mm.PageSize), 1)
}

func TestPageTableTranslatePreservesOffset(t *testing.T) {
	pt := NewPageTable()
	const vaddr = mm.VirtAddr(0x1234_5678)
	frame := mm.Frame{Addr: 0x9000}
	pt.MapPage(vaddr, frame, mm.URWX)

	page := mm.VirtAddr(uintptr(vaddr) &^ (mm.PageSize - 1))
	offset := uintptr(vaddr) - uintptr(page)

	phys, ok := pt.Translate(vaddr)
	if !ok {
		t.Fatal("Translate failed on a mapped page")
	}
	if uintptr(phys) != uintptr(frame.Addr)+offset {
		t.Fatalf("Translate(%#x) = %#x, want frame+offset %#x", vaddr, phys, uintptr(frame.Addr)+offset)
	}
}

func TestPageTableTranslateUnmapped(t *testing.T) {
	pt := NewPageTable()
	if _, ok := pt.Translate(mm.VirtAddr(0xdead_0000)); ok {
		t.Fatal("Translate succeeded on an unmapped address")
	}
}

func TestPageTableWritableReflectsFlags(t *testing.T) {
	pt := NewPageTable()
	pt.MapPage(mm.VirtAddr(0x1000), mm.Frame{Addr: 0}, mm.URWX)
	pt.MapPage(mm.VirtAddr(0x2000), mm.Frame{Addr: mm.PageSize}, mm.URX)

	if !pt.Writable(mm.VirtAddr(0x1000)) {
		t.Fatal("URWX page reported not writable")
	}
	if pt.Writable(mm.VirtAddr(0x2000)) {
		t.Fatal("URX page reported writable")
	}
	if pt.Writable(mm.VirtAddr(0x3000)) {
		t.Fatal("unmapped page reported writable")
	}
}
