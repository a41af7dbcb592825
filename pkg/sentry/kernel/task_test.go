package kernel

import (
	"testing"

	"github.com/oscomp/gokernel/pkg/errno"
	"github.com/oscomp/gokernel/pkg/sentry/mm"
	"github.com/oscomp/gokernel/pkg/sentry/vfs"
)

// fakePageTable is a minimal mm.PageTable for tests that don't need real
// address translation.
type fakePageTable struct {
	mapped map[mm.VirtAddr]mm.Frame
}

func newFakePageTable() *fakePageTable {
	return &fakePageTable{mapped: make(map[mm.VirtAddr]mm.Frame)}
}

func pageOf(vaddr mm.VirtAddr) mm.VirtAddr {
	return mm.VirtAddr(uintptr(vaddr) &^ (mm.PageSize - 1))
}

func (pt *fakePageTable) MapPage(vaddr mm.VirtAddr, frame mm.Frame, flags mm.MappingFlags) {
	pt.mapped[pageOf(vaddr)] = frame
}

func (pt *fakePageTable) Translate(vaddr mm.VirtAddr) (mm.PhysAddr, bool) {
	f, ok := pt.mapped[pageOf(vaddr)]
	if !ok {
		return 0, false
	}
	offset := uintptr(vaddr) - uintptr(pageOf(vaddr))
	return mm.PhysAddr(uintptr(f.Addr) + offset), true
}

type fakeFrameAllocator struct{ next mm.PhysAddr }

func (a *fakeFrameAllocator) AllocMuch(count int) ([]mm.Frame, bool) {
	frames := make([]mm.Frame, count)
	for i := range frames {
		frames[i] = mm.Frame{Addr: a.next}
		a.next += mm.PageSize
	}
	return frames, true
}

func TestNewTaskSelfParentsAsProcess(t *testing.T) {
	task := NewTask(newFakePageTable(), nil, nil, nil)
	if task.TaskID != task.ProcessID {
		t.Fatalf("leader TaskID %d != ProcessID %d", task.TaskID, task.ProcessID)
	}
	if task.PCB.refCount.Load() != 1 {
		t.Fatalf("fresh PCB refCount = %d, want 1", task.PCB.refCount.Load())
	}
}

func TestThreadCloneSharesPCB(t *testing.T) {
	parent := NewTask(newFakePageTable(), nil, nil, nil)
	child := parent.ThreadClone(0)
	if child.PCB != parent.PCB {
		t.Fatalf("ThreadClone child has a distinct PCB")
	}
	if child.ProcessID != parent.ProcessID {
		t.Fatalf("ThreadClone child ProcessID %d != parent's %d", child.ProcessID, parent.ProcessID)
	}
	if parent.PCB.refCount.Load() != 2 {
		t.Fatalf("refCount after ThreadClone = %d, want 2", parent.PCB.refCount.Load())
	}
}

func TestCowForkGivesDistinctPCBAndZeroedReturn(t *testing.T) {
	parent := NewTask(newFakePageTable(), nil, nil, nil)
	parent.WithTCB(func(tcb *ThreadControlBlock) { tcb.Frame.Ret = 42 })
	child := parent.CowFork(newFakePageTable())

	if child.PCB == parent.PCB {
		t.Fatalf("CowFork child shares parent's PCB")
	}
	if child.TaskID == parent.TaskID {
		t.Fatalf("CowFork child has parent's TaskID")
	}
	if child.TCB.Frame.Ret != 0 {
		t.Fatalf("child Frame.Ret = %d, want 0 (fork() return convention)", child.TCB.Frame.Ret)
	}
	parent.PCB.Lock()
	found := false
	for _, c := range parent.PCB.Children {
		if c == child {
			found = true
		}
	}
	parent.PCB.Unlock()
	if !found {
		t.Fatalf("child not recorded in parent's Children")
	}
}

func TestThreadExitSetsSigchldOnParent(t *testing.T) {
	parent := NewTask(newFakePageTable(), nil, nil, nil)
	child := parent.CowFork(newFakePageTable())
	child.ThreadExit(5)

	var hasChld bool
	parent.WithTCB(func(tcb *ThreadControlBlock) {
		hasChld = tcb.Signal.Contains(CHLD)
	})
	if !hasChld {
		t.Fatalf("parent missing SIGCHLD after child exit")
	}
	child.PCB.Lock()
	code := child.PCB.ExitCode
	child.PCB.Unlock()
	if code == nil || *code != 5 {
		t.Fatalf("child exit code = %v, want 5", code)
	}
}

func TestExitProcessReparentsOrphansToInitTask(t *testing.T) {
	init := NewTask(newFakePageTable(), nil, nil, nil)
	InitTask.InitBy(init)

	grandparent := NewTask(newFakePageTable(), nil, nil, nil)
	orphan := grandparent.CowFork(newFakePageTable())
	grandparent.Exit(0)

	if orphan.Parent != init {
		t.Fatalf("orphan.Parent = %v, want init task", orphan.Parent)
	}
}

func TestFdTableAllocAndClear(t *testing.T) {
	task := NewTask(newFakePageTable(), nil, nil, nil)
	f := &vfs.File{Path: vfs.RootPathBuf()}
	fd, e := task.AllocFd(f)
	if e != errno.OK || fd != 0 {
		t.Fatalf("AllocFd: fd=%d e=%v", fd, e)
	}
	if got := task.GetFd(fd); got != f {
		t.Fatalf("GetFd did not return the installed file")
	}
	task.ClearFd(fd)
	if got := task.GetFd(fd); got != nil {
		t.Fatalf("GetFd after ClearFd = %v, want nil", got)
	}
}

func TestSetFdRejectsBeyondRLimit(t *testing.T) {
	task := NewTask(newFakePageTable(), nil, nil, nil)
	limit := int(task.PCB.RLimits[RLimitNoFile])
	if e := task.SetFd(limit, &vfs.File{}); e != errno.EINVAL {
		t.Fatalf("SetFd at rlimit boundary: got %v, want EINVAL", e)
	}
}

func TestFdResolveAbsoluteAndRelative(t *testing.T) {
	task := NewTask(newFakePageTable(), nil, &vfs.File{Path: vfs.ParsePathBuf("/home")}, nil)
	f, e := task.FdResolve(AtFDCWD, "greet")
	if e != errno.OK || f.Path.String() != "/home/greet" {
		t.Fatalf("FdResolve relative: path=%q e=%v", f.Path.String(), e)
	}
	f, e = task.FdResolve(AtFDCWD, "/etc/passwd")
	if e != errno.OK || f.Path.String() != "/etc/passwd" {
		t.Fatalf("FdResolve absolute: path=%q e=%v", f.Path.String(), e)
	}
}

func TestPushStrAndPushArrStackLayout(t *testing.T) {
	pt := newFakePageTable()
	alloc := &fakeFrameAllocator{}
	mem := &fakeHostMemory{frames: make(map[mm.PhysAddr][]byte)}
	const base = mm.VirtAddr(0x7fff_0000)

	frames, _ := alloc.AllocMuch(1)
	pt.MapPage(base, frames[0], mm.URWX)
	mem.frames[frames[0].Addr] = make([]byte, mm.PageSize)

	sp := uintptr(base) + mm.PageSize
	sp = PushStr(pt, mem, sp, "hello")
	if sp >= uintptr(base)+mm.PageSize {
		t.Fatalf("PushStr did not move the stack pointer down")
	}
	sp = PushArr(pt, mem, sp, []uintptr{1, 2, 0})
	if sp%8 != 0 {
		t.Fatalf("PushArr left sp unaligned: %#x", sp)
	}
}

// fakeHostMemory backs PushStr/PushArr's tests with a simple
// phys-addr-to-buffer map instead of a real arena.
type fakeHostMemory struct {
	frames map[mm.PhysAddr][]byte
}

func (m *fakeHostMemory) Bytes(p mm.PhysAddr, length int) []byte {
	base := p - p%mm.PageSize
	buf, ok := m.frames[base]
	if !ok {
		buf = make([]byte, mm.PageSize)
		m.frames[base] = buf
	}
	off := int(p - base)
	return buf[off : off+length]
}
