package kernel

import (
	"fmt"

	"github.com/oscomp/gokernel/pkg/eventchannel"
	"github.com/oscomp/gokernel/pkg/errno"
	"github.com/oscomp/gokernel/pkg/sentry/mm"
	sentrysync "github.com/oscomp/gokernel/pkg/sentry/sync"
	"github.com/oscomp/gokernel/pkg/sentry/vfs"
)

// InitTask is the process every orphan gets reparented to, the Go
// equivalent of Rust's lazy_static PID-1 handle (spec §4.A, §9 "Lazy
// kernel statics"): cmd/gokernel's boot command calls InitBy exactly once
// after exec'ing the configured init binary, and exitProcess consults it
// below for every exiting task's leftover children.
var InitTask sentrysync.LazyInit[*UserTask]

// TaskReleaser is the out-of-scope executor hook that actually drops a
// finished task's slot (spec §1: "the executor that polls tasks, and its
// scheduling policy, are out of scope"). release() calls it, if set,
// after asserting this task reached a valid terminal state.
type TaskReleaser interface {
	Release(TaskID)
}

// UserTask is one schedulable thread: its own register frame and signal
// state (TCB), plus a pointer to the process-wide state (PCB) shared with
// every sibling thread (spec §3).
type UserTask struct {
	TaskID    TaskID
	ProcessID TaskID

	PageTable mm.PageTable
	PCB       *ProcessControlBlock
	Parent    *UserTask

	tcbMu sentrysync.RWMutex
	TCB   ThreadControlBlock

	releaser TaskReleaser
}

// NewTask creates a fresh process: a new TaskID equal to its own
// ProcessID, an empty MemSet, and a PCB with refCount 1 (spec §4.E).
func NewTask(pt mm.PageTable, parent *UserTask, cwd *vfs.File, releaser TaskReleaser) *UserTask {
	id := AllocTaskID()
	pcb := &ProcessControlBlock{
		MemSet:  mm.NewMemSet(),
		CurrDir: cwd,
		RLimits: NewRLimits(),
		Futex:   NewFutexTable(),
	}
	pcb.refCount.Store(1)
	task := &UserTask{
		TaskID:    id,
		ProcessID: id,
		PageTable: pt,
		PCB:       pcb,
		Parent:    parent,
		releaser:  releaser,
	}
	pcb.Threads = append(pcb.Threads, task)
	if parent != nil {
		parent.PCB.Lock()
		parent.PCB.Children = append(parent.PCB.Children, task)
		parent.PCB.Unlock()
	}
	return task
}

// WithTCB runs fn under the TCB's write lock.
func (t *UserTask) WithTCB(fn func(*ThreadControlBlock)) {
	t.tcbMu.Lock()
	defer t.tcbMu.Unlock()
	fn(&t.TCB)
}

// CowFork forks a whole new process from t: a new MemSet sharing physical
// frames with t's (downgraded to URX on both sides), a new PCB cloned
// from t's (fd table and signal actions copied, children list reset), and
// a single thread whose TrapFrame.Ret is zeroed to give the child the
// fork(2) return-value convention (spec §4.F, §6 S3).
func (t *UserTask) CowFork(childPT mm.PageTable) *UserTask {
	t.PCB.Lock()
	fdCopy := append([]*vfs.File(nil), t.PCB.FDTable...)
	sigCopy := t.PCB.SigAction
	cwd := t.PCB.CurrDir
	heap := t.PCB.Heap
	entry := t.PCB.Entry
	t.PCB.Unlock()

	childPCB := &ProcessControlBlock{
		MemSet:    mm.NewMemSet(),
		FDTable:   fdCopy,
		CurrDir:   cwd,
		Heap:      heap,
		Entry:     entry,
		RLimits:   t.PCB.RLimits,
		SigAction: sigCopy,
		Futex:     NewFutexTable(),
	}
	childPCB.refCount.Store(1)

	mm.CowFork(t.PageTable, childPT, t.PCB.MemSet, childPCB.MemSet)

	child := &UserTask{
		TaskID:    AllocTaskID(),
		ProcessID: 0,
		PageTable: childPT,
		PCB:       childPCB,
		Parent:    t,
		releaser:  t.releaser,
	}
	child.ProcessID = child.TaskID
	childPCB.Threads = append(childPCB.Threads, child)

	t.tcbMu.RLock()
	child.TCB = t.TCB
	t.tcbMu.RUnlock()
	child.TCB.ThreadExitCode = nil
	child.TCB.Frame.Ret = 0

	t.PCB.Lock()
	t.PCB.Children = append(t.PCB.Children, child)
	t.PCB.Unlock()
	return child
}

// ThreadClone adds a new thread to t's own process: it shares t's PCB
// (incrementing refCount) and page table, but gets its own TrapFrame and
// signal mask (spec §4.E, §6 S4).
func (t *UserTask) ThreadClone(setChildTID uintptr) *UserTask {
	t.PCB.refCount.Add(1)
	sibling := &UserTask{
		TaskID:    AllocTaskID(),
		ProcessID: t.ProcessID,
		PageTable: t.PageTable,
		PCB:       t.PCB,
		Parent:    t.Parent,
		releaser:  t.releaser,
	}
	t.tcbMu.RLock()
	sibling.TCB = t.TCB
	t.tcbMu.RUnlock()
	sibling.TCB.ThreadExitCode = nil
	sibling.TCB.SetChildTID = setChildTID

	t.PCB.Lock()
	t.PCB.Threads = append(t.PCB.Threads, sibling)
	t.PCB.Unlock()
	return sibling
}

// Sbrk grows or shrinks the process heap by delta bytes and returns the
// new break, matching brk(2)'s "return the resulting break" convention
// rather than the POSIX sbrk(2) "return the old break" one, since that is
// what this kernel's syscall layer (S6) actually needs (spec §4.E).
func (t *UserTask) Sbrk(alloc mm.FrameAllocator, delta int) uintptr {
	t.PCB.Lock()
	defer t.PCB.Unlock()
	if delta == 0 {
		return t.PCB.Heap
	}
	newBrk := t.PCB.Heap + uintptr(delta)
	if delta > 0 {
		pages := (delta + mm.PageSize - 1) / mm.PageSize
		mm.FrameAlloc(t.PageTable, alloc, t.PCB.MemSet, mm.VirtAddr(t.PCB.Heap), mm.Mmap, pages)
	}
	t.PCB.Heap = newBrk
	return newBrk
}

// GetFd returns the open file at fd, or nil if fd is unused or
// out-of-range.
func (t *UserTask) GetFd(fd int) *vfs.File {
	t.PCB.Lock()
	defer t.PCB.Unlock()
	if fd < 0 || fd >= len(t.PCB.FDTable) {
		return nil
	}
	return t.PCB.FDTable[fd]
}

// SetFd installs file at fd, growing the table as needed, bounded by
// RLIMIT_NOFILE (spec §4.E).
func (t *UserTask) SetFd(fd int, file *vfs.File) errno.Errno {
	t.PCB.Lock()
	defer t.PCB.Unlock()
	if fd < 0 || uintptr(fd) >= t.PCB.RLimits[RLimitNoFile] {
		return errno.EINVAL
	}
	if fd >= len(t.PCB.FDTable) {
		grown := make([]*vfs.File, fd+1)
		copy(grown, t.PCB.FDTable)
		t.PCB.FDTable = grown
	}
	t.PCB.FDTable[fd] = file
	return errno.OK
}

// ClearFd removes fd from the table, a no-op if it was already unused.
func (t *UserTask) ClearFd(fd int) {
	t.PCB.Lock()
	defer t.PCB.Unlock()
	if fd >= 0 && fd < len(t.PCB.FDTable) {
		t.PCB.FDTable[fd] = nil
	}
}

// AllocFd installs file at the lowest unused descriptor number, growing
// the table if every existing slot is occupied (spec §4.E).
func (t *UserTask) AllocFd(file *vfs.File) (int, errno.Errno) {
	t.PCB.Lock()
	defer t.PCB.Unlock()
	for i, f := range t.PCB.FDTable {
		if f == nil {
			t.PCB.FDTable[i] = file
			return i, errno.OK
		}
	}
	if uintptr(len(t.PCB.FDTable)) >= t.PCB.RLimits[RLimitNoFile] {
		return -1, errno.EINVAL
	}
	t.PCB.FDTable = append(t.PCB.FDTable, file)
	return len(t.PCB.FDTable) - 1, errno.OK
}

// FdResolve resolves a path relative to fd, following the at(2) family's
// convention: AT_FDCWD resolves against the process's current directory,
// a non-negative fd must already name an open directory (spec §4.E).
//
// AtFDCWD is a var rather than a const so that uintptr(AtFDCWD) at a
// syscall argument-marshaling site is a runtime two's-complement
// conversion, matching what a real x86_64 register holds for AT_FDCWD;
// the equivalent constant conversion overflows uintptr at compile time.
var AtFDCWD = -100

func (t *UserTask) FdResolve(fd int, path string) (*vfs.File, errno.Errno) {
	if len(path) > 0 && path[0] == '/' {
		return &vfs.File{Path: vfs.ParsePathBuf(path)}, errno.OK
	}
	var base *vfs.File
	if fd == AtFDCWD {
		t.PCB.Lock()
		base = t.PCB.CurrDir
		t.PCB.Unlock()
	} else {
		base = t.GetFd(fd)
		if base == nil {
			return nil, errno.EBADF
		}
	}
	return &vfs.File{Path: base.PathBufOf().Join(path)}, errno.OK
}

// PushStr copies s (NUL-terminated) onto the stack below sp and returns
// the new stack pointer, used while building argv/envp (spec §4.E,
// §4.G).
func PushStr(pt mm.PageTable, mem mm.HostMemory, sp uintptr, s string) uintptr {
	data := append([]byte(s), 0)
	sp -= uintptr(len(data))
	writeBytes(pt, mem, sp, data)
	return sp
}

// PushArr writes ptrs (e.g. an argv/envp pointer vector, NULL-terminated
// by the caller including a trailing 0 in ptrs) onto the stack below sp,
// word-aligned, and returns the new stack pointer (spec §4.E, §4.G).
func PushArr(pt mm.PageTable, mem mm.HostMemory, sp uintptr, ptrs []uintptr) uintptr {
	const wordSize = 8
	sp -= uintptr(len(ptrs)) * wordSize
	sp &^= (wordSize - 1)
	for i, p := range ptrs {
		writeWord(pt, mem, sp+uintptr(i)*wordSize, p)
	}
	return sp
}

// writeBytes/writeWord stage data into the stack's backing frames by
// translating the destination virtual address and writing through the
// host's direct-mapped view of that physical frame.
func writeBytes(pt mm.PageTable, mem mm.HostMemory, vaddr uintptr, data []byte) {
	phys, ok := pt.Translate(mm.VirtAddr(vaddr))
	if !ok {
		return
	}
	copy(mem.Bytes(phys, len(data)), data)
}

func writeWord(pt mm.PageTable, mem mm.HostMemory, vaddr uintptr, word uintptr) {
	var buf [8]byte
	for i := range buf {
		buf[i] = byte(word >> (8 * i))
	}
	writeBytes(pt, mem, vaddr, buf[:])
}

// ThreadExit ends this single thread (spec §4.E): it clears
// tcb.ClearChildTID (waking one futex waiter there, per the
// set_tid_address(2)/clone(2) contract), records code, and if this is
// the last live thread of the process, tears down the PCB's resources and
// notifies the parent. Non-leader threads then detach from the process's
// child list and release their PCB reference.
func (t *UserTask) ThreadExit(code int) {
	var clearAddr uintptr
	t.WithTCB(func(tcb *ThreadControlBlock) {
		clearAddr = tcb.ClearChildTID
		tcb.ThreadExitCode = &code
	})
	if clearAddr != 0 {
		t.PCB.Futex.Wake(clearAddr, 1)
	}

	if t.PCB.refCount.Load() == 1 {
		t.exitProcess(code)
	}

	if t.TaskID != t.ProcessID {
		t.PCB.Lock()
		t.PCB.Threads = removeTask(t.PCB.Threads, t)
		t.PCB.Unlock()
		if t.Parent != nil {
			t.Parent.PCB.Lock()
			t.Parent.PCB.Children = removeTask(t.Parent.PCB.Children, t)
			t.Parent.PCB.Unlock()
		}
		t.release()
	}
}

// Exit ends the whole process regardless of how many threads remain,
// used by exit_group(2) (spec §4.E). It runs the process teardown
// directly: it records no thread exit code and does not wake a
// clear_child_tid waiter.
func (t *UserTask) Exit(code int) {
	t.exitProcess(code)
}

func (t *UserTask) exitProcess(code int) {
	t.PCB.Lock()
	orphans := t.PCB.Children
	if t.PCB.ExitCode == nil {
		t.PCB.MemSet.Clear()
		t.PCB.FDTable = nil
		t.PCB.Children = nil
		t.PCB.ExitCode = &code
	}
	t.PCB.Unlock()

	if initTask, ok := InitTask.TryGet(); ok && initTask != t {
		for _, orphan := range orphans {
			orphan.Parent = initTask
		}
	}

	if t.Parent != nil {
		sig := CHLD
		t.tcbMu.RLock()
		if t.TCB.ExitSignal != 0 {
			sig = t.TCB.ExitSignal
		}
		t.tcbMu.RUnlock()
		t.Parent.WithTCB(func(tcb *ThreadControlBlock) {
			tcb.Signal.Insert(sig)
		})
	}
	taskLog(t.TaskID).WithField("exit_code", code).Debug("kernel: process exited")
	eventchannel.Emit("task-exit", "task %d (process %d) exited with code %d", t.TaskID, t.ProcessID, code)
}

// release decrements the PCB's reference count and hands the task slot
// back to the executor. It is a fatal internal error for a task to reach
// this point without having recorded an exit code (spec §4.E invariant).
func (t *UserTask) release() {
	t.tcbMu.RLock()
	exited := t.TCB.ThreadExitCode != nil
	t.tcbMu.RUnlock()
	if !exited {
		panic(fmt.Sprintf("kernel: task %d released without an exit code", t.TaskID))
	}
	t.PCB.refCount.Add(-1)
	if t.releaser != nil {
		t.releaser.Release(t.TaskID)
	}
}

func removeTask(list []*UserTask, target *UserTask) []*UserTask {
	for i, task := range list {
		if task == target {
			return append(list[:i], list[i+1:]...)
		}
	}
	return list
}
