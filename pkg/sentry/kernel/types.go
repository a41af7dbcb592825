// Package kernel implements the process/thread control structures: the
// ProcessControlBlock and ThreadControlBlock pair, the owning UserTask
// container, and the futex wait/wake table (spec §3, §4.E), grounded
// line-for-line on original_source/kernel/src/tasks/task.rs.
package kernel

import (
	"sync/atomic"

	"github.com/oscomp/gokernel/pkg/sentry/mm"
	sentrysync "github.com/oscomp/gokernel/pkg/sentry/sync"
	"github.com/oscomp/gokernel/pkg/sentry/vfs"
)

// TaskID identifies a UserTask; for the main thread of a process, TaskID
// equals ProcessID (spec §3).
type TaskID uint64

var taskIDCounter atomic.Uint64

// AllocTaskID returns a fresh, process-wide-unique task id.
func AllocTaskID() TaskID {
	return TaskID(taskIDCounter.Add(1))
}

// SignalNum is a POSIX signal number.
type SignalNum uint8

// CHLD is the default exit-notification signal (SIGCHLD), sent to a
// parent when exit_signal is unset (spec §4.E step 3).
const CHLD SignalNum = 17

// SigSet is a bitset of pending/blocked signals over the first 64 signal
// numbers; real-time signals (§3 ThreadControlBlock) are queued
// separately in RTSignalQueue.
type SigSet uint64

func (s *SigSet) Insert(sig SignalNum)      { *s |= 1 << SigSet(sig) }
func (s *SigSet) Remove(sig SignalNum)      { *s &^= 1 << SigSet(sig) }
func (s SigSet) Contains(sig SignalNum) bool { return s&(1<<SigSet(sig)) != 0 }

// RealTimeSignalCount is the number of real-time signal slots a TCB
// queues (spec §3 REAL_TIME_SIGNAL_NUM).
const RealTimeSignalCount = 32

// SigAction mirrors struct sigaction's fields this kernel cares about.
type SigAction struct {
	Handler uintptr
	Flags   uintptr
	Mask    SigSet
}

// TrapFrame is the saved register file for a suspended thread. Only the
// fields the spec's operations (push/push_arr, fork return-value zeroing)
// touch are modeled; the rest of the architecture-specific register set
// is an external collaborator (spec §1, the per-arch trap entry).
type TrapFrame struct {
	SP  uintptr
	Ret uintptr
}

// TMS mirrors struct tms from times(2): user/system time for the process
// and its reaped children.
type TMS struct {
	UTime, STime, CUTime, CSTime int64
}

// IntervalTimer is one of a process's three POSIX interval timers
// (ITIMER_REAL, ITIMER_VIRTUAL, ITIMER_PROF).
type IntervalTimer struct {
	Interval, Value int64
}

// SharedMemoryAttachment is one System V shared-memory segment mapped
// into a process's address space.
type SharedMemoryAttachment struct {
	Start VirtAddr
	Size  uintptr
}

// VirtAddr aliases mm.VirtAddr so callers of this package don't need to
// import mm directly for simple address arithmetic.
type VirtAddr = mm.VirtAddr

// RLimit indices this kernel tracks; index 7 (NOFILE) bounds the fd
// table, matching the spec's explicit "bounded by rlimits[7]".
const (
	RLimitNoFile = 7
	rlimitCount  = 8
)

// NewRLimits returns the default resource limits, matching the
// original's rlimits_new(): a generous default NOFILE limit and zero
// elsewhere (every other limit this kernel's syscalls consult either
// isn't modeled or is unenforced, per spec's "security/permission checks"
// non-goal).
func NewRLimits() [rlimitCount]uintptr {
	var r [rlimitCount]uintptr
	r[RLimitNoFile] = 256
	return r
}

// ProcessControlBlock is the per-process state shared by every thread of
// that process (spec §3).
type ProcessControlBlock struct {
	mu sentrysync.Mutex

	MemSet   *mm.MemSet
	FDTable  []*vfs.File
	CurrDir  *vfs.File
	Heap     uintptr
	Entry    uintptr
	Children []*UserTask
	TMS      TMS
	RLimits  [rlimitCount]uintptr
	SigAction [65]SigAction
	Futex    *FutexTable
	Shms     []SharedMemoryAttachment
	Timers   [3]IntervalTimer
	Threads  []*UserTask
	ExitCode *int

	// refCount models Rust's Arc::strong_count(&self.pcb): one count per
	// live UserTask that shares this PCB. It is incremented whenever a
	// new thread is added (NewTask, ThreadClone) and decremented by
	// release() when a non-leader thread exits (spec §4.E step 4).
	// Go's tracing GC collects the PCB/parent/children reference cycle
	// on its own, so unlike the Rust original this counter exists only
	// to detect "last thread out", not to free memory.
	refCount atomic.Int32
}

// Lock/Unlock expose the PCB's single mutex, which guards every PCB
// field at once; the fields are not locked independently of one
// another. Callers do not hold it across an await point.
func (p *ProcessControlBlock) Lock()   { p.mu.Lock() }
func (p *ProcessControlBlock) Unlock() { p.mu.Unlock() }

// ThreadControlBlock is the per-thread state (spec §3).
type ThreadControlBlock struct {
	Frame          TrapFrame
	SigMask        SigSet
	ClearChildTID  uintptr
	SetChildTID    uintptr
	Signal         SigSet
	RTSignalQueue  [RealTimeSignalCount]uintptr
	ExitSignal     SignalNum
	ThreadExitCode *int
}
