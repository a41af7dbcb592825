package syscalls

import (
	"context"
	"encoding/binary"
	"testing"
	"time"

	"github.com/oscomp/gokernel/pkg/errno"
	"github.com/oscomp/gokernel/pkg/sentry/fsimpl/allocfs"
	"github.com/oscomp/gokernel/pkg/sentry/fsimpl/devfs"
	"github.com/oscomp/gokernel/pkg/sentry/kernel"
	"github.com/oscomp/gokernel/pkg/sentry/loader"
	"github.com/oscomp/gokernel/pkg/sentry/mm"
	"github.com/oscomp/gokernel/pkg/sentry/platform/software"
	"github.com/oscomp/gokernel/pkg/sentry/vfs"
)

// newHarness builds a real Env+UserTask pair (AllocFS root, DevFS at
// /dev, software arena/page table) so these tests exercise Dispatch
// through the actual VFS and memory stack rather than mocks.
func newHarness() (*Env, *kernel.UserTask) {
	root := allocfs.New()
	dev := devfs.New()
	mount := &vfs.Mount{Root: root.RootDir(), DevRoot: dev.RootDir()}
	arena := software.NewArena(256)
	env := &Env{
		Alloc:  arena,
		Memory: arena,
		Loader: &loader.Loader{Alloc: arena, Memory: arena, FS: mount},
		NewPageTable: func() mm.PageTable {
			return software.NewPageTable()
		},
	}
	pt := software.NewPageTable()
	task := kernel.NewTask(pt, nil, &vfs.File{Path: vfs.RootPathBuf()}, nil)

	// Map one page of stack-like scratch space at a fixed address so
	// handlers can read/write "user" strings and buffers through it.
	frames, _ := arena.AllocMuch(1)
	pt.MapPage(mm.VirtAddr(scratchBase), frames[0], mm.URWX)
	return env, task
}

const scratchBase = 0x5000_0000

// putCString writes a NUL-terminated string into the harness's scratch
// page at the given offset and returns its virtual address.
func putCString(env *Env, task *kernel.UserTask, offset int, s string) uintptr {
	vaddr := uintptr(scratchBase + offset)
	dst := userBytes(env, task, vaddr, len(s)+1)
	copy(dst, s)
	dst[len(s)] = 0
	return vaddr
}

func dispatch(env *Env, task *kernel.UserTask, table Table, nr uintptr, args Args) Result {
	return Dispatch(context.Background(), table, env, task, nr, args)
}

func TestDispatchUnknownSyscallReturnsEPERM(t *testing.T) {
	env, task := newHarness()
	res := dispatch(env, task, Generic, 999999, Args{})
	if res.Err != errno.EPERM {
		t.Fatalf("Dispatch(unknown) = %v, want EPERM", res.Err)
	}
}

func TestCheckAsyncShapePanicsOnMismatch(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("checkAsyncShape did not panic on a misclassified handler")
		}
	}()
	checkAsyncShape(Table{0: Entry{Name: "read", Sync: stubOK}})
}

func TestOpenatWriteReadCloseRoundTrip(t *testing.T) {
	env, task := newHarness()
	path := putCString(env, task, 0, "greet.txt")

	openRes := dispatch(env, task, Generic, 56 /* openat */, Args{uintptr(kernel.AtFDCWD), path, uintptr(vfs.OCreat)})
	if openRes.Err != errno.OK {
		t.Fatalf("openat: %v", openRes.Err)
	}
	fd := openRes.Val

	msg := putCString(env, task, 64, "hello")
	writeRes := dispatch(env, task, Generic, 64 /* write */, Args{fd, msg, 5})
	if writeRes.Err != errno.OK || writeRes.Val != 5 {
		t.Fatalf("write: val=%d err=%v", writeRes.Val, writeRes.Err)
	}

	readBuf := uintptr(scratchBase + 128)
	readFd := task.GetFd(int(fd))
	readFd.Offset = 0
	readRes := dispatch(env, task, Generic, 63 /* read */, Args{fd, readBuf, 5})
	if readRes.Err != errno.OK || readRes.Val != 5 {
		t.Fatalf("read: val=%d err=%v", readRes.Val, readRes.Err)
	}
	got := userBytes(env, task, readBuf, 5)
	if string(got) != "hello" {
		t.Fatalf("readback = %q, want hello", got)
	}

	closeRes := dispatch(env, task, Generic, 57 /* close */, Args{fd})
	if closeRes.Err != errno.OK {
		t.Fatalf("close: %v", closeRes.Err)
	}
	if task.GetFd(int(fd)) != nil {
		t.Fatal("fd still installed after close")
	}
}

func TestFstatWritesSizeIntoGuestBuffer(t *testing.T) {
	env, task := newHarness()
	path := putCString(env, task, 0, "sized.txt")
	openRes := dispatch(env, task, Generic, 56 /* openat */, Args{uintptr(kernel.AtFDCWD), path, uintptr(vfs.OCreat)})
	if openRes.Err != errno.OK {
		t.Fatalf("openat: %v", openRes.Err)
	}
	fd := openRes.Val

	payload := putCString(env, task, 64, "0123456789")
	if res := dispatch(env, task, Generic, 64 /* write */, Args{fd, payload, 10}); res.Err != errno.OK {
		t.Fatalf("write: %v", res.Err)
	}

	statBuf := uintptr(scratchBase + 256)
	res := fstatHandler(env, task, Args{fd, statBuf})
	if res.Err != errno.OK {
		t.Fatalf("fstat: %v", res.Err)
	}
	raw := userBytes(env, task, statBuf, statBufSize)
	gotSize := int64(binary.LittleEndian.Uint64(raw[24:32]))
	if gotSize != 10 {
		t.Fatalf("stat buffer Size field = %d, want 10 (raw=%x)", gotSize, raw)
	}
	gotMode := binary.LittleEndian.Uint32(raw[8:12])
	if vfs.FileType(gotMode) != vfs.FileRegular {
		t.Fatalf("stat buffer Mode field = %d, want FileRegular", gotMode)
	}
}

func TestMkdiratAndUnlinkat(t *testing.T) {
	env, task := newHarness()
	name := putCString(env, task, 0, "sub")

	res := dispatch(env, task, Generic, 34 /* mkdirat */, Args{uintptr(kernel.AtFDCWD), name})
	if res.Err != errno.OK {
		t.Fatalf("mkdirat: %v", res.Err)
	}
	res = dispatch(env, task, Generic, 35 /* unlinkat */, Args{uintptr(kernel.AtFDCWD), name, uintptr(0x200) /* AT_REMOVEDIR */})
	if res.Err != errno.OK {
		t.Fatalf("unlinkat(dir): %v", res.Err)
	}
}

func TestGetcwdAndChdir(t *testing.T) {
	env, task := newHarness()
	mkdirName := putCString(env, task, 0, "home")
	if res := dispatch(env, task, Generic, 34, Args{uintptr(kernel.AtFDCWD), mkdirName}); res.Err != errno.OK {
		t.Fatalf("mkdirat: %v", res.Err)
	}

	chdirPath := putCString(env, task, 16, "home")
	if res := chdirHandler(env, task, Args{chdirPath}); res.Err != errno.OK {
		t.Fatalf("chdir: %v", res.Err)
	}

	buf := uintptr(scratchBase + 64)
	res := getcwdHandler(env, task, Args{buf, 64})
	if res.Err != errno.OK {
		t.Fatalf("getcwd: %v", res.Err)
	}
	got := cString(userBytes(env, task, buf, 64))
	if got != "/home" {
		t.Fatalf("getcwd = %q, want /home", got)
	}
}

func TestBrkGrowsHeap(t *testing.T) {
	env, task := newHarness()
	first := dispatch(env, task, Generic, 214 /* brk */, Args{0})
	if first.Err != errno.OK {
		t.Fatalf("brk(0): %v", first.Err)
	}
	newBrk := first.Val + mm.PageSize
	second := dispatch(env, task, Generic, 214, Args{newBrk})
	if second.Err != errno.OK || second.Val != newBrk {
		t.Fatalf("brk(grow): val=%#x err=%v, want %#x", second.Val, second.Err, newBrk)
	}
}

func TestDupAndDup2(t *testing.T) {
	env, task := newHarness()
	path := putCString(env, task, 0, "f")
	openRes := dispatch(env, task, Generic, 56, Args{uintptr(kernel.AtFDCWD), path, uintptr(vfs.OCreat)})
	fd := openRes.Val

	dupRes := dupHandler(env, task, Args{fd})
	if dupRes.Err != errno.OK || dupRes.Val == fd {
		t.Fatalf("dup: val=%d err=%v", dupRes.Val, dupRes.Err)
	}

	dup2Res := dup2Handler(env, task, Args{fd, 9})
	if dup2Res.Err != errno.OK || dup2Res.Val != 9 {
		t.Fatalf("dup2: val=%d err=%v", dup2Res.Val, dup2Res.Err)
	}
	if task.GetFd(9) == nil {
		t.Fatal("dup2 did not install fd 9")
	}
}

func TestForkAndWait4(t *testing.T) {
	env, parent := newHarness()
	forkRes := dispatch(env, parent, X86_64, 57 /* fork */, Args{})
	if forkRes.Err != errno.OK {
		t.Fatalf("fork: %v", forkRes.Err)
	}
	childTaskID := kernel.TaskID(forkRes.Val)

	var child *kernel.UserTask
	parent.PCB.Lock()
	for _, c := range parent.PCB.Children {
		if c.TaskID == childTaskID {
			child = c
		}
	}
	parent.PCB.Unlock()
	if child == nil {
		t.Fatal("forked child not recorded in parent's Children")
	}
	child.ThreadExit(3)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	res := Dispatch(ctx, X86_64, env, parent, 260 /* wait4 */, Args{})
	if res.Err != errno.OK || kernel.TaskID(res.Val) != childTaskID {
		t.Fatalf("wait4: val=%d err=%v, want taskid %d", res.Val, res.Err, childTaskID)
	}
}

func TestFutexWakeWithNoWaitersReturnsZero(t *testing.T) {
	env, task := newHarness()
	const futexWake = 1
	res := dispatch(env, task, Generic, 98 /* futex */, Args{0x1000, futexWake, 1})
	if res.Err != errno.OK || res.Val != 0 {
		t.Fatalf("futex wake with no waiters: val=%d err=%v", res.Val, res.Err)
	}
}

func TestFutexWaitWakeRoundTrip(t *testing.T) {
	env, task := newHarness()
	const futexWait, futexWake = 0, 1
	addr := uintptr(0x2000)

	waitCh := make(chan Result, 1)
	go func() {
		waitCh <- Dispatch(context.Background(), Generic, env, task, 98, Args{addr, futexWait})
	}()

	// Give the waiter a moment to register before waking it.
	time.Sleep(20 * time.Millisecond)
	wakeRes := dispatch(env, task, Generic, 98, Args{addr, futexWake, 1})
	if wakeRes.Err != errno.OK || wakeRes.Val != 1 {
		t.Fatalf("futex wake: val=%d err=%v", wakeRes.Val, wakeRes.Err)
	}

	select {
	case res := <-waitCh:
		if res.Err != errno.OK {
			t.Fatalf("futex wait result: %v", res.Err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("futex waiter never woke")
	}
}
