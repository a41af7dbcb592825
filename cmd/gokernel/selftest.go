package main

import (
	"context"
	"flag"
	"fmt"

	"github.com/google/subcommands"
	"github.com/sirupsen/logrus"

	"github.com/oscomp/gokernel/pkg/errno"
	"github.com/oscomp/gokernel/pkg/sentry/fsimpl/allocfs"
	"github.com/oscomp/gokernel/pkg/sentry/fsimpl/devfs"
	"github.com/oscomp/gokernel/pkg/sentry/kernel"
	"github.com/oscomp/gokernel/pkg/sentry/loader"
	"github.com/oscomp/gokernel/pkg/sentry/mm"
	"github.com/oscomp/gokernel/pkg/sentry/platform/software"
	"github.com/oscomp/gokernel/pkg/sentry/syscalls"
	"github.com/oscomp/gokernel/pkg/sentry/vfs"
)

// selftestCommand runs the end-to-end scenarios spec.md §8 names (S1-S7)
// against the software platform stand-in and reports pass/fail for each,
// matching SPEC_FULL §A's "CLI / init" ambient-stack requirement.
type selftestCommand struct{}

func (*selftestCommand) Name() string     { return "selftest" }
func (*selftestCommand) Synopsis() string { return "run the S1-S7 end-to-end scenarios" }
func (*selftestCommand) Usage() string    { return "selftest\n" }
func (*selftestCommand) SetFlags(*flag.FlagSet) {}

type scenario struct {
	name string
	run  func() error
}

func (*selftestCommand) Execute(ctx context.Context, f *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	scenarios := []scenario{
		{"S1 /hello round-trip", scenarioS1},
		{"S2 shebang-less shell fallback", scenarioS2},
		{"S3 dynamic ELF PT_INTERP recursion", scenarioS3},
		{"S4 fork + exit signal", scenarioS4},
		{"S5 CoW fault", scenarioS5},
		{"S6 unknown syscall", scenarioS6},
		{"S7 symlink readat", scenarioS7},
	}

	failed := 0
	for _, s := range scenarios {
		if err := s.run(); err != nil {
			fmt.Printf("FAIL %s: %v\n", s.name, err)
			failed++
			continue
		}
		fmt.Printf("PASS %s\n", s.name)
	}
	if failed > 0 {
		logrus.WithField("failed", failed).Error("gokernel: selftest had failures")
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

// scenarioS1 exercises mkdir → create → writeat → readat on AllocFS
// (spec §8 S1).
func scenarioS1() error {
	root := allocfs.New().RootDir()
	if e := root.Mkdir("home"); e != errno.OK {
		return fmt.Errorf("mkdir: %v", e)
	}
	home, e := root.Lookup("home")
	if e != errno.OK {
		return fmt.Errorf("lookup home: %v", e)
	}
	if e := home.Create("greet", vfs.FileRegular); e != errno.OK {
		return fmt.Errorf("create greet: %v", e)
	}
	greet, e := home.Lookup("greet")
	if e != errno.OK {
		return fmt.Errorf("lookup greet: %v", e)
	}
	if n, e := greet.WriteAt(0, []byte("hi\n")); e != errno.OK || n != 3 {
		return fmt.Errorf("writeat: n=%d e=%v", n, e)
	}
	buf := make([]byte, 8)
	n, e := greet.ReadAt(0, buf)
	if e != errno.OK || n != 3 || string(buf[:3]) != "hi\n" {
		return fmt.Errorf("readat: n=%d e=%v buf=%q", n, e, buf[:n])
	}
	return nil
}

// scenarioS2 exec's a non-ELF file starting with a shebang line and
// checks the loader falls back to re-entering with path "busybox" (spec
// §8 S2): the visible effect is that the final PCB.Entry matches
// busybox's own entry point rather than erroring out on the unparseable
// run.sh bytes.
func scenarioS2() error {
	root := allocfs.New()
	createFile(root.RootDir(), "run.sh", []byte("#!/bin/sh\necho hi\n"))
	const busyboxEntry = 0x40_1000
	createFile(root.RootDir(), "busybox", buildMinimalELF(busyboxEntry, ""))

	task, e := execFixture(root, "run.sh", []string{"run.sh"})
	if e != errno.OK {
		return fmt.Errorf("exec run.sh: %v", e)
	}
	task.PCB.Lock()
	entry := task.PCB.Entry
	task.PCB.Unlock()
	if entry != busyboxEntry {
		return fmt.Errorf("entry = %#x, want busybox's %#x", entry, uintptr(busyboxEntry))
	}
	return nil
}

// scenarioS3 exec's an ELF with a PT_INTERP segment and checks the
// loader recurses into the named interpreter (spec §8 S3): the final
// PCB.Entry matches libc.so's entry point, not prog's own.
func scenarioS3() error {
	root := allocfs.New()
	const (
		progEntry  = 0x40_2000
		libcEntry  = 0x40_3000
	)
	createFile(root.RootDir(), "prog", buildMinimalELF(progEntry, "libc.so"))
	createFile(root.RootDir(), "libc.so", buildMinimalELF(libcEntry, ""))

	task, e := execFixture(root, "prog", []string{"prog"})
	if e != errno.OK {
		return fmt.Errorf("exec prog: %v", e)
	}
	task.PCB.Lock()
	entry := task.PCB.Entry
	task.PCB.Unlock()
	if entry != libcEntry {
		return fmt.Errorf("entry = %#x, want libc.so's %#x", entry, uintptr(libcEntry))
	}
	return nil
}

func createFile(dir vfs.Inode, name string, content []byte) {
	if e := dir.Create(name, vfs.FileRegular); e != errno.OK {
		panic(fmt.Sprintf("selftest fixture: create %s: %v", name, e))
	}
	inode, e := dir.Lookup(name)
	if e != errno.OK {
		panic(fmt.Sprintf("selftest fixture: lookup %s: %v", name, e))
	}
	if _, e := inode.WriteAt(0, content); e != errno.OK {
		panic(fmt.Sprintf("selftest fixture: writeat %s: %v", name, e))
	}
}

func execFixture(root *allocfs.AllocFS, path string, argv []string) (*kernel.UserTask, errno.Errno) {
	arena := software.NewArena(256)
	mount := &vfs.Mount{Root: root.RootDir(), DevRoot: devfs.New().RootDir()}
	ld := &loader.Loader{Alloc: arena, Memory: arena, FS: mount}
	task := kernel.NewTask(software.NewPageTable(), nil, &vfs.File{Path: vfs.RootPathBuf()}, nil)
	e := ld.ExecWithProcess(task, vfs.RootPathBuf(), path, argv, nil)
	return task, e
}

// scenarioS4 forks, has the child exit(5), and checks the parent's
// pending signal set gained SIGCHLD and the child's recorded exit code
// is 5, the two observable halves of wait4's contract (spec §8 S4).
func scenarioS4() error {
	parent := kernel.NewTask(software.NewPageTable(), nil, nil, nil)
	child := parent.CowFork(software.NewPageTable())
	child.ThreadExit(5)

	var hasChld bool
	parent.WithTCB(func(tcb *kernel.ThreadControlBlock) {
		hasChld = tcb.Signal.Contains(kernel.CHLD)
	})
	if !hasChld {
		return fmt.Errorf("parent TCB missing SIGCHLD after child exit")
	}
	child.PCB.Lock()
	code := child.PCB.ExitCode
	child.PCB.Unlock()
	if code == nil || *code != 5 {
		return fmt.Errorf("child exit code = %v, want 5", code)
	}
	return nil
}

// scenarioS5 forks a parent with 4 mapped pages, checks all 4 are
// downgraded to URX (not writable) in both parent and child, then
// simulates the out-of-scope write-fault fix-up giving the child a fresh
// frame for page 2 and checks pages 0/1/3 still share physical frames
// across parent/child while page 2 now diverges (spec §8 S5).
func scenarioS5() error {
	arena := software.NewArena(64)
	parentPT := software.NewPageTable()
	parent := kernel.NewTask(parentPT, nil, nil, nil)

	const npages = 4
	base := mm.VirtAddr(0x1000_0000)
	if _, ok := mm.FrameAlloc(parentPT, arena, parent.PCB.MemSet, base, mm.Mmap, npages); !ok {
		return fmt.Errorf("frame alloc failed")
	}
	for i := 0; i < npages; i++ {
		v := pageAt(base, i)
		phys, ok := parentPT.Translate(v)
		if !ok {
			return fmt.Errorf("page %d unmapped after alloc", i)
		}
		arena.Bytes(phys, mm.PageSize)[0] = byte(i + 1)
	}

	childPT := software.NewPageTable()
	child := parent.CowFork(childPT)

	for i := 0; i < npages; i++ {
		v := pageAt(base, i)
		if parentPT.Writable(v) {
			return fmt.Errorf("page %d still writable in parent after fork", i)
		}
		if childPT.Writable(v) {
			return fmt.Errorf("page %d writable in child before any write fault", i)
		}
	}

	// Simulate the write-fault fix-up (spec §9, explicitly out of this
	// kernel's scope): allocate the child a fresh frame for page 2 and
	// remap it URWX, copying the old contents first.
	faultPage := pageAt(base, 2)
	oldPhys, _ := childPT.Translate(faultPage)
	fresh, ok := arena.AllocMuch(1)
	if !ok {
		return fmt.Errorf("fault fix-up: out of frames")
	}
	copy(arena.Bytes(fresh[0].Addr, mm.PageSize), arena.Bytes(oldPhys, mm.PageSize))
	childPT.MapPage(faultPage, fresh[0], mm.URWX)
	arena.Bytes(fresh[0].Addr, mm.PageSize)[0] = 0xFF

	for i := 0; i < npages; i++ {
		v := pageAt(base, i)
		pp, _ := parentPT.Translate(v)
		cp, _ := childPT.Translate(v)
		if i == 2 {
			if pp == cp {
				return fmt.Errorf("page 2 still shares a physical frame after child's write")
			}
			continue
		}
		if pp != cp {
			return fmt.Errorf("page %d diverged physical frame unexpectedly (parent=%#x child=%#x)", i, pp, cp)
		}
	}
	_ = child
	return nil
}

func pageAt(base mm.VirtAddr, i int) mm.VirtAddr {
	return mm.VirtAddr(uintptr(base) + uintptr(i)*mm.PageSize)
}

// scenarioS6 dispatches an unrecognized syscall number against the real
// Generic table and checks it resolves to EPERM (spec §8 S6; "emits one
// warning record" is exercised by dispatch.go's logrus/eventchannel
// calls, observable in the log stream rather than the return value).
func scenarioS6() error {
	result := syscalls.Dispatch(context.Background(), syscalls.Generic, &syscalls.Env{}, nil, 99999, syscalls.Args{})
	if result.Err != errno.EPERM {
		return fmt.Errorf("dispatch(99999) errno = %v, want EPERM", result.Err)
	}
	return nil
}

// scenarioS7 links a name to an existing inode and checks readat through
// the link matches readat on the target directly (spec §8 S7).
func scenarioS7() error {
	root := allocfs.New().RootDir()
	if e := root.Create("target", vfs.FileRegular); e != errno.OK {
		return fmt.Errorf("create target: %v", e)
	}
	target, e := root.Lookup("target")
	if e != errno.OK {
		return fmt.Errorf("lookup target: %v", e)
	}
	target.WriteAt(0, []byte("payload"))
	if e := root.Link("alias", target); e != errno.OK {
		return fmt.Errorf("link: %v", e)
	}
	alias, e := root.Lookup("alias")
	if e != errno.OK {
		return fmt.Errorf("lookup alias: %v", e)
	}
	buf1 := make([]byte, 16)
	buf2 := make([]byte, 16)
	n1, _ := alias.ReadAt(0, buf1)
	n2, _ := target.ReadAt(0, buf2)
	if n1 != n2 || string(buf1[:n1]) != string(buf2[:n2]) {
		return fmt.Errorf("alias readat %q != target readat %q", buf1[:n1], buf2[:n2])
	}
	return nil
}
