package syscalls

import (
	"context"
	"encoding/binary"
	"time"

	"github.com/oscomp/gokernel/pkg/errno"
	"github.com/oscomp/gokernel/pkg/sentry/kernel"
	"github.com/oscomp/gokernel/pkg/sentry/kernel/ioadapter"
	"github.com/oscomp/gokernel/pkg/sentry/mm"
	"github.com/oscomp/gokernel/pkg/sentry/vfs"
)

// Resolver is the mounted-filesystem view a running task's path-taking
// syscalls resolve against; composed in cmd/gokernel from AllocFS (at
// "/") and DevFS (at "/dev").
type Resolver interface {
	Open(path vfs.PathBuf, flags vfs.OpenFlags) (vfs.Inode, errno.Errno)
}

// userBytes returns the host byte span backing count bytes at vaddr in
// task's address space, via the loader's HostMemory collaborator. A
// syscall buffer that spans more than one physical frame is a
// simplification this kernel does not model (spec's frame allocator
// always hands back physically-contiguous runs for a single mmap/brk
// request, which covers every buffer these handlers see in practice).
func userBytes(env *Env, task *kernel.UserTask, vaddr uintptr, count int) []byte {
	phys, ok := task.PageTable.Translate(mm.VirtAddr(vaddr))
	if !ok {
		return nil
	}
	return env.Memory.Bytes(phys, count)
}

func openatHandler(env *Env, task *kernel.UserTask, args Args) Result {
	fd := int(int64(args[0]))
	pathBuf := userBytes(env, task, args[1], 256)
	path := cString(pathBuf)
	flags := vfs.OpenFlags(args[2])

	file, e := task.FdResolve(fd, path)
	if e != errno.OK {
		return errResult(e)
	}
	fs, ok := env.Loader.FS.(Resolver)
	if !ok {
		return errResult(errno.ENOSYS)
	}
	inode, e := fs.Open(file.Path, flags)
	if e != errno.OK {
		return errResult(e)
	}
	file.Inode = inode
	file.Flags = flags
	newFd, e := task.AllocFd(file)
	if e != errno.OK {
		return errResult(e)
	}
	return Result{Val: uintptr(newFd), Err: errno.OK}
}

// openHandler is legacy open(2)'s (path, flags, mode) argument order
// reshaped into openatHandler's (dirfd, path, flags) one, the way x86_64's
// open is itself defined as openat(AT_FDCWD, ...) in every modern libc.
func openHandler(env *Env, task *kernel.UserTask, args Args) Result {
	return openatHandler(env, task, Args{uintptr(kernel.AtFDCWD), args[0], args[1]})
}

func closeHandler(env *Env, task *kernel.UserTask, args Args) Result {
	task.ClearFd(int(int64(args[0])))
	return Result{Err: errno.OK}
}

func readAsync(ctx context.Context, env *Env, task *kernel.UserTask, args Args) <-chan Result {
	fd := int(int64(args[0]))
	count := int(args[2])
	file := task.GetFd(fd)
	if file == nil {
		return immediate(errResult(errno.EBADF))
	}
	buf := userBytes(env, task, args[1], count)
	ch := ioadapter.WaitBlockingRead(ctx, file.Inode, buf, file.Offset)
	return relay(ch, func(r ioadapter.Result) { file.Offset += int64(r.N) })
}

func writeAsync(ctx context.Context, env *Env, task *kernel.UserTask, args Args) <-chan Result {
	fd := int(int64(args[0]))
	count := int(args[2])
	file := task.GetFd(fd)
	if file == nil {
		return immediate(errResult(errno.EBADF))
	}
	buf := userBytes(env, task, args[1], count)
	ch := ioadapter.WaitBlockingWrite(ctx, file.Inode, buf, file.Offset)
	return relay(ch, func(r ioadapter.Result) { file.Offset += int64(r.N) })
}

func relay(ch <-chan ioadapter.Result, onDone func(ioadapter.Result)) <-chan Result {
	out := make(chan Result, 1)
	go func() {
		r := <-ch
		onDone(r)
		out <- Result{Val: uintptr(r.N), Err: r.Err}
	}()
	return out
}

func immediate(r Result) <-chan Result {
	ch := make(chan Result, 1)
	ch <- r
	return ch
}

func fstatHandler(env *Env, task *kernel.UserTask, args Args) Result {
	file := task.GetFd(int(int64(args[0])))
	if file == nil {
		return errResult(errno.EBADF)
	}
	return statInto(env, task, file.Inode, args[1])
}

func statHandler(env *Env, task *kernel.UserTask, args Args) Result {
	return statAt(env, task, args, kernel.AtFDCWD)
}

func lstatHandler(env *Env, task *kernel.UserTask, args Args) Result {
	return statAt(env, task, args, kernel.AtFDCWD)
}

func statAt(env *Env, task *kernel.UserTask, args Args, dirfd int) Result {
	path := cString(userBytes(env, task, args[0], 256))
	file, e := task.FdResolve(dirfd, path)
	if e != errno.OK {
		return errResult(e)
	}
	fs, ok := env.Loader.FS.(Resolver)
	if !ok {
		return errResult(errno.ENOSYS)
	}
	inode, e := fs.Open(file.Path, vfs.ORdOnly)
	if e != errno.OK {
		return errResult(e)
	}
	return statInto(env, task, inode, args[1])
}

// statBufSize is the size of the packed little-endian layout statInto
// writes: Ino(8) Mode(4) Nlink(4) UID(4) GID(4) Size(8) BlkSize(4)
// Blocks(8), in that field order. This is not libc's struct stat ABI
// (spec scopes "standard ELF64, POSIX errno" but never specifies a libc
// ABI) — it's this kernel's own on-the-wire layout, stable enough for a
// caller that reads it back with the same field order to recover every
// value Inode.Stat populates.
const statBufSize = 8 + 4 + 4 + 4 + 4 + 8 + 4 + 8

// statInto fills the guest's struct stat buffer at outVaddr from inode's
// Inode.Stat result (spec §4.B's VFS stat(out) operation).
func statInto(env *Env, task *kernel.UserTask, inode vfs.Inode, outVaddr uintptr) Result {
	var st vfs.Stat
	if e := inode.Stat(&st); e != errno.OK {
		return errResult(e)
	}
	out := userBytes(env, task, outVaddr, statBufSize)
	if out == nil {
		return errResult(errno.EINVAL)
	}
	le := binary.LittleEndian
	le.PutUint64(out[0:8], st.Ino)
	le.PutUint32(out[8:12], uint32(st.Mode))
	le.PutUint32(out[12:16], st.Nlink)
	le.PutUint32(out[16:20], st.UID)
	le.PutUint32(out[20:24], st.GID)
	le.PutUint64(out[24:32], uint64(st.Size))
	le.PutUint32(out[32:36], st.BlkSize)
	le.PutUint64(out[36:44], uint64(st.Blocks))
	return Result{Err: errno.OK}
}

func mkdirHandler(env *Env, task *kernel.UserTask, args Args) Result {
	return mkdiratHandler(env, task, Args{uintptr(kernel.AtFDCWD), args[0], args[1]})
}

func mkdiratHandler(env *Env, task *kernel.UserTask, args Args) Result {
	dirfd := int(int64(args[0]))
	path := cString(userBytes(env, task, args[1], 256))
	file, e := task.FdResolve(dirfd, path)
	if e != errno.OK {
		return errResult(e)
	}
	fs, ok := env.Loader.FS.(Resolver)
	if !ok {
		return errResult(errno.ENOSYS)
	}
	parent, e := fs.Open(parentOf(file.Path), vfs.ODirectory)
	if e != errno.OK {
		return errResult(e)
	}
	return errResult(parent.Mkdir(leafOf(file.Path)))
}

func rmdirHandler(env *Env, task *kernel.UserTask, args Args) Result {
	return removeHandler(env, task, args, true)
}

func unlinkHandler(env *Env, task *kernel.UserTask, args Args) Result {
	return removeHandler(env, task, args, false)
}

func unlinkatHandler(env *Env, task *kernel.UserTask, args Args) Result {
	dirfd := int(int64(args[0]))
	path := cString(userBytes(env, task, args[1], 256))
	return removeAt(env, task, dirfd, path, args[2] != 0)
}

func removeHandler(env *Env, task *kernel.UserTask, args Args, dir bool) Result {
	path := cString(userBytes(env, task, args[0], 256))
	return removeAt(env, task, kernel.AtFDCWD, path, dir)
}

func removeAt(env *Env, task *kernel.UserTask, dirfd int, path string, dir bool) Result {
	file, e := task.FdResolve(dirfd, path)
	if e != errno.OK {
		return errResult(e)
	}
	fs, ok := env.Loader.FS.(Resolver)
	if !ok {
		return errResult(errno.ENOSYS)
	}
	parent, e := fs.Open(parentOf(file.Path), vfs.ODirectory)
	if e != errno.OK {
		return errResult(e)
	}
	if dir {
		return errResult(parent.Rmdir(leafOf(file.Path)))
	}
	return errResult(parent.Unlink(leafOf(file.Path)))
}

func execveHandler(env *Env, task *kernel.UserTask, args Args) Result {
	path := cString(userBytes(env, task, args[0], 256))
	argv := cStringVec(env, task, args[1])
	envp := cStringVec(env, task, args[2])
	task.PCB.Lock()
	cwd := task.PCB.CurrDir
	task.PCB.Unlock()
	var cwdPath vfs.PathBuf
	if cwd != nil {
		cwdPath = cwd.PathBufOf()
	}
	e := env.Loader.ExecWithProcess(task, cwdPath, path, argv, envp)
	return errResult(e)
}

func exitHandler(env *Env, task *kernel.UserTask, args Args) Result {
	task.ThreadExit(int(int64(args[0])))
	return Result{Err: errno.OK}
}

func exitGroupHandler(env *Env, task *kernel.UserTask, args Args) Result {
	task.Exit(int(int64(args[0])))
	return Result{Err: errno.OK}
}

func brkHandler(env *Env, task *kernel.UserTask, args Args) Result {
	newBrk := args[0]
	task.PCB.Lock()
	cur := task.PCB.Heap
	task.PCB.Unlock()
	if newBrk == 0 {
		return Result{Val: cur, Err: errno.OK}
	}
	grown := task.Sbrk(env.Alloc, int(newBrk-cur))
	return Result{Val: grown, Err: errno.OK}
}

func cloneAsync(ctx context.Context, env *Env, task *kernel.UserTask, args Args) <-chan Result {
	child := task.ThreadClone(args[3])
	return immediate(Result{Val: uintptr(child.TaskID), Err: errno.OK})
}

func futexAsync(ctx context.Context, env *Env, task *kernel.UserTask, args Args) <-chan Result {
	addr := args[0]
	op := args[1]
	const futexWait, futexWake = 0, 1
	switch op {
	case futexWake:
		n := int(args[2])
		woke := task.PCB.Futex.Wake(addr, n)
		return immediate(Result{Val: uintptr(woke), Err: errno.OK})
	case futexWait:
		w := task.PCB.Futex.Wait(addr, task.TaskID)
		out := make(chan Result, 1)
		go func() {
			select {
			case <-w.Done:
				out <- Result{Err: errno.OK}
			case <-ctx.Done():
				task.PCB.Futex.Cancel(addr, w)
				out <- Result{Err: errno.ETIMEDOUT}
			}
		}()
		return out
	default:
		return immediate(errResult(errno.EINVAL))
	}
}

func errResult(e errno.Errno) Result {
	if e == errno.OK {
		return Result{Err: errno.OK}
	}
	return Result{Val: e.Negated(), Err: e}
}

func cString(buf []byte) string {
	for i, b := range buf {
		if b == 0 {
			return string(buf[:i])
		}
	}
	return string(buf)
}

func cStringVec(env *Env, task *kernel.UserTask, vaddr uintptr) []string {
	if vaddr == 0 {
		return nil
	}
	var out []string
	for i := 0; i < 256; i++ {
		ptrBytes := userBytes(env, task, vaddr+uintptr(i)*8, 8)
		if ptrBytes == nil {
			break
		}
		var p uintptr
		for j := 7; j >= 0; j-- {
			p = p<<8 | uintptr(ptrBytes[j])
		}
		if p == 0 {
			break
		}
		out = append(out, cString(userBytes(env, task, p, 256)))
	}
	return out
}

func parentOf(p vfs.PathBuf) vfs.PathBuf {
	s := p.String()
	i := len(s) - 1
	for i > 0 && s[i] != '/' {
		i--
	}
	if i == 0 {
		return vfs.RootPathBuf()
	}
	return vfs.ParsePathBuf(s[:i])
}

func leafOf(p vfs.PathBuf) string {
	s := p.String()
	i := len(s) - 1
	for i > 0 && s[i-1] != '/' {
		i--
	}
	return s[i:]
}

func renameHandler(env *Env, task *kernel.UserTask, args Args) Result {
	return renameAt(env, task, kernel.AtFDCWD, cString(userBytes(env, task, args[0], 256)),
		kernel.AtFDCWD, cString(userBytes(env, task, args[1], 256)))
}

// renameat2Handler treats renameat as renameat2 with an implied flags
// value of 0 (spec §4.H, D).
func renameat2Handler(env *Env, task *kernel.UserTask, args Args) Result {
	return renameAt(env, task, int(int64(args[0])), cString(userBytes(env, task, args[1], 256)),
		int(int64(args[2])), cString(userBytes(env, task, args[3], 256)))
}

func renameAt(env *Env, task *kernel.UserTask, oldDirfd int, oldPath string, newDirfd int, newPath string) Result {
	oldFile, e := task.FdResolve(oldDirfd, oldPath)
	if e != errno.OK {
		return errResult(e)
	}
	newFile, e := task.FdResolve(newDirfd, newPath)
	if e != errno.OK {
		return errResult(e)
	}
	fs, ok := env.Loader.FS.(Resolver)
	if !ok {
		return errResult(errno.ENOSYS)
	}
	oldParent, e := fs.Open(parentOf(oldFile.Path), vfs.ODirectory)
	if e != errno.OK {
		return errResult(e)
	}
	target, e := oldParent.Lookup(leafOf(oldFile.Path))
	if e != errno.OK {
		return errResult(e)
	}
	newParent, e := fs.Open(parentOf(newFile.Path), vfs.ODirectory)
	if e != errno.OK {
		return errResult(e)
	}
	if e := newParent.Link(leafOf(newFile.Path), target); e != errno.OK {
		return errResult(e)
	}
	return errResult(oldParent.Unlink(leafOf(oldFile.Path)))
}

func symlinkHandler(env *Env, task *kernel.UserTask, args Args) Result {
	return symlinkAt(env, task, cString(userBytes(env, task, args[0], 256)), kernel.AtFDCWD,
		cString(userBytes(env, task, args[1], 256)))
}

func symlinkatHandler(env *Env, task *kernel.UserTask, args Args) Result {
	return symlinkAt(env, task, cString(userBytes(env, task, args[0], 256)), int(int64(args[1])),
		cString(userBytes(env, task, args[2], 256)))
}

func symlinkAt(env *Env, task *kernel.UserTask, target string, dirfd int, linkPath string) Result {
	linkFile, e := task.FdResolve(dirfd, linkPath)
	if e != errno.OK {
		return errResult(e)
	}
	fs, ok := env.Loader.FS.(Resolver)
	if !ok {
		return errResult(errno.ENOSYS)
	}
	targetFile, e := task.FdResolve(dirfd, target)
	if e != errno.OK {
		return errResult(e)
	}
	targetInode, e := fs.Open(targetFile.Path, vfs.ORdOnly)
	if e != errno.OK {
		return errResult(e)
	}
	parent, e := fs.Open(parentOf(linkFile.Path), vfs.ODirectory)
	if e != errno.OK {
		return errResult(e)
	}
	return errResult(parent.Link(leafOf(linkFile.Path), targetInode))
}

func readlinkHandler(env *Env, task *kernel.UserTask, args Args) Result {
	return readlinkAt(env, task, kernel.AtFDCWD, cString(userBytes(env, task, args[0], 256)), args[1], int(args[2]))
}

func readlinkatHandler(env *Env, task *kernel.UserTask, args Args) Result {
	return readlinkAt(env, task, int(int64(args[0])), cString(userBytes(env, task, args[1], 256)), args[2], int(args[3]))
}

func readlinkAt(env *Env, task *kernel.UserTask, dirfd int, path string, outVaddr uintptr, outLen int) Result {
	file, e := task.FdResolve(dirfd, path)
	if e != errno.OK {
		return errResult(e)
	}
	fs, ok := env.Loader.FS.(Resolver)
	if !ok {
		return errResult(errno.ENOSYS)
	}
	inode, e := fs.Open(file.Path, vfs.ORdOnly)
	if e != errno.OK {
		return errResult(e)
	}
	out := userBytes(env, task, outVaddr, outLen)
	n, e := inode.ReadAt(0, out)
	if e != errno.OK {
		return errResult(e)
	}
	return Result{Val: uintptr(n), Err: errno.OK}
}

func accessHandler(env *Env, task *kernel.UserTask, args Args) Result {
	return faccessAt(env, task, kernel.AtFDCWD, cString(userBytes(env, task, args[0], 256)))
}

func faccessatHandler(env *Env, task *kernel.UserTask, args Args) Result {
	return faccessAt(env, task, int(int64(args[0])), cString(userBytes(env, task, args[1], 256)))
}

func faccessAt(env *Env, task *kernel.UserTask, dirfd int, path string) Result {
	file, e := task.FdResolve(dirfd, path)
	if e != errno.OK {
		return errResult(e)
	}
	fs, ok := env.Loader.FS.(Resolver)
	if !ok {
		return errResult(errno.ENOSYS)
	}
	_, e = fs.Open(file.Path, vfs.ORdOnly)
	return errResult(e)
}

func getcwdHandler(env *Env, task *kernel.UserTask, args Args) Result {
	task.PCB.Lock()
	cwd := task.PCB.CurrDir
	task.PCB.Unlock()
	if cwd == nil {
		return errResult(errno.EINVAL)
	}
	s := cwd.PathBufOf().String()
	dst := userBytes(env, task, args[0], int(args[1]))
	n := copy(dst, s)
	if n < len(dst) {
		dst[n] = 0
	}
	return Result{Val: uintptr(len(s) + 1), Err: errno.OK}
}

func chdirHandler(env *Env, task *kernel.UserTask, args Args) Result {
	path := cString(userBytes(env, task, args[0], 256))
	file, e := task.FdResolve(kernel.AtFDCWD, path)
	if e != errno.OK {
		return errResult(e)
	}
	fs, ok := env.Loader.FS.(Resolver)
	if !ok {
		return errResult(errno.ENOSYS)
	}
	inode, e := fs.Open(file.Path, vfs.ODirectory)
	if e != errno.OK {
		return errResult(e)
	}
	file.Inode = inode
	task.PCB.Lock()
	task.PCB.CurrDir = file
	task.PCB.Unlock()
	return Result{Err: errno.OK}
}

func dupHandler(env *Env, task *kernel.UserTask, args Args) Result {
	old := task.GetFd(int(int64(args[0])))
	if old == nil {
		return errResult(errno.EBADF)
	}
	fd, e := task.AllocFd(old.Clone())
	if e != errno.OK {
		return errResult(e)
	}
	return Result{Val: uintptr(fd), Err: errno.OK}
}

func dup2Handler(env *Env, task *kernel.UserTask, args Args) Result {
	old := task.GetFd(int(int64(args[0])))
	if old == nil {
		return errResult(errno.EBADF)
	}
	newFd := int(int64(args[1]))
	if e := task.SetFd(newFd, old.Clone()); e != errno.OK {
		return errResult(e)
	}
	return Result{Val: uintptr(newFd), Err: errno.OK}
}

func dup3Handler(env *Env, task *kernel.UserTask, args Args) Result {
	return dup2Handler(env, task, args)
}

// pipe/pipe2 are out of scope: this kernel has no in-memory pipe inode
// (component C/D expose files and devices, not anonymous byte conduits).
// DESIGN.md records this as a dropped feature of the distillation that
// was not picked back up, since no example repo in the pack contributes
// a pipe implementation to ground one on.
func pipeHandler(env *Env, task *kernel.UserTask, args Args) Result {
	return errResult(errno.ENOSYS)
}

func pipe2Handler(env *Env, task *kernel.UserTask, args Args) Result {
	return errResult(errno.ENOSYS)
}

// forkAsync gives task's process a full copy via CowFork, onto a fresh
// page table from env.NewPageTable (spec §4.F, §6 S3/S5). It is
// dispatched asynchronously only to uphold the generic/x86_64 tables'
// shared await-path shape; the work itself never actually blocks.
func forkAsync(ctx context.Context, env *Env, task *kernel.UserTask, args Args) <-chan Result {
	child := task.CowFork(env.NewPageTable())
	return immediate(Result{Val: uintptr(child.TaskID), Err: errno.OK})
}

// wait4Async polls task's PCB.Children for one whose PCB has recorded an
// exit code, sleeping between polls the way ioadapter's read/write
// futures do (spec §6 S4).
func wait4Async(ctx context.Context, env *Env, task *kernel.UserTask, args Args) <-chan Result {
	out := make(chan Result, 1)
	go func() {
		for {
			task.PCB.Lock()
			for _, child := range task.PCB.Children {
				child.PCB.Lock()
				code := child.PCB.ExitCode
				child.PCB.Unlock()
				if code != nil {
					task.PCB.Unlock()
					out <- Result{Val: uintptr(child.TaskID), Err: errno.OK}
					return
				}
			}
			task.PCB.Unlock()
			select {
			case <-ctx.Done():
				out <- Result{Err: errno.ETIMEDOUT}
				return
			case <-time.After(200 * time.Microsecond):
			}
		}
	}()
	return out
}
