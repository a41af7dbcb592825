// Package loader implements ELF loading and stack construction for
// execve, grounded line-for-line on
// original_source/kernel/src/tasks/exec.rs and elf.rs (spec §4.G).
//
// Unlike the original, which vendors xmas_elf (no Go port exists in the
// pack or wider ecosystem), this package parses with the standard
// library's debug/elf — the same choice gvisor's own loader makes for
// this exact job (see DESIGN.md component G).
package loader

import (
	"bytes"
	"debug/elf"

	"github.com/oscomp/gokernel/pkg/errno"
	"github.com/oscomp/gokernel/pkg/sentry/kernel"
	"github.com/oscomp/gokernel/pkg/sentry/mm"
	"github.com/oscomp/gokernel/pkg/sentry/vfs"
)

// USERDynAddr is the relocation base applied to dynamically-linked
// executables, matching the original's USER_DYN_ADDR constant.
const USERDynAddr = 0x2000_0000_0000

// Opener resolves a path (already joined against a working directory)
// to a readable inode; the VFS mount/resolution walk itself is an
// external collaborator composed from components B/C/D.
type Opener interface {
	OpenLink(path vfs.PathBuf, flags vfs.OpenFlags) (vfs.Inode, errno.Errno)
}

// Loader carries the collaborators ExecWithProcess needs beyond the task
// itself: the frame allocator, host memory view, and VFS opener.
type Loader struct {
	Alloc  mm.FrameAllocator
	Memory mm.HostMemory
	FS     Opener
}

// ExecWithProcess loads path into task's address space, replacing its
// current image (spec §4.G). A successful call leaves task ready to
// resume at the ELF entry point with argv/envp/auxv already on its
// stack; it never creates a new UserTask, matching the original's
// signature of returning the same Arc<UserTask> it was given.
func (l *Loader) ExecWithProcess(task *kernel.UserTask, cwd vfs.PathBuf, path string, args, envp []string) errno.Errno {
	full := cwd.Join(path)

	task.PCB.Lock()
	task.PCB.MemSet.Clear()
	task.PCB.Unlock()

	inode, e := l.FS.OpenLink(full, vfs.ORdOnly)
	if e != errno.OK {
		return e
	}
	var st vfs.Stat
	if e := inode.Stat(&st); e != errno.OK {
		return e
	}
	buf := make([]byte, st.Size)
	n, e := inode.ReadAt(0, buf)
	if e != errno.OK {
		return e
	}
	if int64(n) != st.Size {
		return errno.EINVAL
	}

	f, err := elf.NewFile(bytes.NewReader(buf))
	if err != nil {
		// Not a recognized ELF: synthesize a shell invocation (spec §4.G
		// step 3, scenario S2).
		newArgs := append([]string{"busybox", "sh"}, args...)
		return l.ExecWithProcess(task, cwd, "busybox", newArgs, envp)
	}
	defer f.Close()

	if hasInterp(f) {
		newArgs := append([]string{"libc.so"}, args...)
		return l.ExecWithProcess(task, cwd, "libc.so", newArgs, envp)
	}

	entry := uintptr(f.Entry)
	heapBottom := computeHeapBottom(f)
	base := relocationBase(f)

	phAddr, phErr := getPhAddr(f)
	if phErr != errno.OK {
		phAddr = 0
	}

	// Map the top pages of the Stack area so buildStack's writes reach
	// guest memory.
	const stackPages = 8
	stackTop := uintptr(0x7000_0000 + 0x1000_0000)
	if _, ok := mm.FrameAlloc(task.PageTable, l.Alloc, task.PCB.MemSet, mm.VirtAddr(stackTop-stackPages*mm.PageSize), mm.Stack, stackPages); !ok {
		return errno.EINVAL
	}
	sp := buildStack(l.Memory, task.PageTable, args, envp, full.String(), entry, len(f.Progs), progHeaderEntSize(f), phAddr, base)
	task.WithTCB(func(tcb *kernel.ThreadControlBlock) {
		tcb.Frame.SP = sp
		tcb.Frame.Ret = entry + base
	})

	for _, ph := range f.Progs {
		if ph.Type != elf.PT_LOAD {
			continue
		}
		fileSize := int(ph.Filesz)
		memSize := int(ph.Memsz)
		offset := int(ph.Off)
		virtAddr := base + uintptr(ph.Vaddr)
		vpn := virtAddr / mm.PageSize
		pageCount := int(ceilDiv(virtAddr+uintptr(memSize), mm.PageSize) - vpn)

		phys, ok := mm.FrameAlloc(task.PageTable, l.Alloc, task.PCB.MemSet, mm.VirtAddr(virtAddr&^(mm.PageSize-1)), mm.CodeSection, pageCount)
		if !ok {
			return errno.EINVAL
		}
		pageOff := mm.PhysAddr(virtAddr % mm.PageSize)
		dst := l.Memory.Bytes(phys+pageOff, fileSize)
		copy(dst, buf[offset:offset+fileSize])
		if memSize > fileSize {
			bss := l.Memory.Bytes(phys+pageOff+mm.PhysAddr(fileSize), memSize-fileSize)
			for i := range bss {
				bss[i] = 0
			}
		}
	}

	task.PCB.Lock()
	task.PCB.Entry = entry + base
	task.PCB.Heap = heapBottom
	task.PCB.Unlock()
	return errno.OK
}

// getPhAddr returns, in order of preference, a PT_PHDR's virtual
// address, otherwise the first zero-offset PT_LOAD's virtual address
// plus the ELF header's phoff, otherwise EBADF (spec §4.G,
// original_source/kernel/src/tasks/elf.rs's get_ph_addr).
func getPhAddr(f *elf.File) (uintptr, errno.Errno) {
	for _, ph := range f.Progs {
		if ph.Type == elf.PT_PHDR {
			return uintptr(ph.Vaddr), errno.OK
		}
	}
	for _, ph := range f.Progs {
		if ph.Type == elf.PT_LOAD && ph.Off == 0 {
			return uintptr(ph.Vaddr) + uintptr(progHeaderOffset(f)), errno.OK
		}
	}
	return 0, errno.EBADF
}

func hasInterp(f *elf.File) bool {
	for _, ph := range f.Progs {
		if ph.Type == elf.PT_INTERP {
			return true
		}
	}
	return false
}

func computeHeapBottom(f *elf.File) uintptr {
	var max uintptr
	for _, ph := range f.Progs {
		end := uintptr(ph.Vaddr) + uintptr(ph.Memsz)
		if end > max {
			max = end
		}
	}
	return ceilDiv(max, mm.PageSize) * mm.PageSize
}

// relocationBase applies USERDynAddr when a valid .rela.dyn section is
// present, matching the original's "presence/validity of .rela.dyn as
// the is-dynamic predicate" (spec §4.G, §1 ELF format note).
func relocationBase(f *elf.File) uintptr {
	sec := f.Section(".rela.dyn")
	if sec == nil {
		return 0
	}
	if sec.Type != elf.SHT_RELA {
		return 0
	}
	return USERDynAddr
}

func progHeaderEntSize(f *elf.File) int {
	return 56 // sizeof(Elf64_Phdr), fixed for ELF64
}

func progHeaderOffset(f *elf.File) uintptr {
	// debug/elf does not expose e_phoff directly; it is recoverable as
	// the file offset of the first program header, which for any ELF
	// produced by a standard linker is FileHeader size (64) for ELF64.
	return 64
}

func ceilDiv(a, b uintptr) uintptr {
	return (a + b - 1) / b
}

// auxv vector tags this loader populates (spec §4.G step 8).
const (
	atNull   = 0
	atPhdr   = 3
	atPhent  = 4
	atPhnum  = 5
	atBase   = 7
	atEntry  = 9
	atRandom = 25
	atExecfn = 31
)

// buildStack lays out argc/argv/envp/auxv at the top of the fixed Stack
// area and returns the resulting stack pointer (spec §4.G step 8).
func buildStack(mem mm.HostMemory, pt mm.PageTable, args, envp []string, path string, entry uintptr, phnum, phent int, phAddr, base uintptr) uintptr {
	sp := uintptr(0x7000_0000 + 0x1000_0000 - 16)

	sp = kernel.PushStr(pt, mem, sp, path)
	execfn := sp

	randomBytes := sp - 16
	sp = randomBytes

	argPtrs := make([]uintptr, 0, len(args)+1)
	for _, a := range args {
		sp = kernel.PushStr(pt, mem, sp, a)
		argPtrs = append(argPtrs, sp)
	}
	argPtrs = append(argPtrs, 0)

	envPtrs := make([]uintptr, 0, len(envp)+1)
	for _, e := range envp {
		sp = kernel.PushStr(pt, mem, sp, e)
		envPtrs = append(envPtrs, sp)
	}
	envPtrs = append(envPtrs, 0)

	auxv := []uintptr{
		atPhdr, phAddr + base,
		atPhent, uintptr(phent),
		atPhnum, uintptr(phnum),
		atEntry, entry + base,
		atBase, base,
		atRandom, randomBytes,
		atExecfn, execfn,
		atNull, 0,
	}
	sp = kernel.PushArr(pt, mem, sp, auxv)
	sp = kernel.PushArr(pt, mem, sp, envPtrs)
	sp = kernel.PushArr(pt, mem, sp, argPtrs)

	sp -= 8
	kernel.PushArr(pt, mem, sp+8, []uintptr{uintptr(len(args))})
	return sp
}
