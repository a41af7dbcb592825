package syscalls

// X86_64 is Generic with the legacy x86_64-only syscalls overlaid on
// top (spec §4.H: pause, fork, open, stat, lstat, select, poll, mkdir,
// rmdir, arch_prctl, rename, readlink, symlink, unlink, dup2, pipe,
// sync, access), built by copying the shared base table and mutating
// the copy — directly grounded on the teacher's own vfs2.Override(),
// which mutates linux.AMD64's table in exactly this shape (spec §4.H,
// D). Where a legacy number coincides with one of Generic's own
// asm-generic numbers (e.g. x86_64 fork and the generic close share
// slot 57), the legacy entry wins, matching Override()'s
// last-write-wins semantics. A displaced generic entry stays reachable
// only where its own x86_64 number is also overlaid (close is also
// t[3]); mkdirat (34, now pause) and fdatasync (83, now mkdir) are not
// registered anywhere else in this table.
var X86_64 = buildX86_64()

func buildX86_64() Table {
	t := Generic.Copy()

	t[0] = Entry{Name: "read", Async: readAsync}
	t[1] = Entry{Name: "write", Async: writeAsync}
	t[2] = Entry{Name: "open", Sync: openHandler}
	t[3] = Entry{Name: "close", Sync: closeHandler}
	t[4] = Entry{Name: "stat", Sync: statHandler}
	t[5] = Entry{Name: "fstat", Sync: fstatHandler}
	t[6] = Entry{Name: "lstat", Sync: lstatHandler}
	t[7] = Entry{Name: "poll", Async: stubAsyncENOSYS}
	t[21] = Entry{Name: "access", Sync: accessHandler}
	t[32] = Entry{Name: "dup", Sync: dupHandler}
	t[22] = Entry{Name: "pipe", Sync: pipeHandler}
	t[23] = Entry{Name: "select", Async: stubAsyncENOSYS}
	t[33] = Entry{Name: "dup2", Sync: dup2Handler}
	t[34] = Entry{Name: "pause", Async: stubAsyncENOSYS}
	t[57] = Entry{Name: "fork", Async: forkAsync}
	t[82] = Entry{Name: "rename", Sync: renameHandler}
	t[83] = Entry{Name: "mkdir", Sync: mkdirHandler}
	t[84] = Entry{Name: "rmdir", Sync: rmdirHandler}
	t[87] = Entry{Name: "unlink", Sync: unlinkHandler}
	t[88] = Entry{Name: "symlink", Sync: symlinkHandler}
	t[89] = Entry{Name: "readlink", Sync: readlinkHandler}
	t[158] = Entry{Name: "arch_prctl", Sync: stubOK}
	t[162] = Entry{Name: "sync", Sync: stubOK}

	return checkAsyncShape(t)
}
