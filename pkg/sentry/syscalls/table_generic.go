package syscalls

// Generic numbers the asm-generic/riscv64 Linux syscall ABI, the
// convention every non-x86_64 architecture's unistd.h follows: every
// legacy syscall that exists only "for" x86_64 (spec §4.H) appears here
// only through its *at-suffixed or otherwise generic-ABI equivalent.
var Generic = buildGeneric()

func buildGeneric() Table {
	t := Table{
		17: {Name: "getcwd", Sync: getcwdHandler},
		24: {Name: "dup3", Sync: dup3Handler},
		25: {Name: "fcntl", Sync: stubOK},
		29: {Name: "ioctl", Sync: stubOK},
		34: {Name: "mkdirat", Sync: mkdiratHandler},
		35: {Name: "unlinkat", Sync: unlinkatHandler},
		36: {Name: "symlinkat", Sync: symlinkatHandler},
		37: {Name: "linkat", Sync: stubOK},
		48: {Name: "faccessat", Sync: faccessatHandler},
		49: {Name: "chdir", Sync: chdirHandler},
		53: {Name: "fchmodat", Sync: stubOK},
		54: {Name: "fchownat", Sync: stubOK},
		56: {Name: "openat", Sync: openatHandler},
		57: {Name: "close", Sync: closeHandler},
		59: {Name: "pipe2", Sync: pipe2Handler},
		61: {Name: "getdents64", Sync: stubOK},
		62: {Name: "lseek", Sync: stubOK},
		63: {Name: "read", Async: readAsync},
		64: {Name: "write", Async: writeAsync},
		72: {Name: "pselect6", Async: stubAsyncENOSYS},
		73: {Name: "ppoll", Async: stubAsyncENOSYS},
		78: {Name: "readlinkat", Sync: readlinkatHandler},
		79: {Name: "newfstatat", Sync: statHandler},
		80: {Name: "fstat", Sync: fstatHandler},
		82: {Name: "sync", Sync: stubOK},
		83: {Name: "fdatasync", Sync: stubOK},
		93: {Name: "exit", Sync: exitHandler},
		94: {Name: "exit_group", Sync: exitGroupHandler},
		96: {Name: "set_tid_address", Sync: stubOK},
		98: {Name: "futex", Async: futexAsync},
		99: {Name: "set_robust_list", Sync: stubOK},
		100: {Name: "get_robust_list", Sync: stubOK},
		101: {Name: "nanosleep", Async: stubAsyncENOSYS},
		124: {Name: "sched_yield", Async: stubAsyncENOSYS},
		129: {Name: "kill", Async: stubAsyncENOSYS},
		134: {Name: "rt_sigaction", Sync: stubOK},
		135: {Name: "rt_sigprocmask", Sync: stubOK},
		137: {Name: "rt_sigtimedwait", Async: stubAsyncENOSYS},
		139: {Name: "rt_sigreturn", Sync: stubOK},
		172: {Name: "getpid", Sync: stubOK},
		198: {Name: "socket", Async: stubAsyncENOSYS},
		200: {Name: "bind", Sync: stubOK},
		201: {Name: "listen", Sync: stubOK},
		202: {Name: "accept", Async: stubAsyncENOSYS},
		203: {Name: "connect", Async: stubAsyncENOSYS},
		206: {Name: "sendto", Sync: stubOK},
		207: {Name: "recvfrom", Async: stubAsyncENOSYS},
		214: {Name: "brk", Sync: brkHandler},
		215: {Name: "munmap", Sync: stubOK},
		220: {Name: "clone", Async: cloneAsync},
		221: {Name: "execve", Sync: execveHandler},
		222: {Name: "mmap", Sync: stubOK},
		226: {Name: "mprotect", Sync: stubOK},
		242: {Name: "accept4", Async: stubAsyncENOSYS},
		260: {Name: "wait4", Async: wait4Async},
		261: {Name: "prlimit64", Sync: stubOK},
		276: {Name: "renameat2", Sync: renameat2Handler},
		281: {Name: "epoll_pwait", Async: stubAsyncENOSYS},
	}
	return checkAsyncShape(t)
}
