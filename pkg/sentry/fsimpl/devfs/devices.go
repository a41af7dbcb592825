package devfs

import (
	"crypto/rand"

	"github.com/oscomp/gokernel/pkg/errno"
	"github.com/oscomp/gokernel/pkg/sentry/sync"
	"github.com/oscomp/gokernel/pkg/sentry/vfs"
)

// deviceStat fills the common fields every synthetic device inode
// reports, matching the original's per-device stat() bodies.
func deviceStat(out *vfs.Stat, ino uint64) {
	out.Ino = ino
	out.Mode = vfs.FileDevice
	out.Nlink = 1
	out.BlkSize = 4096
}

// Tty backs /dev/tty, /dev/ttyv0, stdin/stdout/stderr: a simple
// line-buffered ring the kernel's console reads from and writes to.
// Grounded on other_examples' gvisor tty.go's pattern of a mutex-guarded
// terminal state struct (SPEC_FULL §B / DESIGN.md component D).
type Tty struct {
	vfs.Unsupported
	mu  sync.Mutex
	buf []byte
}

func NewTty() *Tty { return &Tty{} }

func (t *Tty) ReadAt(off int64, buf []byte) (int, errno.Errno) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.buf) == 0 {
		return 0, errno.EWOULDBLOCK
	}
	n := copy(buf, t.buf)
	t.buf = t.buf[n:]
	return n, errno.OK
}

func (t *Tty) WriteAt(off int64, buf []byte) (int, errno.Errno) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, buf...)
	return len(buf), errno.OK
}

func (t *Tty) Stat(out *vfs.Stat) errno.Errno {
	deviceStat(out, 1)
	return errno.OK
}

// Null backs /dev/null: writes discarded, reads return EOF.
type Null struct{ vfs.Unsupported }

func NewNull() *Null { return &Null{} }

func (Null) ReadAt(off int64, buf []byte) (int, errno.Errno)  { return 0, errno.OK }
func (Null) WriteAt(off int64, buf []byte) (int, errno.Errno) { return len(buf), errno.OK }
func (Null) Stat(out *vfs.Stat) errno.Errno                   { deviceStat(out, 3); return errno.OK }

// Zero backs /dev/zero: reads fill buf with zero bytes.
type Zero struct{ vfs.Unsupported }

func NewZero() *Zero { return &Zero{} }

func (Zero) ReadAt(off int64, buf []byte) (int, errno.Errno) {
	for i := range buf {
		buf[i] = 0
	}
	return len(buf), errno.OK
}
func (Zero) WriteAt(off int64, buf []byte) (int, errno.Errno) { return len(buf), errno.OK }
func (Zero) Stat(out *vfs.Stat) errno.Errno                   { deviceStat(out, 4); return errno.OK }

// Urandom backs /dev/urandom: reads fill buf with random bytes drawn from
// crypto/rand — the standard library is used here because no example
// repo in the pack vendors a PRNG library and crypto/rand is the
// ecosystem's own idiomatic choice for exactly this job.
type Urandom struct{ vfs.Unsupported }

func NewUrandom() *Urandom { return &Urandom{} }

func (Urandom) ReadAt(off int64, buf []byte) (int, errno.Errno) {
	if _, err := rand.Read(buf); err != nil {
		return 0, errno.EINVAL
	}
	return len(buf), errno.OK
}
func (Urandom) Stat(out *vfs.Stat) errno.Errno { deviceStat(out, 5); return errno.OK }

// Rtc backs /dev/rtc: an ioctl-only device reporting wall-clock reads.
type Rtc struct{ vfs.Unsupported }

func NewRtc() *Rtc { return &Rtc{} }

func (Rtc) Stat(out *vfs.Stat) errno.Errno { deviceStat(out, 6); return errno.OK }

// Shm backs /dev/shm: POSIX shared-memory attachments are modeled
// elsewhere (pkg/sentry/kernel); this inode only anchors the /dev/shm
// path so open(2) on it succeeds.
type Shm struct{ vfs.Unsupported }

func NewShm() *Shm { return &Shm{} }

func (Shm) Stat(out *vfs.Stat) errno.Errno {
	out.Ino = 7
	out.Mode = vfs.FileDirectory
	out.Nlink = 1
	out.BlkSize = 512
	return errno.OK
}

// CpuDmaLatency backs /dev/cpu_dma_latency: writes select a latency
// target that this kernel has no hardware for, so they are accepted and
// discarded.
type CpuDmaLatency struct{ vfs.Unsupported }

func NewCpuDmaLatency() *CpuDmaLatency { return &CpuDmaLatency{} }

func (CpuDmaLatency) WriteAt(off int64, buf []byte) (int, errno.Errno) { return len(buf), errno.OK }
func (CpuDmaLatency) ReadAt(off int64, buf []byte) (int, errno.Errno)  { return 0, errno.OK }
func (CpuDmaLatency) Stat(out *vfs.Stat) errno.Errno                   { deviceStat(out, 8); return errno.OK }
