package devfs

import (
	"testing"

	"github.com/oscomp/gokernel/pkg/errno"
	"github.com/oscomp/gokernel/pkg/sentry/vfs"
)

func TestStandardDeviceSetRegistered(t *testing.T) {
	root := New().RootDir()
	for _, name := range []string{"stdin", "stdout", "stderr", "ttyv0", "null", "zero", "shm", "rtc", "urandom", "cpu_dma_latency"} {
		if _, e := root.Lookup(name); e != errno.OK {
			t.Errorf("lookup %s: %v", name, e)
		}
	}
	if _, e := root.Lookup("nope"); e != errno.ENOENT {
		t.Errorf("lookup nope: got %v, want ENOENT", e)
	}
}

func TestRegisterOverridesExisting(t *testing.T) {
	fs := New()
	replacement := NewNull()
	fs.Register("zero", replacement)
	got, e := fs.RootDir().Lookup("zero")
	if e != errno.OK {
		t.Fatalf("lookup zero: %v", e)
	}
	if got != vfs.Inode(replacement) {
		t.Fatalf("zero was not replaced by Register")
	}
}

func TestNullAndZero(t *testing.T) {
	null := NewNull()
	if n, e := null.WriteAt(0, []byte("discarded")); e != errno.OK || n != len("discarded") {
		t.Fatalf("null writeat: n=%d e=%v", n, e)
	}
	if n, e := null.ReadAt(0, make([]byte, 4)); e != errno.OK || n != 0 {
		t.Fatalf("null readat: n=%d e=%v, want 0,OK", n, e)
	}

	zero := NewZero()
	buf := []byte{1, 2, 3, 4}
	if n, e := zero.ReadAt(0, buf); e != errno.OK || n != 4 {
		t.Fatalf("zero readat: n=%d e=%v", n, e)
	}
	for i, b := range buf {
		if b != 0 {
			t.Fatalf("zero readat byte %d = %d, want 0", i, b)
		}
	}
}

func TestTtyRoundTripAndEmptyReadBlocks(t *testing.T) {
	tty := NewTty()
	if _, e := tty.ReadAt(0, make([]byte, 4)); e != errno.EWOULDBLOCK {
		t.Fatalf("readat on empty tty: got %v, want EWOULDBLOCK", e)
	}
	tty.WriteAt(0, []byte("hi\n"))
	buf := make([]byte, 16)
	n, e := tty.ReadAt(0, buf)
	if e != errno.OK || string(buf[:n]) != "hi\n" {
		t.Fatalf("readat: n=%d e=%v buf=%q", n, e, buf[:n])
	}
}

func TestUrandomProducesBytes(t *testing.T) {
	buf := make([]byte, 32)
	n, e := NewUrandom().ReadAt(0, buf)
	if e != errno.OK || n != len(buf) {
		t.Fatalf("urandom readat: n=%d e=%v", n, e)
	}
}

func TestReadDirListsEveryDevice(t *testing.T) {
	fs := New()
	entries, e := fs.RootDir().ReadDir()
	if e != errno.OK {
		t.Fatalf("readdir: %v", e)
	}
	if len(entries) != 10 {
		t.Fatalf("readdir returned %d entries, want 10", len(entries))
	}
}
