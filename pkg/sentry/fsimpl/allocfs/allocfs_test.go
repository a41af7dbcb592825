package allocfs

import (
	"path/filepath"
	"testing"

	"github.com/oscomp/gokernel/pkg/errno"
	"github.com/oscomp/gokernel/pkg/sentry/vfs"
)

func TestMkdirAndLookup(t *testing.T) {
	root := New().RootDir()
	if e := root.Mkdir("home"); e != errno.OK {
		t.Fatalf("mkdir: %v", e)
	}
	if e := root.Mkdir("home"); e != errno.EEXIST {
		t.Fatalf("mkdir dup: got %v, want EEXIST", e)
	}
	if _, e := root.Lookup("missing"); e != errno.ENOENT {
		t.Fatalf("lookup missing: got %v, want ENOENT", e)
	}
	home, e := root.Lookup("home")
	if e != errno.OK {
		t.Fatalf("lookup home: %v", e)
	}
	var st vfs.Stat
	if e := home.Stat(&st); e != errno.OK || st.Mode != vfs.FileDirectory {
		t.Fatalf("stat home: e=%v mode=%v", e, st.Mode)
	}
}

func TestRmdirRemoveAsymmetry(t *testing.T) {
	root := New().RootDir()
	root.Mkdir("d")
	root.Create("f", vfs.FileRegular)

	if e := root.Rmdir("f"); e != errno.ENOENT {
		t.Fatalf("rmdir of a file: got %v, want ENOENT", e)
	}
	if e := root.Remove("d"); e != errno.ENOENT {
		t.Fatalf("remove of a dir: got %v, want ENOENT", e)
	}
	if e := root.Remove("f"); e != errno.OK {
		t.Fatalf("remove f: %v", e)
	}
	if e := root.Rmdir("d"); e != errno.OK {
		t.Fatalf("rmdir d: %v", e)
	}
}

func TestWriteAtGrowsAndReadAtClampsAtEOF(t *testing.T) {
	root := New().RootDir()
	root.Create("f", vfs.FileRegular)
	f, _ := root.Lookup("f")

	if n, e := f.WriteAt(4, []byte("abcd")); e != errno.OK || n != 4 {
		t.Fatalf("writeat off=4: n=%d e=%v", n, e)
	}
	buf := make([]byte, 16)
	n, e := f.ReadAt(0, buf)
	if e != errno.OK || n != 8 {
		t.Fatalf("readat: n=%d e=%v", n, e)
	}
	for i := 0; i < 4; i++ {
		if buf[i] != 0 {
			t.Fatalf("byte %d = %d, want zero-padding", i, buf[i])
		}
	}
	if string(buf[4:8]) != "abcd" {
		t.Fatalf("content mismatch: %q", buf[4:8])
	}

	n, e = f.ReadAt(8, buf)
	if e != errno.OK || n != 0 {
		t.Fatalf("readat at EOF: n=%d e=%v, want 0,OK", n, e)
	}
}

func TestLinkReadsThroughToTarget(t *testing.T) {
	root := New().RootDir()
	root.Create("target", vfs.FileRegular)
	target, _ := root.Lookup("target")
	target.WriteAt(0, []byte("payload"))

	if e := root.Link("alias", target); e != errno.OK {
		t.Fatalf("link: %v", e)
	}
	if e := root.Link("alias", target); e != errno.EEXIST {
		t.Fatalf("dup link: got %v, want EEXIST", e)
	}
	alias, e := root.Lookup("alias")
	if e != errno.OK {
		t.Fatalf("lookup alias: %v", e)
	}
	buf := make([]byte, 16)
	n, e := alias.ReadAt(0, buf)
	if e != errno.OK || string(buf[:n]) != "payload" {
		t.Fatalf("readat alias: n=%d e=%v buf=%q", n, e, buf[:n])
	}
}

func TestSnapshotRestoreRoundTrip(t *testing.T) {
	fs := New()
	root := fs.RootDir()
	root.Mkdir("etc")
	etc, _ := root.Lookup("etc")
	etc.Create("hostname", vfs.FileRegular)
	hostname, _ := etc.Lookup("hostname")
	hostname.WriteAt(0, []byte("gokernel"))
	root.Create("empty", vfs.FileRegular)

	path := filepath.Join(t.TempDir(), "checkpoint")
	if err := fs.Snapshot(path); err != nil {
		t.Fatalf("Snapshot: %v", err)
	}

	restored := New()
	if err := restored.Restore(path); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	rroot := restored.RootDir()
	retc, e := rroot.Lookup("etc")
	if e != errno.OK {
		t.Fatalf("lookup etc after restore: %v", e)
	}
	rhostname, e := retc.Lookup("hostname")
	if e != errno.OK {
		t.Fatalf("lookup etc/hostname after restore: %v", e)
	}
	buf := make([]byte, 16)
	n, e := rhostname.ReadAt(0, buf)
	if e != errno.OK || string(buf[:n]) != "gokernel" {
		t.Fatalf("restored hostname content = %q, err=%v", buf[:n], e)
	}
	if _, e := rroot.Lookup("empty"); e != errno.OK {
		t.Fatalf("lookup empty after restore: %v", e)
	}
}

func TestDistinctInodeNumbersAcrossDirectories(t *testing.T) {
	root := New().RootDir()
	root.Mkdir("a")
	root.Mkdir("b")
	a, _ := root.Lookup("a")
	b, _ := root.Lookup("b")
	var sa, sb vfs.Stat
	a.Stat(&sa)
	b.Stat(&sb)
	if sa.Ino == sb.Ino {
		t.Fatalf("distinct directories share inode %d", sa.Ino)
	}
}
