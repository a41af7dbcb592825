// Package allocfs implements the default writable root filesystem: an
// in-memory allocating tree of files, directories, and symlinks backed by
// byte buffers, grounded line-for-line on
// original_source/filesystem/allocfs/src/lib.rs (spec §3, §4.C).
package allocfs

import (
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/oscomp/gokernel/pkg/errno"
	"github.com/oscomp/gokernel/pkg/sentry/sync"
	"github.com/oscomp/gokernel/pkg/sentry/vfs"
)

// AllocFS is the filesystem object; RootDir returns its root inode.
type AllocFS struct {
	root    *dirInner
	nextIno atomic.Uint64
}

// New constructs an empty AllocFS. The inode counter is seeded from a
// random UUID's low bits so repeated in-process boots (e.g. under `go
// test`) don't reuse inode numbers across independent filesystem
// instances (spec §9 open question 3, SPEC_FULL §B google/uuid wiring).
func New() *AllocFS {
	fs := &AllocFS{
		root: &dirInner{name: ""},
	}
	seed := uuid.New()
	fs.nextIno.Store(uint64(seed[0])<<56 | uint64(seed[1])<<48 | 2)
	return fs
}

func (fs *AllocFS) allocIno() uint64 {
	return fs.nextIno.Add(1)
}

// RootDir returns the root directory inode.
func (fs *AllocFS) RootDir() vfs.Inode {
	return &Dir{fs: fs, inner: fs.root}
}

// dirInner is the shared, mutable, ordered child list backing a
// directory; every mutation takes children's lock once and releases it
// before making any recursive VFS call (spec §4.C locking discipline).
type dirInner struct {
	ino      uint64
	name     string
	mu       sync.Mutex
	children []container
}

type fileInner struct {
	ino     uint64
	name    string
	mu      sync.Mutex
	content []byte
	// times holds [ctime, atime, mtime], matching the original's
	// three-slot TimeSpec array.
	times [3]vfs.Timespec
}

type linkInner struct {
	ino    uint64
	name   string
	target vfs.Inode
}

// container tags a directory child with its kind, mirroring the
// original's FileContainer enum (File | Dir | Link).
type container struct {
	kind fileKind
	file *fileInner
	dir  *dirInner
	link *linkInner
}

type fileKind int

const (
	kindFile fileKind = iota
	kindDir
	kindLink
)

func (c container) name() string {
	switch c.kind {
	case kindFile:
		return c.file.name
	case kindDir:
		return c.dir.name
	case kindLink:
		return c.link.name
	}
	return ""
}

// Dir is the directory Inode implementation.
type Dir struct {
	vfs.Unsupported
	fs    *AllocFS
	inner *dirInner
}

func (d *Dir) toInode(c container) vfs.Inode {
	switch c.kind {
	case kindFile:
		return &File{fs: d.fs, inner: c.file}
	case kindDir:
		return &Dir{fs: d.fs, inner: c.dir}
	case kindLink:
		return &Link{fs: d.fs, inner: c.link}
	}
	return nil
}

// Lookup finds a child by exact name match. ENOENT if absent.
func (d *Dir) Lookup(name string) (vfs.Inode, errno.Errno) {
	d.inner.mu.Lock()
	defer d.inner.mu.Unlock()
	for _, c := range d.inner.children {
		if c.name() == name {
			return d.toInode(c), errno.OK
		}
	}
	return nil, errno.ENOENT
}

// Create appends a new File or Dir child. EEXIST if name is already
// present — mirrors the original's mkdir-style precheck, applied
// uniformly to both kinds since the Rust source's `create` never checked
// at all; spec §4.C's directory-uniqueness invariant requires it.
func (d *Dir) Create(name string, ty vfs.FileType) errno.Errno {
	d.inner.mu.Lock()
	defer d.inner.mu.Unlock()
	for _, c := range d.inner.children {
		if c.name() == name {
			return errno.EEXIST
		}
	}
	switch ty {
	case vfs.FileDirectory:
		d.inner.children = append(d.inner.children, container{
			kind: kindDir,
			dir:  &dirInner{ino: d.fs.allocIno(), name: name},
		})
	case vfs.FileRegular:
		d.inner.children = append(d.inner.children, container{
			kind: kindFile,
			file: &fileInner{ino: d.fs.allocIno(), name: name},
		})
	default:
		return errno.ENOSYS
	}
	return errno.OK
}

// Mkdir is sugar for Create(name, FileDirectory), returning EEXIST if the
// name is taken (spec §4.C).
func (d *Dir) Mkdir(name string) errno.Errno {
	return d.Create(name, vfs.FileDirectory)
}

// Rmdir matches by name AND kind=Dir; removing a File or Link of the
// same name leaves it untouched (spec §4.C asymmetry with Remove).
func (d *Dir) Rmdir(name string) errno.Errno {
	d.inner.mu.Lock()
	defer d.inner.mu.Unlock()
	for i, c := range d.inner.children {
		if c.kind == kindDir && c.name() == name {
			d.inner.children = append(d.inner.children[:i], d.inner.children[i+1:]...)
			return errno.OK
		}
	}
	return errno.ENOENT
}

// Remove matches File or Link (never Dir) by exact name.
func (d *Dir) Remove(name string) errno.Errno {
	d.inner.mu.Lock()
	defer d.inner.mu.Unlock()
	for i, c := range d.inner.children {
		if (c.kind == kindFile || c.kind == kindLink) && c.name() == name {
			d.inner.children = append(d.inner.children[:i], d.inner.children[i+1:]...)
			return errno.OK
		}
	}
	return errno.ENOENT
}

// Unlink is Remove's POSIX name.
func (d *Dir) Unlink(name string) errno.Errno {
	return d.Remove(name)
}

// Link adds a directory entry named name pointing at src. EEXIST if name
// is taken.
func (d *Dir) Link(name string, src vfs.Inode) errno.Errno {
	d.inner.mu.Lock()
	defer d.inner.mu.Unlock()
	for _, c := range d.inner.children {
		if c.name() == name {
			return errno.EEXIST
		}
	}
	d.inner.children = append(d.inner.children, container{
		kind: kindLink,
		link: &linkInner{ino: d.fs.allocIno(), name: name, target: src},
	})
	return errno.OK
}

// ReadDir lists children in insertion order.
func (d *Dir) ReadDir() ([]vfs.DirEntry, errno.Errno) {
	d.inner.mu.Lock()
	defer d.inner.mu.Unlock()
	out := make([]vfs.DirEntry, 0, len(d.inner.children))
	for _, c := range d.inner.children {
		switch c.kind {
		case kindFile:
			c.file.mu.Lock()
			out = append(out, vfs.DirEntry{Name: c.file.name, Type: vfs.FileRegular, Len: int64(len(c.file.content))})
			c.file.mu.Unlock()
		case kindDir:
			out = append(out, vfs.DirEntry{Name: c.dir.name, Type: vfs.FileDirectory})
		case kindLink:
			out = append(out, vfs.DirEntry{Name: c.link.name, Type: vfs.FileSymlink})
		}
	}
	return out, errno.OK
}

// Stat reports the directory's own metadata (spec §9 open question 3:
// distinct directories get distinct, monotonically assigned inode
// numbers instead of the original's hardcoded ino=1).
func (d *Dir) Stat(out *vfs.Stat) errno.Errno {
	out.Ino = d.inner.ino
	if out.Ino == 0 {
		out.Ino = 1 // root
	}
	out.Mode = vfs.FileDirectory
	out.Nlink = 1
	out.BlkSize = 512
	return errno.OK
}

// File is the regular-file Inode implementation.
type File struct {
	vfs.Unsupported
	fs    *AllocFS
	inner *fileInner
}

// ReadAt returns 0 at/after EOF, otherwise min(len(buf), size-off) bytes
// (spec §4.C, invariant 3).
func (f *File) ReadAt(off int64, buf []byte) (int, errno.Errno) {
	f.inner.mu.Lock()
	defer f.inner.mu.Unlock()
	size := int64(len(f.inner.content))
	if off >= size {
		return 0, errno.OK
	}
	n := int64(len(buf))
	if remain := size - off; n > remain {
		n = remain
	}
	copy(buf[:n], f.inner.content[off:off+n])
	return int(n), errno.OK
}

// WriteAt writes exactly len(buf) bytes at off, growing (zero-padding)
// the buffer first if needed. This fixes the original's writeat bug
// (spec §9 open question 2): the copy target is always content[off :
// off+len(buf)], never a content[off:] slice of mismatched length.
func (f *File) WriteAt(off int64, buf []byte) (int, errno.Errno) {
	f.inner.mu.Lock()
	defer f.inner.mu.Unlock()
	need := off + int64(len(buf))
	if int64(len(f.inner.content)) < need {
		grown := make([]byte, need)
		copy(grown, f.inner.content)
		f.inner.content = grown
	}
	copy(f.inner.content[off:need], buf)
	return len(buf), errno.OK
}

// Truncate drops bytes at and after size.
func (f *File) Truncate(size int64) errno.Errno {
	f.inner.mu.Lock()
	defer f.inner.mu.Unlock()
	if size < int64(len(f.inner.content)) {
		f.inner.content = f.inner.content[:size]
	}
	return errno.OK
}

// Stat reports file metadata, including the fixed per-instance inode
// number assigned at creation.
func (f *File) Stat(out *vfs.Stat) errno.Errno {
	f.inner.mu.Lock()
	defer f.inner.mu.Unlock()
	out.Ino = f.inner.ino
	out.Mode = vfs.FileRegular
	out.Nlink = 1
	out.Size = int64(len(f.inner.content))
	out.BlkSize = 512
	out.Atime = tsToTime(f.inner.times[1])
	out.Mtime = tsToTime(f.inner.times[2])
	return errno.OK
}

// Utimes updates atime/mtime in slots [0]=atime, [1]=mtime; UTIMEOmit
// leaves the corresponding slot unchanged (spec §4.C).
func (f *File) Utimes(times [2]vfs.Timespec) errno.Errno {
	f.inner.mu.Lock()
	defer f.inner.mu.Unlock()
	if times[0].Nsec != vfs.UTIMEOmit {
		f.inner.times[1] = times[0]
	}
	if times[1].Nsec != vfs.UTIMEOmit {
		f.inner.times[2] = times[1]
	}
	return errno.OK
}

func tsToTime(ts vfs.Timespec) time.Time {
	if ts.Sec == 0 && ts.Nsec == 0 {
		return time.Time{}
	}
	return time.Unix(ts.Sec, ts.Nsec)
}

// Link is the symlink Inode implementation: readat/writeat/truncate
// delegate straight through to the target inode (spec §8 S7), but its own
// Stat reports link metadata.
type Link struct {
	vfs.Unsupported
	fs    *AllocFS
	inner *linkInner
}

func (l *Link) ReadAt(off int64, buf []byte) (int, errno.Errno) {
	return l.inner.target.ReadAt(off, buf)
}

func (l *Link) WriteAt(off int64, buf []byte) (int, errno.Errno) {
	return l.inner.target.WriteAt(off, buf)
}

func (l *Link) Truncate(size int64) errno.Errno {
	return l.inner.target.Truncate(size)
}

func (l *Link) Stat(out *vfs.Stat) errno.Errno {
	out.Ino = l.inner.ino
	out.Mode = vfs.FileSymlink
	out.Nlink = 1
	out.BlkSize = 4096
	out.Blocks = 8
	out.Size = 3
	return errno.OK
}
