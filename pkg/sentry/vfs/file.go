package vfs

import (
	"path"
	"strings"

	"github.com/oscomp/gokernel/pkg/errno"
)

// OpenFlags is the POSIX open(2) flag bitset.
type OpenFlags uint32

const (
	ORdOnly    OpenFlags = 0
	OWrOnly    OpenFlags = 1 << 0
	ORdWr      OpenFlags = 1 << 1
	OCreat     OpenFlags = 1 << 6
	OTrunc     OpenFlags = 1 << 9
	ODirectory OpenFlags = 1 << 16
)

// PathBuf is an absolute, slash-separated path, reconstructible to a
// string for getcwd(2) and relative-path resolution (spec "Path/File
// handle").
type PathBuf struct {
	segments []string
}

// RootPathBuf is the path buffer for "/".
func RootPathBuf() PathBuf { return PathBuf{} }

// ParsePathBuf builds a PathBuf from an absolute path string.
func ParsePathBuf(p string) PathBuf {
	p = path.Clean("/" + p)
	if p == "/" {
		return PathBuf{}
	}
	return PathBuf{segments: strings.Split(strings.TrimPrefix(p, "/"), "/")}
}

// Join resolves name (absolute or relative) against this directory path.
func (p PathBuf) Join(name string) PathBuf {
	if strings.HasPrefix(name, "/") {
		return ParsePathBuf(name)
	}
	return ParsePathBuf(p.String() + "/" + name)
}

// String reconstructs the absolute path, as used by getcwd(2).
func (p PathBuf) String() string {
	if len(p.segments) == 0 {
		return "/"
	}
	return "/" + strings.Join(p.segments, "/")
}

// File is a path-resolved inode plus an open-flags bitset and a current
// offset — the unit syscalls operate on (spec "Path/File handle").
type File struct {
	Path   PathBuf
	Inode  Inode
	Flags  OpenFlags
	Offset int64
}

// PathBufOf returns the file's absolute path buffer, used to reconstruct
// getcwd(2) results and to resolve paths relative to this file when it is
// a directory handle.
func (f *File) PathBufOf() PathBuf { return f.Path }

// Clone returns a shallow copy sharing the same Inode (used by dup and
// dup2 to duplicate an fd-table entry).
func (f *File) Clone() *File {
	cp := *f
	return &cp
}

// ReadAt/WriteAt delegate to the underlying inode at the file's current
// offset semantics are left to callers (pread/pwrite vs. read/write use
// different offset-advancing rules handled by the syscall layer); File
// itself only carries the cursor.
func (f *File) ReadAt(off int64, buf []byte) (int, errno.Errno) {
	return f.Inode.ReadAt(off, buf)
}

func (f *File) WriteAt(off int64, buf []byte) (int, errno.Errno) {
	return f.Inode.WriteAt(off, buf)
}
