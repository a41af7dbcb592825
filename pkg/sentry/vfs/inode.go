// Copyright 2020 The gVisor Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package vfs provides the common capability set every filesystem backend
// (AllocFS, DevFS, and any future backend) exposes: a single Inode
// interface dispatched on dynamically, with sensible ENOSYS defaults for
// operations a concrete inode doesn't support (spec §4.B).
//
// This file began life as the teacher's host-fd-backed inode
// (pkg/sentry/fsimpl/host/host.go); it has been rewritten in place to
// describe the generic capability interface rather than a single host-fd
// backend, since this kernel's filesystems are in-memory, not host
// passthrough.
package vfs

import (
	"time"

	"github.com/oscomp/gokernel/pkg/errno"
)

// FileType identifies what kind of node an Inode represents.
type FileType int

const (
	FileRegular FileType = iota
	FileDirectory
	FileSymlink
	FileDevice
)

// Stat is this package's own stat record, covering the fields this
// kernel's filesystems populate; it is not unix.Stat_t, and Mode holds a
// FileType rather than POSIX mode bits.
type Stat struct {
	Ino     uint64
	Mode    FileType
	Nlink   uint32
	UID     uint32
	GID     uint32
	Size    int64
	BlkSize uint32
	Blocks  int64
	Rdev    uint64
	Atime   time.Time
	Mtime   time.Time
	Ctime   time.Time
}

// DirEntry is one entry returned by Inode.ReadDir.
type DirEntry struct {
	Name string
	Type FileType
	Len  int64
}

// SeekFrom mirrors io.Seeker's whence values, named for parity with the
// original's SeekFrom re-export from vfscore.
type SeekFrom int

const (
	SeekSet SeekFrom = iota
	SeekCur
	SeekEnd
)

// Timespec carries one atime/mtime update slot for Utimes; Nsec ==
// UTIMEOmit leaves that timestamp unchanged (spec §4.C).
type Timespec struct {
	Sec  int64
	Nsec int64
}

// UTIMEOmit is the sentinel nanosecond value meaning "leave this
// timestamp alone", matching libc's UTIME_OMIT.
const UTIMEOmit = (1 << 30) - 2

// Inode is the capability set every filesystem node exposes. Every
// operation either succeeds, returns a domain errno, or is unsupported by
// the concrete type (in which case the embedded Unsupported default
// returns ENOSYS). Inodes are shared and reference-counted by the
// directory entries that point to them; many dentries may address the
// same Inode (hardlinks).
type Inode interface {
	// Lookup resolves name within a directory inode.
	Lookup(name string) (Inode, errno.Errno)
	// Create adds a new child of kind ty. EEXIST if name is taken.
	Create(name string, ty FileType) errno.Errno
	// Mkdir is sugar for Create(name, FileDirectory) that returns EEXIST
	// on collision (spec §4.C); AllocFS implements it as exactly that
	// Create call.
	Mkdir(name string) errno.Errno
	// Rmdir removes a child that must be a directory by exact name+kind
	// match. ENOENT if no such directory child exists.
	Rmdir(name string) errno.Errno
	// Remove removes a child that must be a File or Link (not a Dir) —
	// the File|Link vs. Dir asymmetry between Remove and Rmdir is
	// load-bearing (spec §4.C).
	Remove(name string) errno.Errno
	// Link adds a directory entry name pointing at the (already
	// existing, possibly foreign) inode src.
	Link(name string, src Inode) errno.Errno
	// Unlink is Remove's POSIX name; AllocFS defines it as exactly
	// Remove.
	Unlink(name string) errno.Errno
	// ReadDir lists a directory's children.
	ReadDir() ([]DirEntry, errno.Errno)
	// ReadAt reads into buf starting at off, POSIX pread semantics.
	ReadAt(off int64, buf []byte) (int, errno.Errno)
	// WriteAt writes buf at off, growing the backing store if needed,
	// POSIX pwrite semantics.
	WriteAt(off int64, buf []byte) (int, errno.Errno)
	// Truncate drops bytes at and after size.
	Truncate(size int64) errno.Errno
	// Stat fills out.
	Stat(out *Stat) errno.Errno
	// Utimes updates atime/mtime; UTIMEOmit in a slot leaves it alone.
	Utimes(times [2]Timespec) errno.Errno
	// Ioctl performs a device-specific control operation.
	Ioctl(request uintptr, arg uintptr) (uintptr, errno.Errno)
}

// Unsupported is embedded by concrete inode types that don't implement
// most of the capability set, so they only need to override the handful
// of operations they actually support — the "virtual interface with
// default methods" re-architecture option from spec §9.
type Unsupported struct{}

func (Unsupported) Lookup(name string) (Inode, errno.Errno)          { return nil, errno.ENOSYS }
func (Unsupported) Create(name string, ty FileType) errno.Errno      { return errno.ENOSYS }
func (Unsupported) Mkdir(name string) errno.Errno                    { return errno.ENOSYS }
func (Unsupported) Rmdir(name string) errno.Errno                    { return errno.ENOSYS }
func (Unsupported) Remove(name string) errno.Errno                   { return errno.ENOSYS }
func (Unsupported) Link(name string, src Inode) errno.Errno          { return errno.ENOSYS }
func (Unsupported) Unlink(name string) errno.Errno                   { return errno.ENOSYS }
func (Unsupported) ReadDir() ([]DirEntry, errno.Errno)                { return nil, errno.ENOSYS }
func (Unsupported) ReadAt(off int64, buf []byte) (int, errno.Errno)   { return 0, errno.ENOSYS }
func (Unsupported) WriteAt(off int64, buf []byte) (int, errno.Errno)  { return 0, errno.ENOSYS }
func (Unsupported) Truncate(size int64) errno.Errno                  { return errno.ENOSYS }
func (Unsupported) Stat(out *Stat) errno.Errno                        { return errno.ENOSYS }
func (Unsupported) Utimes(times [2]Timespec) errno.Errno              { return errno.ENOSYS }
func (Unsupported) Ioctl(request, arg uintptr) (uintptr, errno.Errno) {
	return 0, errno.ENOSYS
}
