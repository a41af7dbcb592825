package vfs

import "github.com/oscomp/gokernel/pkg/errno"

// Mount composes the writable root (AllocFS) with the read-only device
// registry (DevFS) mounted at /dev, the exact two-filesystem layout
// spec.md §3/§6 describes ("/" and "/dev"). It is the concrete type
// cmd/gokernel hands to the syscall layer's Resolver and the loader's
// Opener interfaces.
type Mount struct {
	Root    Inode
	DevRoot Inode
}

// Open resolves path (absolute, slash-separated) against Root, switching
// into DevRoot for anything under /dev. OCreat creates a missing leaf as
// a regular file (or directory, if ODirectory is also set) in its parent
// directory; every other missing path component is ENOENT/ENOTDIR.
func (m *Mount) Open(path PathBuf, flags OpenFlags) (Inode, errno.Errno) {
	segs := path.segments
	if len(segs) == 0 {
		return m.Root, errno.OK
	}
	root := m.Root
	if segs[0] == "dev" {
		root = m.DevRoot
		segs = segs[1:]
		if len(segs) == 0 {
			return m.DevRoot, errno.OK
		}
	}
	return walk(root, segs, flags)
}

// OpenLink implements loader.Opener; identical to Open since the loader
// only ever reads an already-resolvable path (spec §4.G).
func (m *Mount) OpenLink(path PathBuf, flags OpenFlags) (Inode, errno.Errno) {
	return m.Open(path, flags)
}

func walk(dir Inode, segs []string, flags OpenFlags) (Inode, errno.Errno) {
	for i, name := range segs {
		last := i == len(segs)-1
		child, e := dir.Lookup(name)
		if e == errno.ENOSYS {
			// dir has no Lookup: it is not a directory.
			e = errno.ENOTDIR
		}
		if e == errno.ENOENT && last && flags&OCreat != 0 {
			ty := FileRegular
			if flags&ODirectory != 0 {
				ty = FileDirectory
			}
			if e := dir.Create(name, ty); e != errno.OK {
				return nil, e
			}
			child, e = dir.Lookup(name)
			if e != errno.OK {
				return nil, e
			}
		} else if e != errno.OK {
			return nil, e
		}
		if !last {
			dir = child
			continue
		}
		return child, errno.OK
	}
	return dir, errno.OK
}
