package allocfs

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/gofrs/flock"
	"github.com/sirupsen/logrus"

	"github.com/oscomp/gokernel/pkg/errno"
)

// Snapshot serializes the tree's directories and regular files to
// hostPath (symlinks are not written), guarded by an inter-process file
// lock so two kernel instances sharing a host checkpoint directory never
// interleave writes. The wire format is a flat, depth-first listing of
// "D\tpath" directory headers and "F\tpath\tsize" file headers, each file
// header followed by the raw file bytes and a newline — intentionally simple, since the in-memory original has no
// persistence story at all to follow (SPEC_FULL §B).
func (fs *AllocFS) Snapshot(hostPath string) error {
	lock := flock.New(hostPath + ".lock")
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("allocfs: snapshot lock: %w", err)
	}
	defer lock.Unlock()

	f, err := os.Create(hostPath)
	if err != nil {
		return err
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	if err := writeDir(w, "", fs.root); err != nil {
		return err
	}
	logrus.WithField("path", hostPath).Debug("allocfs: snapshot written")
	return w.Flush()
}

func writeDir(w *bufio.Writer, prefix string, d *dirInner) error {
	d.mu.Lock()
	children := append([]container(nil), d.children...)
	d.mu.Unlock()

	for _, c := range children {
		switch c.kind {
		case kindDir:
			childPath := prefix + "/" + c.dir.name
			if _, err := fmt.Fprintf(w, "D\t%s\n", childPath); err != nil {
				return err
			}
			if err := writeDir(w, childPath, c.dir); err != nil {
				return err
			}
		case kindFile:
			c.file.mu.Lock()
			content := append([]byte(nil), c.file.content...)
			c.file.mu.Unlock()
			childPath := prefix + "/" + c.file.name
			if _, err := fmt.Fprintf(w, "F\t%s\t%d\n", childPath, len(content)); err != nil {
				return err
			}
			if _, err := w.Write(content); err != nil {
				return err
			}
			if _, err := w.WriteString("\n"); err != nil {
				return err
			}
		}
	}
	return nil
}

// Restore replaces fs's contents with a tree read back from hostPath,
// under the same host-level lock Snapshot uses.
func (fs *AllocFS) Restore(hostPath string) error {
	lock := flock.New(hostPath + ".lock")
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("allocfs: restore lock: %w", err)
	}
	defer lock.Unlock()

	f, err := os.Open(hostPath)
	if err != nil {
		return err
	}
	defer f.Close()

	// Empty the existing root in place so Dir handles already given out
	// (such as a mount built before Restore) see the restored tree.
	fs.root.mu.Lock()
	fs.root.children = nil
	fs.root.mu.Unlock()
	r := bufio.NewReader(f)
	for {
		line, err := r.ReadString('\n')
		if err == io.EOF && line == "" {
			break
		}
		if err != nil && err != io.EOF {
			return err
		}
		line = strings.TrimSuffix(line, "\n")
		if line == "" {
			if err == io.EOF {
				break
			}
			continue
		}
		parts := strings.SplitN(line, "\t", 3)
		switch parts[0] {
		case "D":
			if e := mkdirAllAt(fs, parts[1]); e != errno.OK {
				return e
			}
		case "F":
			size, convErr := strconv.Atoi(parts[2])
			if convErr != nil {
				return convErr
			}
			content := make([]byte, size)
			if _, err := io.ReadFull(r, content); err != nil {
				return err
			}
			if _, err := r.Discard(1); err != nil && err != io.EOF {
				return err
			}
			if e := writeFileAt(fs, parts[1], content); e != errno.OK {
				return e
			}
		}
		if err == io.EOF {
			break
		}
	}
	return nil
}

func mkdirAllAt(fs *AllocFS, absPath string) errno.Errno {
	dir := fs.RootDir()
	for _, seg := range splitPath(absPath) {
		child, e := dir.Lookup(seg)
		if e == errno.OK {
			dir = child
			continue
		}
		if e := dir.Mkdir(seg); e != errno.OK && e != errno.EEXIST {
			return e
		}
		child, e = dir.Lookup(seg)
		if e != errno.OK {
			return e
		}
		dir = child
	}
	return errno.OK
}

func writeFileAt(fs *AllocFS, absPath string, content []byte) errno.Errno {
	segs := splitPath(absPath)
	if len(segs) == 0 {
		return errno.EINVAL
	}
	parentPath := "/" + strings.Join(segs[:len(segs)-1], "/")
	if len(segs) > 1 {
		if e := mkdirAllAt(fs, parentPath); e != errno.OK {
			return e
		}
	}
	dir := fs.RootDir()
	for _, seg := range segs[:len(segs)-1] {
		child, e := dir.Lookup(seg)
		if e != errno.OK {
			return e
		}
		dir = child
	}
	name := segs[len(segs)-1]
	if e := dir.Create(name, 0); e != errno.OK && e != errno.EEXIST {
		return e
	}
	file, e := dir.Lookup(name)
	if e != errno.OK {
		return e
	}
	_, e = file.WriteAt(0, content)
	return e
}

func splitPath(p string) []string {
	p = strings.Trim(p, "/")
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}
