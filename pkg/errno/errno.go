// Package errno defines the POSIX error taxonomy used throughout the
// sentry: every fallible VFS and syscall-dispatch operation returns
// (value, Errno), never a wrapped Go error, so that the syscall layer can
// negate it directly into a return register (spec §6, §7).
//
// Errno is grounded directly on golang.org/x/sys/unix's Errno values,
// the same package host.go uses to translate host fd stat/fcntl errors;
// this avoids maintaining a second, parallel errno table next to the one
// the ecosystem already ships.
package errno

import "golang.org/x/sys/unix"

// Errno is a POSIX error number.
type Errno unix.Errno

// Zero value: no error. Handlers that can fail return this as the
// "success" sentinel so the zero value of Errno is never mistaken for an
// actual error condition by a caller that forgets to check ok.
const OK Errno = 0

// The subset of errno values this kernel's VFS and syscall layers name
// explicitly (spec §7). Others may be constructed with Errno(unix.EXXX)
// directly.
const (
	EPERM      = Errno(unix.EPERM)
	ENOENT     = Errno(unix.ENOENT)
	EBADF      = Errno(unix.EBADF)
	EEXIST     = Errno(unix.EEXIST)
	ENOTDIR    = Errno(unix.ENOTDIR)
	EISDIR     = Errno(unix.EISDIR)
	EINVAL     = Errno(unix.EINVAL)
	ENOSYS     = Errno(unix.ENOSYS)
	EWOULDBLOCK = Errno(unix.EWOULDBLOCK) // == EAGAIN on Linux
	ETIMEDOUT  = Errno(unix.ETIMEDOUT)
	ENOTEMPTY  = Errno(unix.ENOTEMPTY)
	EAGAIN     = Errno(unix.EAGAIN)
)

func (e Errno) Error() string {
	return unix.Errno(e).Error()
}

// Negated returns -errno as a raw machine word, the return-register
// convention for a failed syscall (spec §6).
func (e Errno) Negated() uintptr {
	return uintptr(-int64(e))
}

// Is reports whether err is exactly e; a tiny helper since Errno doesn't
// participate in errors.Is wrapping (it is never wrapped).
func Is(err error, e Errno) bool {
	casted, ok := err.(Errno)
	return ok && casted == e
}
