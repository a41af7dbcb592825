// Package ioadapter implements the cooperative blocking-I/O adapter:
// WaitBlockingRead/WaitBlockingWrite are one-shot futures that re-invoke
// the underlying VFS call each poll, completing on anything but
// EWOULDBLOCK (spec §4.I), grounded on
// original_source/filesystem/fs/src/lib.rs's WaitBlockingRead/
// WaitBlockingWrite Future impls.
//
// Go has no native poll-based Future; this package models "the scheduler
// polls again when the owning task is rescheduled" with a goroutine that
// retries on a short backoff, bounded by a semaphore sized to the number
// of hardware threads — standing in for "one logical kernel thread per
// hardware core" (spec §5).
package ioadapter

import (
	"context"
	"runtime"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/oscomp/gokernel/pkg/errno"
	"github.com/oscomp/gokernel/pkg/sentry/vfs"
)

// pollBackoff is the delay between EWOULDBLOCK repolls.
const pollBackoff = 200 * time.Microsecond

// Result is the outcome of a completed read or write.
type Result struct {
	N   int
	Err errno.Errno
}

// sem bounds the number of concurrently in-flight blocking polls.
var sem = semaphore.NewWeighted(int64(runtime.NumCPU()))

// WaitBlockingRead returns a channel that receives exactly one Result:
// the first non-EWOULDBLOCK outcome of repeatedly calling
// inode.ReadAt(offset, buf) (spec §4.I).
func WaitBlockingRead(ctx context.Context, inode vfs.Inode, buf []byte, offset int64) <-chan Result {
	return poll(ctx, func() (int, errno.Errno) { return inode.ReadAt(offset, buf) })
}

// WaitBlockingWrite is WaitBlockingRead's write-side counterpart.
func WaitBlockingWrite(ctx context.Context, inode vfs.Inode, buf []byte, offset int64) <-chan Result {
	return poll(ctx, func() (int, errno.Errno) { return inode.WriteAt(offset, buf) })
}

func poll(ctx context.Context, call func() (int, errno.Errno)) <-chan Result {
	out := make(chan Result, 1)
	go func() {
		if err := sem.Acquire(ctx, 1); err != nil {
			out <- Result{Err: errno.EAGAIN}
			return
		}
		defer sem.Release(1)
		for {
			n, e := call()
			if e != errno.EWOULDBLOCK {
				out <- Result{N: n, Err: e}
				return
			}
			select {
			case <-ctx.Done():
				out <- Result{Err: errno.ETIMEDOUT}
				return
			case <-time.After(pollBackoff):
			}
		}
	}()
	return out
}
