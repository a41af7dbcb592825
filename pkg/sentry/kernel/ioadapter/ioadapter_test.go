package ioadapter

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/oscomp/gokernel/pkg/errno"
	"github.com/oscomp/gokernel/pkg/sentry/vfs"
)

// blockingNTimesInode returns EWOULDBLOCK from ReadAt/WriteAt for the
// first n calls, then succeeds.
type blockingNTimesInode struct {
	vfs.Unsupported
	remaining atomic.Int32
}

func (b *blockingNTimesInode) ReadAt(off int64, buf []byte) (int, errno.Errno) {
	if b.remaining.Add(-1) >= 0 {
		return 0, errno.EWOULDBLOCK
	}
	return copy(buf, "ok"), errno.OK
}

func (b *blockingNTimesInode) WriteAt(off int64, buf []byte) (int, errno.Errno) {
	if b.remaining.Add(-1) >= 0 {
		return 0, errno.EWOULDBLOCK
	}
	return len(buf), errno.OK
}

func TestWaitBlockingReadRetriesUntilReady(t *testing.T) {
	inode := &blockingNTimesInode{}
	inode.remaining.Store(3)

	ch := WaitBlockingRead(context.Background(), inode, make([]byte, 8), 0)
	select {
	case res := <-ch:
		if res.Err != errno.OK || res.N != 2 {
			t.Fatalf("result = %+v, want N=2 Err=OK", res)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("WaitBlockingRead never completed")
	}
}

func TestWaitBlockingWriteCompletesImmediatelyWhenNotBlocked(t *testing.T) {
	inode := &blockingNTimesInode{}
	ch := WaitBlockingWrite(context.Background(), inode, []byte("hi"), 0)
	select {
	case res := <-ch:
		if res.Err != errno.OK || res.N != 2 {
			t.Fatalf("result = %+v, want N=2 Err=OK", res)
		}
	case <-time.After(time.Second):
		t.Fatal("WaitBlockingWrite never completed")
	}
}

func TestWaitBlockingReadRespectsContextCancellation(t *testing.T) {
	inode := &blockingNTimesInode{}
	inode.remaining.Store(1 << 20)

	ctx, cancel := context.WithCancel(context.Background())
	ch := WaitBlockingRead(ctx, inode, make([]byte, 8), 0)
	cancel()

	select {
	case res := <-ch:
		if res.Err != errno.ETIMEDOUT {
			t.Fatalf("result.Err = %v, want ETIMEDOUT after cancellation", res.Err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("WaitBlockingRead did not observe context cancellation")
	}
}
