package kernel

import (
	"github.com/oscomp/gokernel/pkg/sentry/sync"
)

// FutexTable is the per-process futex wait queue, keyed by the shared
// virtual address being waited on (spec §4.E). Waiters are served FIFO,
// matching the original's Vec<usize>-per-address queue, and the single
// mutex guarding both Wait and Wake rules out the lost-wakeup race:
// Wake can never run between a waiter checking its condition and it
// registering to wait.
type FutexTable struct {
	mu      sync.Mutex
	waiters map[uintptr][]*FutexWaiter
}

// FutexWaiter is a single blocked waiter; Done closes when woken.
type FutexWaiter struct {
	Task TaskID
	Done chan struct{}
}

// NewFutexTable returns an empty futex table, one per process.
func NewFutexTable() *FutexTable {
	return &FutexTable{waiters: make(map[uintptr][]*FutexWaiter)}
}

// Wait registers taskID as blocked on addr and returns the waiter handle
// to select on; the caller must have already re-checked the futex value
// under whatever lock makes that check atomic with registration.
func (ft *FutexTable) Wait(addr uintptr, taskID TaskID) *FutexWaiter {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	w := &FutexWaiter{Task: taskID, Done: make(chan struct{})}
	ft.waiters[addr] = append(ft.waiters[addr], w)
	return w
}

// Wake releases up to n waiters blocked on addr, oldest first, and
// reports how many were actually woken.
func (ft *FutexTable) Wake(addr uintptr, n int) int {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	list := ft.waiters[addr]
	woke := 0
	for woke < n && len(list) > 0 {
		close(list[0].Done)
		list = list[1:]
		woke++
	}
	if len(list) == 0 {
		delete(ft.waiters, addr)
	} else {
		ft.waiters[addr] = list
	}
	return woke
}

// Cancel removes w from its wait queue without waking it, used when a
// waiter gives up (e.g. signal delivery interrupts the wait).
func (ft *FutexTable) Cancel(addr uintptr, w *FutexWaiter) {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	list := ft.waiters[addr]
	for i, other := range list {
		if other == w {
			ft.waiters[addr] = append(list[:i], list[i+1:]...)
			return
		}
	}
}
