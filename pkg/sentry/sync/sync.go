// Package sync re-exports the primitives the sentry uses for blocking-free
// mutual exclusion, mirroring gvisor's own pkg/sync convention of naming
// these types against the sentry's package rather than importing the
// standard library directly at every call site.
package sync

import "sync"

// Mutex is a plain mutual-exclusion lock usable before any scheduler
// exists; it never blocks a goroutine indefinitely without the runtime's
// awareness, so it is safe to take from within task dispatch.
type Mutex = sync.Mutex

// RWMutex is a writer-preferring reader/writer lock (a pending Lock
// blocks new readers); a held read lock cannot be upgraded to a write
// lock.
type RWMutex = sync.RWMutex
