package sync

import (
	"fmt"
	"sync/atomic"
)

// LazyInit is a cell that starts uninitialized, is initialized exactly
// once, and is read many times after that — the pattern the sentry uses
// for kernel statics that can't be constructed before the fields they
// depend on exist yet (spec §4.A, §9 "Lazy kernel statics").
//
// Grounded on original_source/crates/sync/src/lib.rs's LazyInit<T>: the
// acquire/release contract is that InitBy's write becomes visible to any
// goroutine whose IsInit() observed true, which atomic.Bool's Store/Load
// already guarantee (Go's memory model gives atomics sequential
// consistency, a strictly stronger guarantee than the release/acquire
// pair the original specifies).
type LazyInit[T any] struct {
	inited atomic.Bool
	data   T
}

// InitBy initializes the cell. Panics if already initialized — this is a
// programming error the same way Rust's assert! in init_by is, not a
// recoverable condition.
func (l *LazyInit[T]) InitBy(v T) {
	if l.inited.Load() {
		panic(fmt.Sprintf("sync.LazyInit[%T]: already initialized", v))
	}
	l.data = v
	l.inited.Store(true)
}

// IsInit reports whether InitBy has run.
func (l *LazyInit[T]) IsInit() bool {
	return l.inited.Load()
}

// TryGet returns the value and true if initialized, or the zero value and
// false otherwise.
func (l *LazyInit[T]) TryGet() (T, bool) {
	if l.inited.Load() {
		return l.data, true
	}
	var zero T
	return zero, false
}

// Get returns the value, panicking with the cell's type name if it has
// not yet been initialized — the Go equivalent of dereferencing an
// uninitialized LazyInit in the original.
func (l *LazyInit[T]) Get() T {
	v, ok := l.TryGet()
	if !ok {
		panic(fmt.Sprintf("sync.LazyInit[%T]: use of uninitialized value", v))
	}
	return v
}
