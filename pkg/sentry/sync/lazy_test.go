package sync

import "testing"

func TestLazyInitTryGetBeforeInit(t *testing.T) {
	var l LazyInit[int]
	if _, ok := l.TryGet(); ok {
		t.Fatal("TryGet reported initialized before InitBy ran")
	}
	if l.IsInit() {
		t.Fatal("IsInit true before InitBy ran")
	}
}

func TestLazyInitGetAfterInit(t *testing.T) {
	var l LazyInit[string]
	l.InitBy("hello")
	if !l.IsInit() {
		t.Fatal("IsInit false after InitBy")
	}
	if got := l.Get(); got != "hello" {
		t.Fatalf("Get() = %q, want hello", got)
	}
	v, ok := l.TryGet()
	if !ok || v != "hello" {
		t.Fatalf("TryGet() = (%q, %v), want (hello, true)", v, ok)
	}
}

func TestLazyInitDoubleInitPanics(t *testing.T) {
	var l LazyInit[int]
	l.InitBy(1)
	defer func() {
		if recover() == nil {
			t.Fatal("second InitBy did not panic")
		}
	}()
	l.InitBy(2)
}

func TestLazyInitGetBeforeInitPanics(t *testing.T) {
	var l LazyInit[int]
	defer func() {
		if recover() == nil {
			t.Fatal("Get on an uninitialized cell did not panic")
		}
	}()
	l.Get()
}
