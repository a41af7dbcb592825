package main

import (
	"bytes"
	"debug/elf"
	"testing"
)

func TestBuildMinimalELFParsesWithoutInterp(t *testing.T) {
	raw := buildMinimalELF(0x40_1000, "")
	f, err := elf.NewFile(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("debug/elf rejected buildMinimalELF's output: %v", err)
	}
	defer f.Close()

	if f.Type != elf.ET_EXEC {
		t.Fatalf("Type = %v, want ET_EXEC", f.Type)
	}
	if f.Machine != elf.EM_X86_64 {
		t.Fatalf("Machine = %v, want EM_X86_64", f.Machine)
	}
	if f.Entry != 0x40_1000 {
		t.Fatalf("Entry = %#x, want %#x", f.Entry, uint64(0x40_1000))
	}
	if len(f.Progs) != 1 || f.Progs[0].Type != elf.PT_LOAD {
		t.Fatalf("Progs = %+v, want exactly one PT_LOAD", f.Progs)
	}
}

func TestBuildMinimalELFWithInterpOrdersSegments(t *testing.T) {
	raw := buildMinimalELF(0x40_2000, "libc.so")
	f, err := elf.NewFile(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("debug/elf rejected buildMinimalELF's output: %v", err)
	}
	defer f.Close()

	if len(f.Progs) != 2 {
		t.Fatalf("Progs = %d entries, want 2 (PT_INTERP, PT_LOAD)", len(f.Progs))
	}
	interp, load := f.Progs[0], f.Progs[1]
	if interp.Type != elf.PT_INTERP {
		t.Fatalf("Progs[0].Type = %v, want PT_INTERP", interp.Type)
	}
	if load.Type != elf.PT_LOAD {
		t.Fatalf("Progs[1].Type = %v, want PT_LOAD", load.Type)
	}

	got := make([]byte, interp.Filesz)
	if _, err := interp.ReadAt(got, 0); err != nil {
		t.Fatalf("reading PT_INTERP payload: %v", err)
	}
	want := "libc.so\x00"
	if string(got) != want {
		t.Fatalf("PT_INTERP payload = %q, want %q", got, want)
	}
}
