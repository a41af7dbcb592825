package main

import (
	"bytes"
	"encoding/binary"
)

// buildMinimalELF assembles the smallest valid ELF64 executable
// debug/elf will parse: an ELF header, an optional PT_INTERP segment
// naming interp (skipped if interp == ""), and one PT_LOAD segment
// covering a handful of code bytes at a fixed load address. Used only by
// selftest's S2/S3 scenarios to exercise the loader's shebang-fallback
// and PT_INTERP recursion paths without depending on a real toolchain
// output on disk.
func buildMinimalELF(entry uint64, interp string) []byte {
	const (
		ehdrSize  = 64
		phdrSize  = 56
		loadVaddr = 0x40_0000
	)

	phnum := 1
	if interp != "" {
		phnum = 2
	}
	phoff := uint64(ehdrSize)
	interpOff := phoff + uint64(phnum)*phdrSize
	interpBytes := append([]byte(interp), 0)
	codeOff := interpOff
	if interp != "" {
		codeOff += uint64(len(interpBytes))
	}
	code := []byte{0x90, 0x90, 0xc3} // nop; nop; ret — never executed, just real bytes

	var buf bytes.Buffer

	// e_ident
	buf.Write([]byte{0x7f, 'E', 'L', 'F', 2, 1, 1, 0})
	buf.Write(make([]byte, 8)) // padding
	binary.Write(&buf, binary.LittleEndian, uint16(2))  // e_type = ET_EXEC
	binary.Write(&buf, binary.LittleEndian, uint16(62)) // e_machine = EM_X86_64
	binary.Write(&buf, binary.LittleEndian, uint32(1))  // e_version
	binary.Write(&buf, binary.LittleEndian, entry)
	binary.Write(&buf, binary.LittleEndian, phoff)
	binary.Write(&buf, binary.LittleEndian, uint64(0)) // e_shoff
	binary.Write(&buf, binary.LittleEndian, uint32(0)) // e_flags
	binary.Write(&buf, binary.LittleEndian, uint16(ehdrSize))
	binary.Write(&buf, binary.LittleEndian, uint16(phdrSize))
	binary.Write(&buf, binary.LittleEndian, uint16(phnum))
	binary.Write(&buf, binary.LittleEndian, uint16(0)) // e_shentsize
	binary.Write(&buf, binary.LittleEndian, uint16(0)) // e_shnum
	binary.Write(&buf, binary.LittleEndian, uint16(0)) // e_shstrndx

	if interp != "" {
		writePhdr(&buf, 3 /* PT_INTERP */, 4, interpOff, 0, uint64(len(interpBytes)))
	}
	writePhdr(&buf, 1 /* PT_LOAD */, 5, codeOff, loadVaddr, uint64(len(code)))

	if interp != "" {
		buf.Write(interpBytes)
	}
	buf.Write(code)

	return buf.Bytes()
}

func writePhdr(buf *bytes.Buffer, ptype, flags uint32, offset, vaddr, size uint64) {
	binary.Write(buf, binary.LittleEndian, ptype)
	binary.Write(buf, binary.LittleEndian, flags)
	binary.Write(buf, binary.LittleEndian, offset)
	binary.Write(buf, binary.LittleEndian, vaddr)
	binary.Write(buf, binary.LittleEndian, vaddr) // p_paddr
	binary.Write(buf, binary.LittleEndian, size)   // p_filesz
	binary.Write(buf, binary.LittleEndian, size)   // p_memsz
	binary.Write(buf, binary.LittleEndian, uint64(0x1000)) // p_align
}
