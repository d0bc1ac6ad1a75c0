// Package elf loads an RV64 ELF executable into a freshly created user
// address space for exec(2), the same way the teacher's own
// kernel/chentry.go tool parses an ELF header — through the standard
// library's debug/elf package rather than a hand-rolled parser —
// retargeted here from reading an x86-64 ET_EXEC header to loading
// RISC-V PT_LOAD segments into a live Sv39 page table.
package elf

import (
	"bytes"
	"debug/elf"
	"io"

	"defs"
	"mem"
	"vm"
)

// / Image describes what a successful Load needs the caller (exec) to
// / finish setting up: the entry PC and the address just past the
// / highest byte any segment occupies (the base the caller grows the
// / stack/heap from).
type Image struct {
	Entry uintptr
	Sz    int
}

// / copyChunk bounds how much of one PT_LOAD segment Load reads into
// / a kernel buffer at a time, keeping peak memory use independent of
// / segment size.
const copyChunk = mem.PGSIZE

// / Load validates r as an RV64 little-endian executable ELF and maps
// / each PT_LOAD segment into root at its declared virtual address,
// / copying the segment's file bytes and zero-filling the rest (bss).
// / It rejects anything that is not RISC-V 64-bit, not an executable,
// / or whose segments aren't page-aligned the way the teacher's chentry
// / rejects a non-x86-64 or non-ET_EXEC binary before trusting the
// / header.
func Load(root vm.Pagetable_t, r io.ReaderAt) (Image, defs.Err_t) {
	ef, err := elf.NewFile(r)
	if err != nil {
		return Image{}, -defs.EINVAL
	}
	if err := check(&ef.FileHeader); err != 0 {
		return Image{}, err
	}

	sz := 0
	for _, ph := range ef.Progs {
		if ph.Type != elf.PT_LOAD {
			continue
		}
		if ph.Vaddr%uint64(mem.PGSIZE) != 0 {
			return Image{}, -defs.EINVAL
		}
		perm := segPerm(ph.Flags)
		top := int(ph.Vaddr) + int(ph.Memsz)
		if _, verr := vm.Uvmalloc_perm(root, sz, top, perm); verr != 0 {
			return Image{}, verr
		}
		if top > sz {
			sz = top
		}
		if lerr := loadSegment(root, ph); lerr != 0 {
			return Image{}, lerr
		}
	}
	if sz == 0 {
		return Image{}, -defs.EINVAL
	}
	return Image{Entry: uintptr(ef.Entry), Sz: sz}, 0
}

// check mirrors the teacher's chkELF: reject anything that is not a
// little-endian, 64-bit, executable RISC-V image before trusting
// anything else in the header.
func check(eh *elf.FileHeader) defs.Err_t {
	if eh.Class != elf.ELFCLASS64 {
		return -defs.EINVAL
	}
	if eh.Data != elf.ELFDATA2LSB {
		return -defs.EINVAL
	}
	if eh.Type != elf.ET_EXEC {
		return -defs.EINVAL
	}
	if eh.Machine != elf.EM_RISCV {
		return -defs.EINVAL
	}
	return 0
}

// segPerm derives Sv39 leaf permission bits from an ELF program
// header's R/W/X flags; U is added by Uvmalloc_perm itself.
func segPerm(flags elf.ProgFlag) mem.Pa_t {
	var perm mem.Pa_t
	if flags&elf.PF_R != 0 {
		perm |= mem.PTE_R
	}
	if flags&elf.PF_W != 0 {
		perm |= mem.PTE_W
	}
	if flags&elf.PF_X != 0 {
		perm |= mem.PTE_X
	}
	return perm
}

// loadSegment copies ph's file content into root page by page,
// starting at ph.Vaddr; memsz beyond filesz (bss) is left zeroed,
// matching Uvmalloc_perm's zeroed frames.
func loadSegment(root vm.Pagetable_t, ph *elf.Prog) defs.Err_t {
	// ph itself is an io.ReaderAt scoped to exactly Filesz bytes of
	// segment content (debug/elf wires a SectionReader under it), so
	// reads past Filesz simply return io.EOF.
	off := 0
	buf := make([]uint8, copyChunk)
	for off < int(ph.Filesz) {
		n := copyChunk
		if remaining := int(ph.Filesz) - off; remaining < n {
			n = remaining
		}
		nr, rerr := ph.ReadAt(buf[:n], int64(off))
		if rerr != nil && rerr != io.EOF {
			return -defs.EIO
		}
		if nr == 0 {
			break
		}
		if werr := vm.Copyout(root, uintptr(int(ph.Vaddr)+off), buf[:nr], nr); werr != 0 {
			return werr
		}
		off += nr
	}
	return 0
}

// / Dup returns an io.ReaderAt over data itself (no copy is made), the form a kernel
// / buffer (already read in from the inode layer) needs to satisfy
// / debug/elf.NewFile without a real file descriptor.
func Dup(data []uint8) io.ReaderAt {
	return bytes.NewReader(data)
}
