package proc

import (
	"defs"
	"elf"
	"fdops"
	"file"
	"mem"
	"ustr"
	"util"
	"vm"
)

// / Exec implements exec(2): loads path's ELF image into a brand new
// / address space, lays out a guarded two-page stack above the image
// / (the bottom page holds argv's strings and pointer array, the top
// / page is left unmapped as a guard), and atomically swaps it in for
// / p's current address space only once every step through loading and
// / stack setup has succeeded — mirroring the teacher's "build the new
// / image fully before touching the live process" exec discipline.
func (t *Table_t) Exec(p *Proc_t, path ustr.Ustr, argv []ustr.Ustr) defs.Err_t {
	fd, operr := file.Sys_open(p.Cwd, nil, path, defs.O_RDONLY)
	if operr != 0 {
		return operr
	}
	defer fd.Fops.Close()

	fsz, serr := fd.Fops.Lseek(0, 2)
	if serr != 0 {
		return serr
	}
	if _, serr = fd.Fops.Lseek(0, 0); serr != 0 {
		return serr
	}
	raw := make([]uint8, fsz)
	if fsz > 0 {
		n, rerr := fd.Fops.Read(fdops.MkKerneldata(raw))
		if rerr != 0 {
			return rerr
		}
		raw = raw[:n]
	}

	root, pa, ok := vm.Create_pagetable()
	if !ok {
		return -defs.ENOMEM
	}
	img, lerr := elf.Load(root, elf.Dup(raw))
	if lerr != 0 {
		vm.Destroy_pagetable(root, pa)
		return lerr
	}

	sp, a1, serr2 := buildArgStack(root, img.Sz, argv)
	if serr2 != 0 {
		vm.Destroy_pagetable(root, pa)
		return serr2
	}

	oldpt, oldpa, oldsz := p.Pagetable, p.PagetablePa, p.Sz
	p.Pagetable = root
	p.PagetablePa = pa
	p.Sz = util.Roundup(img.Sz, mem.PGSIZE) + 2*mem.PGSIZE
	p.Tf.Epc = uint64(img.Entry)
	p.Tf.Sp = sp
	p.Tf.A0 = uint64(len(argv))
	p.Tf.A1 = a1

	if oldpt != nil {
		vm.Destroy_pagetable(oldpt, oldpa)
	}
	_ = oldsz
	return 0
}

// buildArgStack reserves the two-page stack region just above imgsz,
// unmaps its top page as a guard, and pushes argv's strings followed
// by its NULL-terminated pointer array, 16-byte aligned, returning the
// resulting stack pointer and the address of the pointer array (a1).
func buildArgStack(root vm.Pagetable_t, imgsz int, argv []ustr.Ustr) (sp uint64, a1 uint64, err defs.Err_t) {
	base := util.Roundup(imgsz, mem.PGSIZE)
	top := base + 2*mem.PGSIZE
	if _, aerr := vm.Uvmalloc(root, base, top); aerr != 0 {
		return 0, 0, aerr
	}
	guard := base + mem.PGSIZE
	// Fully unmapped rather than left present with U cleared: a stray
	// S-mode access to this va never happens in this kernel, so an
	// unmapped PTE and a kernel-only one fault identically in practice.
	vm.Uvmunmap(root, uintptr(guard), 1, true)

	cursor := uint64(guard)
	ptrs := make([]uint64, len(argv)+1)
	for i := len(argv) - 1; i >= 0; i-- {
		s := append([]uint8(argv[i]), 0)
		cursor -= uint64(len(s))
		if cursor < uint64(base) {
			return 0, 0, -defs.EINVAL
		}
		if werr := vm.Copyout(root, uintptr(cursor), s, len(s)); werr != 0 {
			return 0, 0, werr
		}
		ptrs[i] = cursor
	}
	ptrs[len(argv)] = 0

	cursor -= uint64(len(ptrs)) * 8
	cursor &^= 15
	if cursor < uint64(base) {
		return 0, 0, -defs.EINVAL
	}
	argvAddr := cursor
	buf := make([]uint8, len(ptrs)*8)
	for i, v := range ptrs {
		util.Writen(buf, 8, i*8, int(v))
	}
	if werr := vm.Copyout(root, uintptr(cursor), buf, len(buf)); werr != 0 {
		return 0, 0, werr
	}
	return cursor, argvAddr, 0
}
