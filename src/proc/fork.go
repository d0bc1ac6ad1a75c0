package proc

import (
	"defs"
	"file"
	"vm"
)

// / Fork_process implements fork(2): a child PCB with a COW-shared
// / address space (vm.Uvmcopy), a duplicated file-descriptor table
// / (file.Copyfd, so closes are refcounted rather than double-freed),
// / a shared-then-forked cwd, and a copied trap frame whose return value
// / register is zeroed so the child observes fork() returning 0.
func (t *Table_t) Fork_process(parent *Proc_t) (*Proc_t, defs.Err_t) {
	child, err := t.Alloc_process()
	if err != 0 {
		return nil, err
	}

	root, pa, ok := vm.Create_pagetable()
	if !ok {
		t.Free_process(child)
		return nil, -defs.ENOMEM
	}
	if cerr := vm.Uvmcopy(parent.Pagetable, root, parent.Sz); cerr != 0 {
		vm.Destroy_pagetable(root, pa)
		t.Free_process(child)
		return nil, cerr
	}
	child.Pagetable = root
	child.PagetablePa = pa
	child.Sz = parent.Sz

	*child.Tf = *parent.Tf
	child.Tf.A0 = 0

	for i, fd := range parent.Ofile {
		if fd == nil {
			continue
		}
		nfd, ferr := file.Copyfd(fd)
		if ferr != 0 {
			unwindFds(child, i)
			vm.Destroy_pagetable(root, pa)
			t.Free_process(child)
			return nil, ferr
		}
		child.Ofile[i] = nfd
	}
	child.Cwd = parent.Cwd.Fork()
	child.Parent = parent
	child.Name = parent.Name

	t.mu.Lock()
	child.State = defs.RUNNABLE
	t.mu.Unlock()
	return child, 0
}

// unwindFds closes every fd child acquired at indices below upto, used
// when a later Copyfd in Fork_process fails partway through.
func unwindFds(child *Proc_t, upto int) {
	for i := 0; i < upto; i++ {
		if child.Ofile[i] != nil {
			child.Ofile[i].Fops.Close()
			child.Ofile[i] = nil
		}
	}
}
