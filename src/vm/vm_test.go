package vm

import (
	"mem"
	"testing"
)

func freshPhysmem(n int) {
	mem.Physmem = &mem.Physmem_t{}
	mem.Physmem.Init(n)
}

func TestMapAndWalk(t *testing.T) {
	freshPhysmem(64)
	root, _, ok := Create_pagetable()
	if !ok {
		t.Fatal("create_pagetable failed")
	}
	pg, pa, ok := mem.Physmem.Refpg_new()
	if !ok {
		t.Fatal("alloc failed")
	}
	mem.Physmem.Refup(pa)
	pg[0] = 42
	va := uintptr(0x1000)
	if err := Map_page(root, va, pa, mem.PTE_R|mem.PTE_W|mem.PTE_U); err != 0 {
		t.Fatalf("map_page err %v", err)
	}
	pte := Walk_lookup(root, va)
	if pte == nil || *pte&mem.PTE_V == 0 {
		t.Fatal("walk_lookup did not find mapping")
	}
	if pte2pa(*pte) != pa {
		t.Fatal("pte does not reference mapped frame")
	}
}

func TestRemapPanics(t *testing.T) {
	freshPhysmem(64)
	root, _, _ := Create_pagetable()
	_, pa, _ := mem.Physmem.Refpg_new()
	mem.Physmem.Refup(pa)
	Map_page(root, 0x1000, pa, mem.PTE_R|mem.PTE_U)
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on remap")
		}
	}()
	Map_page(root, 0x1000, pa, mem.PTE_R|mem.PTE_U)
}

func TestUvmcopyCOWSharesFrame(t *testing.T) {
	freshPhysmem(64)
	parent, _, _ := Create_pagetable()
	child, _, _ := Create_pagetable()
	sz, err := Uvmalloc(parent, 0, PGSIZE)
	if err != 0 || sz != PGSIZE {
		t.Fatalf("uvmalloc failed: %v", err)
	}
	ppte := Walk_lookup(parent, 0)
	*ppte |= mem.PTE_U
	pa := pte2pa(*ppte)

	if err := Uvmcopy(parent, child, PGSIZE); err != 0 {
		t.Fatalf("uvmcopy failed: %v", err)
	}
	if mem.Physmem.Refcnt(pa) != 2 {
		t.Fatalf("refcnt after cow fork = %d, want 2", mem.Physmem.Refcnt(pa))
	}
	ppte = Walk_lookup(parent, 0)
	if *ppte&mem.PTE_W != 0 || *ppte&mem.PTE_COW == 0 {
		t.Fatal("parent PTE should be read-only+COW after fork")
	}
	cpte := Walk_lookup(child, 0)
	if cpte == nil || *cpte&mem.PTE_COW == 0 {
		t.Fatal("child PTE should be COW too")
	}
}

func TestCowResolveClonesFrame(t *testing.T) {
	freshPhysmem(64)
	parent, _, _ := Create_pagetable()
	child, _, _ := Create_pagetable()
	Uvmalloc(parent, 0, PGSIZE)
	ppte := Walk_lookup(parent, 0)
	*ppte |= mem.PTE_U
	origPa := pte2pa(*ppte)
	mem.Physmem.Dmap(origPa)[0] = 7

	Uvmcopy(parent, child, PGSIZE)

	if err := Cow_resolve(child, 0); err != 0 {
		t.Fatalf("cow_resolve failed: %v", err)
	}
	cpte := Walk_lookup(child, 0)
	if *cpte&mem.PTE_COW != 0 || *cpte&mem.PTE_W == 0 {
		t.Fatal("child PTE should be writable, non-COW after resolve")
	}
	newPa := pte2pa(*cpte)
	if newPa == origPa {
		t.Fatal("cow_resolve should have cloned to a new frame")
	}
	if mem.Physmem.Dmap(newPa)[0] != 7 {
		t.Fatal("cloned frame should carry the original's content")
	}
	if mem.Physmem.Refcnt(origPa) != 1 {
		t.Fatalf("original frame refcnt = %d, want 1 after resolve", mem.Physmem.Refcnt(origPa))
	}
}

func TestCopyinCopyout(t *testing.T) {
	freshPhysmem(64)
	root, _, _ := Create_pagetable()
	Uvmalloc(root, 0, PGSIZE)
	pte := Walk_lookup(root, 0)
	*pte |= mem.PTE_U

	src := []uint8{1, 2, 3, 4}
	if err := Copyout(root, 0, src, len(src)); err != 0 {
		t.Fatalf("copyout failed: %v", err)
	}
	dst := make([]uint8, 4)
	if err := Copyin(root, dst, 0, 4); err != 0 {
		t.Fatalf("copyin failed: %v", err)
	}
	for i := range src {
		if src[i] != dst[i] {
			t.Fatalf("roundtrip mismatch at %d: %v vs %v", i, src, dst)
		}
	}
}

func TestDestroyPagetableFreesFrames(t *testing.T) {
	freshPhysmem(64)
	before := mem.Physmem.Pgcount()
	root, rootpa, _ := Create_pagetable()
	Uvmalloc(root, 0, 3*PGSIZE)
	Destroy_pagetable(root, rootpa)
	if mem.Physmem.Pgcount() != before {
		t.Fatalf("Pgcount after destroy = %d, want %d", mem.Physmem.Pgcount(), before)
	}
}
