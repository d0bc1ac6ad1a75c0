package mem

import "testing"

func freshPhysmem(n int) *Physmem_t {
	p := &Physmem_t{}
	p.Init(n)
	return p
}

func TestAllocFreeRoundtrip(t *testing.T) {
	p := freshPhysmem(4)
	pg, pa, ok := p.Refpg_new()
	if !ok {
		t.Fatal("alloc failed")
	}
	p.Refup(pa)
	pg[0] = 0xdeadbeef
	if p.Dmap(pa)[0] != 0xdeadbeef {
		t.Fatal("dmap does not alias allocated frame")
	}
	if !p.Refdown(pa) {
		t.Fatal("expected frame to be freed at refcount 0")
	}
	if p.Pgcount() != 4 {
		t.Fatalf("Pgcount = %d, want 4 after free", p.Pgcount())
	}
}

func TestExhaustion(t *testing.T) {
	p := freshPhysmem(2)
	_, a1, ok := p.Refpg_new()
	if !ok {
		t.Fatal("alloc 1 failed")
	}
	p.Refup(a1)
	_, a2, ok := p.Refpg_new()
	if !ok {
		t.Fatal("alloc 2 failed")
	}
	p.Refup(a2)
	if _, _, ok := p.Refpg_new(); ok {
		t.Fatal("expected allocator exhaustion")
	}
}

func TestRefcountSharing(t *testing.T) {
	p := freshPhysmem(2)
	_, pa, _ := p.Refpg_new()
	p.Refup(pa)
	p.Refup(pa)
	if p.Refcnt(pa) != 2 {
		t.Fatalf("refcnt = %d, want 2", p.Refcnt(pa))
	}
	if p.Refdown(pa) {
		t.Fatal("should not free while refcount > 0")
	}
	if !p.Refdown(pa) {
		t.Fatal("should free at refcount 0")
	}
}

func TestDoubleFreePanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on refdown of free frame")
		}
	}()
	p := freshPhysmem(1)
	_, pa, _ := p.Refpg_new()
	p.Refup(pa)
	p.Refdown(pa)
	p.Refdown(pa)
}
