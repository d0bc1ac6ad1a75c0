// Package vm implements the Sv39 page-table engine: three levels of
// 512-entry tables, walked the way the teacher's pmap_walk descends an
// x86-64 page map, but with RISC-V's PTE layout (a 44-bit PPN packed at
// bit 10, flags in the low 10 bits) instead of the teacher's direct-map
// recursive trick.
package vm

import (
	"caller"
	"defs"
	"klog"
	"mem"
)

// fatalLog dedupes repeated page-table corruption panics by call site so
// a tight loop hitting the same bug doesn't flood the console before the
// kernel goes down.
var fatalLog = caller.Distinct_t{Enabled: true}

func fatal(msg string) {
	if fresh, stack := fatalLog.Seen(); fresh {
		klog.Logf(klog.LFATAL, "vm: %s\n%s", msg, stack)
	}
	panic(msg)
}

// / PGSIZE mirrors mem.PGSIZE for callers that only import vm.
const PGSIZE = mem.PGSIZE

// / MAXVA is one bit below the Sv39 limit: the top PTE of the top level
// / must be left unused so sign-extension of the 39-bit VA is unambiguous.
const MAXVA = 1 << 38

const pxmask = 0x1ff

func pxshift(level int) uint {
	return 12 + 9*uint(level)
}

func px(level int, va uintptr) uintptr {
	return (va >> pxshift(level)) & pxmask
}

// / Pagetable_t is the root, or any interior level, of an Sv39 page table.
type Pagetable_t = *mem.Pmap_t

// / pte2pa extracts the physical address embedded in a PTE.
func pte2pa(pte mem.Pa_t) mem.Pa_t {
	return (pte >> mem.PTE_PPN_SHIFT) << mem.PGSHIFT
}

// / pa2pte packs a physical address into PTE form: (pa>>12)<<10.
func pa2pte(pa mem.Pa_t) mem.Pa_t {
	return (pa >> mem.PGSHIFT) << mem.PTE_PPN_SHIFT
}

// newtable allocates a fresh, zeroed page-table page and returns both
// its kernel-addressable view and its physical address.
func newtable() (Pagetable_t, mem.Pa_t, bool) {
	pg, pa, ok := mem.Physmem.Refpg_new()
	if !ok {
		return nil, 0, false
	}
	mem.Physmem.Refup(pa)
	return mem.Pg2pmap(pg), pa, true
}

// / Create_pagetable allocates a fresh, zeroed root page table, returning
// / both its kernel-side view and its physical address (needed later by
// / Destroy_pagetable and to fill in SATP on context switch).
func Create_pagetable() (Pagetable_t, mem.Pa_t, bool) {
	return newtable()
}

// tableAt returns the Pagetable_t backed by the frame at physical
// address pa (a page already known to hold a table, not data).
func tableAt(pa mem.Pa_t) Pagetable_t {
	return mem.Pg2pmap(mem.Physmem.Dmap(pa))
}

// / walk descends the three Sv39 levels for va, allocating intermediate
// / tables along the way when alloc is true. Returns the leaf PTE slot.
func walk(root Pagetable_t, va uintptr, alloc bool) *mem.Pa_t {
	if va >= MAXVA {
		fatal("walk: va out of range")
	}
	pt := root
	for level := 2; level > 0; level-- {
		pte := &pt[px(level, va)]
		if *pte&mem.PTE_V != 0 {
			pt = tableAt(pte2pa(*pte))
			continue
		}
		if !alloc {
			return nil
		}
		nt, pa, ok := newtable()
		if !ok {
			return nil
		}
		*pte = pa2pte(pa) | mem.PTE_V
		pt = nt
	}
	return &pt[px(0, va)]
}

// / Walk_create returns the leaf PTE slot for va, allocating intermediate
// / tables as needed. Returns nil only on allocation failure.
func Walk_create(root Pagetable_t, va uintptr) *mem.Pa_t {
	return walk(root, va, true)
}

// / Walk_lookup returns the leaf PTE slot for va without allocating, or
// / nil if any intermediate table is missing.
func Walk_lookup(root Pagetable_t, va uintptr) *mem.Pa_t {
	return walk(root, va, false)
}

// / Map_page installs a single leaf mapping. Remapping an already-valid
// / page is a fatal, non-recoverable programming error.
func Map_page(root Pagetable_t, va uintptr, pa mem.Pa_t, perm mem.Pa_t) defs.Err_t {
	pte := walk(root, va, true)
	if pte == nil {
		return -defs.ENOMEM
	}
	if *pte&mem.PTE_V != 0 {
		fatal("map_page: remap")
	}
	*pte = pa2pte(pa) | perm | mem.PTE_V
	return 0
}

// / Map_region installs leaf mappings for size/PGSIZE consecutive pages
// / starting at va, mapped to a contiguous run of physical frames at pa.
func Map_region(root Pagetable_t, va uintptr, pa mem.Pa_t, size int, perm mem.Pa_t) defs.Err_t {
	if size == 0 {
		fatal("map_region: zero size")
	}
	a := va &^ uintptr(mem.PGOFFSET)
	last := (va + uintptr(size) - 1) &^ uintptr(mem.PGOFFSET)
	p := pa
	for {
		if err := Map_page(root, a, p, perm); err != 0 {
			return err
		}
		if a == last {
			break
		}
		a += uintptr(PGSIZE)
		p += mem.Pa_t(PGSIZE)
	}
	return 0
}

// / Uvmunmap tears down npages leaf mappings starting at va. When
// / do_free is set the backing frame's refcount is dropped too.
func Uvmunmap(root Pagetable_t, va uintptr, npages int, do_free bool) {
	if va&uintptr(mem.PGOFFSET) != 0 {
		fatal("uvmunmap: unaligned va")
	}
	for i := 0; i < npages; i++ {
		a := va + uintptr(i*PGSIZE)
		pte := walk(root, a, false)
		if pte == nil {
			continue
		}
		if *pte&mem.PTE_V == 0 {
			continue
		}
		if *pte&(mem.PTE_R|mem.PTE_W|mem.PTE_X) == 0 {
			fatal("uvmunmap: not a leaf")
		}
		if do_free {
			pa := pte2pa(*pte)
			mem.Physmem.Refdown(pa)
		}
		*pte = 0
	}
}

// / Uvmalloc_perm grows the address space from old to new bytes, mapping
// / fresh zeroed frames with perm (U is implied).
func Uvmalloc_perm(root Pagetable_t, old, new int, perm mem.Pa_t) (int, defs.Err_t) {
	if new < old {
		return old, 0
	}
	oldsz := roundup(old, PGSIZE)
	for a := oldsz; a < new; a += PGSIZE {
		pg, pa, ok := mem.Physmem.Refpg_new()
		if !ok {
			Uvmdealloc(root, a, old)
			return old, -defs.ENOMEM
		}
		_ = pg
		mem.Physmem.Refup(pa)
		if err := Map_page(root, uintptr(a), pa, perm|mem.PTE_U|mem.PTE_V); err != 0 {
			mem.Physmem.Refdown(pa)
			Uvmdealloc(root, a, old)
			return old, err
		}
	}
	return new, 0
}

// / Uvmalloc grows the address space with the default R|W permissions.
func Uvmalloc(root Pagetable_t, old, new int) (int, defs.Err_t) {
	return Uvmalloc_perm(root, old, new, mem.PTE_R|mem.PTE_W)
}

// / Uvmdealloc shrinks the address space from old down to new bytes,
// / freeing every page no longer in range.
func Uvmdealloc(root Pagetable_t, old, new int) int {
	if new >= old {
		return old
	}
	newup := roundup(new, PGSIZE)
	oldup := roundup(old, PGSIZE)
	if newup < oldup {
		npages := (oldup - newup) / PGSIZE
		Uvmunmap(root, uintptr(newup), npages, true)
	}
	return new
}

// / Uvmcopy implements COW fork: every mapped user page in parent gains
// / a mirror PTE in child; the frame's refcount rises by one. A page
// / that was writable and user-accessible is marked read-only and COW in
// / both page tables rather than copied, so later writes fault and clone
// / it lazily. On any failure, child mappings made so far are torn down
// / and parent PTEs whose frame refcount fell back to 1 (this copy was
// / the only other reference) have their W bit restored.
func Uvmcopy(parent, child Pagetable_t, sz int) defs.Err_t {
	touched := make([]uintptr, 0, sz/PGSIZE)
	rollback := func() {
		for _, va := range touched {
			Uvmunmap(child, va, 1, true)
		}
		for _, va := range touched {
			pte := walk(parent, va, false)
			if pte == nil {
				continue
			}
			pa := pte2pa(*pte)
			if *pte&mem.PTE_COW != 0 && mem.Physmem.Refcnt(pa) == 1 {
				*pte = (*pte &^ mem.PTE_COW) | mem.PTE_W
			}
		}
	}
	for va := uintptr(0); va < uintptr(sz); va += uintptr(PGSIZE) {
		ppte := walk(parent, va, false)
		if ppte == nil || *ppte&mem.PTE_V == 0 {
			continue
		}
		writableUser := *ppte&mem.PTE_W != 0 && *ppte&mem.PTE_U != 0
		if writableUser {
			*ppte = (*ppte &^ mem.PTE_W) | mem.PTE_COW
		}
		pa := pte2pa(*ppte)
		perm := pteflags(*ppte)
		mem.Physmem.Refup(pa)
		// va joins touched before the Map_page call, not after: on
		// failure rollback() still needs to see this va so it can
		// restore the parent's PTE_W once the refcount drops back to
		// 1, even though the child got no mapping to unwind.
		touched = append(touched, va)
		if err := Map_page(child, va, pa, perm); err != 0 {
			mem.Physmem.Refdown(pa)
			rollback()
			return err
		}
	}
	return 0
}

func pteflags(pte mem.Pa_t) mem.Pa_t {
	return pte & mem.PTE_FLAGS
}

func roundup(n, to int) int {
	return (n + to - 1) &^ (to - 1)
}

// / Cow_resolve services a page fault at fault_va whose leaf PTE carries
// / the COW bit: it allocates a fresh frame, clones the old frame's
// / content, rewrites the PTE writable, and drops the old frame's
// / refcount. Callers are responsible for the TLB shootdown.
func Cow_resolve(root Pagetable_t, fault_va uintptr) defs.Err_t {
	pte := Walk_lookup(root, fault_va&^uintptr(mem.PGOFFSET))
	if pte == nil {
		return -defs.EFAULT
	}
	if *pte&mem.PTE_V == 0 || *pte&mem.PTE_U == 0 || *pte&mem.PTE_COW == 0 {
		return -defs.EFAULT
	}
	old := pte2pa(*pte)
	newpg, newpa, ok := mem.Physmem.Refpg_new_nozero()
	if !ok {
		return -defs.ENOMEM
	}
	*newpg = *mem.Physmem.Dmap(old)
	mem.Physmem.Refup(newpa)
	*pte = pa2pte(newpa) | (pteflags(*pte) &^ mem.PTE_COW) | mem.PTE_W | mem.PTE_V
	mem.Physmem.Refdown(old)
	return 0
}

// / Copyout copies n bytes from ksrc into user memory at uva, page by
// / page, resolving COW faults along the way; it fails if a destination
// / page is not present, not user, or (after COW resolution) still not
// / writable.
func Copyout(root Pagetable_t, uva uintptr, ksrc []uint8, n int) defs.Err_t {
	for cnt := 0; cnt < n; {
		va0 := uva &^ uintptr(mem.PGOFFSET)
		pte := Walk_lookup(root, va0)
		if pte == nil || *pte&mem.PTE_V == 0 || *pte&mem.PTE_U == 0 {
			return -defs.EFAULT
		}
		if *pte&mem.PTE_COW != 0 {
			if err := Cow_resolve(root, va0); err != 0 {
				return err
			}
			pte = Walk_lookup(root, va0)
		}
		if *pte&mem.PTE_W == 0 {
			return -defs.EFAULT
		}
		pa := pte2pa(*pte)
		off := uva & uintptr(mem.PGOFFSET)
		dst := mem.Pg2bytes(mem.Physmem.Dmap(pa))[off:]
		l := n - cnt
		if l > len(dst) {
			l = len(dst)
		}
		copy(dst, ksrc[cnt:cnt+l])
		cnt += l
		uva += uintptr(l)
	}
	return 0
}

// / Copyin copies n bytes from user memory at uva into kdst, page by
// / page, validating V and U on each page touched.
func Copyin(root Pagetable_t, kdst []uint8, uva uintptr, n int) defs.Err_t {
	for cnt := 0; cnt < n; {
		va0 := uva &^ uintptr(mem.PGOFFSET)
		pte := Walk_lookup(root, va0)
		if pte == nil || *pte&mem.PTE_V == 0 || *pte&mem.PTE_U == 0 {
			return -defs.EFAULT
		}
		pa := pte2pa(*pte)
		off := uva & uintptr(mem.PGOFFSET)
		src := mem.Pg2bytes(mem.Physmem.Dmap(pa))[off:]
		l := n - cnt
		if l > len(src) {
			l = len(src)
		}
		copy(kdst[cnt:cnt+l], src)
		cnt += l
		uva += uintptr(l)
	}
	return 0
}

// / Destroy_pagetable unmaps every present mapping with frame release,
// / then frees every intermediate table page, including the root itself
// / (root_pa is the root's own physical address, since a Pagetable_t is
// / just its kernel-side view and callers must retain the pairing
// / Create_pagetable handed them). It panics if an interior PTE is found
// / with R/W/X set (a leaf mistakenly left in an interior slot).
// / Equivalent to Uvmunmap(root, 0, MAXVA/PGSIZE, true) followed by
// / freeing intermediate tables, but walks only entries actually
// / present instead of scanning the whole 39-bit VA space.
func Destroy_pagetable(root Pagetable_t, root_pa mem.Pa_t) {
	freeLevel(root, 2)
	mem.Physmem.Refdown(root_pa)
}

func freeLevel(pt Pagetable_t, level int) {
	for i := 0; i < 512; i++ {
		pte := pt[i]
		if pte&mem.PTE_V == 0 {
			continue
		}
		if pte&(mem.PTE_R|mem.PTE_W|mem.PTE_X) != 0 {
			if level == 0 {
				mem.Physmem.Refdown(pte2pa(pte))
				continue
			}
			fatal("destroy_pagetable: leaf found in interior table")
		}
		pa := pte2pa(pte)
		if level > 0 {
			freeLevel(tableAt(pa), level-1)
		}
		mem.Physmem.Refdown(pa)
	}
}
