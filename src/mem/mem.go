// Package mem implements the physical frame allocator: a flat array of
// page-sized frames backed by reference counts, the way the teacher's
// Physmem_t tracks every physical page on the machine. Sv39 has no
// recursive page-table trick and no direct-map segment the way the
// teacher's x86-64 runtime does, so frames are addressed here by plain
// index into a backing slice rather than through a privileged VA range;
// Dmap below is the RV64 kernel's equivalent of "always mapped" physical
// memory, since in supervisor mode the kernel runs with the MMU either
// off or identity-mapped over all of DRAM.
package mem

import (
	"sync"
	"sync/atomic"
	"unsafe"

	"caller"
	"klog"
	"oommsg"
)

// fatalLog dedupes repeated allocator-corruption panics by call site.
var fatalLog = caller.Distinct_t{Enabled: true}

func fatal(msg string) {
	if fresh, stack := fatalLog.Seen(); fresh {
		klog.Logf(klog.LFATAL, "mem: %s\n%s", msg, stack)
	}
	panic(msg)
}

// / PGSHIFT is the base-2 exponent of the page size.
const PGSHIFT uint = 12

// / PGSIZE is the size of a single page/frame in bytes.
const PGSIZE int = 1 << PGSHIFT

// / PGOFFSET masks the in-page offset bits of an address.
const PGOFFSET Pa_t = Pa_t(PGSIZE - 1)

// / PGMASK masks the frame-number bits of an address.
const PGMASK Pa_t = ^PGOFFSET

// Sv39 PTE flag bits (RISC-V privileged spec, table 4.4), plus one
// software bit (PTE_COW, bit 8 — the first of the two bits the
// architecture reserves for supervisor software) used the way the
// teacher's x86 PTE_COW repurposes an ignored PTE bit.
const (
	PTE_V   Pa_t = 1 << 0 // valid
	PTE_R   Pa_t = 1 << 1 // readable
	PTE_W   Pa_t = 1 << 2 // writable
	PTE_X   Pa_t = 1 << 3 // executable
	PTE_U   Pa_t = 1 << 4 // user-accessible
	PTE_G   Pa_t = 1 << 5 // global
	PTE_A   Pa_t = 1 << 6 // accessed
	PTE_D   Pa_t = 1 << 7 // dirty
	PTE_COW Pa_t = 1 << 8 // software: page is copy-on-write
	// PTE_WASCOW marks a page that was COW but has been claimed
	// single-owner by the fault handler, mirroring the teacher's flag
	// of the same name.
	PTE_WASCOW Pa_t = 1 << 9
)

// / PTE_PPN_SHIFT is where the physical page number begins in a PTE.
const PTE_PPN_SHIFT uint = 10

// / PTE_FLAGS masks all flag bits, leaving only the PPN.
const PTE_FLAGS Pa_t = 1<<PTE_PPN_SHIFT - 1

// / Pa_t represents a physical address.
type Pa_t uintptr

// / Bytepg_t is a byte-addressed page.
type Bytepg_t [PGSIZE]uint8

// / Pg_t is a page viewed as 512 64-bit words (one Sv39 page-table level).
type Pg_t [512]uint64

// / Pmap_t is a page-table page: 512 raw PTEs.
type Pmap_t [512]Pa_t

// / Unpin_i allows unpinning of physical pages held by shared mappings.
type Unpin_i interface {
	Unpin(Pa_t)
}

// / Page_i abstracts physical frame allocation for callers (like the
// / block cache) that must not import mem's concrete Physmem_t.
type Page_i interface {
	Refpg_new() (*Pg_t, Pa_t, bool)
	Refpg_new_nozero() (*Pg_t, Pa_t, bool)
	Refcnt(Pa_t) int
	Dmap(Pa_t) *Pg_t
	Refup(Pa_t)
	Refdown(Pa_t) bool
}

// / Pg2bytes reinterprets a Pg_t as a byte page.
func Pg2bytes(pg *Pg_t) *Bytepg_t {
	return (*Bytepg_t)(unsafe.Pointer(pg))
}

// / Bytepg2pg reinterprets a byte page as a Pg_t.
func Bytepg2pg(pg *Bytepg_t) *Pg_t {
	return (*Pg_t)(unsafe.Pointer(pg))
}

// / Pg2pmap reinterprets a page as a table of 512 Pa_t-sized PTEs, the
// / layout a page assumes once it is linked into a page-table level.
func Pg2pmap(pg *Pg_t) *Pmap_t {
	return (*Pmap_t)(unsafe.Pointer(pg))
}

func _pg2pgn(p_pg Pa_t) uint32 {
	return uint32(p_pg >> PGSHIFT)
}

// / Physpg_t describes one physical frame's bookkeeping state.
type Physpg_t struct {
	Refcnt int32
	nexti  uint32 // next free frame, or freeEnd
}

const freeEnd = ^uint32(0)

// / Physmem_t is the system-wide frame allocator. Unlike the teacher's
// / per-CPU free-list split (needed to avoid cacheline contention across
// / real sockets), a single free list plus mutex is sufficient here: the
// / RV64 target this models is a small number of harts, not a NUMA
// / x86-64 server.
type Physmem_t struct {
	sync.Mutex
	store   []Bytepg_t
	Pgs     []Physpg_t
	freei   uint32
	freelen int32
	inited  bool
}

// / Init carves out npages frames of backing storage. Call once at boot.
func (phys *Physmem_t) Init(npages int) {
	phys.Lock()
	defer phys.Unlock()
	phys.store = make([]Bytepg_t, npages)
	phys.Pgs = make([]Physpg_t, npages)
	for i := range phys.Pgs {
		phys.Pgs[i].Refcnt = 0
		phys.Pgs[i].nexti = uint32(i + 1)
	}
	phys.Pgs[npages-1].nexti = freeEnd
	phys.freei = 0
	phys.freelen = int32(npages)
	phys.inited = true
}

// / Refaddr returns the refcount cell for the frame at physical address p.
func (phys *Physmem_t) Refaddr(p_pg Pa_t) (*int32, uint32) {
	idx := _pg2pgn(p_pg)
	return &phys.Pgs[idx].Refcnt, idx
}

// / Refcnt returns a frame's current reference count.
func (phys *Physmem_t) Refcnt(p_pg Pa_t) int {
	ref, _ := phys.Refaddr(p_pg)
	return int(atomic.LoadInt32(ref))
}

// / Refup increments a frame's reference count.
func (phys *Physmem_t) Refup(p_pg Pa_t) {
	ref, _ := phys.Refaddr(p_pg)
	if c := atomic.AddInt32(ref, 1); c <= 0 {
		fatal("refup of free frame")
	}
}

// / Refdown decrements a frame's reference count, freeing it and
// / returning true when it drops to zero.
func (phys *Physmem_t) Refdown(p_pg Pa_t) bool {
	ref, idx := phys.Refaddr(p_pg)
	c := atomic.AddInt32(ref, -1)
	if c < 0 {
		fatal("refdown of free frame")
	}
	if c != 0 {
		return false
	}
	phys.Lock()
	phys.Pgs[idx].nexti = phys.freei
	phys.freei = idx
	phys.freelen++
	phys.Unlock()
	return true
}

// / Zeropg is a global zero-filled frame used to seed new anonymous pages.
var Zeropg *Pg_t

// / P_zeropg is the physical address of Zeropg.
var P_zeropg Pa_t

func (phys *Physmem_t) alloc() (*Pg_t, Pa_t, bool) {
	if !phys.inited {
		fatal("frame allocator not initialized")
	}
	phys.Lock()
	if phys.freei == freeEnd {
		phys.Unlock()
		notifyOom(1)
		return nil, 0, false
	}
	idx := phys.freei
	phys.freei = phys.Pgs[idx].nexti
	phys.freelen--
	if phys.Pgs[idx].Refcnt != 0 {
		phys.Unlock()
		fatal("free frame has nonzero refcount")
	}
	phys.Unlock()
	p_pg := Pa_t(idx) << PGSHIFT
	return phys.Dmap(p_pg), p_pg, true
}

// / Refpg_new allocates a zeroed frame. Its refcount starts at zero; the
// / caller must Refup it (mirrors the teacher's convention).
func (phys *Physmem_t) Refpg_new() (*Pg_t, Pa_t, bool) {
	pg, p_pg, ok := phys.alloc()
	if !ok {
		return nil, 0, false
	}
	for i := range pg {
		pg[i] = 0
	}
	return pg, p_pg, true
}

// / Refpg_new_nozero allocates a frame without zeroing it, for callers
// / about to overwrite the whole page (COW fault resolution).
func (phys *Physmem_t) Refpg_new_nozero() (*Pg_t, Pa_t, bool) {
	return phys.alloc()
}

// / Dmap returns the kernel-addressable page for a physical address.
func (phys *Physmem_t) Dmap(p Pa_t) *Pg_t {
	idx := _pg2pgn(p)
	return Bytepg2pg(&phys.store[idx])
}

// / Dmap8 returns a byte slice view of the page at p, starting at p's
// / in-page offset.
func (phys *Physmem_t) Dmap8(p Pa_t) []uint8 {
	off := p & PGOFFSET
	bpg := Pg2bytes(phys.Dmap(p &^ PGOFFSET))
	return bpg[off:]
}

// / AddrOf recovers the physical address backing a page returned by
// / Dmap/Refpg_new, by its offset into the backing store. Used by
// / callers (the page-table walker) that allocated a table via
// / Refpg_new but only kept the *Pg_t around.
func (phys *Physmem_t) AddrOf(pg *Pg_t) Pa_t {
	base := uintptr(unsafe.Pointer(&phys.store[0]))
	p := uintptr(unsafe.Pointer(pg))
	idx := (p - base) / uintptr(PGSIZE)
	return Pa_t(idx) << PGSHIFT
}

// / Pgcount reports the number of free frames, for diagnostics.
func (phys *Physmem_t) Pgcount() int {
	phys.Lock()
	defer phys.Unlock()
	return int(phys.freelen)
}

// / Physmem is the global frame allocator instance.
var Physmem = &Physmem_t{}

// notifyOom tells a reclaim daemon, if one is listening on oommsg.OomCh,
// that an allocation failed. The send is best-effort: with nobody
// listening (the common case in this single-hart kernel) it must not
// block the allocator itself. The allocator does not wait on Resume or
// retry; the failed allocation still fails.
func notifyOom(need int) {
	select {
	case oommsg.OomCh <- oommsg.Oommsg_t{Need: need, Resume: make(chan bool, 1)}:
	default:
	}
}

// / Phys_init reserves npages frames and primes the zero page. Analogue
// / of the teacher's Phys_init, minus the runtime page-discovery loop
// / that has no meaning without a real physical address map to probe.
func Phys_init(npages int) *Physmem_t {
	phys := Physmem
	phys.Init(npages)
	var ok bool
	Zeropg, P_zeropg, ok = phys.Refpg_new()
	if !ok {
		fatal("oom during frame allocator init")
	}
	phys.Refup(P_zeropg)
	return phys
}
