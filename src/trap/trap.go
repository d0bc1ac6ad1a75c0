// Package trap defines the supervisor-mode trap surface: the
// trampoline's trap frame layout, the scause/interrupt classification
// helpers, the interrupt vector table, and the timer tick counter.
// The actual trampoline assembly, stvec/sepc/sstatus CSR access, and
// "jump to user mode" stub are an external collaborator (the boot-time
// machine-mode initializer delegates traps to supervisor mode, per
// spec.md §1); this package is the Go-side data and dispatch logic
// that drives and is driven by that stub, mirroring the teacher's own
// split between its assembly trampoline and its Go-level trap.go.
package trap

import "sync"

// / TrapFrame is the 288-byte, page-resident register save area the
// / user-entry trampoline uses to stash and restore user registers
// / (spec.md §3): 32 general-purpose registers worth of fields plus the
// / four kernel-provided fields the trampoline reads on the way back
// / out to user mode.
type TrapFrame struct {
	// Kernel-provided fields, filled in by Usertrapret before sret.
	Kernel_satp   uint64
	Kernel_sp     uint64
	Kernel_trap   uint64
	Kernel_hartid uint64

	Epc uint64

	Ra, Sp, Gp, Tp     uint64
	T0, T1, T2         uint64
	S0, S1             uint64
	A0, A1, A2, A3, A4, A5, A6, A7 uint64
	S2, S3, S4, S5, S6, S7, S8, S9, S10, S11 uint64
	T3, T4, T5, T6 uint64
}

// / TrapFrameSize is the structure's size in bytes; it must fit in one
// / page and spec.md §3 names it exactly.
const TrapFrameSize = 288

// Arg returns trap-frame register a0..a5 by syscall argument index
// (0..5).
func (tf *TrapFrame) Arg(i int) uint64 {
	switch i {
	case 0:
		return tf.A0
	case 1:
		return tf.A1
	case 2:
		return tf.A2
	case 3:
		return tf.A3
	case 4:
		return tf.A4
	case 5:
		return tf.A5
	}
	panic("trap: argument index out of range")
}

// scause interrupt codes (RISC-V privileged spec, when the top bit of
// scause is set).
const (
	IRQSoftware = 1
	IRQTimer    = 5
	IRQExternal = 9
)

// scause exception codes (top bit clear).
const (
	ExcInstrMisaligned = 0
	ExcInstrFault      = 1
	ExcIllegalInstr    = 2
	ExcBreakpoint      = 3
	ExcLoadMisaligned  = 4
	ExcLoadFault       = 5
	ExcStoreMisaligned = 6
	ExcStoreFault      = 7
	ExcEcallU          = 8
	ExcEcallS          = 9
	ExcInstrPageFault  = 12
	ExcLoadPageFault   = 13
	ExcStorePageFault  = 15
)

// interruptBit is scause's MSB on RV64: set when the trap is an
// interrupt rather than an exception.
const interruptBit = uint64(1) << 63

// / IsInterrupt reports whether scause describes an interrupt (set) or
// / an exception (clear).
func IsInterrupt(scause uint64) bool {
	return scause&interruptBit != 0
}

// / Code strips the interrupt bit, leaving the IRQ number or exception
// / code.
func Code(scause uint64) uint64 {
	return scause &^ interruptBit
}

// / IsPageFault reports whether code (already stripped via Code) is one
// / of the three page-fault exception codes COW resolution can apply to.
func IsPageFault(code uint64) bool {
	switch code {
	case ExcInstrPageFault, ExcLoadPageFault, ExcStorePageFault:
		return true
	}
	return false
}

// / Ticks is the global tick counter the timer interrupt handler
// / advances, protected by its own spinlock-equivalent mutex per
// / spec.md §5 ("tick counter... own exactly one spinlock").
type Ticks_t struct {
	mu sync.Mutex
	n  uint64
}

var Ticks = &Ticks_t{}

// / Tick advances the counter by one, called from the timer interrupt
// / handler.
func (t *Ticks_t) Tick() {
	t.mu.Lock()
	t.n++
	t.mu.Unlock()
}

// / Get returns the current tick count.
func (t *Ticks_t) Get() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.n
}
