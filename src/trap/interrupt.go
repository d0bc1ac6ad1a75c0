package trap

import "sync"

// / Handler is one interrupt vector entry's callback.
type Handler func()

// / slot bundles a registered handler with its priority and whether the
// / supervisor interrupt-enable bit for it is currently set.
type slot struct {
	h        Handler
	priority int
	enabled  bool
}

// / Vector_t is the interrupt table, a map from IRQ number to handler
// / slot plus the optional nested-interrupt priority. It is not a
// / fixed-size array: it has no size bound, and any IRQ number can be
// / registered.
type Vector_t struct {
	mu    sync.Mutex
	slots map[uint64]*slot
}

// / MkVector constructs an empty interrupt table.
func MkVector() *Vector_t {
	return &Vector_t{slots: make(map[uint64]*slot)}
}

// / Register installs h for irq at the given priority (higher values
// / preempt lower ones in the nested variant; the baseline dispatcher
// / ignores priority and simply runs one handler to completion).
func (v *Vector_t) Register(irq uint64, priority int, h Handler) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.slots[irq] = &slot{h: h, priority: priority}
}

// / Enable marks irq as deliverable. The supervisor interrupt-enable CSR
// / itself is the external boot-time collaborator's responsibility;
// / this just gates Dispatch.
func (v *Vector_t) Enable(irq uint64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if s, ok := v.slots[irq]; ok {
		s.enabled = true
	}
}

// / Disable clears irq's deliverable flag.
func (v *Vector_t) Disable(irq uint64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if s, ok := v.slots[irq]; ok {
		s.enabled = false
	}
}

// / Priority returns irq's registered priority, or -1 if unregistered.
func (v *Vector_t) Priority(irq uint64) int {
	v.mu.Lock()
	defer v.mu.Unlock()
	if s, ok := v.slots[irq]; ok {
		return s.priority
	}
	return -1
}

// / Dispatch runs irq's handler if one is registered and enabled. It
// / returns false (and does nothing) for an unrecognized or disabled
// / IRQ, the signal to the caller that the interrupt was spurious or
// / intentionally masked.
func (v *Vector_t) Dispatch(irq uint64) bool {
	v.mu.Lock()
	s, ok := v.slots[irq]
	v.mu.Unlock()
	if !ok || !s.enabled {
		return false
	}
	s.h()
	return true
}

// / DispatchNested is the nested-preemption variant (§4.4, §9 Open
// / Questions): it only runs irq's handler if its priority is strictly
// / higher than current, so a handler of equal or higher priority that
// / is already active is never preempted; current is the priority of
// / the handler already executing on this goroutine's call stack (-1 if
// / none).
func (v *Vector_t) DispatchNested(irq uint64, current int) (ran bool, priority int) {
	v.mu.Lock()
	s, ok := v.slots[irq]
	v.mu.Unlock()
	if !ok || !s.enabled {
		return false, current
	}
	if s.priority <= current {
		return false, current
	}
	s.h()
	return true, s.priority
}
