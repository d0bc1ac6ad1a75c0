// Package proc implements the process control block, the fixed-size
// process table, and process lifecycle (fork/exec/exit/wait/kill) plus
// the sleep/wakeup rendezvous the rest of the kernel blocks on. It plays
// the role of the teacher's proc.go, but the teacher's retrieved source
// tree carried no proc.go of its own (the package only shipped a bare
// go.mod), so this package is grounded instead on the teacher's
// fd.Copyfd fd-table convention (reused here via file.Copyfd), on
// vm.Uvmcopy/elf.Load for the memory-image side of fork/exec, and on
// spec.md §3-§5's direct description of the PCB, the single process-
// table lock, and the sleep-on-self/wake-the-parent wait protocol.
package proc

import (
	"sync"

	"accnt"
	"defs"
	"file"
	"inode"
	"limits"
	"mem"
	"trap"
	"uart"
	"vm"
)

// / Proc_t is one process control block: identity, scheduling state,
// / the user address space, and the resources (open files, cwd, trap
// / frame) a running process needs, per spec.md §3.
type Proc_t struct {
	Pid    defs.Pid_t
	Name   [16]byte
	Parent *Proc_t

	State    defs.Procstate_t
	Chan     interface{}
	Killed   bool
	Xstate   int
	Priority int // MLFQ level (§4.5 optional variant); 0 is topmost

	Sz          int
	Pagetable   vm.Pagetable_t
	PagetablePa mem.Pa_t
	Tf          *trap.TrapFrame

	Ofile [limits.NOFILE]*file.Fd_t
	Cwd   *file.Cwd_t

	Acct accnt.Accnt_t

	// Run stands in for the trampoline's jump into user mode: the
	// scheduler calls it once per timeslice while the process is
	// RUNNING, in place of an sret this hosted model never performs.
	// It must leave State set to RUNNABLE, SLEEPING, or ZOMBIE before
	// returning.
	Run func(p *Proc_t)
}

// / Table_t is the fixed-size process table plus the single lock that
// / guards every PCB's scheduling-relevant fields (State/Chan/Killed),
// / mirroring spec.md §5's "process table... own exactly one spinlock".
type Table_t struct {
	mu      sync.Mutex
	cond    *sync.Cond
	procs   [limits.NPROC]*Proc_t
	nextpid defs.Pid_t
	lastran int

	con uart.Console_i

	// initProc is the reparenting target for orphaned children, the
	// first process Userinit creates.
	initProc *Proc_t
}

// / MkTable constructs an empty table. con is the console handed to
// / Userinit's first three file descriptors.
func MkTable(con uart.Console_i) *Table_t {
	t := &Table_t{con: con, nextpid: 1}
	t.cond = sync.NewCond(&t.mu)
	return t
}

// / Alloc_process reserves a PCB table slot and the system-wide process
// / budget, returning a USED process with a fresh pid and an empty trap
// / frame. The caller still owes it a page table before it is runnable.
func (t *Table_t) Alloc_process() (*Proc_t, defs.Err_t) {
	if !limits.Syslimit.Procs.Take() {
		return nil, -defs.ENOMEM
	}
	t.mu.Lock()
	slot := -1
	for i, p := range t.procs {
		if p == nil {
			slot = i
			break
		}
	}
	if slot == -1 {
		t.mu.Unlock()
		limits.Syslimit.Procs.Give()
		return nil, -defs.ENOMEM
	}
	p := &Proc_t{Pid: t.nextpid, State: defs.USED, Tf: &trap.TrapFrame{}}
	t.nextpid++
	t.procs[slot] = p
	t.mu.Unlock()
	return p, 0
}

// / Free_process tears down p's address space and returns its table slot
// / and process-budget unit, called once a parent has reaped p via
// / Wait_process (or a failed allocation unwinds itself).
func (t *Table_t) Free_process(p *Proc_t) {
	if p.Pagetable != nil {
		vm.Destroy_pagetable(p.Pagetable, p.PagetablePa)
		p.Pagetable = nil
	}
	t.mu.Lock()
	for i, q := range t.procs {
		if q == p {
			t.procs[i] = nil
			break
		}
	}
	t.mu.Unlock()
	limits.Syslimit.Procs.Give()
}

// / Userinit builds the very first process: a one-page address space
// / holding initcode, console fds 0/1/2, and a cwd rooted at fs's root
// / directory. Its trap frame starts executing at VA 0 with the stack
// / pointer at the top of that single page.
func (t *Table_t) Userinit(fs *inode.Fs_t, initcode []uint8) (*Proc_t, defs.Err_t) {
	p, err := t.Alloc_process()
	if err != 0 {
		return nil, err
	}
	root, pa, ok := vm.Create_pagetable()
	if !ok {
		t.Free_process(p)
		return nil, -defs.ENOMEM
	}
	p.Pagetable = root
	p.PagetablePa = pa

	if len(initcode) > mem.PGSIZE {
		vm.Destroy_pagetable(root, pa)
		t.Free_process(p)
		return nil, -defs.EINVAL
	}
	if _, aerr := vm.Uvmalloc_perm(root, 0, mem.PGSIZE, mem.PTE_R|mem.PTE_W|mem.PTE_X); aerr != 0 {
		vm.Destroy_pagetable(root, pa)
		t.Free_process(p)
		return nil, aerr
	}
	if werr := vm.Copyout(root, 0, initcode, len(initcode)); werr != 0 {
		vm.Destroy_pagetable(root, pa)
		t.Free_process(p)
		return nil, werr
	}
	p.Sz = mem.PGSIZE
	p.Tf.Epc = 0
	p.Tf.Sp = uint64(mem.PGSIZE)

	p.Cwd = file.MkCwd(fs)
	p.Ofile[0] = file.OpenConsole(t.con)
	p.Ofile[1] = file.OpenConsole(t.con)
	p.Ofile[2] = file.OpenConsole(t.con)
	copy(p.Name[:], "initcode")

	t.mu.Lock()
	p.State = defs.RUNNABLE
	t.initProc = p
	t.mu.Unlock()
	return p, 0
}

// / Sleep atomically releases lk (if non-nil) and blocks p on chan_
// / until a Wakeup(chan_) or Kill(p.Pid) call makes it RUNNABLE again,
// / mirroring the teacher's sleep()/wakeup() rendezvous (spec.md §4.5),
// / realized here with a real sync.Cond instead of a scheduler-level
// / busy rescan.
func (t *Table_t) Sleep(p *Proc_t, chan_ interface{}, lk sync.Locker) {
	if lk != nil {
		lk.Unlock()
	}
	t.mu.Lock()
	p.Chan = chan_
	p.State = defs.SLEEPING
	for p.State == defs.SLEEPING {
		t.cond.Wait()
	}
	t.mu.Unlock()
	if lk != nil {
		lk.Lock()
	}
}

// / Wakeup makes every process sleeping on chan_ RUNNABLE again.
func (t *Table_t) Wakeup(chan_ interface{}) {
	t.mu.Lock()
	for _, p := range t.procs {
		if p != nil && p.State == defs.SLEEPING && p.Chan == chan_ {
			p.State = defs.RUNNABLE
			p.Chan = nil
		}
	}
	t.cond.Broadcast()
	t.mu.Unlock()
}

// / Kill marks pid killed and, if it is currently sleeping, promotes it
// / to RUNNABLE so it observes Killed on its next scheduling turn
// / (spec.md §4.5: "a killed process sleeping... wakes up").
func (t *Table_t) Kill(pid defs.Pid_t) defs.Err_t {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, p := range t.procs {
		if p != nil && p.Pid == pid {
			p.Killed = true
			if p.State == defs.SLEEPING {
				p.State = defs.RUNNABLE
				p.Chan = nil
			}
			t.cond.Broadcast()
			return 0
		}
	}
	return -defs.ESRCH
}

// / Yield voluntarily gives up the CPU: a RUNNING process becomes
// / RUNNABLE again without blocking on any channel.
func (t *Table_t) Yield(p *Proc_t) {
	t.mu.Lock()
	if p.State == defs.RUNNING {
		p.State = defs.RUNNABLE
	}
	t.mu.Unlock()
}

// / Console returns the console device backing fds 0-2, so callers
// / outside this package (the syscall dispatcher's sys_open) can reach
// / the same device Userinit attached without this package exporting con
// / as a bare field.
func (t *Table_t) Console() uart.Console_i {
	return t.con
}

// / Find looks up a live PCB by pid, for diagnostics and wait/kill
// / callers that only have a pid in hand.
func (t *Table_t) Find(pid defs.Pid_t) *Proc_t {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, p := range t.procs {
		if p != nil && p.Pid == pid {
			return p
		}
	}
	return nil
}
