// Package sysc is the kernel's system-call surface: the number table,
// the fetch-and-validate helpers that cross the user/kernel boundary,
// and the dispatcher that routes a trapped ecall to the right kernel
// operation and writes its result back into the trap frame's a0. It
// plays the role of the teacher's sysc.go, but the teacher's retrieved
// source tree carried no sysc.go of its own (the package only shipped a
// bare go.mod), so this package is grounded instead on spec.md §4.10's
// direct description of the fetch/validate/dispatch contract, realized
// with the argument layout trap.TrapFrame.Arg already exposes and the
// user-memory crossing vm.Copyin/Copyout already implement.
package sysc

import (
	"strings"

	"defs"
	"fdops"
	"file"
	"fs"
	"inode"
	"jlog"
	"klog"
	"limits"
	"mem"
	"proc"
	"stats"
	"trap"
	"ustr"
	"util"
	"vm"
)

// Syscall numbers (§6.1). Contiguous and small, as the spec requires;
// the exact values are this kernel's own assignment, not inherited from
// any particular ABI.
const (
	SYS_EXIT = iota + 1
	SYS_GETPID
	SYS_FORK
	SYS_WAIT
	SYS_KILL
	SYS_WRITE
	SYS_READ
	SYS_OPEN
	SYS_CLOSE
	SYS_UNLINK
	SYS_SBRK
	SYS_TIME
	SYS_SYMLINK
	SYS_EXEC
	SYS_DUP
	SYS_MKNOD
	SYS_CHDIR
	SYS_TICKS
	SYS_GETPRIORITY
	SYS_SLEEP
	SYS_SET_CRASH_STAGE
	SYS_RECOVER_LOG
	SYS_CLEAR_CACHE
	SYS_KLOG_DUMP
	SYS_KLOG_SET_THRESHOLD
)

// maxPath bounds a fetched path string; maxArg/maxArgLen bound exec's
// argv fetch, all local policy choices spec.md leaves to the
// implementation.
const (
	maxPath   = 128
	maxArg    = 32
	maxArgLen = 128
)

// TicksChan is the wait channel sys_sleep parks on; the boot-time timer
// glue (outside this package, since trap cannot import proc without a
// cycle) calls Table.Wakeup(TicksChan) every time it advances
// trap.Ticks, mirroring the teacher's wakeup(&ticks) at each clock tick.
var TicksChan = new(int)

// Dispatcher_t bundles everything a syscall handler needs reach: the
// process table (fork/wait/kill/sleep), the mounted filesystem (path
// resolution lives inside file/inode, but the crash-recovery and
// cache-clearing diagnostic calls reach the log and block cache
// directly), and the system-wide open-file budget.
type Dispatcher_t struct {
	Table  *proc.Table_t
	Fs     *inode.Fs_t
	Ftable *file.Ftable_t
}

// MkDispatcher wires a dispatcher over an already-mounted table/fs.
func MkDispatcher(t *proc.Table_t, fs *inode.Fs_t) *Dispatcher_t {
	return &Dispatcher_t{Table: t, Fs: fs, Ftable: file.MkFtable()}
}

// / Check_user_range implements §4.10's check_user_range: addr/size must
// / describe a range that does not overflow, stays below vm.MAXVA, and
// / whose every page is present (V) and user-accessible (U); mustWrite
// / additionally requires W (or COW, which Copyout will resolve lazily).
func Check_user_range(root vm.Pagetable_t, addr uint64, size int, mustWrite bool) defs.Err_t {
	if size < 0 {
		return -defs.EINVAL
	}
	if size == 0 {
		return 0
	}
	end := addr + uint64(size)
	if end < addr {
		return -defs.EFAULT
	}
	if end > uint64(vm.MAXVA) {
		return -defs.EFAULT
	}
	pgsize := uint64(vm.PGSIZE)
	start := addr &^ (pgsize - 1)
	for va := start; va < end; va += pgsize {
		pte := vm.Walk_lookup(root, uintptr(va))
		if pte == nil || *pte&mem.PTE_V == 0 || *pte&mem.PTE_U == 0 {
			return -defs.EFAULT
		}
		if mustWrite && *pte&mem.PTE_W == 0 && *pte&mem.PTE_COW == 0 {
			return -defs.EFAULT
		}
	}
	return 0
}

// / Fetchstr implements §4.10's fetchstr: it copies at most max-1 bytes
// / from user memory at addr, one byte at a time so a short string never
// / forces a read past its terminator into unmapped memory, and fails if
// / no NUL byte turns up within that bound.
func Fetchstr(root vm.Pagetable_t, addr uint64, max int) (ustr.Ustr, defs.Err_t) {
	if max <= 0 {
		return nil, -defs.EINVAL
	}
	out := make([]uint8, 0, 32)
	var b [1]uint8
	for len(out) < max-1 {
		if err := vm.Copyin(root, b[:], uintptr(addr)+uintptr(len(out)), 1); err != 0 {
			return nil, err
		}
		if b[0] == 0 {
			return ustr.Ustr(out), 0
		}
		out = append(out, b[0])
	}
	return nil, -defs.ENAMETOOLONG
}

// fetchArgv reads the NULL-terminated array of string pointers at addr
// (exec's argv) and resolves each one, bounding both the number of
// arguments and each argument's length.
func fetchArgv(root vm.Pagetable_t, addr uint64) ([]ustr.Ustr, defs.Err_t) {
	if addr == 0 {
		return nil, 0
	}
	var argv []ustr.Ustr
	for i := 0; i < maxArg; i++ {
		var word [8]uint8
		if err := vm.Copyin(root, word[:], uintptr(addr)+uintptr(i*8), 8); err != 0 {
			return nil, err
		}
		p := uint64(util.Readn(word[:], 8, 0))
		if p == 0 {
			return argv, 0
		}
		s, err := Fetchstr(root, p, maxArgLen)
		if err != 0 {
			return nil, err
		}
		argv = append(argv, s)
	}
	return nil, -defs.EINVAL
}

// / Uservm_t adapts a user-space address range to fdops.Userio_i, the
// / seam every file/device backend's Read/Write already reads from or
// / writes to, so the syscall layer is the only place that knows a
// / descriptor's data source happens to be a user page table.
type Uservm_t struct {
	root vm.Pagetable_t
	uva  uintptr
	n    int
	off  int
}

// / MkUservm wraps the n-byte user range starting at uva in page table root.
func MkUservm(root vm.Pagetable_t, uva uint64, n int) *Uservm_t {
	return &Uservm_t{root: root, uva: uintptr(uva), n: n}
}

func (u *Uservm_t) Remain() int  { return u.n - u.off }
func (u *Uservm_t) Totalsz() int { return u.n }

// Uio_read copies out of user memory into dst (a file Write(2) calls
// this to fetch the bytes it should persist).
func (u *Uservm_t) Uio_read(dst []uint8) (int, defs.Err_t) {
	n := len(dst)
	if n > u.Remain() {
		n = u.Remain()
	}
	if n <= 0 {
		return 0, 0
	}
	if err := vm.Copyin(u.root, dst[:n], u.uva+uintptr(u.off), n); err != 0 {
		return 0, err
	}
	u.off += n
	return n, 0
}

// Uio_write copies src into user memory (a file Read(2) calls this to
// deliver the bytes it fetched).
func (u *Uservm_t) Uio_write(src []uint8) (int, defs.Err_t) {
	n := len(src)
	if n > u.Remain() {
		n = u.Remain()
	}
	if n <= 0 {
		return 0, 0
	}
	if err := vm.Copyout(u.root, u.uva+uintptr(u.off), src[:n], n); err != 0 {
		return 0, err
	}
	u.off += n
	return n, 0
}

// / Dispatch fetches the syscall number and arguments from p's trap
// / frame (already populated by usertrap's ecall path), routes to the
// / matching handler, and writes the signed return value into a0 per
// / §4.10's "each syscall handler returns a signed 64-bit value".
func (d *Dispatcher_t) Dispatch(p *proc.Proc_t) {
	tf := p.Tf
	var ret int64
	switch tf.A7 {
	case SYS_EXIT:
		d.Table.Exit_process(p, int(int32(tf.A0)))
		ret = 0
	case SYS_GETPID:
		ret = int64(p.Pid)
	case SYS_FORK:
		ret = d.sysFork(p)
	case SYS_WAIT:
		ret = d.sysWait(p)
	case SYS_KILL:
		ret = int64(d.Table.Kill(defs.Pid_t(int32(tf.A0))))
	case SYS_READ:
		ret = d.sysReadWrite(p, false)
	case SYS_WRITE:
		ret = d.sysReadWrite(p, true)
	case SYS_OPEN:
		ret = d.sysOpen(p)
	case SYS_CLOSE:
		ret = d.sysClose(p)
	case SYS_UNLINK:
		ret = d.sysUnlink(p)
	case SYS_SBRK:
		ret = d.sysSbrk(p)
	case SYS_TIME, SYS_TICKS:
		ret = int64(trap.Ticks.Get())
	case SYS_SYMLINK:
		ret = d.sysSymlink(p)
	case SYS_EXEC:
		ret = d.sysExec(p)
	case SYS_DUP:
		ret = d.sysDup(p)
	case SYS_MKNOD:
		ret = d.sysMknod(p)
	case SYS_CHDIR:
		ret = d.sysChdir(p)
	case SYS_GETPRIORITY:
		ret = int64(p.Priority)
	case SYS_SLEEP:
		ret = d.sysSleep(p)
	case SYS_SET_CRASH_STAGE:
		jlog.CrashStage = int(int32(tf.A0))
	case SYS_RECOVER_LOG:
		d.Fs.Log.Recover()
	case SYS_CLEAR_CACHE:
		d.Fs.Bc.Clear()
	case SYS_KLOG_DUMP:
		ret = d.sysKlogDump(p)
	case SYS_KLOG_SET_THRESHOLD:
		klog.SetThreshold(klog.Level(int32(tf.A0)), klog.Level(int32(tf.A1)))
	default:
		ret = int64(-defs.ENOSYS)
	}
	tf.A0 = uint64(ret)
}

func (d *Dispatcher_t) sysFork(p *proc.Proc_t) int64 {
	child, err := d.Table.Fork_process(p)
	if err != 0 {
		return int64(err)
	}
	return int64(child.Pid)
}

func (d *Dispatcher_t) sysWait(p *proc.Proc_t) int64 {
	addr := p.Tf.A0
	var status int
	pid, err := d.Table.Wait_process(p, &status)
	if err != 0 {
		return int64(err)
	}
	if addr != 0 {
		var buf [8]uint8
		util.Writen(buf[:], 8, 0, status)
		if werr := vm.Copyout(p.Pagetable, uintptr(addr), buf[:], 8); werr != 0 {
			return int64(werr)
		}
	}
	return int64(pid)
}

// allocFd finds an unused slot in p's descriptor array, or -1 if full.
func allocFd(p *proc.Proc_t) int {
	for i := range p.Ofile {
		if p.Ofile[i] == nil {
			return i
		}
	}
	return -1
}

func validFd(p *proc.Proc_t, fd int) bool {
	return fd >= 0 && fd < limits.NOFILE && p.Ofile[fd] != nil
}

func (d *Dispatcher_t) sysReadWrite(p *proc.Proc_t, write bool) int64 {
	fd := int(int32(p.Tf.A0))
	addr := p.Tf.A1
	n := int(int32(p.Tf.A2))
	if !validFd(p, fd) {
		return int64(-defs.EBADF)
	}
	if n < 0 {
		return int64(-defs.EINVAL)
	}
	// read(2) has the kernel write into the user buffer; write(2) only
	// needs to read it, so mustWrite tracks the opposite of `write`.
	if err := Check_user_range(p.Pagetable, addr, n, !write); err != 0 {
		return int64(err)
	}
	uio := MkUservm(p.Pagetable, addr, n)
	var cnt int
	var err defs.Err_t
	if write {
		cnt, err = p.Ofile[fd].Fops.Write(uio)
	} else {
		cnt, err = p.Ofile[fd].Fops.Read(uio)
	}
	if err != 0 {
		return int64(err)
	}
	return int64(cnt)
}

func (d *Dispatcher_t) sysOpen(p *proc.Proc_t) int64 {
	path, err := Fetchstr(p.Pagetable, p.Tf.A0, maxPath)
	if err != 0 {
		return int64(err)
	}
	mode := int(int32(p.Tf.A1))
	fd, operr := file.Sys_open(p.Cwd, d.Table.Console(), path, mode)
	if operr != 0 {
		return int64(operr)
	}
	if ferr := d.Ftable.Falloc(fd); ferr != 0 {
		fd.Fops.Close()
		return int64(ferr)
	}
	slot := allocFd(p)
	if slot < 0 {
		d.Ftable.Ffree(fd)
		fd.Fops.Close()
		return int64(-defs.ENOMEM)
	}
	p.Ofile[slot] = fd
	return int64(slot)
}

func (d *Dispatcher_t) sysClose(p *proc.Proc_t) int64 {
	fd := int(int32(p.Tf.A0))
	if !validFd(p, fd) {
		return int64(-defs.EBADF)
	}
	obj := p.Ofile[fd]
	p.Ofile[fd] = nil
	d.Ftable.Ffree(obj)
	return int64(obj.Fops.Close())
}

func (d *Dispatcher_t) sysDup(p *proc.Proc_t) int64 {
	fd := int(int32(p.Tf.A0))
	if !validFd(p, fd) {
		return int64(-defs.EBADF)
	}
	slot := allocFd(p)
	if slot < 0 {
		return int64(-defs.ENOMEM)
	}
	nfd, err := file.Copyfd(p.Ofile[fd])
	if err != 0 {
		return int64(err)
	}
	if ferr := d.Ftable.Falloc(nfd); ferr != 0 {
		nfd.Fops.Close()
		return int64(ferr)
	}
	p.Ofile[slot] = nfd
	return int64(slot)
}

func (d *Dispatcher_t) sysUnlink(p *proc.Proc_t) int64 {
	path, err := Fetchstr(p.Pagetable, p.Tf.A0, maxPath)
	if err != 0 {
		return int64(err)
	}
	return int64(file.Sys_unlink(p.Cwd, path))
}

func (d *Dispatcher_t) sysSymlink(p *proc.Proc_t) int64 {
	target, err := Fetchstr(p.Pagetable, p.Tf.A0, maxPath)
	if err != 0 {
		return int64(err)
	}
	linkpath, err := Fetchstr(p.Pagetable, p.Tf.A1, maxPath)
	if err != 0 {
		return int64(err)
	}
	return int64(file.Sys_symlink(p.Cwd, target, linkpath))
}

func (d *Dispatcher_t) sysMknod(p *proc.Proc_t) int64 {
	path, err := Fetchstr(p.Pagetable, p.Tf.A0, maxPath)
	if err != 0 {
		return int64(err)
	}
	major := int(int32(p.Tf.A1))
	minor := int(int32(p.Tf.A2))
	typ := int(int32(p.Tf.A3))
	if typ == 0 {
		typ = defs.T_DEV
	}
	return int64(file.Sys_mknod(p.Cwd, path, major, minor, typ))
}

func (d *Dispatcher_t) sysChdir(p *proc.Proc_t) int64 {
	path, err := Fetchstr(p.Pagetable, p.Tf.A0, maxPath)
	if err != 0 {
		return int64(err)
	}
	return int64(file.Sys_chdir(p.Cwd, path))
}

func (d *Dispatcher_t) sysExec(p *proc.Proc_t) int64 {
	path, err := Fetchstr(p.Pagetable, p.Tf.A0, maxPath)
	if err != 0 {
		return int64(err)
	}
	argv, aerr := fetchArgv(p.Pagetable, p.Tf.A1)
	if aerr != 0 {
		return int64(aerr)
	}
	if eerr := d.Table.Exec(p, path, argv); eerr != 0 {
		return int64(eerr)
	}
	return 0
}

func (d *Dispatcher_t) sysSbrk(p *proc.Proc_t) int64 {
	n := int(int32(p.Tf.A0))
	old := p.Sz
	if n >= 0 {
		newsz, err := vm.Uvmalloc(p.Pagetable, p.Sz, p.Sz+n)
		if err != 0 {
			return int64(err)
		}
		p.Sz = newsz
	} else {
		p.Sz = vm.Uvmdealloc(p.Pagetable, p.Sz, p.Sz+n)
	}
	return int64(old)
}

// / sysSleep implements sys_sleep(ticks): it parks p on TicksChan,
// / rechecking trap.Ticks against its target on every wake (a spurious
// / wakeup, or another sleeper's wakeup, does not end the sleep early),
// / and bails out early if p is killed while waiting (§5 cancellation).
func (d *Dispatcher_t) sysSleep(p *proc.Proc_t) int64 {
	n := int(int32(p.Tf.A0))
	if n <= 0 {
		return 0
	}
	target := trap.Ticks.Get() + uint64(n)
	for trap.Ticks.Get() < target {
		if p.Killed {
			return -1
		}
		d.Table.Sleep(p, TicksChan, nil)
	}
	return 0
}

func (d *Dispatcher_t) sysKlogDump(p *proc.Proc_t) int64 {
	addr := p.Tf.A0
	max := int(int32(p.Tf.A1))
	if max < 0 {
		return int64(-defs.EINVAL)
	}
	lines := klog.Dump()
	lines = append(lines,
		strings.TrimRight(stats.Dump(&fs.CacheStats), "\n"),
		strings.TrimRight(stats.Dump(&proc.SchedStats), "\n"))
	joined := strings.Join(lines, "\n")
	buf := []uint8(joined)
	if len(buf) > max {
		buf = buf[:max]
	}
	if len(buf) > 0 {
		if err := vm.Copyout(p.Pagetable, uintptr(addr), buf, len(buf)); err != 0 {
			return int64(err)
		}
	}
	return int64(len(buf))
}

var _ fdops.Userio_i = (*Uservm_t)(nil)
