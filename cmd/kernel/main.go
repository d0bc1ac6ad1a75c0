// Command kernel wires up every package-level singleton in the boot
// order spec.md §2 describes and hands control to the scheduler. A
// real RISC-V hart never executes here — there is no trampoline, no
// sepc/sstatus CSR access, no timer-interrupt trap entry — so "boot"
// means constructing the frame allocator, page tables, disk and block
// cache, log, inode cache, file table, and process table in dependency
// order, the hosted equivalent of the teacher's kernel main.go.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"defs"
	"fs"
	"inode"
	"jlog"
	"klog"
	"mem"
	"proc"
	"sysc"
	"trap"
	"uart"
	"virtio"
	"vm"
)

const (
	npages       = 16384 // physical frames the hosted allocator manages
	tickInterval = 10 * time.Millisecond
)

// bootFS mounts the on-disk filesystem at diskPath: opens the block
// device, reads the superblock, replays any interrupted log
// transaction, and returns a ready inode.Fs_t. Mirrors fsimage.Boot,
// but kept separate since the live kernel's Fs_t feeds proc/file/sysc
// rather than a host-side convenience API.
func bootFS(diskPath string) (*inode.Fs_t, error) {
	disk, err := virtio.OpenFileDisk(diskPath)
	if err != nil {
		return nil, fmt.Errorf("open disk: %w", err)
	}
	bc := fs.MkBcache(disk)

	sbBlock := bc.Bread(0, 1)
	sb := fs.Superblock_t{Data: &sbBlock.Data}
	if !sb.Valid() {
		bc.Brelse(sbBlock)
		return nil, fmt.Errorf("%s: bad superblock magic", diskPath)
	}
	layout := inode.Layout{
		Dev:            0,
		Inodestart:     sb.Inodestart(),
		Bmapstart:      sb.Bmapstart(),
		Ninodes:        sb.Ninodes(),
		Nblocks:        sb.TotalSize(),
		InodesPerBlock: fs.BSIZE / 68,
	}
	nlog, logstart := sb.Nlog(), sb.Logstart()
	bc.Brelse(sbBlock)

	log := jlog.Log_init(bc, 0, logstart, nlog)
	return inode.MkFs(bc, log, layout), nil
}

// initcodeRun builds the first process's Run callback: it copies a
// banner into its own address space, writes it to the console via the
// real sys_write path, then exits. This is the hosted stand-in for the
// teacher's hand-assembled initcode.S — where that program is a fixed
// byte string the trampoline jumps into, here it is an ordinary Go
// closure driving the same trapframe/dispatcher contract a real user
// program's ecall would.
func initcodeRun(d *sysc.Dispatcher_t, banner string) func(p *proc.Proc_t) {
	return func(p *proc.Proc_t) {
		const bufVA = uint64(mem.PGSIZE)
		newsz, err := vm.Uvmalloc(p.Pagetable, p.Sz, p.Sz+mem.PGSIZE)
		if err != 0 {
			panic(fmt.Sprintf("initcode: uvmalloc: %d", err))
		}
		p.Sz = newsz

		msg := append([]byte(banner), 0)
		if werr := vm.Copyout(p.Pagetable, uintptr(bufVA), msg, len(msg)); werr != 0 {
			panic(fmt.Sprintf("initcode: copyout: %d", werr))
		}

		p.Tf.A0, p.Tf.A1, p.Tf.A2, p.Tf.A7 = 1, bufVA, uint64(len(banner)), uint64(sysc.SYS_WRITE)
		d.Dispatch(p)

		p.Tf.A0, p.Tf.A7 = 0, uint64(sysc.SYS_EXIT)
		d.Dispatch(p)
	}
}

// tickLoop stands in for the timer-interrupt handler: every interval
// it advances the tick counter and wakes whatever sys_sleep callers are
// waiting on it, since trap cannot import proc (proc already imports
// trap) and so cannot drive the wakeup itself.
func tickLoop(tbl *proc.Table_t, stop <-chan struct{}) {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			trap.Ticks.Tick()
			tbl.Wakeup(sysc.TicksChan)
		}
	}
}

func main() {
	diskPath := flag.String("disk", "", "path to a disk image formatted by mkfs")
	flag.Parse()
	if *diskPath == "" {
		fmt.Fprintln(os.Stderr, "kernel: -disk is required")
		os.Exit(1)
	}

	con := uart.MkStub()
	klog.SetConsole(con)
	klog.SetThreshold(klog.LDEBUG, klog.LINFO)

	mem.Phys_init(npages)
	klog.Logf(klog.LINFO, "frame allocator: %d pages", npages)

	ifs, err := bootFS(*diskPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "kernel: %v\n", err)
		os.Exit(1)
	}
	klog.Logf(klog.LINFO, "filesystem mounted from %s", *diskPath)

	tbl := proc.MkTable(con)
	d := sysc.MkDispatcher(tbl, ifs)

	init_, ierr := tbl.Userinit(ifs, nil)
	if ierr != 0 {
		fmt.Fprintf(os.Stderr, "kernel: userinit: %d\n", ierr)
		os.Exit(1)
	}
	init_.Run = initcodeRun(d, "riscv-os: boot complete\n")

	stop := make(chan struct{})
	go tickLoop(tbl, stop)

	for init_.State != defs.ZOMBIE {
		tbl.RunOnce()
	}
	close(stop)

	os.Stdout.Write(con.Out)
}
