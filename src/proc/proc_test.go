package proc

import (
	"testing"
	"time"

	"defs"
	"fdops"
	"fs"
	"inode"
	"jlog"
	"mem"
	"uart"
	"ustr"
	"virtio"
)

const testLogSize = 40
const testInodestart = testLogSize
const testBmapstart = testInodestart + 1
const testDatastart = testBmapstart + 1
const testNblocks = testDatastart + 64
const testNinodes = 40

func freshFs(t *testing.T) *inode.Fs_t {
	t.Helper()
	disk := virtio.MkMemDisk(testNblocks)
	bc := fs.MkBcache(disk)
	log := jlog.Log_init(bc, 0, 0, testLogSize)
	l := inode.Layout{
		Dev:            0,
		Inodestart:     testInodestart,
		Bmapstart:      testBmapstart,
		Ninodes:        testNinodes,
		Nblocks:        testNblocks,
		InodesPerBlock: fs.BSIZE / 68,
	}
	ifs := inode.MkFs(bc, log, l)

	bb := bc.Bread(0, testBmapstart)
	for b := 0; b < testDatastart; b++ {
		bb.Data[b/8] |= 1 << uint(b%8)
	}
	bc.Bwrite(bb)
	bc.Brelse(bb)

	root, err := ifs.Ialloc(defs.T_DIR)
	if err != 0 {
		t.Fatalf("ialloc root: %d", err)
	}
	root.Ilock()
	root.Dirlink(ustr.MkUstrDot(), root.Inum)
	root.Dirlink(ustr.Ustr(".."), root.Inum)
	root.Iunlock()
	return ifs
}

func freshPhysmem(t *testing.T, n int) {
	t.Helper()
	mem.Physmem = &mem.Physmem_t{}
	mem.Physmem.Init(n)
}

func TestAllocFreeProcessReusesSlot(t *testing.T) {
	tbl := MkTable(uart.MkStub())
	p1, err := tbl.Alloc_process()
	if err != 0 {
		t.Fatalf("alloc: %d", err)
	}
	if p1.Pid != 1 {
		t.Fatalf("expected pid 1, got %d", p1.Pid)
	}
	tbl.Free_process(p1)
	p2, err := tbl.Alloc_process()
	if err != 0 {
		t.Fatalf("alloc after free: %d", err)
	}
	if p2.Pid != 2 {
		t.Fatalf("expected fresh pid 2 (pids never reused), got %d", p2.Pid)
	}
}

func TestUserinitBuildsRunnableProcess(t *testing.T) {
	freshPhysmem(t, 64)
	ifs := freshFs(t)
	con := uart.MkStub()
	tbl := MkTable(con)

	initcode := make([]uint8, 16)
	copy(initcode, []uint8{0x13, 0x00, 0x00, 0x00})
	p, err := tbl.Userinit(ifs, initcode)
	if err != 0 {
		t.Fatalf("userinit: %d", err)
	}
	if p.State != defs.RUNNABLE {
		t.Fatalf("expected RUNNABLE, got %s", p.State)
	}
	if p.Tf.Epc != 0 {
		t.Fatalf("expected entry 0, got %#x", p.Tf.Epc)
	}
	if p.Tf.Sp != uint64(mem.PGSIZE) {
		t.Fatalf("expected sp at PGSIZE, got %#x", p.Tf.Sp)
	}
	if p.Ofile[0] == nil || p.Ofile[1] == nil || p.Ofile[2] == nil {
		t.Fatal("expected console fds 0-2 open")
	}
}

func TestForkChildGetsZeroReturnAndOwnFds(t *testing.T) {
	freshPhysmem(t, 64)
	ifs := freshFs(t)
	tbl := MkTable(uart.MkStub())
	initcode := make([]uint8, 16)
	parent, err := tbl.Userinit(ifs, initcode)
	if err != 0 {
		t.Fatalf("userinit: %d", err)
	}
	parent.Tf.A0 = 99

	child, ferr := tbl.Fork_process(parent)
	if ferr != 0 {
		t.Fatalf("fork: %d", ferr)
	}
	if child.Tf.A0 != 0 {
		t.Fatalf("child a0 should be 0, got %d", child.Tf.A0)
	}
	if child.Sz != parent.Sz {
		t.Fatalf("child sz %d != parent sz %d", child.Sz, parent.Sz)
	}
	if child.Parent != parent {
		t.Fatal("child's parent not set")
	}
	if child.Ofile[0] == nil {
		t.Fatal("expected inherited console fd")
	}
	// Closing the child's copy must not disturb the parent's descriptor:
	// the parent's console fd must still accept writes afterward.
	child.Ofile[0].Fops.Close()
	if _, werr := parent.Ofile[0].Fops.Write(fdops.MkKerneldata([]uint8("x"))); werr != 0 {
		t.Fatalf("parent fd unusable after child closed its copy: %d", werr)
	}
}

func TestSleepWakeupRendezvous(t *testing.T) {
	tbl := MkTable(uart.MkStub())
	p, _ := tbl.Alloc_process()
	p.State = defs.RUNNABLE

	chan_ := &struct{}{}
	woke := make(chan struct{})
	go func() {
		tbl.Sleep(p, chan_, nil)
		close(woke)
	}()

	time.Sleep(10 * time.Millisecond)
	tbl.mu.Lock()
	st := p.State
	tbl.mu.Unlock()
	if st != defs.SLEEPING {
		t.Fatalf("expected SLEEPING before wakeup, got %s", st)
	}

	tbl.Wakeup(chan_)
	select {
	case <-woke:
	case <-time.After(time.Second):
		t.Fatal("wakeup did not release sleeper")
	}
}

func TestKillPromotesSleepingProcess(t *testing.T) {
	tbl := MkTable(uart.MkStub())
	p, _ := tbl.Alloc_process()
	p.State = defs.RUNNABLE

	woke := make(chan struct{})
	go func() {
		tbl.Sleep(p, p, nil)
		close(woke)
	}()
	time.Sleep(10 * time.Millisecond)

	if kerr := tbl.Kill(p.Pid); kerr != 0 {
		t.Fatalf("kill: %d", kerr)
	}
	select {
	case <-woke:
	case <-time.After(time.Second):
		t.Fatal("kill did not wake sleeping process")
	}
	if !p.Killed {
		t.Fatal("expected Killed set")
	}
}

func TestExitWakesWaitingParent(t *testing.T) {
	freshPhysmem(t, 64)
	ifs := freshFs(t)
	tbl := MkTable(uart.MkStub())
	initcode := make([]uint8, 16)
	parent, _ := tbl.Userinit(ifs, initcode)
	child, ferr := tbl.Fork_process(parent)
	if ferr != 0 {
		t.Fatalf("fork: %d", ferr)
	}

	type result struct {
		pid defs.Pid_t
		st  int
		err defs.Err_t
	}
	done := make(chan result, 1)
	go func() {
		var status int
		pid, werr := tbl.Wait_process(parent, &status)
		done <- result{pid, status, werr}
	}()

	time.Sleep(10 * time.Millisecond)
	tbl.Exit_process(child, 7)

	select {
	case r := <-done:
		if r.err != 0 {
			t.Fatalf("wait failed: %d", r.err)
		}
		if r.pid != child.Pid {
			t.Fatalf("expected pid %d, got %d", child.Pid, r.pid)
		}
		if r.st != 7 {
			t.Fatalf("expected exit status 7, got %d", r.st)
		}
	case <-time.After(time.Second):
		t.Fatal("wait did not observe child exit")
	}
}

func TestSchedulerRoundRobinsRunnableProcesses(t *testing.T) {
	tbl := MkTable(uart.MkStub())
	const n = 3
	ran := make([]int, n)
	for i := 0; i < n; i++ {
		p, _ := tbl.Alloc_process()
		p.State = defs.RUNNABLE
		idx, pp := i, p
		pp.Run = func(*Proc_t) {
			ran[idx]++
			tbl.mu.Lock()
			pp.State = defs.RUNNABLE
			tbl.mu.Unlock()
		}
	}
	for i := 0; i < n*2; i++ {
		if !tbl.RunOnce() {
			t.Fatal("expected a runnable process")
		}
	}
	for i, c := range ran {
		if c != 2 {
			t.Fatalf("process %d ran %d times, want 2", i, c)
		}
	}
}

