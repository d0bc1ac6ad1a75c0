package file

import (
	"testing"

	"defs"
	"fdops"
	"fs"
	"inode"
	"jlog"
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

func freshCwd(t *testing.T) *Cwd_t {
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
		InodesPerBlock: fs.BSIZE / 68, // dinode size: 2 i16 + 2 i16 + u32 + 14 u32
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
	if lerr := root.Dirlink(ustr.MkUstrDot(), root.Inum); lerr != 0 {
		t.Fatalf("dirlink .: %d", lerr)
	}
	if lerr := root.Dirlink(ustr.Ustr(".."), root.Inum); lerr != 0 {
		t.Fatalf("dirlink ..: %d", lerr)
	}
	root.Iunlock()

	return MkCwd(ifs)
}

func TestOpenCreateWriteCloseReopenRead(t *testing.T) {
	cwd := freshCwd(t)
	name := ustr.MkUstrSlice([]byte("testfile"))

	fd, err := Sys_open(cwd, nil, name, defs.O_CREAT|defs.O_RDWR)
	if err != 0 {
		t.Fatalf("open create: %d", err)
	}
	payload := []uint8("Hello, filesystem!")
	n, werr := fd.Fops.Write(fdops.MkKerneldata(payload))
	if werr != 0 || n != len(payload) {
		t.Fatalf("write: n=%d err=%d", n, werr)
	}
	if cerr := fd.Fops.Close(); cerr != 0 {
		t.Fatalf("close: %d", cerr)
	}

	fd2, oerr := Sys_open(cwd, nil, name, defs.O_RDONLY)
	if oerr != 0 {
		t.Fatalf("reopen: %d", oerr)
	}
	dst := make([]uint8, 64)
	rn, rerr := fd2.Fops.Read(fdops.MkKerneldata(dst))
	if rerr != 0 {
		t.Fatalf("read: %d", rerr)
	}
	if rn != len(payload) {
		t.Fatalf("expected %d bytes, got %d", len(payload), rn)
	}
	if string(dst[:rn]) != string(payload) {
		t.Fatalf("payload mismatch: got %q", dst[:rn])
	}
	fd2.Fops.Close()

	if uerr := Sys_unlink(cwd, name); uerr != 0 {
		t.Fatalf("unlink: %d", uerr)
	}
}

func TestDupSharesOffsetAndRefcount(t *testing.T) {
	cwd := freshCwd(t)
	name := ustr.MkUstrSlice([]byte("dupfile"))
	fd, err := Sys_open(cwd, nil, name, defs.O_CREAT|defs.O_RDWR)
	if err != 0 {
		t.Fatalf("open: %d", err)
	}
	dup, derr := Copyfd(fd)
	if derr != 0 {
		t.Fatalf("copyfd: %d", derr)
	}

	if _, werr := fd.Fops.Write(fdops.MkKerneldata([]uint8("abc"))); werr != 0 {
		t.Fatalf("write: %d", werr)
	}
	// dup shares the same File_t, so its offset (and the data it sees)
	// reflects the write made through fd.
	dst := make([]uint8, 3)
	n, rerr := dup.Fops.Read(fdops.MkKerneldata(dst))
	if rerr != 0 || n != 0 {
		t.Fatalf("dup read should start past the written bytes (shared offset): n=%d err=%d", n, rerr)
	}

	// Closing the dup must not free the inode while fd is still open.
	if cerr := dup.Fops.Close(); cerr != 0 {
		t.Fatalf("close dup: %d", cerr)
	}
	dst2 := make([]uint8, 3)
	if _, rerr := fd.Fops.Lseek(0, 0); rerr != 0 {
		t.Fatalf("lseek: %d", rerr)
	}
	if n, rerr := fd.Fops.Read(fdops.MkKerneldata(dst2)); rerr != 0 || n != 3 {
		t.Fatalf("fd should still be usable after dup closed: n=%d err=%d", n, rerr)
	}
	fd.Fops.Close()
}

func TestOpenConsoleSpecialPath(t *testing.T) {
	cwd := freshCwd(t)
	con := uart.MkStub()
	con.PushInput([]uint8("hi"))

	fd, err := Sys_open(cwd, con, ustr.MkUstrSlice([]byte("console")), defs.O_RDWR)
	if err != 0 {
		t.Fatalf("open console: %d", err)
	}
	dst := make([]uint8, 2)
	n, rerr := fd.Fops.Read(fdops.MkKerneldata(dst))
	if rerr != 0 || n != 2 || string(dst) != "hi" {
		t.Fatalf("console read: n=%d err=%d data=%q", n, rerr, dst)
	}
	if _, werr := fd.Fops.Write(fdops.MkKerneldata([]uint8("out"))); werr != 0 {
		t.Fatalf("console write: %d", werr)
	}
	if string(con.Out) != "out" {
		t.Fatalf("console output mismatch: %q", con.Out)
	}
}

func TestChdirTracksCanonicalPath(t *testing.T) {
	cwd := freshCwd(t)
	if cwd.PathString() != "/" {
		t.Fatalf("fresh cwd path = %q, want /", cwd.PathString())
	}

	sub := ustr.MkUstrSlice([]byte("sub"))
	// Build a directory by hand with Ialloc and Dirlink, the steps
	// Sys_mknod takes for a T_DIR node (there is no separate Sys_mkdir).
	dir, ierr := cwd.Fs.Ialloc(defs.T_DIR)
	if ierr != 0 {
		t.Fatalf("ialloc dir: %d", ierr)
	}
	dir.Ilock()
	if lerr := dir.Dirlink(ustr.MkUstrDot(), dir.Inum); lerr != 0 {
		t.Fatalf("dirlink .: %d", lerr)
	}
	if lerr := dir.Dirlink(ustr.Ustr(".."), cwd.Cwd.Inum); lerr != 0 {
		t.Fatalf("dirlink ..: %d", lerr)
	}
	dir.Iunlock()
	cwd.Cwd.Ilock()
	if lerr := cwd.Cwd.Dirlink(sub, dir.Inum); lerr != 0 {
		t.Fatalf("dirlink sub: %d", lerr)
	}
	cwd.Cwd.Iunlock()
	cwd.Fs.Iput(dir)

	if cerr := Sys_chdir(cwd, sub); cerr != 0 {
		t.Fatalf("chdir sub: %d", cerr)
	}
	if cwd.PathString() != "/sub" {
		t.Fatalf("cwd path after chdir sub = %q, want /sub", cwd.PathString())
	}
	if cerr := Sys_chdir(cwd, ustr.Ustr("..")); cerr != 0 {
		t.Fatalf("chdir ..: %d", cerr)
	}
	if cwd.PathString() != "/" {
		t.Fatalf("cwd path after chdir .. = %q, want /", cwd.PathString())
	}
}

func TestMknodDeviceThenUnlink(t *testing.T) {
	cwd := freshCwd(t)

	// creating a device node and then unlinking it should both succeed.
	if merr := Sys_mknod(cwd, ustr.MkUstrSlice([]byte("dev1")), 1, 2, defs.T_DEV); merr != 0 {
		t.Fatalf("mknod: %d", merr)
	}
	if uerr := Sys_unlink(cwd, ustr.MkUstrSlice([]byte("dev1"))); uerr != 0 {
		t.Fatalf("unlink dev: %d", uerr)
	}
}
