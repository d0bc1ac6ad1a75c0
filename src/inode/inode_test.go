package inode

import (
	"testing"

	"defs"
	"fs"
	"jlog"
	"ustr"
	"virtio"
)

// Log region occupies blocks [0, logSize): block 0 is the header, the
// rest are worst-case scratch space for one transaction's blocks.
const testLogSize = 40
const testInodestart = testLogSize
const testBmapstart = testInodestart + 1
const testDatastart = testBmapstart + 1
const testNblocks = testDatastart + 64
const testNinodes = 40
const testInodesPerBlock = fs.BSIZE / dinodeSize

func freshFs(t *testing.T) *Fs_t {
	t.Helper()
	disk := virtio.MkMemDisk(testNblocks)
	bc := fs.MkBcache(disk)
	log := jlog.Log_init(bc, 0, 0, testLogSize)
	l := Layout{
		Dev:            0,
		Inodestart:     testInodestart,
		Bmapstart:      testBmapstart,
		Ninodes:        testNinodes,
		Nblocks:        testNblocks,
		InodesPerBlock: testInodesPerBlock,
	}
	f := MkFs(bc, log, l)

	// Mark every block before the data region as in-use, the way mkfs
	// pre-marks metadata blocks in the bitmap.
	bb := bc.Bread(0, testBmapstart)
	for b := 0; b < testDatastart; b++ {
		bb.Data[b/8] |= 1 << uint(b%8)
	}
	bc.Bwrite(bb)
	bc.Brelse(bb)

	// Allocate the root directory first so it lands on RootInum, as mkfs does.
	root, err := f.Ialloc(defs.T_DIR)
	if err != 0 {
		t.Fatalf("ialloc root: %d", err)
	}
	f.Iput(root)

	return f
}

func TestIallocAssignsFreeDinode(t *testing.T) {
	f := freshFs(t)
	ip, err := f.Ialloc(defs.T_FILE)
	if err != 0 {
		t.Fatalf("ialloc failed: %d", err)
	}
	ip.Ilock()
	if ip.Type != defs.T_FILE {
		t.Fatalf("expected T_FILE, got %d", ip.Type)
	}
	ip.Iunlock()
	f.Iput(ip)
}

func TestWriteiReadiRoundtrip(t *testing.T) {
	f := freshFs(t)
	ip, err := f.Ialloc(defs.T_FILE)
	if err != 0 {
		t.Fatalf("ialloc failed: %d", err)
	}
	ip.Ilock()

	src := []uint8("hello, persistent world")
	n, err := ip.Writei(src, 0, len(src))
	if err != 0 || n != len(src) {
		t.Fatalf("writei: n=%d err=%d", n, err)
	}
	if ip.Size != len(src) {
		t.Fatalf("size not updated: got %d want %d", ip.Size, len(src))
	}

	dst := make([]uint8, len(src))
	n, err = ip.Readi(dst, 0, len(dst))
	if err != 0 || n != len(dst) {
		t.Fatalf("readi: n=%d err=%d", n, err)
	}
	if string(dst) != string(src) {
		t.Fatalf("roundtrip mismatch: got %q want %q", dst, src)
	}

	ip.Iunlock()
	f.Iput(ip)
}

func TestWriteiSpansMultipleBlocksAndIndirect(t *testing.T) {
	f := freshFs(t)
	ip, err := f.Ialloc(defs.T_FILE)
	if err != 0 {
		t.Fatalf("ialloc failed: %d", err)
	}
	ip.Ilock()

	// Write enough to cross from direct blocks into the single-indirect
	// range: (NDIRECT+2) blocks worth of data.
	size := (NDIRECT + 2) * fs.BSIZE
	buf := make([]uint8, size)
	for i := range buf {
		buf[i] = uint8(i)
	}
	n, err := ip.Writei(buf, 0, size)
	if err != 0 || n != size {
		t.Fatalf("writei: n=%d err=%d", n, err)
	}

	got := make([]uint8, size)
	n, err = ip.Readi(got, 0, size)
	if err != 0 || n != size {
		t.Fatalf("readi: n=%d err=%d", n, err)
	}
	for i := range buf {
		if got[i] != buf[i] {
			t.Fatalf("mismatch at byte %d: got %d want %d", i, got[i], buf[i])
		}
	}

	ip.Iunlock()
	f.Iput(ip)
}

func TestDirlinkAndDirlookup(t *testing.T) {
	f := freshFs(t)
	dir, err := f.Ialloc(defs.T_DIR)
	if err != 0 {
		t.Fatalf("ialloc dir: %d", err)
	}
	file, err := f.Ialloc(defs.T_FILE)
	if err != 0 {
		t.Fatalf("ialloc file: %d", err)
	}

	dir.Ilock()
	if err := dir.Dirlink(ustr.Ustr("greeting"), file.Inum); err != 0 {
		t.Fatalf("dirlink: %d", err)
	}
	if err := dir.Dirlink(ustr.Ustr("greeting"), file.Inum); err == 0 {
		t.Fatal("expected duplicate dirlink to fail")
	}

	found, err := dir.Dirlookup(ustr.Ustr("greeting"), nil)
	if err != 0 {
		t.Fatalf("dirlookup: %d", err)
	}
	if found.Inum != file.Inum {
		t.Fatalf("dirlookup returned wrong inode: got %d want %d", found.Inum, file.Inum)
	}
	dir.Iunlock()

	f.Iput(found)
	f.Iput(dir)
	f.Iput(file)
}

func TestNamexResolvesNestedPath(t *testing.T) {
	f := freshFs(t)
	root := f.Root()
	root.Ilock()
	if root.Inum != RootInum {
		t.Fatalf("expected root inum %d, got %d", RootInum, root.Inum)
	}
	sub, err := f.Ialloc(defs.T_DIR)
	if err != 0 {
		t.Fatalf("ialloc sub: %d", err)
	}
	if err := root.Dirlink(ustr.Ustr("sub"), sub.Inum); err != 0 {
		t.Fatalf("dirlink sub: %d", err)
	}
	root.Iunlock()

	file, err := f.Ialloc(defs.T_FILE)
	if err != 0 {
		t.Fatalf("ialloc file: %d", err)
	}
	sub.Ilock()
	if err := sub.Dirlink(ustr.Ustr("leaf"), file.Inum); err != 0 {
		t.Fatalf("dirlink leaf: %d", err)
	}
	sub.Iunlock()

	resolved, _, err := f.Namex(ustr.Ustr("/sub/leaf"), nil, false)
	if err != 0 {
		t.Fatalf("namex: %d", err)
	}
	if resolved.Inum != file.Inum {
		t.Fatalf("namex resolved wrong inode: got %d want %d", resolved.Inum, file.Inum)
	}

	parent, name, err := f.Namex(ustr.Ustr("/sub/leaf"), nil, true)
	if err != 0 {
		t.Fatalf("namex nameiparent: %d", err)
	}
	if parent.Inum != sub.Inum || name.String() != "leaf" {
		t.Fatalf("namex nameiparent mismatch: parent=%d name=%q", parent.Inum, name)
	}

	f.Iput(resolved)
	f.Iput(parent)
	f.Iput(file)
	f.Iput(sub)
	f.Iput(root)
}

func TestNamexFollowsSymlink(t *testing.T) {
	f := freshFs(t)
	root := f.Root()

	target, err := f.Ialloc(defs.T_FILE)
	if err != 0 {
		t.Fatalf("ialloc target: %d", err)
	}
	root.Ilock()
	if err := root.Dirlink(ustr.Ustr("real"), target.Inum); err != 0 {
		t.Fatalf("dirlink real: %d", err)
	}
	root.Iunlock()

	link, err := f.Ialloc(defs.T_SYMLINK)
	if err != 0 {
		t.Fatalf("ialloc link: %d", err)
	}
	link.Ilock()
	if _, err := link.Writei([]uint8("/real"), 0, len("/real")); err != 0 {
		t.Fatalf("write symlink target: %d", err)
	}
	link.Iunlock()
	root.Ilock()
	if err := root.Dirlink(ustr.Ustr("alias"), link.Inum); err != 0 {
		t.Fatalf("dirlink alias: %d", err)
	}
	root.Iunlock()

	resolved, _, err := f.Namex(ustr.Ustr("/alias"), nil, false)
	if err != 0 {
		t.Fatalf("namex through symlink: %d", err)
	}
	if resolved.Inum != target.Inum {
		t.Fatalf("symlink resolved to wrong inode: got %d want %d", resolved.Inum, target.Inum)
	}

	f.Iput(resolved)
	f.Iput(link)
	f.Iput(target)
	f.Iput(root)
}

func TestItruncFreesBlocks(t *testing.T) {
	f := freshFs(t)
	ip, err := f.Ialloc(defs.T_FILE)
	if err != 0 {
		t.Fatalf("ialloc: %d", err)
	}
	ip.Ilock()
	buf := make([]uint8, 3*fs.BSIZE)
	if _, err := ip.Writei(buf, 0, len(buf)); err != 0 {
		t.Fatalf("writei: %d", err)
	}
	ip.Itrunc()
	if ip.Size != 0 {
		t.Fatalf("expected size 0 after itrunc, got %d", ip.Size)
	}
	for i := 0; i < NDIRECT+2; i++ {
		if ip.Addrs[i] != 0 {
			t.Fatalf("addrs[%d] not cleared after itrunc", i)
		}
	}
	ip.Iunlock()
	f.Iput(ip)
}
