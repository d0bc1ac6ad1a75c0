// Package inode implements the on-disk dinode format, the in-memory
// inode cache, block-mapping (direct/single-indirect/double-indirect),
// and path resolution — the teacher's fs.Inode_t/namei layer, rebuilt
// around this kernel's dinode layout (two i16s type/major, two i16s
// minor/nlink, u32 size, 14 u32 block addrs) and its symlink-aware
// namex contract.
package inode

import (
	"sync"

	"defs"
	"fs"
	"hashtable"
	"jlog"
	"limits"
	"lock"
	"ustr"
	"util"
)

// / NDIRECT is the number of direct block pointers in a dinode.
const NDIRECT = 12

// / NINDIRECT is the fan-out of one indirect block (BSIZE/4 u32 slots).
const NINDIRECT = limits.NINDIRECT

// / MAXFILEBLOCKS is the largest logical block number a file may have:
// / NDIRECT direct, NINDIRECT single-indirect, NINDIRECT² double-indirect.
const MAXFILEBLOCKS = NDIRECT + NINDIRECT + NINDIRECT*NINDIRECT

// / DIRSIZ is the fixed name length of a directory entry.
const DIRSIZ = 14

// / dinodeSize is the on-disk size of one dinode in bytes.
const dinodeSize = 2 + 2 + 2 + 2 + 4 + 14*4

// / Layout describes where the filesystem's regions live on disk, the
// / values a mounted superblock hands to this package.
type Layout struct {
	Dev            int
	Inodestart     int
	Bmapstart      int
	Ninodes        int
	Nblocks        int // total device size in blocks (sb.TotalSize), the balloc scan bound
	InodesPerBlock int
}

// / Fs_t bundles the block cache, log, and layout an inode operation
// / needs, mirroring how the teacher threads *FS_t through fs methods.
type Fs_t struct {
	Bc     *fs.Bcache_t
	Log    *jlog.Log_t
	Layout Layout

	mu    sync.Mutex
	cache *hashtable.Hashtable_t
}

// / MkFs wires a filesystem instance over an already-mounted layout. The
// / inode cache is indexed by (dev,inum) through hashtable.Hashtable_t,
// / the same bucketed index the block cache uses for (dev,blockno).
func MkFs(bc *fs.Bcache_t, log *jlog.Log_t, l Layout) *Fs_t {
	return &Fs_t{Bc: bc, Log: log, Layout: l, cache: hashtable.MkHash(limits.BUF_HASH_SIZE)}
}

// / ikey is the inode cache's hash key for inum under this Fs_t's device.
func (f *Fs_t) ikey(inum int) int {
	return f.Layout.Dev<<32 | inum
}

// / Inode_t is an in-memory inode: a sleeplock-protected cached copy of
// / the corresponding dinode, plus a reference count for the inode
// / cache (distinct from nlink, the on-disk link count).
type Inode_t struct {
	lock.Sleeplock_t
	fs   *Fs_t
	Inum int
	Ref  int

	valid bool
	Type  int
	Major int
	Minor int
	Nlink int
	Size  int
	Addrs [NDIRECT + 2]int
}

// / Iget returns the cached in-memory inode for inum, allocating a cache
// / entry (with ref=1, not yet loaded from disk) if none exists, or
// / bumping ref on an existing entry.
func (f *Fs_t) Iget(inum int) *Inode_t {
	f.mu.Lock()
	defer f.mu.Unlock()
	k := f.ikey(inum)
	if v, ok := f.cache.Get(k); ok {
		ip := v.(*Inode_t)
		ip.Ref++
		return ip
	}
	ip := &Inode_t{fs: f, Inum: inum, Ref: 1}
	ip.Init()
	f.cache.Set(k, ip)
	return ip
}

// / Ilock locks ip and loads its dinode from disk on first touch.
func (ip *Inode_t) Ilock() {
	ip.Lock()
	if !ip.valid {
		ip.readDinode()
		ip.valid = true
	}
}

// / Iunlock releases ip's sleeplock.
func (ip *Inode_t) Iunlock() {
	ip.Unlock()
}

// / Iput drops a cache reference; when it reaches zero and nlink is
// / also zero, the inode's blocks are freed and the slot is truncated.
func (f *Fs_t) Iput(ip *Inode_t) {
	f.mu.Lock()
	last := ip.Ref == 1
	f.mu.Unlock()

	ip.Ilock()
	if last && ip.valid && ip.Nlink == 0 {
		ip.Itrunc()
		ip.Type = 0
		ip.writeDinode()
		ip.valid = false
	}
	ip.Iunlock()

	f.mu.Lock()
	ip.Ref--
	if ip.Ref == 0 {
		f.cache.Del(f.ikey(ip.Inum))
	}
	f.mu.Unlock()
}

func (ip *Inode_t) blockOf() (blockno, off int) {
	l := ip.fs.Layout
	blockno = l.Inodestart + ip.Inum/l.InodesPerBlock
	off = (ip.Inum % l.InodesPerBlock) * dinodeSize
	return
}

func (ip *Inode_t) readDinode() {
	blockno, off := ip.blockOf()
	b := ip.fs.Bc.Bread(ip.fs.Layout.Dev, blockno)
	d := b.Data[off:]
	ip.Type = int(util.Readu32(d, 0) & 0xffff)
	ip.Major = int(util.Readu32(d, 0) >> 16)
	ip.Minor = int(util.Readu32(d, 4) & 0xffff)
	ip.Nlink = int(util.Readu32(d, 4) >> 16)
	ip.Size = int(util.Readu32(d, 8))
	for i := 0; i < NDIRECT+2; i++ {
		ip.Addrs[i] = int(util.Readu32(d, 12+4*i))
	}
	ip.fs.Bc.Brelse(b)
}

// writeDinode persists ip's in-memory fields to disk. It brackets its
// own transaction so every call site is crash-atomic on its own,
// whether or not the caller already has a transaction open (nested
// Begin/End pairs on the same Log_t only commit once the outermost
// End_transaction runs).
func (ip *Inode_t) writeDinode() {
	ip.fs.Log.Begin_transaction()
	defer ip.fs.Log.End_transaction()
	blockno, off := ip.blockOf()
	b := ip.fs.Bc.Bread(ip.fs.Layout.Dev, blockno)
	d := b.Data[off:]
	util.Writeu32(d, 0, uint32(ip.Type&0xffff)|uint32(ip.Major)<<16)
	util.Writeu32(d, 4, uint32(ip.Minor&0xffff)|uint32(ip.Nlink)<<16)
	util.Writeu32(d, 8, uint32(ip.Size))
	for i := 0; i < NDIRECT+2; i++ {
		util.Writeu32(d, 12+4*i, uint32(ip.Addrs[i]))
	}
	ip.fs.Log.Log_block_write(b)
	ip.fs.Bc.Bwrite(b)
	ip.fs.Bc.Brelse(b)
}

// / Iupdate persists ip's in-memory fields back to its dinode within the
// / caller's transaction.
func (ip *Inode_t) Iupdate() {
	ip.writeDinode()
}

// / Ialloc scans the inode region for a free (type==0) dinode, claims it
// / for the given type, sets its link count to 1 (the name the caller
// / is about to Dirlink in), logs the write, and returns its cached
// / in-memory handle.
func (f *Fs_t) Ialloc(typ int) (*Inode_t, defs.Err_t) {
	f.Log.Begin_transaction()
	defer f.Log.End_transaction()
	for inum := 1; inum < f.Layout.Ninodes; inum++ {
		blockno := f.Layout.Inodestart + inum/f.Layout.InodesPerBlock
		off := (inum % f.Layout.InodesPerBlock) * dinodeSize
		b := f.Bc.Bread(f.Layout.Dev, blockno)
		t := util.Readu32(b.Data[off:], 0) & 0xffff
		f.Bc.Brelse(b)
		if t == 0 {
			ip := f.Iget(inum)
			ip.Ilock()
			ip.Type = typ
			ip.Major = 0
			ip.Minor = 0
			ip.Nlink = 1
			ip.Size = 0
			for i := range ip.Addrs {
				ip.Addrs[i] = 0
			}
			ip.writeDinode()
			ip.Iunlock()
			return ip, 0
		}
	}
	return nil, -defs.ENOSPC
}

func (ip *Inode_t) balloc() (int, defs.Err_t) {
	f := ip.fs
	for b := 0; b < f.Layout.Nblocks; b++ {
		blockno := f.Layout.Bmapstart + b/(fs.BSIZE*8)
		bi := uint(b % (fs.BSIZE * 8))
		bb := f.Bc.Bread(f.Layout.Dev, blockno)
		byteoff := bi / 8
		mask := uint8(1 << (bi % 8))
		if bb.Data[byteoff]&mask == 0 {
			bb.Data[byteoff] |= mask
			f.Log.Log_block_write(bb)
			f.Bc.Bwrite(bb)
			f.Bc.Brelse(bb)
			zb := f.Bc.Bread(f.Layout.Dev, b)
			for i := range zb.Data {
				zb.Data[i] = 0
			}
			f.Log.Log_block_write(zb)
			f.Bc.Bwrite(zb)
			f.Bc.Brelse(zb)
			return b, 0
		}
		f.Bc.Brelse(bb)
	}
	return 0, -defs.ENOSPC
}

func (ip *Inode_t) bfree(b int) {
	f := ip.fs
	blockno := f.Layout.Bmapstart + b/(fs.BSIZE*8)
	bi := uint(b % (fs.BSIZE * 8))
	bb := f.Bc.Bread(f.Layout.Dev, blockno)
	byteoff := bi / 8
	mask := uint8(1 << (bi % 8))
	if bb.Data[byteoff]&mask == 0 {
		panic("bfree: freeing free block")
	}
	bb.Data[byteoff] &^= mask
	f.Log.Log_block_write(bb)
	f.Bc.Bwrite(bb)
	f.Bc.Brelse(bb)
}

// / Bmap maps logical block bn of ip to a physical block number,
// / allocating direct, single-indirect, or double-indirect blocks (and
// / the indirect tables themselves) on first touch.
func (ip *Inode_t) Bmap(bn int) (int, defs.Err_t) {
	if bn < NDIRECT {
		if ip.Addrs[bn] == 0 {
			nb, err := ip.balloc()
			if err != 0 {
				return 0, err
			}
			ip.Addrs[bn] = nb
		}
		return ip.Addrs[bn], 0
	}
	bn -= NDIRECT
	if bn < NINDIRECT {
		return ip.bmapIndirect(NDIRECT, bn)
	}
	bn -= NINDIRECT
	if bn < NINDIRECT*NINDIRECT {
		outer := bn / NINDIRECT
		inner := bn % NINDIRECT
		if ip.Addrs[NDIRECT+1] == 0 {
			nb, err := ip.balloc()
			if err != 0 {
				return 0, err
			}
			ip.Addrs[NDIRECT+1] = nb
		}
		b := ip.fs.Bc.Bread(ip.fs.Layout.Dev, ip.Addrs[NDIRECT+1])
		outerblk := int(util.Readu32(b.Data[:], outer*4))
		if outerblk == 0 {
			nb, err := ip.balloc()
			if err != 0 {
				ip.fs.Bc.Brelse(b)
				return 0, err
			}
			util.Writeu32(b.Data[:], outer*4, uint32(nb))
			ip.fs.Log.Log_block_write(b)
			ip.fs.Bc.Bwrite(b)
			outerblk = nb
		}
		ip.fs.Bc.Brelse(b)
		return ip.bmapIndirectAt(outerblk, inner)
	}
	panic("bmap: logical block number out of range")
}

func (ip *Inode_t) bmapIndirect(slot, idx int) (int, defs.Err_t) {
	if ip.Addrs[slot] == 0 {
		nb, err := ip.balloc()
		if err != 0 {
			return 0, err
		}
		ip.Addrs[slot] = nb
	}
	return ip.bmapIndirectAt(ip.Addrs[slot], idx)
}

func (ip *Inode_t) bmapIndirectAt(indirectBlock, idx int) (int, defs.Err_t) {
	b := ip.fs.Bc.Bread(ip.fs.Layout.Dev, indirectBlock)
	target := int(util.Readu32(b.Data[:], idx*4))
	if target == 0 {
		nb, err := ip.balloc()
		if err != 0 {
			ip.fs.Bc.Brelse(b)
			return 0, err
		}
		util.Writeu32(b.Data[:], idx*4, uint32(nb))
		ip.fs.Log.Log_block_write(b)
		ip.fs.Bc.Bwrite(b)
		target = nb
	}
	ip.fs.Bc.Brelse(b)
	return target, 0
}

// / Itrunc frees every data block reachable from ip (direct,
// / single-indirect and its table, double-indirect and all its tables),
// / then zeroes size.
func (ip *Inode_t) Itrunc() {
	ip.fs.Log.Begin_transaction()
	defer ip.fs.Log.End_transaction()
	for i := 0; i < NDIRECT; i++ {
		if ip.Addrs[i] != 0 {
			ip.bfree(ip.Addrs[i])
			ip.Addrs[i] = 0
		}
	}
	if ip.Addrs[NDIRECT] != 0 {
		b := ip.fs.Bc.Bread(ip.fs.Layout.Dev, ip.Addrs[NDIRECT])
		for i := 0; i < NINDIRECT; i++ {
			if t := util.Readu32(b.Data[:], i*4); t != 0 {
				ip.bfree(int(t))
			}
		}
		ip.fs.Bc.Brelse(b)
		ip.bfree(ip.Addrs[NDIRECT])
		ip.Addrs[NDIRECT] = 0
	}
	if ip.Addrs[NDIRECT+1] != 0 {
		ob := ip.fs.Bc.Bread(ip.fs.Layout.Dev, ip.Addrs[NDIRECT+1])
		for i := 0; i < NINDIRECT; i++ {
			ot := util.Readu32(ob.Data[:], i*4)
			if ot == 0 {
				continue
			}
			ib := ip.fs.Bc.Bread(ip.fs.Layout.Dev, int(ot))
			for j := 0; j < NINDIRECT; j++ {
				if t := util.Readu32(ib.Data[:], j*4); t != 0 {
					ip.bfree(int(t))
				}
			}
			ip.fs.Bc.Brelse(ib)
			ip.bfree(int(ot))
		}
		ip.fs.Bc.Brelse(ob)
		ip.bfree(ip.Addrs[NDIRECT+1])
		ip.Addrs[NDIRECT+1] = 0
	}
	ip.Size = 0
	ip.Iupdate()
}

// / Readi reads up to n bytes from ip at offset off into dst, clamped to
// / [0, ip.Size-off]. Returns the number of bytes actually read. Caller
// / must hold ip locked (Ilock).
func (ip *Inode_t) Readi(dst []uint8, off, n int) (int, defs.Err_t) {
	if off > ip.Size {
		return 0, -defs.EINVAL
	}
	if off+n > ip.Size {
		n = ip.Size - off
	}
	if n <= 0 {
		return 0, 0
	}
	tot := 0
	for tot < n {
		bn, err := ip.Bmap((off + tot) / fs.BSIZE)
		if err != 0 {
			return tot, err
		}
		b := ip.fs.Bc.Bread(ip.fs.Layout.Dev, bn)
		boff := (off + tot) % fs.BSIZE
		l := fs.BSIZE - boff
		if rem := n - tot; l > rem {
			l = rem
		}
		copy(dst[tot:tot+l], b.Data[boff:boff+l])
		ip.fs.Bc.Brelse(b)
		tot += l
	}
	return tot, 0
}

// / Writei writes n bytes from src into ip at offset off, growing Size
// / and allocating blocks as needed; rejects writes starting beyond the
// / current size or extending past MAXFILEBLOCKS*BSIZE. Caller must
// / hold ip locked.
func (ip *Inode_t) Writei(src []uint8, off, n int) (int, defs.Err_t) {
	if off > ip.Size {
		return 0, -defs.EINVAL
	}
	if off+n > MAXFILEBLOCKS*fs.BSIZE {
		return 0, -defs.EINVAL
	}
	ip.fs.Log.Begin_transaction()
	defer ip.fs.Log.End_transaction()
	tot := 0
	for tot < n {
		bn, err := ip.Bmap((off + tot) / fs.BSIZE)
		if err != 0 {
			return tot, err
		}
		b := ip.fs.Bc.Bread(ip.fs.Layout.Dev, bn)
		boff := (off + tot) % fs.BSIZE
		l := fs.BSIZE - boff
		if rem := n - tot; l > rem {
			l = rem
		}
		copy(b.Data[boff:boff+l], src[tot:tot+l])
		ip.fs.Log.Log_block_write(b)
		ip.fs.Bc.Bwrite(b)
		ip.fs.Bc.Brelse(b)
		tot += l
	}
	if off+tot > ip.Size {
		ip.Size = off + tot
	}
	ip.Iupdate()
	return tot, 0
}

// --- directories ---

func namecmp(a ustr.Ustr, b []uint8) bool {
	for i := 0; i < DIRSIZ; i++ {
		var ac uint8
		if i < len(a) {
			ac = a[i]
		}
		if ac != b[i] {
			return false
		}
	}
	return true
}

// / Dirlookup linearly scans dp's directory content for name, returning
// / the matching inode and, if off is non-nil, the byte offset of the
// / entry within dp. Caller must hold ip locked.
func (ip *Inode_t) Dirlookup(name ustr.Ustr, off *int) (*Inode_t, defs.Err_t) {
	if ip.Type != defs.T_DIR {
		panic("dirlookup: not a directory")
	}
	buf := make([]uint8, 16)
	for o := 0; o < ip.Size; o += 16 {
		if n, _ := ip.Readi(buf, o, 16); n != 16 {
			panic("dirlookup: short directory entry")
		}
		inum := util.Readn(buf, 2, 0)
		if inum == 0 {
			continue
		}
		if namecmp(name, buf[2:16]) {
			if off != nil {
				*off = o
			}
			return ip.fs.Iget(inum), 0
		}
	}
	return nil, -defs.ENOENT
}

// / Dirlink inserts (name,inum) into dp's directory content: the first
// / free slot if one exists, otherwise appended at the end. Rejects a
// / duplicate name.
func (ip *Inode_t) Dirlink(name ustr.Ustr, inum int) defs.Err_t {
	if _, err := ip.Dirlookup(name, nil); err == 0 {
		return -defs.EEXIST
	}
	buf := make([]uint8, 16)
	off := 0
	for ; off < ip.Size; off += 16 {
		if n, _ := ip.Readi(buf, off, 16); n != 16 {
			panic("dirlink: short directory entry")
		}
		if util.Readn(buf, 2, 0) == 0 {
			break
		}
	}
	entry := make([]uint8, 16)
	util.Writen(entry, 2, 0, inum)
	copy(entry[2:16], name)
	if _, err := ip.Writei(entry, off, 16); err != 0 {
		return err
	}
	return 0
}

// / Dirents reports the number of non-empty entries in directory ip
// / beyond the first two (. and ..), used by unlink to check emptiness.
func (ip *Inode_t) Dirents() int {
	buf := make([]uint8, 16)
	count := 0
	for o := 2 * 16; o < ip.Size; o += 16 {
		ip.Readi(buf, o, 16)
		if util.Readn(buf, 2, 0) != 0 {
			count++
		}
	}
	return count
}

// --- path resolution ---

// / RootInum is the inode number mkfs assigns the root directory.
const RootInum = 1

// / Root returns the cached root-directory inode, ref-incremented.
func (f *Fs_t) Root() *Inode_t {
	return f.Iget(RootInum)
}

// / Idup bumps ip's cache refcount, the way holding onto an inode across
// / two unrelated call sites (e.g. a process's cwd) requires.
func (f *Fs_t) Idup(ip *Inode_t) *Inode_t {
	f.mu.Lock()
	ip.Ref++
	f.mu.Unlock()
	return ip
}

// / Namex walks path component by component starting at cwd (or the
// / root, for an absolute path or a nil cwd), following symlinks
// / relative to their containing directory as they are encountered
// / (bounded at limits.MAXSYMLINKS deep). If nameiparent is set,
// / resolution stops one component short and also returns the final
// / component's name, the way callers creating or unlinking an entry
// / need the containing directory rather than the target itself.
func (f *Fs_t) Namex(path ustr.Ustr, cwd *Inode_t, nameiparent bool) (*Inode_t, ustr.Ustr, defs.Err_t) {
	var dir *Inode_t
	if path.IsAbsolute() || cwd == nil {
		dir = f.Root()
	} else {
		dir = f.Idup(cwd)
	}

	depth := 0
	rest := path
	for {
		elem, next, ok := ustr.Skipelem(rest)
		if !ok {
			return dir, nil, 0
		}
		dir.Ilock()
		if dir.Type != defs.T_DIR {
			dir.Iunlock()
			f.Iput(dir)
			return nil, nil, -defs.ENOTDIR
		}
		if nameiparent && len(next) == 0 {
			dir.Iunlock()
			return dir, elem, 0
		}
		child, err := dir.Dirlookup(elem, nil)
		dir.Iunlock()
		if err != 0 {
			f.Iput(dir)
			return nil, nil, err
		}

		child.Ilock()
		if child.Type == defs.T_SYMLINK {
			depth++
			if depth > limits.MAXSYMLINKS {
				child.Iunlock()
				f.Iput(child)
				f.Iput(dir)
				return nil, nil, -defs.ELOOP
			}
			buf := make([]uint8, child.Size)
			n, rerr := child.Readi(buf, 0, len(buf))
			child.Iunlock()
			f.Iput(child)
			if rerr != 0 {
				f.Iput(dir)
				return nil, nil, rerr
			}
			target := ustr.Ustr(buf[:n])
			if target.IsAbsolute() {
				f.Iput(dir)
				dir = f.Root()
			}
			// a relative target resolves against dir, the symlink's
			// own containing directory; dir is unchanged.
			rest = target.Extend(next)
			continue
		}
		child.Iunlock()
		f.Iput(dir)
		dir = child
		rest = next
	}
}
