// Package fsimage is a host-side harness that boots this kernel's
// filesystem against a flat file standing in for the VirtIO block
// device, the way the teacher's ufs package drives its fs.Fs_t outside
// a running kernel for image-building and testing. It exposes a small
// file-oriented API (MkFile/MkDir/Read/Ls/Stat/Rename/Unlink) rather
// than the raw syscall surface sysc.Dispatcher exposes to a live
// process.
package fsimage

import (
	"fmt"

	"defs"
	"file"
	"fs"
	"inode"
	"jlog"
	"stat"
	"ustr"
	"virtio"
)

// dinodeSize mirrors inode's own unexported constant: two i16s
// type/major, two i16s minor/nlink, one u32 size, 14 u32 block addrs.
const dinodeSize = 2 + 2 + 2 + 2 + 4 + 14*4

// / Image_t wraps a booted filesystem plus the open disk file backing
// / it, mirroring the teacher's Ufs_t.
type Image_t struct {
	disk *virtio.FileDisk
	bc   *fs.Bcache_t
	log  *jlog.Log_t
	fs   *inode.Fs_t
	cwd  *file.Cwd_t
}

// / Format lays down a fresh filesystem at path per §6.2's on-disk
// / layout (block 0 unused, block 1 superblock, the log region, the
// / inode region, one bitmap block, then data blocks) and returns it
// / booted and ready for population. logBlocks/inodeBlocks/dataBlocks
// / size the three variable-length regions; cmd/mkfs is the usual
// / caller.
func Format(path string, logBlocks, inodeBlocks, dataBlocks int) (*Image_t, error) {
	const logstart = 2
	inodestart := logstart + logBlocks
	bmapstart := inodestart + inodeBlocks
	datastart := bmapstart + 1
	total := datastart + dataBlocks
	inodesPerBlock := fs.BSIZE / dinodeSize
	ninodes := inodeBlocks * inodesPerBlock

	disk, err := virtio.OpenFileDisk(path)
	if err != nil {
		return nil, err
	}
	bc := fs.MkBcache(disk)

	sbBlock := bc.Bread(0, 1)
	sb := fs.Superblock_t{Data: &sbBlock.Data}
	sb.SetMagic(fs.SB_MAGIC)
	sb.SetTotalSize(total)
	sb.SetNblocks(dataBlocks)
	sb.SetNinodes(ninodes)
	sb.SetNlog(logBlocks)
	sb.SetLogstart(logstart)
	sb.SetInodestart(inodestart)
	sb.SetBmapstart(bmapstart)
	bc.Bwrite(sbBlock)
	bc.Brelse(sbBlock)

	// Zero the log header so a first Log_init doesn't replay garbage.
	hdr := bc.Bread(0, logstart)
	for i := range hdr.Data {
		hdr.Data[i] = 0
	}
	bc.Bwrite(hdr)
	bc.Brelse(hdr)

	for b := 0; b < inodeBlocks; b++ {
		blk := bc.Bread(0, inodestart+b)
		for i := range blk.Data {
			blk.Data[i] = 0
		}
		bc.Bwrite(blk)
		bc.Brelse(blk)
	}

	bm := bc.Bread(0, bmapstart)
	for i := range bm.Data {
		bm.Data[i] = 0
	}
	for b := 0; b < datastart; b++ {
		bm.Data[b/8] |= 1 << uint(b%8)
	}
	bc.Bwrite(bm)
	bc.Brelse(bm)

	log := jlog.Log_init(bc, 0, logstart, logBlocks)
	layout := inode.Layout{
		Dev:            0,
		Inodestart:     inodestart,
		Bmapstart:      bmapstart,
		Ninodes:        ninodes,
		Nblocks:        total,
		InodesPerBlock: inodesPerBlock,
	}
	ifs := inode.MkFs(bc, log, layout)

	root, rerr := ifs.Ialloc(defs.T_DIR)
	if rerr != 0 {
		disk.Close()
		return nil, fmt.Errorf("fsimage: format %s: ialloc root: %d", path, rerr)
	}
	root.Ilock()
	root.Dirlink(ustr.MkUstrDot(), root.Inum)
	root.Dirlink(ustr.Ustr(".."), root.Inum)
	root.Iunlock()

	return &Image_t{disk: disk, bc: bc, log: log, fs: ifs, cwd: file.MkCwd(ifs)}, nil
}

// / Boot opens the disk image at path (already formatted by cmd/mkfs),
// / reads its superblock, replays any interrupted log transaction, and
// / returns a ready-to-use Image_t rooted at "/".
func Boot(path string) (*Image_t, error) {
	disk, err := virtio.OpenFileDisk(path)
	if err != nil {
		return nil, err
	}
	bc := fs.MkBcache(disk)

	sbBlock := bc.Bread(0, 1)
	sb := fs.Superblock_t{Data: &sbBlock.Data}
	if !sb.Valid() {
		bc.Brelse(sbBlock)
		disk.Close()
		return nil, fmt.Errorf("fsimage: %s: bad superblock magic", path)
	}
	layout := inode.Layout{
		Dev:            0,
		Inodestart:     sb.Inodestart(),
		Bmapstart:      sb.Bmapstart(),
		Ninodes:        sb.Ninodes(),
		Nblocks:        sb.TotalSize(),
		InodesPerBlock: fs.BSIZE / dinodeSize,
	}
	nlog, logstart := sb.Nlog(), sb.Logstart()
	bc.Brelse(sbBlock)

	log := jlog.Log_init(bc, 0, logstart, nlog)
	ifs := inode.MkFs(bc, log, layout)

	img := &Image_t{disk: disk, bc: bc, log: log, fs: ifs, cwd: file.MkCwd(ifs)}
	return img, nil
}

// / Shutdown drops the cached buffers without writing them (Bwrite has
// / already sent every written block to disk) and closes the backing
// / disk file, syncing it first.
func (img *Image_t) Shutdown() error {
	img.bc.Clear()
	return img.disk.Close()
}

// / Statistics reports the backing disk's read and write counts.
func (img *Image_t) Statistics() string {
	return img.disk.Stats()
}

// / MkFile creates a new regular file at p, writing data into it if
// / non-nil.
func (img *Image_t) MkFile(p ustr.Ustr, data []byte) defs.Err_t {
	img.fs.Log.Begin_transaction()
	defer img.fs.Log.End_transaction()
	dir, name, err := img.fs.Namex(p, img.cwd.Cwd, true)
	if err != 0 {
		return err
	}
	dir.Ilock()
	defer func() {
		dir.Iunlock()
		img.fs.Iput(dir)
	}()
	if _, eerr := dir.Dirlookup(name, nil); eerr == 0 {
		return -defs.EEXIST
	}
	ip, aerr := img.fs.Ialloc(defs.T_FILE)
	if aerr != 0 {
		return aerr
	}
	if len(data) > 0 {
		if _, werr := ip.Writei(data, 0, len(data)); werr != 0 {
			img.fs.Iput(ip)
			return werr
		}
	}
	lerr := dir.Dirlink(name, ip.Inum)
	img.fs.Iput(ip)
	return lerr
}

// / MkDir creates a directory at p with "." and ".." entries populated.
func (img *Image_t) MkDir(p ustr.Ustr) defs.Err_t {
	img.fs.Log.Begin_transaction()
	defer img.fs.Log.End_transaction()
	dir, name, err := img.fs.Namex(p, img.cwd.Cwd, true)
	if err != 0 {
		return err
	}
	dir.Ilock()
	defer func() {
		dir.Iunlock()
		img.fs.Iput(dir)
	}()
	if _, eerr := dir.Dirlookup(name, nil); eerr == 0 {
		return -defs.EEXIST
	}
	ip, aerr := img.fs.Ialloc(defs.T_DIR)
	if aerr != 0 {
		return aerr
	}
	ip.Ilock()
	ip.Dirlink(ustr.MkUstrDot(), ip.Inum)
	ip.Dirlink(ustr.Ustr(".."), dir.Inum)
	ip.Iunlock()
	// A subdirectory's ".." counts as a link to dir, the way nlink on a
	// directory tallies 1 + its subdirectory entries.
	dir.Nlink++
	dir.Iupdate()
	lerr := dir.Dirlink(name, ip.Inum)
	img.fs.Iput(ip)
	return lerr
}

// / Rename moves oldp to newp, both resolved relative to the image's
// / root. Renaming within the same directory locks it only once, since
// / the inode cache hands back the same *Inode_t for both Namex calls.
func (img *Image_t) Rename(oldp, newp ustr.Ustr) defs.Err_t {
	img.fs.Log.Begin_transaction()
	defer img.fs.Log.End_transaction()

	olddir, oldname, err := img.fs.Namex(oldp, img.cwd.Cwd, true)
	if err != 0 {
		return err
	}
	newdir, newname, err := img.fs.Namex(newp, img.cwd.Cwd, true)
	if err != 0 {
		img.fs.Iput(olddir)
		return err
	}
	sameDir := olddir == newdir

	olddir.Ilock()
	if !sameDir {
		newdir.Ilock()
	}
	defer func() {
		if !sameDir {
			newdir.Iunlock()
		}
		olddir.Iunlock()
		img.fs.Iput(newdir)
		img.fs.Iput(olddir)
	}()

	var off int
	target, lerr := olddir.Dirlookup(oldname, &off)
	if lerr != 0 {
		return lerr
	}
	if _, eerr := newdir.Dirlookup(newname, nil); eerr == 0 {
		img.fs.Iput(target)
		return -defs.EEXIST
	}
	if lerr := newdir.Dirlink(newname, target.Inum); lerr != 0 {
		img.fs.Iput(target)
		return lerr
	}
	zero := make([]uint8, 16)
	olddir.Writei(zero, off, 16)
	img.fs.Iput(target)
	return 0
}

// / Unlink removes the file or empty directory at p.
func (img *Image_t) Unlink(p ustr.Ustr) defs.Err_t {
	return file.Sys_unlink(img.cwd, p)
}

// / Stat retrieves the stat information for p.
func (img *Image_t) Stat(p ustr.Ustr) (*stat.Stat_t, defs.Err_t) {
	ip, _, err := img.fs.Namex(p, img.cwd.Cwd, false)
	if err != 0 {
		return nil, err
	}
	ip.Ilock()
	st := &stat.Stat_t{}
	st.Wdev(0)
	st.Wino(uint64(ip.Inum))
	st.Wmode(uint64(ip.Type))
	st.Wsize(uint64(ip.Size))
	st.Wrdev(uint64(ip.Minor))
	st.Wnlink(uint64(ip.Nlink))
	ip.Iunlock()
	img.fs.Iput(ip)
	return st, 0
}

// / Read reads the entire file at p into memory.
func (img *Image_t) Read(p ustr.Ustr) ([]byte, defs.Err_t) {
	st, err := img.Stat(p)
	if err != 0 {
		return nil, err
	}
	ip, _, err := img.fs.Namex(p, img.cwd.Cwd, false)
	if err != 0 {
		return nil, err
	}
	ip.Ilock()
	buf := make([]uint8, st.Size())
	n, rerr := ip.Readi(buf, 0, len(buf))
	ip.Iunlock()
	img.fs.Iput(ip)
	if rerr != 0 {
		return nil, rerr
	}
	return buf[:n], 0
}

// / Ls returns a map of file names to stats for directory p.
func (img *Image_t) Ls(p ustr.Ustr) (map[string]*stat.Stat_t, defs.Err_t) {
	ip, _, err := img.fs.Namex(p, img.cwd.Cwd, false)
	if err != 0 {
		return nil, err
	}
	ip.Ilock()
	if ip.Type != defs.T_DIR {
		ip.Iunlock()
		img.fs.Iput(ip)
		return nil, -defs.ENOTDIR
	}
	res := make(map[string]*stat.Stat_t)
	buf := make([]uint8, 16)
	for o := 0; o < ip.Size; o += 16 {
		if n, _ := ip.Readi(buf, o, 16); n != 16 {
			break
		}
		inum := int(buf[0]) | int(buf[1])<<8
		if inum == 0 {
			continue
		}
		name := trimName(buf[2:16])
		if name == "." || name == ".." {
			continue
		}
		res[name] = nil
	}
	ip.Iunlock()
	img.fs.Iput(ip)

	for name := range res {
		st, serr := img.Stat(p.Extend(ustr.Ustr(name)))
		if serr != 0 {
			return nil, serr
		}
		res[name] = st
	}
	return res, 0
}

func trimName(b []uint8) string {
	i := 0
	for i < len(b) && b[i] != 0 {
		i++
	}
	return string(b[:i])
}
