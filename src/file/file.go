// Package file implements the open-file abstraction: File_t adapts an
// inode (or a device) to fdops.Fdops_i, Fd_t is one process's view of a
// descriptor slot, and the package-level helpers implement open/unlink
// the way the teacher's fs/fd layer composes inode, fdops, and path
// resolution into the syscall-facing file API.
package file

import (
	"sync"

	"bpath"
	"defs"
	"fdops"
	"inode"
	"limits"
	"stat"
	"uart"
	"ustr"
)

// / File_t is an open regular file or directory: a locked view onto an
// / inode plus this open instance's cursor and access mode. ref counts
// / the number of Fd_t slots (across processes, after fork or dup) that
// / share this instance, so the underlying inode is only released when
// / the last one closes.
type File_t struct {
	mu       sync.Mutex
	fs       *inode.Fs_t
	ip       *inode.Inode_t
	off      int
	readable bool
	writable bool
	append   bool
	ref      int
}

// / MkFile opens ip (already ref-held by the caller) as a File_t with an
// / initial reference count of one.
func MkFile(fs *inode.Fs_t, ip *inode.Inode_t, readable, writable, appnd bool) *File_t {
	return &File_t{fs: fs, ip: ip, readable: readable, writable: writable, append: appnd, ref: 1}
}

// / Reopen bumps the reference count, the way the teacher's fd.Copyfd
// / calls Fops.Reopen() on a duplicated descriptor instead of cloning
// / the backing object.
func (f *File_t) Reopen() defs.Err_t {
	f.mu.Lock()
	f.ref++
	f.mu.Unlock()
	return 0
}

// / Close drops one reference; the inode is only released once every
// / Fd_t sharing this File_t (via fork or dup) has closed.
func (f *File_t) Close() defs.Err_t {
	f.mu.Lock()
	f.ref--
	r := f.ref
	f.mu.Unlock()
	if r > 0 {
		return 0
	}
	f.fs.Iput(f.ip)
	return 0
}

// / Fstat fills st from the file's inode.
func (f *File_t) Fstat(st fdops.StatWriter) defs.Err_t {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ip.Ilock()
	defer f.ip.Iunlock()
	st.Wdev(0)
	st.Wino(uint64(f.ip.Inum))
	st.Wmode(uint64(f.ip.Type))
	st.Wsize(uint64(f.ip.Size))
	st.Wrdev(uint64(f.ip.Minor))
	st.Wnlink(uint64(f.ip.Nlink))
	return 0
}

// / Lseek repositions the file's cursor. whence 0=set, 1=cur, 2=end.
func (f *File_t) Lseek(off, whence int) (int, defs.Err_t) {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch whence {
	case 0:
		f.off = off
	case 1:
		f.off += off
	case 2:
		f.ip.Ilock()
		f.off = f.ip.Size + off
		f.ip.Iunlock()
	default:
		return 0, -defs.EINVAL
	}
	if f.off < 0 {
		f.off = 0
	}
	return f.off, 0
}

// / Read copies up to dst's remaining capacity from the file's current
// / offset, advancing it.
func (f *File_t) Read(dst fdops.Userio_i) (int, defs.Err_t) {
	if !f.readable {
		return 0, -defs.EPERM
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ip.Ilock()
	defer f.ip.Iunlock()

	buf := make([]uint8, dst.Remain())
	n, err := f.ip.Readi(buf, f.off, len(buf))
	if err != 0 {
		return 0, err
	}
	wn, werr := dst.Uio_write(buf[:n])
	if werr != 0 {
		return 0, werr
	}
	f.off += wn
	return wn, 0
}

// / Write copies src's remaining content into the file at the current
// / offset (or at end-of-file when opened for append), advancing it.
func (f *File_t) Write(src fdops.Userio_i) (int, defs.Err_t) {
	if !f.writable {
		return 0, -defs.EPERM
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ip.Ilock()
	defer f.ip.Iunlock()

	if f.append {
		f.off = f.ip.Size
	}
	buf := make([]uint8, src.Remain())
	n, err := src.Uio_read(buf)
	if err != 0 {
		return 0, err
	}
	wn, werr := f.ip.Writei(buf[:n], f.off, n)
	if werr != 0 {
		return 0, werr
	}
	f.off += wn
	return wn, 0
}

// / Fd_t is one descriptor slot in a process's open-file table: the
// / backend it points at plus the flags sys_open/fcntl track per-fd.
type Fd_t struct {
	Fops    fdops.Fdops_i
	Cloexec bool
}

// / Copyfd duplicates an open file descriptor by reopening it, the way
// / the teacher's fd.Copyfd shares the underlying backend (and its
// / reference count) between the original and the copy rather than
// / cloning it. Used by fork (every inherited fd) and sys_dup.
func Copyfd(fd *Fd_t) (*Fd_t, defs.Err_t) {
	nfd := &Fd_t{}
	*nfd = *fd
	if err := nfd.Fops.Reopen(); err != 0 {
		return nil, err
	}
	return nfd, 0
}

// / Ftable_t is the system-wide table of open Fd_t instances, capped at
// / limits.NFILE the way the teacher bounds total open files.
type Ftable_t struct {
	mu    sync.Mutex
	slots map[*Fd_t]bool
}

// / MkFtable constructs an empty system file table.
func MkFtable() *Ftable_t {
	return &Ftable_t{slots: make(map[*Fd_t]bool)}
}

// / Falloc registers fd against the system budget and table.
func (ft *Ftable_t) Falloc(fd *Fd_t) defs.Err_t {
	if !limits.Syslimit.Files.Take() {
		return -defs.ENOMEM
	}
	ft.mu.Lock()
	ft.slots[fd] = true
	ft.mu.Unlock()
	return 0
}

// / Ffree releases fd's system-wide budget slot.
func (ft *Ftable_t) Ffree(fd *Fd_t) {
	ft.mu.Lock()
	delete(ft.slots, fd)
	ft.mu.Unlock()
	limits.Syslimit.Files.Give()
}

// / Cwd_t is a process's filesystem context: its root and current
// / working directory, both held as live inode references, plus the
// / canonical path string that got it there (for getcwd-style
// / diagnostics; the inode pointer alone can't be rendered back to a
// / path name).
type Cwd_t struct {
	Fs   *inode.Fs_t
	Root *inode.Inode_t
	Cwd  *inode.Inode_t
	Path ustr.Ustr
}

// / MkCwd builds the root cwd context for the first process.
func MkCwd(fs *inode.Fs_t) *Cwd_t {
	root := fs.Root()
	return &Cwd_t{Fs: fs, Root: root, Cwd: fs.Idup(root), Path: ustr.MkUstrRoot()}
}

// / Fork returns a cwd context sharing this one's root and current
// / directory, the way a forked child inherits its parent's cwd.
func (c *Cwd_t) Fork() *Cwd_t {
	return &Cwd_t{Fs: c.Fs, Root: c.Fs.Idup(c.Root), Cwd: c.Fs.Idup(c.Cwd), Path: c.Path}
}

// / PathString renders the canonical working-directory path, tracked
// / alongside the live Cwd inode since an inode number alone can't be
// / turned back into a name.
func (c *Cwd_t) PathString() string {
	return c.Path.String()
}

// / Sys_open implements open(2): resolves path relative to cwd,
// / optionally creating a regular file when O_CREAT is set, and returns
// / a ready-to-use Fd_t.
func Sys_open(cwd *Cwd_t, con uart.Console_i, path ustr.Ustr, mode int) (*Fd_t, defs.Err_t) {
	if con != nil && isConsolePath(path) {
		return OpenConsole(con), 0
	}

	var ip *inode.Inode_t
	var err defs.Err_t

	if mode&defs.O_CREAT != 0 {
		var name ustr.Ustr
		var dir *inode.Inode_t
		dir, name, err = cwd.Fs.Namex(path, cwd.Cwd, true)
		if err != 0 {
			return nil, err
		}
		dir.Ilock()
		existing, eerr := dir.Dirlookup(name, nil)
		if eerr == 0 {
			dir.Iunlock()
			cwd.Fs.Iput(dir)
			ip = existing
		} else {
			ip, err = cwd.Fs.Ialloc(defs.T_FILE)
			if err != 0 {
				dir.Iunlock()
				cwd.Fs.Iput(dir)
				return nil, err
			}
			if lerr := dir.Dirlink(name, ip.Inum); lerr != 0 {
				dir.Iunlock()
				cwd.Fs.Iput(dir)
				cwd.Fs.Iput(ip)
				return nil, lerr
			}
			dir.Iunlock()
			cwd.Fs.Iput(dir)
		}
	} else {
		ip, _, err = cwd.Fs.Namex(path, cwd.Cwd, false)
		if err != 0 {
			return nil, err
		}
	}

	ip.Ilock()
	if ip.Type == defs.T_DIR && mode != defs.O_RDONLY {
		ip.Iunlock()
		cwd.Fs.Iput(ip)
		return nil, -defs.EISDIR
	}
	ip.Iunlock()

	readable := mode&defs.O_WRONLY == 0
	writable := mode&(defs.O_WRONLY|defs.O_RDWR) != 0
	f := MkFile(cwd.Fs, ip, readable, writable, false)
	return &Fd_t{Fops: f}, 0
}

// / Sys_unlink implements unlink(2): removes name from its containing
// / directory, rejecting non-empty directories, and drops the target's
// / link count (Iput frees its blocks once both nlink and the cache
// / refcount reach zero).
func Sys_unlink(cwd *Cwd_t, path ustr.Ustr) defs.Err_t {
	cwd.Fs.Log.Begin_transaction()
	defer cwd.Fs.Log.End_transaction()

	dir, name, err := cwd.Fs.Namex(path, cwd.Cwd, true)
	if err != 0 {
		return err
	}
	dir.Ilock()
	var off int
	target, lerr := dir.Dirlookup(name, &off)
	if lerr != 0 {
		dir.Iunlock()
		cwd.Fs.Iput(dir)
		return lerr
	}

	target.Ilock()
	if target.Type == defs.T_DIR && target.Dirents() > 0 {
		target.Iunlock()
		dir.Iunlock()
		cwd.Fs.Iput(target)
		cwd.Fs.Iput(dir)
		return -defs.ENOTEMPTY
	}
	wasDir := target.Type == defs.T_DIR
	target.Nlink--
	target.Iupdate()
	target.Iunlock()

	zero := make([]uint8, 16)
	dir.Writei(zero, off, 16)
	if wasDir {
		// The removed directory's ".." was the link this accounted
		// for in dir's own nlink.
		dir.Nlink--
		dir.Iupdate()
	}
	dir.Iunlock()
	cwd.Fs.Iput(dir)

	cwd.Fs.Iput(target)
	return 0
}

// / ConsoleFile adapts a uart.Console_i to fdops.Fdops_i, the device
// / switch table's D_CONSOLE entry: the syscall-facing open/close/
// / read/write surface over the byte-level console contract spec.md §1
// / treats as an external collaborator.
type ConsoleFile struct {
	con uart.Console_i
}

// / MkConsoleFile wraps con (the real UART driver or uart.Stub in
// / hosted tests) as an open console descriptor.
func MkConsoleFile(con uart.Console_i) *ConsoleFile {
	return &ConsoleFile{con: con}
}

func (c *ConsoleFile) Close() defs.Err_t { return 0 }

func (c *ConsoleFile) Fstat(st fdops.StatWriter) defs.Err_t {
	st.Wdev(0)
	st.Wmode(uint64(defs.T_DEV))
	st.Wrdev(uint64(defs.D_CONSOLE))
	return 0
}

func (c *ConsoleFile) Lseek(off, whence int) (int, defs.Err_t) { return 0, -defs.EINVAL }

func (c *ConsoleFile) Reopen() defs.Err_t { return 0 }

// / Read drains up to dst's capacity from the console's input queue,
// / blocking-free: a short read of zero bytes means nothing is queued
// / yet (the real driver would park the caller; this hosted stub
// / leaves that to the caller's own retry loop).
func (c *ConsoleFile) Read(dst fdops.Userio_i) (int, defs.Err_t) {
	buf := make([]uint8, dst.Remain())
	n := 0
	for n < len(buf) {
		b, ok := c.con.Getc()
		if !ok {
			break
		}
		buf[n] = b
		n++
	}
	wn, werr := dst.Uio_write(buf[:n])
	if werr != 0 {
		return 0, werr
	}
	return wn, 0
}

// / Write copies src's content to the console one byte at a time,
// / mirroring the teacher's polling console-output loop.
func (c *ConsoleFile) Write(src fdops.Userio_i) (int, defs.Err_t) {
	buf := make([]uint8, src.Remain())
	n, err := src.Uio_read(buf)
	if err != 0 {
		return 0, err
	}
	for _, b := range buf[:n] {
		c.con.Putc(b)
	}
	return n, 0
}

// / OpenConsole builds the console Fd_t that init attaches as fd 0/1/2,
// / and that Sys_open returns for the special paths "console" and
// / "/dev/console" (§6.3).
func OpenConsole(con uart.Console_i) *Fd_t {
	return &Fd_t{Fops: MkConsoleFile(con)}
}

// / isConsolePath recognizes the console device's special-cased names.
func isConsolePath(path ustr.Ustr) bool {
	s := path.String()
	return s == "console" || s == "/dev/console"
}

// / Sys_mknod implements mknod(2): creates an inode of the given type,
// / recording major/minor for device nodes. typ is normally T_DEV, but
// / this kernel has no separate mkdir syscall, so T_DIR is how a caller
// / creates a directory: Sys_mknod then populates "." and ".." and
// / credits the parent's nlink for the new ".." entry, the way
// / fsimage.MkDir does when building an image offline.
func Sys_mknod(cwd *Cwd_t, path ustr.Ustr, major, minor, typ int) defs.Err_t {
	cwd.Fs.Log.Begin_transaction()
	defer cwd.Fs.Log.End_transaction()

	dir, name, err := cwd.Fs.Namex(path, cwd.Cwd, true)
	if err != 0 {
		return err
	}
	dir.Ilock()
	if _, eerr := dir.Dirlookup(name, nil); eerr == 0 {
		dir.Iunlock()
		cwd.Fs.Iput(dir)
		return -defs.EEXIST
	}
	ip, aerr := cwd.Fs.Ialloc(typ)
	if aerr != 0 {
		dir.Iunlock()
		cwd.Fs.Iput(dir)
		return aerr
	}
	ip.Ilock()
	if typ == defs.T_DIR {
		ip.Dirlink(ustr.MkUstrDot(), ip.Inum)
		ip.Dirlink(ustr.Ustr(".."), dir.Inum)
	} else {
		ip.Major = major
		ip.Minor = minor
		ip.Iupdate()
	}
	ip.Iunlock()
	if typ == defs.T_DIR {
		dir.Nlink++
		dir.Iupdate()
	}
	lerr := dir.Dirlink(name, ip.Inum)
	dir.Iunlock()
	cwd.Fs.Iput(dir)
	cwd.Fs.Iput(ip)
	return lerr
}

// / Sys_symlink implements symlink(2): creates a T_SYMLINK inode whose
// / data is the literal target path text, per the §4.8 namex contract.
func Sys_symlink(cwd *Cwd_t, target, linkpath ustr.Ustr) defs.Err_t {
	cwd.Fs.Log.Begin_transaction()
	defer cwd.Fs.Log.End_transaction()

	dir, name, err := cwd.Fs.Namex(linkpath, cwd.Cwd, true)
	if err != 0 {
		return err
	}
	dir.Ilock()
	if _, eerr := dir.Dirlookup(name, nil); eerr == 0 {
		dir.Iunlock()
		cwd.Fs.Iput(dir)
		return -defs.EEXIST
	}
	ip, aerr := cwd.Fs.Ialloc(defs.T_SYMLINK)
	if aerr != 0 {
		dir.Iunlock()
		cwd.Fs.Iput(dir)
		return aerr
	}
	if _, werr := ip.Writei([]uint8(target), 0, len(target)); werr != 0 {
		dir.Iunlock()
		cwd.Fs.Iput(dir)
		cwd.Fs.Iput(ip)
		return werr
	}
	lerr := dir.Dirlink(name, ip.Inum)
	dir.Iunlock()
	cwd.Fs.Iput(dir)
	cwd.Fs.Iput(ip)
	return lerr
}

// / Sys_chdir implements chdir(2): resolves path to a directory inode
// / and swaps it in for cwd.Cwd, dropping the old reference.
func Sys_chdir(cwd *Cwd_t, path ustr.Ustr) defs.Err_t {
	ip, _, err := cwd.Fs.Namex(path, cwd.Cwd, false)
	if err != 0 {
		return err
	}
	ip.Ilock()
	if ip.Type != defs.T_DIR {
		ip.Iunlock()
		cwd.Fs.Iput(ip)
		return -defs.ENOTDIR
	}
	ip.Iunlock()
	old := cwd.Cwd
	cwd.Cwd = ip
	cwd.Fs.Iput(old)
	if path.IsAbsolute() {
		cwd.Path = bpath.Canonicalize(path)
	} else {
		cwd.Path = bpath.Canonicalize(cwd.Path.Extend(path))
	}
	return 0
}
