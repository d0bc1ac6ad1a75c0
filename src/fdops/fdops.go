// Package fdops defines the operations every open-file-descriptor
// backend implements: regular files, directories, the console device,
// and the raw disk device. It exists so fs/file/proc can refer to "a
// thing a file descriptor points at" without importing each concrete
// backend, the same layering the teacher's fd.Fd_t uses against its own
// Fdops_i.
package fdops

import "defs"

// / Fdops_i is implemented by every file-descriptor backend.
type Fdops_i interface {
	Close() defs.Err_t
	Fstat(st StatWriter) defs.Err_t
	Lseek(off, whence int) (int, defs.Err_t)
	Read(dst Userio_i) (int, defs.Err_t)
	Reopen() defs.Err_t
	Write(src Userio_i) (int, defs.Err_t)
}

// / StatWriter is the subset of stat.Stat_t that fdops needs to fill in,
// / kept abstract here so fdops does not import the stat package and
// / create a cycle with inode/file.
type StatWriter interface {
	Wdev(uint64)
	Wino(uint64)
	Wmode(uint64)
	Wsize(uint64)
	Wrdev(uint64)
	Wnlink(uint64)
}

// / Userio_i abstracts a copyin/copyout destination so device and file
// / backends don't need to know whether the caller is user or kernel
// / memory.
type Userio_i interface {
	Uio_read(dst []uint8) (int, defs.Err_t)
	Uio_write(src []uint8) (int, defs.Err_t)
	Remain() int
	Totalsz() int
}

// / Kerneldata wraps a plain kernel byte slice as a Userio_i, the way the
// / teacher's fs package reads/writes directly into kernel buffers
// / during exec and the log.
type Kerneldata struct {
	Buf []uint8
	off int
}

// / MkKerneldata wraps buf for use as both source and destination.
func MkKerneldata(buf []uint8) *Kerneldata {
	return &Kerneldata{Buf: buf}
}

func (k *Kerneldata) Uio_read(dst []uint8) (int, defs.Err_t) {
	n := copy(dst, k.Buf[k.off:])
	k.off += n
	return n, 0
}

func (k *Kerneldata) Uio_write(src []uint8) (int, defs.Err_t) {
	n := copy(k.Buf[k.off:], src)
	k.off += n
	return n, 0
}

func (k *Kerneldata) Remain() int { return len(k.Buf) - k.off }
func (k *Kerneldata) Totalsz() int { return len(k.Buf) }
