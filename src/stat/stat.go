// Package stat mirrors the fields a stat(2)-style syscall reports back
// to user space.
package stat

import "unsafe"

// Stat_t is the in-kernel representation of a file's metadata, laid out
// so Bytes() can hand the whole thing to copyout in one shot.
type Stat_t struct {
	dev    uint64
	ino    uint64
	mode   uint64
	size   uint64
	rdev   uint64
	nlink  uint64
	blocks uint64
}

func (st *Stat_t) Wdev(v uint64)   { st.dev = v }
func (st *Stat_t) Wino(v uint64)   { st.ino = v }
func (st *Stat_t) Wmode(v uint64)  { st.mode = v }
func (st *Stat_t) Wsize(v uint64)  { st.size = v }
func (st *Stat_t) Wrdev(v uint64)  { st.rdev = v }
func (st *Stat_t) Wnlink(v uint64) { st.nlink = v }

func (st *Stat_t) Dev() uint64   { return st.dev }
func (st *Stat_t) Ino() uint64   { return st.ino }
func (st *Stat_t) Mode() uint64  { return st.mode }
func (st *Stat_t) Size() uint64  { return st.size }
func (st *Stat_t) Rdev() uint64  { return st.rdev }
func (st *Stat_t) Nlink() uint64 { return st.nlink }

// Bytes exposes the struct's raw representation for copyout.
func (st *Stat_t) Bytes() []uint8 {
	const sz = unsafe.Sizeof(*st)
	sl := (*[sz]uint8)(unsafe.Pointer(st))
	return sl[:]
}
