// Package util collects the small numeric helpers used throughout the
// kernel to pack and unpack little-endian fields in on-disk structures
// (superblock, dinode, directory entries, log header) and to do
// page-aligned arithmetic.
package util

import "unsafe"

// Int is satisfied by every built-in integer type so Min/Roundup/etc can
// be shared across page counts, byte offsets, and block numbers without
// repeating the same three lines for each concrete type.
type Int interface {
	~int | ~int8 | ~int16 | ~int32 | ~int64 |
		~uint | ~uint8 | ~uint16 | ~uint32 | ~uint64 | ~uintptr
}

// Min returns the smaller of a and b.
func Min[T Int](a, b T) T {
	if a < b {
		return a
	}
	return b
}

// Max returns the larger of a and b.
func Max[T Int](a, b T) T {
	if a > b {
		return a
	}
	return b
}

// Rounddown aligns v down to the nearest multiple of b.
func Rounddown[T Int](v, b T) T {
	return v - (v % b)
}

// Roundup aligns v up to the nearest multiple of b.
func Roundup[T Int](v, b T) T {
	return Rounddown(v+b-1, b)
}

// Readn reads n little-endian bytes from a starting at off.
func Readn(a []uint8, n int, off int) int {
	if off < 0 || n < 0 || off+n > len(a) {
		panic("Readn out of bounds")
	}
	p := unsafe.Pointer(&a[off])
	switch n {
	case 8:
		return int(*(*int64)(p))
	case 4:
		return int(*(*uint32)(p))
	case 2:
		return int(*(*uint16)(p))
	case 1:
		return int(*(*uint8)(p))
	}
	panic("unsupported size")
}

// Writen writes val using sz little-endian bytes into a starting at off.
func Writen(a []uint8, sz int, off int, val int) {
	if off < 0 || sz < 0 || off+sz > len(a) {
		panic("Writen out of bounds")
	}
	p := unsafe.Pointer(&a[off])
	switch sz {
	case 8:
		*(*int64)(p) = int64(val)
	case 4:
		*(*uint32)(p) = uint32(val)
	case 2:
		*(*uint16)(p) = uint16(val)
	case 1:
		*(*uint8)(p) = uint8(val)
	default:
		panic("unsupported size")
	}
}

// Readu32 reads a single little-endian uint32 field, the shape most
// on-disk structures (superblock, dinode addrs) use.
func Readu32(a []uint8, off int) uint32 {
	return uint32(Readn(a, 4, off))
}

// Writeu32 writes a single little-endian uint32 field.
func Writeu32(a []uint8, off int, v uint32) {
	Writen(a, 4, off, int(v))
}
