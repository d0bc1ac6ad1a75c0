// Package virtio defines the block-device contract the filesystem's
// block cache expects from the VirtIO-MMIO disk at 0x1000_1000 on the
// QEMU virt machine. The real virtqueue management, descriptor rings,
// and MMIO register programming are an external collaborator; this
// package's Disk_i is the seam fs.Bdev_block_t reads and writes
// through (mirroring the teacher's fs.Disk_i), plus a file/memory
// backed stub implementing it for hosted tests.
package virtio

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// MMIOBase is the VirtIO block device's physical base address.
const MMIOBase = 0x10001000

// / BSIZE is the disk sector unit the block cache reads and writes in.
const BSIZE = 4096

// / Bdevcmd_t enumerates request kinds, mirroring fs.Bdevcmd_t so a
// / Disk_i implementation never needs to import fs.
type Bdevcmd_t uint

const (
	BDEV_WRITE Bdevcmd_t = 1
	BDEV_READ  Bdevcmd_t = 2
	BDEV_FLUSH Bdevcmd_t = 3
)

// / Req_t describes one outstanding request: a block number, a data
// / buffer to fill (read) or drain (write), and a completion channel the
// / caller waits on.
type Req_t struct {
	Cmd   Bdevcmd_t
	Block int
	Data  []uint8
	AckCh chan bool
}

// / Disk_i is the seam the block cache drives; Start returns false if
// / the request completed synchronously (no need to wait on AckCh).
type Disk_i interface {
	Start(*Req_t) bool
	Stats() string
}

// / FileDisk backs the block device with a host file, the way a hosted
// / test harness stands in for the real VirtIO ring without faking the
// / MMIO protocol itself.
type FileDisk struct {
	f      *os.File
	nreads, nwrites int64
}

// / OpenFileDisk opens (creating if absent) a disk image at path and
// / takes an exclusive advisory lock on it, the way a real block device
// / can only have one driver attached: this stops mkfs and a running
// / kernel (or two kernels) from mutating the same image concurrently
// / and corrupting the log.
func OpenFileDisk(path string) (*FileDisk, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, err
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		return nil, fmt.Errorf("virtio: %s is locked by another process: %w", path, err)
	}
	return &FileDisk{f: f}, nil
}

func (d *FileDisk) Start(r *Req_t) bool {
	off := int64(r.Block) * BSIZE
	switch r.Cmd {
	case BDEV_READ:
		if len(r.Data) != BSIZE {
			panic("virtio: read buffer must be one block")
		}
		n, err := d.f.ReadAt(r.Data, off)
		if err != nil && n != BSIZE {
			for i := n; i < BSIZE; i++ {
				r.Data[i] = 0
			}
		}
		d.nreads++
	case BDEV_WRITE:
		if len(r.Data) != BSIZE {
			panic("virtio: write buffer must be one block")
		}
		if _, err := d.f.WriteAt(r.Data, off); err != nil {
			panic("virtio: write failed: " + err.Error())
		}
		d.nwrites++
	case BDEV_FLUSH:
		d.f.Sync()
	}
	if r.AckCh != nil {
		r.AckCh <- true
	}
	return false
}

func (d *FileDisk) Stats() string {
	return fmt.Sprintf("virtio: reads %d writes %d\n", d.nreads, d.nwrites)
}

// / Close flushes and releases the backing file, for callers (fsimage,
// / mkfs) that open a disk image outside a running kernel and need to
// / hand the descriptor back cleanly.
func (d *FileDisk) Close() error {
	if err := d.f.Sync(); err != nil {
		d.f.Close()
		return err
	}
	return d.f.Close()
}

// / MemDisk backs the block device with an in-memory array of sectors,
// / for unit tests that would rather not touch the filesystem.
type MemDisk struct {
	blocks [][BSIZE]uint8
}

// / MkMemDisk allocates a zeroed disk of n blocks.
func MkMemDisk(n int) *MemDisk {
	return &MemDisk{blocks: make([][BSIZE]uint8, n)}
}

func (d *MemDisk) Start(r *Req_t) bool {
	switch r.Cmd {
	case BDEV_READ:
		copy(r.Data, d.blocks[r.Block][:])
	case BDEV_WRITE:
		copy(d.blocks[r.Block][:], r.Data)
	case BDEV_FLUSH:
	}
	if r.AckCh != nil {
		r.AckCh <- true
	}
	return false
}

func (d *MemDisk) Stats() string {
	return fmt.Sprintf("memdisk: %d blocks\n", len(d.blocks))
}
