// Package fs implements the block cache: a fixed NBUF-buffer pool
// indexed by a doubly-linked LRU list and a (dev,blockno) hash table,
// the way the teacher's fs.Bdev_block_t/hash-bucket cache works, but
// sized and keyed per this kernel's constants (NBUF=32,
// BUF_HASH_SIZE=37) and driven through virtio.Disk_i instead of AHCI.
package fs

import (
	"container/list"
	"fmt"

	"lock"
	"virtio"
)

// / BSIZE is the size of a disk block in bytes.
const BSIZE = virtio.BSIZE

// / Bdev_block_t represents one cached disk block.
type Bdev_block_t struct {
	lock.Sleeplock_t
	Dev    int
	Block  int
	Valid  bool
	Dirty  bool
	Refcnt int
	Data   [BSIZE]uint8
	Disk   virtio.Disk_i
}

// / BlkList_t is a thin wrapper around container/list for grouping
// / blocks into one disk request, mirroring the teacher's BlkList_t.
type BlkList_t struct {
	l *list.List
}

// / MkBlkList creates an empty block list.
func MkBlkList() *BlkList_t {
	return &BlkList_t{l: list.New()}
}

// / PushBack appends a block to the list.
func (bl *BlkList_t) PushBack(b *Bdev_block_t) { bl.l.PushBack(b) }

// / Apply calls f for each block in the list, front to back.
func (bl *BlkList_t) Apply(f func(*Bdev_block_t)) {
	for e := bl.l.Front(); e != nil; e = e.Next() {
		f(e.Value.(*Bdev_block_t))
	}
}

// / writeLocked synchronously writes the block to disk.
func (b *Bdev_block_t) writeLocked() {
	req := &virtio.Req_t{Cmd: virtio.BDEV_WRITE, Block: b.Block, Data: b.Data[:], AckCh: make(chan bool, 1)}
	if b.Disk.Start(req) {
		<-req.AckCh
	}
}

// / readLocked synchronously reads the block from disk.
func (b *Bdev_block_t) readLocked() {
	req := &virtio.Req_t{Cmd: virtio.BDEV_READ, Block: b.Block, Data: b.Data[:], AckCh: make(chan bool, 1)}
	if b.Disk.Start(req) {
		<-req.AckCh
	}
}

// / key is the lookup key for the cache's hash table.
func key(dev, blockno int) int {
	return dev<<32 | blockno
}

// / Debug enables verbose block-cache tracing, mirroring the teacher's
// / bdev_debug switch.
var Debug = false

func debugf(format string, args ...interface{}) {
	if Debug {
		fmt.Printf(format, args...)
	}
}
