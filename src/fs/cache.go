package fs

import (
	"container/list"

	"caller"
	"defs"
	"hashtable"
	"klog"
	"limits"
	"lock"
	"stats"
	"virtio"
)

// fatalLog dedupes repeated buffer-cache corruption panics by call site.
var fatalLog = caller.Distinct_t{Enabled: true}

func fatal(msg string) {
	if fresh, stack := fatalLog.Seen(); fresh {
		klog.Logf(klog.LFATAL, "fs: %s\n%s", msg, stack)
	}
	panic(msg)
}

// / CacheStats counts buffer-cache hits and misses, read back through the
// / klog_dump/stats diagnostic surface.
var CacheStats struct {
	Hits   stats.Counter_t
	Misses stats.Counter_t
}

// / Bcache_t is the fixed NBUF-buffer pool, indexed by an LRU list (head
// / = most recently used) and a hash table keyed by (dev,blockno), the
// / way the teacher's cache works: the hash index is
// / hashtable.Hashtable_t, bucketed to limits.BUF_HASH_SIZE exactly as
// / spec.md §4.6 describes, rather than a bare Go map.
type Bcache_t struct {
	mu    lock.Spinlock_t
	bufs  [limits.NBUF]Bdev_block_t
	lru   *list.List // of *Bdev_block_t, front = most recently used
	index *hashtable.Hashtable_t
	disk  virtio.Disk_i
}

// / MkBcache constructs an empty cache bound to the given disk.
func MkBcache(disk virtio.Disk_i) *Bcache_t {
	bc := &Bcache_t{lru: list.New(), index: hashtable.MkHash(limits.BUF_HASH_SIZE)}
	bc.disk = disk
	for i := range bc.bufs {
		bc.bufs[i].Init()
		bc.bufs[i].Disk = disk
		bc.bufs[i].Block = -1
	}
	return bc
}

// / Bread returns the locked buffer for (dev,blockno), reading it from
// / disk on a cache miss.
func (bc *Bcache_t) Bread(dev, blockno int) *Bdev_block_t {
	bc.mu.Lock()
	k := key(dev, blockno)
	if v, ok := bc.index.Get(k); ok {
		e := v.(*list.Element)
		b := e.Value.(*Bdev_block_t)
		b.Refcnt++
		bc.mu.Unlock()
		CacheStats.Hits.Inc()
		b.Lock()
		return b
	}
	CacheStats.Misses.Inc()

	// miss: scan from the LRU tail for a buffer with refcnt==0.
	var victim *list.Element
	for e := bc.lru.Back(); e != nil; e = e.Prev() {
		if e.Value.(*Bdev_block_t).Refcnt == 0 {
			victim = e
			break
		}
	}
	if victim == nil {
		// not yet full: pull an unused slot instead of evicting.
		for i := range bc.bufs {
			if bc.bufs[i].Refcnt == 0 && bc.bufs[i].Block == -1 {
				victim = bc.lru.PushBack(&bc.bufs[i])
				break
			}
		}
	}
	if victim == nil {
		fatal("bcache: no free buffer, NBUF too small")
	}
	b := victim.Value.(*Bdev_block_t)
	if b.Block != -1 {
		bc.index.Del(key(b.Dev, b.Block))
	}
	b.Dev = dev
	b.Block = blockno
	b.Valid = false
	b.Dirty = false
	b.Refcnt = 1
	bc.lru.MoveToFront(victim)
	bc.index.Set(k, victim)
	bc.mu.Unlock()

	b.Lock()
	if !b.Valid {
		b.readLocked()
		b.Valid = true
	}
	return b
}

// / Bwrite writes a locked, dirty buffer to disk. The caller must hold
// / b's sleeplock.
func (bc *Bcache_t) Bwrite(b *Bdev_block_t) {
	if !b.Holding() {
		fatal("bwrite: buffer not locked")
	}
	b.Dirty = true
	b.writeLocked()
	b.Dirty = false
}

// / Brelse releases a buffer acquired via Bread.
func (bc *Bcache_t) Brelse(b *Bdev_block_t) {
	b.Unlock()
	bc.mu.Lock()
	defer bc.mu.Unlock()
	b.Refcnt--
	if b.Refcnt < 0 {
		fatal("brelse: negative refcnt")
	}
	if b.Refcnt == 0 {
		if v, ok := bc.index.Get(key(b.Dev, b.Block)); ok {
			bc.lru.MoveToFront(v.(*list.Element))
		}
	}
}

// / Bpin increments refcnt without moving the buffer, keeping it
// / resident for the log until the transaction commits.
func (bc *Bcache_t) Bpin(b *Bdev_block_t) {
	bc.mu.Lock()
	b.Refcnt++
	bc.mu.Unlock()
}

// / Bunpin is the inverse of Bpin.
func (bc *Bcache_t) Bunpin(b *Bdev_block_t) {
	bc.mu.Lock()
	b.Refcnt--
	if b.Refcnt < 0 {
		fatal("bunpin: negative refcnt")
	}
	bc.mu.Unlock()
}

// / Clear drops every cached buffer regardless of refcnt, forcing the
// / next Bread of any block back to disk. It is a testing/diagnostic
// / hook (the clear_cache syscall, §6.1) used to force crash-recovery
// / tests to observe on-disk state rather than a cache that happens to
// / still hold the pre-crash image; it must never be called while any
// / buffer is legitimately pinned by an in-flight transaction.
func (bc *Bcache_t) Clear() {
	bc.mu.Lock()
	defer bc.mu.Unlock()
	bc.lru.Init()
	bc.index = hashtable.MkHash(limits.BUF_HASH_SIZE)
	for i := range bc.bufs {
		bc.bufs[i].Valid = false
		bc.bufs[i].Dirty = false
		bc.bufs[i].Refcnt = 0
		bc.bufs[i].Block = -1
	}
}

// / BreadErr is a convenience wrapper returning defs.Err_t for callers
// / that prefer the kernel-wide error convention over a bare pointer.
// / The error is always 0: Bread panics rather than failing.
func (bc *Bcache_t) BreadErr(dev, blockno int) (*Bdev_block_t, defs.Err_t) {
	return bc.Bread(dev, blockno), 0
}
