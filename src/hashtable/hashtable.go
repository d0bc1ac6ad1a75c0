// Package hashtable implements a bucketed hash table with per-bucket
// locking, used by the block cache to index buffers by (dev,blockno) and
// by the inode cache to index inodes by (dev,inum).
package hashtable

import (
	"fmt"
	"hash/fnv"
	"sync"
)

// Key is any value this table knows how to hash and compare: ints (block
// or inode numbers packed with a device id) or strings.
type Key interface{}

type elem_t struct {
	key   Key
	value interface{}
	hash  uint32
	next  *elem_t
}

type bucket_t struct {
	sync.Mutex
	first *elem_t
}

// Hashtable_t maps Key to interface{}, protected internally bucket by
// bucket so concurrent operations on different buckets don't contend.
type Hashtable_t struct {
	buckets []*bucket_t
}

// MkHash allocates a table with the given number of buckets.
func MkHash(nbuckets int) *Hashtable_t {
	ht := &Hashtable_t{buckets: make([]*bucket_t, nbuckets)}
	for i := range ht.buckets {
		ht.buckets[i] = &bucket_t{}
	}
	return ht
}

func khash(key Key) uint32 {
	switch k := key.(type) {
	case int:
		return uint32(2654435761) * uint32(k)
	case int64:
		return uint32(2654435761) * uint32(k)
	case string:
		h := fnv.New32a()
		h.Write([]byte(k))
		return h.Sum32()
	}
	panic(fmt.Sprintf("hashtable: unsupported key type %T", key))
}

func keq(a, b Key) bool {
	return a == b
}

func (ht *Hashtable_t) bucket(h uint32) *bucket_t {
	return ht.buckets[h%uint32(len(ht.buckets))]
}

// Get looks up key and reports whether it was present.
func (ht *Hashtable_t) Get(key Key) (interface{}, bool) {
	h := khash(key)
	b := ht.bucket(h)
	b.Lock()
	defer b.Unlock()
	for e := b.first; e != nil; e = e.next {
		if e.hash == h && keq(e.key, key) {
			return e.value, true
		}
	}
	return nil, false
}

// Set inserts key/value, returning false without modifying the table if
// key was already present.
func (ht *Hashtable_t) Set(key Key, value interface{}) bool {
	h := khash(key)
	b := ht.bucket(h)
	b.Lock()
	defer b.Unlock()
	for e := b.first; e != nil; e = e.next {
		if e.hash == h && keq(e.key, key) {
			return false
		}
	}
	b.first = &elem_t{key: key, value: value, hash: h, next: b.first}
	return true
}

// Del removes key. It is a no-op if key is absent.
func (ht *Hashtable_t) Del(key Key) {
	h := khash(key)
	b := ht.bucket(h)
	b.Lock()
	defer b.Unlock()
	var prev *elem_t
	for e := b.first; e != nil; e = e.next {
		if e.hash == h && keq(e.key, key) {
			if prev == nil {
				b.first = e.next
			} else {
				prev.next = e.next
			}
			return
		}
		prev = e
	}
}

// Size returns the total number of stored elements.
func (ht *Hashtable_t) Size() int {
	n := 0
	for _, b := range ht.buckets {
		b.Lock()
		for e := b.first; e != nil; e = e.next {
			n++
		}
		b.Unlock()
	}
	return n
}
