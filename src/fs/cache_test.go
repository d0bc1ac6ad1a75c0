package fs

import (
	"testing"

	"virtio"
)

func TestBreadMissThenHit(t *testing.T) {
	disk := virtio.MkMemDisk(8)
	bc := MkBcache(disk)
	b := bc.Bread(0, 3)
	b.Data[0] = 0xaa
	bc.Bwrite(b)
	bc.Brelse(b)

	b2 := bc.Bread(0, 3)
	if b2.Data[0] != 0xaa {
		t.Fatalf("expected cached/re-read content 0xaa, got %#x", b2.Data[0])
	}
	bc.Brelse(b2)
}

func TestBpinKeepsBufferResident(t *testing.T) {
	disk := virtio.MkMemDisk(limitsNBUF() + 1)
	bc := MkBcache(disk)
	pinned := bc.Bread(0, 0)
	bc.Bpin(pinned)
	bc.Brelse(pinned)

	for i := 1; i <= limitsNBUF(); i++ {
		b := bc.Bread(0, i)
		bc.Brelse(b)
	}

	b := bc.Bread(0, 0)
	if b.Block != 0 {
		t.Fatal("pinned buffer was evicted")
	}
	bc.Bunpin(b)
	bc.Brelse(b)
}

func limitsNBUF() int {
	return len(MkBcache(virtio.MkMemDisk(1)).bufs)
}
