package fs

import "util"

// / SB_MAGIC identifies a valid on-disk superblock.
const SB_MAGIC = 0x20241031

// / Superblock_t is the on-disk super block: eight little-endian u32
// / fields packed into the first 32 bytes of block 1, mirroring the
// / teacher's field-at-a-time accessor style over a raw block buffer.
type Superblock_t struct {
	Data *[BSIZE]uint8
}

func fieldr(d *[BSIZE]uint8, n int) int {
	return int(util.Readu32(d[:], n*4))
}

func fieldw(d *[BSIZE]uint8, n int, v int) {
	util.Writeu32(d[:], n*4, uint32(v))
}

// / Magic returns the superblock's magic number.
func (sb *Superblock_t) Magic() int { return fieldr(sb.Data, 0) }

// / TotalSize returns the total number of blocks on the device.
func (sb *Superblock_t) TotalSize() int { return fieldr(sb.Data, 1) }

// / Nblocks returns the number of data blocks.
func (sb *Superblock_t) Nblocks() int { return fieldr(sb.Data, 2) }

// / Ninodes returns the number of inode slots.
func (sb *Superblock_t) Ninodes() int { return fieldr(sb.Data, 3) }

// / Nlog returns the length of the on-disk log in blocks.
func (sb *Superblock_t) Nlog() int { return fieldr(sb.Data, 4) }

// / Logstart returns the starting block of the log region.
func (sb *Superblock_t) Logstart() int { return fieldr(sb.Data, 5) }

// / Inodestart returns the starting block of the inode region.
func (sb *Superblock_t) Inodestart() int { return fieldr(sb.Data, 6) }

// / Bmapstart returns the starting block of the free-block bitmap.
func (sb *Superblock_t) Bmapstart() int { return fieldr(sb.Data, 7) }

// / SetMagic writes the magic field.
func (sb *Superblock_t) SetMagic(v int) { fieldw(sb.Data, 0, v) }

// / SetTotalSize writes the total-size field.
func (sb *Superblock_t) SetTotalSize(v int) { fieldw(sb.Data, 1, v) }

// / SetNblocks writes the data-block-count field.
func (sb *Superblock_t) SetNblocks(v int) { fieldw(sb.Data, 2, v) }

// / SetNinodes writes the inode-count field.
func (sb *Superblock_t) SetNinodes(v int) { fieldw(sb.Data, 3, v) }

// / SetNlog writes the log-length field.
func (sb *Superblock_t) SetNlog(v int) { fieldw(sb.Data, 4, v) }

// / SetLogstart writes the log start-block field.
func (sb *Superblock_t) SetLogstart(v int) { fieldw(sb.Data, 5, v) }

// / SetInodestart writes the inode-region start-block field.
func (sb *Superblock_t) SetInodestart(v int) { fieldw(sb.Data, 6, v) }

// / SetBmapstart writes the bitmap start-block field.
func (sb *Superblock_t) SetBmapstart(v int) { fieldw(sb.Data, 7, v) }

// / IinodeBlock returns the block number containing inode number inum.
func IinodeBlock(inum, inodestart, inodesPerBlock int) int {
	return inodestart + inum/inodesPerBlock
}

// / IbitBlock returns the bitmap block containing the bit for data block b.
func IbitBlock(b, bmapstart int) int {
	return bmapstart + b/(BSIZE*8)
}

// / Valid reports whether the superblock carries the expected magic.
func (sb *Superblock_t) Valid() bool {
	return sb.Magic() == SB_MAGIC
}
