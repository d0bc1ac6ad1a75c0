// Package jlog implements the write-ahead redo log that makes every
// multi-block filesystem update crash-atomic: writes during a
// transaction are buffered and pinned in the block cache, copied into a
// reserved on-disk log region, committed with one header write, then
// installed into their real locations. Grounded on the teacher's
// fs.Log_t bracket-based transaction API, generalized to the explicit
// recovery/crash-stage testing hooks this kernel's §4.7 contract calls
// for.
package jlog

import (
	"sync"

	"caller"
	"fs"
	"klog"
	"limits"
	"lock"
	"util"
)

// fatalLog dedupes repeated log-corruption panics by call site.
var fatalLog = caller.Distinct_t{Enabled: true}

func fatal(msg string) {
	if fresh, stack := fatalLog.Seen(); fresh {
		klog.Logf(klog.LFATAL, "jlog: %s\n%s", msg, stack)
	}
	panic(msg)
}

// / CrashStage lets tests abort a commit mid-way to exercise recovery.
// / 0 = no injected crash, 1 = crash after the blocks are copied into the
// / log region but before the header write (the transaction is lost),
// / 2 = crash right after the header write, before any install.
var CrashStage = 0

// headerSlots is the number of block numbers the header can record, a
// fixed 3*MAX_OP_BLOCKS that does not depend on the log region's size.
// commit writes logged block i to region block start+1+i without
// checking it against size.
const headerSlots = limits.MAX_OP_BLOCKS * 3

// / Log_t tracks one filesystem's write-ahead log state.
type Log_t struct {
	mu          lock.Spinlock_t
	cond        *sync.Cond
	dev         int
	start, size int
	committing  bool
	outstanding int
	bc          *fs.Bcache_t

	// header mirrors the on-disk log header: n logged blocks and their
	// destinations.
	n      int
	blocks [headerSlots]int
}

// / MkLog constructs a log over blocks [start, start+size) of dev.
func MkLog(bc *fs.Bcache_t, dev, start, size int) *Log_t {
	l := &Log_t{dev: dev, start: start, size: size, bc: bc}
	l.cond = sync.NewCond(&l.mu)
	return l
}

func (l *Log_t) readHeader() {
	h := l.bc.Bread(l.dev, l.start)
	l.n = int(util.Readu32(h.Data[:], 0))
	for i := 0; i < l.n; i++ {
		l.blocks[i] = int(util.Readu32(h.Data[:], (i+1)*4))
	}
	l.bc.Brelse(h)
}

func (l *Log_t) writeHeader() {
	h := l.bc.Bread(l.dev, l.start)
	util.Writeu32(h.Data[:], 0, uint32(l.n))
	for i := 0; i < l.n; i++ {
		util.Writeu32(h.Data[:], (i+1)*4, uint32(l.blocks[i]))
	}
	l.bc.Bwrite(h)
	l.bc.Brelse(h)
}

// / Log_init reads the on-disk header, replays any pending transaction,
// / then clears the header. Call once at mount time.
func Log_init(bc *fs.Bcache_t, dev, start, size int) *Log_t {
	l := MkLog(bc, dev, start, size)
	l.readHeader()
	l.install(true)
	l.n = 0
	l.writeHeader()
	return l
}

// install copies every logged block from its log-region slot to its
// real location. recovering silences the crash-stage hook, since
// recovery itself must always run to completion.
func (l *Log_t) install(recovering bool) {
	for i := 0; i < l.n; i++ {
		from := l.bc.Bread(l.dev, l.start+1+i)
		to := l.bc.Bread(l.dev, l.blocks[i])
		copy(to.Data[:], from.Data[:])
		l.bc.Bwrite(to)
		l.bc.Brelse(from)
		l.bc.Brelse(to)
		if !recovering && CrashStage == 2 && i == l.n/2 {
			return
		}
	}
}

// / Begin_transaction blocks until the log is not committing and this
// / transaction's worst-case block budget fits in the remaining log
// / space, then records one more outstanding transaction.
func (l *Log_t) Begin_transaction() {
	l.mu.Lock()
	for l.committing || (l.n+limits.MAX_OP_BLOCKS) >= headerSlots {
		l.cond.Wait()
	}
	l.outstanding++
	l.mu.Unlock()
}

// / Log_block_write records that buffer b (already modified and still
// / locked by the caller) must be replayed at commit. Duplicate writes
// / to the same block in one transaction coalesce into one slot.
func (l *Log_t) Log_block_write(b *fs.Bdev_block_t) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := 0; i < l.n; i++ {
		if l.blocks[i] == b.Block {
			return
		}
	}
	if l.n >= headerSlots {
		fatal("jlog: transaction exceeds log capacity")
	}
	l.blocks[l.n] = b.Block
	l.n++
	l.bc.Bpin(b)
}

// / End_transaction decrements the outstanding count; the last holder
// / out performs the actual commit.
func (l *Log_t) End_transaction() {
	l.mu.Lock()
	l.outstanding--
	doCommit := l.outstanding == 0
	if doCommit {
		l.committing = true
	}
	l.mu.Unlock()

	if doCommit {
		l.commit()
		l.mu.Lock()
		l.committing = false
		l.cond.Broadcast()
		l.mu.Unlock()
	}
}

// commit implements the five-step protocol: copy sources into the log
// region, write the header (the commit point), install into real
// locations, clear the header, unpin.
func (l *Log_t) commit() {
	if l.n == 0 {
		return
	}
	for i := 0; i < l.n; i++ {
		from := l.bc.Bread(l.dev, l.blocks[i])
		to := l.bc.Bread(l.dev, l.start+1+i)
		copy(to.Data[:], from.Data[:])
		l.bc.Bwrite(to)
		l.bc.Brelse(from)
		l.bc.Brelse(to)
	}
	if CrashStage == 1 {
		return // crash before the header write: transaction never happened
	}
	l.writeHeader()
	if CrashStage == 2 {
		return // crash after the commit point, before install: recovery must finish the job
	}
	l.install(false)
	for i := 0; i < l.n; i++ {
		b := l.bc.Bread(l.dev, l.blocks[i])
		l.bc.Bunpin(b)
		l.bc.Brelse(b)
	}
	l.n = 0
	l.writeHeader()
}

// / Recover_log replays an interrupted commit: if the on-disk header
// / reports n>0, the install step is re-run and the header cleared.
func Recover_log(bc *fs.Bcache_t, dev, start, size int) {
	l := MkLog(bc, dev, start, size)
	l.readHeader()
	if l.n > 0 {
		l.install(true)
	}
	l.n = 0
	l.writeHeader()
}

// / Recover re-reads this log's on-disk header and replays any pending
// / commit in place, the mounted-log equivalent of Recover_log for the
// / recover_log diagnostic syscall (§6.1), which only has a live *Log_t
// / in hand rather than the mount parameters.
func (l *Log_t) Recover() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.readHeader()
	if l.n > 0 {
		l.install(true)
	}
	l.n = 0
	l.writeHeader()
}
