// Package accnt accumulates per-process CPU accounting. The scheduler
// adds each slice's time; no syscall reports it to user space.
package accnt

import (
	"sync"
	"sync/atomic"
	"time"
)

// Accnt_t tracks nanoseconds of user and system time consumed by one
// process. The mutex is only used by Add/Fetch, which need a consistent
// snapshot; the per-field counters used on the hot accounting path are
// updated with atomics.
type Accnt_t struct {
	Userns int64
	Sysns  int64
	sync.Mutex
}

// Utadd adds delta nanoseconds of user time.
func (a *Accnt_t) Utadd(delta int64) {
	atomic.AddInt64(&a.Userns, delta)
}

// Systadd adds delta nanoseconds of system time.
func (a *Accnt_t) Systadd(delta int64) {
	atomic.AddInt64(&a.Sysns, delta)
}

// Now returns the current time in nanoseconds since the epoch.
func (a *Accnt_t) Now() int64 {
	return time.Now().UnixNano()
}

// Finish adds the time elapsed since start to system time; called when
// the scheduler takes the CPU back from a process.
func (a *Accnt_t) Finish(start int64) {
	a.Systadd(a.Now() - start)
}

// Add merges n's counters into a.
func (a *Accnt_t) Add(n *Accnt_t) {
	a.Lock()
	a.Userns += atomic.LoadInt64(&n.Userns)
	a.Sysns += atomic.LoadInt64(&n.Sysns)
	a.Unlock()
}

// Rusage_t is the (seconds, microseconds) pair pair reported to user
// space for user and system time, mirroring struct rusage's timeval
// fields.
type Rusage_t struct {
	UserSec, UserUsec int64
	SysSec, SysUsec   int64
}

// Fetch takes a consistent snapshot and converts it to Rusage_t.
func (a *Accnt_t) Fetch() Rusage_t {
	a.Lock()
	u, s := a.Userns, a.Sysns
	a.Unlock()
	toTv := func(ns int64) (int64, int64) {
		return ns / 1e9, (ns % 1e9) / 1000
	}
	r := Rusage_t{}
	r.UserSec, r.UserUsec = toTv(u)
	r.SysSec, r.SysUsec = toTv(s)
	return r
}
