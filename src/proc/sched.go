package proc

import (
	"runtime"

	"defs"
	"stats"
)

// / SchedStats counts context switches, read back through the
// / klog_dump/stats diagnostic surface alongside fs.CacheStats.
var SchedStats struct {
	Switches stats.Counter_t
}

// / ScheduleNext picks the next RUNNABLE process round-robin, starting
// / just after whichever slot last ran, and marks it RUNNING. It
// / returns nil if nothing is runnable.
func (t *Table_t) ScheduleNext() *Proc_t {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := len(t.procs)
	for i := 1; i <= n; i++ {
		idx := (t.lastran + i) % n
		p := t.procs[idx]
		if p != nil && p.State == defs.RUNNABLE {
			p.State = defs.RUNNING
			t.lastran = idx
			SchedStats.Switches.Inc()
			return p
		}
	}
	return nil
}

// / RunOnce schedules and runs one process for a single slice via its
// / Run callback, accounting the elapsed wall time as system time.
// / It returns false when nothing was runnable.
func (t *Table_t) RunOnce() bool {
	p := t.ScheduleNext()
	if p == nil {
		return false
	}
	start := p.Acct.Now()
	if p.Run != nil {
		p.Run(p)
	}
	p.Acct.Finish(start)
	return true
}

// / Scheduler runs the round-robin loop until stop is closed, idling
// / with runtime.Gosched (standing in for the teacher's wfi instruction)
// / whenever nothing is runnable.
func (t *Table_t) Scheduler(stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		default:
		}
		if !t.RunOnce() {
			runtime.Gosched()
		}
	}
}
