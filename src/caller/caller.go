// Package caller provides call-stack diagnostics used by the fatal error
// paths (the Corruption/IO error kinds): rather than flooding the console
// with the same panic from the same call site on every hit, callers can
// ask whether a particular call chain has already been reported.
package caller

import (
	"fmt"
	"runtime"
	"sync"
)

// Dump renders the call stack starting at the given skip depth as a
// string, one frame per line.
func Dump(skip int) string {
	s := ""
	for i := skip; ; i++ {
		_, f, l, ok := runtime.Caller(i)
		if !ok {
			break
		}
		if s == "" {
			s = fmt.Sprintf("%s:%d\n", f, l)
		} else {
			s += fmt.Sprintf("\t<-%s:%d\n", f, l)
		}
	}
	return s
}

// Distinct_t deduplicates repeated panics/warnings by call chain.
type Distinct_t struct {
	sync.Mutex
	Enabled bool
	seen    map[uintptr]bool
}

// Seen reports whether the current call chain has already been reported;
// if it has not, it is recorded as seen and the formatted stack is
// returned alongside true.
func (d *Distinct_t) Seen() (fresh bool, stack string) {
	d.Lock()
	defer d.Unlock()
	if !d.Enabled {
		return false, ""
	}
	if d.seen == nil {
		d.seen = make(map[uintptr]bool)
	}
	pcs := make([]uintptr, 32)
	n := runtime.Callers(3, pcs)
	if n == 0 {
		return false, ""
	}
	pcs = pcs[:n]
	var h uintptr
	for _, pc := range pcs {
		h ^= pc*1103515245 + 12345
	}
	if d.seen[h] {
		return false, ""
	}
	d.seen[h] = true
	frames := runtime.CallersFrames(pcs)
	s := ""
	for {
		fr, more := frames.Next()
		if s == "" {
			s = fmt.Sprintf("%s (%s:%d)\n", fr.Function, fr.File, fr.Line)
		} else {
			s += fmt.Sprintf("\t%s (%s:%d)\n", fr.Function, fr.File, fr.Line)
		}
		if !more {
			break
		}
	}
	return true, s
}

// Count returns how many distinct call chains have been recorded.
func (d *Distinct_t) Count() int {
	d.Lock()
	defer d.Unlock()
	return len(d.seen)
}
