// Package stats provides lightweight atomic counters for the diagnostic
// klog_dump surface: block cache hit/miss rates, scheduler switch counts,
// and similar. Counting is unconditional (cheap, a single atomic add),
// and so is the klog_dump output of the counters: klog_set_threshold
// gates only klog's own messages.
package stats

import (
	"fmt"
	"reflect"
	"sync/atomic"
)

// Counter_t is an atomically incremented named statistic.
type Counter_t int64

// Inc increments the counter by one.
func (c *Counter_t) Inc() {
	atomic.AddInt64((*int64)(c), 1)
}

// Add increments the counter by n.
func (c *Counter_t) Add(n int64) {
	atomic.AddInt64((*int64)(c), n)
}

// Get reads the counter's current value.
func (c *Counter_t) Get() int64 {
	return atomic.LoadInt64((*int64)(c))
}

// Dump renders every Counter_t field of st as "name: value" lines, via
// reflection so each subsystem's stats struct doesn't need its own
// formatting code.
func Dump(st interface{}) string {
	v := reflect.ValueOf(st)
	if v.Kind() == reflect.Ptr {
		v = v.Elem()
	}
	s := ""
	for i := 0; i < v.NumField(); i++ {
		f := v.Field(i)
		if c, ok := f.Addr().Interface().(*Counter_t); ok {
			s += fmt.Sprintf("%s: %d\n", v.Type().Field(i).Name, c.Get())
		}
	}
	return s
}
