// Package oommsg defines the notification the frame allocator sends when
// physical memory is exhausted, telling a reclaim daemon (if one is
// listening) that an allocation failed with ENOMEM.
package oommsg

// Oommsg_t is sent on OomCh when the allocator cannot satisfy a request.
type Oommsg_t struct {
	// Need is the number of frames the failed request wanted.
	Need int
	// Resume may be signalled by the receiver once it believes frames
	// have been freed; the allocator never waits on it or retries.
	Resume chan bool
}

// OomCh is the process-wide out-of-memory notification channel.
var OomCh = make(chan Oommsg_t)
