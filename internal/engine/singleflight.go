package engine

import "golang.org/x/sync/semaphore"

// flight guarantees at most one sync operation executes at a time
// system-wide. A second trigger while one is running is dropped, not
// queued; the next natural trigger picks up any backlog.
//
// Built on a weighted semaphore so acquisition is non-blocking: the
// scheduling path never waits on a lock.
type flight struct {
	sem *semaphore.Weighted
}

func newFlight() *flight {
	return &flight{sem: semaphore.NewWeighted(1)}
}

// TryBegin attempts to enter the single-flight section without blocking.
func (f *flight) TryBegin() bool {
	return f.sem.TryAcquire(1)
}

// End leaves the section. Must pair with a successful TryBegin.
func (f *flight) End() {
	f.sem.Release(1)
}

// Busy reports whether a sync is currently in flight.
func (f *flight) Busy() bool {
	if f.sem.TryAcquire(1) {
		f.sem.Release(1)
		return false
	}
	return true
}
