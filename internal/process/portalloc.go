package process

import (
	"fmt"
	"sync"
)

// portAllocator hands out ports from [start, end], generalized from the
// teacher's sequential-only allocator (internal/process/manager.go) to a
// range-scan-with-wraparound: it resumes from the last handed-out port and
// wraps back to start when it reaches end, returning an error only when
// every port in the range is in use.
type portAllocator struct {
	mu    sync.Mutex
	start int
	end   int
	next  int
	used  map[int]bool
}

func newPortAllocator(start, end int) *portAllocator {
	return &portAllocator{start: start, end: end, next: start, used: make(map[int]bool)}
}

// Allocate returns the next free port, preferring requested if it is free
// and in range. conflicted is true when a nonzero requested port could not
// be granted (taken or out of range); the scan then starts at requested if
// it is in range, otherwise at the cursor.
func (pa *portAllocator) Allocate(requested int) (port int, conflicted bool, err error) {
	pa.mu.Lock()
	defer pa.mu.Unlock()

	if requested >= pa.start && requested <= pa.end && !pa.used[requested] {
		pa.used[requested] = true
		return requested, false, nil
	}
	conflicted = requested != 0

	scanStart := pa.next
	if requested >= pa.start && requested <= pa.end {
		scanStart = requested
	}
	for i := 0; i <= pa.end-pa.start; i++ {
		candidate := pa.start + (scanStart-pa.start+i)%(pa.end-pa.start+1)
		if !pa.used[candidate] {
			pa.used[candidate] = true
			pa.next = candidate + 1
			if pa.next > pa.end {
				pa.next = pa.start
			}
			return candidate, conflicted, nil
		}
	}
	return 0, conflicted, fmt.Errorf("no free port in range [%d, %d]", pa.start, pa.end)
}

// Release frees a previously allocated port.
func (pa *portAllocator) Release(port int) {
	pa.mu.Lock()
	defer pa.mu.Unlock()
	delete(pa.used, port)
}

// Reserve marks a port as used without going through Allocate, for
// restoring state from a persisted registry snapshot on restart.
func (pa *portAllocator) Reserve(port int) {
	pa.mu.Lock()
	defer pa.mu.Unlock()
	pa.used[port] = true
}
