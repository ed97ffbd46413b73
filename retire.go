package corowork

import "sync"

// retireQueue is the per-scheduler deferred reclamation list for Finished
// coroutines (spec.md §4.2 "Refcount & retire"). A coroutine lands here the
// moment its trampoline returns; Drain periodically sweeps it, destroying
// every entry whose refcount has already reached zero and re-queuing the
// rest for the next sweep.
type retireQueue struct {
	mu      sync.Mutex
	pending []*Coroutine
}

func (q *retireQueue) push(c *Coroutine) {
	q.mu.Lock()
	q.pending = append(q.pending, c)
	q.mu.Unlock()
}

// sweep destroys every pending coroutine with refcount <= 0, returning how
// many coroutines still have outstanding references so the caller can
// decide whether to keep sweeping (e.g. during shutdown).
func (q *retireQueue) sweep() (stillReferenced int) {
	q.mu.Lock()
	remaining := q.pending[:0]
	for _, c := range q.pending {
		if c.refcount.Load() <= 0 {
			c.destroy()
		} else {
			remaining = append(remaining, c)
		}
	}
	q.pending = remaining
	stillReferenced = len(remaining)
	q.mu.Unlock()
	return
}
