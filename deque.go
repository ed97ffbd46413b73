package corowork

import "sync"

// localDeque is a worker's local ready queue: the owner pushes and pops
// from the bottom, thieves steal from the top. Per the Design Notes
// guidance ("arena+index for queues... intrusive linkage embedded in the
// coroutine/waiter struct rather than separate node allocations"), this
// reuses Coroutine.next/prev directly instead of wrapping each entry in a
// separate node, at the cost of a single mutex rather than a fully
// lock-free Chase-Lev ring; given the fastpath slot already absorbs the
// overwhelming majority of resume traffic (spec.md §4.3 "Enqueue
// discipline"), contention on this lock is rare in practice.
type localDeque struct {
	mu         sync.Mutex
	head, tail *Coroutine // head = steal end, tail = owner end
	len        int
}

func (d *localDeque) pushBottom(c *Coroutine) {
	d.mu.Lock()
	c.next, c.prev = nil, d.tail
	if d.tail != nil {
		d.tail.next = c
	} else {
		d.head = c
	}
	d.tail = c
	d.len++
	d.mu.Unlock()
}

func (d *localDeque) popBottom() *Coroutine {
	d.mu.Lock()
	c := d.tail
	if c == nil {
		d.mu.Unlock()
		return nil
	}
	d.tail = c.prev
	if d.tail != nil {
		d.tail.next = nil
	} else {
		d.head = nil
	}
	d.len--
	d.mu.Unlock()
	c.next, c.prev = nil, nil
	return c
}

func (d *localDeque) popTop() *Coroutine {
	d.mu.Lock()
	c := d.head
	if c == nil {
		d.mu.Unlock()
		return nil
	}
	d.head = c.next
	if d.head != nil {
		d.head.prev = nil
	} else {
		d.tail = nil
	}
	d.len--
	d.mu.Unlock()
	c.next, c.prev = nil, nil
	return c
}

func (d *localDeque) size() int {
	d.mu.Lock()
	n := d.len
	d.mu.Unlock()
	return n
}
