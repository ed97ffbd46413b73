package corowork

import (
	"unsafe"

	"go.uber.org/atomic"
)

// waiterStatus is the monotonic status of a WaiterToken (spec.md §3):
// Init -> Enqueued -> {Claimed, Cancelled}. At most one transition to
// Claimed can ever succeed.
type waiterStatus int32

const (
	waiterInit waiterStatus = iota
	waiterEnqueued
	waiterClaimed
	waiterCancelled
)

// WaiterToken is a small object a coroutine plants inside a channel (or a
// Select) while parked. The owning coroutine has its refcount raised for
// as long as the token exists in a queue.
type WaiterToken struct {
	status atomic.Int32 // waiterStatus

	owner *Coroutine // refcount-raised while this token is live
	buf   unsafe.Pointer

	sel        *Select // non-nil iff this token belongs to a Select registration
	clauseIdx  int
	next, prev *WaiterToken // intrusive linkage for a channel's waiter queue
}

func newWaiterToken(owner *Coroutine, buf unsafe.Pointer) *WaiterToken {
	owner.Retain()
	w := &WaiterToken{owner: owner, buf: buf, clauseIdx: -1}
	w.status.Store(int32(waiterInit))
	return w
}

func (w *WaiterToken) markEnqueued() {
	w.status.CompareAndSwap(int32(waiterInit), int32(waiterEnqueued))
}

// claim attempts the first (and only valid) transition out of Enqueued
// into Claimed. Only the winner of this CAS may copy data into/out of the
// waiter's buffer and unpark its owner.
func (w *WaiterToken) claim() bool {
	return w.status.CompareAndSwap(int32(waiterEnqueued), int32(waiterClaimed))
}

// cancel attempts the losing transition out of Enqueued into Cancelled,
// used by deadline expiry, explicit cancellation, and Select cleanup of
// non-winning registrations.
func (w *WaiterToken) cancel() bool {
	return w.status.CompareAndSwap(int32(waiterEnqueued), int32(waiterCancelled))
}

func (w *WaiterToken) release() {
	w.owner.Release()
}

func (w *WaiterToken) Status() waiterStatus {
	return waiterStatus(w.status.Load())
}

// waiterQueue is a FIFO of parked WaiterTokens, guarded by the owning
// channel's lock. Kept as an explicit doubly-linked list (intrusive, per
// the Design Notes) rather than a slice so removal of a cancelled waiter
// from the middle of the queue (Select cleanup) is O(1) given the node.
type waiterQueue struct {
	head, tail *WaiterToken
	len        int
}

func (q *waiterQueue) pushBack(w *WaiterToken) {
	w.next, w.prev = nil, q.tail
	if q.tail != nil {
		q.tail.next = w
	} else {
		q.head = w
	}
	q.tail = w
	q.len++
}

func (q *waiterQueue) popFront() *WaiterToken {
	w := q.head
	if w == nil {
		return nil
	}
	q.remove(w)
	return w
}

func (q *waiterQueue) remove(w *WaiterToken) {
	if w.prev != nil {
		w.prev.next = w.next
	} else {
		q.head = w.next
	}
	if w.next != nil {
		w.next.prev = w.prev
	} else {
		q.tail = w.prev
	}
	w.next, w.prev = nil, nil
	q.len--
}

func (q *waiterQueue) empty() bool { return q.head == nil }
