package corowork

import "unsafe"

// Send performs a send with the timeout regimes from spec.md §4.4:
// timeoutMs == 0 is a non-blocking "try", < 0 parks until progress/close/
// cancellation, > 0 parks with a monotonic deadline. tok may be nil.
func (c *Channel) Send(buf unsafe.Pointer, timeoutMs int64, tok *CancelToken) Result {
	switch c.kind {
	case KindRendezvous:
		return c.sendRendezvous(buf, timeoutMs, tok)
	case KindBuffered:
		return c.sendBuffered(buf, timeoutMs, tok)
	case KindConflated:
		return c.sendConflated(buf)
	case KindUnlimited:
		return c.sendUnlimited(buf)
	default:
		return ResultInvalidArgument
	}
}

// Recv performs a receive with the same timeout regimes as Send.
func (c *Channel) Recv(buf unsafe.Pointer, timeoutMs int64, tok *CancelToken) Result {
	switch c.kind {
	case KindRendezvous:
		return c.recvRendezvous(buf, timeoutMs, tok)
	default:
		return c.recvBuffered(buf, timeoutMs, tok) // buffered/conflated/unlimited share receive logic
	}
}

// TrySend/TryRecv are Send/Recv with timeoutMs == 0.
func (c *Channel) TrySend(buf unsafe.Pointer) Result { return c.Send(buf, 0, nil) }
func (c *Channel) TryRecv(buf unsafe.Pointer) Result { return c.Recv(buf, 0, nil) }

// --- rendezvous -------------------------------------------------------

func (c *Channel) sendRendezvous(buf unsafe.Pointer, timeoutMs int64, tok *CancelToken) Result {
	now := nowNanos()
	c.mu.Lock()
	if c.closed.Load() {
		c.mu.Unlock()
		c.counters.failClosed.Add(1)
		return ResultClosed
	}
	if r := c.waitR.popFront(); r != nil {
		if r.claim() {
			copyElem(r.buf, buf, c.elemSize)
			c.mu.Unlock()
			c.recordSend(now)
			c.recordRecv(now)
			r.release()
			wakeReceiver(r.owner)
			return ResultOk
		}
		// Should not happen: all claims on this channel's waiters happen
		// under c.mu. Defensive fallthrough treats it as "no receiver".
	}
	if timeoutMs == 0 {
		c.mu.Unlock()
		c.counters.failWouldBlock.Add(1)
		return ResultWouldBlock
	}
	self := Current()
	w := newWaiterToken(self, buf)
	w.markEnqueued()
	c.waitS.pushBack(w)
	c.mu.Unlock()

	res := c.blockWait(w, &c.waitS, tok, deadlineFromTimeout(timeoutMs))
	if res == ResultOk {
		c.recordSend(now)
		c.recordRecv(now)
	} else {
		c.recordFailure(res)
	}
	return res
}

func (c *Channel) recvRendezvous(buf unsafe.Pointer, timeoutMs int64, tok *CancelToken) Result {
	c.mu.Lock()
	if s := c.waitS.popFront(); s != nil {
		if s.claim() {
			copyElem(buf, s.buf, c.elemSize)
			c.mu.Unlock()
			now := nowNanos()
			c.recordSend(now)
			c.recordRecv(now)
			s.release()
			wakeReceiver(s.owner)
			return ResultOk
		}
	}
	if c.closed.Load() {
		c.mu.Unlock()
		c.counters.failClosed.Add(1)
		return ResultClosed
	}
	if timeoutMs == 0 {
		c.mu.Unlock()
		c.counters.failWouldBlock.Add(1)
		return ResultWouldBlock
	}
	self := Current()
	w := newWaiterToken(self, buf)
	w.markEnqueued()
	c.waitR.pushBack(w)
	c.mu.Unlock()

	res := c.blockWait(w, &c.waitR, tok, deadlineFromTimeout(timeoutMs))
	if res == ResultOk {
		now := nowNanos()
		c.recordRecv(now)
	} else if res == ResultClosed {
		c.counters.failClosed.Add(1)
	} else {
		c.recordFailure(res)
	}
	return res
}

// --- buffered / conflated / unlimited -----------------------------------

func (c *Channel) sendBuffered(buf unsafe.Pointer, timeoutMs int64, tok *CancelToken) Result {
	now := nowNanos()
	c.mu.Lock()
	if c.closed.Load() {
		c.mu.Unlock()
		c.counters.failClosed.Add(1)
		return ResultClosed
	}
	// direct hand-off fast path: a parked receiver gets the value without
	// touching the ring (spec.md §4.4.2).
	if r := c.waitR.popFront(); r != nil {
		if r.claim() {
			copyElem(r.buf, buf, c.elemSize)
			c.mu.Unlock()
			c.recordSend(now)
			c.recordRecv(now)
			r.release()
			wakeReceiver(r.owner)
			return ResultOk
		}
	}
	if c.ringPush(copyToHeap(buf, c.elemSize)) {
		c.mu.Unlock()
		c.recordSend(now)
		return ResultOk
	}
	if timeoutMs == 0 {
		c.mu.Unlock()
		c.counters.failWouldBlock.Add(1)
		return ResultWouldBlock
	}
	self := Current()
	w := newWaiterToken(self, buf)
	w.markEnqueued()
	c.waitS.pushBack(w)
	c.mu.Unlock()

	res := c.blockWait(w, &c.waitS, tok, deadlineFromTimeout(timeoutMs))
	if res == ResultOk {
		c.recordSend(now)
	} else {
		c.recordFailure(res)
	}
	return res
}

func (c *Channel) sendConflated(buf unsafe.Pointer) Result {
	now := nowNanos()
	c.mu.Lock()
	if c.closed.Load() {
		c.mu.Unlock()
		c.counters.failClosed.Add(1)
		return ResultClosed
	}
	if r := c.waitR.popFront(); r != nil {
		if r.claim() {
			copyElem(r.buf, buf, c.elemSize)
			c.mu.Unlock()
			c.recordSend(now)
			c.recordRecv(now)
			r.release()
			wakeReceiver(r.owner)
			return ResultOk
		}
	}
	if c.ringLn > 0 {
		c.counters.dropped.Add(1)
	}
	c.ring[0] = copyToHeap(buf, c.elemSize)
	c.ringLn = 1
	c.mu.Unlock()
	c.recordSend(now)
	return ResultOk
}

func (c *Channel) sendUnlimited(buf unsafe.Pointer) Result {
	now := nowNanos()
	c.mu.Lock()
	if c.closed.Load() {
		c.mu.Unlock()
		c.counters.failClosed.Add(1)
		return ResultClosed
	}
	if r := c.waitR.popFront(); r != nil {
		if r.claim() {
			copyElem(r.buf, buf, c.elemSize)
			c.mu.Unlock()
			c.recordSend(now)
			c.recordRecv(now)
			r.release()
			wakeReceiver(r.owner)
			return ResultOk
		}
	}
	if cap := c.opts.MaxUnboundedLen; cap > 0 && len(c.ring) >= cap {
		c.mu.Unlock()
		c.counters.failWouldBlock.Add(1) // soft cap: see SPEC_FULL.md open question 4
		return ResultNoMemory
	}
	c.ring = append(c.ring, copyToHeap(buf, c.elemSize))
	c.mu.Unlock()
	c.recordSend(now)
	return ResultOk
}

// recvBuffered is the shared receive path for Buffered, Conflated, and
// Unlimited: dequeue from the ring if present, else park a receiver.
func (c *Channel) recvBuffered(buf unsafe.Pointer, timeoutMs int64, tok *CancelToken) Result {
	c.mu.Lock()
	if v, ok := c.ringPop(); ok {
		copyElem(buf, v, c.elemSize)
		var wakeS *WaiterToken
		if c.kind == KindBuffered {
			if s := c.waitS.popFront(); s != nil && s.claim() {
				c.ringPush(copyToHeap(s.buf, c.elemSize))
				wakeS = s
			}
		}
		c.mu.Unlock()
		now := nowNanos()
		c.recordRecv(now)
		if wakeS != nil {
			c.recordSend(now)
			wakeS.release()
			wakeReceiver(wakeS.owner)
		}
		return ResultOk
	}
	if c.closed.Load() {
		c.mu.Unlock()
		c.counters.failClosed.Add(1)
		return ResultClosed
	}
	if timeoutMs == 0 {
		c.mu.Unlock()
		c.counters.failWouldBlock.Add(1)
		return ResultWouldBlock
	}
	self := Current()
	w := newWaiterToken(self, buf)
	w.markEnqueued()
	c.waitR.pushBack(w)
	c.mu.Unlock()

	res := c.blockWait(w, &c.waitR, tok, deadlineFromTimeout(timeoutMs))
	if res == ResultOk {
		now := nowNanos()
		c.recordRecv(now)
	} else if res == ResultClosed {
		c.counters.failClosed.Add(1)
	} else {
		c.recordFailure(res)
	}
	return res
}

// --- shared blocking/claim machinery ------------------------------------

func (c *Channel) recordFailure(res Result) {
	switch res {
	case ResultDeadline:
		c.counters.failDeadline.Add(1)
	case ResultCancelled:
		c.counters.failCancelled.Add(1)
	case ResultClosed:
		c.counters.failClosed.Add(1)
	}
}

// blockWait is the common "park then wait for a claim" loop shared by all
// four channel kinds, implementing spec.md §4.5 step 4's block discipline
// uniformly for channel sends/receives too (Design Notes: "a single
// polling helper at every suspension point").
func (c *Channel) blockWait(w *WaiterToken, q *waiterQueue, tok *CancelToken, dl deadline) Result {
	if tok == nil && !dl.active {
		for {
			Park()
			switch w.Status() {
			case waiterClaimed:
				return ResultOk
			case waiterCancelled:
				return ResultClosed
			}
			// spurious wake (e.g. Close() released us with Closed semantics
			// without a claim): re-check closed state directly.
			if c.IsClosed() && w.Status() == waiterEnqueued {
				c.mu.Lock()
				removed := w.cancel()
				if removed {
					q.remove(w)
				}
				c.mu.Unlock()
				w.release()
				if removed {
					return ResultClosed
				}
				return ResultOk
			}
		}
	}
	for {
		if w.Status() == waiterClaimed {
			w.release()
			return ResultOk
		}
		if c.IsClosed() && c.tryRemoveWaiter(w, q) {
			return ResultClosed
		}
		cancelled, expired := pollSuspension(tok, dl)
		if cancelled {
			if c.tryRemoveWaiter(w, q) {
				return ResultCancelled
			}
			w.release()
			return ResultOk // lost the race: claimed just before the cancel landed
		}
		if expired {
			if c.tryRemoveWaiter(w, q) {
				return ResultDeadline
			}
			w.release()
			return ResultOk
		}
		Yield()
	}
}

func (c *Channel) tryRemoveWaiter(w *WaiterToken, q *waiterQueue) bool {
	c.mu.Lock()
	ok := w.cancel()
	if ok {
		q.remove(w)
	}
	c.mu.Unlock()
	return ok
}

// --- ring helpers --------------------------------------------------------

func (c *Channel) ringPush(v unsafe.Pointer) bool {
	switch c.kind {
	case KindBuffered:
		if c.ringLn == c.capacity {
			return false
		}
		c.ring[(c.ringHd+c.ringLn)%c.capacity] = v
		c.ringLn++
		return true
	default:
		return false
	}
}

func (c *Channel) ringPop() (unsafe.Pointer, bool) {
	switch c.kind {
	case KindBuffered:
		if c.ringLn == 0 {
			return nil, false
		}
		v := c.ring[c.ringHd]
		c.ring[c.ringHd] = nil
		c.ringHd = (c.ringHd + 1) % c.capacity
		c.ringLn--
		return v, true
	case KindConflated:
		if c.ringLn == 0 {
			return nil, false
		}
		v := c.ring[0]
		c.ring[0] = nil
		c.ringLn = 0
		return v, true
	case KindUnlimited:
		if len(c.ring) == 0 {
			return nil, false
		}
		v := c.ring[0]
		c.ring = c.ring[1:]
		return v, true
	default:
		return nil, false
	}
}

// copyElem and copyToHeap move raw bytes between caller-supplied buffers
// and internal ring storage. Callers always pass a pointer to a value of
// the channel's element type; Typed[T] (typed.go) is the recommended
// generic entry point that guarantees this.
func copyElem(dst, src unsafe.Pointer, elemSize int) {
	if dst == nil || src == nil || elemSize <= 0 {
		return
	}
	dstSlice := unsafe.Slice((*byte)(dst), elemSize)
	srcSlice := unsafe.Slice((*byte)(src), elemSize)
	copy(dstSlice, srcSlice)
}

func copyToHeap(src unsafe.Pointer, elemSize int) unsafe.Pointer {
	buf := make([]byte, elemSize)
	if elemSize > 0 && src != nil {
		copy(buf, unsafe.Slice((*byte)(src), elemSize))
	}
	if elemSize == 0 {
		return nil
	}
	return unsafe.Pointer(&buf[0])
}
