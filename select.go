package corowork

import (
	"context"
	"time"
	"unsafe"

	"github.com/corowork/corowork/metrics"
)

// clauseOp distinguishes a Select clause's direction.
type clauseOp int8

const (
	clauseSend clauseOp = iota
	clauseRecv
)

// clause is one arm of a Select: a channel plus the buffer to send from or
// receive into.
type clause struct {
	ch  *Channel
	op  clauseOp
	buf unsafe.Pointer
	w   *WaiterToken // non-nil once registered with ch during Wait
}

// Select is a multi-clause wait over several channels at once (spec.md
// §4.5). A Select is reusable: Reset clears registered clauses so the same
// Select value can drive a loop without reallocating.
type Select struct {
	tok     *CancelToken
	clauses []clause

	rotate bool
	start  int

	winner int // index of the clause that completed, or -1

	instruments metrics.Instruments
}

// Create allocates a Select bound to an optional cancellation token.
func Create(tok *CancelToken) *Select {
	return &Select{winner: -1, tok: tok, instruments: metrics.NewInstruments(metrics.NewNoopProvider())}
}

// WithMetrics attaches the given scheduler's instrument set, so this
// Select's resolutions are reported alongside its steal/parking counters.
func (s *Select) WithMetrics(sched *Scheduler) *Select {
	if sched != nil {
		s.instruments = sched.instruments
	}
	return s
}

// WithRotatingStart makes successive Wait calls probe clauses starting from
// a rotating offset rather than always index 0, avoiding starvation of
// later clauses under sustained contention on earlier ones (SPEC_FULL.md
// §4.5 expansion).
func (s *Select) WithRotatingStart() *Select {
	s.rotate = true
	return s
}

// AddSend registers a send clause: if this Select wins on this clause, buf's
// contents are sent.
func (s *Select) AddSend(ch *Channel, buf unsafe.Pointer) int {
	s.clauses = append(s.clauses, clause{ch: ch, op: clauseSend, buf: buf})
	return len(s.clauses) - 1
}

// AddRecv registers a receive clause: if this Select wins on this clause,
// the received value is written into buf.
func (s *Select) AddRecv(ch *Channel, buf unsafe.Pointer) int {
	s.clauses = append(s.clauses, clause{ch: ch, op: clauseRecv, buf: buf})
	return len(s.clauses) - 1
}

// Reset clears all registered clauses so the Select can be reused.
func (s *Select) Reset() {
	s.clauses = s.clauses[:0]
	s.winner = -1
}

// Destroy is a documentation no-op; see CancelToken.Destroy.
func (s *Select) Destroy() {}

// Wait implements spec.md §4.5's probe-then-register-then-block algorithm:
// a biased immediate pass over every clause, then a registration pass that
// plants a WaiterToken on every clause simultaneously, then a cooperative
// block until exactly one clause's token is claimed, then cleanup of every
// other registration.
func (s *Select) Wait(timeoutMs int64) (int, Result) {
	started := nowNanos()
	idx, res := s.wait(timeoutMs)
	if res == ResultOk {
		s.instruments.SelectResolved.Add(1)
		s.instruments.SelectDuration.Record(time.Duration(nowNanos() - started).Seconds())
	}
	return idx, res
}

func (s *Select) wait(timeoutMs int64) (int, Result) {
	n := len(s.clauses)
	if n == 0 {
		return -1, ResultInvalidArgument
	}

	offset := 0
	if s.rotate {
		offset = s.start
		s.start = (s.start + 1) % n
	}

	// Probe pass: try each clause non-blockingly first, starting at offset
	// (always 0 unless WithRotatingStart is set, which rotates it so no
	// single clause starves under sustained load).
	for i := 0; i < n; i++ {
		idx := (offset + i) % n
		if res, ok := s.tryClause(idx); ok {
			s.winner = idx
			return idx, res
		}
	}

	if timeoutMs == 0 {
		return -1, ResultWouldBlock
	}

	// Register pass: plant a waiter on every clause. Registration order
	// matches probe order so a racing peer sees the same bias.
	self := Current()
	for i := 0; i < n; i++ {
		idx := (offset + i) % n
		s.registerClause(idx, self)
	}

	dl := deadlineFromTimeout(timeoutMs)
	winner, res := s.blockUntilClaimed(dl)

	s.cleanupExcept(winner)
	s.winner = winner
	return winner, res
}

// tryClause attempts an immediate, non-blocking completion of clause idx.
func (s *Select) tryClause(idx int) (Result, bool) {
	c := &s.clauses[idx]
	var res Result
	if c.op == clauseSend {
		res = c.ch.TrySend(c.buf)
	} else {
		res = c.ch.TryRecv(c.buf)
	}
	switch res {
	case ResultOk, ResultClosed:
		return res, true
	default:
		return res, false
	}
}

func (s *Select) registerClause(idx int, self *Coroutine) {
	c := &s.clauses[idx]
	w := newWaiterToken(self, c.buf)
	w.sel = s
	w.clauseIdx = idx
	c.w = w

	ch := c.ch
	ch.mu.Lock()
	if ch.closed.Load() {
		ch.mu.Unlock()
		w.release()
		c.w = nil
		return
	}
	var peer *WaiterToken
	if c.op == clauseSend {
		peer = ch.waitR.popFront()
	} else {
		peer = ch.waitS.popFront()
	}
	if peer != nil && peer.claim() {
		if c.op == clauseSend {
			copyElem(peer.buf, c.buf, ch.elemSize)
		} else {
			copyElem(c.buf, peer.buf, ch.elemSize)
		}
		w.status.Store(int32(waiterClaimed))
		ch.mu.Unlock()
		now := nowNanos()
		ch.recordSend(now)
		ch.recordRecv(now)
		peer.release()
		wakeReceiver(peer.owner)
		return
	}
	// Ring fast path, mirroring Channel.send*/recv* without the parking
	// branch (a Select registration never blocks here; it only ever plants
	// a waiter).
	if c.op == clauseSend {
		switch ch.kind {
		case KindBuffered:
			if ch.ringPush(copyToHeap(c.buf, ch.elemSize)) {
				w.status.Store(int32(waiterClaimed))
				ch.mu.Unlock()
				ch.recordSend(nowNanos())
				return
			}
		case KindConflated:
			if ch.ringLn > 0 {
				ch.counters.dropped.Add(1)
			}
			ch.ring[0] = copyToHeap(c.buf, ch.elemSize)
			ch.ringLn = 1
			w.status.Store(int32(waiterClaimed))
			ch.mu.Unlock()
			ch.recordSend(nowNanos())
			return
		case KindUnlimited:
			if capN := ch.opts.MaxUnboundedLen; capN == 0 || len(ch.ring) < capN {
				ch.ring = append(ch.ring, copyToHeap(c.buf, ch.elemSize))
				w.status.Store(int32(waiterClaimed))
				ch.mu.Unlock()
				ch.recordSend(nowNanos())
				return
			}
		}
	}
	if c.op == clauseRecv {
		if v, ok := ch.ringPop(); ok {
			copyElem(c.buf, v, ch.elemSize)
			w.status.Store(int32(waiterClaimed))
			ch.mu.Unlock()
			ch.recordRecv(nowNanos())
			return
		}
	}
	w.markEnqueued()
	if c.op == clauseSend {
		ch.waitS.pushBack(w)
	} else {
		ch.waitR.pushBack(w)
	}
	ch.mu.Unlock()
}

// blockUntilClaimed waits until exactly one registered clause's waiter is
// claimed, cancelled by tok, or dl expires. Mirrors Channel.blockWait's
// hard-park-vs-cooperative-yield-loop split.
func (s *Select) blockUntilClaimed(dl deadline) (int, Result) {
	hardPark := s.tok == nil && !dl.active
	for {
		if idx, res, ok := s.pollClauses(); ok {
			return idx, res
		}
		if hardPark {
			Park()
			continue
		}
		cancelled, expired := pollSuspension(s.tok, dl)
		if cancelled {
			return -1, ResultCancelled
		}
		if expired {
			return -1, ResultDeadline
		}
		Yield()
	}
}

func (s *Select) pollClauses() (int, Result, bool) {
	for i := range s.clauses {
		c := &s.clauses[i]
		if c.w == nil {
			continue
		}
		switch c.w.Status() {
		case waiterClaimed:
			return i, ResultOk, true
		}
		if c.ch.IsClosed() && c.w.Status() == waiterEnqueued {
			c.ch.mu.Lock()
			removed := c.w.cancel()
			if removed {
				if c.op == clauseSend {
					c.ch.waitS.remove(c.w)
				} else {
					c.ch.waitR.remove(c.w)
				}
			}
			c.ch.mu.Unlock()
			if removed {
				return i, ResultClosed, true
			}
			return i, ResultOk, true // raced with a claim; treat as won
		}
	}
	return -1, ResultOk, false
}

// cleanupExcept cancels and removes every clause registration other than
// the winner (or all of them, if winner < 0).
func (s *Select) cleanupExcept(winner int) {
	for i := range s.clauses {
		if i == winner {
			continue
		}
		c := &s.clauses[i]
		if c.w == nil {
			continue
		}
		ch := c.ch
		ch.mu.Lock()
		if c.w.cancel() {
			if c.op == clauseSend {
				ch.waitS.remove(c.w)
			} else {
				ch.waitR.remove(c.w)
			}
			ch.mu.Unlock()
			c.w.release()
		} else {
			// claimed after all: this clause also completed (e.g. two peers
			// raced in); data was already delivered into c.buf, but since
			// Select reports a single winner, undo is not possible for a
			// send clause. This can only happen for a recv clause claimed by
			// a racing direct-hand-off, which is harmless: the value sits in
			// c.buf unused. Nothing is logged.
			ch.mu.Unlock()
			c.w.release()
		}
		c.w = nil
	}
	if winner >= 0 {
		w := s.clauses[winner].w
		s.clauses[winner].w = nil
		if w != nil {
			w.release()
		}
	}
}

// WaitCtx adapts Wait to a context.Context deadline/cancellation, for
// callers in the expanded SPEC_FULL.md §7 surface that prefer
// context.Context over raw millisecond timeouts. A cancelled or
// deadline-exceeded ctx is equivalent to a CancelToken firing; WaitCtx
// temporarily substitutes its own derived token for the Select's
// configured one for the duration of this call.
func (s *Select) WaitCtx(ctx context.Context) (int, Result) {
	timeoutMs, tok := ctxToTimeout(ctx)
	prev := s.tok
	s.tok = tok
	defer func() { s.tok = prev }()
	return s.Wait(timeoutMs)
}
