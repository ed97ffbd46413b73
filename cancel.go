package corowork

import (
	"context"
	"sync"
	"time"

	"go.uber.org/atomic"

	"github.com/corowork/corowork/internal/gopark"
)

// CancelToken is a shared atomic cancellation trigger (spec.md §4.7).
// Tokens may be chained: triggering a parent triggers every child
// transitively.
type CancelToken struct {
	triggered atomic.Bool

	mu       sync.Mutex
	children []*CancelToken
	parent   *CancelToken
}

// NewCancelToken creates a cancellation token, optionally chained to a
// parent: triggering the parent triggers this token too.
func NewCancelToken(parent *CancelToken) *CancelToken {
	t := &CancelToken{parent: parent}
	if parent != nil {
		parent.mu.Lock()
		parent.children = append(parent.children, t)
		alreadyTriggered := parent.triggered.Load()
		parent.mu.Unlock()
		if alreadyTriggered {
			t.Trigger()
		}
	}
	return t
}

// Trigger sets the token, and every descendant chained to it. All waiters
// that observe it at a suspension point return Cancelled.
func (t *CancelToken) Trigger() {
	if !t.triggered.CompareAndSwap(false, true) {
		return
	}
	t.mu.Lock()
	children := t.children
	t.mu.Unlock()
	for _, c := range children {
		c.Trigger()
	}
}

// Triggered reports whether this token (or any ancestor) has fired.
func (t *CancelToken) Triggered() bool {
	return t.triggered.Load()
}

// Destroy is a documentation no-op retained for API parity with spec.md
// §6 (`cancel_destroy`): Go's GC reclaims the token once unreferenced, and
// chained children keep their own independent lifetime.
func (t *CancelToken) Destroy() {}

// AsContext adapts the token to a context.Context for callers that prefer
// the standard library's cancellation idiom (expansion, SPEC_FULL.md §7).
// It is a pure adapter: cancelling the returned context does not trigger
// the token (tokens are triggered explicitly via Trigger), but triggering
// the token does cancel the context.
func (t *CancelToken) AsContext(parent context.Context) context.Context {
	ctx, cancel := context.WithCancel(parent)
	if t.Triggered() {
		cancel()
		return ctx
	}
	go func() {
		for !t.Triggered() {
			select {
			case <-ctx.Done():
				return
			default:
				gopark.Gosched()
			}
		}
		cancel()
	}()
	return ctx
}

// deadline is an absolute monotonic timestamp (nanoseconds, per
// internal/gopark.Nanotime) derived from a bounded timeout as early as
// possible, per spec.md §4.7, so retries and yields never extend the wait.
type deadline struct {
	at     int64
	active bool
}

// deadlineFromTimeout converts the three timeout regimes from spec.md §4.4
// into a deadline value. timeoutMs == 0 means "try" (handled by the caller
// before ever constructing a deadline); timeoutMs < 0 means infinite
// (active=false); timeoutMs > 0 is bounded.
func deadlineFromTimeout(timeoutMs int64) deadline {
	if timeoutMs < 0 {
		return deadline{active: false}
	}
	return deadline{at: gopark.Nanotime() + timeoutMs*int64(time.Millisecond), active: true}
}

func (d deadline) expired() bool {
	return d.active && gopark.Nanotime() >= d.at
}

// pollSuspension is the single polling helper the Design Notes call for:
// "a single polling helper at every suspension point that checks
// token-then-deadline-then-wait, so precedence is consistent." It is
// called in a cooperative spin/yield loop by Channel ops and Select.wait;
// cancellation always wins over a deadline expiring in the same poll.
func pollSuspension(tok *CancelToken, d deadline) (cancelled, timedOut bool) {
	if tok != nil && tok.Triggered() {
		return true, false
	}
	if d.expired() {
		return false, true
	}
	return false, false
}
