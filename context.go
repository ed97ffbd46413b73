package corowork

import (
	"context"
	"time"
	"unsafe"
)

// SendCtx adapts Send to a context.Context deadline/cancellation, for
// callers integrating with ordinary Go code that already threads a
// context.Context (SPEC_FULL.md §7 "Context integration"). It is a pure
// adapter over CancelToken/deadline; core semantics are unchanged.
func (c *Channel) SendCtx(ctx context.Context, buf unsafe.Pointer) Result {
	timeoutMs, tok := ctxToTimeout(ctx)
	return c.Send(buf, timeoutMs, tok)
}

// RecvCtx is the receive-side counterpart of SendCtx.
func (c *Channel) RecvCtx(ctx context.Context, buf unsafe.Pointer) Result {
	timeoutMs, tok := ctxToTimeout(ctx)
	return c.Recv(buf, timeoutMs, tok)
}

// ctxToTimeout converts a context.Context's deadline into the timeoutMs
// convention Send/Recv/Wait already use, and wraps ctx.Done() in a
// CancelToken that fires whenever the context is done, including when its
// deadline passes; an expired deadline therefore surfaces as Deadline or
// Cancelled depending on which the wait observes first.
func ctxToTimeout(ctx context.Context) (int64, *CancelToken) {
	var timeoutMs int64 = -1
	if dl, ok := ctx.Deadline(); ok {
		remaining := time.Until(dl)
		if remaining <= 0 {
			timeoutMs = 0
		} else {
			timeoutMs = remaining.Milliseconds()
			if timeoutMs == 0 {
				timeoutMs = 1 // round up: an expired-looking but still-live deadline must not become "try"
			}
		}
	}
	tok := NewCancelToken(nil)
	if ctx.Err() != nil {
		tok.Trigger()
	} else {
		go func() {
			<-ctx.Done()
			tok.Trigger()
		}()
	}
	return timeoutMs, tok
}
