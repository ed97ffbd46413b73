package corowork

import (
	"sync"
	"time"
	"unsafe"

	"github.com/google/uuid"
)

// Scope is a structured-concurrency container (spec.md §4.6): it owns a
// cancellation context chained to an optional parent token, tracks its
// children, and blocks on wait_all until they all complete.
type Scope struct {
	id    uuid.UUID
	tok   *CancelToken
	sched *Scheduler

	mu           sync.Mutex
	cond         *sync.Cond
	children     int
	shuttingDown bool
	actors       []*actorHandle

	logger *Logger
}

// ScopeInit creates a scope bound to sched, chaining its cancellation token
// to parentToken (nil for a root scope). sched defaults to Default().
func ScopeInit(sched *Scheduler, parentToken *CancelToken) *Scope {
	if sched == nil {
		sched = Default()
	}
	s := &Scope{
		id:     uuid.New(),
		tok:    NewCancelToken(parentToken),
		sched:  sched,
		logger: sched.logger,
	}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// Token returns the scope's cancellation token.
func (s *Scope) Token() *CancelToken { return s.tok }

// Launch spawns a coroutine running fn(arg), tracked as a child of this
// scope. Returns Cancelled (with a nil Coroutine) if the scope is already
// shutting down.
func (s *Scope) Launch(fn func(arg any), arg any, stackSize uint64) (*Coroutine, Result) {
	s.mu.Lock()
	if s.shuttingDown {
		s.mu.Unlock()
		return nil, ResultCancelled
	}
	s.children++
	s.mu.Unlock()

	co := s.sched.SpawnCo(func(a any) {
		defer s.childDone()
		fn(a)
	}, arg, stackSize, "scope-child")
	return co, ResultOk
}

func (s *Scope) childDone() {
	s.mu.Lock()
	s.children--
	if s.children == 0 {
		s.cond.Broadcast()
	}
	s.mu.Unlock()
}

// Produce creates a channel and spawns a producer coroutine running
// fn(ch, user); the channel is closed automatically when fn returns
// (spec.md §4.6 "Produce").
func (s *Scope) Produce(kind Kind, elemSize, capacity int, fn func(ch *Channel, user any), user any) (*Channel, Result) {
	ch := New(kind, elemSize, capacity, ChannelOptions{})
	_, res := s.Launch(func(any) {
		defer ch.Close()
		fn(ch, user)
	}, nil, DefaultStackSize)
	if res != ResultOk {
		return nil, res
	}
	return ch, ResultOk
}

// actorHandle tracks one Actor's completion state so Cancel can reach it
// and a later extension (e.g. per-actor wait) could observe it alongside
// ordinary children.
type actorHandle struct {
	mu       sync.Mutex
	done     bool
	onDone   func()
	cancelCh chan struct{}
}

// ActorFunc processes one received message, given a pointer to the
// elem_size-byte payload. Returning false stops the actor loop early
// (spec.md §9 Open Question 1: resolved as "bool return stops on false").
type ActorFunc func(msg unsafe.Pointer, user any) bool

// Actor starts a coroutine that receives from ch (whose element size must
// equal elemSize), invoking process for each message, until the channel
// closes, the scope cancels, or process returns false. onDone, if non-nil,
// is invoked exactly once outside any lock once the loop exits (spec.md
// §4.6 "Actor... signals done under a mutex and invokes an optional
// completion callback exactly once outside the lock").
func (s *Scope) Actor(ch *Channel, elemSize int, process ActorFunc, user any, onDone func()) (*Coroutine, Result) {
	h := &actorHandle{onDone: onDone, cancelCh: make(chan struct{})}

	s.mu.Lock()
	if s.shuttingDown {
		s.mu.Unlock()
		return nil, ResultCancelled
	}
	s.children++
	s.actors = append(s.actors, h)
	s.mu.Unlock()

	co := s.sched.SpawnCo(func(any) {
		defer s.childDone()
		defer h.finish()

		buf := make([]byte, elemSize)
		var bufPtr unsafe.Pointer
		if elemSize > 0 {
			bufPtr = unsafe.Pointer(&buf[0])
		}

		for {
			select {
			case <-h.cancelCh:
				return
			default:
			}
			if s.tok.Triggered() {
				return
			}
			res := ch.Recv(bufPtr, -1, s.tok)
			switch res {
			case ResultOk:
				if !process(bufPtr, user) {
					return
				}
				Yield()
			case ResultClosed, ResultCancelled:
				return
			default:
				return
			}
		}
	}, nil, DefaultStackSize, "scope-actor")

	return co, ResultOk
}

func (h *actorHandle) finish() {
	h.mu.Lock()
	if h.done {
		h.mu.Unlock()
		return
	}
	h.done = true
	cb := h.onDone
	h.mu.Unlock()
	if cb != nil {
		cb()
	}
}

func (h *actorHandle) cancel() {
	select {
	case <-h.cancelCh:
	default:
		close(h.cancelCh)
	}
}

// WaitAll blocks until every child (ordinary and actor) of this scope has
// completed, or timeoutMs elapses: 0 is an immediate check (Ok if already
// empty, WouldBlock otherwise), <0 waits indefinitely, >0 waits up to a
// deadline before reporting Deadline with children still outstanding.
func (s *Scope) WaitAll(timeoutMs int64) Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	if timeoutMs == 0 {
		if s.children == 0 {
			return ResultOk
		}
		return ResultWouldBlock
	}
	if timeoutMs < 0 {
		for s.children != 0 {
			s.cond.Wait()
		}
		return ResultOk
	}

	dl := deadlineFromTimeout(timeoutMs)
	for s.children != 0 {
		if dl.expired() {
			return ResultDeadline
		}
		// sync.Cond has no deadline-aware Wait; a timer wakes the cond once
		// the deadline elapses, mirroring Scheduler.Drain's bounded cv wait.
		remaining := time.Duration(dl.at-nowNanos()) * time.Nanosecond
		if remaining <= 0 {
			return ResultDeadline
		}
		timer := time.AfterFunc(remaining, func() {
			s.mu.Lock()
			s.cond.Broadcast()
			s.mu.Unlock()
		})
		s.cond.Wait()
		timer.Stop()
	}
	return ResultOk
}

// Cancel triggers the scope's token, marks it shutting down so further
// Launch/Produce/Actor calls are rejected, and explicitly cancels every
// actor child (spec.md §4.6 "Cancel").
func (s *Scope) Cancel() {
	s.tok.Trigger()
	s.mu.Lock()
	s.shuttingDown = true
	actors := s.actors
	s.mu.Unlock()
	for _, h := range actors {
		h.cancel()
	}
}

// Destroy releases the scope. Destroying a scope with live children is a
// programmer error surfaced as ErrScopeDestroyedWithChildren; call WaitAll
// first.
func (s *Scope) Destroy() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.children != 0 {
		return ErrScopeDestroyedWithChildren
	}
	return nil
}
