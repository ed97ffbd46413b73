package corowork

import (
	"sync"
	"unsafe"

	"go.uber.org/atomic"

	"github.com/corowork/corowork/internal/gopark"
)

// State is the Coroutine lifecycle state machine from spec.md §3:
//
//	Created -> Ready -> Running -> {Suspended | Parked} -> Ready -> ... -> Finished
type State int32

const (
	StateCreated State = iota
	StateReady
	StateRunning
	StateSuspended
	StateParked
	StateFinished
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "Created"
	case StateReady:
		return "Ready"
	case StateRunning:
		return "Running"
	case StateSuspended:
		return "Suspended"
	case StateParked:
		return "Parked"
	case StateFinished:
		return "Finished"
	default:
		return "Unknown"
	}
}

// DefaultStackSize is the default usable private-stack size (§3 Stack):
// 64 KiB. In this module a "private stack" is a parked goroutine's own
// growable stack (see internal/gopark doc comment); the value is retained
// for API parity and reported from Coroutine.StackSize.
const DefaultStackSize = 64 * 1024

var nextCoroutineID atomic.Uint64

// Coroutine is a suspended or runnable computation: a user-supplied
// function running on its own private stack, scheduled cooperatively.
type Coroutine struct {
	id    uint64
	label string

	state atomic.Int32

	fn  func(arg any)
	arg any

	g unsafe.Pointer // runtime *g once the backing goroutine has parked the first time

	// yieldTarget is resumed by Yield/Park; for a spawned coroutine this is
	// the worker's main coroutine bound at the most recent Resume.
	yieldTarget atomic.Pointer[Coroutine]

	sched  *Scheduler // nil for a bare coroutine with no scheduler attached
	worker *worker    // the worker currently driving this coroutine, if any

	stackSize uint64

	refcount    atomic.Int64
	immortal    bool
	retired     atomic.Bool
	startSignal chan struct{} // closed once the backing goroutine has parked for the first time

	// next/prev support intrusive linkage for ready-queue/deque membership.
	// Guarded by whichever queue currently owns the coroutine.
	next, prev *Coroutine
}

// ID returns the coroutine's monotonic identity; 0 is reserved for a
// worker's "main" coroutine.
func (c *Coroutine) ID() uint64 { return c.id }

// Label returns the optional debug label set at creation.
func (c *Coroutine) Label() string { return c.label }

// State returns the current lifecycle state.
func (c *Coroutine) State() State { return State(c.state.Load()) }

// StackSize reports the private stack size passed to Create (or
// DefaultStackSize), for diagnostics only.
func (c *Coroutine) StackSize() uint64 { return c.stackSize }

// Retain raises the refcount; every queue, waiter, or select holding a
// pointer to a Coroutine must call Retain before storing it and Release
// when done (spec.md §4.2 "Refcount & retire").
func (c *Coroutine) Retain() { c.refcount.Add(1) }

// Release lowers the refcount. If it reaches zero and the coroutine has
// already finished, it is left to its scheduler's retire queue for
// reclamation on the next sweep (or destroyed immediately if it was never
// scheduled).
func (c *Coroutine) Release() {
	if c.refcount.Add(-1) == 0 && c.State() == StateFinished && c.sched == nil {
		c.destroy()
	}
}

func (c *Coroutine) destroy() {
	if !c.retired.CompareAndSwap(false, true) {
		return
	}
	currentRegistry.Delete(c.g)
}

// Destroy drops the caller's base reference to co -- the one Create or
// CreateMain established with refcount 1 -- implementing spec.md §6's
// `destroy` coroutine operation. It does not itself free anything: once co
// has also reached Finished, dropping this reference may bring its
// refcount to zero, at which point the owning scheduler's retire queue
// (retire.go) reclaims it on its next sweep. Destroying a main coroutine
// (CreateMain) is a no-op, since a worker's main holds a permanent
// reference for the life of its thread (spec.md §3 "Lifecycle").
func Destroy(co *Coroutine) {
	if co == nil || co.immortal {
		return
	}
	co.Release()
	if co.sched != nil {
		co.sched.retireQueue.sweep()
	}
}

// current-coroutine registry: maps a runtime *g pointer to the Coroutine
// object that wraps it. This stands in for the spec's thread-local
// "current" pointer -- in this module a goroutine never migrates between
// Coroutine identities, so keying off the G pointer is equivalent to a
// true TLS slot, and is exposed only via the scoped Current() accessor per
// the Design Notes guidance against mutable globals.
var currentRegistry sync.Map // unsafe.Pointer -> *Coroutine

// Current returns the Coroutine wrapping the calling goroutine, or nil if
// the calling goroutine was never wrapped by CreateMain or Create.
func Current() *Coroutine {
	v, ok := currentRegistry.Load(gopark.G())
	if !ok {
		return nil
	}
	return v.(*Coroutine)
}

// CreateMain wraps the calling native goroutine as a coroutine with id 0,
// no private stack, and an immortal extra reference. Every worker thread
// calls this once, as does any caller that wants to Resume a coroutine
// from ordinary (non-coroutine) code.
func CreateMain() *Coroutine {
	c := &Coroutine{
		id:       0,
		label:    "main",
		g:        gopark.G(),
		immortal: true,
	}
	c.state.Store(int32(StateRunning))
	c.refcount.Store(1)
	currentRegistry.Store(c.g, c)
	return c
}

// Create allocates a coroutine running fn(arg) on its own stack. The
// coroutine starts in StateCreated and must be driven with Resume. Returns
// a coroutine with refcount 1, owned by the caller until scheduled or
// explicitly released.
func Create(fn func(arg any), arg any, stackSize uint64, label string) *Coroutine {
	if stackSize == 0 {
		stackSize = DefaultStackSize
	}
	c := &Coroutine{
		id:          nextCoroutineID.Add(1),
		label:       label,
		fn:          fn,
		arg:         arg,
		stackSize:   stackSize,
		startSignal: make(chan struct{}),
	}
	c.state.Store(int32(StateCreated))
	c.refcount.Store(1)

	go func() {
		// Park immediately: this is the "seed the register-save area so the
		// first resume lands in the trampoline" step from spec.md §4.2,
		// re-expressed as "park before doing anything, so the first Ready
		// from Resume is what starts real work".
		c.g = gopark.G()
		currentRegistry.Store(c.g, c)
		close(c.startSignal)
		gopark.Park()
		trampoline(c)
	}()
	<-c.startSignal

	return c
}

// trampoline is the single legal entry point for newly resumed
// coroutines (spec.md §4.2). It runs the user function and marks the
// coroutine Finished; any attempt to fall through past it is a
// programming error.
func trampoline(c *Coroutine) {
	c.state.Store(int32(StateRunning))
	func() {
		defer func() {
			if r := recover(); r != nil {
				// User panics finish the coroutine rather than crashing the
				// worker goroutine; this mirrors how ordinary goroutines are
				// expected to recover internally, and keeps one misbehaving
				// coroutine from taking down its worker.
				c.state.Store(int32(StateFinished))
			}
		}()
		c.fn(c.arg)
	}()
	c.state.Store(int32(StateFinished))

	if c.sched != nil {
		c.sched.retireQueue.push(c)
	}

	target := c.yieldTarget.Load()
	if target == nil {
		panic(ErrTrampolineReentered)
	}
	finishSwitch(c, target)
	// Unreachable: finishSwitch never returns to a Finished coroutine.
	panic(ErrTrampolineReentered)
}

// finishSwitch hands control to target and parks the (now finished)
// calling goroutine forever; it differs from switchTo only in that the
// caller's G is never going to be resumed again.
func finishSwitch(from, to *Coroutine) {
	gopark.Ready(to.g)
	gopark.Park()
}

// switchTo performs the spec.md §4.1 switch(from, to): ready the target,
// then park the caller. Control returns to the call site once some later
// switchTo (or finishSwitch) readies `from` again.
func switchTo(from, to *Coroutine) {
	gopark.Ready(to.g)
	gopark.Park()
}

// Resume drives co from Created, Ready or Suspended into Running, using the calling
// goroutine's own Coroutine (see Current) as the yield target. Resuming a
// Finished or nil coroutine is a no-op; calling Resume from a goroutine
// that was never wrapped by CreateMain or Create is a programmer error.
func Resume(co *Coroutine) {
	caller := Current()
	if caller == nil {
		return
	}
	resumeFrom(caller, co)
}

// resumeFrom is Resume with an explicit caller, used by the scheduler's
// worker loop where the caller (the worker's main) is already known and
// re-deriving it via Current on every dispatch would be wasted work.
func resumeFrom(caller, co *Coroutine) {
	if co == nil || co.State() == StateFinished {
		return
	}
	st := co.State()
	// Suspended is accepted here too: it is the state a coroutine leaves
	// itself in after a voluntary Yield, immediately resumable by whoever
	// it yielded to. Parked is deliberately excluded -- only Unpark (the
	// scheduler-aware Parked->Ready transition) may make a parked
	// coroutine resumable again.
	if st != StateCreated && st != StateReady && st != StateSuspended {
		return
	}

	co.yieldTarget.Store(caller)
	co.state.Store(int32(StateRunning))
	caller.state.Store(int32(StateSuspended))

	switchTo(caller, co)

	caller.state.Store(int32(StateRunning))
}

// Yield suspends the current coroutine and resumes its yield target (a
// worker's "main" in the common case). Equivalent to "resuming main" per
// spec.md §4.2.
func Yield() {
	self := Current()
	if self == nil {
		return
	}
	target := self.yieldTarget.Load()
	if target == nil {
		return
	}
	self.state.Store(int32(StateSuspended))
	target.state.Store(int32(StateRunning))
	switchTo(self, target)
	self.state.Store(int32(StateRunning))
}

// Park marks the current coroutine Parked and switches to its yield
// target. The parking party must arrange for Unpark to be called
// eventually, or this coroutine sleeps forever.
func Park() {
	self := Current()
	if self == nil {
		return
	}
	target := self.yieldTarget.Load()
	if target == nil {
		return
	}
	self.state.Store(int32(StateParked))
	target.state.Store(int32(StateRunning))
	switchTo(self, target)
	self.state.Store(int32(StateRunning))
}

// YieldTo suspends the current coroutine and resumes target directly,
// bypassing the scheduler (spec.md §6 `yield_to`): a symmetric coroutine
// transfer used by generator-style producer/consumer pairs that want to
// hand control to a specific peer rather than back to their worker's main.
// target becomes the caller's new yield target for the duration of this
// transfer; the previous target is restored once control returns here.
func YieldTo(target *Coroutine) {
	self := Current()
	if self == nil || target == nil {
		return
	}
	prevTarget := self.yieldTarget.Load()
	self.yieldTarget.Store(target)
	self.state.Store(int32(StateSuspended))
	target.state.Store(int32(StateRunning))
	switchTo(self, target)
	self.state.Store(int32(StateRunning))
	self.yieldTarget.Store(prevTarget)
}

// Unpark transitions a Parked coroutine to Ready and, if it is bound to a
// scheduler, re-enqueues it so a worker eventually resumes it.
func Unpark(co *Coroutine) {
	if co == nil {
		return
	}
	if !co.state.CompareAndSwap(int32(StateParked), int32(StateReady)) {
		return
	}
	if co.sched != nil {
		co.sched.enqueueUnparked(co)
	}
}
