package corowork

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/atomic"
	"go.uber.org/automaxprocs/maxprocs"
	"golang.org/x/sync/semaphore"

	"github.com/corowork/corowork/internal/gopark"
	"github.com/corowork/corowork/metrics"
)

// OverflowPolicy decides what happens when the scheduler's inject queue is
// at capacity (Design Notes §9: "bound the inject queue... expose an
// overflow policy (suspend the submitter vs. drop-newest vs. drop-oldest)
// with per-policy counters").
type OverflowPolicy int

const (
	// OverflowSuspend blocks the submitting goroutine (via a weighted
	// semaphore) until room is available. The default.
	OverflowSuspend OverflowPolicy = iota
	// OverflowDropNewest silently discards the coroutine being submitted.
	OverflowDropNewest
	// OverflowDropOldest evicts the oldest queued coroutine to make room.
	OverflowDropOldest
)

// Options configures a Scheduler. Zero values pick the documented
// defaults.
type Options struct {
	// Workers is the number of worker threads. 0 defaults to
	// runtime.GOMAXPROCS(0), first giving go.uber.org/automaxprocs a chance
	// to set GOMAXPROCS from the cgroup CPU quota.
	Workers int
	// InjectCapacity bounds the shared inject queue. 0 defaults to 4096.
	InjectCapacity int
	// OverflowPolicy governs behavior once InjectCapacity is reached.
	OverflowPolicy OverflowPolicy
	// StealScanMax bounds victim probes per steal attempt. 0 defaults to 4.
	StealScanMax int
	// Logger receives scheduler lifecycle events. Defaults to defaultLogger.
	Logger *Logger
	// Metrics supplies the counter/histogram instruments reported by the
	// scheduler and its selects. Defaults to metrics.NewNoopProvider().
	Metrics metrics.Provider
}

var automaxprocsOnce sync.Once

func (o Options) withDefaults() Options {
	if o.Workers <= 0 {
		automaxprocsOnce.Do(func() {
			_, _ = maxprocs.Set()
		})
		o.Workers = effectiveGOMAXPROCS()
		if o.Workers < 1 {
			o.Workers = 1
		}
	}
	if o.InjectCapacity <= 0 {
		o.InjectCapacity = 4096
	}
	if o.StealScanMax <= 0 {
		o.StealScanMax = 4
	}
	if o.Logger == nil {
		o.Logger = defaultLogger
	}
	if o.Metrics == nil {
		o.Metrics = metrics.NewNoopProvider()
	}
	return o
}

// worker is one OS-backed goroutine running coroutines cooperatively: its
// own "main" coroutine, a local deque, and a single-slot fastpath handoff.
type worker struct {
	idx      int
	sched    *Scheduler
	main     *Coroutine
	deque    localDeque
	fastpath atomic.Pointer[Coroutine]

	parkMu   sync.Mutex
	parkCond *sync.Cond
	parked   atomic.Bool
}

// Scheduler is the work-stealing M:N runtime described in spec.md §4.3.
type Scheduler struct {
	id      uuid.UUID
	opts    Options
	workers []*worker

	injectMu  sync.Mutex
	inject    []*Coroutine
	injectSem *semaphore.Weighted

	globalMu sync.Mutex
	global   []*Coroutine

	pending      atomic.Int64 // spawned, not yet Finished
	shuttingDown atomic.Bool
	drainCond    *sync.Cond
	drainMu      sync.Mutex

	retireQueue retireQueue
	logger      *Logger
	instruments metrics.Instruments

	droppedNewest atomic.Int64
	droppedOldest atomic.Int64
}

var defaultScheduler = sync.OnceValue(func() *Scheduler { return NewScheduler(Options{}) })

// Default returns a process-wide lazily-initialized Scheduler.
func Default() *Scheduler { return defaultScheduler() }

// NewScheduler creates and starts a Scheduler with the given options.
func NewScheduler(opts Options) *Scheduler {
	opts = opts.withDefaults()
	s := &Scheduler{
		id:        uuid.New(),
		opts:      opts,
		injectSem:   semaphore.NewWeighted(int64(opts.InjectCapacity)),
		logger:      opts.Logger,
		instruments: metrics.NewInstruments(opts.Metrics),
	}
	s.drainCond = sync.NewCond(&s.drainMu)

	s.workers = make([]*worker, opts.Workers)
	for i := range s.workers {
		w := &worker{idx: i, sched: s}
		w.parkCond = sync.NewCond(&w.parkMu)
		s.workers[i] = w
		go w.loop()
	}

	s.logger.Info().Str("scheduler", s.id.String()).Int("workers", opts.Workers).Log("scheduler started")
	return s
}

func (w *worker) loop() {
	w.main = CreateMain()
	for {
		co := w.dequeueOne()
		if co == nil {
			if w.sched.shuttingDown.Load() {
				return
			}
			w.parkWorker()
			continue
		}
		co.worker = w
		resumeFrom(w.main, co)
		switch co.State() {
		case StateFinished:
			w.sched.afterResume(co)
		case StateSuspended:
			// A voluntary Yield (as opposed to Park, which waits for an
			// explicit Unpark): immediately resumable, so it goes straight
			// back onto this worker's own deque rather than sitting idle.
			co.state.CompareAndSwap(int32(StateSuspended), int32(StateReady))
			w.deque.pushBottom(co)
		}
	}
}

func (w *worker) dequeueOne() *Coroutine {
	if co := w.fastpath.Swap(nil); co != nil {
		return co
	}
	if co := w.deque.popBottom(); co != nil {
		return co
	}
	if co := w.sched.popInject(); co != nil {
		return co
	}
	if co := w.sched.popGlobal(); co != nil {
		return co
	}
	return w.steal()
}

func (w *worker) steal() *Coroutine {
	n := len(w.sched.workers)
	if n <= 1 {
		return nil
	}
	scan := w.sched.opts.StealScanMax
	start := int(gopark.Fastrand()) % n
	for i := 0; i < scan && i < n; i++ {
		victimIdx := (start + i) % n
		victim := w.sched.workers[victimIdx]
		if victim == w {
			continue
		}
		w.sched.instruments.StealAttempts.Add(1)
		if co := victim.deque.popTop(); co != nil {
			w.sched.instruments.StealSuccesses.Add(1)
			return co
		}
	}
	return nil
}

func (w *worker) parkWorker() {
	w.parkMu.Lock()
	w.parked.Store(true)
	w.sched.instruments.WorkerParked.Add(1)
	for w.fastpath.Load() == nil && w.deque.size() == 0 && !w.sched.hasWork() && !w.sched.shuttingDown.Load() {
		w.parkCond.Wait()
	}
	w.parked.Store(false)
	w.sched.instruments.WorkerParked.Add(-1)
	w.parkMu.Unlock()
}

func (w *worker) wake() {
	w.parkMu.Lock()
	w.parkCond.Signal()
	w.parkMu.Unlock()
}

func (s *Scheduler) hasWork() bool {
	s.injectMu.Lock()
	inj := len(s.inject)
	s.injectMu.Unlock()
	s.globalMu.Lock()
	glob := len(s.global)
	s.globalMu.Unlock()
	return inj > 0 || glob > 0
}

func (s *Scheduler) wakeAll() {
	for _, w := range s.workers {
		w.wake()
	}
}

func (s *Scheduler) popInject() *Coroutine {
	s.injectMu.Lock()
	if len(s.inject) == 0 {
		s.injectMu.Unlock()
		return nil
	}
	co := s.inject[0]
	s.inject = s.inject[1:]
	s.injectMu.Unlock()
	s.injectSem.Release(1)
	return co
}

func (s *Scheduler) popGlobal() *Coroutine {
	s.globalMu.Lock()
	if len(s.global) == 0 {
		s.globalMu.Unlock()
		return nil
	}
	co := s.global[0]
	s.global = s.global[1:]
	s.globalMu.Unlock()
	return co
}

// pushInject enqueues a coroutine for external submission (spawn, or
// Unpark from outside a worker), honoring OverflowPolicy once
// InjectCapacity is reached.
func (s *Scheduler) pushInject(co *Coroutine) {
	switch s.opts.OverflowPolicy {
	case OverflowDropNewest:
		if !s.injectSem.TryAcquire(1) {
			s.droppedNewest.Add(1)
			s.instruments.InjectDropped.Add(1)
			return
		}
	case OverflowDropOldest:
		if !s.injectSem.TryAcquire(1) {
			// The evicted coroutine's semaphore slot passes to co.
			s.injectMu.Lock()
			evicted := len(s.inject) > 0
			if evicted {
				s.inject = s.inject[1:]
				s.droppedOldest.Add(1)
				s.instruments.InjectDropped.Add(1)
			}
			s.injectMu.Unlock()
			if !evicted {
				_ = s.injectSem.Acquire(context.Background(), 1)
			}
		}
	default: // OverflowSuspend
		_ = s.injectSem.Acquire(context.Background(), 1)
	}
	s.injectMu.Lock()
	s.inject = append(s.inject, co)
	s.injectMu.Unlock()
	s.wakeAll()
}

func (s *Scheduler) pushGlobal(co *Coroutine) {
	s.globalMu.Lock()
	s.global = append(s.global, co)
	s.globalMu.Unlock()
	s.wakeAll()
}

// enqueueUnparked implements spec.md §4.3's enqueue discipline: unparking
// from within a worker favors that worker's fastpath slot then local
// deque; unparking from outside goes to the inject queue under its
// overflow policy (the documented backpressure point). The global queue is
// not used on this path.
func (s *Scheduler) enqueueUnparked(co *Coroutine) {
	if caller := Current(); caller != nil && caller.worker != nil && caller.worker.sched == s {
		w := caller.worker
		if w.fastpath.CompareAndSwap(nil, co) {
			w.wake()
			return
		}
		w.deque.pushBottom(co)
		w.wake()
		return
	}
	s.pushInject(co)
}

func (s *Scheduler) afterResume(co *Coroutine) {
	if co.State() == StateFinished {
		s.pending.Add(-1)
		s.retireQueue.sweep()
		s.drainMu.Lock()
		s.drainCond.Broadcast()
		s.drainMu.Unlock()
	}
}

// SpawnCo creates a coroutine bound to this scheduler and enqueues it.
// SpawnTask is its convenience form for a plain func().
func (s *Scheduler) SpawnCo(fn func(arg any), arg any, stackSize uint64, label string) *Coroutine {
	co := Create(fn, arg, stackSize, label)
	co.sched = s
	s.pending.Add(1)
	s.pushInject(co)
	return co
}

// SpawnTask runs fn on a worker as the body of a coroutine labelled
// "task": fn does have a coroutine context, so Current returns that
// coroutine inside fn and blocking channel operations can park it.
func (s *Scheduler) SpawnTask(fn func()) {
	s.SpawnCo(func(any) { fn() }, nil, DefaultStackSize, "task")
}

// Drain blocks until every coroutine spawned on this scheduler has reached
// Finished, or timeoutMs elapses (negative = forever, 0 = check once).
func (s *Scheduler) Drain(timeoutMs int64) Result {
	s.drainMu.Lock()
	defer s.drainMu.Unlock()
	defer s.retireQueue.sweep()
	if timeoutMs == 0 {
		if s.pending.Load() == 0 {
			return ResultOk
		}
		return ResultWouldBlock
	}
	if timeoutMs < 0 {
		for s.pending.Load() != 0 {
			s.drainCond.Wait()
			s.retireQueue.sweep()
		}
		return ResultOk
	}
	deadlineAt := time.Now().Add(time.Duration(timeoutMs) * time.Millisecond)
	for s.pending.Load() != 0 {
		remaining := time.Until(deadlineAt)
		if remaining <= 0 {
			return ResultDeadline
		}
		timer := time.AfterFunc(remaining, func() {
			s.drainMu.Lock()
			s.drainCond.Broadcast()
			s.drainMu.Unlock()
		})
		s.drainCond.Wait()
		timer.Stop()
		s.retireQueue.sweep()
	}
	return ResultOk
}

// Shutdown requests every worker to exit once its queues drain and wakes
// them; it returns without waiting for their loops to finish. Channels
// spawned through this scheduler are not closed automatically.
func (s *Scheduler) Shutdown() {
	s.shuttingDown.Store(true)
	s.wakeAll()
	s.logger.Info().Str("scheduler", s.id.String()).Log("scheduler shutdown requested")
}

// Yield is the scheduler-scoped form of the package-level Yield, kept for
// API parity with spec.md §6's Scheduler surface; it suspends the calling
// coroutine cooperatively regardless of which scheduler owns it.
func (s *Scheduler) Yield() { Yield() }

// SleepMs cooperatively suspends the calling coroutine for at least ms
// milliseconds without blocking its worker thread: a timer unparks it once
// the deadline elapses, same as Channel's deadline-based blocking.
func (s *Scheduler) SleepMs(ms int64) {
	self := Current()
	if self == nil || ms <= 0 {
		return
	}
	timer := time.AfterFunc(time.Duration(ms)*time.Millisecond, func() {
		Unpark(self)
	})
	defer timer.Stop()
	Park()
}

func effectiveGOMAXPROCS() int {
	return runtime.GOMAXPROCS(0)
}
