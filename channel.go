package corowork

import (
	"sync"
	"unsafe"

	"go.uber.org/atomic"

	"github.com/corowork/corowork/internal/gopark"
)

// Kind is the channel-kind enum; the numeric values are part of the stable
// external surface (spec.md §6).
type Kind int32

const (
	KindRendezvous Kind = iota
	KindBuffered
	KindConflated
	KindUnlimited
)

func (k Kind) String() string {
	switch k {
	case KindRendezvous:
		return "Rendezvous"
	case KindBuffered:
		return "Buffered"
	case KindConflated:
		return "Conflated"
	case KindUnlimited:
		return "Unlimited"
	default:
		return "Unknown"
	}
}

// MetricsEvent is emitted onto a channel's metrics pipe per spec.md §6.
type MetricsEvent struct {
	Sends, Receives         uint64
	BytesSent, BytesRecv    uint64
	DeltaSends, DeltaRecv   uint64
	DeltaBytesS, DeltaBytesR uint64
	TimestampNanos          int64
}

// ChannelOptions configures a Channel beyond kind/elemSize/capacity.
type ChannelOptions struct {
	// MetricsPipe, if non-nil, receives a MetricsEvent whenever the
	// emit-threshold rules in spec.md §6 are met. Overflow on this pipe is
	// silent (spec.md §4.4 "Metrics").
	MetricsPipe *Channel
	// EmitMinOps is the minimum total send+recv delta before an event is
	// considered for emission (config.go's channel.metrics.emit_min_ops,
	// default 1024, applied here when MetricsPipe is set directly rather
	// than via config.Config).
	EmitMinOps uint64
	// EmitMinNanos is the minimum elapsed time since the last emission.
	EmitMinNanos int64
	// MaxUnboundedLen soft-caps an Unlimited channel's internal ring,
	// surfacing NoMemory rather than growing forever once exceeded. 0
	// (the default) means unbounded, matching spec.md's base semantics.
	MaxUnboundedLen int
	// ZeroCopy opts the channel into TakeOwnership/GiveOwnership. It does
	// not change storage: every operation still copies elem_size bytes;
	// see SPEC_FULL.md §4.4.5.
	ZeroCopy bool
}

// counters holds the spec.md §3 per-channel statistics, incremented
// exactly once per successful operation (spec.md §8).
type counters struct {
	sends, receives     atomic.Uint64
	bytesSent, bytesRecv atomic.Uint64
	dropped             atomic.Uint64 // conflated overwrite count
	failWouldBlock      atomic.Uint64
	failDeadline        atomic.Uint64
	failCancelled       atomic.Uint64
	failClosed          atomic.Uint64
	firstOpNanos        atomic.Int64
	lastOpNanos         atomic.Int64
}

// Snapshot is the point-in-time counters report from Channel.Snapshot.
type Snapshot struct {
	Kind                              Kind
	ElemSize, Capacity                int
	Sends, Receives                   uint64
	BytesSent, BytesRecv              uint64
	Dropped                           uint64
	FailWouldBlock, FailDeadline      uint64
	FailCancelled, FailClosed         uint64
	FirstOpNanos, LastOpNanos         int64
	Closed                            bool
}

// Channel is a typed, concurrent queue of one of four kinds (spec.md §3).
// A single Channel value backs all four kinds; behavior is dispatched on
// kind in Send/Recv.
type Channel struct {
	kind     Kind
	elemSize int
	capacity int
	opts     ChannelOptions

	mu     sync.Mutex
	ring   []unsafe.Pointer // buffered/conflated/unlimited storage; rendezvous leaves this nil
	ringHd int
	ringLn int
	closed atomic.Bool

	waitS waiterQueue // parked senders
	waitR waiterQueue // parked receivers

	counters counters

	lastEmitOps   uint64
	lastEmitNanos int64
}

// New constructs a Channel of the given kind. elemSize is the size in
// bytes of one element (informational; Go's type system already enforces
// element identity via generics at the call site — see Typed for a
// generic wrapper). capacity is ignored for Rendezvous (always 0),
// clamped to 1 for Conflated, and is the ring size for Buffered.
func New(kind Kind, elemSize, capacity int, opts ChannelOptions) *Channel {
	c := &Channel{kind: kind, elemSize: elemSize, opts: opts}
	switch kind {
	case KindRendezvous:
		c.capacity = 0
	case KindBuffered:
		if capacity <= 0 {
			capacity = 1
		}
		c.capacity = capacity
		c.ring = make([]unsafe.Pointer, capacity)
	case KindConflated:
		c.capacity = 1
		c.ring = make([]unsafe.Pointer, 1)
	case KindUnlimited:
		c.capacity = 0
		c.ring = make([]unsafe.Pointer, 0, 16)
	}
	return c
}

func (c *Channel) Kind() Kind        { return c.kind }
func (c *Channel) ElemSize() int     { return c.elemSize }
func (c *Channel) Capacity() int     { return c.capacity }
func (c *Channel) IsClosed() bool    { return c.closed.Load() }

// TakeOwnership and GiveOwnership are the zref-interplay surface
// (SPEC_FULL.md §4.4.5): on a channel constructed with ZeroCopy they are
// Recv and Send, copying elem_size bytes like any other operation. Neither
// zref transport itself nor a copy-free path is implemented; calling
// either on a channel that wasn't constructed with ZeroCopy reports
// NotSupported rather than silently copying.
func (c *Channel) TakeOwnership(buf unsafe.Pointer, timeoutMs int64, tok *CancelToken) Result {
	if !c.opts.ZeroCopy {
		return ResultNotSupported
	}
	return c.Recv(buf, timeoutMs, tok)
}

func (c *Channel) GiveOwnership(buf unsafe.Pointer, timeoutMs int64, tok *CancelToken) Result {
	if !c.opts.ZeroCopy {
		return ResultNotSupported
	}
	return c.Send(buf, timeoutMs, tok)
}

// Snapshot returns the current counters (spec.md §6 `snapshot`).
func (c *Channel) Snapshot() Snapshot {
	return Snapshot{
		Kind:           c.kind,
		ElemSize:       c.elemSize,
		Capacity:       c.capacity,
		Sends:          c.counters.sends.Load(),
		Receives:       c.counters.receives.Load(),
		BytesSent:      c.counters.bytesSent.Load(),
		BytesRecv:      c.counters.bytesRecv.Load(),
		Dropped:        c.counters.dropped.Load(),
		FailWouldBlock: c.counters.failWouldBlock.Load(),
		FailDeadline:   c.counters.failDeadline.Load(),
		FailCancelled:  c.counters.failCancelled.Load(),
		FailClosed:     c.counters.failClosed.Load(),
		FirstOpNanos:   c.counters.firstOpNanos.Load(),
		LastOpNanos:    c.counters.lastOpNanos.Load(),
		Closed:         c.IsClosed(),
	}
}

// ComputeRate returns ops/sec and bytes/sec over the interval between the
// channel's first and most recent recorded operations, a convenience over
// Snapshot (spec.md §6 `compute_rate`).
func (c *Channel) ComputeRate() (opsPerSec, bytesPerSec float64) {
	snap := c.Snapshot()
	elapsed := float64(snap.LastOpNanos-snap.FirstOpNanos) / 1e9
	if elapsed <= 0 {
		return 0, 0
	}
	ops := float64(snap.Sends + snap.Receives)
	bytes := float64(snap.BytesSent + snap.BytesRecv)
	return ops / elapsed, bytes / elapsed
}

func (c *counters) recordOp(now int64) {
	if c.firstOpNanos.Load() == 0 {
		c.firstOpNanos.CompareAndSwap(0, now)
	}
	c.lastOpNanos.Store(now)
}

func (c *Channel) recordSend(now int64) {
	c.counters.sends.Add(1)
	c.counters.bytesSent.Add(uint64(c.elemSize))
	c.counters.recordOp(now)
	c.maybeEmitMetrics(now)
}

func (c *Channel) recordRecv(now int64) {
	c.counters.receives.Add(1)
	c.counters.bytesRecv.Add(uint64(c.elemSize))
	c.counters.recordOp(now)
	c.maybeEmitMetrics(now)
}

// maybeEmitMetrics implements spec.md §6's threshold rule: either
// emit_min_ops delta or emit_min_ms elapsed triggers an emission; drops on
// overflow of the metrics pipe are silent, and emission never blocks.
func (c *Channel) maybeEmitMetrics(now int64) {
	pipe := c.opts.MetricsPipe
	if pipe == nil {
		return
	}
	total := c.counters.sends.Load() + c.counters.receives.Load()
	minOps := c.opts.EmitMinOps
	if minOps == 0 {
		minOps = 1024
	}
	minNanos := c.opts.EmitMinNanos
	if minNanos == 0 {
		minNanos = 50_000_000
	}
	if total-c.lastEmitOps < minOps && now-c.lastEmitNanos < minNanos {
		return
	}
	ev := MetricsEvent{
		Sends:           c.counters.sends.Load(),
		Receives:        c.counters.receives.Load(),
		BytesSent:       c.counters.bytesSent.Load(),
		BytesRecv:       c.counters.bytesRecv.Load(),
		DeltaSends:      c.counters.sends.Load() - c.lastEmitOps,
		TimestampNanos:  now,
	}
	c.lastEmitOps = total
	c.lastEmitNanos = now
	evCopy := ev
	pipe.TrySend(unsafe.Pointer(&evCopy))
}

// Close flips the closed flag and wakes every parked sender and receiver;
// each one finds the channel closed, withdraws its own waiter and returns
// Closed. Future receivers still drain remaining buffered elements before
// observing Closed (spec.md §4.4 "Close").
func (c *Channel) Close() Result {
	if !c.closed.CompareAndSwap(false, true) {
		return ResultOk // idempotent
	}
	c.mu.Lock()
	var owners []*Coroutine
	for _, q := range []*waiterQueue{&c.waitS, &c.waitR} {
		for w := q.head; w != nil; w = w.next {
			owners = append(owners, w.owner)
		}
	}
	c.mu.Unlock()
	for _, co := range owners {
		if !co.immortal {
			Unpark(co)
		}
	}
	return ResultOk
}

// Destroy releases channel resources. In debug builds (COROWORK_DEBUG=1)
// destroying a channel with parked waiters is a programmer error per
// spec.md §5; in non-debug builds it is tolerated for simplicity.
func (c *Channel) Destroy() error {
	c.mu.Lock()
	hasWaiters := !c.waitS.empty() || !c.waitR.empty()
	c.mu.Unlock()
	if hasWaiters && debugEnabled() {
		return ErrChannelDestroyedWithWaiters
	}
	return nil
}

func wakeReceiver(co *Coroutine) {
	if co != nil && !co.immortal {
		Unpark(co)
	}
}

func nowNanos() int64 { return gopark.Nanotime() }
