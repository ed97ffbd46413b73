package corowork

import "unsafe"

// Typed is a generic, type-safe view over a Channel, following the
// teacher's ZenQ[T] pattern of wrapping a raw slot-based queue with a
// generic element type at the API boundary. The underlying Channel still
// operates on unsafe.Pointer/elem_size; Typed only adds compile-time type
// safety and avoids repeating unsafe.Pointer(&v) at every call site.
type Typed[T any] struct {
	ch *Channel
}

// NewTyped constructs a Typed[T] channel of the given kind and capacity.
// elem_size is derived from T via unsafe.Sizeof, matching spec.md §6's
// make(kind, elem_size, capacity) taking elem_size as a parameter.
func NewTyped[T any](kind Kind, capacity int, opts ChannelOptions) *Typed[T] {
	var zero T
	return &Typed[T]{ch: New(kind, int(unsafe.Sizeof(zero)), capacity, opts)}
}

// Chan returns the underlying untyped Channel, for interop with Select or
// Scope.Produce/Actor.
func (t *Typed[T]) Chan() *Channel { return t.ch }

func (t *Typed[T]) Send(v T, timeoutMs int64, tok *CancelToken) Result {
	return t.ch.Send(unsafe.Pointer(&v), timeoutMs, tok)
}

func (t *Typed[T]) Recv(timeoutMs int64, tok *CancelToken) (T, Result) {
	var v T
	res := t.ch.Recv(unsafe.Pointer(&v), timeoutMs, tok)
	return v, res
}

func (t *Typed[T]) TrySend(v T) Result {
	return t.ch.TrySend(unsafe.Pointer(&v))
}

func (t *Typed[T]) TryRecv() (T, Result) {
	var v T
	res := t.ch.TryRecv(unsafe.Pointer(&v))
	return v, res
}

func (t *Typed[T]) Close() Result   { return t.ch.Close() }
func (t *Typed[T]) Destroy() error  { return t.ch.Destroy() }
func (t *Typed[T]) Snapshot() Snapshot { return t.ch.Snapshot() }
