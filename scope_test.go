package corowork

import (
	"testing"
	"time"
	"unsafe"

	"github.com/stretchr/testify/require"
)

// TestScopeCancellationPropagation is seed scenario 5: a scope launches a
// long-running coroutine that loops recv(timeout=-1) on an empty channel
// carrying the scope's cancellation token; scope.Cancel() is called;
// WaitAll(1000) returns Ok; the child's last receive returned Cancelled.
func TestScopeCancellationPropagation(t *testing.T) {
	sched := NewScheduler(Options{Workers: 2})
	defer sched.Shutdown()

	scope := ScopeInit(sched, nil)
	ch := New(KindRendezvous, 0, 0, ChannelOptions{})

	lastResult := make(chan Result, 1)
	_, res := scope.Launch(func(any) {
		r := ch.Recv(nil, -1, scope.Token())
		lastResult <- r
	}, nil, DefaultStackSize)
	require.Equal(t, ResultOk, res)

	time.Sleep(20 * time.Millisecond)
	scope.Cancel()

	waitRes := scope.WaitAll(1000)
	require.Equal(t, ResultOk, waitRes)

	select {
	case r := <-lastResult:
		require.Equal(t, ResultCancelled, r)
	default:
		t.Fatal("child's receive result was never recorded")
	}
}

func TestScopeLaunchRejectedAfterCancel(t *testing.T) {
	sched := NewScheduler(Options{Workers: 1})
	defer sched.Shutdown()

	scope := ScopeInit(sched, nil)
	scope.Cancel()

	_, res := scope.Launch(func(any) {}, nil, DefaultStackSize)
	require.Equal(t, ResultCancelled, res)
}

func TestScopeWaitAllImmediate(t *testing.T) {
	sched := NewScheduler(Options{Workers: 1})
	defer sched.Shutdown()

	scope := ScopeInit(sched, nil)
	require.Equal(t, ResultOk, scope.WaitAll(0))

	done := make(chan struct{})
	_, res := scope.Launch(func(any) {
		<-done
	}, nil, DefaultStackSize)
	require.Equal(t, ResultOk, res)

	require.Equal(t, ResultWouldBlock, scope.WaitAll(0))
	close(done)
	require.Equal(t, ResultOk, scope.WaitAll(1000))
}

func TestScopeActorStopsOnFalseReturn(t *testing.T) {
	sched := NewScheduler(Options{Workers: 2})
	defer sched.Shutdown()

	scope := ScopeInit(sched, nil)
	ch := New(KindBuffered, int(unsafe.Sizeof(int(0))), 4, ChannelOptions{})

	var processed []int
	doneCh := make(chan struct{})
	_, res := scope.Actor(ch, int(unsafe.Sizeof(int(0))), func(buf unsafe.Pointer, user any) bool {
		v := *(*int)(buf)
		processed = append(processed, v)
		return v != 2 // stop once we see the value 2
	}, nil, func() { close(doneCh) })
	require.Equal(t, ResultOk, res)

	for _, v := range []int{1, 2, 3} {
		v := v
		require.Equal(t, ResultOk, sendInt(ch, v, -1, nil))
	}

	select {
	case <-doneCh:
	case <-time.After(2 * time.Second):
		t.Fatal("actor never signalled done")
	}
	require.Equal(t, []int{1, 2}, processed)
}
