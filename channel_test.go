package corowork

import (
	"sync/atomic"
	"testing"
	"time"
	"unsafe"

	"github.com/stretchr/testify/require"
)

func sendInt(ch *Channel, v int, timeoutMs int64, tok *CancelToken) Result {
	return ch.Send(unsafe.Pointer(&v), timeoutMs, tok)
}

func recvInt(ch *Channel, timeoutMs int64, tok *CancelToken) (int, Result) {
	var v int
	res := ch.Recv(unsafe.Pointer(&v), timeoutMs, tok)
	return v, res
}

// TestRendezvousPingPong checks a single rendezvous hand-off: the receiver
// parks first, then the sender's value is delivered directly to it with no
// intermediate storage.
func TestRendezvousPingPong(t *testing.T) {
	sched := NewScheduler(Options{Workers: 2})
	defer sched.Shutdown()

	ch := New(KindRendezvous, int(unsafe.Sizeof(int(0))), 0, ChannelOptions{})

	var got int
	var recvRes Result
	recvDone := make(chan struct{})
	sched.SpawnTask(func() {
		got, recvRes = recvInt(ch, -1, nil)
		close(recvDone)
	})

	time.Sleep(20 * time.Millisecond) // give the receiver a chance to park first
	res := sendInt(ch, 42, -1, nil)
	require.Equal(t, ResultOk, res)

	select {
	case <-recvDone:
	case <-time.After(2 * time.Second):
		t.Fatal("receiver never completed")
	}
	require.Equal(t, ResultOk, recvRes)
	require.Equal(t, 42, got)
}

// TestBufferedMPMC is seed scenario 2: multiple senders and receivers on a
// bounded buffer, verifying that as many values are received as were sent.
func TestBufferedMPMC(t *testing.T) {
	sched := NewScheduler(Options{Workers: 4})
	defer sched.Shutdown()

	ch := New(KindBuffered, int(unsafe.Sizeof(int(0))), 8, ChannelOptions{})

	const n = 200
	const producers = 4
	const consumers = 4

	results := make(chan int, n)
	for p := 0; p < producers; p++ {
		p := p
		sched.SpawnTask(func() {
			for i := 0; i < n/producers; i++ {
				require.Equal(t, ResultOk, sendInt(ch, p*1000+i, -1, nil))
			}
		})
	}

	var consumed int32
	done := make(chan struct{})
	for c := 0; c < consumers; c++ {
		sched.SpawnTask(func() {
			for {
				v, res := recvInt(ch, 500, nil)
				if res != ResultOk {
					return
				}
				results <- v
				if int(atomic.AddInt32(&consumed, 1)) == n {
					close(done)
					return
				}
			}
		})
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("only consumed %d/%d", len(results), n)
	}
	require.Len(t, results, n)
}

func TestConflatedCoalescing(t *testing.T) {
	ch := New(KindConflated, int(unsafe.Sizeof(int(0))), 1, ChannelOptions{})

	for i := 0; i < 5; i++ {
		require.Equal(t, ResultOk, sendInt(ch, i, 0, nil))
	}
	v, res := recvInt(ch, 0, nil)
	require.Equal(t, ResultOk, res)
	require.Equal(t, 4, v)
	require.Equal(t, uint64(4), ch.Snapshot().Dropped)

	_, res = recvInt(ch, 0, nil)
	require.Equal(t, ResultWouldBlock, res)
}

func TestUnlimitedGrowsUnbounded(t *testing.T) {
	ch := New(KindUnlimited, int(unsafe.Sizeof(int(0))), 0, ChannelOptions{})
	for i := 0; i < 1000; i++ {
		require.Equal(t, ResultOk, sendInt(ch, i, 0, nil))
	}
	for i := 0; i < 1000; i++ {
		v, res := recvInt(ch, 0, nil)
		require.Equal(t, ResultOk, res)
		require.Equal(t, i, v)
	}
}

func TestChannelCloseWakesWaiters(t *testing.T) {
	sched := NewScheduler(Options{Workers: 2})
	defer sched.Shutdown()

	ch := New(KindRendezvous, int(unsafe.Sizeof(int(0))), 0, ChannelOptions{})

	recvRes := make(chan Result, 1)
	sched.SpawnTask(func() {
		_, res := recvInt(ch, -1, nil)
		recvRes <- res
	})

	time.Sleep(20 * time.Millisecond)
	ch.Close()

	select {
	case res := <-recvRes:
		require.Equal(t, ResultClosed, res)
	case <-time.After(2 * time.Second):
		t.Fatal("receiver never woke on close")
	}

	// A close is idempotent.
	require.Equal(t, ResultOk, ch.Close())
}

func TestChannelSendDeadline(t *testing.T) {
	CreateMain() // wraps the test goroutine so blockWait's waiter has an owner
	ch := New(KindBuffered, int(unsafe.Sizeof(int(0))), 1, ChannelOptions{})
	require.Equal(t, ResultOk, sendInt(ch, 1, 0, nil))

	start := time.Now()
	res := sendInt(ch, 2, 100, nil)
	require.Equal(t, ResultDeadline, res)
	require.GreaterOrEqual(t, time.Since(start), 90*time.Millisecond)
}

func TestChannelSendCancelled(t *testing.T) {
	sched := NewScheduler(Options{Workers: 2})
	defer sched.Shutdown()

	ch := New(KindBuffered, int(unsafe.Sizeof(int(0))), 1, ChannelOptions{})
	require.Equal(t, ResultOk, sendInt(ch, 1, 0, nil)) // fill capacity

	tok := NewCancelToken(nil)
	resCh := make(chan Result, 1)
	sched.SpawnTask(func() {
		resCh <- sendInt(ch, 2, -1, tok)
	})

	time.Sleep(20 * time.Millisecond)
	tok.Trigger()

	select {
	case res := <-resCh:
		require.Equal(t, ResultCancelled, res)
	case <-time.After(2 * time.Second):
		t.Fatal("sender never observed cancellation")
	}
}
