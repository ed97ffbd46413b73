package corowork

import (
	"testing"
	"time"
	"unsafe"

	"github.com/stretchr/testify/require"
)

// TestSelectWithTimeout is seed scenario 3: a Select over two channels with
// no ready clause reports Deadline once its timeout elapses.
func TestSelectWithTimeout(t *testing.T) {
	CreateMain()
	a := New(KindRendezvous, int(unsafe.Sizeof(int(0))), 0, ChannelOptions{})
	b := New(KindRendezvous, int(unsafe.Sizeof(int(0))), 0, ChannelOptions{})

	var buf int
	sel := Create(nil)
	defer sel.Destroy()
	sel.AddRecv(a, unsafe.Pointer(&buf))
	sel.AddRecv(b, unsafe.Pointer(&buf))

	start := time.Now()
	idx, res := sel.Wait(100)
	require.Equal(t, -1, idx)
	require.Equal(t, ResultDeadline, res)
	require.GreaterOrEqual(t, time.Since(start), 90*time.Millisecond)
}

// TestSelectWithCancellation is seed scenario 4: triggering the Select's
// cancel token while parked returns Cancelled.
func TestSelectWithCancellation(t *testing.T) {
	sched := NewScheduler(Options{Workers: 2})
	defer sched.Shutdown()

	a := New(KindRendezvous, int(unsafe.Sizeof(int(0))), 0, ChannelOptions{})
	tok := NewCancelToken(nil)

	resultCh := make(chan Result, 1)
	sched.SpawnTask(func() {
		var buf int
		sel := Create(tok)
		sel.AddRecv(a, unsafe.Pointer(&buf))
		_, res := sel.Wait(-1)
		resultCh <- res
		sel.Destroy()
	})

	time.Sleep(20 * time.Millisecond)
	tok.Trigger()

	select {
	case res := <-resultCh:
		require.Equal(t, ResultCancelled, res)
	case <-time.After(2 * time.Second):
		t.Fatal("select never observed cancellation")
	}
}

func TestSelectPicksReadyClauseImmediately(t *testing.T) {
	CreateMain()
	a := New(KindBuffered, int(unsafe.Sizeof(int(0))), 1, ChannelOptions{})
	b := New(KindBuffered, int(unsafe.Sizeof(int(0))), 1, ChannelOptions{})

	v := 7
	require.Equal(t, ResultOk, b.Send(unsafe.Pointer(&v), 0, nil))

	var buf int
	sel := Create(nil)
	defer sel.Destroy()
	aClause := sel.AddRecv(a, unsafe.Pointer(&buf))
	bClause := sel.AddRecv(b, unsafe.Pointer(&buf))

	idx, res := sel.Wait(0)
	require.Equal(t, ResultOk, res)
	require.Equal(t, bClause, idx)
	require.NotEqual(t, aClause, idx)
	require.Equal(t, 7, buf)
}

func TestSelectSendClauseWins(t *testing.T) {
	CreateMain()
	ch := New(KindBuffered, int(unsafe.Sizeof(int(0))), 1, ChannelOptions{})

	v := 99
	sel := Create(nil)
	defer sel.Destroy()
	sel.AddSend(ch, unsafe.Pointer(&v))

	idx, res := sel.Wait(0)
	require.Equal(t, ResultOk, res)
	require.Equal(t, 0, idx)

	var got int
	require.Equal(t, ResultOk, ch.Recv(unsafe.Pointer(&got), 0, nil))
	require.Equal(t, 99, got)
}
