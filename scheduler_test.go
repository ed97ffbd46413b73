package corowork

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSchedulerSpawnAndDrain(t *testing.T) {
	sched := NewScheduler(Options{Workers: 4})
	defer sched.Shutdown()

	var ran int32
	for i := 0; i < 50; i++ {
		sched.SpawnTask(func() {
			atomic.AddInt32(&ran, 1)
		})
	}

	require.Equal(t, ResultOk, sched.Drain(2000))
	require.EqualValues(t, 50, atomic.LoadInt32(&ran))
}

func TestSchedulerDrainZeroIsNonBlocking(t *testing.T) {
	sched := NewScheduler(Options{Workers: 1})
	defer sched.Shutdown()

	block := make(chan struct{})
	sched.SpawnTask(func() { <-block })

	require.Equal(t, ResultWouldBlock, sched.Drain(0))
	close(block)
	require.Equal(t, ResultOk, sched.Drain(2000))
}

func TestSchedulerStealingBalancesWork(t *testing.T) {
	sched := NewScheduler(Options{Workers: 4})
	defer sched.Shutdown()

	var ran int32
	for i := 0; i < 200; i++ {
		sched.SpawnCo(func(any) {
			atomic.AddInt32(&ran, 1)
		}, nil, DefaultStackSize, "steal-test")
	}
	require.Equal(t, ResultOk, sched.Drain(3000))
	require.EqualValues(t, 200, atomic.LoadInt32(&ran))
}

func TestSchedulerOverflowDropNewest(t *testing.T) {
	sched := NewScheduler(Options{
		Workers:        1,
		InjectCapacity: 2,
		OverflowPolicy: OverflowDropNewest,
	})
	defer sched.Shutdown()

	block := make(chan struct{})
	sched.SpawnTask(func() { <-block }) // occupies the sole worker

	for i := 0; i < 10; i++ {
		sched.SpawnTask(func() {})
	}
	require.Greater(t, sched.droppedNewest.Load(), int64(0))
	close(block)
}

func TestSleepMsSuspendsCooperatively(t *testing.T) {
	sched := NewScheduler(Options{Workers: 1})
	defer sched.Shutdown()

	done := make(chan time.Duration, 1)
	sched.SpawnTask(func() {
		start := time.Now()
		sched.SleepMs(50)
		done <- time.Since(start)
	})

	select {
	case elapsed := <-done:
		require.GreaterOrEqual(t, elapsed, 40*time.Millisecond)
	case <-time.After(2 * time.Second):
		t.Fatal("sleep never resumed")
	}
}
