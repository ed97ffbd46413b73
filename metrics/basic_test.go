package metrics

import (
	"reflect"
	"runtime"
	"sync"
	"testing"
)

func TestBasicProvider_Counter_ReusedAndAccumulates(t *testing.T) {
	p := NewBasicProvider()

	c1 := p.Counter("corowork.scheduler.steal_attempts")
	c2 := p.Counter("corowork.scheduler.steal_attempts")
	if reflect.ValueOf(c1).Pointer() != reflect.ValueOf(c2).Pointer() {
		t.Fatalf("expected same counter instance for same name")
	}

	bc, ok := c1.(*BasicCounter)
	if !ok {
		t.Fatalf("expected *BasicCounter, got %T", c1)
	}
	c1.Add(3)
	c2.Add(2)
	if got := bc.Snapshot(); got != 5 {
		t.Fatalf("counter value = %d; want 5", got)
	}

	cOther := p.Counter("other")
	if reflect.ValueOf(cOther).Pointer() == reflect.ValueOf(c1).Pointer() {
		t.Fatalf("expected different counter instance for different name")
	}
}

func TestBasicProvider_UpDownCounter_ReusedAndMoves(t *testing.T) {
	p := NewBasicProvider()
	u1 := p.UpDownCounter("corowork.scheduler.workers_parked")
	u2 := p.UpDownCounter("corowork.scheduler.workers_parked")
	if reflect.ValueOf(u1).Pointer() != reflect.ValueOf(u2).Pointer() {
		t.Fatalf("expected same updown instance for same name")
	}

	bu, ok := u1.(*BasicUpDownCounter)
	if !ok {
		t.Fatalf("expected *BasicUpDownCounter, got %T", u1)
	}
	u1.Add(+3)
	u2.Add(-1)
	u1.Add(+10)
	if got := bu.Snapshot(); got != 12 {
		t.Fatalf("updown value = %d; want 12", got)
	}
}

func TestBasicProvider_Histogram_RecordsStats(t *testing.T) {
	p := NewBasicProvider()
	h := p.Histogram("corowork.select.duration")
	bh, ok := h.(*BasicHistogram)
	if !ok {
		t.Fatalf("expected *BasicHistogram, got %T", h)
	}

	h.Record(0.1)
	h.Record(0.3)
	h.Record(0.2)
	s := bh.Snapshot()
	if s.Count != 3 {
		t.Fatalf("count = %d; want 3", s.Count)
	}
	if s.Min != 0.1 || s.Max != 0.3 {
		t.Fatalf("min/max = (%v,%v); want (0.1,0.3)", s.Min, s.Max)
	}
	if s.Sum < 0.59 || s.Sum > 0.61 {
		t.Fatalf("sum = %v; want ~0.6", s.Sum)
	}
}

func TestBasicProvider_Concurrent_CounterAdd(t *testing.T) {
	p := NewBasicProvider()
	c := p.Counter("hits")
	bc := c.(*BasicCounter)

	workers := runtime.NumCPU() * 2
	iters := 1000
	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func() {
			defer wg.Done()
			for i := 0; i < iters; i++ {
				c.Add(1)
			}
		}()
	}
	wg.Wait()
	expected := int64(workers * iters)
	if got := bc.Snapshot(); got != expected {
		t.Fatalf("counter = %d; want %d", got, expected)
	}
}

func TestNoopProvider_DiscardsEverything(t *testing.T) {
	p := NewNoopProvider()
	p.Counter("x").Add(5)
	p.UpDownCounter("y").Add(-5)
	p.Histogram("z").Record(1.23)
	// No panics and no observable state: the point of a no-op provider.
}

func TestNewInstruments_WiresAllNames(t *testing.T) {
	p := NewBasicProvider()
	inst := NewInstruments(p)
	inst.StealAttempts.Add(1)
	inst.StealSuccesses.Add(1)
	inst.InjectDropped.Add(1)
	inst.SelectResolved.Add(1)
	inst.SelectDuration.Record(0.01)
	inst.WorkerParked.Add(1)

	if got := p.Counter("corowork.scheduler.steal_attempts").(*BasicCounter).Snapshot(); got != 1 {
		t.Fatalf("steal attempts = %d; want 1", got)
	}
}
