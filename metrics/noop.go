package metrics

// noopProvider discards every instrument it hands out. It backs
// NewNoopProvider and is what a Scheduler/Select falls back to when no
// Provider is configured, so metrics wiring is always safe to call even
// when nobody is listening.
type noopProvider struct{}

// NewNoopProvider returns a Provider whose Counter/UpDownCounter/Histogram
// calls are free: every recorded value is dropped on the floor.
func NewNoopProvider() Provider { return noopProvider{} }

func (noopProvider) Counter(string, ...InstrumentOption) Counter { return discardCounter }

func (noopProvider) UpDownCounter(string, ...InstrumentOption) UpDownCounter {
	return discardUpDownCounter
}

func (noopProvider) Histogram(string, ...InstrumentOption) Histogram { return discardHistogram }

// The three discard instruments are stateless singletons rather than
// per-call allocations, since a noop Provider never needs to tell its
// instruments apart.
var (
	discardCounter       discardInstrument
	discardUpDownCounter discardInstrument
	discardHistogram     discardInstrument
)

// discardInstrument implements Counter, UpDownCounter, and Histogram at
// once: all three only ever discard their argument.
type discardInstrument struct{}

func (discardInstrument) Add(int64)      {}
func (discardInstrument) Record(float64) {}
