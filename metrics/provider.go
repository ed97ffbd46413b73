// Package metrics is the instrument facade the scheduler and Select use
// to report steal attempts, parked-worker counts, and select
// resolution latency. It is deliberately a thin, vendor-agnostic shape: a
// host process wires in whatever observability backend it already has by
// implementing Provider once.
package metrics

// Provider hands out named instruments. An implementation backed by a
// real metrics SDK is expected to dedupe repeated calls for the same name
// rather than allocate a fresh instrument each time; NoopProvider and
// BasicProvider (see noop.go, basic.go) both do this.
//
// This surface stays small on purpose: add a new instrument kind as its
// own interface rather than growing this one.
type Provider interface {
	Counter(name string, opts ...InstrumentOption) Counter
	UpDownCounter(name string, opts ...InstrumentOption) UpDownCounter
	Histogram(name string, opts ...InstrumentOption) Histogram
}

// Counter only ever goes up -- steal attempts, inject-queue drops, select
// resolutions. Add must be concurrency-safe.
type Counter interface {
	Add(n int64)
}

// UpDownCounter tracks a live gauge-like quantity, such as the number of
// currently parked workers. Add must be concurrency-safe.
type UpDownCounter interface {
	Add(n int64)
}

// Histogram records a distribution of float64 samples, such as select
// resolution latency in seconds. Record must be concurrency-safe.
type Histogram interface {
	Record(v float64)
}

// InstrumentConfig holds the metadata InstrumentOptions accumulate.
// Providers that don't care about descriptions/units/attributes are free
// to ignore it entirely.
type InstrumentConfig struct {
	Description string
	Unit        string
	Attributes  map[string]string
}

// InstrumentOption applies one piece of InstrumentConfig.
type InstrumentOption func(*InstrumentConfig)

// WithDescription attaches a human-readable description to an instrument.
func WithDescription(desc string) InstrumentOption {
	return func(c *InstrumentConfig) { c.Description = desc }
}

// WithUnit attaches a unit string (e.g. "1", "seconds") to an instrument.
func WithUnit(unit string) InstrumentOption {
	return func(c *InstrumentConfig) { c.Unit = unit }
}

// WithAttributes merges attrs into the instrument's static attribute set.
// Keep the set small: these are meant to be per-instrument labels, not a
// per-measurement dimension.
func WithAttributes(attrs map[string]string) InstrumentOption {
	return func(c *InstrumentConfig) {
		if len(attrs) == 0 {
			return
		}
		if c.Attributes == nil {
			c.Attributes = make(map[string]string, len(attrs))
		}
		for k, v := range attrs {
			c.Attributes[k] = v
		}
	}
}

// Instruments bundles the specific counters the scheduler and Select
// report, created once from a Provider and passed around by value.
type Instruments struct {
	StealAttempts   Counter
	StealSuccesses  Counter
	InjectDropped   Counter
	SelectResolved  Counter
	SelectDuration  Histogram
	WorkerParked    UpDownCounter
}

// NewInstruments builds the standard instrument set from p. Pass
// NewNoopProvider() to disable collection entirely.
func NewInstruments(p Provider) Instruments {
	return Instruments{
		StealAttempts:  p.Counter("corowork.scheduler.steal_attempts", WithUnit("1")),
		StealSuccesses: p.Counter("corowork.scheduler.steal_successes", WithUnit("1")),
		InjectDropped:  p.Counter("corowork.scheduler.inject_dropped", WithUnit("1")),
		SelectResolved: p.Counter("corowork.select.resolved", WithUnit("1")),
		SelectDuration: p.Histogram("corowork.select.duration", WithUnit("seconds")),
		WorkerParked:   p.UpDownCounter("corowork.scheduler.workers_parked", WithUnit("1")),
	}
}
