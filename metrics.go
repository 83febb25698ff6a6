package ebpfcore

import "sync/atomic"

// Metrics tracks operational statistics for a Runtime, the same
// atomic-counter shape the teacher uses for device I/O, generalized
// from read/write/discard/flush counters to the runtime's own
// operations: object lifecycle, dispatch traffic, and hook activity.
type Metrics struct {
	ObjectsCreated   atomic.Uint64
	ObjectsDestroyed atomic.Uint64

	MapsCreated      atomic.Uint64
	ProgramsLoaded   atomic.Uint64
	ProgramsAttached atomic.Uint64

	DispatchRequests atomic.Uint64
	DispatchErrors   atomic.Uint64

	HookInvocations atomic.Uint64
	EpochFlushes    atomic.Uint64
	EpochFreed      atomic.Uint64
}

func NewMetrics() *Metrics {
	return &Metrics{}
}

// MetricsSnapshot is a point-in-time copy of Metrics, safe to read without
// racing further updates.
type MetricsSnapshot struct {
	ObjectsCreated   uint64
	ObjectsDestroyed uint64
	MapsCreated      uint64
	ProgramsLoaded   uint64
	ProgramsAttached uint64
	DispatchRequests uint64
	DispatchErrors   uint64
	HookInvocations  uint64
	EpochFlushes     uint64
	EpochFreed       uint64
}

func (m *Metrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		ObjectsCreated:   m.ObjectsCreated.Load(),
		ObjectsDestroyed: m.ObjectsDestroyed.Load(),
		MapsCreated:      m.MapsCreated.Load(),
		ProgramsLoaded:   m.ProgramsLoaded.Load(),
		ProgramsAttached: m.ProgramsAttached.Load(),
		DispatchRequests: m.DispatchRequests.Load(),
		DispatchErrors:   m.DispatchErrors.Load(),
		HookInvocations:  m.HookInvocations.Load(),
		EpochFlushes:     m.EpochFlushes.Load(),
		EpochFreed:       m.EpochFreed.Load(),
	}
}

// Observer allows pluggable metrics collection, the same seam the
// teacher exposes for device I/O observability.
type Observer interface {
	ObserveDispatch(op uint16, success bool)
	ObserveHookInvocation(hook string)
}

type NoOpObserver struct{}

func (NoOpObserver) ObserveDispatch(uint16, bool) {}
func (NoOpObserver) ObserveHookInvocation(string)  {}

type MetricsObserver struct {
	metrics *Metrics
}

func NewMetricsObserver(m *Metrics) *MetricsObserver {
	return &MetricsObserver{metrics: m}
}

func (o *MetricsObserver) ObserveDispatch(_ uint16, success bool) {
	o.metrics.DispatchRequests.Add(1)
	if !success {
		o.metrics.DispatchErrors.Add(1)
	}
}

func (o *MetricsObserver) ObserveHookInvocation(string) {
	o.metrics.HookInvocations.Add(1)
}

var (
	_ Observer = (*MetricsObserver)(nil)
	_ Observer = NoOpObserver{}
)
