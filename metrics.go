package em

import (
	"sync"
	"sync/atomic"
	"time"
)

// LatencyBuckets defines the receive-latency histogram buckets in
// nanoseconds, covering from 1us to 10s with logarithmic spacing.
var LatencyBuckets = []uint64{
	1_000,          // 1us
	10_000,         // 10us
	100_000,        // 100us
	1_000_000,      // 1ms
	10_000_000,     // 10ms
	100_000_000,    // 100ms
	1_000_000_000,  // 1s
	10_000_000_000, // 10s
}

const numLatencyBuckets = 8

// coreMetrics tracks per-core dispatch statistics.
type coreMetrics struct {
	Dispatched atomic.Uint64
	Errors     atomic.Uint64
	IdlePasses atomic.Uint64

	TotalLatencyNs atomic.Uint64
	OpCount        atomic.Uint64
	LatencyBuckets [numLatencyBuckets]atomic.Uint64
}

// Metrics tracks performance and operational statistics for a running EM
// instance: one coreMetrics per dispatch core, plus per-discipline queue
// depth gauges set by whatever calls SetQueueDepth.
type Metrics struct {
	mu    sync.RWMutex
	cores map[int]*coreMetrics

	AtomicQueueDepth          atomic.Int64
	ParallelQueueDepth        atomic.Int64
	ParallelOrderedQueueDepth atomic.Int64

	StartTime atomic.Int64
	StopTime  atomic.Int64
}

// NewMetrics creates an empty metrics instance.
func NewMetrics() *Metrics {
	m := &Metrics{cores: make(map[int]*coreMetrics)}
	m.StartTime.Store(time.Now().UnixNano())
	return m
}

func (m *Metrics) core(id int) *coreMetrics {
	m.mu.RLock()
	c, ok := m.cores[id]
	m.mu.RUnlock()
	if ok {
		return c
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok = m.cores[id]; ok {
		return c
	}
	c = &coreMetrics{}
	m.cores[id] = c
	return c
}

// RecordDispatch records one successful event dispatch on the given core.
func (m *Metrics) RecordDispatch(core int, latencyNs uint64) {
	c := m.core(core)
	c.Dispatched.Add(1)
	c.TotalLatencyNs.Add(latencyNs)
	c.OpCount.Add(1)
	for i, bucket := range LatencyBuckets {
		if latencyNs <= bucket {
			c.LatencyBuckets[i].Add(1)
		}
	}
}

// RecordIdle records one idle dispatch pass on the given core.
func (m *Metrics) RecordIdle(core int) {
	m.core(core).IdlePasses.Add(1)
}

// RecordError records one dispatch error on the given core.
func (m *Metrics) RecordError(core int) {
	m.core(core).Errors.Add(1)
}

// SetQueueDepth records the current queue-depth gauge for one discipline.
// Callers sample this periodically; it's a gauge, not a counter.
func (m *Metrics) SetQueueDepth(d Discipline, depth int64) {
	switch d {
	case DisciplineAtomic:
		m.AtomicQueueDepth.Store(depth)
	case DisciplineParallel:
		m.ParallelQueueDepth.Store(depth)
	case DisciplineParallelOrdered:
		m.ParallelOrderedQueueDepth.Store(depth)
	}
}

// Stop marks the instance as stopped, freezing uptime calculations.
func (m *Metrics) Stop() {
	m.StopTime.Store(time.Now().UnixNano())
}

// CoreSnapshot is a point-in-time snapshot of one core's dispatch stats.
type CoreSnapshot struct {
	Core             int
	Dispatched       uint64
	Errors           uint64
	IdlePasses       uint64
	AvgLatencyNs     uint64
	LatencyP50Ns     uint64
	LatencyP99Ns     uint64
	LatencyP999Ns    uint64
	LatencyHistogram [numLatencyBuckets]uint64
}

// MetricsSnapshot is a point-in-time snapshot of the whole instance.
type MetricsSnapshot struct {
	Cores []CoreSnapshot

	AtomicQueueDepth          int64
	ParallelQueueDepth        int64
	ParallelOrderedQueueDepth int64

	TotalDispatched uint64
	TotalErrors     uint64
	UptimeNs        uint64
}

// Snapshot creates a point-in-time snapshot of every tracked core plus the
// instance-wide gauges and totals.
func (m *Metrics) Snapshot() MetricsSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snap := MetricsSnapshot{
		Cores:                     make([]CoreSnapshot, 0, len(m.cores)),
		AtomicQueueDepth:          m.AtomicQueueDepth.Load(),
		ParallelQueueDepth:        m.ParallelQueueDepth.Load(),
		ParallelOrderedQueueDepth: m.ParallelOrderedQueueDepth.Load(),
	}

	startTime := m.StartTime.Load()
	stopTime := m.StopTime.Load()
	if stopTime > 0 {
		snap.UptimeNs = uint64(stopTime - startTime)
	} else {
		snap.UptimeNs = uint64(time.Now().UnixNano() - startTime)
	}

	for id, c := range m.cores {
		cs := CoreSnapshot{
			Core:       id,
			Dispatched: c.Dispatched.Load(),
			Errors:     c.Errors.Load(),
			IdlePasses: c.IdlePasses.Load(),
		}
		opCount := c.OpCount.Load()
		if opCount > 0 {
			cs.AvgLatencyNs = c.TotalLatencyNs.Load() / opCount
			cs.LatencyP50Ns = calculatePercentile(c, opCount, 0.50)
			cs.LatencyP99Ns = calculatePercentile(c, opCount, 0.99)
			cs.LatencyP999Ns = calculatePercentile(c, opCount, 0.999)
		}
		for i := 0; i < numLatencyBuckets; i++ {
			cs.LatencyHistogram[i] = c.LatencyBuckets[i].Load()
		}
		snap.Cores = append(snap.Cores, cs)
		snap.TotalDispatched += cs.Dispatched
		snap.TotalErrors += cs.Errors
	}

	return snap
}

// calculatePercentile estimates the latency at the given percentile
// (0.0-1.0) using linear interpolation between histogram buckets.
func calculatePercentile(c *coreMetrics, totalOps uint64, percentile float64) uint64 {
	targetCount := uint64(float64(totalOps) * percentile)

	prevBucket := uint64(0)
	prevCount := uint64(0)
	for i, bucket := range LatencyBuckets {
		bucketCount := c.LatencyBuckets[i].Load()
		if bucketCount >= targetCount {
			if bucketCount == prevCount {
				return bucket
			}
			fraction := float64(targetCount-prevCount) / float64(bucketCount-prevCount)
			return prevBucket + uint64(fraction*float64(bucket-prevBucket))
		}
		prevBucket = bucket
		prevCount = bucketCount
	}
	return LatencyBuckets[numLatencyBuckets-1]
}

// schedObserver adapts Metrics onto sched.Observer, so internal/sched
// never has to import the root package.
type schedObserver struct {
	m *Metrics
}

func (o schedObserver) ObserveDispatch(core int, _ uint32, _ int, latencyNs uint64) {
	o.m.RecordDispatch(core, latencyNs)
}

func (o schedObserver) ObserveIdle(core int) {
	o.m.RecordIdle(core)
}

func (o schedObserver) ObserveError(core int, _ uint32, _ error) {
	o.m.RecordError(core)
}
