package authcore

import (
	"sync/atomic"
	"time"
)

// MetricID names one engine counter.
type MetricID uint16

const (
	MetricRegisterSuccess MetricID = iota
	MetricRegisterDuplicate
	MetricRegisterInvalid
	MetricRegisterRateLimited
	MetricLoginSuccess
	MetricLoginFailure
	MetricLoginRateLimited
	MetricLoginSuspended
	MetricRefreshSuccess
	MetricRefreshFailure
	MetricRefreshRateLimited
	MetricResolveSuccess
	MetricResolveFailure
	MetricPasswordRehash
	MetricPasswordChangeSuccess
	MetricPasswordChangeInvalidOld
	MetricAccountStatusChange
	MetricAccountRoleChange
	MetricProfileUpdate
	MetricInternalError
	MetricResolveLatency
	metricIDCount
)

const (
	histBucketCount = 8
	cacheLineSize   = 64
)

// HistogramBounds are the upper bounds of the latency buckets, in seconds.
// The last bucket is unbounded.
var HistogramBounds = [histBucketCount]float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 0}

type latencyHistogram struct {
	buckets [histBucketCount]atomic.Uint64
	sumNano atomic.Uint64
}

type paddedCounter struct {
	atomic.Uint64
	_ [cacheLineSize - 8]byte
}

// Metrics holds lock-free counters and one latency histogram. A nil or
// disabled *Metrics ignores every update.
type Metrics struct {
	enabled       bool
	enableLatency bool
	counters      [MetricResolveLatency]paddedCounter
	latency       latencyHistogram
}

// MetricsSnapshot is a point-in-time copy of every counter. Histogram
// buckets are non-cumulative.
type MetricsSnapshot struct {
	Counters     map[MetricID]uint64
	Histograms   map[MetricID][]uint64
	HistogramSum map[MetricID]time.Duration
}

func NewMetrics(cfg MetricsConfig) *Metrics {
	return &Metrics{
		enabled:       cfg.Enabled,
		enableLatency: cfg.Enabled && cfg.EnableLatencyHistograms,
	}
}

func (m *Metrics) Enabled() bool {
	return m != nil && m.enabled
}

func (m *Metrics) LatencyEnabled() bool {
	return m != nil && m.enableLatency
}

func (m *Metrics) Inc(id MetricID) {
	if m == nil || !m.enabled || id >= MetricResolveLatency {
		return
	}
	m.counters[id].Add(1)
}

// Observe records d in the histogram for id. Only MetricResolveLatency
// carries a histogram.
func (m *Metrics) Observe(id MetricID, d time.Duration) {
	if m == nil || !m.enableLatency || id != MetricResolveLatency {
		return
	}
	m.latency.buckets[bucketIndex(d)].Add(1)
	if d > 0 {
		m.latency.sumNano.Add(uint64(d))
	}
}

func (m *Metrics) Value(id MetricID) uint64 {
	if m == nil || id >= MetricResolveLatency {
		return 0
	}
	return m.counters[id].Load()
}

func (m *Metrics) Snapshot() MetricsSnapshot {
	s := MetricsSnapshot{
		Counters:     map[MetricID]uint64{},
		Histograms:   map[MetricID][]uint64{},
		HistogramSum: map[MetricID]time.Duration{},
	}
	if m == nil || !m.enabled {
		return s
	}

	for id := range MetricResolveLatency {
		s.Counters[id] = m.counters[id].Load()
	}
	if m.enableLatency {
		buckets := make([]uint64, histBucketCount)
		for i := range buckets {
			buckets[i] = m.latency.buckets[i].Load()
		}
		s.Histograms[MetricResolveLatency] = buckets
		s.HistogramSum[MetricResolveLatency] = time.Duration(m.latency.sumNano.Load())
	}
	return s
}

// bucketIndex finds the first bucket whose bound holds d. Bounds are
// inclusive; the trailing zero bound catches everything else.
func bucketIndex(d time.Duration) int {
	secs := d.Seconds()
	for i, bound := range HistogramBounds[:histBucketCount-1] {
		if secs <= bound {
			return i
		}
	}
	return histBucketCount - 1
}
