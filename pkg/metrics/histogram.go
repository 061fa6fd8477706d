package metrics

import (
	"slices"
	"sync"
	"time"
)

// LatencySummary describes the samples held by a Histogram.
type LatencySummary struct {
	Count   int64         `json:"count"`
	Average time.Duration `json:"average"`
	Min     time.Duration `json:"min"`
	Max     time.Duration `json:"max"`
	P50     time.Duration `json:"p50"`
	P90     time.Duration `json:"p90"`
	P99     time.Duration `json:"p99"`
}

// Histogram is a circular buffer of duration samples used to compute
// percentiles for Snapshot. Count, Average, Min and Max cover every sample
// ever added; percentiles cover the most recent capacity samples.
type Histogram struct {
	mu       sync.Mutex
	samples  []time.Duration
	capacity int
	index    int
	count    int64
	total    time.Duration
	min      time.Duration
	max      time.Duration
}

// NewHistogram creates a histogram keeping up to sampleSize samples
func NewHistogram(sampleSize int) *Histogram {
	if sampleSize <= 0 {
		sampleSize = 1000
	}
	return &Histogram{
		samples:  make([]time.Duration, sampleSize),
		capacity: sampleSize,
	}
}

// Add records a sample
func (h *Histogram) Add(d time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.samples[h.index] = d
	h.index = (h.index + 1) % h.capacity
	h.count++
	h.total += d

	if h.count == 1 || d < h.min {
		h.min = d
	}
	if d > h.max {
		h.max = d
	}
}

// Summary returns the current statistics
func (h *Histogram) Summary() LatencySummary {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.count == 0 {
		return LatencySummary{}
	}

	n := h.count
	if n > int64(h.capacity) {
		n = int64(h.capacity)
	}
	sorted := slices.Clone(h.samples[:n])
	slices.Sort(sorted)

	return LatencySummary{
		Count:   h.count,
		Average: h.total / time.Duration(h.count),
		Min:     h.min,
		Max:     h.max,
		P50:     percentile(sorted, 50),
		P90:     percentile(sorted, 90),
		P99:     percentile(sorted, 99),
	}
}

// percentile interpolates linearly between the closest ranks of sorted.
func percentile(sorted []time.Duration, p int) time.Duration {
	switch {
	case len(sorted) == 0:
		return 0
	case p <= 0:
		return sorted[0]
	case p >= 100:
		return sorted[len(sorted)-1]
	}

	rank := float64(p) / 100.0 * float64(len(sorted)-1)
	lower := int(rank)
	if lower+1 >= len(sorted) {
		return sorted[len(sorted)-1]
	}
	fraction := rank - float64(lower)
	return sorted[lower] + time.Duration(fraction*float64(sorted[lower+1]-sorted[lower]))
}

// Reset drops every sample
func (h *Histogram) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()

	clear(h.samples)
	h.index = 0
	h.count = 0
	h.total = 0
	h.min = 0
	h.max = 0
}
