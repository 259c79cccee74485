package util

import (
	"math"
	"sync"
)

// Stats summarizes a set of samples.
type Stats struct {
	StdDeviation float64 `json:"std_deviation"`
	Min          float64 `json:"min"`
	Max          float64 `json:"max"`
	Mean         float64 `json:"mean"`
	MinMaxRatio  float64 `json:"min_max_ratio"`
}

// NewStats computes population statistics over values.
func NewStats(values []float64) Stats {
	if len(values) == 0 {
		return Stats{}
	}

	s := Stats{Min: values[0], Max: values[0]}
	var sum float64
	for _, v := range values {
		sum += v
		s.Min = math.Min(s.Min, v)
		s.Max = math.Max(s.Max, v)
	}
	s.Mean = sum / float64(len(values))

	var sq float64
	for _, v := range values {
		d := v - s.Mean
		sq += d * d
	}
	s.StdDeviation = math.Sqrt(sq / float64(len(values)))

	s.MinMaxRatio = 1
	if s.Max > 0 {
		s.MinMaxRatio = s.Min / s.Max
	}
	return s
}

// DistributionStats rates how evenly entries are spread over shards.
type DistributionStats struct {
	Stats
	// DistributionQuality is 1 for a perfectly even spread and approaches 0 as the
	// spread gets worse.
	DistributionQuality float64 `json:"distribution_quality"`
}

// NewDistributionStats computes DistributionStats from per-shard sizes.
func NewDistributionStats(shardSizes []float64) DistributionStats {
	s := NewStats(shardSizes)
	var cv float64
	if s.Mean > 0 {
		cv = s.StdDeviation / s.Mean
	}
	return DistributionStats{
		Stats:               s,
		DistributionQuality: (1-math.Min(1, cv))*0.5 + s.MinMaxRatio*0.5,
	}
}

// ----------------------------------------------------------------------------
// SizeHistogram
// ----------------------------------------------------------------------------

// histogramBounds are exponential bucket upper bounds from 16 B to 4 GiB.
var histogramBounds = []int{
	16, 64, 256, 1 << 10, 4 << 10,
	16 << 10, 64 << 10, 256 << 10, 1 << 20,
	4 << 20, 16 << 20, 64 << 20,
	256 << 20, 1 << 30, 4 << 30,
}

// SizeHistogram buckets value sizes so GetInfo can estimate sizes from a sample.
//
// Thread-safety: all methods are safe for concurrent use.
type SizeHistogram struct {
	mu      sync.RWMutex
	buckets [16]int64 // one per bound, plus one for larger values
	count   int64
	sum     int64
}

// NewSizeHistogram creates an empty histogram.
func NewSizeHistogram() *SizeHistogram {
	return &SizeHistogram{}
}

// AddSample records one value size.
func (h *SizeHistogram) AddSample(size int) {
	idx := len(histogramBounds)
	for i, bound := range histogramBounds {
		if size <= bound {
			idx = i
			break
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.buckets[idx]++
	h.count++
	h.sum += int64(size)
}

// Count returns the number of samples.
func (h *SizeHistogram) Count() int64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.count
}

// AverageSize returns the mean sample size.
func (h *SizeHistogram) AverageSize() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.count == 0 {
		return 0
	}
	return int(h.sum / h.count)
}

// MedianEstimate estimates the median sample size from the buckets.
func (h *SizeHistogram) MedianEstimate() int {
	return h.Percentile(50)
}

// Percentile estimates the p-th percentile (0-100) of the sample sizes.
func (h *SizeHistogram) Percentile(p int) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.count == 0 || p < 0 || p > 100 {
		return 0
	}

	target := int64(math.Ceil(float64(h.count) * float64(p) / 100))
	var seen int64
	for i, n := range h.buckets {
		seen += n
		if seen < target {
			continue
		}
		switch {
		case i == 0:
			return histogramBounds[0] / 2
		case i < len(histogramBounds):
			return (histogramBounds[i-1] + histogramBounds[i]) / 2
		default:
			return histogramBounds[len(histogramBounds)-1] * 2
		}
	}
	return int(h.sum / h.count)
}
