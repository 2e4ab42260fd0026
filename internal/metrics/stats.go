package metrics

import (
	"math"
	"sort"

	"p2pscope/internal/report"
)

// Minimum sample counts for a percentile to be interpolated rather than
// reported as the max.
const (
	minSamplesP95 = 20
	minSamplesP99 = 100
)

// Summarize computes latency statistics over samples (ms).
func Summarize(samples []int64) report.Latency {
	if len(samples) == 0 {
		return report.Latency{}
	}

	values := sortedFloats(samples)
	p95, approx95 := resolvedPercentile(values, 0.95, minSamplesP95)
	p99, approx99 := resolvedPercentile(values, 0.99, minSamplesP99)

	return report.Latency{
		Samples:        len(values),
		Mean:           mean(values),
		Median:         median(values),
		StdDev:         stddev(values),
		Min:            values[0],
		Max:            values[len(values)-1],
		P95:            p95,
		P99:            p99,
		P95Approximate: approx95,
		P99Approximate: approx99,
	}
}

func sortedFloats(samples []int64) []float64 {
	values := make([]float64, len(samples))
	for i, s := range samples {
		values[i] = float64(s)
	}
	sort.Float64s(values)
	return values
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// meanOf averages samples in ascending order so the result does not depend
// on arrival order.
func meanOf(samples []int64) float64 {
	return mean(sortedFloats(samples))
}

func median(sorted []float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

// stddev is the sample standard deviation; 0 below two values.
func stddev(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	m := mean(values)
	var sq float64
	for _, v := range values {
		sq += (v - m) * (v - m)
	}
	return math.Sqrt(sq / float64(len(values)-1))
}

func resolvedPercentile(sorted []float64, p float64, minSamples int) (float64, bool) {
	if len(sorted) == 0 {
		return 0, false
	}
	if len(sorted) < minSamples {
		return sorted[len(sorted)-1], true
	}
	return percentile(sorted, p), false
}

// percentile interpolates linearly at rank (n-1)*p over sorted values.
func percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}
	if p <= 0 {
		return values[0]
	}
	if p >= 1 {
		return values[len(values)-1]
	}
	rank := p * float64(len(values)-1)
	lo := int(math.Floor(rank))
	if lo+1 >= len(values) {
		return values[lo]
	}
	frac := rank - float64(lo)
	return values[lo] + (values[lo+1]-values[lo])*frac
}
