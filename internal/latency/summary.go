package latency

import (
	"fmt"
	"sort"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Summary describes a set of jitter samples in nanoseconds.
type Summary struct {
	Count  int     `json:"count"`
	Min    float64 `json:"min_ns"`
	Max    float64 `json:"max_ns"`
	Mean   float64 `json:"mean_ns"`
	StdDev float64 `json:"stddev_ns"`
	P99    float64 `json:"p99_ns"`
}

// Summarize computes the summary of samples using gonum.
func Summarize(samples []int64) Summary {
	if len(samples) == 0 {
		return Summary{}
	}
	x := make([]float64, len(samples))
	for i, v := range samples {
		x[i] = float64(v)
	}

	s := Summary{Count: len(x), Min: floats.Min(x), Max: floats.Max(x)}
	if len(x) == 1 {
		s.Mean, s.P99 = x[0], x[0]
		return s
	}
	s.Mean, s.StdDev = stat.MeanStdDev(x, nil)
	sort.Float64s(x)
	s.P99 = stat.Quantile(0.99, stat.Empirical, x, nil)
	return s
}

// WorstAbs returns the largest deviation from the period in either
// direction.
func (s Summary) WorstAbs() time.Duration {
	return time.Duration(max(-s.Min, s.Max))
}

func (s Summary) String() string {
	return fmt.Sprintf("n=%d min=%v max=%v mean=%v stddev=%v p99=%v",
		s.Count,
		time.Duration(s.Min), time.Duration(s.Max),
		time.Duration(s.Mean), time.Duration(s.StdDev), time.Duration(s.P99))
}
