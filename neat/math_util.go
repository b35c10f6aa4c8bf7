package neat

import (
	"math"
)

// clamp restricts a value to [minVal, maxVal]. NaN collapses to minVal.
func clamp(value, minVal, maxVal float64) float64 {
	if math.IsNaN(value) {
		return minVal
	}
	return math.Max(minVal, math.Min(value, maxVal))
}

func clampRate(value float64) float64 {
	return clamp(value, 0, 1)
}

func clampInt(value, minVal, maxVal int) int {
	if value < minVal {
		return minVal
	}
	if value > maxVal {
		return maxVal
	}
	return value
}

// summary describes a sample of float64 values.
type summary struct {
	Min, Max, Mean, Stdev float64
}

// summarize computes the extremes, mean and sample standard deviation of
// values in one pass (Welford). An empty sample summarizes to zeros.
func summarize(values []float64) summary {
	if len(values) == 0 {
		return summary{}
	}
	s := summary{Min: values[0], Max: values[0]}
	var m2 float64
	for i, v := range values {
		s.Min = math.Min(s.Min, v)
		s.Max = math.Max(s.Max, v)
		delta := v - s.Mean
		s.Mean += delta / float64(i+1)
		m2 += delta * (v - s.Mean)
	}
	if len(values) > 1 {
		s.Stdev = math.Sqrt(m2 / float64(len(values)-1))
	}
	return s
}
