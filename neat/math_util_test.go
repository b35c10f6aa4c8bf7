package neat

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSummarize(t *testing.T) {
	s := summarize([]float64{2, 4, 4, 4, 5, 5, 7, 9})
	assert.Equal(t, 2.0, s.Min)
	assert.Equal(t, 9.0, s.Max)
	assert.InDelta(t, 5.0, s.Mean, 1e-12)
	assert.InDelta(t, math.Sqrt(32.0/7.0), s.Stdev, 1e-12)

	assert.Equal(t, summary{Min: 3, Max: 3, Mean: 3}, summarize([]float64{3}))
	assert.Equal(t, summary{}, summarize(nil))
}

func TestClamp(t *testing.T) {
	assert.Equal(t, 0.0, clamp(math.NaN(), 0, 1))
	assert.Equal(t, 1.0, clampRate(3))
	assert.Equal(t, 0.25, clampRate(0.25))
	assert.Equal(t, 20, clampInt(5, 20, 500))
	assert.Equal(t, 500, clampInt(900, 20, 500))
}
