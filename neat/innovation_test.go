package neat

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInnovationTrackerReusesPairs(t *testing.T) {
	tracker := NewInnovationTracker(5)

	first := tracker.GetInnovation(0, 3)
	second := tracker.GetInnovation(1, 3)
	assert.Equal(t, 0, first)
	assert.Equal(t, 1, second)
	assert.Equal(t, first, tracker.GetInnovation(0, 3))
	assert.NotEqual(t, first, tracker.GetInnovation(3, 0), "direction matters")
	assert.Equal(t, 3, tracker.Len())
}

func TestInnovationTrackerNodeIDs(t *testing.T) {
	tracker := NewInnovationTracker(5)
	assert.Equal(t, 5, tracker.GetNewNodeID())
	assert.Equal(t, 6, tracker.GetNewNodeID())
	assert.Equal(t, 7, tracker.NextNodeID)
}

func TestTrackersAreIndependent(t *testing.T) {
	a := NewInnovationTracker(3)
	b := NewInnovationTracker(3)

	a.GetInnovation(0, 2)
	a.GetInnovation(1, 2)
	a.GetNewNodeID()

	assert.Equal(t, 0, b.GetInnovation(1, 2))
	assert.Equal(t, 3, b.GetNewNodeID())
}
