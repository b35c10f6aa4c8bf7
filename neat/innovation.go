package neat

// InnovationTracker issues structural identities for one evolutionary run.
// It is owned by a single Engine and passed by handle into mutation calls;
// two runs never share a tracker.
type InnovationTracker struct {
	NextInnovation int
	NextNodeID     int
	Innovations    map[ConnectionKey]int // (from, to) -> innovation number issued this run
}

// NewInnovationTracker creates a tracker whose hidden node ids start at firstNodeID,
// which must lie above the fixed input/output id range.
func NewInnovationTracker(firstNodeID int) *InnovationTracker {
	return &InnovationTracker{
		NextInnovation: 0,
		NextNodeID:     firstNodeID,
		Innovations:    make(map[ConnectionKey]int),
	}
}

// GetInnovation returns the innovation number already issued for the directed
// pair, or allocates and records a new one.
func (t *InnovationTracker) GetInnovation(from, to int) int {
	key := ConnectionKey{InNodeID: from, OutNodeID: to}
	if innovation, ok := t.Innovations[key]; ok {
		return innovation
	}
	innovation := t.NextInnovation
	t.NextInnovation++
	t.Innovations[key] = innovation
	return innovation
}

// GetNewNodeID returns the next hidden node id.
func (t *InnovationTracker) GetNewNodeID() int {
	id := t.NextNodeID
	t.NextNodeID++
	return id
}

// Len reports how many distinct connections have been issued.
func (t *InnovationTracker) Len() int {
	return len(t.Innovations)
}
