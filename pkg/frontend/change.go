package frontend

// RangeChange is the outcome of an auto-range check: either no change or a
// switch to a specific range. It is applied explicitly by the caller.
type RangeChange struct {
	index  int
	change bool
}

// NoChange keeps the active range.
func NoChange() RangeChange {
	return RangeChange{}
}

// ChangeTo switches to range index.
func ChangeTo(index int) RangeChange {
	return RangeChange{index: index, change: true}
}

// Index returns the target range and whether a change is requested.
func (c RangeChange) Index() (int, bool) {
	return c.index, c.change
}
