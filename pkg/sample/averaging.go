package sample

// Averager accumulates unsigned readings and reports their rounded mean.
type Averager struct {
	sum   uint64
	count uint64
}

// Add accumulates a reading.
func (a *Averager) Add(v uint16) {
	a.sum += uint64(v)
	a.count++
}

// Count returns the number of accumulated readings.
func (a *Averager) Count() uint64 {
	return a.count
}

// Value returns the mean rounded to the nearest integer, or 0 when empty.
func (a *Averager) Value() uint16 {
	if a.count == 0 {
		return 0
	}
	return uint16((a.sum + a.count/2) / a.count)
}

// Reset clears the accumulated readings.
func (a *Averager) Reset() {
	a.sum = 0
	a.count = 0
}
