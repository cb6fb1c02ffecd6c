package meter

import "time"

type chunkPeriods struct {
	periods int
	elapsed time.Duration
}

// Smoother averages the signal frequency over the last few chunks.
type Smoother struct {
	ring  []chunkPeriods
	next  int
	count int

	sumPeriods int
	sumElapsed time.Duration
}

// NewSmoother creates a smoother over window chunks.
func NewSmoother(window int) *Smoother {
	if window < 1 {
		window = 1
	}
	return &Smoother{ring: make([]chunkPeriods, window)}
}

// Add records the periods observed over elapsed, replacing the oldest chunk
// once the window is full.
func (s *Smoother) Add(periods int, elapsed time.Duration) {
	old := s.ring[s.next]
	if s.count == len(s.ring) {
		s.sumPeriods -= old.periods
		s.sumElapsed -= old.elapsed
	} else {
		s.count++
	}

	s.ring[s.next] = chunkPeriods{periods: periods, elapsed: elapsed}
	s.sumPeriods += periods
	s.sumElapsed += elapsed
	s.next = (s.next + 1) % len(s.ring)
}

// Full reports whether the window holds enough chunks.
func (s *Smoother) Full() bool {
	return s.count == len(s.ring)
}

// Frequency returns the averaged frequency in Hz.
func (s *Smoother) Frequency() float32 {
	if s.sumElapsed <= 0 {
		return 0
	}
	return float32(float64(s.sumPeriods) / s.sumElapsed.Seconds())
}

// Reset empties the window.
func (s *Smoother) Reset() {
	clear(s.ring)
	s.next = 0
	s.count = 0
	s.sumPeriods = 0
	s.sumElapsed = 0
}
