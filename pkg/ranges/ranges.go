// Package ranges implements the gain ranges of a multi-range analog input
// together with overflow/underflow scoring used to pick the best range.
//
// Ranges are ordered from the least sensitive (index 0) to the most
// sensitive (index N-1).
package ranges

import (
	"fmt"
	"math"

	"github.com/chewxy/math32"
)

// Region is the linear region of the converter in output units.
type Region struct {
	Lowest  uint16
	Highest uint16
}

// Contains reports whether a raw value lies inside the region.
func (r Region) Contains(raw uint16) bool {
	return raw >= r.Lowest && raw <= r.Highest
}

// Thresholds control how fast the active range reacts.
type Thresholds struct {
	Overflows      int // Overflows tolerated before moving to a less sensitive range
	ResetOverflows int // Consecutive in-region samples clearing the overflow count
	Underflows     int // Consecutive underflows before moving to a more sensitive range
}

// DefaultRegion returns the linear region of the ESP32 ADC in tenths of mV.
func DefaultRegion() Region {
	return Region{Lowest: 1000, Highest: 9500}
}

// DefaultThresholds returns the scoring thresholds tuned for mains signals.
func DefaultThresholds() Thresholds {
	return Thresholds{
		Overflows:      2,
		ResetOverflows: 100,
		Underflows:     3000,
	}
}

// Range is one gain stage.
type Range struct {
	Zero        uint16
	ScaleFactor float32

	// Signed values strictly inside (underMin, underMax) read with better
	// precision on the next range.
	underMin, underMax int32
	hasUnderflow       bool
}

// Underflow returns the underflow band of the range and whether it has one.
func (r Range) Underflow() (lo, hi int32, ok bool) {
	return r.underMin, r.underMax, r.hasUnderflow
}

// Set is a group of ranges serving one input with auto-range scoring.
type Set struct {
	ranges     []Range
	region     Region
	thresholds Thresholds

	active     int
	auto       bool
	overflows  int
	recovery   int
	underflows int
}

// New creates a set of n ranges with unit scale factors and auto-ranging enabled.
func New(n int, region Region, thresholds Thresholds) *Set {
	if n < 1 {
		n = 1
	}
	s := &Set{
		ranges:     make([]Range, n),
		region:     region,
		thresholds: thresholds,
		auto:       true,
	}
	for i := range s.ranges {
		s.ranges[i].ScaleFactor = 1
	}
	s.updateUnderflows()
	return s
}

// Len returns the number of ranges.
func (s *Set) Len() int {
	return len(s.ranges)
}

// Range returns the range at index i.
func (s *Set) Range(i int) Range {
	return s.ranges[i]
}

// SetZeros sets the zero offset of every range.
func (s *Set) SetZeros(zeros []uint16) error {
	if len(zeros) != len(s.ranges) {
		return fmt.Errorf("expected %d zeros, got %d", len(s.ranges), len(zeros))
	}
	for i, z := range zeros {
		s.ranges[i].Zero = z
	}
	s.updateUnderflows()
	return nil
}

// Zeros returns the zero offsets of all ranges.
func (s *Set) Zeros() []uint16 {
	zeros := make([]uint16, len(s.ranges))
	for i, r := range s.ranges {
		zeros[i] = r.Zero
	}
	return zeros
}

// SetScaleFactors sets the scale factor of every range. Factors must be positive.
func (s *Set) SetScaleFactors(factors []float32) error {
	if len(factors) != len(s.ranges) {
		return fmt.Errorf("expected %d scale factors, got %d", len(s.ranges), len(factors))
	}
	for i, f := range factors {
		if !(f > 0) || math32.IsInf(f, 1) {
			return fmt.Errorf("range %d: invalid scale factor %v", i, f)
		}
	}
	for i, f := range factors {
		s.ranges[i].ScaleFactor = f
	}
	s.updateUnderflows()
	return nil
}

// ScaleFactors returns the scale factors of all ranges.
func (s *Set) ScaleFactors() []float32 {
	factors := make([]float32, len(s.ranges))
	for i, r := range s.ranges {
		factors[i] = r.ScaleFactor
	}
	return factors
}

// Active returns the active range index.
func (s *Set) Active() int {
	return s.active
}

// ScaleFactor returns the scale factor of the active range.
func (s *Set) ScaleFactor() float32 {
	return s.ranges[s.active].ScaleFactor
}

// AutoRange reports whether scoring is enabled.
func (s *Set) AutoRange() bool {
	return s.auto
}

// SetAutoRange enables or disables scoring.
func (s *Set) SetAutoRange(enabled bool) {
	s.auto = enabled
	s.resetCounters()
}

// SetActive switches the active range and restarts scoring.
func (s *Set) SetActive(i int) error {
	if i < 0 || i >= len(s.ranges) {
		return fmt.Errorf("invalid range %d of %d", i, len(s.ranges))
	}
	s.active = i
	s.resetCounters()
	return nil
}

// Process converts a raw value into a signed value relative to the active
// range zero and scores it when auto-ranging.
func (s *Set) Process(raw uint16) int16 {
	r := &s.ranges[s.active]
	v := int32(raw) - int32(r.Zero)

	if s.auto {
		if !s.region.Contains(raw) {
			s.overflows++
			s.recovery = 0
		} else if s.overflows > 0 {
			s.recovery++
			if s.recovery > s.thresholds.ResetOverflows {
				s.overflows = 0
				s.recovery = 0
			}
		}

		if r.hasUnderflow && v > r.underMin && v < r.underMax {
			s.underflows++
		} else {
			s.underflows = 0
		}
	}

	return clamp16(v)
}

// Best returns the range that should be active. Overflow takes priority
// over underflow.
func (s *Set) Best() int {
	if s.overflows > s.thresholds.Overflows && s.active > 0 {
		return s.active - 1
	}
	if s.underflows > s.thresholds.Underflows && s.active < len(s.ranges)-1 {
		return s.active + 1
	}
	return s.active
}

// Counters returns the overflow, recovery and underflow counters.
func (s *Set) Counters() (overflows, recovery, underflows int) {
	return s.overflows, s.recovery, s.underflows
}

func (s *Set) resetCounters() {
	s.overflows = 0
	s.recovery = 0
	s.underflows = 0
}

// updateUnderflows derives the underflow band of every range but the most
// sensitive one from the ratio to the next range scale factor.
func (s *Set) updateUnderflows() {
	for i := range s.ranges {
		r := &s.ranges[i]
		if i == len(s.ranges)-1 {
			r.underMin, r.underMax, r.hasUnderflow = 0, 0, false
			continue
		}
		p := s.ranges[i+1].ScaleFactor / r.ScaleFactor
		zero := float32(r.Zero)
		r.underMin = int32(math32.Round(p * (float32(s.region.Lowest) - zero)))
		r.underMax = int32(math32.Round(p * (float32(s.region.Highest) - zero)))
		r.hasUnderflow = true
	}
}

func clamp16(v int32) int16 {
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	if v < math.MinInt16 {
		return math.MinInt16
	}
	return int16(v)
}
