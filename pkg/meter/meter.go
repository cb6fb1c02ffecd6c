// Package meter aggregates calibrated voltage/current pairs over whole AC
// periods into periodic measurement snapshots.
package meter

import (
	"sync"
	"time"

	"github.com/itohio/wattmeter/pkg/config"
	"github.com/itohio/wattmeter/pkg/sample"
)

// VariableMeasure holds statistics of one variable in physical units.
type VariableMeasure struct {
	Min  float32 `json:"min"`
	Max  float32 `json:"max"`
	Mean float32 `json:"mean"`
	RMS  float32 `json:"rms"`
}

// PowerMeasure holds power metrics. Factor and Reactive are 0 when the
// apparent power is 0.
type PowerMeasure struct {
	Active   float32 `json:"active"`
	Apparent float32 `json:"apparent"`
	Reactive float32 `json:"reactive"`
	Factor   float32 `json:"factor"`
}

// CalculatedMeasures is a snapshot published once per chunk.
type CalculatedMeasures struct {
	Timestamp  time.Time       `json:"timestamp"`
	SampleRate float32         `json:"sample_rate"` // Words per second
	Frequency  float32         `json:"frequency"`   // Signal frequency in Hz, 0 for DC
	Periods    int             `json:"periods"`     // Periods closed in the chunk
	Samples    uint64          `json:"samples"`     // Measures in the closed periods, the divisor of the statistics
	Voltage    VariableMeasure `json:"voltage"`
	Current    VariableMeasure `json:"current"`
	Power      PowerMeasure    `json:"power"`
}

// Calculated detects AC periods in a measure stream and publishes
// CalculatedMeasures roughly once per configured chunk duration.
type Calculated struct {
	chunkSamples int
	groupSize    int
	now          func() time.Time

	mu           sync.RWMutex
	period       Accumulator // Open period
	chunk        Accumulator // Closed periods of the current chunk
	smoother     *Smoother
	voltageScale float32
	currentScale float32
	prevVoltage  int16
	processed    int
	periods      int
	chunkStart   time.Time
	latest       CalculatedMeasures
	published    bool

	callbacks []func(CalculatedMeasures)
	cbMu      sync.RWMutex
}

// New creates a calculated meter with unit scale factors.
func New(cfg *config.Config) *Calculated {
	return &Calculated{
		chunkSamples: cfg.ChunkSamples(),
		groupSize:    cfg.Sampler.GroupSize,
		now:          time.Now,
		smoother:     NewSmoother(cfg.Calculation.FrequencyWindow),
		voltageScale: 1,
		currentScale: 1,
	}
}

// SetScaleFactors sets the physical units per unscaled unit. A change
// discards the open chunk and period collected under the previous factors,
// so the next snapshot is published only after a full chunk under the new
// factors.
func (c *Calculated) SetScaleFactors(voltage, current float32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if voltage == c.voltageScale && current == c.currentScale {
		return
	}
	c.voltageScale = voltage
	c.currentScale = current
	c.discard()
}

// ScaleFactors returns the factors applied to the current chunk.
func (c *Calculated) ScaleFactors() (voltage, current float32) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.voltageScale, c.currentScale
}

// Add processes measures in arrival order, publishing every chunk completed
// on the way.
func (c *Calculated) Add(measures ...sample.Measure) {
	var ready []CalculatedMeasures

	c.mu.Lock()
	for _, m := range measures {
		if out, ok := c.add(m); ok {
			ready = append(ready, out)
		}
	}
	c.mu.Unlock()

	for _, out := range ready {
		c.notifyCallbacks(out)
	}
}

// Latest returns the last published snapshot.
func (c *Calculated) Latest() (CalculatedMeasures, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.latest, c.published
}

// Reset drops all collected state including frequency history.
func (c *Calculated) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.discard()
	c.smoother.Reset()
	c.prevVoltage = 0
}

// OnPublish registers a callback invoked with every published snapshot.
// Callbacks run on the caller of Add and should return quickly.
func (c *Calculated) OnPublish(callback func(CalculatedMeasures)) {
	c.cbMu.Lock()
	defer c.cbMu.Unlock()
	c.callbacks = append(c.callbacks, callback)
}

// add must be called with mu held.
func (c *Calculated) add(m sample.Measure) (CalculatedMeasures, bool) {
	if c.chunkStart.IsZero() {
		c.chunkStart = c.now()
	}

	c.period.Add(m)
	if c.prevVoltage > 0 && m.Voltage <= 0 {
		c.chunk.Merge(&c.period)
		c.period.Reset()
		c.periods++
	}
	c.prevVoltage = m.Voltage

	c.processed++
	if c.processed <= c.chunkSamples {
		return CalculatedMeasures{}, false
	}

	out := c.publish()
	return out, true
}

// publish closes the chunk. Must be called with mu held.
func (c *Calculated) publish() CalculatedMeasures {
	now := c.now()
	elapsed := now.Sub(c.chunkStart)

	// A DC signal never closes a period, so the whole chunk counts as one.
	if c.periods == 0 {
		c.chunk.Merge(&c.period)
		c.period.Reset()
	}

	out := CalculatedMeasures{
		Timestamp: now,
		Periods:   c.periods,
		Samples:   c.chunk.Count(),
		Voltage:   c.chunk.Voltage.Measure(c.voltageScale),
		Current:   c.chunk.Current.Measure(c.currentScale),
		Power:     c.chunk.Power(c.voltageScale, c.currentScale),
	}

	if elapsed > 0 {
		out.SampleRate = float32(float64(c.processed*c.groupSize) / elapsed.Seconds())
	}

	if c.periods == 0 {
		c.smoother.Reset()
	} else {
		c.smoother.Add(c.periods, elapsed)
		if c.smoother.Full() {
			out.Frequency = c.smoother.Frequency()
		} else if elapsed > 0 {
			out.Frequency = float32(float64(c.periods) / elapsed.Seconds())
		}
	}

	c.latest = out
	c.published = true

	c.chunk.Reset()
	c.processed = 0
	c.periods = 0
	c.chunkStart = now

	return out
}

// discard drops the open period and chunk. Must be called with mu held.
func (c *Calculated) discard() {
	c.period.Reset()
	c.chunk.Reset()
	c.processed = 0
	c.periods = 0
	c.chunkStart = time.Time{}
}

func (c *Calculated) notifyCallbacks(out CalculatedMeasures) {
	c.cbMu.RLock()
	callbacks := make([]func(CalculatedMeasures), len(c.callbacks))
	copy(callbacks, c.callbacks)
	c.cbMu.RUnlock()

	for _, cb := range callbacks {
		if cb != nil {
			cb(out)
		}
	}
}
