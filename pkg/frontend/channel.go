// Package frontend binds gain ranges to the physical inputs of the analog
// front end and coordinates range changes with acquisition.
package frontend

import (
	"context"
	"fmt"
	"log"

	"github.com/itohio/wattmeter/pkg/adc"
	"github.com/itohio/wattmeter/pkg/calibration"
	"github.com/itohio/wattmeter/pkg/ranges"
)

// ChannelMeter converts raw values of one auto-ranging input.
type ChannelMeter struct {
	name     string
	channel  adc.Channel
	set      *ranges.Set
	selector RangeSelector
	store    calibration.Store
}

// ChannelStatus is a snapshot of a channel's range state.
type ChannelStatus struct {
	Name         string    `json:"name"`
	Active       int       `json:"active"`
	Auto         bool      `json:"auto"`
	Zeros        []uint16  `json:"zeros"`
	ScaleFactors []float32 `json:"scale_factors"`
}

// NewChannelMeter creates a meter for the input sampled on channel. The name
// is the calibration store key.
func NewChannelMeter(name string, channel adc.Channel, set *ranges.Set, selector RangeSelector, store calibration.Store) *ChannelMeter {
	return &ChannelMeter{
		name:     name,
		channel:  channel,
		set:      set,
		selector: selector,
		store:    store,
	}
}

// Name returns the calibration key.
func (m *ChannelMeter) Name() string {
	return m.name
}

// Channel returns the ADC channel.
func (m *ChannelMeter) Channel() adc.Channel {
	return m.channel
}

// Init loads stored zeros, falling back to defaultZero on every range when
// the channel was never calibrated, applies scale factors and selects the
// least sensitive range.
func (m *ChannelMeter) Init(defaultZero uint16, factors []float32) error {
	zeros, err := m.store.Read(m.name, m.set.Len())
	if err != nil {
		log.Printf("%s: failed to read calibration, using default zero: %v", m.name, err)
	}
	if calibration.Uncalibrated(zeros) {
		zeros = make([]uint16, m.set.Len())
		for i := range zeros {
			zeros[i] = defaultZero
		}
	}

	if err := m.set.SetZeros(zeros); err != nil {
		return fmt.Errorf("%s: %w", m.name, err)
	}
	if err := m.set.SetScaleFactors(factors); err != nil {
		return fmt.Errorf("%s: %w", m.name, err)
	}

	return m.Apply(ChangeTo(0))
}

// Process converts a raw value of the active range.
func (m *ChannelMeter) Process(raw uint16) int16 {
	return m.set.Process(raw)
}

// ScaleFactor returns the scale factor of the active range.
func (m *ChannelMeter) ScaleFactor() float32 {
	return m.set.ScaleFactor()
}

// Active returns the active range.
func (m *ChannelMeter) Active() int {
	return m.set.Active()
}

// AutoRange reports whether auto-ranging is enabled.
func (m *ChannelMeter) AutoRange() bool {
	return m.set.AutoRange()
}

// AutoRangeAction returns the range change auto-ranging asks for.
func (m *ChannelMeter) AutoRangeAction() RangeChange {
	if !m.set.AutoRange() {
		return NoChange()
	}
	best := m.set.Best()
	if best == m.set.Active() {
		return NoChange()
	}
	return ChangeTo(best)
}

// Apply switches the active range and drives the selector.
func (m *ChannelMeter) Apply(change RangeChange) error {
	index, ok := change.Index()
	if !ok {
		return nil
	}

	prev := m.set.Active()
	if err := m.set.SetActive(index); err != nil {
		return fmt.Errorf("%s: %w", m.name, err)
	}
	if err := m.selector.Select(index); err != nil {
		return fmt.Errorf("%s: failed to select range %d: %w", m.name, index, err)
	}
	if prev != index {
		log.Printf("%s: range %d -> %d", m.name, prev, index)
	}
	return nil
}

// SetRange pins the given range. An index equal to the number of ranges
// re-enables auto-ranging from the current range.
func (m *ChannelMeter) SetRange(index int) error {
	if index == m.set.Len() {
		m.set.SetAutoRange(true)
		return nil
	}
	if index < 0 || index > m.set.Len() {
		return fmt.Errorf("%s: invalid range %d", m.name, index)
	}
	m.set.SetAutoRange(false)
	return m.Apply(ChangeTo(index))
}

// CalibrateZeros measures the zero of every range with the input shorted,
// persists them and restores the previously active range. Acquisition must
// be paused.
func (m *ChannelMeter) CalibrateZeros(ctx context.Context, sampler Sampler) error {
	values, err := m.sampleRanges(ctx, sampler)
	if err != nil {
		return err
	}

	if err := m.set.SetZeros(values); err != nil {
		return fmt.Errorf("%s: %w", m.name, err)
	}
	log.Printf("%s: zeros calibrated %v", m.name, values)

	if err := m.store.Write(m.name, values); err != nil {
		return fmt.Errorf("%s: failed to persist zeros: %w", m.name, err)
	}
	return nil
}

// CalibrateFactors measures every range with a known reference applied and
// derives its scale factor. Acquisition must be paused.
func (m *ChannelMeter) CalibrateFactors(ctx context.Context, sampler Sampler, reference float32) error {
	if !(reference > 0) {
		return fmt.Errorf("%s: invalid reference %v", m.name, reference)
	}

	values, err := m.sampleRanges(ctx, sampler)
	if err != nil {
		return err
	}

	zeros := m.set.Zeros()
	factors := make([]float32, len(values))
	for i, v := range values {
		delta := int32(v) - int32(zeros[i])
		if delta <= 0 {
			return fmt.Errorf("%s: range %d reads %d at zero %d, reference not applied", m.name, i, v, zeros[i])
		}
		factors[i] = reference / float32(delta)
	}

	if err := m.set.SetScaleFactors(factors); err != nil {
		return fmt.Errorf("%s: %w", m.name, err)
	}
	log.Printf("%s: scale factors calibrated %v", m.name, factors)
	return nil
}

// Status returns a snapshot of the range state.
func (m *ChannelMeter) Status() ChannelStatus {
	return ChannelStatus{
		Name:         m.name,
		Active:       m.set.Active(),
		Auto:         m.set.AutoRange(),
		Zeros:        m.set.Zeros(),
		ScaleFactors: m.set.ScaleFactors(),
	}
}

// sampleRanges takes an averaged reading on every range and restores the
// active range on every exit path.
func (m *ChannelMeter) sampleRanges(ctx context.Context, sampler Sampler) (values []uint16, err error) {
	prev := m.set.Active()
	defer func() {
		if restoreErr := m.Apply(ChangeTo(prev)); restoreErr != nil && err == nil {
			err = restoreErr
		}
	}()

	values = make([]uint16, m.set.Len())
	for i := range values {
		if err := m.Apply(ChangeTo(i)); err != nil {
			return nil, err
		}
		v, err := sampler.Average(ctx, m.channel)
		if err != nil {
			return nil, fmt.Errorf("%s: range %d: %w", m.name, i, err)
		}
		values[i] = v
	}
	return values, nil
}
