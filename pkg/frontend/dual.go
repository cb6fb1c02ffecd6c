package frontend

import (
	"context"
	"fmt"
	"log"

	"github.com/itohio/wattmeter/pkg/adc"
	"github.com/itohio/wattmeter/pkg/sample"
)

// Dual pairs the voltage and current inputs sharing one acquisition session.
type Dual struct {
	source  adc.Source
	demux   *sample.Demuxer
	voltage *ChannelMeter
	current *ChannelMeter
	sampler Sampler

	voltageSlot int
	currentSlot int
	running     bool
	measures    []sample.Measure
}

// Status is a snapshot of both inputs.
type Status struct {
	Voltage ChannelStatus `json:"voltage"`
	Current ChannelStatus `json:"current"`
}

// NewDual creates a dual-channel meter. The demuxer must carry both channels.
func NewDual(source adc.Source, demux *sample.Demuxer, voltage, current *ChannelMeter, sampler Sampler) (*Dual, error) {
	d := &Dual{
		source:      source,
		demux:       demux,
		voltage:     voltage,
		current:     current,
		sampler:     sampler,
		voltageSlot: demux.Slot(voltage.Channel()),
		currentSlot: demux.Slot(current.Channel()),
	}
	if d.voltageSlot < 0 {
		return nil, fmt.Errorf("voltage channel %d is not sampled", voltage.Channel())
	}
	if d.currentSlot < 0 {
		return nil, fmt.Errorf("current channel %d is not sampled", current.Channel())
	}
	return d, nil
}

// Voltage returns the voltage input.
func (d *Dual) Voltage() *ChannelMeter {
	return d.voltage
}

// Current returns the current input.
func (d *Dual) Current() *ChannelMeter {
	return d.current
}

// Start begins acquisition of the demuxed channels.
func (d *Dual) Start() error {
	if err := d.source.Start(d.demux.Channels()); err != nil {
		return fmt.Errorf("failed to start acquisition: %w", err)
	}
	d.running = true
	return nil
}

// Stop ends acquisition. A failure only affects the current session.
func (d *Dual) Stop() {
	if !d.running {
		return
	}
	d.running = false
	if err := d.source.Stop(); err != nil {
		log.Printf("Failed to stop acquisition: %v", err)
	}
}

// Read returns the timestamp of the next block and its calibrated measures.
// The returned slice is reused by the next call.
func (d *Dual) Read(ctx context.Context) (uint64, []sample.Measure, error) {
	block, err := d.source.Read(ctx)
	if err != nil {
		return 0, nil, err
	}

	d.measures = d.measures[:0]
	d.demux.Demux(block, func(values []uint16) {
		d.measures = append(d.measures, sample.Measure{
			Voltage: d.voltage.Process(values[d.voltageSlot]),
			Current: d.current.Process(values[d.currentSlot]),
		})
	})

	return block.Timestamp, d.measures, nil
}

// AutoRange applies pending range changes of both inputs within a single
// acquisition pause. It reports whether any range changed.
func (d *Dual) AutoRange() (bool, error) {
	voltage := d.voltage.AutoRangeAction()
	current := d.current.AutoRangeAction()

	_, vChange := voltage.Index()
	_, cChange := current.Index()
	if !vChange && !cChange {
		return false, nil
	}

	err := d.pauseWhile(func() error {
		if err := d.voltage.Apply(voltage); err != nil {
			return err
		}
		return d.current.Apply(current)
	})
	return true, err
}

// SetRange pins a range of the named input, or re-enables auto-ranging when
// index equals the number of ranges.
func (d *Dual) SetRange(name string, index int) error {
	var m *ChannelMeter
	switch name {
	case d.voltage.Name():
		m = d.voltage
	case d.current.Name():
		m = d.current
	default:
		return fmt.Errorf("unknown input %q", name)
	}
	return d.pauseWhile(func() error {
		return m.SetRange(index)
	})
}

// CalibrateZeros measures and persists the zeros of both inputs.
func (d *Dual) CalibrateZeros(ctx context.Context) error {
	return d.pauseWhile(func() error {
		if err := d.voltage.CalibrateZeros(ctx, d.sampler); err != nil {
			return err
		}
		return d.current.CalibrateZeros(ctx, d.sampler)
	})
}

// CalibrateFactors derives the voltage scale factors from a known reference
// voltage applied to the input.
func (d *Dual) CalibrateFactors(ctx context.Context, reference float32) error {
	return d.pauseWhile(func() error {
		return d.voltage.CalibrateFactors(ctx, d.sampler, reference)
	})
}

// ScaleFactors returns the active scale factors of both inputs.
func (d *Dual) ScaleFactors() (voltage, current float32) {
	return d.voltage.ScaleFactor(), d.current.ScaleFactor()
}

// Status returns a snapshot of both inputs.
func (d *Dual) Status() Status {
	return Status{
		Voltage: d.voltage.Status(),
		Current: d.current.Status(),
	}
}

// pauseWhile runs fn with acquisition stopped and restarts it on every exit
// path if it was running.
func (d *Dual) pauseWhile(fn func() error) (err error) {
	if !d.running {
		return fn()
	}

	d.Stop()
	defer func() {
		if startErr := d.Start(); startErr != nil && err == nil {
			err = startErr
		}
	}()

	return fn()
}
