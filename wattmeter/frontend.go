package main

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/reef-pi/hal"
	"github.com/reef-pi/rpi/i2c"

	"github.com/itohio/wattmeter/pkg/adc"
	"github.com/itohio/wattmeter/pkg/calibration"
	"github.com/itohio/wattmeter/pkg/config"
	"github.com/itohio/wattmeter/pkg/frontend"
	"github.com/itohio/wattmeter/pkg/gpio"
	"github.com/itohio/wattmeter/pkg/ranges"
	"github.com/itohio/wattmeter/pkg/sample"
)

// hardware owns the sample source and the range selector outputs.
type hardware struct {
	source   adc.Source
	mock     *adc.Mock
	expander *gpio.Expander
}

// openHardware connects the serial streamer or creates the simulated one.
// The expander is only opened when enabled in the configuration.
func openHardware(cfg *config.Config, useMock bool) (*hardware, error) {
	hw := &hardware{}

	if useMock {
		hw.mock = adc.NewMock(cfg, true)
		hw.source = hw.mock
		log.Println("Using simulated ADC")
	} else {
		dev := adc.New(cfg.Serial.Port, cfg.Serial.BaudRate, adc.DefaultBufferSize)
		dev.SetReadTimeout(cfg.Serial.ReadTimeout)
		if err := dev.Connect(); err != nil {
			return nil, fmt.Errorf("failed to connect to %s: %w", cfg.Serial.Port, err)
		}
		hw.source = dev
		log.Printf("Connected to serial port: %s", cfg.Serial.Port)
	}

	if cfg.GPIO.Enabled {
		bus, err := i2c.New()
		if err != nil {
			hw.Close()
			return nil, fmt.Errorf("failed to open i2c bus: %w", err)
		}
		expander, err := gpio.NewExpander(bus, byte(cfg.GPIO.Address))
		if err != nil {
			bus.Close()
			hw.Close()
			return nil, fmt.Errorf("failed to initialize expander: %w", err)
		}
		hw.expander = expander
	}

	return hw, nil
}

// pins returns the selector outputs of an input.
func (hw *hardware) pins(name string, numbers []int) ([]hal.DigitalOutputPin, error) {
	if hw.expander == nil {
		return gpio.NewVirtualPins(name, len(numbers)), nil
	}
	return hw.expander.Pins(numbers)
}

// selector builds the range selector of an input. The simulated source
// follows the same selection as the pins.
func (hw *hardware) selector(name string, ch adc.Channel, cc config.ChannelConfig) (frontend.RangeSelector, error) {
	pins, err := hw.pins(name, cc.Pins)
	if err != nil {
		return nil, err
	}
	sel, err := frontend.NewSelector(cc.Selector, pins)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	if hw.mock == nil {
		return sel, nil
	}
	return frontend.Selectors{sel, frontend.SelectorFunc(func(index int) error {
		return hw.mock.SelectRange(ch, index)
	})}, nil
}

// Close releases the source and the expander.
func (hw *hardware) Close() error {
	var errs []error
	if hw.source != nil {
		errs = append(errs, hw.source.Close())
	}
	if hw.expander != nil {
		errs = append(errs, hw.expander.Close())
	}
	return errors.Join(errs...)
}

// newFrontEnd builds the calibrated dual-input front end.
func newFrontEnd(ctx context.Context, cfg *config.Config, hw *hardware, store calibration.Store) (*frontend.Dual, error) {
	characteristic := sample.LinearCharacteristic(cfg.Sampler.FullScale)
	sampler := frontend.NewBlockSampler(hw.source, cfg.Sampler.CalibrationBlocks, characteristic)

	region := ranges.Region{
		Lowest:  uint16(cfg.Ranges.LowestInput),
		Highest: uint16(cfg.Ranges.HighestInput),
	}
	thresholds := ranges.Thresholds{
		Overflows:      cfg.Ranges.Overflows,
		ResetOverflows: cfg.Ranges.ResetOverflows,
		Underflows:     cfg.Ranges.Underflows,
	}

	newMeter := func(name string, ch adc.Channel, cc config.ChannelConfig) (*frontend.ChannelMeter, error) {
		sel, err := hw.selector(name, ch, cc)
		if err != nil {
			return nil, err
		}

		zero := defaultZero(ctx, cfg, sampler, cc.DefaultZero)
		factors := make([]float32, len(cc.ScaleFactors))
		for i, f := range cc.ScaleFactors {
			factors[i] = float32(f)
		}

		set := ranges.New(len(factors), region, thresholds)
		m := frontend.NewChannelMeter(name, ch, set, sel, store)
		if err := m.Init(zero, factors); err != nil {
			return nil, err
		}
		if cc.FixedRange != nil {
			if err := m.SetRange(*cc.FixedRange); err != nil {
				return nil, fmt.Errorf("%s: %w", name, err)
			}
		}
		return m, nil
	}

	vCh := adc.Channel(cfg.Sampler.VoltageChannel)
	cCh := adc.Channel(cfg.Sampler.CurrentChannel)

	voltage, err := newMeter(calibration.KeyVoltage, vCh, cfg.Voltage)
	if err != nil {
		return nil, err
	}
	current, err := newMeter(calibration.KeyCurrent, cCh, cfg.Current)
	if err != nil {
		return nil, err
	}

	demux, err := sample.NewDemuxer([]adc.Channel{vCh, cCh}, cfg.Sampler.GroupSize, characteristic)
	if err != nil {
		return nil, err
	}

	return frontend.NewDual(hw.source, demux, voltage, current, sampler)
}

// defaultZero reads the analog ground reference when one is wired and falls
// back to the configured value otherwise.
func defaultZero(ctx context.Context, cfg *config.Config, sampler frontend.Sampler, fallback uint16) uint16 {
	if cfg.Sampler.ZeroChannel < 0 {
		return fallback
	}
	zero, err := sampler.Average(ctx, adc.Channel(cfg.Sampler.ZeroChannel))
	if err != nil {
		log.Printf("Failed to read zero reference, using %d: %v", fallback, err)
		return fallback
	}
	return zero
}
