package sample

import (
	"fmt"
	"log"

	"github.com/itohio/wattmeter/pkg/adc"
)

// UndefinedValue marks a channel that received no samples in a group.
const UndefinedValue = 0xFFFF

// Measure is one calibrated voltage/current pair in unscaled units.
type Measure struct {
	Voltage int16
	Current int16
}

// Characteristic maps 12-bit counts onto linear output units.
type Characteristic [adc.MaxCount + 1]uint16

// LinearCharacteristic returns a characteristic reaching fullScale at the
// highest count. A fullScale of adc.MaxCount yields raw counts.
func LinearCharacteristic(fullScale int) *Characteristic {
	var c Characteristic
	for i := range c {
		c[i] = uint16((i*fullScale + adc.MaxCount/2) / adc.MaxCount)
	}
	return &c
}

// Convert returns the output value of a count.
func (c *Characteristic) Convert(count uint16) uint16 {
	return c[count&adc.MaxCount]
}

// Demuxer splits interleaved raw blocks into per-channel averages.
type Demuxer struct {
	channels       []adc.Channel
	slots          [adc.MaxChannels]int
	groupSize      int
	characteristic *Characteristic

	averagers []Averager
	values    []uint16
}

// NewDemuxer creates a demuxer emitting values in the order of channels.
func NewDemuxer(channels []adc.Channel, groupSize int, characteristic *Characteristic) (*Demuxer, error) {
	if len(channels) == 0 {
		return nil, fmt.Errorf("no channels")
	}
	if groupSize <= 0 {
		return nil, fmt.Errorf("invalid group size %d", groupSize)
	}
	if characteristic == nil {
		characteristic = LinearCharacteristic(adc.MaxCount)
	}

	d := &Demuxer{
		channels:       append([]adc.Channel(nil), channels...),
		groupSize:      groupSize,
		characteristic: characteristic,
		averagers:      make([]Averager, len(channels)),
		values:         make([]uint16, len(channels)),
	}
	for i := range d.slots {
		d.slots[i] = -1
	}
	for i, ch := range channels {
		if ch >= adc.MaxChannels {
			return nil, fmt.Errorf("invalid channel %d", ch)
		}
		if d.slots[ch] >= 0 {
			return nil, fmt.Errorf("duplicate channel %d", ch)
		}
		d.slots[ch] = i
	}

	return d, nil
}

// Channels returns the demultiplexed channels in slot order.
func (d *Demuxer) Channels() []adc.Channel {
	return d.channels
}

// Slot returns the position of a channel in emitted values, or -1.
func (d *Demuxer) Slot(ch adc.Channel) int {
	if ch >= adc.MaxChannels {
		return -1
	}
	return d.slots[ch]
}

// Demux averages every group of the block and calls emit with one value per
// channel. The values slice is reused between calls.
func (d *Demuxer) Demux(block adc.Block, emit func(values []uint16)) {
	unknown := 0

	for start := 0; start < len(block.Words); start += d.groupSize {
		end := min(start+d.groupSize, len(block.Words))

		for i := range d.averagers {
			d.averagers[i].Reset()
		}

		for _, w := range block.Words[start:end] {
			slot := d.slots[w.Channel()]
			if slot < 0 {
				unknown++
				continue
			}
			d.averagers[slot].Add(w.Count())
		}

		for i := range d.averagers {
			if d.averagers[i].Count() == 0 {
				d.values[i] = UndefinedValue
				continue
			}
			d.values[i] = d.characteristic.Convert(d.averagers[i].Value())
		}

		emit(d.values)
	}

	if unknown > 0 {
		log.Printf("Block at %dus: skipped %d words with unknown channel tags", block.Timestamp, unknown)
	}
}
