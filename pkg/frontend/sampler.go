package frontend

import (
	"context"
	"fmt"
	"log"

	"github.com/itohio/wattmeter/pkg/adc"
	"github.com/itohio/wattmeter/pkg/sample"
)

// Sampler takes a long averaged reading of a single channel.
type Sampler interface {
	Average(ctx context.Context, ch adc.Channel) (uint16, error)
}

// BlockSampler averages a channel over whole acquisition blocks in its own
// single-channel session. The caller must have stopped any other session on
// the source.
type BlockSampler struct {
	source         adc.Source
	blocks         int
	characteristic *sample.Characteristic
}

var _ Sampler = (*BlockSampler)(nil)

// NewBlockSampler creates a sampler reading the given number of blocks per reading.
func NewBlockSampler(source adc.Source, blocks int, characteristic *sample.Characteristic) *BlockSampler {
	if blocks <= 0 {
		blocks = 1
	}
	if characteristic == nil {
		characteristic = sample.LinearCharacteristic(adc.MaxCount)
	}
	return &BlockSampler{
		source:         source,
		blocks:         blocks,
		characteristic: characteristic,
	}
}

// Average returns the mean output value of ch.
func (s *BlockSampler) Average(ctx context.Context, ch adc.Channel) (uint16, error) {
	if err := s.source.Start([]adc.Channel{ch}); err != nil {
		return 0, fmt.Errorf("failed to start calibration session: %w", err)
	}
	defer func() {
		if err := s.source.Stop(); err != nil {
			log.Printf("Failed to stop calibration session: %v", err)
		}
	}()

	var avg sample.Averager
	for range s.blocks {
		block, err := s.source.Read(ctx)
		if err != nil {
			return 0, fmt.Errorf("failed to read calibration block: %w", err)
		}
		for _, w := range block.Words {
			if w.Channel() == ch {
				avg.Add(w.Count())
			}
		}
	}

	if avg.Count() == 0 {
		return 0, fmt.Errorf("no samples on channel %d", ch)
	}

	return s.characteristic.Convert(avg.Value()), nil
}
