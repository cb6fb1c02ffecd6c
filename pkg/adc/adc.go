package adc

import (
	"context"
	"errors"
	"fmt"
)

const (
	// MaxChannels is the number of channel tags a word can carry.
	MaxChannels = 16
	// MaxCount is the largest 12-bit conversion result.
	MaxCount = 0x0FFF
	// DefaultBufferSize is the default size of the block channel buffer.
	DefaultBufferSize = 8
)

var (
	// ErrNotStarted is returned by Read while acquisition is stopped.
	ErrNotStarted = errors.New("acquisition not started")
	// ErrClosed is returned once the source was closed.
	ErrClosed = errors.New("source closed")
)

// Channel is an ADC input tag.
type Channel uint8

// Word is a single conversion result tagged with its channel:
// the upper 4 bits carry the channel, the lower 12 bits the count.
type Word uint16

// Pack builds a word from a channel tag and a 12-bit count.
func Pack(ch Channel, count uint16) Word {
	return Word(uint16(ch&0x0F)<<12 | count&MaxCount)
}

// Channel returns the channel tag.
func (w Word) Channel() Channel {
	return Channel(w >> 12)
}

// Count returns the 12-bit conversion result.
func (w Word) Count() uint16 {
	return uint16(w) & MaxCount
}

func (w Word) String() string {
	return fmt.Sprintf("ch%d:%d", w.Channel(), w.Count())
}

// Block is a run of interleaved conversion results.
type Block struct {
	Timestamp uint64 // Microseconds since acquisition start
	Words     []Word
}

// Source produces blocks of tagged raw samples at a fixed aggregate rate.
// Start and Stop bracket an acquisition session; blocks produced before the
// last Start are never returned by Read.
type Source interface {
	Start(channels []Channel) error
	Stop() error
	Read(ctx context.Context) (Block, error)
	Close() error
}

// Ensure implementations satisfy Source.
var (
	_ Source = (*Serial)(nil)
	_ Source = (*Mock)(nil)
)

// channelMask converts a channel set into a 16-bit mask.
func channelMask(channels []Channel) (uint16, error) {
	if len(channels) == 0 {
		return 0, fmt.Errorf("no channels")
	}
	var mask uint16
	for _, ch := range channels {
		if ch >= MaxChannels {
			return 0, fmt.Errorf("invalid channel %d", ch)
		}
		mask |= 1 << ch
	}
	return mask, nil
}
