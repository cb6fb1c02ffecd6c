package adc

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
)

// Block frame layout (little endian):
//
//	0xA5 0x5A | timestamp uint64 | count uint16 | count x word uint16
const (
	magic0 = 0xA5
	magic1 = 0x5A

	headerSize = 2 + 8 + 2
	// MaxBlockWords bounds the count field so a corrupted header cannot
	// request an unbounded allocation.
	MaxBlockWords = 4096
)

// Commands understood by the streamer firmware.
const (
	CommandStart byte = 'S' // followed by the channel mask uint16
	CommandStop  byte = 'X'
)

// EncodeBlock writes a framed block.
func EncodeBlock(w io.Writer, b Block) error {
	if len(b.Words) > MaxBlockWords {
		return fmt.Errorf("block too large: %d words", len(b.Words))
	}

	buf := make([]byte, headerSize+2*len(b.Words))
	buf[0] = magic0
	buf[1] = magic1
	binary.LittleEndian.PutUint64(buf[2:], b.Timestamp)
	binary.LittleEndian.PutUint16(buf[10:], uint16(len(b.Words)))
	for i, word := range b.Words {
		binary.LittleEndian.PutUint16(buf[headerSize+2*i:], uint16(word))
	}

	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("failed to write block: %w", err)
	}
	return nil
}

// DecodeBlock reads the next framed block, skipping any bytes that precede
// the frame marker.
func DecodeBlock(r *bufio.Reader) (Block, error) {
	if err := syncFrame(r); err != nil {
		return Block{}, err
	}

	var header [headerSize - 2]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return Block{}, err
	}
	timestamp := binary.LittleEndian.Uint64(header[0:])
	count := int(binary.LittleEndian.Uint16(header[8:]))
	if count > MaxBlockWords {
		return Block{}, fmt.Errorf("invalid block size %d", count)
	}

	payload := make([]byte, 2*count)
	if _, err := io.ReadFull(r, payload); err != nil {
		return Block{}, err
	}

	words := make([]Word, count)
	for i := range words {
		words[i] = Word(binary.LittleEndian.Uint16(payload[2*i:]))
	}

	return Block{Timestamp: timestamp, Words: words}, nil
}

// EncodeStart builds the start command for a channel set.
func EncodeStart(channels []Channel) ([]byte, error) {
	mask, err := channelMask(channels)
	if err != nil {
		return nil, err
	}
	return []byte{CommandStart, byte(mask), byte(mask >> 8)}, nil
}

func syncFrame(r *bufio.Reader) error {
	prev := byte(0)
	for {
		b, err := r.ReadByte()
		if err != nil {
			return err
		}
		if prev == magic0 && b == magic1 {
			return nil
		}
		prev = b
	}
}
