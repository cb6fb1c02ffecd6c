// Package stream publishes calibrated samples and measurement snapshots to
// network consumers over websockets and serves the HTTP command surface.
package stream

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/itohio/wattmeter/pkg/sample"
)

// FrameHeaderSize is the size of the frame header preceding the measures.
const FrameHeaderSize = 16

// Frame is a batch of consecutive measures sharing the same scale factors.
type Frame struct {
	Timestamp    uint64 // Microseconds of the first measure
	VoltageScale float32
	CurrentScale float32
	Measures     []sample.Measure
}

// AppendFrame appends the binary encoding of f to dst.
func AppendFrame(dst []byte, f *Frame) []byte {
	dst = binary.LittleEndian.AppendUint64(dst, f.Timestamp)
	dst = binary.LittleEndian.AppendUint32(dst, math.Float32bits(f.VoltageScale))
	dst = binary.LittleEndian.AppendUint32(dst, math.Float32bits(f.CurrentScale))
	for _, m := range f.Measures {
		dst = binary.LittleEndian.AppendUint16(dst, uint16(m.Voltage))
		dst = binary.LittleEndian.AppendUint16(dst, uint16(m.Current))
	}
	return dst
}

// DecodeFrame parses a binary frame.
func DecodeFrame(data []byte) (Frame, error) {
	if len(data) < FrameHeaderSize {
		return Frame{}, fmt.Errorf("frame too short: %d bytes", len(data))
	}
	if (len(data)-FrameHeaderSize)%4 != 0 {
		return Frame{}, fmt.Errorf("frame has a partial measure: %d bytes", len(data))
	}

	f := Frame{
		Timestamp:    binary.LittleEndian.Uint64(data[0:8]),
		VoltageScale: math.Float32frombits(binary.LittleEndian.Uint32(data[8:12])),
		CurrentScale: math.Float32frombits(binary.LittleEndian.Uint32(data[12:16])),
		Measures:     make([]sample.Measure, (len(data)-FrameHeaderSize)/4),
	}
	for i := range f.Measures {
		off := FrameHeaderSize + i*4
		f.Measures[i] = sample.Measure{
			Voltage: int16(binary.LittleEndian.Uint16(data[off:])),
			Current: int16(binary.LittleEndian.Uint16(data[off+2:])),
		}
	}
	return f, nil
}
