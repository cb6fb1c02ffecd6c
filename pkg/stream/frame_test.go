package stream

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itohio/wattmeter/pkg/sample"
)

func TestAppendFrame_Layout(t *testing.T) {
	f := &Frame{
		Timestamp:    0x0102030405060708,
		VoltageScale: 1,
		CurrentScale: -2,
		Measures:     []sample.Measure{{Voltage: 1, Current: -1}},
	}

	data := AppendFrame(nil, f)
	assert.Equal(t, []byte{
		0x08, 0x07, 0x06, 0x05, 0x04, 0x03, 0x02, 0x01,
		0x00, 0x00, 0x80, 0x3F,
		0x00, 0x00, 0x00, 0xC0,
		0x01, 0x00, 0xFF, 0xFF,
	}, data)
}

func TestDecodeFrame(t *testing.T) {
	f := &Frame{
		Timestamp:    123456789,
		VoltageScale: 0.0928,
		CurrentScale: 0.0001078,
		Measures: []sample.Measure{
			{Voltage: 3500, Current: -120},
			{Voltage: -32768, Current: 32767},
			{Voltage: 0, Current: 0},
		},
	}

	got, err := DecodeFrame(AppendFrame([]byte{}, f))
	require.NoError(t, err)
	assert.Equal(t, *f, got)
}

func TestDecodeFrame_Errors(t *testing.T) {
	_, err := DecodeFrame(make([]byte, FrameHeaderSize-1))
	assert.Error(t, err)

	_, err = DecodeFrame(make([]byte, FrameHeaderSize+3))
	assert.Error(t, err)

	f, err := DecodeFrame(make([]byte, FrameHeaderSize))
	require.NoError(t, err)
	assert.Empty(t, f.Measures)
}
