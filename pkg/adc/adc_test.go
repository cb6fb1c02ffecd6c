package adc

import (
	"bufio"
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWord(t *testing.T) {
	tests := []struct {
		name    string
		channel Channel
		count   uint16
		want    Word
	}{
		{name: "channel 0", channel: 0, count: 2048, want: 0x0800},
		{name: "channel 3", channel: 3, count: 4095, want: 0x3FFF},
		{name: "channel 15 zero", channel: 15, count: 0, want: 0xF000},
		{name: "count truncated to 12 bits", channel: 1, count: 0x1234, want: 0x1234},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := Pack(tt.channel, tt.count)
			assert.Equal(t, tt.want, w)
			assert.Equal(t, tt.channel, w.Channel())
			assert.Equal(t, tt.count&MaxCount, w.Count())
		})
	}
}

func TestDecodeBlock_SkipsGarbage(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{0x00, 0xA5, 0x13, 0x5A})

	block := Block{
		Timestamp: 123456789,
		Words:     []Word{Pack(0, 100), Pack(3, 200), Pack(0, 4095)},
	}
	require.NoError(t, EncodeBlock(&buf, block))
	require.NoError(t, EncodeBlock(&buf, Block{Timestamp: 5}))

	r := bufio.NewReader(&buf)
	got, err := DecodeBlock(r)
	require.NoError(t, err)
	assert.Equal(t, block, got)

	empty, err := DecodeBlock(r)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), empty.Timestamp)
	assert.Empty(t, empty.Words)

	_, err = DecodeBlock(r)
	assert.Error(t, err)
}

func TestDecodeBlock_Truncated(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, EncodeBlock(&buf, Block{Timestamp: 1, Words: []Word{1, 2, 3}}))
	data := buf.Bytes()[:buf.Len()-1]

	_, err := DecodeBlock(bufio.NewReader(bytes.NewReader(data)))
	assert.Error(t, err)
}

func TestEncodeBlock_TooLarge(t *testing.T) {
	err := EncodeBlock(&bytes.Buffer{}, Block{Words: make([]Word, MaxBlockWords+1)})
	assert.Error(t, err)
}

func TestEncodeStart(t *testing.T) {
	cmd, err := EncodeStart([]Channel{0, 3, 9})
	require.NoError(t, err)
	assert.Equal(t, []byte{CommandStart, 0x09, 0x02}, cmd)

	_, err = EncodeStart(nil)
	assert.Error(t, err)

	_, err = EncodeStart([]Channel{16})
	assert.Error(t, err)
}
