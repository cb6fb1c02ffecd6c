package sample

import (
	"testing"

	"github.com/itohio/wattmeter/pkg/adc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collect(d *Demuxer, block adc.Block) [][]uint16 {
	var groups [][]uint16
	d.Demux(block, func(values []uint16) {
		groups = append(groups, append([]uint16(nil), values...))
	})
	return groups
}

func TestLinearCharacteristic(t *testing.T) {
	raw := LinearCharacteristic(adc.MaxCount)
	for _, c := range []uint16{0, 1, 2048, 4095} {
		assert.Equal(t, c, raw.Convert(c))
	}

	c := LinearCharacteristic(11000)
	assert.Equal(t, uint16(0), c.Convert(0))
	assert.Equal(t, uint16(11000), c.Convert(4095))
	assert.Equal(t, uint16(5501), c.Convert(2048))
}

func TestNewDemuxer_Invalid(t *testing.T) {
	_, err := NewDemuxer(nil, 16, nil)
	assert.Error(t, err)

	_, err = NewDemuxer([]adc.Channel{0}, 0, nil)
	assert.Error(t, err)

	_, err = NewDemuxer([]adc.Channel{0, 0}, 16, nil)
	assert.Error(t, err)

	_, err = NewDemuxer([]adc.Channel{16}, 16, nil)
	assert.Error(t, err)
}

func TestDemuxer_Groups(t *testing.T) {
	d, err := NewDemuxer([]adc.Channel{0, 3}, 4, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, d.Slot(0))
	assert.Equal(t, 1, d.Slot(3))
	assert.Equal(t, -1, d.Slot(1))

	block := adc.Block{Words: []adc.Word{
		adc.Pack(0, 100), adc.Pack(3, 1000), adc.Pack(0, 102), adc.Pack(3, 1001),
		adc.Pack(0, 200), adc.Pack(3, 2000), adc.Pack(0, 201), adc.Pack(3, 2000),
	}}

	groups := collect(d, block)
	require.Len(t, groups, 2)
	assert.Equal(t, []uint16{101, 1001}, groups[0])
	assert.Equal(t, []uint16{201, 2000}, groups[1])
}

func TestDemuxer_UnknownTagDoesNotAbortGroup(t *testing.T) {
	d, err := NewDemuxer([]adc.Channel{0, 3}, 4, nil)
	require.NoError(t, err)

	block := adc.Block{Words: []adc.Word{
		adc.Pack(0, 100), adc.Pack(7, 4000), adc.Pack(0, 110), adc.Pack(3, 50),
	}}

	groups := collect(d, block)
	require.Len(t, groups, 1)
	assert.Equal(t, []uint16{105, 50}, groups[0])
}

func TestDemuxer_MissingChannelIsUndefined(t *testing.T) {
	d, err := NewDemuxer([]adc.Channel{0, 3}, 2, nil)
	require.NoError(t, err)

	block := adc.Block{Words: []adc.Word{
		adc.Pack(0, 100), adc.Pack(0, 100),
		adc.Pack(3, 9), adc.Pack(0, 11),
	}}

	groups := collect(d, block)
	require.Len(t, groups, 2)
	assert.Equal(t, []uint16{100, UndefinedValue}, groups[0])
	assert.Equal(t, []uint16{11, 9}, groups[1])
}

func TestDemuxer_PartialTrailingGroup(t *testing.T) {
	d, err := NewDemuxer([]adc.Channel{0}, 4, nil)
	require.NoError(t, err)

	block := adc.Block{Words: []adc.Word{
		adc.Pack(0, 1), adc.Pack(0, 1), adc.Pack(0, 1), adc.Pack(0, 1),
		adc.Pack(0, 7),
	}}

	groups := collect(d, block)
	require.Len(t, groups, 2)
	assert.Equal(t, []uint16{7}, groups[1])
}

func TestDemuxer_AppliesCharacteristic(t *testing.T) {
	d, err := NewDemuxer([]adc.Channel{0}, 2, LinearCharacteristic(11000))
	require.NoError(t, err)

	groups := collect(d, adc.Block{Words: []adc.Word{adc.Pack(0, 4095), adc.Pack(0, 4095)}})
	require.Len(t, groups, 1)
	assert.Equal(t, uint16(11000), groups[0][0])
}
