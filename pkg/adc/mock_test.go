package adc

import (
	"context"
	"testing"
	"time"

	"github.com/itohio/wattmeter/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMock(t *testing.T) *Mock {
	t.Helper()
	cfg := config.Default()
	cfg.Mock.Noise = 0
	return NewMock(cfg, false)
}

func TestMock_NotStarted(t *testing.T) {
	m := newTestMock(t)

	_, err := m.Read(context.Background())
	assert.ErrorIs(t, err, ErrNotStarted)

	require.NoError(t, m.Start([]Channel{0, 3}))
	require.NoError(t, m.Stop())

	_, err = m.Read(context.Background())
	assert.ErrorIs(t, err, ErrNotStarted)
}

func TestMock_Interleaves(t *testing.T) {
	m := newTestMock(t)
	require.NoError(t, m.Start([]Channel{0, 3}))

	block, err := m.Read(context.Background())
	require.NoError(t, err)
	require.Len(t, block.Words, 1024)
	assert.Equal(t, uint64(0), block.Timestamp)

	for i, w := range block.Words {
		if i%2 == 0 {
			assert.Equal(t, Channel(0), w.Channel())
		} else {
			assert.Equal(t, Channel(3), w.Channel())
		}
	}

	next, err := m.Read(context.Background())
	require.NoError(t, err)
	// 1024 words at 44000 words/s
	assert.Equal(t, uint64(23272), next.Timestamp)
}

func TestMock_ZeroChannel(t *testing.T) {
	m := newTestMock(t)
	require.NoError(t, m.Start([]Channel{6}))

	block, err := m.Read(context.Background())
	require.NoError(t, err)

	// 5250 tenths of mV on a 11000 full scale
	for _, w := range block.Words {
		assert.Equal(t, uint16(1954), w.Count())
	}
}

func TestMock_SelectRange(t *testing.T) {
	m := newTestMock(t)

	peak := func() uint16 {
		require.NoError(t, m.Start([]Channel{0}))
		defer m.Stop()

		var max uint16
		for range 4 {
			block, err := m.Read(context.Background())
			require.NoError(t, err)
			for _, w := range block.Words {
				if w.Count() > max {
					max = w.Count()
				}
			}
		}
		return max
	}

	wide := peak()
	assert.Less(t, wide, uint16(MaxCount))

	require.NoError(t, m.SelectRange(0, 1))
	assert.Equal(t, 1, m.Range(0))
	assert.Equal(t, uint16(MaxCount), peak(), "more sensitive range should clip")

	assert.Error(t, m.SelectRange(0, 3))
	assert.Error(t, m.SelectRange(5, 0))
}

func TestMock_Close(t *testing.T) {
	m := newTestMock(t)
	require.NoError(t, m.Start([]Channel{0}))
	require.NoError(t, m.Close())

	_, err := m.Read(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, m.Start([]Channel{0}), ErrClosed)
}

func TestMock_PacedRespectsContext(t *testing.T) {
	cfg := config.Default()
	cfg.Sampler.SampleRate = 1000
	m := NewMock(cfg, true)
	require.NoError(t, m.Start([]Channel{0}))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := m.Read(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}
