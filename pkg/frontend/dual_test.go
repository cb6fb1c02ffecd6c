package frontend

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itohio/wattmeter/pkg/adc"
	"github.com/itohio/wattmeter/pkg/calibration"
	"github.com/itohio/wattmeter/pkg/config"
	"github.com/itohio/wattmeter/pkg/ranges"
	"github.com/itohio/wattmeter/pkg/sample"
)

func float32s(values []float64) []float32 {
	out := make([]float32, len(values))
	for i, v := range values {
		out[i] = float32(v)
	}
	return out
}

type dualFixture struct {
	cfg   *config.Config
	mock  *adc.Mock
	store *calibration.MemoryStore
	dual  *Dual
}

func newDualFixture(t *testing.T, mutate func(cfg *config.Config)) *dualFixture {
	t.Helper()

	cfg := config.Default()
	if mutate != nil {
		mutate(cfg)
	}
	mock := adc.NewMock(cfg, false)
	store := calibration.NewMemoryStore()
	characteristic := sample.LinearCharacteristic(cfg.Sampler.FullScale)

	vCh := adc.Channel(cfg.Sampler.VoltageChannel)
	cCh := adc.Channel(cfg.Sampler.CurrentChannel)

	newMeter := func(name string, ch adc.Channel, cc config.ChannelConfig) *ChannelMeter {
		set := ranges.New(len(cc.ScaleFactors), ranges.DefaultRegion(), ranges.DefaultThresholds())
		selector := SelectorFunc(func(index int) error {
			return mock.SelectRange(ch, index)
		})
		m := NewChannelMeter(name, ch, set, selector, store)
		require.NoError(t, m.Init(cc.DefaultZero, float32s(cc.ScaleFactors)))
		return m
	}

	demux, err := sample.NewDemuxer([]adc.Channel{vCh, cCh}, cfg.Sampler.GroupSize, characteristic)
	require.NoError(t, err)

	dual, err := NewDual(mock, demux,
		newMeter(calibration.KeyVoltage, vCh, cfg.Voltage),
		newMeter(calibration.KeyCurrent, cCh, cfg.Current),
		NewBlockSampler(mock, cfg.Sampler.CalibrationBlocks, characteristic),
	)
	require.NoError(t, err)

	return &dualFixture{cfg: cfg, mock: mock, store: store, dual: dual}
}

func TestNewDual_ChannelNotSampled(t *testing.T) {
	demux, err := sample.NewDemuxer([]adc.Channel{0}, 16, nil)
	require.NoError(t, err)

	store := calibration.NewMemoryStore()
	set := func() *ranges.Set { return ranges.New(1, ranges.DefaultRegion(), ranges.DefaultThresholds()) }
	nop := SelectorFunc(func(int) error { return nil })
	v := NewChannelMeter("voltage", 0, set(), nop, store)
	c := NewChannelMeter("current", 3, set(), nop, store)

	_, err = NewDual(nil, demux, v, c, nil)
	assert.Error(t, err)
}

func TestDual_Read(t *testing.T) {
	f := newDualFixture(t, nil)
	ctx := context.Background()

	_, _, err := f.dual.Read(ctx)
	assert.ErrorIs(t, err, adc.ErrNotStarted)

	require.NoError(t, f.dual.Start())
	defer f.dual.Stop()

	ts, measures, err := f.dual.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), ts)
	require.Len(t, measures, f.cfg.Sampler.BlockSize/f.cfg.Sampler.GroupSize)

	var peak int16
	for _, m := range measures {
		peak = max(peak, m.Voltage, -m.Voltage)
		assert.Less(t, m.Voltage, int16(3700))
		assert.Greater(t, m.Voltage, int16(-3700))
	}
	assert.Greater(t, peak, int16(1000))

	ts, _, err = f.dual.Read(ctx)
	require.NoError(t, err)
	assert.Greater(t, ts, uint64(0))
}

func TestDual_AutoRangeNoChange(t *testing.T) {
	f := newDualFixture(t, nil)
	require.NoError(t, f.dual.Start())
	defer f.dual.Stop()

	for range 4 {
		_, _, err := f.dual.Read(context.Background())
		require.NoError(t, err)
	}

	changed, err := f.dual.AutoRange()
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, 0, f.dual.Voltage().Active())
	assert.Equal(t, 0, f.dual.Current().Active())
}

func TestDual_AutoRangeOverflow(t *testing.T) {
	f := newDualFixture(t, nil)
	vCh := adc.Channel(f.cfg.Sampler.VoltageChannel)

	require.NoError(t, f.dual.Voltage().Apply(ChangeTo(2)))
	assert.Equal(t, 2, f.mock.Range(vCh))

	require.NoError(t, f.dual.Start())
	defer f.dual.Stop()

	_, _, err := f.dual.Read(context.Background())
	require.NoError(t, err)

	changed, err := f.dual.AutoRange()
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, 1, f.dual.Voltage().Active())
	assert.Equal(t, 1, f.mock.Range(vCh))
	assert.Equal(t, 0, f.dual.Current().Active())

	_, _, err = f.dual.Read(context.Background())
	assert.NoError(t, err, "acquisition resumes after the range change")
}

func TestDual_SetRange(t *testing.T) {
	f := newDualFixture(t, nil)
	require.NoError(t, f.dual.Start())
	defer f.dual.Stop()

	require.NoError(t, f.dual.SetRange("current", 1))
	assert.Equal(t, 1, f.dual.Current().Active())
	assert.False(t, f.dual.Current().AutoRange())
	assert.Equal(t, 1, f.mock.Range(adc.Channel(f.cfg.Sampler.CurrentChannel)))

	assert.Error(t, f.dual.SetRange("power", 0))

	_, _, err := f.dual.Read(context.Background())
	assert.NoError(t, err)
}

func TestDual_CalibrateZeros(t *testing.T) {
	f := newDualFixture(t, func(cfg *config.Config) {
		cfg.Mock.Voltage = 0
		cfg.Mock.Current = 0
		cfg.Mock.Noise = 0
	})
	require.NoError(t, f.dual.Start())
	defer f.dual.Stop()

	require.NoError(t, f.dual.CalibrateZeros(context.Background()))

	want := []uint16{5249, 5249, 5249}
	st := f.dual.Status()
	assert.Equal(t, want, st.Voltage.Zeros)
	assert.Equal(t, want, st.Current.Zeros)

	stored, err := f.store.Read(calibration.KeyCurrent, 3)
	require.NoError(t, err)
	assert.Equal(t, want, stored)

	_, _, err = f.dual.Read(context.Background())
	assert.NoError(t, err, "acquisition resumes after calibration")
}

func TestDual_CalibrateFactorsVoltageOnly(t *testing.T) {
	f := newDualFixture(t, nil)
	currentBefore := f.dual.Current().Status().ScaleFactors

	f.dual.sampler = &fakeSampler{value: func(ch adc.Channel) uint16 {
		return 5250 + 500*uint16(f.dual.Voltage().Active()+1)
	}}
	require.NoError(t, f.dual.CalibrateFactors(context.Background(), 5))

	factors := f.dual.Voltage().Status().ScaleFactors
	assert.InDelta(t, 0.01, factors[0], 1e-7)
	assert.InDelta(t, 0.005, factors[1], 1e-7)
	assert.Equal(t, currentBefore, f.dual.Current().Status().ScaleFactors)

	v, _ := f.dual.ScaleFactors()
	assert.InDelta(t, 0.01, v, 1e-7)
}

func TestBlockSampler_Average(t *testing.T) {
	cfg := config.Default()
	cfg.Mock.Noise = 0
	mock := adc.NewMock(cfg, false)
	s := NewBlockSampler(mock, 2, sample.LinearCharacteristic(cfg.Sampler.FullScale))

	v, err := s.Average(context.Background(), adc.Channel(cfg.Sampler.ZeroChannel))
	require.NoError(t, err)
	assert.Equal(t, uint16(5249), v)

	_, err = mock.Read(context.Background())
	assert.ErrorIs(t, err, adc.ErrNotStarted, "session is stopped after sampling")

	require.NoError(t, mock.Close())
	_, err = s.Average(context.Background(), 6)
	assert.Error(t, err)
}
