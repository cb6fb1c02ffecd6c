package pipeline

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itohio/wattmeter/pkg/adc"
	"github.com/itohio/wattmeter/pkg/calibration"
	"github.com/itohio/wattmeter/pkg/config"
	"github.com/itohio/wattmeter/pkg/frontend"
	"github.com/itohio/wattmeter/pkg/meter"
	"github.com/itohio/wattmeter/pkg/ranges"
	"github.com/itohio/wattmeter/pkg/sample"
)

type recordingSink struct {
	mu      sync.Mutex
	blocks  int
	samples int
	scales  [2]float32
}

func (s *recordingSink) Send(timestamp uint64, voltageScale, currentScale float32, measures []sample.Measure) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blocks++
	s.samples += len(measures)
	s.scales = [2]float32{voltageScale, currentScale}
}

func (s *recordingSink) snapshot() (int, int, [2]float32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.blocks, s.samples, s.scales
}

type fixture struct {
	cfg  *config.Config
	mock *adc.Mock
	dual *frontend.Dual
	calc *meter.Calculated
	sink *recordingSink
	p    *Pipeline
}

func float32s(values []float64) []float32 {
	out := make([]float32, len(values))
	for i, v := range values {
		out[i] = float32(v)
	}
	return out
}

func newFixture(t *testing.T, mutate func(cfg *config.Config)) *fixture {
	t.Helper()

	cfg := config.Default()
	if mutate != nil {
		mutate(cfg)
	}
	mock := adc.NewMock(cfg, false)
	store := calibration.NewMemoryStore()
	characteristic := sample.LinearCharacteristic(cfg.Sampler.FullScale)

	newMeter := func(name string, ch adc.Channel, cc config.ChannelConfig) *frontend.ChannelMeter {
		set := ranges.New(len(cc.ScaleFactors), ranges.DefaultRegion(), ranges.DefaultThresholds())
		selector := frontend.SelectorFunc(func(index int) error {
			return mock.SelectRange(ch, index)
		})
		m := frontend.NewChannelMeter(name, ch, set, selector, store)
		require.NoError(t, m.Init(cc.DefaultZero, float32s(cc.ScaleFactors)))
		return m
	}

	vCh := adc.Channel(cfg.Sampler.VoltageChannel)
	cCh := adc.Channel(cfg.Sampler.CurrentChannel)
	demux, err := sample.NewDemuxer([]adc.Channel{vCh, cCh}, cfg.Sampler.GroupSize, characteristic)
	require.NoError(t, err)

	dual, err := frontend.NewDual(mock, demux,
		newMeter(calibration.KeyVoltage, vCh, cfg.Voltage),
		newMeter(calibration.KeyCurrent, cCh, cfg.Current),
		frontend.NewBlockSampler(mock, cfg.Sampler.CalibrationBlocks, characteristic),
	)
	require.NoError(t, err)

	calc := meter.New(cfg)
	sink := &recordingSink{}
	return &fixture{
		cfg:  cfg,
		mock: mock,
		dual: dual,
		calc: calc,
		sink: sink,
		p:    New(dual, calc, sink),
	}
}

// start runs the pipeline and returns a function stopping it and returning
// the result of Run.
func (f *fixture) start(t *testing.T) func() error {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- f.p.Run(ctx)
	}()
	require.Eventually(t, func() bool { return f.p.Blocks() > 0 }, 2*time.Second, time.Millisecond)

	return func() error {
		cancel()
		select {
		case err := <-done:
			return err
		case <-time.After(2 * time.Second):
			t.Fatal("pipeline did not stop")
			return nil
		}
	}
}

func TestPipeline_PublishesMeasures(t *testing.T) {
	f := newFixture(t, nil)

	published := make(chan meter.CalculatedMeasures, 16)
	f.calc.OnPublish(func(m meter.CalculatedMeasures) {
		select {
		case published <- m:
		default:
		}
	})

	stop := f.start(t)

	var m meter.CalculatedMeasures
	select {
	case m = <-published:
	case <-time.After(5 * time.Second):
		t.Fatal("no measures published")
	}
	require.NoError(t, stop())

	assert.InEpsilon(t, f.cfg.Mock.Voltage, m.Voltage.RMS, 0.02)
	assert.InEpsilon(t, f.cfg.Mock.Current, m.Current.RMS, 0.02)
	assert.InEpsilon(t, math.Cos(f.cfg.Mock.Phase*math.Pi/180), m.Power.Factor, 0.02)
	assert.Greater(t, m.Periods, 0)

	blocks, samples, scales := f.sink.snapshot()
	assert.Greater(t, blocks, 0)
	assert.Equal(t, blocks*f.cfg.Sampler.BlockSize/f.cfg.Sampler.GroupSize, samples)
	v, c := f.dual.ScaleFactors()
	assert.Equal(t, [2]float32{v, c}, scales)

	_, err := f.mock.Read(context.Background())
	assert.ErrorIs(t, err, adc.ErrNotStarted, "acquisition stops with the pipeline")
}

func TestPipeline_CalibrateZeros(t *testing.T) {
	f := newFixture(t, func(cfg *config.Config) {
		cfg.Mock.Voltage = 0
		cfg.Mock.Current = 0
	})
	stop := f.start(t)
	defer stop()

	before := f.p.Blocks()
	require.NoError(t, f.p.CalibrateZeros(context.Background()))

	st := f.p.Status()
	for i, z := range st.Voltage.Zeros {
		assert.InDelta(t, 5249, z, 2, "voltage range %d", i)
	}
	for i, z := range st.Current.Zeros {
		assert.InDelta(t, 5249, z, 2, "current range %d", i)
	}

	require.Eventually(t, func() bool { return f.p.Blocks() > before }, 2*time.Second, time.Millisecond,
		"acquisition resumes after calibration")
}

func TestPipeline_SetRange(t *testing.T) {
	f := newFixture(t, nil)
	stop := f.start(t)
	defer stop()

	require.NoError(t, f.p.SetRange(context.Background(), "voltage", 1))

	st := f.p.Status()
	assert.Equal(t, 1, st.Voltage.Active)
	assert.False(t, st.Voltage.Auto)

	v, _ := f.calc.ScaleFactors()
	assert.Equal(t, st.Voltage.ScaleFactors[1], v)

	assert.Error(t, f.p.SetRange(context.Background(), "voltage", 9))
	assert.Error(t, f.p.SetRange(context.Background(), "power", 0))

	require.NoError(t, f.p.SetRange(context.Background(), "voltage", 3))
	assert.True(t, f.p.Status().Voltage.Auto)
}

func TestPipeline_CommandsRequireRunning(t *testing.T) {
	f := newFixture(t, nil)

	assert.ErrorIs(t, f.p.CalibrateZeros(context.Background()), ErrNotRunning)
	assert.ErrorIs(t, f.p.CalibrateFactors(context.Background(), 5), ErrNotRunning)

	st := f.p.Status()
	assert.Equal(t, "voltage", st.Voltage.Name)
	assert.Equal(t, "current", st.Current.Name)
}

func TestPipeline_AlreadyRunning(t *testing.T) {
	f := newFixture(t, nil)
	stop := f.start(t)
	defer stop()

	assert.Error(t, f.p.Run(context.Background()))
}

func TestPipeline_SourceFailure(t *testing.T) {
	f := newFixture(t, nil)

	done := make(chan error, 1)
	go func() {
		done <- f.p.Run(context.Background())
	}()
	require.Eventually(t, func() bool { return f.p.Blocks() > 0 }, 2*time.Second, time.Millisecond)

	require.NoError(t, f.mock.Close())

	select {
	case err := <-done:
		assert.ErrorIs(t, err, adc.ErrClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("pipeline did not stop on source failure")
	}
}

func TestPipeline_CommandsAfterStop(t *testing.T) {
	f := newFixture(t, nil)
	stop := f.start(t)
	require.NoError(t, stop())

	assert.ErrorIs(t, f.p.SetRange(context.Background(), "voltage", 1), ErrNotRunning)
}
