package adc

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/itohio/wattmeter/pkg/config"
)

// Mock simulates the ADC streamer sampling a mains voltage and current
// through the multi-range front end.
type Mock struct {
	cfg     config.MockConfig
	sampler config.SamplerConfig
	factors map[Channel][]float64
	paced   bool

	mu       sync.Mutex
	rng      *rand.Rand
	channels []Channel
	ranges   [MaxChannels]int
	started  bool
	closed   bool
	produced uint64 // Words produced since creation
	session  uint64 // Value of produced at the last Start
	begin    time.Time
}

// NewMock creates a simulated source. When paced is set, Read releases
// blocks at the configured sample rate; otherwise as fast as they are read.
func NewMock(cfg *config.Config, paced bool) *Mock {
	return &Mock{
		cfg:     cfg.Mock,
		sampler: cfg.Sampler,
		factors: map[Channel][]float64{
			Channel(cfg.Sampler.VoltageChannel): cfg.Voltage.ScaleFactors,
			Channel(cfg.Sampler.CurrentChannel): cfg.Current.ScaleFactors,
		},
		paced: paced,
		rng:   rand.New(rand.NewPCG(1, 2)),
	}
}

// SelectRange switches the simulated gain stage of a channel.
func (m *Mock) SelectRange(ch Channel, index int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	factors, ok := m.factors[ch]
	if !ok {
		return fmt.Errorf("channel %d has no ranges", ch)
	}
	if index < 0 || index >= len(factors) {
		return fmt.Errorf("channel %d: invalid range %d", ch, index)
	}
	m.ranges[ch] = index
	return nil
}

// Range returns the simulated gain stage of a channel.
func (m *Mock) Range(ch Channel) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ranges[ch]
}

// Start begins a simulated acquisition session.
func (m *Mock) Start(channels []Channel) error {
	if _, err := channelMask(channels); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	m.channels = append(m.channels[:0], channels...)
	m.started = true
	m.session = m.produced
	m.begin = time.Now()
	return nil
}

// Stop ends the acquisition session.
func (m *Mock) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.started = false
	return nil
}

// Read produces the next block.
func (m *Mock) Read(ctx context.Context) (Block, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return Block{}, ErrClosed
	}
	if !m.started {
		m.mu.Unlock()
		return Block{}, ErrNotStarted
	}
	block := m.generate(m.sampler.BlockSize)
	due := m.begin.Add(m.wordsDuration(m.produced - m.session))
	m.mu.Unlock()

	if m.paced {
		timer := time.NewTimer(time.Until(due))
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return Block{}, ctx.Err()
		}
	} else if err := ctx.Err(); err != nil {
		return Block{}, err
	}

	return block, nil
}

// Close stops the simulation permanently.
func (m *Mock) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.started = false
	return nil
}

func (m *Mock) wordsDuration(words uint64) time.Duration {
	return time.Duration(float64(words) / float64(m.sampler.SampleRate) * float64(time.Second))
}

// generate produces n interleaved words. Must be called with mu held.
func (m *Mock) generate(n int) Block {
	block := Block{
		Timestamp: m.produced * 1000000 / uint64(m.sampler.SampleRate),
		Words:     make([]Word, n),
	}

	for i := range block.Words {
		ch := m.channels[int(m.produced)%len(m.channels)]
		t := float64(m.produced) / float64(m.sampler.SampleRate)
		block.Words[i] = Pack(ch, m.count(ch, t))
		m.produced++
	}

	return block
}

// count converts the simulated physical signal on a channel to ADC counts.
func (m *Mock) count(ch Channel, t float64) uint16 {
	units := float64(m.cfg.Zero)

	omega := 2 * math.Pi * m.cfg.Frequency * t
	switch int(ch) {
	case m.sampler.VoltageChannel:
		v := m.cfg.Voltage * math.Sqrt2 * math.Sin(omega)
		units += v / m.factors[ch][m.ranges[ch]]
	case m.sampler.CurrentChannel:
		i := m.cfg.Current * math.Sqrt2 * math.Sin(omega-m.cfg.Phase*math.Pi/180)
		units += i / m.factors[ch][m.ranges[ch]]
	}

	c := units*MaxCount/float64(m.sampler.FullScale) + m.cfg.Noise*(2*m.rng.Float64()-1)
	return uint16(math.Round(math.Max(0, math.Min(MaxCount, c))))
}
