package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the wattmeter configuration.
type Config struct {
	Serial      SerialConfig      `yaml:"serial"`
	Sampler     SamplerConfig     `yaml:"sampler"`
	Voltage     ChannelConfig     `yaml:"voltage"`
	Current     ChannelConfig     `yaml:"current"`
	Ranges      RangesConfig      `yaml:"ranges"`
	Calculation CalculationConfig `yaml:"calculation"`
	Stream      StreamConfig      `yaml:"stream"`
	Calibration CalibrationConfig `yaml:"calibration"`
	GPIO        GPIOConfig        `yaml:"gpio"`
	Mock        MockConfig        `yaml:"mock"`
	Viewer      ViewerConfig      `yaml:"viewer"`
}

// SerialConfig contains the serial link to the ADC streamer.
type SerialConfig struct {
	Port        string        `yaml:"port"`
	BaudRate    int           `yaml:"baud_rate"`
	ReadTimeout time.Duration `yaml:"read_timeout"`
}

// SamplerConfig describes the raw sample stream.
type SamplerConfig struct {
	SampleRate        int `yaml:"sample_rate"`        // Aggregate words per second over all channels
	GroupSize         int `yaml:"group_size"`         // Words averaged into one group
	BlockSize         int `yaml:"block_size"`         // Words per block
	VoltageChannel    int `yaml:"voltage_channel"`    // ADC channel tag of the voltage input
	CurrentChannel    int `yaml:"current_channel"`    // ADC channel tag of the current input
	ZeroChannel       int `yaml:"zero_channel"`       // ADC channel wired to the analog ground reference (-1 disables)
	FullScale         int `yaml:"full_scale"`         // Output units at count 4095 (4095 = raw counts)
	CalibrationBlocks int `yaml:"calibration_blocks"` // Blocks averaged per calibration reading
}

// ChannelConfig contains a single analog input front end.
type ChannelConfig struct {
	ScaleFactors []float64 `yaml:"scale_factors"`         // Physical units per output unit, widest range first
	DefaultZero  uint16    `yaml:"default_zero"`          // Zero used while the channel was never calibrated
	FixedRange   *int      `yaml:"fixed_range,omitempty"` // Pinned range; nil selects auto-ranging
	Selector     string    `yaml:"selector"`              // one_hot or binary
	Pins         []int     `yaml:"pins"`                  // Expander pins driving the range selector
}

// RangesConfig contains auto-range scoring parameters.
type RangesConfig struct {
	LowestInput    int `yaml:"lowest_input"`    // Lower bound of the ADC linear region
	HighestInput   int `yaml:"highest_input"`   // Upper bound of the ADC linear region
	Overflows      int `yaml:"overflows"`       // Overflows tolerated before decreasing gain
	ResetOverflows int `yaml:"reset_overflows"` // In-region samples that clear the overflow count
	Underflows     int `yaml:"underflows"`      // Underflows tolerated before increasing gain
}

// CalculationConfig contains aggregation parameters.
type CalculationConfig struct {
	ChunkDuration   time.Duration `yaml:"chunk_duration"`
	FrequencyWindow int           `yaml:"frequency_window"` // Chunks averaged for frequency
}

// StreamConfig contains the network stream parameters.
type StreamConfig struct {
	Listen         string `yaml:"listen"`
	BlocksPerFrame int    `yaml:"blocks_per_frame"`
}

// CalibrationConfig contains calibration persistence and references.
type CalibrationConfig struct {
	Store     string  `yaml:"store"`
	Reference float64 `yaml:"reference"` // Voltage applied during factor calibration (V)
}

// GPIOConfig contains the I2C expander driving the range selectors.
type GPIOConfig struct {
	Enabled bool `yaml:"enabled"`
	Address int  `yaml:"address"`
}

// MockConfig contains the simulated mains source.
type MockConfig struct {
	Frequency float64 `yaml:"frequency"` // Mains frequency (Hz)
	Voltage   float64 `yaml:"voltage"`   // RMS voltage (V)
	Current   float64 `yaml:"current"`   // RMS current (A)
	Phase     float64 `yaml:"phase"`     // Current lag (degrees)
	Noise     float64 `yaml:"noise"`     // Peak noise (counts)
	Zero      uint16  `yaml:"zero"`      // Analog zero (output units)
}

// ViewerConfig contains the remote scope settings.
type ViewerConfig struct {
	Server string `yaml:"server"` // Base URL of the wattmeter API
}

// Default returns a default configuration with sensible values.
func Default() *Config {
	return &Config{
		Serial: SerialConfig{
			Port:        "/dev/ttyACM0",
			BaudRate:    921600,
			ReadTimeout: time.Second,
		},
		Sampler: SamplerConfig{
			SampleRate:        44000,
			GroupSize:         16,
			BlockSize:         1024,
			VoltageChannel:    0,
			CurrentChannel:    3,
			ZeroChannel:       6,
			FullScale:         11000,
			CalibrationBlocks: 10,
		},
		Voltage: ChannelConfig{
			ScaleFactors: VoltageScaleFactors(),
			DefaultZero:  5250,
			Selector:     "binary",
			Pins:         []int{0, 1},
		},
		Current: ChannelConfig{
			ScaleFactors: CurrentScaleFactors(),
			DefaultZero:  5250,
			Selector:     "one_hot",
			Pins:         []int{2, 3, 4},
		},
		Ranges: RangesConfig{
			LowestInput:    1000,
			HighestInput:   9500,
			Overflows:      2,
			ResetOverflows: 100,
			Underflows:     3000,
		},
		Calculation: CalculationConfig{
			ChunkDuration:   time.Second,
			FrequencyWindow: 8,
		},
		Stream: StreamConfig{
			Listen:         ":8080",
			BlocksPerFrame: 3,
		},
		Calibration: CalibrationConfig{
			Store:     "calibration.yaml",
			Reference: 5,
		},
		GPIO: GPIOConfig{
			Enabled: false,
			Address: 0x20,
		},
		Mock: MockConfig{
			Frequency: 50,
			Voltage:   230,
			Current:   0.25,
			Phase:     30,
			Noise:     4,
			Zero:      5250,
		},
		Viewer: ViewerConfig{
			Server: "http://localhost:8080",
		},
	}
}

// VoltageScaleFactors returns the divider ratios of the three voltage ranges
// in volts per tenth of millivolt.
func VoltageScaleFactors() []float64 {
	const (
		rHigh = 1010000.0
		rLow  = 1089.0
	)
	bottoms := []float64{rLow, 11830 + rLow, 66600 + 11830 + rLow}
	factors := make([]float64, len(bottoms))
	for i, rl := range bottoms {
		factors[i] = (rHigh + rl) / rl / 10000
	}
	return factors
}

// CurrentScaleFactors returns the shunt conversions of the three current ranges
// in amperes per tenth of millivolt.
func CurrentScaleFactors() []float64 {
	const (
		gain  = 1 + 75890.0/9964.0
		shunt = (930 + 9240 + 91200) / 1000.0
	)
	return []float64{0.0001078, 0.0000116, 1 / (gain * shunt) / 10000}
}

// Load loads configuration from a YAML file. If the file doesn't exist or
// fields are missing, it uses default values.
func Load(filename string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.ensureDefaults()

	return cfg, nil
}

// Save saves the configuration to a YAML file.
func (c *Config) Save(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// ChunkSamples returns the number of sample groups aggregated into one chunk.
func (c *Config) ChunkSamples() int {
	groupsPerSecond := float64(c.Sampler.SampleRate) / float64(c.Sampler.GroupSize)
	return int(groupsPerSecond * c.Calculation.ChunkDuration.Seconds())
}

// ensureDefaults ensures that all required fields have default values if missing.
func (c *Config) ensureDefaults() {
	def := Default()

	if c.Serial.Port == "" {
		c.Serial.Port = def.Serial.Port
	}
	if c.Serial.BaudRate == 0 {
		c.Serial.BaudRate = def.Serial.BaudRate
	}
	if c.Serial.ReadTimeout == 0 {
		c.Serial.ReadTimeout = def.Serial.ReadTimeout
	}

	if c.Sampler.SampleRate == 0 {
		c.Sampler.SampleRate = def.Sampler.SampleRate
	}
	if c.Sampler.GroupSize == 0 {
		c.Sampler.GroupSize = def.Sampler.GroupSize
	}
	if c.Sampler.BlockSize == 0 {
		c.Sampler.BlockSize = def.Sampler.BlockSize
	}
	if c.Sampler.ZeroChannel == 0 {
		c.Sampler.ZeroChannel = def.Sampler.ZeroChannel
	}
	if c.Sampler.FullScale == 0 {
		c.Sampler.FullScale = def.Sampler.FullScale
	}
	if c.Sampler.CalibrationBlocks == 0 {
		c.Sampler.CalibrationBlocks = def.Sampler.CalibrationBlocks
	}

	c.Voltage.ensureDefaults(def.Voltage)
	c.Current.ensureDefaults(def.Current)

	if c.Ranges.LowestInput == 0 {
		c.Ranges.LowestInput = def.Ranges.LowestInput
	}
	if c.Ranges.HighestInput == 0 {
		c.Ranges.HighestInput = def.Ranges.HighestInput
	}
	if c.Ranges.Overflows == 0 {
		c.Ranges.Overflows = def.Ranges.Overflows
	}
	if c.Ranges.ResetOverflows == 0 {
		c.Ranges.ResetOverflows = def.Ranges.ResetOverflows
	}
	if c.Ranges.Underflows == 0 {
		c.Ranges.Underflows = def.Ranges.Underflows
	}

	if c.Calculation.ChunkDuration == 0 {
		c.Calculation.ChunkDuration = def.Calculation.ChunkDuration
	}
	if c.Calculation.FrequencyWindow == 0 {
		c.Calculation.FrequencyWindow = def.Calculation.FrequencyWindow
	}

	if c.Stream.Listen == "" {
		c.Stream.Listen = def.Stream.Listen
	}
	if c.Stream.BlocksPerFrame == 0 {
		c.Stream.BlocksPerFrame = def.Stream.BlocksPerFrame
	}

	if c.Calibration.Store == "" {
		c.Calibration.Store = def.Calibration.Store
	}
	if c.Calibration.Reference == 0 {
		c.Calibration.Reference = def.Calibration.Reference
	}

	if c.GPIO.Address == 0 {
		c.GPIO.Address = def.GPIO.Address
	}

	if c.Mock.Frequency == 0 {
		c.Mock.Frequency = def.Mock.Frequency
	}
	if c.Mock.Zero == 0 {
		c.Mock.Zero = def.Mock.Zero
	}

	if c.Viewer.Server == "" {
		c.Viewer.Server = def.Viewer.Server
	}
}

func (c *ChannelConfig) ensureDefaults(def ChannelConfig) {
	if len(c.ScaleFactors) == 0 {
		c.ScaleFactors = def.ScaleFactors
	}
	if c.DefaultZero == 0 {
		c.DefaultZero = def.DefaultZero
	}
	if c.Selector == "" {
		c.Selector = def.Selector
	}
	if len(c.Pins) == 0 {
		c.Pins = def.Pins
	}
}
