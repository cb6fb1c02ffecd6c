package scope

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/itohio/wattmeter/pkg/meter"
	"github.com/itohio/wattmeter/pkg/sample"
	"github.com/itohio/wattmeter/pkg/stream"
)

func TestAppendPoints_KeepsWindow(t *testing.T) {
	f := stream.Frame{
		VoltageScale: 0.5,
		CurrentScale: 0.25,
		Measures: []sample.Measure{
			{Voltage: 2, Current: 4},
			{Voltage: 4, Current: 8},
			{Voltage: 6, Current: 12},
		},
	}

	points := appendPoints(nil, 4, f)
	assert.Equal(t, []point{{1, 1}, {2, 2}, {3, 3}}, points)

	points = appendPoints(points, 4, f)
	assert.Equal(t, []point{{3, 3}, {1, 1}, {2, 2}, {3, 3}}, points)
}

func TestSymmetricRange(t *testing.T) {
	voltage := func(p point) float64 { return p.Voltage }

	lo, hi := symmetricRange(nil, voltage)
	assert.InDelta(t, -1.1, lo, 1e-9)
	assert.InDelta(t, 1.1, hi, 1e-9)

	lo, hi = symmetricRange([]point{{Voltage: 100}, {Voltage: -300}}, voltage)
	assert.InDelta(t, -330, lo, 1e-9)
	assert.InDelta(t, 330, hi, 1e-9)
}

func TestFormatUnit(t *testing.T) {
	tests := []struct {
		v    float64
		unit string
		want string
	}{
		{0, "V", "0 V"},
		{230, "V", "230 V"},
		{-325.3, "V", "-325 V"},
		{0.25, "A", "250 mA"},
		{1234, "W", "1.23 kW"},
		{0.0000125, "A", "12.5 µA"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, formatUnit(tt.v, tt.unit))
	}
}

func TestFormatTime(t *testing.T) {
	assert.Equal(t, "0 ms", formatTime(0))
	assert.Equal(t, "12.5 ms", formatTime(12500*time.Microsecond))
}

func TestMeasureLines(t *testing.T) {
	lines := measureLines(meter.CalculatedMeasures{
		Frequency: 50,
		Voltage:   meter.VariableMeasure{RMS: 230},
		Current:   meter.VariableMeasure{RMS: 0.25},
		Power:     meter.PowerMeasure{Active: 49.8, Factor: 0.866},
	})
	assert.Equal(t, []string{"U 230 V", "I 250 mA", "P 49.8 W", "PF 0.866  f 50.00 Hz"}, lines)
}
