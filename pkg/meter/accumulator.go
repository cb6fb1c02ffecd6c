package meter

import (
	"math"

	"github.com/chewxy/math32"

	"github.com/itohio/wattmeter/pkg/sample"
)

// VariableAccumulator collects statistics of one signed variable.
type VariableAccumulator struct {
	Min        int16
	Max        int16
	Sum        int64
	SquaredSum int64
	Count      uint64
}

// Add includes v.
func (a *VariableAccumulator) Add(v int16) {
	if a.Count == 0 || v < a.Min {
		a.Min = v
	}
	if a.Count == 0 || v > a.Max {
		a.Max = v
	}
	a.Sum += int64(v)
	a.SquaredSum += int64(v) * int64(v)
	a.Count++
}

// Merge includes everything o has collected.
func (a *VariableAccumulator) Merge(o *VariableAccumulator) {
	if o.Count == 0 {
		return
	}
	if a.Count == 0 || o.Min < a.Min {
		a.Min = o.Min
	}
	if a.Count == 0 || o.Max > a.Max {
		a.Max = o.Max
	}
	a.Sum += o.Sum
	a.SquaredSum += o.SquaredSum
	a.Count += o.Count
}

// Reset clears the statistics.
func (a *VariableAccumulator) Reset() {
	*a = VariableAccumulator{}
}

// Mean returns the unscaled mean.
func (a *VariableAccumulator) Mean() float32 {
	if a.Count == 0 {
		return 0
	}
	return float32(float64(a.Sum) / float64(a.Count))
}

// RMS returns the unscaled root mean square.
func (a *VariableAccumulator) RMS() float32 {
	if a.Count == 0 {
		return 0
	}
	return float32(math.Sqrt(float64(a.SquaredSum) / float64(a.Count)))
}

// Measure applies scale to the statistics.
func (a *VariableAccumulator) Measure(scale float32) VariableMeasure {
	if a.Count == 0 {
		return VariableMeasure{}
	}
	return VariableMeasure{
		Min:  scale * float32(a.Min),
		Max:  scale * float32(a.Max),
		Mean: scale * a.Mean(),
		RMS:  scale * a.RMS(),
	}
}

// Accumulator collects voltage, current and instantaneous power.
type Accumulator struct {
	Voltage  VariableAccumulator
	Current  VariableAccumulator
	PowerSum int64
}

// Add includes one measure.
func (a *Accumulator) Add(m sample.Measure) {
	a.Voltage.Add(m.Voltage)
	a.Current.Add(m.Current)
	a.PowerSum += int64(m.Voltage) * int64(m.Current)
}

// Merge includes everything o has collected.
func (a *Accumulator) Merge(o *Accumulator) {
	a.Voltage.Merge(&o.Voltage)
	a.Current.Merge(&o.Current)
	a.PowerSum += o.PowerSum
}

// Reset clears the accumulator.
func (a *Accumulator) Reset() {
	*a = Accumulator{}
}

// Count returns the number of measures collected.
func (a *Accumulator) Count() uint64 {
	return a.Voltage.Count
}

// Power derives power metrics using the scaled RMS values of both variables.
func (a *Accumulator) Power(voltageScale, currentScale float32) PowerMeasure {
	if a.Count() == 0 {
		return PowerMeasure{}
	}

	active := voltageScale * currentScale * float32(float64(a.PowerSum)/float64(a.Count()))
	apparent := voltageScale * a.Voltage.RMS() * currentScale * a.Current.RMS()
	if apparent == 0 {
		return PowerMeasure{Active: active}
	}

	return PowerMeasure{
		Active:   active,
		Apparent: apparent,
		Reactive: math32.Sqrt(max(apparent*apparent-active*active, 0)),
		Factor:   active / apparent,
	}
}
