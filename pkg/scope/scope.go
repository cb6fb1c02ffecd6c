package scope

import (
	"image/color"
	"sync"
	"time"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/canvas"
	"fyne.io/fyne/v2/widget"

	"github.com/itohio/wattmeter/pkg/config"
	"github.com/itohio/wattmeter/pkg/meter"
	"github.com/itohio/wattmeter/pkg/sample"
	"github.com/itohio/wattmeter/pkg/stream"
)

// DefaultWindow is the time span shown by the scope.
const DefaultWindow = 100 * time.Millisecond

// point is one displayed sample in physical units.
type point struct {
	Voltage float64
	Current float64
}

// ScopeWidget displays the voltage and current waveforms together with the
// latest calculated measures.
type ScopeWidget struct {
	widget.BaseWidget

	groupPeriod time.Duration // Time between consecutive measures

	// Data (protected by mu)
	mu        sync.RWMutex
	points    []point // Rolling window, oldest first
	capacity  int
	display   []point
	measures  meter.CalculatedMeasures
	published bool

	vMin, vMax float64
	cMin, cMax float64

	maxDisplayPoints int
}

// New creates a scope showing DefaultWindow of signal.
func New(cfg *config.Config) *ScopeWidget {
	groupRate := float64(cfg.Sampler.SampleRate) / float64(cfg.Sampler.GroupSize)
	capacity := max(int(groupRate*DefaultWindow.Seconds()), 2)

	s := &ScopeWidget{
		groupPeriod:      time.Duration(float64(time.Second) / groupRate),
		points:           make([]point, 0, capacity),
		capacity:         capacity,
		display:          make([]point, 0, 1000),
		maxDisplayPoints: 1000,
	}
	s.ExtendBaseWidget(s)
	s.Refresh()
	return s
}

// UpdateFrame appends the measures of a frame to the rolling window.
// Call it through fyne.Do from non-UI goroutines.
func (s *ScopeWidget) UpdateFrame(f stream.Frame) {
	s.mu.Lock()
	s.points = appendPoints(s.points, s.capacity, f)
	s.display = sample.Downsample(s.display, s.points, s.maxDisplayPoints)
	s.updateAutoScale()
	s.mu.Unlock()

	s.Refresh()
}

// UpdateMeasures shows a new snapshot.
func (s *ScopeWidget) UpdateMeasures(m meter.CalculatedMeasures) {
	s.mu.Lock()
	s.measures = m
	s.published = true
	s.mu.Unlock()

	s.Refresh()
}

// appendPoints scales the frame measures and keeps at most capacity points.
func appendPoints(points []point, capacity int, f stream.Frame) []point {
	for _, m := range f.Measures {
		points = append(points, point{
			Voltage: float64(f.VoltageScale) * float64(m.Voltage),
			Current: float64(f.CurrentScale) * float64(m.Current),
		})
	}
	if drop := len(points) - capacity; drop > 0 {
		n := copy(points, points[drop:])
		points = points[:n]
	}
	return points
}

// updateAutoScale derives symmetric axis ranges. Must be called with mu held.
func (s *ScopeWidget) updateAutoScale() {
	s.vMin, s.vMax = symmetricRange(s.display, func(p point) float64 { return p.Voltage })
	s.cMin, s.cMax = symmetricRange(s.display, func(p point) float64 { return p.Current })
}

// symmetricRange returns a range centred on zero covering every value with
// a 10% margin.
func symmetricRange(points []point, value func(point) float64) (float64, float64) {
	peak := 0.0
	for _, p := range points {
		peak = max(peak, value(p), -value(p))
	}
	if peak == 0 {
		peak = 1
	}
	peak *= 1.1
	return -peak, peak
}

// CreateRenderer creates the widget renderer.
func (s *ScopeWidget) CreateRenderer() fyne.WidgetRenderer {
	grid := canvas.NewRectangle(color.RGBA{R: 20, G: 20, B: 20, A: 255})
	return &scopeRenderer{
		scope:   s,
		grid:    grid,
		objects: []fyne.CanvasObject{grid},
	}
}
