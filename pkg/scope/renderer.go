package scope

import (
	"fmt"
	"image/color"
	"math"
	"time"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/canvas"

	"github.com/itohio/wattmeter/pkg/meter"
)

var (
	gridColor    = color.RGBA{R: 40, G: 40, B: 40, A: 255}
	labelColor   = color.RGBA{R: 150, G: 150, B: 150, A: 255}
	voltageColor = color.RGBA{R: 255, G: 165, B: 0, A: 255}
	currentColor = color.RGBA{R: 100, G: 200, B: 255, A: 255}
	textColor    = color.RGBA{R: 200, G: 200, B: 200, A: 255}
)

type scopeRenderer struct {
	scope *ScopeWidget

	grid     *canvas.Rectangle
	objects  []fyne.CanvasObject
	lastSize fyne.Size
}

func (r *scopeRenderer) MinSize() fyne.Size {
	return fyne.NewSize(400, 300)
}

func (r *scopeRenderer) Layout(size fyne.Size) {
	r.grid.Resize(size)

	if r.lastSize != size {
		r.lastSize = size
		r.scope.BaseWidget.Refresh()
	}
}

// Refresh rebuilds the canvas objects from the current data.
func (r *scopeRenderer) Refresh() {
	r.scope.mu.RLock()
	points := append([]point(nil), r.scope.display...)
	span := time.Duration(len(r.scope.points)) * r.scope.groupPeriod
	measures, published := r.scope.measures, r.scope.published
	vMin, vMax := r.scope.vMin, r.scope.vMax
	cMin, cMax := r.scope.cMin, r.scope.cMax
	r.scope.mu.RUnlock()

	size := r.scope.Size()
	if size.Width == 0 || size.Height == 0 {
		return
	}

	r.objects = []fyne.CanvasObject{r.grid}

	marginLeft := float32(60)
	marginRight := float32(60)
	marginTop := float32(40)
	marginBottom := float32(30)

	plotX := marginLeft
	plotY := marginTop
	plotWidth := size.Width - marginLeft - marginRight
	plotHeight := size.Height - marginTop - marginBottom

	r.drawGrid(plotX, plotY, plotWidth, plotHeight, vMin, vMax, cMin, cMax, span)
	if len(points) > 1 {
		r.drawTrace(plotX, plotY, plotWidth, plotHeight, points, vMin, vMax, voltageColor, func(p point) float64 { return p.Voltage })
		r.drawTrace(plotX, plotY, plotWidth, plotHeight, points, cMin, cMax, currentColor, func(p point) float64 { return p.Current })
	}
	if published {
		r.drawMeasures(plotX, measures)
	}
}

func (r *scopeRenderer) drawGrid(plotX, plotY, plotWidth, plotHeight float32, vMin, vMax, cMin, cMax float64, span time.Duration) {
	const numHLines = 8
	for i := range numHLines + 1 {
		y := plotY + float32(i)*plotHeight/numHLines
		r.addLine(gridColor, 1, fyne.NewPos(plotX, y), fyne.NewPos(plotX+plotWidth, y))

		frac := float64(i) / numHLines
		r.addText(formatUnit(vMax-frac*(vMax-vMin), "V"), labelColor, 10, fyne.TextAlignTrailing, fyne.NewPos(plotX-5, y-6))
		r.addText(formatUnit(cMax-frac*(cMax-cMin), "A"), labelColor, 10, fyne.TextAlignLeading, fyne.NewPos(plotX+plotWidth+5, y-6))
	}

	const numVLines = 10
	for i := range numVLines + 1 {
		x := plotX + float32(i)*plotWidth/numVLines
		r.addLine(gridColor, 1, fyne.NewPos(x, plotY), fyne.NewPos(x, plotY+plotHeight))

		offset := span * time.Duration(i) / numVLines
		r.addText(formatTime(offset), labelColor, 10, fyne.TextAlignCenter, fyne.NewPos(x-20, plotY+plotHeight+5))
	}
}

func (r *scopeRenderer) drawTrace(plotX, plotY, plotWidth, plotHeight float32, points []point, yMin, yMax float64, c color.Color, value func(point) float64) {
	step := plotWidth / float32(len(points)-1)
	prev := fyne.Position{}
	for i, p := range points {
		pos := fyne.NewPos(
			plotX+float32(i)*step,
			plotY+plotHeight-float32((value(p)-yMin)/(yMax-yMin))*plotHeight,
		)
		if i > 0 {
			r.addLine(c, 1.5, prev, pos)
		}
		prev = pos
	}
}

func (r *scopeRenderer) drawMeasures(plotX float32, m meter.CalculatedMeasures) {
	for i, line := range measureLines(m) {
		r.addText(line, textColor, 11, fyne.TextAlignLeading, fyne.NewPos(plotX+float32(i)*150, 8))
	}
}

func (r *scopeRenderer) addLine(c color.Color, width float32, from, to fyne.Position) {
	line := canvas.NewLine(c)
	line.Position1 = from
	line.Position2 = to
	line.StrokeWidth = width
	r.objects = append(r.objects, line)
}

func (r *scopeRenderer) addText(s string, c color.Color, size float32, align fyne.TextAlign, pos fyne.Position) {
	text := canvas.NewText(s, c)
	text.TextSize = size
	text.Alignment = align
	text.Move(pos)
	r.objects = append(r.objects, text)
}

func (r *scopeRenderer) Objects() []fyne.CanvasObject {
	return r.objects
}

func (r *scopeRenderer) Destroy() {}

// measureLines formats a snapshot for the header of the scope.
func measureLines(m meter.CalculatedMeasures) []string {
	return []string{
		fmt.Sprintf("U %s", formatUnit(float64(m.Voltage.RMS), "V")),
		fmt.Sprintf("I %s", formatUnit(float64(m.Current.RMS), "A")),
		fmt.Sprintf("P %s", formatUnit(float64(m.Power.Active), "W")),
		fmt.Sprintf("PF %.3f  f %.2f Hz", m.Power.Factor, m.Frequency),
	}
}

// formatUnit prints v with an SI prefix and three significant digits.
func formatUnit(v float64, unit string) string {
	abs := math.Abs(v)
	switch {
	case abs == 0:
		return "0 " + unit
	case abs >= 1000:
		return fmt.Sprintf("%.3g k%s", v/1000, unit)
	case abs >= 1:
		return fmt.Sprintf("%.3g %s", v, unit)
	case abs >= 1e-3:
		return fmt.Sprintf("%.3g m%s", v*1e3, unit)
	default:
		return fmt.Sprintf("%.3g µ%s", v*1e6, unit)
	}
}

func formatTime(d time.Duration) string {
	return fmt.Sprintf("%g ms", float64(d.Microseconds())/1000)
}
