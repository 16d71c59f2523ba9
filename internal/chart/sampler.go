// Package chart turns a channel's time series into a trend polyline and
// draws it in the terminal.
package chart

import (
	"math"
	"time"

	"github.com/luki/fanmon/internal/history"
)

// Point is a display coordinate. Y grows downwards.
type Point struct {
	X, Y int
}

// Geometry describes the plot area and the value band mapped onto it.
type Geometry struct {
	Width  int
	Height int
	Window time.Duration
	YMin   float64
	YMax   float64
}

func (g Geometry) valid() bool {
	return g.Width >= 1 && g.Height >= 2 && g.Window > 0 && g.YMax != g.YMin
}

// maxOffPlot bounds how far outside the plot area a point may be mapped so
// that extreme readings stay representable as int and cheap to clip.
const maxOffPlot = 1 << 20

func (g Geometry) row(v, yScale float64) int {
	steps := math.Floor((v - g.YMin) / yScale)
	steps = math.Max(-maxOffPlot, math.Min(steps, maxOffPlot))
	return g.Height - 1 - int(steps)
}

// Sample averages the samples of the last g.Window into one bucket per
// pixel column and returns one point per non-empty column, in increasing X.
// Values outside [YMin, YMax] map outside the plot area rather than being
// clamped, up to maxOffPlot rows away. Non-finite values are ignored. When
// at least two points exist the line is held at its last value up to the
// right edge. Fewer than two points yield nil.
func Sample(points []history.Point, now time.Time, g Geometry) []Point {
	if !g.valid() {
		return nil
	}

	window := g.Window.Seconds()
	tMin := float64(now.Unix()) - window
	xScale := window / float64(g.Width)
	yScale := (g.YMax - g.YMin) / float64(g.Height-1)

	sums := make([]float64, g.Width+1)
	counts := make([]int, g.Width+1)

	for _, p := range points {
		t := float64(p.Time)
		if t < tMin || math.IsNaN(p.Value) || math.IsInf(p.Value, 0) {
			continue
		}
		col := int(math.Floor((t - tMin) / xScale))
		if col < 0 {
			col = 0
		}
		if col > g.Width {
			col = g.Width
		}
		sums[col] += p.Value
		counts[col]++
	}

	var out []Point
	for i := 0; i < g.Width; i++ {
		if counts[i] == 0 {
			continue
		}
		avg := sums[i] / float64(counts[i])
		out = append(out, Point{X: i, Y: g.row(avg, yScale)})
	}

	if len(out) < 2 {
		return nil
	}
	if last := out[len(out)-1]; last.X < g.Width-1 {
		out = append(out, Point{X: g.Width - 1, Y: last.Y})
	}
	return out
}
