package chart

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
)

const (
	dotRune   = '•'
	emptyRune = '·'
)

// ValueColor returns the color for a value given warn/crit levels. Levels
// of zero are ignored.
func ValueColor(v, warn, crit float64) lipgloss.Color {
	switch {
	case crit > 0 && v >= crit:
		return lipgloss.Color("196") // red
	case warn > 0 && v >= warn:
		return lipgloss.Color("208") // orange
	case warn > 0 && v >= warn*0.85:
		return lipgloss.Color("220") // yellow
	default:
		return lipgloss.Color("78") // soft green
	}
}

// Render draws the polyline onto a width x height character grid. Segments
// are clipped to the grid before they are rasterized, so points far outside
// it cost no more than points inside.
func Render(points []Point, width, height int, color lipgloss.Color) string {
	if width <= 0 || height <= 0 {
		return ""
	}

	grid := make([][]rune, height)
	for y := range grid {
		grid[y] = []rune(strings.Repeat(string(emptyRune), width))
	}

	plot := func(x, y int) {
		if x >= 0 && x < width && y >= 0 && y < height {
			grid[y][x] = dotRune
		}
	}

	for i, p := range points {
		if i == 0 {
			plot(p.X, p.Y)
			continue
		}
		if a, b, ok := clip(points[i-1], p, width, height); ok {
			line(a, b, plot)
		}
	}

	dim := lipgloss.NewStyle().Foreground(lipgloss.Color("236"))
	lit := lipgloss.NewStyle().Foreground(color)

	rows := make([]string, height)
	for y, row := range grid {
		var sb strings.Builder
		for _, ch := range row {
			if ch == dotRune {
				sb.WriteString(lit.Render(string(ch)))
			} else {
				sb.WriteString(dim.Render(string(ch)))
			}
		}
		rows[y] = sb.String()
	}
	return strings.Join(rows, "\n")
}

// clip cuts the segment a-b to the grid with the Liang-Barsky algorithm. ok
// is false when no part of the segment lies on the grid.
func clip(a, b Point, width, height int) (Point, Point, bool) {
	x0, y0 := float64(a.X), float64(a.Y)
	dx, dy := float64(b.X)-x0, float64(b.Y)-y0

	t0, t1 := 0.0, 1.0
	for _, e := range [4][2]float64{
		{-dx, x0},
		{dx, float64(width-1) - x0},
		{-dy, y0},
		{dy, float64(height-1) - y0},
	} {
		p, q := e[0], e[1]
		if p == 0 {
			if q < 0 {
				return a, b, false
			}
			continue
		}
		r := q / p
		if p < 0 {
			if r > t1 {
				return a, b, false
			}
			t0 = math.Max(t0, r)
		} else {
			if r < t0 {
				return a, b, false
			}
			t1 = math.Min(t1, r)
		}
	}

	at := func(t float64) Point {
		return Point{X: int(math.Round(x0 + t*dx)), Y: int(math.Round(y0 + t*dy))}
	}
	return at(t0), at(t1), true
}

// line rasterizes the segment a-b with Bresenham's algorithm.
func line(a, b Point, plot func(x, y int)) {
	dx := abs(b.X - a.X)
	dy := -abs(b.Y - a.Y)
	sx, sy := 1, 1
	if a.X > b.X {
		sx = -1
	}
	if a.Y > b.Y {
		sy = -1
	}
	e := dx + dy
	x, y := a.X, a.Y
	for {
		plot(x, y)
		if x == b.X && y == b.Y {
			return
		}
		e2 := 2 * e
		if e2 >= dy {
			e += dy
			x += sx
		}
		if e2 <= dx {
			e += dx
			y += sy
		}
	}
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

// RenderAxis renders the time labels under a plot of the given window.
func RenderAxis(width int, window time.Duration) string {
	if width <= 0 {
		return ""
	}
	left := fmt.Sprintf("-%s", window.Round(time.Second))
	right := "now"

	gap := width - len(left) - len(right)
	if gap < 1 {
		return lipgloss.NewStyle().Foreground(lipgloss.Color("239")).Render(right)
	}
	return lipgloss.NewStyle().
		Foreground(lipgloss.Color("239")).
		Render(left + strings.Repeat(" ", gap) + right)
}

// RenderValue renders a channel value with its unit, color coded.
func RenderValue(v float64, unit string, warn, crit float64) string {
	s := fmt.Sprintf("%6.1f%s", v, unit)
	style := lipgloss.NewStyle().Foreground(ValueColor(v, warn, crit))
	if crit > 0 && v >= crit {
		style = style.Bold(true)
	}
	return style.Render(s)
}
