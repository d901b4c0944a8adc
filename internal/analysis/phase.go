package analysis

import (
	"math"
	"strings"

	"github.com/san-kum/rdspiral/internal/metrics"
)

type Point struct{ X, Y float64 }

// PhasePortrait2D is the trajectory of two sample statistics.
type PhasePortrait2D struct {
	XLabel, YLabel string
	Points         []Point
}

// MeanPortrait traces (mean u, mean v). A rotating pattern draws a
// circle; a decayed one collapses onto the homogeneous limit cycle.
func MeanPortrait(samples []metrics.Sample) *PhasePortrait2D {
	portrait := &PhasePortrait2D{XLabel: "mean u", YLabel: "mean v", Points: make([]Point, 0, len(samples))}
	for _, s := range samples {
		if !s.IsFinite() {
			continue
		}
		portrait.Points = append(portrait.Points, Point{X: s.UMean, Y: s.VMean})
	}
	return portrait
}

// StdPortrait traces (std u, std v).
func StdPortrait(samples []metrics.Sample) *PhasePortrait2D {
	portrait := &PhasePortrait2D{XLabel: "std u", YLabel: "std v", Points: make([]Point, 0, len(samples))}
	for _, s := range samples {
		if !s.IsFinite() {
			continue
		}
		portrait.Points = append(portrait.Points, Point{X: s.UStd, Y: s.VStd})
	}
	return portrait
}

// PhasePortraitToASCII renders the portrait on a width×height canvas.
func PhasePortraitToASCII(portrait *PhasePortrait2D, width, height int) string {
	if portrait == nil || len(portrait.Points) == 0 || width < 2 || height < 2 {
		return ""
	}

	minX, maxX := portrait.Points[0].X, portrait.Points[0].X
	minY, maxY := portrait.Points[0].Y, portrait.Points[0].Y
	for _, p := range portrait.Points {
		minX, maxX = math.Min(minX, p.X), math.Max(maxX, p.X)
		minY, maxY = math.Min(minY, p.Y), math.Max(maxY, p.Y)
	}

	rangeX := maxX - minX
	rangeY := maxY - minY
	if rangeX == 0 {
		rangeX = 1
	}
	if rangeY == 0 {
		rangeY = 1
	}
	minX -= rangeX * 0.1
	maxX += rangeX * 0.1
	minY -= rangeY * 0.1
	maxY += rangeY * 0.1
	rangeX = maxX - minX
	rangeY = maxY - minY

	canvas := make([][]rune, height)
	for i := range canvas {
		canvas[i] = []rune(strings.Repeat(" ", width))
	}

	for _, p := range portrait.Points {
		col := int((p.X - minX) / rangeX * float64(width-1))
		row := height - 1 - int((p.Y-minY)/rangeY*float64(height-1))
		if row >= 0 && row < height && col >= 0 && col < width {
			canvas[row][col] = '•'
		}
	}

	// axes, where visible
	if minX <= 0 && maxX >= 0 {
		col := int((0 - minX) / rangeX * float64(width-1))
		for row := range canvas {
			if canvas[row][col] == ' ' {
				canvas[row][col] = '│'
			}
		}
	}
	if minY <= 0 && maxY >= 0 {
		row := height - 1 - int((0-minY)/rangeY*float64(height-1))
		for col := range canvas[row] {
			if canvas[row][col] == ' ' {
				canvas[row][col] = '─'
			}
		}
	}

	var sb strings.Builder
	for _, row := range canvas {
		sb.WriteString(string(row))
		sb.WriteRune('\n')
	}
	return sb.String()
}

// Crossings returns the interpolated times at which mean u crosses zero
// upwards. This is a Poincaré section of the mean-field rotation.
func Crossings(samples []metrics.Sample) []float64 {
	var out []float64
	for i := 1; i < len(samples); i++ {
		a, b := samples[i-1], samples[i]
		if !(a.UMean < 0 && b.UMean >= 0) {
			continue
		}
		frac := -a.UMean / (b.UMean - a.UMean)
		if math.IsNaN(frac) || math.IsInf(frac, 0) {
			frac = 0.5
		}
		out = append(out, a.Time+frac*(b.Time-a.Time))
	}
	return out
}

// RotationPeriod is the mean spacing of upward zero crossings of mean u,
// or 0 with fewer than two crossings.
func RotationPeriod(samples []metrics.Sample) float64 {
	c := Crossings(samples)
	if len(c) < 2 {
		return 0
	}
	return (c[len(c)-1] - c[0]) / float64(len(c)-1)
}
