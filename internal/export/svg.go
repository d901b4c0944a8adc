// Package export writes fields and trajectories as standalone SVG images.
package export

import (
	"bufio"
	"fmt"
	"io"
	"math"

	"github.com/san-kum/rdspiral/internal/analysis"
	"github.com/san-kum/rdspiral/internal/dynamo"
)

// diverging blue-white-red ramp
var ramp = [][3]float64{
	{0.23, 0.30, 0.75},
	{0.87, 0.87, 0.87},
	{0.71, 0.02, 0.15},
}

func colourAt(level float64) string {
	level = min(max(level, 0), 1)
	pos := level * float64(len(ramp)-1)
	i := min(int(pos), len(ramp)-2)
	frac := pos - float64(i)
	var c [3]int
	for k := range c {
		c[k] = int(255 * (ramp[i][k] + frac*(ramp[i+1][k]-ramp[i][k])))
	}
	return fmt.Sprintf("#%02x%02x%02x", c[0], c[1], c[2])
}

// FieldToSVG draws an n×n field as cellPx-sized squares with row 0 at the
// bottom, values mapped onto [lo, hi]. NaN cells are drawn black.
func FieldToSVG(w io.Writer, f dynamo.Field, n int, cellPx float64, lo, hi float64) error {
	if n == 0 || len(f) != n*n {
		return dynamo.TransformError("svg field", len(f), n*n)
	}
	if hi <= lo {
		return &dynamo.ConfigError{Field: "svg.range", Value: []float64{lo, hi}, Reason: "hi must exceed lo"}
	}
	size := float64(n) * cellPx

	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, `<?xml version="1.0" encoding="UTF-8"?>
<svg xmlns="http://www.w3.org/2000/svg" width="%.0f" height="%.0f" viewBox="0 0 %.0f %.0f" shape-rendering="crispEdges">
`, size, size, size, size)

	for i := 0; i < n; i++ {
		y := size - float64(i+1)*cellPx
		for j := 0; j < n; j++ {
			v := f[i*n+j]
			fill := "#000000"
			if !math.IsNaN(v) {
				fill = colourAt((v - lo) / (hi - lo))
			}
			fmt.Fprintf(bw, `<rect x="%.1f" y="%.1f" width="%.1f" height="%.1f" fill="%s"/>
`, float64(j)*cellPx, y, cellPx, cellPx, fill)
		}
	}
	bw.WriteString("</svg>\n")
	return bw.Flush()
}

// TrajectoryToSVG draws points as one polyline, padded by 10% of the range.
func TrajectoryToSVG(w io.Writer, points []analysis.Point, width, height int, strokeColor string) error {
	if len(points) < 2 {
		return fmt.Errorf("svg trajectory: need at least 2 points, have %d", len(points))
	}

	minX, maxX := points[0].X, points[0].X
	minY, maxY := points[0].Y, points[0].Y
	for _, p := range points {
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

	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, `<?xml version="1.0" encoding="UTF-8"?>
<svg xmlns="http://www.w3.org/2000/svg" width="%d" height="%d" viewBox="0 0 %d %d">
<rect width="100%%" height="100%%" fill="#0a0a0a"/>
<path fill="none" stroke="%s" stroke-width="1.5" d="M`,
		width, height, width, height, strokeColor)

	for i, p := range points {
		x := (p.X - minX) / rangeX * float64(width)
		y := float64(height) - (p.Y-minY)/rangeY*float64(height)
		if i == 0 {
			fmt.Fprintf(bw, "%.1f,%.1f", x, y)
		} else {
			fmt.Fprintf(bw, " L%.1f,%.1f", x, y)
		}
	}
	bw.WriteString("\"/>\n</svg>\n")
	return bw.Flush()
}
