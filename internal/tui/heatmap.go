package tui

import (
	"math"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/san-kum/rdspiral/internal/dynamo"
)

const shades = " .:-=+*#%@"

var heatColors = []lipgloss.Color{"#1a1a6e", "#2f4fbf", "#3fa7d6", "#8fd694", "#f6d55c", "#ed553b"}

// Heatmap renders an n×n field at most width columns wide. Each cell
// averages a block of grid points; terminal cells are twice as tall as
// wide, so rows are sampled at half the column density. Values are mapped
// onto [lo, hi]; pass lo == hi to use the field's own range.
func Heatmap(f dynamo.Field, n, width int, lo, hi float64, colour bool) string {
	if n == 0 || len(f) != n*n || width <= 0 {
		return ""
	}
	if lo == hi {
		lo, hi = math.Inf(1), math.Inf(-1)
		for _, v := range f {
			if math.IsNaN(v) {
				continue
			}
			lo, hi = min(lo, v), max(hi, v)
		}
		if lo >= hi {
			hi = lo + 1
		}
	}

	cols := min(width, n)
	rows := max(cols/2, 1)
	var sb strings.Builder
	for r := 0; r < rows; r++ {
		i0, i1 := r*n/rows, (r+1)*n/rows
		for c := 0; c < cols; c++ {
			j0, j1 := c*n/cols, (c+1)*n/cols
			sum, cnt := 0.0, 0
			for i := i0; i < i1; i++ {
				for j := j0; j < j1; j++ {
					sum += f[i*n+j]
					cnt++
				}
			}
			level := (sum/float64(cnt) - lo) / (hi - lo)
			if math.IsNaN(level) {
				sb.WriteRune('?')
				continue
			}
			level = min(max(level, 0), 1)
			ch := string(shades[int(level*float64(len(shades)-1))])
			if colour {
				idx := int(level * float64(len(heatColors)-1))
				ch = lipgloss.NewStyle().Foreground(heatColors[idx]).Render(ch)
			}
			sb.WriteString(ch)
		}
		sb.WriteRune('\n')
	}
	return sb.String()
}
