package export

import (
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/san-kum/rdspiral/internal/analysis"
	"github.com/san-kum/rdspiral/internal/dynamo"
)

func TestFieldToSVG(t *testing.T) {
	f := dynamo.Field{-1, 0, 1, math.NaN()}
	var sb strings.Builder
	if err := FieldToSVG(&sb, f, 2, 10, -1, 1); err != nil {
		t.Fatal(err)
	}
	out := sb.String()
	if n := strings.Count(out, "<rect"); n != 4 {
		t.Errorf("expected 4 cells, got %d", n)
	}
	for _, want := range []string{`fill="#3a4cbf"`, `fill="#dddddd"`, `fill="#b50526"`, `fill="#000000"`} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %s", want)
		}
	}
	// row 0 is drawn at the bottom
	if !strings.Contains(out, `<rect x="0.0" y="10.0"`) {
		t.Error("first cell should sit in the bottom row")
	}

	if err := FieldToSVG(&sb, f[:3], 2, 10, -1, 1); !errors.Is(err, dynamo.ErrTransform) {
		t.Errorf("expected transform error, got %v", err)
	}
	if err := FieldToSVG(&sb, f, 2, 10, 1, 1); !errors.Is(err, dynamo.ErrConfiguration) {
		t.Errorf("expected configuration error, got %v", err)
	}
}

func TestTrajectoryToSVG(t *testing.T) {
	pts := []analysis.Point{{X: 0, Y: 0}, {X: 1, Y: 1}, {X: 2, Y: 0}}
	var sb strings.Builder
	if err := TrajectoryToSVG(&sb, pts, 100, 50, "#00ffff"); err != nil {
		t.Fatal(err)
	}
	out := sb.String()
	if !strings.Contains(out, `stroke="#00ffff"`) || strings.Count(out, " L") != 2 {
		t.Errorf("unexpected path:\n%s", out)
	}
	if err := TrajectoryToSVG(&sb, pts[:1], 100, 50, "#fff"); err == nil {
		t.Error("expected error for a single point")
	}
}
