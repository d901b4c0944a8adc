package dynamo

import (
	"gonum.org/v1/gonum/floats"
)

// Grid is a square doubly-periodic domain [-L/2, L/2)² sampled on n×n points.
type Grid struct {
	L float64
	N int
}

func NewGrid(l float64, n int) (Grid, error) {
	if !(l > 0) {
		return Grid{}, &ConfigError{Field: "L", Value: l, Reason: "domain side must be positive"}
	}
	if n < 1 {
		return Grid{}, &ConfigError{Field: "n", Value: n, Reason: "resolution must be at least 1"}
	}
	return Grid{L: l, N: n}, nil
}

func (g Grid) Dx() float64 { return g.L / float64(g.N) }

// Points is the number of samples in one field.
func (g Grid) Points() int { return g.N * g.N }

// Axis returns the n coordinates of one axis; the periodic image of the
// first point at +L/2 is excluded.
func (g Grid) Axis() []float64 {
	pts := make([]float64, g.N+1)
	floats.Span(pts, -g.L/2, g.L/2)
	return pts[:g.N]
}

// Field is an n×n array stored row-major: index i*n+j is row i (y), column j (x).
type Field []float64

func NewField(g Grid) Field { return make(Field, g.Points()) }

func (f Field) Clone() Field {
	c := make(Field, len(f))
	copy(c, f)
	return c
}

// Rows returns n views into f without copying.
func (f Field) Rows(n int) [][]float64 {
	rows := make([][]float64, n)
	for i := range rows {
		rows[i] = f[i*n : (i+1)*n]
	}
	return rows
}

// FieldPair holds both species at one instant.
type FieldPair struct {
	U Field
	V Field
}

func (p FieldPair) Clone() FieldPair {
	return FieldPair{U: p.U.Clone(), V: p.V.Clone()}
}

func (p FieldPair) IsValid() bool {
	return State(p.U).IsValid() && State(p.V).IsValid()
}

// Pack lays the pair out as [u..., v...]. The result does not alias p.
func Pack(p FieldPair) State {
	x := make(State, len(p.U)+len(p.V))
	copy(x, p.U)
	copy(x[len(p.U):], p.V)
	return x
}

// Unpack splits x into views of its two halves; the pair aliases x.
func Unpack(x State, g Grid) (FieldPair, error) {
	np := g.Points()
	if len(x) != 2*np {
		return FieldPair{}, TransformError("unpack", len(x), 2*np)
	}
	return FieldPair{U: Field(x[:np:np]), V: Field(x[np:])}, nil
}
