package dynamo

import (
	"math"
)

type State []float64

func (s State) Clone() State {
	c := make(State, len(s))
	copy(c, s)
	return c
}

func (s State) IsValid() bool {
	for _, v := range s {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

func (s State) Norm() float64 {
	sum := 0.0
	for _, v := range s {
		sum += v * v
	}
	return math.Sqrt(sum)
}

// MaxAbs returns the largest magnitude entry, or NaN if any entry is NaN.
func (s State) MaxAbs() float64 {
	m := 0.0
	for _, v := range s {
		if math.IsNaN(v) {
			return math.NaN()
		}
		if a := math.Abs(v); a > m {
			m = a
		}
	}
	return m
}

// System is the right-hand side of dX/dt = f(X, t).
type System interface {
	Derive(x State, t float64) (State, error)
	StateDim() int
}

// StepStats counts adaptive step outcomes.
type StepStats struct {
	Accepted    int `json:"accepted"`
	Rejected    int `json:"rejected"`
	Evaluations int `json:"evaluations"`
}

// IntegratorState is the mutable stepping state owned by the integrator.
type IntegratorState struct {
	T     float64
	X     State
	H     float64
	Stats StepStats
}

func (s IntegratorState) Clone() IntegratorState {
	s.X = s.X.Clone()
	return s
}
