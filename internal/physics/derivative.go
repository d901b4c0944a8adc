package physics

import (
	"sync/atomic"

	"github.com/san-kum/rdspiral/internal/dynamo"
	"github.com/san-kum/rdspiral/internal/spectral"
)

// ReactionDiffusion is the semi-discrete right-hand side
//
//	∂u/∂t = D1·∇²u + f(u, v)
//	∂v/∂t = D2·∇²v + g(u, v)
//
// on the packed state [u..., v...]. It is safe for concurrent use.
type ReactionDiffusion struct {
	D1, D2 float64

	op      *spectral.Operator
	kin     Kinetics
	scratch *dynamo.PairPool
	evals   atomic.Int64
}

func NewReactionDiffusion(p dynamo.Params, op *spectral.Operator) (*ReactionDiffusion, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if op.Grid().N != p.N || op.Grid().L != p.L {
		return nil, &dynamo.ConfigError{Field: "n", Value: op.Grid().N, Reason: "operator grid does not match parameters"}
	}
	return &ReactionDiffusion{
		D1:      p.D1,
		D2:      p.D2,
		op:      op,
		kin:     Kinetics{Beta: p.Beta, Workers: p.Workers},
		scratch: dynamo.NewPairPool(op.Grid()),
	}, nil
}

func (rd *ReactionDiffusion) StateDim() int { return 2 * rd.op.Grid().Points() }

func (rd *ReactionDiffusion) Grid() dynamo.Grid { return rd.op.Grid() }

func (rd *ReactionDiffusion) Beta() float64 { return rd.kin.Beta }

// Evaluations is the number of Derive calls so far.
func (rd *ReactionDiffusion) Evaluations() int64 { return rd.evals.Load() }

func (rd *ReactionDiffusion) Pack(p dynamo.FieldPair) dynamo.State { return dynamo.Pack(p) }

func (rd *ReactionDiffusion) Unpack(x dynamo.State) (dynamo.FieldPair, error) {
	return dynamo.Unpack(x, rd.op.Grid())
}

// Derive is pure in x: the input is never modified and the result is a
// fresh vector.
func (rd *ReactionDiffusion) Derive(x dynamo.State, _ float64) (dynamo.State, error) {
	rd.evals.Add(1)
	pair, err := rd.Unpack(x)
	if err != nil {
		return nil, err
	}

	dx := make(dynamo.State, len(x))
	out, _ := dynamo.Unpack(dx, rd.op.Grid())

	lap, lapPair := rd.scratch.Get()
	defer rd.scratch.Put(lap)

	if _, err := rd.op.LaplacianOf(lapPair.U, pair.U); err != nil {
		return nil, err
	}
	if _, err := rd.op.LaplacianOf(lapPair.V, pair.V); err != nil {
		return nil, err
	}
	if err := rd.kin.Apply(out.U, out.V, pair); err != nil {
		return nil, err
	}

	for i := range out.U {
		out.U[i] += rd.D1 * lapPair.U[i]
		out.V[i] += rd.D2 * lapPair.V[i]
	}
	return dx, nil
}
