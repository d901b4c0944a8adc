package integrators

import (
	"github.com/san-kum/rdspiral/internal/dynamo"
)

// denseP maps the seven stages to the coefficients of x, x², x³, x⁴ in the
// continuous extension of Dormand-Prince 5(4).
var denseP = [7][4]float64{
	{1, -8048581381.0 / 2820520608.0, 8663915743.0 / 2820520608.0, -12715105075.0 / 11282082432.0},
	{0, 0, 0, 0},
	{0, 131558114200.0 / 32700410799.0, -68118460800.0 / 10900136933.0, 87487479700.0 / 32700410799.0},
	{0, -1754552775.0 / 470086768.0, 14199869525.0 / 1410260304.0, -10690763975.0 / 1880347072.0},
	{0, 127303824393.0 / 49829197408.0, -318862633887.0 / 49829197408.0, 701980252875.0 / 199316789632.0},
	{0, -282668133.0 / 205662961.0, 2019193451.0 / 616988883.0, -1453857185.0 / 822651844.0},
	{0, 40617522.0 / 29380423.0, -110615467.0 / 29380423.0, 69997945.0 / 29380423.0},
}

// DenseOutput interpolates the solution inside one accepted step
// [tOld, tNew] to 4th order.
type DenseOutput struct {
	tOld, tNew float64
	h          float64
	yOld       dynamo.State
	q          [4]dynamo.State // Q = Kᵀ·P, one column per power of x
}

func newDenseOutput(tOld, tNew float64, yOld dynamo.State, k [7]dynamo.State) *DenseOutput {
	n := len(yOld)
	d := &DenseOutput{tOld: tOld, tNew: tNew, h: tNew - tOld, yOld: yOld}
	for p := 0; p < 4; p++ {
		col := make(dynamo.State, n)
		for s := 0; s < 7; s++ {
			c := denseP[s][p]
			if c == 0 {
				continue
			}
			ks := k[s]
			for i := range col {
				col[i] += c * ks[i]
			}
		}
		d.q[p] = col
	}
	return d
}

func (d *DenseOutput) Covers(t float64) bool {
	return t >= d.tOld && t <= d.tNew
}

// At returns y(t) = yOld + h·Σ q_p·x^(p+1), x = (t − tOld)/h.
func (d *DenseOutput) At(t float64) dynamo.State {
	x := (t - d.tOld) / d.h
	var pw [4]float64
	pw[0] = x
	for p := 1; p < 4; p++ {
		pw[p] = pw[p-1] * x
	}
	y := make(dynamo.State, len(d.yOld))
	for i := range y {
		acc := 0.0
		for p := 0; p < 4; p++ {
			acc += d.q[p][i] * pw[p]
		}
		y[i] = d.yOld[i] + d.h*acc
	}
	return y
}
