package measmod

import (
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/probbvp/internal/bvp"
	"github.com/san-kum/probbvp/internal/gauss"
	"github.com/san-kum/probbvp/internal/prior"
)

// ODE is the residual x ↦ f(t, P0·x) − P1·x of a first-order problem.
type ODE struct {
	f      func(t float64, y []float64) []float64
	df     func(t float64, y []float64) *mat.Dense
	p0, p1 *mat.Dense
}

// FromODE builds the residual operator of a first-order problem.
func FromODE(p *bvp.Problem, ibm *prior.IBM) (*ODE, error) {
	if p.Dimension() != ibm.SpatialDim() {
		return nil, errors.Wrapf(ErrDimensionMismatch, "problem has dimension %d, prior %d", p.Dimension(), ibm.SpatialDim())
	}
	return &ODE{f: p.F, df: p.DF, p0: ibm.Proj(0), p1: ibm.Proj(1)}, nil
}

func (o *ODE) InputDim() int {
	_, c := o.p0.Dims()
	return c
}

func (o *ODE) OutputDim() int {
	r, _ := o.p0.Dims()
	return r
}

// Residual evaluates the operator at x.
func (o *ODE) Residual(t float64, x *mat.VecDense) *mat.VecDense {
	y := project(o.p0, x)
	out := mat.NewVecDense(len(y), o.f(t, y))
	out.SubVec(out, vec(o.p1, x))
	return out
}

// Jacobian evaluates DF(t, P0·x)·P0 − P1.
func (o *ODE) Jacobian(t float64, x *mat.VecDense) *mat.Dense {
	var j mat.Dense
	j.Mul(o.df(t, project(o.p0, x)), o.p0)
	j.Sub(&j, o.p1)
	return &j
}

func (o *ODE) Linearize(t float64, at *mat.VecDense) *Linear {
	return linearise(o.Residual(t, at), o.Jacobian(t, at), at)
}

func (o *ODE) Forward(rv *gauss.Normal, t float64) *gauss.Normal {
	return o.Linearize(t, rv.Mean()).Forward(rv, t)
}

// SecondOrderODE is the residual x ↦ f(t, P0·x, P1·x) − P2·x.
type SecondOrderODE struct {
	f          func(t float64, y, dy []float64) []float64
	dfdy       func(t float64, y, dy []float64) *mat.Dense
	dfddy      func(t float64, y, dy []float64) *mat.Dense
	p0, p1, p2 *mat.Dense
}

// FromSecondOrderODE builds the residual operator of a second-order problem.
// The prior must be at least twice integrated.
func FromSecondOrderODE(p *bvp.SecondOrder, ibm *prior.IBM) (*SecondOrderODE, error) {
	if p.Dimension() != ibm.SpatialDim() {
		return nil, errors.Wrapf(ErrDimensionMismatch, "problem has dimension %d, prior %d", p.Dimension(), ibm.SpatialDim())
	}
	if ibm.Order() < 2 {
		return nil, errors.Wrapf(ErrOrderTooLow, "second-order problem needs order >= 2, got %d", ibm.Order())
	}
	return &SecondOrderODE{
		f: p.F, dfdy: p.DFdy, dfddy: p.DFddy,
		p0: ibm.Proj(0), p1: ibm.Proj(1), p2: ibm.Proj(2),
	}, nil
}

func (o *SecondOrderODE) InputDim() int {
	_, c := o.p0.Dims()
	return c
}

func (o *SecondOrderODE) OutputDim() int {
	r, _ := o.p0.Dims()
	return r
}

func (o *SecondOrderODE) Residual(t float64, x *mat.VecDense) *mat.VecDense {
	y, dy := project(o.p0, x), project(o.p1, x)
	out := mat.NewVecDense(len(y), o.f(t, y, dy))
	out.SubVec(out, vec(o.p2, x))
	return out
}

func (o *SecondOrderODE) Jacobian(t float64, x *mat.VecDense) *mat.Dense {
	y, dy := project(o.p0, x), project(o.p1, x)
	var j, j1 mat.Dense
	j.Mul(o.dfdy(t, y, dy), o.p0)
	j1.Mul(o.dfddy(t, y, dy), o.p1)
	j.Add(&j, &j1)
	j.Sub(&j, o.p2)
	return &j
}

func (o *SecondOrderODE) Linearize(t float64, at *mat.VecDense) *Linear {
	return linearise(o.Residual(t, at), o.Jacobian(t, at), at)
}

func (o *SecondOrderODE) Forward(rv *gauss.Normal, t float64) *gauss.Normal {
	return o.Linearize(t, rv.Mean()).Forward(rv, t)
}

// linearise returns x ↦ J·x + (h(x̄) − J·x̄).
func linearise(h *mat.VecDense, j *mat.Dense, at *mat.VecDense) *Linear {
	shift := mat.NewVecDense(h.Len(), nil)
	shift.MulVec(j, at)
	shift.SubVec(h, shift)
	return NewLinear(j, shift, nil)
}

func vec(p *mat.Dense, x *mat.VecDense) *mat.VecDense {
	r, _ := p.Dims()
	out := mat.NewVecDense(r, nil)
	out.MulVec(p, x)
	return out
}

func project(p *mat.Dense, x *mat.VecDense) []float64 {
	return vec(p, x).RawVector().Data
}
