// Package errest estimates the local error of a BVP posterior on every mesh
// interval by quadrature of a pointwise squared error over three interior
// nodes.
//
// For each node the squared error of every coordinate is scaled by
// (atol + rtol·|reference|)², where the reference is the posterior mean of the
// solution value. The scaled errors are averaged over the coordinates and
// integrated against the quadrature weights; the interval error is the
// square root of that integral, optionally divided by the interval width
// first.
package errest

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/probbvp/internal/gauss"
	"github.com/san-kum/probbvp/internal/measmod"
)

var (
	ErrMissingProjection = errors.New("errest: projection to the solution value is missing")
	ErrQuadratureOrder   = errors.New("errest: quadrature rule must have order 5")
	ErrLengthMismatch    = errors.New("errest: inputs differ in length")
	ErrToleranceUnset    = errors.New("errest: tolerances are not set")
)

// QuadratureRule holds the interior nodes and weights of a rule on [0, 1].
type QuadratureRule struct {
	Nodes   [3]float64
	Weights [3]float64
	Order   int
}

// LobattoInterior returns the three interior nodes of the five-point
// Gauss–Lobatto rule on [0, 1] with the weights of the full rule.
func LobattoInterior() QuadratureRule {
	off := math.Sqrt(21) / 14
	return QuadratureRule{
		Nodes:   [3]float64{0.5 - off, 0.5, 0.5 + off},
		Weights: [3]float64{49.0 / 180, 16.0 / 45, 49.0 / 180},
		Order:   5,
	}
}

// Info carries diagnostics of one estimate.
type Info struct {
	// Integrand is the coordinate-averaged scaled squared error at every
	// node.
	Integrand []float64
}

// Estimator scores every interval of a mesh; values below one are
// acceptable.
type Estimator interface {
	SetTolerance(atol, rtol float64)
	Quadrature() QuadratureRule
	EstimateErrorPerInterval(evaluated []*gauss.Normal, nodes, mesh []float64, sigmaSquared float64, odeModels []measmod.Model) ([]float64, Info, error)
}

// Options configure the shared part of every estimator.
type Options struct {
	Rule QuadratureRule
	// P0 maps the latent state to the solution value.
	P0 *mat.Dense
	// NormaliseWithIntervalSize divides the integrated error by the width
	// of its interval before taking the square root.
	NormaliseWithIntervalSize bool
}

type pointwise func(rv *gauss.Normal, t, sigmaSquared float64, m measmod.Model) []float64

type base struct {
	Options
	atol, rtol float64
	tolSet     bool
	squared    pointwise
	needsODE   bool
}

func (b *base) SetTolerance(atol, rtol float64) {
	b.atol, b.rtol, b.tolSet = atol, rtol, true
}

func (b *base) Quadrature() QuadratureRule { return b.Rule }

func (b *base) EstimateErrorPerInterval(evaluated []*gauss.Normal, nodes, mesh []float64, sigmaSquared float64, odeModels []measmod.Model) ([]float64, Info, error) {
	if b.P0 == nil {
		return nil, Info{}, ErrMissingProjection
	}
	if b.Rule.Order != 5 {
		return nil, Info{}, errors.Wrapf(ErrQuadratureOrder, "got %d", b.Rule.Order)
	}
	if !b.tolSet {
		return nil, Info{}, ErrToleranceUnset
	}
	intervals := len(mesh) - 1
	if intervals < 1 || len(evaluated) != len(nodes) || len(nodes) != 3*intervals {
		return nil, Info{}, errors.Wrapf(ErrLengthMismatch, "%d beliefs, %d nodes, %d intervals", len(evaluated), len(nodes), intervals)
	}
	if b.needsODE && len(odeModels) != len(nodes) {
		return nil, Info{}, errors.Wrapf(ErrLengthMismatch, "%d ODE models for %d nodes", len(odeModels), len(nodes))
	}

	integrand := make([]float64, len(nodes))
	for i, rv := range evaluated {
		var m measmod.Model
		if b.needsODE {
			m = odeModels[i]
		}
		sq := b.squared(rv, nodes[i], sigmaSquared, m)
		ref := rv.Project(b.P0)
		sum := 0.0
		for k, e := range sq {
			scale := b.atol + b.rtol*math.Abs(ref.AtVec(k))
			sum += e / (scale * scale)
		}
		integrand[i] = sum / float64(len(sq))
	}

	out := make([]float64, intervals)
	w := b.Rule.Weights[:]
	for j := range out {
		e := math.Abs(floats.Dot(integrand[3*j:3*j+3], w))
		if b.NormaliseWithIntervalSize {
			e /= mesh[j+1] - mesh[j]
		}
		out[j] = math.Sqrt(e)
	}
	return out, Info{Integrand: integrand}, nil
}

// StandardDeviation uses the calibrated posterior variance of the solution
// value as the squared error.
type StandardDeviation struct{ base }

func NewStandardDeviation(opts Options) *StandardDeviation {
	e := &StandardDeviation{base{Options: opts}}
	e.squared = func(rv *gauss.Normal, _, sigmaSquared float64, _ measmod.Model) []float64 {
		v := rv.ProjectedVar(e.P0)
		floats.Scale(sigmaSquared, v)
		return v
	}
	return e
}

// Residual uses the squared mean of the ODE residual.
type Residual struct{ base }

func NewResidual(opts Options) *Residual {
	e := &Residual{base{Options: opts, needsODE: true}}
	e.squared = func(rv *gauss.Normal, t, _ float64, m measmod.Model) []float64 {
		r := m.Forward(rv, t).MeanSlice()
		floats.Mul(r, r)
		return r
	}
	return e
}

// ProbabilisticResidual adds the calibrated residual variance to the
// squared residual mean.
type ProbabilisticResidual struct{ base }

func NewProbabilisticResidual(opts Options) *ProbabilisticResidual {
	e := &ProbabilisticResidual{base{Options: opts, needsODE: true}}
	e.squared = func(rv *gauss.Normal, t, sigmaSquared float64, m measmod.Model) []float64 {
		res := m.Forward(rv, t)
		r := res.MeanSlice()
		floats.Mul(r, r)
		floats.AddScaled(r, sigmaSquared, res.Var())
		return r
	}
	return e
}

// ByName returns the estimator called name: "std", "residual" or
// "probabilistic".
func ByName(name string, opts Options) (Estimator, error) {
	switch name {
	case "std", "stddev", "standard-deviation":
		return NewStandardDeviation(opts), nil
	case "", "residual":
		return NewResidual(opts), nil
	case "probabilistic", "probabilistic-residual":
		return NewProbabilisticResidual(opts), nil
	}
	return nil, errors.Errorf("errest: unknown estimator %q", name)
}
