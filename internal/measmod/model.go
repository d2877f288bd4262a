// Package measmod turns boundary value problems into discrete observation
// operators on the latent state of an integrated Wiener process prior.
//
// Three kinds of operator are produced: the nonlinear ODE residual, which is
// relinearised around the current estimate on every smoother iteration; the
// linear boundary operators; and the linear initial-guess operator. All of
// them satisfy Model and are observed at zero.
package measmod

import (
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/probbvp/internal/gauss"
)

var (
	// ErrDimensionMismatch indicates that problem and prior disagree on the
	// spatial dimension.
	ErrDimensionMismatch = errors.New("measmod: dimension mismatch between problem and prior")

	// ErrOrderTooLow indicates a prior whose integration order is below the
	// order of the ODE.
	ErrOrderTooLow = errors.New("measmod: prior integration order below ODE order")
)

// Model is an observation operator h(t, x) observed at zero.
type Model interface {
	InputDim() int
	OutputDim() int

	// Linearize returns the first-order expansion of the operator around at.
	// Linear operators return themselves.
	Linearize(t float64, at *mat.VecDense) *Linear

	// Forward pushes a belief through the operator, linearising around its
	// mean where needed.
	Forward(rv *gauss.Normal, t float64) *gauss.Normal
}

// Linear is the operator x ↦ H·x + shift with additive Gaussian noise of
// lower factor S. A nil S means exact observations.
type Linear struct {
	h     *mat.Dense
	shift *mat.VecDense
	noise mat.Matrix
}

// NewLinear returns the operator x ↦ H·x + shift. noise is a lower factor of
// the noise covariance and may be nil.
func NewLinear(h *mat.Dense, shift *mat.VecDense, noise *mat.Dense) *Linear {
	l := &Linear{h: h, shift: shift}
	if noise != nil {
		l.noise = noise
	}
	return l
}

func (l *Linear) InputDim() int {
	_, c := l.h.Dims()
	return c
}

func (l *Linear) OutputDim() int {
	r, _ := l.h.Dims()
	return r
}

func (l *Linear) Matrix() *mat.Dense { return l.h }

func (l *Linear) Shift() *mat.VecDense { return l.shift }

// Exact reports whether the operator carries no noise.
func (l *Linear) Exact() bool { return l.noise == nil }

func (l *Linear) Linearize(float64, *mat.VecDense) *Linear { return l }

func (l *Linear) Forward(rv *gauss.Normal, _ float64) *gauss.Normal {
	return gauss.Forward(rv, l.h, l.shift, l.noise)
}

// Apply evaluates H·x + shift.
func (l *Linear) Apply(x *mat.VecDense) *mat.VecDense {
	out := mat.NewVecDense(l.OutputDim(), nil)
	out.MulVec(l.h, x)
	if l.shift != nil {
		out.AddVec(out, l.shift)
	}
	return out
}

// Condition conditions rv on the operator having produced observed. The
// second return value is the squared norm of the whitened innovation.
func (l *Linear) Condition(rv *gauss.Normal, observed *mat.VecDense) (*gauss.Normal, float64, error) {
	if rv.Dim() != l.InputDim() {
		return nil, 0, errors.Wrapf(ErrDimensionMismatch, "belief has dimension %d, operator expects %d", rv.Dim(), l.InputDim())
	}
	if observed.Len() != l.OutputDim() {
		return nil, 0, errors.Wrapf(ErrDimensionMismatch, "observation has dimension %d, operator produces %d", observed.Len(), l.OutputDim())
	}
	post, stat := gauss.Condition(rv, l.h, l.shift, l.noise, observed)
	return post, stat, nil
}

// Stack is the ordered list of operators observed at one mesh point.
type Stack []Model

// Linearize linearises every operator of the stack around at.
func (s Stack) Linearize(t float64, at *mat.VecDense) Stack {
	out := make(Stack, len(s))
	for i, m := range s {
		out[i] = m.Linearize(t, at)
	}
	return out
}
