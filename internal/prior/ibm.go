// Package prior provides the integrated Brownian motion prior used to model
// an unknown ODE solution and its first q derivatives.
//
// The state of an IBM(q, d) process stacks, for every coordinate, the value
// and its first q derivatives:
//
//	x = [y₁, y₁', …, y₁⁽q⁾, y₂, y₂', …, y_d⁽q⁾]
//
// Transitions use the preconditioned closed-form discretisation. With the
// Nordsieck-like scaling T(h) = diag(√h·h^(q-i)/(q-i)!) and x = T(h)·x̃, a
// step of length h reads
//
//	x̃' = Ā·x̃ + w̃,  Ā_ij = C(q-i, j-i),  Cov(w̃)_ij = 1/(2q+1-i-j),
//
// which does not depend on h. Forward and Backward move beliefs into these
// coordinates, step there and scale back.
package prior

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/probbvp/internal/gauss"
)

var (
	// ErrInvalidOrder indicates an integration order below one.
	ErrInvalidOrder = errors.New("prior: integration order must be at least 1")

	// ErrInvalidDimension indicates a spatial dimension below one.
	ErrInvalidDimension = errors.New("prior: spatial dimension must be at least 1")

	// ErrInvalidDiffusion indicates a negative or non-finite diffusion.
	ErrInvalidDiffusion = errors.New("prior: diffusion must be finite and positive")
)

// IBM is a q-times integrated Wiener process in d dimensions. Values are
// immutable; WithDiffusion returns a rescaled copy.
type IBM struct {
	order      int
	spatialDim int
	diffusion  float64
	noisePre   *mat.TriDense
}

// NewIBM returns an IBM prior with unit diffusion.
func NewIBM(order, spatialDim int) (*IBM, error) {
	if order < 1 {
		return nil, errors.Wrapf(ErrInvalidOrder, "got %d", order)
	}
	if spatialDim < 1 {
		return nil, errors.Wrapf(ErrInvalidDimension, "got %d", spatialDim)
	}
	pre, err := preconditionedNoiseFactor(order)
	if err != nil {
		return nil, err
	}
	return &IBM{order: order, spatialDim: spatialDim, diffusion: 1, noisePre: pre}, nil
}

func (m *IBM) Order() int { return m.order }

func (m *IBM) SpatialDim() int { return m.spatialDim }

// Dimension is the size of the latent state, d·(q+1).
func (m *IBM) Dimension() int { return m.spatialDim * (m.order + 1) }

func (m *IBM) Diffusion() float64 { return m.diffusion }

// WithDiffusion returns a copy whose process noise covariance is scaled by
// diffusion.
func (m *IBM) WithDiffusion(diffusion float64) (*IBM, error) {
	if !(diffusion > 0) || math.IsInf(diffusion, 0) {
		return nil, errors.Wrapf(ErrInvalidDiffusion, "got %g", diffusion)
	}
	c := *m
	c.diffusion = diffusion
	return &c, nil
}

// Index returns the state index of the k-th derivative of coordinate i.
func (m *IBM) Index(coord, deriv int) int {
	return coord*(m.order+1) + deriv
}

// Proj returns the d×n matrix selecting the k-th derivative of every
// coordinate.
func (m *IBM) Proj(k int) *mat.Dense {
	p := mat.NewDense(m.spatialDim, m.Dimension(), nil)
	for i := 0; i < m.spatialDim; i++ {
		p.Set(i, m.Index(i, k), 1)
	}
	return p
}

// Preconditioner returns the diagonal of T(h) for a step of length h > 0.
func (m *IBM) Preconditioner(h float64) []float64 {
	q := m.order
	scale := make([]float64, q+1)
	for i := 0; i <= q; i++ {
		scale[i] = math.Sqrt(h) * math.Pow(h, float64(q-i)) / factorial(q-i)
	}
	out := make([]float64, m.Dimension())
	for c := 0; c < m.spatialDim; c++ {
		copy(out[c*(q+1):], scale)
	}
	return out
}

// PreconditionedTransition returns the step-independent transition Ā and
// process noise factor of the preconditioned coordinates. backward flips
// the sign of the odd off-diagonals, which propagates the mean in reverse.
func (m *IBM) PreconditionedTransition(backward bool) (*mat.Dense, *mat.Dense) {
	q := m.order
	n := m.Dimension()
	a := mat.NewDense(n, n, nil)
	noise := mat.NewDense(n, n, nil)
	sd := math.Sqrt(m.diffusion)
	for c := 0; c < m.spatialDim; c++ {
		off := c * (q + 1)
		for i := 0; i <= q; i++ {
			for j := i; j <= q; j++ {
				v := binomial(q-i, j-i)
				if backward && (j-i)%2 == 1 {
					v = -v
				}
				a.Set(off+i, off+j, v)
			}
			for j := 0; j <= i; j++ {
				noise.Set(off+i, off+j, sd*m.noisePre.At(i, j))
			}
		}
	}
	return a, noise
}

// Transition returns the transition matrix and a lower process noise factor
// for a step of length dt in the original coordinates, T·Ā·T⁻¹ and T·L̄.
// Negative steps propagate the mean backwards and use the noise of a step
// of length |dt|.
func (m *IBM) Transition(dt float64) (*mat.Dense, *mat.Dense) {
	t := m.Preconditioner(math.Abs(dt))
	a, noise := m.PreconditionedTransition(dt < 0)
	n := m.Dimension()
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			a.Set(i, j, t[i]*a.At(i, j)/t[j])
			noise.Set(i, j, t[i]*noise.At(i, j))
		}
	}
	return a, noise
}

// Forward propagates rv over dt.
func (m *IBM) Forward(rv *gauss.Normal, dt float64) *gauss.Normal {
	if dt == 0 {
		return rv
	}
	t := m.Preconditioner(math.Abs(dt))
	a, noise := m.PreconditionedTransition(dt < 0)
	pred := gauss.Forward(rv.Scale(reciprocal(t)), a, nil, noise)
	return pred.Scale(t)
}

// Backward returns the smoothed belief at t given the filtered belief at t
// and the smoothed belief at t+dt.
func (m *IBM) Backward(next, filtered *gauss.Normal, dt float64) *gauss.Normal {
	if dt == 0 {
		return next
	}
	t := m.Preconditioner(math.Abs(dt))
	inv := reciprocal(t)
	a, noise := m.PreconditionedTransition(dt < 0)
	return gauss.Smooth(filtered.Scale(inv), a, noise, next.Scale(inv)).Scale(t)
}

func reciprocal(xs []float64) []float64 {
	out := make([]float64, len(xs))
	for i, x := range xs {
		out[i] = 1 / x
	}
	return out
}

func binomial(n, k int) float64 {
	return factorial(n) / (factorial(k) * factorial(n-k))
}

func preconditionedNoiseFactor(q int) (*mat.TriDense, error) {
	cov := mat.NewSymDense(q+1, nil)
	for i := 0; i <= q; i++ {
		for j := i; j <= q; j++ {
			cov.SetSym(i, j, 1/float64(2*q+1-i-j))
		}
	}
	var chol mat.Cholesky
	if ok := chol.Factorize(cov); !ok {
		return nil, errors.Errorf("prior: preconditioned noise covariance of order %d is not positive definite", q)
	}
	var l mat.TriDense
	chol.LTo(&l)
	return &l, nil
}

func factorial(k int) float64 {
	f := 1.0
	for i := 2; i <= k; i++ {
		f *= float64(i)
	}
	return f
}
