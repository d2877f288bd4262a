// Package bvp defines two-point boundary value problems.
//
// A first-order problem reads
//
//	y'(t) = f(t, y(t)),  L·y(t0) = y0,  R·y(tmax) = ymax,
//
// and a second-order problem
//
//	y''(t) = f(t, y(t), y'(t)),  L·[y; y'](t0) = y0,  R·[y; y'](tmax) = ymax.
//
// Jacobians are supplied analytically. Problems are immutable once built.
package bvp

import (
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"gonum.org/v1/gonum/mat"
)

// ErrInvalidProblem indicates a malformed problem definition.
var ErrInvalidProblem = errors.New("bvp: invalid problem")

// Solution is a closed-form reference solution.
type Solution func(t float64) []float64

// BoundaryValueProblem is what the solver needs to know about a problem
// regardless of its order.
type BoundaryValueProblem interface {
	Domain() (t0, tmax float64)
	// Dimension is the number of unknown functions.
	Dimension() int
	// Order is 1 or 2.
	Order() int
	Boundaries() (l, r *mat.Dense, y0, ymax []float64)
	Reference() Solution
	Validate() error
}

// Problem is a first-order boundary value problem.
type Problem struct {
	Name     string
	T0, TMax float64
	F        func(t float64, y []float64) []float64
	DF       func(t float64, y []float64) *mat.Dense
	L, R     *mat.Dense
	Y0, YMax []float64
	Solution Solution
}

var _ BoundaryValueProblem = (*Problem)(nil)

func (p *Problem) Domain() (float64, float64) { return p.T0, p.TMax }

func (p *Problem) Dimension() int {
	if p.L == nil {
		return 0
	}
	_, c := p.L.Dims()
	return c
}

func (p *Problem) Order() int { return 1 }

func (p *Problem) Boundaries() (*mat.Dense, *mat.Dense, []float64, []float64) {
	return p.L, p.R, p.Y0, p.YMax
}

func (p *Problem) Reference() Solution { return p.Solution }

// Validate checks the domain and the shapes of the boundary operators.
func (p *Problem) Validate() error {
	var err error
	if p.F == nil {
		err = multierr.Append(err, errors.New("right-hand side is nil"))
	}
	if p.DF == nil {
		err = multierr.Append(err, errors.New("jacobian is nil"))
	}
	err = multierr.Append(err, validateCommon(p.T0, p.TMax, p.L, p.R, p.Y0, p.YMax, 1))
	if err != nil {
		return errors.Wrapf(ErrInvalidProblem, "%s: %v", p.Name, err)
	}
	return nil
}

// SecondOrder is a second-order boundary value problem. L and R act on the
// stacked vector [y; y'].
type SecondOrder struct {
	Name     string
	T0, TMax float64
	F        func(t float64, y, dy []float64) []float64
	DFdy     func(t float64, y, dy []float64) *mat.Dense
	DFddy    func(t float64, y, dy []float64) *mat.Dense
	L, R     *mat.Dense
	Y0, YMax []float64
	Solution Solution
}

var _ BoundaryValueProblem = (*SecondOrder)(nil)

func (p *SecondOrder) Domain() (float64, float64) { return p.T0, p.TMax }

func (p *SecondOrder) Dimension() int {
	if p.L == nil {
		return 0
	}
	_, c := p.L.Dims()
	return c / 2
}

func (p *SecondOrder) Order() int { return 2 }

func (p *SecondOrder) Boundaries() (*mat.Dense, *mat.Dense, []float64, []float64) {
	return p.L, p.R, p.Y0, p.YMax
}

func (p *SecondOrder) Reference() Solution { return p.Solution }

func (p *SecondOrder) Validate() error {
	var err error
	if p.F == nil {
		err = multierr.Append(err, errors.New("right-hand side is nil"))
	}
	if p.DFdy == nil || p.DFddy == nil {
		err = multierr.Append(err, errors.New("jacobians are nil"))
	}
	err = multierr.Append(err, validateCommon(p.T0, p.TMax, p.L, p.R, p.Y0, p.YMax, 2))
	if err != nil {
		return errors.Wrapf(ErrInvalidProblem, "%s: %v", p.Name, err)
	}
	return nil
}

// ToFirstOrder rewrites the problem for the state [y; y'].
func (p *SecondOrder) ToFirstOrder() *Problem {
	d := p.Dimension()
	split := func(y []float64) ([]float64, []float64) { return y[:d], y[d:] }
	return &Problem{
		Name: p.Name + "-first-order",
		T0:   p.T0,
		TMax: p.TMax,
		F: func(t float64, y []float64) []float64 {
			u, v := split(y)
			out := make([]float64, 0, 2*d)
			out = append(out, v...)
			return append(out, p.F(t, u, v)...)
		},
		DF: func(t float64, y []float64) *mat.Dense {
			u, v := split(y)
			j := mat.NewDense(2*d, 2*d, nil)
			for i := 0; i < d; i++ {
				j.Set(i, d+i, 1)
			}
			j.Slice(d, 2*d, 0, d).(*mat.Dense).Copy(p.DFdy(t, u, v))
			j.Slice(d, 2*d, d, 2*d).(*mat.Dense).Copy(p.DFddy(t, u, v))
			return j
		},
		L:        p.L,
		R:        p.R,
		Y0:       p.Y0,
		YMax:     p.YMax,
		Solution: p.Solution,
	}
}

func validateCommon(t0, tmax float64, l, r *mat.Dense, y0, ymax []float64, order int) error {
	var err error
	if !(t0 < tmax) {
		err = multierr.Append(err, errors.Errorf("empty domain [%g, %g]", t0, tmax))
	}
	if l == nil || r == nil {
		return multierr.Append(err, errors.New("boundary operators are nil"))
	}
	lr, lc := l.Dims()
	rr, rc := r.Dims()
	if lc != rc {
		err = multierr.Append(err, errors.Errorf("L has %d columns, R has %d", lc, rc))
	}
	if lc%order != 0 {
		err = multierr.Append(err, errors.Errorf("boundary operators have %d columns, not a multiple of %d", lc, order))
	}
	if len(y0) != lr {
		err = multierr.Append(err, errors.Errorf("y0 has %d entries, L has %d rows", len(y0), lr))
	}
	if len(ymax) != rr {
		err = multierr.Append(err, errors.Errorf("ymax has %d entries, R has %d rows", len(ymax), rr))
	}
	return err
}
