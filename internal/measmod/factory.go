package measmod

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/probbvp/internal/bvp"
	"github.com/san-kum/probbvp/internal/prior"
)

// Models bundles everything observed while solving one problem.
type Models struct {
	ODE         Model
	Left, Right *Linear
}

// ForProblem builds the ODE residual and both boundary operators for p.
func ForProblem(p bvp.BoundaryValueProblem, ibm *prior.IBM) (*Models, error) {
	var ode Model
	switch pr := p.(type) {
	case *bvp.Problem:
		m, err := FromODE(pr, ibm)
		if err != nil {
			return nil, err
		}
		ode = m
	case *bvp.SecondOrder:
		m, err := FromSecondOrderODE(pr, ibm)
		if err != nil {
			return nil, err
		}
		ode = m
	default:
		return nil, errors.Errorf("measmod: unsupported problem type %T", p)
	}
	left, right, err := FromBoundaryConditions(p, ibm)
	if err != nil {
		return nil, err
	}
	return &Models{ODE: ode, Left: left, Right: right}, nil
}

// FromBoundaryConditions returns the exact operators x ↦ L·Bx − y0 and
// x ↦ R·Bx − ymax, where B extracts y for first-order problems and [y; y']
// for second-order ones.
func FromBoundaryConditions(p bvp.BoundaryValueProblem, ibm *prior.IBM) (*Linear, *Linear, error) {
	if p.Dimension() != ibm.SpatialDim() {
		return nil, nil, errors.Wrapf(ErrDimensionMismatch, "problem has dimension %d, prior %d", p.Dimension(), ibm.SpatialDim())
	}
	if p.Order() > ibm.Order() {
		return nil, nil, errors.Wrapf(ErrOrderTooLow, "order %d problem, prior order %d", p.Order(), ibm.Order())
	}
	b := stateProjection(ibm, p.Order())
	l, r, y0, ymax := p.Boundaries()
	return boundary(l, b, y0), boundary(r, b, ymax), nil
}

func boundary(op, b *mat.Dense, target []float64) *Linear {
	var h mat.Dense
	h.Mul(op, b)
	shift := mat.NewVecDense(len(target), nil)
	for i, v := range target {
		shift.SetVec(i, -v)
	}
	return NewLinear(&h, shift, nil)
}

// stateProjection stacks Proj(0), …, Proj(order-1).
func stateProjection(ibm *prior.IBM, order int) *mat.Dense {
	d := ibm.SpatialDim()
	out := mat.NewDense(order*d, ibm.Dimension(), nil)
	for k := 0; k < order; k++ {
		out.Slice(k*d, (k+1)*d, 0, ibm.Dimension()).(*mat.Dense).Copy(ibm.Proj(k))
	}
	return out
}

// InitialGuess returns a constructor for the operator x ↦ P0·x − s observed
// with noise variance damping. A zero damping gives exact observations.
func InitialGuess(ibm *prior.IBM, damping float64) func(s []float64) *Linear {
	p0 := ibm.Proj(0)
	d := ibm.SpatialDim()
	var noise *mat.Dense
	if damping > 0 {
		noise = mat.NewDense(d, d, nil)
		sd := math.Sqrt(damping)
		for i := 0; i < d; i++ {
			noise.Set(i, i, sd)
		}
	}
	return func(s []float64) *Linear {
		shift := mat.NewVecDense(d, nil)
		for i, v := range s {
			shift.SetVec(i, -v)
		}
		return NewLinear(p0, shift, noise)
	}
}

// PointStacks lays models out over a mesh: boundary and other operator at
// the ends, other alone in the interior. other(i) is called for every point.
func PointStacks(n int, m *Models, other func(i int) Model) []Stack {
	out := make([]Stack, n)
	for i := 0; i < n; i++ {
		switch {
		case i == 0:
			out[i] = Stack{m.Left, other(i)}
		case i == n-1:
			out[i] = Stack{m.Right, other(i)}
		default:
			out[i] = Stack{other(i)}
		}
	}
	return out
}
