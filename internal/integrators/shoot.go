package integrators

import (
	"context"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/probbvp/internal/bvp"
)

// Shot is the outcome of integrating a first-order problem from its left
// end.
type Shot struct {
	End []float64
	// Defect is R·y(tmax) - ymax.
	Defect []float64
}

// Shoot integrates p from y(t0) = start to tmax and measures how far the
// right boundary condition is missed.
func Shoot(ctx context.Context, p *bvp.Problem, start []float64, tol float64) (Shot, error) {
	end, err := NewRK45().Integrate(ctx, p.F, p.T0, p.TMax, start, tol)
	if err != nil {
		return Shot{End: end}, err
	}
	return Shot{End: end, Defect: defect(p, end)}, nil
}

// ShootOnMesh is Shoot with one classical RK4 step per mesh interval. Run
// on the solver's final mesh it shows how much of the accuracy comes from
// the mesh alone.
func ShootOnMesh(p *bvp.Problem, ts, start []float64) (Shot, error) {
	if len(ts) < 2 {
		return Shot{}, errors.Errorf("integrators: need at least two mesh points, got %d", len(ts))
	}
	traj := NewRK4().Trajectory(p.F, ts, start)
	end := traj[len(traj)-1]
	return Shot{End: end, Defect: defect(p, end)}, nil
}

func defect(p *bvp.Problem, end []float64) []float64 {
	rows, _ := p.R.Dims()
	d := mat.NewVecDense(rows, nil)
	d.MulVec(p.R, mat.NewVecDense(len(end), end))
	d.SubVec(d, mat.NewVecDense(rows, append([]float64(nil), p.YMax...)))
	return d.RawVector().Data
}
