// Package problems collects example boundary value problems used for
// demonstrations, presets and tests.
package problems

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/probbvp/internal/bvp"
)

// firstRow is the 1×n operator selecting the first state entry.
func firstRow(n int) *mat.Dense {
	m := mat.NewDense(1, n, nil)
	m.Set(0, 0, 1)
	return m
}

// Pendulum is θ'' = -9.81·sin θ with θ(0) = -π/2 and θ(π/2) = π/2.
func Pendulum() *bvp.Problem {
	return &bvp.Problem{
		Name: "pendulum",
		T0:   0,
		TMax: math.Pi / 2,
		F: func(_ float64, y []float64) []float64 {
			return []float64{y[1], -9.81 * math.Sin(y[0])}
		},
		DF: func(_ float64, y []float64) *mat.Dense {
			return mat.NewDense(2, 2, []float64{
				0, 1,
				-9.81 * math.Cos(y[0]), 0,
			})
		},
		L:    firstRow(2),
		R:    firstRow(2),
		Y0:   []float64{-math.Pi / 2},
		YMax: []float64{math.Pi / 2},
	}
}

// Bratu is y'' = -exp(y) with homogeneous Dirichlet conditions on [0, tmax].
func Bratu(tmax float64) *bvp.Problem {
	return &bvp.Problem{
		Name: "bratu",
		T0:   0,
		TMax: tmax,
		F: func(_ float64, y []float64) []float64 {
			return []float64{y[1], -math.Exp(y[0])}
		},
		DF: func(_ float64, y []float64) *mat.Dense {
			return mat.NewDense(2, 2, []float64{0, 1, -math.Exp(y[0]), 0})
		},
		L:    firstRow(2),
		R:    firstRow(2),
		Y0:   []float64{0},
		YMax: []float64{0},
	}
}

// BratuSecondOrder is Bratu written as a second-order problem.
func BratuSecondOrder(tmax float64) *bvp.SecondOrder {
	return &bvp.SecondOrder{
		Name: "bratu-second-order",
		T0:   0,
		TMax: tmax,
		F: func(_ float64, y, _ []float64) []float64 {
			return []float64{-math.Exp(y[0])}
		},
		DFdy: func(_ float64, y, _ []float64) *mat.Dense {
			return mat.NewDense(1, 1, []float64{-math.Exp(y[0])})
		},
		DFddy: func(float64, []float64, []float64) *mat.Dense {
			return mat.NewDense(1, 1, []float64{0})
		},
		L:    firstRow(2),
		R:    firstRow(2),
		Y0:   []float64{0},
		YMax: []float64{0},
	}
}

// MatlabSolution is y = sin(1/t) together with its derivative.
func MatlabSolution(t float64) []float64 {
	return []float64{math.Sin(1 / t), -math.Cos(1/t) / (t * t)}
}

// Matlab is y'' = -2y'/t - y/t⁴ on [1/(3π), tmax], the bvp4c example. Its
// solution oscillates quickly near the left end, which makes it a good
// showcase for mesh adaptivity.
func Matlab(tmax float64) *bvp.Problem {
	t0 := 1 / (3 * math.Pi)
	return &bvp.Problem{
		Name: "matlab",
		T0:   t0,
		TMax: tmax,
		F: func(t float64, y []float64) []float64 {
			return []float64{y[1], -2*y[1]/t - y[0]/math.Pow(t, 4)}
		},
		DF: func(t float64, _ []float64) *mat.Dense {
			return mat.NewDense(2, 2, []float64{0, 1, -1 / math.Pow(t, 4), -2 / t})
		},
		L:        firstRow(2),
		R:        firstRow(2),
		Y0:       MatlabSolution(t0)[:1],
		YMax:     MatlabSolution(tmax)[:1],
		Solution: MatlabSolution,
	}
}

// MatlabSecondOrder is Matlab written as a second-order problem.
func MatlabSecondOrder(tmax float64) *bvp.SecondOrder {
	t0 := 1 / (3 * math.Pi)
	return &bvp.SecondOrder{
		Name: "matlab-second-order",
		T0:   t0,
		TMax: tmax,
		F: func(t float64, y, dy []float64) []float64 {
			return []float64{-2*dy[0]/t - y[0]/math.Pow(t, 4)}
		},
		DFdy: func(t float64, _, _ []float64) *mat.Dense {
			return mat.NewDense(1, 1, []float64{-1 / math.Pow(t, 4)})
		},
		DFddy: func(t float64, _, _ []float64) *mat.Dense {
			return mat.NewDense(1, 1, []float64{-2 / t})
		},
		L:        firstRow(2),
		R:        firstRow(2),
		Y0:       MatlabSolution(t0)[:1],
		YMax:     MatlabSolution(tmax)[:1],
		Solution: MatlabSolution,
	}
}

// RExample is ξy'' = y - y·y' with y(0) = 1 and y(1) = 1.5, from the bvpSolve
// test set.
func RExample(xi float64) *bvp.Problem {
	return &bvp.Problem{
		Name: "r-example",
		T0:   0,
		TMax: 1,
		F: func(_ float64, y []float64) []float64 {
			return []float64{y[1], (y[0] - y[0]*y[1]) / xi}
		},
		DF: func(_ float64, y []float64) *mat.Dense {
			return mat.NewDense(2, 2, []float64{0, 1, (1 - y[1]) / xi, -y[0] / xi})
		},
		L:    firstRow(2),
		R:    firstRow(2),
		Y0:   []float64{1},
		YMax: []float64{1.5},
	}
}

func p7Forcing(t, xi float64) float64 {
	return -(1+xi*math.Pi*math.Pi)*math.Cos(math.Pi*t) - math.Pi*t*math.Sin(math.Pi*t)
}

// Problem7 is ξy'' + ty' - y = -(1+ξπ²)cos(πt) - πt·sin(πt) on [-1, 1] with
// y(-1) = -1 and y(1) = 1. Small ξ produces an interior layer at t = 0.
func Problem7(xi float64) *bvp.Problem {
	return &bvp.Problem{
		Name: "problem-7",
		T0:   -1,
		TMax: 1,
		F: func(t float64, y []float64) []float64 {
			return []float64{y[1], (y[0] - t*y[1] + p7Forcing(t, xi)) / xi}
		},
		DF: func(t float64, _ []float64) *mat.Dense {
			return mat.NewDense(2, 2, []float64{0, 1, 1 / xi, -t / xi})
		},
		L:    firstRow(2),
		R:    firstRow(2),
		Y0:   []float64{-1},
		YMax: []float64{1},
	}
}

// Problem7SecondOrder is Problem7 written as a second-order problem.
func Problem7SecondOrder(xi float64) *bvp.SecondOrder {
	return &bvp.SecondOrder{
		Name: "problem-7-second-order",
		T0:   -1,
		TMax: 1,
		F: func(t float64, y, dy []float64) []float64 {
			return []float64{(p7Forcing(t, xi) + y[0] - t*dy[0]) / xi}
		},
		DFdy: func(float64, []float64, []float64) *mat.Dense {
			return mat.NewDense(1, 1, []float64{1 / xi})
		},
		DFddy: func(t float64, _, _ []float64) *mat.Dense {
			return mat.NewDense(1, 1, []float64{-t / xi})
		},
		L:    firstRow(2),
		R:    firstRow(2),
		Y0:   []float64{-1},
		YMax: []float64{1},
	}
}

// Problem15 is the turning-point problem ξy'' = t·y on [-1, 1] with
// y(±1) = 1.
func Problem15(xi float64) *bvp.Problem {
	return &bvp.Problem{
		Name: "problem-15",
		T0:   -1,
		TMax: 1,
		F: func(t float64, y []float64) []float64 {
			return []float64{y[1], t * y[0] / xi}
		},
		DF: func(t float64, _ []float64) *mat.Dense {
			return mat.NewDense(2, 2, []float64{0, 1, t / xi, 0})
		},
		L:    firstRow(2),
		R:    firstRow(2),
		Y0:   []float64{1},
		YMax: []float64{1},
	}
}

// SEIRParams are the rates of the SEIR compartment model.
type SEIRParams struct {
	Alpha, Beta, Gamma float64
	Population         float64
}

// DefaultSEIR matches a population of 100 with α = β = 0.3 and γ = 0.1.
var DefaultSEIR = SEIRParams{Alpha: 0.3, Beta: 0.3, Gamma: 0.1, Population: 100}

// SEIRRHS is the right-hand side of the SEIR model for the state [S, E, I, R].
func SEIRRHS(p SEIRParams) func(float64, []float64) []float64 {
	return func(_ float64, y []float64) []float64 {
		infection := p.Beta * y[0] * y[2] / p.Population
		return []float64{
			-infection,
			infection - p.Alpha*y[1],
			p.Alpha*y[1] - p.Gamma*y[2],
			p.Gamma * y[2],
		}
	}
}

func seirJacobian(p SEIRParams) func(float64, []float64) *mat.Dense {
	return func(_ float64, y []float64) *mat.Dense {
		b := p.Beta / p.Population
		return mat.NewDense(4, 4, []float64{
			-b * y[2], 0, -b * y[0], 0,
			b * y[2], -p.Alpha, b * y[0], 0,
			0, p.Alpha, -p.Gamma, 0,
			0, 0, p.Gamma, 0,
		})
	}
}

// SEIR poses the SEIR epidemic model as a boundary value problem that pins
// the infected and recovered compartments at both ends of [t0, tmax].
func SEIR(t0, tmax float64, ir0, irMax [2]float64, p SEIRParams) *bvp.Problem {
	pick := mat.NewDense(2, 4, []float64{
		0, 0, 1, 0,
		0, 0, 0, 1,
	})
	return &bvp.Problem{
		Name: "seir",
		T0:   t0,
		TMax: tmax,
		F:    SEIRRHS(p),
		DF:   seirJacobian(p),
		L:    pick,
		R:    mat.DenseCopyOf(pick),
		Y0:   ir0[:],
		YMax: irMax[:],
	}
}

// MaxAbsError compares a reference solution against values on ts. Only the
// first len(values[i]) entries of the reference are used.
func MaxAbsError(ref bvp.Solution, ts []float64, values [][]float64) float64 {
	worst := 0.0
	diff := []float64{}
	for i, t := range ts {
		want := ref(t)[:len(values[i])]
		diff = append(diff[:0], values[i]...)
		floats.Sub(diff, want)
		worst = math.Max(worst, floats.Norm(diff, math.Inf(1)))
	}
	return worst
}
