package gauss

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// Normal is a multivariate Gaussian stored as a mean and a lower Cholesky
// factor of its covariance, Σ = L·Lᵀ.
type Normal struct {
	mean *mat.VecDense
	chol *mat.TriDense
}

// New returns a Normal with the given mean and lower covariance factor.
// Both are used as is.
func New(mean *mat.VecDense, chol *mat.TriDense) *Normal {
	return &Normal{mean: mean, chol: chol}
}

// Isotropic returns N(mean, variance·I).
func Isotropic(mean []float64, variance float64) *Normal {
	n := len(mean)
	m := make([]float64, n)
	copy(m, mean)
	l := mat.NewTriDense(n, mat.Lower, nil)
	s := math.Sqrt(variance)
	for i := 0; i < n; i++ {
		l.SetTri(i, i, s)
	}
	return New(mat.NewVecDense(n, m), l)
}

// Dirac returns a Normal with zero covariance.
func Dirac(mean []float64) *Normal {
	return Isotropic(mean, 0)
}

func (g *Normal) Dim() int { return g.mean.Len() }

func (g *Normal) Mean() *mat.VecDense { return g.mean }

func (g *Normal) Chol() *mat.TriDense { return g.chol }

func (g *Normal) MeanSlice() []float64 { return mat.Col(nil, 0, g.mean) }

func (g *Normal) Clone() *Normal {
	return New(cloneVec(g.mean), cloneTri(g.chol))
}

// Cov returns the dense covariance L·Lᵀ.
func (g *Normal) Cov() *mat.SymDense {
	n := g.Dim()
	s := mat.NewSymDense(n, nil)
	s.SymOuterK(1, g.chol)
	return s
}

// Var returns the marginal variances.
func (g *Normal) Var() []float64 {
	out := make([]float64, g.Dim())
	for i := range out {
		out[i] = g.VarAt(i)
	}
	return out
}

func (g *Normal) VarAt(i int) float64 {
	s := 0.0
	for j := 0; j <= i; j++ {
		v := g.chol.At(i, j)
		s += v * v
	}
	return s
}

// Project returns P·mean.
func (g *Normal) Project(p mat.Matrix) *mat.VecDense {
	r, _ := p.Dims()
	out := mat.NewVecDense(r, nil)
	out.MulVec(p, g.mean)
	return out
}

// ProjectedVar returns the diagonal of P·Σ·Pᵀ.
func (g *Normal) ProjectedVar(p mat.Matrix) []float64 {
	var pl mat.Dense
	pl.Mul(p, g.chol)
	r, c := pl.Dims()
	out := make([]float64, r)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			v := pl.At(i, j)
			out[i] += v * v
		}
	}
	return out
}

// Scale returns the belief of D·x for D = diag(d).
func (g *Normal) Scale(d []float64) *Normal {
	n := g.Dim()
	mean := mat.NewVecDense(n, nil)
	l := mat.NewTriDense(n, mat.Lower, nil)
	for i := 0; i < n; i++ {
		mean.SetVec(i, d[i]*g.mean.AtVec(i))
		for j := 0; j <= i; j++ {
			l.SetTri(i, j, d[i]*g.chol.At(i, j))
		}
	}
	return New(mean, l)
}

// IsValid reports whether mean and factor are free of NaN and Inf.
func (g *Normal) IsValid() bool {
	return finite(g.mean.RawVector().Data) && finite(g.chol.RawTriangular().Data)
}

func (g *Normal) String() string {
	return fmt.Sprintf("Normal(dim=%d, mean=%v)", g.Dim(), mat.Formatted(g.mean.T(), mat.Squeeze()))
}

func cloneVec(v *mat.VecDense) *mat.VecDense {
	var c mat.VecDense
	c.CloneFromVec(v)
	return &c
}

func cloneTri(t *mat.TriDense) *mat.TriDense {
	n, _ := t.Dims()
	c := mat.NewTriDense(n, mat.Lower, nil)
	c.Copy(t)
	return c
}

func finite(xs []float64) bool {
	for _, x := range xs {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return false
		}
	}
	return true
}
