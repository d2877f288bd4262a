package gauss

import (
	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas64"
	"gonum.org/v1/gonum/mat"
)

// SqrtSum returns a lower triangular L with L·Lᵀ = Σ Fᵢ·Fᵢᵀ. Every factor
// must have n rows; nil factors are skipped. The factor comes out of a QR
// decomposition of the stacked transposes and has a non-negative diagonal.
func SqrtSum(n int, factors ...mat.Matrix) *mat.TriDense {
	rows := 0
	for _, f := range factors {
		if f == nil {
			continue
		}
		_, c := f.Dims()
		rows += c
	}
	if rows < n {
		rows = n
	}
	stacked := mat.NewDense(rows, n, nil)
	at := 0
	for _, f := range factors {
		if f == nil {
			continue
		}
		_, c := f.Dims()
		stacked.Slice(at, at+c, 0, n).(*mat.Dense).Copy(f.T())
		at += c
	}

	var qr mat.QR
	qr.Factorize(stacked)
	var r mat.Dense
	qr.RTo(&r)

	l := mat.NewTriDense(n, mat.Lower, nil)
	for i := 0; i < n; i++ {
		for j := 0; j <= i; j++ {
			l.SetTri(i, j, r.At(j, i))
		}
	}
	for j := 0; j < n; j++ {
		if l.At(j, j) >= 0 {
			continue
		}
		for i := j; i < n; i++ {
			l.SetTri(i, j, -l.At(i, j))
		}
	}
	return l
}

// CholUpdate returns the lower factor of L·Lᵀ + v·vᵀ.
func CholUpdate(l *mat.TriDense, v *mat.VecDense) *mat.TriDense {
	n, _ := l.Dims()
	return SqrtSum(n, l, v)
}

// SolveLower returns L⁻¹·B, or L⁻ᵀ·B when trans is set.
func SolveLower(l *mat.TriDense, b mat.Matrix, trans bool) *mat.Dense {
	var x mat.Dense
	x.CloneFrom(b)
	t := blas.NoTrans
	if trans {
		t = blas.Trans
	}
	blas64.Trsm(blas.Left, t, 1, l.RawTriangular(), x.RawMatrix())
	return &x
}

// SolveCov returns (L·Lᵀ)⁻¹·B.
func SolveCov(l *mat.TriDense, b mat.Matrix) *mat.Dense {
	return SolveLower(l, SolveLower(l, b, false), true)
}
