package gauss

import (
	"gonum.org/v1/gonum/mat"
)

// Forward pushes rv through x ↦ H·x + shift + ε with ε ~ N(0, S·Sᵀ).
// shift and noise may be nil.
func Forward(rv *Normal, h mat.Matrix, shift *mat.VecDense, noise mat.Matrix) *Normal {
	m, _ := h.Dims()
	mean := mat.NewVecDense(m, nil)
	mean.MulVec(h, rv.mean)
	if shift != nil {
		mean.AddVec(mean, shift)
	}
	var hl mat.Dense
	hl.Mul(h, rv.chol)
	return New(mean, SqrtSum(m, &hl, noise))
}

// Condition conditions rv on observing y = H·x + shift + ε, ε ~ N(0, S·Sᵀ),
// with the given realisation. It returns the posterior and the squared
// Mahalanobis norm of the innovation, which feeds diffusion calibration.
func Condition(rv *Normal, h mat.Matrix, shift *mat.VecDense, noise mat.Matrix, observed *mat.VecDense) (*Normal, float64) {
	m, n := h.Dims()

	var hl mat.Dense
	hl.Mul(h, rv.chol)
	s := SqrtSum(m, &hl, noise)

	// cross covariance Σ·Hᵀ = L·(H·L)ᵀ
	var cross mat.Dense
	cross.Mul(rv.chol, hl.T())
	kt := SolveCov(s, cross.T())
	var gain mat.Dense
	gain.CloneFrom(kt.T())

	innov := mat.NewVecDense(m, nil)
	innov.MulVec(h, rv.mean)
	if shift != nil {
		innov.AddVec(innov, shift)
	}
	innov.SubVec(observed, innov)

	white := SolveLower(s, innov, false)
	stat := mat.Dot(white.ColView(0), white.ColView(0))

	mean := mat.NewVecDense(n, nil)
	mean.MulVec(&gain, innov)
	mean.AddVec(mean, rv.mean)

	// Joseph form: (I - K·H)·L and K·S
	var kh mat.Dense
	kh.Mul(&gain, h)
	imkh := eye(n)
	imkh.Sub(imkh, &kh)
	var left mat.Dense
	left.Mul(imkh, rv.chol)
	var right *mat.Dense
	if noise != nil {
		right = &mat.Dense{}
		right.Mul(&gain, noise)
	}
	if right == nil {
		return New(mean, SqrtSum(n, &left)), stat
	}
	return New(mean, SqrtSum(n, &left, right)), stat
}

// Smooth performs one Rauch–Tung–Striebel step. Given the filtered belief at
// t, the transition x' = A·x + ε, ε ~ N(0, Q·Qᵀ), to t' and the smoothed
// belief at t', it returns the smoothed belief at t.
func Smooth(filtered *Normal, a mat.Matrix, noise mat.Matrix, next *Normal) *Normal {
	n := filtered.Dim()
	predicted := Forward(filtered, a, nil, noise)

	// Gᵀ = Σp⁻¹·A·Σf
	var al mat.Dense
	al.Mul(a, filtered.chol)
	var apf mat.Dense
	apf.Mul(&al, filtered.chol.T())
	gt := SolveCov(predicted.chol, &apf)
	var gain mat.Dense
	gain.CloneFrom(gt.T())

	diff := mat.NewVecDense(n, nil)
	diff.SubVec(next.mean, predicted.mean)
	mean := mat.NewVecDense(n, nil)
	mean.MulVec(&gain, diff)
	mean.AddVec(mean, filtered.mean)

	var ga mat.Dense
	ga.Mul(&gain, a)
	imga := eye(n)
	imga.Sub(imga, &ga)
	var f1, f2, f3 mat.Dense
	f1.Mul(imga, filtered.chol)
	f2.Mul(&gain, noise)
	f3.Mul(&gain, next.chol)
	return New(mean, SqrtSum(n, &f1, &f2, &f3))
}

func eye(n int) *mat.Dense {
	d := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		d.Set(i, i, 1)
	}
	return d
}
