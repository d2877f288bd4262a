package gauss

import (
	"math"
	"testing"

	. "github.com/onsi/gomega"
	"gonum.org/v1/gonum/mat"
)

func TestSqrtSumReproducesCovariance(t *testing.T) {
	g := NewWithT(t)

	a := mat.NewDense(3, 2, []float64{1, 2, 0, 1, 3, -1})
	b := mat.NewDense(3, 3, []float64{0.5, 0, 0, 1, 2, 0, 0, 1, 1})
	l := SqrtSum(3, a, b)

	var want, got mat.Dense
	var bbt mat.Dense
	want.Mul(a, a.T())
	bbt.Mul(b, b.T())
	want.Add(&want, &bbt)
	got.Mul(l, l.T())

	g.Expect(mat.EqualApprox(&got, &want, 1e-12)).To(BeTrue())
	for i := 0; i < 3; i++ {
		g.Expect(l.At(i, i)).To(BeNumerically(">=", 0))
	}
}

func TestSqrtSumSkipsNil(t *testing.T) {
	g := NewWithT(t)

	a := mat.NewDense(2, 2, []float64{2, 0, 1, 1})
	l := SqrtSum(2, a, nil)

	var got, want mat.Dense
	got.Mul(l, l.T())
	want.Mul(a, a.T())
	g.Expect(mat.EqualApprox(&got, &want, 1e-12)).To(BeTrue())
}

func TestCholUpdate(t *testing.T) {
	g := NewWithT(t)

	l := mat.NewTriDense(2, mat.Lower, []float64{1, 0, 0.5, 2})
	v := mat.NewVecDense(2, []float64{1, -1})
	u := CholUpdate(l, v)

	var got, want, vvt mat.Dense
	got.Mul(u, u.T())
	want.Mul(l, l.T())
	vvt.Outer(1, v, v)
	want.Add(&want, &vvt)
	g.Expect(mat.EqualApprox(&got, &want, 1e-12)).To(BeTrue())
}

func TestConditionScalar(t *testing.T) {
	g := NewWithT(t)

	// x ~ N(1, 4), observe x = 3 exactly.
	rv := Isotropic([]float64{1}, 4)
	h := mat.NewDense(1, 1, []float64{1})
	post, stat := Condition(rv, h, nil, nil, mat.NewVecDense(1, []float64{3}))

	g.Expect(post.MeanSlice()[0]).To(BeNumerically("~", 3, 1e-12))
	g.Expect(post.VarAt(0)).To(BeNumerically("~", 0, 1e-12))
	g.Expect(stat).To(BeNumerically("~", 1, 1e-12))
}

func TestConditionNoisy(t *testing.T) {
	g := NewWithT(t)

	// x ~ N(0, 1), y = x + e, e ~ N(0, 1), y = 2: posterior N(1, 1/2).
	rv := Isotropic([]float64{0}, 1)
	h := mat.NewDense(1, 1, []float64{1})
	noise := mat.NewDense(1, 1, []float64{1})
	post, stat := Condition(rv, h, nil, noise, mat.NewVecDense(1, []float64{2}))

	g.Expect(post.MeanSlice()[0]).To(BeNumerically("~", 1, 1e-12))
	g.Expect(post.VarAt(0)).To(BeNumerically("~", 0.5, 1e-12))
	g.Expect(stat).To(BeNumerically("~", 2, 1e-12))
}

func TestForwardAddsNoise(t *testing.T) {
	g := NewWithT(t)

	rv := Isotropic([]float64{1, 2}, 1)
	h := mat.NewDense(1, 2, []float64{1, 1})
	noise := mat.NewDense(1, 1, []float64{math.Sqrt(3)})
	out := Forward(rv, h, mat.NewVecDense(1, []float64{-1}), noise)

	g.Expect(out.MeanSlice()).To(Equal([]float64{2}))
	g.Expect(out.VarAt(0)).To(BeNumerically("~", 5, 1e-12))
}

func TestSmoothRecoversNextWhenTransitionIsIdentity(t *testing.T) {
	g := NewWithT(t)

	filtered := Isotropic([]float64{0}, 1)
	next := Dirac([]float64{5})
	a := mat.NewDense(1, 1, []float64{1})
	noise := mat.NewDense(1, 1, []float64{0})

	s := Smooth(filtered, a, noise, next)
	g.Expect(s.MeanSlice()[0]).To(BeNumerically("~", 5, 1e-12))
	g.Expect(s.VarAt(0)).To(BeNumerically("~", 0, 1e-12))
}

func TestProjectedVar(t *testing.T) {
	g := NewWithT(t)

	rv := New(mat.NewVecDense(2, []float64{1, 2}), mat.NewTriDense(2, mat.Lower, []float64{1, 0, 1, 1}))
	p := mat.NewDense(1, 2, []float64{0, 1})
	g.Expect(rv.Project(p).AtVec(0)).To(Equal(2.0))
	g.Expect(rv.ProjectedVar(p)).To(HaveLen(1))
	g.Expect(rv.ProjectedVar(p)[0]).To(BeNumerically("~", 2, 1e-12))
	g.Expect(rv.IsValid()).To(BeTrue())
}

func TestScaleMultipliesRows(t *testing.T) {
	g := NewWithT(t)

	l := mat.NewTriDense(2, mat.Lower, []float64{1, 0, 2, 3})
	rv := New(mat.NewVecDense(2, []float64{1, -1}), l)
	d := []float64{2, 0.5}
	scaled := rv.Scale(d)

	g.Expect(scaled.MeanSlice()).To(Equal([]float64{2, -0.5}))
	dm := mat.NewDiagDense(2, d)
	var left, want mat.Dense
	left.Mul(dm, rv.Cov())
	want.Mul(&left, dm)
	g.Expect(mat.EqualApprox(scaled.Cov(), &want, 1e-14)).To(BeTrue())
	g.Expect(rv.MeanSlice()).To(Equal([]float64{1, -1}))
}
