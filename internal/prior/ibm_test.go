package prior

import (
	"math"
	"testing"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/probbvp/internal/gauss"
)

func TestNewIBMRejectsBadArguments(t *testing.T) {
	tests := []struct {
		name   string
		order  int
		dim    int
		target error
	}{
		{"zero order", 0, 1, ErrInvalidOrder},
		{"zero dimension", 2, 0, ErrInvalidDimension},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewIBM(tt.order, tt.dim)
			if !errors.Is(err, tt.target) {
				t.Errorf("expected %v, got %v", tt.target, err)
			}
		})
	}
}

func TestTransitionMatrix(t *testing.T) {
	ibm, err := NewIBM(2, 1)
	if err != nil {
		t.Fatal(err)
	}
	a, _ := ibm.Transition(0.5)
	want := mat.NewDense(3, 3, []float64{
		1, 0.5, 0.125,
		0, 1, 0.5,
		0, 0, 1,
	})
	if !mat.EqualApprox(a, want, 1e-14) {
		t.Errorf("unexpected transition:\n%v", mat.Formatted(a))
	}
}

func TestTransitionNoiseMatchesClosedForm(t *testing.T) {
	ibm, _ := NewIBM(1, 1)
	h := 0.3
	_, q := ibm.Transition(h)
	var cov mat.Dense
	cov.Mul(q, q.T())
	want := mat.NewDense(2, 2, []float64{
		h * h * h / 3, h * h / 2,
		h * h / 2, h,
	})
	if !mat.EqualApprox(&cov, want, 1e-14) {
		t.Errorf("unexpected process noise:\n%v", mat.Formatted(&cov))
	}
}

func TestDiffusionScalesNoise(t *testing.T) {
	ibm, _ := NewIBM(3, 2)
	scaled, err := ibm.WithDiffusion(4)
	if err != nil {
		t.Fatal(err)
	}
	_, q1 := ibm.Transition(0.1)
	_, q4 := scaled.Transition(0.1)
	var want mat.Dense
	want.Scale(2, q1)
	if !mat.EqualApprox(q4, &want, 1e-14) {
		t.Error("diffusion 4 should double the noise factor")
	}
	if ibm.Diffusion() != 1 {
		t.Error("WithDiffusion mutated the receiver")
	}
	if _, err := ibm.WithDiffusion(math.Inf(1)); !errors.Is(err, ErrInvalidDiffusion) {
		t.Errorf("expected ErrInvalidDiffusion, got %v", err)
	}
}

func TestProjAndIndex(t *testing.T) {
	ibm, _ := NewIBM(2, 2)
	if ibm.Dimension() != 6 {
		t.Fatalf("dimension = %d", ibm.Dimension())
	}
	p := ibm.Proj(1)
	x := mat.NewVecDense(6, []float64{1, 2, 3, 4, 5, 6})
	var y mat.VecDense
	y.MulVec(p, x)
	if y.AtVec(0) != 2 || y.AtVec(1) != 5 {
		t.Errorf("Proj(1) selected %v", mat.Formatted(y.T()))
	}
	if ibm.Index(1, 2) != 5 {
		t.Errorf("Index(1, 2) = %d", ibm.Index(1, 2))
	}
}

func TestForwardBackwardRoundTrip(t *testing.T) {
	ibm, _ := NewIBM(1, 1)
	rv := gauss.Isotropic([]float64{1, 2}, 0.1)
	pred := ibm.Forward(rv, 0.5)
	if got := pred.MeanSlice(); math.Abs(got[0]-2) > 1e-12 || math.Abs(got[1]-2) > 1e-12 {
		t.Errorf("forward mean = %v", got)
	}
	back := ibm.Forward(pred, -0.5)
	if got := back.MeanSlice(); math.Abs(got[0]-1) > 1e-12 {
		t.Errorf("backward mean = %v", got)
	}
	sm := ibm.Backward(pred, rv, 0.5)
	if got := sm.MeanSlice(); math.Abs(got[0]-1) > 1e-10 || math.Abs(got[1]-2) > 1e-10 {
		t.Errorf("smoothing on the prediction changed the mean: %v", got)
	}
}

func TestPreconditionedTransitionIsStepIndependent(t *testing.T) {
	ibm, _ := NewIBM(2, 1)
	a, _ := ibm.PreconditionedTransition(false)
	want := mat.NewDense(3, 3, []float64{
		1, 2, 1,
		0, 1, 1,
		0, 0, 1,
	})
	if !mat.Equal(a, want) {
		t.Errorf("unexpected preconditioned transition:\n%v", mat.Formatted(a))
	}
	back, _ := ibm.PreconditionedTransition(true)
	want = mat.NewDense(3, 3, []float64{
		1, -2, 1,
		0, 1, -1,
		0, 0, 1,
	})
	if !mat.Equal(back, want) {
		t.Errorf("unexpected backward transition:\n%v", mat.Formatted(back))
	}

	pre := ibm.Preconditioner(0.5)
	h := 0.5
	for i, v := range []float64{math.Sqrt(h) * h * h / 2, math.Sqrt(h) * h, math.Sqrt(h)} {
		if math.Abs(pre[i]-v) > 1e-15 {
			t.Errorf("T[%d] = %g, want %g", i, pre[i], v)
		}
	}
}

func TestForwardMatchesClosedForm(t *testing.T) {
	ibm, _ := NewIBM(3, 2)
	ibm, _ = ibm.WithDiffusion(2.5)
	mean := []float64{1, -2, 0.5, 3, 0, 1, -1, 2}
	rv := gauss.Isotropic(mean, 0.3)

	for _, dt := range []float64{0.4, -0.4} {
		a, noise := ibm.Transition(dt)
		want := gauss.Forward(rv, a, nil, noise)
		got := ibm.Forward(rv, dt)
		if !mat.EqualApprox(got.Mean(), want.Mean(), 1e-12) {
			t.Errorf("dt=%g: mean %v, want %v", dt, got.MeanSlice(), want.MeanSlice())
		}
		if !mat.EqualApprox(got.Cov(), want.Cov(), 1e-12) {
			t.Errorf("dt=%g: covariance differs from the closed form", dt)
		}
	}
}

func TestHighOrderTinyStepsStayFinite(t *testing.T) {
	ibm, _ := NewIBM(5, 1)
	ibm, _ = ibm.WithDiffusion(1e10)
	rv := gauss.Isotropic([]float64{1, 1, 1, 1, 1, 1}, 1e10)

	filtered := []*gauss.Normal{rv}
	for i := 0; i < 50; i++ {
		filtered = append(filtered, ibm.Forward(filtered[i], 1e-4))
	}
	smoothed := filtered[len(filtered)-1]
	for i := len(filtered) - 2; i >= 0; i-- {
		smoothed = ibm.Backward(smoothed, filtered[i], 1e-4)
		if !smoothed.IsValid() {
			t.Fatalf("smoothed belief %d is not finite", i)
		}
	}
	for _, v := range smoothed.Var() {
		if v < 0 || math.IsNaN(v) {
			t.Fatalf("invalid variance %g", v)
		}
	}
}
