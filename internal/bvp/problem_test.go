package bvp

import (
	"math"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

func harmonic() *SecondOrder {
	lr := mat.NewDense(1, 2, []float64{1, 0})
	return &SecondOrder{
		Name: "harmonic",
		T0:   0,
		TMax: math.Pi / 2,
		F: func(_ float64, y, _ []float64) []float64 {
			return []float64{-y[0]}
		},
		DFdy: func(_ float64, _, _ []float64) *mat.Dense {
			return mat.NewDense(1, 1, []float64{-1})
		},
		DFddy: func(_ float64, _, _ []float64) *mat.Dense {
			return mat.NewDense(1, 1, []float64{0})
		},
		L:    lr,
		R:    lr,
		Y0:   []float64{0},
		YMax: []float64{1},
	}
}

func TestSecondOrderShape(t *testing.T) {
	p := harmonic()
	if err := p.Validate(); err != nil {
		t.Fatal(err)
	}
	if p.Dimension() != 1 || p.Order() != 2 {
		t.Errorf("dimension %d, order %d", p.Dimension(), p.Order())
	}
	if p.Reference() != nil {
		t.Error("expected no reference solution")
	}
}

func TestToFirstOrder(t *testing.T) {
	p := harmonic().ToFirstOrder()
	if err := p.Validate(); err != nil {
		t.Fatal(err)
	}
	if p.Dimension() != 2 || p.Order() != 1 {
		t.Errorf("dimension %d, order %d", p.Dimension(), p.Order())
	}

	f := p.F(0, []float64{2, 3})
	if f[0] != 3 || f[1] != -2 {
		t.Errorf("F = %v", f)
	}
	want := mat.NewDense(2, 2, []float64{0, 1, -1, 0})
	if got := p.DF(0, []float64{2, 3}); !mat.Equal(got, want) {
		t.Errorf("DF = %v", mat.Formatted(got))
	}
}

func TestValidateCollectsErrors(t *testing.T) {
	p := &Problem{
		Name: "broken",
		T0:   1,
		TMax: 0,
		L:    mat.NewDense(1, 2, nil),
		R:    mat.NewDense(1, 3, nil),
		Y0:   []float64{0, 0},
		YMax: []float64{0},
	}
	err := p.Validate()
	if !errors.Is(err, ErrInvalidProblem) {
		t.Fatalf("expected ErrInvalidProblem, got %v", err)
	}
	for _, part := range []string{"right-hand side", "jacobian", "empty domain", "columns", "y0 has 2"} {
		if !strings.Contains(err.Error(), part) {
			t.Errorf("error %q does not mention %q", err, part)
		}
	}

	if err := (&Problem{Name: "nil", T0: 0, TMax: 1}).Validate(); !errors.Is(err, ErrInvalidProblem) {
		t.Errorf("expected nil operators to be rejected, got %v", err)
	}
}

func TestSecondOrderNeedsEvenColumns(t *testing.T) {
	p := harmonic()
	p.L = mat.NewDense(1, 3, nil)
	p.R = mat.NewDense(1, 3, nil)
	if err := p.Validate(); err == nil {
		t.Error("expected odd column count to be rejected")
	}
}
