// Package integrators solves initial value problems with explicit
// Runge–Kutta methods. The BVP solver uses them to shoot from the left end
// of a posterior and check how well the right boundary is met.
package integrators

import (
	"context"
	"math"

	"github.com/pkg/errors"
)

// Func is an ODE right-hand side y' = f(t, y).
type Func func(t float64, y []float64) []float64

// ErrStepUnderflow indicates that the adaptive step size collapsed.
var ErrStepUnderflow = errors.New("integrators: step size underflow")

// Dormand-Prince coefficients (RK45)
var (
	a2 = 1.0 / 5.0
	a3 = 3.0 / 10.0
	a4 = 4.0 / 5.0
	a5 = 8.0 / 9.0

	b21 = 1.0 / 5.0
	b31 = 3.0 / 40.0
	b32 = 9.0 / 40.0
	b41 = 44.0 / 45.0
	b42 = -56.0 / 15.0
	b43 = 32.0 / 9.0
	b51 = 19372.0 / 6561.0
	b52 = -25360.0 / 2187.0
	b53 = 64448.0 / 6561.0
	b54 = -212.0 / 729.0
	b61 = 9017.0 / 3168.0
	b62 = -355.0 / 33.0
	b63 = 46732.0 / 5247.0
	b64 = 49.0 / 176.0
	b65 = -5103.0 / 18656.0

	c1 = 35.0 / 384.0
	c3 = 500.0 / 1113.0
	c4 = 125.0 / 192.0
	c5 = -2187.0 / 6784.0
	c6 = 11.0 / 84.0

	dc1 = c1 - 5179.0/57600.0
	dc3 = c3 - 7571.0/16695.0
	dc4 = c4 - 393.0/640.0
	dc5 = c5 - -92097.0/339200.0
	dc6 = c6 - 187.0/2100.0
	dc7 = -1.0 / 40.0
)

type RK45 struct {
	safety   float64
	minScale float64
	maxScale float64
	minStep  float64
}

func NewRK45() *RK45 {
	return &RK45{
		safety:   0.9,
		minScale: 0.2,
		maxScale: 10.0,
		minStep:  1e-12,
	}
}

func axpy(y []float64, dt float64, ks [][]float64, coef []float64) []float64 {
	out := make([]float64, len(y))
	for i := range y {
		s := 0.0
		for j, k := range ks {
			s += coef[j] * k[i]
		}
		out[i] = y[i] + dt*s
	}
	return out
}

// StepAdaptive takes one Dormand–Prince step and returns the new state, a
// proposed next step size and the error ratio. The step should be rejected
// when the ratio exceeds one.
func (r *RK45) StepAdaptive(f Func, y []float64, t, dt, tol float64) ([]float64, float64, float64) {
	k1 := f(t, y)
	k2 := f(t+a2*dt, axpy(y, dt, [][]float64{k1}, []float64{b21}))
	k3 := f(t+a3*dt, axpy(y, dt, [][]float64{k1, k2}, []float64{b31, b32}))
	k4 := f(t+a4*dt, axpy(y, dt, [][]float64{k1, k2, k3}, []float64{b41, b42, b43}))
	k5 := f(t+a5*dt, axpy(y, dt, [][]float64{k1, k2, k3, k4}, []float64{b51, b52, b53, b54}))
	k6 := f(t+dt, axpy(y, dt, [][]float64{k1, k2, k3, k4, k5}, []float64{b61, b62, b63, b64, b65}))

	yNew := axpy(y, dt, [][]float64{k1, k3, k4, k5, k6}, []float64{c1, c3, c4, c5, c6})
	k7 := f(t+dt, yNew)

	errMax := 0.0
	for i := range y {
		errEst := dt * (dc1*k1[i] + dc3*k3[i] + dc4*k4[i] + dc5*k5[i] + dc6*k6[i] + dc7*k7[i])
		scale := math.Abs(y[i]) + math.Abs(dt*k1[i]) + 1e-10
		errMax = math.Max(errMax, math.Abs(errEst)/scale)
	}

	errRatio := errMax / tol

	var dtNew float64
	if errRatio > 1 {
		scale := math.Max(r.minScale, r.safety*math.Pow(errRatio, -0.25))
		dtNew = dt * scale
	} else {
		if errRatio > 0 {
			scale := math.Min(r.maxScale, r.safety*math.Pow(errRatio, -0.2))
			dtNew = dt * scale
		} else {
			dtNew = dt * r.maxScale
		}
	}

	return yNew, dtNew, errRatio
}

// Integrate advances y0 from t0 to t1 with adaptive steps.
func (r *RK45) Integrate(ctx context.Context, f Func, t0, t1 float64, y0 []float64, tol float64) ([]float64, error) {
	y := append([]float64(nil), y0...)
	t := t0
	dt := (t1 - t0) / 100
	for {
		select {
		case <-ctx.Done():
			return y, ctx.Err()
		default:
		}
		last := t+dt >= t1
		if last {
			dt = t1 - t
		}
		yNew, dtNew, ratio := r.StepAdaptive(f, y, t, dt, tol)
		if ratio <= 1 {
			t += dt
			y = yNew
			if last {
				return y, nil
			}
		}
		if math.IsNaN(ratio) || dtNew < r.minStep {
			return y, errors.Wrapf(ErrStepUnderflow, "at t=%g", t)
		}
		dt = dtNew
	}
}
