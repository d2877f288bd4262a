package integrators

// RK4 is the classical fixed-step Runge–Kutta method.
type RK4 struct {
	k1, k2, k3, k4 []float64
	scratch        []float64
}

func NewRK4() *RK4 {
	return &RK4{}
}

func (r *RK4) ensureScratch(n int) {
	if len(r.k1) != n {
		r.k1 = make([]float64, n)
		r.k2 = make([]float64, n)
		r.k3 = make([]float64, n)
		r.k4 = make([]float64, n)
		r.scratch = make([]float64, n)
	}
}

func (r *RK4) Step(f Func, y []float64, t, dt float64) []float64 {
	n := len(y)
	r.ensureScratch(n)

	copy(r.k1, f(t, y))

	for i := 0; i < n; i++ {
		r.scratch[i] = y[i] + dt*0.5*r.k1[i]
	}
	copy(r.k2, f(t+dt*0.5, r.scratch))

	for i := 0; i < n; i++ {
		r.scratch[i] = y[i] + dt*0.5*r.k2[i]
	}
	copy(r.k3, f(t+dt*0.5, r.scratch))

	for i := 0; i < n; i++ {
		r.scratch[i] = y[i] + dt*r.k3[i]
	}
	copy(r.k4, f(t+dt, r.scratch))

	result := make([]float64, n)
	dt6 := dt / 6.0
	for i := 0; i < n; i++ {
		result[i] = y[i] + dt6*(r.k1[i]+2*r.k2[i]+2*r.k3[i]+r.k4[i])
	}

	return result
}

// Trajectory integrates y0 over ts with one RK4 step per interval.
func (r *RK4) Trajectory(f Func, ts []float64, y0 []float64) [][]float64 {
	out := make([][]float64, len(ts))
	out[0] = append([]float64(nil), y0...)
	for i := 1; i < len(ts); i++ {
		out[i] = r.Step(f, out[i-1], ts[i-1], ts[i]-ts[i-1])
	}
	return out
}
