package integrators

import (
	"context"
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/probbvp/internal/bvp"
)

func oscillator(_ float64, y []float64) []float64 {
	return []float64{y[1], -y[0]}
}

func TestRK4Accuracy(t *testing.T) {
	integ := NewRK4()

	y := []float64{1.0, 0.0}
	dt := 0.01
	steps := 100
	for i := 0; i < steps; i++ {
		y = integ.Step(oscillator, y, float64(i)*dt, dt)
	}

	expectedX := math.Cos(float64(steps) * dt)
	expectedV := -math.Sin(float64(steps) * dt)

	if math.Abs(y[0]-expectedX) > 1e-4 {
		t.Errorf("position error too large: got %.6f, expected %.6f", y[0], expectedX)
	}
	if math.Abs(y[1]-expectedV) > 1e-4 {
		t.Errorf("velocity error too large: got %.6f, expected %.6f", y[1], expectedV)
	}
}

func TestRK4Trajectory(t *testing.T) {
	ts := []float64{0, 0.1, 0.2, 0.3}
	traj := NewRK4().Trajectory(oscillator, ts, []float64{1, 0})
	if len(traj) != len(ts) {
		t.Fatalf("got %d states", len(traj))
	}
	if math.Abs(traj[3][0]-math.Cos(0.3)) > 1e-6 {
		t.Errorf("y(0.3) = %g", traj[3][0])
	}
}

func TestRK45Integrate(t *testing.T) {
	y, err := NewRK45().Integrate(context.Background(), oscillator, 0, math.Pi, []float64{1, 0}, 1e-10)
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(y[0]+1) > 1e-6 || math.Abs(y[1]) > 1e-6 {
		t.Errorf("y(π) = %v, want [-1 0]", y)
	}
}

func TestRK45HonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewRK45().Integrate(ctx, oscillator, 0, 1, []float64{1, 0}, 1e-8); err != context.Canceled {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func line() *bvp.Problem {
	return &bvp.Problem{
		Name: "line",
		T0:   0,
		TMax: 2,
		F:    func(_ float64, y []float64) []float64 { return []float64{y[1], 0} },
		DF:   func(float64, []float64) *mat.Dense { return mat.NewDense(2, 2, []float64{0, 1, 0, 0}) },
		L:    mat.NewDense(1, 2, []float64{1, 0}),
		R:    mat.NewDense(1, 2, []float64{1, 0}),
		Y0:   []float64{0},
		YMax: []float64{1},
	}
}

func TestShootMeasuresDefect(t *testing.T) {
	line := line()
	shot, err := Shoot(context.Background(), line, []float64{0, 0.5}, 1e-10)
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(shot.Defect[0]) > 1e-10 {
		t.Errorf("defect = %g", shot.Defect[0])
	}

	shot, err = Shoot(context.Background(), line, []float64{0, 1}, 1e-10)
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(shot.Defect[0]-1) > 1e-10 {
		t.Errorf("defect = %g, want 1", shot.Defect[0])
	}
}

func TestShootOnMesh(t *testing.T) {
	p := line()
	ts := []float64{0, 0.5, 1.5, 2}
	shot, err := ShootOnMesh(p, ts, []float64{0, 1})
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(shot.Defect[0]-1) > 1e-12 || math.Abs(shot.End[1]-1) > 1e-12 {
		t.Errorf("defect = %v, end = %v", shot.Defect, shot.End)
	}

	if _, err := ShootOnMesh(p, ts[:1], []float64{0, 1}); err == nil {
		t.Error("expected a single-point mesh to be rejected")
	}
}

func TestShootOnMeshConvergesWithMesh(t *testing.T) {
	harmonic := &bvp.Problem{
		Name: "harmonic",
		T0:   0,
		TMax: math.Pi / 2,
		F:    oscillator,
		DF:   func(float64, []float64) *mat.Dense { return mat.NewDense(2, 2, []float64{0, 1, -1, 0}) },
		L:    mat.NewDense(1, 2, []float64{1, 0}),
		R:    mat.NewDense(1, 2, []float64{1, 0}),
		Y0:   []float64{0},
		YMax: []float64{1},
	}
	miss := func(n int) float64 {
		ts := make([]float64, n)
		for i := range ts {
			ts[i] = float64(i) / float64(n-1) * math.Pi / 2
		}
		shot, err := ShootOnMesh(harmonic, ts, []float64{0, 1})
		if err != nil {
			t.Fatal(err)
		}
		return math.Abs(shot.Defect[0])
	}
	coarse, fine := miss(5), miss(50)
	if !(fine < coarse) || fine > 1e-6 {
		t.Errorf("defect on 5 points %g, on 50 points %g", coarse, fine)
	}
}
