package experiment

import (
	"context"
	"math"
	"time"

	"github.com/pkg/errors"
	"github.com/samber/lo"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/probbvp/internal/bvp"
	"github.com/san-kum/probbvp/internal/config"
	"github.com/san-kum/probbvp/internal/errest"
	"github.com/san-kum/probbvp/internal/integrators"
	"github.com/san-kum/probbvp/internal/kalman"
	"github.com/san-kum/probbvp/internal/mesh"
	"github.com/san-kum/probbvp/internal/prior"
	"github.com/san-kum/probbvp/internal/problems"
	"github.com/san-kum/probbvp/internal/solver"
)

// ErrNotSetUp is returned when an experiment is run before Setup.
var ErrNotSetUp = errors.New("experiment: not set up")

// PlotPoints is the resolution of the dense evaluation stored with a run.
const PlotPoints = 200

// Observer sees every value a solve produces.
type Observer interface {
	OnResult(r solver.Result)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(solver.Result)

func (f ObserverFunc) OnResult(r solver.Result) { f(r) }

// RoundSummary condenses the end of one refinement round.
type RoundSummary struct {
	Round        int     `json:"round"`
	MeshSize     int     `json:"mesh_size"`
	SigmaSquared float64 `json:"sigma_squared"`
	Diffusion    float64 `json:"diffusion"`
	MaxError     float64 `json:"max_error"`
	Accepted     int     `json:"accepted"`
	Intervals    int     `json:"intervals"`
}

// Run is the outcome of one experiment.
type Run struct {
	Config    config.Config
	Converged bool
	Err       error
	Elapsed   time.Duration
	Rounds    []RoundSummary

	Posterior    *kalman.Posterior
	SigmaSquared float64
	Mesh         []float64

	// Dense evaluation of the solution value: means and calibrated standard
	// deviations per coordinate.
	Times []float64
	Means [][]float64
	Stds  [][]float64

	// ReferenceError is the largest deviation from the closed-form solution
	// on Times, NaN without one.
	ReferenceError float64
	// ShootingDefect is the right-boundary miss of an RK45 shot from the
	// posterior at t0. Empty for second-order problems.
	ShootingDefect []float64
	// MeshShootingDefect is the same shot taken with one RK4 step per
	// interval of the final mesh.
	MeshShootingDefect []float64
}

type Experiment struct {
	cfg       config.Config
	registry  *problems.Registry
	logger    *zap.SugaredLogger
	observers []Observer

	problem bvp.BoundaryValueProblem
	solver  *solver.Solver
}

func New(cfg *config.Config, logger *zap.SugaredLogger) *Experiment {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Experiment{cfg: *cfg, registry: problems.NewRegistry(), logger: logger}
}

func (e *Experiment) AddObserver(o Observer) { e.observers = append(e.observers, o) }

func (e *Experiment) Problem() bvp.BoundaryValueProblem { return e.problem }

func (e *Experiment) Solver() *solver.Solver { return e.solver }

// Setup resolves the problem and builds the solver from the config.
func (e *Experiment) Setup() error {
	if err := e.cfg.Validate(); err != nil {
		return err
	}
	p, err := e.registry.Get(e.cfg.Problem)
	if err != nil {
		return err
	}
	ibm, err := prior.NewIBM(e.cfg.Order, p.Dimension())
	if err != nil {
		return err
	}
	est, err := errest.ByName(e.cfg.Estimator, errest.Options{
		Rule:                      errest.LobattoInterior(),
		P0:                        ibm.Proj(0),
		NormaliseWithIntervalSize: e.cfg.NormaliseWithIntervalSize,
	})
	if err != nil {
		return err
	}
	s, err := solver.New(ibm, est,
		solver.WithInitialSigmaSquared(e.cfg.InitialSigmaSquared),
		solver.WithJitter(e.cfg.Jitter),
		solver.WithInitialGuessDamping(e.cfg.InitialGuessDamping),
		solver.WithMaxRounds(e.cfg.MaxRounds),
		solver.WithMaxMeshSize(e.cfg.MaxMeshSize),
		solver.WithYieldIEKSIterations(e.cfg.YieldIEKSIterations),
		solver.WithLogger(e.logger.With("problem", e.cfg.Problem)),
	)
	if err != nil {
		return err
	}
	e.problem, e.solver = p, s
	return nil
}

// Generator initialises on an equispaced grid and returns the adaptive
// solve as a pull iterator.
func (e *Experiment) Generator(ctx context.Context) (*solver.Generator, error) {
	if e.solver == nil {
		return nil, ErrNotSetUp
	}
	t0, tmax := e.problem.Domain()
	grid := mesh.Linspace(t0, tmax, e.cfg.InitialGridSize)
	var guess [][]float64
	if e.cfg.UseInitialGuess {
		guess = e.initialGuess(grid)
	}
	initial, sigma2, err := e.solver.Initialise(ctx, e.problem, grid, guess)
	if err != nil {
		return nil, err
	}
	e.logger.Debugw("initial posterior", "sigmaSquared", sigma2)
	return e.solver.Generator(e.problem, solver.GenerateParams{
		ATol:    e.cfg.ATol,
		RTol:    e.cfg.RTol,
		Initial: initial,
		MaxIEKS: e.cfg.MaxIEKS,
		MaxEM:   e.cfg.MaxEM,
	}), nil
}

func (e *Experiment) initialGuess(grid []float64) [][]float64 {
	ref := e.problem.Reference()
	if ref == nil {
		e.logger.Warnw("no reference solution, initialising from the ODE")
		return nil
	}
	d := e.problem.Dimension()
	out := make([][]float64, len(grid))
	for i, t := range grid {
		out[i] = ref(t)[:d]
	}
	return out
}

// Run drives the solve to completion. A run that hits its refinement caps
// is still summarised; the error is recorded in Run.Err and returned.
func (e *Experiment) Run(ctx context.Context) (*Run, error) {
	start := time.Now()
	gen, err := e.Generator(ctx)
	if err != nil {
		return nil, err
	}
	run := &Run{Config: e.cfg, ReferenceError: math.NaN()}
	var last solver.Result
	for gen.Next(ctx) {
		last = gen.Result()
		for _, o := range e.observers {
			o.OnResult(last)
		}
		if last.EndOfRound {
			run.Rounds = append(run.Rounds, Summarise(last))
		}
	}
	run.Elapsed = time.Since(start)
	run.Err = gen.Err()
	if last.Posterior == nil {
		return run, run.Err
	}
	run.Converged = last.Final
	run.Posterior = last.Posterior
	run.SigmaSquared = last.SigmaSquared
	run.Mesh = last.Mesh
	e.evaluate(ctx, run)
	return run, run.Err
}

// Summarise condenses an end-of-round result.
func Summarise(r solver.Result) RoundSummary {
	return RoundSummary{
		Round:        r.Round,
		MeshSize:     len(r.Mesh),
		SigmaSquared: r.SigmaSquared,
		Diffusion:    r.Calibration.Diffusion,
		MaxError:     r.MaxError(),
		Accepted:     lo.Count(r.Accepted, true),
		Intervals:    len(r.Accepted),
	}
}

// Band evaluates the solution value of post at ts: means and standard
// deviations calibrated by sigmaSquared, one row per time.
func Band(post *kalman.Posterior, ts []float64, sigmaSquared float64) (means, stds [][]float64) {
	p0 := post.Prior().Proj(0)
	means = make([][]float64, len(ts))
	stds = make([][]float64, len(ts))
	for i, rv := range post.Evaluate(ts) {
		means[i] = mat.Col(nil, 0, rv.Project(p0))
		v := rv.ProjectedVar(p0)
		for k := range v {
			v[k] = math.Sqrt(math.Max(v[k], 0) * sigmaSquared)
		}
		stds[i] = v
	}
	return means, stds
}

func (e *Experiment) evaluate(ctx context.Context, run *Run) {
	t0, tmax := e.problem.Domain()
	p0 := run.Posterior.Prior().Proj(0)
	run.Times = mesh.Linspace(t0, tmax, PlotPoints)
	run.Means, run.Stds = Band(run.Posterior, run.Times, run.SigmaSquared)
	if ref := e.problem.Reference(); ref != nil {
		run.ReferenceError = problems.MaxAbsError(ref, run.Times, run.Means)
	}

	first, ok := e.problem.(*bvp.Problem)
	if !ok {
		return
	}
	start := mat.Col(nil, 0, run.Posterior.States()[0].Project(p0))
	if onMesh, err := integrators.ShootOnMesh(first, run.Mesh, start); err == nil {
		run.MeshShootingDefect = onMesh.Defect
	}
	shot, err := integrators.Shoot(ctx, first, start, 1e-10)
	if err != nil {
		e.logger.Warnw("shooting check failed", "error", err)
		return
	}
	run.ShootingDefect = shot.Defect
}

// Setup and Run in one call.
func Solve(ctx context.Context, cfg *config.Config, logger *zap.SugaredLogger) (*Run, error) {
	e := New(cfg, logger)
	if err := e.Setup(); err != nil {
		return nil, errors.Wrapf(err, "setting up %s", cfg.Problem)
	}
	return e.Run(ctx)
}
