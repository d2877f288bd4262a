// Package solver implements the adaptive probabilistic BVP solver.
//
// A solve starts from an initial posterior (usually from Initialise) and
// alternates three phases per refinement round: iterated extended Kalman
// smoothing on the current mesh, quadrature-based error estimation on every
// interval, and refinement of the intervals whose error exceeds the
// tolerance. The diffusion of the prior is recalibrated after every round.
package solver

import (
	"context"
	"math"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/probbvp/internal/bvp"
	"github.com/san-kum/probbvp/internal/errest"
	"github.com/san-kum/probbvp/internal/gauss"
	"github.com/san-kum/probbvp/internal/kalman"
	"github.com/san-kum/probbvp/internal/measmod"
	"github.com/san-kum/probbvp/internal/prior"
)

var (
	// ErrInvalidGrid indicates an initial grid that is too short, unsorted or
	// does not span the problem domain.
	ErrInvalidGrid = errors.New("solver: invalid grid")

	// ErrInvalidGuess indicates an initial guess of the wrong shape.
	ErrInvalidGuess = errors.New("solver: initial guess does not match grid")

	// ErrNotConverged is returned once the round or mesh-size cap is hit
	// with intervals still above tolerance.
	ErrNotConverged = errors.New("solver: mesh refinement did not converge")
)

// Defaults applied by New.
const (
	// DefaultInitialSigmaSquared is the first diffusion and the variance of
	// the initial belief.
	DefaultInitialSigmaSquared = 1e10
	DefaultJitter              = 1e-6
	DefaultGuessDamping        = 1e-6
	DefaultMaxRounds           = 50
	DefaultMaxMeshSize         = 100000
)

// Solver holds the prior and the error estimator. Calibration and
// tolerances live in each Generator, so generators of one Solver may be
// interleaved. The estimator itself is shared: concurrent solves need a
// Solver each.
type Solver struct {
	ibm *prior.IBM
	est errest.Estimator

	initialSigmaSquared float64
	jitter              float64
	guessDamping        float64
	maxRounds           int
	maxMeshSize         int
	yieldIEKS           bool

	logger *zap.SugaredLogger
}

// Option configures a Solver.
type Option func(*Solver)

// WithInitialSigmaSquared sets the diffusion of the first round and the
// variance of the initial belief.
func WithInitialSigmaSquared(v float64) Option {
	return func(s *Solver) { s.initialSigmaSquared = v }
}

// WithJitter sets the diagonal added to the initial belief factor after the
// EM update.
func WithJitter(v float64) Option {
	return func(s *Solver) { s.jitter = v }
}

// WithInitialGuessDamping sets the observation variance of initial-guess
// operators. Zero makes them exact and drops the boundary operators from
// the initialisation.
func WithInitialGuessDamping(v float64) Option {
	return func(s *Solver) { s.guessDamping = v }
}

// WithMaxRounds caps the number of refinement rounds.
func WithMaxRounds(n int) Option {
	return func(s *Solver) { s.maxRounds = n }
}

// WithMaxMeshSize caps the number of points of a refined mesh.
func WithMaxMeshSize(n int) Option {
	return func(s *Solver) { s.maxMeshSize = n }
}

// WithYieldIEKSIterations makes generators also report every smoother
// iteration, not only the end of each round.
func WithYieldIEKSIterations(on bool) Option {
	return func(s *Solver) { s.yieldIEKS = on }
}

// WithLogger sets the logger for round and iteration reports.
func WithLogger(l *zap.SugaredLogger) Option {
	return func(s *Solver) { s.logger = l }
}

// New returns a solver for the given prior and estimator.
func New(ibm *prior.IBM, est errest.Estimator, opts ...Option) (*Solver, error) {
	if ibm == nil || est == nil {
		return nil, errors.New("solver: prior and estimator are required")
	}
	s := &Solver{
		ibm:                 ibm,
		est:                 est,
		initialSigmaSquared: DefaultInitialSigmaSquared,
		jitter:              DefaultJitter,
		guessDamping:        DefaultGuessDamping,
		maxRounds:           DefaultMaxRounds,
		maxMeshSize:         DefaultMaxMeshSize,
		logger:              zap.NewNop().Sugar(),
	}
	for _, o := range opts {
		o(s)
	}
	if !(s.initialSigmaSquared > 0) || math.IsInf(s.initialSigmaSquared, 0) {
		return nil, errors.Errorf("solver: initial sigma squared must be positive, got %g", s.initialSigmaSquared)
	}
	if s.jitter < 0 || s.guessDamping < 0 {
		return nil, errors.New("solver: jitter and damping must be non-negative")
	}
	if s.maxRounds < 1 {
		return nil, errors.Errorf("solver: max rounds must be positive, got %d", s.maxRounds)
	}
	return s, nil
}

func estimatorOptions(ibm *prior.IBM, normalise bool) errest.Options {
	return errest.Options{
		Rule:                      errest.LobattoInterior(),
		P0:                        ibm.Proj(0),
		NormaliseWithIntervalSize: normalise,
	}
}

// NewStdRefinement refines on the calibrated posterior standard deviation.
func NewStdRefinement(ibm *prior.IBM, normalise bool, opts ...Option) (*Solver, error) {
	return New(ibm, errest.NewStandardDeviation(estimatorOptions(ibm, normalise)), opts...)
}

// NewResidualRefinement refines on the ODE residual of the posterior mean.
func NewResidualRefinement(ibm *prior.IBM, normalise bool, opts ...Option) (*Solver, error) {
	return New(ibm, errest.NewResidual(estimatorOptions(ibm, normalise)), opts...)
}

// NewProbabilisticRefinement refines on the residual mean and its calibrated
// variance.
func NewProbabilisticRefinement(ibm *prior.IBM, normalise bool, opts ...Option) (*Solver, error) {
	return New(ibm, errest.NewProbabilisticResidual(estimatorOptions(ibm, normalise)), opts...)
}

func (s *Solver) Prior() *prior.IBM { return s.ibm }

func (s *Solver) Estimator() errest.Estimator { return s.est }

// ConvergenceRate is the local convergence rate used to split intervals,
// the integration order of the prior.
func (s *Solver) ConvergenceRate() float64 { return float64(s.ibm.Order()) }

// initialBelief is N(1, σ0²·I) over the whole state.
func (s *Solver) initialBelief() *gauss.Normal {
	ones := make([]float64, s.ibm.Dimension())
	for i := range ones {
		ones[i] = 1
	}
	return gauss.Isotropic(ones, s.initialSigmaSquared)
}

// Initialise runs one filter and smoother pass over grid with unit
// diffusion. Where guess is given, the ODE is replaced by observations of
// the guess at each grid point; otherwise the ODE is linearised around the
// predicted means. It returns the posterior and its calibration estimate.
func (s *Solver) Initialise(ctx context.Context, p bvp.BoundaryValueProblem, grid []float64, guess [][]float64) (*kalman.Posterior, float64, error) {
	if err := p.Validate(); err != nil {
		return nil, 0, err
	}
	if err := checkGrid(p, grid); err != nil {
		return nil, 0, err
	}
	if guess != nil {
		if len(guess) != len(grid) {
			return nil, 0, errors.Wrapf(ErrInvalidGuess, "%d guesses for %d points", len(guess), len(grid))
		}
		for i, g := range guess {
			if len(g) != p.Dimension() {
				return nil, 0, errors.Wrapf(ErrInvalidGuess, "guess %d has %d entries, want %d", i, len(g), p.Dimension())
			}
		}
	}

	models, err := measmod.ForProblem(p, s.ibm)
	if err != nil {
		return nil, 0, err
	}

	var stacks []measmod.Stack
	switch {
	case guess == nil:
		stacks = measmod.PointStacks(len(grid), models, func(int) measmod.Model { return models.ODE })
	case s.guessDamping > 0:
		fn := measmod.InitialGuess(s.ibm, s.guessDamping)
		stacks = measmod.PointStacks(len(grid), models, func(i int) measmod.Model { return fn(guess[i]) })
	default:
		fn := measmod.InitialGuess(s.ibm, 0)
		stacks = make([]measmod.Stack, len(grid))
		for i := range grid {
			stacks[i] = measmod.Stack{fn(guess[i])}
		}
	}

	post, stats, err := kalman.FilterSmooth(ctx, s.ibm, s.initialBelief(), grid, stacks)
	if err != nil {
		return nil, 0, errors.Wrap(err, "initialisation")
	}
	sigma2 := stats.SigmaSquared()
	s.logger.Debugw("initialised", "points", len(grid), "sigmaSquared", sigma2, "guess", guess != nil)
	return post, sigma2, nil
}

func checkGrid(p bvp.BoundaryValueProblem, grid []float64) error {
	if len(grid) < 3 {
		return errors.Wrapf(ErrInvalidGrid, "need at least 3 points, got %d", len(grid))
	}
	for i := 1; i < len(grid); i++ {
		if !(grid[i] > grid[i-1]) {
			return errors.Wrapf(ErrInvalidGrid, "not strictly increasing at index %d", i)
		}
	}
	t0, tmax := p.Domain()
	if !near(grid[0], t0) || !near(grid[len(grid)-1], tmax) {
		return errors.Wrapf(ErrInvalidGrid, "grid spans [%g, %g], domain is [%g, %g]", grid[0], grid[len(grid)-1], t0, tmax)
	}
	return nil
}

func near(a, b float64) bool {
	return math.Abs(a-b) <= 1e-12*math.Max(1, math.Abs(b))
}

// emUpdate moves the initial belief to the smoothed belief at t0, widening
// its factor by the mean shift and a small jitter.
func (s *Solver) emUpdate(post *kalman.Posterior, previous *gauss.Normal) *gauss.Normal {
	first := post.States()[0]
	shift := first.Mean()
	diff := mat.VecDenseCopyOf(shift)
	diff.SubVec(diff, previous.Mean())
	l := gauss.CholUpdate(first.Chol(), diff)
	n, _ := l.Dims()
	for i := 0; i < n; i++ {
		l.SetTri(i, i, l.At(i, i)+s.jitter)
	}
	return gauss.New(mat.VecDenseCopyOf(shift), l)
}
