package solver

import (
	"context"
	"math"

	"github.com/pkg/errors"
	"github.com/samber/lo"

	"github.com/san-kum/probbvp/internal/bvp"
	"github.com/san-kum/probbvp/internal/gauss"
	"github.com/san-kum/probbvp/internal/kalman"
	"github.com/san-kum/probbvp/internal/measmod"
	"github.com/san-kum/probbvp/internal/mesh"
)

// GenerateParams configure one adaptive solve.
type GenerateParams struct {
	ATol, RTol float64
	// Initial provides the first mesh and linearisation points.
	Initial *kalman.Posterior
	// MaxIEKS is the number of smoother iterations per EM iteration.
	MaxIEKS int
	// MaxEM is the number of initial-belief updates per round.
	MaxEM int
}

func (p *GenerateParams) defaults() {
	if p.MaxIEKS <= 0 {
		p.MaxIEKS = 10
	}
	if p.MaxEM <= 0 {
		p.MaxEM = 1
	}
}

// Calibration is the diffusion state of one round. Diffusion scaled the
// prior that produced the round's posterior; SigmaSquared is the estimate
// computed from it. The next round uses Diffusion·SigmaSquared.
type Calibration struct {
	Round        int
	Diffusion    float64
	SigmaSquared float64
}

// Result is one value produced by a Generator.
type Result struct {
	Posterior    *kalman.Posterior
	SigmaSquared float64
	Calibration  Calibration
	// Mesh is the mesh the posterior lives on.
	Mesh []float64
	// Errors, Accepted and Refined are set at the end of a round only.
	Errors   []float64
	Accepted []bool
	Refined  []float64
	Round    int
	// IEKSIteration counts smoother iterations within the round.
	IEKSIteration int
	// EndOfRound is set for the value that closes a round.
	EndOfRound bool
	// Final is set once every interval is accepted.
	Final bool
}

// MaxError is the largest interval error of the round, or NaN mid-round.
func (r Result) MaxError() float64 {
	if len(r.Errors) == 0 {
		return math.NaN()
	}
	return lo.Max(r.Errors)
}

// Generator is a pull iterator over the solve. It is single-use and not
// safe for concurrent use.
type Generator struct {
	s       *Solver
	problem bvp.BoundaryValueProblem
	params  GenerateParams
	models  *measmod.Models

	mesh      []float64
	linAt     []*gauss.Normal
	init      *gauss.Normal
	cal       Calibration
	ieks, em  int
	iteration int

	current *Result
	advance bool
	done    bool
	err     error
}

// Generator prepares an adaptive solve of p. Errors in the parameters
// surface through Err after the first call to Next.
func (s *Solver) Generator(p bvp.BoundaryValueProblem, params GenerateParams) *Generator {
	params.defaults()
	g := &Generator{s: s, problem: p, params: params}
	if err := g.setup(); err != nil {
		g.done, g.err = true, err
	}
	return g
}

func (g *Generator) setup() error {
	if g.params.Initial == nil {
		return errors.Wrap(ErrInvalidGrid, "no initial posterior")
	}
	if !(g.params.ATol >= 0 && g.params.RTol >= 0) || g.params.ATol+g.params.RTol == 0 {
		return errors.Errorf("solver: tolerances must be non-negative and not both zero, got atol=%g rtol=%g", g.params.ATol, g.params.RTol)
	}
	if err := g.problem.Validate(); err != nil {
		return err
	}
	if err := checkGrid(g.problem, g.params.Initial.Locations()); err != nil {
		return err
	}
	models, err := measmod.ForProblem(g.problem, g.s.ibm)
	if err != nil {
		return err
	}
	g.models = models
	g.mesh = g.params.Initial.Locations()
	g.linAt = g.params.Initial.States()
	g.init = g.s.initialBelief()
	g.cal = Calibration{Diffusion: g.s.initialSigmaSquared}
	return nil
}

// Next computes the next result. It returns false once the solve finished,
// failed or ctx was cancelled; Err distinguishes the cases.
func (g *Generator) Next(ctx context.Context) bool {
	if g.done {
		return false
	}
	select {
	case <-ctx.Done():
		return g.fail(ctx.Err())
	default:
	}

	if g.advance {
		if g.current.Final {
			g.done = true
			return false
		}
		if err := g.nextRound(); err != nil {
			return g.fail(err)
		}
	}

	for {
		res, err := g.step(ctx)
		if err != nil {
			return g.fail(err)
		}
		if res != nil {
			g.current = res
			g.advance = res.EndOfRound
			return true
		}
	}
}

// Result returns the value produced by the last successful Next.
func (g *Generator) Result() Result {
	if g.current == nil {
		return Result{}
	}
	return *g.current
}

// Err returns the error that ended the iteration, if any.
func (g *Generator) Err() error { return g.err }

func (g *Generator) fail(err error) bool {
	g.done, g.err = true, err
	return false
}

// step runs one smoother iteration and returns a result when one is due.
func (g *Generator) step(ctx context.Context) (*Result, error) {
	ibm, err := g.s.ibm.WithDiffusion(g.cal.Diffusion)
	if err != nil {
		return nil, errors.Wrapf(err, "round %d", g.cal.Round)
	}
	stacks := measmod.PointStacks(len(g.mesh), g.models, func(int) measmod.Model { return g.models.ODE })
	for i, t := range g.mesh {
		stacks[i] = stacks[i].Linearize(t, g.linAt[i].Mean())
	}
	post, stats, err := kalman.FilterSmooth(ctx, ibm, g.init, g.mesh, stacks)
	if err != nil {
		return nil, errors.Wrapf(err, "round %d, iteration %d", g.cal.Round, g.iteration+1)
	}
	sigma2 := stats.SigmaSquared()
	g.linAt = post.States()
	g.iteration++
	g.ieks++
	g.s.logger.Debugw("ieks iteration", "round", g.cal.Round, "iteration", g.iteration, "sigmaSquared", sigma2)

	if g.ieks == g.params.MaxIEKS {
		g.ieks = 0
		g.init = g.s.emUpdate(post, g.init)
		g.em++
	}
	cal := g.cal
	cal.SigmaSquared = sigma2
	res := &Result{
		Posterior:     post,
		SigmaSquared:  sigma2,
		Calibration:   cal,
		Mesh:          g.mesh,
		Round:         g.cal.Round,
		IEKSIteration: g.iteration,
	}
	if g.em < g.params.MaxEM {
		if g.s.yieldIEKS {
			return res, nil
		}
		return nil, nil
	}

	g.em = 0
	g.cal = cal
	if err := g.closeRound(res); err != nil {
		return nil, err
	}
	return res, nil
}

// closeRound estimates the interval errors of res and proposes the next
// mesh. The estimator is shared by every generator of the Solver, so the
// tolerances are set again each round.
func (g *Generator) closeRound(res *Result) error {
	g.s.est.SetTolerance(g.params.ATol, g.params.RTol)
	rule := g.s.est.Quadrature()
	nodes := mesh.CandidateNodes(g.mesh, rule.Nodes[:], nil)
	evaluated := res.Posterior.Evaluate(nodes)
	odeModels := lo.Times(len(nodes), func(int) measmod.Model { return g.models.ODE })
	errs, _, err := g.s.est.EstimateErrorPerInterval(evaluated, nodes, g.mesh, res.SigmaSquared, odeModels)
	if err != nil {
		return errors.Wrapf(err, "round %d", res.Round)
	}
	refined, accepted := mesh.Refine(g.mesh, errs, g.s.ConvergenceRate(), rule.Nodes)

	res.Errors = errs
	res.Accepted = accepted
	res.Refined = refined
	res.EndOfRound = true
	res.Final = lo.EveryBy(accepted, func(ok bool) bool { return ok })

	g.s.logger.Infow("round finished",
		"round", res.Round,
		"mesh", len(g.mesh),
		"accepted", lo.Count(accepted, true),
		"maxError", res.MaxError(),
		"sigmaSquared", res.SigmaSquared,
		"diffusion", res.Calibration.Diffusion,
	)
	return nil
}

// nextRound recalibrates the diffusion and moves to the refined mesh.
func (g *Generator) nextRound() error {
	prev := g.current
	if prev.Round+1 >= g.s.maxRounds {
		return errors.Wrapf(ErrNotConverged, "%d rounds, %d of %d intervals accepted",
			prev.Round+1, lo.Count(prev.Accepted, true), len(prev.Accepted))
	}
	if len(prev.Refined) > g.s.maxMeshSize {
		return errors.Wrapf(ErrNotConverged, "refined mesh has %d points, limit %d", len(prev.Refined), g.s.maxMeshSize)
	}

	next := g.cal.Diffusion * g.cal.SigmaSquared
	if !(next > 0) || math.IsInf(next, 0) {
		g.s.logger.Warnw("keeping diffusion, calibration estimate unusable", "sigmaSquared", g.cal.SigmaSquared)
		next = g.cal.Diffusion
	}
	g.cal = Calibration{Round: g.cal.Round + 1, Diffusion: next}
	g.linAt = prev.Posterior.Evaluate(prev.Refined)
	g.mesh = prev.Refined
	g.iteration = 0
	g.advance = false
	return nil
}

// Solve drains a generator and returns the final posterior. On failure the
// last posterior computed, if any, is returned together with the error.
func (s *Solver) Solve(ctx context.Context, p bvp.BoundaryValueProblem, params GenerateParams) (*kalman.Posterior, error) {
	g := s.Generator(p, params)
	for g.Next(ctx) {
	}
	return g.Result().Posterior, g.Err()
}
