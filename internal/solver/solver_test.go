package solver

import (
	"context"
	"math"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/probbvp/internal/bvp"
	"github.com/san-kum/probbvp/internal/errest"
	"github.com/san-kum/probbvp/internal/gauss"
	"github.com/san-kum/probbvp/internal/mesh"
	"github.com/san-kum/probbvp/internal/prior"
	"github.com/san-kum/probbvp/internal/problems"
)

// oscillator is y'' = -y with y(0) = 0 and y(π/2) = 1, solved by sin.
func oscillator() *bvp.Problem {
	first := mat.NewDense(1, 2, []float64{1, 0})
	return &bvp.Problem{
		Name: "oscillator",
		T0:   0,
		TMax: math.Pi / 2,
		F: func(_ float64, y []float64) []float64 {
			return []float64{y[1], -y[0]}
		},
		DF: func(_ float64, _ []float64) *mat.Dense {
			return mat.NewDense(2, 2, []float64{0, 1, -1, 0})
		},
		L:        first,
		R:        first,
		Y0:       []float64{0},
		YMax:     []float64{1},
		Solution: func(t float64) []float64 { return []float64{math.Sin(t), math.Cos(t)} },
	}
}

func newSolver(q int, opts ...Option) *Solver {
	ibm, err := prior.NewIBM(q, 2)
	Expect(err).NotTo(HaveOccurred())
	s, err := NewResidualRefinement(ibm, false, opts...)
	Expect(err).NotTo(HaveOccurred())
	return s
}

func params(ctx context.Context, s *Solver, p bvp.BoundaryValueProblem, tol float64) GenerateParams {
	t0, tmax := p.Domain()
	initial, _, err := s.Initialise(ctx, p, mesh.Linspace(t0, tmax, 10), nil)
	Expect(err).NotTo(HaveOccurred())
	return GenerateParams{ATol: tol, RTol: tol, Initial: initial}
}

func drain(ctx context.Context, g *Generator) []Result {
	var out []Result
	for g.Next(ctx) {
		out = append(out, g.Result())
	}
	return out
}

func endOfRound(results []Result) []Result {
	var out []Result
	for _, r := range results {
		if r.EndOfRound {
			out = append(out, r)
		}
	}
	return out
}

func boundaryValue(r Result, i int) float64 {
	states := r.Posterior.States()
	p0 := r.Posterior.Prior().Proj(0)
	return states[i].Project(p0).AtVec(0)
}

var _ = Describe("Solver", func() {
	var ctx context.Context

	BeforeEach(func() {
		ctx = context.Background()
	})

	Describe("New", func() {
		It("requires a prior and an estimator", func() {
			_, err := New(nil, nil)
			Expect(err).To(HaveOccurred())
		})

		It("rejects invalid options", func() {
			ibm, err := prior.NewIBM(2, 1)
			Expect(err).NotTo(HaveOccurred())
			est := errest.NewResidual(errest.Options{Rule: errest.LobattoInterior(), P0: ibm.Proj(0)})

			_, err = New(ibm, est, WithMaxRounds(0))
			Expect(err).To(HaveOccurred())
			_, err = New(ibm, est, WithJitter(-1))
			Expect(err).To(HaveOccurred())
			_, err = New(ibm, est, WithInitialSigmaSquared(0))
			Expect(err).To(HaveOccurred())
		})

		It("uses the prior order as convergence rate", func() {
			ibm, err := prior.NewIBM(4, 2)
			Expect(err).NotTo(HaveOccurred())
			for _, ctor := range []func(*prior.IBM, bool, ...Option) (*Solver, error){
				NewStdRefinement, NewResidualRefinement, NewProbabilisticRefinement,
			} {
				s, err := ctor(ibm, true)
				Expect(err).NotTo(HaveOccurred())
				Expect(s.ConvergenceRate()).To(Equal(4.0))
				Expect(s.Prior()).To(BeIdenticalTo(ibm))
				Expect(s.Estimator()).NotTo(BeNil())
			}
		})
	})

	Describe("Initialise", func() {
		var s *Solver

		BeforeEach(func() {
			s = newSolver(3)
		})

		DescribeTable("rejects bad grids",
			func(grid []float64) {
				_, _, err := s.Initialise(ctx, problems.Pendulum(), grid, nil)
				Expect(errors.Is(err, ErrInvalidGrid)).To(BeTrue(), "got %v", err)
			},
			Entry("too short", []float64{0, math.Pi / 2}),
			Entry("unsorted", []float64{0, 1, 0.5, math.Pi / 2}),
			Entry("repeated point", []float64{0, 0.5, 0.5, math.Pi / 2}),
			Entry("not spanning the domain", []float64{0, 0.5, 1}),
		)

		It("rejects a guess of the wrong shape", func() {
			grid := mesh.Linspace(0, math.Pi/2, 5)
			_, _, err := s.Initialise(ctx, problems.Pendulum(), grid, [][]float64{{0, 0}})
			Expect(errors.Is(err, ErrInvalidGuess)).To(BeTrue())

			guess := [][]float64{{0}, {0}, {0}, {0}, {0}}
			_, _, err = s.Initialise(ctx, problems.Pendulum(), grid, guess)
			Expect(errors.Is(err, ErrInvalidGuess)).To(BeTrue())
		})

		It("enforces the boundary conditions", func() {
			grid := mesh.Linspace(0, math.Pi/2, 10)
			post, sigma2, err := s.Initialise(ctx, problems.Pendulum(), grid, nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(sigma2).To(BeNumerically(">=", 0))
			Expect(math.IsInf(sigma2, 0) || math.IsNaN(sigma2)).To(BeFalse())
			Expect(post.Locations()).To(Equal(grid))

			r := Result{Posterior: post}
			Expect(boundaryValue(r, 0)).To(BeNumerically("~", -math.Pi/2, 1e-5))
			Expect(boundaryValue(r, len(grid)-1)).To(BeNumerically("~", math.Pi/2, 1e-5))
		})

		It("follows an exact initial guess", func() {
			s = newSolver(3, WithInitialGuessDamping(0))
			p := oscillator()
			grid := mesh.Linspace(0, math.Pi/2, 8)
			guess := make([][]float64, len(grid))
			for i, t := range grid {
				guess[i] = p.Solution(t)
			}
			post, _, err := s.Initialise(ctx, p, grid, guess)
			Expect(err).NotTo(HaveOccurred())
			for i, rv := range post.States() {
				m := rv.Project(post.Prior().Proj(0))
				Expect(m.AtVec(0)).To(BeNumerically("~", guess[i][0], 1e-6))
				Expect(m.AtVec(1)).To(BeNumerically("~", guess[i][1], 1e-6))
			}
		})
	})

	Describe("Generator", func() {
		It("solves the oscillator to the reference", func() {
			s := newSolver(4)
			p := oscillator()
			post, err := s.Solve(ctx, p, params(ctx, s, p, 1e-6))
			Expect(err).NotTo(HaveOccurred())

			ts := mesh.Linspace(0, math.Pi/2, 50)
			means := post.Means(ts, post.Prior().Proj(0))
			Expect(problems.MaxAbsError(p.Solution, ts, means)).To(BeNumerically("<", 1e-4))
		})

		Context("on the pendulum", func() {
			var (
				s       *Solver
				results []Result
				gen     *Generator
			)

			BeforeEach(func() {
				s = newSolver(3)
				gen = s.Generator(problems.Pendulum(), params(ctx, s, problems.Pendulum(), 1e-3))
				results = drain(ctx, gen)
			})

			It("converges with every interval accepted", func() {
				Expect(gen.Err()).NotTo(HaveOccurred())
				Expect(results).NotTo(BeEmpty())
				last := results[len(results)-1]
				Expect(last.Final).To(BeTrue())
				Expect(last.EndOfRound).To(BeTrue())
				Expect(last.Accepted).To(HaveEach(BeTrue()))
				Expect(last.Refined).To(Equal(last.Mesh))
				Expect(last.MaxError()).To(BeNumerically("<=", 1))
			})

			It("keeps the boundary conditions", func() {
				last := results[len(results)-1]
				Expect(boundaryValue(last, 0)).To(BeNumerically("~", -math.Pi/2, 1e-5))
				Expect(boundaryValue(last, len(last.Mesh)-1)).To(BeNumerically("~", math.Pi/2, 1e-5))
			})

			It("reports only round ends by default", func() {
				Expect(endOfRound(results)).To(HaveLen(len(results)))
				for i, r := range results {
					Expect(r.Round).To(Equal(i))
					Expect(r.IEKSIteration).To(Equal(10))
					Expect(mesh.Validate(r.Mesh)).To(Succeed())
					Expect(r.Mesh[0]).To(Equal(0.0))
					Expect(r.Mesh[len(r.Mesh)-1]).To(BeNumerically("~", math.Pi/2, 1e-12))
					Expect(r.Errors).To(HaveLen(len(r.Mesh) - 1))
				}
			})

			It("moves to the refined mesh between rounds", func() {
				for i := 1; i < len(results); i++ {
					Expect(results[i].Mesh).To(Equal(results[i-1].Refined))
					Expect(len(results[i].Mesh)).To(BeNumerically(">", len(results[i-1].Mesh)))
				}
			})

			It("recalibrates the diffusion by the previous estimate", func() {
				Expect(results[0].Calibration.Diffusion).To(Equal(DefaultInitialSigmaSquared))
				for i := 1; i < len(results); i++ {
					prev, cur := results[i-1].Calibration, results[i].Calibration
					Expect(prev.SigmaSquared).To(BeNumerically(">", 0))
					want := prev.Diffusion * prev.SigmaSquared
					Expect(cur.Diffusion).To(BeNumerically("~", want, 1e-12*want))
					Expect(cur.Round).To(Equal(prev.Round + 1))
				}
			})

			It("stops after the final result", func() {
				Expect(gen.Next(ctx)).To(BeFalse())
				Expect(gen.Err()).NotTo(HaveOccurred())
			})
		})

		DescribeTable("solves the pendulum end to end",
			func(q int, tol float64) {
				s := newSolver(q)
				p := problems.Pendulum()
				gen := s.Generator(p, params(ctx, s, p, tol))
				results := drain(ctx, gen)
				Expect(gen.Err()).NotTo(HaveOccurred())
				Expect(results).NotTo(BeEmpty())

				last := results[len(results)-1]
				Expect(last.Final).To(BeTrue())
				Expect(last.Errors).To(HaveEach(BeNumerically("<", 1)))
				Expect(last.Posterior.States()).To(HaveEach(Satisfy(func(rv *gauss.Normal) bool { return rv.IsValid() })))
				Expect(boundaryValue(last, 0)).To(BeNumerically("~", -math.Pi/2, 1e-5))
				Expect(boundaryValue(last, len(last.Mesh)-1)).To(BeNumerically("~", math.Pi/2, 1e-5))
			},
			Entry("third order at 1e-5", 3, 1e-5),
			Entry("fifth order at 1e-3", 5, 1e-3),
		)

		It("keeps the tolerances of interleaved generators apart", func() {
			p := problems.Pendulum()

			alone := newSolver(3)
			gen := alone.Generator(p, params(ctx, alone, p, 1e-1))
			Expect(gen.Next(ctx)).To(BeTrue())
			want := gen.Result().Errors

			shared := newSolver(3)
			loose := shared.Generator(p, params(ctx, shared, p, 1e-1))
			tight := shared.Generator(p, params(ctx, shared, p, 1e-8))
			Expect(tight.Next(ctx)).To(BeTrue())
			Expect(loose.Next(ctx)).To(BeTrue())
			Expect(loose.Result().Errors).To(Equal(want))
			Expect(tight.Result().MaxError()).To(BeNumerically(">", loose.Result().MaxError()))
		})

		It("yields smoother iterations on request", func() {
			s := newSolver(3, WithYieldIEKSIterations(true))
			p := problems.Pendulum()
			pr := params(ctx, s, p, 1e-3)
			pr.MaxIEKS, pr.MaxEM = 3, 2
			gen := s.Generator(p, pr)

			var round []Result
			for gen.Next(ctx) {
				round = append(round, gen.Result())
				if gen.Result().EndOfRound {
					break
				}
			}
			Expect(round).To(HaveLen(6))
			for i, r := range round {
				Expect(r.IEKSIteration).To(Equal(i + 1))
				Expect(r.Round).To(Equal(0))
				Expect(r.EndOfRound).To(Equal(i == 5))
			}
			Expect(round[0].Errors).To(BeNil())
			Expect(math.IsNaN(round[0].MaxError())).To(BeTrue())
		})

		It("gives up after the round limit", func() {
			s := newSolver(3, WithMaxRounds(1))
			p := problems.Pendulum()
			gen := s.Generator(p, params(ctx, s, p, 1e-12))
			results := drain(ctx, gen)
			Expect(results).To(HaveLen(1))
			Expect(errors.Is(gen.Err(), ErrNotConverged)).To(BeTrue(), "got %v", gen.Err())
		})

		It("gives up when the mesh grows too large", func() {
			s := newSolver(3, WithMaxMeshSize(12))
			p := problems.Pendulum()
			gen := s.Generator(p, params(ctx, s, p, 1e-12))
			drain(ctx, gen)
			Expect(errors.Is(gen.Err(), ErrNotConverged)).To(BeTrue(), "got %v", gen.Err())
		})

		It("stops when the context is cancelled", func() {
			s := newSolver(3)
			p := problems.Pendulum()
			pr := params(ctx, s, p, 1e-3)
			cancelled, cancel := context.WithCancel(ctx)
			cancel()
			gen := s.Generator(p, pr)
			Expect(gen.Next(cancelled)).To(BeFalse())
			Expect(errors.Is(gen.Err(), context.Canceled)).To(BeTrue())
		})

		It("reports invalid parameters through Err", func() {
			s := newSolver(3)
			gen := s.Generator(problems.Pendulum(), GenerateParams{ATol: 1e-3, RTol: 1e-3})
			Expect(gen.Next(ctx)).To(BeFalse())
			Expect(errors.Is(gen.Err(), ErrInvalidGrid)).To(BeTrue())

			p := problems.Pendulum()
			pr := params(ctx, s, p, 0)
			gen = s.Generator(p, pr)
			Expect(gen.Next(ctx)).To(BeFalse())
			Expect(gen.Err()).To(HaveOccurred())
		})
	})
})
