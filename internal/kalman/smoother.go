// Package kalman runs the square-root Kalman filter and Rauch–Tung–Striebel
// smoother over a mesh and exposes the result as a time-continuous
// posterior.
//
// Every mesh point carries an ordered stack of observation operators, all
// observed at zero. Operators that are not linear are linearised around the
// current predicted mean, which makes a single pass an extended Kalman
// smoother; iterated smoothing is obtained by handing in stacks that were
// already linearised around a previous estimate.
package kalman

import (
	"context"
	"sort"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/probbvp/internal/gauss"
	"github.com/san-kum/probbvp/internal/measmod"
	"github.com/san-kum/probbvp/internal/prior"
)

var (
	// ErrLengthMismatch indicates that locations and operator stacks differ
	// in length.
	ErrLengthMismatch = errors.New("kalman: locations and measurement models differ in length")

	// ErrUnsorted indicates locations that are not strictly increasing.
	ErrUnsorted = errors.New("kalman: locations must be strictly increasing")

	// ErrNumerical indicates a belief with NaN or Inf entries.
	ErrNumerical = errors.New("kalman: non-finite belief")
)

// Stats collects the per-point calibration statistics of a filter pass.
type Stats struct {
	// Innovations holds, for every location, the sum over its operators of
	// the squared whitened innovation norms.
	Innovations []float64
	SpatialDim  int
}

// SigmaSquared is the quasi-maximum-likelihood diffusion estimate: the mean
// per-point statistic divided by the spatial dimension.
func (s Stats) SigmaSquared() float64 {
	if len(s.Innovations) == 0 || s.SpatialDim == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range s.Innovations {
		sum += v
	}
	return sum / float64(len(s.Innovations)) / float64(s.SpatialDim)
}

// FilterSmooth conditions the prior started at init on zero observations of
// stacks[i] at locations[i] and smooths backwards.
func FilterSmooth(ctx context.Context, ibm *prior.IBM, init *gauss.Normal, locations []float64, stacks []measmod.Stack) (*Posterior, Stats, error) {
	n := len(locations)
	if n != len(stacks) {
		return nil, Stats{}, errors.Wrapf(ErrLengthMismatch, "%d locations, %d stacks", n, len(stacks))
	}
	if n == 0 {
		return nil, Stats{}, errors.Wrap(ErrLengthMismatch, "no locations")
	}
	for i := 1; i < n; i++ {
		if !(locations[i] > locations[i-1]) {
			return nil, Stats{}, errors.Wrapf(ErrUnsorted, "t[%d]=%g, t[%d]=%g", i-1, locations[i-1], i, locations[i])
		}
	}

	stats := Stats{Innovations: make([]float64, n), SpatialDim: ibm.SpatialDim()}
	filtered := make([]*gauss.Normal, n)
	current := init
	for i, t := range locations {
		if err := ctx.Err(); err != nil {
			return nil, Stats{}, err
		}
		if i > 0 {
			current = ibm.Forward(filtered[i-1], t-locations[i-1])
		}
		for _, m := range stacks[i] {
			lin := m.Linearize(t, current.Mean())
			zero := mat.NewVecDense(lin.OutputDim(), nil)
			next, stat, err := lin.Condition(current, zero)
			if err != nil {
				return nil, Stats{}, errors.Wrapf(err, "conditioning at t=%g", t)
			}
			current = next
			stats.Innovations[i] += stat
		}
		if !current.IsValid() {
			return nil, Stats{}, errors.Wrapf(ErrNumerical, "filtered belief at t=%g", t)
		}
		filtered[i] = current
	}

	smoothed := make([]*gauss.Normal, n)
	smoothed[n-1] = filtered[n-1]
	for i := n - 2; i >= 0; i-- {
		smoothed[i] = ibm.Backward(smoothed[i+1], filtered[i], locations[i+1]-locations[i])
		if !smoothed[i].IsValid() {
			return nil, Stats{}, errors.Wrapf(ErrNumerical, "smoothed belief at t=%g", locations[i])
		}
	}

	locs := make([]float64, n)
	copy(locs, locations)
	return &Posterior{locations: locs, filtered: filtered, smoothed: smoothed, prior: ibm}, stats, nil
}

// Posterior is the smoothing posterior over a mesh. It is read-only.
type Posterior struct {
	locations []float64
	filtered  []*gauss.Normal
	smoothed  []*gauss.Normal
	prior     *prior.IBM
}

func (p *Posterior) Locations() []float64 { return p.locations }

// States returns the smoothed beliefs at the locations.
func (p *Posterior) States() []*gauss.Normal { return p.smoothed }

func (p *Posterior) Filtered() []*gauss.Normal { return p.filtered }

// Prior returns the prior, with the diffusion that produced the posterior.
func (p *Posterior) Prior() *prior.IBM { return p.prior }

// At returns the belief at t. Between locations it interpolates with one
// prediction and one smoothing step; outside the mesh it extrapolates with
// the prior.
func (p *Posterior) At(t float64) *gauss.Normal {
	n := len(p.locations)
	k := sort.SearchFloat64s(p.locations, t)
	switch {
	case k < n && p.locations[k] == t:
		return p.smoothed[k]
	case k == 0:
		return p.prior.Forward(p.smoothed[0], t-p.locations[0])
	case k == n:
		return p.prior.Forward(p.smoothed[n-1], t-p.locations[n-1])
	}
	left, right := p.locations[k-1], p.locations[k]
	pred := p.prior.Forward(p.filtered[k-1], t-left)
	return p.prior.Backward(p.smoothed[k], pred, right-t)
}

// Evaluate returns At for every entry of ts.
func (p *Posterior) Evaluate(ts []float64) []*gauss.Normal {
	out := make([]*gauss.Normal, len(ts))
	for i, t := range ts {
		out[i] = p.At(t)
	}
	return out
}

// Means returns the projections P·m of the beliefs at ts.
func (p *Posterior) Means(ts []float64, proj mat.Matrix) [][]float64 {
	out := make([][]float64, len(ts))
	for i, rv := range p.Evaluate(ts) {
		out[i] = mat.Col(nil, 0, rv.Project(proj))
	}
	return out
}
