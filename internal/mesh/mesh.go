// Package mesh builds and refines the strictly increasing time grids the
// solver works on. Meshes are never modified in place.
package mesh

import (
	"math"
	"sort"

	"github.com/pkg/errors"
	"github.com/samber/lo"
	"gonum.org/v1/gonum/floats"
)

// ErrInvalid indicates a grid that is too short, unsorted or has repeated
// points.
var ErrInvalid = errors.New("mesh: grid must have at least two strictly increasing points")

// Validate checks that m is strictly increasing with at least two points.
func Validate(m []float64) error {
	if len(m) < 2 {
		return errors.Wrapf(ErrInvalid, "got %d points", len(m))
	}
	for i := 1; i < len(m); i++ {
		if !(m[i] > m[i-1]) {
			return errors.Wrapf(ErrInvalid, "m[%d]=%g, m[%d]=%g", i-1, m[i-1], i, m[i])
		}
	}
	return nil
}

// Linspace returns n equally spaced points from a to b inclusive.
func Linspace(a, b float64, n int) []float64 {
	if n < 2 {
		return []float64{a}
	}
	out := floats.Span(make([]float64, n), a, b)
	out[n-1] = b
	return out
}

// Union merges grids into one sorted grid without exact duplicates.
func Union(grids ...[]float64) []float64 {
	out := lo.Flatten(grids)
	sort.Float64s(out)
	return lo.Uniq(out)
}

// Widths returns the interval lengths m[i+1]-m[i].
func Widths(m []float64) []float64 {
	if len(m) < 2 {
		return nil
	}
	out := make([]float64, len(m)-1)
	floats.SubTo(out, m[1:], m[:len(m)-1])
	return out
}

// CandidateNodes places m[i] + offset·(m[i+1]-m[i]) for every offset in
// every interval i with where[i] set. A nil where selects all intervals.
// The result is sorted; offsets in (0, 1) keep it grouped by interval.
func CandidateNodes(m, offsets []float64, where []bool) []float64 {
	widths := Widths(m)
	out := make([]float64, 0, len(widths)*len(offsets))
	for i, w := range widths {
		if where != nil && !where[i] {
			continue
		}
		for _, o := range offsets {
			out = append(out, m[i]+o*w)
		}
	}
	return Union(out)
}

// Refine accepts the intervals whose scaled error is below one and inserts
// nodes into the others: the central quadrature node when the error is at
// most 3^rate, the outer two above that. NaN errors count as large. Once
// every interval is accepted the mesh is returned unchanged.
func Refine(m, errs []float64, rate float64, nodes [3]float64) ([]float64, []bool) {
	accepted := lo.Map(errs, func(e float64, _ int) bool { return e < 1 })
	if lo.EveryBy(accepted, func(ok bool) bool { return ok }) {
		return m, accepted
	}

	threshold := math.Pow(3, rate)
	one := make([]bool, len(errs))
	two := make([]bool, len(errs))
	for i, e := range errs {
		switch {
		case accepted[i]:
		case e <= threshold:
			one[i] = true
		default:
			two[i] = true
		}
	}
	left, central, right := nodes[0], nodes[1], nodes[2]
	return Union(
		m,
		CandidateNodes(m, []float64{central}, one),
		CandidateNodes(m, []float64{left, right}, two),
	), accepted
}

// Midpoints returns the interval centres.
func Midpoints(m []float64) []float64 {
	return CandidateNodes(m, []float64{0.5}, nil)
}

// SplitGrid returns m with every interval divided into thirds.
func SplitGrid(m []float64) []float64 {
	return Union(m, CandidateNodes(m, []float64{1.0 / 3, 2.0 / 3}, nil))
}

// InsertSinglePoints returns the interval midpoints and, for each of them,
// the width of the interval it came from.
func InsertSinglePoints(m []float64) ([]float64, []float64) {
	return Midpoints(m), Widths(m)
}

// InsertTwoPoints returns the interior third points and their parent widths.
func InsertTwoPoints(m []float64) ([]float64, []float64) {
	return CandidateNodes(m, []float64{1.0 / 3, 2.0 / 3}, nil), repeat(Widths(m), 2)
}

// InsertThreePoints returns the interior fifth points and their parent
// widths.
func InsertThreePoints(m []float64) ([]float64, []float64) {
	return CandidateNodes(m, []float64{0.2, 0.4, 0.6, 0.8}, nil), repeat(Widths(m), 4)
}

func repeat(xs []float64, k int) []float64 {
	out := make([]float64, 0, len(xs)*k)
	for _, x := range xs {
		for j := 0; j < k; j++ {
			out = append(out, x)
		}
	}
	return out
}
