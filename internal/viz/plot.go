package viz

import (
	"fmt"
	"math"

	"github.com/guptarohit/asciigraph"
	"github.com/samber/lo"

	"github.com/san-kum/probbvp/internal/experiment"
)

const (
	plotWidth  = 80
	plotHeight = 12
)

// Solution plots one coordinate of the posterior mean with a two standard
// deviation band. The band collapses onto the mean when it is below the
// plot's resolution.
func Solution(times []float64, means, stds [][]float64, coord int) string {
	if len(times) == 0 || coord < 0 || coord >= len(means[0]) {
		return ""
	}
	mean := lo.Map(means, func(m []float64, _ int) float64 { return m[coord] })
	upper := make([]float64, len(mean))
	lower := make([]float64, len(mean))
	for i := range mean {
		upper[i] = mean[i] + 2*stds[i][coord]
		lower[i] = mean[i] - 2*stds[i][coord]
	}
	caption := fmt.Sprintf("y%d on [%.3g, %.3g] (mean ± 2 std)", coord, times[0], times[len(times)-1])
	return asciigraph.PlotMany([][]float64{lower, mean, upper},
		asciigraph.Height(plotHeight),
		asciigraph.Width(plotWidth),
		asciigraph.SeriesColors(asciigraph.DarkGray, asciigraph.Cyan, asciigraph.DarkGray),
		asciigraph.Caption(caption),
	)
}

// MeshGrowth plots the mesh size per refinement round.
func MeshGrowth(rounds []experiment.RoundSummary) string {
	if len(rounds) < 2 {
		return ""
	}
	sizes := lo.Map(rounds, func(r experiment.RoundSummary, _ int) float64 { return float64(r.MeshSize) })
	return asciigraph.Plot(sizes,
		asciigraph.Height(plotHeight/2),
		asciigraph.Width(plotWidth),
		asciigraph.Precision(0),
		asciigraph.Caption("mesh size per round"),
	)
}

// ErrorHistory plots log10 of the largest per-interval error per round.
func ErrorHistory(rounds []experiment.RoundSummary) string {
	if len(rounds) < 2 {
		return ""
	}
	return asciigraph.Plot(logErrors(rounds),
		asciigraph.Height(plotHeight/2),
		asciigraph.Width(plotWidth),
		asciigraph.Caption("log10 max error per round"),
	)
}

func logErrors(rounds []experiment.RoundSummary) []float64 {
	return lo.Map(rounds, func(r experiment.RoundSummary, _ int) float64 {
		if !(r.MaxError > 0) || math.IsInf(r.MaxError, 0) {
			return 0
		}
		return math.Log10(r.MaxError)
	})
}
