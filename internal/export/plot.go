// Package export renders stored solves to image files.
package export

import (
	"fmt"
	"image/color"

	"github.com/pkg/errors"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

var (
	meanColor = color.RGBA{R: 0, G: 150, B: 230, A: 255}
	bandColor = color.RGBA{R: 0, G: 150, B: 230, A: 60}
	meshColor = color.RGBA{R: 110, G: 110, B: 110, A: 255}
)

const (
	DefaultWidth  = 8 * vg.Inch
	DefaultHeight = 4 * vg.Inch
)

// Solution plots coordinate coord of the posterior mean with a band of two
// standard deviations. Mesh points, when given, are marked along the bottom
// of the band.
func Solution(title string, times []float64, means, stds [][]float64, coord int, mesh []float64) (*plot.Plot, error) {
	n := len(times)
	if n < 2 || len(means) != n || len(stds) != n {
		return nil, errors.Errorf("export: need matching times, means and stds, got %d/%d/%d", n, len(means), len(stds))
	}
	if coord < 0 || coord >= len(means[0]) {
		return nil, errors.Errorf("export: coordinate %d out of range [0, %d)", coord, len(means[0]))
	}

	mean := make(plotter.XYs, n)
	band := make(plotter.XYs, 2*n)
	lowest := means[0][coord]
	for i, t := range times {
		m, s := means[i][coord], 2*stds[i][coord]
		mean[i] = plotter.XY{X: t, Y: m}
		band[i] = plotter.XY{X: t, Y: m + s}
		band[2*n-1-i] = plotter.XY{X: t, Y: m - s}
		if m-s < lowest {
			lowest = m - s
		}
	}

	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "t"
	p.Y.Label.Text = fmt.Sprintf("y%d", coord)

	poly, err := plotter.NewPolygon(band)
	if err != nil {
		return nil, err
	}
	poly.Color = bandColor
	poly.LineStyle.Width = 0

	line, err := plotter.NewLine(mean)
	if err != nil {
		return nil, err
	}
	line.LineStyle.Color = meanColor
	line.LineStyle.Width = vg.Points(1.5)

	p.Add(poly, line)
	p.Legend.Add("mean", line)
	p.Legend.Add("± 2 std", poly)

	if len(mesh) > 0 {
		ticks := make(plotter.XYs, len(mesh))
		for i, t := range mesh {
			ticks[i] = plotter.XY{X: t, Y: lowest}
		}
		sc, err := plotter.NewScatter(ticks)
		if err != nil {
			return nil, err
		}
		sc.GlyphStyle.Color = meshColor
		sc.GlyphStyle.Radius = vg.Points(1.5)
		p.Add(sc)
		p.Legend.Add("mesh", sc)
	}
	p.Add(plotter.NewGrid())
	return p, nil
}

// Save writes p to path; the extension picks the format (svg, png, pdf, ...).
func Save(p *plot.Plot, path string) error {
	return errors.Wrapf(p.Save(DefaultWidth, DefaultHeight, path), "saving %s", path)
}
