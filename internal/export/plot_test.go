package export

import (
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func sine(n int) ([]float64, [][]float64, [][]float64) {
	times := make([]float64, n)
	means := make([][]float64, n)
	stds := make([][]float64, n)
	for i := range times {
		t := float64(i) / float64(n-1)
		times[i] = t
		means[i] = []float64{math.Sin(t), math.Cos(t)}
		stds[i] = []float64{1e-3, 2e-3}
	}
	return times, means, stds
}

func TestSolutionSVG(t *testing.T) {
	times, means, stds := sine(50)
	p, err := Solution("sine", times, means, stds, 1, []float64{0, 0.5, 1})
	if err != nil {
		t.Fatal(err)
	}
	if p.Title.Text != "sine" || p.Y.Label.Text != "y1" {
		t.Errorf("unexpected labels %q %q", p.Title.Text, p.Y.Label.Text)
	}

	path := filepath.Join(t.TempDir(), "sine.svg")
	if err := Save(p, path); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "<svg") {
		t.Error("expected svg output")
	}
}

func TestSolutionRejectsBadInput(t *testing.T) {
	times, means, stds := sine(10)
	if _, err := Solution("", times, means, stds, 2, nil); err == nil {
		t.Error("expected an error for an out-of-range coordinate")
	}
	if _, err := Solution("", times[:1], means[:1], stds[:1], 0, nil); err == nil {
		t.Error("expected an error for a single point")
	}
	if _, err := Solution("", times, means[:5], stds, 0, nil); err == nil {
		t.Error("expected an error for mismatched lengths")
	}
}

func TestSaveUnknownFormat(t *testing.T) {
	times, means, stds := sine(10)
	p, err := Solution("", times, means, stds, 0, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := Save(p, filepath.Join(t.TempDir(), "plot.unknown")); err == nil {
		t.Error("expected an error for an unsupported extension")
	}
}
