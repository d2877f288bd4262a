package storage

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/pkg/errors"

	"github.com/san-kum/probbvp/internal/config"
	"github.com/san-kum/probbvp/internal/experiment"
)

const (
	metadataFile  = "metadata.json"
	configFile    = "config.yaml"
	posteriorFile = "posterior.csv"
	roundsFile    = "rounds.csv"
)

type Store struct {
	baseDir string
}

func New(baseDir string) *Store {
	return &Store{baseDir: baseDir}
}

func (s *Store) Init() error {
	return os.MkdirAll(s.baseDir, 0755)
}

type RunMetadata struct {
	ID           string    `json:"id"`
	Problem      string    `json:"problem"`
	Timestamp    time.Time `json:"timestamp"`
	Order        int       `json:"order"`
	Estimator    string    `json:"estimator"`
	ATol         float64   `json:"atol"`
	RTol         float64   `json:"rtol"`
	Converged    bool      `json:"converged"`
	Error        string    `json:"error,omitempty"`
	Rounds       int       `json:"rounds"`
	Mesh         []float64 `json:"mesh"`
	SigmaSquared float64   `json:"sigma_squared"`
	ElapsedMS    int64     `json:"elapsed_ms"`
	// Absent when the problem has no closed-form solution.
	ReferenceError *float64  `json:"reference_error,omitempty"`
	ShootingDefect     []float64 `json:"shooting_defect,omitempty"`
	MeshShootingDefect []float64 `json:"mesh_shooting_defect,omitempty"`
}

func newMetadata(id string, run *experiment.Run) RunMetadata {
	meta := RunMetadata{
		ID:             id,
		Problem:        run.Config.Problem,
		Timestamp:      time.Now(),
		Order:          run.Config.Order,
		Estimator:      run.Config.Estimator,
		ATol:           run.Config.ATol,
		RTol:           run.Config.RTol,
		Converged:      run.Converged,
		Rounds:         len(run.Rounds),
		Mesh:           run.Mesh,
		SigmaSquared:   run.SigmaSquared,
		ElapsedMS:      run.Elapsed.Milliseconds(),
		ShootingDefect: run.ShootingDefect,

		MeshShootingDefect: run.MeshShootingDefect,
	}
	if run.Err != nil {
		meta.Error = run.Err.Error()
	}
	if !math.IsNaN(run.ReferenceError) {
		v := run.ReferenceError
		meta.ReferenceError = &v
	}
	return meta
}

// Save writes a run directory holding the metadata, the config that
// produced it, the dense posterior and the per-round summaries.
func (s *Store) Save(run *experiment.Run) (string, error) {
	runID := fmt.Sprintf("%s_%d", run.Config.Problem, time.Now().UnixNano())
	runDir := filepath.Join(s.baseDir, runID)

	if err := os.MkdirAll(runDir, 0755); err != nil {
		return "", err
	}

	if err := writeJSON(filepath.Join(runDir, metadataFile), newMetadata(runID, run)); err != nil {
		return "", err
	}
	cfg := run.Config
	if err := config.Save(filepath.Join(runDir, configFile), &cfg); err != nil {
		return "", err
	}
	if err := writePosterior(filepath.Join(runDir, posteriorFile), run); err != nil {
		return "", errors.Wrap(err, "writing posterior")
	}
	if err := writeRounds(filepath.Join(runDir, roundsFile), run.Rounds); err != nil {
		return "", errors.Wrap(err, "writing rounds")
	}
	return runID, nil
}

func writeJSON(path string, v interface{}) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', 10, 64)
}

func writePosterior(path string, run *experiment.Run) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if len(run.Times) == 0 {
		w.Flush()
		return w.Error()
	}

	d := len(run.Means[0])
	header := []string{"time"}
	for i := 0; i < d; i++ {
		header = append(header, fmt.Sprintf("mean%d", i))
	}
	for i := 0; i < d; i++ {
		header = append(header, fmt.Sprintf("std%d", i))
	}
	if err := w.Write(header); err != nil {
		return err
	}

	for i, t := range run.Times {
		row := []string{formatFloat(t)}
		for _, v := range run.Means[i] {
			row = append(row, formatFloat(v))
		}
		for _, v := range run.Stds[i] {
			row = append(row, formatFloat(v))
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

func writeRounds(path string, rounds []experiment.RoundSummary) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	header := []string{"round", "mesh_size", "sigma_squared", "diffusion", "max_error", "accepted", "intervals"}
	if err := w.Write(header); err != nil {
		return err
	}
	for _, r := range rounds {
		row := []string{
			strconv.Itoa(r.Round),
			strconv.Itoa(r.MeshSize),
			formatFloat(r.SigmaSquared),
			formatFloat(r.Diffusion),
			formatFloat(r.MaxError),
			strconv.Itoa(r.Accepted),
			strconv.Itoa(r.Intervals),
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

// List returns the stored runs, oldest first.
func (s *Store) List() ([]RunMetadata, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []RunMetadata{}, nil
		}
		return nil, err
	}

	runs := make([]RunMetadata, 0)
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		meta, err := s.Load(entry.Name())
		if err != nil {
			continue
		}
		runs = append(runs, *meta)
	}
	sort.Slice(runs, func(i, j int) bool { return runs[i].Timestamp.Before(runs[j].Timestamp) })

	return runs, nil
}

func (s *Store) Load(runID string) (*RunMetadata, error) {
	data, err := os.ReadFile(filepath.Join(s.baseDir, runID, metadataFile))
	if err != nil {
		return nil, err
	}

	var meta RunMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, errors.Wrapf(err, "run %s", runID)
	}

	return &meta, nil
}

func (s *Store) LoadConfig(runID string) (*config.Config, error) {
	return config.Load(filepath.Join(s.baseDir, runID, configFile))
}

func readRecords(path string) ([][]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	r := csv.NewReader(file)
	r.FieldsPerRecord = -1
	return r.ReadAll()
}

func parseRow(record []string) ([]float64, error) {
	out := make([]float64, len(record))
	for i, field := range record {
		v, err := strconv.ParseFloat(field, 64)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// LoadPosterior returns the dense evaluation grid with its means and
// standard deviations.
func (s *Store) LoadPosterior(runID string) (times []float64, means, stds [][]float64, err error) {
	records, err := readRecords(filepath.Join(s.baseDir, runID, posteriorFile))
	if err != nil {
		return nil, nil, nil, err
	}
	if len(records) < 2 {
		return []float64{}, [][]float64{}, [][]float64{}, nil
	}

	d := (len(records[0]) - 1) / 2
	for _, record := range records[1:] {
		row, err := parseRow(record)
		if err != nil {
			return nil, nil, nil, errors.Wrapf(err, "run %s", runID)
		}
		if len(row) != 2*d+1 {
			return nil, nil, nil, errors.Errorf("run %s: posterior row has %d fields, want %d", runID, len(row), 2*d+1)
		}
		times = append(times, row[0])
		means = append(means, row[1:1+d])
		stds = append(stds, row[1+d:])
	}
	return times, means, stds, nil
}

func (s *Store) LoadRounds(runID string) ([]experiment.RoundSummary, error) {
	records, err := readRecords(filepath.Join(s.baseDir, runID, roundsFile))
	if err != nil {
		return nil, err
	}
	rounds := make([]experiment.RoundSummary, 0, len(records))
	for i := 1; i < len(records); i++ {
		row, err := parseRow(records[i])
		if err != nil || len(row) != 7 {
			return nil, errors.Errorf("run %s: malformed round %d", runID, i)
		}
		rounds = append(rounds, experiment.RoundSummary{
			Round:        int(row[0]),
			MeshSize:     int(row[1]),
			SigmaSquared: row[2],
			Diffusion:    row[3],
			MaxError:     row[4],
			Accepted:     int(row[5]),
			Intervals:    int(row[6]),
		})
	}
	return rounds, nil
}

// Export writes a stored run as a single JSON document.
func (s *Store) Export(runID string, w io.Writer) error {
	meta, err := s.Load(runID)
	if err != nil {
		return err
	}
	times, means, stds, err := s.LoadPosterior(runID)
	if err != nil {
		return err
	}
	rounds, err := s.LoadRounds(runID)
	if err != nil {
		return err
	}
	return ExportJSON(w, ExportData{
		RunMetadata: *meta,
		Times:       times,
		Means:       means,
		Stds:        stds,
		History:     rounds,
	})
}
