package storage

import (
	"encoding/json"
	"io"
	"os"

	"github.com/san-kum/probbvp/internal/experiment"
)

type ExportData struct {
	RunMetadata
	Times   []float64                 `json:"times"`
	Means   [][]float64               `json:"means"`
	Stds    [][]float64               `json:"stds"`
	History []experiment.RoundSummary `json:"history"`
}

// NewExportData packs a finished run without going through the store.
func NewExportData(run *experiment.Run) ExportData {
	return ExportData{
		RunMetadata: newMetadata("", run),
		Times:       run.Times,
		Means:       run.Means,
		Stds:        run.Stds,
		History:     run.Rounds,
	}
}

func ExportJSON(w io.Writer, data ExportData) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(data)
}

func ExportJSONFile(path string, data ExportData) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()
	return ExportJSON(file, data)
}
