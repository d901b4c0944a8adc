package storage

import (
	"encoding/json"
	"io"
	"math"

	"github.com/san-kum/rdspiral/internal/metrics"
)

type ExportData struct {
	Run     RunMetadata      `json:"run"`
	Samples []metrics.Sample `json:"samples"`
}

// ExportJSON writes the metadata and statistics of a run as one JSON
// document. Non-finite samples have no JSON form and are left out.
func ExportJSON(w io.Writer, meta *RunMetadata, samples []metrics.Sample) error {
	data := ExportData{Run: *meta, Samples: make([]metrics.Sample, 0, len(samples))}
	for _, s := range samples {
		if s.IsFinite() && !math.IsNaN(s.Complexity) {
			data.Samples = append(data.Samples, s)
		}
	}
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(data)
}

// ExportRun exports a stored run by id.
func (s *Store) ExportRun(w io.Writer, runID string) error {
	meta, err := s.Load(runID)
	if err != nil {
		return err
	}
	samples, err := s.LoadStats(runID)
	if err != nil {
		return err
	}
	return ExportJSON(w, meta, samples)
}
