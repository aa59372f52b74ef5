package calib

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Snapshot is one surface measurement pass: per-segment means for both
// channels, 0-indexed by segment-1. It satisfies SurfaceData and is
// treated as immutable while a Collection.Update call runs.
type Snapshot struct {
	Source            string    `json:"source,omitempty"`
	Taken             time.Time `json:"taken,omitempty"`
	PtPMeanPerSegment []float64 `json:"ptpMeanPerSegment"`
	LATMeanPerSegment []float64 `json:"latMeanPerSegment"`
}

// PtPMean implements SurfaceData.
func (s *Snapshot) PtPMean() []float64 { return s.PtPMeanPerSegment }

// LATMean implements SurfaceData.
func (s *Snapshot) LATMean() []float64 { return s.LATMeanPerSegment }

// SegmentCount returns the shorter of the two per-segment arrays, the
// number of segments the snapshot can serve for both channels.
func (s *Snapshot) SegmentCount() int {
	n := len(s.PtPMeanPerSegment)
	if len(s.LATMeanPerSegment) < n {
		n = len(s.LATMeanPerSegment)
	}
	return n
}

// Validate checks the snapshot covers every segment up to maxSegment.
func (s *Snapshot) Validate(maxSegment int) error {
	if len(s.PtPMeanPerSegment) < maxSegment {
		return fmt.Errorf("snapshot covers %d PtP segments, need %d",
			len(s.PtPMeanPerSegment), maxSegment)
	}
	if len(s.LATMeanPerSegment) < maxSegment {
		return fmt.Errorf("snapshot covers %d LAT segments, need %d",
			len(s.LATMeanPerSegment), maxSegment)
	}
	return nil
}

// ParseSnapshot decodes a snapshot from raw JSON (file or MQTT payload).
func ParseSnapshot(data []byte) (*Snapshot, error) {
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("parsing snapshot: %w", err)
	}
	return &snap, nil
}

// LoadSnapshot loads a snapshot from a JSON file. A missing file returns
// (nil, nil) so callers can fall back to waiting for live data.
func LoadSnapshot(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading snapshot file: %w", err)
	}
	return ParseSnapshot(data)
}

// SaveSnapshot writes a snapshot to a JSON file, creating the directory
// if needed. The Taken timestamp is refreshed if unset.
func SaveSnapshot(path string, snap *Snapshot) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating snapshot directory: %w", err)
	}
	if snap.Taken.IsZero() {
		snap.Taken = time.Now()
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling snapshot: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing snapshot file: %w", err)
	}
	return nil
}

// DensityVector persistence uses the same JSON file convention.
type densityFile struct {
	Densities []float64 `json:"densities"`
	Updated   time.Time `json:"updated,omitempty"`
}

// LoadDensities loads a density vector from a JSON file.
func LoadDensities(path string) ([]float64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading densities file: %w", err)
	}
	var df densityFile
	if err := json.Unmarshal(data, &df); err != nil {
		return nil, fmt.Errorf("parsing densities file: %w", err)
	}
	return df.Densities, nil
}

// SaveDensities writes a density vector to a JSON file.
func SaveDensities(path string, densities []float64) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating densities directory: %w", err)
	}
	data, err := json.MarshalIndent(densityFile{Densities: densities, Updated: time.Now()}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling densities: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing densities file: %w", err)
	}
	return nil
}
