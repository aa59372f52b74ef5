package calib

import (
	"context"
	"fmt"
	"log"
	"math"
	"time"
)

// SnapshotProvider produces the surface snapshot for the next iteration,
// given the density vector the measurement should be taken under. In
// production this is backed by the measurement pipeline (MQTT or a
// simulation run); tests and offline runs use file- or slice-backed
// providers.
type SnapshotProvider interface {
	Next(ctx context.Context, densities []float64) (*Snapshot, error)
}

// SnapshotProviderFunc adapts a function to the SnapshotProvider interface.
type SnapshotProviderFunc func(ctx context.Context, densities []float64) (*Snapshot, error)

func (f SnapshotProviderFunc) Next(ctx context.Context, densities []float64) (*Snapshot, error) {
	return f(ctx, densities)
}

// Iteration is the outcome of one whole-collection update pass.
type Iteration struct {
	Index     int       `json:"index"`
	MaxStep   float64   `json:"maxStep"`
	Converged bool      `json:"converged"`
	Densities []float64 `json:"densities"`
	Records   []Record  `json:"records,omitempty"`
	Taken     time.Time `json:"taken"`
}

// SessionResult is the outcome of a full fixed-point run.
type SessionResult struct {
	Densities  []float64   `json:"densities"`
	Iterations []Iteration `json:"iterations"`
	Converged  bool        `json:"converged"`
}

// Session drives the fixed-point calibration loop around a Collection:
// measure, update every unit, repeat until the largest density step falls
// below the collection's tolerance or MaxIterations is hit.
type Session struct {
	Collection    *Collection
	Provider      SnapshotProvider
	MaxIterations int

	// Optional collaborators; nil disables them.
	Store   *Store
	Metrics *Metrics
	Tracker *StateTracker

	recorder *RecordingObserver
}

// NewSession wires a session around a collection and a provider.
// The session installs its own recording observer next to whatever
// observer the collection already carries.
func NewSession(collection *Collection, provider SnapshotProvider, maxIterations int) *Session {
	if maxIterations <= 0 {
		maxIterations = 30
	}
	s := &Session{
		Collection:    collection,
		Provider:      provider,
		MaxIterations: maxIterations,
		recorder:      &RecordingObserver{},
	}
	if collection.observer != nil {
		collection.observer = MultiObserver{collection.observer, s.recorder}
	} else {
		collection.observer = s.recorder
	}
	return s
}

// Run iterates the collection until convergence or MaxIterations.
// The initial density vector is never mutated.
func (s *Session) Run(ctx context.Context, initial []float64) (*SessionResult, error) {
	densities := make([]float64, len(initial))
	copy(densities, initial)

	var runID int64
	if s.Store != nil {
		id, err := s.Store.BeginRun(ctx, s.Collection.Segments(), s.Collection.Channels(), s.Collection.DensityStepTol())
		if err != nil {
			return nil, fmt.Errorf("recording run start: %w", err)
		}
		runID = id
	}

	result := &SessionResult{}
	for i := 1; i <= s.MaxIterations; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		snap, err := s.Provider.Next(ctx, densities)
		if err != nil {
			return nil, fmt.Errorf("iteration %d: acquiring snapshot: %w", i, err)
		}
		if err := snap.Validate(s.Collection.MaxSegment()); err != nil {
			return nil, fmt.Errorf("iteration %d: %w", i, err)
		}

		s.recorder.Reset()
		next, err := s.Collection.Update(densities, snap)
		if err != nil {
			if s.Metrics != nil {
				s.Metrics.IncErrors()
			}
			return nil, fmt.Errorf("iteration %d: %w", i, err)
		}

		maxStep := MaxDensityStep(densities, next)
		converged := maxStep < s.Collection.DensityStepTol()

		iter := Iteration{
			Index:     i,
			MaxStep:   maxStep,
			Converged: converged,
			Densities: next,
			Records:   append([]Record(nil), s.recorder.Records...),
			Taken:     time.Now(),
		}
		result.Iterations = append(result.Iterations, iter)
		densities = next

		if s.Metrics != nil {
			s.Metrics.ObserveIteration(maxStep, converged, len(iter.Records))
		}
		if s.Tracker != nil {
			s.Tracker.UpdateSnapshot(snap)
			s.Tracker.UpdateDensities(densities, i, maxStep, converged)
		}
		if s.Store != nil {
			if err := s.Store.RecordIteration(ctx, runID, iter); err != nil {
				// History is best-effort; the calibration result stands.
				log.Printf("recording iteration %d: %v", i, err)
			}
		}

		if converged {
			result.Converged = true
			break
		}
	}

	result.Densities = densities
	if s.Store != nil {
		if err := s.Store.FinishRun(ctx, runID, result.Converged, len(result.Iterations)); err != nil {
			log.Printf("recording run finish: %v", err)
		}
	}
	return result, nil
}

// Step performs a single measure-and-update pass without the loop,
// for callers that own their own iteration (e.g. the MQTT serve mode
// where each incoming snapshot triggers one pass).
func (s *Session) Step(densities []float64, snap *Snapshot) ([]float64, float64, error) {
	if err := snap.Validate(s.Collection.MaxSegment()); err != nil {
		return nil, 0, err
	}
	s.recorder.Reset()
	next, err := s.Collection.Update(densities, snap)
	if err != nil {
		if s.Metrics != nil {
			s.Metrics.IncErrors()
		}
		return nil, 0, err
	}
	return next, MaxDensityStep(densities, next), nil
}

// Records returns the diagnostic records of the most recent pass.
func (s *Session) Records() []Record {
	return append([]Record(nil), s.recorder.Records...)
}

// MaxDensityStep returns the largest absolute per-segment change between
// two density vectors of equal length.
func MaxDensityStep(old, new []float64) float64 {
	maxStep := 0.0
	for i := range old {
		step := math.Abs(new[i] - old[i])
		if step > maxStep {
			maxStep = step
		}
	}
	return maxStep
}
