package calib

import (
	"sync"
	"time"
)

// RunStatus summarizes the calibration loop for HTTP endpoints.
type RunStatus struct {
	Iteration    int       `json:"iteration"`
	Converged    bool      `json:"converged"`
	MaxStep      float64   `json:"maxStep"`
	LastSnapshot time.Time `json:"lastSnapshot,omitempty"`
	LastUpdate   time.Time `json:"lastUpdate,omitempty"`
}

// StateTracker tracks the latest snapshot, density vector, and run status
// for the HTTP and MQTT layers. All methods are safe for concurrent use;
// the calibration pass itself stays single-threaded.
type StateTracker struct {
	mu        sync.RWMutex
	snapshot  *Snapshot
	densities []float64
	status    RunStatus
}

// NewStateTracker creates an empty tracker.
func NewStateTracker() *StateTracker {
	return &StateTracker{}
}

// UpdateSnapshot stores the latest surface snapshot.
func (st *StateTracker) UpdateSnapshot(snap *Snapshot) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.snapshot = snap
	st.status.LastSnapshot = time.Now()
}

// Snapshot returns the latest snapshot, or nil if none arrived yet.
func (st *StateTracker) Snapshot() *Snapshot {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.snapshot
}

// HasSnapshot reports whether any snapshot has been received.
func (st *StateTracker) HasSnapshot() bool {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.snapshot != nil
}

// UpdateDensities stores the result of one calibration pass.
func (st *StateTracker) UpdateDensities(densities []float64, iteration int, maxStep float64, converged bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.densities = make([]float64, len(densities))
	copy(st.densities, densities)
	st.status.Iteration = iteration
	st.status.MaxStep = maxStep
	st.status.Converged = converged
	st.status.LastUpdate = time.Now()
}

// Densities returns a copy of the current density vector.
func (st *StateTracker) Densities() []float64 {
	st.mu.RLock()
	defer st.mu.RUnlock()
	out := make([]float64, len(st.densities))
	copy(out, st.densities)
	return out
}

// SetDensities seeds the density vector without touching run status.
func (st *StateTracker) SetDensities(densities []float64) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.densities = make([]float64, len(densities))
	copy(st.densities, densities)
}

// Status returns the current run status.
func (st *StateTracker) Status() RunStatus {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.status
}
