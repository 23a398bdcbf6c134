// Package backend tracks the runtime side of each model: its lifecycle state,
// its health as observed by the prober, and the HTTP client used to forward
// requests to it.
package backend

import (
	"sync"
	"time"
)

// Phase is the lifecycle phase of one backend.
type Phase string

const (
	// PhaseStopped means the backend container is not running.
	PhaseStopped Phase = "stopped"
	// PhaseLoading means the container is up but the model is still loading.
	PhaseLoading Phase = "loading"
	// PhaseRunning means the backend is serving requests.
	PhaseRunning Phase = "running"
	// PhaseUnloading means a stop has been issued and is in progress.
	PhaseUnloading Phase = "unloading"
	// PhaseInsufficientGPURAM means the model could not fit in device memory.
	PhaseInsufficientGPURAM Phase = "insufficient_gpu_ram"
	// PhaseFailed means the container exited abnormally.
	PhaseFailed Phase = "failed"
)

// State is the tagged lifecycle record for one backend. Fields beyond Phase
// are meaningful only for the phases that set them.
type State struct {
	Phase Phase

	// StartedAt is when loading began (PhaseLoading).
	StartedAt time.Time

	// Since is when the backend became healthy (PhaseRunning).
	Since time.Time

	// Reason describes the failure (PhaseFailed).
	Reason string

	// DetectedAt, RequiredGB, and AvailableGB capture the memory shortfall
	// (PhaseInsufficientGPURAM).
	DetectedAt  time.Time
	RequiredGB  float64
	AvailableGB float64
}

// StateTable is the shared backend-state map. Reads take a read lock and
// return copies; writes are confined to the switch engine and the explicit
// start/stop handlers.
type StateTable struct {
	mu     sync.RWMutex
	states map[string]State
}

// NewStateTable seeds a table with every model in the stopped phase.
func NewStateTable(modelIDs []string) *StateTable {
	states := make(map[string]State, len(modelIDs))
	for _, id := range modelIDs {
		states[id] = State{Phase: PhaseStopped}
	}
	return &StateTable{states: states}
}

// Get returns the current state for a model id.
func (t *StateTable) Get(modelID string) State {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.states[modelID]
}

// Set replaces the state for a model id.
func (t *StateTable) Set(modelID string, state State) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.states[modelID] = state
}

// Snapshot returns a consistent copy of the whole table.
func (t *StateTable) Snapshot() map[string]State {
	t.mu.RLock()
	defer t.mu.RUnlock()
	snapshot := make(map[string]State, len(t.states))
	for id, state := range t.states {
		snapshot[id] = state
	}
	return snapshot
}
