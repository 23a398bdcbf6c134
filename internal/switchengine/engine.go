// Package switchengine implements the smart model switch: deciding which
// resident models to evict, stopping them, starting the target backend, and
// waiting for it to become healthy, all under a global mutex so VRAM
// arithmetic never interleaves.
package switchengine

import (
	"context"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/vramgate/vramgate/internal/backend"
	"github.com/vramgate/vramgate/internal/container"
	"github.com/vramgate/vramgate/internal/gpu"
	"github.com/vramgate/vramgate/internal/registry"
	"github.com/vramgate/vramgate/internal/status"
)

// Outcome statuses.
const (
	StatusSuccess       = "success"
	StatusAlreadyLoaded = "already_loaded"
	StatusTimeout       = "timeout"
	StatusError         = "error"
)

// Outcome error codes.
const (
	CodeInsufficientMemory = "insufficient_memory"
	CodeSwitchInProgress   = "switch_in_progress"
	CodeSwitchFailed       = "switch_failed"
)

// Outcome is the result of one switch operation.
type Outcome struct {
	Status                   string   `json:"status"`
	Code                     string   `json:"code,omitempty"`
	Message                  string   `json:"message,omitempty"`
	Note                     string   `json:"note,omitempty"`
	UnloadedModels           []string `json:"unloaded_models,omitempty"`
	EstimatedLoadTimeSeconds int      `json:"estimated_load_time_seconds,omitempty"`
	RequiredGB               float64  `json:"required_gb,omitempty"`
	AvailableGB              float64  `json:"available_gb,omitempty"`
	AchievableGB             float64  `json:"achievable_gb,omitempty"`
}

// Engine owns backend state transitions. Concurrent switches for the same
// target coalesce onto one in-flight operation; a switch for a different
// target while one is running is rejected rather than queued, because the
// caller is better served by a prompt 409 than by an unbounded wait.
type Engine struct {
	registry   *registry.Registry
	runtime    container.Runtime
	sampler    gpu.Sampler
	aggregator *status.Aggregator
	prober     *backend.Prober
	states     *backend.StateTable
	policy     EvictionPolicy

	group      singleflight.Group
	mu         sync.Mutex // guards inFlight
	inFlight   string
	switchLock sync.Mutex // serializes VRAM arithmetic and container operations

	// Tunable in tests.
	settleSleep  time.Duration
	pollInterval time.Duration
	minDeadline  time.Duration
}

// NewEngine wires a switch engine from its collaborators.
func NewEngine(reg *registry.Registry, runtime container.Runtime, sampler gpu.Sampler, aggregator *status.Aggregator, prober *backend.Prober, states *backend.StateTable) *Engine {
	return &Engine{
		registry:     reg,
		runtime:      runtime,
		sampler:      sampler,
		aggregator:   aggregator,
		prober:       prober,
		states:       states,
		policy:       LargestFirst{},
		settleSleep:  1 * time.Second,
		pollInterval: 3 * time.Second,
		minDeadline:  120 * time.Second,
	}
}

// Switch makes the target model resident, evicting others if needed.
func (e *Engine) Switch(ctx context.Context, targetModel string) (Outcome, error) {
	spec, ok := e.registry.Get(targetModel)
	if !ok {
		return Outcome{}, fmt.Errorf("model not found: %s", targetModel)
	}

	result, err, _ := e.group.Do(targetModel, func() (interface{}, error) {
		if !e.acquire(targetModel) {
			return Outcome{
				Status:  StatusError,
				Code:    CodeSwitchInProgress,
				Message: fmt.Sprintf("a switch to %q is already in progress", e.currentTarget()),
			}, nil
		}
		defer e.release()

		e.switchLock.Lock()
		defer e.switchLock.Unlock()
		return e.doSwitch(ctx, spec), nil
	})
	if err != nil {
		return Outcome{}, err
	}
	return result.(Outcome), nil
}

func (e *Engine) acquire(target string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.inFlight != "" && e.inFlight != target {
		return false
	}
	e.inFlight = target
	return true
}

func (e *Engine) release() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.inFlight = ""
}

func (e *Engine) currentTarget() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.inFlight
}

func (e *Engine) doSwitch(ctx context.Context, spec *registry.ModelSpec) Outcome {
	if state, health := e.aggregator.Resolve(ctx, spec); state.Phase == backend.PhaseRunning && health == backend.HealthHealthy {
		return Outcome{Status: StatusAlreadyLoaded}
	}

	required := spec.VRAMEstimateGB
	available := e.sampleAvailable(ctx)
	log.Infof("switch to %s: required=%.1fGB available=%.1fGB", spec.ID, required, available)

	var evicted []string
	if available < required {
		candidates := e.runningExcept(ctx, spec.ID)
		evictees := e.policy.SelectEvictees(candidates, required-available)

		achievable := available
		for _, candidate := range candidates {
			achievable += candidate.VRAMEstimateGB
		}
		var freed float64
		for _, evictee := range evictees {
			freed += evictee.VRAMEstimateGB
		}
		if available+freed < required {
			log.Warnf("switch to %s infeasible: required=%.1fGB achievable=%.1fGB", spec.ID, required, achievable)
			return Outcome{
				Status:       StatusError,
				Code:         CodeInsufficientMemory,
				Message:      fmt.Sprintf("cannot free enough GPU memory for %s", spec.ID),
				RequiredGB:   required,
				AvailableGB:  available,
				AchievableGB: achievable,
			}
		}

		for _, evictee := range evictees {
			if err := e.stopModel(ctx, evictee); err != nil {
				return Outcome{
					Status:  StatusError,
					Code:    CodeSwitchFailed,
					Message: fmt.Sprintf("failed to evict %s: %v", evictee.ID, err),
				}
			}
			evicted = append(evicted, evictee.ID)
			// Give the driver a moment to release the freed memory before the
			// next stop or the start.
			e.sleep(ctx, e.settleSleep)
		}
		available = e.sampleAvailable(ctx)
	}

	e.states.Set(spec.ID, backend.State{
		Phase:       backend.PhaseLoading,
		StartedAt:   time.Now(),
		RequiredGB:  required,
		AvailableGB: available,
	})
	if err := e.runtime.Start(ctx, spec.ContainerHandle); err != nil {
		e.states.Set(spec.ID, backend.State{Phase: backend.PhaseFailed, Reason: err.Error()})
		return Outcome{
			Status:  StatusError,
			Code:    CodeSwitchFailed,
			Message: fmt.Sprintf("failed to start %s: %v", spec.ID, err),
		}
	}

	outcome := e.waitForHealthy(ctx, spec)
	if outcome.Status == StatusSuccess {
		outcome.UnloadedModels = evicted
		outcome.EstimatedLoadTimeSeconds = spec.ExpectedLoadSeconds
	}
	return outcome
}

// waitForHealthy polls the aggregated state until the target is running and
// healthy, the container dies, or the deadline expires.
func (e *Engine) waitForHealthy(ctx context.Context, spec *registry.ModelSpec) Outcome {
	deadline := e.minDeadline
	if expected := time.Duration(spec.ExpectedLoadSeconds) * 2 * time.Second; expected > deadline {
		deadline = expected
	}
	waitCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	for {
		state, health := e.aggregator.Resolve(waitCtx, spec)
		switch state.Phase {
		case backend.PhaseRunning:
			if health == backend.HealthHealthy {
				e.states.Set(spec.ID, backend.State{Phase: backend.PhaseRunning, Since: time.Now()})
				log.Infof("switch to %s complete", spec.ID)
				return Outcome{Status: StatusSuccess}
			}
		case backend.PhaseFailed:
			e.states.Set(spec.ID, state)
			return Outcome{
				Status:  StatusError,
				Code:    CodeSwitchFailed,
				Message: fmt.Sprintf("backend %s failed during load: %s", spec.ID, state.Reason),
			}
		case backend.PhaseInsufficientGPURAM:
			e.states.Set(spec.ID, state)
			return Outcome{
				Status:      StatusError,
				Code:        CodeInsufficientMemory,
				Message:     fmt.Sprintf("backend %s ran out of GPU memory during load", spec.ID),
				RequiredGB:  state.RequiredGB,
				AvailableGB: state.AvailableGB,
			}
		}

		select {
		case <-waitCtx.Done():
			// Still loading at the deadline. The backend keeps going; the
			// caller should watch /v1/models/status rather than retry.
			return Outcome{
				Status: StatusTimeout,
				Note:   "backend still processing; poll /v1/models/status",
			}
		case <-time.After(e.pollInterval):
		}
	}
}

// StartModel explicitly starts one backend without any eviction.
func (e *Engine) StartModel(ctx context.Context, modelID string) error {
	spec, ok := e.registry.Get(modelID)
	if !ok {
		return fmt.Errorf("model not found: %s", modelID)
	}
	e.switchLock.Lock()
	defer e.switchLock.Unlock()

	available := e.sampleAvailable(ctx)
	e.states.Set(spec.ID, backend.State{
		Phase:       backend.PhaseLoading,
		StartedAt:   time.Now(),
		RequiredGB:  spec.VRAMEstimateGB,
		AvailableGB: available,
	})
	if err := e.runtime.Start(ctx, spec.ContainerHandle); err != nil {
		e.states.Set(spec.ID, backend.State{Phase: backend.PhaseFailed, Reason: err.Error()})
		return err
	}
	return nil
}

// StopModel explicitly stops one backend.
func (e *Engine) StopModel(ctx context.Context, modelID string) error {
	spec, ok := e.registry.Get(modelID)
	if !ok {
		return fmt.Errorf("model not found: %s", modelID)
	}
	e.switchLock.Lock()
	defer e.switchLock.Unlock()
	return e.stopModel(ctx, spec)
}

func (e *Engine) stopModel(ctx context.Context, spec *registry.ModelSpec) error {
	e.states.Set(spec.ID, backend.State{Phase: backend.PhaseUnloading})
	if err := e.runtime.Stop(ctx, spec.ContainerHandle); err != nil {
		e.states.Set(spec.ID, backend.State{Phase: backend.PhaseFailed, Reason: err.Error()})
		return err
	}
	e.states.Set(spec.ID, backend.State{Phase: backend.PhaseStopped})
	e.prober.Invalidate(spec.BackendBaseURL)
	return nil
}

// runningExcept lists the specs of currently running models, excluding the
// switch target. The target is never an eviction candidate.
func (e *Engine) runningExcept(ctx context.Context, targetID string) []*registry.ModelSpec {
	var running []*registry.ModelSpec
	for _, spec := range e.registry.List() {
		if spec.ID == targetID {
			continue
		}
		if state, _ := e.aggregator.Resolve(ctx, spec); state.Phase == backend.PhaseRunning {
			running = append(running, spec)
		}
	}
	return running
}

// sampleAvailable samples the GPU, treating any failure as zero available
// memory so the engine errs toward eviction rather than overcommit.
func (e *Engine) sampleAvailable(ctx context.Context) float64 {
	snapshot, err := e.sampler.Sample(ctx)
	if err != nil {
		log.Warnf("gpu sample failed, assuming no free memory: %v", err)
		return 0
	}
	return snapshot.AvailableGB
}

func (e *Engine) sleep(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}
