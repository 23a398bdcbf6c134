// Package status produces the aggregated model-status view served on
// /v1/models/status. It joins the container runtime, the health prober, the
// model registry, and the GPU sampler into one snapshot per model; it never
// mutates backend state.
package status

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vramgate/vramgate/internal/backend"
	"github.com/vramgate/vramgate/internal/container"
	"github.com/vramgate/vramgate/internal/gpu"
	"github.com/vramgate/vramgate/internal/registry"
)

// ModelStatus is the per-model entry in the status payload.
type ModelStatus struct {
	Status                   string  `json:"status"`
	Health                   string  `json:"health"`
	SizeGB                   float64 `json:"size_gb"`
	Description              string  `json:"description"`
	EstimatedLoadTimeSeconds int     `json:"estimated_load_time_seconds"`
	GPUMemoryUsedGB          float64 `json:"gpu_memory_used_gb,omitempty"`
	DownloadedSize           string  `json:"downloaded_size,omitempty"`
}

// GPUStatus is the device-level entry in the status payload.
type GPUStatus struct {
	UsedGB      float64 `json:"used_gb"`
	TotalGB     float64 `json:"total_gb"`
	AvailableGB float64 `json:"available_gb"`
}

// Payload is the full /v1/models/status response body.
type Payload struct {
	Models map[string]ModelStatus `json:"models"`
	GPU    GPUStatus              `json:"gpu"`
}

// Aggregator joins registry, container runtime, prober, and GPU sampler into
// the client-visible status view.
type Aggregator struct {
	registry       *registry.Registry
	runtime        container.Runtime
	prober         *backend.Prober
	sampler        gpu.Sampler
	states         *backend.StateTable
	stuckThreshold time.Duration
}

// NewAggregator wires an aggregator from its collaborators.
func NewAggregator(reg *registry.Registry, runtime container.Runtime, prober *backend.Prober, sampler gpu.Sampler, states *backend.StateTable, stuckThreshold time.Duration) *Aggregator {
	return &Aggregator{
		registry:       reg,
		runtime:        runtime,
		prober:         prober,
		sampler:        sampler,
		states:         states,
		stuckThreshold: stuckThreshold,
	}
}

// Resolve computes the effective state and health of one model.
//
// Resolution order, highest priority first: a dead container wins, then a
// healthy running container, then the stuck-threshold decision between
// loading and insufficient GPU memory.
func (a *Aggregator) Resolve(ctx context.Context, spec *registry.ModelSpec) (backend.State, backend.Health) {
	return a.resolve(ctx, spec, func(baseURL string) backend.Health {
		return a.prober.Health(ctx, baseURL)
	})
}

// resolveCached is the non-blocking variant behind the status and readiness
// reads: health comes straight from the probe cache, with stale entries
// refreshed in the background. A status request never waits on a probe.
func (a *Aggregator) resolveCached(ctx context.Context, spec *registry.ModelSpec) (backend.State, backend.Health) {
	return a.resolve(ctx, spec, a.prober.HealthCached)
}

func (a *Aggregator) resolve(ctx context.Context, spec *registry.ModelSpec, probe func(string) backend.Health) (backend.State, backend.Health) {
	recorded := a.states.Get(spec.ID)

	inspection, err := a.runtime.Inspect(ctx, spec.ContainerHandle)
	if err != nil {
		log.Warnf("container inspect failed for %s: %v", spec.ContainerHandle, err)
		return backend.State{Phase: backend.PhaseStopped}, backend.HealthUnknown
	}

	switch inspection.State {
	case container.Failed:
		reason := inspection.ExitReason
		if reason == "" {
			reason = "container exited abnormally"
		}
		return backend.State{Phase: backend.PhaseFailed, Reason: reason}, backend.HealthUnknown
	case container.Exited, container.Absent:
		if recorded.Phase == backend.PhaseUnloading {
			return recorded, backend.HealthUnknown
		}
		return backend.State{Phase: backend.PhaseStopped}, backend.HealthUnknown
	}

	health := probe(spec.BackendBaseURL)

	if inspection.State == container.Running && health == backend.HealthHealthy {
		since := recorded.Since
		if since.IsZero() {
			since = inspection.StartedAt
		}
		return backend.State{Phase: backend.PhaseRunning, Since: since}, health
	}

	// Container is up (running or still starting) but the backend is not
	// serving yet. Past the stuck threshold, a recorded memory shortfall on
	// the last start attempt flips the verdict to insufficient GPU memory.
	loading := backend.State{
		Phase:       backend.PhaseLoading,
		StartedAt:   inspection.StartedAt,
		RequiredGB:  recorded.RequiredGB,
		AvailableGB: recorded.AvailableGB,
	}
	if inspection.State == container.Running && !inspection.StartedAt.IsZero() &&
		time.Since(inspection.StartedAt) > a.stuckThreshold {
		if recorded.RequiredGB > 0 && recorded.AvailableGB < recorded.RequiredGB {
			return backend.State{
				Phase:       backend.PhaseInsufficientGPURAM,
				DetectedAt:  time.Now(),
				RequiredGB:  recorded.RequiredGB,
				AvailableGB: recorded.AvailableGB,
			}, health
		}
	}
	return loading, health
}

// Status builds the full status payload. Health is read from the probe
// cache, never probed inline, so a hung backend cannot stall the endpoint.
func (a *Aggregator) Status(ctx context.Context) Payload {
	payload := Payload{Models: make(map[string]ModelStatus)}

	for _, spec := range a.registry.List() {
		state, health := a.resolveCached(ctx, spec)
		entry := ModelStatus{
			Status:                   string(state.Phase),
			Health:                   string(health),
			SizeGB:                   spec.ApproxWeightsGB,
			Description:              spec.Description,
			EstimatedLoadTimeSeconds: spec.ExpectedLoadSeconds,
			DownloadedSize:           fmt.Sprintf("%.1f GB", spec.ApproxWeightsGB),
		}
		if state.Phase == backend.PhaseRunning {
			entry.GPUMemoryUsedGB = spec.VRAMEstimateGB
		}
		payload.Models[spec.ID] = entry
	}

	snapshot, err := a.sampler.Sample(ctx)
	if err != nil {
		log.Warnf("gpu sample failed: %v", err)
	}
	payload.GPU = GPUStatus{
		UsedGB:      snapshot.UsedGB,
		TotalGB:     snapshot.TotalGB,
		AvailableGB: snapshot.AvailableGB,
	}
	return payload
}

// Ready reports whether at least one model is running and healthy. The
// gateway becomes ready as soon as the first backend does; it never waits
// for the full registry.
func (a *Aggregator) Ready(ctx context.Context) bool {
	for _, spec := range a.registry.List() {
		state, health := a.resolveCached(ctx, spec)
		if state.Phase == backend.PhaseRunning && health == backend.HealthHealthy {
			return true
		}
	}
	return false
}
