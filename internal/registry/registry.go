// Package registry holds the static model registry for the vramgate server.
// The registry is seeded once from configuration at startup and is immutable
// for the lifetime of the process; every other subsystem (routing, status,
// switching) resolves model ids against it.
package registry

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/vramgate/vramgate/internal/config"
)

// ModelSpec describes one model managed by the gateway. Instances are
// immutable after construction.
type ModelSpec struct {
	// ID is the stable identifier used as the "model" value in the API.
	ID string

	// BackendBaseURL is the base URL of the backend's OpenAI-compatible API.
	BackendBaseURL string

	// ContainerHandle is the name passed to the container runtime.
	ContainerHandle string

	// OnDiskPath is where the model weights live.
	OnDiskPath string

	// ApproxWeightsGB is the on-disk weight size in gibibytes.
	ApproxWeightsGB float64

	// VRAMEstimateGB is the predicted resident GPU memory once running.
	VRAMEstimateGB float64

	// ExpectedLoadSeconds is how long the backend usually takes to go healthy.
	ExpectedLoadSeconds int

	// Description is a human-readable summary.
	Description string
}

// Registry is the process-lifetime table of model specs.
type Registry struct {
	specs   map[string]*ModelSpec
	ordered []*ModelSpec
	created int64
}

// New builds a registry from the configured model list. The VRAM estimate for
// each model is weights multiplied by the configured utilization fraction.
func New(cfg *config.Config) (*Registry, error) {
	r := &Registry{
		specs:   make(map[string]*ModelSpec, len(cfg.Models)),
		created: time.Now().Unix(),
	}
	for i := range cfg.Models {
		m := &cfg.Models[i]
		if _, exists := r.specs[m.ID]; exists {
			return nil, fmt.Errorf("duplicate model id: %s", m.ID)
		}
		spec := &ModelSpec{
			ID:                  m.ID,
			BackendBaseURL:      strings.TrimSuffix(m.BackendURL, "/"),
			ContainerHandle:     m.Container,
			OnDiskPath:          m.Path,
			ApproxWeightsGB:     m.WeightsGB,
			VRAMEstimateGB:      m.WeightsGB * cfg.GPUMemoryUtilization,
			ExpectedLoadSeconds: m.LoadSeconds,
			Description:         m.Description,
		}
		r.specs[m.ID] = spec
		r.ordered = append(r.ordered, spec)
	}
	sort.Slice(r.ordered, func(i, j int) bool { return r.ordered[i].ID < r.ordered[j].ID })
	return r, nil
}

// Get resolves a model id. The boolean reports whether the id is known.
func (r *Registry) Get(id string) (*ModelSpec, bool) {
	spec, ok := r.specs[id]
	return spec, ok
}

// List returns all specs in stable (id-sorted) order.
func (r *Registry) List() []*ModelSpec {
	return r.ordered
}

// IDs returns all model ids in stable order.
func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.ordered))
	for _, spec := range r.ordered {
		ids = append(ids, spec.ID)
	}
	return ids
}

// Created reports the registry creation time, used as the "created" value in
// OpenAI model listings.
func (r *Registry) Created() int64 {
	return r.created
}
