package switchengine

import (
	"sort"

	"github.com/vramgate/vramgate/internal/registry"
)

// EvictionPolicy selects which running models to stop in order to free at
// least neededGB of device memory. The returned slice may fall short; the
// engine checks feasibility before acting. The target model is never among
// the candidates, and future policies (LRU, pinned models) plug in here.
type EvictionPolicy interface {
	SelectEvictees(candidates []*registry.ModelSpec, neededGB float64) []*registry.ModelSpec
}

// LargestFirst evicts the biggest resident models first, minimizing the
// number of stop operations.
type LargestFirst struct{}

// SelectEvictees implements EvictionPolicy.
func (LargestFirst) SelectEvictees(candidates []*registry.ModelSpec, neededGB float64) []*registry.ModelSpec {
	sorted := make([]*registry.ModelSpec, len(candidates))
	copy(sorted, candidates)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].ApproxWeightsGB > sorted[j].ApproxWeightsGB
	})

	var chosen []*registry.ModelSpec
	var freed float64
	for _, spec := range sorted {
		if freed >= neededGB {
			break
		}
		chosen = append(chosen, spec)
		freed += spec.VRAMEstimateGB
	}
	return chosen
}
