package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
)

// ErrNoWorker indicates no healthy variant exists for a capability.
var ErrNoWorker = errors.New("engine: no healthy worker for capability")

// Variant is one registered implementation of a capability. Higher tiers are
// preferred; a nil health check means always healthy.
type Variant struct {
	WorkerName string
	Tier       string
	Priority   int
	Healthy    func(ctx context.Context) bool
}

// Registry maps capabilities to their ordered variants. It is immutable
// after construction: build one per process and pass it in explicitly.
type Registry struct {
	variants map[string][]Variant
}

// NewRegistry builds an immutable registry. Variants for each capability
// are ordered by descending priority.
func NewRegistry(capabilities map[string][]Variant) (*Registry, error) {
	variants := make(map[string][]Variant, len(capabilities))
	for capability, vs := range capabilities {
		if len(vs) == 0 {
			return nil, fmt.Errorf("engine: capability %q has no variants", capability)
		}
		for _, v := range vs {
			if v.WorkerName == "" {
				return nil, fmt.Errorf("engine: capability %q has a variant without a worker name", capability)
			}
		}
		ordered := append([]Variant(nil), vs...)
		sort.SliceStable(ordered, func(i, j int) bool {
			return ordered[i].Priority > ordered[j].Priority
		})
		variants[capability] = ordered
	}
	return &Registry{variants: variants}, nil
}

// Select returns the highest-priority variant whose dependencies are
// currently healthy. Selection is a pure function of the registry and the
// health checks' answers; unhealthy tiers fall through to the next so
// progress continues when enhanced capabilities are degraded.
func (r *Registry) Select(ctx context.Context, capability string) (Variant, error) {
	vs, ok := r.variants[capability]
	if !ok {
		return Variant{}, fmt.Errorf("engine: unknown capability %q: %w", capability, ErrNoWorker)
	}
	for _, v := range vs {
		if v.Healthy == nil || v.Healthy(ctx) {
			return v, nil
		}
	}
	return Variant{}, fmt.Errorf("engine: capability %q: %w", capability, ErrNoWorker)
}

// Capabilities lists the registered capability names, sorted.
func (r *Registry) Capabilities() []string {
	out := make([]string, 0, len(r.variants))
	for c := range r.variants {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// DefaultRegistry registers a memory-enhanced and a basic variant for every
// phase capability. healthy gates the enhanced tier; the basic tier is
// always available.
func DefaultRegistry(healthy func(ctx context.Context) bool) (*Registry, error) {
	capabilities := make(map[string][]Variant, len(phaseOrder))
	for _, phase := range phaseOrder {
		capability := phase.Capability()
		capabilities[capability] = []Variant{
			{
				WorkerName: capability + "-memory-enhanced",
				Tier:       "memory-enhanced",
				Priority:   100,
				Healthy:    healthy,
			},
			{
				WorkerName: capability + "-basic",
				Tier:       "basic",
				Priority:   10,
			},
		}
	}
	return NewRegistry(capabilities)
}
