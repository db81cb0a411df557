package capability

import (
	"fmt"
	"sort"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"playline/internal/domain"
	"playline/internal/events"
)

const (
	reasonNoDefinition = "Capability definition not found"
	reasonNoProviders  = "No available providers"

	defaultCacheSize = 256
)

// ResolveContext describes one resolution request.
type ResolveContext struct {
	Required          []string          `json:"required"`
	PreferredProvider string            `json:"preferred_provider,omitempty"`
	Constraints       map[string]string `json:"constraints,omitempty"`
}

// Resolver matches required capabilities to providers. Results for an
// identical context are cached until the registry generation moves.
type Resolver struct {
	reg   *Registry
	bus   *events.Bus
	cache *lru.Cache[string, domain.ResolutionResult]
}

type ResolverOptions struct {
	Bus       *events.Bus
	CacheSize int

	// DisableCache turns resolution caching off entirely.
	DisableCache bool
}

func NewResolver(reg *Registry, opts ResolverOptions) *Resolver {
	bus := opts.Bus
	if bus == nil {
		bus = events.NewBus()
	}
	r := &Resolver{reg: reg, bus: bus}
	if !opts.DisableCache {
		size := opts.CacheSize
		if size <= 0 {
			size = defaultCacheSize
		}
		cache, err := lru.New[string, domain.ResolutionResult](size)
		if err == nil {
			r.cache = cache
		}
	}
	return r
}

// cacheKey folds the registry generation into the key so stale entries are
// never served; the LRU bound evicts them over time.
func (r *Resolver) cacheKey(ctx ResolveContext) string {
	var b strings.Builder
	fmt.Fprintf(&b, "g=%d;p=%s;req=%s", r.reg.Generation(), ctx.PreferredProvider, strings.Join(ctx.Required, ","))
	if len(ctx.Constraints) > 0 {
		keys := make([]string, 0, len(ctx.Constraints))
		for k := range ctx.Constraints {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, ";c:%s=%s", k, ctx.Constraints[k])
		}
	}
	return b.String()
}

// Resolve matches each required capability to a provider, then checks for
// providers overloaded beyond their availability.
func (r *Resolver) Resolve(ctx ResolveContext) domain.ResolutionResult {
	var key string
	if r.cache != nil {
		key = r.cacheKey(ctx)
		if cached, ok := r.cache.Get(key); ok {
			return cached
		}
	}

	result := domain.ResolutionResult{
		Success:  true,
		Resolved: map[string]domain.ResolvedCapability{},
	}
	for _, name := range ctx.Required {
		def, ok := r.reg.Capability(name)
		if !ok {
			result.Success = false
			result.Unresolved = append(result.Unresolved, domain.ResolutionConflict{
				Capability: name,
				Reason:     reasonNoDefinition,
			})
			continue
		}
		candidates := r.reg.providersFor(name)
		if len(candidates) == 0 {
			result.Success = false
			result.Unresolved = append(result.Unresolved, domain.ResolutionConflict{
				Capability: name,
				Reason:     reasonNoProviders,
			})
			continue
		}
		winner := pickProvider(candidates, ctx)
		result.Resolved[name] = domain.ResolvedCapability{Capability: def, Provider: winner}
	}

	// Overload check: a provider that is not always-available cannot serve
	// two or more capabilities of the same resolution.
	load := map[string]int{}
	for _, resolved := range result.Resolved {
		load[resolved.Provider.ID]++
	}
	for _, name := range ctx.Required {
		resolved, ok := result.Resolved[name]
		if !ok {
			continue
		}
		p := resolved.Provider
		if p.Availability != domain.AvailabilityAlways && load[p.ID] > 1 {
			result.Success = false
			result.Conflicts = append(result.Conflicts, domain.ResolutionConflict{
				Capability: name,
				Provider:   p.ID,
				Reason:     fmt.Sprintf("provider %s cannot handle multiple capabilities simultaneously", p.Name),
			})
		}
	}

	if r.cache != nil {
		r.cache.Add(key, result)
	}
	r.bus.Publish(events.Notification{
		Kind:       events.CapabilitiesResolved,
		EntityKind: "resolution",
		Payload:    result,
	})
	return result
}

// pickProvider applies the preferred-provider short circuit, then scores by
// availability and satisfied constraints. Candidates arrive in registration
// order, which breaks ties.
func pickProvider(candidates []domain.CapabilityProvider, ctx ResolveContext) domain.CapabilityProvider {
	if ctx.PreferredProvider != "" {
		for _, p := range candidates {
			if p.ID == ctx.PreferredProvider {
				return p
			}
		}
	}
	best := candidates[0]
	bestScore := providerScore(best, ctx.Constraints)
	for _, p := range candidates[1:] {
		if score := providerScore(p, ctx.Constraints); score > bestScore {
			best, bestScore = p, score
		}
	}
	return best
}

func providerScore(p domain.CapabilityProvider, constraints map[string]string) int {
	score := 0
	switch p.Availability {
	case domain.AvailabilityAlways:
		score += 3
	case domain.AvailabilityScheduled:
		score += 2
	case domain.AvailabilityOnDemand:
		score += 1
	}
	for k, want := range constraints {
		if p.Metadata[k] == want {
			score++
		}
	}
	return score
}

// ValidateCompatibility checks that a provided definition can stand in for
// a required one. Pre-flight only; not on the resolution hot path.
func ValidateCompatibility(required, provided domain.CapabilityDefinition) domain.CompatibilityResult {
	result := domain.CompatibilityResult{Compatible: true}
	providedInputs := fieldsByName(provided.Inputs)
	for _, field := range required.Inputs {
		got, ok := providedInputs[field.Name]
		if !ok {
			if field.Required {
				result.Compatible = false
				result.Issues = append(result.Issues, fmt.Sprintf("Missing required field: %s", field.Name))
			}
			continue
		}
		if got.Type != field.Type {
			result.Compatible = false
			result.Issues = append(result.Issues, fmt.Sprintf("Input type mismatch: %s", field.Name))
		}
	}
	providedOutputs := fieldsByName(provided.Outputs)
	for _, field := range required.Outputs {
		got, ok := providedOutputs[field.Name]
		if !ok {
			if field.Required {
				result.Compatible = false
				result.Issues = append(result.Issues, fmt.Sprintf("Missing required field: %s", field.Name))
			}
			continue
		}
		if got.Type != field.Type {
			result.Compatible = false
			result.Issues = append(result.Issues, fmt.Sprintf("Output type mismatch: %s", field.Name))
		}
	}
	return result
}

func fieldsByName(fields []domain.Field) map[string]domain.Field {
	out := make(map[string]domain.Field, len(fields))
	for _, f := range fields {
		out[f.Name] = f
	}
	return out
}
