// Package capability holds the registry of capability and responsibility
// definitions and their providers, plus the resolver that matches required
// capabilities to providers.
package capability

import (
	"sync"
	"sync/atomic"

	"playline/internal/domain"
)

// Registry is process-wide shared state. Every registration bumps the
// generation counter, which invalidates cached resolutions.
type Registry struct {
	mu sync.RWMutex

	caps      map[string]domain.CapabilityDefinition
	capOrder  []string
	resps     map[string]domain.ResponsibilityDefinition
	respOrder []string

	providers     map[string]domain.CapabilityProvider
	providerOrder []string

	generation atomic.Uint64
}

func NewRegistry() *Registry {
	return &Registry{
		caps:      make(map[string]domain.CapabilityDefinition),
		resps:     make(map[string]domain.ResponsibilityDefinition),
		providers: make(map[string]domain.CapabilityProvider),
	}
}

func (r *Registry) RegisterCapability(def domain.CapabilityDefinition) {
	r.mu.Lock()
	if _, exists := r.caps[def.Name]; !exists {
		r.capOrder = append(r.capOrder, def.Name)
	}
	r.caps[def.Name] = def
	r.mu.Unlock()
	r.generation.Add(1)
}

func (r *Registry) RegisterResponsibility(def domain.ResponsibilityDefinition) {
	r.mu.Lock()
	if _, exists := r.resps[def.Name]; !exists {
		r.respOrder = append(r.respOrder, def.Name)
	}
	r.resps[def.Name] = def
	r.mu.Unlock()
	r.generation.Add(1)
}

func (r *Registry) RegisterProvider(p domain.CapabilityProvider) {
	r.mu.Lock()
	if _, exists := r.providers[p.ID]; !exists {
		r.providerOrder = append(r.providerOrder, p.ID)
	}
	r.providers[p.ID] = p
	r.mu.Unlock()
	r.generation.Add(1)
}

// Generation returns the current registration generation.
func (r *Registry) Generation() uint64 { return r.generation.Load() }

func (r *Registry) Capability(name string) (domain.CapabilityDefinition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.caps[name]
	return def, ok
}

func (r *Registry) Responsibility(name string) (domain.ResponsibilityDefinition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.resps[name]
	return def, ok
}

func (r *Registry) Provider(id string) (domain.CapabilityProvider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[id]
	return p, ok
}

// providersFor returns providers claiming a capability, in registration order.
func (r *Registry) providersFor(name string) []domain.CapabilityProvider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []domain.CapabilityProvider
	for _, id := range r.providerOrder {
		p := r.providers[id]
		for _, c := range p.Capabilities {
			if c == name {
				out = append(out, p)
				break
			}
		}
	}
	return out
}

func (r *Registry) listCapabilities() []domain.CapabilityDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.CapabilityDefinition, 0, len(r.capOrder))
	for _, name := range r.capOrder {
		out = append(out, r.caps[name])
	}
	return out
}

func (r *Registry) listResponsibilities() []domain.ResponsibilityDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.ResponsibilityDefinition, 0, len(r.respOrder))
	for _, name := range r.respOrder {
		out = append(out, r.resps[name])
	}
	return out
}

func (r *Registry) listProviders() []domain.CapabilityProvider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.CapabilityProvider, 0, len(r.providerOrder))
	for _, id := range r.providerOrder {
		out = append(out, r.providers[id])
	}
	return out
}
