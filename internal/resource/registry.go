// Package resource holds the registry of resource definitions and
// instances, the characteristic matcher, and the allocation manager.
package resource

import (
	"sync"
	"time"

	"playline/internal/characteristics"
	"playline/internal/domain"
	"playline/internal/events"
)

// Manager owns the process-wide resource pool. All mutation is serialized
// by its mutex so an instance is allocated to at most one step at a time.
type Manager struct {
	mu sync.Mutex

	now func() time.Time
	bus *events.Bus

	defs     map[string]domain.ResourceDefinition
	defOrder []string
	inst     map[string]*domain.ResourceInstance

	allocations  map[string][]domain.AllocatedResource
	reservations map[string]*domain.Reservation
	timers       map[string]*time.Timer

	maxAllocations     int
	defaultReservation time.Duration
}

type Options struct {
	Bus *events.Bus
	Now func() time.Time

	// MaxConcurrentAllocations caps the number of simultaneously busy
	// instances; zero means unlimited.
	MaxConcurrentAllocations int

	DefaultReservationMinutes int
}

func NewManager(opts Options) *Manager {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	bus := opts.Bus
	if bus == nil {
		bus = events.NewBus()
	}
	reservation := time.Duration(opts.DefaultReservationMinutes) * time.Minute
	if reservation <= 0 {
		reservation = 30 * time.Minute
	}
	return &Manager{
		now:                now,
		bus:                bus,
		defs:               make(map[string]domain.ResourceDefinition),
		inst:               make(map[string]*domain.ResourceInstance),
		allocations:        make(map[string][]domain.AllocatedResource),
		reservations:       make(map[string]*domain.Reservation),
		timers:             make(map[string]*time.Timer),
		maxAllocations:     opts.MaxConcurrentAllocations,
		defaultReservation: reservation,
	}
}

// RegisterDefinition stores a definition. Re-registration replaces the
// previous one but keeps its original position in the ranking order.
func (m *Manager) RegisterDefinition(def domain.ResourceDefinition) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.defs[def.Name]; !exists {
		m.defOrder = append(m.defOrder, def.Name)
	}
	m.defs[def.Name] = def
}

// RegisterInstance creates an available instance for a definition name.
// The definition may not exist yet; allocation requires both.
func (m *Manager) RegisterInstance(name string, payload any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inst[name] = &domain.ResourceInstance{
		Name:    name,
		Payload: payload,
		Status:  domain.ResourceAvailable,
	}
}

// Definition returns a registered definition by name.
func (m *Manager) Definition(name string) (domain.ResourceDefinition, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	def, ok := m.defs[name]
	return def, ok
}

// Instance returns a copy of the instance record for a name.
func (m *Manager) Instance(name string) (domain.ResourceInstance, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inst, ok := m.inst[name]
	if !ok {
		return domain.ResourceInstance{}, false
	}
	return *inst, true
}

// ListDefinitions returns all definitions in registration order.
func (m *Manager) ListDefinitions() []domain.ResourceDefinition {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.ResourceDefinition, 0, len(m.defOrder))
	for _, name := range m.defOrder {
		out = append(out, m.defs[name])
	}
	return out
}

// effectiveCharacteristics resolves the extends chain, child keys winning.
// Cycles and missing parents terminate the walk.
func (m *Manager) effectiveCharacteristics(name string) map[string]any {
	var chain []map[string]any
	seen := make(map[string]struct{})
	for name != "" {
		if _, cyclic := seen[name]; cyclic {
			break
		}
		seen[name] = struct{}{}
		def, ok := m.defs[name]
		if !ok {
			break
		}
		chain = append(chain, def.Characteristics)
		name = def.Extends
	}
	merged := map[string]any{}
	for i := len(chain) - 1; i >= 0; i-- {
		merged = characteristics.Merge(merged, chain[i])
	}
	return merged
}
