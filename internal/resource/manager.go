package resource

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"playline/internal/domain"
	"playline/internal/events"
)

const (
	reasonNoMatch         = "No matching resources found"
	reasonLimitReached    = "Allocation limit reached"
	errReservationExpired = "reservation expired"
)

// Allocate walks each requirement's priority chain in order and marks the
// winning instance busy. The result is returned even on partial failure so
// the caller can decide to roll back; Success is true only when every
// requirement resolved.
func (m *Manager) Allocate(stepID string, reqs []domain.ResourceRequirement) domain.AllocationResult {
	m.mu.Lock()
	result := domain.AllocationResult{Success: true, StepID: stepID}
	for _, req := range reqs {
		allocated, warning, nearMisses, ok := m.allocateOneLocked(stepID, req)
		if !ok {
			result.Success = false
			result.Failures = append(result.Failures, domain.AllocationFailure{
				Requirement:           req.Name,
				Reason:                m.failureReasonLocked(),
				AvailableAlternatives: nearMisses,
			})
			continue
		}
		result.Allocated = append(result.Allocated, allocated)
		if warning != "" {
			result.Warnings = append(result.Warnings, warning)
		}
	}
	m.mu.Unlock()

	m.bus.Publish(events.Notification{
		Kind:       events.ResourcesAllocated,
		EntityKind: "step",
		EntityID:   stepID,
		Payload:    result,
	})
	return result
}

func (m *Manager) failureReasonLocked() string {
	if m.atCapacityLocked() {
		return reasonLimitReached
	}
	return reasonNoMatch
}

func (m *Manager) atCapacityLocked() bool {
	if m.maxAllocations <= 0 {
		return false
	}
	busy := 0
	for _, inst := range m.inst {
		if inst.Status == domain.ResourceBusy {
			busy++
		}
	}
	return busy >= m.maxAllocations
}

// allocateOneLocked tries each alternative of a requirement in order.
// A requirement without an explicit priority chain behaves as a single
// characteristics alternative, or a specific one when no filter is given.
func (m *Manager) allocateOneLocked(stepID string, req domain.ResourceRequirement) (domain.AllocatedResource, string, []string, bool) {
	alternatives := req.Priority
	if len(alternatives) == 0 {
		if req.Characteristics != nil {
			alternatives = []domain.PriorityAlternative{{Characteristics: req.Characteristics}}
		} else {
			alternatives = []domain.PriorityAlternative{{Specific: req.Name}}
		}
	}

	var nearMisses []string
	for _, alt := range alternatives {
		if m.atCapacityLocked() {
			break
		}
		switch {
		case alt.Specific != "":
			inst, ok := m.inst[alt.Specific]
			if !ok {
				continue
			}
			if inst.Status != domain.ResourceAvailable {
				nearMisses = appendUnique(nearMisses, alt.Specific)
				continue
			}
			if _, defined := m.defs[alt.Specific]; !defined {
				continue
			}
			return m.commitLocked(stepID, req.Name, alt.Specific, domain.TierSpecific), "", nil, true
		case alt.Characteristics != nil:
			winner, misses := m.pickAvailableLocked(alt.Characteristics)
			nearMisses = appendAllUnique(nearMisses, misses)
			if winner == "" {
				continue
			}
			return m.commitLocked(stepID, req.Name, winner, domain.TierCharacteristics), "", nil, true
		case alt.Emergency != nil:
			winner, misses := m.pickAvailableLocked(alt.Emergency)
			nearMisses = appendAllUnique(nearMisses, misses)
			if winner == "" {
				continue
			}
			return m.commitLocked(stepID, req.Name, winner, domain.TierEmergency), alt.Warning, nil, true
		}
	}
	return domain.AllocatedResource{}, "", nearMisses, false
}

// pickAvailableLocked returns the highest-scored definition with an
// available instance, plus the names that matched but were not allocatable.
func (m *Manager) pickAvailableLocked(filter map[string]any) (string, []string) {
	var misses []string
	for _, match := range m.findMatchingLocked(filter) {
		name := match.Definition.Name
		inst, ok := m.inst[name]
		if ok && inst.Status == domain.ResourceAvailable {
			return name, misses
		}
		misses = append(misses, name)
	}
	return "", misses
}

func (m *Manager) commitLocked(stepID, alias, instanceName string, tier int) domain.AllocatedResource {
	inst := m.inst[instanceName]
	inst.Status = domain.ResourceBusy
	inst.AllocatedTo = stepID
	allocated := domain.AllocatedResource{
		Name:        alias,
		Definition:  instanceName,
		AllocatedTo: stepID,
		Priority:    tier,
	}
	m.allocations[stepID] = append(m.allocations[stepID], allocated)
	return allocated
}

// Release frees every instance allocated to the step. No-op for steps
// without allocations; always safe to call again.
func (m *Manager) Release(stepID string) {
	m.mu.Lock()
	allocated := m.allocations[stepID]
	for _, a := range allocated {
		if inst, ok := m.inst[a.Definition]; ok && inst.AllocatedTo == stepID {
			inst.Status = domain.ResourceAvailable
			inst.AllocatedTo = ""
		}
	}
	delete(m.allocations, stepID)
	m.mu.Unlock()

	if len(allocated) == 0 {
		return
	}
	m.bus.Publish(events.Notification{
		Kind:       events.ResourcesReleased,
		EntityKind: "step",
		EntityID:   stepID,
		Payload:    map[string]any{"step_id": stepID, "released": allocated},
	})
}

// Reserve records intent to allocate later. The reservation expires unless
// confirmed before the deadline.
func (m *Manager) Reserve(stepID string, reqs []domain.ResourceRequirement, expiration time.Duration) domain.Reservation {
	if expiration <= 0 {
		expiration = m.defaultReservation
	}
	res := domain.Reservation{
		ID:           uuid.NewString(),
		StepID:       stepID,
		Requirements: reqs,
		Status:       domain.ReservationPending,
		ExpiresAt:    m.now().Add(expiration),
	}
	m.mu.Lock()
	stored := res
	m.reservations[res.ID] = &stored
	m.timers[res.ID] = time.AfterFunc(expiration, func() { m.expireReservation(res.ID) })
	m.mu.Unlock()

	m.bus.Publish(events.Notification{
		Kind:       events.ResourcesReserved,
		EntityKind: "reservation",
		EntityID:   res.ID,
		Payload:    res,
	})
	return res
}

func (m *Manager) expireReservation(id string) {
	m.mu.Lock()
	res, ok := m.reservations[id]
	if !ok || res.Status != domain.ReservationPending {
		m.mu.Unlock()
		return
	}
	res.Status = domain.ReservationExpired
	delete(m.timers, id)
	expired := *res
	m.mu.Unlock()

	m.bus.Publish(events.Notification{
		Kind:       events.ReservationExpired,
		EntityKind: "reservation",
		EntityID:   id,
		Payload:    expired,
	})
}

// ConfirmReservation turns a pending reservation into an actual allocation
// for its step. Expired or unknown reservations fail.
func (m *Manager) ConfirmReservation(id string) (domain.AllocationResult, error) {
	m.mu.Lock()
	res, ok := m.reservations[id]
	if !ok {
		m.mu.Unlock()
		return domain.AllocationResult{}, fmt.Errorf("reservation %s: not found", id)
	}
	if res.Status == domain.ReservationPending && !m.now().Before(res.ExpiresAt) {
		res.Status = domain.ReservationExpired
	}
	if res.Status != domain.ReservationPending {
		m.mu.Unlock()
		return domain.AllocationResult{}, fmt.Errorf("reservation %s: %s", id, errReservationExpired)
	}
	res.Status = domain.ReservationConfirmed
	if timer, ok := m.timers[id]; ok {
		timer.Stop()
		delete(m.timers, id)
	}
	stepID := res.StepID
	reqs := res.Requirements
	m.mu.Unlock()

	return m.Allocate(stepID, reqs), nil
}

// Reservation returns a copy of a reservation, expiring it lazily when the
// deadline has passed.
func (m *Manager) Reservation(id string) (domain.Reservation, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	res, ok := m.reservations[id]
	if !ok {
		return domain.Reservation{}, false
	}
	if res.Status == domain.ReservationPending && !m.now().Before(res.ExpiresAt) {
		res.Status = domain.ReservationExpired
	}
	return *res, true
}

// ListReservations returns all reservations.
func (m *Manager) ListReservations() []domain.Reservation {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Reservation, 0, len(m.reservations))
	for _, res := range m.reservations {
		snapshot := *res
		if snapshot.Status == domain.ReservationPending && !m.now().Before(snapshot.ExpiresAt) {
			snapshot.Status = domain.ReservationExpired
		}
		out = append(out, snapshot)
	}
	return out
}

// UtilizationStats summarizes the pool, grouping busy instances by their
// definition's "type" characteristic.
func (m *Manager) UtilizationStats() domain.UtilizationStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	stats := domain.UtilizationStats{
		TotalResources:    len(m.inst),
		AllocationsByType: map[string]int{},
	}
	for name, inst := range m.inst {
		if inst.Status != domain.ResourceBusy {
			continue
		}
		stats.AllocatedResources++
		kind := "unknown"
		if t, ok := m.effectiveCharacteristics(name)["type"].(string); ok && t != "" {
			kind = t
		}
		stats.AllocationsByType[kind]++
	}
	stats.AvailableResources = stats.TotalResources - stats.AllocatedResources
	if stats.TotalResources > 0 {
		stats.UtilizationRate = float64(stats.AllocatedResources) / float64(stats.TotalResources)
	}
	return stats
}

func appendUnique(list []string, v string) []string {
	for _, item := range list {
		if item == v {
			return list
		}
	}
	return append(list, v)
}

func appendAllUnique(list []string, values []string) []string {
	for _, v := range values {
		list = appendUnique(list, v)
	}
	return list
}
