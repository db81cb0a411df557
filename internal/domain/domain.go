package domain

import "time"

// ResourceDefinition describes a class of allocatable thing through open
// characteristics. Values may be scalars, comparator strings (">3"), or
// string lists; interpretation lives in the characteristics package.
type ResourceDefinition struct {
	Name            string         `json:"name"`
	Extends         string         `json:"extends,omitempty"`
	Characteristics map[string]any `json:"characteristics,omitempty"`
}

type ResourceStatus string

const (
	ResourceAvailable ResourceStatus = "available"
	ResourceBusy      ResourceStatus = "busy"
)

// ResourceInstance is a concrete handle backing a definition.
type ResourceInstance struct {
	Name        string         `json:"name"`
	Payload     any            `json:"payload,omitempty"`
	Status      ResourceStatus `json:"status" enum:"available,busy"`
	AllocatedTo string         `json:"allocated_to,omitempty"`
}

// PriorityAlternative is one entry in a requirement's fallback chain,
// evaluated strictly in list order. Exactly one of Specific,
// Characteristics, Emergency is set.
type PriorityAlternative struct {
	Specific        string         `json:"specific,omitempty"`
	Characteristics map[string]any `json:"characteristics,omitempty"`
	Emergency       map[string]any `json:"emergency,omitempty"`
	Warning         string         `json:"warning,omitempty"`
}

// ResourceRequirement names a resource a step needs plus its priority chain.
type ResourceRequirement struct {
	Name            string                `json:"name"`
	Characteristics map[string]any        `json:"characteristics,omitempty"`
	Priority        []PriorityAlternative `json:"priority,omitempty"`
}

// Priority tiers recorded on allocations.
const (
	TierSpecific        = 10
	TierCharacteristics = 5
	TierEmergency       = 1
)

// AllocatedResource records a requirement satisfied by a concrete instance.
type AllocatedResource struct {
	Name        string `json:"name"`
	Definition  string `json:"definition"`
	AllocatedTo string `json:"allocated_to"`
	Priority    int    `json:"priority"`
}

// AllocationFailure explains why one requirement could not be satisfied.
type AllocationFailure struct {
	Requirement           string   `json:"requirement"`
	Reason                string   `json:"reason"`
	AvailableAlternatives []string `json:"available_alternatives,omitempty"`
}

// AllocationResult aggregates the outcome for one allocation call. It is
// returned even on partial failure so the caller can roll back.
type AllocationResult struct {
	Success   bool                `json:"success"`
	StepID    string              `json:"step_id"`
	Allocated []AllocatedResource `json:"allocated,omitempty"`
	Failures  []AllocationFailure `json:"failures,omitempty"`
	Warnings  []string            `json:"warnings,omitempty"`
}

type ReservationStatus string

const (
	ReservationPending   ReservationStatus = "pending"
	ReservationConfirmed ReservationStatus = "confirmed"
	ReservationExpired   ReservationStatus = "expired"
)

// Reservation signals intent to allocate before committing.
type Reservation struct {
	ID           string                `json:"id"`
	StepID       string                `json:"step_id"`
	Requirements []ResourceRequirement `json:"requirements"`
	Status       ReservationStatus     `json:"status" enum:"pending,confirmed,expired"`
	ExpiresAt    time.Time             `json:"expires_at"`
}

// UtilizationStats summarizes the resource pool.
type UtilizationStats struct {
	TotalResources     int            `json:"total_resources"`
	AllocatedResources int            `json:"allocated_resources"`
	AvailableResources int            `json:"available_resources"`
	UtilizationRate    float64        `json:"utilization_rate"`
	AllocationsByType  map[string]int `json:"allocations_by_type,omitempty"`
}

// Field is one typed input or output slot on a capability.
type Field struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Required bool   `json:"required,omitempty"`
}

// CapabilityDefinition is a named unit of business functionality with typed
// inputs and outputs. Method is free-text guidance for whichever strategy
// ends up executing it and is never parsed here.
type CapabilityDefinition struct {
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Method      string   `json:"method,omitempty"`
	Inputs      []Field  `json:"inputs,omitempty"`
	Outputs     []Field  `json:"outputs,omitempty"`
	Provider    string   `json:"provider,omitempty"`
	Tags        []string `json:"tags,omitempty"`
}

// ResponsibilityDefinition is the continuous-monitoring counterpart of a
// capability.
type ResponsibilityDefinition struct {
	CapabilityDefinition `json:",inline" yaml:",inline"`
	MonitoringType       string `json:"monitoring_type,omitempty"`
}

type ProviderAvailability string

const (
	AvailabilityAlways    ProviderAvailability = "always"
	AvailabilityScheduled ProviderAvailability = "scheduled"
	AvailabilityOnDemand  ProviderAvailability = "on-demand"
)

// CapabilityProvider can serve one or more named capabilities.
type CapabilityProvider struct {
	ID           string               `json:"id"`
	Name         string               `json:"name"`
	Type         string               `json:"type,omitempty"`
	Capabilities []string             `json:"capabilities"`
	Availability ProviderAvailability `json:"availability" enum:"always,scheduled,on-demand"`
	Metadata     map[string]string    `json:"metadata,omitempty"`
}

// ResolvedCapability pairs a required capability with its chosen provider.
type ResolvedCapability struct {
	Capability CapabilityDefinition `json:"capability"`
	Provider   CapabilityProvider   `json:"provider"`
}

// ResolutionConflict flags a capability that could not be cleanly served.
type ResolutionConflict struct {
	Capability string `json:"capability"`
	Provider   string `json:"provider,omitempty"`
	Reason     string `json:"reason"`
}

// ResolutionResult is the outcome of resolving a set of required capabilities.
type ResolutionResult struct {
	Success    bool                          `json:"success"`
	Resolved   map[string]ResolvedCapability `json:"resolved,omitempty"`
	Unresolved []ResolutionConflict          `json:"unresolved,omitempty"`
	Conflicts  []ResolutionConflict          `json:"conflicts,omitempty"`
}

// CompatibilityResult reports interface mismatches between a required and a
// provided capability definition.
type CompatibilityResult struct {
	Compatible bool     `json:"compatible"`
	Issues     []string `json:"issues,omitempty"`
}

// MarketplaceInfo aggregates registry counts for operators.
type MarketplaceInfo struct {
	TotalCapabilities      int            `json:"total_capabilities"`
	TotalResponsibilities  int            `json:"total_responsibilities"`
	TotalProviders         int            `json:"total_providers"`
	CapabilitiesByProvider map[string]int `json:"capabilities_by_provider,omitempty"`
	MostPopular            []string       `json:"most_popular,omitempty"`
	ProviderAvailability   map[string]int `json:"provider_availability,omitempty"`
}

// ExecutionType is one strategy in the execution chain.
type ExecutionType string

const (
	ExecutionAlgorithmic ExecutionType = "algorithmic"
	ExecutionAI          ExecutionType = "ai"
	ExecutionHuman       ExecutionType = "human"
)

// ExecutionContext is built per attempt and handed to a strategy.
type ExecutionContext struct {
	StepID    string              `json:"step_id"`
	Method    string              `json:"method"`
	Inputs    map[string]any      `json:"inputs,omitempty"`
	Resources []AllocatedResource `json:"resources,omitempty"`
	UserID    string              `json:"user_id,omitempty"`
}

// ExecutionError classifies a strategy failure. Retryable errors are retried
// up to the policy limit; FallbackSuggested advances the strategy chain.
type ExecutionError struct {
	Code              string `json:"code"`
	Message           string `json:"message"`
	Retryable         bool   `json:"retryable"`
	FallbackSuggested bool   `json:"fallback_suggested"`
}

func (e *ExecutionError) Error() string { return e.Code + ": " + e.Message }

// ExecutionResult is what a strategy, or the whole chain, produced.
type ExecutionResult struct {
	Success       bool            `json:"success"`
	Outputs       map[string]any  `json:"outputs,omitempty"`
	ExecutionType ExecutionType   `json:"execution_type"`
	Duration      time.Duration   `json:"duration_ns"`
	Logs          []string        `json:"logs,omitempty"`
	Error         *ExecutionError `json:"error,omitempty"`
}

type ExecutionStatus string

const (
	StatusPending   ExecutionStatus = "pending"
	StatusRunning   ExecutionStatus = "running"
	StatusPaused    ExecutionStatus = "paused"
	StatusCompleted ExecutionStatus = "completed"
	StatusFailed    ExecutionStatus = "failed"
	StatusCancelled ExecutionStatus = "cancelled"
)

// Terminal reports whether no further transitions are legal.
func (s ExecutionStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// StepDefinition is one unit of work inside a playbook definition.
type StepDefinition struct {
	Name         string                `json:"name"`
	Method       string                `json:"method"`
	Requirements []ResourceRequirement `json:"requirements,omitempty"`
}

// PlaybookDefinition is produced by the library loader. The runtime never
// interprets Method text beyond passing it to the execution manager.
type PlaybookDefinition struct {
	Name  string           `json:"name"`
	Steps []StepDefinition `json:"steps"`
}

// StepExecution is owned exclusively by its parent PlaybookExecution.
type StepExecution struct {
	ID        string              `json:"id"`
	Name      string              `json:"name"`
	Status    ExecutionStatus     `json:"status" enum:"pending,running,completed,failed,cancelled"`
	Method    string              `json:"method"`
	Inputs    map[string]any      `json:"inputs,omitempty"`
	Outputs   map[string]any      `json:"outputs,omitempty"`
	Resources []AllocatedResource `json:"resources,omitempty"`
	Warnings  []string            `json:"warnings,omitempty"`
	Errors    []string            `json:"errors,omitempty"`
}

// PlaybookExecution tracks one run of a playbook.
type PlaybookExecution struct {
	ID           string          `json:"id"`
	PlaybookName string          `json:"playbook_name"`
	Status       ExecutionStatus `json:"status" enum:"pending,running,paused,completed,failed,cancelled"`
	Inputs       map[string]any  `json:"inputs,omitempty"`
	Outputs      map[string]any  `json:"outputs,omitempty"`
	Steps        []StepExecution `json:"steps,omitempty"`
	StartedAt    time.Time       `json:"started_at"`
	FinishedAt   *time.Time      `json:"finished_at,omitempty"`
}

// RuntimeStats is a point-in-time snapshot of the runtime.
type RuntimeStats struct {
	ActiveExecutions    int                     `json:"active_executions"`
	CompletedExecutions int                     `json:"completed_executions"`
	FailedExecutions    int                     `json:"failed_executions"`
	Resources           UtilizationStats        `json:"resources"`
	Capabilities        MarketplaceInfo         `json:"capabilities"`
	ExecutionsByStatus  map[ExecutionStatus]int `json:"executions_by_status,omitempty"`
}

// Event is one journal entry.
type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	Payload    string `json:"payload_json"`
}

// APIKey authenticates SDK and CLI callers against the HTTP API.
type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
