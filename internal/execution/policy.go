// Package execution runs one step's unit of work through an ordered
// strategy chain (algorithmic, AI-assisted, human) with per-strategy
// retries, timeouts, and data-driven fallback.
package execution

import (
	"time"

	"playline/internal/domain"
)

// Policy governs how steps are executed. The manager reads it under lock,
// so updates take effect on the next executeStep call.
type Policy struct {
	DefaultChain       []domain.ExecutionType `json:"default_chain"`
	AllowHumanOverride bool                   `json:"allow_human_override"`
	MaxRetries         int                    `json:"max_retries"`
	ExecutionTimeout   time.Duration          `json:"execution_timeout_ns"`
	AvailableTypes     []domain.ExecutionType `json:"available_types"`
}

// DefaultPolicy mirrors the shipped configuration defaults.
func DefaultPolicy() Policy {
	return Policy{
		DefaultChain:       []domain.ExecutionType{domain.ExecutionAlgorithmic, domain.ExecutionAI, domain.ExecutionHuman},
		AllowHumanOverride: true,
		MaxRetries:         3,
		ExecutionTimeout:   5 * time.Minute,
		AvailableTypes:     []domain.ExecutionType{domain.ExecutionAlgorithmic, domain.ExecutionAI, domain.ExecutionHuman},
	}
}

// PolicyPatch is a partial policy update; nil fields keep current values.
type PolicyPatch struct {
	DefaultChain       []domain.ExecutionType `json:"default_chain,omitempty"`
	AllowHumanOverride *bool                  `json:"allow_human_override,omitempty"`
	MaxRetries         *int                   `json:"max_retries,omitempty"`
	ExecutionTimeout   *time.Duration         `json:"execution_timeout_ns,omitempty"`
	AvailableTypes     []domain.ExecutionType `json:"available_types,omitempty"`
}

func (p Policy) apply(patch PolicyPatch) Policy {
	if patch.DefaultChain != nil {
		p.DefaultChain = patch.DefaultChain
	}
	if patch.AllowHumanOverride != nil {
		p.AllowHumanOverride = *patch.AllowHumanOverride
	}
	if patch.MaxRetries != nil {
		p.MaxRetries = *patch.MaxRetries
	}
	if patch.ExecutionTimeout != nil {
		p.ExecutionTimeout = *patch.ExecutionTimeout
	}
	if patch.AvailableTypes != nil {
		p.AvailableTypes = patch.AvailableTypes
	}
	return p
}

// effectiveChain intersects the default chain with the availability
// allow-list, preserving chain order.
func (p Policy) effectiveChain() []domain.ExecutionType {
	allowed := make(map[domain.ExecutionType]struct{}, len(p.AvailableTypes))
	for _, t := range p.AvailableTypes {
		allowed[t] = struct{}{}
	}
	var chain []domain.ExecutionType
	for _, t := range p.DefaultChain {
		if _, ok := allowed[t]; ok {
			chain = append(chain, t)
		}
	}
	return chain
}
