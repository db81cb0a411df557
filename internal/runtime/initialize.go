package runtime

import (
	"strings"

	"playline/internal/domain"
	"playline/internal/events"
)

// InstanceInit pairs an instance with its definition name.
type InstanceInit struct {
	Name    string `json:"name"`
	Payload any    `json:"payload,omitempty"`
}

// InitBundle is the bulk registration payload. Any sub-collection may be
// missing or empty.
type InitBundle struct {
	Capabilities     []domain.CapabilityDefinition     `json:"capabilities,omitempty"`
	Responsibilities []domain.ResponsibilityDefinition `json:"responsibilities,omitempty"`
	Providers        []domain.CapabilityProvider       `json:"providers,omitempty"`
	Resources        []domain.ResourceDefinition       `json:"resources,omitempty"`
	Instances        []InstanceInit                    `json:"instances,omitempty"`
}

// InitSummary counts what was registered and what was skipped.
type InitSummary struct {
	Capabilities     int `json:"capabilities"`
	Responsibilities int `json:"responsibilities"`
	Providers        int `json:"providers"`
	Resources        int `json:"resources"`
	Instances        int `json:"instances"`
	Skipped          int `json:"skipped"`
}

// Initialize bulk-registers definitions into the managers. Malformed
// entries (missing names or ids) are skipped, never fatal; a summary is
// always emitted.
func (o *Orchestrator) Initialize(bundle InitBundle) InitSummary {
	var summary InitSummary
	for _, def := range bundle.Capabilities {
		if strings.TrimSpace(def.Name) == "" {
			summary.Skipped++
			continue
		}
		o.Capabilities.RegisterCapability(def)
		summary.Capabilities++
	}
	for _, def := range bundle.Responsibilities {
		if strings.TrimSpace(def.Name) == "" {
			summary.Skipped++
			continue
		}
		o.Capabilities.RegisterResponsibility(def)
		summary.Responsibilities++
	}
	for _, p := range bundle.Providers {
		if strings.TrimSpace(p.ID) == "" {
			summary.Skipped++
			continue
		}
		o.Capabilities.RegisterProvider(p)
		summary.Providers++
	}
	for _, def := range bundle.Resources {
		if strings.TrimSpace(def.Name) == "" {
			summary.Skipped++
			continue
		}
		o.Resources.RegisterDefinition(def)
		summary.Resources++
	}
	for _, inst := range bundle.Instances {
		if strings.TrimSpace(inst.Name) == "" {
			summary.Skipped++
			continue
		}
		o.Resources.RegisterInstance(inst.Name, inst.Payload)
		summary.Instances++
	}

	o.bus.Publish(events.Notification{
		Kind:       events.RuntimeInitialized,
		EntityKind: "runtime",
		Payload:    summary,
	})
	return summary
}
