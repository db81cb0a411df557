package server

import (
	"encoding/json"

	"playline/internal/domain"
)

// Request payloads

type RunPlaybookRequest struct {
	Inputs map[string]any `json:"inputs,omitempty"`
}

type RegisterInstanceRequest struct {
	Name    string `json:"name"`
	Payload any    `json:"payload,omitempty"`
}

type ResourceSearchRequest struct {
	Characteristics map[string]any `json:"characteristics,omitempty"`
}

type CreateReservationRequest struct {
	StepID            string                       `json:"step_id"`
	Requirements      []domain.ResourceRequirement `json:"requirements"`
	ExpirationMinutes int                          `json:"expiration_minutes,omitempty"`
}

type HumanOverrideRequest struct {
	StepID string `json:"step_id"`
	UserID string `json:"user_id,omitempty"`
}

type ValidateCompatibilityRequest struct {
	Required domain.CapabilityDefinition `json:"required"`
	Provided domain.CapabilityDefinition `json:"provided"`
}

type UpdatePolicyRequest struct {
	DefaultChain            []string `json:"default_chain,omitempty"`
	AllowHumanOverride      *bool    `json:"allow_human_override,omitempty"`
	MaxRetries              *int     `json:"max_retries,omitempty"`
	ExecutionTimeoutSeconds *int     `json:"execution_timeout_seconds,omitempty"`
	AvailableTypes          []string `json:"available_types,omitempty"`
}

type CreateAPIKeyRequest struct {
	ActorID string `json:"actor_id"`
	Name    string `json:"name,omitempty"`
}

type DevLoginRequest struct {
	ActorID string   `json:"actor_id"`
	Roles   []string `json:"roles,omitempty"`
}

// Response payloads

type PlaybookListResponse struct {
	Items []string `json:"items"`
}

type ExecutionListResponse struct {
	Items []domain.PlaybookExecution `json:"items"`
}

type DefinitionListResponse struct {
	Items []domain.ResourceDefinition `json:"items"`
}

type MatchResponse struct {
	Definition domain.ResourceDefinition `json:"definition"`
	Score      float64                   `json:"score"`
}

type ReservationListResponse struct {
	Items []domain.Reservation `json:"items"`
}

type EventResponse struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts" format:"date-time"`
	Type       string         `json:"type"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id,omitempty"`
	Payload    map[string]any `json:"payload,omitempty"`
	PayloadRaw string         `json:"payload_raw,omitempty"`
}

type EventListResponse struct {
	Items []EventResponse `json:"items"`
}

type APIKeyResponse struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// CreateAPIKeyResponse carries the plaintext key exactly once; only its
// hash is stored.
type CreateAPIKeyResponse struct {
	APIKeyResponse
	Key string `json:"key"`
}

type APIKeyListResponse struct {
	Items []APIKeyResponse `json:"items"`
}

type DevLoginResponse struct {
	Token string `json:"token"`
}

// Conversion helpers

func eventResponse(e domain.Event) EventResponse {
	res := EventResponse{
		ID:         e.ID,
		TS:         e.TS,
		Type:       e.Type,
		EntityKind: e.EntityKind,
		EntityID:   e.EntityID,
	}
	if e.Payload != "" {
		if obj := decodeJSONMap(e.Payload); obj != nil {
			res.Payload = obj
		} else {
			res.PayloadRaw = e.Payload
		}
	}
	return res
}

func apiKeyResponse(k domain.APIKey) APIKeyResponse {
	return APIKeyResponse{
		ID:        k.ID,
		ActorID:   k.ActorID,
		Name:      k.Name,
		CreatedAt: k.CreatedAt,
	}
}

func mapEvents(items []domain.Event) []EventResponse {
	res := make([]EventResponse, 0, len(items))
	for _, e := range items {
		res = append(res, eventResponse(e))
	}
	return res
}

func mapAPIKeys(items []domain.APIKey) []APIKeyResponse {
	res := make([]APIKeyResponse, 0, len(items))
	for _, k := range items {
		res = append(res, apiKeyResponse(k))
	}
	return res
}

// JSON helpers

func decodeJSONMap(raw string) map[string]any {
	if raw == "" {
		return nil
	}
	var tmp any
	if err := json.Unmarshal([]byte(raw), &tmp); err != nil {
		return nil
	}
	if obj, ok := tmp.(map[string]any); ok {
		return obj
	}
	return nil
}

func toTypes(modes []string) []domain.ExecutionType {
	if modes == nil {
		return nil
	}
	out := make([]domain.ExecutionType, 0, len(modes))
	for _, m := range modes {
		out = append(out, domain.ExecutionType(m))
	}
	return out
}
