// Package playlinesdk is a minimal Playline HTTP API client.
package playlinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client talks to one Playline runtime.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// StepExecution mirrors the API step model (partial).
type StepExecution struct {
	ID       string         `json:"id"`
	Name     string         `json:"name"`
	Status   string         `json:"status"`
	Outputs  map[string]any `json:"outputs,omitempty"`
	Warnings []string       `json:"warnings,omitempty"`
	Errors   []string       `json:"errors,omitempty"`
}

// PlaybookExecution mirrors the API execution model (partial).
type PlaybookExecution struct {
	ID           string          `json:"id"`
	PlaybookName string          `json:"playbook_name"`
	Status       string          `json:"status"`
	Inputs       map[string]any  `json:"inputs,omitempty"`
	Outputs      map[string]any  `json:"outputs,omitempty"`
	Steps        []StepExecution `json:"steps,omitempty"`
}

// Reservation mirrors the API reservation model.
type Reservation struct {
	ID        string `json:"id"`
	StepID    string `json:"step_id"`
	Status    string `json:"status"`
	ExpiresAt string `json:"expires_at"`
}

// Event is one journal entry.
type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id"`
	Payload    map[string]any `json:"payload"`
}

// UtilizationStats summarizes the resource pool.
type UtilizationStats struct {
	TotalResources     int            `json:"total_resources"`
	AllocatedResources int            `json:"allocated_resources"`
	AvailableResources int            `json:"available_resources"`
	UtilizationRate    float64        `json:"utilization_rate"`
	AllocationsByType  map[string]int `json:"allocations_by_type,omitempty"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// RunPlaybook runs a playbook to completion and returns its record.
func (c *Client) RunPlaybook(ctx context.Context, name string, inputs map[string]any) (PlaybookExecution, error) {
	body := map[string]any{"inputs": inputs}
	var resp PlaybookExecution
	endpoint := fmt.Sprintf("v0/playbooks/%s/run", url.PathEscape(name))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// StartPlaybook begins a playbook in the background and returns the
// initial record.
func (c *Client) StartPlaybook(ctx context.Context, name string, inputs map[string]any) (PlaybookExecution, error) {
	body := map[string]any{"inputs": inputs}
	var resp PlaybookExecution
	endpoint := fmt.Sprintf("v0/playbooks/%s/run?detach=true", url.PathEscape(name))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// Execution fetches one execution record.
func (c *Client) Execution(ctx context.Context, id string) (PlaybookExecution, error) {
	var resp PlaybookExecution
	endpoint := fmt.Sprintf("v0/executions/%s", url.PathEscape(id))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// ActiveExecutions lists non-terminal executions.
func (c *Client) ActiveExecutions(ctx context.Context) ([]PlaybookExecution, error) {
	var resp struct {
		Items []PlaybookExecution `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, "v0/executions", nil, &resp)
	return resp.Items, err
}

// PauseExecution pauses a running execution at the next step boundary.
func (c *Client) PauseExecution(ctx context.Context, id string) (PlaybookExecution, error) {
	return c.transition(ctx, id, "pause")
}

// ResumeExecution resumes a paused execution.
func (c *Client) ResumeExecution(ctx context.Context, id string) (PlaybookExecution, error) {
	return c.transition(ctx, id, "resume")
}

// CancelExecution cancels a non-terminal execution.
func (c *Client) CancelExecution(ctx context.Context, id string) (PlaybookExecution, error) {
	return c.transition(ctx, id, "cancel")
}

func (c *Client) transition(ctx context.Context, id, op string) (PlaybookExecution, error) {
	var resp PlaybookExecution
	endpoint := fmt.Sprintf("v0/executions/%s/%s", url.PathEscape(id), op)
	err := c.do(ctx, http.MethodPost, endpoint, nil, &resp)
	return resp, err
}

// RequestHumanOverride routes an in-flight step to a human.
func (c *Client) RequestHumanOverride(ctx context.Context, stepID, userID string) error {
	body := map[string]any{"step_id": stepID, "user_id": userID}
	return c.do(ctx, http.MethodPost, "v0/executions/override", body, nil)
}

// Reserve creates a pending reservation for a step.
func (c *Client) Reserve(ctx context.Context, stepID string, requirements []map[string]any, expirationMinutes int) (Reservation, error) {
	body := map[string]any{
		"step_id":            stepID,
		"requirements":       requirements,
		"expiration_minutes": expirationMinutes,
	}
	var resp Reservation
	err := c.do(ctx, http.MethodPost, "v0/reservations", body, &resp)
	return resp, err
}

// ConfirmReservation turns a pending reservation into an allocation.
func (c *Client) ConfirmReservation(ctx context.Context, id string) error {
	endpoint := fmt.Sprintf("v0/reservations/%s/confirm", url.PathEscape(id))
	return c.do(ctx, http.MethodPost, endpoint, nil, nil)
}

// ResourceStats returns the current resource utilization.
func (c *Client) ResourceStats(ctx context.Context) (UtilizationStats, error) {
	var resp UtilizationStats
	err := c.do(ctx, http.MethodGet, "v0/resources/stats", nil, &resp)
	return resp, err
}

// Events returns the newest journal entries, optionally filtered by type.
func (c *Client) Events(ctx context.Context, limit int, evtType string) ([]Event, error) {
	endpoint := "v0/events"
	params := url.Values{}
	if limit > 0 {
		params.Set("limit", fmt.Sprintf("%d", limit))
	}
	if evtType != "" {
		params.Set("type", evtType)
	}
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}
	var resp struct {
		Items []Event `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Items, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	target := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, target, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
