package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"playline/internal/app"
	"playline/internal/domain"
	"playline/internal/execution"
	"playline/internal/repo"
)

type testServer struct {
	URL    string
	app    *app.App
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T, auth AuthConfig) *testServer {
	t.Helper()
	workspace := t.TempDir()
	libDir := filepath.Join(workspace, "library")
	if err := os.MkdirAll(libDir, 0o755); err != nil {
		t.Fatalf("mkdir library: %v", err)
	}
	writeLibraryFile(t, libDir, "sales.playbook.yml", `name: sales
steps:
  - name: qualify
    method: qualify-lead
    requirements:
      - name: rep
        priority:
          - specific: jane_doe
  - name: close
    method: close-deal
`)
	writeLibraryFile(t, libDir, "resources.yml", `definitions:
  - name: person
    characteristics:
      type: person
  - name: jane_doe
    extends: person
instances:
  - name: jane_doe
`)

	algo := execution.NewAlgorithmicStrategy()
	algo.Register("qualify-lead", func(ctx context.Context, ec domain.ExecutionContext) (map[string]any, []string, error) {
		return map[string]any{"qualified": true}, nil, nil
	})
	algo.Register("close-deal", func(ctx context.Context, ec domain.ExecutionContext) (map[string]any, []string, error) {
		return map[string]any{"closed": true, "qualified": ec.Inputs["qualified"]}, nil, nil
	})

	a, err := app.New(workspace, app.Options{Strategies: []execution.Strategy{algo}})
	if err != nil {
		t.Fatalf("app.New: %v", err)
	}
	handler, err := New(Config{App: a, BasePath: "/v0", Auth: auth, Logger: zerolog.Nop()})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		app:    a,
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			a.Close()
		},
	}
	t.Cleanup(testSrv.Close)
	return testSrv
}

func writeLibraryFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func TestRunPlaybook(t *testing.T) {
	srv := newTestServer(t, AuthConfig{Optional: true})
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/playbooks/sales/run", map[string]any{
		"inputs": map[string]any{"lead_id": "L-1"},
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("run status %d: %s", res.StatusCode, string(data))
	}
	var exec domain.PlaybookExecution
	if err := json.Unmarshal(data, &exec); err != nil {
		t.Fatalf("unmarshal execution: %v", err)
	}
	if exec.Status != domain.StatusCompleted {
		t.Fatalf("status = %s: %s", exec.Status, string(data))
	}
	if exec.Outputs["closed"] != true || exec.Outputs["qualified"] != true {
		t.Fatalf("outputs = %v", exec.Outputs)
	}
	if len(exec.Steps) != 2 || exec.Steps[0].Resources[0].Definition != "jane_doe" {
		t.Fatalf("steps = %+v", exec.Steps)
	}

	getRes, getBody := doJSON(t, client, http.MethodGet, srv.URL+"/v0/executions/"+exec.ID, nil, nil)
	if getRes.StatusCode != http.StatusOK {
		t.Fatalf("get execution status %d: %s", getRes.StatusCode, string(getBody))
	}

	evRes, evBody := doJSON(t, client, http.MethodGet, srv.URL+"/v0/events?type=playbook:completed", nil, nil)
	if evRes.StatusCode != http.StatusOK {
		t.Fatalf("events status %d: %s", evRes.StatusCode, string(evBody))
	}
	var events EventListResponse
	if err := json.Unmarshal(evBody, &events); err != nil {
		t.Fatalf("unmarshal events: %v", err)
	}
	if len(events.Items) != 1 || events.Items[0].EntityID != exec.ID {
		t.Fatalf("events = %+v", events.Items)
	}
}

func TestRunPlaybookUnknownName(t *testing.T) {
	srv := newTestServer(t, AuthConfig{Optional: true})

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/playbooks/missing/run", map[string]any{}, nil)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", res.StatusCode, string(data))
	}
}

func TestResourceEndpoints(t *testing.T) {
	srv := newTestServer(t, AuthConfig{Optional: true})
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/resources/definitions", map[string]any{
		"name":    "senior_rep",
		"extends": "person",
		"characteristics": map[string]any{
			"experience_years": ">3",
		},
	}, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("register definition status %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/resources/instances", map[string]any{
		"name": "senior_rep",
	}, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("register instance status %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/resources/search", map[string]any{
		"characteristics": map[string]any{"type": "person"},
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("search status %d: %s", res.StatusCode, string(data))
	}
	var matches []MatchResponse
	if err := json.Unmarshal(data, &matches); err != nil {
		t.Fatalf("unmarshal matches: %v", err)
	}
	if len(matches) != 3 {
		t.Fatalf("matches = %+v", matches)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/resources/stats", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("stats status %d: %s", res.StatusCode, string(data))
	}
	var stats domain.UtilizationStats
	if err := json.Unmarshal(data, &stats); err != nil {
		t.Fatalf("unmarshal stats: %v", err)
	}
	if stats.TotalResources != 2 || stats.AllocatedResources != 0 {
		t.Fatalf("stats = %+v", stats)
	}
}

func TestReservationFlow(t *testing.T) {
	srv := newTestServer(t, AuthConfig{Optional: true})
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/reservations", map[string]any{
		"step_id": "step-1",
		"requirements": []map[string]any{
			{"name": "rep", "priority": []map[string]any{{"specific": "jane_doe"}}},
		},
	}, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create reservation status %d: %s", res.StatusCode, string(data))
	}
	var reservation domain.Reservation
	if err := json.Unmarshal(data, &reservation); err != nil {
		t.Fatalf("unmarshal reservation: %v", err)
	}
	if reservation.Status != domain.ReservationPending {
		t.Fatalf("reservation = %+v", reservation)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/reservations/"+reservation.ID+"/confirm", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("confirm status %d: %s", res.StatusCode, string(data))
	}
	var result domain.AllocationResult
	if err := json.Unmarshal(data, &result); err != nil {
		t.Fatalf("unmarshal allocation: %v", err)
	}
	if !result.Success || result.Allocated[0].Definition != "jane_doe" {
		t.Fatalf("allocation = %+v", result)
	}

	// A confirmed reservation cannot be confirmed twice.
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/reservations/"+reservation.ID+"/confirm", nil, nil)
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("expected conflict, got %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/reservations/unknown/confirm", nil, nil)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", res.StatusCode, string(data))
	}
}

func TestCapabilityEndpoints(t *testing.T) {
	srv := newTestServer(t, AuthConfig{Optional: true})
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/capabilities", map[string]any{
		"name":        "qualify-lead",
		"description": "Qualify an inbound lead",
		"inputs":      []map[string]any{{"name": "lead_id", "type": "string", "required": true}},
		"outputs":     []map[string]any{{"name": "qualified", "type": "bool"}},
	}, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("register capability status %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/capabilities/providers", map[string]any{
		"id":           "bot-1",
		"name":         "sales bot",
		"capabilities": []string{"qualify-lead"},
		"availability": "always",
	}, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("register provider status %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/capabilities/resolve", map[string]any{
		"required": []string{"qualify-lead", "close-deal"},
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("resolve status %d: %s", res.StatusCode, string(data))
	}
	var resolution domain.ResolutionResult
	if err := json.Unmarshal(data, &resolution); err != nil {
		t.Fatalf("unmarshal resolution: %v", err)
	}
	if resolution.Success {
		t.Fatalf("expected partial resolution: %+v", resolution)
	}
	if resolution.Resolved["qualify-lead"].Provider.ID != "bot-1" {
		t.Fatalf("resolved = %+v", resolution.Resolved)
	}
	if len(resolution.Unresolved) != 1 || resolution.Unresolved[0].Capability != "close-deal" {
		t.Fatalf("unresolved = %+v", resolution.Unresolved)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/capabilities/validate", map[string]any{
		"required": map[string]any{
			"name":   "qualify-lead",
			"inputs": []map[string]any{{"name": "lead_id", "type": "string", "required": true}},
		},
		"provided": map[string]any{
			"name":   "other",
			"inputs": []map[string]any{{"name": "lead_id", "type": "int"}},
		},
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("validate status %d: %s", res.StatusCode, string(data))
	}
	var compat domain.CompatibilityResult
	if err := json.Unmarshal(data, &compat); err != nil {
		t.Fatalf("unmarshal compatibility: %v", err)
	}
	if compat.Compatible || len(compat.Issues) != 1 {
		t.Fatalf("compatibility = %+v", compat)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/capabilities/marketplace", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("marketplace status %d: %s", res.StatusCode, string(data))
	}
	var info domain.MarketplaceInfo
	if err := json.Unmarshal(data, &info); err != nil {
		t.Fatalf("unmarshal marketplace: %v", err)
	}
	if info.TotalCapabilities != 1 || info.TotalProviders != 1 {
		t.Fatalf("marketplace = %+v", info)
	}
}

func TestPolicyEndpoints(t *testing.T) {
	srv := newTestServer(t, AuthConfig{Optional: true})
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPatch, srv.URL+"/v0/runtime/policy", map[string]any{
		"max_retries":   1,
		"default_chain": []string{"algorithmic"},
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("patch policy status %d: %s", res.StatusCode, string(data))
	}
	var policy execution.Policy
	if err := json.Unmarshal(data, &policy); err != nil {
		t.Fatalf("unmarshal policy: %v", err)
	}
	if policy.MaxRetries != 1 || len(policy.DefaultChain) != 1 {
		t.Fatalf("policy = %+v", policy)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/runtime/stats", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("stats status %d: %s", res.StatusCode, string(data))
	}
}

func TestAuthRequired(t *testing.T) {
	srv := newTestServer(t, AuthConfig{})
	client := srv.Client()

	res, _ := doJSON(t, client, http.MethodGet, srv.URL+"/v0/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health status %d", res.StatusCode)
	}

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v0/playbooks", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d: %s", res.StatusCode, string(data))
	}

	raw := "pl_test_key"
	err := srv.app.Repo.InsertAPIKey(context.Background(), domain.APIKey{
		ID:      "key-1",
		ActorID: "alice",
		KeyHash: repo.HashAPIKey(raw),
	})
	if err != nil {
		t.Fatalf("insert api key: %v", err)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/playbooks", nil, map[string]string{"X-Api-Key": raw})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("api key auth status %d: %s", res.StatusCode, string(data))
	}

	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/v0/playbooks", nil, map[string]string{"X-Api-Key": "wrong"})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad key, got %d", res.StatusCode)
	}
}
