package runtime

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"playline/internal/capability"
	"playline/internal/domain"
	"playline/internal/events"
	"playline/internal/execution"
	"playline/internal/resource"
)

type fakeLibrary map[string]domain.PlaybookDefinition

func (l fakeLibrary) Playbook(name string) (domain.PlaybookDefinition, error) {
	def, ok := l[name]
	if !ok {
		return domain.PlaybookDefinition{}, fmt.Errorf("playbook %s not found", name)
	}
	return def, nil
}

type eventLog struct {
	mu    sync.Mutex
	kinds []events.Kind
}

func (l *eventLog) record(n events.Notification) {
	l.mu.Lock()
	l.kinds = append(l.kinds, n.Kind)
	l.mu.Unlock()
}

func (l *eventLog) has(kind events.Kind) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, k := range l.kinds {
		if k == kind {
			return true
		}
	}
	return false
}

type testEnv struct {
	orch *Orchestrator
	res  *resource.Manager
	algo *execution.AlgorithmicStrategy
	log  *eventLog
	lib  fakeLibrary
	bus  *events.Bus
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	bus := events.NewBus()
	log := &eventLog{}
	bus.Subscribe(log.record)

	res := resource.NewManager(resource.Options{Bus: bus})
	reg := capability.NewRegistry()
	resolver := capability.NewResolver(reg, capability.ResolverOptions{Bus: bus})

	algo := execution.NewAlgorithmicStrategy()
	policy := execution.DefaultPolicy()
	policy.MaxRetries = 1
	policy.ExecutionTimeout = time.Second
	policy.DefaultChain = []domain.ExecutionType{domain.ExecutionAlgorithmic}
	policy.AvailableTypes = policy.DefaultChain
	executor := execution.NewManager(execution.Options{
		Bus:                  bus,
		Policy:               &policy,
		Strategies:           []execution.Strategy{algo},
		RetryInitialInterval: time.Millisecond,
	})

	lib := fakeLibrary{}
	orch := NewOrchestrator(Options{
		Resources:    res,
		Capabilities: reg,
		Resolver:     resolver,
		Executor:     executor,
		Library:      lib,
		Bus:          bus,
	})
	return &testEnv{orch: orch, res: res, algo: algo, log: log, lib: lib, bus: bus}
}

func (e *testEnv) registerRep() {
	e.res.RegisterDefinition(domain.ResourceDefinition{
		Name:            "jane_doe",
		Characteristics: map[string]any{"type": "person", "experience_years": 5},
	})
	e.res.RegisterInstance("jane_doe", nil)
}

func repRequirement() []domain.ResourceRequirement {
	return []domain.ResourceRequirement{{
		Name:     "rep",
		Priority: []domain.PriorityAlternative{{Specific: "jane_doe"}},
	}}
}

func TestExecutePlaybookThreadsOutputs(t *testing.T) {
	env := newTestEnv(t)
	env.registerRep()
	env.algo.Register("qualify", func(_ context.Context, ec domain.ExecutionContext) (map[string]any, []string, error) {
		return map[string]any{"qualified": true}, nil, nil
	})
	env.algo.Register("close", func(_ context.Context, ec domain.ExecutionContext) (map[string]any, []string, error) {
		if ec.Inputs["qualified"] != true {
			return nil, nil, fmt.Errorf("lead not qualified")
		}
		return map[string]any{"deal_id": "d-1"}, nil, nil
	})
	env.lib["sales"] = domain.PlaybookDefinition{
		Name: "sales",
		Steps: []domain.StepDefinition{
			{Name: "qualify lead", Method: "qualify", Requirements: repRequirement()},
			{Name: "close deal", Method: "close"},
		},
	}

	exec, err := env.orch.ExecutePlaybook(context.Background(), "sales", map[string]any{"lead_id": "l-1"})
	if err != nil {
		t.Fatalf("ExecutePlaybook: %v", err)
	}
	if exec.Status != domain.StatusCompleted {
		t.Fatalf("status = %s", exec.Status)
	}
	if exec.Outputs["deal_id"] != "d-1" {
		t.Fatalf("outputs = %+v", exec.Outputs)
	}
	if exec.Steps[1].Inputs["qualified"] != true || exec.Steps[1].Inputs["lead_id"] != "l-1" {
		t.Fatalf("step 2 inputs = %+v", exec.Steps[1].Inputs)
	}
	if inst, _ := env.res.Instance("jane_doe"); inst.Status != domain.ResourceAvailable {
		t.Fatalf("resource not released after completion: %+v", inst)
	}
	for _, kind := range []events.Kind{events.PlaybookStarted, events.StepStarted, events.StepCompleted, events.PlaybookCompleted} {
		if !env.log.has(kind) {
			t.Fatalf("missing event %s in %v", kind, env.log.kinds)
		}
	}
	if len(env.orch.ListActiveExecutions()) != 0 {
		t.Fatalf("completed execution still active")
	}
}

func TestAllocationFailureFailsPlaybook(t *testing.T) {
	env := newTestEnv(t)
	env.registerRep()
	env.algo.Register("qualify", func(context.Context, domain.ExecutionContext) (map[string]any, []string, error) {
		return map[string]any{}, nil, nil
	})
	env.lib["sales"] = domain.PlaybookDefinition{
		Name: "sales",
		Steps: []domain.StepDefinition{
			{Name: "qualify", Method: "qualify", Requirements: repRequirement()},
			{Name: "impossible", Method: "qualify", Requirements: []domain.ResourceRequirement{{
				Name:     "crm",
				Priority: []domain.PriorityAlternative{{Specific: "salesforce"}},
			}}},
		},
	}

	exec, err := env.orch.ExecutePlaybook(context.Background(), "sales", nil)
	if err == nil || !strings.Contains(err.Error(), "Resource allocation failed") {
		t.Fatalf("err = %v", err)
	}
	if exec.Status != domain.StatusFailed {
		t.Fatalf("status = %s", exec.Status)
	}
	if exec.Steps[1].Status != domain.StatusFailed || len(exec.Steps[1].Errors) == 0 {
		t.Fatalf("step record = %+v", exec.Steps[1])
	}
	// Resources allocated to the completed first step must be released.
	if inst, _ := env.res.Instance("jane_doe"); inst.Status != domain.ResourceAvailable {
		t.Fatalf("prior step resources leaked: %+v", inst)
	}
	if !env.log.has(events.PlaybookFailed) {
		t.Fatalf("missing playbook:failed event")
	}
}

func TestExecutionFailureFailsPlaybook(t *testing.T) {
	env := newTestEnv(t)
	env.registerRep()
	env.lib["sales"] = domain.PlaybookDefinition{
		Name:  "sales",
		Steps: []domain.StepDefinition{{Name: "qualify", Method: "unregistered", Requirements: repRequirement()}},
	}

	exec, err := env.orch.ExecutePlaybook(context.Background(), "sales", nil)
	if err == nil {
		t.Fatalf("expected execution failure")
	}
	if exec.Status != domain.StatusFailed {
		t.Fatalf("status = %s", exec.Status)
	}
	if inst, _ := env.res.Instance("jane_doe"); inst.Status != domain.ResourceAvailable {
		t.Fatalf("resources leaked on failure: %+v", inst)
	}
}

func TestPauseResume(t *testing.T) {
	env := newTestEnv(t)
	gate := make(chan struct{})
	entered := make(chan struct{})
	env.algo.Register("slow", func(context.Context, domain.ExecutionContext) (map[string]any, []string, error) {
		close(entered)
		<-gate
		return map[string]any{}, nil, nil
	})
	env.algo.Register("fast", func(context.Context, domain.ExecutionContext) (map[string]any, []string, error) {
		return map[string]any{}, nil, nil
	})
	env.lib["p"] = domain.PlaybookDefinition{
		Name: "p",
		Steps: []domain.StepDefinition{
			{Name: "one", Method: "slow"},
			{Name: "two", Method: "fast"},
		},
	}

	initial, err := env.orch.StartPlaybook(context.Background(), "p", nil)
	if err != nil {
		t.Fatalf("StartPlaybook: %v", err)
	}
	<-entered
	if !env.orch.PauseExecution(initial.ID) {
		t.Fatalf("pause refused")
	}
	if env.orch.PauseExecution(initial.ID) {
		t.Fatalf("pausing a paused execution should fail")
	}
	close(gate)

	// The in-flight step finishes but the loop must hold at the boundary.
	time.Sleep(20 * time.Millisecond)
	status, _ := env.orch.ExecutionStatus(initial.ID)
	if status.Status != domain.StatusPaused {
		t.Fatalf("status = %s, want paused", status.Status)
	}
	if status.Steps[1].Status != domain.StatusPending {
		t.Fatalf("step two ran while paused: %+v", status.Steps[1])
	}

	if !env.orch.ResumeExecution(initial.ID) {
		t.Fatalf("resume refused")
	}
	waitForStatus(t, env.orch, initial.ID, domain.StatusCompleted)
	if !env.log.has(events.PlaybookPaused) || !env.log.has(events.PlaybookResumed) {
		t.Fatalf("missing pause/resume events: %v", env.log.kinds)
	}
}

func TestCancelReleasesResources(t *testing.T) {
	env := newTestEnv(t)
	env.registerRep()
	gate := make(chan struct{})
	entered := make(chan struct{})
	env.algo.Register("hold", func(context.Context, domain.ExecutionContext) (map[string]any, []string, error) {
		close(entered)
		<-gate
		return map[string]any{}, nil, nil
	})
	env.algo.Register("fast", func(context.Context, domain.ExecutionContext) (map[string]any, []string, error) {
		return map[string]any{}, nil, nil
	})
	env.lib["p"] = domain.PlaybookDefinition{
		Name: "p",
		Steps: []domain.StepDefinition{
			{Name: "one", Method: "hold", Requirements: repRequirement()},
			{Name: "two", Method: "fast"},
		},
	}

	initial, err := env.orch.StartPlaybook(context.Background(), "p", nil)
	if err != nil {
		t.Fatalf("StartPlaybook: %v", err)
	}
	<-entered
	if !env.orch.PauseExecution(initial.ID) {
		t.Fatalf("pause refused")
	}
	close(gate)

	if !env.orch.CancelExecution(initial.ID) {
		t.Fatalf("cancel refused")
	}
	if env.orch.CancelExecution(initial.ID) {
		t.Fatalf("cancelling a settled execution should fail")
	}

	if inst, _ := env.res.Instance("jane_doe"); inst.Status != domain.ResourceAvailable {
		t.Fatalf("cancelled execution leaked resources: %+v", inst)
	}
	if len(env.orch.ListActiveExecutions()) != 0 {
		t.Fatalf("cancelled execution still listed active")
	}
	status, _ := env.orch.ExecutionStatus(initial.ID)
	if status.Status != domain.StatusFailed {
		t.Fatalf("cancellation should settle as failed, got %s", status.Status)
	}
	if !env.log.has(events.PlaybookCancelled) {
		t.Fatalf("missing playbook:cancelled event")
	}
}

func TestCancelDuringStepStartReleasesLateAllocation(t *testing.T) {
	env := newTestEnv(t)
	env.registerRep()
	env.algo.Register("fast", func(context.Context, domain.ExecutionContext) (map[string]any, []string, error) {
		return map[string]any{}, nil, nil
	})
	env.lib["p"] = domain.PlaybookDefinition{
		Name:  "p",
		Steps: []domain.StepDefinition{{Name: "one", Method: "fast", Requirements: repRequirement()}},
	}

	// Cancel the moment the step starts. The step's allocation happens
	// after this fires, so the cancel-time release cannot cover it.
	env.bus.Subscribe(func(n events.Notification) {
		if n.Kind != events.StepStarted {
			return
		}
		payload := n.Payload.(map[string]any)
		env.orch.CancelExecution(payload["execution_id"].(string))
	})

	exec, err := env.orch.ExecutePlaybook(context.Background(), "p", nil)
	if err == nil || !strings.Contains(err.Error(), "cancelled") {
		t.Fatalf("err = %v", err)
	}
	if exec.Status != domain.StatusFailed {
		t.Fatalf("status = %s", exec.Status)
	}
	if inst, _ := env.res.Instance("jane_doe"); inst.Status != domain.ResourceAvailable {
		t.Fatalf("leaked allocation after cancellation: %+v", inst)
	}
}

func TestInitializeSkipsMalformedEntries(t *testing.T) {
	env := newTestEnv(t)
	summary := env.orch.Initialize(InitBundle{
		Capabilities: []domain.CapabilityDefinition{
			{Name: "qualify-lead"},
			{Name: ""},
		},
		Providers: []domain.CapabilityProvider{
			{ID: "p1", Name: "p1", Capabilities: []string{"qualify-lead"}, Availability: domain.AvailabilityAlways},
			{ID: ""},
		},
		Resources: []domain.ResourceDefinition{{Name: "jane_doe"}},
		Instances: []InstanceInit{{Name: "jane_doe"}, {Name: "  "}},
	})

	if summary.Capabilities != 1 || summary.Providers != 1 || summary.Resources != 1 || summary.Instances != 1 {
		t.Fatalf("summary = %+v", summary)
	}
	if summary.Skipped != 3 {
		t.Fatalf("skipped = %d, want 3", summary.Skipped)
	}
	if !env.log.has(events.RuntimeInitialized) {
		t.Fatalf("missing runtime:initialized event")
	}
}

func TestPauseResumeUnknownIDs(t *testing.T) {
	env := newTestEnv(t)
	if env.orch.PauseExecution("nope") || env.orch.ResumeExecution("nope") || env.orch.CancelExecution("nope") {
		t.Fatalf("operations on unknown ids must return false")
	}
}

func TestShutdownCancelsActiveExecutions(t *testing.T) {
	env := newTestEnv(t)
	gate := make(chan struct{})
	entered := make(chan struct{})
	env.algo.Register("hold", func(context.Context, domain.ExecutionContext) (map[string]any, []string, error) {
		close(entered)
		<-gate
		return map[string]any{}, nil, nil
	})
	env.lib["p"] = domain.PlaybookDefinition{
		Name:  "p",
		Steps: []domain.StepDefinition{{Name: "one", Method: "hold"}},
	}
	if _, err := env.orch.StartPlaybook(context.Background(), "p", nil); err != nil {
		t.Fatalf("StartPlaybook: %v", err)
	}
	<-entered

	env.orch.Shutdown()
	close(gate)

	if len(env.orch.ListActiveExecutions()) != 0 {
		t.Fatalf("active executions survived shutdown")
	}
	if !env.log.has(events.RuntimeShutdown) {
		t.Fatalf("missing runtime:shutdown event")
	}
}

func TestRuntimeStats(t *testing.T) {
	env := newTestEnv(t)
	env.registerRep()
	env.algo.Register("fast", func(context.Context, domain.ExecutionContext) (map[string]any, []string, error) {
		return map[string]any{}, nil, nil
	})
	env.lib["p"] = domain.PlaybookDefinition{
		Name:  "p",
		Steps: []domain.StepDefinition{{Name: "one", Method: "fast"}},
	}
	if _, err := env.orch.ExecutePlaybook(context.Background(), "p", nil); err != nil {
		t.Fatalf("ExecutePlaybook: %v", err)
	}

	stats := env.orch.RuntimeStats()
	if stats.CompletedExecutions != 1 || stats.ActiveExecutions != 0 {
		t.Fatalf("stats = %+v", stats)
	}
	if stats.Resources.TotalResources != 1 {
		t.Fatalf("resource stats = %+v", stats.Resources)
	}
	if len(stats.ExecutionPolicy.DefaultChain) == 0 {
		t.Fatalf("policy missing from stats")
	}
}

func waitForStatus(t *testing.T, o *Orchestrator, id string, want domain.ExecutionStatus) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		if status, ok := o.ExecutionStatus(id); ok && status.Status == want {
			return
		}
		select {
		case <-deadline:
			status, _ := o.ExecutionStatus(id)
			t.Fatalf("timed out waiting for %s, status = %s", want, status.Status)
		case <-time.After(time.Millisecond):
		}
	}
}
