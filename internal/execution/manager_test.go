package execution

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"playline/internal/domain"
	"playline/internal/events"
)

type fakeStrategy struct {
	typ domain.ExecutionType
	fn  func(ctx context.Context, ec domain.ExecutionContext) (map[string]any, []string, error)
}

func (s fakeStrategy) Type() domain.ExecutionType { return s.typ }

func (s fakeStrategy) Execute(ctx context.Context, ec domain.ExecutionContext) (map[string]any, []string, error) {
	return s.fn(ctx, ec)
}

func succeeding(typ domain.ExecutionType, outputs map[string]any) fakeStrategy {
	return fakeStrategy{typ: typ, fn: func(context.Context, domain.ExecutionContext) (map[string]any, []string, error) {
		return outputs, nil, nil
	}}
}

func failing(typ domain.ExecutionType, err *domain.ExecutionError) fakeStrategy {
	return fakeStrategy{typ: typ, fn: func(context.Context, domain.ExecutionContext) (map[string]any, []string, error) {
		return nil, nil, err
	}}
}

func newTestManager(t *testing.T, strategies ...Strategy) *Manager {
	t.Helper()
	policy := DefaultPolicy()
	policy.MaxRetries = 2
	policy.ExecutionTimeout = time.Second
	return NewManager(Options{
		Bus:                  events.NewBus(),
		Policy:               &policy,
		Strategies:           strategies,
		RetryInitialInterval: time.Millisecond,
	})
}

func TestExecuteStepFallsBackThroughChain(t *testing.T) {
	m := newTestManager(t,
		NewAlgorithmicStrategy(), // nothing registered: NO_IMPLEMENTATION
		failing(domain.ExecutionAI, &domain.ExecutionError{
			Code: CodeAIServiceError, Message: "503", Retryable: true, FallbackSuggested: true,
		}),
		succeeding(domain.ExecutionHuman, map[string]any{"approved": true}),
	)

	result, err := m.ExecuteStep(context.Background(), domain.ExecutionContext{StepID: "s1", Method: "qualify lead"})
	if err != nil {
		t.Fatalf("ExecuteStep: %v", err)
	}
	if !result.Success || result.ExecutionType != domain.ExecutionHuman {
		t.Fatalf("result = %+v", result)
	}
	if result.Outputs["approved"] != true {
		t.Fatalf("outputs = %+v", result.Outputs)
	}
}

func TestExecuteStepSucceedsAlgorithmically(t *testing.T) {
	algo := NewAlgorithmicStrategy()
	algo.Register("score lead", func(ctx context.Context, ec domain.ExecutionContext) (map[string]any, []string, error) {
		return map[string]any{"score": 42}, []string{"scored"}, nil
	})
	m := newTestManager(t, algo)

	result, err := m.ExecuteStep(context.Background(), domain.ExecutionContext{StepID: "s1", Method: "score lead"})
	if err != nil {
		t.Fatalf("ExecuteStep: %v", err)
	}
	if result.ExecutionType != domain.ExecutionAlgorithmic || result.Outputs["score"] != 42 {
		t.Fatalf("result = %+v", result)
	}
}

func TestExecuteStepExhaustsAllStrategies(t *testing.T) {
	m := newTestManager(t,
		NewAlgorithmicStrategy(),
		failing(domain.ExecutionAI, &domain.ExecutionError{
			Code: CodeAIServiceError, Message: "down", Retryable: true, FallbackSuggested: true,
		}),
		failing(domain.ExecutionHuman, &domain.ExecutionError{
			Code: CodeHumanTaskError, Message: "queue full", Retryable: true, FallbackSuggested: true,
		}),
	)

	_, err := m.ExecuteStep(context.Background(), domain.ExecutionContext{StepID: "s1"})
	if !errors.Is(err, ErrAllStrategiesFailed) {
		t.Fatalf("err = %v, want ErrAllStrategiesFailed", err)
	}
}

func TestExecuteStepStopsWithoutFallback(t *testing.T) {
	var aiCalls int32
	m := newTestManager(t,
		failing(domain.ExecutionHuman, &domain.ExecutionError{
			Code: CodeHumanTaskError, Message: "rejected", Retryable: false, FallbackSuggested: false,
		}),
		fakeStrategy{typ: domain.ExecutionAI, fn: func(context.Context, domain.ExecutionContext) (map[string]any, []string, error) {
			atomic.AddInt32(&aiCalls, 1)
			return map[string]any{}, nil, nil
		}},
	)
	m.UpdatePolicy(PolicyPatch{DefaultChain: []domain.ExecutionType{domain.ExecutionHuman, domain.ExecutionAI}})

	result, err := m.ExecuteStep(context.Background(), domain.ExecutionContext{StepID: "s1"})
	if err == nil {
		t.Fatalf("expected error")
	}
	if !strings.Contains(err.Error(), "Strategy human failed after 1 attempts") {
		t.Fatalf("err = %v", err)
	}
	if result.Error == nil || result.Error.Code != CodeHumanTaskError {
		t.Fatalf("result = %+v", result)
	}
	if atomic.LoadInt32(&aiCalls) != 0 {
		t.Fatalf("chain advanced past a non-fallback failure")
	}
}

func TestRetryableErrorsAreRetried(t *testing.T) {
	var calls int32
	m := newTestManager(t, fakeStrategy{typ: domain.ExecutionAI, fn: func(context.Context, domain.ExecutionContext) (map[string]any, []string, error) {
		if atomic.AddInt32(&calls, 1) == 1 {
			return nil, nil, &domain.ExecutionError{
				Code: CodeAIServiceError, Message: "flaky", Retryable: true, FallbackSuggested: true,
			}
		}
		return map[string]any{"ok": true}, nil, nil
	}})
	m.UpdatePolicy(PolicyPatch{DefaultChain: []domain.ExecutionType{domain.ExecutionAI}})

	result, err := m.ExecuteStep(context.Background(), domain.ExecutionContext{StepID: "s1"})
	if err != nil {
		t.Fatalf("ExecuteStep: %v", err)
	}
	if atomic.LoadInt32(&calls) != 2 {
		t.Fatalf("calls = %d, want 2", calls)
	}
	if !result.Success {
		t.Fatalf("result = %+v", result)
	}
}

func TestNonRetryableErrorIsNotRetried(t *testing.T) {
	var calls int32
	m := newTestManager(t, fakeStrategy{typ: domain.ExecutionAI, fn: func(context.Context, domain.ExecutionContext) (map[string]any, []string, error) {
		atomic.AddInt32(&calls, 1)
		return nil, nil, &domain.ExecutionError{
			Code: CodeAIServiceError, Message: "bad request", Retryable: false, FallbackSuggested: false,
		}
	}})
	m.UpdatePolicy(PolicyPatch{DefaultChain: []domain.ExecutionType{domain.ExecutionAI}})

	if _, err := m.ExecuteStep(context.Background(), domain.ExecutionContext{StepID: "s1"}); err == nil {
		t.Fatalf("expected error")
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}

func TestAttemptTimeoutIsRetryable(t *testing.T) {
	var calls int32
	m := newTestManager(t, fakeStrategy{typ: domain.ExecutionAI, fn: func(ctx context.Context, _ domain.ExecutionContext) (map[string]any, []string, error) {
		if atomic.AddInt32(&calls, 1) == 1 {
			<-ctx.Done()
			return nil, nil, ctx.Err()
		}
		return map[string]any{"ok": true}, nil, nil
	}})
	m.UpdatePolicy(PolicyPatch{DefaultChain: []domain.ExecutionType{domain.ExecutionAI}})
	timeout := 20 * time.Millisecond
	m.UpdatePolicy(PolicyPatch{ExecutionTimeout: &timeout})

	result, err := m.ExecuteStep(context.Background(), domain.ExecutionContext{StepID: "s1"})
	if err != nil {
		t.Fatalf("ExecuteStep: %v", err)
	}
	if !result.Success || atomic.LoadInt32(&calls) != 2 {
		t.Fatalf("result = %+v calls = %d", result, calls)
	}
}

func TestHumanOverrideBypassesChain(t *testing.T) {
	gate := make(chan struct{})
	first := fakeStrategy{typ: domain.ExecutionAlgorithmic, fn: func(context.Context, domain.ExecutionContext) (map[string]any, []string, error) {
		<-gate
		return nil, nil, &domain.ExecutionError{
			Code: CodeNoImplementation, Message: "none", FallbackSuggested: true,
		}
	}}
	var aiCalled int32
	ai := fakeStrategy{typ: domain.ExecutionAI, fn: func(context.Context, domain.ExecutionContext) (map[string]any, []string, error) {
		atomic.AddInt32(&aiCalled, 1)
		return map[string]any{}, nil, nil
	}}
	human := fakeStrategy{typ: domain.ExecutionHuman, fn: func(_ context.Context, ec domain.ExecutionContext) (map[string]any, []string, error) {
		return map[string]any{"by": ec.UserID}, nil, nil
	}}
	m := newTestManager(t, first, ai, human)

	type outcome struct {
		result domain.ExecutionResult
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		r, err := m.ExecuteStep(context.Background(), domain.ExecutionContext{StepID: "s1"})
		done <- outcome{r, err}
	}()

	deadline := time.After(time.Second)
	for {
		if err := m.RequestHumanOverride("s1", "alice"); err == nil {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("execution never tracked")
		case <-time.After(time.Millisecond):
		}
	}
	close(gate)

	o := <-done
	if o.err != nil {
		t.Fatalf("ExecuteStep: %v", o.err)
	}
	if o.result.ExecutionType != domain.ExecutionHuman || o.result.Outputs["by"] != "alice" {
		t.Fatalf("result = %+v", o.result)
	}
	if atomic.LoadInt32(&aiCalled) != 0 {
		t.Fatalf("override did not bypass the remaining chain")
	}
}

func TestHumanOverrideRequiresPolicyAndTracking(t *testing.T) {
	m := newTestManager(t)
	if err := m.RequestHumanOverride("missing", "alice"); err == nil {
		t.Fatalf("expected error for untracked step")
	}
	off := false
	m.UpdatePolicy(PolicyPatch{AllowHumanOverride: &off})
	if err := m.RequestHumanOverride("s1", "alice"); err == nil {
		t.Fatalf("expected error when overrides are disabled")
	}
}

func TestUpdatePolicyAppliesImmediately(t *testing.T) {
	m := newTestManager(t,
		succeeding(domain.ExecutionAlgorithmic, map[string]any{"via": "algo"}),
		succeeding(domain.ExecutionAI, map[string]any{"via": "ai"}),
	)
	m.UpdatePolicy(PolicyPatch{DefaultChain: []domain.ExecutionType{domain.ExecutionAI}})

	result, err := m.ExecuteStep(context.Background(), domain.ExecutionContext{StepID: "s1"})
	if err != nil {
		t.Fatalf("ExecuteStep: %v", err)
	}
	if result.ExecutionType != domain.ExecutionAI {
		t.Fatalf("result = %+v", result)
	}
}

func TestAvailableTypesRestrictChain(t *testing.T) {
	m := newTestManager(t,
		NewAlgorithmicStrategy(),
		succeeding(domain.ExecutionAI, map[string]any{}),
		succeeding(domain.ExecutionHuman, map[string]any{}),
	)
	m.UpdatePolicy(PolicyPatch{AvailableTypes: []domain.ExecutionType{domain.ExecutionHuman}})

	result, err := m.ExecuteStep(context.Background(), domain.ExecutionContext{StepID: "s1"})
	if err != nil {
		t.Fatalf("ExecuteStep: %v", err)
	}
	if result.ExecutionType != domain.ExecutionHuman {
		t.Fatalf("result = %+v", result)
	}
}
