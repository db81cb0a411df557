package execution

import (
	"context"
	"fmt"
	"sync"

	"playline/internal/domain"
)

// Error codes carried on ExecutionError.
const (
	CodeNoImplementation = "NO_IMPLEMENTATION"
	CodeAlgorithmError   = "ALGORITHM_ERROR"
	CodeAIServiceError   = "AI_SERVICE_ERROR"
	CodeHumanTaskError   = "HUMAN_TASK_ERROR"
	CodeTimeout          = "EXECUTION_TIMEOUT"
)

// Strategy executes one attempt of a step in a specific mode.
type Strategy interface {
	Type() domain.ExecutionType
	Execute(ctx context.Context, ec domain.ExecutionContext) (map[string]any, []string, error)
}

// AlgorithmicFunc is a pre-registered implementation keyed by step method.
type AlgorithmicFunc func(ctx context.Context, ec domain.ExecutionContext) (map[string]any, []string, error)

// AlgorithmicStrategy dispatches to registered implementations.
type AlgorithmicStrategy struct {
	mu    sync.RWMutex
	impls map[string]AlgorithmicFunc
}

func NewAlgorithmicStrategy() *AlgorithmicStrategy {
	return &AlgorithmicStrategy{impls: make(map[string]AlgorithmicFunc)}
}

func (s *AlgorithmicStrategy) Register(method string, fn AlgorithmicFunc) {
	s.mu.Lock()
	s.impls[method] = fn
	s.mu.Unlock()
}

func (s *AlgorithmicStrategy) Type() domain.ExecutionType { return domain.ExecutionAlgorithmic }

func (s *AlgorithmicStrategy) Execute(ctx context.Context, ec domain.ExecutionContext) (map[string]any, []string, error) {
	s.mu.RLock()
	fn, ok := s.impls[ec.Method]
	s.mu.RUnlock()
	if !ok {
		return nil, nil, &domain.ExecutionError{
			Code:              CodeNoImplementation,
			Message:           fmt.Sprintf("no algorithmic implementation registered for %q", ec.Method),
			Retryable:         false,
			FallbackSuggested: true,
		}
	}
	outputs, logs, err := fn(ctx, ec)
	if err != nil {
		if execErr, ok := err.(*domain.ExecutionError); ok {
			return nil, logs, execErr
		}
		return nil, logs, &domain.ExecutionError{
			Code:              CodeAlgorithmError,
			Message:           err.Error(),
			Retryable:         false,
			FallbackSuggested: true,
		}
	}
	return outputs, logs, nil
}

// CompletionRequest goes to the external AI completion service.
type CompletionRequest struct {
	Prompt  string         `json:"prompt"`
	Context map[string]any `json:"context,omitempty"`
	Model   string         `json:"model,omitempty"`
}

type CompletionResponse struct {
	Outputs map[string]any `json:"outputs,omitempty"`
	Logs    []string       `json:"logs,omitempty"`
}

// CompletionService is the external AI collaborator.
type CompletionService interface {
	Complete(ctx context.Context, req CompletionRequest) (CompletionResponse, error)
}

// AIStrategy delegates to a completion service; service errors are wrapped
// as retryable AI_SERVICE_ERROR with fallback suggested.
type AIStrategy struct {
	Service CompletionService
	Model   string
}

func (s AIStrategy) Type() domain.ExecutionType { return domain.ExecutionAI }

func (s AIStrategy) Execute(ctx context.Context, ec domain.ExecutionContext) (map[string]any, []string, error) {
	if s.Service == nil {
		return nil, nil, &domain.ExecutionError{
			Code:              CodeAIServiceError,
			Message:           "no completion service configured",
			Retryable:         false,
			FallbackSuggested: true,
		}
	}
	res, err := s.Service.Complete(ctx, CompletionRequest{
		Prompt:  ec.Method,
		Context: ec.Inputs,
		Model:   s.Model,
	})
	if err != nil {
		return nil, nil, &domain.ExecutionError{
			Code:              CodeAIServiceError,
			Message:           err.Error(),
			Retryable:         true,
			FallbackSuggested: true,
		}
	}
	return res.Outputs, res.Logs, nil
}

// TaskRequest describes a human task to create.
type TaskRequest struct {
	StepID      string         `json:"step_id"`
	Description string         `json:"description"`
	Inputs      map[string]any `json:"inputs,omitempty"`
	UserID      string         `json:"user_id,omitempty"`
}

type TaskResult struct {
	Outputs map[string]any `json:"outputs,omitempty"`
	Logs    []string       `json:"logs,omitempty"`
}

// HumanTaskService is the external human-task collaborator. CreateTask
// blocks until the task is resolved.
type HumanTaskService interface {
	CreateTask(ctx context.Context, req TaskRequest) (TaskResult, error)
}

// HumanStrategy suspends on a human task. There is no fallback past human.
type HumanStrategy struct {
	Service HumanTaskService
}

func (s HumanStrategy) Type() domain.ExecutionType { return domain.ExecutionHuman }

func (s HumanStrategy) Execute(ctx context.Context, ec domain.ExecutionContext) (map[string]any, []string, error) {
	if s.Service == nil {
		return nil, nil, &domain.ExecutionError{
			Code:              CodeHumanTaskError,
			Message:           "no human task service configured",
			Retryable:         false,
			FallbackSuggested: false,
		}
	}
	res, err := s.Service.CreateTask(ctx, TaskRequest{
		StepID:      ec.StepID,
		Description: ec.Method,
		Inputs:      ec.Inputs,
		UserID:      ec.UserID,
	})
	if err != nil {
		return nil, nil, &domain.ExecutionError{
			Code:              CodeHumanTaskError,
			Message:           err.Error(),
			Retryable:         true,
			FallbackSuggested: false,
		}
	}
	return res.Outputs, res.Logs, nil
}
