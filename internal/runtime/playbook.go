package runtime

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"playline/internal/domain"
	"playline/internal/events"
)

// ExecutePlaybook runs a playbook to completion and returns its final
// record. Steps execute strictly in definition order, each step's outputs
// threading into the next step's inputs.
func (o *Orchestrator) ExecutePlaybook(ctx context.Context, name string, inputs map[string]any) (domain.PlaybookExecution, error) {
	exec, def, err := o.prepare(name, inputs)
	if err != nil {
		return domain.PlaybookExecution{}, err
	}
	return o.run(ctx, exec, def)
}

// StartPlaybook begins a playbook execution in the background and returns
// the initial record immediately.
func (o *Orchestrator) StartPlaybook(ctx context.Context, name string, inputs map[string]any) (domain.PlaybookExecution, error) {
	exec, def, err := o.prepare(name, inputs)
	if err != nil {
		return domain.PlaybookExecution{}, err
	}
	initial := o.mustSnapshot(exec.ID)
	go func() {
		_, _ = o.run(ctx, exec, def)
	}()
	return initial, nil
}

func (o *Orchestrator) prepare(name string, inputs map[string]any) (*domain.PlaybookExecution, domain.PlaybookDefinition, error) {
	if o.library == nil {
		return nil, domain.PlaybookDefinition{}, fmt.Errorf("no playbook source configured")
	}
	def, err := o.library.Playbook(name)
	if err != nil {
		return nil, domain.PlaybookDefinition{}, fmt.Errorf("load playbook %s: %w", name, err)
	}

	exec := &domain.PlaybookExecution{
		ID:           uuid.NewString(),
		PlaybookName: def.Name,
		Status:       domain.StatusRunning,
		Inputs:       cloneMap(inputs),
		StartedAt:    o.now(),
	}
	for i, stepDef := range def.Steps {
		exec.Steps = append(exec.Steps, domain.StepExecution{
			ID:     fmt.Sprintf("%s-step-%d", exec.ID, i+1),
			Name:   stepDef.Name,
			Status: domain.StatusPending,
			Method: stepDef.Method,
		})
	}

	o.mu.Lock()
	o.executions[exec.ID] = exec
	o.active[exec.ID] = struct{}{}
	started := snapshot(exec)
	o.mu.Unlock()

	o.publish(events.PlaybookStarted, started)
	return exec, def, nil
}

func (o *Orchestrator) run(ctx context.Context, exec *domain.PlaybookExecution, def domain.PlaybookDefinition) (domain.PlaybookExecution, error) {
	running := cloneMap(exec.Inputs)

	for i, stepDef := range def.Steps {
		if !o.waitAtBoundary(exec.ID) {
			// Cancelled while paused or between steps; already settled.
			// Any allocation made after the cancel-time release must still
			// be freed here.
			final := o.mustSnapshot(exec.ID)
			o.releaseAll(final)
			return final, fmt.Errorf("playbook execution %s cancelled", exec.ID)
		}

		o.mu.Lock()
		step := &exec.Steps[i]
		step.Status = domain.StatusRunning
		step.Inputs = cloneMap(running)
		stepStarted := *step
		o.mu.Unlock()
		o.publishStep(events.StepStarted, exec.ID, stepStarted)

		allocation := o.Resources.Allocate(step.ID, stepDef.Requirements)
		if !allocation.Success {
			return o.failExecution(exec, i, allocation.Warnings, allocationError(allocation))
		}

		o.mu.Lock()
		step.Resources = allocation.Allocated
		step.Warnings = append(step.Warnings, allocation.Warnings...)
		o.mu.Unlock()

		result, err := o.Executor.ExecuteStep(ctx, domain.ExecutionContext{
			StepID:    step.ID,
			Method:    step.Method,
			Inputs:    cloneMap(running),
			Resources: allocation.Allocated,
		})
		if err != nil {
			return o.failExecution(exec, i, nil, fmt.Errorf("step %s: %w", stepDef.Name, err))
		}

		o.mu.Lock()
		step.Status = domain.StatusCompleted
		step.Outputs = result.Outputs
		stepDone := *step
		o.mu.Unlock()
		o.publishStep(events.StepCompleted, exec.ID, stepDone)

		for k, v := range result.Outputs {
			running[k] = v
		}
	}

	o.mu.Lock()
	if exec.Status.Terminal() {
		// Cancelled while the final step was in flight; that step's
		// allocation postdates the cancel-time release.
		final := snapshot(exec)
		o.mu.Unlock()
		o.releaseAll(final)
		return final, fmt.Errorf("playbook execution %s cancelled", exec.ID)
	}
	exec.Status = domain.StatusCompleted
	if n := len(exec.Steps); n > 0 {
		exec.Outputs = exec.Steps[n-1].Outputs
	}
	finished := o.now()
	exec.FinishedAt = &finished
	delete(o.active, exec.ID)
	final := snapshot(exec)
	o.mu.Unlock()

	o.releaseAll(final)
	o.publish(events.PlaybookCompleted, final)
	return final, nil
}

// waitAtBoundary blocks while the execution is paused and reports whether
// the step loop may proceed.
func (o *Orchestrator) waitAtBoundary(id string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	exec := o.executions[id]
	for exec.Status == domain.StatusPaused {
		o.cond.Wait()
	}
	return exec.Status == domain.StatusRunning
}

func (o *Orchestrator) failExecution(exec *domain.PlaybookExecution, stepIdx int, warnings []string, cause error) (domain.PlaybookExecution, error) {
	o.mu.Lock()
	if exec.Status.Terminal() {
		final := snapshot(exec)
		o.mu.Unlock()
		o.releaseAll(final)
		return final, cause
	}
	step := &exec.Steps[stepIdx]
	step.Status = domain.StatusFailed
	step.Warnings = append(step.Warnings, warnings...)
	step.Errors = append(step.Errors, cause.Error())
	exec.Status = domain.StatusFailed
	finished := o.now()
	exec.FinishedAt = &finished
	delete(o.active, exec.ID)
	final := snapshot(exec)
	o.mu.Unlock()

	o.releaseAll(final)
	o.publish(events.PlaybookFailed, final)
	return final, cause
}

func (o *Orchestrator) publishStep(kind events.Kind, execID string, step domain.StepExecution) {
	o.bus.Publish(events.Notification{
		Kind:       kind,
		EntityKind: "step_execution",
		EntityID:   step.ID,
		Payload: map[string]any{
			"execution_id": execID,
			"step":         step,
		},
	})
}

func (o *Orchestrator) mustSnapshot(id string) domain.PlaybookExecution {
	o.mu.Lock()
	defer o.mu.Unlock()
	return snapshot(o.executions[id])
}

func allocationError(result domain.AllocationResult) error {
	names := make([]string, 0, len(result.Failures))
	for _, f := range result.Failures {
		names = append(names, f.Requirement)
	}
	return fmt.Errorf("Resource allocation failed: %v", names)
}

func cloneMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
