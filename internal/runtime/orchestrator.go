// Package runtime wires the resource, capability, and execution managers
// together and walks playbook executions through their lifecycle.
package runtime

import (
	"sync"
	"time"

	"playline/internal/capability"
	"playline/internal/domain"
	"playline/internal/events"
	"playline/internal/execution"
	"playline/internal/resource"
)

// Source loads playbook definitions. The language front end that produces
// them lives outside this module.
type Source interface {
	Playbook(name string) (domain.PlaybookDefinition, error)
}

// Orchestrator owns playbook execution records. Steps run sequentially
// within a playbook; multiple playbooks may be in flight concurrently over
// the shared resource pool.
type Orchestrator struct {
	Resources    *resource.Manager
	Capabilities *capability.Registry
	Resolver     *capability.Resolver
	Executor     *execution.Manager

	mu         sync.Mutex
	cond       *sync.Cond
	executions map[string]*domain.PlaybookExecution
	active     map[string]struct{}

	library Source
	bus     *events.Bus
	now     func() time.Time
}

type Options struct {
	Resources    *resource.Manager
	Capabilities *capability.Registry
	Resolver     *capability.Resolver
	Executor     *execution.Manager
	Library      Source
	Bus          *events.Bus
	Now          func() time.Time
}

func NewOrchestrator(opts Options) *Orchestrator {
	bus := opts.Bus
	if bus == nil {
		bus = events.NewBus()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	o := &Orchestrator{
		Resources:    opts.Resources,
		Capabilities: opts.Capabilities,
		Resolver:     opts.Resolver,
		Executor:     opts.Executor,
		executions:   make(map[string]*domain.PlaybookExecution),
		active:       make(map[string]struct{}),
		library:      opts.Library,
		bus:          bus,
		now:          now,
	}
	o.cond = sync.NewCond(&o.mu)
	return o
}

// ExecutionStatus returns a copy of an execution record. Terminal records
// stay readable for diagnosis.
func (o *Orchestrator) ExecutionStatus(id string) (domain.PlaybookExecution, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	exec, ok := o.executions[id]
	if !ok {
		return domain.PlaybookExecution{}, false
	}
	return snapshot(exec), true
}

// ListActiveExecutions returns non-terminal executions.
func (o *Orchestrator) ListActiveExecutions() []domain.PlaybookExecution {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]domain.PlaybookExecution, 0, len(o.active))
	for id := range o.active {
		out = append(out, snapshot(o.executions[id]))
	}
	return out
}

// PauseExecution flips a running execution to paused. The in-flight step
// finishes; the loop blocks at the next step boundary.
func (o *Orchestrator) PauseExecution(id string) bool {
	o.mu.Lock()
	exec, ok := o.executions[id]
	if !ok || exec.Status != domain.StatusRunning {
		o.mu.Unlock()
		return false
	}
	exec.Status = domain.StatusPaused
	paused := snapshot(exec)
	o.mu.Unlock()

	o.publish(events.PlaybookPaused, paused)
	return true
}

// ResumeExecution flips a paused execution back to running.
func (o *Orchestrator) ResumeExecution(id string) bool {
	o.mu.Lock()
	exec, ok := o.executions[id]
	if !ok || exec.Status != domain.StatusPaused {
		o.mu.Unlock()
		return false
	}
	exec.Status = domain.StatusRunning
	resumed := snapshot(exec)
	o.cond.Broadcast()
	o.mu.Unlock()

	o.publish(events.PlaybookResumed, resumed)
	return true
}

// CancelExecution releases the execution's resources, settles it as a
// failed outcome, and removes it from the active set. Cancellation is
// cooperative: an in-flight step is not interrupted.
func (o *Orchestrator) CancelExecution(id string) bool {
	o.mu.Lock()
	exec, ok := o.executions[id]
	if !ok || exec.Status.Terminal() {
		o.mu.Unlock()
		return false
	}
	exec.Status = domain.StatusFailed
	finished := o.now()
	exec.FinishedAt = &finished
	delete(o.active, id)
	cancelled := snapshot(exec)
	o.cond.Broadcast()
	o.mu.Unlock()

	o.releaseAll(cancelled)
	o.publish(events.PlaybookCancelled, cancelled)
	return true
}

// Shutdown cancels every active execution.
func (o *Orchestrator) Shutdown() {
	o.mu.Lock()
	ids := make([]string, 0, len(o.active))
	for id := range o.active {
		ids = append(ids, id)
	}
	o.mu.Unlock()

	for _, id := range ids {
		o.CancelExecution(id)
	}
	o.bus.Publish(events.Notification{
		Kind:       events.RuntimeShutdown,
		EntityKind: "runtime",
		Payload:    map[string]any{"cancelled_executions": len(ids)},
	})
}

// Stats is the runtime snapshot including the live execution policy.
type Stats struct {
	domain.RuntimeStats
	ExecutionPolicy execution.Policy `json:"execution_policy"`
}

func (o *Orchestrator) RuntimeStats() Stats {
	o.mu.Lock()
	byStatus := map[domain.ExecutionStatus]int{}
	completed, failed := 0, 0
	for _, exec := range o.executions {
		byStatus[exec.Status]++
		switch exec.Status {
		case domain.StatusCompleted:
			completed++
		case domain.StatusFailed:
			failed++
		}
	}
	activeCount := len(o.active)
	o.mu.Unlock()

	return Stats{
		RuntimeStats: domain.RuntimeStats{
			ActiveExecutions:    activeCount,
			CompletedExecutions: completed,
			FailedExecutions:    failed,
			Resources:           o.Resources.UtilizationStats(),
			Capabilities:        o.Capabilities.MarketplaceInfo(),
			ExecutionsByStatus:  byStatus,
		},
		ExecutionPolicy: o.Executor.Policy(),
	}
}

func (o *Orchestrator) publish(kind events.Kind, exec domain.PlaybookExecution) {
	o.bus.Publish(events.Notification{
		Kind:       kind,
		EntityKind: "playbook_execution",
		EntityID:   exec.ID,
		Payload:    exec,
	})
}

// releaseAll frees resources held by every step of the execution. Release
// is idempotent, so this is safe to repeat.
func (o *Orchestrator) releaseAll(exec domain.PlaybookExecution) {
	for _, step := range exec.Steps {
		o.Resources.Release(step.ID)
	}
}

func snapshot(exec *domain.PlaybookExecution) domain.PlaybookExecution {
	out := *exec
	out.Steps = make([]domain.StepExecution, len(exec.Steps))
	copy(out.Steps, exec.Steps)
	return out
}
