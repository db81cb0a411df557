package execution

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"playline/internal/domain"
	"playline/internal/events"
)

// ErrAllStrategiesFailed is returned when every mode in the chain is
// exhausted.
var ErrAllStrategiesFailed = errors.New("All execution strategies failed")

// Manager executes steps under the current policy. Policy reads and
// updates are serialized; in-flight executions keep the snapshot they
// started with.
type Manager struct {
	mu         sync.Mutex
	policy     Policy
	strategies map[domain.ExecutionType]Strategy
	active     map[string]*activeExecution

	bus           *events.Bus
	now           func() time.Time
	retryInterval time.Duration
}

type activeExecution struct {
	mu           sync.Mutex
	overrideUser string
	override     bool
}

type Options struct {
	Bus        *events.Bus
	Now        func() time.Time
	Policy     *Policy
	Strategies []Strategy

	// RetryInitialInterval seeds the exponential backoff between attempts.
	RetryInitialInterval time.Duration
}

func NewManager(opts Options) *Manager {
	bus := opts.Bus
	if bus == nil {
		bus = events.NewBus()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	policy := DefaultPolicy()
	if opts.Policy != nil {
		policy = *opts.Policy
	}
	interval := opts.RetryInitialInterval
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	m := &Manager{
		policy:        policy,
		strategies:    make(map[domain.ExecutionType]Strategy),
		active:        make(map[string]*activeExecution),
		bus:           bus,
		now:           now,
		retryInterval: interval,
	}
	for _, s := range opts.Strategies {
		m.strategies[s.Type()] = s
	}
	return m
}

// RegisterStrategy installs or replaces the strategy for a mode.
func (m *Manager) RegisterStrategy(s Strategy) {
	m.mu.Lock()
	m.strategies[s.Type()] = s
	m.mu.Unlock()
}

// Policy returns the current policy snapshot.
func (m *Manager) Policy() Policy {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.policy
}

// UpdatePolicy merges a partial update into the live policy. Subsequent
// ExecuteStep calls observe the new policy immediately.
func (m *Manager) UpdatePolicy(patch PolicyPatch) Policy {
	m.mu.Lock()
	m.policy = m.policy.apply(patch)
	updated := m.policy
	m.mu.Unlock()

	m.bus.Publish(events.Notification{
		Kind:       events.ConfigUpdated,
		EntityKind: "execution_policy",
		Payload:    updated,
	})
	return updated
}

// RequestHumanOverride forces the next chain decision for an in-flight
// step to human mode. Authorization is the host application's concern.
func (m *Manager) RequestHumanOverride(stepID, userID string) error {
	m.mu.Lock()
	allowed := m.policy.AllowHumanOverride
	tracked, ok := m.active[stepID]
	m.mu.Unlock()
	if !allowed {
		return fmt.Errorf("human override disabled by policy")
	}
	if !ok {
		return fmt.Errorf("no in-flight execution for step %s", stepID)
	}
	tracked.mu.Lock()
	tracked.override = true
	tracked.overrideUser = userID
	tracked.mu.Unlock()
	return nil
}

// ExecuteStep walks the effective strategy chain for one step. On failure
// of a mode, the chain advances only when the last error suggests
// fallback; otherwise the call fails immediately.
func (m *Manager) ExecuteStep(ctx context.Context, ec domain.ExecutionContext) (domain.ExecutionResult, error) {
	m.mu.Lock()
	policy := m.policy
	tracked := &activeExecution{}
	m.active[ec.StepID] = tracked
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		delete(m.active, ec.StepID)
		m.mu.Unlock()
	}()

	chain := policy.effectiveChain()
	if len(chain) == 0 {
		return failedResult(domain.ExecutionType(""), 0, nil), ErrAllStrategiesFailed
	}

	started := m.now()
	for i := 0; i < len(chain); i++ {
		mode := chain[i]
		if user, overridden := m.consumeOverride(tracked); overridden {
			mode = domain.ExecutionHuman
			i = len(chain) // the override bypasses the rest of the chain
			ec.UserID = user
		}

		m.mu.Lock()
		strategy, ok := m.strategies[mode]
		m.mu.Unlock()
		if !ok {
			continue
		}

		outputs, logs, execErr, attempts := m.executeWithRetry(ctx, strategy, ec, policy)
		if execErr == nil {
			return domain.ExecutionResult{
				Success:       true,
				Outputs:       outputs,
				ExecutionType: mode,
				Duration:      m.now().Sub(started),
				Logs:          logs,
			}, nil
		}

		modeErr := fmt.Errorf("Strategy %s failed after %d attempts: %w", mode, attempts, execErr)
		if !execErr.FallbackSuggested {
			result := failedResult(mode, m.now().Sub(started), execErr)
			result.Logs = logs
			return result, modeErr
		}
	}
	return failedResult(chain[len(chain)-1], m.now().Sub(started), nil), ErrAllStrategiesFailed
}

func (m *Manager) consumeOverride(tracked *activeExecution) (string, bool) {
	tracked.mu.Lock()
	defer tracked.mu.Unlock()
	if !tracked.override {
		return "", false
	}
	tracked.override = false
	return tracked.overrideUser, true
}

// executeWithRetry runs up to MaxRetries attempts of one strategy, each
// racing the policy timeout, waiting with exponential backoff in between.
func (m *Manager) executeWithRetry(ctx context.Context, strategy Strategy, ec domain.ExecutionContext, policy Policy) (map[string]any, []string, *domain.ExecutionError, int) {
	maxAttempts := policy.MaxRetries
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var (
		outputs  map[string]any
		logs     []string
		lastErr  *domain.ExecutionError
		attempts int
	)
	operation := func() error {
		attempts++
		out, lg, err := m.attempt(ctx, strategy, ec, policy.ExecutionTimeout)
		logs = append(logs, lg...)
		if err != nil {
			lastErr = classify(err)
			if !lastErr.Retryable {
				return backoff.Permanent(lastErr)
			}
			return lastErr
		}
		outputs = out
		lastErr = nil
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = m.retryInterval
	bo.MaxElapsedTime = 0
	err := backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(bo, uint64(maxAttempts-1)), ctx))
	if err != nil {
		return nil, logs, lastErr, attempts
	}
	return outputs, logs, nil, attempts
}

// attempt races one strategy execution against the policy timeout. A
// timeout abandons the attempt and surfaces as a retryable condition; the
// strategy goroutine is left to observe its cancelled context.
func (m *Manager) attempt(ctx context.Context, strategy Strategy, ec domain.ExecutionContext, timeout time.Duration) (map[string]any, []string, error) {
	attemptCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	type outcome struct {
		outputs map[string]any
		logs    []string
		err     error
	}
	done := make(chan outcome, 1)
	go func() {
		out, logs, err := strategy.Execute(attemptCtx, ec)
		done <- outcome{out, logs, err}
	}()

	select {
	case o := <-done:
		return o.outputs, o.logs, o.err
	case <-attemptCtx.Done():
		return nil, nil, &domain.ExecutionError{
			Code:              CodeTimeout,
			Message:           "execution attempt timed out",
			Retryable:         true,
			FallbackSuggested: true,
		}
	}
}

func classify(err error) *domain.ExecutionError {
	var execErr *domain.ExecutionError
	if errors.As(err, &execErr) {
		return execErr
	}
	return &domain.ExecutionError{
		Code:      "EXECUTION_ERROR",
		Message:   err.Error(),
		Retryable: false,
	}
}

func failedResult(mode domain.ExecutionType, duration time.Duration, execErr *domain.ExecutionError) domain.ExecutionResult {
	return domain.ExecutionResult{
		Success:       false,
		ExecutionType: mode,
		Duration:      duration,
		Error:         execErr,
	}
}
