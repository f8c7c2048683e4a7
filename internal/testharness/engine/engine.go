package engine

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrTimeout is the failure cause of a case that exceeded its timeout.
var ErrTimeout = errors.New("case timed out")

// Engine executes cases.
type Engine struct {
	config *EngineConfig
}

// New creates a new engine with default configuration.
func New() *Engine {
	return NewWithConfig(DefaultConfig())
}

// NewWithConfig creates a new engine with the given configuration.
func NewWithConfig(config *EngineConfig) *Engine {
	if config == nil {
		config = DefaultConfig()
	}
	d := DefaultConfig()
	if config.DefaultTimeout <= 0 {
		config.DefaultTimeout = d.DefaultTimeout
	}
	if config.GracePeriod <= 0 {
		config.GracePeriod = d.GracePeriod
	}
	return &Engine{config: config}
}

// Run executes a single case.
func (e *Engine) Run(ctx context.Context, c *Case, env Env) *TestResult {
	result := &TestResult{
		Case:      c,
		StartTime: time.Now(),
	}
	defer func() {
		result.EndTime = time.Now()
		result.Duration = result.EndTime.Sub(result.StartTime)
	}()

	timeout := e.config.DefaultTimeout
	if c.Timeout > 0 {
		timeout = c.Timeout
	}
	caseCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	t := newT(caseCtx, c.ID)
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer t.cancel()
		defer t.runCleanups()
		defer func() {
			if r := recover(); r != nil {
				t.mu.Lock()
				t.failed = true
				t.err = fmt.Errorf("panic: %v", r)
				t.mu.Unlock()
			}
		}()
		c.Run(t, env)
	}()

	timedOut := false
	select {
	case <-done:
	case <-caseCtx.Done():
		timedOut = errors.Is(caseCtx.Err(), context.DeadlineExceeded)
		// Cancellation tears down the harness, which unblocks pending
		// reads; give the case a moment to unwind.
		select {
		case <-done:
		case <-time.After(e.config.GracePeriod):
		}
	}

	t.fillResult(result)
	if timedOut && result.Status != StatusSkipped {
		result.Status = StatusFailed
		result.Error = fmt.Errorf("%w after %v: %w", ErrTimeout, timeout, timeoutCause(result.Error))
	}
	return result
}

func timeoutCause(err error) error {
	if err == nil {
		return context.DeadlineExceeded
	}
	return err
}

// RunSuite executes cases in order.
func (e *Engine) RunSuite(ctx context.Context, name string, cases []*Case, env Env) *SuiteResult {
	result := &SuiteResult{
		SuiteName: name,
	}

	startTime := time.Now()
	defer func() { result.Duration = time.Since(startTime) }()

	for _, c := range cases {
		select {
		case <-ctx.Done():
			return result
		default:
		}

		testResult := e.Run(ctx, c, env)
		result.Results = append(result.Results, testResult)

		switch testResult.Status {
		case StatusSkipped:
			result.SkipCount++
		case StatusPassed:
			result.PassCount++
		default:
			result.FailCount++
		}

		if e.config.OnTestComplete != nil {
			e.config.OnTestComplete(testResult)
		}

		if testResult.Status == StatusFailed && e.config.StopOnFirstFailure {
			break
		}
	}

	return result
}
