package runner

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/irctest/irctest-go/internal/testharness/assertions"
	"github.com/irctest/irctest-go/internal/testharness/engine"
	"github.com/irctest/irctest-go/pkg/transport"
)

func failed(err error) *engine.TestResult {
	return &engine.TestResult{Status: engine.StatusFailed, Error: err}
}

func TestRunWithRetry_PassesFirstTime(t *testing.T) {
	calls := 0
	result, runs := runWithRetry(context.Background(), RetryPolicy{Attempts: 3}, func() *engine.TestResult {
		calls++
		return &engine.TestResult{Status: engine.StatusPassed}
	})
	if !result.Passed() || runs != 1 || calls != 1 {
		t.Fatalf("got status %v after %d runs (%d calls), want one passing run", result.Status, runs, calls)
	}
}

func TestRunWithRetry_RerunsInfrastructureFailures(t *testing.T) {
	calls := 0
	result, runs := runWithRetry(context.Background(), RetryPolicy{Attempts: 3, BaseDelay: time.Millisecond}, func() *engine.TestResult {
		calls++
		if calls < 3 {
			return failed(fmt.Errorf("%w: dial: connection refused", transport.ErrTransport))
		}
		return &engine.TestResult{Status: engine.StatusPassed}
	})
	if !result.Passed() {
		t.Fatalf("expected pass on third run, got %v: %v", result.Status, result.Error)
	}
	if runs != 3 {
		t.Fatalf("expected 3 runs, got %d", runs)
	}
}

func TestRunWithRetry_StopsOnSoftwareFailure(t *testing.T) {
	calls := 0
	mismatch := &assertions.MismatchError{}
	result, runs := runWithRetry(context.Background(), RetryPolicy{Attempts: 5, BaseDelay: time.Millisecond}, func() *engine.TestResult {
		calls++
		return failed(mismatch)
	})
	if runs != 1 || calls != 1 {
		t.Fatalf("expected a single run for a software failure, got %d", runs)
	}
	if !errors.Is(result.Error, mismatch) {
		t.Fatalf("expected the mismatch error, got %v", result.Error)
	}
}

func TestRunWithRetry_NeverRetriesSkips(t *testing.T) {
	_, runs := runWithRetry(context.Background(), RetryPolicy{Attempts: 5}, func() *engine.TestResult {
		return &engine.TestResult{Status: engine.StatusSkipped}
	})
	if runs != 1 {
		t.Fatalf("expected 1 run, got %d", runs)
	}
}

func TestRunWithRetry_ExhaustsAttempts(t *testing.T) {
	calls := 0
	result, runs := runWithRetry(context.Background(), RetryPolicy{Attempts: 3, BaseDelay: time.Millisecond}, func() *engine.TestResult {
		calls++
		return failed(fmt.Errorf("%w: %w", engine.ErrTimeout, errors.New("no reply")))
	})
	if runs != 3 || calls != 3 {
		t.Fatalf("expected 3 runs, got %d", runs)
	}
	if result.Passed() {
		t.Fatal("expected the last failure to be returned")
	}
}

func TestRunWithRetry_RespectsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	start := time.Now()
	_, runs := runWithRetry(ctx, RetryPolicy{Attempts: 10, BaseDelay: 500 * time.Millisecond}, func() *engine.TestResult {
		cancel()
		return failed(fmt.Errorf("%w: read timeout", transport.ErrTransport))
	})
	if runs != 1 {
		t.Fatalf("expected 1 run after cancellation, got %d", runs)
	}
	if elapsed := time.Since(start); elapsed > 200*time.Millisecond {
		t.Fatalf("took too long (%v), context cancellation not respected", elapsed)
	}
}

func TestRetryPolicyDelay(t *testing.T) {
	p := RetryPolicy{BaseDelay: 100 * time.Millisecond, MaxDelay: 250 * time.Millisecond}
	want := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 250 * time.Millisecond}
	for n, w := range want {
		if got := p.delay(n); got != w {
			t.Errorf("delay(%d) = %v, want %v", n, got, w)
		}
	}
	if got := (RetryPolicy{}).attempts(); got != 1 {
		t.Errorf("zero policy attempts = %d, want 1", got)
	}
}
