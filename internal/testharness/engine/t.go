package engine

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	"github.com/irctest/irctest-go/internal/testharness/harness"
)

// T is the test context handed to a case body. Fatal and Skip methods stop
// the calling goroutine, which must be the case's own goroutine.
type T struct {
	name   string
	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	failed     bool
	skipped    bool
	skipReason string
	err        error
	logs       []string
	cleanups   []func()
}

var (
	_ harness.TB            = (*T)(nil)
	_ harness.ErrorReporter = (*T)(nil)
)

func newT(ctx context.Context, name string) *T {
	ctx, cancel := context.WithCancel(ctx)
	return &T{name: name, ctx: ctx, cancel: cancel}
}

// Helper is a no-op; it exists to satisfy harness.TB.
func (t *T) Helper() {}

// Name returns the case ID.
func (t *T) Name() string { return t.name }

// Context is canceled when the case times out or finishes.
func (t *T) Context() context.Context { return t.ctx }

// Logf records a log line.
func (t *T) Logf(format string, args ...any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.logs = append(t.logs, fmt.Sprintf(format, args...))
}

// Errorf records a failure and continues.
func (t *T) Errorf(format string, args ...any) {
	t.Logf(format, args...)
	t.mu.Lock()
	t.failed = true
	if t.err == nil {
		t.err = fmt.Errorf(format, args...)
	}
	t.mu.Unlock()
}

// Fatalf records a failure and stops the case.
func (t *T) Fatalf(format string, args ...any) {
	t.Errorf(format, args...)
	t.FailNow()
}

// FatalError records err as the failure cause. The harness calls it right
// before Fatalf so the result keeps the error value.
func (t *T) FatalError(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.err == nil {
		t.err = err
	}
}

// FailNow marks the case failed and stops it.
func (t *T) FailNow() {
	t.mu.Lock()
	t.failed = true
	t.mu.Unlock()
	runtime.Goexit()
}

// Failed reports whether the case has failed.
func (t *T) Failed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.failed
}

// Skipf records the reason and stops the case as skipped.
func (t *T) Skipf(format string, args ...any) {
	reason := fmt.Sprintf(format, args...)
	t.Logf("%s", reason)
	t.mu.Lock()
	t.skipReason = reason
	t.mu.Unlock()
	t.SkipNow()
}

// SkipNow stops the case as skipped.
func (t *T) SkipNow() {
	t.mu.Lock()
	t.skipped = true
	t.mu.Unlock()
	runtime.Goexit()
}

// Cleanup registers f to run, in reverse order, when the case ends.
func (t *T) Cleanup(f func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cleanups = append(t.cleanups, f)
}

// runCleanups pops and runs cleanups until none are left, so cleanups
// registered by cleanups run too.
func (t *T) runCleanups() {
	for {
		t.mu.Lock()
		n := len(t.cleanups)
		if n == 0 {
			t.mu.Unlock()
			return
		}
		f := t.cleanups[n-1]
		t.cleanups = t.cleanups[:n-1]
		t.mu.Unlock()
		f()
	}
}

func (t *T) fillResult(r *TestResult) {
	t.mu.Lock()
	defer t.mu.Unlock()
	r.Logs = append([]string(nil), t.logs...)
	switch {
	case t.failed:
		r.Status = StatusFailed
		r.Error = t.err
	case t.skipped:
		r.Status = StatusSkipped
		r.SkipReason = t.skipReason
	default:
		r.Status = StatusPassed
	}
}
