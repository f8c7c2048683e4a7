package runner

import (
	"context"
	"time"

	"github.com/irctest/irctest-go/internal/testharness/engine"
)

// RetryPolicy controls how often a case that failed for infrastructure
// reasons is run again. Failures blamed on the software under test are
// never retried.
type RetryPolicy struct {
	Attempts  int           // total runs per case; values below 1 mean 1
	BaseDelay time.Duration // pause before the first rerun
	MaxDelay  time.Duration // cap on the pause (defaults to 5s if zero)
}

func (p RetryPolicy) attempts() int {
	return max(p.Attempts, 1)
}

// delay returns the pause before rerun n (0-based): BaseDelay * 2^n,
// capped at MaxDelay.
func (p RetryPolicy) delay(n int) time.Duration {
	limit := p.MaxDelay
	if limit == 0 {
		limit = 5 * time.Second
	}
	return min(p.BaseDelay<<uint(n), limit)
}

// retryable reports whether r is a failure worth another run.
func retryable(r *engine.TestResult) bool {
	return r.Status == engine.StatusFailed && Category(r.Error) == ErrCatInfrastructure
}

// runWithRetry calls run until it yields a result that is not retryable,
// the attempts are used up or ctx is done. It returns the last result and
// the number of runs.
func runWithRetry(ctx context.Context, p RetryPolicy, run func() *engine.TestResult) (*engine.TestResult, int) {
	result := run()
	runs := 1
	for runs < p.attempts() && retryable(result) {
		timer := time.NewTimer(p.delay(runs - 1))
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return result, runs
		}
		result = run()
		runs++
	}
	return result, runs
}
