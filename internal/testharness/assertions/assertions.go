// Package assertions provides assertion helpers for the IRC test harness.
package assertions

import "fmt"

// Result represents the outcome of an assertion.
type Result struct {
	// Passed indicates if the assertion passed.
	Passed bool

	// Message describes the assertion result.
	Message string

	// Expected is the expected value (for error messages).
	Expected interface{}

	// Actual is the actual value (for error messages).
	Actual interface{}
}

// Pass creates a passing result.
func Pass(message string) *Result {
	return &Result{Passed: true, Message: message}
}

// Fail creates a failing result.
func Fail(message string, expected, actual interface{}) *Result {
	return &Result{
		Passed:   false,
		Message:  message,
		Expected: expected,
		Actual:   actual,
	}
}

// Err returns nil for a passing result and an error describing the
// failure otherwise.
func (r *Result) Err() error {
	if r.Passed {
		return nil
	}
	return fmt.Errorf("%s: expected %v, got %v", r.Message, r.Expected, r.Actual)
}
