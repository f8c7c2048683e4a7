// Package engine runs IRC conformance cases. Each case body gets a *T,
// which satisfies harness.TB, and runs on its own goroutine so that Fatal
// and Skip can stop it.
package engine

import (
	"time"

	"github.com/irctest/irctest-go/internal/testharness/controller"
	"github.com/irctest/irctest-go/internal/testharness/harness"
	"github.com/irctest/irctest-go/internal/testharness/loader"
)

// Spec names a specification a case checks.
type Spec string

// Known specifications.
const (
	SpecIRCv32  Spec = "IRCv3.2"
	SpecRFC1459 Spec = "RFC1459"
	SpecRFC2812 Spec = "RFC2812"
)

// KnownSpecs lists the specifications accepted by ParseSpecs.
var KnownSpecs = []Spec{SpecIRCv32, SpecRFC1459, SpecRFC2812}

// Env is what a case body works with.
type Env struct {
	// Server is set for server cases.
	Server controller.ServerController

	// Client is set for client cases.
	Client controller.ClientController

	// Harness configures the case's sessions.
	Harness harness.Config
}

// Case is one conformance check.
type Case struct {
	// ID is unique within a catalog, for example "labeled-response/privmsg-to-client".
	ID string

	// Name is a human-readable description.
	Name string

	// Kind selects the software under test.
	Kind loader.Kind

	// Specs the case is required by.
	Specs []Spec

	// Timeout overrides EngineConfig.DefaultTimeout when set.
	Timeout time.Duration

	// Run is the case body.
	Run func(t *T, env Env)
}

// Status is the outcome of a case.
type Status int

// Case outcomes.
const (
	StatusPassed Status = iota
	StatusFailed
	StatusSkipped
)

// String returns the lower-case name of the status.
func (s Status) String() string {
	switch s {
	case StatusPassed:
		return "passed"
	case StatusFailed:
		return "failed"
	case StatusSkipped:
		return "skipped"
	default:
		return "unknown"
	}
}

// TestResult represents the outcome of a single case.
type TestResult struct {
	// Case is the case that was executed.
	Case *Case

	// Status of the run.
	Status Status

	// Error is the error that caused failure, if any.
	Error error

	// SkipReason explains why the case was skipped.
	SkipReason string

	// Logs holds everything the case logged, failures included.
	Logs []string

	// Duration is how long the case took.
	Duration time.Duration

	// StartTime when the case started.
	StartTime time.Time

	// EndTime when the case finished.
	EndTime time.Time
}

// Passed reports whether the case passed.
func (r *TestResult) Passed() bool { return r.Status == StatusPassed }

// Skipped reports whether the case was skipped.
func (r *TestResult) Skipped() bool { return r.Status == StatusSkipped }

// SuiteResult represents the outcome of running a list of cases.
type SuiteResult struct {
	// SuiteName identifies the run, usually the software under test.
	SuiteName string

	// Results contains results for each case.
	Results []*TestResult

	// PassCount is the number of passed cases.
	PassCount int

	// FailCount is the number of failed cases.
	FailCount int

	// SkipCount is the number of skipped cases.
	SkipCount int

	// Duration is the total time for all cases.
	Duration time.Duration
}

// EngineConfig configures the engine.
type EngineConfig struct {
	// DefaultTimeout bounds each case.
	DefaultTimeout time.Duration

	// GracePeriod is how long a timed-out case may take to unwind before
	// the engine abandons it.
	GracePeriod time.Duration

	// StopOnFirstFailure stops execution after the first failed case.
	StopOnFirstFailure bool

	// OnTestComplete, if set, is called after each case.
	OnTestComplete func(*TestResult)
}

// DefaultConfig returns the default engine configuration.
func DefaultConfig() *EngineConfig {
	return &EngineConfig{
		DefaultTimeout: 30 * time.Second,
		GracePeriod:    5 * time.Second,
	}
}
