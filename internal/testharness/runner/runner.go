// Package runner resolves the implementation under test, selects the cases
// that apply to it and runs them.
package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/irctest/irctest-go/internal/testharness/cases"
	"github.com/irctest/irctest-go/internal/testharness/controller"
	"github.com/irctest/irctest-go/internal/testharness/engine"
	"github.com/irctest/irctest-go/internal/testharness/harness"
	"github.com/irctest/irctest-go/internal/testharness/loader"
	"github.com/irctest/irctest-go/internal/testharness/mock"
	"github.com/irctest/irctest-go/internal/testharness/negotiation"
	"github.com/irctest/irctest-go/internal/testharness/reporter"
	"github.com/irctest/irctest-go/pkg/log"
	"github.com/irctest/irctest-go/profiles"
)

// Built-in profile names backed by the in-process fakes.
const (
	FakeServer = "fake-server"
	FakeClient = "fake-client"
)

// ErrNoCases is returned when the selection matches nothing.
var ErrNoCases = errors.New("no cases selected")

// Config configures the runner.
type Config struct {
	// Profile is a profile name, a path to a profile file, or one of
	// FakeServer and FakeClient.
	Profile string

	// ProfileDir is searched for Profile by name. Empty means the profiles
	// bundled with the binary.
	ProfileDir string

	// Mode is "server" or "client". Empty means the profile's kind.
	Mode string

	// Pattern filters cases by ID or name (regular expression).
	Pattern string

	// Specs is a comma-separated spec list, e.g. "IRCv3.2,RFC2812".
	Specs string

	// Timeout is the per-case timeout.
	Timeout time.Duration

	// Retry reruns cases that failed for infrastructure reasons.
	Retry RetryPolicy

	// StopOnFirstFailure stops after the first failed case.
	StopOnFirstFailure bool

	// Verbose prints the logs of every case, not just failed ones.
	Verbose bool

	// Output is where to write results (default: os.Stdout).
	Output io.Writer

	// OutputFormat is "text", "json", or "junit".
	OutputFormat string

	// ProcessOutput receives stdout/stderr of the software under test.
	ProcessOutput io.Writer

	// Harness configures every case. Its loggers are filled from Logger
	// and ProtocolLogger when unset.
	Harness harness.Config

	// Logger receives operational messages.
	Logger *slog.Logger

	// ProtocolLogger receives structured protocol events for debugging.
	// Set to nil to disable protocol logging.
	ProtocolLogger log.Logger
}

// Runner executes the selected cases against one implementation.
type Runner struct {
	config   *Config
	engine   *engine.Engine
	reporter reporter.Reporter
	logger   *slog.Logger
	software string
	kind     loader.Kind
	env      engine.Env
	cases    []*engine.Case
}

// New resolves the implementation under test and selects cases. Errors
// are classified as setup errors.
func New(config *Config) (*Runner, error) {
	if config.Output == nil {
		config.Output = os.Stdout
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	hcfg := config.Harness
	if hcfg.Logger == nil {
		hcfg.Logger = logger
	}
	if hcfg.ProtocolLogger == nil && config.ProtocolLogger != nil {
		hcfg.ProtocolLogger = config.ProtocolLogger
	}
	if err := hcfg.Validate(); err != nil {
		return nil, Setup(err)
	}

	r := &Runner{
		config: config,
		logger: logger,
		engine: engine.NewWithConfig(&engine.EngineConfig{
			DefaultTimeout:     config.Timeout,
			StopOnFirstFailure: config.StopOnFirstFailure,
		}),
		reporter: newReporter(config),
		env:      engine.Env{Harness: hcfg},
	}

	if err := r.resolve(); err != nil {
		return nil, Setup(err)
	}

	selected, err := r.selectCases()
	if err != nil {
		return nil, Setup(err)
	}
	r.cases = selected
	return r, nil
}

func newReporter(config *Config) reporter.Reporter {
	switch config.OutputFormat {
	case "json":
		return reporter.NewJSONReporter(config.Output, true)
	case "junit":
		return reporter.NewJUnitReporter(config.Output)
	default:
		return reporter.NewTextReporter(config.Output, config.Verbose)
	}
}

// resolve turns config.Profile into the controller under test.
func (r *Runner) resolve() error {
	switch r.config.Profile {
	case "":
		return errors.New("no profile given")
	case FakeServer:
		srv := &mock.ServerController{Config: mock.ServerConfig{Logger: r.logger}}
		r.env.Server, r.software, r.kind = srv, srv.SoftwareName(), loader.KindServer
	case FakeClient:
		cli := &mock.ClientController{Script: mock.ClientScript{Version: negotiation.Version302}}
		r.env.Client, r.software, r.kind = cli, cli.SoftwareName(), loader.KindClient
	default:
		p, err := r.loadProfile()
		if err != nil {
			return err
		}
		ctrl := controller.NewProfileController(p, r.config.ProcessOutput, r.config.ProtocolLogger)
		r.software, r.kind = p.Software, p.Kind
		if p.Kind == loader.KindServer {
			r.env.Server = ctrl
		} else {
			r.env.Client = ctrl
		}
	}

	if r.config.Mode != "" && loader.Kind(r.config.Mode) != r.kind {
		return fmt.Errorf("profile %s is a %s, cannot run %s cases", r.config.Profile, r.kind, r.config.Mode)
	}
	return nil
}

func (r *Runner) loadProfile() (*loader.Profile, error) {
	ref := r.config.Profile
	if r.config.ProfileDir != "" || strings.ContainsRune(ref, os.PathSeparator) ||
		strings.HasSuffix(ref, ".yaml") || strings.HasSuffix(ref, ".yml") {
		return loader.Resolve(ref, r.config.ProfileDir)
	}
	bundled, err := loader.LoadFS(profiles.FS)
	if err != nil {
		return nil, err
	}
	p, ok := loader.Find(bundled, ref)
	if !ok {
		return nil, &loader.LoadError{Message: "no bundled profile named " + ref}
	}
	return p, nil
}

func (r *Runner) selectCases() ([]*engine.Case, error) {
	sel := engine.Selector{Kind: r.kind}
	if r.config.Specs != "" {
		specs, err := engine.ParseSpecs(r.config.Specs)
		if err != nil {
			return nil, err
		}
		sel.Specs = specs
	}
	if r.config.Pattern != "" {
		re, err := regexp.Compile(r.config.Pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid pattern: %w", err)
		}
		sel.Pattern = re
	}
	selected := sel.Select(cases.All())
	if len(selected) == 0 {
		return nil, ErrNoCases
	}
	return selected, nil
}

// Software returns the display name of the implementation under test.
func (r *Runner) Software() string {
	return r.software
}

// Cases returns the selected cases in run order.
func (r *Runner) Cases() []*engine.Case {
	return r.cases
}

// Run executes the selected cases, reports them and returns the suite
// result. Failures are logged with their category.
func (r *Runner) Run(ctx context.Context) (*engine.SuiteResult, error) {
	suite := &engine.SuiteResult{SuiteName: r.software}
	start := time.Now()

	for _, c := range r.cases {
		if err := ctx.Err(); err != nil {
			return suite, err
		}

		result, runs := runWithRetry(ctx, r.config.Retry, func() *engine.TestResult {
			return r.engine.Run(ctx, c, r.env)
		})
		suite.Results = append(suite.Results, result)

		switch result.Status {
		case engine.StatusPassed:
			suite.PassCount++
		case engine.StatusSkipped:
			suite.SkipCount++
		case engine.StatusFailed:
			suite.FailCount++
			r.logger.Warn("case failed",
				"case", c.ID,
				"category", Category(result.Error).String(),
				"runs", runs,
				"error", result.Error)
		}

		if result.Status == engine.StatusFailed && r.config.StopOnFirstFailure {
			break
		}
	}

	suite.Duration = time.Since(start)
	r.reporter.ReportSuite(suite)
	return suite, nil
}

// Close stops the controller under test if a case left it running.
func (r *Runner) Close() error {
	var errs []error
	if r.env.Server != nil {
		errs = append(errs, r.env.Server.Kill())
	}
	if r.env.Client != nil {
		errs = append(errs, r.env.Client.Kill())
	}
	return errors.Join(errs...)
}
