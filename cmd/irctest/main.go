// Command irctest runs IRC conformance cases against a server or client
// implementation.
//
// The implementation under test is described by a profile: how to render
// its config, start it and stop it. Server profiles are started on a free
// port and the cases connect to them; client profiles are pointed at a
// listener the cases own.
//
// Usage:
//
//	irctest [flags] [case-pattern]
//
// Flags:
//
//	-profile string       Profile name, profile file, fake-server or fake-client
//	-profiles string      Directory to look up -profile in (default: bundled profiles)
//	-mode string          Case kind to run: server, client (default: the profile's kind)
//	-run string           Regular expression selecting cases by ID or name
//	-spec string          Comma-separated specs (IRCv3.2, RFC1459, RFC2812)
//	-timeout duration     Per-case timeout (default 30s)
//	-retries int          Extra runs for cases failing on infrastructure errors
//	-show-io              Echo every line sent and received
//	-drain-wait duration  How long to wait for more lines when draining (default 100ms)
//	-json                 Output results as JSON
//	-junit                Output results as JUnit XML
//	-protocol-log string  File path for protocol event logging (CBOR format)
//	-log-file string      Also write operational logs as JSON to this rotating file
//	-log-level string     Operational log level (default "info")
//	-list                 List the selected cases and exit
//	-verbose              Print the logs of every case
//
// Examples:
//
//	# Run the server cases against Oragono
//	irctest -profile oragono
//
//	# Run labeled-response cases only, echoing traffic
//	irctest -profile oragono -show-io "^labeled-response/"
//
//	# Check the harness against its own fake server
//	irctest -profile fake-server -spec IRCv3.2
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/irctest/irctest-go/internal/testharness/harness"
	"github.com/irctest/irctest-go/internal/testharness/runner"
	irclog "github.com/irctest/irctest-go/pkg/log"
	"github.com/irctest/irctest-go/pkg/transport"
)

var (
	profile     = flag.String("profile", "", "Profile name, profile file, fake-server or fake-client")
	profileDir  = flag.String("profiles", "", "Directory to look up -profile in (default: bundled profiles)")
	mode        = flag.String("mode", "", "Case kind to run: server, client (default: the profile's kind)")
	pattern     = flag.String("run", "", "Regular expression selecting cases by ID or name")
	specs       = flag.String("spec", "", "Comma-separated specs (IRCv3.2, RFC1459, RFC2812)")
	timeout     = flag.Duration("timeout", 30*time.Second, "Per-case timeout")
	retries     = flag.Int("retries", 0, "Extra runs for cases failing on infrastructure errors")
	showIO      = flag.Bool("show-io", false, "Echo every line sent and received")
	drainWait   = flag.Duration("drain-wait", transport.DefaultDrainWait, "How long to wait for more lines when draining")
	jsonOut     = flag.Bool("json", false, "Output results as JSON")
	junitOut    = flag.Bool("junit", false, "Output results as JUnit XML")
	protocolLog = flag.String("protocol-log", "", "File path for protocol event logging (CBOR format)")
	logFile     = flag.String("log-file", "", "Also write operational logs as JSON to this rotating file")
	logLevel    = flag.String("log-level", "info", "Operational log level (debug, info, warn, error)")
	listOnly    = flag.Bool("list", false, "List the selected cases and exit")
	failFast    = flag.Bool("failfast", false, "Stop after the first failed case")
	verbose     = flag.Bool("verbose", false, "Print the logs of every case")
)

func main() {
	flag.Parse()
	os.Exit(run())
}

func run() int {
	if flag.NArg() > 0 {
		*pattern = flag.Arg(0)
	}

	if *profile == "" {
		fmt.Fprintln(os.Stderr, "Error: a profile is required (-profile)")
		flag.Usage()
		return 2
	}
	if *mode != "" && *mode != "server" && *mode != "client" {
		fmt.Fprintf(os.Stderr, "Error: mode must be 'server' or 'client', got '%s'\n", *mode)
		flag.Usage()
		return 2
	}

	level, err := parseLevel(*logLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 2
	}
	logger, closeLog := newLogger(os.Stderr, level, *logFile)
	defer closeLog.Close()
	slog.SetDefault(logger)

	outputFormat := "text"
	if *jsonOut {
		outputFormat = "json"
	} else if *junitOut {
		outputFormat = "junit"
	}

	var protocolLogger *irclog.FileLogger
	if *protocolLog != "" {
		protocolLogger, err = irclog.NewFileLogger(*protocolLog)
		if err != nil {
			logger.Error("failed to create protocol logger", "path", *protocolLog, "error", err)
			return 1
		}
		defer func() {
			_ = protocolLogger.Close()
			written, dropped := protocolLogger.Counts()
			logger.Info("protocol log closed", "path", *protocolLog, "events", written, "dropped", dropped)
		}()
		logger.Info("protocol logging enabled", "path", *protocolLog)
	}

	hcfg := harness.DefaultConfig()
	hcfg.DisplayIO = *showIO
	hcfg.Output = os.Stderr
	hcfg.DrainWait = *drainWait

	var processOutput io.Writer
	if *verbose {
		processOutput = os.Stderr
	}

	config := &runner.Config{
		Profile:            *profile,
		ProfileDir:         *profileDir,
		Mode:               *mode,
		Pattern:            *pattern,
		Specs:              *specs,
		Timeout:            *timeout,
		Retry:              runner.RetryPolicy{Attempts: 1 + *retries, BaseDelay: 500 * time.Millisecond},
		StopOnFirstFailure: *failFast,
		Verbose:            *verbose,
		Output:             os.Stdout,
		OutputFormat:       outputFormat,
		ProcessOutput:      processOutput,
		Harness:            hcfg,
		Logger:             logger,
	}
	// At debug level protocol events also reach the operational log.
	// Only set loggers when non-nil to avoid typed-nil interface issue.
	switch {
	case level <= slog.LevelDebug && protocolLogger != nil:
		config.ProtocolLogger = irclog.NewMultiLogger(irclog.NewSlogAdapter(logger), protocolLogger)
	case level <= slog.LevelDebug:
		config.ProtocolLogger = irclog.NewSlogAdapter(logger)
	case protocolLogger != nil:
		config.ProtocolLogger = protocolLogger
	}

	r, err := runner.New(config)
	if err != nil {
		logger.Error("setup failed", "profile", *profile, "error", err)
		return 1
	}
	defer func() {
		if err := r.Close(); err != nil {
			logger.Warn("stopping software under test failed", "error", err)
		}
	}()

	if *listOnly {
		for _, c := range r.Cases() {
			fmt.Fprintf(os.Stdout, "%-45s %s\n", c.ID, c.Name)
		}
		return 0
	}

	logger.Info("running cases", "software", r.Software(), "cases", len(r.Cases()))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	result, err := r.Run(ctx)
	if err != nil {
		logger.Error("run aborted", "error", err)
		return 1
	}
	if result.FailCount > 0 {
		return 1
	}
	return 0
}
