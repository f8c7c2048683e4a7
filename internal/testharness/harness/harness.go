// Package harness is the base of every IRC conformance case. ClientCase
// tests client software: the harness listens and the client under test
// connects to it. ServerCase tests server software: the harness starts the
// server and connects simulated clients to it.
//
// Both variants take an explicit TB, satisfied by *testing.T and by the
// case engine, and register their teardown with TB.Cleanup. Teardown also
// runs when TB.Context is done, so a case whose deadline expired is
// unblocked from any pending read.
package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/irctest/irctest-go/internal/testharness/assertions"
	"github.com/irctest/irctest-go/internal/testharness/controller"
	"github.com/irctest/irctest-go/pkg/log"
	"github.com/irctest/irctest-go/pkg/message"
	"github.com/irctest/irctest-go/pkg/transport"
)

// TB is the part of testing.TB the harness needs.
type TB interface {
	Helper()
	Name() string
	Logf(format string, args ...any)
	Errorf(format string, args ...any)
	Fatalf(format string, args ...any)
	FailNow()
	Failed() bool
	Skipf(format string, args ...any)
	SkipNow()
	Cleanup(func())
	Context() context.Context
}

// ErrorReporter is implemented by test contexts that keep the error value
// of a fatal failure instead of only its text.
type ErrorReporter interface {
	FatalError(err error)
}

// Filter selects messages in GetMessage. A nil Filter accepts everything.
type Filter func(message.Message) bool

// Not inverts a filter.
func Not(f Filter) Filter {
	return func(m message.Message) bool { return !f(m) }
}

// Command matches messages with one of the given commands.
func Command(commands ...string) Filter {
	return func(m message.Message) bool {
		for _, c := range commands {
			if m.Command == c {
				return true
			}
		}
		return false
	}
}

// Config configures a case.
type Config struct {
	// Host to bind and connect on (default: 127.0.0.1).
	Host string

	// DisplayIO echoes every line to Output.
	DisplayIO bool

	// Output receives the echo (default: os.Stdout).
	Output io.Writer

	// ProtocolLogger records every line and state change (optional).
	ProtocolLogger log.Logger

	// Logger receives operational messages such as teardown failures.
	Logger *slog.Logger

	// DrainWait bounds GetMessages (default: 100ms).
	DrainWait time.Duration

	// ConnectTimeout bounds accepting and dialing (default: 10s).
	ConnectTimeout time.Duration

	// SendRate and SendBurst pace outgoing lines (0 = unlimited).
	SendRate  float64
	SendBurst int
}

// DefaultConfig returns the default case configuration.
func DefaultConfig() Config {
	return Config{
		Host:           transport.DefaultHost,
		DrainWait:      transport.DefaultDrainWait,
		ConnectTimeout: 10 * time.Second,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.DrainWait < 0 {
		return fmt.Errorf("drain wait must not be negative: %v", c.DrainWait)
	}
	if c.ConnectTimeout < 0 {
		return fmt.Errorf("connect timeout must not be negative: %v", c.ConnectTimeout)
	}
	if c.SendRate < 0 || c.SendBurst < 0 {
		return errors.New("send rate and burst must not be negative")
	}
	return nil
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Host == "" {
		c.Host = d.Host
	}
	if c.DrainWait <= 0 {
		c.DrainWait = d.DrainWait
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = d.ConnectTimeout
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// base holds what ClientCase and ServerCase share.
type base struct {
	t   TB
	cfg Config

	teardownOnce sync.Once
	teardownFn   func()
	stopAfter    func() bool
}

func (b *base) init(t TB, cfg Config, teardown func()) {
	b.t = t
	b.cfg = cfg.withDefaults()
	b.teardownFn = teardown
	t.Cleanup(b.Teardown)
	b.stopAfter = context.AfterFunc(t.Context(), b.Teardown)
}

// Teardown releases the controller and every session. It runs at most
// once and never fails the test.
func (b *base) Teardown() {
	b.teardownOnce.Do(func() {
		if b.stopAfter != nil {
			b.stopAfter()
		}
		b.teardownFn()
	})
}

func (b *base) sessionConfig(name string) transport.Config {
	return transport.Config{
		Host:           b.cfg.Host,
		Name:           name,
		DisplayIO:      b.cfg.DisplayIO,
		Output:         b.cfg.Output,
		ProtocolLogger: b.cfg.ProtocolLogger,
		TestID:         b.t.Name(),
		DrainWait:      b.cfg.DrainWait,
		SendRate:       b.cfg.SendRate,
		SendBurst:      b.cfg.SendBurst,
	}
}

// fatal fails the test with err and stops it.
func (b *base) fatal(err error) {
	b.t.Helper()
	if r, ok := b.t.(ErrorReporter); ok {
		r.FatalError(err)
	}
	b.t.Fatalf("%v", err)
}

// startController runs ctrl, skipping the test when an option is not
// supported.
func (b *base) startController(ctrl controller.Controller, host string, port int, opts controller.Options) {
	b.t.Helper()
	err := ctrl.Run(b.t.Context(), host, port, opts)
	if errors.Is(err, controller.ErrUnsupported) {
		b.t.Skipf("%v", err)
	}
	if err != nil {
		b.fatal(fmt.Errorf("start %s: %w", ctrl.SoftwareName(), err))
	}
}

func (b *base) killController(ctrl controller.Controller) {
	if ctrl == nil {
		return
	}
	if err := ctrl.Kill(); err != nil {
		b.cfg.Logger.Warn("kill controller failed", "software", ctrl.SoftwareName(), "error", err)
	}
}

func (b *base) sendLine(s *transport.Session, line string) {
	b.t.Helper()
	if err := s.SendLine(line); err != nil {
		b.fatal(err)
	}
}

func (b *base) getLine(s *transport.Session) string {
	b.t.Helper()
	line, err := s.ReadLine()
	if err != nil {
		b.fatal(err)
	}
	return line
}

func (b *base) getMessage(s *transport.Session, filter Filter) message.Message {
	b.t.Helper()
	for {
		msg, err := message.Parse(b.getLine(s))
		if err != nil {
			b.fatal(err)
		}
		if filter == nil || filter(msg) {
			return msg
		}
	}
}

func (b *base) getMessages(s *transport.Session) []message.Message {
	b.t.Helper()
	lines, err := s.DrainAvailable(b.cfg.DrainWait)
	if err != nil {
		b.fatal(err)
	}
	msgs := make([]message.Message, 0, len(lines))
	for _, line := range lines {
		msg, err := message.Parse(line)
		if err != nil {
			b.fatal(err)
		}
		msgs = append(msgs, msg)
	}
	return msgs
}

// expectDisconnect reads until the peer closes the connection, returning
// what arrived before.
func (b *base) expectDisconnect(s *transport.Session) []message.Message {
	b.t.Helper()
	deadline := time.Now().Add(b.cfg.ConnectTimeout)
	var msgs []message.Message
	for time.Now().Before(deadline) {
		lines, err := s.DrainAvailable(b.cfg.DrainWait)
		for _, line := range lines {
			if msg, perr := message.Parse(line); perr == nil {
				msgs = append(msgs, msg)
			}
		}
		if errors.Is(err, transport.ErrConnectionClosed) {
			return msgs
		}
		if err != nil {
			b.fatal(err)
		}
	}
	b.fatal(fmt.Errorf("%s still connected after %v", s.Name(), b.cfg.ConnectTimeout))
	return msgs
}

// AssertMessageEqual fails the test with a *assertions.MismatchError that
// lists every field of msg differing from f.
func (b *base) AssertMessageEqual(msg message.Message, f assertions.Fields) {
	b.t.Helper()
	if err := assertions.CheckMessage(msg, f); err != nil {
		b.fatal(err)
	}
}

// AssertHasTag fails the test unless msg carries key.
func (b *base) AssertHasTag(msg message.Message, key string) {
	b.t.Helper()
	b.require(assertions.HasTag(msg, key))
}

// AssertLacksTag fails the test if msg carries key.
func (b *base) AssertLacksTag(msg message.Message, key string) {
	b.t.Helper()
	b.require(assertions.LacksTag(msg, key))
}

// AssertTagEqual fails the test unless msg carries key with value.
func (b *base) AssertTagEqual(msg message.Message, key, value string) {
	b.t.Helper()
	b.require(assertions.TagEqual(msg, key, value))
}

func (b *base) require(r *assertions.Result) {
	b.t.Helper()
	if !r.Passed {
		b.fatal(r.Err())
	}
}
