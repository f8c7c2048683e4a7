package runner

import (
	"errors"
	"io"
	"net"
	"strings"

	"github.com/irctest/irctest-go/internal/testharness/assertions"
	"github.com/irctest/irctest-go/internal/testharness/engine"
	"github.com/irctest/irctest-go/internal/testharness/loader"
	"github.com/irctest/irctest-go/internal/testharness/negotiation"
	"github.com/irctest/irctest-go/pkg/message"
	"github.com/irctest/irctest-go/pkg/transport"
)

// ErrorCategory classifies case failures for retry decisions.
type ErrorCategory int

const (
	// ErrCatInfrastructure means network/timing issues that may resolve on retry.
	ErrCatInfrastructure ErrorCategory = iota
	// ErrCatSoftware means the software under test misbehaved (don't retry).
	ErrCatSoftware
	// ErrCatSetup means the profile or configuration is broken (don't retry).
	ErrCatSetup
)

func (c ErrorCategory) String() string {
	switch c {
	case ErrCatInfrastructure:
		return "infrastructure"
	case ErrCatSoftware:
		return "software"
	case ErrCatSetup:
		return "setup"
	default:
		return "unknown"
	}
}

// ClassifiedError wraps an error with a category for retry decisions.
type ClassifiedError struct {
	Category ErrorCategory
	Err      error
}

func (e *ClassifiedError) Error() string { return e.Err.Error() }
func (e *ClassifiedError) Unwrap() error { return e.Err }

// Infrastructure wraps an error as an infrastructure (retryable) error.
func Infrastructure(err error) error {
	return &ClassifiedError{Category: ErrCatInfrastructure, Err: err}
}

// Software wraps an error as a software-under-test (non-retryable) error.
func Software(err error) error {
	return &ClassifiedError{Category: ErrCatSoftware, Err: err}
}

// Setup wraps an error as a setup (non-retryable) error.
func Setup(err error) error {
	return &ClassifiedError{Category: ErrCatSetup, Err: err}
}

// Category extracts the error category. Unclassified errors are
// classified by Classify.
func Category(err error) ErrorCategory {
	var ce *ClassifiedError
	if errors.As(Classify(err), &ce) {
		return ce.Category
	}
	return ErrCatSoftware
}

// Classify wraps a case error with the category its cause suggests.
// Errors that are already classified are returned unchanged.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return err
	}

	// What the software sent, or that it hung up, is known to be wrong.
	var mismatch *assertions.MismatchError
	if errors.As(err, &mismatch) ||
		errors.Is(err, message.ErrMalformed) ||
		errors.Is(err, negotiation.ErrProtocol) ||
		errors.Is(err, negotiation.ErrNAK) ||
		errors.Is(err, transport.ErrConnectionClosed) {
		return Software(err)
	}

	var le *loader.LoadError
	if errors.As(err, &le) {
		return Setup(err)
	}

	if errors.Is(err, engine.ErrTimeout) || isIOError(err) {
		return Infrastructure(err)
	}

	// Unclassified: conservative (don't retry).
	return Software(err)
}

// isIOError returns true for IO/network-level errors that indicate
// infrastructure problems.
func isIOError(err error) bool {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	if errors.Is(err, transport.ErrTransport) || transport.IsTimeout(err) {
		return true
	}
	var netErr *net.OpError
	if errors.As(err, &netErr) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "broken pipe") ||
		strings.Contains(msg, "connection refused")
}
