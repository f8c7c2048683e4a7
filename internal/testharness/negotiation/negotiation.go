// Package negotiation implements IRCv3 capability negotiation from both
// sides of the connection: Server drives a client under test, Client drives
// a server under test.
package negotiation

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/irctest/irctest-go/internal/testharness/assertions"
	"github.com/irctest/irctest-go/pkg/log"
	"github.com/irctest/irctest-go/pkg/message"
)

// State is the negotiation state.
type State int

const (
	// StateAwaitingLS is the state before the peer's CAP LS was seen.
	StateAwaitingLS State = iota
	// StateNegotiating means LS was exchanged and REQ/ACK/NAK may follow.
	StateNegotiating
	// StateEnded means CAP END, or a non-CAP command, was processed.
	StateEnded
	// StateSkipped means the peer did not negotiate at all.
	StateSkipped
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateAwaitingLS:
		return "AwaitingLS"
	case StateNegotiating:
		return "Negotiating"
	case StateEnded:
		return "Ended"
	case StateSkipped:
		return "Skipped"
	default:
		return "Unknown"
	}
}

// Terminal reports whether no further negotiation can happen.
func (s State) Terminal() bool {
	return s == StateEnded || s == StateSkipped
}

// Version is the CAP protocol version announced with CAP LS.
type Version int

const (
	// VersionNone means no CAP LS was exchanged.
	VersionNone Version = 0
	// Version301 is a bare "CAP LS".
	Version301 Version = 301
	// Version302 is "CAP LS 302".
	Version302 Version = 302
)

var (
	// ErrProtocol indicates the peer violated the CAP grammar.
	ErrProtocol = errors.New("CAP protocol violation")

	// ErrNAK indicates the server refused a CAP REQ.
	ErrNAK = errors.New("capability request refused")
)

// Conn is the message stream a negotiator runs on. *transport.Session
// satisfies it.
type Conn interface {
	ReadMessage() (message.Message, error)
	SendLine(line string) error
}

// Option configures a negotiator.
type Option func(*machine)

// WithLogger reports state transitions to a protocol logger.
func WithLogger(logger log.Logger, connID string) Option {
	return func(m *machine) {
		m.logger = logger
		m.connID = connID
	}
}

// machine holds the state shared by both negotiator sides.
type machine struct {
	conn    Conn
	state   State
	version Version
	acked   map[string]struct{}

	logger log.Logger
	connID string
	role   log.Role
}

func newMachine(conn Conn, role log.Role, opts []Option) machine {
	m := machine{
		conn:  conn,
		acked: make(map[string]struct{}),
		role:  role,
	}
	for _, opt := range opts {
		opt(&m)
	}
	return m
}

func (m *machine) setState(next State, reason string) {
	if m.state == next {
		return
	}
	prev := m.state
	m.state = next
	if m.logger == nil {
		return
	}
	m.logger.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: m.connID,
		Category:     log.CategoryState,
		LocalRole:    m.role,
		StateChange: &log.StateChangeEvent{
			Entity:   log.StateEntityNegotiation,
			OldState: prev.String(),
			NewState: next.String(),
			Reason:   reason,
		},
	})
}

// State returns the current state.
func (m *machine) State() State { return m.state }

// Version returns the negotiated CAP version.
func (m *machine) Version() Version { return m.version }

// Acked returns the acknowledged capability names, sorted.
func (m *machine) Acked() []string {
	out := make([]string, 0, len(m.acked))
	for name := range m.acked {
		out = append(out, name)
	}
	slices.Sort(out)
	return out
}

// IsAcked reports whether the capability was acknowledged.
func (m *machine) IsAcked(name string) bool {
	_, ok := m.acked[name]
	return ok
}

// CapName strips an "=value" suffix from a capability token.
func CapName(token string) string {
	name, _, _ := strings.Cut(token, "=")
	return name
}

func protocolError(msg message.Message, format string, args ...any) error {
	return fmt.Errorf("%w: %s: %q", ErrProtocol, fmt.Sprintf(format, args...), msg.String())
}

// checkShape compares a registration command against its expected param
// count.
func checkShape(msg message.Message, params int) error {
	return assertions.CheckMessage(msg, assertions.Fields{ParamCount: params})
}
