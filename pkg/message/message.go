// Package message implements the IRC wire line codec.
//
// A line has the shape
//
//	[@tags SPACE] [:prefix SPACE] command [params...] [SPACE :trailing]
//
// with tags escaped per IRCv3 message-tags. Framing and validation are
// delegated to ircmsg; this package adds the immutable Message value the
// harness passes around and deterministic tag order on output. Parse and
// Line are inverse operations: Parse(m.Line()) is field-equal to m.
package message

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/ergochat/irc-go/ircmsg"
)

// ErrMalformed indicates a line that cannot be parsed as an IRC message.
var ErrMalformed = errors.New("malformed message")

// MalformedError describes why a line failed to parse.
type MalformedError struct {
	// Line is the offending input, terminator stripped.
	Line string

	// Reason describes what was wrong with it.
	Reason string

	// Err is the underlying ircmsg error, if any.
	Err error
}

func (e *MalformedError) Error() string {
	return fmt.Sprintf("malformed message %q: %s", e.Line, e.Reason)
}

// Unwrap allows errors.Is against ErrMalformed and the ircmsg cause.
func (e *MalformedError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrMalformed}
	}
	return []error{ErrMalformed, e.Err}
}

// Message is one parsed IRC line. Treat values as immutable; the With*
// helpers return modified copies.
type Message struct {
	// Tags maps tag keys (possibly "+"-prefixed client tags) to unescaped
	// values. An empty value means the tag was present without a value.
	Tags map[string]string

	// Prefix is the message source (e.g. nick!user@host), empty when absent.
	Prefix string

	// Command is the upper-cased verb or 3-digit numeric.
	Command string

	// Params are the command parameters; the trailing parameter, if any, is
	// the last element.
	Params []string
}

// New creates a message with the given command and params.
func New(command string, params ...string) Message {
	return Message{Command: strings.ToUpper(command), Params: params}
}

// WithTags returns a copy of m carrying the given tags.
func (m Message) WithTags(tags map[string]string) Message {
	cp := make(map[string]string, len(tags))
	for k, v := range tags {
		cp[k] = v
	}
	m.Tags = cp
	return m
}

// WithPrefix returns a copy of m with the given source prefix.
func (m Message) WithPrefix(prefix string) Message {
	m.Prefix = prefix
	return m
}

// Tag returns the value of a tag and whether it was present.
func (m Message) Tag(key string) (string, bool) {
	v, ok := m.Tags[key]
	return v, ok
}

// HasTag reports whether the tag is present, with or without a value.
func (m Message) HasTag(key string) bool {
	_, ok := m.Tags[key]
	return ok
}

// Nick returns the nickname part of a nick!user@host prefix.
func (m Message) Nick() string {
	if i := strings.IndexAny(m.Prefix, "!@"); i >= 0 {
		return m.Prefix[:i]
	}
	return m.Prefix
}

// Last returns the final parameter, or "" when there are none.
func (m Message) Last() string {
	if len(m.Params) == 0 {
		return ""
	}
	return m.Params[len(m.Params)-1]
}

// Equal reports field equality. A nil and an empty tag map are equal.
func (m Message) Equal(o Message) bool {
	if m.Prefix != o.Prefix || m.Command != o.Command {
		return false
	}
	if len(m.Params) != len(o.Params) || len(m.Tags) != len(o.Tags) {
		return false
	}
	for i := range m.Params {
		if m.Params[i] != o.Params[i] {
			return false
		}
	}
	for k, v := range m.Tags {
		ov, ok := o.Tags[k]
		if !ok || ov != v {
			return false
		}
	}
	return true
}

// Parse parses one IRC line. A trailing CRLF or LF is ignored.
func Parse(line string) (Message, error) {
	raw := strings.TrimSuffix(strings.TrimSuffix(line, "\n"), "\r")
	if raw == "" {
		return Message{}, &MalformedError{Line: raw, Reason: "empty line", Err: ircmsg.ErrorLineIsEmpty}
	}

	parsed, err := ircmsg.ParseLineStrict(raw, false, 0)
	if err != nil {
		return Message{}, &MalformedError{Line: raw, Reason: err.Error(), Err: err}
	}

	m := Message{
		Prefix:  parsed.Source,
		Command: strings.ToUpper(parsed.Command),
		Params:  parsed.Params,
	}
	if tags := parsed.AllTags(); len(tags) > 0 {
		m.Tags = tags
	}
	return m, nil
}

// Line serializes m without a line terminator. Tags are written in key
// order so output is deterministic. A message that has no wire form, such
// as one with a space inside a middle param, yields a *MalformedError.
func (m Message) Line() (string, error) {
	wire := ircmsg.MakeMessage(nil, m.Prefix, m.Command, m.Params...)
	body, err := wire.Line()
	if err != nil {
		return "", &MalformedError{Line: m.debugString(), Reason: err.Error(), Err: err}
	}
	body = strings.TrimRight(body, "\r\n")
	if len(m.Tags) == 0 {
		return body, nil
	}

	var b strings.Builder
	b.WriteByte('@')
	for i, k := range slices.Sorted(maps.Keys(m.Tags)) {
		if i > 0 {
			b.WriteByte(';')
		}
		b.WriteString(k)
		if v := m.Tags[k]; v != "" {
			b.WriteByte('=')
			b.WriteString(ircmsg.EscapeTagValue(v))
		}
	}
	b.WriteByte(' ')
	b.WriteString(body)
	return b.String(), nil
}

// String returns the wire form of m, or a readable rendering when m has no
// valid wire form.
func (m Message) String() string {
	line, err := m.Line()
	if err != nil {
		return m.debugString()
	}
	return line
}

func (m Message) debugString() string {
	return fmt.Sprintf("%s %q", m.Command, m.Params)
}
