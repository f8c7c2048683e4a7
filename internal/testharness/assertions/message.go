package assertions

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/irctest/irctest-go/pkg/message"
)

// Fields selects which parts of a message to compare. Zero values are not
// compared, except where noted.
type Fields struct {
	// Command is compared case-insensitively.
	Command string

	// Prefix is compared when non-empty.
	Prefix string

	// NoPrefix requires the message to carry no prefix.
	NoPrefix bool

	// Nick compares the nick part of the prefix.
	Nick string

	// Params is compared when non-nil. An empty slice expects no params.
	Params []string

	// ParamCount is compared when positive.
	ParamCount int

	// Tags is compared exactly when non-nil. An empty map expects no tags.
	Tags map[string]string

	// Target is compared against the first param when non-empty.
	Target string

	// Subcommand and Subparams compare a subcommand framed message such as
	// "CAP <target> <SUBCOMMAND> <subparams...>". Setting either requires
	// at least three params.
	Subcommand string
	Subparams  []string
}

func (f Fields) subcommandMode() bool {
	return f.Subcommand != "" || f.Subparams != nil
}

// FieldMismatch is one differing field.
type FieldMismatch struct {
	Field    string
	Expected interface{}
	Actual   interface{}
}

func (m FieldMismatch) String() string {
	return fmt.Sprintf("%s: expected %#v, got %#v", m.Field, m.Expected, m.Actual)
}

// MismatchError lists every field of a message that differed from the
// expectation.
type MismatchError struct {
	Message    message.Message
	Mismatches []FieldMismatch
}

func (e *MismatchError) Error() string {
	parts := make([]string, len(e.Mismatches))
	for i, m := range e.Mismatches {
		parts[i] = m.String()
	}
	return fmt.Sprintf("message %q does not match: %s", e.Message.String(), strings.Join(parts, "; "))
}

// Fields returns the names of the mismatching fields, in comparison order.
func (e *MismatchError) Fields() []string {
	names := make([]string, len(e.Mismatches))
	for i, m := range e.Mismatches {
		names[i] = m.Field
	}
	return names
}

// CheckMessage compares msg against f and returns a *MismatchError listing
// every differing field, or nil.
func CheckMessage(msg message.Message, f Fields) error {
	var mm []FieldMismatch
	add := func(field string, expected, actual interface{}) {
		mm = append(mm, FieldMismatch{Field: field, Expected: expected, Actual: actual})
	}

	if f.Command != "" && !strings.EqualFold(f.Command, msg.Command) {
		add("command", strings.ToUpper(f.Command), msg.Command)
	}
	if f.Prefix != "" && f.Prefix != msg.Prefix {
		add("prefix", f.Prefix, msg.Prefix)
	}
	if f.NoPrefix && msg.Prefix != "" {
		add("prefix", "", msg.Prefix)
	}
	if f.Nick != "" && f.Nick != msg.Nick() {
		add("nick", f.Nick, msg.Nick())
	}
	if f.Params != nil && !slices.Equal(f.Params, msg.Params) {
		add("params", f.Params, msg.Params)
	}
	if f.ParamCount > 0 && f.ParamCount != len(msg.Params) {
		add("param count", f.ParamCount, len(msg.Params))
	}
	if f.Tags != nil && !tagsEqual(f.Tags, msg.Tags) {
		add("tags", f.Tags, msg.Tags)
	}

	if f.Target != "" {
		switch {
		case len(msg.Params) == 0:
			add("target", f.Target, nil)
		case f.Target != msg.Params[0]:
			add("target", f.Target, msg.Params[0])
		}
	}
	if f.subcommandMode() {
		if len(msg.Params) < 3 {
			add("param count", "at least 3", len(msg.Params))
		} else {
			if f.Subcommand != "" && !strings.EqualFold(f.Subcommand, msg.Params[1]) {
				add("subcommand", f.Subcommand, msg.Params[1])
			}
			if f.Subparams != nil && !slices.Equal(f.Subparams, msg.Params[2:]) {
				add("subparams", f.Subparams, msg.Params[2:])
			}
		}
	}

	if len(mm) == 0 {
		return nil
	}
	return &MismatchError{Message: msg, Mismatches: mm}
}

func tagsEqual(a, b map[string]string) bool {
	if len(a) == 0 && len(b) == 0 {
		return true
	}
	return maps.Equal(a, b)
}

// MessageEqual is CheckMessage as a Result.
func MessageEqual(msg message.Message, f Fields) *Result {
	if err := CheckMessage(msg, f); err != nil {
		return Fail(err.Error(), f, msg.String())
	}
	return Pass(fmt.Sprintf("message matches: %s", msg.String()))
}

// HasTag asserts that msg carries tag key.
func HasTag(msg message.Message, key string) *Result {
	if msg.HasTag(key) {
		return Pass(fmt.Sprintf("message has tag %s", key))
	}
	return Fail(fmt.Sprintf("message lacks tag %s", key), key, msg.String())
}

// LacksTag asserts that msg does not carry tag key.
func LacksTag(msg message.Message, key string) *Result {
	if !msg.HasTag(key) {
		return Pass(fmt.Sprintf("message lacks tag %s", key))
	}
	v, _ := msg.Tag(key)
	return Fail(fmt.Sprintf("message has unexpected tag %s", key), "absent", v)
}

// TagEqual asserts that msg carries tag key with the given value.
func TagEqual(msg message.Message, key, value string) *Result {
	v, ok := msg.Tag(key)
	if !ok {
		return Fail(fmt.Sprintf("message lacks tag %s", key), value, "absent")
	}
	if v != value {
		return Fail(fmt.Sprintf("tag %s mismatch", key), value, v)
	}
	return Pass(fmt.Sprintf("tag %s is %q", key, value))
}
