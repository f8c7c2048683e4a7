package assertions_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/irctest/irctest-go/internal/testharness/assertions"
	"github.com/irctest/irctest-go/pkg/message"
)

func mustParse(t *testing.T, line string) message.Message {
	t.Helper()
	m, err := message.Parse(line)
	if err != nil {
		t.Fatalf("Parse(%q): %v", line, err)
	}
	return m
}

func TestCheckMessagePasses(t *testing.T) {
	msg := mustParse(t, "@draft/label=12345 :bar!u@h PRIVMSG foo :hi there")

	tests := []struct {
		name   string
		fields assertions.Fields
	}{
		{"empty", assertions.Fields{}},
		{"command lowercase", assertions.Fields{Command: "privmsg"}},
		{"params", assertions.Fields{Params: []string{"foo", "hi there"}}},
		{"prefix and nick", assertions.Fields{Prefix: "bar!u@h", Nick: "bar"}},
		{"tags", assertions.Fields{Tags: map[string]string{"draft/label": "12345"}}},
		{"param count", assertions.Fields{ParamCount: 2}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := assertions.CheckMessage(msg, tt.fields); err != nil {
				t.Errorf("unexpected mismatch: %v", err)
			}
		})
	}
}

func TestCheckMessageReportsAllFields(t *testing.T) {
	msg := mustParse(t, ":srv NOTICE * :hello")

	err := assertions.CheckMessage(msg, assertions.Fields{
		Command:  "PRIVMSG",
		Params:   []string{"foo", "hi"},
		NoPrefix: true,
		Tags:     map[string]string{"label": "x"},
	})

	var mm *assertions.MismatchError
	if !errors.As(err, &mm) {
		t.Fatalf("expected *MismatchError, got %v", err)
	}
	got := strings.Join(mm.Fields(), ",")
	if got != "command,prefix,params,tags" {
		t.Errorf("fields: got %q, want command,prefix,params,tags", got)
	}
	if !strings.Contains(err.Error(), "NOTICE") {
		t.Errorf("error should include the message: %v", err)
	}
}

func TestCheckMessageEmptyTagsMatchNil(t *testing.T) {
	msg := mustParse(t, "PING x")
	if err := assertions.CheckMessage(msg, assertions.Fields{Tags: map[string]string{}}); err != nil {
		t.Errorf("empty expectation should match untagged message: %v", err)
	}
	tagged := mustParse(t, "@a PING x")
	if err := assertions.CheckMessage(tagged, assertions.Fields{Tags: map[string]string{}}); err == nil {
		t.Error("empty expectation should reject tagged message")
	}
}

func TestCheckMessageSubcommand(t *testing.T) {
	msg := mustParse(t, ":srv CAP foo ACK :sasl echo-message")

	if err := assertions.CheckMessage(msg, assertions.Fields{
		Command:    "CAP",
		Target:     "foo",
		Subcommand: "ack",
		Subparams:  []string{"sasl echo-message"},
	}); err != nil {
		t.Errorf("unexpected mismatch: %v", err)
	}

	err := assertions.CheckMessage(msg, assertions.Fields{Subcommand: "NAK", Subparams: []string{"sasl"}})
	var mm *assertions.MismatchError
	if !errors.As(err, &mm) {
		t.Fatalf("expected *MismatchError, got %v", err)
	}
	if got := strings.Join(mm.Fields(), ","); got != "subcommand,subparams" {
		t.Errorf("fields: got %q", got)
	}
}

func TestCheckMessageSubcommandNeedsThreeParams(t *testing.T) {
	msg := mustParse(t, "CAP END")
	err := assertions.CheckMessage(msg, assertions.Fields{Subcommand: "END"})
	var mm *assertions.MismatchError
	if !errors.As(err, &mm) {
		t.Fatalf("expected *MismatchError, got %v", err)
	}
	if len(mm.Mismatches) != 1 || mm.Mismatches[0].Field != "param count" {
		t.Errorf("unexpected mismatches: %v", mm.Mismatches)
	}
}

func TestTagAssertions(t *testing.T) {
	msg := mustParse(t, "@draft/label=12345;+typing=active :a!b@c TAGMSG #chan")

	if r := assertions.HasTag(msg, "draft/label"); !r.Passed {
		t.Error("HasTag should pass")
	}
	if r := assertions.HasTag(msg, "batch"); r.Passed {
		t.Error("HasTag should fail for missing tag")
	}
	if r := assertions.LacksTag(msg, "batch"); !r.Passed {
		t.Error("LacksTag should pass")
	}
	if r := assertions.LacksTag(msg, "+typing"); r.Passed {
		t.Error("LacksTag should fail for present tag")
	}
	if r := assertions.TagEqual(msg, "draft/label", "12345"); !r.Passed {
		t.Error("TagEqual should pass")
	}
	if r := assertions.TagEqual(msg, "draft/label", "1"); r.Passed || r.Err() == nil {
		t.Error("TagEqual should fail for a different value")
	}
}

func TestMessageEqualResult(t *testing.T) {
	msg := mustParse(t, "PING :x")
	if r := assertions.MessageEqual(msg, assertions.Fields{Command: "PING"}); !r.Passed || r.Err() != nil {
		t.Errorf("MessageEqual should pass: %s", r.Message)
	}
	if r := assertions.MessageEqual(msg, assertions.Fields{Command: "PONG"}); r.Passed {
		t.Error("MessageEqual should fail")
	}
}

func TestCheckMessageTargetAlone(t *testing.T) {
	msg := mustParse(t, ":srv 001 foo :Welcome")
	if err := assertions.CheckMessage(msg, assertions.Fields{Command: "001", Target: "foo"}); err != nil {
		t.Errorf("two-param welcome should match on target: %v", err)
	}

	err := assertions.CheckMessage(msg, assertions.Fields{Command: "001", Target: "bar"})
	var mm *assertions.MismatchError
	if !errors.As(err, &mm) {
		t.Fatalf("expected *MismatchError, got %v", err)
	}
	if got := strings.Join(mm.Fields(), ","); got != "target" {
		t.Errorf("fields: got %q", got)
	}

	err = assertions.CheckMessage(mustParse(t, "PING"), assertions.Fields{Target: "foo"})
	if !errors.As(err, &mm) || mm.Fields()[0] != "target" {
		t.Errorf("target on a message without params should mismatch, got %v", err)
	}
}
