package cases

import (
	"github.com/irctest/irctest-go/internal/testharness/assertions"
	"github.com/irctest/irctest-go/internal/testharness/engine"
	"github.com/irctest/irctest-go/internal/testharness/harness"
	"github.com/irctest/irctest-go/internal/testharness/loader"
	"github.com/irctest/irctest-go/pkg/message"
)

const testLabel = "12345"

var labeledCaps = []string{"batch", "echo-message", "draft/labeled-response"}

var labeledTagCaps = []string{"batch", "echo-message", "draft/labeled-response", "draft/message-tags-0.2"}

// LabeledResponse returns the labeled-response server cases.
func LabeledResponse() []*engine.Case {
	c := func(id, name string, run func(t *engine.T, env engine.Env)) *engine.Case {
		return &engine.Case{
			ID:    "labeled-response/" + id,
			Name:  name,
			Kind:  loader.KindServer,
			Specs: []engine.Spec{engine.SpecIRCv32},
			Run:   run,
		}
	}
	return []*engine.Case{
		c("privmsg-multiple-clients", "Labeled PRIVMSG to several clients is answered in a BATCH", labeledPrivmsgToMultipleClients),
		c("privmsg-client", "Labeled PRIVMSG echo carries the label, the recipient's copy does not", labeledToClient("PRIVMSG", labeledCaps, "PRIVMSG bar :hi")),
		c("privmsg-channel", "Labeled PRIVMSG to a channel", labeledToChannel("PRIVMSG", labeledCaps, "PRIVMSG #test :hi")),
		c("privmsg-self", "Labeled PRIVMSG to self is labeled exactly once", labeledToSelf("PRIVMSG", labeledCaps, "PRIVMSG foo :hi")),
		c("notice-client", "Labeled NOTICE echo carries the label, the recipient's copy does not", labeledToClient("NOTICE", labeledCaps, "NOTICE bar :hi")),
		c("notice-channel", "Labeled NOTICE to a channel", labeledToChannel("NOTICE", labeledCaps, "NOTICE #test :hi")),
		c("notice-self", "Labeled NOTICE to self is labeled exactly once", labeledToSelf("NOTICE", labeledCaps, "NOTICE foo :hi")),
		c("tagmsg-client", "Labeled TAGMSG keeps client tags on both copies", labeledTagmsgToClient),
		c("tagmsg-channel", "Labeled TAGMSG to a channel", labeledToChannel("TAGMSG", labeledTagCaps, "TAGMSG #test")),
		c("tagmsg-self", "Labeled TAGMSG to self is labeled exactly once", labeledToSelf("TAGMSG", labeledTagCaps, "TAGMSG foo")),
	}
}

// connectLabeled connects one client per nick with caps, draining each
// welcome burst.
func connectLabeled(s *harness.ServerCase, caps []string, nicks ...string) []string {
	names := make([]string, len(nicks))
	for i, nick := range nicks {
		names[i] = s.ConnectClient(nick, harness.ConnectOptions{Capabilities: caps, SkipIfCapNAK: true})
		s.GetMessages(names[i])
	}
	return names
}

func joinTest(s *harness.ServerCase, names ...string) {
	for _, name := range names {
		s.SendLine(name, "JOIN #test")
		s.GetMessages(name)
	}
	for _, name := range names {
		s.GetMessages(name)
	}
}

func labeledPrivmsgToMultipleClients(t *engine.T, env engine.Env) {
	s := harness.NewServerCase(t, env.Server, serverOptions(), env.Harness)
	names := connectLabeled(s, labeledCaps, "foo", "bar", "carl", "alice")

	s.SendLine(names[0], "@draft/label="+testLabel+" PRIVMSG bar,carl,alice :hi")
	m := s.GetMessage(names[0], nil)
	for _, name := range names[1:] {
		mt := s.GetMessage(name, nil)
		s.AssertMessageEqual(mt, assertions.Fields{Command: "PRIVMSG"})
		s.AssertLacksTag(mt, "draft/label")
	}
	s.AssertMessageEqual(m, assertions.Fields{Command: "BATCH"})
}

func labeledToClient(command string, caps []string, line string) func(t *engine.T, env engine.Env) {
	return func(t *engine.T, env engine.Env) {
		s := harness.NewServerCase(t, env.Server, serverOptions(), env.Harness)
		names := connectLabeled(s, caps, "foo", "bar")

		s.SendLine(names[0], "@draft/label="+testLabel+" "+line)
		m := s.GetMessage(names[0], nil)
		m2 := s.GetMessage(names[1], nil)

		s.AssertMessageEqual(m2, assertions.Fields{Command: command})
		s.AssertLacksTag(m2, "draft/label")

		s.AssertMessageEqual(m, assertions.Fields{Command: command})
		s.AssertTagEqual(m, "draft/label", testLabel)
	}
}

func labeledToChannel(command string, caps []string, line string) func(t *engine.T, env engine.Env) {
	return func(t *engine.T, env engine.Env) {
		s := harness.NewServerCase(t, env.Server, serverOptions(), env.Harness)
		names := connectLabeled(s, caps, "foo", "bar")
		joinTest(s, names...)

		s.SendLine(names[0], "@draft/label="+testLabel+";+draft/reply=123;+draft/react=l😃l "+line)
		ms := s.GetMessage(names[0], nil)
		mt := s.GetMessage(names[1], nil)

		s.AssertMessageEqual(mt, assertions.Fields{Command: command})
		s.AssertLacksTag(mt, "draft/label")

		s.AssertMessageEqual(ms, assertions.Fields{Command: command})
		s.AssertTagEqual(ms, "draft/label", testLabel)
	}
}

func labeledToSelf(command string, caps []string, line string) func(t *engine.T, env engine.Env) {
	return func(t *engine.T, env engine.Env) {
		s := harness.NewServerCase(t, env.Server, serverOptions(), env.Harness)
		names := connectLabeled(s, caps, "foo")

		s.SendLine(names[0], "@draft/label="+testLabel+";+draft/reply=123 "+line)
		copies := []message.Message{s.GetMessage(names[0], nil), s.GetMessage(names[0], nil)}

		labels := 0
		for _, m := range copies {
			s.AssertMessageEqual(m, assertions.Fields{Command: command})
			if m.HasTag("draft/label") {
				labels++
				s.AssertTagEqual(m, "draft/label", testLabel)
			}
		}
		if labels != 1 {
			t.Fatalf("%s to self with echo-message: want the label on exactly one copy, got %d", command, labels)
		}
	}
}

func labeledTagmsgToClient(t *engine.T, env engine.Env) {
	s := harness.NewServerCase(t, env.Server, serverOptions(), env.Harness)
	names := connectLabeled(s, labeledTagCaps, "foo", "bar")

	s.SendLine(names[0], "@draft/label="+testLabel+";+draft/reply=123;+draft/react=l😃l TAGMSG bar")
	m := s.GetMessage(names[0], nil)
	m2 := s.GetMessage(names[1], nil)

	s.AssertMessageEqual(m2, assertions.Fields{Command: "TAGMSG"})
	s.AssertLacksTag(m2, "draft/label")
	s.AssertTagEqual(m2, "+draft/reply", "123")
	s.AssertTagEqual(m2, "+draft/react", "l😃l")

	s.AssertMessageEqual(m, assertions.Fields{Command: "TAGMSG"})
	s.AssertTagEqual(m, "draft/label", testLabel)
	s.AssertTagEqual(m, "+draft/reply", "123")
	s.AssertTagEqual(m, "+draft/react", "l😃l")
}
