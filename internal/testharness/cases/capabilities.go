package cases

import (
	"strings"

	"github.com/irctest/irctest-go/internal/testharness/assertions"
	"github.com/irctest/irctest-go/internal/testharness/controller"
	"github.com/irctest/irctest-go/internal/testharness/engine"
	"github.com/irctest/irctest-go/internal/testharness/harness"
	"github.com/irctest/irctest-go/internal/testharness/loader"
	"github.com/irctest/irctest-go/internal/testharness/negotiation"
	"github.com/irctest/irctest-go/pkg/message"
)

// Registration returns connection registration server cases.
func Registration() []*engine.Case {
	return []*engine.Case{
		{
			ID:    "registration/welcome",
			Name:  "NICK and USER complete registration with RPL_WELCOME",
			Kind:  loader.KindServer,
			Specs: []engine.Spec{engine.SpecRFC1459, engine.SpecRFC2812},
			Run: func(t *engine.T, env engine.Env) {
				s := harness.NewServerCase(t, env.Server, serverOptions(), env.Harness)
				name := s.AddClient()
				s.SendLine(name, "NICK foo")
				s.SendLine(name, "USER username * * :Realname")
				msgs := s.SkipToWelcome(name)
				s.AssertMessageEqual(msgs[len(msgs)-1], assertions.Fields{Command: "001", Target: "foo"})
			},
		},
		{
			ID:    "registration/ping",
			Name:  "PING is answered with PONG carrying the token",
			Kind:  loader.KindServer,
			Specs: []engine.Spec{engine.SpecRFC1459, engine.SpecRFC2812},
			Run: func(t *engine.T, env engine.Env) {
				s := harness.NewServerCase(t, env.Server, serverOptions(), env.Harness)
				name := s.ConnectClient("foo", harness.ConnectOptions{})
				s.SendLine(name, "PING :irctest-token")
				pong := s.GetMessage(name, harness.Command("PONG"))
				if pong.Last() != "irctest-token" {
					t.Fatalf("PONG token = %q, want %q", pong.Last(), "irctest-token")
				}
			},
		},
		{
			ID:    "registration/quit",
			Name:  "QUIT closes the connection",
			Kind:  loader.KindServer,
			Specs: []engine.Spec{engine.SpecRFC1459, engine.SpecRFC2812},
			Run: func(t *engine.T, env engine.Env) {
				s := harness.NewServerCase(t, env.Server, serverOptions(), env.Harness)
				name := s.ConnectClient("foo", harness.ConnectOptions{})
				s.SendLine(name, "QUIT :bye")
				s.ExpectDisconnect(name)
			},
		},
	}
}

// ServerCapabilities returns CAP server cases.
func ServerCapabilities() []*engine.Case {
	return []*engine.Case{
		{
			ID:    "cap/ls-302",
			Name:  "CAP LS 302 lists capabilities and holds registration until CAP END",
			Kind:  loader.KindServer,
			Specs: []engine.Spec{engine.SpecIRCv32},
			Run: func(t *engine.T, env engine.Env) {
				s := harness.NewServerCase(t, env.Server, serverOptions(), env.Harness)
				name := s.AddClient()
				s.SendLine(name, "CAP LS 302")
				s.SendLine(name, "NICK foo")
				s.SendLine(name, "USER username * * :Realname")
				caps := s.GetCapLS(name)
				if len(caps) == 0 {
					t.Logf("server advertised no capabilities")
				}
				for _, m := range s.GetMessages(name) {
					if m.Command == "001" {
						t.Fatalf("registration completed before CAP END")
					}
				}
				s.SendLine(name, "CAP END")
				s.SkipToWelcome(name)
			},
		},
		{
			ID:    "cap/req-unknown",
			Name:  "CAP REQ of an unknown capability is NAKed",
			Kind:  loader.KindServer,
			Specs: []engine.Spec{engine.SpecIRCv32},
			Run: func(t *engine.T, env engine.Env) {
				s := harness.NewServerCase(t, env.Server, serverOptions(), env.Harness)
				name := s.AddClient()
				s.SendLine(name, "CAP LS 302")
				s.GetCapLS(name)
				s.SendLine(name, "CAP REQ :foo qux bar baz qux quux")
				m := s.GetMessage(name, harness.Not(harness.Command("NOTICE")))
				s.AssertMessageEqual(m, assertions.Fields{
					Command:    "CAP",
					Subcommand: "NAK",
					Subparams:  []string{"foo qux bar baz qux quux"},
				})
			},
		},
	}
}

// ClientCapabilities returns CAP client cases.
func ClientCapabilities() []*engine.Case {
	return []*engine.Case{
		{
			ID:    "cap/client-sends-ls",
			Name:  "Client opens with CAP LS",
			Kind:  loader.KindClient,
			Specs: []engine.Spec{engine.SpecIRCv32},
			Run: func(t *engine.T, env engine.Env) {
				c := harness.NewClientCase(t, env.Client, env.Harness)
				if v := c.ReadCapLS(controller.Options{}); v == negotiation.VersionNone {
					t.Skipf("%v", controller.Unsupported(env.Client.SoftwareName(), "capability negotiation"))
				}
			},
		},
		{
			ID:    "cap/client-empty",
			Name:  "Client ends negotiation when nothing is offered",
			Kind:  loader.KindClient,
			Specs: []engine.Spec{engine.SpecIRCv32},
			Run: func(t *engine.T, env engine.Env) {
				c := harness.NewClientCase(t, env.Client, env.Harness)
				m := negotiateOrSkip(t, env, c, nil, controller.Options{})
				c.AssertMessageEqual(m, assertions.Fields{Command: "CAP", Params: []string{"END"}})
			},
		},
		{
			ID:    "cap/client-unknown",
			Name:  "Client does not request capabilities it does not know",
			Kind:  loader.KindClient,
			Specs: []engine.Spec{engine.SpecIRCv32},
			Run: func(t *engine.T, env engine.Env) {
				c := harness.NewClientCase(t, env.Client, env.Harness)
				m := negotiateOrSkip(t, env, c, []string{"draft/irctest-unknown"}, controller.Options{})
				if c.Negotiation().IsAcked("draft/irctest-unknown") {
					t.Fatalf("client requested an unknown capability")
				}
				c.AssertMessageEqual(m, assertions.Fields{Command: "CAP", Params: []string{"END"}})
			},
		},
	}
}

// negotiateOrSkip runs a negotiation offering caps and returns the message
// that ended it. Clients that never negotiate skip the case.
func negotiateOrSkip(t *engine.T, env engine.Env, c *harness.ClientCase, caps []string, opts controller.Options) message.Message {
	msg := c.NegotiateCapabilities(caps, harness.NegotiateOptions{Controller: opts})
	if c.Negotiation().State() == negotiation.StateSkipped {
		t.Skipf("%v", controller.Unsupported(env.Client.SoftwareName(), "capability negotiation"))
	}
	if msg == nil {
		t.Fatalf("client sent nothing after CAP negotiation (offered %s)", strings.Join(caps, " "))
	}
	return *msg
}
