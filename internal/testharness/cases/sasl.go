package cases

import (
	"slices"
	"strings"

	"github.com/irctest/irctest-go/internal/testharness/assertions"
	"github.com/irctest/irctest-go/internal/testharness/controller"
	"github.com/irctest/irctest-go/internal/testharness/engine"
	"github.com/irctest/irctest-go/internal/testharness/harness"
	"github.com/irctest/irctest-go/internal/testharness/loader"
	"github.com/irctest/irctest-go/internal/testharness/negotiation"
	"github.com/irctest/irctest-go/pkg/sasl"
)

const (
	saslUser     = "jilles"
	saslPassword = "sesame"
)

// ServerSASL returns SASL server cases.
func ServerSASL() []*engine.Case {
	return []*engine.Case{
		{
			ID:    "sasl/server-plain",
			Name:  "SASL PLAIN with valid credentials logs in",
			Kind:  loader.KindServer,
			Specs: []engine.Spec{engine.SpecIRCv32},
			Run: func(t *engine.T, env engine.Env) {
				s, name := startServerSASL(t, env)
				serverAuthenticate(s, name, saslPassword)
				m := s.GetMessage(name, harness.Not(harness.Command("NOTICE")))
				s.AssertMessageEqual(m, assertions.Fields{Command: sasl.RplLoggedIn})
				m = s.GetMessage(name, harness.Not(harness.Command("NOTICE")))
				s.AssertMessageEqual(m, assertions.Fields{Command: sasl.RplSaslSuccess})
			},
		},
		{
			ID:    "sasl/server-plain-bad-password",
			Name:  "SASL PLAIN with a wrong password fails",
			Kind:  loader.KindServer,
			Specs: []engine.Spec{engine.SpecIRCv32},
			Run: func(t *engine.T, env engine.Env) {
				s, name := startServerSASL(t, env)
				serverAuthenticate(s, name, saslPassword+"-wrong")
				m := s.GetMessage(name, harness.Not(harness.Command("NOTICE")))
				s.AssertMessageEqual(m, assertions.Fields{Command: sasl.ErrSaslFail})
			},
		},
	}
}

// startServerSASL registers the test account and returns a client that
// holds an acknowledged sasl capability.
func startServerSASL(t *engine.T, env engine.Env) (*harness.ServerCase, string) {
	s := harness.NewServerCase(t, env.Server, serverOptions(), env.Harness)
	if !slices.Contains(env.Server.SupportedSASLMechanisms(), sasl.MechanismPlain) {
		t.Skipf("%v", controller.Unsupported(env.Server.SoftwareName(), "SASL mechanism PLAIN"))
	}
	s.RegisterUser(saslUser, saslPassword)

	name := s.AddClient()
	s.SendLine(name, "CAP LS 302")
	offered := s.GetCapLS(name)
	if !slices.ContainsFunc(offered, func(c string) bool { return negotiation.CapName(c) == "sasl" }) {
		t.Skipf("%v", controller.Unsupported(env.Server.SoftwareName(), "sasl capability"))
	}
	s.SendLine(name, "CAP REQ :sasl")
	m := s.GetMessage(name, harness.Not(harness.Command("NOTICE")))
	s.AssertMessageEqual(m, assertions.Fields{Command: "CAP", Subcommand: "ACK", Subparams: []string{"sasl"}})
	return s, name
}

func serverAuthenticate(s *harness.ServerCase, name, password string) {
	s.SendLine(name, "AUTHENTICATE PLAIN")
	m := s.GetMessage(name, harness.Not(harness.Command("NOTICE")))
	s.AssertMessageEqual(m, assertions.Fields{Command: "AUTHENTICATE", Params: []string{"+"}})
	for _, chunk := range sasl.PlainResponse(saslUser, saslUser, password) {
		s.SendLine(name, "AUTHENTICATE "+chunk)
	}
}

// ClientSASL returns SASL client cases.
func ClientSASL() []*engine.Case {
	return []*engine.Case{
		{
			ID:    "sasl/client-plain",
			Name:  "Client authenticates with SASL PLAIN",
			Kind:  loader.KindClient,
			Specs: []engine.Spec{engine.SpecIRCv32},
			Run:   clientPlain(saslPassword),
		},
		{
			ID:    "sasl/client-plain-chunked",
			Name:  "Client splits a long SASL PLAIN payload into 400-byte chunks",
			Kind:  loader.KindClient,
			Specs: []engine.Spec{engine.SpecIRCv32},
			Run:   clientPlain(strings.Repeat(saslPassword, 60)),
		},
	}
}

func clientPlain(password string) func(t *engine.T, env engine.Env) {
	return func(t *engine.T, env engine.Env) {
		c := harness.NewClientCase(t, env.Client, env.Harness)
		auth := &controller.Auth{
			Mechanisms: []string{sasl.MechanismPlain},
			Username:   saslUser,
			Password:   password,
		}
		m := negotiateOrSkip(t, env, c, []string{"sasl"}, controller.Options{Auth: auth})
		c.AssertMessageEqual(m, assertions.Fields{Command: "AUTHENTICATE", Params: []string{sasl.MechanismPlain}})

		c.SendLine("AUTHENTICATE +")
		var buf sasl.Assembler
		var raw []byte
		for {
			m := c.GetMessage(c.UserNickFilter())
			c.AssertMessageEqual(m, assertions.Fields{Command: "AUTHENTICATE", ParamCount: 1})
			done, chunkRaw, err := buf.Add(m.Params[0])
			if err != nil {
				t.FatalError(err)
				t.Fatalf("bad AUTHENTICATE chunk: %v", err)
			}
			if done {
				raw = chunkRaw
				break
			}
		}

		creds, err := sasl.ParsePlain(raw)
		if err != nil {
			t.FatalError(err)
			t.Fatalf("%v", err)
		}
		if creds.Authcid != saslUser || creds.Password != password {
			t.Fatalf("PLAIN credentials = %q/%q, want %q and the configured password", creds.Authcid, creds.Password, saslUser)
		}

		nick := c.Nick()
		if nick == "" {
			nick = "*"
		}
		c.SendLine("900 " + nick + " " + nick + "!user@host " + saslUser + " :You are now logged in as " + saslUser)
		c.SendLine("903 " + nick + " :SASL authentication successful")
		end := c.GetMessage(c.UserNickFilter())
		c.AssertMessageEqual(end, assertions.Fields{Command: "CAP", Params: []string{"END"}})
	}
}
