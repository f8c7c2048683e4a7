package harness

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/irctest/irctest-go/internal/testharness/assertions"
	"github.com/irctest/irctest-go/internal/testharness/controller"
	"github.com/irctest/irctest-go/internal/testharness/negotiation"
	"github.com/irctest/irctest-go/pkg/message"
	"github.com/irctest/irctest-go/pkg/transport"
)

// ServerCase tests IRC server software. The harness plays the clients.
type ServerCase struct {
	base

	ctrl controller.ServerController
	host string
	port int
	tls  bool

	mu      sync.Mutex
	clients map[string]*transport.Session

	// ISupport collects RPL_ISUPPORT tokens seen by ConnectClient. A
	// token without value maps to "".
	ISupport map[string]string
}

// NewServerCase picks a free port and starts the server under test on it.
// Options the controller cannot honor skip the test.
func NewServerCase(t TB, ctrl controller.ServerController, opts controller.Options, cfg Config) *ServerCase {
	t.Helper()
	s := &ServerCase{
		ctrl:     ctrl,
		tls:      opts.TLS,
		clients:  make(map[string]*transport.Session),
		ISupport: make(map[string]string),
	}
	s.init(t, cfg, s.teardown)

	host, port, err := transport.FindFreePort(s.cfg.Host)
	if err != nil {
		s.fatal(err)
	}
	s.host, s.port = host, port
	s.startController(ctrl, host, port, opts)
	return s
}

// dialConfig is the session config for a new client. A server started
// with TLS is reached over TLS; test servers use self-signed certificates,
// so the certificate is not verified.
func (s *ServerCase) dialConfig(name string) transport.Config {
	cfg := s.sessionConfig(name)
	if s.tls {
		cfg.TLS = transport.NewClientTLSConfig("")
	}
	return cfg
}

// Addr returns the address the server under test listens on.
func (s *ServerCase) Addr() (string, int) {
	return s.host, s.port
}

// Controller returns the server controller.
func (s *ServerCase) Controller() controller.ServerController {
	return s.ctrl
}

// nextClientName returns max(integer names, 0) + 1.
func (s *ServerCase) nextClientName() string {
	next := 0
	for name := range s.clients {
		if n, err := strconv.Atoi(name); err == nil && n > next {
			next = n
		}
	}
	return strconv.Itoa(next + 1)
}

// AddClient connects a new client named after the next free integer.
func (s *ServerCase) AddClient() string {
	s.t.Helper()
	s.mu.Lock()
	name := s.nextClientName()
	s.mu.Unlock()
	return s.AddNamedClient(name)
}

// AddNamedClient connects a new client under the given name.
func (s *ServerCase) AddNamedClient(name string) string {
	s.t.Helper()
	s.mu.Lock()
	_, exists := s.clients[name]
	s.mu.Unlock()
	if exists {
		s.t.Fatalf("client %q already exists", name)
	}

	ctx, cancel := context.WithTimeout(s.t.Context(), s.cfg.ConnectTimeout)
	defer cancel()
	sess, err := transport.Dial(ctx, s.host, s.port, s.dialConfig(name))
	if err != nil {
		s.fatal(err)
	}

	s.mu.Lock()
	s.clients[name] = sess
	s.mu.Unlock()
	return name
}

// RemoveClient disconnects a client without sending QUIT.
func (s *ServerCase) RemoveClient(name string) {
	s.t.Helper()
	s.mu.Lock()
	sess, ok := s.clients[name]
	delete(s.clients, name)
	s.mu.Unlock()
	if !ok {
		s.t.Fatalf("unknown client %q", name)
	}
	_ = sess.Close()
}

// Clients returns the connected client names, sorted.
func (s *ServerCase) Clients() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.clients))
	for name := range s.clients {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Client returns the session of a client.
func (s *ServerCase) Client(name string) *transport.Session {
	s.t.Helper()
	s.mu.Lock()
	sess, ok := s.clients[name]
	s.mu.Unlock()
	if !ok {
		s.t.Fatalf("unknown client %q", name)
	}
	return sess
}

// SendLine sends one line from a client.
func (s *ServerCase) SendLine(name, line string) {
	s.t.Helper()
	s.sendLine(s.Client(name), line)
}

// GetLine reads one raw line sent to a client.
func (s *ServerCase) GetLine(name string) string {
	s.t.Helper()
	return s.getLine(s.Client(name))
}

// GetMessage returns the first message to a client accepted by filter.
func (s *ServerCase) GetMessage(name string, filter Filter) message.Message {
	s.t.Helper()
	return s.getMessage(s.Client(name), filter)
}

// GetMessages returns what the server sends to a client within the drain
// wait.
func (s *ServerCase) GetMessages(name string) []message.Message {
	s.t.Helper()
	return s.getMessages(s.Client(name))
}

// ExpectDisconnect waits for the server to close a client's connection.
func (s *ServerCase) ExpectDisconnect(name string) []message.Message {
	s.t.Helper()
	return s.expectDisconnect(s.Client(name))
}

// GetRegistrationMessage returns the next message that is neither a
// NOTICE nor RPL_HELLO (020), answering PINGs on the way.
func (s *ServerCase) GetRegistrationMessage(name string) message.Message {
	s.t.Helper()
	for {
		msg := s.GetMessage(name, nil)
		switch msg.Command {
		case "PING":
			s.SendLine(name, "PONG :"+msg.Last())
		case "NOTICE", "020":
		default:
			return msg
		}
	}
}

// SkipToWelcome reads registration messages up to and including
// RPL_WELCOME (001) and returns them.
func (s *ServerCase) SkipToWelcome(name string) []message.Message {
	s.t.Helper()
	var msgs []message.Message
	for {
		msg := s.GetRegistrationMessage(name)
		msgs = append(msgs, msg)
		switch msg.Command {
		case "001":
			return msgs
		case "ERROR":
			s.fatal(fmt.Errorf("server closed registration of %s: %s", name, msg.Last()))
		}
	}
}

// GetCapLS collects a possibly multi-line CAP LS reply and returns the
// advertised tokens, values included.
func (s *ServerCase) GetCapLS(name string) []string {
	s.t.Helper()
	var caps []string
	for {
		m := s.GetMessage(name, Not(Command("NOTICE")))
		s.AssertMessageEqual(m, assertions.Fields{Command: "CAP", Subcommand: "LS"})
		if m.Params[2] == "*" && len(m.Params) >= 4 {
			caps = append(caps, strings.Fields(m.Params[3])...)
			continue
		}
		caps = append(caps, strings.Fields(m.Params[2])...)
		return caps
	}
}

// ConnectOptions tune ConnectClient.
type ConnectOptions struct {
	// Name of the client (default: next free integer).
	Name string

	// Capabilities are requested before registration.
	Capabilities []string

	// SkipIfCapNAK skips the test when the server refuses Capabilities.
	SkipIfCapNAK bool

	// Password is sent with PASS before registering.
	Password string
}

// ConnectClient connects and registers a client with the given nick,
// requesting capabilities first. It waits for the end of the welcome burst
// and records ISUPPORT tokens.
func (s *ServerCase) ConnectClient(nick string, opts ConnectOptions) string {
	s.t.Helper()
	var name string
	if opts.Name != "" {
		name = s.AddNamedClient(opts.Name)
	} else {
		name = s.AddClient()
	}

	if opts.Password != "" {
		s.SendLine(name, "PASS "+opts.Password)
	}
	if len(opts.Capabilities) > 0 {
		s.requestCapabilities(name, opts)
	}

	s.SendLine(name, "NICK "+nick)
	s.SendLine(name, "USER username * * :Realname")
	s.SkipToWelcome(name)

	// PING marks the end of the welcome burst.
	s.SendLine(name, "PING :sync")
	for {
		m := s.GetMessage(name, nil)
		switch m.Command {
		case "PONG":
			return name
		case "005":
			s.recordISupport(m)
		}
	}
}

func (s *ServerCase) requestCapabilities(name string, opts ConnectOptions) {
	s.t.Helper()
	neg := negotiation.NewClient(s.Client(name),
		negotiation.WithLogger(s.cfg.ProtocolLogger, s.Client(name).ConnectionID()))

	if err := neg.RequestLS(negotiation.Version302); err != nil {
		s.fatal(err)
	}
	if _, err := neg.ReadLS(); err != nil {
		s.fatal(err)
	}
	if neg.State() == negotiation.StateSkipped {
		left, _ := neg.Leftover()
		s.maybeSkip(opts, fmt.Errorf("%w: server does not negotiate capabilities (got %s)", negotiation.ErrNAK, left.Command))
	}

	err := neg.Request(opts.Capabilities...)
	if err != nil {
		s.maybeSkip(opts, err)
	}
	if err := neg.End(); err != nil {
		s.fatal(err)
	}
}

func (s *ServerCase) maybeSkip(opts ConnectOptions, err error) {
	s.t.Helper()
	if opts.SkipIfCapNAK && errors.Is(err, negotiation.ErrNAK) {
		s.t.Skipf("%v", controller.Unsupported(s.ctrl.SoftwareName(), strings.Join(opts.Capabilities, ", ")))
	}
	s.fatal(err)
}

func (s *ServerCase) recordISupport(m message.Message) {
	if len(m.Params) < 3 {
		return
	}
	for _, tok := range m.Params[1 : len(m.Params)-1] {
		key, value, _ := strings.Cut(tok, "=")
		s.ISupport[key] = value
	}
}

// RegisterUser creates an account through the controller's registration
// script. Controllers without one skip the test.
func (s *ServerCase) RegisterUser(username, password string) {
	s.t.Helper()
	reg, ok := s.ctrl.(controller.UserRegistrar)
	if !ok {
		s.t.Skipf("%v", controller.Unsupported(s.ctrl.SoftwareName(), "account registration"))
	}
	script, err := reg.RegistrationScript(username, password)
	if errors.Is(err, controller.ErrUnsupported) {
		s.t.Skipf("%v", err)
	}
	if err != nil {
		s.fatal(err)
	}

	name := s.ConnectClient("registration_user", ConnectOptions{})
	s.Client(name).SetDisplayIO(false)
	s.GetMessages(name)
	for _, line := range script.Lines {
		s.SendLine(name, line)
	}
	reply := s.GetMessage(name, Not(Command("NOTICE")))
	s.AssertMessageEqual(reply, assertions.Fields{Command: script.Expect})
	s.GetMessages(name)
	s.RemoveClient(name)
}

func (s *ServerCase) teardown() {
	s.killController(s.ctrl)

	s.mu.Lock()
	clients := s.clients
	s.clients = make(map[string]*transport.Session)
	s.mu.Unlock()

	for _, sess := range clients {
		_ = sess.Close()
	}
}
