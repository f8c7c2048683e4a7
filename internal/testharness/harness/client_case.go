package harness

import (
	"context"
	"sync"

	"github.com/irctest/irctest-go/internal/testharness/assertions"
	"github.com/irctest/irctest-go/internal/testharness/controller"
	"github.com/irctest/irctest-go/internal/testharness/negotiation"
	"github.com/irctest/irctest-go/pkg/message"
	"github.com/irctest/irctest-go/pkg/transport"
)

// ClientCase tests IRC client software. The harness plays the server.
type ClientCase struct {
	base

	ctrl     controller.ClientController
	listener *transport.Listener
	neg      *negotiation.Server

	mu   sync.Mutex
	conn *transport.Session
}

// NewClientCase binds an ephemeral port for the client under test to
// connect to. The client is not started yet.
func NewClientCase(t TB, ctrl controller.ClientController, cfg Config) *ClientCase {
	t.Helper()
	c := &ClientCase{ctrl: ctrl}
	c.init(t, cfg, c.teardown)

	ln, err := transport.Listen(c.sessionConfig(""))
	if err != nil {
		c.fatal(err)
	}
	c.listener = ln
	return c
}

// Addr returns the address the client under test must connect to.
func (c *ClientCase) Addr() (string, int) {
	return c.listener.Addr()
}

// StartClient runs the client under test against Addr. Options the
// controller cannot honor skip the test.
func (c *ClientCase) StartClient(opts controller.Options) {
	c.t.Helper()
	host, port := c.Addr()
	c.startController(c.ctrl, host, port, opts)
}

// AcceptClient waits for the client under test to connect.
func (c *ClientCase) AcceptClient() *transport.Session {
	c.t.Helper()
	ctx, cancel := context.WithTimeout(c.t.Context(), c.cfg.ConnectTimeout)
	defer cancel()

	s, err := c.listener.Accept(ctx)
	if err != nil {
		c.fatal(err)
	}
	c.mu.Lock()
	c.conn = s
	c.mu.Unlock()
	c.neg = negotiation.NewServer(s, negotiation.WithLogger(c.cfg.ProtocolLogger, s.ConnectionID()))
	return s
}

// Conn returns the accepted session, or nil before AcceptClient.
func (c *ClientCase) Conn() *transport.Session {
	return c.conn
}

// Negotiation returns the negotiator of the accepted session.
func (c *ClientCase) Negotiation() *negotiation.Server {
	return c.neg
}

// Nick returns the nick the client registered with, if seen.
func (c *ClientCase) Nick() string {
	if c.neg == nil {
		return ""
	}
	return c.neg.PendingNick
}

// User returns the USER params the client sent, if seen.
func (c *ClientCase) User() []string {
	if c.neg == nil {
		return nil
	}
	return c.neg.PendingUser
}

func (c *ClientCase) session() *transport.Session {
	c.t.Helper()
	if c.conn == nil {
		c.t.Fatalf("no client connected")
	}
	return c.conn
}

// ReadCapLS starts the client, accepts it and reads its opening CAP LS.
func (c *ClientCase) ReadCapLS(opts controller.Options) negotiation.Version {
	c.t.Helper()
	c.StartClient(opts)
	c.AcceptClient()
	if err := c.neg.ReadCapLS(); err != nil {
		c.fatal(err)
	}
	return c.neg.Version()
}

// NegotiateOptions tune NegotiateCapabilities.
type NegotiateOptions struct {
	// SkipLS continues a negotiation whose CAP LS was already handled.
	SkipLS bool

	// Controller options for starting the client.
	Controller controller.Options
}

// NegotiateCapabilities runs a negotiation offering caps without ending
// it. Unless SkipLS is set the client is first started and accepted. It
// returns the first message the negotiator did not consume, nil when the
// client skipped negotiation without sending one.
func (c *ClientCase) NegotiateCapabilities(caps []string, opts NegotiateOptions) *message.Message {
	c.t.Helper()
	if !opts.SkipLS {
		c.StartClient(opts.Controller)
		c.AcceptClient()
	}
	c.session()

	msg, err := c.neg.Negotiate(caps, !opts.SkipLS)
	if err != nil {
		c.fatal(err)
	}
	return msg
}

// UserNickFilter returns a filter that records NICK and USER and drops
// them.
func (c *ClientCase) UserNickFilter() Filter {
	return func(m message.Message) bool {
		c.t.Helper()
		switch m.Command {
		case "NICK":
			c.AssertMessageEqual(m, assertions.Fields{ParamCount: 1})
			c.neg.PendingNick = m.Params[0]
			return false
		case "USER":
			c.AssertMessageEqual(m, assertions.Fields{ParamCount: 4})
			c.neg.PendingUser = m.Params
			return false
		}
		return true
	}
}

// SendLine sends one line to the client.
func (c *ClientCase) SendLine(line string) {
	c.t.Helper()
	c.sendLine(c.session(), line)
}

// GetLine reads one raw line from the client.
func (c *ClientCase) GetLine() string {
	c.t.Helper()
	return c.getLine(c.session())
}

// GetMessage returns the first message from the client accepted by filter.
func (c *ClientCase) GetMessage(filter Filter) message.Message {
	c.t.Helper()
	return c.getMessage(c.session(), filter)
}

// GetMessages returns what the client sends within the drain wait.
func (c *ClientCase) GetMessages() []message.Message {
	c.t.Helper()
	return c.getMessages(c.session())
}

// ExpectDisconnect waits for the client to close its connection.
func (c *ClientCase) ExpectDisconnect() []message.Message {
	c.t.Helper()
	return c.expectDisconnect(c.session())
}

func (c *ClientCase) teardown() {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	if conn != nil {
		_ = conn.SendLine("QUIT :end of test.")
	}
	c.killController(c.ctrl)
	if conn != nil {
		_ = conn.Close()
	}
	if c.listener != nil {
		_ = c.listener.Close()
	}
}
