package negotiation

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/irctest/irctest-go/pkg/log"
	"github.com/irctest/irctest-go/pkg/message"
)

// Client negotiates with a server under test, playing the client side.
type Client struct {
	machine

	available map[string]string
	leftover  *message.Message
}

// NewClient creates a negotiator over conn.
func NewClient(conn Conn, opts ...Option) *Client {
	return &Client{
		machine:   newMachine(conn, log.RoleClient, opts),
		available: make(map[string]string),
	}
}

// Available returns the capabilities the server advertised, name to value.
func (c *Client) Available() map[string]string {
	return maps.Clone(c.available)
}

// Value returns the advertised value of a capability.
func (c *Client) Value(name string) (string, bool) {
	v, ok := c.available[name]
	return v, ok
}

// Leftover returns the message that showed the server does not negotiate.
func (c *Client) Leftover() (message.Message, bool) {
	if c.leftover == nil {
		return message.Message{}, false
	}
	return *c.leftover, true
}

// RequestLS sends CAP LS for the given version.
func (c *Client) RequestLS(v Version) error {
	line := "CAP LS"
	if v == Version302 {
		line = "CAP LS 302"
	}
	c.version = v
	return c.conn.SendLine(line)
}

// ReadLS collects the server's possibly multi-line CAP LS reply. NOTICEs
// are skipped. A server that answers with anything other than CAP does not
// support negotiation: the state becomes Skipped and the reply is kept as
// the leftover.
func (c *Client) ReadLS() (map[string]string, error) {
	for {
		msg, err := c.readSkippingNotices()
		if err != nil {
			return nil, err
		}
		if msg.Command != "CAP" {
			c.leftover = &msg
			c.version = VersionNone
			c.setState(StateSkipped, "server replied "+msg.Command)
			return nil, nil
		}
		if len(msg.Params) < 3 || !strings.EqualFold(msg.Params[1], "LS") {
			return nil, protocolError(msg, "expected CAP LS reply")
		}

		more := len(msg.Params) >= 4 && msg.Params[2] == "*"
		for _, tok := range strings.Fields(msg.Last()) {
			name, value, _ := strings.Cut(tok, "=")
			c.available[name] = value
		}
		if !more {
			c.setState(StateNegotiating, "CAP LS received")
			return c.Available(), nil
		}
	}
}

// Request sends CAP REQ for caps and reads the answer. An ACK adds the
// names to the acked set; a NAK returns an error wrapping ErrNAK and leaves
// the set unchanged. An ACK naming anything that was not requested is a
// protocol error and also leaves the set unchanged.
func (c *Client) Request(caps ...string) error {
	req := strings.Join(caps, " ")
	if err := c.conn.SendLine("CAP REQ :" + req); err != nil {
		return err
	}

	msg, err := c.readSkippingNotices()
	if err != nil {
		return err
	}
	if msg.Command != "CAP" || len(msg.Params) < 3 {
		return protocolError(msg, "expected CAP ACK or NAK")
	}

	switch strings.ToUpper(msg.Params[1]) {
	case "ACK":
		requested := strings.Fields(req)
		acked := strings.Fields(msg.Last())
		for _, tok := range acked {
			if !slices.Contains(requested, tok) {
				return protocolError(msg, "ACK for unrequested capability %s", tok)
			}
		}
		for _, tok := range acked {
			// "-cap" disables a capability.
			if name, ok := strings.CutPrefix(tok, "-"); ok {
				delete(c.acked, name)
				continue
			}
			c.acked[tok] = struct{}{}
		}
		return nil
	case "NAK":
		return fmt.Errorf("%w: %s", ErrNAK, msg.Last())
	default:
		return protocolError(msg, "expected CAP ACK or NAK")
	}
}

// End sends CAP END.
func (c *Client) End() error {
	if err := c.conn.SendLine("CAP END"); err != nil {
		return err
	}
	c.setState(StateEnded, "CAP END")
	return nil
}

func (c *Client) readSkippingNotices() (message.Message, error) {
	for {
		msg, err := c.conn.ReadMessage()
		if err != nil {
			return message.Message{}, err
		}
		if msg.Command != "NOTICE" {
			return msg, nil
		}
	}
}
