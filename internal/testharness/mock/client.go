package mock

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/irctest/irctest-go/internal/testharness/negotiation"
	"github.com/irctest/irctest-go/pkg/message"
	"github.com/irctest/irctest-go/pkg/sasl"
	"github.com/irctest/irctest-go/pkg/transport"
)

// ClientScript describes how the fake client behaves once connected.
type ClientScript struct {
	// Nick and User are sent at registration (defaults "fakebot" and
	// "fake").
	Nick string
	User string

	// Version selects the CAP LS version. VersionNone registers without
	// capability negotiation.
	Version negotiation.Version

	// Request lists capabilities to request when the server offers them.
	// "sasl" is added when the run options carry credentials.
	Request []string
}

func (s ClientScript) withDefaults() ClientScript {
	if s.Nick == "" {
		s.Nick = "fakebot"
	}
	if s.User == "" {
		s.User = "fake"
	}
	return s
}

// Client is a scripted IRC client. It registers, optionally negotiates
// capabilities and SASL PLAIN, then answers PINGs until closed.
type Client struct {
	script ClientScript
	sess   *transport.Session
	auth   *authentication

	done chan struct{}
	err  error

	// Acked holds the capabilities the server acknowledged. It is valid
	// once Wait returns.
	Acked []string
}

type authentication struct {
	username string
	password string
}

// DialClient connects to host:port. The script runs once Start is called.
func DialClient(ctx context.Context, host string, port int, script ClientScript, cfg transport.Config) (*Client, error) {
	script = script.withDefaults()
	if cfg.Name == "" {
		cfg.Name = script.Nick
	}
	sess, err := transport.Dial(ctx, host, port, cfg)
	if err != nil {
		return nil, fmt.Errorf("fake client: %w", err)
	}
	c := &Client{script: script, sess: sess, done: make(chan struct{})}
	return c, nil
}

// WithAuth makes the client authenticate with SASL PLAIN. It must be set
// before Start.
func (c *Client) WithAuth(username, password string) *Client {
	c.auth = &authentication{username: username, password: password}
	return c
}

// Start runs the script on its own goroutine.
func (c *Client) Start() {
	go func() {
		defer close(c.done)
		err := c.run()
		if errors.Is(err, transport.ErrConnectionClosed) {
			err = nil
		}
		c.err = err
	}()
}

// Wait blocks until the script ends and returns its error. A connection
// closed by either side is not an error.
func (c *Client) Wait() error {
	<-c.done
	return c.err
}

// Close disconnects the client and waits for the script to end.
func (c *Client) Close() error {
	err := c.sess.Close()
	<-c.done
	return err
}

func (c *Client) run() error {
	if c.script.Version != negotiation.VersionNone {
		ls := "CAP LS"
		if c.script.Version == negotiation.Version302 {
			ls = "CAP LS 302"
		}
		if err := c.sess.SendLine(ls); err != nil {
			return err
		}
	}
	if err := c.sess.SendLine("NICK " + c.script.Nick); err != nil {
		return err
	}
	if err := c.sess.SendLine("USER " + c.script.User + " 0 * :Fake Client"); err != nil {
		return err
	}
	if c.script.Version != negotiation.VersionNone {
		if err := c.negotiate(); err != nil {
			return err
		}
	}
	return c.idle()
}

func (c *Client) negotiate() error {
	offered, err := c.readLS()
	if err != nil {
		return err
	}

	var want []string
	for _, name := range c.script.Request {
		if _, ok := offered[name]; ok {
			want = append(want, name)
		}
	}
	if _, ok := offered["sasl"]; ok && c.auth != nil && !slices.Contains(want, "sasl") {
		want = append(want, "sasl")
	}

	if len(want) > 0 {
		if err := c.sess.SendLine("CAP REQ :" + strings.Join(want, " ")); err != nil {
			return err
		}
		reply, err := c.next("CAP")
		if err != nil {
			return err
		}
		if len(reply.Params) >= 3 && strings.EqualFold(reply.Params[1], "ACK") {
			c.Acked = strings.Fields(reply.Last())
		}
	}

	if c.auth != nil && slices.Contains(c.Acked, "sasl") {
		if err := c.authenticate(); err != nil {
			return err
		}
	}
	return c.sess.SendLine("CAP END")
}

func (c *Client) readLS() (map[string]string, error) {
	offered := make(map[string]string)
	for {
		msg, err := c.next("CAP")
		if err != nil {
			return nil, err
		}
		if len(msg.Params) < 3 || !strings.EqualFold(msg.Params[1], "LS") {
			return nil, fmt.Errorf("%w: %s", ErrUnexpectedReply, msg)
		}
		more := len(msg.Params) >= 4 && msg.Params[2] == "*"
		for _, token := range strings.Fields(msg.Last()) {
			name, value, _ := strings.Cut(token, "=")
			offered[name] = value
		}
		if !more {
			return offered, nil
		}
	}
}

func (c *Client) authenticate() error {
	if err := c.sess.SendLine("AUTHENTICATE " + sasl.MechanismPlain); err != nil {
		return err
	}
	msg, err := c.next("AUTHENTICATE", sasl.ErrSaslFail)
	if err != nil {
		return err
	}
	if msg.Command != "AUTHENTICATE" {
		return nil
	}
	for _, chunk := range sasl.PlainResponse("", c.auth.username, c.auth.password) {
		if err := c.sess.SendLine("AUTHENTICATE " + chunk); err != nil {
			return err
		}
	}
	_, err = c.next(sasl.RplSaslSuccess, sasl.ErrSaslFail, sasl.ErrSaslAborted)
	return err
}

// next returns the next message whose command is one of commands,
// answering PINGs and discarding anything else.
func (c *Client) next(commands ...string) (message.Message, error) {
	for {
		msg, err := c.sess.ReadMessage()
		if err != nil {
			return message.Message{}, err
		}
		if msg.Command == "PING" {
			if err := c.sess.SendLine("PONG :" + msg.Last()); err != nil {
				return message.Message{}, err
			}
			continue
		}
		if slices.Contains(commands, msg.Command) {
			return msg, nil
		}
	}
}

func (c *Client) idle() error {
	_, err := c.next()
	return err
}
