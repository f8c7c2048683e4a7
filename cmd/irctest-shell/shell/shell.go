// Package shell implements the irctest-shell read/eval loop: typed lines go
// to the server, everything the server sends is printed parsed.
package shell

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"sort"
	"strings"

	"github.com/chzyer/readline"
	"github.com/ergochat/irc-go/ircmsg"

	"github.com/irctest/irctest-go/internal/testharness/negotiation"
	"github.com/irctest/irctest-go/pkg/message"
	"github.com/irctest/irctest-go/pkg/transport"
)

// ErrQuit is returned by Translate for /quit.
var ErrQuit = errors.New("quit")

// Conn is the connection a shell drives. *transport.Session satisfies it.
type Conn interface {
	SendLine(line string) error
	ReadMessage() (message.Message, error)
	Close() error
}

// Shell couples a connection to a terminal.
type Shell struct {
	conn     Conn
	out      io.Writer
	autoPong bool
}

// New creates a shell printing to out. With autoPong, server PINGs are
// answered without showing up at the prompt.
func New(conn Conn, out io.Writer, autoPong bool) *Shell {
	return &Shell{conn: conn, out: out, autoPong: autoPong}
}

// Negotiate runs CAP LS 302 and requests the offered subset of caps. It
// returns the acknowledged names.
func Negotiate(conn negotiation.Conn, caps []string) ([]string, error) {
	c := negotiation.NewClient(conn)
	if err := c.RequestLS(negotiation.Version302); err != nil {
		return nil, err
	}
	offered, err := c.ReadLS()
	if err != nil {
		return nil, err
	}
	var want []string
	for _, name := range caps {
		if _, ok := offered[name]; ok {
			want = append(want, name)
		}
	}
	if len(want) > 0 {
		if err := c.Request(want...); err != nil {
			return nil, err
		}
	}
	acked := c.Acked()
	return acked, c.End()
}

// Translate turns one typed line into the wire line to send. Lines
// starting with "/" are shortcuts; anything else is sent verbatim. An
// empty result means nothing is sent.
func Translate(input string) (string, error) {
	input = strings.TrimSpace(input)
	if input == "" || !strings.HasPrefix(input, "/") {
		return input, nil
	}
	if strings.HasPrefix(input, "//") {
		return input[1:], nil
	}

	cmd, rest, _ := strings.Cut(input[1:], " ")
	rest = strings.TrimSpace(rest)
	target, text, _ := strings.Cut(rest, " ")

	switch strings.ToLower(cmd) {
	case "quit", "q":
		return "", ErrQuit
	case "nick":
		if rest == "" {
			return "", errors.New("usage: /nick <nick>")
		}
		return "NICK " + rest, nil
	case "join", "j":
		if rest == "" {
			return "", errors.New("usage: /join <channel>")
		}
		return "JOIN " + rest, nil
	case "msg", "m":
		if target == "" || text == "" {
			return "", errors.New("usage: /msg <target> <text>")
		}
		return "PRIVMSG " + target + " :" + text, nil
	case "notice":
		if target == "" || text == "" {
			return "", errors.New("usage: /notice <target> <text>")
		}
		return "NOTICE " + target + " :" + text, nil
	case "label":
		// /label <label> <raw line>
		if target == "" || text == "" {
			return "", errors.New("usage: /label <label> <line>")
		}
		return "@label=" + ircmsg.EscapeTagValue(target) + " " + text, nil
	default:
		return "", fmt.Errorf("unknown shortcut /%s (type /help)", cmd)
	}
}

// Format renders a message with its fields spelled out.
func Format(m message.Message) string {
	var b strings.Builder
	b.WriteString(m.Command)
	if m.Prefix != "" {
		fmt.Fprintf(&b, " from=%s", m.Prefix)
	}
	if len(m.Params) > 0 {
		quoted := make([]string, len(m.Params))
		for i, p := range m.Params {
			quoted[i] = fmt.Sprintf("%q", p)
		}
		fmt.Fprintf(&b, " params=[%s]", strings.Join(quoted, " "))
	}
	if len(m.Tags) > 0 {
		keys := make([]string, 0, len(m.Tags))
		for k := range m.Tags {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		pairs := make([]string, len(keys))
		for i, k := range keys {
			if v := m.Tags[k]; v != "" {
				pairs[i] = k + "=" + v
			} else {
				pairs[i] = k
			}
		}
		fmt.Fprintf(&b, " tags={%s}", strings.Join(pairs, ", "))
	}
	return b.String()
}

// Pump prints incoming messages until the connection closes. A closed
// connection is not an error.
func (s *Shell) Pump() error {
	for {
		m, err := s.conn.ReadMessage()
		if errors.Is(err, transport.ErrConnectionClosed) {
			fmt.Fprintln(s.out, "*** connection closed")
			return nil
		}
		var malformed *message.MalformedError
		if errors.As(err, &malformed) {
			fmt.Fprintf(s.out, "!!! %v\n", err)
			continue
		}
		if err != nil {
			return err
		}
		if s.autoPong && m.Command == "PING" {
			if err := s.conn.SendLine("PONG :" + m.Last()); err != nil {
				return err
			}
			continue
		}
		fmt.Fprintln(s.out, Format(m))
	}
}

// Handle processes one typed line. It returns ErrQuit after sending QUIT.
func (s *Shell) Handle(input string) error {
	if fields := strings.Fields(input); len(fields) > 0 && slices.Contains([]string{"/help", "/?"}, fields[0]) {
		s.printHelp()
		return nil
	}
	line, err := Translate(input)
	if errors.Is(err, ErrQuit) {
		_ = s.conn.SendLine("QUIT :irctest-shell")
		return ErrQuit
	}
	if err != nil {
		fmt.Fprintf(s.out, "%v\n", err)
		return nil
	}
	if line == "" {
		return nil
	}
	return s.conn.SendLine(line)
}

// Run reads lines from rl until /quit, EOF or ctx is done.
func (s *Shell) Run(ctx context.Context, rl *readline.Instance) error {
	defer rl.Close()
	s.printHelp()

	for {
		if ctx.Err() != nil {
			return nil
		}
		line, err := rl.Readline()
		if err == readline.ErrInterrupt {
			continue
		}
		if err != nil {
			_ = s.Handle("/quit")
			return nil
		}
		if err := s.Handle(line); err != nil {
			if errors.Is(err, ErrQuit) {
				return nil
			}
			return err
		}
	}
}

func (s *Shell) printHelp() {
	fmt.Fprintln(s.out, `
Type raw IRC lines, or use a shortcut:
  /nick <nick>              - NICK
  /join <channel>           - JOIN
  /msg <target> <text>      - PRIVMSG
  /notice <target> <text>   - NOTICE
  /label <label> <line>     - send line with a label tag
  //<line>                  - send a line starting with /
  /quit                     - QUIT and exit`)
}
