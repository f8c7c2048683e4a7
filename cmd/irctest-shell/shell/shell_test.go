package shell

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/irctest/irctest-go/internal/testharness/mock"
	"github.com/irctest/irctest-go/pkg/message"
	"github.com/irctest/irctest-go/pkg/transport"
)

// scriptConn replays incoming lines and records outgoing ones.
type scriptConn struct {
	in   []string
	sent []string
}

func (c *scriptConn) SendLine(line string) error {
	c.sent = append(c.sent, line)
	return nil
}

func (c *scriptConn) ReadMessage() (message.Message, error) {
	if len(c.in) == 0 {
		return message.Message{}, fmt.Errorf("%w: peer: %w", transport.ErrTransport, transport.ErrConnectionClosed)
	}
	line := c.in[0]
	c.in = c.in[1:]
	return message.Parse(line)
}

func (c *scriptConn) Close() error { return nil }

func TestTranslate(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"PRIVMSG bar :hi", "PRIVMSG bar :hi"},
		{"  ", ""},
		{"/nick foo", "NICK foo"},
		{"/join #test", "JOIN #test"},
		{"/msg bar hello there", "PRIVMSG bar :hello there"},
		{"/notice #test hi", "NOTICE #test :hi"},
		{"/label 12345 PRIVMSG bar :hi", "@label=12345 PRIVMSG bar :hi"},
		{"/label a;b TAGMSG bar", `@label=a\:b TAGMSG bar`},
		{"//me waves", "/me waves"},
	}
	for _, tt := range tests {
		got, err := Translate(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	_, err := Translate("/quit")
	assert.ErrorIs(t, err, ErrQuit)

	for _, bad := range []string{"/msg bar", "/nick", "/join", "/label x", "/frobnicate"} {
		_, err := Translate(bad)
		assert.Error(t, err, bad)
	}
}

func TestFormat(t *testing.T) {
	m, err := message.Parse("@label=12345;+draft/reply=1;solo :foo!u@h PRIVMSG bar :hi there")
	require.NoError(t, err)
	assert.Equal(t, `PRIVMSG from=foo!u@h params=["bar" "hi there"] tags={+draft/reply=1, label=12345, solo}`, Format(m))

	assert.Equal(t, "PING", Format(message.New("PING")))
}

func TestPumpPrintsAndAnswersPing(t *testing.T) {
	conn := &scriptConn{in: []string{
		":fake.test 001 foo :Welcome",
		"PING :tok",
		":fake.test NOTICE foo :hello",
	}}
	var out bytes.Buffer
	require.NoError(t, New(conn, &out, true).Pump())

	assert.Equal(t, []string{"PONG :tok"}, conn.sent)
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], "001 from=fake.test"))
	assert.True(t, strings.HasPrefix(lines[1], "NOTICE"))
	assert.Equal(t, "*** connection closed", lines[2])
}

func TestPumpShowsPingWithoutAutoPong(t *testing.T) {
	conn := &scriptConn{in: []string{"PING :tok"}}
	var out bytes.Buffer
	require.NoError(t, New(conn, &out, false).Pump())
	assert.Empty(t, conn.sent)
	assert.Contains(t, out.String(), `PING params=["tok"]`)
}

func TestHandle(t *testing.T) {
	conn := &scriptConn{}
	var out bytes.Buffer
	s := New(conn, &out, true)

	require.NoError(t, s.Handle("/join #test"))
	require.NoError(t, s.Handle("/bogus"))
	require.NoError(t, s.Handle("/help"))
	require.NoError(t, s.Handle(""))
	assert.True(t, errors.Is(s.Handle("/quit"), ErrQuit))

	assert.Equal(t, []string{"JOIN #test", "QUIT :irctest-shell"}, conn.sent)
	assert.Contains(t, out.String(), "unknown shortcut /bogus")
	assert.Contains(t, out.String(), "/label <label> <line>")
}

func TestNegotiateAgainstFakeServer(t *testing.T) {
	srv := mock.NewServer(mock.ServerConfig{})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	host, port, err := transport.FindFreePort(transport.DefaultHost)
	require.NoError(t, err)
	require.NoError(t, srv.Start(ctx, host, port))
	defer srv.Stop()

	sess, err := transport.Dial(ctx, host, port, transport.Config{Name: "shell"})
	require.NoError(t, err)
	defer sess.Close()

	acked, err := Negotiate(sess, []string{"echo-message", "draft/irctest-unknown"})
	require.NoError(t, err)
	assert.Equal(t, []string{"echo-message"}, acked)
}
