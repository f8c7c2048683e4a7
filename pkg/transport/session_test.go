package transport

import (
	"bytes"
	"context"
	"errors"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/irctest/irctest-go/pkg/log"
)

type recordingLogger struct {
	mu     sync.Mutex
	events []log.Event
}

func (r *recordingLogger) Log(e log.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recordingLogger) lines(dir log.Direction) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, e := range r.events {
		if e.Line != nil && e.Direction == dir {
			out = append(out, e.Line.Raw)
		}
	}
	return out
}

// pair returns an accepted session and the raw peer connection.
func pair(t *testing.T, cfg Config) (*Session, net.Conn) {
	t.Helper()

	l, err := Listen(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })

	host, port := l.Addr()
	peer, err := net.Dial("tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	require.NoError(t, err)
	t.Cleanup(func() { peer.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	s, err := l.Accept(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, peer
}

func TestSessionSendAppendsCRLF(t *testing.T) {
	s, peer := pair(t, Config{})

	require.NoError(t, s.SendLine("PING :x"))
	require.NoError(t, s.SendLine("PONG y\r\n"))

	buf := make([]byte, 64)
	_ = peer.SetReadDeadline(time.Now().Add(time.Second))
	var got []byte
	for len(got) < len("PING :x\r\nPONG y\r\n") {
		n, err := peer.Read(buf)
		require.NoError(t, err)
		got = append(got, buf[:n]...)
	}
	assert.Equal(t, "PING :x\r\nPONG y\r\n", string(got))
}

func TestSessionReadLine(t *testing.T) {
	s, peer := pair(t, Config{})

	_, err := peer.Write([]byte("CAP LS 302\r\nNICK foo\nUSER "))
	require.NoError(t, err)

	line, err := s.ReadLine()
	require.NoError(t, err)
	assert.Equal(t, "CAP LS 302", line)

	line, err = s.ReadLine()
	require.NoError(t, err)
	assert.Equal(t, "NICK foo", line)

	_, err = peer.Write([]byte("u 0 * :real\r\n"))
	require.NoError(t, err)
	line, err = s.ReadLine()
	require.NoError(t, err)
	assert.Equal(t, "USER u 0 * :real", line)
}

func TestSessionReadLinePeerClosed(t *testing.T) {
	s, peer := pair(t, Config{})
	require.NoError(t, peer.Close())

	_, err := s.ReadLine()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConnectionClosed)
	assert.ErrorIs(t, err, ErrTransport)
}

func TestSessionDrainEmpty(t *testing.T) {
	s, _ := pair(t, Config{DrainWait: 20 * time.Millisecond})

	start := time.Now()
	lines, err := s.DrainAvailable(0)
	require.NoError(t, err)
	assert.Empty(t, lines)
	assert.NotNil(t, lines)
	assert.Less(t, time.Since(start), time.Second)
}

func TestSessionDrainKeepsPartialLine(t *testing.T) {
	s, peer := pair(t, Config{})

	_, err := peer.Write([]byte("001 a :hi\r\n002 a :there\r\n003 a :par"))
	require.NoError(t, err)

	lines, err := s.DrainAvailable(50 * time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, []string{"001 a :hi", "002 a :there"}, lines)

	_, err = peer.Write([]byte("tial\r\n"))
	require.NoError(t, err)
	line, err := s.ReadLine()
	require.NoError(t, err)
	assert.Equal(t, "003 a :partial", line)
}

func TestSessionDrainRestartsWaitPerLine(t *testing.T) {
	s, peer := pair(t, Config{})

	go func() {
		for i := range 3 {
			_, _ = peer.Write([]byte("PING " + strconv.Itoa(i) + "\r\n"))
			time.Sleep(30 * time.Millisecond)
		}
	}()

	lines, err := s.DrainAvailable(200 * time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, []string{"PING 0", "PING 1", "PING 2"}, lines)
}

func TestSessionSendAfterClose(t *testing.T) {
	s, _ := pair(t, Config{})
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	err := s.SendLine("QUIT")
	assert.ErrorIs(t, err, ErrTransport)
	assert.ErrorIs(t, err, ErrConnectionClosed)
	assert.True(t, s.Closed())
}

func TestSessionCloseUnblocksRead(t *testing.T) {
	s, _ := pair(t, Config{})

	errCh := make(chan error, 1)
	go func() {
		_, err := s.ReadLine()
		errCh <- err
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, s.Close())

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrConnectionClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("ReadLine did not return after Close")
	}
}

func TestSessionEchoAndProtocolLog(t *testing.T) {
	var out bytes.Buffer
	rec := &recordingLogger{}
	s, peer := pair(t, Config{DisplayIO: true, Output: &out, ProtocolLogger: rec})

	require.NoError(t, s.SendLine("CAP * LS :sasl"))
	_, err := peer.Write([]byte("CAP REQ :sasl\r\n"))
	require.NoError(t, err)
	_, err = s.ReadLine()
	require.NoError(t, err)

	assert.Equal(t, "S: CAP * LS :sasl\nC: CAP REQ :sasl\n", out.String())
	assert.Equal(t, []string{"CAP * LS :sasl"}, rec.lines(log.DirectionOut))
	assert.Equal(t, []string{"CAP REQ :sasl"}, rec.lines(log.DirectionIn))

	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.NotEmpty(t, rec.events)
	first := rec.events[0]
	assert.Equal(t, log.CategoryState, first.Category)
	assert.Equal(t, log.RoleServer, first.LocalRole)
	assert.Equal(t, s.ConnectionID(), first.ConnectionID)
	for _, e := range rec.events {
		if e.Line != nil {
			assert.Equal(t, "CAP", e.Line.Command)
		}
	}
}

func TestEchoLabel(t *testing.T) {
	assert.Equal(t, "C: ", EchoLabel(log.RoleServer, "", log.DirectionIn))
	assert.Equal(t, "S: ", EchoLabel(log.RoleServer, "", log.DirectionOut))
	assert.Equal(t, "S -> 1: ", EchoLabel(log.RoleClient, "1", log.DirectionIn))
	assert.Equal(t, "1 -> S: ", EchoLabel(log.RoleClient, "1", log.DirectionOut))
}

func TestDialAndPacing(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		c, err := ln.Accept()
		if err == nil {
			accepted <- c
		}
	}()

	addr := ln.Addr().(*net.TCPAddr)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s, err := Dial(ctx, "127.0.0.1", addr.Port, Config{Name: "1", SendRate: 20, SendBurst: 1})
	require.NoError(t, err)
	defer s.Close()
	assert.Equal(t, log.RoleClient, s.Role())
	assert.Equal(t, "1", s.Name())

	peer := <-accepted
	defer peer.Close()

	start := time.Now()
	for range 3 {
		require.NoError(t, s.SendLine("PING x"))
	}
	// Burst of one at 20/s spaces three lines by at least two intervals.
	assert.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
}

func TestDialRefused(t *testing.T) {
	host, port, err := FindFreePort("")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err = Dial(ctx, host, port, Config{})
	assert.ErrorIs(t, err, ErrTransport)
}

func TestAcceptHonorsContext(t *testing.T) {
	l, err := Listen(Config{})
	require.NoError(t, err)
	defer l.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err = l.Accept(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTransport)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}
