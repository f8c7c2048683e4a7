package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/irctest/irctest-go/pkg/log"
	"github.com/irctest/irctest-go/pkg/message"
)

// Session is one connection to a peer under test. A session is driven from
// a single test goroutine; Close may be called from any goroutine.
type Session struct {
	cfg    Config
	role   log.Role
	connID string

	conn   net.Conn
	reader *LineReader

	limiter *rate.Limiter
	ctx     context.Context
	cancel  context.CancelFunc

	writeMu   sync.Mutex
	closed    atomic.Bool
	closeOnce sync.Once
}

func newSession(conn net.Conn, role log.Role, cfg Config) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		cfg:    cfg,
		role:   role,
		connID: uuid.New().String(),
		conn:   conn,
		reader: NewLineReader(conn),
		ctx:    ctx,
		cancel: cancel,
	}
	if cfg.SendRate > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(cfg.SendRate), cfg.SendBurst)
	}
	s.logState("", "open", conn.RemoteAddr().String())
	return s
}

// Dial connects to a server under test at host:port.
func Dial(ctx context.Context, host string, port int, cfg Config) (*Session, error) {
	cfg = cfg.withDefaults()
	addr := net.JoinHostPort(host, strconv.Itoa(port))

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %w", ErrTransport, addr, err)
	}

	if cfg.TLS != nil {
		tlsConn := tls.Client(conn, cfg.TLS)
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			conn.Close()
			return nil, fmt.Errorf("%w: TLS handshake with %s: %w", ErrTransport, addr, err)
		}
		conn = tlsConn
	}

	return newSession(conn, log.RoleClient, cfg), nil
}

// ConnectionID returns the UUID attached to this session's log events.
func (s *Session) ConnectionID() string {
	return s.connID
}

// Name returns the peer name.
func (s *Session) Name() string {
	return s.cfg.Name
}

// Role returns the side of the connection the harness plays.
func (s *Session) Role() log.Role {
	return s.role
}

// RemoteAddr returns the peer address.
func (s *Session) RemoteAddr() net.Addr {
	return s.conn.RemoteAddr()
}

// SetDisplayIO toggles the console echo.
func (s *Session) SetDisplayIO(on bool) {
	s.cfg.DisplayIO = on
}

// SendLine writes one line, appending CRLF when missing.
func (s *Session) SendLine(line string) error {
	if s.closed.Load() {
		return fmt.Errorf("%w: send on closed session: %w", ErrTransport, ErrConnectionClosed)
	}

	if s.limiter != nil {
		if err := s.limiter.Wait(s.ctx); err != nil {
			return fmt.Errorf("%w: send pacing: %w", ErrTransport, ErrConnectionClosed)
		}
	}

	raw := strings.TrimRight(line, "\r\n")
	wire := raw + "\r\n"

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if s.cfg.WriteTimeout > 0 {
		_ = s.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
	}
	if _, err := io.WriteString(s.conn, wire); err != nil {
		s.logError(err, "send")
		return fmt.Errorf("%w: send: %w", ErrTransport, err)
	}

	s.logLine(log.DirectionOut, raw)
	s.echo(log.DirectionOut, raw)
	return nil
}

// SendMessage serializes msg and sends it. A message without a valid wire
// form is rejected before anything is written.
func (s *Session) SendMessage(msg message.Message) error {
	line, err := msg.Line()
	if err != nil {
		return err
	}
	return s.SendLine(line)
}

// ReadLine blocks until a complete line arrives and returns it without its
// terminator. A peer close yields an error wrapping ErrConnectionClosed.
func (s *Session) ReadLine() (string, error) {
	if !s.reader.Buffered() {
		_ = s.conn.SetReadDeadline(time.Time{})
	}
	return s.readLine()
}

// ReadMessage reads one line and parses it. Parse failures wrap
// message.ErrMalformed.
func (s *Session) ReadMessage() (message.Message, error) {
	line, err := s.ReadLine()
	if err != nil {
		return message.Message{}, err
	}
	return message.Parse(line)
}

func (s *Session) readLine() (string, error) {
	line, err := s.reader.ReadLine()
	if err != nil {
		if IsTimeout(err) {
			return "", err
		}
		if s.closed.Load() {
			return "", fmt.Errorf("%w: read on closed session: %w", ErrTransport, ErrConnectionClosed)
		}
		if err == ErrConnectionClosed {
			s.logState("open", "closed", "peer closed")
			return "", fmt.Errorf("%w: %s: %w", ErrTransport, s.peerLabel(), ErrConnectionClosed)
		}
		s.logError(err, "read")
		return "", fmt.Errorf("%w: read: %w", ErrTransport, err)
	}

	s.logLine(log.DirectionIn, line)
	s.echo(log.DirectionIn, line)
	return line, nil
}

// DrainAvailable returns every line that arrives until no new data shows
// up within wait (Config.DrainWait when wait <= 0). Already buffered lines
// are returned first. Returns an empty slice when nothing arrives.
func (s *Session) DrainAvailable(wait time.Duration) ([]string, error) {
	if wait <= 0 {
		wait = s.cfg.DrainWait
	}
	defer s.conn.SetReadDeadline(time.Time{})

	lines := []string{}
	for {
		if !s.reader.Buffered() {
			if err := s.conn.SetReadDeadline(time.Now().Add(wait)); err != nil {
				if s.closed.Load() {
					return lines, fmt.Errorf("%w: drain on closed session: %w", ErrTransport, ErrConnectionClosed)
				}
				return lines, fmt.Errorf("%w: set deadline: %w", ErrTransport, err)
			}
		}
		line, err := s.readLine()
		if err != nil {
			if IsTimeout(err) {
				return lines, nil
			}
			return lines, err
		}
		lines = append(lines, line)
	}
}

// Close closes the connection. It is safe to call Close multiple times and
// from another goroutine to unblock a pending read.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		s.cancel()
		err = s.conn.Close()
		s.logState("open", "closed", "local close")
	})
	return err
}

// Closed reports whether Close was called.
func (s *Session) Closed() bool {
	return s.closed.Load()
}

func (s *Session) peerLabel() string {
	if s.cfg.Name != "" {
		return s.cfg.Name
	}
	return s.conn.RemoteAddr().String()
}

func (s *Session) echo(dir log.Direction, line string) {
	if !s.cfg.DisplayIO {
		return
	}
	out := s.cfg.Output
	if out == nil {
		out = os.Stdout
	}
	fmt.Fprintln(out, EchoLabel(s.role, s.cfg.Name, dir)+line)
}

// EchoLabel returns the console prefix for a line.
func EchoLabel(role log.Role, name string, dir log.Direction) string {
	switch {
	case role == log.RoleServer && dir == log.DirectionIn:
		return "C: "
	case role == log.RoleServer:
		return "S: "
	case dir == log.DirectionIn:
		return "S -> " + name + ": "
	default:
		return name + " -> S: "
	}
}

func (s *Session) event(cat log.Category) log.Event {
	return log.Event{
		Timestamp:    time.Now(),
		ConnectionID: s.connID,
		Category:     cat,
		LocalRole:    s.role,
		PeerName:     s.cfg.Name,
		RemoteAddr:   s.conn.RemoteAddr().String(),
		TestID:       s.cfg.TestID,
	}
}

func (s *Session) logLine(dir log.Direction, raw string) {
	e := s.event(log.CategoryLine)
	e.Direction = dir
	e.Line = &log.LineEvent{Raw: raw}
	if msg, err := message.Parse(raw); err == nil {
		e.Line.Command = msg.Command
	}
	s.cfg.ProtocolLogger.Log(e)
}

func (s *Session) logState(oldState, newState, reason string) {
	e := s.event(log.CategoryState)
	e.StateChange = &log.StateChangeEvent{
		Entity:   log.StateEntityConnection,
		OldState: oldState,
		NewState: newState,
		Reason:   reason,
	}
	s.cfg.ProtocolLogger.Log(e)
}

func (s *Session) logError(err error, op string) {
	e := s.event(log.CategoryError)
	e.Error = &log.ErrorEventData{Message: err.Error(), Context: op}
	s.cfg.ProtocolLogger.Log(e)
}
