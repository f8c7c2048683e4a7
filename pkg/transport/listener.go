package transport

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/irctest/irctest-go/pkg/log"
)

// Listener accepts the inbound connection of a client under test.
type Listener struct {
	cfg Config
	ln  *net.TCPListener
}

// Listen binds an ephemeral port on cfg.Host.
func Listen(cfg Config) (*Listener, error) {
	return ListenOn(cfg, 0)
}

// ListenOn binds the given port on cfg.Host.
func ListenOn(cfg Config, port int) (*Listener, error) {
	cfg = cfg.withDefaults()
	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(port))

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("%w: listen on %s: %w", ErrTransport, addr, err)
	}
	return &Listener{cfg: cfg, ln: ln.(*net.TCPListener)}, nil
}

// Addr returns the bound host and port to hand to the client controller.
func (l *Listener) Addr() (string, int) {
	a := l.ln.Addr().(*net.TCPAddr)
	return a.IP.String(), a.Port
}

// Accept blocks until one peer connects or ctx is done.
func (l *Listener) Accept(ctx context.Context) (*Session, error) {
	stop := context.AfterFunc(ctx, func() {
		_ = l.ln.SetDeadline(time.Now())
	})
	defer stop()
	defer l.ln.SetDeadline(time.Time{})

	conn, err := l.ln.Accept()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("%w: accept: %w", ErrTransport, ctxErr)
		}
		return nil, fmt.Errorf("%w: accept: %w", ErrTransport, err)
	}
	return newSession(conn, log.RoleServer, l.cfg), nil
}

// Close stops listening. Sessions already accepted stay open.
func (l *Listener) Close() error {
	return l.ln.Close()
}

// FindFreePort binds and releases an ephemeral port on host, returning the
// address a server under test should listen on.
func FindFreePort(host string) (string, int, error) {
	if host == "" {
		host = DefaultHost
	}
	ln, err := net.Listen("tcp", net.JoinHostPort(host, "0"))
	if err != nil {
		return "", 0, fmt.Errorf("%w: find free port: %w", ErrTransport, err)
	}
	defer ln.Close()

	_, portStr, err := net.SplitHostPort(ln.Addr().String())
	if err != nil {
		return "", 0, fmt.Errorf("%w: find free port: %w", ErrTransport, err)
	}
	port, _ := strconv.Atoi(portStr)
	return host, port, nil
}
