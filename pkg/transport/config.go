package transport

import (
	"crypto/tls"
	"io"
	"time"

	"github.com/irctest/irctest-go/pkg/log"
)

// DefaultHost is the loopback address used when Config.Host is empty.
const DefaultHost = "127.0.0.1"

// DefaultDrainWait is how long DrainAvailable waits for more data.
const DefaultDrainWait = 100 * time.Millisecond

// Config configures sessions and listeners.
type Config struct {
	// Host to listen on (default: 127.0.0.1).
	Host string

	// Name is the peer name used in console echo and log events.
	Name string

	// DisplayIO echoes every line to Output.
	DisplayIO bool

	// Output receives the echo (default: os.Stdout).
	Output io.Writer

	// ProtocolLogger receives line and state events (optional).
	ProtocolLogger log.Logger

	// TestID is attached to every log event (optional).
	TestID string

	// DrainWait bounds the wait in DrainAvailable (default: 100ms).
	DrainWait time.Duration

	// WriteTimeout bounds each SendLine (0 = no timeout).
	WriteTimeout time.Duration

	// SendRate paces outgoing lines per second (0 = unlimited).
	SendRate float64

	// SendBurst is the number of lines sent without pacing (default: 1).
	SendBurst int

	// TLS, when set, wraps dialed connections in a TLS client.
	TLS *tls.Config
}

func (c Config) withDefaults() Config {
	if c.Host == "" {
		c.Host = DefaultHost
	}
	if c.DrainWait <= 0 {
		c.DrainWait = DefaultDrainWait
	}
	if c.SendBurst <= 0 {
		c.SendBurst = 1
	}
	if c.ProtocolLogger == nil {
		c.ProtocolLogger = log.NoopLogger{}
	}
	return c
}
