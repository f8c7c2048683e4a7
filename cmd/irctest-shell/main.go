// Command irctest-shell connects to an IRC server and lets you type raw
// lines while printing everything the server sends, parsed.
//
// It is meant for poking at a server under test by hand: see exactly which
// tags, prefixes and params come back for a labeled PRIVMSG, a CAP REQ or
// a SASL exchange.
//
// Usage:
//
//	irctest-shell [flags]
//
// Flags:
//
//	-host string          Server host (default "127.0.0.1")
//	-port int             Server port (default 6667)
//	-tls                  Connect with TLS
//	-insecure             Skip TLS certificate verification
//	-caps string          Comma-separated capabilities to request before registering
//	-nick string          Register with this nick (default: do not register)
//	-auto-pong            Answer server PINGs (default true)
//	-protocol-log string  File path for protocol event logging (CBOR format)
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/chzyer/readline"

	"github.com/irctest/irctest-go/cmd/irctest-shell/shell"
	irclog "github.com/irctest/irctest-go/pkg/log"
	"github.com/irctest/irctest-go/pkg/transport"
)

var (
	host        = flag.String("host", transport.DefaultHost, "Server host")
	port        = flag.Int("port", 6667, "Server port")
	useTLS      = flag.Bool("tls", false, "Connect with TLS")
	insecure    = flag.Bool("insecure", false, "Skip TLS certificate verification")
	caps        = flag.String("caps", "", "Comma-separated capabilities to request before registering")
	nick        = flag.String("nick", "", "Register with this nick (default: do not register)")
	autoPong    = flag.Bool("auto-pong", true, "Answer server PINGs")
	protocolLog = flag.String("protocol-log", "", "File path for protocol event logging (CBOR format)")
)

func main() {
	flag.Parse()
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "irc> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "quit",
	})
	if err != nil {
		return fmt.Errorf("failed to create readline: %w", err)
	}

	cfg := transport.Config{Name: "server"}
	if *useTLS {
		serverName := *host
		if *insecure {
			serverName = ""
		}
		cfg.TLS = transport.NewClientTLSConfig(serverName)
	}
	if *protocolLog != "" {
		logger, err := irclog.NewFileLogger(*protocolLog)
		if err != nil {
			return fmt.Errorf("failed to create protocol logger: %w", err)
		}
		defer logger.Close()
		cfg.ProtocolLogger = logger
	}

	dialCtx, dialCancel := context.WithTimeout(ctx, 10*time.Second)
	sess, err := transport.Dial(dialCtx, *host, *port, cfg)
	dialCancel()
	if err != nil {
		return err
	}
	defer sess.Close()
	out := rl.Stdout()
	fmt.Fprintf(out, "*** connected to %s\n", sess.RemoteAddr())

	if *caps != "" {
		acked, err := shell.Negotiate(sess, strings.Split(*caps, ","))
		if err != nil {
			return fmt.Errorf("capability negotiation: %w", err)
		}
		fmt.Fprintf(out, "*** acknowledged: %s\n", strings.Join(acked, " "))
	}
	if *nick != "" {
		for _, line := range []string{"NICK " + *nick, "USER " + *nick + " 0 * :irctest-shell"} {
			if err := sess.SendLine(line); err != nil {
				return err
			}
		}
	}

	sh := shell.New(sess, out, *autoPong)
	pumpErr := make(chan error, 1)
	go func() {
		pumpErr <- sh.Pump()
		// Unblock Readline once the server is gone.
		rl.Close()
	}()

	if err := sh.Run(ctx, rl); err != nil {
		return err
	}
	_ = sess.Close()
	return <-pumpErr
}
