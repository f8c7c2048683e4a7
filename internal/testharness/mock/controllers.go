package mock

import (
	"context"
	"slices"
	"sync"

	"github.com/irctest/irctest-go/internal/testharness/controller"
	"github.com/irctest/irctest-go/pkg/transport"
)

// ServerController runs a fake Server as the server under test.
type ServerController struct {
	// Config configures each started server.
	Config ServerConfig

	// Unsupported lists option names the controller refuses, using the
	// controller.Option* vocabulary.
	Unsupported []string

	mu     sync.Mutex
	server *Server
}

var (
	_ controller.ServerController = (*ServerController)(nil)
	_ controller.UserRegistrar    = (*ServerController)(nil)
	_ controller.ClientController = (*ClientController)(nil)
)

// SoftwareName implements controller.Controller.
func (c *ServerController) SoftwareName() string {
	return "FakeIRCd"
}

// SupportedSASLMechanisms implements controller.ServerController.
func (c *ServerController) SupportedSASLMechanisms() []string {
	return []string{"PLAIN"}
}

func (c *ServerController) supports(option string) bool {
	return !slices.Contains(c.Unsupported, option)
}

// Run starts a fake server on host:port.
func (c *ServerController) Run(ctx context.Context, host string, port int, opts controller.Options) error {
	if err := controller.CheckOptions(c.SoftwareName(), c.supports, c.SupportedSASLMechanisms(), opts); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.server != nil {
		return ErrAlreadyRunning
	}
	srv := NewServer(c.Config)
	if err := srv.Start(ctx, host, port); err != nil {
		return err
	}
	c.server = srv
	return nil
}

// Kill stops the server. Killing a stopped controller is a no-op.
func (c *ServerController) Kill() error {
	c.mu.Lock()
	srv := c.server
	c.server = nil
	c.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Stop()
}

// Server returns the running server, or nil.
func (c *ServerController) Server() *Server {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.server
}

// RegistrationScript implements controller.UserRegistrar.
func (c *ServerController) RegistrationScript(username, password string) (controller.RegistrationScript, error) {
	return controller.RegistrationScript{
		Lines:  []string{"REG CREATE " + username + " passphrase " + password},
		Expect: "920",
	}, nil
}

// ClientController runs a fake Client as the client under test.
type ClientController struct {
	// Script drives the client.
	Script ClientScript

	// Transport configures the client's session.
	Transport transport.Config

	// Unsupported lists option names the controller refuses, using the
	// controller.Option* vocabulary.
	Unsupported []string

	mu     sync.Mutex
	client *Client
}

// SoftwareName implements controller.Controller.
func (c *ClientController) SoftwareName() string {
	return "FakeClient"
}

func (c *ClientController) supports(option string) bool {
	return !slices.Contains(c.Unsupported, option)
}

// Run connects a fake client to the harness at host:port. The connection
// is established before Run returns, the script runs in the background.
func (c *ClientController) Run(ctx context.Context, host string, port int, opts controller.Options) error {
	if err := controller.CheckOptions(c.SoftwareName(), c.supports, []string{"PLAIN"}, opts); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client != nil {
		return ErrAlreadyRunning
	}
	client, err := DialClient(ctx, host, port, c.Script, c.Transport)
	if err != nil {
		return err
	}
	if opts.Auth != nil {
		client.WithAuth(opts.Auth.Username, opts.Auth.Password)
	}
	client.Start()
	c.client = client
	return nil
}

// Kill disconnects the client. Killing a stopped controller is a no-op.
func (c *ClientController) Kill() error {
	c.mu.Lock()
	client := c.client
	c.client = nil
	c.mu.Unlock()
	if client == nil {
		return nil
	}
	return client.Close()
}

// Client returns the running client, or nil.
func (c *ClientController) Client() *Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.client
}
