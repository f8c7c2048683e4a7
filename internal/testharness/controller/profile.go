package controller

import (
	"context"
	"fmt"
	"io"
	"net"
	"slices"
	"strconv"
	"strings"
	"text/template"
	"time"

	"github.com/irctest/irctest-go/internal/testharness/loader"
	"github.com/irctest/irctest-go/pkg/log"
)

// DefaultStartWait bounds how long a server may take to accept connections.
const DefaultStartWait = 5 * time.Second

// RunData is the value profile templates are rendered with.
type RunData struct {
	Host     string
	Port     int
	Dir      string
	Password string
	TLS      bool
	Auth     *Auth

	// Set only for registration templates.
	Username string
}

// ProfileController runs the software a loader.Profile describes.
type ProfileController struct {
	profile *loader.Profile
	proc    Process
}

// NewProfileController creates a controller for p. Process output goes to
// output when non-nil.
func NewProfileController(p *loader.Profile, output io.Writer, logger log.Logger) *ProfileController {
	return &ProfileController{
		profile: p,
		proc: Process{
			Name:   p.Name,
			Stdout: output,
			Stderr: output,
			Logger: logger,
		},
	}
}

// Profile returns the underlying profile.
func (c *ProfileController) Profile() *loader.Profile {
	return c.profile
}

// SoftwareName implements Controller.
func (c *ProfileController) SoftwareName() string {
	return c.profile.Software
}

// SupportedSASLMechanisms implements ServerController.
func (c *ProfileController) SupportedSASLMechanisms() []string {
	return slices.Clone(c.profile.SASLMechanisms)
}

// CheckOptions returns one UnsupportedError per option the profile cannot
// honor, joined, or nil.
func (c *ProfileController) CheckOptions(opts Options) error {
	return CheckOptions(c.profile.Software, c.profile.Supports, c.profile.SASLMechanisms, opts)
}

// Run implements Controller: it renders the profile files, runs the setup
// commands and starts the run command. For servers it then waits until
// host:port accepts connections.
func (c *ProfileController) Run(ctx context.Context, host string, port int, opts Options) error {
	if err := c.CheckOptions(opts); err != nil {
		return err
	}
	if c.proc.Running() {
		return fmt.Errorf("%s is already running", c.profile.Name)
	}

	dir, err := c.proc.Dir()
	if err != nil {
		return err
	}
	data := RunData{
		Host:     host,
		Port:     port,
		Dir:      dir,
		Password: opts.Password,
		TLS:      opts.TLS,
		Auth:     opts.Auth,
	}

	for _, f := range c.profile.Files {
		content, err := render(f.Path, f.Template, data)
		if err != nil {
			return err
		}
		if _, err := c.proc.WriteFile(f.Path, content); err != nil {
			return err
		}
	}

	env := make([]string, 0, len(c.profile.Env))
	for k, v := range c.profile.Env {
		rendered, err := render("env "+k, v, data)
		if err != nil {
			return err
		}
		env = append(env, k+"="+rendered)
	}
	slices.Sort(env)

	for _, cmd := range c.profile.Setup {
		argv, err := renderArgv(cmd, data)
		if err != nil {
			return err
		}
		if err := c.proc.RunSetup(ctx, argv, env); err != nil {
			return err
		}
	}

	argv, err := renderArgv(c.profile.Run, data)
	if err != nil {
		return err
	}
	if err := c.proc.Start(argv, env); err != nil {
		return err
	}

	if c.profile.Kind != loader.KindServer {
		return nil
	}
	wait := opts.StartWait
	if wait <= 0 {
		wait = c.profile.StartWait
	}
	if wait <= 0 {
		wait = DefaultStartWait
	}
	return c.waitListening(ctx, host, port, wait)
}

func (c *ProfileController) waitListening(ctx context.Context, host string, port int, wait time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()

	addr := net.JoinHostPort(host, strconv.Itoa(port))
	var d net.Dialer
	for {
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err == nil {
			return conn.Close()
		}
		select {
		case <-c.proc.Exited():
			return fmt.Errorf("%s exited before listening on %s", c.profile.Name, addr)
		case <-ctx.Done():
			return fmt.Errorf("%s not listening on %s after %v: %w", c.profile.Name, addr, wait, ctx.Err())
		case <-time.After(50 * time.Millisecond):
		}
	}
}

// Kill implements Controller.
func (c *ProfileController) Kill() error {
	return c.proc.Kill()
}

// RegistrationScript implements UserRegistrar.
func (c *ProfileController) RegistrationScript(username, password string) (RegistrationScript, error) {
	reg := c.profile.Registration
	if reg == nil {
		return RegistrationScript{}, Unsupported(c.profile.Software, "account registration")
	}
	data := RunData{Username: username, Password: password}
	lines := make([]string, 0, len(reg.Lines))
	for i, l := range reg.Lines {
		line, err := render("registration line "+strconv.Itoa(i), l, data)
		if err != nil {
			return RegistrationScript{}, err
		}
		lines = append(lines, strings.TrimRight(line, "\r\n"))
	}
	return RegistrationScript{Lines: lines, Expect: reg.Expect}, nil
}

func render(name, text string, data RunData) (string, error) {
	tmpl, err := template.New(name).Option("missingkey=error").Parse(text)
	if err != nil {
		return "", fmt.Errorf("parse template %s: %w", name, err)
	}
	var b strings.Builder
	if err := tmpl.Execute(&b, data); err != nil {
		return "", fmt.Errorf("render template %s: %w", name, err)
	}
	return b.String(), nil
}

func renderArgv(cmd loader.Command, data RunData) ([]string, error) {
	argv := make([]string, len(cmd))
	for i, arg := range cmd {
		s, err := render(fmt.Sprintf("argv[%d]", i), arg, data)
		if err != nil {
			return nil, err
		}
		argv[i] = s
	}
	return argv, nil
}

// Compile-time interface satisfaction checks.
var (
	_ ServerController = (*ProfileController)(nil)
	_ ClientController = (*ProfileController)(nil)
	_ UserRegistrar    = (*ProfileController)(nil)
)
