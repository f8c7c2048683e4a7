package controller

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/irctest/irctest-go/pkg/log"
)

// Process runs an implementation from a private temporary directory.
// The zero value is ready to use.
type Process struct {
	// Name labels log events and error messages.
	Name string

	// Stdout and Stderr receive the process output (default: discarded).
	Stdout io.Writer
	Stderr io.Writer

	// Logger receives process start and stop events (optional).
	Logger log.Logger

	mu   sync.Mutex
	dir  string
	cmd  *exec.Cmd
	done chan struct{}
	err  error
}

// Dir returns the working directory, creating it on first use.
func (p *Process) Dir() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dirLocked()
}

func (p *Process) dirLocked() (string, error) {
	if p.dir != "" {
		return p.dir, nil
	}
	dir, err := os.MkdirTemp("", "irctest-")
	if err != nil {
		return "", fmt.Errorf("create working directory: %w", err)
	}
	p.dir = dir
	return dir, nil
}

// WriteFile writes content to name inside the working directory and
// returns the full path.
func (p *Process) WriteFile(name, content string) (string, error) {
	dir, err := p.Dir()
	if err != nil {
		return "", err
	}
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("write %s: %w", name, err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", name, err)
	}
	return path, nil
}

// RunSetup runs argv to completion inside the working directory.
func (p *Process) RunSetup(ctx context.Context, argv []string, env []string) error {
	if len(argv) == 0 {
		return errors.New("empty setup command")
	}
	dir, err := p.Dir()
	if err != nil {
		return err
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), env...)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("setup %v: %w: %s", argv, err, bytes.TrimSpace(out.Bytes()))
	}
	return nil
}

// Start launches argv in its own process group.
func (p *Process) Start(argv []string, env []string) error {
	if len(argv) == 0 {
		return errors.New("empty run command")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cmd != nil {
		return fmt.Errorf("%s already running", p.label())
	}
	dir, err := p.dirLocked()
	if err != nil {
		return err
	}

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), env...)
	cmd.Stdout = p.Stdout
	cmd.Stderr = p.Stderr
	setProcessGroup(cmd)

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s %v: %w", p.label(), argv, err)
	}

	done := make(chan struct{})
	p.cmd = cmd
	p.done = done
	p.logState("", "running", fmt.Sprintf("pid %d", cmd.Process.Pid))

	go func() {
		err := cmd.Wait()
		p.mu.Lock()
		p.err = err
		p.mu.Unlock()
		close(done)
	}()
	return nil
}

// Running reports whether the process was started and has not exited.
func (p *Process) Running() bool {
	p.mu.Lock()
	done := p.done
	p.mu.Unlock()
	if done == nil {
		return false
	}
	select {
	case <-done:
		return false
	default:
		return true
	}
}

// Exited returns a channel closed when the process exits, or nil before
// Start.
func (p *Process) Exited() <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.done
}

// Kill stops the process group, waits for it and removes the working
// directory. It is safe to call multiple times and before Start.
func (p *Process) Kill() error {
	p.mu.Lock()
	cmd, done, dir := p.cmd, p.done, p.dir
	p.cmd, p.done, p.dir = nil, nil, ""
	p.mu.Unlock()

	if cmd != nil {
		select {
		case <-done:
		default:
			killProcessGroup(cmd)
			select {
			case <-done:
			case <-time.After(5 * time.Second):
				return fmt.Errorf("%s did not exit after kill", p.label())
			}
		}
		p.logState("running", "stopped", "killed")
	}

	if dir != "" {
		if err := os.RemoveAll(dir); err != nil {
			return fmt.Errorf("remove working directory: %w", err)
		}
	}
	return nil
}

func (p *Process) label() string {
	if p.Name != "" {
		return p.Name
	}
	return "process"
}

func (p *Process) logState(oldState, newState, reason string) {
	if p.Logger == nil {
		return
	}
	p.Logger.Log(log.Event{
		Timestamp: time.Now(),
		Category:  log.CategoryState,
		PeerName:  p.label(),
		StateChange: &log.StateChangeEvent{
			Entity:   log.StateEntityProcess,
			OldState: oldState,
			NewState: newState,
			Reason:   reason,
		},
	})
}
