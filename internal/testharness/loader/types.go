// Package loader reads controller profiles from YAML.
//
// A profile describes how to run one IRC implementation under test: the
// config files to render, the setup commands, the run command and the
// options the software cannot honor.
package loader

import (
	"fmt"
	"time"
)

// Kind is the role of the software under test.
type Kind string

const (
	// KindServer is an IRC server; the harness connects to it.
	KindServer Kind = "server"
	// KindClient is an IRC client; it connects to the harness.
	KindClient Kind = "client"
)

// Profile describes one implementation under test.
type Profile struct {
	// Name identifies the profile (e.g. "oragono").
	Name string `yaml:"name"`

	// Software is the display name of the implementation.
	Software string `yaml:"software"`

	// Kind is server or client.
	Kind Kind `yaml:"kind"`

	// Description is optional free text.
	Description string `yaml:"description,omitempty"`

	// SASLMechanisms lists the mechanisms the software implements.
	SASLMechanisms []string `yaml:"sasl_mechanisms,omitempty"`

	// Unsupported lists option names the software cannot honor:
	// password, tls, sasl, restricted_metadata_keys, metadata_keys.
	Unsupported []string `yaml:"unsupported,omitempty"`

	// Files are rendered into the working directory before setup.
	Files []File `yaml:"files,omitempty"`

	// Setup commands run to completion, in order, before Run.
	Setup []Command `yaml:"setup,omitempty"`

	// Run is the long-running command.
	Run Command `yaml:"run"`

	// Env adds variables to the process environment.
	Env map[string]string `yaml:"env,omitempty"`

	// StartWait bounds how long a server may take to accept connections.
	StartWait time.Duration `yaml:"start_wait,omitempty"`

	// Registration creates an account on a running server (optional).
	Registration *Registration `yaml:"registration,omitempty"`

	// SourcePath is the file the profile was loaded from.
	SourcePath string `yaml:"-"`
}

// File is a config file template.
type File struct {
	// Path is relative to the working directory.
	Path string `yaml:"path"`

	// Template is a text/template rendered with the run parameters.
	Template string `yaml:"template"`
}

// Command is an argv whose elements are text/template strings.
type Command []string

// Registration describes the lines that create an account.
type Registration struct {
	// Lines are templates sent after connection registration completed.
	Lines []string `yaml:"lines"`

	// Expect is the command (usually a numeric) confirming success.
	Expect string `yaml:"expect"`
}

// Supports reports whether option is not declared unsupported.
func (p *Profile) Supports(option string) bool {
	for _, u := range p.Unsupported {
		if u == option {
			return false
		}
	}
	return true
}

// LoadError provides details about a profile loading error.
type LoadError struct {
	// File is the path to the file that failed to load.
	File string

	// Message describes the error.
	Message string

	// Cause is the underlying error, if any.
	Cause error
}

func (e *LoadError) Error() string {
	msg := e.Message
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	if e.File == "" {
		return msg
	}
	return e.File + ": " + msg
}

func (e *LoadError) Unwrap() error {
	return e.Cause
}
