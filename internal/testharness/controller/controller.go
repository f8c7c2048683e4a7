// Package controller defines how the harness starts and stops the IRC
// implementation under test.
package controller

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"
)

// ErrUnsupported is wrapped by every UnsupportedError. A test that hits it
// is skipped, not failed.
var ErrUnsupported = errors.New("not supported by controller")

// UnsupportedError reports one option the software under test cannot honor.
type UnsupportedError struct {
	Software string
	Feature  string
}

func (e *UnsupportedError) Error() string {
	if e.Software == "" {
		return fmt.Sprintf("%s: %s", ErrUnsupported, e.Feature)
	}
	return fmt.Sprintf("%s %s: %s", e.Software, ErrUnsupported, e.Feature)
}

func (e *UnsupportedError) Unwrap() error { return ErrUnsupported }

// Unsupported returns an *UnsupportedError.
func Unsupported(software, feature string) error {
	return &UnsupportedError{Software: software, Feature: feature}
}

// Auth carries SASL credentials a client under test should use, or that a
// test registers on a server under test.
type Auth struct {
	Mechanisms []string
	Username   string
	Password   string
}

// Options are the knobs a test may ask the controller to apply.
type Options struct {
	// Password is the connection password (PASS).
	Password string

	// TLS asks for a TLS listener or connection.
	TLS bool

	// Auth enables SASL.
	Auth *Auth

	// RestrictedMetadataKeys are keys only operators may set.
	RestrictedMetadataKeys []string

	// ValidMetadataKeys and InvalidMetadataKeys define the accepted keys.
	ValidMetadataKeys   []string
	InvalidMetadataKeys []string

	// StartWait overrides how long a server may take to come up.
	StartWait time.Duration
}

// Controller runs one implementation under test.
type Controller interface {
	// SoftwareName is the display name of the implementation.
	SoftwareName() string

	// Run starts the implementation. Options it cannot honor yield
	// errors wrapping ErrUnsupported, one per option, before anything is
	// started.
	Run(ctx context.Context, host string, port int, opts Options) error

	// Kill stops the implementation. It is safe to call on a stopped or
	// never-started controller.
	Kill() error
}

// ServerController runs an IRC server; the harness connects to host:port.
type ServerController interface {
	Controller

	// SupportedSASLMechanisms lists the mechanisms the server implements.
	SupportedSASLMechanisms() []string
}

// ClientController runs an IRC client that connects to the harness at
// host:port.
type ClientController interface {
	Controller
}

// RegistrationScript is the exchange that creates an account on a server.
type RegistrationScript struct {
	// Lines are sent once connection registration completed.
	Lines []string

	// Expect is the command confirming the account was created.
	Expect string
}

// UserRegistrar is implemented by server controllers that know how to
// create accounts.
type UserRegistrar interface {
	RegistrationScript(username, password string) (RegistrationScript, error)
}

// Option names a controller may declare unsupported.
const (
	OptionPassword               = "password"
	OptionTLS                    = "tls"
	OptionSASL                   = "sasl"
	OptionRestrictedMetadataKeys = "restricted_metadata_keys"
	OptionMetadataKeys           = "metadata_keys"
)

// CheckOptions returns one UnsupportedError per requested option that
// supports rejects, joined, or nil. A requested SASL mechanism missing from
// a non-empty mechanisms list is unsupported too.
func CheckOptions(software string, supports func(option string) bool, mechanisms []string, opts Options) error {
	var errs []error
	unsupported := func(feature string) {
		errs = append(errs, Unsupported(software, feature))
	}

	if opts.Password != "" && !supports(OptionPassword) {
		unsupported("PASS command")
	}
	if opts.TLS && !supports(OptionTLS) {
		unsupported("TLS")
	}
	if opts.Auth != nil {
		if !supports(OptionSASL) {
			unsupported("SASL")
		} else if len(mechanisms) > 0 {
			for _, mech := range opts.Auth.Mechanisms {
				if !slices.Contains(mechanisms, mech) {
					unsupported("SASL mechanism " + mech)
				}
			}
		}
	}
	if len(opts.RestrictedMetadataKeys) > 0 && !supports(OptionRestrictedMetadataKeys) {
		unsupported("restricted METADATA keys")
	}
	if (len(opts.ValidMetadataKeys) > 0 || len(opts.InvalidMetadataKeys) > 0) && !supports(OptionMetadataKeys) {
		unsupported("defining valid and invalid METADATA keys")
	}
	return errors.Join(errs...)
}
