// Package sasl implements the client and server framing of SASL over IRC:
// PLAIN payloads and AUTHENTICATE chunking.
package sasl

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/ergochat/irc-go/ircutils"
)

// ChunkSize is the maximum length of one AUTHENTICATE argument.
const ChunkSize = 400

// MaxPayload bounds a reassembled response, in decoded bytes.
const MaxPayload = 64 * 1024

// Mechanisms used by the harness.
const (
	MechanismPlain    = "PLAIN"
	MechanismExternal = "EXTERNAL"
)

// SASL numerics.
const (
	RplLoggedIn    = "900"
	RplLoggedOut   = "901"
	RplSaslSuccess = "903"
	ErrSaslFail    = "904"
	ErrSaslTooLong = "905"
	ErrSaslAborted = "906"
	RplSaslMechs   = "908"
)

var (
	// ErrInvalidPayload indicates a payload that is not valid base64 or
	// does not have the mechanism's shape.
	ErrInvalidPayload = errors.New("invalid SASL payload")

	// ErrPayloadTooLong indicates a reassembled payload above MaxPayload.
	ErrPayloadTooLong = errors.New("SASL payload too long")

	// ErrAborted indicates the peer sent "AUTHENTICATE *".
	ErrAborted = errors.New("SASL exchange aborted")
)

// PlainMessage returns the raw PLAIN response for the given identities.
// authzid may be empty.
func PlainMessage(authzid, authcid, password string) []byte {
	return []byte(authzid + "\x00" + authcid + "\x00" + password)
}

// EncodePlain returns the base64 PLAIN payload for the given identities.
func EncodePlain(authzid, authcid, password string) string {
	return base64.StdEncoding.EncodeToString(PlainMessage(authzid, authcid, password))
}

// PlainResponse returns the AUTHENTICATE arguments carrying a PLAIN
// response.
func PlainResponse(authzid, authcid, password string) []string {
	return EncodeResponse(PlainMessage(authzid, authcid, password))
}

// EncodeResponse splits a raw response into base64 AUTHENTICATE arguments
// of at most ChunkSize bytes. An empty response, or one whose last chunk
// is exactly ChunkSize long, is terminated by "+".
func EncodeResponse(raw []byte) []string {
	return ircutils.EncodeSASLResponse(raw)
}

// Credentials is a decoded PLAIN payload.
type Credentials struct {
	Authzid  string
	Authcid  string
	Password string
}

// ParsePlain splits a raw PLAIN response into its fields.
func ParsePlain(raw []byte) (Credentials, error) {
	parts := bytes.Split(raw, []byte{0})
	if len(parts) != 3 {
		return Credentials{}, fmt.Errorf("%w: PLAIN needs 3 fields, got %d", ErrInvalidPayload, len(parts))
	}
	return Credentials{
		Authzid:  string(parts[0]),
		Authcid:  string(parts[1]),
		Password: string(parts[2]),
	}, nil
}

// DecodePlain parses a single base64 PLAIN payload.
func DecodePlain(payload string) (Credentials, error) {
	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return Credentials{}, fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}
	return ParsePlain(raw)
}

// Assembler reassembles a chunked AUTHENTICATE response. The zero value
// accepts up to MaxPayload decoded bytes.
type Assembler struct {
	// Limit bounds the decoded response; zero means MaxPayload.
	Limit int

	buf *ircutils.SASLBuffer
}

// Add feeds one AUTHENTICATE argument. When the response is complete it
// returns done and the decoded bytes. Any error resets the assembler.
func (a *Assembler) Add(chunk string) (done bool, raw []byte, err error) {
	if a.buf == nil {
		limit := a.Limit
		if limit == 0 {
			limit = MaxPayload
		}
		a.buf = ircutils.NewSASLBuffer(limit)
	}
	if chunk == "*" {
		a.buf.Clear()
		return false, nil, ErrAborted
	}

	done, raw, err = a.buf.Add(chunk)
	switch {
	case errors.Is(err, ircutils.ErrSASLLimitExceeded):
		return false, nil, fmt.Errorf("%w: %w", ErrPayloadTooLong, err)
	case err != nil:
		return false, nil, fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}
	return done, raw, nil
}

// ParseMechanisms splits the value of the "sasl" capability, or the
// argument of RPL_SASLMECHS, into mechanism names.
func ParseMechanisms(value string) []string {
	if value == "" {
		return nil
	}
	return strings.FieldsFunc(value, func(r rune) bool { return r == ',' })
}
