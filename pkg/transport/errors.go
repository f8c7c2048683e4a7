package transport

import (
	"errors"
	"os"
)

var (
	// ErrTransport is wrapped by every socket level failure.
	ErrTransport = errors.New("transport error")

	// ErrConnectionClosed indicates the peer closed the connection or the
	// session was closed locally.
	ErrConnectionClosed = errors.New("connection closed")
)

// IsTimeout reports whether err is a read or accept deadline expiry.
func IsTimeout(err error) bool {
	return errors.Is(err, os.ErrDeadlineExceeded)
}
