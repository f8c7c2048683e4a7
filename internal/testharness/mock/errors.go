package mock

import "errors"

// Mock package errors.
var (
	// ErrAlreadyRunning is returned when starting a fake that is running.
	ErrAlreadyRunning = errors.New("fake already running")

	// ErrNotRunning is returned when operating on a stopped fake.
	ErrNotRunning = errors.New("fake not running")

	// ErrUnexpectedReply is returned by the fake client when its peer
	// answers out of script.
	ErrUnexpectedReply = errors.New("unexpected reply")
)
