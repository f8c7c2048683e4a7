package log

import "time"

// Event represents one protocol log event.
// CBOR encoding uses integer keys for compactness.
type Event struct {
	// Timestamp when the event occurred (nanosecond precision).
	Timestamp time.Time `cbor:"1,keyasint"`

	// ConnectionID uniquely identifies the connection (UUID).
	ConnectionID string `cbor:"2,keyasint"`

	// Direction indicates line flow relative to the harness.
	Direction Direction `cbor:"3,keyasint"`

	// Category classifies the event type.
	Category Category `cbor:"4,keyasint"`

	// LocalRole is the side the harness plays on this connection.
	LocalRole Role `cbor:"5,keyasint"`

	// PeerName is the harness-assigned session name ("1", "foo", ...).
	PeerName string `cbor:"6,keyasint,omitempty"`

	// RemoteAddr is the peer address (IP:port).
	RemoteAddr string `cbor:"7,keyasint,omitempty"`

	// TestID identifies the test case the connection belongs to.
	TestID string `cbor:"8,keyasint,omitempty"`

	// Type-specific payload (one of these will be set).
	Line        *LineEvent        `cbor:"10,keyasint,omitempty"`
	StateChange *StateChangeEvent `cbor:"11,keyasint,omitempty"`
	Error       *ErrorEventData   `cbor:"12,keyasint,omitempty"`
}

// Direction indicates the direction of line flow.
type Direction uint8

const (
	// DirectionIn indicates a line received from the peer.
	DirectionIn Direction = 0
	// DirectionOut indicates a line sent to the peer.
	DirectionOut Direction = 1
)

// String returns the direction name.
func (d Direction) String() string {
	switch d {
	case DirectionIn:
		return "IN"
	case DirectionOut:
		return "OUT"
	default:
		return "UNKNOWN"
	}
}

// Category classifies the event type.
type Category uint8

const (
	// CategoryLine indicates a protocol line.
	CategoryLine Category = 0
	// CategoryState indicates a state change.
	CategoryState Category = 1
	// CategoryError indicates an error event.
	CategoryError Category = 2
)

// String returns the category name.
func (c Category) String() string {
	switch c {
	case CategoryLine:
		return "LINE"
	case CategoryState:
		return "STATE"
	case CategoryError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Role is the side of the connection the harness plays.
type Role uint8

const (
	// RoleClient means the harness dialed a server under test.
	RoleClient Role = 0
	// RoleServer means the harness accepted a client under test.
	RoleServer Role = 1
)

// String returns the role name.
func (r Role) String() string {
	switch r {
	case RoleClient:
		return "CLIENT"
	case RoleServer:
		return "SERVER"
	default:
		return "UNKNOWN"
	}
}

// LineEvent captures one wire line.
type LineEvent struct {
	// Raw is the line without its CRLF terminator.
	Raw string `cbor:"1,keyasint"`

	// Command is the parsed command, empty when the line did not parse.
	Command string `cbor:"2,keyasint,omitempty"`
}

// StateChangeEvent captures connection and negotiation lifecycle events.
type StateChangeEvent struct {
	// Entity being changed.
	Entity StateEntity `cbor:"1,keyasint"`

	// OldState is the previous state (may be empty).
	OldState string `cbor:"2,keyasint,omitempty"`

	// NewState is the new state.
	NewState string `cbor:"3,keyasint"`

	// Reason for the change (if available).
	Reason string `cbor:"4,keyasint,omitempty"`
}

// StateEntity indicates what entity changed state.
type StateEntity uint8

const (
	// StateEntityConnection indicates a connection state change.
	StateEntityConnection StateEntity = 0
	// StateEntityNegotiation indicates a CAP negotiation state change.
	StateEntityNegotiation StateEntity = 1
	// StateEntityProcess indicates an implementation process start or stop.
	StateEntityProcess StateEntity = 2
)

// String returns the state entity name.
func (s StateEntity) String() string {
	switch s {
	case StateEntityConnection:
		return "CONNECTION"
	case StateEntityNegotiation:
		return "NEGOTIATION"
	case StateEntityProcess:
		return "PROCESS"
	default:
		return "UNKNOWN"
	}
}

// ErrorEventData captures transport and parse errors.
type ErrorEventData struct {
	// Message is the error message.
	Message string `cbor:"1,keyasint"`

	// Context describes what operation was being performed.
	Context string `cbor:"2,keyasint,omitempty"`
}
