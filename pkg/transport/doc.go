// Package transport provides line-oriented TCP sessions for talking to an
// IRC implementation under test.
//
// A Session wraps one connection. Depending on which side the harness plays
// it is either accepted from a Listener (the harness is the server and the
// client under test connects to it) or created with Dial (the harness is a
// client of the server under test).
//
// Lines are CRLF terminated on the wire. ReadLine blocks for exactly one
// line, DrainAvailable collects whatever arrives within a short wait. A
// partially received line is never returned split: it stays buffered until
// its terminator arrives.
//
// Every line in either direction is reported to the configured protocol
// logger with a per-session UUID and, when DisplayIO is set, echoed to the
// console:
//
//	harness as server:  C: <line received>   S: <line sent>
//	harness as client:  S -> <name>: <line>  <name> -> S: <line>
package transport
