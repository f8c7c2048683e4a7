package log

import (
	"sync"
	"testing"
)

type recordingLogger struct {
	mu     sync.Mutex
	events []Event
}

func (r *recordingLogger) Log(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func TestMultiLoggerFanOut(t *testing.T) {
	a, b := &recordingLogger{}, &recordingLogger{}
	m := NewMultiLogger(a, nil, b)

	m.Log(lineEvent("c", DirectionIn, "PING :x", "PING"))

	if len(a.events) != 1 || len(b.events) != 1 {
		t.Fatalf("got %d and %d events, want 1 each", len(a.events), len(b.events))
	}
}

func TestMultiLoggerEmpty(t *testing.T) {
	NewMultiLogger().Log(Event{})
	NewMultiLogger(nil, nil).Log(Event{})
}

func TestNoopLogger(t *testing.T) {
	var l Logger = NoopLogger{}
	l.Log(Event{})
}

func TestEnumStrings(t *testing.T) {
	tests := []struct {
		got, want string
	}{
		{DirectionIn.String(), "IN"},
		{DirectionOut.String(), "OUT"},
		{Direction(9).String(), "UNKNOWN"},
		{CategoryLine.String(), "LINE"},
		{CategoryState.String(), "STATE"},
		{CategoryError.String(), "ERROR"},
		{RoleClient.String(), "CLIENT"},
		{RoleServer.String(), "SERVER"},
		{StateEntityConnection.String(), "CONNECTION"},
		{StateEntityNegotiation.String(), "NEGOTIATION"},
		{StateEntityProcess.String(), "PROCESS"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("got %q, want %q", tt.got, tt.want)
		}
	}
}
