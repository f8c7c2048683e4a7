package log

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"
)

func TestSlogAdapterLine(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	NewSlogAdapter(logger).Log(lineEvent("conn-1", DirectionOut, "NICK foo", "NICK"))

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("invalid JSON output %q: %v", buf.String(), err)
	}
	checks := map[string]string{
		"msg":       "protocol",
		"conn_id":   "conn-1",
		"direction": "OUT",
		"category":  "LINE",
		"line":      "NICK foo",
		"command":   "NICK",
		"peer":      "1",
	}
	for k, want := range checks {
		if got, _ := rec[k].(string); got != want {
			t.Errorf("%s: got %q, want %q", k, got, want)
		}
	}
}

func TestSlogAdapterStateAndError(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	a := NewSlogAdapter(logger)

	a.Log(Event{
		ConnectionID: "c",
		Category:     CategoryState,
		StateChange: &StateChangeEvent{
			Entity:   StateEntityNegotiation,
			OldState: "AwaitingLS",
			NewState: "Negotiating",
			Reason:   "CAP LS 302",
		},
	})
	a.Log(Event{
		ConnectionID: "c",
		Category:     CategoryError,
		Error:        &ErrorEventData{Message: "boom", Context: "read"},
	})

	dec := json.NewDecoder(&buf)
	var state, errRec map[string]any
	if err := dec.Decode(&state); err != nil {
		t.Fatalf("decode state: %v", err)
	}
	if err := dec.Decode(&errRec); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if state["entity"] != "NEGOTIATION" || state["new_state"] != "Negotiating" || state["reason"] != "CAP LS 302" {
		t.Errorf("unexpected state record: %v", state)
	}
	if errRec["error_msg"] != "boom" || errRec["error_context"] != "read" {
		t.Errorf("unexpected error record: %v", errRec)
	}
}

func TestSlogAdapterBelowLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))

	NewSlogAdapter(logger).Log(lineEvent("c", DirectionIn, "PING", "PING"))

	if buf.Len() != 0 {
		t.Errorf("expected no output at info level, got %q", buf.String())
	}
}
