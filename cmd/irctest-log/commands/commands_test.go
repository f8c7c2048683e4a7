package commands

import (
	"bufio"
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/irctest/irctest-go/pkg/log"
)

var base = time.Date(2026, 1, 28, 10, 15, 32, 123456000, time.UTC)

func sampleEvents() []log.Event {
	conn := "abc12345-6789-0123-4567-890abcdef012"
	other := "ffee0011-2233-4455-6677-8899aabbccdd"
	return []log.Event{
		{
			Timestamp: base, ConnectionID: conn, Category: log.CategoryState, LocalRole: log.RoleClient,
			PeerName: "foo", TestID: "labeled-response/privmsg-client",
			StateChange: &log.StateChangeEvent{Entity: log.StateEntityConnection, NewState: "open", Reason: "127.0.0.1:6667"},
		},
		{
			Timestamp: base.Add(time.Millisecond), ConnectionID: conn, Direction: log.DirectionOut, Category: log.CategoryLine,
			PeerName: "foo", TestID: "labeled-response/privmsg-client",
			Line: &log.LineEvent{Raw: "CAP LS 302", Command: "CAP"},
		},
		{
			Timestamp: base.Add(2 * time.Millisecond), ConnectionID: conn, Direction: log.DirectionIn, Category: log.CategoryLine,
			PeerName: "foo", TestID: "labeled-response/privmsg-client",
			Line: &log.LineEvent{Raw: ":fake.test CAP * LS :batch echo-message", Command: "CAP"},
		},
		{
			Timestamp: base.Add(3 * time.Millisecond), ConnectionID: conn, Direction: log.DirectionOut, Category: log.CategoryLine,
			PeerName: "foo", TestID: "labeled-response/privmsg-client",
			Line: &log.LineEvent{Raw: "@draft/label=12345 PRIVMSG bar :hi", Command: "PRIVMSG"},
		},
		{
			Timestamp: base.Add(4 * time.Millisecond), ConnectionID: other, Category: log.CategoryError, LocalRole: log.RoleServer,
			PeerName: "client", TestID: "sasl/client-plain",
			Error: &log.ErrorEventData{Message: "connection closed", Context: "read"},
		},
	}
}

func writeLog(t *testing.T, events []log.Event) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "run.ilog")
	logger, err := log.NewFileLogger(path)
	if err != nil {
		t.Fatalf("NewFileLogger: %v", err)
	}
	for _, e := range events {
		logger.Log(e)
	}
	if err := logger.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	return path
}

func TestFormatLineEvent(t *testing.T) {
	var buf bytes.Buffer
	formatEvent(&buf, sampleEvents()[3])
	want := "2026-01-28T10:15:32.126456Z [conn:abc12345] foo -> @draft/label=12345 PRIVMSG bar :hi\n"
	if buf.String() != want {
		t.Errorf("got  %q\nwant %q", buf.String(), want)
	}

	buf.Reset()
	formatEvent(&buf, sampleEvents()[2])
	if !strings.Contains(buf.String(), " foo <- :fake.test CAP * LS") {
		t.Errorf("expected incoming arrow, got: %s", buf.String())
	}
}

func TestFormatStateAndErrorEvents(t *testing.T) {
	var buf bytes.Buffer
	formatEvent(&buf, sampleEvents()[0])
	if !strings.Contains(buf.String(), "STATE CONNECTION open (127.0.0.1:6667)") {
		t.Errorf("unexpected state output: %s", buf.String())
	}

	buf.Reset()
	formatEvent(&buf, sampleEvents()[4])
	if !strings.Contains(buf.String(), "ERROR connection closed [read]") {
		t.Errorf("unexpected error output: %s", buf.String())
	}
}

func TestRunViewFilters(t *testing.T) {
	path := writeLog(t, sampleEvents())

	tests := []struct {
		name  string
		opts  Options
		lines int
	}{
		{"all", Options{}, 5},
		{"outgoing", Options{Direction: "out"}, 2},
		{"command", Options{Command: "privmsg"}, 1},
		{"category", Options{Category: "error"}, 1},
		{"test", Options{TestID: "sasl/client-plain"}, 1},
		{"peer", Options{Peer: "foo"}, 4},
		{"time", Options{TimeStart: base.Add(time.Second).Format(time.RFC3339)}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			if err := RunView(path, tt.opts, &buf); err != nil {
				t.Fatalf("RunView: %v", err)
			}
			got := 0
			if buf.Len() > 0 {
				got = strings.Count(buf.String(), "\n")
			}
			if got != tt.lines {
				t.Errorf("got %d lines, want %d:\n%s", got, tt.lines, buf.String())
			}
		})
	}
}

func TestRunViewBadFlags(t *testing.T) {
	path := writeLog(t, sampleEvents())
	for _, opts := range []Options{
		{Direction: "sideways"},
		{Category: "frame"},
		{TimeEnd: "yesterday"},
	} {
		if err := RunView(path, opts, &bytes.Buffer{}); err == nil {
			t.Errorf("expected error for %+v", opts)
		}
	}
	if err := RunView(filepath.Join(t.TempDir(), "missing.ilog"), Options{}, &bytes.Buffer{}); err == nil {
		t.Error("expected error for a missing file")
	}
}

func TestRunExportRaw(t *testing.T) {
	path := writeLog(t, sampleEvents())
	out := filepath.Join(t.TempDir(), "transcript.txt")
	if err := RunExport(path, "raw", out, Options{Peer: "foo"}); err != nil {
		t.Fatalf("RunExport: %v", err)
	}
	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	want := "CAP LS 302\r\n:fake.test CAP * LS :batch echo-message\r\n@draft/label=12345 PRIVMSG bar :hi\r\n"
	if string(data) != want {
		t.Errorf("got %q, want %q", data, want)
	}
}

func TestRunExportJSONL(t *testing.T) {
	path := writeLog(t, sampleEvents())
	out := filepath.Join(t.TempDir(), "events.jsonl")
	if err := RunExport(path, "jsonl", out, Options{}); err != nil {
		t.Fatalf("RunExport: %v", err)
	}
	f, err := os.Open(out)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	count := 0
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var e log.Event
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			t.Fatalf("line %d: %v", count, err)
		}
		count++
	}
	if count != 5 {
		t.Errorf("exported %d events, want 5", count)
	}

	if err := RunExport(path, "csv", "", Options{}); err == nil {
		t.Error("expected error for unknown format")
	}
}

func TestRunFilter(t *testing.T) {
	path := writeLog(t, sampleEvents())
	out := filepath.Join(t.TempDir(), "lines.ilog")

	var buf bytes.Buffer
	if err := RunFilter(path, out, Options{Category: "line"}, &buf); err != nil {
		t.Fatalf("RunFilter: %v", err)
	}
	if !strings.Contains(buf.String(), "Filtered 3 events") {
		t.Errorf("unexpected summary: %s", buf.String())
	}

	stats, err := CollectStats(out)
	if err != nil {
		t.Fatal(err)
	}
	if stats.TotalEvents != 3 || stats.EventsByCategory[log.CategoryLine] != 3 {
		t.Errorf("filtered file has %d events (%d lines), want 3 lines", stats.TotalEvents, stats.EventsByCategory[log.CategoryLine])
	}
}

func TestCollectStats(t *testing.T) {
	stats, err := CollectStats(writeLog(t, sampleEvents()))
	if err != nil {
		t.Fatal(err)
	}
	if stats.TotalEvents != 5 {
		t.Errorf("TotalEvents = %d, want 5", stats.TotalEvents)
	}
	if len(stats.Connections) != 2 || len(stats.Tests) != 2 {
		t.Errorf("got %d connections and %d tests, want 2 and 2", len(stats.Connections), len(stats.Tests))
	}
	if stats.Commands["CAP"] != 2 || stats.Commands["PRIVMSG"] != 1 {
		t.Errorf("unexpected command counts: %v", stats.Commands)
	}
	if stats.EventsByDirection[log.DirectionOut] != 2 || stats.EventsByDirection[log.DirectionIn] != 1 {
		t.Errorf("unexpected direction counts: %v", stats.EventsByDirection)
	}
	if stats.Errors != 1 {
		t.Errorf("Errors = %d, want 1", stats.Errors)
	}
	if got := stats.TimeRange.End.Sub(stats.TimeRange.Start); got != 4*time.Millisecond {
		t.Errorf("time range = %v, want 4ms", got)
	}
}

func TestRunStatsOutput(t *testing.T) {
	var buf bytes.Buffer
	if err := RunStats(writeLog(t, sampleEvents()), &buf); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{
		"=== IRC Protocol Log Statistics ===",
		"Total Events: 5",
		"CAP:",
		"Connections: 2",
		"[abc12345] CLIENT foo, 3 lines",
		"Test: sasl/client-plain",
		"Errors: 1",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q in:\n%s", want, out)
		}
	}
}
