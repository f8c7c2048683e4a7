// Package commands implements the irctest-log CLI commands.
package commands

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/irctest/irctest-go/pkg/log"
)

// Options holds the filter flags shared by view, export and filter.
type Options struct {
	ConnID    string
	Peer      string
	TestID    string
	Command   string
	TimeStart string
	TimeEnd   string
	Direction string
	Category  string
}

// Filter converts the flag values into a log.Filter.
func (o Options) Filter() (log.Filter, error) {
	filter := log.Filter{
		ConnectionID: o.ConnID,
		PeerName:     o.Peer,
		TestID:       o.TestID,
		Command:      strings.ToUpper(o.Command),
	}

	if o.TimeStart != "" {
		t, err := time.Parse(time.RFC3339, o.TimeStart)
		if err != nil {
			return log.Filter{}, fmt.Errorf("invalid time-start format: %w", err)
		}
		filter.TimeStart = &t
	}
	if o.TimeEnd != "" {
		t, err := time.Parse(time.RFC3339, o.TimeEnd)
		if err != nil {
			return log.Filter{}, fmt.Errorf("invalid time-end format: %w", err)
		}
		filter.TimeEnd = &t
	}
	if o.Direction != "" {
		d, err := parseDirection(o.Direction)
		if err != nil {
			return log.Filter{}, err
		}
		filter.Direction = &d
	}
	if o.Category != "" {
		c, err := parseCategory(o.Category)
		if err != nil {
			return log.Filter{}, err
		}
		filter.Category = &c
	}
	return filter, nil
}

// formatEvent writes one event to w. Lines are printed as a transcript,
// other events get a detail block.
func formatEvent(w io.Writer, event log.Event) {
	ts := event.Timestamp.UTC().Format("2006-01-02T15:04:05.000000Z")
	fmt.Fprintf(w, "%s [conn:%s]", ts, shortenConnID(event.ConnectionID))
	if event.PeerName != "" {
		fmt.Fprintf(w, " %s", event.PeerName)
	}

	switch {
	case event.Line != nil:
		arrow := "<-"
		if event.Direction == log.DirectionOut {
			arrow = "->"
		}
		fmt.Fprintf(w, " %s %s\n", arrow, event.Line.Raw)

	case event.StateChange != nil:
		sc := event.StateChange
		fmt.Fprintf(w, " STATE %s", sc.Entity)
		if sc.OldState != "" {
			fmt.Fprintf(w, " %s ->", sc.OldState)
		}
		fmt.Fprintf(w, " %s", sc.NewState)
		if sc.Reason != "" {
			fmt.Fprintf(w, " (%s)", sc.Reason)
		}
		fmt.Fprintln(w)

	case event.Error != nil:
		fmt.Fprintf(w, " ERROR %s", event.Error.Message)
		if event.Error.Context != "" {
			fmt.Fprintf(w, " [%s]", event.Error.Context)
		}
		fmt.Fprintln(w)

	default:
		fmt.Fprintf(w, " %s\n", event.Category)
	}
}

// shortenConnID returns the first 8 characters of the connection ID.
func shortenConnID(id string) string {
	if len(id) >= 8 {
		return id[:8]
	}
	return id
}

// parseDirection parses a direction string (case-insensitive).
func parseDirection(s string) (log.Direction, error) {
	switch strings.ToLower(s) {
	case "in":
		return log.DirectionIn, nil
	case "out":
		return log.DirectionOut, nil
	default:
		return 0, fmt.Errorf("invalid direction: %s (must be in or out)", s)
	}
}

// parseCategory parses a category string (case-insensitive).
func parseCategory(s string) (log.Category, error) {
	switch strings.ToLower(s) {
	case "line":
		return log.CategoryLine, nil
	case "state":
		return log.CategoryState, nil
	case "error":
		return log.CategoryError, nil
	default:
		return 0, fmt.Errorf("invalid category: %s (must be line, state, or error)", s)
	}
}

// eachEvent calls fn for every event in path that matches filter.
func eachEvent(path string, filter log.Filter, fn func(log.Event) error) error {
	reader, err := log.NewFilteredReader(path, filter)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer reader.Close()

	for {
		event, err := reader.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read event: %w", err)
		}
		if err := fn(event); err != nil {
			return err
		}
	}
}

// RunView executes the view command.
func RunView(path string, opts Options, output io.Writer) error {
	filter, err := opts.Filter()
	if err != nil {
		return err
	}
	return eachEvent(path, filter, func(event log.Event) error {
		formatEvent(output, event)
		return nil
	})
}
