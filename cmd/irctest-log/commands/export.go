package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/irctest/irctest-go/pkg/log"
)

// RunExport writes the matching events of path to output (stdout when
// empty) as JSON lines ("jsonl") or as the bare wire lines ("raw").
func RunExport(path, format, output string, opts Options) error {
	filter, err := opts.Filter()
	if err != nil {
		return err
	}

	var write func(io.Writer, log.Event) error
	switch format {
	case "jsonl":
		write = func(w io.Writer, e log.Event) error {
			if err := json.NewEncoder(w).Encode(e); err != nil {
				return fmt.Errorf("failed to encode event: %w", err)
			}
			return nil
		}
	case "raw":
		write = func(w io.Writer, e log.Event) error {
			if e.Line == nil {
				return nil
			}
			_, err := fmt.Fprintf(w, "%s\r\n", e.Line.Raw)
			return err
		}
	default:
		return fmt.Errorf("unknown format: %s (supported: jsonl, raw)", format)
	}

	var w io.Writer = os.Stdout
	if output != "" {
		f, err := os.Create(output)
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		defer f.Close()
		w = f
	}

	return eachEvent(path, filter, func(e log.Event) error {
		return write(w, e)
	})
}
