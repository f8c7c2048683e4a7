package commands

import (
	"fmt"
	"io"

	"github.com/irctest/irctest-go/pkg/log"
)

// RunFilter writes the events of path matching opts to a new log file and
// reports how many were kept on w.
func RunFilter(path, output string, opts Options, w io.Writer) error {
	filter, err := opts.Filter()
	if err != nil {
		return err
	}

	logger, err := log.NewFileLogger(output)
	if err != nil {
		return fmt.Errorf("failed to create output logger: %w", err)
	}
	defer logger.Close()

	count := 0
	err = eachEvent(path, filter, func(e log.Event) error {
		logger.Log(e)
		count++
		return nil
	})
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "Filtered %d events to %s\n", count, output)
	return nil
}
