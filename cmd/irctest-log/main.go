// Command irctest-log is a tool for viewing and analyzing irctest protocol
// log files.
//
// Log files are created when running irctest with the -protocol-log flag.
//
// Usage:
//
//	irctest-log <command> [flags] <file.ilog>
//
// Commands:
//
//	view     View log file as a transcript
//	export   Export log file to JSON lines or raw IRC lines
//	filter   Filter log file and write to new file
//	stats    Show statistics about the log file
//
// Examples:
//
//	# View all events
//	irctest-log view run.ilog
//
//	# View only what one test sent
//	irctest-log view -test labeled-response/privmsg-self -direction out run.ilog
//
//	# Dump the raw lines of one connection
//	irctest-log export -format raw -conn-id abc12345-... run.ilog
//
//	# Show statistics
//	irctest-log stats run.ilog
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/irctest/irctest-go/cmd/irctest-log/commands"
)

const usage = `irctest-log - irctest Protocol Log Analyzer

Usage:
  irctest-log <command> [flags] <file.ilog>

Commands:
  view     View log file as a transcript
  export   Export log file to JSON lines or raw IRC lines
  filter   Filter log file and write to new file
  stats    Show statistics about the log file

Use "irctest-log <command> -help" for more information about a command.
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	case "view":
		runView(args)
	case "export":
		runExport(args)
	case "filter":
		runFilter(args)
	case "stats":
		runStats(args)
	case "-h", "-help", "--help", "help":
		fmt.Print(usage)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}
}

func newFlagSet(name, synopsis string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "irctest-log %s - %s\n\nUsage:\n  irctest-log %s [flags] <file.ilog>\n\nFlags:\n", name, synopsis, name)
		fs.PrintDefaults()
	}
	return fs
}

func filterFlags(fs *flag.FlagSet) *commands.Options {
	var o commands.Options
	fs.StringVar(&o.ConnID, "conn-id", "", "Filter by connection ID")
	fs.StringVar(&o.Peer, "peer", "", "Filter by session name")
	fs.StringVar(&o.TestID, "test", "", "Filter by test case ID")
	fs.StringVar(&o.Command, "command", "", "Filter lines by IRC command")
	fs.StringVar(&o.TimeStart, "time-start", "", "Filter by start time (RFC3339)")
	fs.StringVar(&o.TimeEnd, "time-end", "", "Filter by end time (RFC3339)")
	fs.StringVar(&o.Direction, "direction", "", "Filter by direction (in, out)")
	fs.StringVar(&o.Category, "category", "", "Filter by category (line, state, error)")
	return &o
}

func parse(fs *flag.FlagSet, args []string) string {
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Error: log file path required")
		fs.Usage()
		os.Exit(1)
	}
	return fs.Arg(0)
}

func exitOnError(err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runView(args []string) {
	fs := newFlagSet("view", "View log file as a transcript")
	opts := filterFlags(fs)
	path := parse(fs, args)
	exitOnError(commands.RunView(path, *opts, os.Stdout))
}

func runExport(args []string) {
	fs := newFlagSet("export", "Export log file to JSON lines or raw IRC lines")
	format := fs.String("format", "jsonl", "Output format (jsonl, raw)")
	output := fs.String("o", "", "Output file (default: stdout)")
	opts := filterFlags(fs)
	path := parse(fs, args)
	exitOnError(commands.RunExport(path, *format, *output, *opts))
}

func runFilter(args []string) {
	fs := newFlagSet("filter", "Filter log file and write to new file")
	output := fs.String("o", "", "Output file (required)")
	opts := filterFlags(fs)
	path := parse(fs, args)
	if *output == "" {
		fmt.Fprintln(os.Stderr, "Error: output file (-o) required")
		fs.Usage()
		os.Exit(1)
	}
	exitOnError(commands.RunFilter(path, *output, *opts, os.Stdout))
}

func runStats(args []string) {
	fs := newFlagSet("stats", "Show statistics about the log file")
	path := parse(fs, args)
	exitOnError(commands.RunStats(path, os.Stdout))
}
