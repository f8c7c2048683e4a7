// Package log provides structured protocol logging for the IRC test harness.
//
// This package defines the Logger interface and Event types for capturing
// every line exchanged with an implementation under test, plus connection
// and negotiation state changes. It is separate from operational logging
// (slog): protocol capture is a machine-readable trace that can be replayed
// with irctest-log after a failing run.
//
// # Basic Usage
//
//	// Console, through slog
//	cfg.ProtocolLogger = log.NewSlogAdapter(slog.Default())
//
//	// Binary file
//	cfg.ProtocolLogger, _ = log.NewFileLogger("run.ilog")
//
//	// Both
//	cfg.ProtocolLogger = log.NewMultiLogger(
//	    log.NewSlogAdapter(slog.Default()),
//	    fileLogger,
//	)
//
// # File Format
//
// Log files are a stream of CBOR-encoded events with integer keys
// (.ilog by convention).
package log
