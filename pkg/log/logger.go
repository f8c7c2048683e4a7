package log

// Logger receives protocol events from sessions, negotiation and
// controllers. Log is called from every session goroutine at once.
// A nil Logger in a config means no tracing.
type Logger interface {
	Log(event Event)
}

// NoopLogger drops everything.
type NoopLogger struct{}

func (NoopLogger) Log(Event) {}

var _ Logger = NoopLogger{}
