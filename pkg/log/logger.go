package log

// Logger receives trace events. Log is called on the command and receive
// paths, so implementations must be safe for concurrent use and must not
// block.
type Logger interface {
	Log(event Event)
}

// LoggerFunc adapts a function to Logger.
type LoggerFunc func(Event)

// Log calls f.
func (f LoggerFunc) Log(event Event) { f(event) }

// NoopLogger discards every event.
type NoopLogger struct{}

// Log does nothing.
func (NoopLogger) Log(Event) {}

var (
	_ Logger = LoggerFunc(nil)
	_ Logger = NoopLogger{}
)
