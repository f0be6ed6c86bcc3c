package log

// MultiLogger fans trace events out to several sinks, typically the trace
// file and the slog console adapter.
type MultiLogger struct {
	sinks []Logger
}

// NewMultiLogger combines sinks. Nil and NoopLogger sinks are dropped and
// nested MultiLoggers are flattened, so an event reaches each sink once per
// Log call.
func NewMultiLogger(sinks ...Logger) *MultiLogger {
	m := &MultiLogger{}
	for _, s := range sinks {
		m.add(s)
	}
	return m
}

func (m *MultiLogger) add(s Logger) {
	switch s := s.(type) {
	case nil, NoopLogger:
	case *MultiLogger:
		if s != nil {
			m.sinks = append(m.sinks, s.sinks...)
		}
	default:
		m.sinks = append(m.sinks, s)
	}
}

// Log passes event to every sink in order.
func (m *MultiLogger) Log(event Event) {
	for _, s := range m.sinks {
		s.Log(event)
	}
}

// Len returns the number of sinks.
func (m *MultiLogger) Len() int {
	return len(m.sinks)
}

var _ Logger = (*MultiLogger)(nil)
