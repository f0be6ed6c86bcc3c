package log

import (
	"context"
	"log/slog"
)

// SlogAdapter mirrors trace events onto an slog.Logger. Protocol traffic is
// logged at Debug, state changes at Info and errors at Warn, so a console
// at Info level still shows link and power transitions.
type SlogAdapter struct {
	logger *slog.Logger
	layers uint8
}

// NewSlogAdapter creates an adapter writing to logger. When layers are
// given only events captured at those layers are logged.
func NewSlogAdapter(logger *slog.Logger, layers ...Layer) *SlogAdapter {
	a := &SlogAdapter{logger: logger}
	for _, l := range layers {
		a.layers |= 1 << l
	}
	return a
}

func (a *SlogAdapter) wants(l Layer) bool {
	return a.layers == 0 || a.layers&(1<<l) != 0
}

// Log writes the event to the slog logger.
func (a *SlogAdapter) Log(event Event) {
	if !a.wants(event.Layer) {
		return
	}

	level := slog.LevelDebug
	switch event.Category {
	case CategoryState:
		level = slog.LevelInfo
	case CategoryError:
		level = slog.LevelWarn
	}
	ctx := context.Background()
	if !a.logger.Enabled(ctx, level) {
		return
	}

	attrs := []slog.Attr{
		slog.String("session", shortSession(event.SessionID)),
		slog.String("dir", event.Direction.String()),
	}
	if event.Interface != nil {
		attrs = append(attrs, slog.Uint64("iface", uint64(*event.Interface)))
	}

	msg := "trace " + event.Layer.String()
	switch {
	case event.Frame != nil:
		msg = "bus frame"
		attrs = append(attrs, slog.Int("size", event.Frame.Size))
		if event.Frame.Truncated {
			attrs = append(attrs, slog.Bool("truncated", true))
		}
	case event.Command != nil:
		c := event.Command
		msg = "command " + c.Type.String()
		attrs = append(attrs,
			slog.String("op", c.Opcode.String()),
			slog.Uint64("seq", uint64(c.Seq)),
		)
		if c.Status != nil {
			attrs = append(attrs, slog.String("status", c.Status.String()))
		}
		if c.Outcome != "" {
			attrs = append(attrs, slog.String("outcome", c.Outcome))
		}
		if c.Duration != nil {
			attrs = append(attrs, slog.Duration("took", *c.Duration))
		}
	case event.FwEvent != nil:
		msg = "firmware event"
		attrs = append(attrs,
			slog.String("event", event.FwEvent.Code.String()),
			slog.Int("size", event.FwEvent.PayloadSize),
		)
		if event.FwEvent.Dropped {
			attrs = append(attrs, slog.Bool("dropped", true))
		}
	case event.StateChange != nil:
		s := event.StateChange
		msg = s.Entity.String() + " state"
		attrs = append(attrs, slog.String("from", s.OldState), slog.String("to", s.NewState))
		if s.Reason != "" {
			attrs = append(attrs, slog.String("reason", s.Reason))
		}
	case event.Error != nil:
		msg = event.Error.Layer.String() + " error"
		attrs = append(attrs, slog.String("error", event.Error.Message))
		if event.Error.Context != "" {
			attrs = append(attrs, slog.String("during", event.Error.Context))
		}
	}

	a.logger.LogAttrs(ctx, level, msg, attrs...)
}

func shortSession(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// Compile-time interface satisfaction check.
var _ Logger = (*SlogAdapter)(nil)
