package log

import (
	"time"

	"github.com/wlanfw/wlanfw-go/pkg/wire"
)

// MaxFrameDataSize is the maximum frame data size included in trace events.
// Larger frames are truncated.
const MaxFrameDataSize = 4096

// Tracer stamps events with a session ID and forwards them to a Logger.
// A nil *Tracer or one built with a nil Logger discards everything.
type Tracer struct {
	logger  Logger
	session string
}

// NewTracer creates a Tracer for one device session.
func NewTracer(logger Logger, sessionID string) *Tracer {
	if logger == nil {
		logger = NoopLogger{}
	}
	return &Tracer{logger: logger, session: sessionID}
}

// SessionID returns the session the tracer stamps on events.
func (t *Tracer) SessionID() string {
	if t == nil {
		return ""
	}
	return t.session
}

func (t *Tracer) emit(event Event) {
	if t == nil {
		return
	}
	event.Timestamp = time.Now()
	event.SessionID = t.session
	t.logger.Log(event)
}

// Frame records a raw transport frame.
func (t *Tracer) Frame(dir Direction, data []byte) {
	frame := &FrameEvent{Size: len(data), Data: data}
	if len(data) > MaxFrameDataSize {
		frame.Data = data[:MaxFrameDataSize]
		frame.Truncated = true
	}
	t.emit(Event{
		Direction: dir,
		Layer:     LayerTransport,
		Category:  CategoryMessage,
		Frame:     frame,
	})
}

// CommandSent records a command submission.
func (t *Tracer) CommandSent(seq uint32, op wire.Opcode, iface uint8) {
	t.emit(Event{
		Direction: DirectionOut,
		Layer:     LayerCommand,
		Category:  CategoryMessage,
		Interface: IfIndex(iface),
		Command: &CommandEvent{
			Type:   MessageTypeRequest,
			Seq:    seq,
			Opcode: op,
		},
	})
}

// CommandDone records a command resolution. status is nil when the command
// resolved on the host (timeout, cancellation, send failure).
func (t *Tracer) CommandDone(seq uint32, op wire.Opcode, iface uint8, status *wire.Status, outcome string, d time.Duration) {
	cat := CategoryMessage
	if status == nil || !status.IsSuccess() {
		cat = CategoryError
	}
	t.emit(Event{
		Direction: DirectionIn,
		Layer:     LayerCommand,
		Category:  cat,
		Interface: IfIndex(iface),
		Command: &CommandEvent{
			Type:     MessageTypeResponse,
			Seq:      seq,
			Opcode:   op,
			Status:   status,
			Outcome:  outcome,
			Duration: &d,
		},
	})
}

// FirmwareEvent records an event received from firmware.
func (t *Tracer) FirmwareEvent(ev *wire.Event, dropped bool) {
	t.emit(Event{
		Direction: DirectionIn,
		Layer:     LayerEvent,
		Category:  CategoryMessage,
		Interface: IfIndex(ev.Interface),
		FwEvent: &FirmwareEvent{
			Code:        ev.Code,
			PayloadSize: len(ev.Payload),
			Dropped:     dropped,
		},
	})
}

// StateChange records a driver state transition. iface is nil for
// device-wide entities.
func (t *Tracer) StateChange(entity StateEntity, iface *uint8, from, to, reason string) {
	t.emit(Event{
		Layer:     LayerDriver,
		Category:  CategoryState,
		Interface: iface,
		StateChange: &StateChangeEvent{
			Entity:   entity,
			OldState: from,
			NewState: to,
			Reason:   reason,
		},
	})
}

// Error records an error at the given layer.
func (t *Tracer) Error(layer Layer, context string, err error) {
	if err == nil {
		return
	}
	t.emit(Event{
		Layer:    layer,
		Category: CategoryError,
		Error: &ErrorEventData{
			Layer:   layer,
			Message: err.Error(),
			Context: context,
		},
	})
}
