package log

import (
	"time"

	"github.com/wlanfw/wlanfw-go/pkg/wire"
)

// Event represents a trace event captured at any layer.
// CBOR encoding uses integer keys for compactness.
type Event struct {
	// Timestamp when the event occurred (nanosecond precision).
	Timestamp time.Time `cbor:"1,keyasint"`

	// SessionID identifies one device bring-up (UUID).
	SessionID string `cbor:"2,keyasint"`

	// Direction indicates traffic flow relative to the host.
	Direction Direction `cbor:"3,keyasint"`

	// Layer where the event was captured.
	Layer Layer `cbor:"4,keyasint"`

	// Category classifies the event type.
	Category Category `cbor:"5,keyasint"`

	// Interface is the firmware interface index, when the event concerns one.
	Interface *uint8 `cbor:"6,keyasint,omitempty"`

	// Type-specific payload (one of these will be set).
	Frame       *FrameEvent       `cbor:"10,keyasint,omitempty"` // Transport layer
	Command     *CommandEvent     `cbor:"11,keyasint,omitempty"` // Command layer
	FwEvent     *FirmwareEvent    `cbor:"12,keyasint,omitempty"` // Event layer
	StateChange *StateChangeEvent `cbor:"13,keyasint,omitempty"` // Driver state
	Error       *ErrorEventData   `cbor:"14,keyasint,omitempty"` // Errors at any layer
}

// Direction indicates the direction of traffic.
type Direction uint8

const (
	// DirectionIn is firmware to host.
	DirectionIn Direction = 0
	// DirectionOut is host to firmware.
	DirectionOut Direction = 1
)

// String returns the direction name.
func (d Direction) String() string {
	switch d {
	case DirectionIn:
		return "IN"
	case DirectionOut:
		return "OUT"
	default:
		return "UNKNOWN"
	}
}

// Layer indicates which driver layer captured the event.
type Layer uint8

const (
	// LayerTransport is the bus framing layer (raw bytes).
	LayerTransport Layer = 0
	// LayerCommand is the command channel.
	LayerCommand Layer = 1
	// LayerEvent is the firmware event dispatcher.
	LayerEvent Layer = 2
	// LayerDriver is the state machine layer.
	LayerDriver Layer = 3
)

// String returns the layer name.
func (l Layer) String() string {
	switch l {
	case LayerTransport:
		return "TRANSPORT"
	case LayerCommand:
		return "COMMAND"
	case LayerEvent:
		return "EVENT"
	case LayerDriver:
		return "DRIVER"
	default:
		return "UNKNOWN"
	}
}

// Category classifies the event type.
type Category uint8

const (
	// CategoryMessage indicates protocol traffic (frame, command, event).
	CategoryMessage Category = 0
	// CategoryState indicates a state change.
	CategoryState Category = 1
	// CategoryError indicates an error event.
	CategoryError Category = 2
)

// String returns the category name.
func (c Category) String() string {
	switch c {
	case CategoryMessage:
		return "MESSAGE"
	case CategoryState:
		return "STATE"
	case CategoryError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// FrameEvent captures raw frame data at the transport layer.
type FrameEvent struct {
	// Size is the frame payload size in bytes (excluding the bus header).
	Size int `cbor:"1,keyasint"`

	// Data is the raw frame bytes (may be truncated for large frames).
	Data []byte `cbor:"2,keyasint,omitempty"`

	// Truncated indicates if Data was truncated.
	Truncated bool `cbor:"3,keyasint,omitempty"`
}

// CommandEvent captures one command submission or its resolution.
type CommandEvent struct {
	// Type distinguishes submission from resolution.
	Type MessageType `cbor:"1,keyasint"`

	// Seq correlates a submission with its resolution.
	Seq uint32 `cbor:"2,keyasint"`

	// Opcode of the command.
	Opcode wire.Opcode `cbor:"3,keyasint"`

	// Status reported by firmware (resolutions with a reply only).
	Status *wire.Status `cbor:"4,keyasint,omitempty"`

	// Outcome names a host-side resolution such as TIMEOUT or CANCELLED.
	Outcome string `cbor:"5,keyasint,omitempty"`

	// Duration from submission to resolution. Stored as nanoseconds.
	Duration *time.Duration `cbor:"6,keyasint,omitempty"`
}

// MessageType distinguishes command submission from resolution.
type MessageType uint8

const (
	// MessageTypeRequest is a command sent to firmware.
	MessageTypeRequest MessageType = 0
	// MessageTypeResponse is the resolution of a command.
	MessageTypeResponse MessageType = 1
)

// String returns the message type name.
func (m MessageType) String() string {
	switch m {
	case MessageTypeRequest:
		return "REQUEST"
	case MessageTypeResponse:
		return "RESPONSE"
	default:
		return "UNKNOWN"
	}
}

// FirmwareEvent captures an asynchronous firmware event.
type FirmwareEvent struct {
	// Code of the event.
	Code wire.EventCode `cbor:"1,keyasint"`

	// PayloadSize is the encoded payload length.
	PayloadSize int `cbor:"2,keyasint,omitempty"`

	// Dropped is set when the event was discarded (stale or unknown).
	Dropped bool `cbor:"3,keyasint,omitempty"`
}

// StateChangeEvent captures driver state transitions.
type StateChangeEvent struct {
	// Entity being changed.
	Entity StateEntity `cbor:"1,keyasint"`

	// OldState is the previous state (may be empty).
	OldState string `cbor:"2,keyasint,omitempty"`

	// NewState is the new state.
	NewState string `cbor:"3,keyasint"`

	// Reason for the change (if available).
	Reason string `cbor:"4,keyasint,omitempty"`
}

// StateEntity indicates what entity changed state.
type StateEntity uint8

const (
	// StateEntityLink is a per-interface connection state.
	StateEntityLink StateEntity = 0
	// StateEntityPower is the device power state.
	StateEntityPower StateEntity = 1
	// StateEntityScan is the scan session.
	StateEntityScan StateEntity = 2
	// StateEntityInterface is interface creation and removal.
	StateEntityInterface StateEntity = 3
	// StateEntityFirmware is firmware bring-up and teardown.
	StateEntityFirmware StateEntity = 4
)

// String returns the state entity name.
func (s StateEntity) String() string {
	switch s {
	case StateEntityLink:
		return "LINK"
	case StateEntityPower:
		return "POWER"
	case StateEntityScan:
		return "SCAN"
	case StateEntityInterface:
		return "INTERFACE"
	case StateEntityFirmware:
		return "FIRMWARE"
	default:
		return "UNKNOWN"
	}
}

// ErrorEventData captures errors at any layer.
type ErrorEventData struct {
	// Layer where the error occurred.
	Layer Layer `cbor:"1,keyasint"`

	// Message is the error message.
	Message string `cbor:"2,keyasint"`

	// Context describes what operation was being performed.
	Context string `cbor:"3,keyasint,omitempty"`
}

// IfIndex returns a pointer to idx, for populating Event.Interface.
func IfIndex(idx uint8) *uint8 {
	return &idx
}

// Label returns a short name for the event payload type.
func (e Event) Label() string {
	switch {
	case e.Frame != nil:
		return "Frame"
	case e.Command != nil:
		return e.Command.Opcode.String()
	case e.FwEvent != nil:
		return e.FwEvent.Code.String()
	case e.StateChange != nil:
		return e.StateChange.Entity.String()
	case e.Error != nil:
		return "Error"
	default:
		return "Unknown"
	}
}
