package wire

import (
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// Frame validation errors.
var (
	ErrUnknownFrameKind = errors.New("unknown frame kind")
	ErrMissingBody      = errors.New("frame body missing")
	ErrExtraBody        = errors.New("frame carries more than one body")
	ErrZeroSequence     = errors.New("sequence 0 is reserved")
)

// FrameKind distinguishes the three frame bodies.
type FrameKind uint8

const (
	// FrameCommand is a host to firmware command.
	FrameCommand FrameKind = 1
	// FrameReply is the firmware acknowledgment of one command.
	FrameReply FrameKind = 2
	// FrameEvent is an unsolicited firmware event.
	FrameEvent FrameKind = 3
)

// String returns the frame kind name.
func (k FrameKind) String() string {
	switch k {
	case FrameCommand:
		return "COMMAND"
	case FrameReply:
		return "REPLY"
	case FrameEvent:
		return "EVENT"
	default:
		return "UNKNOWN"
	}
}

// Frame is the top-level unit carried by the transport.
//
// CBOR encoding:
//
//	{
//	  1: kind,      // uint8
//	  2: command,   // present for kind 1
//	  3: reply,     // present for kind 2
//	  4: event      // present for kind 3
//	}
type Frame struct {
	Kind    FrameKind `cbor:"1,keyasint"`
	Command *Command  `cbor:"2,keyasint,omitempty"`
	Reply   *Reply    `cbor:"3,keyasint,omitempty"`
	Event   *Event    `cbor:"4,keyasint,omitempty"`
}

// Validate checks that the frame carries exactly the body its kind names.
func (f *Frame) Validate() error {
	bodies := 0
	if f.Command != nil {
		bodies++
	}
	if f.Reply != nil {
		bodies++
	}
	if f.Event != nil {
		bodies++
	}
	if bodies > 1 {
		return ErrExtraBody
	}

	switch f.Kind {
	case FrameCommand:
		if f.Command == nil {
			return fmt.Errorf("%w: command", ErrMissingBody)
		}
		if f.Command.Seq == 0 {
			return ErrZeroSequence
		}
	case FrameReply:
		if f.Reply == nil {
			return fmt.Errorf("%w: reply", ErrMissingBody)
		}
		if f.Reply.Seq == 0 {
			return ErrZeroSequence
		}
	case FrameEvent:
		if f.Event == nil {
			return fmt.Errorf("%w: event", ErrMissingBody)
		}
	default:
		return fmt.Errorf("%w: %d", ErrUnknownFrameKind, f.Kind)
	}
	return nil
}

// Command is a request for the firmware to act.
type Command struct {
	Seq       uint32          `cbor:"1,keyasint"`
	Opcode    Opcode          `cbor:"2,keyasint"`
	Interface uint8           `cbor:"3,keyasint"`
	Payload   cbor.RawMessage `cbor:"4,keyasint,omitempty"`
}

// Reply acknowledges the command with the same Seq.
type Reply struct {
	Seq     uint32          `cbor:"1,keyasint"`
	Status  Status          `cbor:"2,keyasint"`
	Payload cbor.RawMessage `cbor:"3,keyasint,omitempty"`
}

// Event is an asynchronous notification from the firmware.
type Event struct {
	Code      EventCode       `cbor:"1,keyasint"`
	Interface uint8           `cbor:"2,keyasint"`
	Payload   cbor.RawMessage `cbor:"3,keyasint,omitempty"`
}
