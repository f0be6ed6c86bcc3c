package wire

import (
	"fmt"
	"io"

	"github.com/fxamacker/cbor/v2"
)

// encMode is the CBOR encoder mode for firmware frames.
// Configured for deterministic encoding with integer keys.
var encMode cbor.EncMode

// decMode is the CBOR decoder mode for firmware frames.
var decMode cbor.DecMode

func init() {
	var err error

	// Configure encoder for deterministic output
	encOpts := cbor.EncOptions{
		Sort:          cbor.SortCanonical, // Deterministic key ordering
		IndefLength:   cbor.IndefLengthForbidden,
		NilContainers: cbor.NilContainerAsNull,
		Time:          cbor.TimeUnix,
	}
	encMode, err = encOpts.EncMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create CBOR encoder mode: %v", err))
	}

	// Configure decoder to be lenient for forward compatibility
	decOpts := cbor.DecOptions{
		DupMapKey:         cbor.DupMapKeyQuiet, // Ignore duplicate keys (last wins)
		IndefLength:       cbor.IndefLengthAllowed,
		ExtraReturnErrors: cbor.ExtraDecErrorNone,
	}
	decMode, err = decOpts.DecMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create CBOR decoder mode: %v", err))
	}
}

// Marshal encodes a value to CBOR bytes.
func Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// Unmarshal decodes CBOR bytes into a value.
func Unmarshal(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}

// NewEncoder creates a new CBOR encoder that writes to w.
func NewEncoder(w io.Writer) *cbor.Encoder {
	return encMode.NewEncoder(w)
}

// NewDecoder creates a new CBOR decoder that reads from r.
func NewDecoder(r io.Reader) *cbor.Decoder {
	return decMode.NewDecoder(r)
}

// EncodePayload encodes a typed payload for embedding in a frame.
// A nil payload encodes to an empty RawMessage.
func EncodePayload(v any) (cbor.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	if raw, ok := v.(cbor.RawMessage); ok {
		return raw, nil
	}
	data, err := Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode payload: %w", err)
	}
	return cbor.RawMessage(data), nil
}

// DecodePayload decodes an embedded payload into v.
// An empty payload leaves v unchanged.
func DecodePayload(raw cbor.RawMessage, v any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := Unmarshal(raw, v); err != nil {
		return fmt.Errorf("failed to decode payload: %w", err)
	}
	return nil
}

// EncodeFrame validates and encodes a frame to CBOR bytes.
func EncodeFrame(f *Frame) ([]byte, error) {
	if err := f.Validate(); err != nil {
		return nil, fmt.Errorf("invalid frame: %w", err)
	}
	return Marshal(f)
}

// DecodeFrame decodes CBOR bytes into a frame and validates it.
func DecodeFrame(data []byte) (*Frame, error) {
	var f Frame
	if err := Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to decode frame: %w", err)
	}
	if err := f.Validate(); err != nil {
		return nil, fmt.Errorf("invalid frame: %w", err)
	}
	return &f, nil
}

// NewCommandFrame builds a command frame, encoding payload.
func NewCommandFrame(seq uint32, op Opcode, iface uint8, payload any) (*Frame, error) {
	raw, err := EncodePayload(payload)
	if err != nil {
		return nil, err
	}
	return &Frame{
		Kind: FrameCommand,
		Command: &Command{
			Seq:       seq,
			Opcode:    op,
			Interface: iface,
			Payload:   raw,
		},
	}, nil
}

// NewReplyFrame builds a reply frame, encoding payload.
func NewReplyFrame(seq uint32, status Status, payload any) (*Frame, error) {
	raw, err := EncodePayload(payload)
	if err != nil {
		return nil, err
	}
	return &Frame{
		Kind: FrameReply,
		Reply: &Reply{
			Seq:     seq,
			Status:  status,
			Payload: raw,
		},
	}, nil
}

// NewEventFrame builds an event frame, encoding payload.
func NewEventFrame(code EventCode, iface uint8, payload any) (*Frame, error) {
	raw, err := EncodePayload(payload)
	if err != nil {
		return nil, err
	}
	return &Frame{
		Kind: FrameEvent,
		Event: &Event{
			Code:      code,
			Interface: iface,
			Payload:   raw,
		},
	}, nil
}
