// Package wire defines the frame format exchanged with the WLAN firmware.
//
// Frames are CBOR (RFC 8949) maps with integer keys. The bus layer carries
// them as opaque byte strings; this package is the only place that knows how
// they are laid out.
//
// # Frame Kinds
//
// There are three frame kinds:
//   - Command: host to firmware, carries an opcode and a sequence number
//   - Reply: firmware to host, acknowledges exactly one command by sequence
//   - Event: firmware to host, asynchronous and unsolicited
//
// Command payloads and event payloads are typed structs in payload.go,
// carried in frames as raw CBOR and decoded by the receiver with
// DecodePayload.
//
// # Sequence Numbers
//
// Sequence 0 is never used by the host, so a zero Seq in a reply always
// indicates a malformed frame.
package wire
