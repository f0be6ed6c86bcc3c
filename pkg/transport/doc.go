// Package transport defines the bus layer the driver core consumes and
// provides a stream implementation of it.
//
// The core only needs four operations from a bus: power the chip on and off,
// send one opaque frame, and receive one opaque frame. SDIO, USB or PCIe
// glue implements Transport directly; StreamTransport adapts any byte
// stream (a socket to a bus bridge, a pipe to a simulator) by framing it.
//
// # Framing
//
//	┌────────────────────────────────┐
//	│      CBOR frames (pkg/wire)    │
//	├────────────────────────────────┤
//	│  bus header: len, ep, seq (4B) │
//	├────────────────────────────────┤
//	│        byte stream             │
//	└────────────────────────────────┘
//
// The length is little endian and excludes the header. Only the control
// endpoint reaches the driver core; data endpoint frames are skipped. Each
// direction numbers its frames, so the reader can report lost frames.
package transport
