package transport

import "context"

// Transport is the bus layer underneath the firmware protocol.
type Transport interface {
	// PowerOn powers the chip and opens the bus.
	PowerOn(ctx context.Context) error

	// PowerOff stops the bus and removes power. Any blocked Recv returns.
	PowerOff() error

	// Send transmits one frame.
	Send(data []byte) error

	// Recv blocks for the next frame from firmware.
	Recv(ctx context.Context) ([]byte, error)
}

// Loader downloads the firmware image and starts it.
// It is invoked once at bring-up and once per power-cut resume.
type Loader interface {
	LoadAndStart(ctx context.Context) error
}

// LoaderFunc adapts a function to the Loader interface.
type LoaderFunc func(ctx context.Context) error

// LoadAndStart calls f.
func (f LoaderFunc) LoadAndStart(ctx context.Context) error {
	return f(ctx)
}

// FrameReadWriter provides control endpoint frame I/O over the bus header.
// Implemented by Framer.
type FrameReadWriter interface {
	// ReadFrame reads the next control frame.
	ReadFrame() ([]byte, error)

	// WriteFrame writes a control frame.
	WriteFrame(data []byte) error
}

// Compile-time interface satisfaction checks.
var (
	_ Transport       = (*StreamTransport)(nil)
	_ Loader          = LoaderFunc(nil)
	_ FrameReadWriter = (*Framer)(nil)
)
