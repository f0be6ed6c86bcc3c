package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/wlanfw/wlanfw-go/pkg/log"
)

// ErrPoweredOff is returned by Send and Recv while the bus is down.
var ErrPoweredOff = errors.New("transport powered off")

// Dialer opens the byte stream to the bus bridge.
type Dialer func(ctx context.Context) (io.ReadWriteCloser, error)

// StreamConfig configures a StreamTransport.
type StreamConfig struct {
	// MaxMessageSize bounds a single frame. Zero means DefaultMaxMessageSize.
	MaxMessageSize uint32

	// Logger receives bus warnings such as sequence gaps. Defaults to
	// slog.Default().
	Logger *slog.Logger

	// Tracer receives transport-layer frame events. May be nil.
	Tracer *log.Tracer
}

// StreamTransport implements Transport over a framed byte stream.
// PowerOn dials the stream, PowerOff closes it.
type StreamTransport struct {
	dial   Dialer
	config StreamConfig

	mu     sync.Mutex
	conn   io.ReadWriteCloser
	framer *Framer
}

// NewStreamTransport creates a transport that dials with dial on PowerOn.
func NewStreamTransport(dial Dialer, config StreamConfig) *StreamTransport {
	if config.MaxMessageSize == 0 {
		config.MaxMessageSize = DefaultMaxMessageSize
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &StreamTransport{dial: dial, config: config}
}

// PowerOn opens the stream. Calling it while powered is a no-op.
func (t *StreamTransport) PowerOn(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn != nil {
		return nil
	}
	conn, err := t.dial(ctx)
	if err != nil {
		return fmt.Errorf("dial bus: %w", err)
	}
	t.conn = conn
	t.framer = NewFramerWithMaxSize(conn, t.config.MaxMessageSize)
	t.framer.SetTracer(t.config.Tracer)
	return nil
}

// PowerOff closes the stream, unblocking any Recv.
func (t *StreamTransport) PowerOff() error {
	t.mu.Lock()
	conn := t.conn
	t.conn = nil
	t.framer = nil
	t.mu.Unlock()

	if conn == nil {
		return nil
	}
	return conn.Close()
}

func (t *StreamTransport) current() (*Framer, io.Closer) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.framer, t.conn
}

// Send writes one frame.
func (t *StreamTransport) Send(data []byte) error {
	framer, _ := t.current()
	if framer == nil {
		return ErrPoweredOff
	}
	return framer.WriteFrame(data)
}

// Recv reads one frame. Cancelling ctx closes the stream, which is the only
// way to interrupt a blocked read on an arbitrary io.Reader.
func (t *StreamTransport) Recv(ctx context.Context) ([]byte, error) {
	framer, conn := t.current()
	if framer == nil {
		return nil, ErrPoweredOff
	}

	stop := context.AfterFunc(ctx, func() {
		conn.Close()
	})
	defer stop()

	data, err := framer.ReadFrame()
	if data != nil && errors.Is(err, ErrSequenceGap) {
		t.config.Logger.Warn("bus frames lost", "error", err)
		return data, nil
	}
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if f, _ := t.current(); f == nil {
			return nil, ErrPoweredOff
		}
		return nil, err
	}
	return data, nil
}
