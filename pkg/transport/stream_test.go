package transport

import (
	"context"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// pipeDialer hands out the host end of a net.Pipe and keeps the far end for
// the test to play firmware.
type pipeDialer struct {
	far   chan net.Conn
	fails int
}

func newPipeDialer() *pipeDialer {
	return &pipeDialer{far: make(chan net.Conn, 4)}
}

func (d *pipeDialer) Dial(ctx context.Context) (io.ReadWriteCloser, error) {
	if d.fails > 0 {
		d.fails--
		return nil, errors.New("bus not present")
	}
	host, far := net.Pipe()
	d.far <- far
	return host, nil
}

func TestStreamTransportSendRecv(t *testing.T) {
	d := newPipeDialer()
	tr := NewStreamTransport(d.Dial, StreamConfig{})
	ctx := context.Background()

	require.NoError(t, tr.PowerOn(ctx))
	defer tr.PowerOff()
	far := NewFramer(<-d.far)

	go func() {
		data, err := far.ReadFrame()
		if err == nil {
			_ = far.WriteFrame(append([]byte("ack:"), data...))
		}
	}()

	require.NoError(t, tr.Send([]byte("ping")))
	got, err := tr.Recv(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte("ack:ping"), got)
}

func TestStreamTransportPowerOnIdempotent(t *testing.T) {
	d := newPipeDialer()
	tr := NewStreamTransport(d.Dial, StreamConfig{})

	require.NoError(t, tr.PowerOn(context.Background()))
	require.NoError(t, tr.PowerOn(context.Background()))
	assert.Len(t, d.far, 1)
	require.NoError(t, tr.PowerOff())
	require.NoError(t, tr.PowerOff())
}

func TestStreamTransportPoweredOff(t *testing.T) {
	tr := NewStreamTransport(newPipeDialer().Dial, StreamConfig{})

	assert.ErrorIs(t, tr.Send([]byte("x")), ErrPoweredOff)
	_, err := tr.Recv(context.Background())
	assert.ErrorIs(t, err, ErrPoweredOff)
}

func TestStreamTransportDialFailure(t *testing.T) {
	d := newPipeDialer()
	d.fails = 1
	tr := NewStreamTransport(d.Dial, StreamConfig{})

	err := tr.PowerOn(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bus not present")

	require.NoError(t, tr.PowerOn(context.Background()))
	tr.PowerOff()
}

func TestStreamTransportPowerOffUnblocksRecv(t *testing.T) {
	d := newPipeDialer()
	tr := NewStreamTransport(d.Dial, StreamConfig{})
	require.NoError(t, tr.PowerOn(context.Background()))
	<-d.far

	errCh := make(chan error, 1)
	go func() {
		_, err := tr.Recv(context.Background())
		errCh <- err
	}()

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, tr.PowerOff())

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrPoweredOff)
	case <-time.After(time.Second):
		t.Fatal("Recv did not return after PowerOff")
	}
}

func TestStreamTransportRecvContextCancel(t *testing.T) {
	d := newPipeDialer()
	tr := NewStreamTransport(d.Dial, StreamConfig{})
	require.NoError(t, tr.PowerOn(context.Background()))
	defer tr.PowerOff()
	<-d.far

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := tr.Recv(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
