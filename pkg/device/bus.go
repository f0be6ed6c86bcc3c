package device

import (
	"context"
	"sync/atomic"

	"github.com/wlanfw/wlanfw-go/pkg/log"
	"github.com/wlanfw/wlanfw-go/pkg/transport"
	"github.com/wlanfw/wlanfw-go/pkg/wait"
)

// bus wraps the transport with frame tracing and power tracking. Every
// power change bumps gen so the receive loop can wait for the bus to come
// back instead of spinning on ErrPoweredOff.
type bus struct {
	transport.Transport
	tracer *log.Tracer
	sig    *wait.Signal
	ready  *wait.Flag
	gen    atomic.Uint64
}

func (b *bus) Send(data []byte) error {
	b.tracer.Frame(log.DirectionOut, data)
	return b.Transport.Send(data)
}

func (b *bus) PowerOn(ctx context.Context) error {
	if err := b.Transport.PowerOn(ctx); err != nil {
		return err
	}
	b.bump()
	return nil
}

// PowerOff unloads the firmware along with the power.
func (b *bus) PowerOff() error {
	b.ready.Clear()
	err := b.Transport.PowerOff()
	b.bump()
	return err
}

func (b *bus) bump() {
	b.gen.Add(1)
	b.sig.Notify()
}
