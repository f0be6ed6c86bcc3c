package command

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/wlanfw/wlanfw-go/pkg/fwerr"
	"github.com/wlanfw/wlanfw-go/pkg/log"
	"github.com/wlanfw/wlanfw-go/pkg/wait"
	"github.com/wlanfw/wlanfw-go/pkg/wire"
)

// Default timing.
const (
	DefaultCommandTimeout = 500 * time.Millisecond
	DefaultAcquireTimeout = 2 * time.Second
)

// Urgency controls how Submit behaves when the token is taken.
type Urgency uint8

const (
	// UrgencyBlock waits up to AcquireTimeout for the token.
	UrgencyBlock Urgency = iota

	// UrgencyFailFast returns ErrBusy immediately. Used on teardown paths.
	UrgencyFailFast
)

// String returns the urgency name.
func (u Urgency) String() string {
	switch u {
	case UrgencyBlock:
		return "BLOCK"
	case UrgencyFailFast:
		return "FAIL_FAST"
	default:
		return "UNKNOWN"
	}
}

// Sender writes one encoded frame to the bus.
type Sender interface {
	Send(data []byte) error
}

// Request is one command to submit.
type Request struct {
	Opcode    wire.Opcode
	Interface uint8
	Payload   any

	// Timeout overrides Config.CommandTimeout when positive.
	Timeout time.Duration
	Urgency Urgency
}

// Response is the firmware's reply to a request.
type Response struct {
	Seq     uint32
	Status  wire.Status
	Payload cbor.RawMessage
}

// Decode unmarshals the reply payload into v.
func (r Response) Decode(v any) error {
	return wire.DecodePayload(r.Payload, v)
}

// Stats are cumulative channel counters.
type Stats struct {
	Submitted uint64
	Completed uint64
	Failed    uint64
	TimedOut  uint64
	Cancelled uint64
	Stale     uint64
}

// Config configures a Channel.
type Config struct {
	CommandTimeout time.Duration
	AcquireTimeout time.Duration
	Logger         *slog.Logger
	Tracer         *log.Tracer
}

// DefaultConfig returns the default channel configuration.
func DefaultConfig() Config {
	return Config{
		CommandTimeout: DefaultCommandTimeout,
		AcquireTimeout: DefaultAcquireTimeout,
	}
}

// inflight is the request currently holding the token.
type inflight struct {
	seq     uint32
	op      wire.Opcode
	iface   uint8
	started time.Time
	reply   chan wire.Reply
}

// Channel is the serialized command path to firmware.
type Channel struct {
	config Config
	sender Sender
	logger *slog.Logger

	token chan struct{}
	idle  wait.Signal

	mu       sync.Mutex
	seq      uint32
	current  *inflight
	closed   bool
	closedCh chan struct{}
	onFault  func(error)
	onOK     func()
	stats    Stats
}

// New creates a Channel writing to sender.
func New(sender Sender, config Config) *Channel {
	defaults := DefaultConfig()
	if config.CommandTimeout <= 0 {
		config.CommandTimeout = defaults.CommandTimeout
	}
	if config.AcquireTimeout <= 0 {
		config.AcquireTimeout = defaults.AcquireTimeout
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Channel{
		config:   config,
		sender:   sender,
		logger:   logger.With("component", "command"),
		token:    make(chan struct{}, 1),
		closedCh: make(chan struct{}),
	}
}

// OnFault sets the callback invoked for timeouts and transport failures.
// The callback runs on the submitting goroutine.
func (c *Channel) OnFault(fn func(error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onFault = fn
}

// OnSuccess sets the callback invoked after every command the firmware
// answered with success. It runs on the submitting goroutine.
func (c *Channel) OnSuccess(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onOK = fn
}

// Submit sends req and waits for its reply.
func (c *Channel) Submit(ctx context.Context, req Request) (Response, error) {
	op := req.Opcode.String()

	closedCh, err := c.checkOpen(op)
	if err != nil {
		return Response{}, err
	}

	payload, err := wire.EncodePayload(req.Payload)
	if err != nil {
		return Response{}, fwerr.Wrap(op, fwerr.ErrInvalidParameter, err)
	}

	if err := c.acquire(ctx, op, req.Urgency, closedCh); err != nil {
		return Response{}, err
	}

	// Cancel may have run while this request waited for the token.
	if _, err := c.checkOpen(op); err != nil {
		c.release()
		return Response{}, err
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = c.config.CommandTimeout
	}

	p := c.begin(req)
	data, err := wire.EncodeFrame(&wire.Frame{
		Kind: wire.FrameCommand,
		Command: &wire.Command{
			Seq:       p.seq,
			Opcode:    req.Opcode,
			Interface: req.Interface,
			Payload:   payload,
		},
	})
	if err != nil {
		c.settle(p)
		err = fwerr.Wrap(op, fwerr.ErrInvalidParameter, err)
		c.resolve(p, nil, "encode-failed", err)
		return Response{}, err
	}

	c.config.Tracer.CommandSent(p.seq, req.Opcode, req.Interface)
	c.logger.Debug("command sent", "op", op, "seq", p.seq, "iface", req.Interface)

	if err := c.sender.Send(data); err != nil {
		c.settle(p)
		err = fwerr.Wrap(op, fwerr.ErrTransport, err)
		c.resolve(p, nil, "send-failed", err)
		return Response{}, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var (
		reason  error
		outcome string
	)
	select {
	case r := <-p.reply:
		c.settle(p)
		return c.complete(p, r)
	case <-timer.C:
		reason, outcome = fwerr.New(op, fwerr.ErrTimeout), "timeout"
	case <-closedCh:
		reason, outcome = fwerr.New(op, fwerr.ErrCancelled), "cancelled"
	case <-ctx.Done():
		reason, outcome = fwerr.Wrap(op, fwerr.ErrCancelled, ctx.Err()), "cancelled"
	}

	// The reply may have been delivered between the wake-up and the reset.
	if r, ok := c.settle(p); ok {
		return c.complete(p, r)
	}
	c.resolve(p, nil, outcome, reason)
	return Response{}, reason
}

// checkOpen returns the current cancellation channel, or ErrCancelled.
func (c *Channel) checkOpen(op string) (<-chan struct{}, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		c.stats.Cancelled++
		return nil, fwerr.New(op, fwerr.ErrCancelled)
	}
	return c.closedCh, nil
}

func (c *Channel) acquire(ctx context.Context, op string, urgency Urgency, closedCh <-chan struct{}) error {
	if urgency == UrgencyFailFast {
		select {
		case c.token <- struct{}{}:
			return nil
		default:
			return fwerr.New(op, fwerr.ErrBusy)
		}
	}

	timer := time.NewTimer(c.config.AcquireTimeout)
	defer timer.Stop()

	select {
	case c.token <- struct{}{}:
		return nil
	case <-timer.C:
		return fwerr.New(op, fwerr.ErrBusy)
	case <-closedCh:
		c.mu.Lock()
		c.stats.Cancelled++
		c.mu.Unlock()
		return fwerr.New(op, fwerr.ErrCancelled)
	case <-ctx.Done():
		return fwerr.Wrap(op, fwerr.ErrCancelled, ctx.Err())
	}
}

func (c *Channel) release() {
	<-c.token
	c.idle.Notify()
}

// begin assigns a sequence number and publishes the in-flight slot.
func (c *Channel) begin(req Request) *inflight {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.seq++
	if c.seq == 0 {
		c.seq = 1
	}
	p := &inflight{
		seq:     c.seq,
		op:      req.Opcode,
		iface:   req.Interface,
		started: time.Now(),
		reply:   make(chan wire.Reply, 1),
	}
	c.current = p
	c.stats.Submitted++
	return p
}

// settle resets the slot if p still owns it and releases the token. It
// reports a reply that HandleReply delivered before the reset.
func (c *Channel) settle(p *inflight) (wire.Reply, bool) {
	c.mu.Lock()
	if c.current == p {
		c.current = nil
	}
	c.mu.Unlock()
	c.release()

	select {
	case r := <-p.reply:
		return r, true
	default:
		return wire.Reply{}, false
	}
}

func (c *Channel) complete(p *inflight, r wire.Reply) (Response, error) {
	resp := Response{Seq: r.Seq, Status: r.Status, Payload: r.Payload}
	status := r.Status
	if kind := status.Kind(); kind != nil {
		err := fwerr.Wrap(p.op.String(), kind, fmt.Errorf("firmware status %s", status))
		c.resolve(p, &status, "status", err)
		return resp, err
	}
	c.resolve(p, &status, "ok", nil)
	return resp, nil
}

// resolve updates counters, traces the outcome and reports faults.
func (c *Channel) resolve(p *inflight, status *wire.Status, outcome string, err error) {
	elapsed := time.Since(p.started)

	c.mu.Lock()
	switch {
	case err == nil:
		c.stats.Completed++
	case fwerr.KindOf(err) == fwerr.ErrTimeout:
		c.stats.TimedOut++
	case fwerr.KindOf(err) == fwerr.ErrCancelled:
		c.stats.Cancelled++
	default:
		c.stats.Failed++
	}
	onFault, onOK := c.onFault, c.onOK
	c.mu.Unlock()

	c.config.Tracer.CommandDone(p.seq, p.op, p.iface, status, outcome, elapsed)
	if err != nil {
		c.logger.Debug("command failed", "op", p.op, "seq", p.seq, "iface", p.iface, "outcome", outcome, "error", err)
	} else {
		c.logger.Debug("command done", "op", p.op, "seq", p.seq, "iface", p.iface, "duration", elapsed)
	}

	switch {
	case err == nil && onOK != nil:
		onOK()
	case err != nil && fwerr.IsFault(err) && onFault != nil:
		onFault(err)
	}
}

// HandleReply routes a reply from the receive path to the request that owns
// the slot. It returns false for stale or unexpected replies, which are
// dropped.
func (c *Channel) HandleReply(r wire.Reply) bool {
	c.mu.Lock()
	p := c.current
	if p == nil || p.seq != r.Seq {
		c.stats.Stale++
		c.mu.Unlock()
		c.logger.Warn("dropping stale reply", "seq", r.Seq, "status", r.Status)
		return false
	}
	c.current = nil
	p.reply <- r
	c.mu.Unlock()
	return true
}

// Cancel fails every pending and in-flight request with ErrCancelled and
// refuses new ones until Reopen.
func (c *Channel) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.closedCh)
	c.logger.Debug("command channel cancelled")
}

// Reopen accepts requests again after Cancel.
func (c *Channel) Reopen() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		return
	}
	c.closed = false
	c.closedCh = make(chan struct{})
}

// Closed reports whether the channel is cancelled.
func (c *Channel) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// InFlight returns the number of requests holding the token (0 or 1).
func (c *Channel) InFlight() int {
	return len(c.token)
}

// Drain waits until no request holds the token.
func (c *Channel) Drain(ctx context.Context, timeout time.Duration) error {
	return c.idle.Await(ctx, timeout, nil, func() bool {
		return len(c.token) == 0
	})
}

// Stats returns a snapshot of the channel counters.
func (c *Channel) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}
