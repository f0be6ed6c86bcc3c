package power

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/wlanfw/wlanfw-go/pkg/command"
	"github.com/wlanfw/wlanfw-go/pkg/event"
	"github.com/wlanfw/wlanfw-go/pkg/fwerr"
	"github.com/wlanfw/wlanfw-go/pkg/log"
	"github.com/wlanfw/wlanfw-go/pkg/transport"
	"github.com/wlanfw/wlanfw-go/pkg/wait"
	"github.com/wlanfw/wlanfw-go/pkg/wire"
)

// Station tuning applied while suspended in WakeOnWireless, in TUs.
const (
	WowListenInterval = 300
	MaxBmissTime      = 1500

	DefaultListenInterval = 100
	DefaultBmissTime      = 1500
)

// Default timeouts.
const (
	DefaultHostSleepTimeout = 2 * time.Second
	DefaultDrainTimeout     = 2 * time.Second
	DefaultReadyTimeout     = 5 * time.Second
)

// ErrNoLink is returned by a WakeOnWireless suspend with no connected
// interface to keep alive.
var ErrNoLink = errors.New("no connected interface")

// Channel is the command path the controller drives.
type Channel interface {
	Submit(ctx context.Context, req command.Request) (command.Response, error)
	Drain(ctx context.Context, timeout time.Duration) error
	Cancel()
	Reopen()
}

// Power switches the bus on and off.
type Power interface {
	PowerOn(ctx context.Context) error
	PowerOff() error
}

// Link is a connected interface as seen by the suspend sequences.
type Link struct {
	Index          uint8
	AP             bool
	MAC            wire.MACAddr
	ListenInterval uint16
	BmissTime      uint16
}

// Links gives the controller access to the interfaces.
type Links interface {
	// Connected lists the interfaces with a live association or BSS.
	Connected() []Link

	// StopAll tears every link down and aborts scans.
	StopAll(ctx context.Context)
}

// Scans is the scan session as seen by the controller.
type Scans interface {
	AbortAll()
	Reset()

	// ArmNetDetect programs the network detect match scan on iface.
	ArmNetDetect(ctx context.Context, iface uint8, ssids [][]byte, interval time.Duration, channels []uint16) error
	DisarmNetDetect(ctx context.Context) error
}

// Scheduler queues follow-up work off the event goroutine.
type Scheduler interface {
	Schedule(name string, fn event.WorkFunc)
}

// Deps are the collaborators of a Controller.
type Deps struct {
	Channel   Channel
	Power     Power
	Loader    transport.Loader
	Links     Links
	Scans     Scans
	Scheduler Scheduler

	// WaitReady blocks until firmware reported ready after a reload.
	WaitReady func(ctx context.Context, timeout time.Duration) error
}

// Config configures a Controller.
type Config struct {
	Capabilities     wire.Capabilities
	HostSleepTimeout time.Duration
	DrainTimeout     time.Duration
	ReadyTimeout     time.Duration

	OnWake        func(reason wire.WakeReason)
	OnStateChange func(from, to State)

	Logger *slog.Logger
	Tracer *log.Tracer
}

// Controller sequences suspend and resume.
type Controller struct {
	deps   Deps
	config Config
	logger *slog.Logger
	sig    wait.Signal

	mu              sync.Mutex
	state           State
	powerMode       wire.PowerMode
	savedPowerMode  wire.PowerMode
	hostSleepDone   bool
	netDetect       bool
	resumeScheduled bool
	resumed         resumeResult
	fault           error
}

// resumeResult is the outcome of the last completed resume.
type resumeResult struct {
	reason wire.WakeReason
	err    error
}

// New creates a Controller in StateOn.
func New(deps Deps, config Config) *Controller {
	if config.HostSleepTimeout <= 0 {
		config.HostSleepTimeout = DefaultHostSleepTimeout
	}
	if config.DrainTimeout <= 0 {
		config.DrainTimeout = DefaultDrainTimeout
	}
	if config.ReadyTimeout <= 0 {
		config.ReadyTimeout = DefaultReadyTimeout
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		deps:      deps,
		config:    config,
		logger:    logger.With("component", "power"),
		powerMode: wire.PowerMaxPerf,
	}
}

// SetCapabilities updates the firmware feature set after bring-up.
func (c *Controller) SetCapabilities(caps wire.Capabilities) {
	c.mu.Lock()
	c.config.Capabilities = caps
	c.mu.Unlock()
}

// State returns the current power state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Wait blocks until the controller reaches want.
func (c *Controller) Wait(ctx context.Context, timeout time.Duration, want State) error {
	return c.sig.Await(ctx, timeout, nil, func() bool { return c.State() == want })
}

// changeLocked moves to a new state and returns the previous one. The
// caller announces the change after unlocking.
func (c *Controller) changeLocked(to State) (State, bool) {
	from := c.state
	if !ValidTransition(from, to) {
		c.logger.Warn("refusing illegal transition", "from", from, "to", to)
		return from, false
	}
	c.state = to
	c.resumeScheduled = false
	return from, true
}

func (c *Controller) announce(from, to State, reason string) {
	c.sig.Notify()
	c.logger.Info("power state", "from", from, "to", to, "reason", reason)
	c.config.Tracer.StateChange(log.StateEntityPower, nil, from.String(), to.String(), reason)
	if cb := c.config.OnStateChange; cb != nil {
		cb(from, to)
	}
}

func (c *Controller) transition(to State, reason string) {
	c.mu.Lock()
	from, ok := c.changeLocked(to)
	c.mu.Unlock()
	if ok {
		c.announce(from, to, reason)
	}
}

func (c *Controller) submit(ctx context.Context, iface uint8, op wire.Opcode, payload any) (command.Response, error) {
	return c.deps.Channel.Submit(ctx, command.Request{
		Opcode:    op,
		Interface: iface,
		Payload:   payload,
	})
}

func (c *Controller) send(ctx context.Context, iface uint8, op wire.Opcode, payload any) error {
	_, err := c.submit(ctx, iface, op, payload)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// RecordFault marks the firmware as faulted. The first fault is kept,
// except that a transport fault replaces a recorded timeout.
func (c *Controller) RecordFault(err error) {
	c.mu.Lock()
	first := c.fault == nil ||
		(!errors.Is(c.fault, fwerr.ErrTransport) && errors.Is(err, fwerr.ErrTransport))
	if first {
		c.fault = err
	}
	c.mu.Unlock()
	if first {
		c.logger.Warn("firmware fault recorded", "error", err)
		c.config.Tracer.Error(log.LayerDriver, "fault", err)
	}
}

// Faulted returns the recorded fault, or nil.
func (c *Controller) Faulted() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fault
}

// ClearTimeoutFault forgets a recorded command timeout once firmware is
// answering again. Transport faults stay until a cut power cycle.
func (c *Controller) ClearTimeoutFault() {
	c.mu.Lock()
	fault := c.fault
	if fault == nil || errors.Is(fault, fwerr.ErrTransport) {
		c.mu.Unlock()
		return
	}
	c.fault = nil
	c.mu.Unlock()
	c.logger.Info("firmware answering again, fault cleared", "fault", fault)
}

// ClearFaults forgets the recorded fault.
func (c *Controller) ClearFaults() {
	c.mu.Lock()
	c.fault = nil
	c.mu.Unlock()
}

// SetPowerMode selects the station power save mode.
func (c *Controller) SetPowerMode(ctx context.Context, iface uint8, mode wire.PowerMode) error {
	if err := c.send(ctx, iface, wire.OpSetPowerMode, wire.PowerModeParams{Mode: mode}); err != nil {
		return err
	}
	c.mu.Lock()
	c.powerMode = mode
	c.mu.Unlock()
	return nil
}

// PowerMode returns the last power save mode set.
func (c *Controller) PowerMode() wire.PowerMode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.powerMode
}

// HandleHostSleepProcessed records the firmware's acknowledgement of the
// host sleep command.
func (c *Controller) HandleHostSleepProcessed() {
	c.mu.Lock()
	c.hostSleepDone = true
	c.mu.Unlock()
	c.sig.Notify()
}

// CheckWake runs on every frame from firmware. Traffic while suspended in
// WakeOnWireless means the firmware woke the host; a resume is scheduled.
func (c *Controller) CheckWake() {
	c.mu.Lock()
	if c.state != StateWakeOnWireless || c.resumeScheduled {
		c.mu.Unlock()
		return
	}
	c.resumeScheduled = true
	c.mu.Unlock()

	c.logger.Debug("firmware traffic while suspended, resuming")
	c.deps.Scheduler.Schedule("implicit-resume", func(ctx context.Context) {
		if _, err := c.Resume(ctx); err != nil {
			c.logger.Warn("implicit resume failed", "error", err)
		}
	})
}

// hostSleep tells firmware the host is going to sleep and waits for the
// acknowledgement.
func (c *Controller) hostSleep(ctx context.Context) error {
	c.mu.Lock()
	c.hostSleepDone = false
	c.mu.Unlock()

	if err := c.send(ctx, 0, wire.OpSetHostSleepMode, wire.HostSleepParams{State: wire.HostAsleep}); err != nil {
		return err
	}
	err := c.sig.Await(ctx, c.config.HostSleepTimeout, nil, func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.hostSleepDone
	})
	if err != nil {
		return fmt.Errorf("host sleep not acknowledged: %w", err)
	}
	return nil
}
