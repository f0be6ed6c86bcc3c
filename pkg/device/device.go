package device

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wlanfw/wlanfw-go/pkg/command"
	"github.com/wlanfw/wlanfw-go/pkg/connection"
	"github.com/wlanfw/wlanfw-go/pkg/event"
	"github.com/wlanfw/wlanfw-go/pkg/fwerr"
	"github.com/wlanfw/wlanfw-go/pkg/log"
	"github.com/wlanfw/wlanfw-go/pkg/power"
	"github.com/wlanfw/wlanfw-go/pkg/scan"
	"github.com/wlanfw/wlanfw-go/pkg/transport"
	"github.com/wlanfw/wlanfw-go/pkg/vif"
	"github.com/wlanfw/wlanfw-go/pkg/wait"
	"github.com/wlanfw/wlanfw-go/pkg/wire"
)

// rxIdleWait bounds one wait of the receive loop for the bus to return.
const rxIdleWait = time.Second

// Device is the handle of one firmware instance.
type Device struct {
	config Config
	loader transport.Loader
	logger *slog.Logger
	tracer *log.Tracer
	bus    *bus

	channel *command.Channel
	events  *event.Dispatcher
	vifs    *vif.Registry
	scans   *scan.Session
	power   *power.Controller

	sig           *wait.Signal
	teardown      *wait.Flag
	firmwareReady *wait.Flag

	mu       sync.RWMutex
	state    DeviceState
	info     wire.ReadyInfo
	caps     wire.Capabilities
	booted   bool
	machines map[uint8]*connection.Machine
	roc      map[uint8]uint64
	cancel   context.CancelFunc
	rxDone   chan struct{}
	closed   chan struct{}
}

// New creates a Device. Nothing is powered until Start.
func New(config Config, tr transport.Transport, loader transport.Loader) (*Device, error) {
	if tr == nil || loader == nil {
		return nil, fmt.Errorf("%w: transport and loader are required", ErrInvalidConfig)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	config.applyDefaults()

	d := &Device{
		config:   config,
		loader:   loader,
		tracer:   log.NewTracer(config.ProtocolLogger, uuid.NewString()),
		sig:      wait.NewSignal(),
		machines: make(map[uint8]*connection.Machine),
		roc:      make(map[uint8]uint64),
		closed:   make(chan struct{}),
	}
	d.logger = config.Logger.With("component", "device", "session", d.tracer.SessionID())
	d.teardown = wait.NewFlag("teardown", d.sig)
	d.firmwareReady = wait.NewFlag("firmware-ready", d.sig)
	d.bus = &bus{Transport: tr, tracer: d.tracer, sig: d.sig, ready: d.firmwareReady}

	d.channel = command.New(d.bus, command.Config{
		CommandTimeout: config.CommandTimeout,
		AcquireTimeout: config.AcquireTimeout,
		Logger:         config.Logger,
		Tracer:         d.tracer,
	})
	d.channel.OnFault(d.recordFault)
	d.channel.OnSuccess(func() { d.power.ClearTimeoutFault() })

	d.events = event.New(event.Config{
		QueueDepth: config.EventQueueDepth,
		Logger:     config.Logger,
		Tracer:     d.tracer,
	})

	d.vifs = vif.New(d.channel, vif.Config{
		ReadyTimeout: config.InterfaceReadyTimeout,
		Abort:        d.teardown.Err(fwerr.ErrCancelled),
		Logger:       config.Logger,
		Tracer:       d.tracer,
	})

	d.scans = scan.New(d.channel, scan.Config{
		OnComplete: config.Callbacks.OnScanComplete,
		Logger:     config.Logger,
		Tracer:     d.tracer,
	})

	d.power = power.New(power.Deps{
		Channel:   d.channel,
		Power:     d.bus,
		Loader:    loader,
		Links:     links{d},
		Scans:     d.scans,
		Scheduler: d.events,
		WaitReady: d.waitReload,
	}, power.Config{
		HostSleepTimeout: config.HostSleepTimeout,
		ReadyTimeout:     config.ReadyTimeout,
		OnWake:           config.Callbacks.OnWake,
		OnStateChange:    d.powerStateChanged,
		Logger:           config.Logger,
		Tracer:           d.tracer,
	})

	d.registerHandlers()
	return d, nil
}

// SessionID identifies this device instance in protocol traces.
func (d *Device) SessionID() string {
	return d.tracer.SessionID()
}

// Start powers the chip, loads the firmware and waits for it to report
// ready. Interface 0 comes up as a station.
func (d *Device) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.state != StateIdle {
		state := d.state
		d.mu.Unlock()
		return fmt.Errorf("start while %s: %w", state, ErrAlreadyStarted)
	}
	d.state = StateStarting
	d.mu.Unlock()

	d.logger.Info("starting device")
	if err := d.bus.PowerOn(ctx); err != nil {
		d.setState(StateIdle)
		return fwerr.Wrap("start", fwerr.ErrTransport, err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	rxDone := make(chan struct{})
	d.mu.Lock()
	d.cancel = cancel
	d.rxDone = rxDone
	d.mu.Unlock()

	d.events.Run(runCtx)
	go d.receive(runCtx, rxDone)

	err := d.bringUp(ctx)
	if err == nil {
		err = d.addDefaultInterface()
	}
	if err != nil {
		d.logger.Warn("start failed", "error", err)
		d.tracer.Error(log.LayerDriver, "start", err)
		d.abortStart()
		return err
	}

	d.setState(StateRunning)
	info := d.readyInfo()
	d.logger.Info("device running", "mac", info.MAC, "firmware", info.FirmwareVersion, "interfaces", info.MaxInterfaces)
	return nil
}

// bringUp loads the firmware, retrying with backoff, and waits for Ready.
func (d *Device) bringUp(ctx context.Context) error {
	abort := d.teardown.Err(fwerr.ErrCancelled)

	err := loadFirmware(ctx, d.config.BringUpAttempts, d.config.BringUpBackoff,
		d.loader.LoadAndStart,
		func(ctx context.Context, delay time.Duration) error {
			return d.sig.Await(ctx, delay, abort, func() bool { return false })
		},
		func(a loadAttempt) {
			d.logger.Warn("firmware load failed", "attempt", a.n, "of", d.config.BringUpAttempts, "retry_in", a.delay, "error", a.err)
		})
	if err != nil {
		return err
	}

	if err := d.sig.Await(ctx, d.config.ReadyTimeout, abort, d.firmwareReady.IsSet); err != nil {
		if errors.Is(err, fwerr.ErrTimeout) {
			return fwerr.Wrap("wait ready", fwerr.ErrNotReady, err)
		}
		return err
	}
	return nil
}

func (d *Device) addDefaultInterface() error {
	h, err := d.vifs.AddDefault(vif.RoleStation)
	if err != nil {
		return err
	}
	d.newMachine(h, vif.RoleStation)
	return nil
}

// abortStart unwinds a failed Start. The device cannot be started again.
func (d *Device) abortStart() {
	d.teardown.Set()
	d.channel.Cancel()
	d.events.Stop()
	if err := d.bus.PowerOff(); err != nil {
		d.logger.Debug("power off failed", "error", err)
	}
	d.stopReceive()
	d.setState(StateStopped)
	close(d.closed)
}

func (d *Device) stopReceive() {
	d.mu.Lock()
	cancel, done := d.cancel, d.rxDone
	d.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	select {
	case <-done:
	case <-time.After(rxIdleWait):
		d.logger.Warn("receive loop did not exit")
	}
}

// waitReload runs on the cut-power resume path once the firmware was
// reloaded: it waits for Ready and brings the extra interfaces back.
func (d *Device) waitReload(ctx context.Context, timeout time.Duration) error {
	if err := d.sig.Await(ctx, timeout, d.teardown.Err(fwerr.ErrCancelled), d.firmwareReady.IsSet); err != nil {
		return err
	}
	if err := d.vifs.Recreate(ctx); err != nil {
		d.logger.Warn("interfaces lost across power cycle", "error", err)
		d.pruneMachines()
	}
	return nil
}

// receive is the bus reader goroutine.
func (d *Device) receive(ctx context.Context, done chan struct{}) {
	defer close(done)
	for {
		gen := d.bus.gen.Load()
		data, err := d.bus.Recv(ctx)
		if err != nil {
			if ctx.Err() != nil || d.teardown.IsSet() {
				return
			}
			d.receiveFailed(err)
			d.waitBus(ctx, gen)
			continue
		}
		d.tracer.Frame(log.DirectionIn, data)
		d.dispatch(data)
	}
}

// receiveFailed records a bus failure while the chip should be running.
func (d *Device) receiveFailed(err error) {
	if d.power.State() != power.StateOn {
		d.logger.Debug("receive idle while powered down", "power", d.power.State(), "error", err)
		return
	}
	if !d.firmwareReady.Clear() {
		d.logger.Debug("receive still failing", "error", err)
		return
	}
	d.logger.Warn("bus receive failed", "error", err)
	d.tracer.Error(log.LayerTransport, "receive", err)
	d.power.RecordFault(fwerr.Wrap("receive", fwerr.ErrTransport, err))
}

// waitBus blocks until the bus power generation moves past gen, or for
// rxIdleWait, whichever comes first.
func (d *Device) waitBus(ctx context.Context, gen uint64) {
	_ = d.sig.Await(ctx, rxIdleWait, d.teardown.Err(fwerr.ErrCancelled), func() bool {
		return d.bus.gen.Load() != gen
	})
}

func (d *Device) dispatch(data []byte) {
	frame, err := wire.DecodeFrame(data)
	if err != nil {
		d.logger.Warn("dropping undecodable frame", "size", len(data), "error", err)
		d.tracer.Error(log.LayerTransport, "decode", err)
		return
	}
	d.power.CheckWake()

	switch frame.Kind {
	case wire.FrameReply:
		if !d.channel.HandleReply(*frame.Reply) {
			d.logger.Debug("dropping stale reply", "seq", frame.Reply.Seq, "status", frame.Reply.Status)
		}
	case wire.FrameEvent:
		if err := d.events.Post(frame.Event); err != nil {
			d.logger.Debug("event not queued", "event", frame.Event.Code, "error", err)
		}
	default:
		d.logger.Warn("dropping unexpected frame", "kind", frame.Kind)
	}
}

func (d *Device) recordFault(err error) {
	d.logger.Warn("firmware fault", "error", err)
	d.tracer.Error(log.LayerCommand, "fault", err)
	d.power.RecordFault(err)
}

func (d *Device) powerStateChanged(from, to power.State) {
	d.bus.bump()
	if cb := d.config.Callbacks.OnPowerStateChange; cb != nil {
		cb(from, to)
	}
}

func (d *Device) setState(s DeviceState) {
	d.mu.Lock()
	d.state = s
	d.mu.Unlock()
}

// DeviceState returns the lifecycle state.
func (d *Device) DeviceState() DeviceState {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.state
}

func (d *Device) readyInfo() wire.ReadyInfo {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.info
}

// checkReady gates every caller operation.
func (d *Device) checkReady(op string) error {
	if d.teardown.IsSet() {
		return fwerr.New(op, fwerr.ErrBusy)
	}
	if !d.firmwareReady.IsSet() {
		return fwerr.New(op, fwerr.ErrNotReady)
	}
	if fault := d.power.Faulted(); errors.Is(fault, fwerr.ErrTransport) {
		return fwerr.Wrap(op, fwerr.ErrNotReady, fmt.Errorf("firmware fault: %v", fault))
	}
	if s := d.power.State(); s != power.StateOn {
		return fwerr.Wrap(op, fwerr.ErrNotReady, fmt.Errorf("power %s", s))
	}
	return nil
}

// Close tears the device down: the command channel is cancelled, every
// interface is stopped, the scan is aborted, the dispatcher drains and the
// chip is powered off. It is bounded by TeardownTimeout and idempotent.
func (d *Device) Close(ctx context.Context) error {
	d.mu.Lock()
	switch d.state {
	case StateStopped:
		d.mu.Unlock()
		return nil
	case StateStopping:
		closed := d.closed
		d.mu.Unlock()
		select {
		case <-closed:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	d.state = StateStopping
	d.mu.Unlock()

	d.teardown.Set()
	d.logger.Info("closing device")
	ctx, cancel := context.WithTimeout(ctx, d.config.TeardownTimeout)
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		d.shutdown(ctx)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = fwerr.Wrap("close", fwerr.ErrTimeout, ctx.Err())
		d.logger.Warn("teardown did not finish in time", "timeout", d.config.TeardownTimeout)
		if perr := d.bus.PowerOff(); perr != nil {
			d.logger.Debug("power off failed", "error", perr)
		}
	}

	d.stopReceive()
	d.vifs.Reset()
	d.setState(StateStopped)
	close(d.closed)
	d.logger.Info("device closed")
	return err
}

func (d *Device) shutdown(ctx context.Context) {
	d.channel.Cancel()
	for _, m := range d.machineList() {
		m.Stop(ctx)
	}
	d.scans.AbortAll()
	d.events.Stop()
	if err := d.bus.PowerOff(); err != nil {
		d.logger.Debug("power off failed", "error", err)
	}
}

// Info is a snapshot of the device for display.
type Info struct {
	SessionID       string
	State           DeviceState
	MAC             wire.MACAddr
	FirmwareVersion string
	Capabilities    wire.Capabilities
	Power           power.State
	PowerMode       wire.PowerMode
	Fault           error
	Interfaces      []InterfaceInfo
	Command         command.Stats
}

// InterfaceInfo pairs an interface record with its link.
type InterfaceInfo struct {
	vif.Interface
	Link connection.Info
}

// Info returns a snapshot of the device.
func (d *Device) Info() Info {
	d.mu.RLock()
	info := Info{
		SessionID:       d.tracer.SessionID(),
		State:           d.state,
		MAC:             d.info.MAC,
		FirmwareVersion: d.info.FirmwareVersion,
		Capabilities:    d.caps,
	}
	d.mu.RUnlock()

	info.Power = d.power.State()
	info.PowerMode = d.power.PowerMode()
	info.Fault = d.power.Faulted()
	info.Command = d.channel.Stats()
	for _, iface := range d.vifs.Interfaces() {
		ii := InterfaceInfo{Interface: iface}
		if m := d.machineAt(iface.Handle); m != nil {
			ii.Link = m.Info()
		}
		info.Interfaces = append(info.Interfaces, ii)
	}
	return info
}
