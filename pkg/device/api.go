package device

import (
	"context"
	"fmt"
	"time"

	"github.com/wlanfw/wlanfw-go/pkg/command"
	"github.com/wlanfw/wlanfw-go/pkg/connection"
	"github.com/wlanfw/wlanfw-go/pkg/fwerr"
	"github.com/wlanfw/wlanfw-go/pkg/power"
	"github.com/wlanfw/wlanfw-go/pkg/scan"
	"github.com/wlanfw/wlanfw-go/pkg/vif"
	"github.com/wlanfw/wlanfw-go/pkg/wire"
)

// machine runs the readiness checks and resolves h.
func (d *Device) machine(op string, h vif.Handle) (*connection.Machine, error) {
	if err := d.checkReady(op); err != nil {
		return nil, err
	}
	if !d.vifs.Valid(h) {
		return nil, fwerr.Wrap(op, fwerr.ErrInvalidParameter, vif.ErrStaleHandle)
	}
	m := d.machineAt(h)
	if m == nil {
		return nil, fwerr.Wrap(op, fwerr.ErrInvalidParameter, vif.ErrStaleHandle)
	}
	return m, nil
}

// DefaultInterface returns the handle of interface 0.
func (d *Device) DefaultInterface() vif.Handle {
	h, _ := d.vifs.Lookup(0)
	return h
}

// Connect joins a network on a station interface. A live scan on the
// interface is cancelled and a scheduled scan stopped first.
func (d *Device) Connect(ctx context.Context, h vif.Handle, p connection.Params) error {
	m, err := d.machine("connect", h)
	if err != nil {
		return err
	}
	if err := p.Validate(); err != nil {
		return err
	}
	if isAP(m.Role()) {
		return fmt.Errorf("connect on %s: %w: %w", m.Role(), connection.ErrWrongRole, fwerr.ErrInvalidParameter)
	}

	d.quiesceScans(ctx, h.Index)
	if p.ListenInterval > 0 {
		_ = d.vifs.Update(h, func(i *vif.Interface) { i.ListenInterval = p.ListenInterval })
	}
	err = m.Connect(ctx, p)
	d.sig.Notify()
	return err
}

// quiesceScans cancels the live scan on iface and stops the scheduled scan.
func (d *Device) quiesceScans(ctx context.Context, iface uint8) {
	if t, ok := d.scans.Live(); ok && t.Interface == iface {
		if err := d.scans.Cancel(ctx, t); err != nil {
			d.logger.Debug("cancel scan before connect", "error", err)
		}
	}
	if _, on := d.scans.Scheduled(); on {
		if err := d.scans.StopScheduled(ctx); err != nil {
			d.logger.Warn("stop scheduled scan before connect", "error", err)
		}
	}
}

// Disconnect drops the link on h.
func (d *Device) Disconnect(ctx context.Context, h vif.Handle) error {
	m, err := d.machine("disconnect", h)
	if err != nil {
		return err
	}
	err = m.Disconnect(ctx, wire.ReasonUnspecified)
	d.sig.Notify()
	return err
}

// Scan starts an immediate scan on h. The result arrives through
// OnScanComplete.
func (d *Device) Scan(ctx context.Context, h vif.Handle, req scan.Request) (scan.Ticket, error) {
	if _, err := d.machine("scan", h); err != nil {
		return scan.Ticket{}, err
	}
	req.Interface = h.Index
	return d.scans.Start(ctx, req)
}

// CancelScan aborts the scan identified by t.
func (d *Device) CancelScan(ctx context.Context, t scan.Ticket) error {
	if err := d.checkReady("cancel scan"); err != nil {
		return err
	}
	return d.scans.Cancel(ctx, t)
}

// StartScheduledScan starts periodic scanning on a disconnected station.
func (d *Device) StartScheduledScan(ctx context.Context, h vif.Handle, req scan.SchedRequest) error {
	m, err := d.machine("start scheduled scan", h)
	if err != nil {
		return err
	}
	if s := m.State(); s != connection.StateDisconnected {
		return fwerr.Wrap("start scheduled scan", fwerr.ErrBusy, fmt.Errorf("link %s", s))
	}
	req.Interface = h.Index
	return d.scans.StartScheduled(ctx, req)
}

// StopScheduledScan stops periodic scanning.
func (d *Device) StopScheduledScan(ctx context.Context) error {
	if err := d.checkReady("stop scheduled scan"); err != nil {
		return err
	}
	return d.scans.StopScheduled(ctx)
}

// AddInterface creates an interface with the given role.
func (d *Device) AddInterface(ctx context.Context, role vif.Role) (vif.Handle, error) {
	if err := d.checkReady("add interface"); err != nil {
		return vif.Handle{}, err
	}
	h, err := d.vifs.Add(ctx, role)
	if err != nil {
		return vif.Handle{}, err
	}
	d.newMachine(h, role)
	return h, nil
}

// RemoveInterface stops and deletes an interface.
func (d *Device) RemoveInterface(ctx context.Context, h vif.Handle) error {
	m, err := d.machine("remove interface", h)
	if err != nil {
		return err
	}
	m.Stop(ctx)
	d.scans.AbortInterface(h.Index)
	if idx, on := d.scans.Scheduled(); on && idx == h.Index {
		if err := d.scans.StopScheduled(ctx); err != nil {
			d.logger.Debug("stop scheduled scan on removed interface", "error", err)
		}
	}
	d.dropMachine(h)
	err = d.vifs.Remove(ctx, h)
	d.sig.Notify()
	return err
}

// Interfaces returns the live interface records.
func (d *Device) Interfaces() []vif.Interface {
	return d.vifs.Interfaces()
}

// AddKey installs a key on h.
func (d *Device) AddKey(ctx context.Context, h vif.Handle, k connection.Key) error {
	m, err := d.machine("add key", h)
	if err != nil {
		return err
	}
	return m.AddKey(ctx, k)
}

// DeleteKey removes the key at index from h.
func (d *Device) DeleteKey(ctx context.Context, h vif.Handle, index uint8) error {
	m, err := d.machine("delete key", h)
	if err != nil {
		return err
	}
	return m.DeleteKey(ctx, index)
}

// StartAP brings up a BSS on an AP interface.
func (d *Device) StartAP(ctx context.Context, h vif.Handle, p connection.APParams) error {
	m, err := d.machine("start AP", h)
	if err != nil {
		return err
	}
	return m.StartAP(ctx, p)
}

// StopAP takes the BSS on h down.
func (d *Device) StopAP(ctx context.Context, h vif.Handle) error {
	m, err := d.machine("stop AP", h)
	if err != nil {
		return err
	}
	err = m.StopAP(ctx)
	d.sig.Notify()
	return err
}

// JoinIBSS joins or creates an ad-hoc network.
func (d *Device) JoinIBSS(ctx context.Context, h vif.Handle, p connection.IBSSParams) error {
	m, err := d.machine("join IBSS", h)
	if err != nil {
		return err
	}
	d.quiesceScans(ctx, h.Index)
	return m.JoinIBSS(ctx, p)
}

// LeaveIBSS leaves the ad-hoc network on h.
func (d *Device) LeaveIBSS(ctx context.Context, h vif.Handle) error {
	m, err := d.machine("leave IBSS", h)
	if err != nil {
		return err
	}
	err = m.LeaveIBSS(ctx)
	d.sig.Notify()
	return err
}

// SetPowerManagement toggles station power save on h.
func (d *Device) SetPowerManagement(ctx context.Context, h vif.Handle, enabled bool) error {
	if _, err := d.machine("set power management", h); err != nil {
		return err
	}
	mode := wire.PowerMaxPerf
	if enabled {
		mode = wire.PowerRec
	}
	return d.power.SetPowerMode(ctx, h.Index, mode)
}

// RemainOnChannel parks the radio on freq for duration and returns the
// cookie reported through OnRemainOnChannel.
func (d *Device) RemainOnChannel(ctx context.Context, h vif.Handle, freq uint16, duration time.Duration) (uint64, error) {
	if _, err := d.machine("remain on channel", h); err != nil {
		return 0, err
	}
	if freq == 0 || duration <= 0 {
		return 0, fwerr.Wrap("remain on channel", fwerr.ErrInvalidParameter, fmt.Errorf("freq %d, duration %s", freq, duration))
	}
	cookie, err := d.vifs.NextRemainOnChannelCookie(h)
	if err != nil {
		return 0, fwerr.Wrap("remain on channel", fwerr.ErrInvalidParameter, err)
	}

	d.mu.Lock()
	d.roc[h.Index] = cookie
	d.mu.Unlock()

	_, err = d.channel.Submit(ctx, command.Request{
		Opcode:    wire.OpRemainOnChannel,
		Interface: h.Index,
		Payload:   wire.RemainOnChannelParams{Freq: freq, DurationMS: uint32(duration / time.Millisecond)},
	})
	if err != nil {
		d.mu.Lock()
		if d.roc[h.Index] == cookie {
			delete(d.roc, h.Index)
		}
		d.mu.Unlock()
		return 0, err
	}
	return cookie, nil
}

// CancelRemainOnChannel ends the remain-on-channel period with cookie.
func (d *Device) CancelRemainOnChannel(ctx context.Context, h vif.Handle, cookie uint64) error {
	if _, err := d.machine("cancel remain on channel", h); err != nil {
		return err
	}
	d.mu.RLock()
	current := d.roc[h.Index]
	d.mu.RUnlock()
	if cookie == 0 || cookie != current {
		return fwerr.Wrap("cancel remain on channel", fwerr.ErrInvalidParameter, fmt.Errorf("unknown cookie %d", cookie))
	}
	_, err := d.channel.Submit(ctx, command.Request{
		Opcode:    wire.OpCancelRemainOnChannel,
		Interface: h.Index,
	})
	return err
}

// Action is a management action frame to transmit.
type Action struct {
	Freq  uint16
	Wait  time.Duration
	Frame []byte
	NoCCK bool
}

// SendAction transmits an action frame and returns the cookie reported
// through OnActionTxStatus.
func (d *Device) SendAction(ctx context.Context, h vif.Handle, a Action) (uint64, error) {
	if _, err := d.machine("send action", h); err != nil {
		return 0, err
	}
	if len(a.Frame) == 0 || a.Freq == 0 {
		return 0, fwerr.New("send action", fwerr.ErrInvalidParameter)
	}
	cookie, err := d.vifs.NextActionCookie(h)
	if err != nil {
		return 0, fwerr.Wrap("send action", fwerr.ErrInvalidParameter, err)
	}
	_, err = d.channel.Submit(ctx, command.Request{
		Opcode:    wire.OpSendAction,
		Interface: h.Index,
		Payload: wire.ActionParams{
			ID:     uint32(cookie),
			Freq:   a.Freq,
			WaitMS: uint32(a.Wait / time.Millisecond),
			Frame:  a.Frame,
			NoCCK:  a.NoCCK,
		},
	})
	if err != nil {
		return 0, err
	}
	return cookie, nil
}

// Suspend puts the device to sleep. A faulted device may still be
// suspended with power.ModeCutPower to power cycle it.
func (d *Device) Suspend(ctx context.Context, mode power.Mode, wow *power.WowConfig) error {
	if mode == power.ModeCutPower {
		if d.teardown.IsSet() {
			return fwerr.New("suspend", fwerr.ErrBusy)
		}
		if s := d.power.State(); s != power.StateOn {
			return fwerr.Wrap("suspend", fwerr.ErrNotReady, fmt.Errorf("power %s", s))
		}
	} else if err := d.checkReady("suspend"); err != nil {
		return err
	}
	return d.power.Suspend(ctx, mode, wow)
}

// Resume wakes the device and returns why firmware woke the host, if it
// did.
func (d *Device) Resume(ctx context.Context) (wire.WakeReason, error) {
	if d.teardown.IsSet() {
		return wire.WakeNone, fwerr.New("resume", fwerr.ErrBusy)
	}
	if d.power.State() != power.StateCutPower && !d.firmwareReady.IsSet() {
		return wire.WakeNone, fwerr.New("resume", fwerr.ErrNotReady)
	}
	return d.power.Resume(ctx)
}

// PowerState returns the power controller state.
func (d *Device) PowerState() power.State {
	return d.power.State()
}

// WaitPowerState blocks until the power state is want.
func (d *Device) WaitPowerState(ctx context.Context, want power.State, timeout time.Duration) error {
	return d.power.Wait(ctx, timeout, want)
}

// State returns the link state of h.
func (d *Device) State(h vif.Handle) (connection.State, error) {
	m := d.machineAt(h)
	if m == nil || !d.vifs.Valid(h) {
		return connection.StateDisconnected, fwerr.Wrap("state", fwerr.ErrInvalidParameter, vif.ErrStaleHandle)
	}
	return m.State(), nil
}

// Link returns a snapshot of the link on h.
func (d *Device) Link(h vif.Handle) (connection.Info, error) {
	m := d.machineAt(h)
	if m == nil || !d.vifs.Valid(h) {
		return connection.Info{}, fwerr.Wrap("link", fwerr.ErrInvalidParameter, vif.ErrStaleHandle)
	}
	return m.Info(), nil
}

// WaitState blocks until the link on h reaches want, the timeout expires
// (ErrTimeout) or teardown starts (ErrCancelled).
func (d *Device) WaitState(ctx context.Context, h vif.Handle, want connection.State, timeout time.Duration) error {
	m := d.machineAt(h)
	if m == nil {
		return fwerr.Wrap("wait state", fwerr.ErrInvalidParameter, vif.ErrStaleHandle)
	}
	return d.sig.Await(ctx, timeout, d.teardown.Err(fwerr.ErrCancelled), func() bool {
		return m.State() == want
	})
}

// Capabilities returns the effective firmware capabilities.
func (d *Device) Capabilities() wire.Capabilities {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.caps
}

// Flush waits until every queued event and follow-up has run.
func (d *Device) Flush(ctx context.Context, timeout time.Duration) error {
	return d.events.Flush(ctx, timeout)
}
