package device

import (
	"github.com/wlanfw/wlanfw-go/pkg/connection"
	"github.com/wlanfw/wlanfw-go/pkg/vif"
	"github.com/wlanfw/wlanfw-go/pkg/wire"
)

// registerHandlers installs the fixed event dispatch table.
func (d *Device) registerHandlers() {
	d.events.Handle(wire.EvReady, d.handleReady)
	d.events.Handle(wire.EvInterfaceReady, d.handleInterfaceReady)
	d.events.Handle(wire.EvConnect, d.handleConnect)
	d.events.Handle(wire.EvRoam, d.handleRoam)
	d.events.Handle(wire.EvDisconnect, d.handleDisconnect)
	d.events.Handle(wire.EvAPStarted, d.handleAPStarted)
	d.events.Handle(wire.EvScanResult, d.handleScanResult)
	d.events.Handle(wire.EvScanComplete, d.handleScanComplete)
	d.events.Handle(wire.EvHostSleepProcessed, d.handleHostSleepProcessed)
	d.events.Handle(wire.EvRemainOnChannel, d.handleRemainOnChannel)
	d.events.Handle(wire.EvCancelRemainOnChannel, d.handleRemainOnChannel)
	d.events.Handle(wire.EvActionTxStatus, d.handleActionTxStatus)
}

// decodeEvent unmarshals the event payload, logging and dropping events
// that do not decode.
func decodeEvent[T any](d *Device, ev *wire.Event) (T, bool) {
	var v T
	if err := wire.DecodePayload(ev.Payload, &v); err != nil {
		d.logger.Warn("dropping malformed event", "event", ev.Code, "iface", ev.Interface, "error", err)
		return v, false
	}
	return v, true
}

// linkMachine routes a link event to its interface.
func (d *Device) linkMachine(ev *wire.Event) *connection.Machine {
	m := d.machineFor(ev.Interface)
	if m == nil {
		d.logger.Warn("dropping event for unknown interface", "event", ev.Code, "iface", ev.Interface)
	}
	return m
}

func (d *Device) handleReady(ev *wire.Event) {
	info, ok := decodeEvent[wire.ReadyInfo](d, ev)
	if !ok {
		return
	}
	caps := d.config.Capabilities.Apply(info.Capabilities)
	info.Capabilities = caps

	d.mu.Lock()
	first := !d.booted
	d.booted = true
	d.info = info
	d.caps = caps
	d.mu.Unlock()

	if first {
		d.vifs.Configure(info)
	}
	d.scans.SetCapabilities(caps)
	d.power.SetCapabilities(caps)
	d.logger.Info("firmware ready", "mac", info.MAC, "version", info.FirmwareVersion, "reload", !first)
	d.firmwareReady.Set()
}

func (d *Device) handleInterfaceReady(ev *wire.Event) {
	info, ok := decodeEvent[wire.InterfaceReadyInfo](d, ev)
	if !ok {
		return
	}
	d.vifs.HandleInterfaceReady(info)
}

func (d *Device) handleConnect(ev *wire.Event) {
	info, ok := decodeEvent[wire.ConnectInfo](d, ev)
	if !ok {
		return
	}
	m := d.linkMachine(ev)
	if m == nil {
		return
	}
	if info.ListenInterval > 0 {
		_ = d.vifs.Update(m.Handle(), func(i *vif.Interface) {
			i.ListenInterval = info.ListenInterval
		})
	}
	m.HandleConnect(info)
	d.sig.Notify()
}

func (d *Device) handleRoam(ev *wire.Event) {
	info, ok := decodeEvent[wire.ConnectInfo](d, ev)
	if !ok {
		return
	}
	if m := d.linkMachine(ev); m != nil {
		m.HandleRoam(info)
		d.sig.Notify()
	}
}

func (d *Device) handleDisconnect(ev *wire.Event) {
	info, ok := decodeEvent[wire.DisconnectInfo](d, ev)
	if !ok {
		return
	}
	m := d.linkMachine(ev)
	if m == nil {
		return
	}
	stationLeft := isAP(m.Role()) && !info.BSSID.IsBroadcast()
	if !stationLeft && m.State() != connection.StateDisconnected && d.scans.AbortInterface(ev.Interface) {
		d.logger.Debug("scan aborted by disconnect", "iface", ev.Interface)
	}
	m.HandleDisconnect(info)
	d.sig.Notify()
}

func (d *Device) handleAPStarted(ev *wire.Event) {
	info, ok := decodeEvent[wire.ConnectInfo](d, ev)
	if !ok {
		return
	}
	if m := d.linkMachine(ev); m != nil {
		m.HandleAPStarted(info)
		d.sig.Notify()
	}
}

func (d *Device) handleScanResult(ev *wire.Event) {
	bss, ok := decodeEvent[wire.BSSInfo](d, ev)
	if !ok {
		return
	}
	d.scans.HandleResult(ev.Interface, bss)
}

func (d *Device) handleScanComplete(ev *wire.Event) {
	info, ok := decodeEvent[wire.ScanCompleteInfo](d, ev)
	if !ok {
		return
	}
	d.scans.HandleComplete(ev.Interface, info)
}

func (d *Device) handleHostSleepProcessed(*wire.Event) {
	d.power.HandleHostSleepProcessed()
}

func (d *Device) handleRemainOnChannel(ev *wire.Event) {
	info, ok := decodeEvent[wire.RemainOnChannelInfo](d, ev)
	if !ok {
		return
	}
	h, live := d.vifs.Lookup(ev.Interface)
	if !live {
		d.logger.Warn("dropping event for unknown interface", "event", ev.Code, "iface", ev.Interface)
		return
	}
	cancelled := ev.Code == wire.EvCancelRemainOnChannel

	d.mu.Lock()
	cookie := d.roc[ev.Interface]
	if cancelled {
		delete(d.roc, ev.Interface)
	}
	d.mu.Unlock()

	if cb := d.config.Callbacks.OnRemainOnChannel; cb != nil {
		cb(h, cookie, info, cancelled)
	}
}

func (d *Device) handleActionTxStatus(ev *wire.Event) {
	info, ok := decodeEvent[wire.ActionTxStatusInfo](d, ev)
	if !ok {
		return
	}
	h, live := d.vifs.Lookup(ev.Interface)
	if !live {
		d.logger.Warn("dropping event for unknown interface", "event", ev.Code, "iface", ev.Interface)
		return
	}
	if cb := d.config.Callbacks.OnActionTxStatus; cb != nil {
		cb(h, uint64(info.ID), info.Ack)
	}
}

func isAP(role vif.Role) bool {
	return role == vif.RoleAP || role == vif.RoleP2PGO
}
