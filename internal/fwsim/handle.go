package fwsim

import (
	"slices"

	"github.com/wlanfw/wlanfw-go/pkg/wire"
)

// handleLocked answers one command the way the chip would. Caller holds f.mu.
func (f *Firmware) handleLocked(cmd Command) {
	idx := cmd.Interface
	ok := func() { f.replyLocked(cmd, wire.StatusSuccess, nil) }
	bad := func() { f.replyLocked(cmd, wire.StatusInvalidParameter, nil) }

	switch cmd.Opcode {
	case wire.OpCreateInterface:
		var p wire.CreateInterfaceParams
		if cmd.Decode(&p) != nil || p.Index >= f.config.MaxInterfaces {
			bad()
			return
		}
		ok()
		f.ifaces[p.Index] = p.MAC
		f.emitLocked(wire.EvInterfaceReady, p.Index, wire.InterfaceReadyInfo{Index: p.Index, MAC: p.MAC})

	case wire.OpDeleteInterface:
		ok()
		delete(f.ifaces, idx)
		delete(f.links, idx)
		delete(f.scanning, idx)

	case wire.OpConnect:
		var p wire.ConnectParams
		if cmd.Decode(&p) != nil {
			bad()
			return
		}
		ok()
		if p.NetworkType == wire.NetworkAdHoc {
			// The station creates the IBSS when nobody else has.
			bssid := f.ifaces[idx]
			bssid[0] |= 0x02
			f.links[idx] = link{ssid: p.SSID, bssid: bssid, channel: p.Channel}
			f.emitLocked(wire.EvConnect, idx, wire.ConnectInfo{
				Channel:     p.Channel,
				BSSID:       bssid,
				NetworkType: wire.NetworkAdHoc,
			})
			return
		}
		bss, found := f.findNetwork(p.SSID, p.BSSID)
		if !found {
			f.emitLocked(wire.EvDisconnect, idx, wire.DisconnectInfo{Reason: wire.ReasonNoNetworkAvail})
			return
		}
		f.links[idx] = link{ssid: bss.SSID, bssid: bss.BSSID, channel: bss.Channel}
		f.emitLocked(wire.EvConnect, idx, connectInfo(bss))

	case wire.OpReconnect:
		var p wire.ReconnectParams
		if cmd.Decode(&p) != nil {
			bad()
			return
		}
		ok()
		l, known := f.links[idx]
		if !known {
			l = link{bssid: p.BSSID, channel: p.Channel}
		}
		bss, found := f.findNetwork(l.ssid, l.bssid)
		if !found {
			delete(f.links, idx)
			f.emitLocked(wire.EvDisconnect, idx, wire.DisconnectInfo{Reason: wire.ReasonNoNetworkAvail})
			return
		}
		f.links[idx] = link{ssid: bss.SSID, bssid: bss.BSSID, channel: bss.Channel}
		f.emitLocked(wire.EvConnect, idx, connectInfo(bss))

	case wire.OpDisconnect:
		ok()
		l := f.links[idx]
		delete(f.links, idx)
		f.emitLocked(wire.EvDisconnect, idx, wire.DisconnectInfo{Reason: wire.ReasonDisconnectCmd, BSSID: l.bssid})

	case wire.OpStartAP:
		var p wire.StartAPParams
		if cmd.Decode(&p) != nil || len(p.SSID) == 0 {
			bad()
			return
		}
		ok()
		bssid := f.ifaces[idx]
		f.links[idx] = link{ssid: p.SSID, bssid: bssid, channel: p.Channel}
		f.emitLocked(wire.EvAPStarted, idx, wire.ConnectInfo{
			Channel:        p.Channel,
			BSSID:          bssid,
			BeaconInterval: p.BeaconInterval,
			NetworkType:    wire.NetworkAP,
		})

	case wire.OpStopAP:
		ok()
		delete(f.links, idx)
		f.emitLocked(wire.EvDisconnect, idx, wire.DisconnectInfo{Reason: wire.ReasonDisconnectCmd, BSSID: wire.BroadcastMAC})

	case wire.OpStartScan:
		var p wire.StartScanParams
		if cmd.Decode(&p) != nil {
			bad()
			return
		}
		if f.scanning[idx] {
			f.replyLocked(cmd, wire.StatusBusy, nil)
			return
		}
		ok()
		f.scanning[idx] = true
		if f.mute[cmd.Opcode] {
			return
		}
		for _, bss := range f.config.Networks {
			if len(p.Channels) > 0 && !slices.Contains(p.Channels, bss.Channel) {
				continue
			}
			f.emitLocked(wire.EvScanResult, idx, bss)
		}
		f.scanning[idx] = false
		f.emitLocked(wire.EvScanComplete, idx, wire.ScanCompleteInfo{})

	case wire.OpAbortScan:
		ok()
		if f.scanning[idx] {
			f.scanning[idx] = false
			f.emitLocked(wire.EvScanComplete, idx, wire.ScanCompleteInfo{Aborted: true})
		}

	case wire.OpSetHostSleepMode:
		var p wire.HostSleepParams
		if cmd.Decode(&p) != nil {
			bad()
			return
		}
		ok()
		if p.State == wire.HostAsleep && !f.mute[cmd.Opcode] {
			f.emitLocked(wire.EvHostSleepProcessed, 0, nil)
		}

	case wire.OpGetWakeReason:
		f.replyLocked(cmd, wire.StatusSuccess, wire.WakeReasonInfo{Reason: f.config.WakeReason})

	case wire.OpRemainOnChannel:
		var p wire.RemainOnChannelParams
		if cmd.Decode(&p) != nil {
			bad()
			return
		}
		ok()
		info := wire.RemainOnChannelInfo{Freq: p.Freq, DurationMS: p.DurationMS}
		f.remain[idx] = info
		f.emitLocked(wire.EvRemainOnChannel, idx, info)

	case wire.OpCancelRemainOnChannel:
		ok()
		if info, live := f.remain[idx]; live {
			delete(f.remain, idx)
			f.emitLocked(wire.EvCancelRemainOnChannel, idx, info)
		}

	case wire.OpSendAction:
		var p wire.ActionParams
		if cmd.Decode(&p) != nil {
			bad()
			return
		}
		ok()
		f.emitLocked(wire.EvActionTxStatus, idx, wire.ActionTxStatusInfo{ID: p.ID, Ack: true})

	case wire.OpAddKey, wire.OpDeleteKey,
		wire.OpSetListenInterval, wire.OpSetBmissTime, wire.OpSetBmissEnhance,
		wire.OpSetScanParams, wire.OpSetPowerMode,
		wire.OpSetProbedSSID, wire.OpSetSchedScan, wire.OpEnableSchedScan, wire.OpSetRSSIFilter,
		wire.OpSetMcastFilter, wire.OpClearWowPatterns, wire.OpAddWowPattern, wire.OpSetWowMode:
		ok()

	default:
		f.replyLocked(cmd, wire.StatusUnsupported, nil)
	}
}

func connectInfo(bss wire.BSSInfo) wire.ConnectInfo {
	return wire.ConnectInfo{
		Channel:        bss.Channel,
		BSSID:          bss.BSSID,
		ListenInterval: 100,
		BeaconInterval: bss.BeaconInterval,
		NetworkType:    wire.NetworkInfra,
	}
}
