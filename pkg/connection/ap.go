package connection

import (
	"context"
	"fmt"

	"github.com/wlanfw/wlanfw-go/pkg/command"
	"github.com/wlanfw/wlanfw-go/pkg/fwerr"
	"github.com/wlanfw/wlanfw-go/pkg/wire"
)

// Default AP beacon settings.
const (
	DefaultBeaconInterval = 100
	DefaultDTIMPeriod     = 1
)

// APParams describe a BSS to start.
type APParams struct {
	SSID           []byte
	Channel        uint16
	BeaconInterval uint16
	DTIMPeriod     uint8
	Hidden         bool
	Security       Security
}

// StartAP brings up the BSS. The machine is Connecting until the AP-started
// event arrives.
func (m *Machine) StartAP(ctx context.Context, p APParams) error {
	if !m.isAP() {
		return fmt.Errorf("start AP on %s: %w: %w", m.config.Role, ErrWrongRole, fwerr.ErrInvalidParameter)
	}
	if err := validateSSID(p.SSID); err != nil {
		return err
	}
	if p.Channel == 0 {
		return fmt.Errorf("AP channel required: %w", fwerr.ErrInvalidParameter)
	}
	if p.Security.Auth == AuthShared || p.Security.isWEP() {
		return fmt.Errorf("AP mode requires open or PSK security: %w", fwerr.ErrInvalidParameter)
	}
	if err := p.Security.validate(); err != nil {
		return err
	}
	if p.BeaconInterval == 0 {
		p.BeaconInterval = DefaultBeaconInterval
	}
	if p.DTIMPeriod == 0 {
		p.DTIMPeriod = DefaultDTIMPeriod
	}
	pairwise, _ := p.Security.Cipher.Wire()
	group, _ := p.Security.groupCipher().Wire()

	m.mu.Lock()
	if m.state != StateDisconnected {
		state := m.state
		m.mu.Unlock()
		return fmt.Errorf("start AP while %s: %w", state, fwerr.ErrBusy)
	}
	m.setState(StateConnecting, "start AP")
	m.ssid = append([]byte(nil), p.SSID...)
	m.channel = p.Channel
	m.beaconInterval = p.BeaconInterval
	m.netType = wire.NetworkAP
	m.security = p.Security
	m.mu.Unlock()

	err := m.submit(ctx, wire.OpStartAP, wire.StartAPParams{
		SSID:           p.SSID,
		Channel:        p.Channel,
		BeaconInterval: p.BeaconInterval,
		DTIMPeriod:     p.DTIMPeriod,
		Hidden:         p.Hidden,
		AuthMode:       p.Security.authMode(),
		PairwiseCipher: pairwise,
		GroupCipher:    group,
		PMK:            p.Security.pmk(p.SSID),
	}, command.UrgencyBlock)
	if err != nil {
		m.mu.Lock()
		if m.state == StateConnecting {
			m.setState(StateDisconnected, "start AP failed")
			m.clearLink()
		}
		m.mu.Unlock()
		return fmt.Errorf("start AP: %w", err)
	}
	return nil
}

// HandleAPStarted processes the AP-started event and replays cached keys.
func (m *Machine) HandleAPStarted(info wire.ConnectInfo) {
	m.mu.Lock()
	if m.state != StateConnecting || !m.isAP() {
		m.mu.Unlock()
		m.logger.Warn("dropping AP started event", "state", m.State())
		return
	}
	m.setState(StateConnected, "AP started")
	m.apStarted = true
	if !info.BSSID.IsZero() {
		m.bssid = info.BSSID
	}
	if info.Channel != 0 {
		m.channel = info.Channel
	}
	cached := m.apKeys
	m.apKeys = nil
	result := ConnectResult{
		Success: true,
		SSID:    append([]byte(nil), m.ssid...),
		BSSID:   m.bssid,
		Channel: m.channel,
	}
	m.mu.Unlock()

	if len(cached) > 0 {
		m.sched.Schedule("ap-key-replay", func(ctx context.Context) {
			for _, k := range cached {
				if err := m.AddKey(ctx, k); err != nil {
					m.logger.Warn("replaying cached AP key failed", "index", k.Index, "error", err)
				}
			}
		})
	}

	if cb := m.config.Callbacks.OnConnected; cb != nil {
		cb(m.config.Handle, result)
	}
}

// StopAP takes the BSS down. It returns ErrNotReady when no BSS is live.
func (m *Machine) StopAP(ctx context.Context) error {
	if !m.isAP() {
		return fmt.Errorf("stop AP on %s: %w: %w", m.config.Role, ErrWrongRole, fwerr.ErrInvalidParameter)
	}
	return m.stopAP(ctx, command.UrgencyBlock)
}

func (m *Machine) stopAP(ctx context.Context, urgency command.Urgency) error {
	m.mu.Lock()
	if m.state != StateConnected || !m.apStarted {
		// A BSS that never came up still drops its pending key cache.
		if m.state == StateConnecting {
			m.setState(StateDisconnected, "stop AP")
			m.clearLink()
		}
		m.apKeys = nil
		m.mu.Unlock()
		return fmt.Errorf("stop AP: %w", fwerr.ErrNotReady)
	}
	m.mu.Unlock()

	err := m.submit(ctx, wire.OpStopAP, nil, urgency)

	m.mu.Lock()
	m.setState(StateDisconnected, "stop AP")
	m.clearLink()
	m.apStarted = false
	m.apKeys = nil
	m.keys = [MaxKeyIndex + 1]bool{}
	m.mu.Unlock()

	if cb := m.config.Callbacks.OnDisconnected; cb != nil {
		cb(m.config.Handle, wire.ReasonDisconnectCmd)
	}
	if err != nil {
		return fmt.Errorf("stop AP: %w", err)
	}
	return nil
}

// handleAPDisconnect handles disconnect events on an AP interface. A
// station address means one client left; the broadcast address means the
// BSS itself went down.
func (m *Machine) handleAPDisconnect(info wire.DisconnectInfo) {
	if !info.BSSID.IsBroadcast() {
		m.logger.Debug("station left", "sta", info.BSSID, "reason", info.Reason)
		return
	}

	m.mu.Lock()
	if m.state == StateDisconnected {
		m.mu.Unlock()
		return
	}
	m.setState(StateDisconnected, "AP stopped by firmware")
	m.clearLink()
	m.apStarted = false
	m.keys = [MaxKeyIndex + 1]bool{}
	m.mu.Unlock()

	if cb := m.config.Callbacks.OnDisconnected; cb != nil {
		cb(m.config.Handle, info.Reason)
	}
}

// IBSSParams describe an ad-hoc network to join or create.
type IBSSParams struct {
	SSID    []byte
	BSSID   wire.MACAddr
	Channel uint16

	// ChannelFixed asks firmware never to leave Channel. Not supported.
	ChannelFixed bool
	Security     Security
}

// JoinIBSS joins or creates an ad-hoc network.
func (m *Machine) JoinIBSS(ctx context.Context, p IBSSParams) error {
	if p.ChannelFixed {
		return fmt.Errorf("fixed IBSS channel unsupported: %w", fwerr.ErrInvalidParameter)
	}
	if m.isAP() {
		return fmt.Errorf("join IBSS on %s: %w: %w", m.config.Role, ErrWrongRole, fwerr.ErrInvalidParameter)
	}
	return m.connect(ctx, Params{
		SSID:     p.SSID,
		BSSID:    p.BSSID,
		Channel:  p.Channel,
		Security: p.Security,
	}, wire.NetworkAdHoc)
}

// LeaveIBSS leaves the ad-hoc network.
func (m *Machine) LeaveIBSS(ctx context.Context) error {
	return m.Disconnect(ctx, wire.ReasonUnspecified)
}
