package connection

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/wlanfw/wlanfw-go/pkg/command"
	"github.com/wlanfw/wlanfw-go/pkg/event"
	"github.com/wlanfw/wlanfw-go/pkg/fwerr"
	"github.com/wlanfw/wlanfw-go/pkg/log"
	"github.com/wlanfw/wlanfw-go/pkg/vif"
	"github.com/wlanfw/wlanfw-go/pkg/wire"
)

// DefaultHandshakeTimeout bounds the wait for the group key on PSK links.
const DefaultHandshakeTimeout = 10 * time.Second

// Submitter sends a command and waits for its reply.
type Submitter interface {
	Submit(ctx context.Context, req command.Request) (command.Response, error)
}

// Scheduler queues follow-up work off the event goroutine.
type Scheduler interface {
	Schedule(name string, fn event.WorkFunc)
}

// ConnectResult is reported through OnConnected.
type ConnectResult struct {
	Success bool
	SSID    []byte
	BSSID   wire.MACAddr
	Channel uint16

	// Reason is set when Success is false.
	Reason wire.DisconnectReason
}

// Callbacks receive link notifications. They run outside the machine lock.
type Callbacks struct {
	OnConnected    func(h vif.Handle, r ConnectResult)
	OnDisconnected func(h vif.Handle, reason wire.DisconnectReason)
	OnRoamed       func(h vif.Handle, bssid wire.MACAddr, channel uint16)
}

// Params describe a network to join.
type Params struct {
	SSID     []byte
	BSSID    wire.MACAddr
	Channel  uint16
	Security Security

	// ListenInterval in TUs; zero keeps the firmware default.
	ListenInterval uint16
}

// Info is a snapshot of the link.
type Info struct {
	State          State
	SSID           []byte
	BSSID          wire.MACAddr
	Channel        uint16
	BeaconInterval uint16
	NetworkType    wire.NetworkType
	AssocReqIEs    []byte
	AssocRespIEs   []byte
	APStarted      bool
}

// Config configures a Machine.
type Config struct {
	Handle           vif.Handle
	Role             vif.Role
	Capabilities     wire.Capabilities
	HandshakeTimeout time.Duration
	Callbacks        Callbacks
	Logger           *slog.Logger
	Tracer           *log.Tracer
}

// Machine is the connection state machine of one interface.
type Machine struct {
	sub    Submitter
	sched  Scheduler
	config Config
	logger *slog.Logger
	idx    uint8

	mu             sync.Mutex
	state          State
	ssid           []byte
	bssid          wire.MACAddr
	channel        uint16
	beaconInterval uint16
	netType        wire.NetworkType
	security       Security
	assocReqIEs    []byte
	assocRespIEs   []byte

	// pendingBSSID is the last association the host tore down; acks counts
	// the DISCONNECT_CMD events still owed for host disconnect commands.
	// Both are swallowed when they arrive.
	pendingBSSID wire.MACAddr
	acks         int

	keys        [MaxKeyIndex + 1]bool
	groupKey    bool
	handshake   *time.Timer
	handshakeID uint64

	apStarted bool
	apKeys    []Key
}

// New creates a Machine in StateDisconnected.
func New(sub Submitter, sched Scheduler, config Config) *Machine {
	if config.HandshakeTimeout <= 0 {
		config.HandshakeTimeout = DefaultHandshakeTimeout
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Machine{
		sub:    sub,
		sched:  sched,
		config: config,
		logger: logger.With("component", "connection", "iface", config.Handle.Index),
		idx:    config.Handle.Index,
	}
}

// Handle returns the interface the machine drives.
func (m *Machine) Handle() vif.Handle {
	return m.config.Handle
}

// Role returns the interface role.
func (m *Machine) Role() vif.Role {
	return m.config.Role
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// SSID returns the tracked SSID.
func (m *Machine) SSID() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]byte(nil), m.ssid...)
}

// BSSID returns the tracked BSSID.
func (m *Machine) BSSID() wire.MACAddr {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.bssid
}

// Info returns a snapshot of the link.
func (m *Machine) Info() Info {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Info{
		State:          m.state,
		SSID:           append([]byte(nil), m.ssid...),
		BSSID:          m.bssid,
		Channel:        m.channel,
		BeaconInterval: m.beaconInterval,
		NetworkType:    m.netType,
		AssocReqIEs:    append([]byte(nil), m.assocReqIEs...),
		AssocRespIEs:   append([]byte(nil), m.assocRespIEs...),
		APStarted:      m.apStarted,
	}
}

// setState moves to a new state. Caller holds m.mu.
func (m *Machine) setState(to State, reason string) bool {
	from := m.state
	if !ValidTransition(from, to) {
		m.logger.Warn("refusing illegal transition", "from", from, "to", to, "reason", reason)
		return false
	}
	m.state = to
	if from != to {
		m.logger.Info("link state", "from", from, "to", to, "reason", reason)
	}
	m.config.Tracer.StateChange(log.StateEntityLink, log.IfIndex(m.idx), from.String(), to.String(), reason)
	return true
}

// clearLink forgets the association. Caller holds m.mu.
func (m *Machine) clearLink() {
	m.ssid = nil
	m.bssid = wire.MACAddr{}
	m.channel = 0
	m.beaconInterval = 0
	m.assocReqIEs = nil
	m.assocRespIEs = nil
	m.groupKey = false
	m.stopHandshakeLocked()
}

func (m *Machine) submit(ctx context.Context, op wire.Opcode, payload any, urgency command.Urgency) error {
	_, err := m.sub.Submit(ctx, command.Request{
		Opcode:    op,
		Interface: m.idx,
		Payload:   payload,
		Urgency:   urgency,
	})
	return err
}

// Connect starts an association.
func (m *Machine) Connect(ctx context.Context, p Params) error {
	if m.isAP() {
		return fmt.Errorf("connect on %s: %w: %w", m.config.Role, ErrWrongRole, fwerr.ErrInvalidParameter)
	}
	netType := wire.NetworkInfra
	if m.config.Role == vif.RoleAdHoc {
		netType = wire.NetworkAdHoc
	}
	return m.connect(ctx, p, netType)
}

// Validate checks p without contacting firmware. Every failure is
// ErrInvalidParameter.
func (p Params) Validate() error {
	if err := validateSSID(p.SSID); err != nil {
		return err
	}
	return p.Security.validate()
}

func (m *Machine) connect(ctx context.Context, p Params, netType wire.NetworkType) error {
	if err := p.Validate(); err != nil {
		return err
	}
	pairwise, _ := p.Security.Cipher.Wire()
	group, _ := p.Security.groupCipher().Wire()
	bssid := p.BSSID
	if bssid.IsBroadcast() {
		bssid = wire.MACAddr{}
	}

	m.mu.Lock()
	if m.state == StateConnected && bytes.Equal(m.ssid, p.SSID) {
		return m.reconnectLocked(ctx)
	}

	var replaced wire.MACAddr
	needDisconnect := m.state != StateDisconnected
	if needDisconnect {
		replaced = m.bssid
		m.expectAckLocked(replaced)
	}
	m.setState(StateConnecting, "connect")
	m.clearLink()
	m.ssid = append([]byte(nil), p.SSID...)
	m.bssid = bssid
	m.channel = p.Channel
	m.netType = netType
	m.security = p.Security
	m.mu.Unlock()

	fail := func(err error) error {
		m.mu.Lock()
		if m.state == StateConnecting {
			m.setState(StateDisconnected, "connect failed")
			m.clearLink()
		}
		m.mu.Unlock()
		return fmt.Errorf("connect: %w", err)
	}

	if needDisconnect {
		if err := m.submit(ctx, wire.OpDisconnect, wire.DisconnectParams{Reason: wire.ReasonUnspecified}, command.UrgencyBlock); err != nil {
			m.ackLost()
			return fail(err)
		}
	}

	if p.Security.isWEP() {
		key := p.Security.WEPKeys[p.Security.KeyIndex]
		if err := m.submit(ctx, wire.OpAddKey, wire.KeyParams{
			Index:  p.Security.KeyIndex,
			Usage:  wire.KeyUsageGroup,
			Cipher: wire.CipherWEP,
			Key:    key,
			TxKey:  true,
		}, command.UrgencyBlock); err != nil {
			return fail(err)
		}
	}

	if p.ListenInterval > 0 {
		if err := m.submit(ctx, wire.OpSetListenInterval, wire.ListenIntervalParams{Interval: p.ListenInterval}, command.UrgencyBlock); err != nil {
			return fail(err)
		}
	}

	err := m.submit(ctx, wire.OpConnect, wire.ConnectParams{
		NetworkType:    netType,
		Dot11Auth:      p.Security.dot11Auth(),
		AuthMode:       p.Security.authMode(),
		PairwiseCipher: pairwise,
		GroupCipher:    group,
		SSID:           p.SSID,
		BSSID:          bssid,
		Channel:        p.Channel,
		PMK:            p.Security.pmk(p.SSID),
	}, command.UrgencyBlock)
	if err != nil {
		return fail(err)
	}
	m.logger.Debug("connect issued", "ssid", string(p.SSID), "bssid", bssid, "replaced", replaced)
	return nil
}

// reconnectLocked re-associates with the cached BSS. Caller holds m.mu,
// which is released here.
func (m *Machine) reconnectLocked(ctx context.Context) error {
	params := wire.ReconnectParams{BSSID: m.bssid, Channel: m.channel}
	m.setState(StateConnecting, "reconnect")
	m.stopHandshakeLocked()
	m.mu.Unlock()

	if err := m.submit(ctx, wire.OpReconnect, params, command.UrgencyBlock); err != nil {
		m.mu.Lock()
		if m.state == StateConnecting {
			m.setState(StateDisconnected, "reconnect failed")
			m.clearLink()
		}
		m.mu.Unlock()
		return fmt.Errorf("reconnect: %w", err)
	}
	return nil
}

// Disconnect drops the link. The disconnect command is skipped when reason
// says firmware has already torn the association down.
func (m *Machine) Disconnect(ctx context.Context, reason wire.DisconnectReason) error {
	return m.disconnect(ctx, reason, command.UrgencyBlock)
}

func (m *Machine) disconnect(ctx context.Context, reason wire.DisconnectReason, urgency command.Urgency) error {
	m.mu.Lock()
	if m.state == StateDisconnected {
		m.mu.Unlock()
		return nil
	}
	prev := m.state
	ssid := m.ssid
	bssid := m.bssid
	channel := m.channel
	m.setState(StateDisconnected, "disconnect "+reason.String())
	m.clearLink()
	sendCmd := !reason.FirmwareDisconnected()
	if sendCmd {
		m.expectAckLocked(bssid)
	}
	m.mu.Unlock()

	var err error
	if sendCmd {
		err = m.submit(ctx, wire.OpDisconnect, wire.DisconnectParams{Reason: reason}, urgency)
		if err != nil {
			m.ackLost()
			m.logger.Warn("disconnect command failed", "error", err)
			err = fmt.Errorf("disconnect: %w", err)
		}
	}

	cb := m.config.Callbacks
	if prev == StateConnecting && cb.OnConnected != nil {
		cb.OnConnected(m.config.Handle, ConnectResult{SSID: ssid, BSSID: bssid, Channel: channel, Reason: reason})
	} else if prev == StateConnected && cb.OnDisconnected != nil {
		cb.OnDisconnected(m.config.Handle, reason)
	}
	return err
}

// HandleConnect processes a connect event.
func (m *Machine) HandleConnect(info wire.ConnectInfo) {
	m.mu.Lock()
	switch m.state {
	case StateConnected:
		m.mu.Unlock()
		m.HandleRoam(info)
		return
	case StateDisconnected:
		m.mu.Unlock()
		m.logger.Warn("dropping connect event while disconnected", "bssid", info.BSSID)
		return
	}

	m.setState(StateConnected, "connect event")
	if info.BSSID == m.pendingBSSID {
		m.pendingBSSID = wire.MACAddr{}
	}
	m.bssid = info.BSSID
	m.channel = info.Channel
	m.beaconInterval = info.BeaconInterval
	if info.NetworkType != 0 {
		m.netType = info.NetworkType
	}
	m.assocReqIEs = append([]byte(nil), info.AssocReqIEs...)
	m.assocRespIEs = append([]byte(nil), info.AssocRespIEs...)
	if m.security.Auth.IsPSK() && m.netType == wire.NetworkInfra {
		m.armHandshakeLocked()
	}
	result := ConnectResult{
		Success: true,
		SSID:    append([]byte(nil), m.ssid...),
		BSSID:   m.bssid,
		Channel: m.channel,
	}
	m.mu.Unlock()

	if m.config.Capabilities.BmissEnhance && m.netType == wire.NetworkInfra {
		m.sched.Schedule("bmiss-enhance", func(ctx context.Context) {
			if err := m.submit(ctx, wire.OpSetBmissEnhance, wire.BmissEnhanceParams{Enable: true}, command.UrgencyBlock); err != nil {
				m.logger.Warn("enable enhanced idle detection failed", "error", err)
			}
		})
	}

	if cb := m.config.Callbacks.OnConnected; cb != nil {
		cb(m.config.Handle, result)
	}
}

// HandleRoam processes a roam event. Only a connected link roams.
func (m *Machine) HandleRoam(info wire.ConnectInfo) {
	m.mu.Lock()
	if m.state != StateConnected {
		m.mu.Unlock()
		m.logger.Warn("dropping roam event", "state", m.State(), "bssid", info.BSSID)
		return
	}
	m.setState(StateConnected, "roam")
	m.bssid = info.BSSID
	if info.Channel != 0 {
		m.channel = info.Channel
	}
	if info.BeaconInterval != 0 {
		m.beaconInterval = info.BeaconInterval
	}
	m.assocReqIEs = append([]byte(nil), info.AssocReqIEs...)
	m.assocRespIEs = append([]byte(nil), info.AssocRespIEs...)
	bssid, channel := m.bssid, m.channel
	m.mu.Unlock()

	if cb := m.config.Callbacks.OnRoamed; cb != nil {
		cb(m.config.Handle, bssid, channel)
	}
}

// HandleDisconnect processes a disconnect event.
func (m *Machine) HandleDisconnect(info wire.DisconnectInfo) {
	if m.isAP() {
		m.handleAPDisconnect(info)
		return
	}

	m.mu.Lock()
	if m.ackLocked(info) {
		m.mu.Unlock()
		m.logger.Debug("dropping disconnect acknowledging host command", "bssid", info.BSSID, "reason", info.Reason)
		return
	}
	if !info.BSSID.IsZero() && !m.bssid.IsZero() && info.BSSID != m.bssid {
		m.mu.Unlock()
		m.logger.Debug("dropping stale disconnect", "bssid", info.BSSID, "current", m.BSSID(), "reason", info.Reason)
		return
	}

	prev := m.state
	ssid, bssid, channel := m.ssid, m.bssid, m.channel
	if prev != StateDisconnected {
		m.setState(StateDisconnected, "disconnect event "+info.Reason.String())
		m.clearLink()
	}
	m.mu.Unlock()

	// Firmware keeps retrying after a disconnect it initiated until told
	// to stop.
	if info.Reason != wire.ReasonDisconnectCmd {
		m.mu.Lock()
		m.expectAckLocked(bssid)
		m.mu.Unlock()
		m.sched.Schedule("disconnect-after-event", func(ctx context.Context) {
			if err := m.submit(ctx, wire.OpDisconnect, wire.DisconnectParams{Reason: wire.ReasonDisconnectCmd}, command.UrgencyBlock); err != nil {
				m.ackLost()
				m.logger.Warn("follow-up disconnect failed", "error", err)
			}
		})
	}

	cb := m.config.Callbacks
	switch prev {
	case StateConnecting:
		if cb.OnConnected != nil {
			cb.OnConnected(m.config.Handle, ConnectResult{SSID: ssid, BSSID: info.BSSID, Channel: channel, Reason: info.Reason})
		}
	case StateConnected:
		if cb.OnDisconnected != nil {
			cb.OnDisconnected(m.config.Handle, info.Reason)
		}
	}
}

// Stop tears the link down for interface stop or device teardown. Commands
// are fail-fast; the local state is dropped even when they fail.
func (m *Machine) Stop(ctx context.Context) {
	if m.isAP() {
		_ = m.stopAP(ctx, command.UrgencyFailFast)
		return
	}

	m.mu.Lock()
	active := m.state != StateDisconnected
	m.mu.Unlock()

	if active {
		m.mu.Lock()
		m.expectAckLocked(m.bssid)
		m.mu.Unlock()
		if err := m.submit(ctx, wire.OpDisconnect, wire.DisconnectParams{Reason: wire.ReasonUnspecified}, command.UrgencyFailFast); err != nil {
			m.ackLost()
			m.logger.Debug("stop: disconnect command skipped", "error", err)
		}
		_ = m.disconnect(ctx, wire.ReasonDisconnectCmd, command.UrgencyFailFast)
		if m.config.Capabilities.BmissEnhance {
			if err := m.submit(ctx, wire.OpSetBmissEnhance, wire.BmissEnhanceParams{Enable: false}, command.UrgencyFailFast); err != nil {
				m.logger.Debug("stop: bmiss enhance disable skipped", "error", err)
			}
		}
	}

	m.mu.Lock()
	m.stopHandshakeLocked()
	m.mu.Unlock()
}

// expectAckLocked records that a host disconnect command is about to be
// sent for bssid. Caller holds m.mu.
func (m *Machine) expectAckLocked(bssid wire.MACAddr) {
	m.acks++
	if !bssid.IsZero() {
		m.pendingBSSID = bssid
	}
}

// ackLost undoes expectAckLocked when the command never reached firmware.
func (m *Machine) ackLost() {
	m.mu.Lock()
	if m.acks > 0 {
		m.acks--
	}
	m.mu.Unlock()
}

// ackLocked consumes a disconnect event owed to a host command. Caller
// holds m.mu.
func (m *Machine) ackLocked(info wire.DisconnectInfo) bool {
	if info.Reason == wire.ReasonDisconnectCmd && m.acks > 0 {
		m.acks--
		if info.BSSID == m.pendingBSSID || m.acks == 0 {
			m.pendingBSSID = wire.MACAddr{}
		}
		return true
	}
	if !m.pendingBSSID.IsZero() && info.BSSID == m.pendingBSSID {
		m.pendingBSSID = wire.MACAddr{}
		return true
	}
	return false
}

// armHandshakeLocked starts the group key timer. Caller holds m.mu.
func (m *Machine) armHandshakeLocked() {
	m.stopHandshakeLocked()
	m.groupKey = false
	m.handshakeID++
	id := m.handshakeID
	m.handshake = time.AfterFunc(m.config.HandshakeTimeout, func() {
		m.sched.Schedule("handshake-timeout", func(ctx context.Context) {
			m.handshakeExpired(ctx, id)
		})
	})
}

func (m *Machine) stopHandshakeLocked() {
	if m.handshake != nil {
		m.handshake.Stop()
		m.handshake = nil
	}
}

func (m *Machine) handshakeExpired(ctx context.Context, id uint64) {
	m.mu.Lock()
	if id != m.handshakeID {
		m.mu.Unlock()
		return
	}
	expired := m.handshake != nil && !m.groupKey && m.state == StateConnected
	m.handshake = nil
	m.mu.Unlock()
	if !expired {
		return
	}
	m.logger.Warn("group key not installed in time, disconnecting", "timeout", m.config.HandshakeTimeout)
	_ = m.Disconnect(ctx, wire.ReasonAuthFailed)
}

// HandshakePending reports whether the group key timer is armed.
func (m *Machine) HandshakePending() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.handshake != nil
}
