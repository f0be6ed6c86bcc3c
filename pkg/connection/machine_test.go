package connection

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/wlanfw/wlanfw-go/pkg/command"
	"github.com/wlanfw/wlanfw-go/pkg/event"
	"github.com/wlanfw/wlanfw-go/pkg/fwerr"
	"github.com/wlanfw/wlanfw-go/pkg/vif"
	"github.com/wlanfw/wlanfw-go/pkg/wire"
)

type mockSubmitter struct {
	mock.Mock
}

func (m *mockSubmitter) Submit(ctx context.Context, req command.Request) (command.Response, error) {
	args := m.Called(ctx, req)
	return command.Response{}, args.Error(0)
}

func (m *mockSubmitter) opcodes() []wire.Opcode {
	var ops []wire.Opcode
	for _, c := range m.Calls {
		ops = append(ops, c.Arguments.Get(1).(command.Request).Opcode)
	}
	return ops
}

func (m *mockSubmitter) count(op wire.Opcode) int {
	n := 0
	for _, o := range m.opcodes() {
		if o == op {
			n++
		}
	}
	return n
}

func (m *mockSubmitter) request(op wire.Opcode) command.Request {
	for _, c := range m.Calls {
		if req := c.Arguments.Get(1).(command.Request); req.Opcode == op {
			return req
		}
	}
	return command.Request{}
}

func op(o wire.Opcode) any {
	return mock.MatchedBy(func(req command.Request) bool { return req.Opcode == o })
}

// queueScheduler holds scheduled work until the test runs it.
type queueScheduler struct {
	mu    sync.Mutex
	names []string
	work  []event.WorkFunc
}

func (q *queueScheduler) Schedule(name string, fn event.WorkFunc) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.names = append(q.names, name)
	q.work = append(q.work, fn)
}

func (q *queueScheduler) Names() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]string(nil), q.names...)
}

func (q *queueScheduler) RunAll() {
	q.mu.Lock()
	work := q.work
	q.work = nil
	q.mu.Unlock()
	for _, fn := range work {
		fn(context.Background())
	}
}

type recorder struct {
	mu           sync.Mutex
	connected    []ConnectResult
	disconnected []wire.DisconnectReason
	roamed       []wire.MACAddr
}

func (r *recorder) callbacks() Callbacks {
	return Callbacks{
		OnConnected: func(_ vif.Handle, res ConnectResult) {
			r.mu.Lock()
			r.connected = append(r.connected, res)
			r.mu.Unlock()
		},
		OnDisconnected: func(_ vif.Handle, reason wire.DisconnectReason) {
			r.mu.Lock()
			r.disconnected = append(r.disconnected, reason)
			r.mu.Unlock()
		},
		OnRoamed: func(_ vif.Handle, bssid wire.MACAddr, _ uint16) {
			r.mu.Lock()
			r.roamed = append(r.roamed, bssid)
			r.mu.Unlock()
		},
	}
}

var (
	bss1 = wire.MACAddr{0x00, 0x11, 0x22, 0x33, 0x44, 0x01}
	bss2 = wire.MACAddr{0x00, 0x11, 0x22, 0x33, 0x44, 0x02}
)

type fixture struct {
	sub   *mockSubmitter
	sched *queueScheduler
	rec   *recorder
	m     *Machine
}

func newFixture(t *testing.T, role vif.Role, caps wire.Capabilities) *fixture {
	t.Helper()
	f := &fixture{sub: &mockSubmitter{}, sched: &queueScheduler{}, rec: &recorder{}}
	f.sub.On("Submit", mock.Anything, mock.Anything).Return(nil).Maybe()
	f.m = New(f.sub, f.sched, Config{
		Handle:       vif.Handle{Index: 0, Gen: 1},
		Role:         role,
		Capabilities: caps,
		Callbacks:    f.rec.callbacks(),
	})
	return f
}

func openParams(ssid string) Params {
	return Params{SSID: []byte(ssid)}
}

func (f *fixture) connect(t *testing.T, ssid string, bssid wire.MACAddr) {
	t.Helper()
	require.NoError(t, f.m.Connect(context.Background(), openParams(ssid)))
	f.m.HandleConnect(wire.ConnectInfo{BSSID: bssid, Channel: 2437, BeaconInterval: 100})
	require.Equal(t, StateConnected, f.m.State())
}

func TestValidTransition(t *testing.T) {
	tests := []struct {
		from, to State
		want     bool
	}{
		{StateDisconnected, StateConnecting, true},
		{StateDisconnected, StateConnected, false},
		{StateDisconnected, StateDisconnected, false},
		{StateConnecting, StateConnected, true},
		{StateConnecting, StateDisconnected, true},
		{StateConnected, StateConnected, true},
		{StateConnected, StateConnecting, true},
		{StateConnected, StateDisconnected, true},
	}
	for _, tt := range tests {
		if got := ValidTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("ValidTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestConnectLifecycle(t *testing.T) {
	f := newFixture(t, vif.RoleStation, wire.Capabilities{})

	require.NoError(t, f.m.Connect(context.Background(), Params{SSID: []byte("home"), Channel: 2412}))
	assert.Equal(t, StateConnecting, f.m.State())
	assert.Equal(t, []wire.Opcode{wire.OpConnect}, f.sub.opcodes())

	f.m.HandleConnect(wire.ConnectInfo{BSSID: bss1, Channel: 2412, AssocRespIEs: []byte{0xdd, 0x01}})
	assert.Equal(t, StateConnected, f.m.State())
	assert.Equal(t, bss1, f.m.BSSID())
	assert.Equal(t, []byte{0xdd, 0x01}, f.m.Info().AssocRespIEs)
	require.Len(t, f.rec.connected, 1)
	assert.True(t, f.rec.connected[0].Success)
	assert.Equal(t, []byte("home"), f.rec.connected[0].SSID)
}

func TestConnectValidation(t *testing.T) {
	tests := []struct {
		name   string
		params Params
	}{
		{"empty ssid", Params{}},
		{"long ssid", Params{SSID: make([]byte, 33)}},
		{"key index", Params{SSID: []byte("x"), Security: Security{KeyIndex: 4}}},
		{"unsupported cipher", Params{SSID: []byte("x"), Security: Security{Auth: AuthWPA2PSK, Cipher: CipherGCMP, Passphrase: "password"}}},
		{"short passphrase", Params{SSID: []byte("x"), Security: Security{Auth: AuthWPA2PSK, Cipher: CipherCCMP, Passphrase: "short"}}},
		{"long passphrase", Params{SSID: []byte("x"), Security: Security{Auth: AuthWPA2PSK, Cipher: CipherCCMP, Passphrase: string(make([]byte, 64))}}},
		{"bad psk", Params{SSID: []byte("x"), Security: Security{Auth: AuthWPAPSK, Cipher: CipherTKIP, PSK: make([]byte, 16)}}},
		{"wep without key", Params{SSID: []byte("x"), Security: Security{Cipher: CipherWEP40}}},
		{"wep bad length", Params{SSID: []byte("x"), Security: Security{Cipher: CipherWEP40, WEPKeys: [][]byte{{1, 2, 3}}}}},
		{"shared without wep", Params{SSID: []byte("x"), Security: Security{Auth: AuthShared}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, vif.RoleStation, wire.Capabilities{})
			err := f.m.Connect(context.Background(), tt.params)
			assert.ErrorIs(t, err, fwerr.ErrInvalidParameter)
			assert.Empty(t, f.sub.Calls, "no command may be submitted")
			assert.Equal(t, StateDisconnected, f.m.State())
		})
	}
}

func TestConnectOnAPRefused(t *testing.T) {
	f := newFixture(t, vif.RoleAP, wire.Capabilities{})
	err := f.m.Connect(context.Background(), openParams("x"))
	assert.ErrorIs(t, err, ErrWrongRole)
	assert.ErrorIs(t, err, fwerr.ErrInvalidParameter)
}

func TestConnectPSKCarriesPMK(t *testing.T) {
	f := newFixture(t, vif.RoleStation, wire.Capabilities{})
	sec := Security{Auth: AuthWPA2PSK, Cipher: CipherCCMP, Passphrase: "correct horse"}

	require.NoError(t, f.m.Connect(context.Background(), Params{SSID: []byte("lab"), Security: sec}))
	params := f.sub.request(wire.OpConnect).Payload.(wire.ConnectParams)
	assert.Equal(t, wire.AuthWPA2PSK, params.AuthMode)
	assert.Equal(t, wire.CipherAES, params.PairwiseCipher)
	assert.Equal(t, DerivePMK("correct horse", []byte("lab")), params.PMK)
	assert.Len(t, params.PMK, PMKLen)
}

func TestConnectIgnoresBroadcastBSSID(t *testing.T) {
	f := newFixture(t, vif.RoleStation, wire.Capabilities{})
	require.NoError(t, f.m.Connect(context.Background(), Params{SSID: []byte("x"), BSSID: wire.BroadcastMAC}))
	params := f.sub.request(wire.OpConnect).Payload.(wire.ConnectParams)
	assert.True(t, params.BSSID.IsZero())
}

func TestConnectWEPInstallsKeyFirst(t *testing.T) {
	f := newFixture(t, vif.RoleStation, wire.Capabilities{})
	sec := Security{Cipher: CipherWEP104, WEPKeys: [][]byte{make([]byte, 13), make([]byte, 13)}, KeyIndex: 1}

	require.NoError(t, f.m.Connect(context.Background(), Params{SSID: []byte("old"), Security: sec}))
	assert.Equal(t, []wire.Opcode{wire.OpAddKey, wire.OpConnect}, f.sub.opcodes())
	key := f.sub.request(wire.OpAddKey).Payload.(wire.KeyParams)
	assert.Equal(t, uint8(1), key.Index)
	assert.Equal(t, wire.CipherWEP, key.Cipher)
}

func TestConnectFailureRollsBack(t *testing.T) {
	sub := &mockSubmitter{}
	sub.On("Submit", mock.Anything, op(wire.OpConnect)).Return(fwerr.New("CONNECT", fwerr.ErrTimeout))
	m := New(sub, &queueScheduler{}, Config{Handle: vif.Handle{Gen: 1}})

	err := m.Connect(context.Background(), openParams("home"))
	assert.ErrorIs(t, err, fwerr.ErrTimeout)
	assert.Equal(t, StateDisconnected, m.State())
	assert.Empty(t, m.SSID())
}

func TestReconnectSameSSID(t *testing.T) {
	f := newFixture(t, vif.RoleStation, wire.Capabilities{})
	f.connect(t, "home", bss1)
	f.sub.Calls = nil

	require.NoError(t, f.m.Connect(context.Background(), openParams("home")))
	assert.Equal(t, StateConnecting, f.m.State())
	assert.Equal(t, 1, f.sub.count(wire.OpReconnect))
	assert.Equal(t, 0, f.sub.count(wire.OpConnect))
	assert.Equal(t, 0, f.sub.count(wire.OpDisconnect))

	params := f.sub.request(wire.OpReconnect).Payload.(wire.ReconnectParams)
	assert.Equal(t, bss1, params.BSSID)
	assert.Equal(t, uint16(2437), params.Channel)
}

func TestConnectDifferentSSIDDisconnectsFirst(t *testing.T) {
	f := newFixture(t, vif.RoleStation, wire.Capabilities{})
	f.connect(t, "home", bss1)
	f.sub.Calls = nil

	require.NoError(t, f.m.Connect(context.Background(), openParams("office")))
	assert.Equal(t, []wire.Opcode{wire.OpDisconnect, wire.OpConnect}, f.sub.opcodes())

	// The old association's disconnect arrives late and is swallowed.
	f.m.HandleDisconnect(wire.DisconnectInfo{Reason: wire.ReasonDisconnectCmd, BSSID: bss1})
	assert.Equal(t, StateConnecting, f.m.State())
	assert.Equal(t, []byte("office"), f.m.SSID())
	assert.Empty(t, f.rec.disconnected)

	f.m.HandleConnect(wire.ConnectInfo{BSSID: bss2})
	assert.Equal(t, StateConnected, f.m.State())
}

func TestDisconnectSendsCommandUnlessFirmwareReason(t *testing.T) {
	tests := []struct {
		reason  wire.DisconnectReason
		command bool
	}{
		{wire.ReasonUnspecified, true},
		{wire.ReasonAuthFailed, true},
		{wire.ReasonDisconnectCmd, false},
		{wire.ReasonLostLink, false},
		{wire.ReasonBSSDisconnected, false},
		{wire.ReasonNoNetworkAvail, false},
	}
	for _, tt := range tests {
		t.Run(tt.reason.String(), func(t *testing.T) {
			f := newFixture(t, vif.RoleStation, wire.Capabilities{})
			f.connect(t, "home", bss1)
			f.sub.Calls = nil

			require.NoError(t, f.m.Disconnect(context.Background(), tt.reason))
			assert.Equal(t, StateDisconnected, f.m.State())
			assert.Empty(t, f.m.SSID())
			assert.True(t, f.m.BSSID().IsZero())
			assert.Equal(t, []wire.DisconnectReason{tt.reason}, f.rec.disconnected)
			if tt.command {
				assert.Equal(t, 1, f.sub.count(wire.OpDisconnect))
			} else {
				assert.Empty(t, f.sub.Calls)
			}
		})
	}
}

func TestDisconnectWhileDisconnectedIsNoop(t *testing.T) {
	f := newFixture(t, vif.RoleStation, wire.Capabilities{})
	require.NoError(t, f.m.Disconnect(context.Background(), wire.ReasonUnspecified))
	assert.Empty(t, f.sub.Calls)
	assert.Empty(t, f.rec.disconnected)
}

func TestDisconnectEventFromConnecting(t *testing.T) {
	f := newFixture(t, vif.RoleStation, wire.Capabilities{})
	require.NoError(t, f.m.Connect(context.Background(), openParams("home")))

	f.m.HandleDisconnect(wire.DisconnectInfo{Reason: wire.ReasonNoNetworkAvail})
	assert.Equal(t, StateDisconnected, f.m.State())
	assert.Empty(t, f.m.SSID())
	require.Len(t, f.rec.connected, 1)
	assert.False(t, f.rec.connected[0].Success)
	assert.Equal(t, wire.ReasonNoNetworkAvail, f.rec.connected[0].Reason)

	// Firmware is told to stop retrying.
	assert.Equal(t, []string{"disconnect-after-event"}, f.sched.Names())
	f.sched.RunAll()
	assert.Equal(t, 1, f.sub.count(wire.OpDisconnect))

	// Its acknowledgement is swallowed.
	f.m.HandleDisconnect(wire.DisconnectInfo{Reason: wire.ReasonDisconnectCmd})
	assert.Len(t, f.sched.Names(), 1)
}

func TestDisconnectEventFromConnected(t *testing.T) {
	f := newFixture(t, vif.RoleStation, wire.Capabilities{})
	f.connect(t, "home", bss1)

	f.m.HandleDisconnect(wire.DisconnectInfo{Reason: wire.ReasonLostLink, BSSID: bss1})
	assert.Equal(t, StateDisconnected, f.m.State())
	assert.Equal(t, []wire.DisconnectReason{wire.ReasonLostLink}, f.rec.disconnected)
}

func TestStaleDisconnectDropped(t *testing.T) {
	f := newFixture(t, vif.RoleStation, wire.Capabilities{})
	f.connect(t, "home", bss1)

	f.m.HandleDisconnect(wire.DisconnectInfo{Reason: wire.ReasonLostLink, BSSID: bss2})
	assert.Equal(t, StateConnected, f.m.State())
	assert.Empty(t, f.rec.disconnected)
	assert.Empty(t, f.sched.Names())
}

func TestRoam(t *testing.T) {
	f := newFixture(t, vif.RoleStation, wire.Capabilities{})
	f.connect(t, "home", bss1)

	f.m.HandleRoam(wire.ConnectInfo{BSSID: bss2, Channel: 5180, AssocReqIEs: []byte{1}})
	assert.Equal(t, StateConnected, f.m.State())
	assert.Equal(t, bss2, f.m.BSSID())
	assert.Equal(t, uint16(5180), f.m.Info().Channel)
	assert.Equal(t, []wire.MACAddr{bss2}, f.rec.roamed)

	// A connect event while connected is a roam too.
	f.m.HandleConnect(wire.ConnectInfo{BSSID: bss1})
	assert.Equal(t, []wire.MACAddr{bss2, bss1}, f.rec.roamed)
	assert.Len(t, f.rec.connected, 1)
}

func TestRoamWhileNotConnectedDropped(t *testing.T) {
	f := newFixture(t, vif.RoleStation, wire.Capabilities{})
	f.m.HandleRoam(wire.ConnectInfo{BSSID: bss1})
	assert.Equal(t, StateDisconnected, f.m.State())
	assert.Empty(t, f.rec.roamed)
}

func TestBmissEnhanceScheduled(t *testing.T) {
	f := newFixture(t, vif.RoleStation, wire.Capabilities{BmissEnhance: true})
	f.connect(t, "home", bss1)

	assert.Equal(t, []string{"bmiss-enhance"}, f.sched.Names())
	f.sched.RunAll()
	assert.Equal(t, 1, f.sub.count(wire.OpSetBmissEnhance))
}

func TestHandshakeTimeout(t *testing.T) {
	sub := &mockSubmitter{}
	sub.On("Submit", mock.Anything, mock.Anything).Return(nil)
	sched := &queueScheduler{}
	rec := &recorder{}
	m := New(sub, sched, Config{
		Handle:           vif.Handle{Gen: 1},
		HandshakeTimeout: 10 * time.Millisecond,
		Callbacks:        rec.callbacks(),
	})
	sec := Security{Auth: AuthWPA2PSK, Cipher: CipherCCMP, PSK: make([]byte, 32)}

	require.NoError(t, m.Connect(context.Background(), Params{SSID: []byte("lab"), Security: sec}))
	m.HandleConnect(wire.ConnectInfo{BSSID: bss1})
	assert.True(t, m.HandshakePending())

	require.Eventually(t, func() bool {
		for _, n := range sched.Names() {
			if n == "handshake-timeout" {
				return true
			}
		}
		return false
	}, time.Second, time.Millisecond)
	sched.RunAll()

	assert.Equal(t, StateDisconnected, m.State())
	assert.Equal(t, []wire.DisconnectReason{wire.ReasonAuthFailed}, rec.disconnected)
}

func TestGroupKeyCancelsHandshakeTimer(t *testing.T) {
	f := newFixture(t, vif.RoleStation, wire.Capabilities{})
	sec := Security{Auth: AuthWPA2PSK, Cipher: CipherCCMP, PSK: make([]byte, 32)}
	require.NoError(t, f.m.Connect(context.Background(), Params{SSID: []byte("lab"), Security: sec}))
	f.m.HandleConnect(wire.ConnectInfo{BSSID: bss1})
	require.True(t, f.m.HandshakePending())

	require.NoError(t, f.m.AddKey(context.Background(), Key{Index: 1, Cipher: CipherCCMP, Material: make([]byte, 16)}))
	assert.False(t, f.m.HandshakePending())
}

func TestStaleHandshakeExpiryIgnored(t *testing.T) {
	f := newFixture(t, vif.RoleStation, wire.Capabilities{})
	sec := Security{Auth: AuthWPA2PSK, Cipher: CipherCCMP, PSK: make([]byte, 32)}
	require.NoError(t, f.m.Connect(context.Background(), Params{SSID: []byte("lab"), Security: sec}))
	f.m.HandleConnect(wire.ConnectInfo{BSSID: bss1})

	f.m.mu.Lock()
	current := f.m.handshakeID
	f.m.mu.Unlock()

	f.m.handshakeExpired(context.Background(), current-1)
	assert.True(t, f.m.HandshakePending(), "an older timer must not disarm the current one")
	assert.Equal(t, StateConnected, f.m.State())

	f.m.handshakeExpired(context.Background(), current)
	assert.False(t, f.m.HandshakePending())
	assert.Equal(t, StateDisconnected, f.m.State())
}

func TestStopDisconnectsFailFast(t *testing.T) {
	f := newFixture(t, vif.RoleStation, wire.Capabilities{BmissEnhance: true})
	f.connect(t, "home", bss1)
	f.sub.Calls = nil

	f.m.Stop(context.Background())
	assert.Equal(t, StateDisconnected, f.m.State())
	assert.Equal(t, []wire.Opcode{wire.OpDisconnect, wire.OpSetBmissEnhance}, f.sub.opcodes())
	for _, c := range f.sub.Calls {
		assert.Equal(t, command.UrgencyFailFast, c.Arguments.Get(1).(command.Request).Urgency)
	}
	assert.Equal(t, []wire.DisconnectReason{wire.ReasonDisconnectCmd}, f.rec.disconnected)
}

func TestJoinIBSS(t *testing.T) {
	f := newFixture(t, vif.RoleAdHoc, wire.Capabilities{})

	err := f.m.JoinIBSS(context.Background(), IBSSParams{SSID: []byte("mesh"), Channel: 2412, ChannelFixed: true})
	assert.ErrorIs(t, err, fwerr.ErrInvalidParameter)
	assert.Empty(t, f.sub.Calls)

	require.NoError(t, f.m.JoinIBSS(context.Background(), IBSSParams{SSID: []byte("mesh"), Channel: 2412}))
	params := f.sub.request(wire.OpConnect).Payload.(wire.ConnectParams)
	assert.Equal(t, wire.NetworkAdHoc, params.NetworkType)

	f.m.HandleConnect(wire.ConnectInfo{BSSID: bss1})
	require.NoError(t, f.m.LeaveIBSS(context.Background()))
	assert.Equal(t, StateDisconnected, f.m.State())
}
