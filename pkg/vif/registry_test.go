package vif

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/wlanfw/wlanfw-go/pkg/command"
	"github.com/wlanfw/wlanfw-go/pkg/fwerr"
	"github.com/wlanfw/wlanfw-go/pkg/wire"
)

type mockSubmitter struct {
	mock.Mock
}

func (m *mockSubmitter) Submit(ctx context.Context, req command.Request) (command.Response, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(command.Response), args.Error(1)
}

func opcode(op wire.Opcode) any {
	return mock.MatchedBy(func(req command.Request) bool { return req.Opcode == op })
}

var baseMAC = wire.MACAddr{0x00, 0x03, 0x7f, 0x11, 0x22, 0x33}

func newRegistry(t *testing.T, sub Submitter, caps wire.Capabilities, max uint8) *Registry {
	t.Helper()
	r := New(sub, Config{ReadyTimeout: 100 * time.Millisecond})
	r.Configure(wire.ReadyInfo{MAC: baseMAC, MaxInterfaces: max, Capabilities: caps})
	_, err := r.AddDefault(RoleStation)
	require.NoError(t, err)
	return r
}

func TestDeriveMAC(t *testing.T) {
	tests := []struct {
		idx  uint8
		want wire.MACAddr
	}{
		{0, baseMAC},
		{1, wire.MACAddr{0x02, 0x03, 0x7f, 0x11, 0x22, 0x33}},
		{2, wire.MACAddr{0x06, 0x03, 0x7f, 0x11, 0x22, 0x33}},
		{3, wire.MACAddr{0x0a, 0x03, 0x7f, 0x11, 0x22, 0x33}},
	}
	for _, tt := range tests {
		if got := DeriveMAC(baseMAC, tt.idx); got != tt.want {
			t.Errorf("DeriveMAC(%d) = %s, want %s", tt.idx, got, tt.want)
		}
	}
}

func TestAddDefault(t *testing.T) {
	r := newRegistry(t, &mockSubmitter{}, wire.Capabilities{}, 2)

	h, ok := r.Lookup(0)
	require.True(t, ok)
	iface, err := r.Get(h)
	require.NoError(t, err)
	assert.Equal(t, RoleStation, iface.Role)
	assert.Equal(t, baseMAC, iface.MAC)
	assert.Equal(t, 1, r.Len())
}

func TestAddWaitsForInterfaceReady(t *testing.T) {
	sub := &mockSubmitter{}
	r := newRegistry(t, sub, wire.Capabilities{}, 3)

	sub.On("Submit", mock.Anything, opcode(wire.OpCreateInterface)).
		Run(func(args mock.Arguments) {
			req := args.Get(1).(command.Request)
			params := req.Payload.(wire.CreateInterfaceParams)
			go r.HandleInterfaceReady(wire.InterfaceReadyInfo{Index: params.Index})
		}).
		Return(command.Response{}, nil).Once()

	h, err := r.Add(context.Background(), RoleAP)
	require.NoError(t, err)
	assert.Equal(t, uint8(1), h.Index)

	iface, err := r.Get(h)
	require.NoError(t, err)
	assert.Equal(t, RoleAP, iface.Role)
	assert.Equal(t, DeriveMAC(baseMAC, 1), iface.MAC)
	assert.Equal(t, 2, r.Len())
	sub.AssertExpectations(t)

	req := sub.Calls[0].Arguments.Get(1).(command.Request)
	assert.Equal(t, wire.NetworkAP, req.Payload.(wire.CreateInterfaceParams).NetworkType)
}

func TestAddTimeoutRollsBack(t *testing.T) {
	sub := &mockSubmitter{}
	r := newRegistry(t, sub, wire.Capabilities{}, 2)
	sub.On("Submit", mock.Anything, opcode(wire.OpCreateInterface)).Return(command.Response{}, nil)

	_, err := r.Add(context.Background(), RoleStation)
	assert.ErrorIs(t, err, fwerr.ErrTimeout)
	assert.Equal(t, 1, r.Len())
	_, ok := r.Lookup(1)
	assert.False(t, ok)
}

func TestAddCommandFailureRollsBack(t *testing.T) {
	sub := &mockSubmitter{}
	r := newRegistry(t, sub, wire.Capabilities{}, 2)
	sub.On("Submit", mock.Anything, opcode(wire.OpCreateInterface)).
		Return(command.Response{}, fwerr.New("CREATE_INTERFACE", fwerr.ErrBusy))

	_, err := r.Add(context.Background(), RoleStation)
	assert.ErrorIs(t, err, fwerr.ErrBusy)
	assert.Equal(t, 1, r.Len())
}

func TestAddAbort(t *testing.T) {
	errTeardown := errors.New("teardown")

	t.Run("before any command", func(t *testing.T) {
		sub := &mockSubmitter{}
		r := New(sub, Config{
			ReadyTimeout: time.Second,
			Abort:        func() error { return errTeardown },
		})
		r.Configure(wire.ReadyInfo{MAC: baseMAC, MaxInterfaces: 2})

		_, err := r.Add(context.Background(), RoleStation)
		assert.ErrorIs(t, err, errTeardown)
		assert.Zero(t, r.Len())
		sub.AssertNotCalled(t, "Submit", mock.Anything, mock.Anything)
	})

	t.Run("while waiting for ready", func(t *testing.T) {
		sub := &mockSubmitter{}
		var aborted atomic.Bool
		r := New(sub, Config{
			ReadyTimeout: time.Second,
			Abort: func() error {
				if aborted.Load() {
					return errTeardown
				}
				return nil
			},
		})
		r.Configure(wire.ReadyInfo{MAC: baseMAC, MaxInterfaces: 2})
		_, err := r.AddDefault(RoleStation)
		require.NoError(t, err)
		sub.On("Submit", mock.Anything, opcode(wire.OpCreateInterface)).
			Run(func(mock.Arguments) { aborted.Store(true) }).
			Return(command.Response{}, nil)

		start := time.Now()
		_, err = r.Add(context.Background(), RoleStation)
		assert.ErrorIs(t, err, errTeardown)
		assert.Less(t, time.Since(start), 500*time.Millisecond)
		assert.Equal(t, 1, r.Len())
	})
}

func TestAddCapacity(t *testing.T) {
	r := newRegistry(t, &mockSubmitter{}, wire.Capabilities{}, 1)

	_, err := r.Add(context.Background(), RoleStation)
	assert.ErrorIs(t, err, fwerr.ErrBusy)
}

func TestAdHocExclusive(t *testing.T) {
	sub := &mockSubmitter{}
	r := newRegistry(t, sub, wire.Capabilities{AdHocExclusive: true}, 3)

	_, err := r.Add(context.Background(), RoleAdHoc)
	assert.ErrorIs(t, err, fwerr.ErrInvalidParameter)
	sub.AssertNotCalled(t, "Submit", mock.Anything, mock.Anything)

	// Once only an ad-hoc interface exists, nothing else may join it.
	ad := New(sub, Config{})
	ad.Configure(wire.ReadyInfo{MAC: baseMAC, MaxInterfaces: 3, Capabilities: wire.Capabilities{AdHocExclusive: true}})
	_, err = ad.AddDefault(RoleAdHoc)
	require.NoError(t, err)
	_, err = ad.Add(context.Background(), RoleStation)
	assert.ErrorIs(t, err, fwerr.ErrInvalidParameter)
}

func TestP2PIndexRange(t *testing.T) {
	sub := &mockSubmitter{}
	caps := wire.Capabilities{P2P: true, MaxNormalIfaces: 2}
	r := newRegistry(t, sub, caps, 4)
	sub.On("Submit", mock.Anything, opcode(wire.OpCreateInterface)).
		Run(func(args mock.Arguments) {
			req := args.Get(1).(command.Request)
			go r.HandleInterfaceReady(wire.InterfaceReadyInfo{Index: req.Interface})
		}).
		Return(command.Response{}, nil)

	h, err := r.Add(context.Background(), RoleP2PClient)
	require.NoError(t, err)
	assert.Equal(t, uint8(2), h.Index)

	h, err = r.Add(context.Background(), RoleStation)
	require.NoError(t, err)
	assert.Equal(t, uint8(1), h.Index)

	_, err = r.Add(context.Background(), RoleStation)
	assert.ErrorIs(t, err, fwerr.ErrBusy)

	h, err = r.Add(context.Background(), RoleP2PGO)
	require.NoError(t, err)
	assert.Equal(t, uint8(3), h.Index)
}

func TestP2PUnsupported(t *testing.T) {
	r := newRegistry(t, &mockSubmitter{}, wire.Capabilities{}, 4)
	_, err := r.Add(context.Background(), RoleP2PGO)
	assert.ErrorIs(t, err, fwerr.ErrInvalidParameter)
}

func TestRemoveAndStaleHandle(t *testing.T) {
	sub := &mockSubmitter{}
	r := newRegistry(t, sub, wire.Capabilities{}, 2)
	sub.On("Submit", mock.Anything, opcode(wire.OpCreateInterface)).
		Run(func(args mock.Arguments) {
			go r.HandleInterfaceReady(wire.InterfaceReadyInfo{Index: 1})
		}).
		Return(command.Response{}, nil)
	sub.On("Submit", mock.Anything, opcode(wire.OpDeleteInterface)).Return(command.Response{}, nil)

	h, err := r.Add(context.Background(), RoleStation)
	require.NoError(t, err)
	require.NoError(t, r.Remove(context.Background(), h))

	_, err = r.Get(h)
	assert.ErrorIs(t, err, ErrStaleHandle)
	assert.ErrorIs(t, r.Remove(context.Background(), h), fwerr.ErrInvalidParameter)

	// The slot is reused with a new generation.
	h2, err := r.Add(context.Background(), RoleStation)
	require.NoError(t, err)
	assert.Equal(t, h.Index, h2.Index)
	assert.NotEqual(t, h.Gen, h2.Gen)
	assert.False(t, r.Valid(h))
	assert.True(t, r.Valid(h2))
}

func TestCookiesSkipZero(t *testing.T) {
	r := newRegistry(t, &mockSubmitter{}, wire.Capabilities{}, 1)
	h, _ := r.Lookup(0)

	require.NoError(t, r.Update(h, func(i *Interface) { i.rocCookie = ^uint64(0) }))
	c, err := r.NextRemainOnChannelCookie(h)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), c)

	a1, _ := r.NextActionCookie(h)
	a2, _ := r.NextActionCookie(h)
	assert.Equal(t, uint64(1), a1)
	assert.Equal(t, uint64(2), a2)
}

func TestResetInvalidatesHandles(t *testing.T) {
	r := newRegistry(t, &mockSubmitter{}, wire.Capabilities{}, 2)
	h, _ := r.Lookup(0)

	r.Reset()
	assert.Equal(t, 0, r.Len())
	assert.False(t, r.Valid(h))
	assert.Empty(t, r.Snapshot())
}

func TestParseRole(t *testing.T) {
	for _, s := range []string{"sta", "STATION", "ap", "P2P_GO", "adhoc"} {
		_, err := ParseRole(s)
		assert.NoError(t, err, s)
	}
	_, err := ParseRole("mesh")
	assert.Error(t, err)
}

func TestRecreateKeepsHandles(t *testing.T) {
	sub := &mockSubmitter{}
	r := newRegistry(t, sub, wire.Capabilities{}, 3)
	sub.On("Submit", mock.Anything, opcode(wire.OpCreateInterface)).
		Run(func(args mock.Arguments) {
			params := args.Get(1).(command.Request).Payload.(wire.CreateInterfaceParams)
			go r.HandleInterfaceReady(wire.InterfaceReadyInfo{Index: params.Index})
		}).
		Return(command.Response{}, nil)

	h, err := r.Add(context.Background(), RoleAP)
	require.NoError(t, err)

	require.NoError(t, r.Recreate(context.Background()))
	assert.True(t, r.Valid(h))
	sub.AssertNumberOfCalls(t, "Submit", 2)

	req := sub.Calls[1].Arguments.Get(1).(command.Request)
	params := req.Payload.(wire.CreateInterfaceParams)
	assert.Equal(t, DeriveMAC(baseMAC, 1), params.MAC)
	assert.Equal(t, wire.NetworkAP, params.NetworkType)
}

func TestRecreateDropsFailedInterface(t *testing.T) {
	sub := &mockSubmitter{}
	r := newRegistry(t, sub, wire.Capabilities{}, 3)
	sub.On("Submit", mock.Anything, opcode(wire.OpCreateInterface)).
		Run(func(args mock.Arguments) {
			params := args.Get(1).(command.Request).Payload.(wire.CreateInterfaceParams)
			go r.HandleInterfaceReady(wire.InterfaceReadyInfo{Index: params.Index})
		}).
		Return(command.Response{}, nil).Once()
	sub.On("Submit", mock.Anything, opcode(wire.OpCreateInterface)).
		Return(command.Response{}, fwerr.New("CREATE_INTERFACE", fwerr.ErrInvalidParameter))

	h, err := r.Add(context.Background(), RoleStation)
	require.NoError(t, err)

	err = r.Recreate(context.Background())
	assert.ErrorIs(t, err, fwerr.ErrInvalidParameter)
	assert.False(t, r.Valid(h))
	assert.Equal(t, 1, r.Len())
}
