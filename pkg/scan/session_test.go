package scan

import (
	"context"
	"errors"
	"sync"
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
	return command.Response{}, args.Error(0)
}

func (m *mockSubmitter) requests(op wire.Opcode) []command.Request {
	var out []command.Request
	for _, c := range m.Calls {
		if req := c.Arguments.Get(1).(command.Request); req.Opcode == op {
			out = append(out, req)
		}
	}
	return out
}

func (m *mockSubmitter) opcodes() []wire.Opcode {
	var ops []wire.Opcode
	for _, c := range m.Calls {
		ops = append(ops, c.Arguments.Get(1).(command.Request).Opcode)
	}
	return ops
}

func op(o wire.Opcode) any {
	return mock.MatchedBy(func(req command.Request) bool { return req.Opcode == o })
}

type results struct {
	mu  sync.Mutex
	got []Result
}

func (r *results) add(res Result) {
	r.mu.Lock()
	r.got = append(r.got, res)
	r.mu.Unlock()
}

func (r *results) all() []Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Result(nil), r.got...)
}

func newSession(t *testing.T, caps wire.Capabilities) (*Session, *mockSubmitter, *results) {
	t.Helper()
	sub := &mockSubmitter{}
	res := &results{}
	s := New(sub, Config{Capabilities: caps, OnComplete: res.add})
	return s, sub, res
}

var (
	ap1 = wire.MACAddr{0x02, 0, 0, 0, 0, 1}
	ap2 = wire.MACAddr{0x02, 0, 0, 0, 0, 2}
)

func TestStartAndComplete(t *testing.T) {
	s, sub, res := newSession(t, wire.Capabilities{})
	sub.On("Submit", mock.Anything, mock.Anything).Return(nil)

	ticket, err := s.Start(context.Background(), Request{Interface: 0, SSIDs: [][]byte{[]byte("home"), {}}})
	require.NoError(t, err)
	assert.NotEmpty(t, ticket.ID)
	assert.Equal(t, []wire.Opcode{wire.OpSetProbedSSID, wire.OpSetProbedSSID, wire.OpStartScan}, sub.opcodes())

	probed := sub.requests(wire.OpSetProbedSSID)
	assert.Equal(t, wire.ProbeSpecific, probed[0].Payload.(wire.ProbedSSIDParams).Flag)
	assert.Equal(t, wire.ProbeAny, probed[1].Payload.(wire.ProbedSSIDParams).Flag)
	assert.Equal(t, uint8(1), probed[1].Payload.(wire.ProbedSSIDParams).Index)

	s.HandleResult(0, wire.BSSInfo{BSSID: ap1, RSSI: -70})
	s.HandleResult(0, wire.BSSInfo{BSSID: ap2, RSSI: -40})
	s.HandleResult(0, wire.BSSInfo{BSSID: ap1, RSSI: -60})
	s.HandleComplete(0, wire.ScanCompleteInfo{})

	got := res.all()
	require.Len(t, got, 1)
	assert.Equal(t, ticket, got[0].Ticket)
	assert.False(t, got[0].Aborted)
	require.Len(t, got[0].BSS, 2)
	assert.Equal(t, int8(-60), got[0].BSS[0].RSSI)

	_, live := s.Live()
	assert.False(t, live)
}

func TestScanExclusivity(t *testing.T) {
	s, sub, res := newSession(t, wire.Capabilities{})
	sub.On("Submit", mock.Anything, mock.Anything).Return(nil)
	ctx := context.Background()

	_, err := s.Start(ctx, Request{Interface: 0})
	require.NoError(t, err)

	_, err = s.Start(ctx, Request{Interface: 1})
	assert.ErrorIs(t, err, fwerr.ErrBusy)

	s.HandleComplete(0, wire.ScanCompleteInfo{})
	require.Len(t, res.all(), 1)

	_, err = s.Start(ctx, Request{Interface: 1})
	assert.NoError(t, err)
}

func TestStartValidation(t *testing.T) {
	s, sub, _ := newSession(t, wire.Capabilities{})

	tooMany := make([][]byte, MaxProbedSSIDs+1)
	_, err := s.Start(context.Background(), Request{SSIDs: tooMany})
	assert.ErrorIs(t, err, fwerr.ErrInvalidParameter)

	_, err = s.Start(context.Background(), Request{SSIDs: [][]byte{make([]byte, 33)}})
	assert.ErrorIs(t, err, fwerr.ErrInvalidParameter)
	assert.Empty(t, sub.Calls)
}

func TestTooManyChannelsScansAll(t *testing.T) {
	s, sub, _ := newSession(t, wire.Capabilities{})
	sub.On("Submit", mock.Anything, mock.Anything).Return(nil)

	_, err := s.Start(context.Background(), Request{Channels: make([]uint16, MaxChannels+1)})
	require.NoError(t, err)
	params := sub.requests(wire.OpStartScan)[0].Payload.(wire.StartScanParams)
	assert.Nil(t, params.Channels)
}

func TestStartFailureClearsTicket(t *testing.T) {
	s, sub, res := newSession(t, wire.Capabilities{})
	sub.On("Submit", mock.Anything, op(wire.OpStartScan)).Return(fwerr.ErrBusy).Once()
	sub.On("Submit", mock.Anything, mock.Anything).Return(nil)

	_, err := s.Start(context.Background(), Request{})
	assert.ErrorIs(t, err, fwerr.ErrBusy)
	assert.Empty(t, res.all(), "failed start delivers no completion")

	_, live := s.Live()
	assert.False(t, live)
	_, err = s.Start(context.Background(), Request{})
	assert.NoError(t, err)
}

func TestStaleProbedEntriesDisabled(t *testing.T) {
	s, sub, _ := newSession(t, wire.Capabilities{})
	sub.On("Submit", mock.Anything, mock.Anything).Return(nil)
	ctx := context.Background()

	_, err := s.Start(ctx, Request{SSIDs: [][]byte{[]byte("a"), []byte("b"), []byte("c")}})
	require.NoError(t, err)
	s.HandleComplete(0, wire.ScanCompleteInfo{})
	sub.Calls = nil

	_, err = s.Start(ctx, Request{SSIDs: [][]byte{[]byte("a")}})
	require.NoError(t, err)
	probed := sub.requests(wire.OpSetProbedSSID)
	require.Len(t, probed, 3)
	for i, want := range []wire.ProbeFlag{wire.ProbeSpecific, wire.ProbeDisable, wire.ProbeDisable} {
		p := probed[i].Payload.(wire.ProbedSSIDParams)
		assert.Equal(t, uint8(i), p.Index)
		assert.Equal(t, want, p.Flag)
	}
}

func TestCancel(t *testing.T) {
	s, sub, res := newSession(t, wire.Capabilities{})
	sub.On("Submit", mock.Anything, mock.Anything).Return(nil)
	ctx := context.Background()

	ticket, err := s.Start(ctx, Request{})
	require.NoError(t, err)

	assert.ErrorIs(t, s.Cancel(ctx, Ticket{ID: "bogus"}), fwerr.ErrInvalidParameter)

	require.NoError(t, s.Cancel(ctx, ticket))
	require.Len(t, sub.requests(wire.OpAbortScan), 1)
	assert.Equal(t, command.UrgencyFailFast, sub.requests(wire.OpAbortScan)[0].Urgency)
	assert.Empty(t, res.all(), "completion waits for the firmware event")

	// Firmware reports completion without the aborted bit; the cancel
	// still marks it.
	s.HandleComplete(0, wire.ScanCompleteInfo{})
	got := res.all()
	require.Len(t, got, 1)
	assert.True(t, got[0].Aborted)
}

func TestCancelForceCompletesOnFailure(t *testing.T) {
	s, sub, res := newSession(t, wire.Capabilities{})
	sub.On("Submit", mock.Anything, op(wire.OpAbortScan)).Return(fwerr.ErrTimeout)
	sub.On("Submit", mock.Anything, mock.Anything).Return(nil)

	ticket, err := s.Start(context.Background(), Request{})
	require.NoError(t, err)
	require.NoError(t, s.Cancel(context.Background(), ticket))

	got := res.all()
	require.Len(t, got, 1)
	assert.True(t, got[0].Aborted)

	// A late firmware completion is ignored.
	s.HandleComplete(0, wire.ScanCompleteInfo{Aborted: true})
	assert.Len(t, res.all(), 1)
}

func TestExactlyOneCompletion(t *testing.T) {
	s, sub, res := newSession(t, wire.Capabilities{})
	sub.On("Submit", mock.Anything, mock.Anything).Return(nil)
	_, err := s.Start(context.Background(), Request{Interface: 2})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(3)
		go func() { defer wg.Done(); s.AbortAll() }()
		go func() { defer wg.Done(); s.HandleComplete(2, wire.ScanCompleteInfo{}) }()
		go func() { defer wg.Done(); s.AbortInterface(2) }()
	}
	wg.Wait()
	assert.Len(t, res.all(), 1)
}

func TestAbortInterface(t *testing.T) {
	s, sub, res := newSession(t, wire.Capabilities{})
	sub.On("Submit", mock.Anything, mock.Anything).Return(nil)
	_, err := s.Start(context.Background(), Request{Interface: 1})
	require.NoError(t, err)

	assert.False(t, s.AbortInterface(0))
	assert.True(t, s.AbortInterface(1))
	got := res.all()
	require.Len(t, got, 1)
	assert.True(t, got[0].Aborted)
}

func TestResultsForOtherInterfaceIgnored(t *testing.T) {
	s, sub, res := newSession(t, wire.Capabilities{})
	sub.On("Submit", mock.Anything, mock.Anything).Return(nil)
	_, err := s.Start(context.Background(), Request{Interface: 1})
	require.NoError(t, err)

	s.HandleResult(0, wire.BSSInfo{BSSID: ap1})
	s.HandleComplete(0, wire.ScanCompleteInfo{})
	assert.Empty(t, res.all())

	s.HandleComplete(1, wire.ScanCompleteInfo{})
	got := res.all()
	require.Len(t, got, 1)
	assert.Empty(t, got[0].BSS)
}

func TestStartScheduled(t *testing.T) {
	s, sub, _ := newSession(t, wire.Capabilities{ScanRSSIFilter: true})
	sub.On("Submit", mock.Anything, mock.Anything).Return(nil)
	ctx := context.Background()

	err := s.StartScheduled(ctx, SchedRequest{
		SSIDs:         [][]byte{[]byte("home")},
		MatchSets:     [][]byte{[]byte("home"), []byte("work")},
		Interval:      100 * time.Millisecond,
		RSSIThreshold: -80,
	})
	require.NoError(t, err)
	_, running := s.Scheduled()
	assert.True(t, running)

	assert.Equal(t, []wire.Opcode{
		wire.OpSetProbedSSID, wire.OpSetProbedSSID,
		wire.OpSetRSSIFilter, wire.OpSetSchedScan, wire.OpEnableSchedScan,
	}, sub.opcodes())
	probed := sub.requests(wire.OpSetProbedSSID)
	assert.Equal(t, wire.ProbeMatch, probed[0].Payload.(wire.ProbedSSIDParams).Flag)
	assert.Equal(t, []byte("work"), probed[1].Payload.(wire.ProbedSSIDParams).SSID)

	params := sub.requests(wire.OpSetSchedScan)[0].Payload.(wire.SchedScanParams)
	assert.Equal(t, uint32(1000), params.IntervalMS, "interval raised to the minimum")

	assert.ErrorIs(t, s.StartScheduled(ctx, SchedRequest{Interval: time.Second}), fwerr.ErrBusy)
}

func TestStartScheduledSkipsRSSIFilterWithoutCapability(t *testing.T) {
	s, sub, _ := newSession(t, wire.Capabilities{})
	sub.On("Submit", mock.Anything, mock.Anything).Return(nil)

	require.NoError(t, s.StartScheduled(context.Background(), SchedRequest{Interval: 5 * time.Second, RSSIThreshold: -80}))
	assert.Empty(t, sub.requests(wire.OpSetRSSIFilter))
}

func TestStartScheduledAbortsImmediateScan(t *testing.T) {
	s, sub, res := newSession(t, wire.Capabilities{})
	sub.On("Submit", mock.Anything, mock.Anything).Return(nil)
	ctx := context.Background()

	_, err := s.Start(ctx, Request{})
	require.NoError(t, err)
	require.NoError(t, s.StartScheduled(ctx, SchedRequest{Interval: time.Second}))

	got := res.all()
	require.Len(t, got, 1)
	assert.True(t, got[0].Aborted)
	assert.Len(t, sub.requests(wire.OpAbortScan), 1)
}

func TestImmediateScanStopsScheduled(t *testing.T) {
	s, sub, _ := newSession(t, wire.Capabilities{})
	sub.On("Submit", mock.Anything, mock.Anything).Return(nil)
	ctx := context.Background()

	require.NoError(t, s.StartScheduled(ctx, SchedRequest{Interval: time.Second}))
	sub.Calls = nil

	_, err := s.Start(ctx, Request{})
	require.NoError(t, err)
	ops := sub.opcodes()
	require.NotEmpty(t, ops)
	assert.Equal(t, wire.OpEnableSchedScan, ops[0])
	assert.False(t, sub.requests(wire.OpEnableSchedScan)[0].Payload.(wire.EnableSchedScanParams).Enable)
	_, running := s.Scheduled()
	assert.False(t, running)
}

func TestStopScheduled(t *testing.T) {
	s, sub, _ := newSession(t, wire.Capabilities{})
	ctx := context.Background()

	assert.ErrorIs(t, s.StopScheduled(ctx), fwerr.ErrNotReady)

	sub.On("Submit", mock.Anything, op(wire.OpEnableSchedScan)).Return(nil).Once()
	sub.On("Submit", mock.Anything, op(wire.OpEnableSchedScan)).Return(errors.New("bus down")).Once()
	sub.On("Submit", mock.Anything, mock.Anything).Return(nil)

	require.NoError(t, s.StartScheduled(ctx, SchedRequest{Interval: time.Second}))
	assert.Error(t, s.StopScheduled(ctx))
	_, running := s.Scheduled()
	assert.False(t, running, "local state clears even when firmware fails")
}

func TestReset(t *testing.T) {
	s, sub, res := newSession(t, wire.Capabilities{})
	sub.On("Submit", mock.Anything, mock.Anything).Return(nil)
	ctx := context.Background()

	_, err := s.Start(ctx, Request{SSIDs: [][]byte{[]byte("a")}})
	require.NoError(t, err)
	s.Reset()
	require.Len(t, res.all(), 1)
	sub.Calls = nil

	_, err = s.Start(ctx, Request{})
	require.NoError(t, err)
	assert.Empty(t, sub.requests(wire.OpSetProbedSSID), "probed table forgotten after reset")
}

func TestStartScheduledReservesSlot(t *testing.T) {
	s, sub, _ := newSession(t, wire.Capabilities{})
	entered := make(chan struct{})
	release := make(chan struct{})
	sub.On("Submit", mock.Anything, op(wire.OpSetSchedScan)).
		Run(func(mock.Arguments) {
			entered <- struct{}{}
			<-release
		}).Return(nil).Once()
	sub.On("Submit", mock.Anything, mock.Anything).Return(nil)
	ctx := context.Background()

	first := make(chan error, 1)
	go func() { first <- s.StartScheduled(ctx, SchedRequest{Interval: time.Second}) }()
	<-entered

	assert.ErrorIs(t, s.StartScheduled(ctx, SchedRequest{Interval: time.Second}), fwerr.ErrBusy)
	close(release)
	require.NoError(t, <-first)
	assert.Len(t, sub.requests(wire.OpEnableSchedScan), 1)
}

func TestArmNetDetect(t *testing.T) {
	s, sub, _ := newSession(t, wire.Capabilities{})
	sub.On("Submit", mock.Anything, mock.Anything).Return(nil)
	ctx := context.Background()

	require.NoError(t, s.StartScheduled(ctx, SchedRequest{SSIDs: [][]byte{[]byte("a"), []byte("b"), []byte("c")}, Interval: time.Second}))
	sub.Calls = nil

	require.NoError(t, s.ArmNetDetect(ctx, 0, [][]byte{[]byte("home")}, 10*time.Millisecond, nil))
	assert.Equal(t, []wire.Opcode{
		wire.OpEnableSchedScan,
		wire.OpSetProbedSSID, wire.OpSetProbedSSID, wire.OpSetProbedSSID,
		wire.OpSetSchedScan,
	}, sub.opcodes(), "scheduled scan stopped, stale probed entries disabled")
	probed := sub.requests(wire.OpSetProbedSSID)
	assert.Equal(t, wire.ProbedSSIDParams{Index: 0, Flag: wire.ProbeMatch, SSID: []byte("home")}, probed[0].Payload)
	assert.Equal(t, wire.ProbeDisable, probed[2].Payload.(wire.ProbedSSIDParams).Flag)
	params := sub.requests(wire.OpSetSchedScan)[0].Payload.(wire.SchedScanParams)
	assert.Equal(t, uint32(1000), params.IntervalMS)
	_, running := s.Scheduled()
	assert.False(t, running)

	assert.ErrorIs(t, s.ArmNetDetect(ctx, 0, [][]byte{[]byte("home")}, time.Second, nil), fwerr.ErrBusy)
	assert.ErrorIs(t, s.StartScheduled(ctx, SchedRequest{Interval: time.Second}), fwerr.ErrBusy)

	sub.Calls = nil
	require.NoError(t, s.DisarmNetDetect(ctx))
	require.Len(t, sub.requests(wire.OpSetProbedSSID), 1)
	assert.Equal(t, wire.ProbeDisable, sub.requests(wire.OpSetProbedSSID)[0].Payload.(wire.ProbedSSIDParams).Flag)
	require.NoError(t, s.DisarmNetDetect(ctx))
	assert.Len(t, sub.Calls, 1, "second disarm sends nothing")
}

func TestArmNetDetectValidation(t *testing.T) {
	s, sub, _ := newSession(t, wire.Capabilities{})
	ctx := context.Background()

	assert.ErrorIs(t, s.ArmNetDetect(ctx, 0, nil, time.Second, nil), fwerr.ErrInvalidParameter)
	assert.ErrorIs(t, s.ArmNetDetect(ctx, 0, [][]byte{{}}, time.Second, nil), fwerr.ErrInvalidParameter)
	assert.ErrorIs(t, s.ArmNetDetect(ctx, 0, [][]byte{make([]byte, MaxSSIDLen+1)}, time.Second, nil), fwerr.ErrInvalidParameter)
	assert.Empty(t, sub.Calls)
}
