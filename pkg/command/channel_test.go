package command

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wlanfw/wlanfw-go/pkg/fwerr"
	"github.com/wlanfw/wlanfw-go/pkg/wire"
)

// fakeFirmware decodes command frames and answers them asynchronously.
type fakeFirmware struct {
	t       *testing.T
	ch      *Channel
	delay   time.Duration
	status  wire.Status
	silent  atomic.Bool
	sendErr error

	outstanding atomic.Int32
	maxSeen     atomic.Int32

	mu   sync.Mutex
	cmds []wire.Command
}

func (f *fakeFirmware) Send(data []byte) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	frame, err := wire.DecodeFrame(data)
	require.NoError(f.t, err)
	cmd := *frame.Command

	f.mu.Lock()
	f.cmds = append(f.cmds, cmd)
	f.mu.Unlock()

	n := f.outstanding.Add(1)
	for {
		m := f.maxSeen.Load()
		if n <= m || f.maxSeen.CompareAndSwap(m, n) {
			break
		}
	}

	if f.silent.Load() {
		f.outstanding.Add(-1)
		return nil
	}
	go func() {
		time.Sleep(f.delay)
		f.outstanding.Add(-1)
		f.ch.HandleReply(wire.Reply{Seq: cmd.Seq, Status: f.status})
	}()
	return nil
}

func (f *fakeFirmware) Commands() []wire.Command {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]wire.Command(nil), f.cmds...)
}

func newTestChannel(t *testing.T, fw *fakeFirmware, cfg Config) *Channel {
	t.Helper()
	fw.t = t
	ch := New(fw, cfg)
	fw.ch = ch
	return ch
}

func TestSubmitSuccess(t *testing.T) {
	fw := &fakeFirmware{}
	ch := newTestChannel(t, fw, DefaultConfig())

	resp, err := ch.Submit(context.Background(), Request{
		Opcode:    wire.OpSetListenInterval,
		Interface: 1,
		Payload:   wire.ListenIntervalParams{Interval: 100},
	})
	require.NoError(t, err)
	assert.Equal(t, wire.StatusSuccess, resp.Status)

	cmds := fw.Commands()
	require.Len(t, cmds, 1)
	assert.Equal(t, wire.OpSetListenInterval, cmds[0].Opcode)
	assert.Equal(t, uint8(1), cmds[0].Interface)

	var params wire.ListenIntervalParams
	require.NoError(t, wire.DecodePayload(cmds[0].Payload, &params))
	assert.Equal(t, uint16(100), params.Interval)

	assert.Equal(t, 0, ch.InFlight())
	assert.Equal(t, uint64(1), ch.Stats().Completed)
}

func TestSubmitStatusMapping(t *testing.T) {
	tests := []struct {
		status wire.Status
		want   error
	}{
		{wire.StatusBusy, fwerr.ErrBusy},
		{wire.StatusInvalidParameter, fwerr.ErrInvalidParameter},
		{wire.StatusUnsupported, fwerr.ErrInvalidParameter},
		{wire.StatusNotReady, fwerr.ErrNotReady},
		{wire.StatusFailed, fwerr.ErrTransport},
	}

	for _, tt := range tests {
		t.Run(tt.status.String(), func(t *testing.T) {
			fw := &fakeFirmware{status: tt.status}
			ch := newTestChannel(t, fw, DefaultConfig())

			resp, err := ch.Submit(context.Background(), Request{Opcode: wire.OpStartScan})
			assert.ErrorIs(t, err, tt.want)
			assert.Equal(t, tt.status, resp.Status)
		})
	}
}

func TestSubmitTimeoutResetsSlot(t *testing.T) {
	fw := &fakeFirmware{}
	fw.silent.Store(true)
	cfg := DefaultConfig()
	cfg.CommandTimeout = 30 * time.Millisecond
	ch := newTestChannel(t, fw, cfg)

	var faults []error
	var successes int
	ch.OnFault(func(err error) { faults = append(faults, err) })
	ch.OnSuccess(func() { successes++ })

	start := time.Now()
	_, err := ch.Submit(context.Background(), Request{Opcode: wire.OpConnect})
	assert.ErrorIs(t, err, fwerr.ErrTimeout)
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, 0, ch.InFlight())
	require.Len(t, faults, 1)
	assert.ErrorIs(t, faults[0], fwerr.ErrTimeout)

	// The late reply for the expired request is dropped.
	stale := fw.Commands()[0].Seq
	assert.False(t, ch.HandleReply(wire.Reply{Seq: stale}))
	assert.Equal(t, uint64(1), ch.Stats().Stale)

	// The slot is usable again.
	assert.Zero(t, successes)
	fw.silent.Store(false)
	_, err = ch.Submit(context.Background(), Request{Opcode: wire.OpDisconnect})
	assert.NoError(t, err)
	assert.Equal(t, 1, successes)
	assert.Len(t, faults, 1)
}

func TestSubmitPerRequestTimeout(t *testing.T) {
	fw := &fakeFirmware{delay: 50 * time.Millisecond}
	cfg := DefaultConfig()
	cfg.CommandTimeout = 10 * time.Millisecond
	ch := newTestChannel(t, fw, cfg)

	_, err := ch.Submit(context.Background(), Request{
		Opcode:  wire.OpSetHostSleepMode,
		Timeout: time.Second,
	})
	assert.NoError(t, err)
}

func TestSubmitSendFailure(t *testing.T) {
	fw := &fakeFirmware{sendErr: errors.New("bus error")}
	ch := newTestChannel(t, fw, DefaultConfig())

	var fault error
	ch.OnFault(func(err error) { fault = err })

	_, err := ch.Submit(context.Background(), Request{Opcode: wire.OpAddKey})
	assert.ErrorIs(t, err, fwerr.ErrTransport)
	assert.ErrorIs(t, fault, fwerr.ErrTransport)
	assert.Equal(t, 0, ch.InFlight())
}

func TestSingleFlight(t *testing.T) {
	fw := &fakeFirmware{delay: 2 * time.Millisecond}
	ch := newTestChannel(t, fw, DefaultConfig())

	const submitters = 16
	var wg sync.WaitGroup
	errs := make(chan error, submitters)
	for i := 0; i < submitters; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := ch.Submit(context.Background(), Request{
				Opcode:    wire.OpSetScanParams,
				Interface: uint8(i % 4),
			})
			errs <- err
		}(i)
	}

	// Sample the in-flight count while the submitters race.
	stop := make(chan struct{})
	sampled := make(chan struct{})
	var maxInFlight int
	go func() {
		defer close(sampled)
		for {
			select {
			case <-stop:
				return
			default:
				if n := ch.InFlight(); n > maxInFlight {
					maxInFlight = n
				}
			}
		}
	}()

	wg.Wait()
	close(stop)
	<-sampled
	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}

	assert.Len(t, fw.Commands(), submitters)
	assert.Equal(t, int32(1), fw.maxSeen.Load(), "firmware saw concurrent commands")
	assert.LessOrEqual(t, maxInFlight, 1)

	seqs := map[uint32]bool{}
	for _, c := range fw.Commands() {
		assert.False(t, seqs[c.Seq], "duplicate seq %d", c.Seq)
		seqs[c.Seq] = true
	}
}

func TestFailFastWhenBusy(t *testing.T) {
	fw := &fakeFirmware{delay: 100 * time.Millisecond}
	ch := newTestChannel(t, fw, DefaultConfig())

	done := make(chan error, 1)
	go func() {
		_, err := ch.Submit(context.Background(), Request{Opcode: wire.OpConnect})
		done <- err
	}()
	require.Eventually(t, func() bool { return ch.InFlight() == 1 }, time.Second, time.Millisecond)

	_, err := ch.Submit(context.Background(), Request{Opcode: wire.OpDisconnect, Urgency: UrgencyFailFast})
	assert.ErrorIs(t, err, fwerr.ErrBusy)
	assert.NoError(t, <-done)
	assert.Len(t, fw.Commands(), 1)
}

func TestAcquireTimeoutIsBusy(t *testing.T) {
	fw := &fakeFirmware{}
	fw.silent.Store(true)
	cfg := DefaultConfig()
	cfg.CommandTimeout = 200 * time.Millisecond
	cfg.AcquireTimeout = 20 * time.Millisecond
	ch := newTestChannel(t, fw, cfg)

	go ch.Submit(context.Background(), Request{Opcode: wire.OpConnect})
	require.Eventually(t, func() bool { return ch.InFlight() == 1 }, time.Second, time.Millisecond)

	_, err := ch.Submit(context.Background(), Request{Opcode: wire.OpStartScan})
	assert.ErrorIs(t, err, fwerr.ErrBusy)
}

func TestCancelResolvesInFlightAndPending(t *testing.T) {
	fw := &fakeFirmware{}
	fw.silent.Store(true)
	cfg := DefaultConfig()
	cfg.CommandTimeout = 5 * time.Second
	ch := newTestChannel(t, fw, cfg)

	results := make(chan error, 2)
	go func() {
		_, err := ch.Submit(context.Background(), Request{Opcode: wire.OpConnect})
		results <- err
	}()
	require.Eventually(t, func() bool { return ch.InFlight() == 1 }, time.Second, time.Millisecond)
	go func() {
		_, err := ch.Submit(context.Background(), Request{Opcode: wire.OpStartScan})
		results <- err
	}()
	time.Sleep(10 * time.Millisecond)

	start := time.Now()
	ch.Cancel()
	for i := 0; i < 2; i++ {
		select {
		case err := <-results:
			assert.ErrorIs(t, err, fwerr.ErrCancelled)
		case <-time.After(time.Second):
			t.Fatal("request did not resolve after Cancel")
		}
	}
	assert.Less(t, time.Since(start), time.Second)
	assert.Len(t, fw.Commands(), 1)

	_, err := ch.Submit(context.Background(), Request{Opcode: wire.OpDisconnect})
	assert.ErrorIs(t, err, fwerr.ErrCancelled)
	assert.True(t, ch.Closed())

	ch.Reopen()
	fw.silent.Store(false)
	_, err = ch.Submit(context.Background(), Request{Opcode: wire.OpDisconnect})
	assert.NoError(t, err)
}

func TestSubmitContextCancel(t *testing.T) {
	fw := &fakeFirmware{}
	fw.silent.Store(true)
	ch := newTestChannel(t, fw, DefaultConfig())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := ch.Submit(ctx, Request{Opcode: wire.OpConnect})
	assert.ErrorIs(t, err, fwerr.ErrCancelled)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 0, ch.InFlight())
}

func TestDrain(t *testing.T) {
	fw := &fakeFirmware{delay: 30 * time.Millisecond}
	ch := newTestChannel(t, fw, DefaultConfig())

	go ch.Submit(context.Background(), Request{Opcode: wire.OpConnect})
	require.Eventually(t, func() bool { return ch.InFlight() == 1 }, time.Second, time.Millisecond)

	require.NoError(t, ch.Drain(context.Background(), time.Second))
	assert.Equal(t, 0, ch.InFlight())
}

func TestDrainTimeout(t *testing.T) {
	fw := &fakeFirmware{}
	fw.silent.Store(true)
	cfg := DefaultConfig()
	cfg.CommandTimeout = time.Second
	ch := newTestChannel(t, fw, cfg)

	go ch.Submit(context.Background(), Request{Opcode: wire.OpConnect})
	require.Eventually(t, func() bool { return ch.InFlight() == 1 }, time.Second, time.Millisecond)

	err := ch.Drain(context.Background(), 20*time.Millisecond)
	assert.ErrorIs(t, err, fwerr.ErrTimeout)
	ch.Cancel()
}

func TestUnknownReplyDropped(t *testing.T) {
	ch := New(&fakeFirmware{}, DefaultConfig())
	assert.False(t, ch.HandleReply(wire.Reply{Seq: 42}))
}
