package fwsim_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wlanfw/wlanfw-go/internal/fwsim"
	"github.com/wlanfw/wlanfw-go/pkg/transport"
	"github.com/wlanfw/wlanfw-go/pkg/wire"
)

func boot(t *testing.T) *fwsim.Firmware {
	t.Helper()
	fw := fwsim.New(fwsim.DefaultConfig())
	require.NoError(t, fw.PowerOn(context.Background()))
	require.NoError(t, fw.LoadAndStart(context.Background()))
	f := recv(t, fw)
	require.Equal(t, wire.FrameEvent, f.Kind)
	require.Equal(t, wire.EvReady, f.Event.Code)
	return fw
}

func send(t *testing.T, fw *fwsim.Firmware, seq uint32, op wire.Opcode, iface uint8, payload any) {
	t.Helper()
	frame, err := wire.NewCommandFrame(seq, op, iface, payload)
	require.NoError(t, err)
	data, err := wire.EncodeFrame(frame)
	require.NoError(t, err)
	require.NoError(t, fw.Send(data))
}

func recv(t *testing.T, fw *fwsim.Firmware) *wire.Frame {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	data, err := fw.Recv(ctx)
	require.NoError(t, err)
	f, err := wire.DecodeFrame(data)
	require.NoError(t, err)
	return f
}

func expectNothing(t *testing.T, fw *fwsim.Firmware) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := fw.Recv(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestReadyCarriesConfig(t *testing.T) {
	cfg := fwsim.DefaultConfig()
	fw := fwsim.New(cfg)
	require.NoError(t, fw.PowerOn(context.Background()))
	require.NoError(t, fw.LoadAndStart(context.Background()))

	f := recv(t, fw)
	var info wire.ReadyInfo
	require.NoError(t, wire.DecodePayload(f.Event.Payload, &info))
	assert.Equal(t, cfg.MAC, info.MAC)
	assert.Equal(t, cfg.MaxInterfaces, info.MaxInterfaces)
	assert.Equal(t, cfg.Capabilities, info.Capabilities)
}

func TestPoweredOff(t *testing.T) {
	fw := fwsim.New(fwsim.DefaultConfig())

	_, err := fw.Recv(context.Background())
	assert.ErrorIs(t, err, transport.ErrPoweredOff)
	assert.ErrorIs(t, fw.LoadAndStart(context.Background()), transport.ErrPoweredOff)

	frame, _ := wire.NewCommandFrame(1, wire.OpGetWakeReason, 0, nil)
	data, _ := wire.EncodeFrame(frame)
	assert.ErrorIs(t, fw.Send(data), transport.ErrPoweredOff)

	require.NoError(t, fw.PowerOn(context.Background()))
	assert.ErrorIs(t, fw.Send(data), fwsim.ErrNotRunning)
}

func TestPowerOffUnblocksRecv(t *testing.T) {
	fw := boot(t)
	errc := make(chan error, 1)
	go func() {
		_, err := fw.Recv(context.Background())
		errc <- err
	}()
	time.Sleep(10 * time.Millisecond)
	require.NoError(t, fw.PowerOff())

	select {
	case err := <-errc:
		assert.ErrorIs(t, err, transport.ErrPoweredOff)
	case <-time.After(time.Second):
		t.Fatal("Recv did not return after PowerOff")
	}
	assert.False(t, fw.Stats().Running)
}

func TestFailLoads(t *testing.T) {
	fw := fwsim.New(fwsim.DefaultConfig())
	require.NoError(t, fw.PowerOn(context.Background()))
	fw.FailLoads(2)

	assert.ErrorIs(t, fw.LoadAndStart(context.Background()), fwsim.ErrLoadFailed)
	assert.ErrorIs(t, fw.LoadAndStart(context.Background()), fwsim.ErrLoadFailed)
	assert.NoError(t, fw.LoadAndStart(context.Background()))
	assert.Equal(t, 3, fw.Stats().Loads)
}

func TestCreateInterface(t *testing.T) {
	fw := boot(t)
	mac := wire.MACAddr{0x06, 0x03, 0x7f, 0x10, 0x20, 0x30}
	send(t, fw, 1, wire.OpCreateInterface, 1, wire.CreateInterfaceParams{Index: 1, NetworkType: wire.NetworkAP, MAC: mac})

	reply := recv(t, fw)
	require.Equal(t, wire.FrameReply, reply.Kind)
	assert.Equal(t, uint32(1), reply.Reply.Seq)
	assert.Equal(t, wire.StatusSuccess, reply.Reply.Status)

	ev := recv(t, fw)
	require.Equal(t, wire.EvInterfaceReady, ev.Event.Code)
	var info wire.InterfaceReadyInfo
	require.NoError(t, wire.DecodePayload(ev.Event.Payload, &info))
	assert.Equal(t, uint8(1), info.Index)
	assert.Equal(t, mac, info.MAC)

	send(t, fw, 2, wire.OpCreateInterface, 9, wire.CreateInterfaceParams{Index: 9})
	assert.Equal(t, wire.StatusInvalidParameter, recv(t, fw).Reply.Status)
}

func TestConnectKnownNetwork(t *testing.T) {
	fw := boot(t)
	send(t, fw, 1, wire.OpConnect, 0, wire.ConnectParams{NetworkType: wire.NetworkInfra, SSID: []byte("home")})

	assert.Equal(t, wire.StatusSuccess, recv(t, fw).Reply.Status)
	ev := recv(t, fw)
	require.Equal(t, wire.EvConnect, ev.Event.Code)
	var info wire.ConnectInfo
	require.NoError(t, wire.DecodePayload(ev.Event.Payload, &info))
	assert.Equal(t, uint16(2437), info.Channel)
	assert.Equal(t, wire.MACAddr{0x02, 0xaa, 0, 0, 0, 1}, info.BSSID)
	assert.True(t, fw.Linked(0))

	send(t, fw, 2, wire.OpDisconnect, 0, wire.DisconnectParams{})
	recv(t, fw)
	ev = recv(t, fw)
	require.Equal(t, wire.EvDisconnect, ev.Event.Code)
	var dis wire.DisconnectInfo
	require.NoError(t, wire.DecodePayload(ev.Event.Payload, &dis))
	assert.Equal(t, wire.ReasonDisconnectCmd, dis.Reason)
	assert.Equal(t, info.BSSID, dis.BSSID)
	assert.False(t, fw.Linked(0))
}

func TestConnectUnknownNetwork(t *testing.T) {
	fw := boot(t)
	send(t, fw, 1, wire.OpConnect, 0, wire.ConnectParams{SSID: []byte("nowhere")})

	recv(t, fw)
	ev := recv(t, fw)
	require.Equal(t, wire.EvDisconnect, ev.Event.Code)
	var dis wire.DisconnectInfo
	require.NoError(t, wire.DecodePayload(ev.Event.Payload, &dis))
	assert.Equal(t, wire.ReasonNoNetworkAvail, dis.Reason)
}

func TestScanFiltersChannels(t *testing.T) {
	fw := boot(t)
	send(t, fw, 1, wire.OpStartScan, 0, wire.StartScanParams{Channels: []uint16{5180}})

	recv(t, fw)
	ev := recv(t, fw)
	require.Equal(t, wire.EvScanResult, ev.Event.Code)
	var bss wire.BSSInfo
	require.NoError(t, wire.DecodePayload(ev.Event.Payload, &bss))
	assert.Equal(t, []byte("office"), bss.SSID)
	assert.Equal(t, wire.EvScanComplete, recv(t, fw).Event.Code)
}

func TestMutedScanAborts(t *testing.T) {
	fw := boot(t)
	fw.Mute(wire.OpStartScan)
	send(t, fw, 1, wire.OpStartScan, 0, wire.StartScanParams{})
	recv(t, fw)
	expectNothing(t, fw)

	send(t, fw, 2, wire.OpStartScan, 0, wire.StartScanParams{})
	assert.Equal(t, wire.StatusBusy, recv(t, fw).Reply.Status)

	send(t, fw, 3, wire.OpAbortScan, 0, nil)
	recv(t, fw)
	ev := recv(t, fw)
	require.Equal(t, wire.EvScanComplete, ev.Event.Code)
	var info wire.ScanCompleteInfo
	require.NoError(t, wire.DecodePayload(ev.Event.Payload, &info))
	assert.True(t, info.Aborted)
}

func TestInjectedScanCompleteEndsScan(t *testing.T) {
	fw := boot(t)
	fw.Mute(wire.OpStartScan)
	send(t, fw, 1, wire.OpStartScan, 0, wire.StartScanParams{})
	recv(t, fw)

	fw.Clear(wire.OpStartScan)
	fw.Inject(wire.EvScanComplete, 0, wire.ScanCompleteInfo{})
	assert.Equal(t, wire.EvScanComplete, recv(t, fw).Event.Code)

	send(t, fw, 2, wire.OpStartScan, 0, wire.StartScanParams{})
	assert.Equal(t, wire.StatusSuccess, recv(t, fw).Reply.Status)
}

func TestFailAndDrop(t *testing.T) {
	fw := boot(t)
	fw.Fail(wire.OpSetPowerMode, wire.StatusBusy)
	fw.Drop(wire.OpSetBmissTime)

	send(t, fw, 1, wire.OpSetPowerMode, 0, wire.PowerModeParams{})
	assert.Equal(t, wire.StatusBusy, recv(t, fw).Reply.Status)

	send(t, fw, 2, wire.OpSetBmissTime, 0, wire.BmissParams{Time: 100})
	expectNothing(t, fw)

	fw.Clear(wire.OpSetPowerMode)
	send(t, fw, 3, wire.OpSetPowerMode, 0, wire.PowerModeParams{})
	assert.Equal(t, wire.StatusSuccess, recv(t, fw).Reply.Status)

	assert.Equal(t, 2, fw.Count(wire.OpSetPowerMode))
	assert.Len(t, fw.Commands(), 3)
}

func TestHoldRelease(t *testing.T) {
	fw := boot(t)
	fw.Hold(wire.OpConnect)

	send(t, fw, 1, wire.OpConnect, 0, wire.ConnectParams{SSID: []byte("home")})
	expectNothing(t, fw)
	assert.Equal(t, 1, fw.Stats().Held)

	assert.Equal(t, 1, fw.Release(wire.OpConnect))
	assert.Equal(t, uint32(1), recv(t, fw).Reply.Seq)
	assert.Equal(t, wire.EvConnect, recv(t, fw).Event.Code)
	assert.Zero(t, fw.Stats().Held)
}

func TestHostSleepAndWakeReason(t *testing.T) {
	fw := boot(t)
	fw.SetWakeReason(wire.WakeDisconnect)

	send(t, fw, 1, wire.OpSetHostSleepMode, 0, wire.HostSleepParams{State: wire.HostAsleep})
	recv(t, fw)
	assert.Equal(t, wire.EvHostSleepProcessed, recv(t, fw).Event.Code)

	send(t, fw, 2, wire.OpGetWakeReason, 0, nil)
	reply := recv(t, fw)
	var info wire.WakeReasonInfo
	require.NoError(t, wire.DecodePayload(reply.Reply.Payload, &info))
	assert.Equal(t, wire.WakeDisconnect, info.Reason)
}

func TestUnknownOpcode(t *testing.T) {
	fw := boot(t)
	send(t, fw, 1, wire.Opcode(0x7777), 0, nil)
	assert.Equal(t, wire.StatusUnsupported, recv(t, fw).Reply.Status)
}

func TestInjectAndBreak(t *testing.T) {
	fw := boot(t)
	fw.Inject(wire.EvDisconnect, 0, wire.DisconnectInfo{Reason: wire.ReasonLostLink})
	assert.Equal(t, wire.EvDisconnect, recv(t, fw).Event.Code)

	bus := errors.New("bus error")
	fw.Break(bus)
	_, err := fw.Recv(context.Background())
	assert.ErrorIs(t, err, bus)
}

func TestOnCommandHandler(t *testing.T) {
	fw := boot(t)
	var seen []wire.Opcode
	fw.Handlers.OnCommand = func(cmd fwsim.Command) {
		seen = append(seen, cmd.Opcode)
	}
	send(t, fw, 1, wire.OpSendAction, 0, wire.ActionParams{ID: 7, Freq: 2412, Frame: []byte{0xd0}})
	recv(t, fw)
	ev := recv(t, fw)
	var status wire.ActionTxStatusInfo
	require.NoError(t, wire.DecodePayload(ev.Event.Payload, &status))
	assert.Equal(t, uint32(7), status.ID)
	assert.True(t, status.Ack)
	assert.Equal(t, []wire.Opcode{wire.OpSendAction}, seen)
}
