// Package fwsim provides an in-memory firmware simulator for tests and the
// interactive shell.
//
// A Firmware implements transport.Transport and transport.Loader. It
// decodes command frames, acknowledges them and emits the events real
// firmware would (connect after Connect, InterfaceReady after
// CreateInterface, scan results after StartScan, and so on). Hooks make
// individual opcodes fail, go silent, or stall.
package fwsim

import (
	"bytes"
	"context"
	"sync"

	"github.com/fxamacker/cbor/v2"

	"github.com/wlanfw/wlanfw-go/pkg/transport"
	"github.com/wlanfw/wlanfw-go/pkg/wire"
)

const rxQueueDepth = 1024

// Config describes the simulated chip.
type Config struct {
	// MAC is the device address reported in Ready.
	MAC wire.MACAddr

	// FirmwareVersion is reported in Ready.
	FirmwareVersion string

	// MaxInterfaces is the number of interface slots.
	MaxInterfaces uint8

	// Capabilities are reported in Ready.
	Capabilities wire.Capabilities

	// Networks are the BSSs visible to scans and joinable by Connect.
	Networks []wire.BSSInfo

	// WakeReason is the reply to GetWakeReason.
	WakeReason wire.WakeReason
}

// DefaultConfig returns a chip with three interface slots, every optional
// capability, and two visible networks.
func DefaultConfig() Config {
	return Config{
		MAC:             wire.MACAddr{0x00, 0x03, 0x7f, 0x10, 0x20, 0x30},
		FirmwareVersion: "sim-3.5.0.349",
		MaxInterfaces:   3,
		Capabilities: wire.Capabilities{
			BmissEnhance:    true,
			WowMcastFilter:  true,
			ScanRSSIFilter:  true,
			SchedScanMatch:  true,
			DeepSleep:       true,
			P2P:             true,
			MaxNormalIfaces: 2,
		},
		Networks: []wire.BSSInfo{
			{BSSID: wire.MACAddr{0x02, 0xaa, 0, 0, 0, 1}, SSID: []byte("home"), Channel: 2437, RSSI: -45, BeaconInterval: 100},
			{BSSID: wire.MACAddr{0x02, 0xaa, 0, 0, 0, 2}, SSID: []byte("office"), Channel: 5180, RSSI: -67, BeaconInterval: 100},
		},
		WakeReason: wire.WakeMagicPacket,
	}
}

// Command is a command received from the host.
type Command struct {
	Seq       uint32
	Opcode    wire.Opcode
	Interface uint8
	Payload   cbor.RawMessage
}

// Decode unmarshals the command payload into v.
func (c Command) Decode(v any) error {
	return wire.DecodePayload(c.Payload, v)
}

// Handlers holds callbacks for simulator activity.
type Handlers struct {
	// OnCommand is called for every command after it is recorded and
	// before it is answered. It runs with no simulator lock held.
	OnCommand func(cmd Command)
}

type link struct {
	ssid    []byte
	bssid   wire.MACAddr
	channel uint16
}

// held is a reply and its events withheld by Hold.
type held struct {
	op     wire.Opcode
	frames [][]byte
}

// Firmware is the simulated chip.
type Firmware struct {
	// Handlers are callbacks for simulator activity.
	Handlers Handlers

	mu        sync.Mutex
	config    Config
	powered   bool
	running   bool
	down      chan struct{}
	rx        chan []byte
	brk       chan error
	commands  []Command
	fail      map[wire.Opcode]wire.Status
	drop      map[wire.Opcode]bool
	mute      map[wire.Opcode]bool
	hold      map[wire.Opcode]bool
	held      []held
	ifaces    map[uint8]wire.MACAddr
	links     map[uint8]link
	scanning  map[uint8]bool
	remain    map[uint8]wire.RemainOnChannelInfo
	loadFails int
	powerOns  int
	loads     int
	overflow  int
}

// New creates a powered-off simulator.
func New(config Config) *Firmware {
	f := &Firmware{
		config:   config,
		down:     closedChan(),
		rx:       make(chan []byte, rxQueueDepth),
		brk:      make(chan error, 1),
		fail:     make(map[wire.Opcode]wire.Status),
		drop:     make(map[wire.Opcode]bool),
		mute:     make(map[wire.Opcode]bool),
		hold:     make(map[wire.Opcode]bool),
	}
	f.resetLocked()
	return f
}

// resetLocked forgets all per-boot firmware state.
func (f *Firmware) resetLocked() {
	f.ifaces = map[uint8]wire.MACAddr{0: f.config.MAC}
	f.links = make(map[uint8]link)
	f.scanning = make(map[uint8]bool)
	f.remain = make(map[uint8]wire.RemainOnChannelInfo)
}

func closedChan() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

// PowerOn powers the simulated chip. The firmware does not run until
// LoadAndStart.
func (f *Firmware) PowerOn(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.powered {
		return nil
	}
	f.powered = true
	f.powerOns++
	f.down = make(chan struct{})
	f.rx = make(chan []byte, rxQueueDepth)
	return nil
}

// PowerOff removes power. Queued frames and withheld replies are lost and
// firmware state is reset.
func (f *Firmware) PowerOff() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.powered {
		return nil
	}
	f.powered = false
	f.running = false
	close(f.down)
	f.held = nil
	f.resetLocked()
	return nil
}

// LoadAndStart boots the firmware, which announces itself with Ready.
func (f *Firmware) LoadAndStart(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.powered {
		return transport.ErrPoweredOff
	}
	f.loads++
	if f.loadFails > 0 {
		f.loadFails--
		return ErrLoadFailed
	}
	f.running = true
	f.resetLocked()
	f.emitLocked(wire.EvReady, 0, wire.ReadyInfo{
		MAC:             f.config.MAC,
		FirmwareVersion: f.config.FirmwareVersion,
		MaxInterfaces:   f.config.MaxInterfaces,
		Capabilities:    f.config.Capabilities,
	})
	return nil
}

// Send accepts one command frame from the host.
func (f *Firmware) Send(data []byte) error {
	frame, err := wire.DecodeFrame(data)
	if err != nil {
		return err
	}

	f.mu.Lock()
	if !f.powered {
		f.mu.Unlock()
		return transport.ErrPoweredOff
	}
	if !f.running {
		f.mu.Unlock()
		return ErrNotRunning
	}
	if frame.Kind != wire.FrameCommand {
		f.mu.Unlock()
		return nil
	}
	cmd := Command{
		Seq:       frame.Command.Seq,
		Opcode:    frame.Command.Opcode,
		Interface: frame.Command.Interface,
		Payload:   frame.Command.Payload,
	}
	f.commands = append(f.commands, cmd)
	onCommand := f.Handlers.OnCommand
	f.mu.Unlock()

	if onCommand != nil {
		onCommand(cmd)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.powered {
		return nil
	}
	if f.drop[cmd.Opcode] {
		return nil
	}
	if status, ok := f.fail[cmd.Opcode]; ok {
		f.replyLocked(cmd, status, nil)
		return nil
	}

	if f.hold[cmd.Opcode] {
		// Capture the reply and events instead of queueing them.
		rx := f.rx
		f.rx = make(chan []byte, rxQueueDepth)
		f.handleLocked(cmd)
		captured := collect(f.rx)
		f.rx = rx
		f.held = append(f.held, held{op: cmd.Opcode, frames: captured})
		return nil
	}
	f.handleLocked(cmd)
	return nil
}

func collect(ch chan []byte) [][]byte {
	var out [][]byte
	for {
		select {
		case data := <-ch:
			out = append(out, data)
		default:
			return out
		}
	}
}

// Recv blocks for the next frame to the host.
func (f *Firmware) Recv(ctx context.Context) ([]byte, error) {
	f.mu.Lock()
	rx, down, brk, powered := f.rx, f.down, f.brk, f.powered
	f.mu.Unlock()
	if !powered {
		return nil, transport.ErrPoweredOff
	}

	select {
	case data := <-rx:
		return data, nil
	case err := <-brk:
		return nil, err
	case <-down:
		return nil, transport.ErrPoweredOff
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *Firmware) queueLocked(frame *wire.Frame) {
	data, err := wire.EncodeFrame(frame)
	if err != nil {
		panic("fwsim: encode frame: " + err.Error())
	}
	select {
	case f.rx <- data:
	default:
		f.overflow++
	}
}

func (f *Firmware) replyLocked(cmd Command, status wire.Status, payload any) {
	frame, err := wire.NewReplyFrame(cmd.Seq, status, payload)
	if err != nil {
		panic("fwsim: reply frame: " + err.Error())
	}
	f.queueLocked(frame)
}

func (f *Firmware) emitLocked(code wire.EventCode, iface uint8, payload any) {
	frame, err := wire.NewEventFrame(code, iface, payload)
	if err != nil {
		panic("fwsim: event frame: " + err.Error())
	}
	f.queueLocked(frame)
}

func (f *Firmware) findNetwork(ssid []byte, bssid wire.MACAddr) (wire.BSSInfo, bool) {
	for _, n := range f.config.Networks {
		if !bssid.IsZero() && n.BSSID != bssid {
			continue
		}
		if len(ssid) == 0 || bytes.Equal(n.SSID, ssid) {
			return n, true
		}
	}
	return wire.BSSInfo{}, false
}
