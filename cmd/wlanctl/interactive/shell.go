// Package interactive provides the interactive command-line interface of
// wlanctl.
package interactive

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/chzyer/readline"

	"github.com/wlanfw/wlanfw-go/pkg/connection"
	"github.com/wlanfw/wlanfw-go/pkg/device"
	"github.com/wlanfw/wlanfw-go/pkg/power"
	"github.com/wlanfw/wlanfw-go/pkg/scan"
	"github.com/wlanfw/wlanfw-go/pkg/vif"
)

// commandTimeout bounds one shell command.
const commandTimeout = 10 * time.Second

// Shell runs shell commands against a device.
type Shell struct {
	dev *device.Device
	out io.Writer
	rl  *readline.Instance
}

// New creates a readline-backed shell. historyFile may be empty.
func New(dev *device.Device, historyFile string) (*Shell, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "wlan> ",
		HistoryFile:     historyFile,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
		AutoComplete:    completer(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create readline: %w", err)
	}
	return &Shell{dev: dev, out: rl.Stdout(), rl: rl}, nil
}

// NewWithWriter creates a shell without a terminal, for scripted use.
func NewWithWriter(dev *device.Device, out io.Writer) *Shell {
	return &Shell{dev: dev, out: out}
}

// Stdout returns a writer that properly coordinates with the readline input.
// Use this for log output to avoid interfering with the command prompt.
func (s *Shell) Stdout() io.Writer {
	return s.out
}

func completer() *readline.PrefixCompleter {
	return readline.NewPrefixCompleter(
		readline.PcItem("status"),
		readline.PcItem("ifaces"),
		readline.PcItem("add",
			readline.PcItem("sta"), readline.PcItem("ap"), readline.PcItem("adhoc"),
			readline.PcItem("p2p-client"), readline.PcItem("p2p-go"), readline.PcItem("p2p-device")),
		readline.PcItem("del"),
		readline.PcItem("connect"),
		readline.PcItem("disconnect"),
		readline.PcItem("scan"),
		readline.PcItem("sched-start"),
		readline.PcItem("sched-stop"),
		readline.PcItem("suspend",
			readline.PcItem("wow"), readline.PcItem("deepsleep"), readline.PcItem("cutpower")),
		readline.PcItem("resume"),
		readline.PcItem("help"),
		readline.PcItem("quit"),
	)
}

// Run starts the interactive command loop.
func (s *Shell) Run(ctx context.Context, cancel context.CancelFunc) {
	defer s.rl.Close()

	s.printHelp()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line, err := s.rl.Readline()
		if err != nil {
			// EOF or interrupt
			if err == readline.ErrInterrupt {
				continue
			}
			fmt.Fprintln(s.out, "Exiting...")
			cancel()
			return
		}

		if s.Exec(ctx, line) {
			fmt.Fprintln(s.out, "Exiting...")
			cancel()
			return
		}
	}
}

// Exec runs one command line and reports whether the shell should exit.
func (s *Shell) Exec(ctx context.Context, line string) (quit bool) {
	parts := strings.Fields(strings.TrimSpace(line))
	if len(parts) == 0 {
		return false
	}
	cmd := strings.ToLower(parts[0])
	args := parts[1:]

	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	var err error
	switch cmd {
	case "help", "?":
		s.printHelp()
	case "status":
		s.cmdStatus()
	case "ifaces", "ls":
		s.cmdIfaces()
	case "add":
		err = s.cmdAdd(ctx, args)
	case "del":
		err = s.cmdDel(ctx, args)
	case "connect":
		err = s.cmdConnect(ctx, args)
	case "disconnect":
		err = s.cmdDisconnect(ctx, args)
	case "scan":
		err = s.cmdScan(ctx, args)
	case "sched-start":
		err = s.cmdSchedStart(ctx, args)
	case "sched-stop":
		err = s.dev.StopScheduledScan(ctx)
	case "suspend":
		err = s.cmdSuspend(ctx, args)
	case "resume":
		err = s.cmdResume(ctx)
	case "quit", "exit", "q":
		return true
	default:
		fmt.Fprintf(s.out, "Unknown command: %s (type 'help' for commands)\n", cmd)
	}
	if err != nil {
		fmt.Fprintf(s.out, "Error: %v\n", err)
	}
	return false
}

func (s *Shell) printHelp() {
	fmt.Fprintln(s.out, `
wlanctl Commands:
  Device:
    status                             - Show device status
    ifaces                             - List interfaces and links
    add <role>                         - Add an interface (sta, ap, adhoc, p2p-*)
    del <idx>                          - Remove an interface

  Links:
    connect <idx> <ssid> [passphrase]  - Join a network (WPA2-PSK with passphrase)
    disconnect <idx>                   - Leave the network

  Scanning:
    scan <idx>                         - Scan all channels
    sched-start <idx> [ssid...]        - Start a scheduled scan
    sched-stop                         - Stop the scheduled scan

  Power:
    suspend <wow [ssid...]|deepsleep|cutpower> - Suspend; wow SSIDs wake on network found
    resume                             - Resume the device

  General:
    help                               - Show this help
    quit                               - Exit`)
}

// handle resolves an interface index argument to its live handle.
func (s *Shell) handle(arg string) (vif.Handle, error) {
	idx, err := strconv.ParseUint(arg, 10, 8)
	if err != nil {
		return vif.Handle{}, fmt.Errorf("invalid interface index %q", arg)
	}
	for _, i := range s.dev.Interfaces() {
		if i.Handle.Index == uint8(idx) {
			return i.Handle, nil
		}
	}
	return vif.Handle{}, fmt.Errorf("no interface %d", idx)
}

func (s *Shell) cmdStatus() {
	info := s.dev.Info()
	fmt.Fprintf(s.out, "Session:    %s\n", info.SessionID)
	fmt.Fprintf(s.out, "State:      %s\n", info.State)
	fmt.Fprintf(s.out, "MAC:        %s\n", info.MAC)
	fmt.Fprintf(s.out, "Firmware:   %s\n", info.FirmwareVersion)
	fmt.Fprintf(s.out, "Power:      %s (mode %s)\n", info.Power, info.PowerMode)
	if info.Fault != nil {
		fmt.Fprintf(s.out, "Fault:      %v\n", info.Fault)
	}
	fmt.Fprintf(s.out, "Interfaces: %d\n", len(info.Interfaces))
	fmt.Fprintf(s.out, "Commands:   %d sent, %d failed, %d timed out\n",
		info.Command.Submitted, info.Command.Failed, info.Command.TimedOut)
}

func (s *Shell) cmdIfaces() {
	info := s.dev.Info()
	if len(info.Interfaces) == 0 {
		fmt.Fprintln(s.out, "No interfaces")
		return
	}
	for _, i := range info.Interfaces {
		fmt.Fprintf(s.out, "  %d  %-10s %s  %s", i.Handle.Index, i.Role, i.MAC, i.Link.State)
		if len(i.Link.SSID) > 0 {
			fmt.Fprintf(s.out, "  ssid=%q bssid=%s ch=%d", i.Link.SSID, i.Link.BSSID, i.Link.Channel)
		}
		fmt.Fprintln(s.out)
	}
}

func (s *Shell) cmdAdd(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: add <role>")
	}
	role, err := vif.ParseRole(args[0])
	if err != nil {
		return err
	}
	h, err := s.dev.AddInterface(ctx, role)
	if err != nil {
		return err
	}
	fmt.Fprintf(s.out, "Added %s interface %d\n", role, h.Index)
	return nil
}

func (s *Shell) cmdDel(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: del <idx>")
	}
	h, err := s.handle(args[0])
	if err != nil {
		return err
	}
	if err := s.dev.RemoveInterface(ctx, h); err != nil {
		return err
	}
	fmt.Fprintf(s.out, "Removed interface %d\n", h.Index)
	return nil
}

// connectParams builds the join parameters for a shell connect.
func connectParams(args []string) (connection.Params, error) {
	if len(args) < 2 || len(args) > 3 {
		return connection.Params{}, fmt.Errorf("usage: connect <idx> <ssid> [passphrase]")
	}
	p := connection.Params{SSID: []byte(args[1])}
	if len(args) == 3 {
		p.Security = connection.Security{
			Auth:       connection.AuthWPA2PSK,
			Cipher:     connection.CipherCCMP,
			Passphrase: args[2],
		}
	}
	return p, nil
}

func (s *Shell) cmdConnect(ctx context.Context, args []string) error {
	p, err := connectParams(args)
	if err != nil {
		return err
	}
	h, err := s.handle(args[0])
	if err != nil {
		return err
	}
	if err := s.dev.Connect(ctx, h, p); err != nil {
		return err
	}
	fmt.Fprintf(s.out, "Connecting interface %d to %q...\n", h.Index, p.SSID)
	return nil
}

func (s *Shell) cmdDisconnect(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: disconnect <idx>")
	}
	h, err := s.handle(args[0])
	if err != nil {
		return err
	}
	return s.dev.Disconnect(ctx, h)
}

func (s *Shell) cmdScan(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: scan <idx>")
	}
	h, err := s.handle(args[0])
	if err != nil {
		return err
	}
	t, err := s.dev.Scan(ctx, h, scan.Request{})
	if err != nil {
		return err
	}
	fmt.Fprintf(s.out, "Scan %s started\n", t.ID)
	return nil
}

func (s *Shell) cmdSchedStart(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: sched-start <idx> [ssid...]")
	}
	h, err := s.handle(args[0])
	if err != nil {
		return err
	}
	req := scan.SchedRequest{Interval: 30 * time.Second}
	for _, ssid := range args[1:] {
		req.SSIDs = append(req.SSIDs, []byte(ssid))
	}
	if err := s.dev.StartScheduledScan(ctx, h, req); err != nil {
		return err
	}
	fmt.Fprintf(s.out, "Scheduled scan started on interface %d\n", h.Index)
	return nil
}

func (s *Shell) cmdSuspend(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: suspend <wow [ssid...]|deepsleep|cutpower>")
	}
	mode, err := power.ParseMode(args[0])
	if err != nil {
		return err
	}
	if mode != power.ModeWakeOnWireless && len(args) > 1 {
		return fmt.Errorf("usage: suspend <wow [ssid...]|deepsleep|cutpower>")
	}
	var wow *power.WowConfig
	if mode == power.ModeWakeOnWireless {
		wow = &power.WowConfig{Disconnect: true, MagicPacket: true}
		if len(args) > 1 {
			nd := &power.NetDetect{}
			for _, ssid := range args[1:] {
				nd.SSIDs = append(nd.SSIDs, []byte(ssid))
			}
			wow.NetDetect = nd
		}
	}
	if err := s.dev.Suspend(ctx, mode, wow); err != nil {
		return err
	}
	fmt.Fprintf(s.out, "Suspended (%s)\n", s.dev.PowerState())
	return nil
}

func (s *Shell) cmdResume(ctx context.Context) error {
	reason, err := s.dev.Resume(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(s.out, "Resumed (wake reason %s)\n", reason)
	return nil
}
