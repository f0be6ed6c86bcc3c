// Command wlanctl drives a wireless firmware device from an interactive
// shell.
//
// The device runs over the in-process firmware simulator, which makes
// wlanctl a convenient way to exercise the driver's state machines by
// hand and to produce protocol traces for wlan-log.
//
// Usage:
//
//	wlanctl [flags]
//
// Flags:
//
//	-config string       YAML configuration file path
//	-trace string        Write a CBOR protocol trace to this file
//	-log-level string    Log level: debug, info, warn, error (default "info")
//	-wake-reason string  Wake reason the simulator reports (default "magic_packet")
//	-history string      Shell history file
//
// Examples:
//
//	# Start with defaults
//	wlanctl
//
//	# Load timeouts from a file and trace the session
//	wlanctl -config /etc/wlan/wlan.yaml -trace wlan.cbor -log-level debug
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/wlanfw/wlanfw-go/cmd/wlanctl/interactive"
	"github.com/wlanfw/wlanfw-go/internal/fwsim"
	"github.com/wlanfw/wlanfw-go/pkg/config"
	"github.com/wlanfw/wlanfw-go/pkg/connection"
	"github.com/wlanfw/wlanfw-go/pkg/device"
	"github.com/wlanfw/wlanfw-go/pkg/log"
	"github.com/wlanfw/wlanfw-go/pkg/power"
	"github.com/wlanfw/wlanfw-go/pkg/scan"
	"github.com/wlanfw/wlanfw-go/pkg/vif"
	"github.com/wlanfw/wlanfw-go/pkg/wire"
)

// Options holds the command line options.
type Options struct {
	ConfigFile  string
	TraceFile   string
	LogLevel    string
	WakeReason  string
	HistoryFile string
}

var opts Options

func init() {
	flag.StringVar(&opts.ConfigFile, "config", "", "YAML configuration file path")
	flag.StringVar(&opts.TraceFile, "trace", "", "Write a CBOR protocol trace to this file")
	flag.StringVar(&opts.LogLevel, "log-level", "", "Log level: debug, info, warn, error (overrides the config file)")
	flag.StringVar(&opts.WakeReason, "wake-reason", "magic_packet", "Wake reason the simulator reports after WoW suspend")
	flag.StringVar(&opts.HistoryFile, "history", "", "Shell history file")
}

// console is the shared output of logs and callbacks. It starts on stdout
// and moves to the shell's writer once the shell exists.
type console struct {
	mu sync.Mutex
	w  io.Writer
}

func (c *console) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.w.Write(p)
}

func (c *console) set(w io.Writer) {
	c.mu.Lock()
	c.w = w
	c.mu.Unlock()
}

func (c *console) printf(format string, args ...any) {
	fmt.Fprintf(c, format+"\n", args...)
}

func main() {
	flag.Parse()
	out := &console{w: os.Stdout}

	file := &config.File{}
	if opts.ConfigFile != "" {
		f, err := config.LoadFile(opts.ConfigFile)
		if err != nil {
			fatal("Failed to load config: %v", err)
		}
		file = f
	}
	if opts.LogLevel != "" {
		file.Log.Level = opts.LogLevel
	}
	if opts.TraceFile != "" {
		file.Log.Trace = opts.TraceFile
	}

	level, err := file.Log.SlogLevel()
	if err != nil {
		fatal("Invalid log level: %v", err)
	}
	logger := slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: level}))

	cfg, err := file.DeviceConfig()
	if err != nil {
		fatal("Invalid config: %v", err)
	}
	cfg.Logger = logger
	cfg.Callbacks = callbacks(out)

	var trace *log.FileLogger
	var sinks []log.Logger
	if file.Log.Trace != "" {
		trace, err = log.NewFileLogger(file.Log.Trace)
		if err != nil {
			fatal("Failed to open trace file: %v", err)
		}
		sinks = append(sinks, trace)
		logger.Info("tracing protocol", "file", file.Log.Trace)
	}
	if level <= slog.LevelDebug {
		// Commands and events only; raw frames would flood the console.
		sinks = append(sinks, log.NewSlogAdapter(logger, log.LayerCommand, log.LayerEvent, log.LayerDriver))
	}
	if len(sinks) > 0 {
		cfg.ProtocolLogger = log.NewMultiLogger(sinks...)
	}

	reason, err := parseWakeReason(opts.WakeReason)
	if err != nil {
		fatal("Invalid wake reason: %v", err)
	}
	simCfg := fwsim.DefaultConfig()
	simCfg.WakeReason = reason
	fw := fwsim.New(simCfg)

	dev, err := device.New(*cfg, fw, fw)
	if err != nil {
		fatal("Failed to create device: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	startCtx, startCancel := context.WithTimeout(ctx, 30*time.Second)
	err = dev.Start(startCtx)
	startCancel()
	if err != nil {
		fatal("Failed to start device: %v", err)
	}
	info := dev.Info()
	logger.Info("device started", "mac", info.MAC, "firmware", info.FirmwareVersion, "session", info.SessionID)

	sh, err := interactive.New(dev, opts.HistoryFile)
	if err != nil {
		fatal("Failed to create shell: %v", err)
	}
	// Route log output through readline to avoid interfering with input
	out.set(sh.Stdout())
	go sh.Run(ctx, cancel)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("received signal", "signal", sig)
	case <-ctx.Done():
	}

	closeCtx, closeCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer closeCancel()
	if err := dev.Close(closeCtx); err != nil {
		logger.Warn("close failed", "error", err)
	}
	if trace != nil {
		if err := trace.Close(); err != nil {
			logger.Warn("closing trace failed", "error", err)
		} else {
			logger.Info("trace written", "file", file.Log.Trace, "events", trace.Count())
		}
	}
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

// callbacks prints device notifications to out.
func callbacks(out *console) device.Callbacks {
	return device.Callbacks{
		OnConnected: func(h vif.Handle, r connection.ConnectResult) {
			if r.Success {
				out.printf("[EVENT] %s connected to %q (%s, channel %d)", h, r.SSID, r.BSSID, r.Channel)
				return
			}
			out.printf("[EVENT] %s failed to connect to %q: %s", h, r.SSID, r.Reason)
		},
		OnDisconnected: func(h vif.Handle, reason wire.DisconnectReason) {
			out.printf("[EVENT] %s disconnected: %s", h, reason)
		},
		OnRoamed: func(h vif.Handle, bssid wire.MACAddr, channel uint16) {
			out.printf("[EVENT] %s roamed to %s (channel %d)", h, bssid, channel)
		},
		OnScanComplete: func(r scan.Result) {
			status := "complete"
			if r.Aborted {
				status = "aborted"
			}
			out.printf("[EVENT] scan %s on if%d %s, %d BSS", r.Ticket.ID, r.Ticket.Interface, status, len(r.BSS))
			for _, bss := range r.BSS {
				out.printf("          %-32q %s  %5d MHz  %4d dBm", bss.SSID, bss.BSSID, bss.Channel, bss.RSSI)
			}
		},
		OnWake: func(reason wire.WakeReason) {
			out.printf("[EVENT] woken by firmware: %s", reason)
		},
		OnPowerStateChange: func(from, to power.State) {
			out.printf("[EVENT] power %s -> %s", from, to)
		},
		OnRemainOnChannel: func(h vif.Handle, cookie uint64, info wire.RemainOnChannelInfo, cancelled bool) {
			out.printf("[EVENT] %s remain on channel %d MHz (cookie %d, cancelled %t)", h, info.Freq, cookie, cancelled)
		},
		OnActionTxStatus: func(h vif.Handle, cookie uint64, ack bool) {
			out.printf("[EVENT] %s action frame %d ack=%t", h, cookie, ack)
		},
	}
}

// parseWakeReason accepts the wake reason names in any case.
func parseWakeReason(s string) (wire.WakeReason, error) {
	name := strings.ToUpper(strings.ReplaceAll(s, "-", "_"))
	for r := wire.WakeNone; r <= wire.WakeFourWayHandshake; r++ {
		if r.String() == name {
			return r, nil
		}
	}
	return 0, fmt.Errorf("unknown wake reason %q", s)
}
