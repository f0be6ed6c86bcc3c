package device

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/wlanfw/wlanfw-go/pkg/command"
	"github.com/wlanfw/wlanfw-go/pkg/connection"
	"github.com/wlanfw/wlanfw-go/pkg/event"
	"github.com/wlanfw/wlanfw-go/pkg/log"
	"github.com/wlanfw/wlanfw-go/pkg/power"
	"github.com/wlanfw/wlanfw-go/pkg/scan"
	"github.com/wlanfw/wlanfw-go/pkg/vif"
	"github.com/wlanfw/wlanfw-go/pkg/wire"
)

// Device errors.
var (
	ErrInvalidConfig  = errors.New("invalid configuration")
	ErrAlreadyStarted = errors.New("device already started")
	ErrNotStarted     = errors.New("device not started")
)

// Defaults not owned by a component package.
const (
	DefaultReadyTimeout    = 5 * time.Second
	DefaultTeardownTimeout = 3 * time.Second
	DefaultBringUpAttempts = 3
)

// DeviceState is the lifecycle state of a Device.
type DeviceState uint8

const (
	// StateIdle - device created but not started.
	StateIdle DeviceState = iota

	// StateStarting - firmware bring-up in progress.
	StateStarting

	// StateRunning - firmware ready, caller API available.
	StateRunning

	// StateStopping - teardown in progress.
	StateStopping

	// StateStopped - torn down.
	StateStopped
)

// String returns the state name.
func (s DeviceState) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateStarting:
		return "STARTING"
	case StateRunning:
		return "RUNNING"
	case StateStopping:
		return "STOPPING"
	case StateStopped:
		return "STOPPED"
	default:
		return "UNKNOWN"
	}
}

// CapabilityOverrides force individual firmware capabilities on or off.
// A nil field keeps what firmware reports.
type CapabilityOverrides struct {
	BmissEnhance   *bool
	WowMcastFilter *bool
	ScanRSSIFilter *bool
	SchedScanMatch *bool
	AdHocExclusive *bool
	DeepSleep      *bool
	P2P            *bool
}

// Apply returns caps with the overrides applied.
func (o CapabilityOverrides) Apply(caps wire.Capabilities) wire.Capabilities {
	set := func(dst *bool, v *bool) {
		if v != nil {
			*dst = *v
		}
	}
	set(&caps.BmissEnhance, o.BmissEnhance)
	set(&caps.WowMcastFilter, o.WowMcastFilter)
	set(&caps.ScanRSSIFilter, o.ScanRSSIFilter)
	set(&caps.SchedScanMatch, o.SchedScanMatch)
	set(&caps.AdHocExclusive, o.AdHocExclusive)
	set(&caps.DeepSleep, o.DeepSleep)
	set(&caps.P2P, o.P2P)
	return caps
}

// Callbacks receive asynchronous notifications. They run on the event
// goroutine or the follow-up worker and must not block.
type Callbacks struct {
	OnConnected        func(h vif.Handle, r connection.ConnectResult)
	OnDisconnected     func(h vif.Handle, reason wire.DisconnectReason)
	OnRoamed           func(h vif.Handle, bssid wire.MACAddr, channel uint16)
	OnScanComplete     func(r scan.Result)
	OnWake             func(reason wire.WakeReason)
	OnPowerStateChange func(from, to power.State)

	// OnRemainOnChannel fires when the radio parks on or leaves the
	// requested channel.
	OnRemainOnChannel func(h vif.Handle, cookie uint64, info wire.RemainOnChannelInfo, cancelled bool)

	// OnActionTxStatus reports whether a sent action frame was acked.
	OnActionTxStatus func(h vif.Handle, cookie uint64, ack bool)
}

// Config configures a Device.
type Config struct {
	// CommandTimeout bounds the wait for one command reply.
	CommandTimeout time.Duration

	// AcquireTimeout bounds the wait for the command token.
	AcquireTimeout time.Duration

	// InterfaceReadyTimeout bounds the wait for InterfaceReady after
	// CreateInterface.
	InterfaceReadyTimeout time.Duration

	// HostSleepTimeout bounds the wait for HostSleepProcessed on suspend.
	HostSleepTimeout time.Duration

	// ReadyTimeout bounds the wait for the firmware Ready event.
	ReadyTimeout time.Duration

	// HandshakeTimeout bounds the wait for the group key on PSK links.
	HandshakeTimeout time.Duration

	// TeardownTimeout bounds Close.
	TeardownTimeout time.Duration

	// EventQueueDepth is the capacity of the event and work queues.
	EventQueueDepth int

	// Capabilities override what firmware reports.
	Capabilities CapabilityOverrides

	// BringUpBackoff spaces firmware load retries.
	BringUpBackoff BackoffConfig

	// BringUpAttempts is the number of firmware load attempts at Start.
	BringUpAttempts int

	// Callbacks receive link, scan and power notifications.
	Callbacks Callbacks

	// Logger is the operational logger. If nil, slog.Default() is used.
	Logger *slog.Logger

	// ProtocolLogger receives protocol trace events. If nil, tracing is
	// disabled.
	ProtocolLogger log.Logger
}

// DefaultConfig returns a Config with the component defaults.
func DefaultConfig() Config {
	return Config{
		CommandTimeout:        command.DefaultCommandTimeout,
		AcquireTimeout:        command.DefaultAcquireTimeout,
		InterfaceReadyTimeout: vif.DefaultReadyTimeout,
		HostSleepTimeout:      power.DefaultHostSleepTimeout,
		ReadyTimeout:          DefaultReadyTimeout,
		HandshakeTimeout:      connection.DefaultHandshakeTimeout,
		TeardownTimeout:       DefaultTeardownTimeout,
		EventQueueDepth:       event.DefaultQueueDepth,
		BringUpBackoff:        DefaultBackoffConfig(),
		BringUpAttempts:       DefaultBringUpAttempts,
	}
}

// Validate checks if the config is valid. Zero values are accepted and
// take defaults.
func (c *Config) Validate() error {
	for _, d := range []struct {
		name string
		v    time.Duration
	}{
		{"command timeout", c.CommandTimeout},
		{"acquire timeout", c.AcquireTimeout},
		{"interface ready timeout", c.InterfaceReadyTimeout},
		{"host sleep timeout", c.HostSleepTimeout},
		{"ready timeout", c.ReadyTimeout},
		{"handshake timeout", c.HandshakeTimeout},
		{"teardown timeout", c.TeardownTimeout},
		{"backoff initial", c.BringUpBackoff.Initial},
		{"backoff max", c.BringUpBackoff.Max},
	} {
		if d.v < 0 {
			return fmt.Errorf("%w: negative %s", ErrInvalidConfig, d.name)
		}
	}
	if c.EventQueueDepth < 0 {
		return fmt.Errorf("%w: negative event queue depth", ErrInvalidConfig)
	}
	if c.BringUpAttempts < 0 {
		return fmt.Errorf("%w: negative bring-up attempts", ErrInvalidConfig)
	}
	if c.BringUpBackoff.Multiplier != 0 && c.BringUpBackoff.Multiplier < 1 {
		return fmt.Errorf("%w: backoff multiplier below 1", ErrInvalidConfig)
	}
	if c.BringUpBackoff.Jitter < 0 || c.BringUpBackoff.Jitter > 1 {
		return fmt.Errorf("%w: backoff jitter outside [0, 1]", ErrInvalidConfig)
	}
	return nil
}

// applyDefaults fills zero values from DefaultConfig.
func (c *Config) applyDefaults() {
	d := DefaultConfig()
	fill := func(dst *time.Duration, v time.Duration) {
		if *dst == 0 {
			*dst = v
		}
	}
	fill(&c.CommandTimeout, d.CommandTimeout)
	fill(&c.AcquireTimeout, d.AcquireTimeout)
	fill(&c.InterfaceReadyTimeout, d.InterfaceReadyTimeout)
	fill(&c.HostSleepTimeout, d.HostSleepTimeout)
	fill(&c.ReadyTimeout, d.ReadyTimeout)
	fill(&c.HandshakeTimeout, d.HandshakeTimeout)
	fill(&c.TeardownTimeout, d.TeardownTimeout)
	if c.EventQueueDepth == 0 {
		c.EventQueueDepth = d.EventQueueDepth
	}
	if c.BringUpAttempts == 0 {
		c.BringUpAttempts = d.BringUpAttempts
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}
