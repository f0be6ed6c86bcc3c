// Package config loads device configuration from YAML files.
//
// Durations are written as Go duration strings and unknown keys are
// rejected:
//
//	timeouts:
//	  command: 250ms
//	  ready: 5s
//	capabilities:
//	  deep_sleep: false
//	bringup:
//	  attempts: 5
//	log:
//	  level: debug
//	  trace: /var/log/wlan.cbor
//
// Values that are omitted keep the defaults of device.DefaultConfig.
package config

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/wlanfw/wlanfw-go/pkg/device"
)

// Load reads the device configuration from a file.
func Load(path string) (*device.Config, error) {
	f, err := LoadFile(path)
	if err != nil {
		return nil, err
	}
	return f.DeviceConfig()
}

// Parse reads the device configuration from YAML bytes.
func Parse(data []byte) (*device.Config, error) {
	f, err := ParseFile(data)
	if err != nil {
		return nil, err
	}
	return f.DeviceConfig()
}

// LoadFile reads a configuration file, including the log section.
func LoadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &LoadError{
			File:    path,
			Message: "failed to read file",
			Cause:   err,
		}
	}

	f, err := ParseFile(data)
	if err != nil {
		var le *LoadError
		if errors.As(err, &le) {
			le.File = path
			return nil, le
		}
		return nil, &LoadError{File: path, Message: err.Error()}
	}
	return f, nil
}

// ParseFile parses a configuration file from YAML bytes. Empty input
// yields an empty File.
func ParseFile(data []byte) (*File, error) {
	var f File
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		var le *LoadError
		if errors.As(err, &le) {
			return nil, le
		}
		return nil, &LoadError{
			Message: "failed to parse YAML",
			Cause:   err,
		}
	}

	if _, err := f.Log.SlogLevel(); err != nil {
		return nil, err
	}
	return &f, nil
}

// DeviceConfig overlays f on device.DefaultConfig and validates the result.
func (f *File) DeviceConfig() (*device.Config, error) {
	cfg := device.DefaultConfig()

	t := f.Timeouts
	t.Command.apply(&cfg.CommandTimeout)
	t.Acquire.apply(&cfg.AcquireTimeout)
	t.InterfaceReady.apply(&cfg.InterfaceReadyTimeout)
	t.HostSleep.apply(&cfg.HostSleepTimeout)
	t.Ready.apply(&cfg.ReadyTimeout)
	t.Handshake.apply(&cfg.HandshakeTimeout)
	t.Teardown.apply(&cfg.TeardownTimeout)

	c := f.Capabilities
	cfg.Capabilities = device.CapabilityOverrides{
		BmissEnhance:   c.BmissEnhance,
		WowMcastFilter: c.WowMcastFilter,
		ScanRSSIFilter: c.ScanRSSIFilter,
		SchedScanMatch: c.SchedScanMatch,
		AdHocExclusive: c.AdHocExclusive,
		DeepSleep:      c.DeepSleep,
		P2P:            c.P2P,
	}

	if f.Events.QueueDepth != 0 {
		cfg.EventQueueDepth = f.Events.QueueDepth
	}

	b := f.BringUp
	if b.Attempts != 0 {
		cfg.BringUpAttempts = b.Attempts
	}
	b.Initial.apply(&cfg.BringUpBackoff.Initial)
	b.Max.apply(&cfg.BringUpBackoff.Max)
	if b.Multiplier != 0 {
		cfg.BringUpBackoff.Multiplier = b.Multiplier
	}
	if b.Jitter != nil {
		cfg.BringUpBackoff.Jitter = *b.Jitter
	}

	if err := cfg.Validate(); err != nil {
		return nil, &LoadError{Message: "invalid configuration", Cause: err}
	}
	return &cfg, nil
}

// SlogLevel returns the configured log level. An empty level is info.
func (l Log) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if l.Level == "" {
		return slog.LevelInfo, nil
	}
	if err := level.UnmarshalText([]byte(strings.ToUpper(l.Level))); err != nil {
		return 0, &LoadError{Message: "invalid log level " + l.Level, Cause: err}
	}
	return level, nil
}
