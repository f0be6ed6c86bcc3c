package config

import (
	"fmt"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// LoadError provides details about a configuration loading error.
type LoadError struct {
	// File is the path to the file that failed to load, if any.
	File string

	// Line is the line number where the error occurred (0 if unknown).
	Line int

	// Message describes the error.
	Message string

	// Cause is the underlying error, if any.
	Cause error
}

func (e *LoadError) Error() string {
	msg := e.Message
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	switch {
	case e.File != "" && e.Line > 0:
		return e.File + ":" + strconv.Itoa(e.Line) + ": " + msg
	case e.File != "":
		return e.File + ": " + msg
	case e.Line > 0:
		return "line " + strconv.Itoa(e.Line) + ": " + msg
	}
	return msg
}

func (e *LoadError) Unwrap() error {
	return e.Cause
}

// Duration is a time.Duration written as a Go duration string ("250ms").
type Duration struct {
	time.Duration
	set bool
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return &LoadError{Line: node.Line, Message: "duration must be a string such as \"250ms\""}
	}
	v, err := time.ParseDuration(node.Value)
	if err != nil {
		return &LoadError{Line: node.Line, Message: fmt.Sprintf("invalid duration %q", node.Value), Cause: err}
	}
	if v < 0 {
		return &LoadError{Line: node.Line, Message: fmt.Sprintf("negative duration %q", node.Value)}
	}
	d.Duration, d.set = v, true
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return d.Duration.String(), nil
}

func (d Duration) apply(dst *time.Duration) {
	if d.set {
		*dst = d.Duration
	}
}

// File is the layout of a configuration file.
type File struct {
	Timeouts     Timeouts     `yaml:"timeouts"`
	Capabilities Capabilities `yaml:"capabilities"`
	Events       Events       `yaml:"events"`
	BringUp      BringUp      `yaml:"bringup"`
	Log          Log          `yaml:"log"`
}

// Timeouts bound the waits of the driver components.
type Timeouts struct {
	Command        Duration `yaml:"command"`
	Acquire        Duration `yaml:"acquire"`
	InterfaceReady Duration `yaml:"interface_ready"`
	HostSleep      Duration `yaml:"host_sleep"`
	Ready          Duration `yaml:"ready"`
	Handshake      Duration `yaml:"handshake"`
	Teardown       Duration `yaml:"teardown"`
}

// Capabilities force individual firmware capabilities on or off. Omitted
// keys keep what firmware reports.
type Capabilities struct {
	BmissEnhance   *bool `yaml:"bmiss_enhance"`
	WowMcastFilter *bool `yaml:"wow_mcast_filter"`
	ScanRSSIFilter *bool `yaml:"scan_rssi_filter"`
	SchedScanMatch *bool `yaml:"sched_scan_match"`
	AdHocExclusive *bool `yaml:"adhoc_exclusive"`
	DeepSleep      *bool `yaml:"deep_sleep"`
	P2P            *bool `yaml:"p2p"`
}

// Events sizes the event dispatcher.
type Events struct {
	QueueDepth int `yaml:"queue_depth"`
}

// BringUp controls firmware load retries at start.
type BringUp struct {
	Attempts   int      `yaml:"attempts"`
	Initial    Duration `yaml:"backoff_initial"`
	Max        Duration `yaml:"backoff_max"`
	Multiplier float64  `yaml:"backoff_multiplier"`
	Jitter     *float64 `yaml:"backoff_jitter"`
}

// Log selects the operational log level and the protocol trace file.
type Log struct {
	Level string `yaml:"level"`
	Trace string `yaml:"trace"`
}
