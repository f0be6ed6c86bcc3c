// Package log provides structured firmware protocol tracing.
//
// This package defines the Logger interface and Event types for capturing
// the traffic between the host driver and the WLAN firmware at several
// layers (transport, command, event, driver). It is separate from
// operational logging (slog): a trace is a complete machine-readable record
// of every frame, command round trip, firmware event and state transition,
// meant for offline debugging with the wlan-log tool.
//
// # Basic Usage
//
// Applications configure tracing by providing a Logger implementation:
//
//	// For development: trace to console via slog
//	cfg.ProtocolLogger = log.NewSlogAdapter(slog.Default())
//
//	// For field debugging: write to a binary trace file
//	cfg.ProtocolLogger, _ = log.NewFileLogger("/var/log/wlan/phy0.wlt")
//
//	// Both: use MultiLogger
//	cfg.ProtocolLogger = log.NewMultiLogger(
//	    log.NewSlogAdapter(slog.Default()),
//	    fileLogger,
//	)
//
// # Event Types
//
// Events are captured at multiple layers:
//   - Transport: raw frame bytes (FrameEvent)
//   - Command: command submissions and their outcome (CommandEvent)
//   - Event: asynchronous firmware events (FirmwareEvent)
//   - Driver: link, power, scan and interface state changes (StateChangeEvent)
//
// Errors at any layer have a dedicated ErrorEventData payload.
//
// # File Format
//
// Trace files are a stream of CBOR-encoded events with the .wlt extension.
package log
