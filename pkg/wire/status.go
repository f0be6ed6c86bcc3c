package wire

import "github.com/wlanfw/wlanfw-go/pkg/fwerr"

// Status is the outcome the firmware reports for one command.
type Status uint8

const (
	// StatusSuccess indicates the command was accepted.
	StatusSuccess Status = 0

	// StatusBusy indicates the firmware cannot take the command now.
	StatusBusy Status = 1

	// StatusInvalidParameter indicates a parameter was rejected.
	StatusInvalidParameter Status = 2

	// StatusUnsupported indicates the firmware does not implement the command.
	StatusUnsupported Status = 3

	// StatusNotReady indicates the firmware is still initializing.
	StatusNotReady Status = 4

	// StatusFailed indicates an unspecified firmware failure.
	StatusFailed Status = 5
)

// String returns the status name.
func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "SUCCESS"
	case StatusBusy:
		return "BUSY"
	case StatusInvalidParameter:
		return "INVALID_PARAMETER"
	case StatusUnsupported:
		return "UNSUPPORTED"
	case StatusNotReady:
		return "NOT_READY"
	case StatusFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// IsSuccess returns true if the status indicates success.
func (s Status) IsSuccess() bool {
	return s == StatusSuccess
}

// Kind maps the status to an error kind from package fwerr.
// Returns nil for StatusSuccess.
func (s Status) Kind() error {
	switch s {
	case StatusSuccess:
		return nil
	case StatusBusy:
		return fwerr.ErrBusy
	case StatusInvalidParameter, StatusUnsupported:
		return fwerr.ErrInvalidParameter
	case StatusNotReady:
		return fwerr.ErrNotReady
	default:
		return fwerr.ErrTransport
	}
}
