package fwsim

import "errors"

// Simulator errors.
var (
	// ErrNotRunning is returned by Send before the firmware was loaded.
	ErrNotRunning = errors.New("firmware not running")

	// ErrLoadFailed is returned by LoadAndStart while load failures are
	// armed with FailLoads.
	ErrLoadFailed = errors.New("firmware load failed")
)
