// Package fwerr defines the error taxonomy shared by every layer of the
// firmware driver core.
//
// Six kinds cover all failures a caller can observe:
//
//   - ErrBusy: a resource is already in use (command token, scan session,
//     interface slot) or the device is being torn down.
//   - ErrTimeout: a deadline expired while waiting for firmware.
//   - ErrNotReady: firmware is not brought up, or is suspended or faulted.
//   - ErrInvalidParameter: a caller-supplied value was rejected before any
//     command was submitted.
//   - ErrCancelled: the operation was aborted by teardown or explicit
//     cancellation.
//   - ErrTransport: the bus or firmware communication failed.
//
// Errors produced by the core are *Error values carrying the operation name,
// the kind, and an optional cause. Match them with errors.Is:
//
//	if errors.Is(err, fwerr.ErrBusy) {
//	    // retry later
//	}
package fwerr
