// Package command serializes driver commands to the firmware.
//
// A Channel owns a single device-wide token. A request must hold the token
// from the moment it is written to the bus until its reply arrives, its
// deadline expires, or the channel is cancelled, so at most one command is
// ever outstanding in firmware. Replies are matched to the outstanding
// request by sequence number; anything else is stale and dropped.
//
// Every request resolves exactly once:
//
//	reply with success     -> Response, nil
//	reply with error code  -> Response, error of the mapped fwerr kind
//	deadline expired       -> fwerr.ErrTimeout (the slot is reset)
//	Cancel or ctx done     -> fwerr.ErrCancelled
//	bus write failed       -> fwerr.ErrTransport
package command
