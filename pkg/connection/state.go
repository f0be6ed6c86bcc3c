package connection

import "errors"

// Connection errors.
var (
	ErrWrongRole = errors.New("operation not valid for interface role")
)

// State represents the connection state.
type State uint8

const (
	// StateDisconnected indicates no association.
	StateDisconnected State = iota

	// StateConnecting indicates an association attempt is in progress.
	StateConnecting

	// StateConnected indicates an active association, or a live BSS in
	// AP mode.
	StateConnected
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	default:
		return "UNKNOWN"
	}
}

// ValidTransition reports whether the machine may move from one state to
// another. Connecting to Connecting is a restart with new parameters;
// Connected to Connected is a roam.
func ValidTransition(from, to State) bool {
	switch from {
	case StateDisconnected:
		return to == StateConnecting
	case StateConnecting:
		return to == StateConnecting || to == StateConnected || to == StateDisconnected
	case StateConnected:
		return to == StateConnecting || to == StateConnected || to == StateDisconnected
	default:
		return false
	}
}
