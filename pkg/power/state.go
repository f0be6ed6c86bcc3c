package power

import "fmt"

// State is the device power state.
type State uint8

const (
	StateOn State = iota
	StateSuspending
	StateWakeOnWireless
	StateDeepSleep
	StateCutPower
	StateResuming
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateOn:
		return "ON"
	case StateSuspending:
		return "SUSPENDING"
	case StateWakeOnWireless:
		return "WOW"
	case StateDeepSleep:
		return "DEEP_SLEEP"
	case StateCutPower:
		return "CUT_POWER"
	case StateResuming:
		return "RESUMING"
	default:
		return fmt.Sprintf("STATE(%d)", uint8(s))
	}
}

// Suspended reports whether s is one of the suspended states.
func (s State) Suspended() bool {
	return s == StateWakeOnWireless || s == StateDeepSleep || s == StateCutPower
}

// Mode selects how the device suspends.
type Mode uint8

const (
	ModeWakeOnWireless Mode = iota
	ModeDeepSleep
	ModeCutPower
)

// String returns the mode name.
func (m Mode) String() string {
	switch m {
	case ModeWakeOnWireless:
		return "wow"
	case ModeDeepSleep:
		return "deepsleep"
	case ModeCutPower:
		return "cutpower"
	default:
		return fmt.Sprintf("mode(%d)", uint8(m))
	}
}

// ParseMode converts the name printed by String back to a Mode.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "wow":
		return ModeWakeOnWireless, nil
	case "deepsleep":
		return ModeDeepSleep, nil
	case "cutpower":
		return ModeCutPower, nil
	}
	return 0, fmt.Errorf("unknown suspend mode %q", s)
}

// State returns the suspended state the mode enters.
func (m Mode) State() State {
	switch m {
	case ModeDeepSleep:
		return StateDeepSleep
	case ModeCutPower:
		return StateCutPower
	default:
		return StateWakeOnWireless
	}
}

// ValidTransition reports whether the controller may move from one state
// to another.
func ValidTransition(from, to State) bool {
	switch from {
	case StateOn:
		return to == StateSuspending
	case StateSuspending:
		return to == StateOn || to.Suspended()
	case StateWakeOnWireless, StateDeepSleep, StateCutPower:
		return to == StateResuming
	case StateResuming:
		return to == StateOn || to.Suspended()
	}
	return false
}
