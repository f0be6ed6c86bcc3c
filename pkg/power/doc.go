// Package power sequences device suspend and resume.
//
// Three suspend modes are supported:
//
//   - WakeOnWireless keeps the association up with wake filters installed
//     and the host marked asleep. Firmware wakes the host on a match.
//   - DeepSleep tears every link down and parks the firmware in power save.
//   - CutPower tears every link down and removes power from the chip. Resume
//     reloads the firmware from scratch.
//
// The controller state machine:
//
//	ON ──▶ SUSPENDING ──▶ WOW | DEEP_SLEEP | CUT_POWER ──▶ RESUMING ──▶ ON
//	          │                        ▲                       │
//	          └──── failure ──▶ ON     └────── failure ─────────┘
//
// A recorded fault refuses suspend and the WakeOnWireless and DeepSleep
// resumes. A command timeout clears once firmware answers a command again;
// after a bus error a CutPower cycle is the only way back.
//
// WakeOnWireless may also arm a network detect sub-scan, which wakes the
// host when one of the given networks comes into range.
package power
