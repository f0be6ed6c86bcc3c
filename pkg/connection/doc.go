// Package connection drives the association state of one virtual interface.
//
// A Machine moves between three states:
//
//	                connect
//	DISCONNECTED ──────────────▶ CONNECTING
//	     ▲  ▲                      │    ▲
//	     │  └──── failure event ───┘    │ reconnect (same SSID)
//	     │                              │
//	     │ disconnect / event     connect event
//	     │                              ▼
//	     └─────────────────────── CONNECTED ◀──┐
//	                                    │      │ roam
//	                                    └──────┘
//
// Commands are issued on the caller's goroutine under the command token.
// Firmware events (connect, disconnect, roam, AP started) are fed in from
// the event goroutine through the Handle methods, which never submit
// commands themselves: follow-up commands are scheduled.
//
// The package also owns the key lifecycle for the interface (install,
// delete, AP key caching until the BSS is live) and the handshake timer
// that drops a PSK link whose group key never arrives.
package connection
