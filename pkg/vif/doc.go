// Package vif keeps the set of virtual interfaces the firmware hosts.
//
// Interfaces live in a fixed arena of slots sized by the firmware's
// interface limit. Callers hold a Handle (slot index plus generation) rather
// than a pointer; every lookup checks the generation, so a handle to a
// removed interface fails with ErrStaleHandle instead of reaching a reused
// slot.
package vif
