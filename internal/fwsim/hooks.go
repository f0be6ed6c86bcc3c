package fwsim

import (
	"slices"

	"github.com/wlanfw/wlanfw-go/pkg/wire"
)

// Fail makes every later op command reply with status instead of acting.
func (f *Firmware) Fail(op wire.Opcode, status wire.Status) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail[op] = status
}

// Drop makes op commands go unanswered, so the host times out.
func (f *Firmware) Drop(op wire.Opcode) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.drop[op] = true
}

// Mute acknowledges op commands but suppresses the events they would
// raise. It applies to StartScan (no results or completion) and
// SetHostSleepMode (no HostSleepProcessed).
func (f *Firmware) Mute(op wire.Opcode) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mute[op] = true
}

// Hold withholds the replies and events of op commands until Release.
func (f *Firmware) Hold(op wire.Opcode) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hold[op] = true
}

// Release stops holding op and delivers everything withheld for it, in
// arrival order. It returns the number of commands released.
func (f *Firmware) Release(op wire.Opcode) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.hold, op)
	n := 0
	kept := f.held[:0]
	for _, h := range f.held {
		if h.op != op {
			kept = append(kept, h)
			continue
		}
		n++
		for _, data := range h.frames {
			select {
			case f.rx <- data:
			default:
				f.overflow++
			}
		}
	}
	f.held = kept
	return n
}

// Clear removes every hook set for op.
func (f *Firmware) Clear(op wire.Opcode) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.fail, op)
	delete(f.drop, op)
	delete(f.mute, op)
	delete(f.hold, op)
}

// FailLoads makes the next n LoadAndStart calls fail.
func (f *Firmware) FailLoads(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loadFails = n
}

// SetWakeReason sets the reply to GetWakeReason.
func (f *Firmware) SetWakeReason(reason wire.WakeReason) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.config.WakeReason = reason
}

// SetNetworks replaces the visible networks.
func (f *Firmware) SetNetworks(networks []wire.BSSInfo) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.config.Networks = slices.Clone(networks)
}

// Inject queues an unsolicited event, as if the firmware raised it.
func (f *Firmware) Inject(code wire.EventCode, iface uint8, payload any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch code {
	case wire.EvDisconnect:
		delete(f.links, iface)
	case wire.EvScanComplete:
		f.scanning[iface] = false
	}
	f.emitLocked(code, iface, payload)
}

// Break makes a pending or the next Recv fail with err, simulating a bus
// error.
func (f *Firmware) Break(err error) {
	select {
	case f.brk <- err:
	default:
	}
}

// Commands returns every command received so far.
func (f *Firmware) Commands() []Command {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.commands)
}

// CommandsFor returns the received op commands.
func (f *Firmware) CommandsFor(op wire.Opcode) []Command {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Command
	for _, c := range f.commands {
		if c.Opcode == op {
			out = append(out, c)
		}
	}
	return out
}

// Count returns how many op commands were received.
func (f *Firmware) Count(op wire.Opcode) int {
	return len(f.CommandsFor(op))
}

// ResetCommands forgets the recorded commands.
func (f *Firmware) ResetCommands() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commands = nil
}

// Stats is a snapshot of simulator counters.
type Stats struct {
	Powered  bool
	Running  bool
	PowerOns int
	Loads    int
	Held     int
	Overflow int
}

// Stats returns the simulator counters.
func (f *Firmware) Stats() Stats {
	f.mu.Lock()
	defer f.mu.Unlock()
	return Stats{
		Powered:  f.powered,
		Running:  f.running,
		PowerOns: f.powerOns,
		Loads:    f.loads,
		Held:     len(f.held),
		Overflow: f.overflow,
	}
}

// Linked reports whether interface idx has a live association or BSS.
func (f *Firmware) Linked(idx uint8) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.links[idx]
	return ok
}
