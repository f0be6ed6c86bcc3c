package device

import (
	"context"
	"maps"
	"slices"

	"github.com/wlanfw/wlanfw-go/pkg/connection"
	"github.com/wlanfw/wlanfw-go/pkg/power"
	"github.com/wlanfw/wlanfw-go/pkg/vif"
)

// newMachine creates the connection machine of a freshly added interface.
func (d *Device) newMachine(h vif.Handle, role vif.Role) *connection.Machine {
	d.mu.Lock()
	caps := d.caps
	d.mu.Unlock()

	cb := d.config.Callbacks
	m := connection.New(d.channel, d.events, connection.Config{
		Handle:           h,
		Role:             role,
		Capabilities:     caps,
		HandshakeTimeout: d.config.HandshakeTimeout,
		Callbacks: connection.Callbacks{
			OnConnected:    cb.OnConnected,
			OnDisconnected: cb.OnDisconnected,
			OnRoamed:       cb.OnRoamed,
		},
		Logger: d.config.Logger,
		Tracer: d.tracer,
	})

	d.mu.Lock()
	d.machines[h.Index] = m
	d.mu.Unlock()
	return m
}

// machineAt returns the machine of h, or nil if h is stale.
func (d *Device) machineAt(h vif.Handle) *connection.Machine {
	d.mu.RLock()
	m := d.machines[h.Index]
	d.mu.RUnlock()
	if m == nil || m.Handle() != h {
		return nil
	}
	return m
}

// machineFor returns the machine of interface index for event routing.
func (d *Device) machineFor(index uint8) *connection.Machine {
	h, ok := d.vifs.Lookup(index)
	if !ok {
		return nil
	}
	return d.machineAt(h)
}

func (d *Device) machineList() []*connection.Machine {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]*connection.Machine, 0, len(d.machines))
	for _, idx := range slices.Sorted(maps.Keys(d.machines)) {
		out = append(out, d.machines[idx])
	}
	return out
}

func (d *Device) dropMachine(h vif.Handle) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if m := d.machines[h.Index]; m != nil && m.Handle() == h {
		delete(d.machines, h.Index)
	}
	delete(d.roc, h.Index)
}

// pruneMachines forgets machines whose interface is gone.
func (d *Device) pruneMachines() {
	for _, m := range d.machineList() {
		if !d.vifs.Valid(m.Handle()) {
			m.Stop(context.Background())
			d.dropMachine(m.Handle())
		}
	}
}

// links exposes the interfaces to the power controller.
type links struct {
	d *Device
}

// Connected lists stations with an association and APs with a live BSS.
func (l links) Connected() []power.Link {
	var out []power.Link
	for _, m := range l.d.machineList() {
		if m.State() != connection.StateConnected {
			continue
		}
		iface, err := l.d.vifs.Get(m.Handle())
		if err != nil {
			continue
		}
		out = append(out, power.Link{
			Index:          iface.Handle.Index,
			AP:             isAP(iface.Role),
			MAC:            iface.MAC,
			ListenInterval: iface.ListenInterval,
			BmissTime:      iface.BmissTime,
		})
	}
	return out
}

// StopAll disconnects every interface and aborts the scans.
func (l links) StopAll(ctx context.Context) {
	for _, m := range l.d.machineList() {
		m.Stop(ctx)
	}
	l.d.scans.AbortAll()
	l.d.sig.Notify()
}
