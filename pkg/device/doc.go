// Package device is the caller-facing handle of a FullMAC WLAN chip.
//
// A Device owns one firmware instance reached through a transport.Transport
// and started by a transport.Loader. It wires the command channel, the
// event dispatcher, the interface registry, one connection machine per
// interface, the scan session and the power controller together, and
// exposes the operations a network stack needs:
//
//	dev, err := device.New(device.DefaultConfig(), bus, loader)
//	if err != nil { ... }
//	if err := dev.Start(ctx); err != nil { ... }
//	defer dev.Close(context.Background())
//
//	sta := dev.DefaultInterface()
//	err = dev.Connect(ctx, sta, connection.Params{SSID: []byte("home")})
//
// Every operation checks, in order: teardown in progress (ErrBusy),
// firmware not ready or a bus fault (ErrNotReady), power not On (ErrNotReady).
// A command timeout only blocks suspend and resume, and only until firmware
// answers the next command.
// Parameters are validated before any command is sent.
package device
