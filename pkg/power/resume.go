package power

import (
	"context"
	"fmt"

	"github.com/wlanfw/wlanfw-go/pkg/fwerr"
	"github.com/wlanfw/wlanfw-go/pkg/wire"
)

// Resume wakes the device from the recorded suspend mode. Resuming while
// already On does nothing. A Resume that finds another one running waits
// for it and returns its outcome. For WakeOnWireless the firmware's wake
// reason is returned and passed to OnWake.
func (c *Controller) Resume(ctx context.Context) (wire.WakeReason, error) {
	c.mu.Lock()
	suspended := c.state
	switch {
	case suspended == StateOn:
		c.mu.Unlock()
		return wire.WakeNone, nil
	case suspended == StateResuming:
		c.mu.Unlock()
		return c.awaitResume(ctx)
	case suspended == StateSuspending:
		c.mu.Unlock()
		return wire.WakeNone, fmt.Errorf("resume while suspending: %w", fwerr.ErrBusy)
	case c.fault != nil && suspended != StateCutPower:
		fault := c.fault
		c.mu.Unlock()
		return wire.WakeNone, fmt.Errorf("resume with firmware fault (%v): %w", fault, fwerr.ErrNotReady)
	}
	from, _ := c.changeLocked(StateResuming)
	c.mu.Unlock()
	c.announce(from, StateResuming, "resume")

	var (
		reason = wire.WakeNone
		err    error
	)
	switch suspended {
	case StateWakeOnWireless:
		reason, err = c.resumeWow(ctx)
	case StateDeepSleep:
		err = c.resumeDeepSleep(ctx)
	case StateCutPower:
		err = c.resumeCutPower(ctx)
	}
	if err != nil {
		c.logger.Warn("resume failed", "from", suspended, "error", err)
		c.settleResume(suspended, reason, err, "resume failed")
		return reason, err
	}

	c.settleResume(StateOn, reason, nil, "resume")
	if suspended == StateDeepSleep {
		if err := c.send(ctx, 0, wire.OpSetScanParams, wire.DefaultScanParams()); err != nil {
			c.logger.Warn("reset scan params failed", "error", err)
		}
	}
	if reason != wire.WakeNone {
		if cb := c.config.OnWake; cb != nil {
			cb(reason)
		}
	}
	return reason, nil
}

// settleResume leaves StateResuming and publishes the outcome to any
// caller waiting in awaitResume.
func (c *Controller) settleResume(to State, reason wire.WakeReason, err error, why string) {
	c.mu.Lock()
	c.resumed = resumeResult{reason: reason, err: err}
	from, ok := c.changeLocked(to)
	c.mu.Unlock()
	if ok {
		c.announce(from, to, why)
	}
}

// awaitResume waits for the resume in progress to settle. The bound covers
// a cut power reload followed by the host sleep handshake.
func (c *Controller) awaitResume(ctx context.Context) (wire.WakeReason, error) {
	timeout := c.config.ReadyTimeout + c.config.HostSleepTimeout
	err := c.sig.Await(ctx, timeout, nil, func() bool { return c.State() != StateResuming })
	if err != nil {
		return wire.WakeNone, fmt.Errorf("resume in progress: %w", err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.resumed.reason, c.resumed.err
}

func (c *Controller) resumeWow(ctx context.Context) (wire.WakeReason, error) {
	reason := wire.WakeUnknown
	resp, err := c.submit(ctx, 0, wire.OpGetWakeReason, nil)
	if err != nil {
		c.logger.Warn("wake reason unavailable", "error", err)
	} else {
		var info wire.WakeReasonInfo
		if derr := resp.Decode(&info); derr != nil {
			c.logger.Warn("decode wake reason", "error", derr)
		} else {
			reason = info.Reason
		}
	}
	c.logger.Info("woken by firmware", "reason", reason)

	if err := c.send(ctx, 0, wire.OpSetHostSleepMode, wire.HostSleepParams{State: wire.HostAwake}); err != nil {
		return reason, err
	}

	c.mu.Lock()
	caps := c.config.Capabilities
	netDetect := c.netDetect
	c.netDetect = false
	c.mu.Unlock()
	if netDetect {
		if err := c.deps.Scans.DisarmNetDetect(ctx); err != nil {
			c.logger.Warn("disarm network detect failed", "error", err)
		}
	}
	for _, l := range c.deps.Links.Connected() {
		if !l.AP {
			if err := c.restoreLink(ctx, l); err != nil {
				return reason, err
			}
		}
		if caps.WowMcastFilter {
			if err := c.send(ctx, l.Index, wire.OpSetMcastFilter, wire.McastFilterParams{Enable: false}); err != nil {
				return reason, err
			}
		}
	}
	return reason, nil
}

func (c *Controller) resumeDeepSleep(ctx context.Context) error {
	c.mu.Lock()
	saved, current := c.savedPowerMode, c.powerMode
	c.mu.Unlock()

	if saved != 0 && saved != current {
		if err := c.SetPowerMode(ctx, 0, saved); err != nil {
			return err
		}
	}
	return c.send(ctx, 0, wire.OpSetHostSleepMode, wire.HostSleepParams{State: wire.HostAwake})
}

func (c *Controller) resumeCutPower(ctx context.Context) error {
	c.deps.Channel.Reopen()
	if err := c.deps.Power.PowerOn(ctx); err != nil {
		return fmt.Errorf("power on: %w", err)
	}
	if err := c.deps.Loader.LoadAndStart(ctx); err != nil {
		c.powerDown()
		return fmt.Errorf("load firmware: %w", err)
	}
	if c.deps.WaitReady != nil {
		if err := c.deps.WaitReady(ctx, c.config.ReadyTimeout); err != nil {
			c.powerDown()
			return fmt.Errorf("firmware ready: %w", err)
		}
	}
	c.ClearFaults()
	c.mu.Lock()
	c.powerMode = wire.PowerMaxPerf
	c.mu.Unlock()
	return nil
}

func (c *Controller) powerDown() {
	if err := c.deps.Power.PowerOff(); err != nil {
		c.logger.Warn("power off failed", "error", err)
	}
	c.deps.Channel.Cancel()
}
