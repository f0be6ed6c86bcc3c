package power

import (
	"context"
	"fmt"

	"github.com/wlanfw/wlanfw-go/pkg/fwerr"
	"github.com/wlanfw/wlanfw-go/pkg/wire"
)

// Suspend puts the device to sleep in the given mode. wow replaces the
// default wake filters and is only used by ModeWakeOnWireless. Any failure
// returns the controller to StateOn. A recorded fault refuses every mode
// except ModeCutPower, which is how a faulted device is power cycled.
func (c *Controller) Suspend(ctx context.Context, mode Mode, wow *WowConfig) error {
	if mode == ModeWakeOnWireless {
		if err := wow.validate(); err != nil {
			return err
		}
	}

	c.mu.Lock()
	if c.state != StateOn {
		state := c.state
		c.mu.Unlock()
		return fmt.Errorf("suspend while %s: %w", state, fwerr.ErrNotReady)
	}
	if c.fault != nil && mode != ModeCutPower {
		fault := c.fault
		c.mu.Unlock()
		return fmt.Errorf("suspend with firmware fault (%v): %w", fault, fwerr.ErrNotReady)
	}
	if mode == ModeDeepSleep && !c.config.Capabilities.DeepSleep {
		c.mu.Unlock()
		return fmt.Errorf("deep sleep unsupported by firmware: %w", fwerr.ErrInvalidParameter)
	}
	from, _ := c.changeLocked(StateSuspending)
	c.mu.Unlock()
	c.announce(from, StateSuspending, "suspend "+mode.String())

	var err error
	switch mode {
	case ModeWakeOnWireless:
		err = c.suspendWow(ctx, wow)
	case ModeDeepSleep:
		err = c.suspendDeepSleep(ctx)
	case ModeCutPower:
		c.suspendCutPower(ctx)
	default:
		err = fmt.Errorf("suspend mode %d: %w", mode, fwerr.ErrInvalidParameter)
	}
	if err != nil {
		c.logger.Warn("suspend failed", "mode", mode, "error", err)
		c.transition(StateOn, "suspend failed")
		return err
	}

	c.transition(mode.State(), "suspend "+mode.String())
	if mode == ModeCutPower {
		c.deps.Scans.Reset()
	} else {
		c.deps.Scans.AbortAll()
	}
	return nil
}

func (c *Controller) suspendWow(ctx context.Context, wow *WowConfig) error {
	links := c.deps.Links.Connected()
	if len(links) == 0 {
		return fmt.Errorf("wake on wireless: %w: %w", ErrNoLink, fwerr.ErrNotReady)
	}

	c.mu.Lock()
	caps := c.config.Capabilities
	c.mu.Unlock()

	var tuned []Link
	var err error
	for _, l := range links {
		if err = c.installFilters(ctx, l, wow, caps); err != nil {
			break
		}
		if !l.AP {
			tuned = append(tuned, l)
			if err = c.tuneForWow(ctx, l); err != nil {
				break
			}
		}
	}

	netDetect := false
	if err == nil && wow != nil && wow.NetDetect != nil {
		if len(tuned) == 0 {
			err = fmt.Errorf("network detect needs a station link: %w", fwerr.ErrInvalidParameter)
		} else {
			nd := wow.NetDetect
			err = c.deps.Scans.ArmNetDetect(ctx, tuned[0].Index, nd.SSIDs, nd.interval(), nd.Channels)
			netDetect = err == nil
		}
	}

	wowEnabled := false
	if err == nil {
		err = c.send(ctx, links[0].Index, wire.OpSetWowMode, wire.WowModeParams{
			Enable:         true,
			Filters:        wow.filters(),
			HostReqDelayMS: wowHostReqDelayMS,
		})
		wowEnabled = err == nil
	}
	if err == nil {
		err = c.hostSleep(ctx)
	}
	if err == nil {
		c.mu.Lock()
		c.netDetect = netDetect
		c.mu.Unlock()
		return nil
	}

	// Best effort: put the firmware back the way it was.
	if wowEnabled {
		if rerr := c.send(ctx, links[0].Index, wire.OpSetWowMode, wire.WowModeParams{Enable: false}); rerr != nil {
			c.logger.Warn("disable wake on wireless failed", "error", rerr)
		}
		if rerr := c.send(ctx, 0, wire.OpSetHostSleepMode, wire.HostSleepParams{State: wire.HostAwake}); rerr != nil {
			c.logger.Warn("host awake failed", "error", rerr)
		}
	}
	if netDetect {
		if rerr := c.deps.Scans.DisarmNetDetect(ctx); rerr != nil {
			c.logger.Warn("disarm network detect failed", "error", rerr)
		}
	}
	for _, l := range tuned {
		if rerr := c.restoreLink(ctx, l); rerr != nil {
			c.logger.Warn("restore link failed", "iface", l.Index, "error", rerr)
		}
	}
	return err
}

func (c *Controller) installFilters(ctx context.Context, l Link, wow *WowConfig, caps wire.Capabilities) error {
	if caps.WowMcastFilter {
		if err := c.send(ctx, l.Index, wire.OpSetMcastFilter, wire.McastFilterParams{Enable: true}); err != nil {
			return err
		}
	}
	if err := c.send(ctx, l.Index, wire.OpClearWowPatterns, nil); err != nil {
		return err
	}

	var patterns []wire.WowPatternParams
	switch {
	case wow != nil:
		patterns = wow.patterns()
	case l.AP:
		patterns = apPatterns()
	default:
		patterns = stationPatterns(l.MAC)
	}
	for i, p := range patterns {
		if err := c.send(ctx, l.Index, wire.OpAddWowPattern, p); err != nil {
			return fmt.Errorf("wake pattern %d: %w", i, err)
		}
	}
	return nil
}

func (c *Controller) tuneForWow(ctx context.Context, l Link) error {
	if err := c.send(ctx, l.Index, wire.OpSetListenInterval, wire.ListenIntervalParams{Interval: WowListenInterval}); err != nil {
		return err
	}
	bmiss := uint16(WowListenInterval * 15)
	if bmiss > MaxBmissTime {
		bmiss = MaxBmissTime
	}
	if err := c.send(ctx, l.Index, wire.OpSetBmissTime, wire.BmissParams{Time: bmiss}); err != nil {
		return err
	}
	return c.send(ctx, l.Index, wire.OpSetScanParams, wire.ScanParams{
		FgStartPeriod: wire.ScanPeriodDisabled,
		BgPeriod:      wire.ScanPeriodDisabled,
	})
}

// restoreLink undoes tuneForWow with the interface's own settings.
func (c *Controller) restoreLink(ctx context.Context, l Link) error {
	listen, bmiss := l.ListenInterval, l.BmissTime
	if listen == 0 {
		listen = DefaultListenInterval
	}
	if bmiss == 0 {
		bmiss = DefaultBmissTime
	}
	if err := c.send(ctx, l.Index, wire.OpSetScanParams, wire.DefaultScanParams()); err != nil {
		return err
	}
	if err := c.send(ctx, l.Index, wire.OpSetListenInterval, wire.ListenIntervalParams{Interval: listen}); err != nil {
		return err
	}
	return c.send(ctx, l.Index, wire.OpSetBmissTime, wire.BmissParams{Time: bmiss})
}

func (c *Controller) suspendDeepSleep(ctx context.Context) error {
	c.deps.Links.StopAll(ctx)

	c.mu.Lock()
	c.savedPowerMode = c.powerMode
	c.mu.Unlock()

	if err := c.SetPowerMode(ctx, 0, wire.PowerRec); err != nil {
		return err
	}
	if err := c.send(ctx, 0, wire.OpSetWowMode, wire.WowModeParams{Enable: false}); err != nil {
		return err
	}
	if err := c.deps.Channel.Drain(ctx, c.config.DrainTimeout); err != nil {
		return fmt.Errorf("drain commands: %w", err)
	}
	return c.hostSleep(ctx)
}

func (c *Controller) suspendCutPower(ctx context.Context) {
	c.deps.Links.StopAll(ctx)
	if err := c.deps.Power.PowerOff(); err != nil {
		c.logger.Warn("power off failed", "error", err)
	}
	c.deps.Channel.Cancel()
}
