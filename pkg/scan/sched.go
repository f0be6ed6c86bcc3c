package scan

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/wlanfw/wlanfw-go/pkg/command"
	"github.com/wlanfw/wlanfw-go/pkg/fwerr"
	"github.com/wlanfw/wlanfw-go/pkg/log"
	"github.com/wlanfw/wlanfw-go/pkg/wire"
)

// StartScheduled starts periodic scanning. A live immediate scan is
// aborted first. Intervals below MinSchedInterval are raised to it.
func (s *Session) StartScheduled(ctx context.Context, req SchedRequest) error {
	if err := validateSSIDs(req.SSIDs, "SSIDs"); err != nil {
		return err
	}
	if err := validateSSIDs(req.MatchSets, "match sets"); err != nil {
		return err
	}
	entries := probedEntries(req.SSIDs, req.MatchSets)
	if len(entries) > MaxProbedSSIDs {
		return fmt.Errorf("%d probed entries exceed %d: %w", len(entries), MaxProbedSSIDs, fwerr.ErrInvalidParameter)
	}
	interval := req.Interval
	if interval < MinSchedInterval {
		interval = MinSchedInterval
	}

	s.mu.Lock()
	if s.sched || s.starting || s.netDetect {
		s.mu.Unlock()
		return fmt.Errorf("scheduled scan already running: %w", fwerr.ErrBusy)
	}
	s.starting = true
	l := s.live
	caps := s.config.Capabilities
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.starting = false
		s.mu.Unlock()
	}()

	if l != nil {
		if err := s.submit(ctx, l.ticket.Interface, wire.OpAbortScan, nil, command.UrgencyFailFast); err != nil {
			s.logger.Warn("abort scan before scheduled scan failed", "ticket", l.ticket.ID, "error", err)
		}
		s.complete(l.ticket.ID, true, "scheduled scan")
	}

	if err := s.writeProbed(ctx, req.Interface, entries); err != nil {
		return fmt.Errorf("start scheduled scan: %w", err)
	}
	if caps.ScanRSSIFilter && req.RSSIThreshold != 0 {
		if err := s.submit(ctx, req.Interface, wire.OpSetRSSIFilter,
			wire.RSSIFilterParams{Threshold: req.RSSIThreshold}, command.UrgencyBlock); err != nil {
			return fmt.Errorf("start scheduled scan: %w", err)
		}
	}
	if err := s.submit(ctx, req.Interface, wire.OpSetSchedScan, wire.SchedScanParams{
		IntervalMS: uint32(interval.Milliseconds()),
		Channels:   channels(req.Channels),
	}, command.UrgencyBlock); err != nil {
		return fmt.Errorf("start scheduled scan: %w", err)
	}
	if err := s.submit(ctx, req.Interface, wire.OpEnableSchedScan,
		wire.EnableSchedScanParams{Enable: true}, command.UrgencyBlock); err != nil {
		return fmt.Errorf("start scheduled scan: %w", err)
	}

	s.mu.Lock()
	s.sched = true
	s.schedIface = req.Interface
	s.mu.Unlock()
	s.logger.Info("scheduled scan started", "iface", req.Interface, "interval", interval)
	s.config.Tracer.StateChange(log.StateEntityScan, log.IfIndex(req.Interface), "IDLE", "SCHEDULED", "start scheduled")
	return nil
}

// ArmNetDetect programs a periodic match scan for ssids that firmware runs
// while the host sleeps in wake-on-wireless. A running scheduled scan is
// stopped first. The scan is not enabled here: firmware starts it when
// wake-on-wireless is entered with the network found filter.
func (s *Session) ArmNetDetect(ctx context.Context, iface uint8, ssids [][]byte, interval time.Duration, chans []uint16) error {
	if len(ssids) == 0 {
		return fmt.Errorf("network detect without SSIDs: %w", fwerr.ErrInvalidParameter)
	}
	if err := validateSSIDs(ssids, "network detect SSIDs"); err != nil {
		return err
	}
	for _, ssid := range ssids {
		if len(ssid) == 0 {
			return fmt.Errorf("network detect with wildcard SSID: %w", fwerr.ErrInvalidParameter)
		}
	}
	interval = max(interval, MinSchedInterval)

	s.mu.Lock()
	if s.starting || s.netDetect {
		s.mu.Unlock()
		return fmt.Errorf("arm network detect: %w", fwerr.ErrBusy)
	}
	s.starting = true
	sched := s.sched
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.starting = false
		s.mu.Unlock()
	}()

	if sched {
		if err := s.disableScheduled(ctx); err != nil {
			return fmt.Errorf("arm network detect: %w", err)
		}
	}
	if err := s.writeProbed(ctx, iface, probedEntries(nil, ssids)); err != nil {
		return fmt.Errorf("arm network detect: %w", err)
	}
	if err := s.submit(ctx, iface, wire.OpSetSchedScan, wire.SchedScanParams{
		IntervalMS: uint32(interval.Milliseconds()),
		Channels:   channels(chans),
	}, command.UrgencyBlock); err != nil {
		return fmt.Errorf("arm network detect: %w", err)
	}

	s.mu.Lock()
	s.netDetect = true
	s.netDetectIface = iface
	s.mu.Unlock()
	s.logger.Info("network detect armed", "iface", iface, "ssids", len(ssids), "interval", interval)
	return nil
}

// DisarmNetDetect clears the network detect match table. It does nothing
// when network detect is not armed.
func (s *Session) DisarmNetDetect(ctx context.Context) error {
	s.mu.Lock()
	if !s.netDetect {
		s.mu.Unlock()
		return nil
	}
	s.netDetect = false
	iface := s.netDetectIface
	s.mu.Unlock()

	if err := s.writeProbed(ctx, iface, nil); err != nil {
		s.logger.Warn("clear network detect failed", "iface", iface, "error", err)
		return fmt.Errorf("disarm network detect: %w", err)
	}
	s.logger.Info("network detect disarmed", "iface", iface)
	return nil
}

// probedEntries merges direct SSIDs and match sets into probed table
// entries. A match set also listed as an SSID is probed and matched.
func probedEntries(ssids, matches [][]byte) []wire.ProbedSSIDParams {
	entries := make([]wire.ProbedSSIDParams, 0, len(ssids)+len(matches))
	for _, ssid := range ssids {
		flag := wire.ProbeSpecific
		if len(ssid) == 0 {
			flag = wire.ProbeAny
		}
		entries = append(entries, wire.ProbedSSIDParams{Flag: flag, SSID: ssid})
	}
next:
	for _, m := range matches {
		for i := range entries {
			if len(m) > 0 && bytes.Equal(entries[i].SSID, m) {
				entries[i].Flag = wire.ProbeMatch
				continue next
			}
		}
		entries = append(entries, wire.ProbedSSIDParams{Flag: wire.ProbeMatch, SSID: m})
	}
	return entries
}

// StopScheduled stops periodic scanning. It returns ErrNotReady when no
// scheduled scan is running. Local state is cleared even if the firmware
// command fails.
func (s *Session) StopScheduled(ctx context.Context) error {
	s.mu.Lock()
	if !s.sched {
		s.mu.Unlock()
		return fmt.Errorf("stop scheduled scan: %w", fwerr.ErrNotReady)
	}
	s.mu.Unlock()
	return s.disableScheduled(ctx)
}

func (s *Session) disableScheduled(ctx context.Context) error {
	s.mu.Lock()
	iface := s.schedIface
	s.sched = false
	s.mu.Unlock()

	s.config.Tracer.StateChange(log.StateEntityScan, log.IfIndex(iface), "SCHEDULED", "IDLE", "stop scheduled")
	if err := s.submit(ctx, iface, wire.OpEnableSchedScan,
		wire.EnableSchedScanParams{Enable: false}, command.UrgencyBlock); err != nil {
		s.logger.Warn("disable scheduled scan failed", "iface", iface, "error", err)
		return fmt.Errorf("stop scheduled scan: %w", err)
	}
	s.logger.Info("scheduled scan stopped", "iface", iface)
	return nil
}

// Scheduled reports whether periodic scanning is running and on which
// interface.
func (s *Session) Scheduled() (uint8, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.schedIface, s.sched
}
