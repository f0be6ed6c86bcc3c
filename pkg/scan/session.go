package scan

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wlanfw/wlanfw-go/pkg/command"
	"github.com/wlanfw/wlanfw-go/pkg/fwerr"
	"github.com/wlanfw/wlanfw-go/pkg/log"
	"github.com/wlanfw/wlanfw-go/pkg/wire"
)

// Firmware table limits.
const (
	MaxProbedSSIDs = 16
	MaxChannels    = 32
	MaxSSIDLen     = 32

	// MinSchedInterval is the shortest period accepted for scheduled scans.
	MinSchedInterval = time.Second
)

// Submitter sends a command and waits for its reply.
type Submitter interface {
	Submit(ctx context.Context, req command.Request) (command.Response, error)
}

// Request describes an immediate scan.
type Request struct {
	Interface uint8

	// SSIDs are probed directly. An empty entry probes the wildcard SSID.
	SSIDs [][]byte

	// Channels in MHz. Empty, or more than MaxChannels, scans them all.
	Channels        []uint16
	Passive         bool
	ForceForeground bool
}

// Ticket identifies one immediate scan.
type Ticket struct {
	ID        string
	Interface uint8
}

// Result is delivered once per ticket.
type Result struct {
	Ticket  Ticket
	Aborted bool
	BSS     []wire.BSSInfo
}

// SchedRequest describes a scheduled scan.
type SchedRequest struct {
	Interface uint8
	SSIDs     [][]byte

	// MatchSets restrict reported results to these SSIDs.
	MatchSets [][]byte
	Channels  []uint16
	Interval  time.Duration

	// RSSIThreshold in dBm. Zero disables filtering. Ignored unless the
	// firmware supports RSSI filtering.
	RSSIThreshold int8
}

// Config configures a Session.
type Config struct {
	Capabilities wire.Capabilities
	OnComplete   func(Result)
	Logger       *slog.Logger
	Tracer       *log.Tracer
}

type live struct {
	ticket  Ticket
	aborted bool
	bss     []wire.BSSInfo
}

// Session tracks the outstanding immediate scan and the scheduled scan.
type Session struct {
	sub    Submitter
	config Config
	logger *slog.Logger

	mu         sync.Mutex
	live       *live
	sched      bool
	schedIface uint8

	// starting reserves the scheduled scan slot while StartScheduled or
	// ArmNetDetect programs firmware.
	starting bool

	netDetect      bool
	netDetectIface uint8

	// probed counts the enabled probed SSID entries per interface.
	probed map[uint8]int
}

// New creates a Session.
func New(sub Submitter, config Config) *Session {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		sub:    sub,
		config: config,
		logger: logger.With("component", "scan"),
		probed: make(map[uint8]int),
	}
}

// SetCapabilities updates the firmware feature set after bring-up.
func (s *Session) SetCapabilities(caps wire.Capabilities) {
	s.mu.Lock()
	s.config.Capabilities = caps
	s.mu.Unlock()
}

// OnComplete sets the completion callback.
func (s *Session) OnComplete(fn func(Result)) {
	s.mu.Lock()
	s.config.OnComplete = fn
	s.mu.Unlock()
}

func validateSSIDs(ssids [][]byte, what string) error {
	if len(ssids) > MaxProbedSSIDs {
		return fmt.Errorf("%d %s exceeds %d: %w", len(ssids), what, MaxProbedSSIDs, fwerr.ErrInvalidParameter)
	}
	for _, ssid := range ssids {
		if len(ssid) > MaxSSIDLen {
			return fmt.Errorf("SSID of %d bytes: %w", len(ssid), fwerr.ErrInvalidParameter)
		}
	}
	return nil
}

func channels(ch []uint16) []uint16 {
	if len(ch) > MaxChannels {
		return nil
	}
	return ch
}

// Start begins an immediate scan. It fails with ErrBusy while another
// ticket is outstanding. A running scheduled scan is stopped first.
func (s *Session) Start(ctx context.Context, req Request) (Ticket, error) {
	if err := validateSSIDs(req.SSIDs, "SSIDs"); err != nil {
		return Ticket{}, err
	}

	s.mu.Lock()
	if s.live != nil {
		busy := s.live.ticket
		s.mu.Unlock()
		return Ticket{}, fmt.Errorf("scan %s outstanding on iface %d: %w", busy.ID, busy.Interface, fwerr.ErrBusy)
	}
	t := Ticket{ID: uuid.NewString(), Interface: req.Interface}
	s.live = &live{ticket: t}
	sched := s.sched
	s.mu.Unlock()

	if sched {
		_ = s.disableScheduled(ctx)
	}

	err := s.writeProbed(ctx, req.Interface, probedEntries(req.SSIDs, nil))
	if err == nil {
		err = s.submit(ctx, req.Interface, wire.OpStartScan, wire.StartScanParams{
			Type:            wire.ScanLong,
			ForceForeground: req.ForceForeground,
			Passive:         req.Passive,
			Channels:        channels(req.Channels),
		}, command.UrgencyBlock)
	}
	if err != nil {
		s.mu.Lock()
		if s.live != nil && s.live.ticket.ID == t.ID {
			s.live = nil
		}
		s.mu.Unlock()
		return Ticket{}, fmt.Errorf("start scan: %w", err)
	}

	s.logger.Debug("scan started", "ticket", t.ID, "iface", t.Interface)
	s.config.Tracer.StateChange(log.StateEntityScan, log.IfIndex(t.Interface), "IDLE", "SCANNING", "start")
	return t, nil
}

// writeProbed programs the probed SSID table and disables entries left
// over from a previous, longer list.
func (s *Session) writeProbed(ctx context.Context, iface uint8, entries []wire.ProbedSSIDParams) error {
	s.mu.Lock()
	prev := s.probed[iface]
	s.mu.Unlock()

	for i, e := range entries {
		e.Index = uint8(i)
		if err := s.submit(ctx, iface, wire.OpSetProbedSSID, e, command.UrgencyBlock); err != nil {
			return err
		}
	}
	for i := len(entries); i < prev; i++ {
		p := wire.ProbedSSIDParams{Index: uint8(i), Flag: wire.ProbeDisable}
		if err := s.submit(ctx, iface, wire.OpSetProbedSSID, p, command.UrgencyBlock); err != nil {
			return err
		}
	}

	s.mu.Lock()
	s.probed[iface] = len(entries)
	s.mu.Unlock()
	return nil
}

func (s *Session) submit(ctx context.Context, iface uint8, op wire.Opcode, payload any, urgency command.Urgency) error {
	_, err := s.sub.Submit(ctx, command.Request{
		Opcode:    op,
		Interface: iface,
		Payload:   payload,
		Urgency:   urgency,
	})
	return err
}

// Live returns the outstanding ticket, if any.
func (s *Session) Live() (Ticket, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.live == nil {
		return Ticket{}, false
	}
	return s.live.ticket, true
}

// Cancel aborts an outstanding scan. The completion arrives through the
// callback with Aborted set. If firmware refuses the abort the ticket is
// completed locally.
func (s *Session) Cancel(ctx context.Context, t Ticket) error {
	s.mu.Lock()
	if s.live == nil || s.live.ticket.ID != t.ID {
		s.mu.Unlock()
		return fmt.Errorf("cancel scan %s: unknown ticket: %w", t.ID, fwerr.ErrInvalidParameter)
	}
	s.live.aborted = true
	s.mu.Unlock()

	if err := s.submit(ctx, t.Interface, wire.OpAbortScan, nil, command.UrgencyFailFast); err != nil {
		s.logger.Warn("abort scan failed, completing locally", "ticket", t.ID, "error", err)
		s.complete(t.ID, true, "cancel")
	}
	return nil
}

// HandleResult records a BSS reported for the live scan on iface. A BSSID
// reported twice keeps the latest entry.
func (s *Session) HandleResult(iface uint8, bss wire.BSSInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.live == nil || s.live.ticket.Interface != iface {
		if !s.sched {
			s.logger.Debug("dropping scan result without a scan", "iface", iface, "bssid", bss.BSSID)
		}
		return
	}
	for i := range s.live.bss {
		if s.live.bss[i].BSSID == bss.BSSID {
			s.live.bss[i] = bss
			return
		}
	}
	s.live.bss = append(s.live.bss, bss)
}

// HandleComplete finishes the live scan on iface.
func (s *Session) HandleComplete(iface uint8, info wire.ScanCompleteInfo) {
	s.mu.Lock()
	l := s.live
	sched := s.sched
	s.mu.Unlock()
	if l == nil || l.ticket.Interface != iface {
		if sched {
			s.logger.Debug("scheduled scan pass complete", "iface", iface)
		} else {
			s.logger.Warn("dropping scan complete without a scan", "iface", iface)
		}
		return
	}
	s.complete(l.ticket.ID, info.Aborted, "complete")
}

// AbortAll completes the outstanding scan with Aborted set without
// talking to firmware.
func (s *Session) AbortAll() {
	s.mu.Lock()
	l := s.live
	s.mu.Unlock()
	if l != nil {
		s.complete(l.ticket.ID, true, "abort")
	}
}

// AbortInterface completes the outstanding scan with Aborted set if it
// runs on iface. It reports whether a scan was aborted.
func (s *Session) AbortInterface(iface uint8) bool {
	s.mu.Lock()
	l := s.live
	s.mu.Unlock()
	if l == nil || l.ticket.Interface != iface {
		return false
	}
	return s.complete(l.ticket.ID, true, "interface abort")
}

// Reset aborts the outstanding scan and forgets all firmware scan state.
// It is used when firmware has been powered off.
func (s *Session) Reset() {
	s.AbortAll()
	s.mu.Lock()
	s.sched = false
	s.netDetect = false
	s.probed = make(map[uint8]int)
	s.mu.Unlock()
}

// complete delivers the result for ticket id. Only the first caller for a
// ticket delivers; it reports whether this call did.
func (s *Session) complete(id string, aborted bool, reason string) bool {
	s.mu.Lock()
	l := s.live
	if l == nil || l.ticket.ID != id {
		s.mu.Unlock()
		return false
	}
	s.live = nil
	res := Result{
		Ticket:  l.ticket,
		Aborted: aborted || l.aborted,
		BSS:     l.bss,
	}
	cb := s.config.OnComplete
	s.mu.Unlock()

	s.logger.Debug("scan done", "ticket", id, "aborted", res.Aborted, "bss", len(res.BSS), "reason", reason)
	s.config.Tracer.StateChange(log.StateEntityScan, log.IfIndex(l.ticket.Interface), "SCANNING", "IDLE", reason)
	if cb != nil {
		cb(res)
	}
	return true
}
