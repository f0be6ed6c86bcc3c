package commands

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/wlanfw/wlanfw-go/pkg/log"
	"github.com/wlanfw/wlanfw-go/pkg/wire"
)

// Stats holds aggregate statistics about a trace file.
type Stats struct {
	TotalEvents       int
	EventsByLayer     map[log.Layer]int
	EventsByCategory  map[log.Category]int
	EventsByDirection map[log.Direction]int
	Sessions          map[string]*SessionStats
	Commands          map[wire.Opcode]*CommandStats
	FirmwareEvents    map[wire.EventCode]int
	DroppedEvents     int
	Errors            int
	Truncated         bool
	TimeRange         struct {
		Start time.Time
		End   time.Time
	}
}

// SessionStats holds statistics for a single device session.
type SessionStats struct {
	FirstSeen time.Time
	LastSeen  time.Time
	Events    int
}

// CommandStats aggregates the resolutions of one opcode.
type CommandStats struct {
	Sent     int
	Failed   int
	Timeouts int
	Total    time.Duration
	Max      time.Duration
	resolved int
}

// Mean is the average time to resolution.
func (c *CommandStats) Mean() time.Duration {
	if c.resolved == 0 {
		return 0
	}
	return c.Total / time.Duration(c.resolved)
}

// Collect reads the trace file at path and aggregates it.
func Collect(path string) (*Stats, error) {
	reader, err := log.NewReader(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	defer reader.Close()

	stats := &Stats{
		EventsByLayer:     make(map[log.Layer]int),
		EventsByCategory:  make(map[log.Category]int),
		EventsByDirection: make(map[log.Direction]int),
		Sessions:          make(map[string]*SessionStats),
		Commands:          make(map[wire.Opcode]*CommandStats),
		FirmwareEvents:    make(map[wire.EventCode]int),
	}

	err = reader.Each(func(event log.Event) error {
		stats.add(event)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read event: %w", err)
	}
	stats.Truncated = reader.Truncated()
	return stats, nil
}

func (s *Stats) add(event log.Event) {
	s.TotalEvents++
	s.EventsByLayer[event.Layer]++
	s.EventsByCategory[event.Category]++
	s.EventsByDirection[event.Direction]++

	if s.TimeRange.Start.IsZero() || event.Timestamp.Before(s.TimeRange.Start) {
		s.TimeRange.Start = event.Timestamp
	}
	if event.Timestamp.After(s.TimeRange.End) {
		s.TimeRange.End = event.Timestamp
	}

	sess, ok := s.Sessions[event.SessionID]
	if !ok {
		sess = &SessionStats{FirstSeen: event.Timestamp, LastSeen: event.Timestamp}
		s.Sessions[event.SessionID] = sess
	}
	sess.Events++
	if event.Timestamp.After(sess.LastSeen) {
		sess.LastSeen = event.Timestamp
	}

	switch {
	case event.Command != nil:
		s.addCommand(event.Command)
	case event.FwEvent != nil:
		s.FirmwareEvents[event.FwEvent.Code]++
		if event.FwEvent.Dropped {
			s.DroppedEvents++
		}
	case event.Error != nil:
		s.Errors++
	}
}

func (s *Stats) addCommand(cmd *log.CommandEvent) {
	cs, ok := s.Commands[cmd.Opcode]
	if !ok {
		cs = &CommandStats{}
		s.Commands[cmd.Opcode] = cs
	}
	if cmd.Type == log.MessageTypeRequest {
		cs.Sent++
		return
	}
	if cmd.Outcome != "ok" {
		cs.Failed++
	}
	if cmd.Outcome == "timeout" {
		cs.Timeouts++
	}
	if cmd.Duration != nil {
		cs.resolved++
		cs.Total += *cmd.Duration
		cs.Max = max(cs.Max, *cmd.Duration)
	}
}

// RunStats analyzes the trace file and prints statistics.
func RunStats(path string, w io.Writer) error {
	stats, err := Collect(path)
	if err != nil {
		return err
	}
	printStats(w, stats)
	return nil
}

func printStats(w io.Writer, stats *Stats) {
	fmt.Fprintln(w, "=== Firmware Trace Statistics ===")
	fmt.Fprintln(w)

	if stats.TotalEvents > 0 {
		fmt.Fprintf(w, "Time Range: %s to %s\n",
			stats.TimeRange.Start.Format(time.RFC3339),
			stats.TimeRange.End.Format(time.RFC3339))
		fmt.Fprintf(w, "Duration:   %s\n", stats.TimeRange.End.Sub(stats.TimeRange.Start).Round(time.Millisecond))
		fmt.Fprintln(w)
	}

	fmt.Fprintf(w, "Total Events: %d\n", stats.TotalEvents)
	if stats.Truncated {
		fmt.Fprintln(w, "Trace ends in a partial record")
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Events by Layer:")
	for _, layer := range []log.Layer{log.LayerTransport, log.LayerCommand, log.LayerEvent, log.LayerDriver} {
		if count := stats.EventsByLayer[layer]; count > 0 {
			fmt.Fprintf(w, "  %-12s %d\n", layer.String()+":", count)
		}
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Events by Category:")
	for _, cat := range []log.Category{log.CategoryMessage, log.CategoryState, log.CategoryError} {
		if count := stats.EventsByCategory[cat]; count > 0 {
			fmt.Fprintf(w, "  %-12s %d\n", cat.String()+":", count)
		}
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Events by Direction:")
	for _, dir := range []log.Direction{log.DirectionIn, log.DirectionOut} {
		if count := stats.EventsByDirection[dir]; count > 0 {
			fmt.Fprintf(w, "  %-12s %d\n", dir.String()+":", count)
		}
	}
	fmt.Fprintln(w)

	if len(stats.Commands) > 0 {
		ops := make([]wire.Opcode, 0, len(stats.Commands))
		for op := range stats.Commands {
			ops = append(ops, op)
		}
		sort.Slice(ops, func(i, j int) bool { return ops[i] < ops[j] })

		fmt.Fprintln(w, "Commands:")
		for _, op := range ops {
			cs := stats.Commands[op]
			fmt.Fprintf(w, "  %-24s sent=%d failed=%d timeouts=%d mean=%s max=%s\n",
				op.String(), cs.Sent, cs.Failed, cs.Timeouts, formatDuration(cs.Mean()), formatDuration(cs.Max))
		}
		fmt.Fprintln(w)
	}

	if len(stats.FirmwareEvents) > 0 {
		codes := make([]wire.EventCode, 0, len(stats.FirmwareEvents))
		for code := range stats.FirmwareEvents {
			codes = append(codes, code)
		}
		sort.Slice(codes, func(i, j int) bool { return codes[i] < codes[j] })

		fmt.Fprintln(w, "Firmware Events:")
		for _, code := range codes {
			fmt.Fprintf(w, "  %-24s %d\n", code.String()+":", stats.FirmwareEvents[code])
		}
		if stats.DroppedEvents > 0 {
			fmt.Fprintf(w, "  dropped: %d\n", stats.DroppedEvents)
		}
		fmt.Fprintln(w)
	}

	fmt.Fprintf(w, "Sessions: %d\n", len(stats.Sessions))
	if len(stats.Sessions) > 0 {
		type sessionInfo struct {
			id    string
			stats *SessionStats
		}
		sessions := make([]sessionInfo, 0, len(stats.Sessions))
		for id, ss := range stats.Sessions {
			sessions = append(sessions, sessionInfo{id, ss})
		}
		sort.Slice(sessions, func(i, j int) bool {
			return sessions[i].stats.FirstSeen.Before(sessions[j].stats.FirstSeen)
		})

		for _, s := range sessions {
			duration := s.stats.LastSeen.Sub(s.stats.FirstSeen).Round(time.Millisecond)
			fmt.Fprintf(w, "  [%s] %d events, duration %s\n", shortenSessionID(s.id), s.stats.Events, duration)
		}
	}

	if stats.Errors > 0 {
		fmt.Fprintln(w)
		fmt.Fprintf(w, "Errors: %d\n", stats.Errors)
	}
}
