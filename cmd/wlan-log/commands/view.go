// Package commands implements the wlan-log CLI commands.
package commands

import (
	"encoding/hex"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/wlanfw/wlanfw-go/pkg/log"
	"github.com/wlanfw/wlanfw-go/pkg/wire"
)

// FilterFlags are the filter criteria shared by the view and filter
// commands, as given on the command line. Empty fields match everything.
type FilterFlags struct {
	Layer     string
	Direction string
	Category  string
	Session   string
	Interface string
	Opcode    string
	Event     string
	TimeStart string
	TimeEnd   string
}

// Build converts the flags into a log.Filter.
func (f FilterFlags) Build() (log.Filter, error) {
	filter := log.Filter{SessionID: f.Session}

	if f.Layer != "" {
		l, err := parseLayer(f.Layer)
		if err != nil {
			return log.Filter{}, err
		}
		filter.Layer = &l
	}
	if f.Direction != "" {
		d, err := parseDirection(f.Direction)
		if err != nil {
			return log.Filter{}, err
		}
		filter.Direction = &d
	}
	if f.Category != "" {
		c, err := parseCategory(f.Category)
		if err != nil {
			return log.Filter{}, err
		}
		filter.Category = &c
	}
	if f.Interface != "" {
		idx, err := strconv.ParseUint(f.Interface, 10, 8)
		if err != nil {
			return log.Filter{}, fmt.Errorf("invalid interface: %s (must be 0-255)", f.Interface)
		}
		filter.Interface = log.IfIndex(uint8(idx))
	}
	for _, name := range splitList(f.Opcode) {
		op, err := wire.ParseOpcode(name)
		if err != nil {
			return log.Filter{}, err
		}
		filter.Opcodes = append(filter.Opcodes, op)
	}
	for _, name := range splitList(f.Event) {
		code, err := wire.ParseEventCode(name)
		if err != nil {
			return log.Filter{}, err
		}
		filter.Events = append(filter.Events, code)
	}
	if f.TimeStart != "" {
		t, err := time.Parse(time.RFC3339, f.TimeStart)
		if err != nil {
			return log.Filter{}, fmt.Errorf("invalid time-start format: %w", err)
		}
		filter.TimeStart = &t
	}
	if f.TimeEnd != "" {
		t, err := time.Parse(time.RFC3339, f.TimeEnd)
		if err != nil {
			return log.Filter{}, fmt.Errorf("invalid time-end format: %w", err)
		}
		filter.TimeEnd = &t
	}
	return filter, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// formatEvent writes one event as a header line plus indented details:
//
//	timestamp [session] ifN DIR LAYER label
func formatEvent(w io.Writer, event log.Event) {
	iface := "   "
	if event.Interface != nil {
		iface = fmt.Sprintf("if%d", *event.Interface)
	}
	fmt.Fprintf(w, "%s [%s] %s %-3s %s %s\n",
		event.Timestamp.UTC().Format("2006-01-02T15:04:05.000000Z"),
		shortenSessionID(event.SessionID), iface, event.Direction, event.Layer, event.Label())

	switch {
	case event.Frame != nil:
		formatFrame(w, event.Frame)
	case event.Command != nil:
		c := event.Command
		fmt.Fprintf(w, "  %s seq=%d\n", c.Type, c.Seq)
		if c.Status != nil {
			fmt.Fprintf(w, "  Status: %s (%d)\n", c.Status, *c.Status)
		}
		detail(w, "Outcome", c.Outcome)
		if c.Duration != nil {
			detail(w, "Duration", formatDuration(*c.Duration))
		}
	case event.FwEvent != nil:
		fmt.Fprintf(w, "  Payload: %d bytes\n", event.FwEvent.PayloadSize)
		if event.FwEvent.Dropped {
			fmt.Fprintln(w, "  Dropped: queue full")
		}
	case event.StateChange != nil:
		sc := event.StateChange
		fmt.Fprintf(w, "  %s: %s -> %s\n", sc.Entity, orDash(sc.OldState), sc.NewState)
		detail(w, "Reason", sc.Reason)
	case event.Error != nil:
		detail(w, "Message", event.Error.Message)
		detail(w, "During", event.Error.Context)
	}
	fmt.Fprintln(w)
}

func detail(w io.Writer, name, value string) {
	if value != "" {
		fmt.Fprintf(w, "  %s: %s\n", name, value)
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// formatFrame decodes the captured bytes as a wire frame when they are
// complete, falling back to a hex dump.
func formatFrame(w io.Writer, frame *log.FrameEvent) {
	fmt.Fprintf(w, "  Size: %d bytes\n", frame.Size)
	if !frame.Truncated {
		if f, err := wire.DecodeFrame(frame.Data); err == nil {
			switch {
			case f.Command != nil:
				fmt.Fprintf(w, "  %s %s seq=%d if%d\n", f.Kind, f.Command.Opcode, f.Command.Seq, f.Command.Interface)
			case f.Reply != nil:
				fmt.Fprintf(w, "  %s %s seq=%d\n", f.Kind, f.Reply.Status, f.Reply.Seq)
			case f.Event != nil:
				fmt.Fprintf(w, "  %s %s if%d\n", f.Kind, f.Event.Code, f.Event.Interface)
			}
			return
		}
	}
	if len(frame.Data) > 0 {
		suffix := ""
		if frame.Truncated {
			suffix = " (truncated)"
		}
		fmt.Fprintf(w, "  Data: %s%s\n", hex.EncodeToString(frame.Data), suffix)
	}
}

// shortenSessionID returns the first 8 characters of the session ID.
func shortenSessionID(id string) string {
	if len(id) >= 8 {
		return id[:8]
	}
	return id
}

// formatDuration prints d with microsecond resolution in the largest
// fitting unit.
func formatDuration(d time.Duration) string {
	switch {
	case d < time.Millisecond:
		return fmt.Sprintf("%.3fus", float64(d.Nanoseconds())/1e3)
	case d < time.Second:
		return fmt.Sprintf("%.3fms", float64(d.Microseconds())/1e3)
	default:
		return fmt.Sprintf("%.3fs", d.Seconds())
	}
}

// parseName matches s against the String form of values, ignoring case.
func parseName[T fmt.Stringer](kind, s string, values ...T) (T, error) {
	names := make([]string, len(values))
	for i, v := range values {
		if strings.EqualFold(v.String(), s) {
			return v, nil
		}
		names[i] = strings.ToLower(v.String())
	}
	var zero T
	return zero, fmt.Errorf("invalid %s: %s (must be one of %s)", kind, s, strings.Join(names, ", "))
}

func parseLayer(s string) (log.Layer, error) {
	return parseName("layer", s, log.LayerTransport, log.LayerCommand, log.LayerEvent, log.LayerDriver)
}

func parseDirection(s string) (log.Direction, error) {
	return parseName("direction", s, log.DirectionIn, log.DirectionOut)
}

func parseCategory(s string) (log.Category, error) {
	return parseName("category", s, log.CategoryMessage, log.CategoryState, log.CategoryError)
}

// RunView executes the view command.
func RunView(path string, flags FilterFlags, output io.Writer) error {
	filter, err := flags.Build()
	if err != nil {
		return err
	}

	reader, err := log.NewFilteredReader(path, filter)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer reader.Close()

	err = reader.Each(func(event log.Event) error {
		formatEvent(output, event)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to read event: %w", err)
	}
	if reader.Truncated() {
		fmt.Fprintln(output, "(trace ends in a partial record)")
	}
	return nil
}
