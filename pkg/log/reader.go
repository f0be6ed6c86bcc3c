package log

import (
	"io"
	"os"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/wlanfw/wlanfw-go/pkg/wire"
)

// Filter selects trace events. Zero fields match everything.
type Filter struct {
	SessionID string
	Direction *Direction
	Layer     *Layer
	Category  *Category
	Interface *uint8

	// Opcodes keeps only command events for these opcodes.
	Opcodes []wire.Opcode

	// Events keeps only firmware events with these codes.
	Events []wire.EventCode

	// TimeStart is inclusive, TimeEnd exclusive.
	TimeStart *time.Time
	TimeEnd   *time.Time
}

// Matches reports whether event passes every criterion of f.
func (f *Filter) Matches(event Event) bool {
	if f.SessionID != "" && event.SessionID != f.SessionID {
		return false
	}
	if f.Direction != nil && event.Direction != *f.Direction {
		return false
	}
	if f.Layer != nil && event.Layer != *f.Layer {
		return false
	}
	if f.Category != nil && event.Category != *f.Category {
		return false
	}
	if f.Interface != nil && (event.Interface == nil || *event.Interface != *f.Interface) {
		return false
	}
	if len(f.Opcodes) > 0 && (event.Command == nil || !contains(f.Opcodes, event.Command.Opcode)) {
		return false
	}
	if len(f.Events) > 0 && (event.FwEvent == nil || !contains(f.Events, event.FwEvent.Code)) {
		return false
	}
	if f.TimeStart != nil && event.Timestamp.Before(*f.TimeStart) {
		return false
	}
	if f.TimeEnd != nil && !event.Timestamp.Before(*f.TimeEnd) {
		return false
	}
	return true
}

func contains[T comparable](list []T, v T) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}

// Reader streams events from a trace file.
//
// A trace written by a driver that crashed usually ends in a partial
// record. The reader treats that as the end of the trace and reports it
// through Truncated instead of failing.
type Reader struct {
	src       io.Closer
	decoder   *cbor.Decoder
	filter    Filter
	read      int
	truncated bool
}

// NewReader opens the trace file at path.
func NewReader(path string) (*Reader, error) {
	return NewFilteredReader(path, Filter{})
}

// NewFilteredReader opens the trace file at path and yields only the
// events that match filter.
func NewFilteredReader(path string, filter Filter) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	return NewStreamReader(f, filter), nil
}

// NewStreamReader reads trace events from src, typically a pipe. Close
// closes src when it implements io.Closer.
func NewStreamReader(src io.Reader, filter Filter) *Reader {
	r := &Reader{decoder: NewDecoder(src), filter: filter}
	if c, ok := src.(io.Closer); ok {
		r.src = c
	}
	return r
}

// Next returns the next matching event, or io.EOF at the end of the trace.
func (r *Reader) Next() (Event, error) {
	for {
		var event Event
		if err := r.decoder.Decode(&event); err != nil {
			if truncatedRecord(err) {
				r.truncated = true
				return Event{}, io.EOF
			}
			return Event{}, err
		}
		r.read++

		if r.filter.Matches(event) {
			return event, nil
		}
	}
}

// Each calls fn for every remaining matching event.
func (r *Reader) Each(fn func(Event) error) error {
	for {
		event, err := r.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if err := fn(event); err != nil {
			return err
		}
	}
}

// Read returns how many events were decoded, matching or not.
func (r *Reader) Read() int {
	return r.read
}

// Truncated reports whether the trace ended in a partial record.
func (r *Reader) Truncated() bool {
	return r.truncated
}

// Close closes the underlying source.
func (r *Reader) Close() error {
	if r.src == nil {
		return nil
	}
	return r.src.Close()
}
