package log

import (
	"errors"
	"fmt"
	"io"

	"github.com/fxamacker/cbor/v2"
)

// Decoder limits for trace records. A record is one Event; anything nested
// deeper or wider than this is a corrupt file, not a real trace.
const (
	maxRecordNesting = 8
	maxRecordPairs   = 64
	maxRecordItems   = 1024
)

var (
	traceEncMode cbor.EncMode
	traceDecMode cbor.DecMode
)

func init() {
	var err error

	// Records are appended one at a time, so every record must be a
	// definite length item that a reader can skip or detect as cut off.
	traceEncMode, err = cbor.EncOptions{
		Sort:          cbor.SortCanonical,
		IndefLength:   cbor.IndefLengthForbidden,
		NilContainers: cbor.NilContainerAsNull,
		Time:          cbor.TimeRFC3339Nano,
	}.EncMode()
	if err != nil {
		panic(fmt.Sprintf("trace cbor encoder: %v", err))
	}

	// Unknown keys from newer writers are ignored. SSIDs recorded as text
	// are not guaranteed to be UTF-8.
	traceDecMode, err = cbor.DecOptions{
		DupMapKey:         cbor.DupMapKeyQuiet,
		IndefLength:       cbor.IndefLengthForbidden,
		ExtraReturnErrors: cbor.ExtraDecErrorNone,
		UTF8:              cbor.UTF8DecodeInvalid,
		MaxNestedLevels:   maxRecordNesting,
		MaxMapPairs:       maxRecordPairs,
		MaxArrayElements:  maxRecordItems,
	}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("trace cbor decoder: %v", err))
	}
}

// EncodeEvent encodes one trace record.
func EncodeEvent(event Event) ([]byte, error) {
	return traceEncMode.Marshal(event)
}

// DecodeEvent decodes one trace record.
func DecodeEvent(data []byte) (Event, error) {
	var event Event
	if err := traceDecMode.Unmarshal(data, &event); err != nil {
		return Event{}, err
	}
	return event, nil
}

// NewEncoder returns a record encoder writing to w.
func NewEncoder(w io.Writer) *cbor.Encoder {
	return traceEncMode.NewEncoder(w)
}

// NewDecoder returns a record decoder reading from r.
func NewDecoder(r io.Reader) *cbor.Decoder {
	return traceDecMode.NewDecoder(r)
}

// truncatedRecord reports whether err means the stream ended inside a
// record, which is how a trace of a crashed driver ends.
func truncatedRecord(err error) bool {
	return errors.Is(err, io.ErrUnexpectedEOF)
}
