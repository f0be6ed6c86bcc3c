package transport

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/wlanfw/wlanfw-go/pkg/log"
)

// Bus header layout, as the bridge puts it in front of every frame:
//
//	0..1  payload length, little endian
//	2     endpoint
//	3     sequence number, incremented per frame and per direction
const (
	HeaderSize = 4

	// DefaultMaxMessageSize bounds one frame payload (16 KB). Control frames
	// are small; scan results are the largest.
	DefaultMaxMessageSize = 16384

	// maxBusPayload is what the 16-bit length field can carry.
	maxBusPayload = 0xffff
)

// Endpoint selects the bridge channel a frame travels on.
type Endpoint uint8

const (
	// EndpointControl carries commands, replies and firmware events.
	EndpointControl Endpoint = 0x01

	// EndpointData carries 802.3 traffic, which the host control path skips.
	EndpointData Endpoint = 0x02
)

// String returns the endpoint name.
func (e Endpoint) String() string {
	switch e {
	case EndpointControl:
		return "CONTROL"
	case EndpointData:
		return "DATA"
	default:
		return fmt.Sprintf("ENDPOINT(%d)", uint8(e))
	}
}

// Framing errors.
var (
	ErrMessageTooLarge = errors.New("message too large")
	ErrMessageEmpty    = errors.New("message is empty")
	ErrFrameTruncated  = errors.New("frame truncated")

	// ErrSequenceGap reports that bus frames were lost. The reader
	// resynchronises on the frame that revealed the gap.
	ErrSequenceGap = errors.New("bus sequence gap")
)

func checkMaxSize(maxSize uint32) uint32 {
	if maxSize == 0 || maxSize > maxBusPayload {
		return maxBusPayload
	}
	return maxSize
}

// FrameWriter writes control frames under the bus header.
type FrameWriter struct {
	w       io.Writer
	maxSize uint32
	tracer  *log.Tracer

	mu  sync.Mutex
	seq uint8
}

// NewFrameWriter creates a frame writer with DefaultMaxMessageSize.
func NewFrameWriter(w io.Writer) *FrameWriter {
	return NewFrameWriterWithMaxSize(w, DefaultMaxMessageSize)
}

// NewFrameWriterWithMaxSize creates a frame writer that refuses payloads
// above maxSize. The bus header caps it at 64 KB - 1.
func NewFrameWriterWithMaxSize(w io.Writer, maxSize uint32) *FrameWriter {
	return &FrameWriter{w: w, maxSize: checkMaxSize(maxSize)}
}

// SetTracer configures frame tracing. Pass nil to disable.
func (fw *FrameWriter) SetTracer(t *log.Tracer) {
	fw.tracer = t
}

// WriteFrame sends data on the control endpoint. Safe for concurrent use.
func (fw *FrameWriter) WriteFrame(data []byte) error {
	return fw.WriteEndpoint(EndpointControl, data)
}

// WriteEndpoint sends data on ep.
func (fw *FrameWriter) WriteEndpoint(ep Endpoint, data []byte) error {
	if len(data) == 0 {
		return ErrMessageEmpty
	}
	if uint32(len(data)) > fw.maxSize {
		return fmt.Errorf("%w: %d > %d", ErrMessageTooLarge, len(data), fw.maxSize)
	}

	fw.mu.Lock()
	defer fw.mu.Unlock()

	// Header and payload go out in one write: the bridge treats every
	// write as one bus transfer.
	buf := make([]byte, HeaderSize+len(data))
	binary.LittleEndian.PutUint16(buf, uint16(len(data)))
	buf[2] = byte(ep)
	buf[3] = fw.seq
	copy(buf[HeaderSize:], data)

	if _, err := fw.w.Write(buf); err != nil {
		return fmt.Errorf("write %s frame: %w", ep, err)
	}
	fw.seq++

	if ep == EndpointControl {
		fw.tracer.Frame(log.DirectionOut, data)
	}
	return nil
}

// FrameReader reads bus frames and returns the control endpoint payloads.
type FrameReader struct {
	r       io.Reader
	maxSize uint32
	tracer  *log.Tracer
	header  [HeaderSize]byte

	synced  bool
	nextSeq uint8
	skipped uint64
}

// NewFrameReader creates a frame reader with DefaultMaxMessageSize.
func NewFrameReader(r io.Reader) *FrameReader {
	return NewFrameReaderWithMaxSize(r, DefaultMaxMessageSize)
}

// NewFrameReaderWithMaxSize creates a frame reader that rejects payloads
// above maxSize.
func NewFrameReaderWithMaxSize(r io.Reader, maxSize uint32) *FrameReader {
	return &FrameReader{r: r, maxSize: checkMaxSize(maxSize)}
}

// SetTracer configures frame tracing. Pass nil to disable.
func (fr *FrameReader) SetTracer(t *log.Tracer) {
	fr.tracer = t
}

// Skipped returns how many non-control frames the reader discarded.
func (fr *FrameReader) Skipped() uint64 {
	return fr.skipped
}

// ReadFrame returns the payload of the next control endpoint frame. Frames
// for other endpoints are consumed and dropped. A sequence gap is reported
// as ErrSequenceGap together with the frame that revealed it, so the caller
// can log the loss and still process the frame.
func (fr *FrameReader) ReadFrame() ([]byte, error) {
	for {
		ep, payload, err := fr.next()
		if payload == nil {
			return nil, err
		}
		if ep != EndpointControl {
			fr.skipped++
			if err != nil {
				return nil, err
			}
			continue
		}
		fr.tracer.Frame(log.DirectionIn, payload)
		return payload, err
	}
}

func (fr *FrameReader) next() (Endpoint, []byte, error) {
	if _, err := io.ReadFull(fr.r, fr.header[:]); err != nil {
		if err == io.EOF {
			return 0, nil, err
		}
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return 0, nil, ErrFrameTruncated
		}
		return 0, nil, fmt.Errorf("read bus header: %w", err)
	}

	length := uint32(binary.LittleEndian.Uint16(fr.header[:2]))
	ep := Endpoint(fr.header[2])
	seq := fr.header[3]
	if length == 0 {
		return 0, nil, ErrMessageEmpty
	}
	if length > fr.maxSize {
		return 0, nil, fmt.Errorf("%w: %d > %d", ErrMessageTooLarge, length, fr.maxSize)
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(fr.r, payload); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) || err == io.EOF {
			return 0, nil, ErrFrameTruncated
		}
		return 0, nil, fmt.Errorf("read %s payload: %w", ep, err)
	}

	var gap error
	if fr.synced && seq != fr.nextSeq {
		gap = fmt.Errorf("%w: got %d, want %d", ErrSequenceGap, seq, fr.nextSeq)
	}
	fr.synced = true
	fr.nextSeq = seq + 1
	return ep, payload, gap
}

// Framer combines frame reading and writing over one stream.
type Framer struct {
	*FrameReader
	*FrameWriter
}

// NewFramer creates a framer with DefaultMaxMessageSize.
func NewFramer(rw io.ReadWriter) *Framer {
	return NewFramerWithMaxSize(rw, DefaultMaxMessageSize)
}

// NewFramerWithMaxSize creates a framer with a custom payload limit.
func NewFramerWithMaxSize(rw io.ReadWriter, maxSize uint32) *Framer {
	return &Framer{
		FrameReader: NewFrameReaderWithMaxSize(rw, maxSize),
		FrameWriter: NewFrameWriterWithMaxSize(rw, maxSize),
	}
}

// SetTracer configures tracing for both directions.
func (f *Framer) SetTracer(t *log.Tracer) {
	f.FrameReader.SetTracer(t)
	f.FrameWriter.SetTracer(t)
}

// FrameSize returns the bytes a payload occupies on the bus.
func FrameSize(payloadSize int) int {
	return HeaderSize + payloadSize
}
