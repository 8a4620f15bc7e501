// Package udf decodes the UDF acquisition container: a CRLF-delimited text
// preamble declaring tagged channels, followed by a little-endian stream of
// fixed-width events. Timestamp events open rows, label events annotate
// them, and measurement events carry channel samples.
package udf

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/udfkit/udf2parquet/binio"
)

// Event is one decoded body event. Concrete types are TimestampEvent,
// LabelEvent, and MeasurementEvent.
type Event interface {
	isEvent()
}

// TimestampEvent opens a new output row.
type TimestampEvent struct {
	// Nanos is nanoseconds since the Unix epoch.
	Nanos uint64
	// Off is the byte offset of the event's tag.
	Off int
}

// LabelEvent annotates the current row with a short text marker.
type LabelEvent struct {
	Text string
	Off  int
}

// MeasurementEvent carries one sample of a declared channel.
type MeasurementEvent struct {
	Channel *Channel
	// Fields holds one value per channel axis. The slice is reused by the
	// decoder and is valid only until the next call to Next.
	Fields []Field
	Off    int
}

func (*TimestampEvent) isEvent()   {}
func (*LabelEvent) isEvent()       {}
func (*MeasurementEvent) isEvent() {}

// Decoder iterates the body events of a container. Record-scoped failures
// come back as *DecodeError with the decoder already resynchronized, so a
// caller running a lenient policy can keep going; truncation is terminal.
type Decoder struct {
	cur      *binio.Cursor
	resolver TagResolver
	order    binary.ByteOrder

	events  int64
	done    bool
	scratch []Field

	ts    TimestampEvent
	label LabelEvent
	meas  MeasurementEvent
}

// DecoderOption adjusts decoder construction.
type DecoderOption func(*Decoder)

// WithTagResolver substitutes the tag mapping, for containers that repurpose
// the tag space.
func WithTagResolver(r TagResolver) DecoderOption {
	return func(d *Decoder) { d.resolver = r }
}

// NewDecoder returns a decoder reading body events from cur, which must be
// positioned at the header's BodyStart.
func NewDecoder(cur *binio.Cursor, hdr *Header, opts ...DecoderOption) *Decoder {
	d := &Decoder{
		cur:      cur,
		resolver: ResolverForHeader(hdr),
		order:    binary.LittleEndian,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Events reports how many body events have been consumed, including ones
// that failed to decode.
func (d *Decoder) Events() int64 { return d.events }

// InputOffset reports the current byte position in the container.
func (d *Decoder) InputOffset() int { return d.cur.Position() }

// Next decodes the next event. It returns io.EOF at the end of the body.
// A *DecodeError with Recoverable() true reports a damaged or undecodable
// event that has been skipped; any other error is terminal and subsequent
// calls return io.EOF.
func (d *Decoder) Next() (Event, error) {
	if d.done {
		return nil, io.EOF
	}
	if d.cur.Remaining() == 0 {
		d.done = true
		return nil, io.EOF
	}

	off := d.cur.Position()
	tag, err := d.cur.ReadU8()
	if err != nil {
		d.done = true
		return nil, io.EOF
	}
	d.events++

	class, ch := d.resolver.Resolve(tag)
	switch class {
	case ClassTimestamp:
		nanos, err := d.cur.ReadU64(d.order)
		if err != nil {
			return nil, d.fail(off, "", fmt.Errorf("%w: timestamp event cut short", ErrTruncatedInput))
		}
		d.ts = TimestampEvent{Nanos: nanos, Off: off}
		return &d.ts, nil

	case ClassLabel:
		raw, err := d.cur.ReadBytes(stringFieldWidth)
		if err != nil {
			return nil, d.fail(off, "", fmt.Errorf("%w: label event cut short", ErrTruncatedInput))
		}
		f := textField(raw)
		if f.Type() != TypeUtf8 {
			return nil, d.errAt(off, "", ErrMalformedString)
		}
		d.label = LabelEvent{Text: f.Str(), Off: off}
		return &d.label, nil

	case ClassMeasurement:
		return d.measurement(off, ch)

	default:
		return nil, d.resync(off, tag)
	}
}

func (d *Decoder) measurement(off int, ch *Channel) (Event, error) {
	if d.cur.Remaining() < ch.EventSize {
		_ = d.cur.SeekTo(d.cur.Len())
		return nil, d.fail(off, ch.Name, fmt.Errorf("%w: event needs %d bytes, %d remain",
			ErrTruncatedInput, ch.EventSize, d.cur.Remaining()))
	}

	if ch.Opaque {
		_ = d.cur.Skip(ch.EventSize)
		return nil, d.errAt(off, ch.Name, fmt.Errorf("%w: %v", ErrUnknownFieldType, ch.RawTypes))
	}

	start := d.cur.Position()
	end := start + ch.EventSize
	if ch.fieldBytes > ch.EventSize {
		_ = d.cur.SeekTo(end)
		return nil, d.errAt(off, ch.Name, fmt.Errorf("%w: fields span %d bytes, event size is %d",
			ErrRecordLengthMismatch, ch.fieldBytes, ch.EventSize))
	}

	d.scratch = d.scratch[:0]
	for _, wt := range ch.Types {
		f, err := decodeField(d.cur, wt, d.order)
		if err != nil {
			_ = d.cur.SeekTo(d.cur.Len())
			return nil, d.fail(off, ch.Name, ErrTruncatedInput)
		}
		d.scratch = append(d.scratch, f)
	}
	if consumed := d.cur.Position() - start; consumed != ch.EventSize {
		_ = d.cur.SeekTo(end)
		return nil, d.errAt(off, ch.Name, fmt.Errorf("%w: decoded %d bytes, event size is %d",
			ErrRecordLengthMismatch, consumed, ch.EventSize))
	}

	d.meas = MeasurementEvent{Channel: ch, Fields: d.scratch, Off: off}
	return &d.meas, nil
}

// resync advances to the next timestamp tag. Measurements between the
// damage and the next row boundary cannot be trusted, so scanning for a
// channel tag would only multiply the noise.
func (d *Decoder) resync(off int, tag uint8) error {
	next := d.cur.IndexByteFrom(TagTimestamp)
	if alt := d.cur.IndexByteFrom(TagTimestampAlt); alt >= 0 && (next < 0 || alt < next) {
		next = alt
	}
	if next < 0 {
		_ = d.cur.SeekTo(d.cur.Len())
	} else {
		_ = d.cur.SeekTo(next)
	}
	return d.errAt(off, "", fmt.Errorf("%w: 0x%02X", ErrUnknownChannelTag, tag))
}

func (d *Decoder) errAt(off int, channel string, err error) *DecodeError {
	return &DecodeError{Offset: int64(off), Event: d.events, Channel: channel, Err: err}
}

func (d *Decoder) fail(off int, channel string, err error) *DecodeError {
	d.done = true
	return d.errAt(off, channel, err)
}
