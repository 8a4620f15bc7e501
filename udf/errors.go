package udf

import (
	"errors"
	"fmt"
)

// Container-level errors. Any of these means nothing useful can be decoded
// from the input.
var (
	// ErrBadMagic indicates the input does not carry a recognizable UDF
	// container preamble.
	ErrBadMagic = errors.New("udf: not a udf container")
	// ErrUnsupportedVersion indicates a preamble whose version line names a
	// format revision this decoder does not understand.
	ErrUnsupportedVersion = errors.New("udf: unsupported container version")
	// ErrTruncatedInput indicates the input ended before a declared
	// structure was complete.
	ErrTruncatedInput = errors.New("udf: truncated input")
)

// Record-level errors. These are scoped to a single event and the decoder
// resynchronizes past the damage before returning them, so the caller may
// choose to continue.
var (
	// ErrRecordLengthMismatch indicates a measurement event whose consumed
	// byte count disagrees with the channel's declared event size.
	ErrRecordLengthMismatch = errors.New("udf: record length mismatch")
	// ErrUnknownChannelTag indicates a body tag byte that maps to no
	// declared channel and no reserved event class.
	ErrUnknownChannelTag = errors.New("udf: unknown channel tag")
	// ErrUnknownFieldType indicates an event of a channel whose declaration
	// names a field type this decoder cannot decode.
	ErrUnknownFieldType = errors.New("udf: unknown field type")
	// ErrMalformedString indicates string payload bytes that do not form
	// valid UTF-8 where the format requires it.
	ErrMalformedString = errors.New("udf: malformed string payload")
)

// DecodeError wraps a decode failure with its position in the stream.
type DecodeError struct {
	// Offset is the byte offset of the event's tag within the container.
	Offset int64
	// Event is the ordinal of the event within the body, counting from one.
	Event int64
	// Channel is the channel name for measurement events, empty otherwise.
	Channel string
	// Err is the underlying sentinel, possibly wrapped with detail.
	Err error
}

func (e *DecodeError) Error() string {
	if e.Channel != "" {
		return fmt.Sprintf("udf: event %d (channel %q) at offset %d: %v", e.Event, e.Channel, e.Offset, e.Err)
	}
	return fmt.Sprintf("udf: event %d at offset %d: %v", e.Event, e.Offset, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Recoverable reports whether the decoder has resynchronized past the
// failure, making it safe to continue calling Next.
func (e *DecodeError) Recoverable() bool {
	return errors.Is(e.Err, ErrRecordLengthMismatch) ||
		errors.Is(e.Err, ErrUnknownChannelTag) ||
		errors.Is(e.Err, ErrUnknownFieldType) ||
		errors.Is(e.Err, ErrMalformedString)
}
