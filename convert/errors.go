package convert

import (
	"context"
	"errors"
	"fmt"

	"github.com/udfkit/udf2parquet/columnar"
	"github.com/udfkit/udf2parquet/sink"
	"github.com/udfkit/udf2parquet/udf"
)

// ErrorKind partitions conversion failures by where the fault lies: the
// container as a whole, a stretch of its body, the schema, the output
// target, or the caller's context.
type ErrorKind uint8

const (
	KindUnknown ErrorKind = iota
	// KindFormat: the input is not a usable container (bad preamble,
	// unsupported version, header cut short).
	KindFormat
	// KindIntegrity: body damage such as truncation or framing corruption.
	KindIntegrity
	// KindSchema: column model problems (undecodable field types,
	// declared-schema mismatches, value coercion failures).
	KindSchema
	// KindOutput: the output file could not be produced.
	KindOutput
	// KindCancelled: the caller's context ended the conversion.
	KindCancelled
)

func (k ErrorKind) String() string {
	switch k {
	case KindFormat:
		return "format"
	case KindIntegrity:
		return "integrity"
	case KindSchema:
		return "schema"
	case KindOutput:
		return "output"
	case KindCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// ConversionError is the error type Convert returns on failure. It records
// how far the conversion got before dying.
type ConversionError struct {
	Kind ErrorKind
	// Offset is the input byte offset of the failure, -1 when it has no
	// position.
	Offset int64
	// Record is the 1-based output row being assembled when the failure
	// hit, 0 when none was.
	Record int64
	// RowsConverted counts rows fully assembled before the failure.
	RowsConverted int64
	Err           error
}

func (e *ConversionError) Error() string {
	msg := fmt.Sprintf("convert: %s error", e.Kind)
	if e.Record > 0 {
		msg += fmt.Sprintf(" at record %d", e.Record)
	}
	if e.Offset >= 0 {
		msg += fmt.Sprintf(" (offset %d)", e.Offset)
	}
	return fmt.Sprintf("%s: %v", msg, e.Err)
}

func (e *ConversionError) Unwrap() error { return e.Err }

// classify maps sentinel errors from the decoding and writing layers onto
// error kinds.
func classify(err error) ErrorKind {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return KindCancelled
	case errors.Is(err, udf.ErrBadMagic), errors.Is(err, udf.ErrUnsupportedVersion):
		return KindFormat
	case errors.Is(err, udf.ErrTruncatedInput),
		errors.Is(err, udf.ErrRecordLengthMismatch),
		errors.Is(err, udf.ErrUnknownChannelTag),
		errors.Is(err, udf.ErrMalformedString):
		return KindIntegrity
	case errors.Is(err, udf.ErrUnknownFieldType),
		errors.Is(err, columnar.ErrFieldCountMismatch),
		errors.Is(err, columnar.ErrIncompatibleFieldType),
		errors.Is(err, columnar.ErrColumnCollision):
		return KindSchema
	case errors.Is(err, sink.ErrWriteFailed):
		return KindOutput
	default:
		return KindUnknown
	}
}

// Warning reason tokens. These are stable: they feed metrics labels and
// appear in conversion reports.
const (
	ReasonUnknownChannelTag    = "unknown-channel-tag"
	ReasonRecordLengthMismatch = "record-length-mismatch"
	ReasonTruncatedInput       = "truncated-input"
	ReasonMalformedString      = "malformed-string"
	ReasonUnknownFieldType     = "unknown-field-type"
	ReasonIncompatibleField    = "incompatible-field-type"
	ReasonOrphanEvent          = "orphan-event"
)

func warnReason(err error) string {
	switch {
	case errors.Is(err, udf.ErrUnknownChannelTag):
		return ReasonUnknownChannelTag
	case errors.Is(err, udf.ErrRecordLengthMismatch):
		return ReasonRecordLengthMismatch
	case errors.Is(err, udf.ErrTruncatedInput):
		return ReasonTruncatedInput
	case errors.Is(err, udf.ErrMalformedString):
		return ReasonMalformedString
	case errors.Is(err, udf.ErrUnknownFieldType):
		return ReasonUnknownFieldType
	case errors.Is(err, columnar.ErrIncompatibleFieldType):
		return ReasonIncompatibleField
	default:
		return "decode-error"
	}
}
