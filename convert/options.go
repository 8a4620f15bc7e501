package convert

import (
	"fmt"
	"strings"

	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/parquet/compress"
	"go.uber.org/zap"

	"github.com/udfkit/udf2parquet/columnar"
	"github.com/udfkit/udf2parquet/sink"
)

// ErrorPolicy decides what a record-scoped failure does to the conversion.
type ErrorPolicy uint8

const (
	// SkipAndWarn drops the damaged record, records a warning, and keeps
	// going. The default.
	SkipAndWarn ErrorPolicy = iota
	// Strict aborts on the first failure of any kind.
	Strict
)

func (p ErrorPolicy) String() string {
	if p == Strict {
		return "strict"
	}
	return "skip-and-warn"
}

// ParseErrorPolicy reads a policy name as given on a command line.
func ParseErrorPolicy(s string) (ErrorPolicy, error) {
	switch strings.ToLower(s) {
	case "skip", "skip-and-warn", "lenient":
		return SkipAndWarn, nil
	case "strict":
		return Strict, nil
	}
	return 0, fmt.Errorf("unknown error policy %q", s)
}

// Compression selects the Parquet column compression.
type Compression uint8

const (
	// CompressionSnappy is the default.
	CompressionSnappy Compression = iota
	CompressionNone
	CompressionGzip
	CompressionZstd
)

func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionGzip:
		return "gzip"
	case CompressionZstd:
		return "zstd"
	default:
		return "snappy"
	}
}

// ParseCompression reads a codec name as given on a command line.
func ParseCompression(s string) (Compression, error) {
	switch strings.ToLower(s) {
	case "snappy":
		return CompressionSnappy, nil
	case "none", "uncompressed":
		return CompressionNone, nil
	case "gzip":
		return CompressionGzip, nil
	case "zstd":
		return CompressionZstd, nil
	}
	return 0, fmt.Errorf("unknown compression %q", s)
}

func (c Compression) codec() compress.Compression {
	switch c {
	case CompressionNone:
		return compress.Codecs.Uncompressed
	case CompressionGzip:
		return compress.Codecs.Gzip
	case CompressionZstd:
		return compress.Codecs.Zstd
	default:
		return compress.Codecs.Snappy
	}
}

// SchemaMode selects where the column model comes from.
type SchemaMode uint8

const (
	// SchemaInfer derives the schema from the container preamble. The
	// default.
	SchemaInfer SchemaMode = iota
	// SchemaValidate checks the derived schema against a caller-declared
	// one and aborts on mismatch.
	SchemaValidate
)

// Format selects the output encoding.
type Format uint8

const (
	FormatParquet Format = iota
	FormatCSV
	FormatIPC
)

func (f Format) String() string {
	switch f {
	case FormatCSV:
		return "csv"
	case FormatIPC:
		return "ipc"
	default:
		return "parquet"
	}
}

// Ext returns the conventional file extension for the format.
func (f Format) Ext() string {
	switch f {
	case FormatCSV:
		return ".csv"
	case FormatIPC:
		return ".arrow"
	default:
		return ".parquet"
	}
}

// ParseFormat reads a format name as given on a command line.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "parquet":
		return FormatParquet, nil
	case "csv":
		return FormatCSV, nil
	case "ipc", "arrow", "feather":
		return FormatIPC, nil
	}
	return 0, fmt.Errorf("unknown output format %q", s)
}

// DefaultMaxWarnings caps the warnings kept on a Result; the overflow is
// still counted and exported as metrics.
const DefaultMaxWarnings = 1024

// Options controls a conversion. The zero value converts to Parquet with
// Snappy compression, the default row group size, schema inference, and the
// skip-and-warn policy.
type Options struct {
	// RowGroupSize caps rows per output row group and sets the batch size
	// of the conversion pipeline. sink.DefaultRowGroupLength when 0.
	RowGroupSize int
	Compression  Compression
	ErrorPolicy  ErrorPolicy

	SchemaMode SchemaMode
	// DeclaredSchema must be set when SchemaMode is SchemaValidate.
	DeclaredSchema *columnar.Schema

	Format Format
	// ApplyScaling multiplies numeric channel values by their declared
	// scale (plus offset) and widens those columns to float64.
	ApplyScaling bool
	// Metadata is carried into the output schema as extra key/value pairs.
	Metadata map[string]string

	// DictionaryThreshold caps distinct values for dictionary-encoded
	// string columns. columnar.DefaultDictionaryThreshold when 0.
	DictionaryThreshold int
	// MaxWarnings caps warnings retained on the Result.
	// DefaultMaxWarnings when 0.
	MaxWarnings int

	Logger    *zap.Logger
	Allocator memory.Allocator
}

func (o Options) withDefaults() Options {
	if o.RowGroupSize <= 0 {
		o.RowGroupSize = sink.DefaultRowGroupLength
	}
	if o.DictionaryThreshold <= 0 {
		o.DictionaryThreshold = columnar.DefaultDictionaryThreshold
	}
	if o.MaxWarnings <= 0 {
		o.MaxWarnings = DefaultMaxWarnings
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.Allocator == nil {
		o.Allocator = memory.NewGoAllocator()
	}
	return o
}
