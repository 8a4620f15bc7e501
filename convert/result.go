package convert

import (
	"time"

	"github.com/udfkit/udf2parquet/columnar"
)

// Warning records one record-scoped problem survived under the
// skip-and-warn policy.
type Warning struct {
	// Record is the 1-based output row being assembled when the problem
	// hit, 0 when none was.
	Record int64
	// Offset is the input byte offset of the damaged event.
	Offset int64
	// Channel names the channel involved, when one was.
	Channel string
	// Reason is a stable token, one of the Reason constants.
	Reason  string
	Message string
}

// Result summarizes a finished conversion.
type Result struct {
	// Output is the published file path.
	Output string
	Format Format

	// Rows is the count of rows in the output.
	Rows    int64
	Columns int
	// DroppedRows counts rows discarded whole because of damage inside
	// them.
	DroppedRows int64
	// SkippedEvents counts input events that contributed nothing.
	SkippedEvents int64

	Warnings []Warning
	// WarningsRaised counts every warning, including ones dropped once the
	// retention cap was hit.
	WarningsRaised int64
	// WarningsTruncated is set when warnings past the cap were dropped
	// from the slice.
	WarningsTruncated bool

	// Schema is the column model the output was written with.
	Schema *columnar.Schema
	// DictionaryColumns lists columns written dictionary-encoded.
	DictionaryColumns []string
	// NullCounts maps column name to its null count.
	NullCounts map[string]int64

	BytesRead    int64
	BytesWritten int64
	Elapsed      time.Duration
}
