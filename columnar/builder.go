package columnar

import (
	"fmt"

	"github.com/RoaringBitmap/roaring"
	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/udfkit/udf2parquet/udf"
)

// TableBuilder assembles output rows from decoded events. A row is staged
// with BeginRow, filled with Set and SetLabel, and lands in the column
// builders only on CommitRow. DiscardRow drops a staged row without a
// trace, which is how damaged records stay out of the output.
//
// The builder keeps a roaring presence bitmap per column over committed row
// indexes, and a cardinality estimate per string column that later drives
// dictionary encoding decisions.
type TableBuilder struct {
	schema      *Schema
	arrowSchema *arrow.Schema
	rb          *array.RecordBuilder

	staged      []udf.Field
	stagedTime  int64
	stagedLabel string
	hasLabel    bool
	open        bool

	rows      int64
	pending   int
	presence  []*roaring.Bitmap
	cards     []*distinctTracker
	dictLimit int
}

// BuilderOption adjusts table builder construction.
type BuilderOption func(*TableBuilder)

// WithDictionaryThreshold overrides the distinct-value limit for dictionary
// encoding candidacy.
func WithDictionaryThreshold(n int) BuilderOption {
	return func(b *TableBuilder) { b.dictLimit = n }
}

// NewTableBuilder returns a builder producing batches with the given schema.
func NewTableBuilder(mem memory.Allocator, schema *Schema, opts ...BuilderOption) *TableBuilder {
	b := &TableBuilder{
		schema:      schema,
		arrowSchema: schema.ToArrow(),
		staged:      make([]udf.Field, schema.NumCols()),
		presence:    make([]*roaring.Bitmap, schema.NumCols()),
		cards:       make([]*distinctTracker, schema.NumCols()),
		dictLimit:   DefaultDictionaryThreshold,
	}
	for _, opt := range opts {
		opt(b)
	}
	b.rb = array.NewRecordBuilder(mem, b.arrowSchema)
	for i, c := range schema.Cols {
		b.presence[i] = roaring.New()
		if c.Type == udf.TypeUtf8 && i != ColTime {
			b.cards[i] = newDistinctTracker(b.dictLimit)
		}
	}
	return b
}

// Schema returns the builder's column model.
func (b *TableBuilder) Schema() *Schema { return b.schema }

// ArrowSchema returns the rendered Arrow schema shared by all batches.
func (b *TableBuilder) ArrowSchema() *arrow.Schema { return b.arrowSchema }

// Release frees the underlying column builders.
func (b *TableBuilder) Release() { b.rb.Release() }

// Open reports whether a row is currently staged.
func (b *TableBuilder) Open() bool { return b.open }

// Rows reports the number of committed rows.
func (b *TableBuilder) Rows() int64 { return b.rows }

// Pending reports committed rows buffered since the last Flush.
func (b *TableBuilder) Pending() int { return b.pending }

// BeginRow stages a new row opened at the given timestamp. The previous row
// must have been committed or discarded first.
func (b *TableBuilder) BeginRow(timeNs int64) {
	if b.open {
		panic("columnar: BeginRow with a row already staged")
	}
	b.open = true
	b.stagedTime = timeNs
}

// SetLabel attaches a label to the staged row. The last label wins.
func (b *TableBuilder) SetLabel(s string) {
	b.mustBeOpen()
	b.stagedLabel = s
	b.hasLabel = true
}

// Set stages a value for a channel column. Values are scaled when the
// column asks for it, then widened to the column type; within one row the
// last write to a column wins.
func (b *TableBuilder) Set(col int, f udf.Field) error {
	b.mustBeOpen()
	if col <= ColLabel || col >= len(b.staged) {
		return fmt.Errorf("%w: column %d out of range", ErrFieldCountMismatch, col)
	}
	c := &b.schema.Cols[col]
	if c.Scaled && !f.IsNull() {
		v, err := numericValue(f)
		if err != nil {
			return fmt.Errorf("column %q: %w", c.Name, err)
		}
		f = udf.Float64Field(v*c.Scale + c.Offset)
	}
	out, err := Coerce(f, c.Type)
	if err != nil {
		return fmt.Errorf("column %q: %w", c.Name, err)
	}
	b.staged[col] = out
	return nil
}

// CommitRow appends the staged row to the column builders. Unset channel
// columns land as nulls.
func (b *TableBuilder) CommitRow() {
	b.mustBeOpen()
	idx := uint32(b.rows)

	b.rb.Field(ColTime).(*array.Int64Builder).Append(b.stagedTime)
	b.presence[ColTime].Add(idx)

	labels := b.rb.Field(ColLabel).(*array.StringBuilder)
	if b.hasLabel {
		labels.Append(b.stagedLabel)
		b.presence[ColLabel].Add(idx)
		b.observe(ColLabel, b.stagedLabel)
	} else {
		labels.AppendNull()
	}

	for col := ColLabel + 1; col < len(b.staged); col++ {
		f := b.staged[col]
		b.appendField(col, f)
		if !f.IsNull() {
			b.presence[col].Add(idx)
			if f.Type() == udf.TypeUtf8 {
				b.observe(col, f.Str())
			}
		}
	}

	b.rows++
	b.pending++
	b.reset()
}

// DiscardRow drops the staged row.
func (b *TableBuilder) DiscardRow() {
	b.mustBeOpen()
	b.reset()
}

// Flush emits the buffered rows as a record batch and resets the builders.
// The caller owns the returned record. Flushing with nothing pending
// returns an empty batch; callers normally guard with Pending.
func (b *TableBuilder) Flush() arrow.Record {
	rec := b.rb.NewRecord()
	b.pending = 0
	return rec
}

// NullCount reports committed nulls in a column.
func (b *TableBuilder) NullCount(col int) int64 {
	return b.rows - int64(b.presence[col].GetCardinality())
}

// Presence returns the committed-row presence bitmap for a column. The
// bitmap is live; callers must not modify it.
func (b *TableBuilder) Presence(col int) *roaring.Bitmap { return b.presence[col] }

// Distinct reports the estimated distinct count for a string column,
// clipped at the dictionary threshold. Non-string columns report 0.
func (b *TableBuilder) Distinct(col int) int {
	if b.cards[col] == nil {
		return 0
	}
	return b.cards[col].distinct()
}

// LowCardinality reports whether a string column stayed under the
// dictionary threshold. Non-string columns are never candidates.
func (b *TableBuilder) LowCardinality(col int) bool {
	return b.cards[col] != nil && b.cards[col].lowCardinality()
}

func (b *TableBuilder) observe(col int, v string) {
	if b.cards[col] != nil {
		b.cards[col].observe(v)
	}
}

func (b *TableBuilder) appendField(col int, f udf.Field) {
	fb := b.rb.Field(col)
	if f.IsNull() {
		fb.AppendNull()
		return
	}
	switch bldr := fb.(type) {
	case *array.Int64Builder:
		bldr.Append(f.Int())
	case *array.Float64Builder:
		bldr.Append(f.Float())
	case *array.BooleanBuilder:
		bldr.Append(f.Bool())
	case *array.StringBuilder:
		bldr.Append(f.Str())
	case *array.BinaryBuilder:
		bldr.Append(f.Bytes())
	default:
		panic(fmt.Sprintf("columnar: no builder for column %d (%s)", col, f.Type()))
	}
}

func (b *TableBuilder) reset() {
	b.open = false
	b.hasLabel = false
	b.stagedLabel = ""
	for i := range b.staged {
		b.staged[i] = udf.Field{}
	}
}

func (b *TableBuilder) mustBeOpen() {
	if !b.open {
		panic("columnar: no row staged")
	}
}

func numericValue(f udf.Field) (float64, error) {
	switch f.Type() {
	case udf.TypeInt64:
		return float64(f.Int()), nil
	case udf.TypeFloat64:
		return f.Float(), nil
	case udf.TypeBoolean:
		if f.Bool() {
			return 1, nil
		}
		return 0, nil
	}
	return 0, fmt.Errorf("%w: %s is not numeric", ErrIncompatibleFieldType, f.Type())
}
