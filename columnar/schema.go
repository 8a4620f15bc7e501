// Package columnar maps decoded UDF events onto Arrow columnar batches: a
// schema model derived from channel declarations, widening coercion between
// field types, and a staged row builder with per-column presence and
// cardinality tracking.
package columnar

import (
	"errors"
	"fmt"
	"sort"
	"strconv"

	"github.com/apache/arrow-go/v18/arrow"

	"github.com/udfkit/udf2parquet/udf"
)

var (
	// ErrFieldCountMismatch reports a declared schema whose column set does
	// not line up with the one derived from the container.
	ErrFieldCountMismatch = errors.New("columnar: field count mismatch")
	// ErrIncompatibleFieldType reports a value or column that cannot widen
	// into the declared type.
	ErrIncompatibleFieldType = errors.New("columnar: incompatible field type")
	// ErrColumnCollision reports a channel whose column names clash with the
	// fixed columns or with another channel.
	ErrColumnCollision = errors.New("columnar: column name collision")
)

// Fixed leading columns of every conversion schema.
const (
	// TimeColumn holds the row-opening timestamp, nanoseconds since epoch.
	TimeColumn = "time_ns"
	// LabelColumn holds the most recent label annotation, null when a row
	// has none.
	LabelColumn = "label"

	ColTime  = 0
	ColLabel = 1
)

// Field metadata keys carried into the output schema.
const (
	MetaChannel    = "udf.channel"
	MetaAxis       = "udf.axis"
	MetaSourceType = "udf.source_type"
	MetaScale      = "udf.scale"
	MetaOffset     = "udf.offset"
	MetaWasScaled  = "udf.was_scaled"
	MetaProperties = "udf.properties"
	metaVersion    = "udf.version"
)

// Column describes one output column.
type Column struct {
	Name string
	Type udf.FieldType
	// Nullable is false only for the time column.
	Nullable bool
	// Channel and Axis tie a column back to its declaration; both are empty
	// for the fixed columns.
	Channel string
	Axis    string
	// SourceType is the wire type token the column's values decode from.
	SourceType string
	// Scale and Offset come from the channel declaration. Scaled marks a
	// column whose values are multiplied out during building.
	Scale  float64
	Offset float64
	Scaled bool
	// Properties is the channel's free-form declaration field.
	Properties string
}

// Schema is an ordered column set. Column 0 is always the timestamp and
// column 1 the label.
type Schema struct {
	Version udf.Version
	Cols    []Column
	// Extra is caller-supplied schema-level metadata carried into the
	// output.
	Extra map[string]string

	byName map[string]int
}

// NewSchema builds a schema from explicit columns, enforcing unique names.
// The fixed columns must be present and in place; InferSchema is the usual
// constructor.
func NewSchema(version udf.Version, cols []Column) (*Schema, error) {
	if len(cols) < 2 || cols[ColTime].Name != TimeColumn || cols[ColLabel].Name != LabelColumn {
		return nil, fmt.Errorf("%w: schema must start with %s, %s", ErrFieldCountMismatch, TimeColumn, LabelColumn)
	}
	s := &Schema{Version: version, Cols: cols, byName: make(map[string]int, len(cols))}
	for i, c := range cols {
		if _, dup := s.byName[c.Name]; dup {
			return nil, fmt.Errorf("%w: %q", ErrColumnCollision, c.Name)
		}
		s.byName[c.Name] = i
	}
	return s, nil
}

// InferSchema derives the output schema from a parsed container preamble:
// the two fixed columns, then one column per axis of each decodable channel,
// in declaration order. Opaque channels contribute nothing.
func InferSchema(hdr *udf.Header) (*Schema, error) {
	cols := []Column{
		{Name: TimeColumn, Type: udf.TypeInt64, SourceType: "u64"},
		{Name: LabelColumn, Type: udf.TypeUtf8, Nullable: true, SourceType: "s"},
	}
	for _, ch := range hdr.Channels {
		if ch.Opaque {
			continue
		}
		names := ch.Columns()
		for i, wt := range ch.Types {
			cols = append(cols, Column{
				Name:       names[i],
				Type:       wt.Kind,
				Nullable:   true,
				Channel:    ch.Name,
				Axis:       ch.Axes[i],
				SourceType: wt.Name,
				Scale:      ch.Scale,
				Offset:     ch.Offset,
				Properties: ch.Properties,
			})
		}
	}
	return NewSchema(hdr.Version, cols)
}

// WithExtra returns a copy of the schema carrying additional schema-level
// metadata. Existing extra keys are kept unless overwritten.
func (s *Schema) WithExtra(md map[string]string) *Schema {
	out := *s
	out.Extra = make(map[string]string, len(s.Extra)+len(md))
	for k, v := range s.Extra {
		out.Extra[k] = v
	}
	for k, v := range md {
		out.Extra[k] = v
	}
	return &out
}

// ColumnIndex resolves a column name, returning -1 when absent.
func (s *Schema) ColumnIndex(name string) int {
	i, ok := s.byName[name]
	if !ok {
		return -1
	}
	return i
}

// NumCols returns the column count.
func (s *Schema) NumCols() int { return len(s.Cols) }

// Scaled returns a copy of the schema with every numeric channel column
// retyped to float64 and marked for scaling. The fixed columns and string
// columns are never scaled.
func (s *Schema) Scaled() *Schema {
	cols := make([]Column, len(s.Cols))
	copy(cols, s.Cols)
	for i := range cols {
		if i == ColTime || i == ColLabel || cols[i].Channel == "" {
			continue
		}
		switch cols[i].Type {
		case udf.TypeInt64, udf.TypeFloat64:
			cols[i].Type = udf.TypeFloat64
			cols[i].Scaled = true
		}
	}
	out := *s
	out.Cols = cols
	return &out
}

// Validate checks a caller-declared schema against the container-derived
// one. Column counts and names must match exactly; each derived column type
// must widen into its declared counterpart.
func (s *Schema) Validate(declared *Schema) error {
	if len(declared.Cols) != len(s.Cols) {
		return fmt.Errorf("%w: declared %d columns, container has %d",
			ErrFieldCountMismatch, len(declared.Cols), len(s.Cols))
	}
	for i := range s.Cols {
		got, want := s.Cols[i], declared.Cols[i]
		if got.Name != want.Name {
			return fmt.Errorf("%w: column %d is %q, declared %q",
				ErrFieldCountMismatch, i, got.Name, want.Name)
		}
		if !widensTo(got.Type, want.Type) {
			return fmt.Errorf("%w: column %q is %s, declared %s",
				ErrIncompatibleFieldType, got.Name, got.Type, want.Type)
		}
	}
	return nil
}

// ToArrow renders the schema as an Arrow schema, with the channel metadata
// attached per field. Metadata key order is fixed so repeated conversions of
// the same input produce identical schemas.
func (s *Schema) ToArrow() *arrow.Schema {
	fields := make([]arrow.Field, len(s.Cols))
	for i, c := range s.Cols {
		fields[i] = arrow.Field{
			Name:     c.Name,
			Type:     arrowType(c.Type),
			Nullable: c.Nullable,
			Metadata: columnMetadata(c),
		}
	}
	keys := []string{metaVersion}
	vals := []string{string(s.Version)}
	for _, k := range sortedKeys(s.Extra) {
		keys = append(keys, k)
		vals = append(vals, s.Extra[k])
	}
	md := arrow.NewMetadata(keys, vals)
	return arrow.NewSchema(fields, &md)
}

func sortedKeys(m map[string]string) []string {
	if len(m) == 0 {
		return nil
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func columnMetadata(c Column) arrow.Metadata {
	if c.Channel == "" {
		return arrow.Metadata{}
	}
	keys := []string{MetaChannel, MetaAxis, MetaSourceType, MetaScale, MetaOffset, MetaWasScaled}
	vals := []string{
		c.Channel,
		c.Axis,
		c.SourceType,
		strconv.FormatFloat(c.Scale, 'g', -1, 64),
		strconv.FormatFloat(c.Offset, 'g', -1, 64),
		strconv.FormatBool(c.Scaled),
	}
	if c.Properties != "" {
		keys = append(keys, MetaProperties)
		vals = append(vals, c.Properties)
	}
	return arrow.NewMetadata(keys, vals)
}

func arrowType(t udf.FieldType) arrow.DataType {
	switch t {
	case udf.TypeInt64:
		return arrow.PrimitiveTypes.Int64
	case udf.TypeFloat64:
		return arrow.PrimitiveTypes.Float64
	case udf.TypeBoolean:
		return arrow.FixedWidthTypes.Boolean
	case udf.TypeUtf8:
		return arrow.BinaryTypes.String
	case udf.TypeBytes:
		return arrow.BinaryTypes.Binary
	default:
		return arrow.Null
	}
}
