package udf

import (
	"encoding/hex"
	"fmt"
	"strconv"
)

// FieldType identifies the logical type of a decoded field value.
type FieldType uint8

const (
	TypeNull FieldType = iota
	TypeInt64
	TypeFloat64
	TypeBoolean
	TypeUtf8
	TypeBytes
)

func (t FieldType) String() string {
	switch t {
	case TypeNull:
		return "null"
	case TypeInt64:
		return "int64"
	case TypeFloat64:
		return "float64"
	case TypeBoolean:
		return "boolean"
	case TypeUtf8:
		return "utf8"
	case TypeBytes:
		return "bytes"
	default:
		return fmt.Sprintf("fieldtype(%d)", uint8(t))
	}
}

// Field is a single decoded value. The zero value is the null field.
// Exactly one representation is populated, selected by Type.
type Field struct {
	typ FieldType
	i   int64
	f   float64
	b   bool
	s   string
	raw []byte
}

// NullField returns the null field.
func NullField() Field { return Field{} }

// Int64Field returns an integer field.
func Int64Field(v int64) Field { return Field{typ: TypeInt64, i: v} }

// Float64Field returns a floating-point field.
func Float64Field(v float64) Field { return Field{typ: TypeFloat64, f: v} }

// BoolField returns a boolean field.
func BoolField(v bool) Field { return Field{typ: TypeBoolean, b: v} }

// StringField returns a UTF-8 string field.
func StringField(v string) Field { return Field{typ: TypeUtf8, s: v} }

// BytesField returns an opaque byte field. The slice is retained, not copied.
func BytesField(v []byte) Field { return Field{typ: TypeBytes, raw: v} }

// Type reports the logical type of the field.
func (f Field) Type() FieldType { return f.typ }

// IsNull reports whether the field is null.
func (f Field) IsNull() bool { return f.typ == TypeNull }

// Int returns the integer value. It panics unless Type is TypeInt64.
func (f Field) Int() int64 {
	f.mustBe(TypeInt64)
	return f.i
}

// Float returns the floating-point value. It panics unless Type is TypeFloat64.
func (f Field) Float() float64 {
	f.mustBe(TypeFloat64)
	return f.f
}

// Bool returns the boolean value. It panics unless Type is TypeBoolean.
func (f Field) Bool() bool {
	f.mustBe(TypeBoolean)
	return f.b
}

// Str returns the string value. It panics unless Type is TypeUtf8.
func (f Field) Str() string {
	f.mustBe(TypeUtf8)
	return f.s
}

// Bytes returns the raw byte value. It panics unless Type is TypeBytes.
func (f Field) Bytes() []byte {
	f.mustBe(TypeBytes)
	return f.raw
}

func (f Field) mustBe(t FieldType) {
	if f.typ != t {
		panic(fmt.Sprintf("udf: field is %s, not %s", f.typ, t))
	}
}

// Render returns the canonical textual form of the field, used when a value
// is widened into a string column. Integers render in base 10, floats in
// shortest round-trip form, booleans as "true"/"false", bytes as lowercase
// hex. Null renders as the empty string.
func (f Field) Render() string {
	switch f.typ {
	case TypeNull:
		return ""
	case TypeInt64:
		return strconv.FormatInt(f.i, 10)
	case TypeFloat64:
		return strconv.FormatFloat(f.f, 'g', -1, 64)
	case TypeBoolean:
		return strconv.FormatBool(f.b)
	case TypeUtf8:
		return f.s
	case TypeBytes:
		return hex.EncodeToString(f.raw)
	default:
		return ""
	}
}

// String implements fmt.Stringer for debugging output.
func (f Field) String() string {
	if f.typ == TypeNull {
		return "null"
	}
	return f.Render()
}
