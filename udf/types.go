package udf

import (
	"bytes"
	"encoding/binary"
	"unicode/utf8"

	"github.com/udfkit/udf2parquet/binio"
)

// stringFieldWidth is the fixed on-wire width of the "s" and "st" field
// types. Shorter payloads are NUL padded.
const stringFieldWidth = 16

// WireType describes one on-wire field encoding from a channel declaration.
type WireType struct {
	// Name is the declaration token, e.g. "s32" or "f".
	Name string
	// Width is the encoded size in bytes.
	Width int
	// Kind is the logical type values of this encoding decode to.
	Kind FieldType
}

// wireTypes maps declaration tokens to their encodings. u24 is a packed
// 3-byte unsigned integer and zero-extends on decode. "s" and "st" are both
// fixed 16-byte NUL-padded text fields; "st" is the status-string variant
// and decodes identically.
var wireTypes = map[string]WireType{
	"s8":  {Name: "s8", Width: 1, Kind: TypeInt64},
	"u8":  {Name: "u8", Width: 1, Kind: TypeInt64},
	"s16": {Name: "s16", Width: 2, Kind: TypeInt64},
	"u16": {Name: "u16", Width: 2, Kind: TypeInt64},
	"s32": {Name: "s32", Width: 4, Kind: TypeInt64},
	"u24": {Name: "u24", Width: 3, Kind: TypeInt64},
	"u32": {Name: "u32", Width: 4, Kind: TypeInt64},
	"s64": {Name: "s64", Width: 8, Kind: TypeInt64},
	"u64": {Name: "u64", Width: 8, Kind: TypeInt64},
	"f":   {Name: "f", Width: 4, Kind: TypeFloat64},
	"d":   {Name: "d", Width: 8, Kind: TypeFloat64},
	"s":   {Name: "s", Width: stringFieldWidth, Kind: TypeUtf8},
	"st":  {Name: "st", Width: stringFieldWidth, Kind: TypeUtf8},
}

// LookupWireType resolves a declaration token. The second result is false
// for tokens outside the type table.
func LookupWireType(name string) (WireType, bool) {
	wt, ok := wireTypes[name]
	return wt, ok
}

// decodeField reads one field of the given wire type from the cursor. The
// only possible error is binio.ErrTruncated; the caller pre-checks sizes in
// the normal path, so an error here indicates a decoder bug or a cursor
// positioned past its window.
func decodeField(cur *binio.Cursor, wt WireType, order binary.ByteOrder) (Field, error) {
	switch wt.Name {
	case "s8":
		v, err := cur.ReadU8()
		if err != nil {
			return Field{}, err
		}
		return Int64Field(int64(int8(v))), nil
	case "u8":
		v, err := cur.ReadU8()
		if err != nil {
			return Field{}, err
		}
		return Int64Field(int64(v)), nil
	case "s16":
		v, err := cur.ReadU16(order)
		if err != nil {
			return Field{}, err
		}
		return Int64Field(int64(int16(v))), nil
	case "u16":
		v, err := cur.ReadU16(order)
		if err != nil {
			return Field{}, err
		}
		return Int64Field(int64(v)), nil
	case "s32":
		v, err := cur.ReadU32(order)
		if err != nil {
			return Field{}, err
		}
		return Int64Field(int64(int32(v))), nil
	case "u24":
		v, err := cur.ReadU24(order)
		if err != nil {
			return Field{}, err
		}
		return Int64Field(int64(v)), nil
	case "u32":
		v, err := cur.ReadU32(order)
		if err != nil {
			return Field{}, err
		}
		return Int64Field(int64(v)), nil
	case "s64":
		v, err := cur.ReadU64(order)
		if err != nil {
			return Field{}, err
		}
		return Int64Field(int64(v)), nil
	case "u64":
		v, err := cur.ReadU64(order)
		if err != nil {
			return Field{}, err
		}
		return Int64Field(int64(v)), nil
	case "f":
		v, err := cur.ReadF32(order)
		if err != nil {
			return Field{}, err
		}
		return Float64Field(float64(v)), nil
	case "d":
		v, err := cur.ReadF64(order)
		if err != nil {
			return Field{}, err
		}
		return Float64Field(v), nil
	case "s", "st":
		raw, err := cur.ReadBytes(stringFieldWidth)
		if err != nil {
			return Field{}, err
		}
		return textField(raw), nil
	default:
		return Field{}, ErrUnknownFieldType
	}
}

// textField trims NUL padding and returns a string field when the payload is
// valid UTF-8, falling back to a byte field otherwise so binary junk in a
// text slot survives without corrupting the value.
func textField(raw []byte) Field {
	if i := bytes.IndexByte(raw, 0); i >= 0 {
		raw = raw[:i]
	}
	if !utf8.Valid(raw) {
		out := make([]byte, len(raw))
		copy(out, raw)
		return BytesField(out)
	}
	return StringField(string(raw))
}
