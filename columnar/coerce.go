package columnar

import (
	"fmt"

	"github.com/udfkit/udf2parquet/udf"
)

// widensTo reports whether a value of type from can be losslessly carried by
// a column of type to. Widening is directed: integers widen to floats,
// booleans to integers, and anything renders into a string column, but a
// string column never narrows back and raw bytes only ever widen into
// strings.
func widensTo(from, to udf.FieldType) bool {
	if from == to || from == udf.TypeNull {
		return true
	}
	switch to {
	case udf.TypeFloat64:
		return from == udf.TypeInt64 || from == udf.TypeBoolean
	case udf.TypeInt64:
		return from == udf.TypeBoolean
	case udf.TypeUtf8:
		return true
	}
	return false
}

// Unify returns the narrowest type both inputs widen into.
func Unify(a, b udf.FieldType) (udf.FieldType, error) {
	switch {
	case a == b, b == udf.TypeNull:
		return a, nil
	case a == udf.TypeNull:
		return b, nil
	case widensTo(a, b):
		return b, nil
	case widensTo(b, a):
		return a, nil
	}
	// Two numeric-ish types with no order between them join at float;
	// beyond that there is no implicit common type.
	if numeric(a) && numeric(b) {
		return udf.TypeFloat64, nil
	}
	return udf.TypeNull, fmt.Errorf("%w: %s and %s", ErrIncompatibleFieldType, a, b)
}

func numeric(t udf.FieldType) bool {
	return t == udf.TypeInt64 || t == udf.TypeFloat64 || t == udf.TypeBoolean
}

// Coerce converts a field to the target type under the widening rules.
func Coerce(f udf.Field, to udf.FieldType) (udf.Field, error) {
	if f.IsNull() || f.Type() == to {
		return f, nil
	}
	switch to {
	case udf.TypeFloat64:
		switch f.Type() {
		case udf.TypeInt64:
			return udf.Float64Field(float64(f.Int())), nil
		case udf.TypeBoolean:
			if f.Bool() {
				return udf.Float64Field(1), nil
			}
			return udf.Float64Field(0), nil
		}
	case udf.TypeInt64:
		if f.Type() == udf.TypeBoolean {
			if f.Bool() {
				return udf.Int64Field(1), nil
			}
			return udf.Int64Field(0), nil
		}
	case udf.TypeUtf8:
		return udf.StringField(f.Render()), nil
	}
	return udf.Field{}, fmt.Errorf("%w: cannot carry %s in %s column", ErrIncompatibleFieldType, f.Type(), to)
}
