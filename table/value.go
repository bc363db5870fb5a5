package table

import (
	"bytes"
	"fmt"
	"strconv"
)

// ValueType enumerates the column types supported by the store.
type ValueType uint8

const (
	// TypeNull is the type of the untyped NULL value.
	TypeNull ValueType = iota
	// TypeInt is a 64-bit signed integer column.
	TypeInt
	// TypeFloat is a 64-bit floating point column.
	TypeFloat
	// TypeString is a UTF-8 string column.
	TypeString
	// TypeBool is a boolean column.
	TypeBool
	// TypeBytes is a raw byte-slice column.
	TypeBytes
)

// String returns the SQL-ish name of the type.
func (t ValueType) String() string {
	switch t {
	case TypeNull:
		return "NULL"
	case TypeInt:
		return "INT"
	case TypeFloat:
		return "FLOAT"
	case TypeString:
		return "STRING"
	case TypeBool:
		return "BOOL"
	case TypeBytes:
		return "BYTES"
	default:
		return fmt.Sprintf("ValueType(%d)", uint8(t))
	}
}

// Value is a single typed column value.
//
// The zero Value is NULL. Values are immutable once constructed; Bytes
// values share the underlying slice, callers must not mutate it.
type Value struct {
	typ ValueType
	i   int64
	f   float64
	s   string
	b   []byte
}

// Null returns the NULL value.
func Null() Value { return Value{} }

// Int returns an INT value.
func Int(v int64) Value { return Value{typ: TypeInt, i: v} }

// Float returns a FLOAT value.
func Float(v float64) Value { return Value{typ: TypeFloat, f: v} }

// String returns a STRING value.
func String(v string) Value { return Value{typ: TypeString, s: v} }

// Bool returns a BOOL value.
func Bool(v bool) Value {
	var i int64
	if v {
		i = 1
	}
	return Value{typ: TypeBool, i: i}
}

// Bytes returns a BYTES value. The slice is not copied.
func Bytes(v []byte) Value { return Value{typ: TypeBytes, b: v} }

// Type returns the value's type.
func (v Value) Type() ValueType { return v.typ }

// IsNull reports whether the value is NULL.
func (v Value) IsNull() bool { return v.typ == TypeNull }

// AsInt returns the INT payload. It is only meaningful for TypeInt.
func (v Value) AsInt() int64 { return v.i }

// AsFloat returns the FLOAT payload. It is only meaningful for TypeFloat.
func (v Value) AsFloat() float64 { return v.f }

// AsString returns the STRING payload. It is only meaningful for TypeString.
func (v Value) AsString() string { return v.s }

// AsBool returns the BOOL payload. It is only meaningful for TypeBool.
func (v Value) AsBool() bool { return v.i != 0 }

// AsBytes returns the BYTES payload. It is only meaningful for TypeBytes.
func (v Value) AsBytes() []byte { return v.b }

// Compare orders v against other.
//
// NULL sorts before every non-NULL value. Comparing two non-NULL values of
// different types is a schema violation and returns an error; the store
// validates rows against the schema on write, so a mixed comparison can only
// happen through caller misuse.
func (v Value) Compare(other Value) (int, error) {
	if v.typ == TypeNull || other.typ == TypeNull {
		switch {
		case v.typ == other.typ:
			return 0, nil
		case v.typ == TypeNull:
			return -1, nil
		default:
			return 1, nil
		}
	}
	if v.typ != other.typ {
		return 0, fmt.Errorf("cannot compare %s with %s", v.typ, other.typ)
	}
	switch v.typ {
	case TypeInt, TypeBool:
		switch {
		case v.i < other.i:
			return -1, nil
		case v.i > other.i:
			return 1, nil
		}
		return 0, nil
	case TypeFloat:
		switch {
		case v.f < other.f:
			return -1, nil
		case v.f > other.f:
			return 1, nil
		}
		return 0, nil
	case TypeString:
		switch {
		case v.s < other.s:
			return -1, nil
		case v.s > other.s:
			return 1, nil
		}
		return 0, nil
	case TypeBytes:
		return bytes.Compare(v.b, other.b), nil
	default:
		return 0, fmt.Errorf("cannot compare values of type %s", v.typ)
	}
}

// Equal reports whether v and other are the same typed value.
func (v Value) Equal(other Value) bool {
	if v.typ != other.typ {
		return false
	}
	c, err := v.Compare(other)
	return err == nil && c == 0
}

// String renders the value for diagnostics and EXPLAIN output.
func (v Value) String() string {
	switch v.typ {
	case TypeNull:
		return "NULL"
	case TypeInt:
		return strconv.FormatInt(v.i, 10)
	case TypeFloat:
		return strconv.FormatFloat(v.f, 'g', -1, 64)
	case TypeString:
		return strconv.Quote(v.s)
	case TypeBool:
		return strconv.FormatBool(v.i != 0)
	case TypeBytes:
		return fmt.Sprintf("0x%x", v.b)
	default:
		return fmt.Sprintf("Value(%d)", uint8(v.typ))
	}
}
