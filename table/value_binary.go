package table

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Binary value layout, used by the WAL and snapshot formats:
//
//	[Type: 1 byte] [Payload]
//
// Payload by type:
//
//	NULL            (empty)
//	INT, FLOAT      8 bytes little-endian
//	BOOL            1 byte
//	STRING, BYTES   [Len: 4 bytes little-endian] [Data]

// AppendBinary appends the binary encoding of v to dst and returns the
// extended slice.
func (v Value) AppendBinary(dst []byte) []byte {
	dst = append(dst, byte(v.typ))
	switch v.typ {
	case TypeNull:
	case TypeInt:
		dst = binary.LittleEndian.AppendUint64(dst, uint64(v.i))
	case TypeFloat:
		dst = binary.LittleEndian.AppendUint64(dst, math.Float64bits(v.f))
	case TypeBool:
		var b byte
		if v.i != 0 {
			b = 1
		}
		dst = append(dst, b)
	case TypeString:
		dst = binary.LittleEndian.AppendUint32(dst, uint32(len(v.s)))
		dst = append(dst, v.s...)
	case TypeBytes:
		dst = binary.LittleEndian.AppendUint32(dst, uint32(len(v.b)))
		dst = append(dst, v.b...)
	}
	return dst
}

// DecodeValue decodes a single Value from buf and returns it together with
// the number of bytes consumed.
func DecodeValue(buf []byte) (Value, int, error) {
	if len(buf) < 1 {
		return Value{}, 0, fmt.Errorf("truncated value: missing type byte")
	}
	typ := ValueType(buf[0])
	rest := buf[1:]
	switch typ {
	case TypeNull:
		return Null(), 1, nil
	case TypeInt:
		if len(rest) < 8 {
			return Value{}, 0, fmt.Errorf("truncated INT value")
		}
		return Int(int64(binary.LittleEndian.Uint64(rest))), 9, nil
	case TypeFloat:
		if len(rest) < 8 {
			return Value{}, 0, fmt.Errorf("truncated FLOAT value")
		}
		return Float(math.Float64frombits(binary.LittleEndian.Uint64(rest))), 9, nil
	case TypeBool:
		if len(rest) < 1 {
			return Value{}, 0, fmt.Errorf("truncated BOOL value")
		}
		return Bool(rest[0] != 0), 2, nil
	case TypeString, TypeBytes:
		if len(rest) < 4 {
			return Value{}, 0, fmt.Errorf("truncated %s length", typ)
		}
		n := int(binary.LittleEndian.Uint32(rest))
		if len(rest) < 4+n {
			return Value{}, 0, fmt.Errorf("truncated %s payload: want %d bytes, have %d", typ, n, len(rest)-4)
		}
		data := rest[4 : 4+n]
		if typ == TypeString {
			return String(string(data)), 5 + n, nil
		}
		cp := make([]byte, n)
		copy(cp, data)
		return Bytes(cp), 5 + n, nil
	default:
		return Value{}, 0, fmt.Errorf("unknown value type byte 0x%02x", buf[0])
	}
}

// AppendRowBinary appends the binary encoding of a full tuple to dst:
// [NumValues: 2 bytes little-endian] [Value...].
func AppendRowBinary(dst []byte, values []Value) []byte {
	dst = binary.LittleEndian.AppendUint16(dst, uint16(len(values)))
	for _, v := range values {
		dst = v.AppendBinary(dst)
	}
	return dst
}

// DecodeRowBinary decodes a tuple encoded by AppendRowBinary and returns the
// values together with the number of bytes consumed.
func DecodeRowBinary(buf []byte) ([]Value, int, error) {
	if len(buf) < 2 {
		return nil, 0, fmt.Errorf("truncated tuple: missing count")
	}
	n := int(binary.LittleEndian.Uint16(buf))
	off := 2
	values := make([]Value, 0, n)
	for i := 0; i < n; i++ {
		v, used, err := DecodeValue(buf[off:])
		if err != nil {
			return nil, 0, fmt.Errorf("tuple value %d: %w", i, err)
		}
		values = append(values, v)
		off += used
	}
	return values, off, nil
}
