// Package rowbuffer implements Component A: an arena that owns captured
// rows for the lifetime of one transaction, and the encode/decode of the
// unversioned-row wire format rows travel in (spec §4.A).
package rowbuffer

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
)

// ValueKind tags the wire type of a Value.
type ValueKind byte

const (
	KindNull ValueKind = iota
	KindBool
	KindInt64
	KindFloat64
	KindString
	KindBytes
)

// Value is one cell of a row. The zero Value is null.
type Value struct {
	Kind  ValueKind
	Bool  bool
	Int   int64
	Float float64
	Str   string
	Bytes []byte
}

// NullValue is the canonical null cell.
var NullValue = Value{Kind: KindNull}

func Int64Value(v int64) Value     { return Value{Kind: KindInt64, Int: v} }
func Float64Value(v float64) Value { return Value{Kind: KindFloat64, Float: v} }
func StringValue(v string) Value   { return Value{Kind: KindString, Str: v} }
func BytesValue(v []byte) Value    { return Value{Kind: KindBytes, Bytes: v} }
func BoolValue(v bool) Value       { return Value{Kind: KindBool, Bool: v} }

// IsNull reports whether the value is the null sentinel.
func (v Value) IsNull() bool { return v.Kind == KindNull }

// Compare orders two values of the same kind; strings and bytes compare
// byte-wise. Null orders before every non-null value. Two non-null values
// of different kinds return an error.
func (v Value) Compare(o Value) (int, error) {
	if v.Kind != o.Kind {
		if v.Kind == KindNull || o.Kind == KindNull {
			if v.Kind == KindNull && o.Kind == KindNull {
				return 0, nil
			}
			if v.Kind == KindNull {
				return -1, nil
			}
			return 1, nil
		}
		return 0, fmt.Errorf("cannot compare value kinds %d and %d", v.Kind, o.Kind)
	}
	switch v.Kind {
	case KindNull:
		return 0, nil
	case KindBool:
		if v.Bool == o.Bool {
			return 0, nil
		}
		if !v.Bool {
			return -1, nil
		}
		return 1, nil
	case KindInt64:
		switch {
		case v.Int < o.Int:
			return -1, nil
		case v.Int > o.Int:
			return 1, nil
		default:
			return 0, nil
		}
	case KindFloat64:
		switch {
		case v.Float < o.Float:
			return -1, nil
		case v.Float > o.Float:
			return 1, nil
		default:
			return 0, nil
		}
	case KindString:
		return bytes.Compare([]byte(v.Str), []byte(o.Str)), nil
	case KindBytes:
		return bytes.Compare(v.Bytes, o.Bytes), nil
	default:
		return 0, fmt.Errorf("unknown value kind %d", v.Kind)
	}
}

// Successor returns the immediate successor of v in key-space: v+1 for
// Int64, v with a zero byte appended for String and Bytes, and v
// unchanged for every other kind.
func (v Value) Successor() Value {
	switch v.Kind {
	case KindInt64:
		return Int64Value(v.Int + 1)
	case KindString:
		return StringValue(v.Str + "\x00")
	case KindBytes:
		out := make([]byte, len(v.Bytes)+1)
		copy(out, v.Bytes)
		return BytesValue(out)
	default:
		return v
	}
}

func (v Value) encode(buf *bytes.Buffer) error {
	buf.WriteByte(byte(v.Kind))
	switch v.Kind {
	case KindNull:
	case KindBool:
		if v.Bool {
			buf.WriteByte(1)
		} else {
			buf.WriteByte(0)
		}
	case KindInt64:
		return binary.Write(buf, binary.LittleEndian, v.Int)
	case KindFloat64:
		return binary.Write(buf, binary.LittleEndian, math.Float64bits(v.Float))
	case KindString:
		return writeLenPrefixed(buf, []byte(v.Str))
	case KindBytes:
		return writeLenPrefixed(buf, v.Bytes)
	default:
		return fmt.Errorf("encode: unknown value kind %d", v.Kind)
	}
	return nil
}

func decodeValue(data []byte) (Value, int, error) {
	if len(data) < 1 {
		return Value{}, 0, fmt.Errorf("value tag truncated")
	}
	kind := ValueKind(data[0])
	rest := data[1:]
	switch kind {
	case KindNull:
		return Value{Kind: KindNull}, 1, nil
	case KindBool:
		if len(rest) < 1 {
			return Value{}, 0, fmt.Errorf("bool value truncated")
		}
		return Value{Kind: KindBool, Bool: rest[0] != 0}, 2, nil
	case KindInt64:
		if len(rest) < 8 {
			return Value{}, 0, fmt.Errorf("int64 value truncated")
		}
		v := int64(binary.LittleEndian.Uint64(rest[:8]))
		return Value{Kind: KindInt64, Int: v}, 9, nil
	case KindFloat64:
		if len(rest) < 8 {
			return Value{}, 0, fmt.Errorf("float64 value truncated")
		}
		v := math.Float64frombits(binary.LittleEndian.Uint64(rest[:8]))
		return Value{Kind: KindFloat64, Float: v}, 9, nil
	case KindString:
		s, n, err := readLenPrefixed(rest)
		if err != nil {
			return Value{}, 0, err
		}
		return Value{Kind: KindString, Str: string(s)}, 1 + n, nil
	case KindBytes:
		b, n, err := readLenPrefixed(rest)
		if err != nil {
			return Value{}, 0, err
		}
		return Value{Kind: KindBytes, Bytes: b}, 1 + n, nil
	default:
		return Value{}, 0, fmt.Errorf("decode: unknown value kind %d", kind)
	}
}

func writeLenPrefixed(buf *bytes.Buffer, data []byte) error {
	if err := binary.Write(buf, binary.LittleEndian, uint32(len(data))); err != nil {
		return err
	}
	buf.Write(data)
	return nil
}

func readLenPrefixed(data []byte) ([]byte, int, error) {
	if len(data) < 4 {
		return nil, 0, fmt.Errorf("length-prefixed value truncated")
	}
	n := binary.LittleEndian.Uint32(data[:4])
	if uint32(len(data)-4) < n {
		return nil, 0, fmt.Errorf("length-prefixed value body truncated")
	}
	return data[4 : 4+n], 4 + int(n), nil
}
