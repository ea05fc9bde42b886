// Package value implements the engine's closed scalar type system plus
// the container markers (Map, List, Text) used when shaping a plain
// tree for From/ToJS.
package value

import (
	"fmt"
	"math"

	"github.com/automerge/automerge-sub002/errs"
)

// Kind is the stable wire discriminant for a scalar. Values MUST
// NOT be renumbered — they are written verbatim into the columnar codec.
type Kind byte

const (
	KindNull            Kind = 0
	KindFalse           Kind = 1
	KindTrue            Kind = 2
	KindUint            Kind = 3
	KindInt             Kind = 4
	KindF64             Kind = 5
	KindBytes           Kind = 6
	KindStr             Kind = 7
	KindCursor          Kind = 8
	KindCounter         Kind = 9
	KindTimestamp       Kind = 10
	KindImmutableString Kind = 11
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindFalse, KindTrue:
		return "bool"
	case KindUint:
		return "uint"
	case KindInt:
		return "int"
	case KindF64:
		return "f64"
	case KindBytes:
		return "bytes"
	case KindStr:
		return "str"
	case KindCursor:
		return "cursor"
	case KindCounter:
		return "counter"
	case KindTimestamp:
		return "timestamp"
	case KindImmutableString:
		return "immutable_string"
	default:
		return "unknown"
	}
}

// Value is a typed, immutable scalar leaf. The zero Value is Null.
type Value struct {
	kind  Kind
	str   string
	bytes []byte
	i64   int64
	u64   uint64
	f64   float64
}

func (v Value) Kind() Kind { return v.kind }

// Null is the null scalar.
var Null = Value{kind: KindNull}

// Bool builds a bool scalar.
func Bool(b bool) Value {
	if b {
		return Value{kind: KindTrue}
	}
	return Value{kind: KindFalse}
}

// Int builds a signed 64-bit scalar, range [-2^63, 2^63-1] by construction.
func Int(i int64) Value { return Value{kind: KindInt, i64: i} }

// Uint builds an unsigned 64-bit scalar, range [0, 2^64-1] by construction.
func Uint(u uint64) Value { return Value{kind: KindUint, u64: u} }

// F64 builds an IEEE-754 double scalar.
func F64(f float64) Value { return Value{kind: KindF64, f64: f} }

// Str builds a UTF-8 string scalar.
func Str(s string) Value { return Value{kind: KindStr, str: s} }

// Bytes builds a raw byte-string scalar.
func Bytes(b []byte) Value { return Value{kind: KindBytes, bytes: append([]byte(nil), b...)} }

// Timestamp builds a seconds-since-epoch scalar.
func Timestamp(sec int64) Value { return Value{kind: KindTimestamp, i64: sec} }

// Counter builds a counter-base scalar.
func Counter(base int64) Value { return Value{kind: KindCounter, i64: base} }

// ImmutableString builds a UTF-8 scalar that is never a text object,
// i.e. never subject to RGA splicing.
func ImmutableString(s string) Value { return Value{kind: KindImmutableString, str: s} }

// Cursor builds an opaque cursor scalar from its encoded bytes.
func Cursor(enc []byte) Value { return Value{kind: KindCursor, bytes: append([]byte(nil), enc...)} }

func (v Value) IsNull() bool { return v.kind == KindNull }
func (v Value) AsBool() bool { return v.kind == KindTrue }
func (v Value) AsInt() int64 { return v.i64 }
func (v Value) AsUint() uint64 { return v.u64 }
func (v Value) AsF64() float64 { return v.f64 }
func (v Value) AsStr() string { return v.str }
func (v Value) AsBytes() []byte { return v.bytes }

// Equal reports whether two scalars have the same kind and payload.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindNull, KindFalse, KindTrue:
		return true
	case KindUint:
		return v.u64 == o.u64
	case KindInt, KindTimestamp, KindCounter:
		return v.i64 == o.i64
	case KindF64:
		return v.f64 == o.f64
	case KindStr, KindImmutableString:
		return v.str == o.str
	case KindBytes, KindCursor:
		if len(v.bytes) != len(o.bytes) {
			return false
		}
		for i := range v.bytes {
			if v.bytes[i] != o.bytes[i] {
				return false
			}
		}
		return true
	}
	return false
}

func (v Value) String() string {
	switch v.kind {
	case KindNull:
		return "null"
	case KindFalse:
		return "false"
	case KindTrue:
		return "true"
	case KindUint:
		return fmt.Sprintf("%d", v.u64)
	case KindInt, KindTimestamp:
		return fmt.Sprintf("%d", v.i64)
	case KindCounter:
		return fmt.Sprintf("counter(%d)", v.i64)
	case KindF64:
		return fmt.Sprintf("%g", v.f64)
	case KindStr, KindImmutableString:
		return v.str
	case KindBytes:
		return fmt.Sprintf("bytes(%d)", len(v.bytes))
	case KindCursor:
		return fmt.Sprintf("cursor(%d)", len(v.bytes))
	}
	return "?"
}

// ToAny converts a scalar back into a plain Go value suitable for ToJS.
func (v Value) ToAny() any {
	switch v.kind {
	case KindNull:
		return nil
	case KindFalse:
		return false
	case KindTrue:
		return true
	case KindUint:
		return v.u64
	case KindInt, KindTimestamp, KindCounter:
		return v.i64
	case KindF64:
		return v.f64
	case KindStr, KindImmutableString:
		return v.str
	case KindBytes, KindCursor:
		return append([]byte(nil), v.bytes...)
	}
	return nil
}

// FromAny converts a plain Go value (as produced by encoding/json
// unmarshaled into interface{}, or hand-built by a caller) into a
// scalar Value. Go integer kinds are in range by construction; a whole
// float64 in [-2^63, 2^63) becomes Int and every other float64 becomes
// F64. CheckIntRange is not applied, so no input here is rejected as
// out of range. A Value passed in
// directly (e.g. Counter(0), for a kind FromAny has no Go primitive
// for) is returned unchanged.
//
// FromAny never accepts maps/slices: those are shaped by the caller
// (document.From) into make_map/make_list/make_text ops instead.
func FromAny(x any) (Value, error) {
	switch t := x.(type) {
	case Value:
		return t, nil
	case nil:
		return Null, nil
	case bool:
		return Bool(t), nil
	case string:
		return Str(t), nil
	case []byte:
		return Bytes(t), nil
	case int:
		return Int(int64(t)), nil
	case int32:
		return Int(int64(t)), nil
	case int64:
		return Int(t), nil
	case uint:
		return checkedUint(uint64(t))
	case uint64:
		return checkedUint(t)
	case float64:
		if t == math.Trunc(t) && t >= math.MinInt64 && t < math.MaxInt64 {
			return Int(int64(t)), nil
		}
		return F64(t), nil
	case float32:
		return F64(float64(t)), nil
	default:
		return Value{}, errs.New(errs.InvalidInput, "cannot assign undefined value")
	}
}

func checkedUint(u uint64) (Value, error) {
	return Uint(u), nil
}

// CheckIntRange validates a decimal value against the int64/uint64
// range, producing "larger than"/"smaller than" errors for out-of-range
// literals (e.g. 2^64).
func CheckIntRange(big float64, unsigned bool) error {
	if unsigned {
		if big < 0 {
			return errs.New(errs.RangeError, "smaller than minimum value for uint: %v", big)
		}
		if big > math.MaxUint64 {
			return errs.New(errs.RangeError, "larger than maximum value for uint: %v", big)
		}
		return nil
	}
	if big < math.MinInt64 {
		return errs.New(errs.RangeError, "smaller than minimum value for int: %v", big)
	}
	if big > math.MaxInt64 {
		return errs.New(errs.RangeError, "larger than maximum value for int: %v", big)
	}
	return nil
}

// Container distinguishes the three object kinds a plain tree can shape
// into besides a scalar leaf.
type Container int

const (
	ContainerMap Container = iota
	ContainerList
	ContainerText
)
