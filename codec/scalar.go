package codec

import (
	"encoding/binary"
	"math"

	"github.com/automerge/automerge-sub002/errs"
	"github.com/automerge/automerge-sub002/value"
)

// EncodeScalar writes a scalar per the discriminant/payload table.
// Discriminant bytes are stable wire constants and MUST NOT change
// meaning.
func EncodeScalar(buf []byte, v value.Value) []byte {
	buf = append(buf, byte(v.Kind()))
	switch v.Kind() {
	case value.KindNull, value.KindFalse, value.KindTrue:
		// no payload
	case value.KindUint:
		buf = putUvarint(buf, v.AsUint())
	case value.KindInt:
		buf = putZigzag(buf, v.AsInt())
	case value.KindF64:
		var tmp [8]byte
		binary.LittleEndian.PutUint64(tmp[:], math.Float64bits(v.AsF64()))
		buf = append(buf, tmp[:]...)
	case value.KindBytes, value.KindCursor:
		buf = putBytes(buf, v.AsBytes())
	case value.KindStr, value.KindImmutableString:
		buf = putString(buf, v.AsStr())
	case value.KindCounter:
		buf = putZigzag(buf, v.AsInt())
	case value.KindTimestamp:
		buf = putZigzag(buf, v.AsInt())
	}
	return buf
}

// DecodeScalar is the inverse of EncodeScalar.
func DecodeScalar(b []byte) (value.Value, []byte, error) {
	if len(b) == 0 {
		return value.Value{}, nil, errs.New(errs.IntegrityError, "truncated scalar")
	}
	kind := value.Kind(b[0])
	rest := b[1:]
	switch kind {
	case value.KindNull:
		return value.Null, rest, nil
	case value.KindFalse:
		return value.Bool(false), rest, nil
	case value.KindTrue:
		return value.Bool(true), rest, nil
	case value.KindUint:
		u, r, err := getUvarint(rest)
		return value.Uint(u), r, err
	case value.KindInt:
		i, r, err := getZigzag(rest)
		return value.Int(i), r, err
	case value.KindF64:
		if len(rest) < 8 {
			return value.Value{}, nil, errs.New(errs.IntegrityError, "truncated f64")
		}
		f := math.Float64frombits(binary.LittleEndian.Uint64(rest[:8]))
		return value.F64(f), rest[8:], nil
	case value.KindBytes:
		raw, r, err := getBytes(rest)
		return value.Bytes(raw), r, err
	case value.KindStr:
		s, r, err := getString(rest)
		return value.Str(s), r, err
	case value.KindCursor:
		raw, r, err := getBytes(rest)
		return value.Cursor(raw), r, err
	case value.KindCounter:
		i, r, err := getZigzag(rest)
		return value.Counter(i), r, err
	case value.KindTimestamp:
		i, r, err := getZigzag(rest)
		return value.Timestamp(i), r, err
	case value.KindImmutableString:
		s, r, err := getString(rest)
		return value.ImmutableString(s), r, err
	default:
		return value.Value{}, nil, errs.New(errs.IntegrityError, "unknown scalar discriminant %d", kind)
	}
}
