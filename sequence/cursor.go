package sequence

import (
	"github.com/automerge/automerge-sub002/op"
	"github.com/automerge/automerge-sub002/value"
)

// CursorSide selects which side of the addressed position a cursor is
// anchored to.
type CursorSide byte

const (
	SideBefore CursorSide = iota
	SideAfter
	SideStart
	SideEnd
)

const cursorVersion byte = 1

func putUvarint(buf []byte, v uint64) []byte {
	for v >= 0x80 {
		buf = append(buf, byte(v)|0x80)
		v >>= 7
	}
	return append(buf, byte(v))
}

func getUvarint(buf []byte) (uint64, []byte) {
	var v uint64
	var shift uint
	for i, b := range buf {
		v |= uint64(b&0x7f) << shift
		if b&0x80 == 0 {
			return v, buf[i+1:]
		}
		shift += 7
	}
	return v, nil
}

// EncodeCursor packs (obj, elem, side) plus a document-origin nonce into
// the opaque bytes a value.Cursor scalar carries. The byte layout is
// intentionally unstandardized beyond "opaque and version-able"; this
// module picks one stable layout.
func EncodeCursor(nonce [16]byte, obj op.ID, elem op.ElemKey, side CursorSide) value.Value {
	buf := []byte{cursorVersion}
	buf = append(buf, nonce[:]...)
	buf = putUvarint(buf, obj.Counter)
	buf = putUvarint(buf, uint64(obj.Actor))
	if elem.Head {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
		buf = putUvarint(buf, elem.ElemID.Counter)
		buf = putUvarint(buf, uint64(elem.ElemID.Actor))
	}
	buf = append(buf, byte(side))
	return value.Cursor(buf)
}

// DecodeCursor is the inverse of EncodeCursor.
func DecodeCursor(v value.Value) (nonce [16]byte, obj op.ID, elem op.ElemKey, side CursorSide, ok bool) {
	b := v.AsBytes()
	if len(b) < 1+16+1 || b[0] != cursorVersion {
		return nonce, obj, elem, side, false
	}
	copy(nonce[:], b[1:17])
	rest := b[17:]
	var c, a uint64
	c, rest = getUvarint(rest)
	a, rest = getUvarint(rest)
	obj = op.ID{Counter: c, Actor: uint32(a)}
	if len(rest) == 0 {
		return nonce, obj, elem, side, false
	}
	isHead := rest[0] == 1
	rest = rest[1:]
	if isHead {
		elem = op.Head
	} else {
		var ec, ea uint64
		ec, rest = getUvarint(rest)
		ea, rest = getUvarint(rest)
		elem = op.ElemKey{ElemID: op.ID{Counter: ec, Actor: uint32(ea)}}
	}
	if len(rest) == 0 {
		return nonce, obj, elem, side, false
	}
	side = CursorSide(rest[0])
	return nonce, obj, elem, side, true
}

// MakeCursor creates a cursor scalar addressing a position in a list or
// text object. A negative position normalizes to start; a position at
// or past length normalizes to end.
func (l *List) MakeCursor(nonce [16]byte, pos int, side CursorSide, clock op.Clock) value.Value {
	n := l.Length(clock)
	if pos < 0 {
		return EncodeCursor(nonce, l.Obj, op.Head, SideStart)
	}
	if pos >= n {
		return EncodeCursor(nonce, l.Obj, op.Head, SideEnd)
	}
	slot, _ := l.SlotAtPosition(pos, clock)
	return EncodeCursor(nonce, l.Obj, op.ElemKey{ElemID: slot.ID}, side)
}

// ResolvePosition resolves a cursor scalar to a current position. It
// returns ok=false if the cursor's document nonce doesn't match (a
// cursor from another document) or if the target element is not
// visible at clock (not yet applied, or deleted and not start/end).
func (l *List) ResolvePosition(nonce [16]byte, v value.Value, clock op.Clock) (pos int, ok bool) {
	gotNonce, obj, elem, side, decoded := DecodeCursor(v)
	if !decoded || gotNonce != nonce || !obj.Equal(l.Obj) {
		return 0, false
	}
	switch side {
	case SideStart:
		return 0, true
	case SideEnd:
		return l.Length(clock), true
	}
	if elem.Head {
		return 0, true
	}
	vis := l.Visible(clock)
	for i, s := range vis {
		if s.ID.Equal(elem.ElemID) {
			return i, true
		}
	}
	return 0, false
}
