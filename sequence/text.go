package sequence

import (
	"unicode/utf16"
	"unicode/utf8"

	"github.com/automerge/automerge-sub002/op"
	"github.com/automerge/automerge-sub002/opset"
	"github.com/automerge/automerge-sub002/value"
)

// Text is a List specialized for character content, exposing
// UTF-16-indexed positions to match JavaScript string indexing.
type Text struct {
	*List
}

// NewText wraps obj (an ObjText) for text-shaped reads and edits.
func NewText(set *opset.Set, store *Store, obj op.ID) *Text {
	return &Text{List: NewList(set, store, obj)}
}

func utf16Len(s string) int {
	n := 0
	for _, r := range s {
		n += len(utf16.Encode([]rune{r}))
	}
	return n
}

// isBlock reports whether a slot's winning content op is a block marker
// (a nested map object embedded at that position) rather than a plain
// character.
func isBlock(o *op.Op) bool { return o.Action == op.ActionMakeMap }

// Materialize concatenates the visible character runs (skipping block
// markers) into a single Go string.
func (t *Text) Materialize(clock op.Clock) string {
	var buf []byte
	for _, s := range t.Visible(clock) {
		if isBlock(s.Content) {
			continue
		}
		buf = append(buf, s.Content.Value.AsStr()...)
	}
	return string(buf)
}

// Len16 returns the UTF-16 length of the materialized text.
func (t *Text) Len16(clock op.Clock) int { return utf16Len(t.Materialize(clock)) }

// PositionAtUTF16 converts a UTF-16 code-unit offset into a visible
// slot-rank (0-based, insert-before semantics), clamping out-of-range
// offsets the way cursor does (negative → start, ≥ length → end).
func (t *Text) PositionAtUTF16(u16 int, clock op.Clock) int {
	if u16 < 0 {
		return 0
	}
	vis := t.Visible(clock)
	count := 0
	for i, s := range vis {
		if isBlock(s.Content) {
			continue
		}
		w := utf16Len(s.Content.Value.AsStr())
		if count+w > u16 {
			return i
		}
		count += w
	}
	_ = utf8.RuneLen
	return len(vis)
}

// CharSlots returns just the non-block visible slots, in order — the
// addressable "character positions" splice/cursor operate over.
func (t *Text) CharSlots(clock op.Clock) []Slot {
	vis := t.Visible(clock)
	out := make([]Slot, 0, len(vis))
	for _, s := range vis {
		if !isBlock(s.Content) {
			out = append(out, s)
		}
	}
	return out
}

// AnchorForCharPosition is AnchorForPosition restricted to character
// positions (pos counts only non-block slots).
func (t *Text) AnchorForCharPosition(pos int, clock op.Clock) op.ElemKey {
	chars := t.CharSlots(clock)
	if pos <= 0 {
		return op.Head
	}
	if pos > len(chars) {
		pos = len(chars)
	}
	return op.ElemKey{ElemID: chars[pos-1].ID}
}

// EndAnchorForUTF16 resolves the ElemKey a mark's end boundary cites:
// the slot containing the last character included in a span running up
// to (exclusive) u16, or Head if u16 is 0 (an empty leading span).
func (t *Text) EndAnchorForUTF16(u16 int, clock op.Clock) op.ElemKey {
	if u16 <= 0 {
		return op.Head
	}
	count := 0
	for _, s := range t.Visible(clock) {
		if isBlock(s.Content) {
			continue
		}
		w := utf16Len(s.Content.Value.AsStr())
		if count+w >= u16 {
			return op.ElemKey{ElemID: s.ID}
		}
		count += w
	}
	return op.Head
}

// Span is one run of Spans' output: either a text run or a block
// marker.
type Span struct {
	IsBlock bool
	Text    string
	Block   BlockInfo
}

// BlockInfo carries a block marker's structured fields.
type BlockInfo struct {
	Type    string
	Parents []string
	Attrs   map[string]value.Value
}

// Spans yields alternating text/block runs across the whole text
// object, collapsing consecutive character slots into one text run.
func (t *Text) Spans(clock op.Clock, blockFields func(slotID op.ID) BlockInfo) []Span {
	var out []Span
	var buf []byte
	flush := func() {
		if len(buf) > 0 {
			out = append(out, Span{Text: string(buf)})
			buf = nil
		}
	}
	for _, s := range t.Visible(clock) {
		if isBlock(s.Content) {
			flush()
			out = append(out, Span{IsBlock: true, Block: blockFields(s.ID)})
			continue
		}
		buf = append(buf, s.Content.Value.AsStr()...)
	}
	flush()
	return out
}

// MakeCursor creates a cursor at a UTF-16 offset.
func (t *Text) MakeCursor(nonce [16]byte, u16 int, side CursorSide, clock op.Clock) value.Value {
	n := t.Len16(clock)
	if u16 < 0 {
		return EncodeCursor(nonce, t.Obj, op.Head, SideStart)
	}
	if u16 >= n {
		return EncodeCursor(nonce, t.Obj, op.Head, SideEnd)
	}
	return EncodeCursor(nonce, t.Obj, t.ElemKeyAtUTF16(u16, clock), side)
}

// ResolveCursorUTF16 resolves a cursor scalar to a current UTF-16 offset.
func (t *Text) ResolveCursorUTF16(nonce [16]byte, v value.Value, clock op.Clock) (int, bool) {
	gotNonce, obj, elem, side, decoded := DecodeCursor(v)
	if !decoded || gotNonce != nonce || !obj.Equal(t.Obj) {
		return 0, false
	}
	switch side {
	case SideStart:
		return 0, true
	case SideEnd:
		return t.Len16(clock), true
	}
	if elem.Head {
		return 0, true
	}
	for _, s := range t.Visible(clock) {
		if s.ID.Equal(elem.ElemID) {
			return t.utf16PosOfSlot(elem.ElemID, clock), true
		}
	}
	return 0, false
}
