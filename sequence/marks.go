package sequence

import (
	"sort"

	"github.com/automerge/automerge-sub002/op"
	"github.com/automerge/automerge-sub002/value"
)

// MarkSpan is one resolved, non-overlapping-per-name run.
type MarkSpan struct {
	Name  string
	Value value.Value
	Start int         // UTF-16 offset, inclusive
	End   int         // UTF-16 offset, exclusive
}

// markOps returns every ActionMarkBegin op on the text object whose
// MarkValue is non-null and which is currently visible at clock — the
// active marks contributing spans.
func (t *Text) markOps(clock op.Clock) []*op.Op {
	var out []*op.Op
	for _, o := range t.set.ObjectOps(t.Obj) {
		if o.Action != op.ActionMarkBegin {
			continue
		}
		if o.MarkValue.IsNull() {
			continue
		}
		if !o.VisibleAt(clock) {
			continue
		}
		out = append(out, o)
	}
	return out
}

// utf16PosOfSlot returns the UTF-16 offset at which slotID begins, or
// the text's total length if slotID is not a currently-visible
// character.
func (t *Text) utf16PosOfSlot(slotID op.ID, clock op.Clock) int {
	count := 0
	for _, s := range t.Visible(clock) {
		if isBlock(s.Content) {
			continue
		}
		if s.ID.Equal(slotID) {
			return count
		}
		count += utf16Len(s.Content.Value.AsStr())
	}
	return count
}

// Marks resolves every active mark into character-index spans,
// collapsing adjacent same-valued runs for the same name.
func (t *Text) Marks(clock op.Clock) []MarkSpan {
	var spans []MarkSpan
	for _, o := range t.markOps(clock) {
		start := 0
		if !o.MarkStart.Head {
			start = t.utf16PosOfSlot(o.MarkStart.ElemID, clock)
		}
		end := t.Len16(clock)
		if !o.MarkEnd.Head {
			end = t.utf16PosOfSlot(o.MarkEnd.ElemID, clock) + charWidthAt(t, o.MarkEnd.ElemID, clock)
		}
		if end < start {
			end = start
		}
		spans = append(spans, MarkSpan{Name: o.MarkName, Value: o.MarkValue, Start: start, End: end})
	}
	sort.Slice(spans, func(i, j int) bool {
		if spans[i].Name != spans[j].Name {
			return spans[i].Name < spans[j].Name
		}
		return spans[i].Start < spans[j].Start
	})
	return mergeAdjacent(spans)
}

func charWidthAt(t *Text, slotID op.ID, clock op.Clock) int {
	for _, s := range t.Visible(clock) {
		if s.ID.Equal(slotID) && !isBlock(s.Content) {
			return utf16Len(s.Content.Value.AsStr())
		}
	}
	return 0
}

func mergeAdjacent(spans []MarkSpan) []MarkSpan {
	if len(spans) == 0 {
		return nil
	}
	out := []MarkSpan{spans[0]}
	for _, s := range spans[1:] {
		last := &out[len(out)-1]
		if last.Name == s.Name && last.Value.Equal(s.Value) && last.End >= s.Start {
			if s.End > last.End {
				last.End = s.End
			}
			continue
		}
		out = append(out, s)
	}
	return out
}

// MarksAt returns the name→value map of marks covering utf16Pos.
func (t *Text) MarksAt(utf16Pos int, clock op.Clock) map[string]value.Value {
	out := make(map[string]value.Value)
	for _, sp := range t.Marks(clock) {
		if utf16Pos >= sp.Start && utf16Pos < sp.End {
			out[sp.Name] = sp.Value
		}
	}
	return out
}

// BuildMarkPred resolves which currently-visible mark ops a new mark
// (or unmark) over [startPos,endPos) on name should cite as Pred: every
// visible mark op on the same name whose range overlaps.
func (t *Text) BuildMarkPred(name string, startPos, endPos int, clock op.Clock) []op.ID {
	var ids []op.ID
	for _, o := range t.markOps(clock) {
		if o.MarkName != name {
			continue
		}
		start := 0
		if !o.MarkStart.Head {
			start = t.utf16PosOfSlot(o.MarkStart.ElemID, clock)
		}
		end := t.Len16(clock)
		if !o.MarkEnd.Head {
			end = t.utf16PosOfSlot(o.MarkEnd.ElemID, clock) + charWidthAt(t, o.MarkEnd.ElemID, clock)
		}
		if start < endPos && end > startPos {
			ids = append(ids, o.ID)
		}
	}
	op.SortIDs(ids)
	return ids
}

// ElemKeyAtUTF16 resolves a UTF-16 offset to the ElemKey mark
// boundaries need: the id of the character slot at that offset, or
// Head if the offset is 0 or past the end (end-of-text boundary).
func (t *Text) ElemKeyAtUTF16(u16 int, clock op.Clock) op.ElemKey {
	if u16 <= 0 {
		return op.Head
	}
	count := 0
	for _, s := range t.Visible(clock) {
		if isBlock(s.Content) {
			continue
		}
		if count+utf16Len(s.Content.Value.AsStr()) > u16 {
			return op.ElemKey{ElemID: s.ID}
		}
		count += utf16Len(s.Content.Value.AsStr())
	}
	return op.Head
}
