package sequence

import (
	"github.com/automerge/automerge-sub002/op"
	"github.com/automerge/automerge-sub002/opset"
)

// Slot pairs an RGA element identity with the op currently winning its
// content (nil content means the slot is visible-absent at this clock
// and should be skipped by callers — List.Visible already filters these
// out).
type Slot struct {
	ID      op.ID
	Content *op.Op
}

// List is a read/structure view over one list or text object's ops.
// Insertion order is owned by Store; List resolves content visibility
// on top of it.
type List struct {
	set   *opset.Set
	store *Store
	Obj   op.ID
}

// NewList wraps obj (already registered as ObjList/ObjText) for reading
// and position addressing.
func NewList(set *opset.Set, store *Store, obj op.ID) *List {
	store.EnsureObject(obj)
	return &List{set: set, store: store, Obj: obj}
}

// overwritesBySlot groups every non-insert op addressing a sequence
// slot (overwrite/delete) by the slot it targets.
func (l *List) overwritesBySlot() map[op.ID][]*op.Op {
	out := make(map[op.ID][]*op.Op)
	for _, o := range l.set.ObjectOps(l.Obj) {
		if o.Insert || o.Key.IsMapKey {
			continue
		}
		out[o.Key.Elem.ElemID] = append(out[o.Key.Elem.ElemID], o)
	}
	return out
}

// Visible returns, in RGA order, every slot that has a winning visible
// op at clock (deleted/overwritten-to-nothing slots are omitted). A
// slot whose winning candidate is a delete op carries no content, so
// it is omitted too, not emitted as an empty Slot.
func (l *List) Visible(clock op.Clock) []Slot {
	overwrites := l.overwritesBySlot()
	actors := l.set.Actors()
	order := l.store.Order(l.Obj)
	out := make([]Slot, 0, len(order))
	for _, slotID := range order {
		var candidates []*op.Op
		if creation, ok := l.set.Lookup(slotID); ok {
			candidates = append(candidates, creation)
		}
		candidates = append(candidates, overwrites[slotID]...)

		var winner *op.Op
		for _, c := range candidates {
			if !c.VisibleAt(clock) {
				continue
			}
			if winner == nil || winsTie(actors, c.ID, winner.ID) {
				winner = c
			}
		}
		if winner != nil && winner.Action != op.ActionDelete {
			out = append(out, Slot{ID: slotID, Content: winner})
		}
	}
	return out
}

// Length returns the number of visible elements at clock.
func (l *List) Length(clock op.Clock) int { return len(l.Visible(clock)) }

// AnchorForPosition returns the ElemKey a new insert at visible position
// pos (0-based, insert-before semantics) should cite: Head if pos==0,
// else the id of the visible slot immediately preceding pos.
func (l *List) AnchorForPosition(pos int, clock op.Clock) op.ElemKey {
	if pos <= 0 {
		return op.Head
	}
	vis := l.Visible(clock)
	if pos > len(vis) {
		pos = len(vis)
	}
	return op.ElemKey{ElemID: vis[pos-1].ID}
}

// SlotAtPosition returns the visible slot at pos, if any.
func (l *List) SlotAtPosition(pos int, clock op.Clock) (Slot, bool) {
	vis := l.Visible(clock)
	if pos < 0 || pos >= len(vis) {
		return Slot{}, false
	}
	return vis[pos], true
}

// CurrentPred returns the ids a new overwrite/delete of slot must cite:
// every op currently visible for that slot, at the all-ops (live)
// clock, i.e. every op targeting the slot with no successor yet.
func (l *List) CurrentPred(slot op.ID) []op.ID {
	var ids []op.ID
	if creation, ok := l.set.Lookup(slot); ok && len(creation.Succ) == 0 {
		ids = append(ids, creation.ID)
	}
	for _, o := range l.overwritesBySlot()[slot] {
		if len(o.Succ) == 0 {
			ids = append(ids, o.ID)
		}
	}
	op.SortIDs(ids)
	return ids
}
