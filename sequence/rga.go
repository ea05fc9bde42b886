// Package sequence implements the RGA (Replicated Growable Array)
// sequence CRDT used for both list and text objects, plus the text
// marks sub-CRDT, cursors, and block markers.
package sequence

import (
	"github.com/automerge/automerge-sub002/actor"
	"github.com/automerge/automerge-sub002/op"
	"github.com/automerge/automerge-sub002/opset"
)

// order is the RGA total order for one sequence object: the sequence of
// slot identities (each the OpId of the op that created the slot) in
// the fixed order new inserts are woven into, independent of which
// content op is currently visible for a slot.
type order struct {
	ids    []op.ID
	anchor map[op.ID]op.ElemKey
	pos    map[op.ID]int
}

func newOrder() *order {
	return &order{anchor: make(map[op.ID]op.ElemKey), pos: make(map[op.ID]int)}
}

func (o *order) reindex() {
	for i, id := range o.ids {
		o.pos[id] = i
	}
}

// Store owns the RGA ordering structures for every list/text object in
// a document. It is layered on top of opset.Set, which owns the raw op
// storage and visibility (pred/succ) bookkeeping.
type Store struct {
	set    *opset.Set
	actors *actor.Table
	orders map[op.ID]*order
}

// NewStore creates a Store bound to set.
func NewStore(set *opset.Set) *Store {
	return &Store{set: set, actors: set.Actors(), orders: make(map[op.ID]*order)}
}

// EnsureObject registers obj (already created as ObjList/ObjText in the
// op-set) as having an empty RGA order, if not already present.
func (st *Store) EnsureObject(obj op.ID) {
	if _, ok := st.orders[obj]; !ok {
		st.orders[obj] = newOrder()
	}
}

func winsTie(actors *actor.Table, a, b op.ID) bool {
	if a.Counter != b.Counter {
		return a.Counter > b.Counter
	}
	return actors.At(a.Actor).Compare(actors.At(b.Actor)) > 0
}

// ApplyInsert threads a freshly-inserted op (o.Insert == true) into
// obj's RGA order: the new element is placed immediately after its
// anchor (or at the very front, for the Head sentinel); among multiple
// elements sharing the same anchor, order is by (counter desc, actor
// desc).
//
// The anchor, if not Head, must already be present in the order — which
// holds as long as changes are applied in causal (topological) order,
// the only order the change-application path ever uses.
func (st *Store) ApplyInsert(obj op.ID, o *op.Op) {
	ord := st.orders[obj]
	if ord == nil {
		ord = newOrder()
		st.orders[obj] = ord
	}
	anchor := o.Key.Elem

	start := 0
	if !anchor.Head {
		if p, ok := ord.pos[anchor.ElemID]; ok {
			start = p + 1
		}
	}

	j := start
	for {
		// Step over the subtrees of siblings already passed; an element
		// anchored at Head or before start lies outside anchor's subtree.
		for j < len(ord.ids) && !sameAnchor(ord.anchor[ord.ids[j]], anchor) {
			if a := ord.anchor[ord.ids[j]]; a.Head || ord.pos[a.ElemID] < start {
				break
			}
			j++
		}
		if j >= len(ord.ids) || !sameAnchor(ord.anchor[ord.ids[j]], anchor) {
			break
		}
		sibling := ord.ids[j]
		if !winsTie(st.actors, sibling, o.ID) {
			break
		}
		j++
	}

	ord.ids = append(ord.ids, op.ID{})
	copy(ord.ids[j+1:], ord.ids[j:])
	ord.ids[j] = o.ID
	ord.anchor[o.ID] = anchor
	ord.reindex()
}

// RemoveInsert undoes ApplyInsert for id, used when a transaction that
// inserted it is rolled back. Safe to call in any order since it
// consults the pos index directly rather than assuming id is at the
// tail of obj's order.
func (st *Store) RemoveInsert(obj op.ID, id op.ID) {
	ord := st.orders[obj]
	if ord == nil {
		return
	}
	p, ok := ord.pos[id]
	if !ok {
		return
	}
	ord.ids = append(ord.ids[:p], ord.ids[p+1:]...)
	delete(ord.anchor, id)
	delete(ord.pos, id)
	ord.reindex()
}

func sameAnchor(a, b op.ElemKey) bool {
	if a.Head != b.Head {
		return false
	}
	if a.Head {
		return true
	}
	return a.ElemID.Equal(b.ElemID)
}

// Order returns the full RGA slot-identity order for obj (including
// hidden/tombstoned slots), independent of any heads projection.
func (st *Store) Order(obj op.ID) []op.ID {
	ord := st.orders[obj]
	if ord == nil {
		return nil
	}
	return ord.ids
}

// Position returns the index of slot within obj's full order.
func (st *Store) Position(obj op.ID, slot op.ID) (int, bool) {
	ord := st.orders[obj]
	if ord == nil {
		return 0, false
	}
	p, ok := ord.pos[slot]
	return p, ok
}
