// Package op implements the operation model: op
// kinds, op identifiers, predecessor/successor sets, and the change
// envelope that bundles ops into an atomic, hashed, causally-ordered
// unit.
package op

import (
	"fmt"
	"sort"

	"github.com/automerge/automerge-sub002/value"
)

// ID is (counter, actor_index). Counter starts at 1 per actor; the
// synthetic Root id (0,0) identifies the root map.
type ID struct {
	Counter uint64
	Actor   uint32
}

// Root is the synthetic id of the implicit root map.
var Root = ID{Counter: 0, Actor: 0}

func (id ID) IsRoot() bool { return id.Counter == 0 && id.Actor == 0 }

func (id ID) String() string { return fmt.Sprintf("%d@%d", id.Counter, id.Actor) }

// Less orders ids by (counter asc, actor asc) — the natural reading
// order used for map keys in the op-set. Tie-break comparisons that
// need (counter desc, actor_bytes desc) are done by the caller, which
// has access to the actor.Table needed to compare bytes.
func (id ID) Less(o ID) bool {
	if id.Counter != o.Counter {
		return id.Counter < o.Counter
	}
	return id.Actor < o.Actor
}

func (id ID) Equal(o ID) bool { return id.Counter == o.Counter && id.Actor == o.Actor }

// Action is the op's effect.
type Action byte

const (
	ActionMakeMap Action = iota
	ActionMakeList
	ActionMakeText
	ActionSet
	ActionIncrement
	ActionDelete
	ActionMarkBegin
	ActionMarkEnd
)

func (a Action) String() string {
	switch a {
	case ActionMakeMap:
		return "make_map"
	case ActionMakeList:
		return "make_list"
	case ActionMakeText:
		return "make_text"
	case ActionSet:
		return "set"
	case ActionIncrement:
		return "increment"
	case ActionDelete:
		return "delete"
	case ActionMarkBegin:
		return "mark_begin"
	case ActionMarkEnd:
		return "mark_end"
	default:
		return "unknown"
	}
}

// IsMake reports whether the action creates a new object.
func (a Action) IsMake() bool {
	return a == ActionMakeMap || a == ActionMakeList || a == ActionMakeText
}

// Expand is a mark's boundary-inheritance policy.
type Expand byte

const (
	ExpandNone Expand = iota
	ExpandBefore
	ExpandAfter
	ExpandBoth
)

// ElemKey addresses a position within a sequence object: either the
// sentinel Head (insert at the very front) or the id of the prior
// element, combined with Insert to say whether this op creates a new
// slot after that element or updates the existing slot named by it.
type ElemKey struct {
	Head   bool
	ElemID ID
}

// Head is the sentinel "insert at front" key.
var Head = ElemKey{Head: true}

func (k ElemKey) String() string {
	if k.Head {
		return "_head"
	}
	return k.ElemID.String()
}

// Key addresses a single op's target: a map key string, or a sequence
// element key. Exactly one of the two forms is populated, selected by
// IsMapKey.
type Key struct {
	IsMapKey bool
	MapKey   string
	Elem     ElemKey
}

func MapKey(k string) Key { return Key{IsMapKey: true, MapKey: k} }
func SeqKey(e ElemKey) Key { return Key{IsMapKey: false, Elem: e} }

// Op is a single immutable operation. Succ is derived on insertion into
// the op-set (see package opset) and is not part of an op's identity.
type Op struct {
	ID     ID
	Obj    ID
	Action Action
	Key    Key
	// Insert is true when this op creates a new sequence slot rather
	// than updating/deleting an existing one.
	Insert bool
	// Value is populated for ActionSet (scalar payload). For
	// ActionIncrement, Delta carries the signed increment instead.
	Value value.Value
	Delta int64

	Pred []ID

	// Mark fields, populated only for ActionMarkBegin. A mark op names
	// both boundaries of its span directly rather than being split
	// across a separate mark_end op: MarkStart/MarkEnd are element keys
	// within the same (text) Obj. Removing a mark ("unmark") is a new
	// ActionMarkBegin op whose MarkValue is the null scalar and whose
	// Pred names the mark op(s) it closes out.
	Expand    Expand
	MarkName  string
	MarkValue value.Value
	MarkStart ElemKey
	MarkEnd   ElemKey

	// Succ is the set of op ids that later name this op in their Pred.
	// It is maintained by the op-set index, not by the op's creator.
	Succ []ID
}

// SortIDs sorts a slice of ids by (Counter, Actor) ascending, the
// canonical order used when encoding Pred lists and Heads sets.
func SortIDs(ids []ID) {
	sort.Slice(ids, func(i, j int) bool { return ids[i].Less(ids[j]) })
}

// AddSucc records that succID now names op (via succID's Pred) as a
// predecessor. Idempotent: calling it twice with the same succID is a
// no-op.
func (o *Op) AddSucc(succID ID) {
	for _, s := range o.Succ {
		if s.Equal(succID) {
			return
		}
	}
	o.Succ = append(o.Succ, succID)
	SortIDs(o.Succ)
}

// RemoveSucc undoes AddSucc, used when unwinding a rolled-back
// transaction's provisional ops.
func (o *Op) RemoveSucc(succID ID) {
	out := o.Succ[:0]
	for _, s := range o.Succ {
		if !s.Equal(succID) {
			out = append(out, s)
		}
	}
	o.Succ = out
}

// VisibleAt reports whether the op is visible given a clock (per-actor
// max counter reachable from some heads): the op itself must be ≤ the
// clock, and no successor of it may also be ≤ the clock.
func (o *Op) VisibleAt(clock Clock) bool {
	if !clock.Contains(o.ID) {
		return false
	}
	for _, s := range o.Succ {
		if clock.Contains(s) {
			return false
		}
	}
	return true
}

// Clock is a per-actor max-counter snapshot used to project the op-set
// to a historical cut-point.
type Clock map[uint32]uint64

// Contains reports whether id is reachable from the clock: id.Counter
// is at most the max counter recorded for id.Actor.
func (c Clock) Contains(id ID) bool {
	if id.IsRoot() {
		return true
	}
	max, ok := c[id.Actor]
	if !ok {
		return false
	}
	return id.Counter <= max
}

// Advance folds id into the clock, raising the per-actor max as needed.
func (c Clock) Advance(id ID) {
	if cur, ok := c[id.Actor]; !ok || id.Counter > cur {
		c[id.Actor] = id.Counter
	}
}

// Clone returns an independent copy.
func (c Clock) Clone() Clock {
	cp := make(Clock, len(c))
	for k, v := range c {
		cp[k] = v
	}
	return cp
}
