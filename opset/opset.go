// Package opset implements the mutable op-set index: the store that
// holds every op ever observed, indexed for keyed lookup, per-object
// ordered traversal, and historical ("heads") projection.
//
// opset.Set owns raw storage and succ/pred bookkeeping. The sequence
// (RGA/text) and map CRDTs are layered on top of it in the sequence and
// crdtmap packages, which interpret a given object's ops as ordered
// elements or keyed entries respectively.
package opset

import (
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/automerge/automerge-sub002/actor"
	"github.com/automerge/automerge-sub002/errs"
	"github.com/automerge/automerge-sub002/op"
)

// ObjectKind distinguishes the three object shapes a non-root op.ID can
// name, mirroring value.Container.
type ObjectKind byte

const (
	ObjMap ObjectKind = iota
	ObjList
	ObjText
)

// object is the per-object bookkeeping the Set maintains. Ops belonging
// to the object are stored in insertion (arrival) order in all; callers
// that need map or RGA order derive it from all via the sequence/crdtmap
// packages, which hold their own secondary indices.
type object struct {
	kind ObjectKind
	all  []*op.Op
}

// Set is the mutable op-set index for one document.
type Set struct {
	actors *actor.Table

	objects map[op.ID]*object
	byID    map[op.ID]*op.Op

	clockCache *lru.Cache[string, op.Clock]
}

// defaultClockCacheSize bounds the number of distinct heads-projections
// cached at once; each entry is one Clock (a small per-actor map), so a
// generous bound costs little memory while saving repeated O(changes)
// clock recomputation on hot historical-query paths.
const defaultClockCacheSize = 256

// New creates an empty Set. The root map always exists implicitly.
func New(actors *actor.Table) *Set {
	c, _ := lru.New[string, op.Clock](defaultClockCacheSize)
	s := &Set{
		actors:     actors,
		objects:    make(map[op.ID]*object),
		byID:       make(map[op.ID]*op.Op),
		clockCache: c,
	}
	s.objects[op.Root] = &object{kind: ObjMap}
	return s
}

// Actors returns the actor table backing this op-set.
func (s *Set) Actors() *actor.Table { return s.actors }

// RegisterObject declares a freshly-created object (from a make_* op) so
// subsequent ops may target it. kind must match the creating op's action.
func (s *Set) RegisterObject(id op.ID, kind ObjectKind) {
	if _, ok := s.objects[id]; ok {
		return
	}
	s.objects[id] = &object{kind: kind}
}

// ObjectKind reports the kind of a known object.
func (s *Set) ObjectKind(id op.ID) (ObjectKind, bool) {
	o, ok := s.objects[id]
	if !ok {
		return 0, false
	}
	return o.kind, true
}

// Lookup returns the op with the given id, if known.
func (s *Set) Lookup(id op.ID) (*op.Op, bool) {
	o, ok := s.byID[id]
	return o, ok
}

// ObjectOps returns all ops ever inserted for obj, in arrival order.
// Callers must not mutate the returned slice.
func (s *Set) ObjectOps(obj op.ID) []*op.Op {
	o, ok := s.objects[obj]
	if !ok {
		return nil
	}
	return o.all
}

// Insert adds an op to the index, validating its Obj is known and
// updating Succ on every op named in its Pred. If the op is a make_*
// op, the new object is registered.
//
// Insert fails with errs.MissingDep if Obj or any Pred id is unknown —
// this only happens when loading with allow_missing_changes/unchecked,
// never during ordinary in-order change application.
func (s *Set) Insert(o *op.Op) error {
	if !o.Obj.IsRoot() {
		if _, ok := s.objects[o.Obj]; !ok {
			return errs.New(errs.MissingDep, "object %s not known", o.Obj)
		}
	}
	for _, p := range o.Pred {
		pred, ok := s.byID[p]
		if !ok {
			return errs.New(errs.MissingDep, "predecessor %s not known", p)
		}
		if !pred.Obj.Equal(o.Obj) {
			return errs.New(errs.InvalidInput, "pred %s belongs to a different object", p)
		}
	}

	cp := *o
	s.byID[o.ID] = &cp
	obj := s.objects[o.Obj]
	obj.all = append(obj.all, &cp)

	if o.Action.IsMake() {
		kind := ObjMap
		switch o.Action {
		case op.ActionMakeList:
			kind = ObjList
		case op.ActionMakeText:
			kind = ObjText
		}
		s.RegisterObject(o.ID, kind)
	}

	for _, p := range o.Pred {
		s.byID[p].AddSucc(o.ID)
	}

	s.clockCache.Purge()
	return nil
}

// Remove undoes Insert for a provisional op, used when a transaction is
// rolled back. It is only safe to call in exact reverse insertion order.
func (s *Set) Remove(id op.ID) {
	o, ok := s.byID[id]
	if !ok {
		return
	}
	for _, p := range o.Pred {
		if pred, ok := s.byID[p]; ok {
			pred.RemoveSucc(id)
		}
	}
	delete(s.byID, id)
	if obj, ok := s.objects[o.Obj]; ok {
		for i, candidate := range obj.all {
			if candidate.ID.Equal(id) {
				obj.all = append(obj.all[:i], obj.all[i+1:]...)
				break
			}
		}
	}
	if o.Action.IsMake() {
		delete(s.objects, id)
	}
	s.clockCache.Purge()
}

// Clock computes the per-actor max-counter snapshot reachable from
// heads, caching the result keyed by the heads' canonical string form.
// build computes the clock on a cache miss by walking the causal DAG
// backward from heads; it is supplied by the change package (which owns
// the hash→Change index) to avoid an import cycle.
func (s *Set) Clock(headsKey string, build func() op.Clock) op.Clock {
	if c, ok := s.clockCache.Get(headsKey); ok {
		return c
	}
	c := build()
	s.clockCache.Add(headsKey, c)
	return c
}

// Clone returns a deep, independent copy of the op-set (used by
// Document.Clone/Fork/View materialization).
func (s *Set) Clone() *Set {
	cp := New(s.actors.Clone())
	cp.objects = make(map[op.ID]*object, len(s.objects))
	for id, o := range s.objects {
		no := &object{kind: o.kind, all: make([]*op.Op, len(o.all))}
		for i, o := range o.all {
			dup := *o
			dup.Pred = append([]op.ID(nil), o.Pred...)
			dup.Succ = append([]op.ID(nil), o.Succ...)
			no.all[i] = &dup
			cp.byID[o.ID] = &dup
		}
		cp.objects[id] = no
	}
	return cp
}
