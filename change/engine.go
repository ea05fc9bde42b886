// Package change implements the change-application engine: the mutable
// op-set/RGA/map state for one document, the transaction that stages
// local edits into a single atomic Change, and the causal history index
// changes are applied against.
package change

import (
	"crypto/rand"
	"sort"

	"github.com/automerge/automerge-sub002/actor"
	"github.com/automerge/automerge-sub002/codec"
	"github.com/automerge/automerge-sub002/crdtmap"
	"github.com/automerge/automerge-sub002/errs"
	"github.com/automerge/automerge-sub002/op"
	"github.com/automerge/automerge-sub002/opset"
	"github.com/automerge/automerge-sub002/patch"
	"github.com/automerge/automerge-sub002/sequence"
)

// Engine owns one document's mutable CRDT state: the op-set, the RGA
// ordering store, the causal history of changes, and the per-actor
// counters a new local transaction draws from.
type Engine struct {
	actors *actor.Table
	set    *opset.Set
	seq    *sequence.Store
	nonce  [16]byte

	heads   []op.Hash
	history map[op.Hash]*op.Change
	order   []op.Hash              // arrival order, oldest first

	maxCounter map[uint32]uint64
	maxSeq     map[uint32]uint64

	subs []func([]patch.Patch)
}

// New creates an empty engine authoring as self.
func New(self actor.ID) *Engine {
	actors := actor.NewTable(self)
	set := opset.New(actors)
	var nonce [16]byte
	_, _ = rand.Read(nonce[:])
	return &Engine{
		actors:     actors,
		set:        set,
		seq:        sequence.NewStore(set),
		nonce:      nonce,
		history:    make(map[op.Hash]*op.Change),
		maxCounter: make(map[uint32]uint64),
		maxSeq:     make(map[uint32]uint64),
	}
}

// Actors returns the document's actor interning table.
func (e *Engine) Actors() *actor.Table { return e.actors }

// Set returns the underlying op-set index.
func (e *Engine) Set() *opset.Set { return e.set }

// SeqStore returns the RGA ordering store.
func (e *Engine) SeqStore() *sequence.Store { return e.seq }

// Nonce returns the document-origin nonce cursors are stamped with.
func (e *Engine) Nonce() [16]byte { return e.nonce }

// Map/List/Text build read views over an already-created object of the
// matching kind, bound to this engine's op-set (and RGA store).
func (e *Engine) Map(obj op.ID) *crdtmap.Map { return crdtmap.New(e.set, obj) }
func (e *Engine) List(obj op.ID) *sequence.List { return sequence.NewList(e.set, e.seq, obj) }
func (e *Engine) Text(obj op.ID) *sequence.Text { return sequence.NewText(e.set, e.seq, obj) }

// Heads returns the current causal frontier (copy-safe for callers).
func (e *Engine) Heads() []op.Hash { return append([]op.Hash(nil), e.heads...) }

// HasChange reports whether h is already known.
func (e *Engine) HasChange(h op.Hash) bool {
	_, ok := e.history[h]
	return ok
}

// ChangeByHash looks up a change by hash.
func (e *Engine) ChangeByHash(h op.Hash) (*op.Change, bool) {
	c, ok := e.history[h]
	return c, ok
}

// AllChanges returns every known change in arrival order.
func (e *Engine) AllChanges() []*op.Change {
	out := make([]*op.Change, len(e.order))
	for i, h := range e.order {
		out[i] = e.history[h]
	}
	return out
}

// ancestorSet walks Deps backward from heads, returning the set of
// reachable hashes (heads included).
func (e *Engine) ancestorSet(heads []op.Hash) map[op.Hash]bool {
	seen := make(map[op.Hash]bool)
	var walk func(h op.Hash)
	walk = func(h op.Hash) {
		if seen[h] {
			return
		}
		seen[h] = true
		c, ok := e.history[h]
		if !ok {
			return
		}
		for _, d := range c.Deps {
			walk(d)
		}
	}
	for _, h := range heads {
		walk(h)
	}
	return seen
}

// ChangesSince returns every known change not reachable from heads, in
// arrival order — the changes a peer at heads is missing.
func (e *Engine) ChangesSince(heads []op.Hash) []*op.Change {
	anc := e.ancestorSet(heads)
	var out []*op.Change
	for _, h := range e.order {
		if !anc[h] {
			out = append(out, e.history[h])
		}
	}
	return out
}

func headsKey(heads []op.Hash) string {
	sorted := append([]op.Hash(nil), heads...)
	op.SortHashes(sorted)
	buf := make([]byte, 0, len(sorted)*32)
	for _, h := range sorted {
		buf = append(buf, h[:]...)
	}
	return string(buf)
}

// Clock projects the op-set to the historical cut-point named by heads,
// caching the result.
func (e *Engine) Clock(heads []op.Hash) op.Clock {
	return e.set.Clock(headsKey(heads), func() op.Clock {
		anc := e.ancestorSet(heads)
		clock := make(op.Clock)
		for h := range anc {
			c, ok := e.history[h]
			if !ok {
				continue
			}
			for _, o := range c.Ops {
				clock.Advance(o.ID)
			}
		}
		return clock
	})
}

// HeadsClock is Clock(e.Heads), the live view every read defaults to,
// extended with the ops an open local transaction has staged so far
// (the consecutive self-actor ids above the last committed counter), so
// reads made inside that transaction see them.
func (e *Engine) HeadsClock() op.Clock {
	clock := e.Clock(e.heads)
	next := op.ID{Counter: e.maxCounter[0] + 1}
	if _, staged := e.set.Lookup(next); !staged {
		return clock
	}
	clock = clock.Clone()
	for ; ; next.Counter++ {
		if _, staged := e.set.Lookup(next); !staged {
			return clock
		}
		clock.Advance(next)
	}
}

// remapChangeActors translates a decoded change's change-local actor
// indices into this engine's own actor-table indices, interning any
// actor it hasn't seen yet. It mutates c.Ops in place; c is expected to
// be a change this engine does not yet share any other reference to
// (the copy DecodeChange or a transaction handed back).
func (e *Engine) remapChangeActors(c *op.Change) {
	if len(c.ChangeActors) == 0 {
		return
	}
	idx := make([]uint32, len(c.ChangeActors))
	for i, a := range c.ChangeActors {
		idx[i] = e.actors.Intern(a)
	}
	remap := func(local uint32) uint32 {
		if int(local) < len(idx) {
			return idx[local]
		}
		return local
	}
	for i := range c.Ops {
		o := &c.Ops[i]
		o.ID.Actor = idx[0]
		if !o.Obj.IsRoot() {
			o.Obj.Actor = remap(o.Obj.Actor)
		}
		if !o.Key.IsMapKey && !o.Key.Elem.Head {
			o.Key.Elem.ElemID.Actor = remap(o.Key.Elem.ElemID.Actor)
		}
		for j := range o.Pred {
			o.Pred[j].Actor = remap(o.Pred[j].Actor)
		}
		if o.Action == op.ActionMarkBegin {
			if !o.MarkStart.Head {
				o.MarkStart.ElemID.Actor = remap(o.MarkStart.ElemID.Actor)
			}
			if !o.MarkEnd.Head {
				o.MarkEnd.ElemID.Actor = remap(o.MarkEnd.ElemID.Actor)
			}
		}
	}
	c.ChangeActors = nil
}

// ApplyChange ingests a single change, in causal order: its Deps must
// already be known (or it must itself be a root change with none). Ops
// are inserted into the op-set and threaded into the RGA order for any
// sequence object they touch; heads advance to include the new change
// minus any prior heads it now supersedes.
func (e *Engine) ApplyChange(c *op.Change) error {
	actorIdx := e.actors.Intern(c.Actor)

	for _, d := range c.Deps {
		if !e.HasChange(d) {
			return errs.New(errs.MissingDep, "dependency %s not known", d.String())
		}
	}

	e.remapChangeActors(c)

	encodeFn := func(cc *op.Change) []byte { return codec.EncodeChangeBody(cc, e.actors) }
	h := c.ComputeHash(encodeFn)
	if e.HasChange(h) {
		return nil
	}

	applied := 0
	for i := range c.Ops {
		o := c.Ops[i]
		if err := e.set.Insert(&o); err != nil {
			for j := 0; j < applied; j++ {
				e.unwindOp(c.Ops[j])
			}
			return err
		}
		if o.Insert {
			if kind, ok := e.set.ObjectKind(o.Obj); ok && kind != opset.ObjMap {
				e.seq.ApplyInsert(o.Obj, &o)
			}
		}
		applied++
	}

	if cur := e.maxSeq[actorIdx]; c.Seq > cur {
		e.maxSeq[actorIdx] = c.Seq
	}
	if mx := c.MaxOpID(); mx.Counter > e.maxCounter[actorIdx] {
		e.maxCounter[actorIdx] = mx.Counter
	}

	e.history[h] = c
	e.order = append(e.order, h)
	e.heads = e.advanceHeads(h, c.Deps)
	return nil
}

func (e *Engine) unwindOp(o op.Op) {
	if o.Insert {
		if kind, ok := e.set.ObjectKind(o.Obj); ok && kind != opset.ObjMap {
			e.seq.RemoveInsert(o.Obj, o.ID)
		}
	}
	e.set.Remove(o.ID)
}

// advanceHeads drops any prior head named by deps (it now has a
// successor) and adds h: heads are always the DAG's current tips.
func (e *Engine) advanceHeads(h op.Hash, deps []op.Hash) []op.Hash {
	depSet := make(map[op.Hash]bool, len(deps))
	for _, d := range deps {
		depSet[d] = true
	}
	out := make([]op.Hash, 0, len(e.heads)+1)
	for _, old := range e.heads {
		if !depSet[old] {
			out = append(out, old)
		}
	}
	out = append(out, h)
	op.SortHashes(out)
	return out
}

// TopoOrder returns every known change in a deterministic topological
// order (deps before dependents; ties broken by ascending hash), the
// order Save/EncodeDocument require.
func (e *Engine) TopoOrder() []*op.Change {
	inDegree := make(map[op.Hash]int, len(e.order))
	dependents := make(map[op.Hash][]op.Hash, len(e.order))
	for _, h := range e.order {
		c := e.history[h]
		inDegree[h] = 0
		for _, d := range c.Deps {
			if _, ok := e.history[d]; ok {
				inDegree[h]++
				dependents[d] = append(dependents[d], h)
			}
		}
	}

	var ready []op.Hash
	for _, h := range e.order {
		if inDegree[h] == 0 {
			ready = append(ready, h)
		}
	}
	op.SortHashes(ready)

	out := make([]*op.Change, 0, len(e.order))
	for len(ready) > 0 {
		sort.Slice(ready, func(i, j int) bool { return ready[i].Less(ready[j]) })
		h := ready[0]
		ready = ready[1:]
		out = append(out, e.history[h])
		for _, dep := range dependents[h] {
			inDegree[dep]--
			if inDegree[dep] == 0 {
				ready = append(ready, dep)
			}
		}
	}
	return out
}

// Subscribe registers a sink invoked with every transaction's patches
// immediately after Commit. It returns an unsubscribe function.
func (e *Engine) Subscribe(fn func([]patch.Patch)) func() {
	e.subs = append(e.subs, fn)
	idx := len(e.subs) - 1
	return func() {
		if idx < len(e.subs) {
			e.subs[idx] = nil
		}
	}
}

func (e *Engine) notify(patches []patch.Patch) {
	if len(patches) == 0 {
		return
	}
	for _, fn := range e.subs {
		if fn != nil {
			fn(patches)
		}
	}
}

// Clone returns an independent deep copy of the engine's state, used by
// Document.Clone/Fork.
func (e *Engine) Clone() *Engine {
	cp := &Engine{
		nonce:      e.nonce,
		heads:      append([]op.Hash(nil), e.heads...),
		history:    make(map[op.Hash]*op.Change, len(e.history)),
		order:      append([]op.Hash(nil), e.order...),
		maxCounter: make(map[uint32]uint64, len(e.maxCounter)),
		maxSeq:     make(map[uint32]uint64, len(e.maxSeq)),
	}
	cp.set = e.set.Clone()
	cp.actors = cp.set.Actors()
	cp.seq = sequence.NewStore(cp.set)
	for h, c := range e.history {
		dup := *c
		dup.Ops = append([]op.Op(nil), c.Ops...)
		cp.history[h] = &dup
	}
	for k, v := range e.maxCounter {
		cp.maxCounter[k] = v
	}
	for k, v := range e.maxSeq {
		cp.maxSeq[k] = v
	}
	// Re-thread every sequence object's RGA order on the cloned set so
	// cp.seq doesn't alias e.seq's bookkeeping.
	for _, h := range cp.order {
		c := cp.history[h]
		for i := range c.Ops {
			o := c.Ops[i]
			if o.Insert {
				if kind, ok := cp.set.ObjectKind(o.Obj); ok && kind != opset.ObjMap {
					cp.seq.ApplyInsert(o.Obj, &o)
				}
			}
		}
	}
	return cp
}
