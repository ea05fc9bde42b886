// Package document is the public facade over one document value: it
// wraps a change.Engine with the entry points (Init, From, Clone, View,
// Fork, Merge, ApplyChanges, save/load, the query/mutation surface) and
// resolves the root-relative paths that surface takes, which
// change.Transaction itself does not know about.
package document

import (
	"github.com/automerge/automerge-sub002/actor"
	"github.com/automerge/automerge-sub002/change"
	"github.com/automerge/automerge-sub002/codec"
	"github.com/automerge/automerge-sub002/errs"
	"github.com/automerge/automerge-sub002/op"
	"github.com/automerge/automerge-sub002/opset"
	"github.com/automerge/automerge-sub002/patch"
)

// engineName/engineVersion are the values Stats reports; bumped
// whenever the wire format changes in a way that affects save
// compatibility.
const (
	engineName    = "automerge-sub002"
	engineVersion = "0.1.0"
)

// Document is a writable document value: one actor's view of the
// shared CRDT state, its full causal history, and the path-resolution
// logic the mutation/query surface needs on top of change.Engine.
//
// Not safe for concurrent use from multiple goroutines; a host
// that wants parallelism clones.
type Document struct {
	eng    *change.Engine
	frozen bool
}

// initOpts collects Init/From/Fork's optional arguments.
type initOpts struct {
	actor  actor.ID
	freeze bool
}

// Option configures Init/From/Fork.
type Option func(*initOpts)

// WithActor pins the document's own actor id instead of minting a
// random one.
func WithActor(id actor.ID) Option { return func(o *initOpts) { o.actor = id } }

// WithFreeze puts the document in freeze mode: Change/ChangeAt are
// permanently rejected on this Document value, rather than deep-freezing
// a returned object graph — Go values returned from Get/ToJS are
// already copies with no shared mutable state to protect.
func WithFreeze(freeze bool) Option { return func(o *initOpts) { o.freeze = freeze } }

func resolveOpts(opts []Option) initOpts {
	var o initOpts
	for _, fn := range opts {
		fn(&o)
	}
	return o
}

// Init creates an empty document.
func Init(opts ...Option) (*Document, error) {
	o := resolveOpts(opts)
	id := o.actor
	if id == nil {
		id = actor.RandomGenerator{}.NewActorID()
	}
	if err := id.Validate(); err != nil {
		return nil, err
	}
	return &Document{eng: change.New(id), frozen: o.freeze}, nil
}

// From builds a document with one change that creates tree, a plain
// Go value shaped from map[string]any/[]any/scalars (as produced by
// encoding/json unmarshaled into interface{}). The root must be a map,
// since the engine's root object is always the implicit root map.
func From(tree any, opts ...Option) (*Document, error) {
	doc, err := Init(opts...)
	if err != nil {
		return nil, err
	}
	if tree == nil {
		return doc, nil
	}
	m, ok := tree.(map[string]any)
	if !ok {
		return nil, errs.New(errs.InvalidInput, "from root value must be an object")
	}
	err = doc.Change("from", func(tx *Tx) error {
		return tx.buildMap(patch.Path{}, op.Root, m)
	})
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// Actors exposes the actor table (part of the syncproto.Document
// interface; also used directly by codec Save/Load callers).
func (d *Document) Actors() *actor.Table { return d.eng.Actors() }

// Engine exposes the underlying engine for packages (server, codec
// wiring) that need lower-level access than the facade provides.
func (d *Document) Engine() *change.Engine { return d.eng }

// Heads returns the current causal frontier.
func (d *Document) Heads() []op.Hash { return d.eng.Heads() }

// HasHeads reports whether heads is exactly the document's current
// frontier (order-independent).
func (d *Document) HasHeads(heads []op.Hash) bool {
	cur := d.eng.Heads()
	if len(cur) != len(heads) {
		return false
	}
	set := make(map[op.Hash]bool, len(cur))
	for _, h := range cur {
		set[h] = true
	}
	for _, h := range heads {
		if !set[h] {
			return false
		}
	}
	return true
}

// HasChange reports whether h is already known.
func (d *Document) HasChange(h op.Hash) bool { return d.eng.HasChange(h) }

// AllChanges returns every known change, oldest first.
func (d *Document) AllChanges() []*op.Change { return d.eng.AllChanges() }

// ChangesSince returns every known change not reachable from heads.
func (d *Document) ChangesSince(heads []op.Hash) []*op.Change { return d.eng.ChangesSince(heads) }

// GetChanges is an alias for ChangesSince.
func (d *Document) GetChanges(sinceHeads []op.Hash) []*op.Change { return d.ChangesSince(sinceHeads) }

// ChangeMeta is a change's header without its op blob, the result
// get_changes_meta_since returns.
type ChangeMeta struct {
	Hash    op.Hash
	Actor   actor.ID
	Seq     uint64
	StartOp uint64
	Deps    []op.Hash
	Time    int64
	Message string
	NumOps  int
}

// GetChangesMetaSince is GetChanges with op blobs omitted.
func (d *Document) GetChangesMetaSince(sinceHeads []op.Hash) []ChangeMeta {
	changes := d.ChangesSince(sinceHeads)
	out := make([]ChangeMeta, len(changes))
	for i, c := range changes {
		h, _ := c.CachedHash()
		out[i] = ChangeMeta{
			Hash: h, Actor: c.Actor, Seq: c.Seq, StartOp: c.StartOp,
			Deps: c.Deps, Time: c.Time, Message: c.Message, NumOps: len(c.Ops),
		}
	}
	return out
}

// TopoHistoryTraversal returns every known change hash in a valid
// topological order (deps before dependents, ties broken by ascending
// hash).
func (d *Document) TopoHistoryTraversal() []op.Hash {
	order := d.eng.TopoOrder()
	out := make([]op.Hash, len(order))
	for i, c := range order {
		out[i], _ = c.CachedHash()
	}
	return out
}

// ApplyChange ingests one already-decoded change (part of the
// syncproto.Document interface).
func (d *Document) ApplyChange(c *op.Change) error { return d.eng.ApplyChange(c) }

// ApplyChanges ingests a batch of raw change blobs, applying them in
// causal (topological) order so every change's deps are already known
// when it's applied. allowMissing mirrors load's allow_missing_changes:
// a change whose deps are not yet present is simply skipped rather than
// rejected, so a caller can retry once the missing dependency arrives.
func (d *Document) ApplyChanges(blobs [][]byte, allowMissing bool) error {
	if d.frozen {
		return errs.New(errs.StateError, "document is frozen")
	}
	decoded := make([]*op.Change, 0, len(blobs))
	for _, b := range blobs {
		c, _, err := codec.DecodeChange(b)
		if err != nil {
			return err
		}
		decoded = append(decoded, c)
	}
	return d.applyInOrder(decoded, allowMissing)
}

// applyInOrder repeatedly scans for any decoded change whose deps are
// already satisfied (by the engine or by a change already applied this
// call), applying it; it stops once no further progress is possible.
// allowMissing controls whether a leftover unsatisfiable change is
// silently dropped (true) or reported as errs.MissingDep (false).
func (d *Document) applyInOrder(decoded []*op.Change, allowMissing bool) error {
	remaining := decoded
	for len(remaining) > 0 {
		progressed := false
		var next []*op.Change
		for _, c := range remaining {
			ready := true
			for _, dep := range c.Deps {
				if !d.eng.HasChange(dep) {
					ready = false
					break
				}
			}
			if !ready {
				next = append(next, c)
				continue
			}
			if err := d.eng.ApplyChange(c); err != nil {
				return err
			}
			progressed = true
		}
		if !progressed {
			if allowMissing {
				return nil
			}
			return errs.New(errs.MissingDep, "%d change(s) have unresolved dependencies", len(next))
		}
		remaining = next
	}
	return nil
}

// Clone returns an independent copy sharing no mutable state. It keeps
// this document's actor unless newActor is supplied.
func (d *Document) Clone(newActor ...actor.ID) *Document {
	cp := &Document{eng: d.eng.Clone(), frozen: d.frozen}
	if len(newActor) > 0 {
		cp.eng = rekeyActor(cp.eng, newActor[0])
	}
	return cp
}

// Fork is Clone with a guaranteed fresh actor, optionally rolled back
// to heads first via View-then-clone semantics.
func (d *Document) Fork(heads ...[]op.Hash) (*Document, error) {
	src := d
	if len(heads) > 0 && heads[0] != nil {
		v, err := d.View(heads[0])
		if err != nil {
			return nil, err
		}
		src = v.doc
	}
	return src.Clone(actor.RandomGenerator{}.NewActorID()), nil
}

// rekeyActor swaps an engine's own actor identity by replaying its full
// history into a fresh engine under newID. Every change is round-tripped
// through the wire codec rather than copied directly: a Change's Ops
// carry indices into the *encoding* engine's actor table, and only
// re-deriving the per-change canonical actor list and remapping
// through it — the same path a change takes arriving from a real peer —
// correctly re-indexes those references against the fresh engine's table.
func rekeyActor(eng *change.Engine, newID actor.ID) *change.Engine {
	fresh := change.New(newID)
	for _, c := range eng.TopoOrder() {
		blob := codec.EncodeChange(c, eng.Actors())
		decoded, _, err := codec.DecodeChange(blob)
		if err != nil {
			continue
		}
		_ = fresh.ApplyChange(decoded)
	}
	return fresh
}

// Merge applies every change in other not already known here, in
// causal order.
func (d *Document) Merge(other *Document) error {
	if d.frozen {
		return errs.New(errs.StateError, "document is frozen")
	}
	changes := other.eng.ChangesSince(d.eng.Heads())
	decoded := make([]*op.Change, 0, len(changes))
	for _, c := range changes {
		dc, _, err := codec.DecodeChange(codec.EncodeChange(c, other.eng.Actors()))
		if err != nil {
			return err
		}
		decoded = append(decoded, dc)
	}
	return d.applyInOrder(decoded, false)
}

// Stats reports summary counters.
type Stats struct {
	NumChanges    int
	NumOps        int
	EngineName    string
	EngineVersion string
}

// Stats returns the document's summary counters.
func (d *Document) Stats() Stats {
	changes := d.eng.AllChanges()
	ops := 0
	for _, c := range changes {
		ops += len(c.Ops)
	}
	return Stats{NumChanges: len(changes), NumOps: ops, EngineName: engineName, EngineVersion: engineVersion}
}

// Subscribe registers fn to be called with the patches produced by
// every local transaction committed after this call. Not copied by
// Clone/Fork — the returned Document is pristine.
func (d *Document) Subscribe(fn func([]patch.Patch)) func() { return d.eng.Subscribe(fn) }

// Save encodes the full document, topologically ordered.
func (d *Document) Save() []byte {
	changes := d.eng.TopoOrder()
	return codec.EncodeDocument(changes, d.eng.Heads(), d.eng.Actors())
}

// SaveIncremental encodes only the changes not reachable from
// alreadySavedHeads.
func (d *Document) SaveIncremental(alreadySavedHeads []op.Hash) []byte {
	changes := d.eng.ChangesSince(alreadySavedHeads)
	return codec.SaveIncremental(changes, nil, d.eng.Actors())
}

// SaveBundle encodes exactly the changes named by hashes.
func (d *Document) SaveBundle(hashes []op.Hash) []byte {
	want := make(map[op.Hash]bool, len(hashes))
	for _, h := range hashes {
		want[h] = true
	}
	var changes []*op.Change
	for _, c := range d.eng.TopoOrder() {
		h, _ := c.CachedHash()
		if want[h] {
			changes = append(changes, c)
		}
	}
	return codec.SaveBundle(changes, d.eng.Actors())
}

// LoadOptions configures Load's validation strictness.
type LoadOptions struct {
	Actor               actor.ID
	Unchecked           bool
	AllowMissingChanges bool
}

// Load decodes a saved document blob into a fresh Document.
func Load(data []byte, opts LoadOptions) (*Document, error) {
	id := opts.Actor
	if id == nil {
		id = actor.RandomGenerator{}.NewActorID()
	}
	if err := id.Validate(); err != nil {
		return nil, err
	}
	changes, heads, err := codec.DecodeDocument(data)
	if err != nil {
		return nil, err
	}
	doc := &Document{eng: change.New(id)}
	if err := doc.applyInOrder(changes, opts.AllowMissingChanges); err != nil {
		return nil, err
	}
	if !opts.Unchecked && !opts.AllowMissingChanges {
		if !doc.HasHeads(heads) {
			return nil, errs.New(errs.MismatchHeads, "recorded heads disagree with heads derived from changes")
		}
	}
	return doc, nil
}

// LoadIncremental decodes a concatenation of raw change chunks and
// applies every change it can; already-applied changes are idempotent
// no-ops.
func (d *Document) LoadIncremental(data []byte) error {
	if d.frozen {
		return errs.New(errs.StateError, "document is frozen")
	}
	changes := codec.LoadIncremental(data)
	return d.applyInOrder(changes, true)
}

// ReadBundle decodes a bundle produced by SaveBundle.
func ReadBundle(data []byte) (changes []*op.Change, deps []op.Hash, err error) {
	return codec.ReadBundle(data)
}

// ToJS materializes the whole document as a plain, mutable deep copy.
func (d *Document) ToJS() any {
	return d.valueAt(op.Root, opset.ObjMap, d.eng.HeadsClock())
}
