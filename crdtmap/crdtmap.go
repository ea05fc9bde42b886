// Package crdtmap implements the map CRDT: a keyed last-writer set that
// preserves concurrent conflicting writes for inspection.
package crdtmap

import (
	"sort"

	"github.com/automerge/automerge-sub002/actor"
	"github.com/automerge/automerge-sub002/op"
	"github.com/automerge/automerge-sub002/opset"
	"github.com/automerge/automerge-sub002/value"
)

// Entry is one key's full winner-selection context at a given heads.
type Entry struct {
	Op    *op.Op
	Value value.Value
}

// Map is a read-oriented view over one map object's ops in the op-set.
// Mutation happens by inserting ops into the Set directly (see the
// change package, which builds the Put/Delete ops); Map only computes
// visibility and winners.
type Map struct {
	set    *opset.Set
	obj    op.ID
	actors *actor.Table
}

// New wraps obj (which must already be registered as a map object) for
// reading.
func New(set *opset.Set, obj op.ID) *Map {
	return &Map{set: set, obj: obj, actors: set.Actors()}
}

// less compares two candidate ops for the same key:
// (counter desc, actor_id_bytes desc) — the first in this order is the
// winner.
func (m *Map) less(a, b *op.Op) bool {
	if a.ID.Counter != b.ID.Counter {
		return a.ID.Counter > b.ID.Counter
	}
	return m.actors.At(a.ID.Actor).Compare(m.actors.At(b.ID.Actor)) > 0
}

// visibleForKey returns every value-bearing op currently visible for
// key at clock, in winner order (index 0 is the winner). Increment and
// delete ops address the same key but never win the slot themselves:
// an increment only contributes through counterDeltaSum, and a delete
// leaves the key with no visible candidate at all.
func (m *Map) visibleForKey(key string, clock op.Clock) []*op.Op {
	var candidates []*op.Op
	for _, o := range m.set.ObjectOps(m.obj) {
		if o.Key.IsMapKey && o.Key.MapKey == key && o.VisibleAt(clock) &&
			(o.Action == op.ActionSet || o.Action.IsMake()) {
			candidates = append(candidates, o)
		}
	}
	sort.Slice(candidates, func(i, j int) bool { return m.less(candidates[i], candidates[j]) })
	return candidates
}

// Get returns the winning value for key at clock, if any op is visible
// for it. Delete ops carry no value and never become candidates:
// visibleForKey admits only set and make_* ops, so a key whose
// surviving op is a delete reports ok=false.
func (m *Map) Get(key string, clock op.Clock) (value.Value, bool) {
	vis := m.visibleForKey(key, clock)
	if len(vis) == 0 {
		return value.Value{}, false
	}
	winner := vis[0]
	if winner.Value.Kind() == value.KindCounter {
		return value.Counter(winner.Value.AsInt() + m.counterDeltaSum(key, clock)), true
	}
	return winner.Value, true
}

// counterDeltaSum totals every visible increment targeting key, used to
// resolve a counter's current value on top of its base Set op.
// Concurrent writers incrementing the same counter converge by summing
// all visible deltas regardless of which specific base op they were
// issued against.
func (m *Map) counterDeltaSum(key string, clock op.Clock) int64 {
	var sum int64
	for _, o := range m.set.ObjectOps(m.obj) {
		if o.Action == op.ActionIncrement && o.Key.IsMapKey && o.Key.MapKey == key && o.VisibleAt(clock) {
			sum += o.Delta
		}
	}
	return sum
}

// resolvedValue returns o's value, summing in any visible counter deltas
// targeting key if o is a counter base — the same resolution Get
// applies to the winner, kept consistent for every visible candidate.
func (m *Map) resolvedValue(o *op.Op, key string, clock op.Clock) value.Value {
	if o.Value.Kind() == value.KindCounter {
		return value.Counter(o.Value.AsInt() + m.counterDeltaSum(key, clock))
	}
	return o.Value
}

// GetOp returns the winning op for key at clock, if any is visible. A
// caller that needs to know whether the winner is a nested object (its
// Action is a make_* kind, and its own ID is that object's ID) rather
// than a scalar leaf uses this instead of Get.
func (m *Map) GetOp(key string, clock op.Clock) (*op.Op, bool) {
	vis := m.visibleForKey(key, clock)
	if len(vis) == 0 {
		return nil, false
	}
	return vis[0], true
}

// GetAll returns every visible op for key (conflicting concurrent
// writes), winner first.
func (m *Map) GetAll(key string, clock op.Clock) []Entry {
	vis := m.visibleForKey(key, clock)
	out := make([]Entry, len(vis))
	for i, o := range vis {
		out[i] = Entry{Op: o, Value: m.resolvedValue(o, key, clock)}
	}
	return out
}

// GetConflicts returns the full conflict map only when there are ≥2
// winners; otherwise it reports ok=false.
func (m *Map) GetConflicts(key string, clock op.Clock) (map[string]value.Value, bool) {
	vis := m.visibleForKey(key, clock)
	if len(vis) < 2 {
		return nil, false
	}
	out := make(map[string]value.Value, len(vis))
	for _, o := range vis {
		out[o.ID.String()] = m.resolvedValue(o, key, clock)
	}
	return out, true
}

// Keys returns the set of keys with at least one visible value-bearing
// (set or make_*) op at clock, in sorted order.
func (m *Map) Keys(clock op.Clock) []string {
	seen := make(map[string]bool)
	for _, o := range m.set.ObjectOps(m.obj) {
		if o.Key.IsMapKey && o.VisibleAt(clock) &&
			(o.Action == op.ActionSet || o.Action.IsMake()) {
			seen[o.Key.MapKey] = true
		}
	}
	out := make([]string, 0, len(seen))
	for k := range seen {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Length returns the number of visible keys at clock.
func (m *Map) Length(clock op.Clock) int { return len(m.Keys(clock)) }

// CurrentPred returns the ids every new write to key must cite as Pred:
// all currently-visible ops for that key (the ones the new write
// overwrites), at the *current* (all-ops) clock — i.e. every op not yet
// superseded.
func (m *Map) CurrentPred(key string) []op.ID {
	var ids []op.ID
	for _, o := range m.set.ObjectOps(m.obj) {
		if o.Key.IsMapKey && o.Key.MapKey == key && len(o.Succ) == 0 {
			ids = append(ids, o.ID)
		}
	}
	op.SortIDs(ids)
	return ids
}
