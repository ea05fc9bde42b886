// Package actor manages per-document actor identity: the opaque byte
// identifier a writer uses, and the per-document interning table that
// maps each actor to a stable index (0 = the document's own actor).
package actor

import (
	"bytes"
	"sort"

	"github.com/google/uuid"

	"github.com/automerge/automerge-sub002/errs"
)

// MaxLen and MinLen bound a valid actor identifier: an opaque 1-128
// byte identifier, unique per writer session.
const (
	MinLen = 1
	MaxLen = 128
)

// ID is an opaque actor identifier.
type ID []byte

// Validate checks the length bound from the data model.
func (id ID) Validate() error {
	if len(id) < MinLen || len(id) > MaxLen {
		return errs.New(errs.InvalidInput, "actor id must be 1-128 bytes, got %d", len(id))
	}
	return nil
}

// Equal reports byte equality.
func (id ID) Equal(other ID) bool { return bytes.Equal(id, other) }

// Compare orders two actor ids by raw bytes, used for the
// (counter desc, actor_id_bytes desc) tie-break when resolving winners.
func (id ID) Compare(other ID) int { return bytes.Compare(id, other) }

func (id ID) String() string { return uuidStringOrHex(id) }

func uuidStringOrHex(b []byte) string {
	if len(b) == 16 {
		if u, err := uuid.FromBytes(b); err == nil {
			return u.String()
		}
	}
	const hex = "0123456789abcdef"
	out := make([]byte, len(b)*2)
	for i, c := range b {
		out[i*2] = hex[c>>4]
		out[i*2+1] = hex[c&0xf]
	}
	return string(out)
}

// Generator mints new actor ids. RandomGenerator, a cryptographic
// 16-byte random generator (uuid v4), is the only implementation here.
// The document package calls RandomGenerator directly and accepts no
// Generator; a caller fixes an id with document.WithActor or
// LoadOptions.Actor instead.
type Generator interface {
	NewActorID() ID
}

// RandomGenerator is the default Generator, backed by google/uuid.
type RandomGenerator struct{}

// NewActorID mints a fresh random 16-byte actor id.
func (RandomGenerator) NewActorID() ID {
	u, err := uuid.NewRandom()
	if err != nil {
		// uuid.NewRandom only fails if the system RNG is broken. The
		// fallback calls uuid.New, which panics if the RNG fails again
		// and otherwise yields the 6-byte node-id part of a fresh uuid.
		return ID(uuid.New().NodeID())
	}
	b := u[:]
	cp := make(ID, len(b))
	copy(cp, b)
	return cp
}

// Table interns actor ids for one document. Index 0 is always the
// document's own (self) actor; new actors are appended in first-seen
// order and never removed or renumbered.
type Table struct {
	byIndex []ID
	byKey   map[string]uint32
}

// NewTable creates a table whose index 0 is self.
func NewTable(self ID) *Table {
	t := &Table{byKey: make(map[string]uint32)}
	t.intern(self)
	return t
}

// Self returns the document's own actor id.
func (t *Table) Self() ID { return t.byIndex[0] }

// Intern returns the index for id, adding it to the table if new.
func (t *Table) Intern(id ID) uint32 { return t.intern(id) }

func (t *Table) intern(id ID) uint32 {
	key := string(id)
	if idx, ok := t.byKey[key]; ok {
		return idx
	}
	idx := uint32(len(t.byIndex))
	t.byIndex = append(t.byIndex, append(ID(nil), id...))
	t.byKey[key] = idx
	return idx
}

// At returns the actor id for an index.
func (t *Table) At(idx uint32) ID {
	if int(idx) >= len(t.byIndex) {
		return nil
	}
	return t.byIndex[idx]
}

// Len returns the number of interned actors.
func (t *Table) Len() int { return len(t.byIndex) }

// All returns the table contents in index order; callers must not
// mutate the returned slice's elements.
func (t *Table) All() []ID { return t.byIndex }

// SortedIndices returns the table's indices ordered so that the actor
// bytes they name sort ascending; used when serializing the actor table
// so the columnar codec's actor references compress well via delta
// coding against a stable order.
func (t *Table) SortedIndices() []uint32 {
	idxs := make([]uint32, len(t.byIndex))
	for i := range idxs {
		idxs[i] = uint32(i)
	}
	sort.Slice(idxs, func(i, j int) bool {
		return t.byIndex[idxs[i]].Compare(t.byIndex[idxs[j]]) < 0
	})
	return idxs
}

// Clone returns an independent copy of the table (used by Document.Clone/Fork).
func (t *Table) Clone() *Table {
	cp := &Table{byKey: make(map[string]uint32, len(t.byKey))}
	cp.byIndex = make([]ID, len(t.byIndex))
	for i, id := range t.byIndex {
		cp.byIndex[i] = append(ID(nil), id...)
	}
	for k, v := range t.byKey {
		cp.byKey[k] = v
	}
	return cp
}
