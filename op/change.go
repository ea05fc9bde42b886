package op

import (
	"crypto/sha256"
	"sort"

	"github.com/automerge/automerge-sub002/actor"
)

// Hash is the SHA-256 of a change's canonical encoding.
type Hash [32]byte

func (h Hash) String() string {
	const hex = "0123456789abcdef"
	out := make([]byte, 64)
	for i, b := range h {
		out[i*2] = hex[b>>4]
		out[i*2+1] = hex[b&0xf]
	}
	return string(out)
}

// Less orders hashes by ascending bytes, the canonical Heads ordering.
func (h Hash) Less(o Hash) bool {
	for i := range h {
		if h[i] != o[i] {
			return h[i] < o[i]
		}
	}
	return false
}

// SortHashes sorts in canonical ascending-byte order.
func SortHashes(hs []Hash) {
	sort.Slice(hs, func(i, j int) bool { return hs[i].Less(hs[j]) })
}

// Change bundles one or more ops authored contiguously by a single
// actor into an atomic unit.
type Change struct {
	Actor   actor.ID
	Seq     uint64 // 1-based per actor
	StartOp uint64 // counter of the first op
	Deps    []Hash // causal predecessors
	Time    int64  // seconds; 0 means unset
	Message string
	Ops     []Op

	// ChangeActors is the per-change actor list written alongside the
	// columnar ops section: index 0 is always Actor itself: every
	// other actor referenced by an op's Obj/Key/Pred/mark boundaries
	// within this change is listed in first-use order. Op fields that
	// name an actor (other than an op's own ID, which is always this
	// change's author) carry indices into this list rather than into any
	// particular document's actor table, so a change decodes the same
	// way regardless of which replica's table numbering it lands in.
	ChangeActors []actor.ID

	// ExtraColumns preserves any columns the codec doesn't recognize
	// (e.g. written by a newer engine version) verbatim across a
	// decode/re-encode round trip.
	ExtraColumns []RawColumn

	// hash is computed lazily by ComputeHash and cached; Change values are
	// otherwise immutable once committed.
	hash      Hash
	hashKnown bool
}

// RawColumn is an opaque, tag-identified column this engine did not
// recognize when decoding. It is carried unchanged so re-encoding a
// change produced by a newer engine version doesn't lose data.
type RawColumn struct {
	Tag  byte
	Data []byte
}

// ComputeHash hashes the canonical encoding and caches it.
// encodeFn is supplied by the caller (wrapping codec.EncodeChangeBody) to
// avoid an import cycle between op and codec.
func (c *Change) ComputeHash(encodeFn func(*Change) []byte) Hash {
	if c.hashKnown {
		return c.hash
	}
	sum := sha256.Sum256(encodeFn(c))
	c.hash = Hash(sum)
	c.hashKnown = true
	return c.hash
}

// SetHash installs a precomputed hash (used when loading a change blob
// whose hash was read from the chunk header and verified separately).
func (c *Change) SetHash(h Hash) {
	c.hash = h
	c.hashKnown = true
}

// CachedHash returns the hash if already computed, else the zero hash
// and false.
func (c *Change) CachedHash() (Hash, bool) { return c.hash, c.hashKnown }

// MaxOpID returns the id of this change's last op, used to advance the
// per-actor counter.
func (c *Change) MaxOpID() ID {
	if len(c.Ops) == 0 {
		return ID{}
	}
	return c.Ops[len(c.Ops)-1].ID
}
