// Package syncproto implements the Bloom-filter-based have/need sync
// protocol between two document replicas.
package syncproto

import (
	"encoding/binary"
	"errors"
	"hash"

	bloomfilter "github.com/holiman/bloomfilter/v2"

	"github.com/automerge/automerge-sub002/actor"
	"github.com/automerge/automerge-sub002/codec"
	"github.com/automerge/automerge-sub002/errs"
	"github.com/automerge/automerge-sub002/op"
)

const (
	bloomBitsPerEntry = 10
	bloomNumHashes    = 7
)

// Document is the minimal read surface a sync session needs from a
// document engine, kept as an interface so this package never imports
// the document package; *document.Document satisfies it.
type Document interface {
	Heads() []op.Hash
	AllChanges() []*op.Change
	ChangesSince(heads []op.Hash) []*op.Change
	HasChange(h op.Hash) bool
	ApplyChange(c *op.Change) error
	Actors() *actor.Table
}

// Have is one entry in a sync message's have list: a cut point plus a
// Bloom filter of the hashes the sender has seen since that cut point.
type Have struct {
	LastSyncHeads []op.Hash
	filter        *bloomfilter.Filter
}

// Message is a single sync message.
type Message struct {
	Heads   []op.Hash
	Need    []op.Hash
	Have    []Have
	Changes []*op.Change
}

// State is one side's per-peer sync session state.
type State struct {
	SharedHeads   []op.Hash
	TheirNeed     []op.Hash
	TheirHave     []Have
	LastSentHeads []op.Hash
	SentHashes    map[op.Hash]bool
}

// NewState starts a fresh session with no prior history shared.
func NewState() *State {
	return &State{SentHashes: make(map[op.Hash]bool)}
}

type hash64 uint64

func (h hash64) Write(p []byte) (int, error) { return len(p), nil }
func (h hash64) Sum(b []byte) []byte { return b }
func (h hash64) Reset() {}
func (h hash64) Size() int { return 8 }
func (h hash64) BlockSize() int { return 8 }
func (h hash64) Sum64() uint64 { return uint64(h) }

func hashOf(h op.Hash) hash.Hash64 {
	return hash64(binary.BigEndian.Uint64(h[:8]))
}

func buildBloom(hashes []op.Hash) *bloomfilter.Filter {
	n := uint64(len(hashes))
	if n == 0 {
		n = 1
	}
	f, err := bloomfilter.New(n*bloomBitsPerEntry, bloomNumHashes)
	if err != nil {
		return nil
	}
	for _, h := range hashes {
		f.Add(hashOf(h))
	}
	return f
}

func bloomContains(f *bloomfilter.Filter, h op.Hash) bool {
	if f == nil {
		return false
	}
	return f.Contains(hashOf(h))
}

// headsEqual reports whether two hash sets contain the same elements,
// order-independent.
func headsEqual(a, b []op.Hash) bool {
	if len(a) != len(b) {
		return false
	}
	set := make(map[op.Hash]bool, len(a))
	for _, h := range a {
		set[h] = true
	}
	for _, h := range b {
		if !set[h] {
			return false
		}
	}
	return true
}

func containsHash(hs []op.Hash, h op.Hash) bool {
	for _, x := range hs {
		if x == h {
			return true
		}
	}
	return false
}

// GenerateMessage builds the next outgoing message, or reports ok=false
// if there is nothing new to say: no changes to send, heads unchanged
// since the last message, and no outstanding need.
func GenerateMessage(st *State, doc Document) (*Message, bool) {
	heads := doc.Heads()

	var toSend []*op.Change
	for _, c := range doc.ChangesSince(st.SharedHeads) {
		h, ok := c.CachedHash()
		if ok && st.SentHashes[h] {
			continue
		}
		if bloomHave(st.TheirHave, h) {
			continue
		}
		toSend = append(toSend, c)
	}

	var need []op.Hash
	for _, h := range st.TheirNeed {
		if !doc.HasChange(h) {
			need = append(need, h)
		}
	}

	if len(toSend) == 0 && headsEqual(heads, st.LastSentHeads) && len(need) == 0 {
		return nil, false
	}

	all := doc.ChangesSince(st.SharedHeads)
	allHashes := make([]op.Hash, 0, len(all))
	for _, c := range all {
		if h, ok := c.CachedHash(); ok {
			allHashes = append(allHashes, h)
		}
	}

	msg := &Message{
		Heads: heads,
		Need:  need,
		Have: []Have{{
			LastSyncHeads: st.SharedHeads,
			filter:        buildBloom(allHashes),
		}},
		Changes: toSend,
	}

	st.LastSentHeads = heads
	for _, c := range toSend {
		if h, ok := c.CachedHash(); ok {
			st.SentHashes[h] = true
		}
	}
	return msg, true
}

func bloomHave(haves []Have, h op.Hash) bool {
	for _, have := range haves {
		if bloomContains(have.filter, h) {
			return true
		}
	}
	return false
}

// ReceiveSyncMessage applies an incoming message to doc, updating st:
// ingest changes, intersect shared_heads, and record the sender's need.
// A change whose deps are missing is skipped: it is not applied and not
// queued for a later message.
func ReceiveSyncMessage(st *State, doc Document, msg *Message) error {
	for _, c := range msg.Changes {
		if err := doc.ApplyChange(c); err != nil {
			if errors.Is(err, errs.ErrMissingDep) {
				continue
			}
			return err
		}
	}

	theirClaimed := append([]op.Hash(nil), msg.Heads...)
	for _, have := range msg.Have {
		theirClaimed = append(theirClaimed, have.LastSyncHeads...)
	}

	var shared []op.Hash
	for _, h := range st.SharedHeads {
		if containsHash(theirClaimed, h) && doc.HasChange(h) {
			shared = append(shared, h)
		}
	}
	for _, h := range doc.Heads() {
		if containsHash(theirClaimed, h) && !containsHash(shared, h) {
			shared = append(shared, h)
		}
	}
	st.SharedHeads = shared
	st.TheirNeed = msg.Need
	st.TheirHave = msg.Have
	return nil
}

// EncodeMessage serializes a Message to its wire form. doc
// supplies the actor table the message's changes were built against.
func EncodeMessage(m *Message, doc Document) []byte {
	wire := codec.SyncMessageWire{
		Heads: m.Heads,
		Need:  m.Need,
	}
	for _, h := range m.Have {
		var bloomBytes []byte
		if h.filter != nil {
			bloomBytes, _ = h.filter.MarshalBinary()
		}
		wire.Have = append(wire.Have, codec.SyncHave{
			LastSyncHeads: h.LastSyncHeads,
			Bloom:         bloomBytes,
		})
	}
	for _, c := range m.Changes {
		wire.Changes = append(wire.Changes, codec.EncodeChange(c, doc.Actors()))
	}
	return codec.EncodeSyncMessage(wire)
}

// DecodeMessage is the inverse of EncodeMessage.
func DecodeMessage(data []byte) (*Message, error) {
	wire, err := codec.DecodeSyncMessage(data)
	if err != nil {
		return nil, err
	}
	m := &Message{Heads: wire.Heads, Need: wire.Need}
	for _, h := range wire.Have {
		have := Have{LastSyncHeads: h.LastSyncHeads}
		if len(h.Bloom) > 0 {
			f := new(bloomfilter.Filter)
			if uerr := f.UnmarshalBinary(h.Bloom); uerr == nil {
				have.filter = f
			}
		}
		m.Have = append(m.Have, have)
	}
	for _, cb := range wire.Changes {
		c, _, derr := codec.DecodeChange(cb)
		if derr != nil {
			return nil, derr
		}
		m.Changes = append(m.Changes, c)
	}
	return m, nil
}
