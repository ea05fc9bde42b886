package codec

import (
	"crypto/sha256"

	"github.com/golang/snappy"

	"github.com/automerge/automerge-sub002/actor"
	"github.com/automerge/automerge-sub002/errs"
	"github.com/automerge/automerge-sub002/op"
)

// documentVersion is the only document blob version this engine
// recognizes. A decoder encountering any other value rejects
// with "unsupported document version" rather than guessing at layout.
const documentVersion byte = 1

// EncodeDocument produces a self-contained document blob: every change
// needed to reconstruct the document plus the heads it was saved at.
// Changes must already be in a valid causal order (each change's deps
// precede it) — document.Document.TopoHistoryTraversal supplies that
// order.
func EncodeDocument(changes []*op.Change, heads []op.Hash, actors *actor.Table) []byte {
	var body []byte
	body = append(body, documentVersion)

	body = putUvarint(body, uint64(len(changes)))
	for _, c := range changes {
		cb := EncodeChangeBody(c, actors)
		body = putBytes(body, cb)
	}

	hs := append([]op.Hash(nil), heads...)
	op.SortHashes(hs)
	body = putUvarint(body, uint64(len(hs)))
	for _, h := range hs {
		body = append(body, h[:]...)
	}

	sum := sha256.Sum256(body)
	compressed := snappy.Encode(nil, body)
	var out []byte
	out = append(out, Magic[:]...)
	out = append(out, byte(ChunkDocument))
	out = putUvarint(out, uint64(len(compressed)))
	out = append(out, sum[:]...)
	out = append(out, compressed...)
	return out
}

// DecodeDocument is the inverse of EncodeDocument. It does no
// causal-completeness check (document.Load does that, and its
// AllowMissingChanges option relaxes it); decoding succeeds as long as
// the bytes are structurally well-formed and correctly hashed.
func DecodeDocument(data []byte) (changes []*op.Change, heads []op.Hash, err error) {
	if len(data) < 4+1+8+32 {
		return nil, nil, errs.New(errs.IntegrityError, "truncated document chunk")
	}
	if [4]byte(data[:4]) != Magic {
		return nil, nil, errs.New(errs.IntegrityError, "bad magic")
	}
	if ChunkType(data[4]) != ChunkDocument {
		return nil, nil, errs.New(errs.IntegrityError, "not a document chunk")
	}
	rest := data[5:]
	length, rest, err := getUvarint(rest)
	if err != nil {
		return nil, nil, err
	}
	if uint64(len(rest)) < 32+length {
		return nil, nil, errs.New(errs.IntegrityError, "truncated document body")
	}
	var hash [32]byte
	copy(hash[:], rest[:32])
	compressed := rest[32 : 32+length]

	body, derr := snappy.Decode(nil, compressed)
	if derr != nil {
		return nil, nil, errs.Wrap(errs.IntegrityError, derr, "corrupt document chunk")
	}

	sum := sha256.Sum256(body)
	if sum != hash {
		return nil, nil, errs.New(errs.IntegrityError, "document hash mismatch")
	}

	if len(body) < 1 {
		return nil, nil, errs.New(errs.IntegrityError, "truncated document body")
	}
	version := body[0]
	body = body[1:]
	if version != documentVersion {
		return nil, nil, errs.New(errs.InvalidInput, "unsupported document version %d", version)
	}

	var nChanges uint64
	nChanges, body, err = getUvarint(body)
	if err != nil {
		return nil, nil, err
	}
	changes = make([]*op.Change, 0, nChanges)
	for i := uint64(0); i < nChanges; i++ {
		var cb []byte
		cb, body, err = getBytes(body)
		if err != nil {
			return nil, nil, err
		}
		c, derr := decodeChangeBody(cb)
		if derr != nil {
			return nil, nil, derr
		}
		c.SetHash(op.Hash(sha256.Sum256(cb)))
		changes = append(changes, c)
	}

	var nHeads uint64
	nHeads, body, err = getUvarint(body)
	if err != nil {
		return nil, nil, err
	}
	for i := uint64(0); i < nHeads; i++ {
		if len(body) < 32 {
			return nil, nil, errs.New(errs.IntegrityError, "truncated heads")
		}
		var h op.Hash
		copy(h[:], body[:32])
		body = body[32:]
		heads = append(heads, h)
	}

	return changes, heads, nil
}

// SaveIncremental encodes just the changes not yet covered by
// alreadySaved (a set of hashes from a prior save/save_incremental call
// on the same document value). Concatenating an initial save with
// successive save_incremental blobs is a valid load input.
func SaveIncremental(changes []*op.Change, alreadySaved map[op.Hash]bool, actors *actor.Table) []byte {
	var out []byte
	for _, c := range changes {
		h, ok := c.CachedHash()
		if ok && alreadySaved[h] {
			continue
		}
		out = append(out, EncodeChange(c, actors)...)
	}
	return out
}

// LoadIncremental decodes a concatenation of raw change chunks (as
// produced by SaveIncremental or EncodeChange), stopping at the first
// malformed chunk boundary so a truncated tail is simply ignored rather
// than rejected — a best-effort load on partial input.
func LoadIncremental(data []byte) []*op.Change {
	var out []*op.Change
	for len(data) > 0 {
		c, tail, err := DecodeChange(data)
		if err != nil {
			break
		}
		out = append(out, c)
		data = tail
	}
	return out
}
