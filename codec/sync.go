package codec

import (
	"crypto/sha256"

	"github.com/automerge/automerge-sub002/errs"
	"github.com/automerge/automerge-sub002/op"
)

const syncMessageVersion byte = 1

// SyncHave is the wire form of one have entry: a cut point plus the
// Bloom filter of hashes reachable from it. Bloom is
// opaque here; syncproto owns constructing/querying the actual filter.
type SyncHave struct {
	LastSyncHeads []op.Hash
	Bloom         []byte
}

// SyncMessageWire is the wire form of a sync message. Changes are
// carried as already-encoded raw change chunks (EncodeChange output)
// so this package never needs to know about actor tables or op
// columns beyond what EncodeChange/DecodeChange already handle.
type SyncMessageWire struct {
	Heads   []op.Hash
	Need    []op.Hash
	Have    []SyncHave
	Changes [][]byte
}

// EncodeSyncMessage lays out a sync message: version, heads,
// need, have (last_sync_heads + bloom bytes each), then raw change
// chunks.
func EncodeSyncMessage(m SyncMessageWire) []byte {
	var body []byte
	body = append(body, syncMessageVersion)

	body = putUvarint(body, uint64(len(m.Heads)))
	for _, h := range m.Heads {
		body = append(body, h[:]...)
	}
	body = putUvarint(body, uint64(len(m.Need)))
	for _, h := range m.Need {
		body = append(body, h[:]...)
	}
	body = putUvarint(body, uint64(len(m.Have)))
	for _, have := range m.Have {
		body = putUvarint(body, uint64(len(have.LastSyncHeads)))
		for _, h := range have.LastSyncHeads {
			body = append(body, h[:]...)
		}
		body = putBytes(body, have.Bloom)
	}
	body = putUvarint(body, uint64(len(m.Changes)))
	for _, c := range m.Changes {
		body = putBytes(body, c)
	}

	sum := sha256.Sum256(body)
	var out []byte
	out = append(out, Magic[:]...)
	out = append(out, byte(ChunkSync))
	out = putUvarint(out, uint64(len(body)))
	out = append(out, sum[:]...)
	out = append(out, body...)
	return out
}

// DecodeSyncMessage is the inverse of EncodeSyncMessage.
func DecodeSyncMessage(data []byte) (SyncMessageWire, error) {
	var m SyncMessageWire
	if len(data) < 4+1+8+32 {
		return m, errs.New(errs.IntegrityError, "truncated sync chunk")
	}
	if [4]byte(data[:4]) != Magic {
		return m, errs.New(errs.IntegrityError, "bad magic")
	}
	if ChunkType(data[4]) != ChunkSync {
		return m, errs.New(errs.IntegrityError, "not a sync chunk")
	}
	rest := data[5:]
	length, rest, err := getUvarint(rest)
	if err != nil {
		return m, err
	}
	if uint64(len(rest)) < 32+length {
		return m, errs.New(errs.IntegrityError, "truncated sync body")
	}
	var hash [32]byte
	copy(hash[:], rest[:32])
	body := rest[32 : 32+length]
	if sha256.Sum256(body) != hash {
		return m, errs.New(errs.IntegrityError, "sync hash mismatch")
	}

	if len(body) < 1 {
		return m, errs.New(errs.IntegrityError, "truncated sync body")
	}
	version := body[0]
	body = body[1:]
	if version != syncMessageVersion {
		return m, errs.New(errs.InvalidInput, "unsupported sync message version %d", version)
	}

	readHashes := func() ([]op.Hash, error) {
		var n uint64
		var hs []op.Hash
		n, body, err = getUvarint(body)
		if err != nil {
			return nil, err
		}
		for i := uint64(0); i < n; i++ {
			if len(body) < 32 {
				return nil, errs.New(errs.IntegrityError, "truncated hash list")
			}
			var h op.Hash
			copy(h[:], body[:32])
			body = body[32:]
			hs = append(hs, h)
		}
		return hs, nil
	}

	m.Heads, err = readHashes()
	if err != nil {
		return m, err
	}
	m.Need, err = readHashes()
	if err != nil {
		return m, err
	}

	var nHave uint64
	nHave, body, err = getUvarint(body)
	if err != nil {
		return m, err
	}
	for i := uint64(0); i < nHave; i++ {
		var have SyncHave
		have.LastSyncHeads, err = readHashes()
		if err != nil {
			return m, err
		}
		have.Bloom, body, err = getBytes(body)
		if err != nil {
			return m, err
		}
		m.Have = append(m.Have, have)
	}

	var nChanges uint64
	nChanges, body, err = getUvarint(body)
	if err != nil {
		return m, err
	}
	for i := uint64(0); i < nChanges; i++ {
		var c []byte
		c, body, err = getBytes(body)
		if err != nil {
			return m, err
		}
		m.Changes = append(m.Changes, c)
	}

	return m, nil
}
