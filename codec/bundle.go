package codec

import (
	"github.com/automerge/automerge-sub002/actor"
	"github.com/automerge/automerge-sub002/op"
)

// SaveBundle encodes exactly the given changes (already filtered by the
// caller to the hash set requested) as a concatenation of raw change
// chunks, matching the layout LoadIncremental/ReadBundle expect.
func SaveBundle(changes []*op.Change, actors *actor.Table) []byte {
	var out []byte
	for _, c := range changes {
		out = append(out, EncodeChange(c, actors)...)
	}
	return out
}

// ReadBundle decodes a bundle and computes its external dependency set:
// the hashes referenced by some change's Deps that are not themselves
// present in the bundle.
func ReadBundle(data []byte) (changes []*op.Change, deps []op.Hash, err error) {
	included := make(map[op.Hash]bool)
	for len(data) > 0 {
		var c *op.Change
		c, data, err = DecodeChange(data)
		if err != nil {
			return nil, nil, err
		}
		changes = append(changes, c)
		h, _ := c.CachedHash()
		included[h] = true
	}

	seen := make(map[op.Hash]bool)
	for _, c := range changes {
		for _, d := range c.Deps {
			if included[d] || seen[d] {
				continue
			}
			seen[d] = true
			deps = append(deps, d)
		}
	}
	op.SortHashes(deps)
	return changes, deps, nil
}
