package codec_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/automerge/automerge-sub002/codec"
	"github.com/automerge/automerge-sub002/document"
	"github.com/automerge/automerge-sub002/patch"
)

// seedDoc produces a two-change document with a dependency edge, real
// enough (actor lists, multiple ops per change, a deletion) to exercise
// the columnar codec's actor remapping and pred/succ columns.
func seedDoc(t *testing.T) *document.Document {
	t.Helper()
	doc, err := document.Init()
	require.NoError(t, err)
	require.NoError(t, doc.Change("one", func(tx *document.Tx) error {
		if err := tx.Put(patch.Path{"a"}, int64(1)); err != nil {
			return err
		}
		return tx.Put(patch.Path{"b"}, "two")
	}))
	require.NoError(t, doc.Change("two", func(tx *document.Tx) error {
		if err := tx.Put(patch.Path{"a"}, int64(2)); err != nil {
			return err
		}
		return tx.Delete(patch.Path{"b"})
	}))
	return doc
}

func TestEncodeDecodeChangeRoundTrip(t *testing.T) {
	doc := seedDoc(t)
	changes := doc.AllChanges()
	require.Len(t, changes, 2)

	for _, c := range changes {
		blob := codec.EncodeChange(c, doc.Actors())
		decoded, rest, err := codec.DecodeChange(blob)
		require.NoError(t, err)
		require.Empty(t, rest)

		require.Equal(t, c.Actor, decoded.Actor)
		require.Equal(t, c.Seq, decoded.Seq)
		require.Equal(t, c.StartOp, decoded.StartOp)
		require.Equal(t, c.Message, decoded.Message)
		require.Len(t, decoded.Ops, len(c.Ops))

		wantHash, ok := c.CachedHash()
		require.True(t, ok)
		gotHash, ok := decoded.CachedHash()
		require.True(t, ok)
		require.Equal(t, wantHash, gotHash)
	}
}

func TestEncodeDecodeDocumentRoundTrip(t *testing.T) {
	doc := seedDoc(t)
	blob := doc.Save()

	loaded, err := document.Load(blob, document.LoadOptions{})
	require.NoError(t, err)
	require.True(t, loaded.HasHeads(doc.Heads()))

	v, ok, err := loaded.Get(patch.Path{"a"})
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(2), v.AsInt())

	_, ok, err = loaded.Get(patch.Path{"b"})
	require.NoError(t, err)
	require.False(t, ok, "b was deleted in the second change")
}

func TestSaveIncrementalAppliesOnTopOfBase(t *testing.T) {
	doc := seedDoc(t)
	first := doc.AllChanges()[:1]

	base := codec.SaveIncremental(first, nil, doc.Actors())
	fresh, err := document.Init()
	require.NoError(t, err)
	require.NoError(t, fresh.LoadIncremental(base))

	v, ok, err := fresh.Get(patch.Path{"a"})
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(1), v.AsInt(), "only the first change was loaded")
}

func TestSaveBundleAndReadBundleRoundTrip(t *testing.T) {
	doc := seedDoc(t)
	changes := doc.AllChanges()

	bundle := codec.SaveBundle(changes, doc.Actors())
	got, deps, err := codec.ReadBundle(bundle)
	require.NoError(t, err)
	require.Empty(t, deps, "the bundle contains every change its own deps point to")
	require.Len(t, got, len(changes))
}

func TestDecodeChangeRejectsTruncatedInput(t *testing.T) {
	doc := seedDoc(t)
	blob := codec.EncodeChange(doc.AllChanges()[0], doc.Actors())

	_, _, err := codec.DecodeChange(blob[:len(blob)/2])
	require.Error(t, err)
}
