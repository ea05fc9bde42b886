package document_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/automerge/automerge-sub002/actor"
	"github.com/automerge/automerge-sub002/document"
	"github.com/automerge/automerge-sub002/op"
	"github.com/automerge/automerge-sub002/patch"
	"github.com/automerge/automerge-sub002/sequence"
	"github.com/automerge/automerge-sub002/value"
)

func newActor(b byte) actor.ID { return actor.ID{b, b, b, b} }

func TestPutGetRoundTrip(t *testing.T) {
	doc, err := document.Init()
	require.NoError(t, err)

	err = doc.Change("set name", func(tx *document.Tx) error {
		return tx.Put(patch.Path{"name"}, "ada")
	})
	require.NoError(t, err)

	v, ok, err := doc.Get(patch.Path{"name"})
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "ada", v.AsStr())
}

func TestFromBuildsNestedTree(t *testing.T) {
	doc, err := document.From(map[string]any{
		"title": "todo",
		"items": []any{"a", "b"},
		"meta":  map[string]any{"done": false},
	})
	require.NoError(t, err)

	n, err := doc.Length(patch.Path{"items"})
	require.NoError(t, err)
	require.Equal(t, 2, n)

	v, ok, err := doc.Get(patch.Path{"meta", "done"})
	require.NoError(t, err)
	require.True(t, ok)
	require.False(t, v.AsBool())
}

func TestChangeRollsBackOnError(t *testing.T) {
	doc, err := document.Init()
	require.NoError(t, err)

	err = doc.Change("first", func(tx *document.Tx) error {
		return tx.Put(patch.Path{"a"}, int64(1))
	})
	require.NoError(t, err)
	headsBefore := doc.Heads()

	wantErr := errors.New("rollback me")
	err = doc.Change("bad", func(tx *document.Tx) error {
		if putErr := tx.Put(patch.Path{"a"}, int64(2)); putErr != nil {
			return putErr
		}
		return wantErr
	})
	require.ErrorIs(t, err, wantErr)
	require.True(t, doc.HasHeads(headsBefore), "rolled-back transaction must not move heads")

	v, ok, err := doc.Get(patch.Path{"a"})
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(1), v.AsInt())
}

func TestConcurrentEditsConverge(t *testing.T) {
	a, err := document.Init(document.WithActor(newActor(1)))
	require.NoError(t, err)
	require.NoError(t, a.Change("seed", func(tx *document.Tx) error {
		return tx.Put(patch.Path{"counter"}, value.Counter(0))
	}))

	b := a.Clone(newActor(2))

	require.NoError(t, a.Change("a writes", func(tx *document.Tx) error {
		return tx.Increment(patch.Path{"counter"}, 5)
	}))
	require.NoError(t, b.Change("b writes", func(tx *document.Tx) error {
		return tx.Increment(patch.Path{"counter"}, 7)
	}))

	require.NoError(t, a.Merge(b))
	require.NoError(t, b.Merge(a))

	va, _, err := a.Get(patch.Path{"counter"})
	require.NoError(t, err)
	vb, _, err := b.Get(patch.Path{"counter"})
	require.NoError(t, err)
	require.Equal(t, va.AsInt(), vb.AsInt())
	require.Equal(t, int64(12), va.AsInt())
	require.True(t, a.HasHeads(b.Heads()))
}

func TestSaveLoadRoundTrip(t *testing.T) {
	doc, err := document.From(map[string]any{"x": int64(42)})
	require.NoError(t, err)

	blob := doc.Save()
	loaded, err := document.Load(blob, document.LoadOptions{})
	require.NoError(t, err)

	v, ok, err := loaded.Get(patch.Path{"x"})
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(42), v.AsInt())
	require.True(t, loaded.HasHeads(doc.Heads()))
}

func TestSaveIncrementalEquivalence(t *testing.T) {
	doc, err := document.Init()
	require.NoError(t, err)
	require.NoError(t, doc.Change("one", func(tx *document.Tx) error {
		return tx.Put(patch.Path{"a"}, int64(1))
	}))
	base := doc.SaveIncremental(nil)
	baseHeads := doc.Heads()

	require.NoError(t, doc.Change("two", func(tx *document.Tx) error {
		return tx.Put(patch.Path{"b"}, int64(2))
	}))
	rest := doc.SaveIncremental(baseHeads)

	fresh, err := document.Init(document.WithActor(newActor(9)))
	require.NoError(t, err)
	require.NoError(t, fresh.LoadIncremental(base))
	require.NoError(t, fresh.LoadIncremental(rest))

	require.True(t, fresh.HasHeads(doc.Heads()))
	va, _, err := fresh.Get(patch.Path{"a"})
	require.NoError(t, err)
	require.Equal(t, int64(1), va.AsInt())
	vb, _, err := fresh.Get(patch.Path{"b"})
	require.NoError(t, err)
	require.Equal(t, int64(2), vb.AsInt())
}

func TestSaveBundleIdentity(t *testing.T) {
	doc, err := document.Init()
	require.NoError(t, err)
	require.NoError(t, doc.Change("one", func(tx *document.Tx) error {
		return tx.Put(patch.Path{"a"}, int64(1))
	}))
	require.NoError(t, doc.Change("two", func(tx *document.Tx) error {
		return tx.Put(patch.Path{"b"}, int64(2))
	}))

	all := doc.TopoHistoryTraversal()
	bundle := doc.SaveBundle(all)
	changes, deps, err := document.ReadBundle(bundle)
	require.NoError(t, err)
	require.Empty(t, deps)
	require.Len(t, changes, 2)
}

func TestViewIsPinnedToHeads(t *testing.T) {
	doc, err := document.Init()
	require.NoError(t, err)
	require.NoError(t, doc.Change("one", func(tx *document.Tx) error {
		return tx.Put(patch.Path{"a"}, int64(1))
	}))
	snap := doc.Heads()

	require.NoError(t, doc.Change("two", func(tx *document.Tx) error {
		return tx.Put(patch.Path{"a"}, int64(2))
	}))

	v, err := doc.View(snap)
	require.NoError(t, err)
	val, ok, err := v.Get(patch.Path{"a"})
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(1), val.AsInt())

	cur, _, err := doc.Get(patch.Path{"a"})
	require.NoError(t, err)
	require.Equal(t, int64(2), cur.AsInt())
}

func TestCursorSurvivesConcurrentEdit(t *testing.T) {
	doc, err := document.Init()
	require.NoError(t, err)
	require.NoError(t, doc.Change("seed", func(tx *document.Tx) error {
		if _, err := tx.PutObject(patch.Path{"body"}, value.ContainerText); err != nil {
			return err
		}
		return tx.Splice(patch.Path{"body"}, 0, 0, "hello world")
	}))

	cur, err := doc.Cursor(patch.Path{"body"}, 6, sequence.SideBefore)
	require.NoError(t, err)

	require.NoError(t, doc.Change("prepend", func(tx *document.Tx) error {
		return tx.Splice(patch.Path{"body"}, 0, 0, "say: ")
	}))

	pos, ok, err := doc.CursorPosition(patch.Path{"body"}, cur)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 11, pos)

	text, err := doc.Text(patch.Path{"body"})
	require.NoError(t, err)
	require.Equal(t, "say: hello world", text)
}

func TestDiffReportsPutAndDelete(t *testing.T) {
	doc, err := document.Init()
	require.NoError(t, err)
	require.NoError(t, doc.Change("one", func(tx *document.Tx) error {
		return tx.Put(patch.Path{"a"}, int64(1))
	}))
	from := doc.Heads()

	require.NoError(t, doc.Change("two", func(tx *document.Tx) error {
		if err := tx.Put(patch.Path{"b"}, int64(2)); err != nil {
			return err
		}
		return tx.Delete(patch.Path{"a"})
	}))
	to := doc.Heads()

	patches, err := doc.Diff(from, to)
	require.NoError(t, err)
	require.NotEmpty(t, patches)

	var sawPut, sawDel bool
	for _, p := range patches {
		if p.Action == patch.ActionPut && len(p.Path) == 1 && p.Path[0] == "b" {
			sawPut = true
		}
		if p.Action == patch.ActionDel && len(p.Path) == 1 && p.Path[0] == "a" {
			sawDel = true
		}
	}
	require.True(t, sawPut, "expected a put patch for the new key")
	require.True(t, sawDel, "expected a delete patch for the removed key")
}

func TestFrozenDocumentRejectsMutation(t *testing.T) {
	doc, err := document.Init(document.WithFreeze(true))
	require.NoError(t, err)
	err = doc.Change("nope", func(tx *document.Tx) error {
		return tx.Put(patch.Path{"a"}, int64(1))
	})
	require.Error(t, err)
}

func TestChangeAtForksCausalHistory(t *testing.T) {
	doc, err := document.Init()
	require.NoError(t, err)
	require.NoError(t, doc.Change("one", func(tx *document.Tx) error {
		return tx.Put(patch.Path{"a"}, int64(1))
	}))
	heads := doc.Heads()

	require.NoError(t, doc.Change("two", func(tx *document.Tx) error {
		return tx.Put(patch.Path{"a"}, int64(2))
	}))

	h, err := doc.ChangeAt(heads, "concurrent", func(tx *document.Tx) error {
		return tx.Put(patch.Path{"c"}, int64(3))
	})
	require.NoError(t, err)
	require.NotEqual(t, op.Hash{}, h)

	v, ok, err := doc.Get(patch.Path{"c"})
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(3), v.AsInt())
}
