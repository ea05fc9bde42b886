package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/automerge/automerge-sub002/document"
	"github.com/automerge/automerge-sub002/patch"
)

func writeDoc(t *testing.T, dir, name string, put func(tx *document.Tx) error) string {
	t.Helper()
	doc, err := document.Init()
	require.NoError(t, err)
	require.NoError(t, doc.Change("seed", put))
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, doc.Save(), 0o644))
	return path
}

func TestRunInspectLoadsEveryFileConcurrently(t *testing.T) {
	dir := t.TempDir()
	a := writeDoc(t, dir, "a.crdt", func(tx *document.Tx) error {
		return tx.Put(patch.Path{"name"}, "alpha")
	})
	b := writeDoc(t, dir, "b.crdt", func(tx *document.Tx) error {
		if err := tx.Put(patch.Path{"name"}, "beta"); err != nil {
			return err
		}
		return tx.Put(patch.Path{"extra"}, int64(1))
	})

	require.NoError(t, runInspect([]string{a, b}))
}

func TestRunInspectReportsMissingFile(t *testing.T) {
	err := runInspect([]string{filepath.Join(t.TempDir(), "does-not-exist.crdt")})
	require.Error(t, err)
}

func TestRunInspectReportsCorruptFile(t *testing.T) {
	dir := t.TempDir()
	bad := filepath.Join(dir, "garbage.crdt")
	require.NoError(t, os.WriteFile(bad, []byte("not a document"), 0o644))

	err := runInspect([]string{bad})
	require.Error(t, err)
}
