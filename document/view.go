package document

import (
	"github.com/automerge/automerge-sub002/errs"
	"github.com/automerge/automerge-sub002/op"
	"github.com/automerge/automerge-sub002/patch"
	"github.com/automerge/automerge-sub002/sequence"
	"github.com/automerge/automerge-sub002/value"
)

// View is a read-only projection of a document at a fixed set of
// heads. It shares no mutable state with its parent once created
// (built over a clone), so it is safe to hold across later writes to
// the parent.
type View struct {
	doc   *Document
	heads []op.Hash
}

// View projects the document to heads, a read-only snapshot.
// heads must each be a hash this document already knows.
func (d *Document) View(heads []op.Hash) (*View, error) {
	for _, h := range heads {
		if !d.eng.HasChange(h) {
			return nil, errs.New(errs.InvalidInput, "invalid heads")
		}
	}
	cp := d.eng.Clone()
	projected := &Document{eng: cp, frozen: true}
	return &View{doc: projected, heads: append([]op.Hash(nil), heads...)}, nil
}

// Heads returns the heads this view is pinned to.
func (v *View) Heads() []op.Hash { return append([]op.Hash(nil), v.heads...) }

func (v *View) clock() op.Clock { return v.doc.eng.Clock(v.heads) }

// Get returns the scalar at path as it stood at the view's heads.
func (v *View) Get(path patch.Path) (value.Value, bool, error) {
	return v.doc.getAt(path, v.clock())
}

// Keys returns the sorted visible keys of the map object at path.
func (v *View) Keys(path patch.Path) ([]string, error) {
	return v.doc.keysAt(path, v.clock())
}

// Length returns the visible element count of the list/text object at
// path.
func (v *View) Length(path patch.Path) (int, error) {
	return v.doc.lengthAt(path, v.clock())
}

// Text materializes the text object at path.
func (v *View) Text(path patch.Path) (string, error) {
	return v.doc.textAt(path, v.clock())
}

// Marks returns the resolved mark spans of the text object at path.
func (v *View) Marks(path patch.Path) ([]sequence.MarkSpan, error) {
	return v.doc.marksAt(path, v.clock())
}

// Cursor creates a stable cursor at a UTF-16 offset in the text object
// at path, relative to this view's heads.
func (v *View) Cursor(path patch.Path, u16 int, side sequence.CursorSide) (value.Value, error) {
	return v.doc.cursorAt(path, u16, side, v.clock())
}

// CursorPosition resolves a cursor scalar back to a UTF-16 offset as of
// this view's heads.
func (v *View) CursorPosition(path patch.Path, c value.Value) (int, bool, error) {
	return v.doc.cursorPositionAt(path, c, v.clock())
}

// ToJS materializes the whole document tree as of this view's heads.
func (v *View) ToJS() any { return v.doc.toJSAt(v.clock()) }
