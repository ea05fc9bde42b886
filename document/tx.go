package document

import (
	"github.com/automerge/automerge-sub002/change"
	"github.com/automerge/automerge-sub002/codec"
	"github.com/automerge/automerge-sub002/errs"
	"github.com/automerge/automerge-sub002/op"
	"github.com/automerge/automerge-sub002/opset"
	"github.com/automerge/automerge-sub002/patch"
	"github.com/automerge/automerge-sub002/value"
)

// Tx is the path-addressed view of one in-flight transaction a
// Change/ChangeAt callback mutates through. It resolves each call's
// path down to the object id change.Transaction's id-addressed methods
// need, enforcing that the container named by the path actually has
// the kind the operation requires.
type Tx struct {
	doc *Document
	tx  *change.Transaction
}

func (t *Tx) clock() op.Clock { return t.doc.eng.HeadsClock() }

// container resolves path to its addressed object and checks kind
// matches one of want (ObjMap for key-addressed ops, ObjList/ObjText
// for index-addressed ones).
func (t *Tx) container(path patch.Path, want ...opset.ObjectKind) (op.ID, opset.ObjectKind, error) {
	obj, kind, err := t.doc.resolvePath(path, t.clock())
	if err != nil {
		return op.ID{}, 0, err
	}
	for _, w := range want {
		if kind == w {
			return obj, kind, nil
		}
	}
	return op.ID{}, 0, errs.New(errs.InvalidInput, "wrong container kind at path").WithPath(pathString(path))
}

// Put assigns a scalar value at path, which must name a key of a map.
func (t *Tx) Put(path patch.Path, v any) error {
	if len(path) == 0 {
		return errs.New(errs.InvalidInput, "path must not be empty")
	}
	parent := path[:len(path)-1]
	key, ok := path[len(path)-1].(string)
	if !ok {
		return errs.New(errs.InvalidInput, "put path must end in a map key").WithPath(pathString(path))
	}
	obj, _, err := t.container(parent, opset.ObjMap)
	if err != nil {
		return err
	}
	val, err := value.FromAny(v)
	if err != nil {
		return err
	}
	return t.tx.Put(obj, key, val, path)
}

// PutObject creates a nested map/list/text at a map key.
func (t *Tx) PutObject(path patch.Path, kind value.Container) (op.ID, error) {
	if len(path) == 0 {
		return op.ID{}, errs.New(errs.InvalidInput, "path must not be empty")
	}
	parent := path[:len(path)-1]
	key, ok := path[len(path)-1].(string)
	if !ok {
		return op.ID{}, errs.New(errs.InvalidInput, "putObject path must end in a map key").WithPath(pathString(path))
	}
	obj, _, err := t.container(parent, opset.ObjMap)
	if err != nil {
		return op.ID{}, err
	}
	return t.tx.PutObject(obj, key, kind, path)
}

// Delete removes a map key.
func (t *Tx) Delete(path patch.Path) error {
	if len(path) == 0 {
		return errs.New(errs.InvalidInput, "path must not be empty")
	}
	parent := path[:len(path)-1]
	key, ok := path[len(path)-1].(string)
	if !ok {
		return errs.New(errs.InvalidInput, "delete path must end in a map key").WithPath(pathString(path))
	}
	obj, _, err := t.container(parent, opset.ObjMap)
	if err != nil {
		return err
	}
	return t.tx.Delete(obj, key, path)
}

// Insert adds a scalar at a list position.
func (t *Tx) Insert(path patch.Path, pos int, v any) (op.ID, error) {
	obj, _, err := t.container(path, opset.ObjList)
	if err != nil {
		return op.ID{}, err
	}
	val, err := value.FromAny(v)
	if err != nil {
		return op.ID{}, err
	}
	return t.tx.Insert(obj, pos, val, append(append(patch.Path{}, path...), pos))
}

// InsertObject adds a nested map/list/text at a list position.
func (t *Tx) InsertObject(path patch.Path, pos int, kind value.Container) (op.ID, error) {
	obj, _, err := t.container(path, opset.ObjList)
	if err != nil {
		return op.ID{}, err
	}
	return t.tx.InsertObject(obj, pos, kind, append(append(patch.Path{}, path...), pos))
}

// RemoveAt deletes the element at a list position.
func (t *Tx) RemoveAt(path patch.Path, pos int) error {
	obj, _, err := t.container(path, opset.ObjList)
	if err != nil {
		return err
	}
	return t.tx.RemoveAt(obj, pos, append(append(patch.Path{}, path...), pos))
}

// Splice edits a text object at path: deletes deleteCount UTF-16 units
// starting at pos, then inserts text there.
func (t *Tx) Splice(path patch.Path, pos, deleteCount int, text string) error {
	obj, _, err := t.container(path, opset.ObjText)
	if err != nil {
		return err
	}
	return t.tx.Splice(obj, pos, deleteCount, text, path)
}

// Increment adds delta to a counter value at path.
func (t *Tx) Increment(path patch.Path, delta int64) error {
	if len(path) == 0 {
		return errs.New(errs.InvalidInput, "path must not be empty")
	}
	parent := path[:len(path)-1]
	key, ok := path[len(path)-1].(string)
	if !ok {
		return errs.New(errs.InvalidInput, "increment path must end in a map key").WithPath(pathString(path))
	}
	obj, _, err := t.container(parent, opset.ObjMap)
	if err != nil {
		return err
	}
	return t.tx.Increment(obj, key, delta, path)
}

// Mark applies a named mark over [start,end) of the text object at path.
func (t *Tx) Mark(path patch.Path, start, end int, name string, v any, expand op.Expand) error {
	obj, _, err := t.container(path, opset.ObjText)
	if err != nil {
		return err
	}
	val, err := value.FromAny(v)
	if err != nil {
		return err
	}
	return t.tx.Mark(obj, start, end, name, val, expand, path)
}

// Unmark removes a named mark over [start,end) of the text object at path.
func (t *Tx) Unmark(path patch.Path, start, end int, name string) error {
	obj, _, err := t.container(path, opset.ObjText)
	if err != nil {
		return err
	}
	return t.tx.Unmark(obj, start, end, name, path)
}

// SplitBlock inserts a block marker into the text object at path.
func (t *Tx) SplitBlock(path patch.Path, pos int, blockType string, parents []string) (op.ID, error) {
	obj, _, err := t.container(path, opset.ObjText)
	if err != nil {
		return op.ID{}, err
	}
	return t.tx.SplitBlock(obj, pos, blockType, parents, path)
}

// buildMap recursively stages a plain map[string]any tree into obj,
// used by From. Nested maps/slices become make_map/make_list/make_text
// objects; plain strings become scalar Str leaves, never auto-promoted
// to Text objects — only an explicit PutObject(..., value.ContainerText)
// call creates one.
func (t *Tx) buildMap(path patch.Path, obj op.ID, m map[string]any) error {
	for k, v := range m {
		childPath := append(append(patch.Path{}, path...), k)
		if err := t.buildValue(childPath, obj, k, v); err != nil {
			return err
		}
	}
	return nil
}

func (t *Tx) buildValue(path patch.Path, parent op.ID, key string, v any) error {
	switch tv := v.(type) {
	case map[string]any:
		id, err := t.tx.PutObject(parent, key, value.ContainerMap, path)
		if err != nil {
			return err
		}
		return t.buildMap(path, id, tv)
	case []any:
		id, err := t.tx.PutObject(parent, key, value.ContainerList, path)
		if err != nil {
			return err
		}
		return t.buildList(path, id, tv)
	default:
		val, err := value.FromAny(v)
		if err != nil {
			return err
		}
		return t.tx.Put(parent, key, val, path)
	}
}

func (t *Tx) buildList(path patch.Path, obj op.ID, items []any) error {
	for i, v := range items {
		elemPath := append(append(patch.Path{}, path...), i)
		switch tv := v.(type) {
		case map[string]any:
			id, err := t.tx.InsertObject(obj, i, value.ContainerMap, elemPath)
			if err != nil {
				return err
			}
			if err := t.buildMap(elemPath, id, tv); err != nil {
				return err
			}
		case []any:
			id, err := t.tx.InsertObject(obj, i, value.ContainerList, elemPath)
			if err != nil {
				return err
			}
			if err := t.buildList(elemPath, id, tv); err != nil {
				return err
			}
		default:
			val, err := value.FromAny(v)
			if err != nil {
				return err
			}
			if _, err := t.tx.Insert(obj, i, val, elemPath); err != nil {
				return err
			}
		}
	}
	return nil
}

// runChange drives fn over a fresh transaction, committing on success
// and rolling back on either fn's error or Commit's.
func (d *Document) runChange(tx *change.Transaction, message string, fn func(*Tx) error) (op.Hash, error) {
	t := &Tx{doc: d, tx: tx}
	if err := fn(t); err != nil {
		tx.Rollback()
		return op.Hash{}, err
	}
	tx.SetMessage(message)
	h, ok, err := tx.Commit()
	if err != nil {
		tx.Rollback()
		return op.Hash{}, err
	}
	if !ok {
		return op.Hash{}, nil
	}
	return h, nil
}

// Change runs fn as one atomic transaction against the document's
// current heads, committing the ops it stages into a single new
// change. fn's error rolls the transaction back without altering the
// document.
func (d *Document) Change(message string, fn func(*Tx) error) error {
	if d.frozen {
		return errs.New(errs.StateError, "document is frozen")
	}
	_, err := d.runChange(d.eng.Transaction(), message, fn)
	return err
}

// ChangeAt runs fn as if the document were at heads rather than its
// current heads: the resulting change's Deps is
// exactly heads, independent of any concurrent history. Implemented by
// staging the transaction against a fork pinned to heads and merging
// the single resulting change back in — the same causal-admission path
// a concurrent peer's change takes, so it needs no special-casing here.
func (d *Document) ChangeAt(heads []op.Hash, message string, fn func(*Tx) error) (op.Hash, error) {
	if d.frozen {
		return op.Hash{}, errs.New(errs.StateError, "document is frozen")
	}
	fork, err := d.Fork(heads)
	if err != nil {
		return op.Hash{}, err
	}
	h, err := fork.runChange(fork.eng.Transaction(), message, fn)
	if err != nil {
		return op.Hash{}, err
	}
	if h == (op.Hash{}) {
		return op.Hash{}, nil
	}
	c, ok := fork.eng.ChangeByHash(h)
	if !ok {
		return op.Hash{}, errs.New(errs.StateError, "committed change not found")
	}
	decoded, _, err := codec.DecodeChange(codec.EncodeChange(c, fork.eng.Actors()))
	if err != nil {
		return op.Hash{}, err
	}
	if err := d.eng.ApplyChange(decoded); err != nil {
		return op.Hash{}, err
	}
	return h, nil
}

// EmptyChange commits a zero-op change recording message against the
// document's current heads.
func (d *Document) EmptyChange(message string) (op.Hash, error) {
	if d.frozen {
		return op.Hash{}, errs.New(errs.StateError, "document is frozen")
	}
	return d.eng.EmptyChange(message)
}
